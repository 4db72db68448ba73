// Copyright 2025 poismf Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package poisson

import (
	"sort"

	"github.com/juju/errors"

	"github.com/zshwuhan/poismf/dataset"
)

// CSMatrix is one compressed view of a sparse count matrix: values and minor
// indices grouped by major index, with offsets delimiting each group. Indexed
// by rows it is a CSR matrix, indexed by columns a CSC matrix. Minor indices
// are sorted within each group.
type CSMatrix struct {
	Values  []float32
	Indices []int32
	Offsets []int64
}

// Len returns the major dimension.
func (m *CSMatrix) Len() int {
	return len(m.Offsets) - 1
}

// NNZ returns the number of stored entries.
func (m *CSMatrix) NNZ() int64 {
	return m.Offsets[len(m.Offsets)-1]
}

// Slice returns the values and minor indices of one major index.
func (m *CSMatrix) Slice(i int) ([]float32, []int32) {
	begin, end := m.Offsets[i], m.Offsets[i+1]
	return m.Values[begin:end], m.Indices[begin:end]
}

// find returns the value at minor index j of major index i, if stored.
func (m *CSMatrix) find(i int, j int32) (float32, bool) {
	values, indices := m.Slice(i)
	pos := sort.Search(len(indices), func(p int) bool { return indices[p] >= j })
	if pos < len(indices) && indices[pos] == j {
		return values[pos], true
	}
	return 0, false
}

// DualView is a sparse count matrix stored twice, row-compressed and
// column-compressed. Both views reference the same multiset of entries and are
// read-only once built.
type DualView struct {
	Row CSMatrix // row-compressed: minor indices are columns
	Col CSMatrix // column-compressed: minor indices are rows
}

// NewDualView builds both compressed views from accumulated feedback.
// Duplicate (row, column) pairs are summed.
func NewDualView(set dataset.CountSet) (*DualView, error) {
	view := &DualView{
		Row: compress(set.GetUserFeedback()),
		Col: compress(set.GetItemFeedback()),
	}
	if err := view.Check(); err != nil {
		return nil, errors.Trace(err)
	}
	return view, nil
}

// compress turns grouped feedback into one compressed view, sorting each group
// by minor index and merging duplicates.
func compress(feedback [][]dataset.Count) CSMatrix {
	m := CSMatrix{Offsets: make([]int64, 1, len(feedback)+1)}
	group := make([]dataset.Count, 0)
	for _, counts := range feedback {
		group = append(group[:0], counts...)
		sort.Slice(group, func(i, j int) bool { return group[i].Index < group[j].Index })
		for i, count := range group {
			if i > 0 && count.Index == group[i-1].Index {
				m.Values[len(m.Values)-1] += count.Value
			} else {
				m.Values = append(m.Values, count.Value)
				m.Indices = append(m.Indices, count.Index)
			}
		}
		m.Offsets = append(m.Offsets, int64(len(m.Values)))
	}
	return m
}

// Check verifies that both views carry the same entries: equal non-zero
// counts, and for every entry in the row view a matching entry in the column
// view with the same value.
func (view *DualView) Check() error {
	if view.Row.NNZ() != view.Col.NNZ() {
		return errors.NotValidf("views with %d and %d entries", view.Row.NNZ(), view.Col.NNZ())
	}
	for row := 0; row < view.Row.Len(); row++ {
		values, indices := view.Row.Slice(row)
		for i, col := range indices {
			if values[i] < 0 {
				return errors.NotValidf("negative count at (%d, %d)", row, col)
			}
			value, ok := view.Col.find(int(col), int32(row))
			if !ok || value != values[i] {
				return errors.NotValidf("entry (%d, %d) missing from the column view", row, col)
			}
		}
	}
	return nil
}
