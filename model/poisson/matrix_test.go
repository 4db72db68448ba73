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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zshwuhan/poismf/dataset"
)

func TestNewDualView(t *testing.T) {
	d := dataset.NewDataset(0, 0)
	assert.NoError(t, d.AddCount("u0", "i0", 1))
	assert.NoError(t, d.AddCount("u0", "i1", 2))
	assert.NoError(t, d.AddCount("u1", "i1", 3))
	// duplicate entries are summed
	assert.NoError(t, d.AddCount("u0", "i1", 4))
	view, err := NewDualView(d)
	assert.NoError(t, err)
	assert.Equal(t, 2, view.Row.Len())
	assert.Equal(t, 2, view.Col.Len())
	assert.Equal(t, int64(3), view.Row.NNZ())
	assert.Equal(t, int64(3), view.Col.NNZ())
	values, indices := view.Row.Slice(0)
	assert.Equal(t, []float32{1, 6}, values)
	assert.Equal(t, []int32{0, 1}, indices)
	values, indices = view.Row.Slice(1)
	assert.Equal(t, []float32{3}, values)
	assert.Equal(t, []int32{1}, indices)
	values, indices = view.Col.Slice(1)
	assert.Equal(t, []float32{6, 3}, values)
	assert.Equal(t, []int32{0, 1}, indices)
	value, ok := view.Row.find(0, 1)
	assert.True(t, ok)
	assert.Equal(t, float32(6), value)
	_, ok = view.Row.find(1, 0)
	assert.False(t, ok)
}

func TestDualViewCheck(t *testing.T) {
	// views carrying different entries must be rejected
	view := &DualView{
		Row: CSMatrix{
			Values:  []float32{2},
			Indices: []int32{0},
			Offsets: []int64{0, 1},
		},
		Col: CSMatrix{
			Values:  []float32{3},
			Indices: []int32{0},
			Offsets: []int64{0, 1},
		},
	}
	assert.Error(t, view.Check())
	view.Col.Values[0] = 2
	assert.NoError(t, view.Check())
}
