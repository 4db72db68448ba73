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
	"bytes"
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zshwuhan/poismf/common/floats"
	"github.com/zshwuhan/poismf/dataset"
	"github.com/zshwuhan/poismf/model"
)

// newBlockDataset builds two disjoint blocks of counts: users u0-u3 interact
// with items i0-i2 only, users u4-u7 with items i3-i5 only.
func newBlockDataset(t *testing.T) *dataset.Dataset {
	d := dataset.NewDataset(0, 0)
	for u := 0; u < 4; u++ {
		for i := 0; i < 3; i++ {
			assert.NoError(t, d.AddCount(fmt.Sprintf("u%d", u), fmt.Sprintf("i%d", i), float32(3+(u+i)%3)))
		}
	}
	for u := 4; u < 8; u++ {
		for i := 3; i < 6; i++ {
			assert.NoError(t, d.AddCount(fmt.Sprintf("u%d", u), fmt.Sprintf("i%d", i), float32(3+(u+i)%3)))
		}
	}
	return d
}

func TestPoissonMF_Blocks(t *testing.T) {
	trainSet := newBlockDataset(t)
	m := NewPoissonMF(model.Params{
		model.NFactors:   2,
		model.NEpochs:    15,
		model.MaxUpdates: 20,
	})
	_, err := m.Fit(context.Background(), trainSet, nil, NewFitConfig().SetJobs(2))
	assert.NoError(t, err)
	assert.Equal(t, trainSet.GetUserDict(), m.UserIndex)
	assert.Equal(t, trainSet.GetItemDict(), m.ItemIndex)
	// factors stay non-negative
	for _, row := range append(m.UserFactor, m.ItemFactor...) {
		for _, v := range row {
			assert.GreaterOrEqual(t, v, float32(0))
		}
	}
	// predicted intensities inside a block dominate those across blocks
	var intra, cross float32
	for u := 0; u < 4; u++ {
		for i := 0; i < 3; i++ {
			intra += m.internalPredict(int32(u), int32(i))
			cross += m.internalPredict(int32(u), int32(i+3))
		}
	}
	assert.Greater(t, intra, cross)

	// test predict
	assert.Equal(t, m.Predict("u1", "i1"), m.internalPredict(1, 1))
	assert.Equal(t, m.internalPredict(1, 1), floats.Dot(m.GetUserFactor(1), m.GetItemFactor(1)))
	assert.Zero(t, m.Predict("unknown", "i1"))
	assert.True(t, m.IsUserPredictable(1))
	assert.True(t, m.IsItemPredictable(1))
	assert.False(t, m.IsUserPredictable(math.MaxInt32))
	assert.False(t, m.IsItemPredictable(math.MaxInt32))

	// test encode/decode model
	buf := bytes.NewBuffer(nil)
	assert.NoError(t, m.Marshal(buf))
	tmp := new(PoissonMF)
	assert.NoError(t, tmp.Unmarshal(buf))
	assert.Equal(t, m.Params, tmp.GetParams())
	assert.Equal(t, m.Predict("u1", "i1"), tmp.Predict("u1", "i1"))
	assert.True(t, tmp.IsUserPredictable(1))
	assert.True(t, tmp.IsItemPredictable(1))

	// test clear
	m.Clear()
	assert.True(t, m.Invalid())
}

func TestPoissonMF_Solvers(t *testing.T) {
	trainSet := newBlockDataset(t)
	for _, solverType := range []string{"pg", "cg", "tncg"} {
		m := NewPoissonMF(model.Params{
			model.NFactors:   2,
			model.NEpochs:    5,
			model.MaxUpdates: 10,
			model.Solver:     solverType,
		})
		_, err := m.Fit(context.Background(), trainSet, nil, NewFitConfig())
		assert.NoError(t, err, "solver %v", solverType)
		for _, row := range append(m.UserFactor, m.ItemFactor...) {
			for _, v := range row {
				assert.GreaterOrEqual(t, v, float32(0), "solver %v", solverType)
			}
		}
	}
}

func TestPoissonMF_Evaluate(t *testing.T) {
	d := newBlockDataset(t)
	trainSet, testSet := d.SplitByRatio(0.25, 0)
	m := NewPoissonMF(model.Params{
		model.NFactors:   2,
		model.NEpochs:    15,
		model.MaxUpdates: 20,
	})
	score, err := m.Fit(context.Background(), trainSet, testSet, NewFitConfig().SetJobs(2))
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, score.NDCG, float32(0))
	assert.LessOrEqual(t, score.NDCG, float32(1))
	assert.GreaterOrEqual(t, score.Recall, float32(0))
	assert.LessOrEqual(t, score.Recall, float32(1))
	auc := EvaluateAUC(m, testSet, trainSet)
	assert.GreaterOrEqual(t, auc, float32(0))
	assert.LessOrEqual(t, auc, float32(1))
}

func TestPoissonMF_Aborted(t *testing.T) {
	trainSet := newBlockDataset(t)
	m := NewPoissonMF(model.Params{model.NFactors: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Fit(ctx, trainSet, nil, NewFitConfig())
	assert.ErrorIs(t, err, ErrAborted)
}

func TestPoissonMF_NewUserFactors(t *testing.T) {
	trainSet := newBlockDataset(t)
	m := NewPoissonMF(model.Params{
		model.NFactors:   2,
		model.NEpochs:    15,
		model.MaxUpdates: 20,
	})
	_, err := m.Fit(context.Background(), trainSet, nil, NewFitConfig())
	assert.NoError(t, err)
	// a new user with block-one counts should score block-one items higher
	factors, err := m.NewUserFactors([]dataset.Count{
		{Index: 0, Value: 4},
		{Index: 1, Value: 3},
		{Index: 2, Value: 5},
	})
	assert.NoError(t, err)
	assert.Len(t, factors, 2)
	for _, v := range factors {
		assert.GreaterOrEqual(t, v, float32(0))
	}
	assert.Greater(t,
		floats.Dot(factors, m.GetItemFactor(0)),
		floats.Dot(factors, m.GetItemFactor(5)))

	// counts over unknown items only are rejected
	_, err = m.NewUserFactors([]dataset.Count{{Index: 99, Value: 1}})
	assert.Error(t, err)
	_, err = m.NewUserFactors(nil)
	assert.Error(t, err)
}
