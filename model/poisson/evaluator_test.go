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

	"github.com/bits-and-blooms/bitset"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"

	"github.com/zshwuhan/poismf/dataset"
	"github.com/zshwuhan/poismf/model"
)

// newTestEstimator builds a model with two users aligned to disjoint item
// groups: u0 scores {i0, i1} positively, u1 scores {i2, i3} positively.
func newTestEstimator() *PoissonMF {
	mf := NewPoissonMF(model.Params{model.NFactors: 2})
	mf.UserIndex = dataset.NewFreqDict()
	mf.ItemIndex = dataset.NewFreqDict()
	for _, userId := range []string{"u0", "u1"} {
		mf.UserIndex.Id(userId)
	}
	for _, itemId := range []string{"i0", "i1", "i2", "i3"} {
		mf.ItemIndex.Id(itemId)
	}
	mf.UserFactor = [][]float32{{1, 0}, {0, 1}}
	mf.ItemFactor = [][]float32{{1, 0}, {0.5, 0}, {0, 1}, {0, 0.5}}
	mf.UserPredictable = bitset.New(2).Set(0).Set(1)
	mf.ItemPredictable = bitset.New(4).Set(0).Set(1).Set(2).Set(3)
	return mf
}

// newTestTargets pairs each user with its positive item group.
func newTestTargets(t *testing.T) *dataset.Dataset {
	d := dataset.NewDataset(0, 0)
	assert.NoError(t, d.AddCount("u0", "i0", 1))
	assert.NoError(t, d.AddCount("u0", "i1", 1))
	assert.NoError(t, d.AddCount("u1", "i2", 1))
	assert.NoError(t, d.AddCount("u1", "i3", 1))
	return d
}

func TestNDCG(t *testing.T) {
	targetSet := mapset.NewSet[int32](1, 2, 3)
	rankList := []int32{1, 4, 2, 5, 3}
	// IDCG = 1 + 1/log2(3) + 1/log2(4)
	// DCG  = 1 + 1/log2(4) + 1/log2(6)
	assert.InDelta(t, 0.885, NDCG(targetSet, rankList), 0.001)
}

func TestPrecision(t *testing.T) {
	targetSet := mapset.NewSet[int32](1, 2, 3)
	rankList := []int32{1, 4, 2, 5, 3}
	assert.InDelta(t, 0.6, Precision(targetSet, rankList), 1e-6)
}

func TestRecall(t *testing.T) {
	targetSet := mapset.NewSet[int32](1, 2, 3, 7)
	rankList := []int32{1, 4, 2, 5, 3}
	assert.InDelta(t, 0.75, Recall(targetSet, rankList), 1e-6)
}

func TestRank(t *testing.T) {
	mf := newTestEstimator()
	rankList, scores := Rank(mf, 0, []int32{0, 1, 2, 3}, 2)
	assert.Equal(t, []int32{0, 1}, rankList)
	assert.Equal(t, []float32{1, 0.5}, scores)
	rankList, _ = Rank(mf, 1, []int32{0, 1, 2, 3}, 2)
	assert.Equal(t, []int32{2, 3}, rankList)
}

func TestEvaluate(t *testing.T) {
	mf := newTestEstimator()
	testSet := newTestTargets(t)
	scores := Evaluate(mf, testSet, nil, 2, testSet.CountItems(), 2, Precision, Recall, NDCG)
	assert.Len(t, scores, 3)
	assert.InDelta(t, 1, scores[0], 1e-6)
	assert.InDelta(t, 1, scores[1], 1e-6)
	assert.InDelta(t, 1, scores[2], 1e-6)
}

func TestEvaluateAUC(t *testing.T) {
	mf := newTestEstimator()
	testSet := newTestTargets(t)
	// every positive is ranked above every negative
	assert.InDelta(t, 1, EvaluateAUC(mf, testSet, nil), 1e-6)
	// flipping the factors ranks every pair wrong
	mf.UserFactor = [][]float32{{0, 1}, {1, 0}}
	assert.InDelta(t, 0, EvaluateAUC(mf, testSet, nil), 1e-6)
}

func TestRecommend(t *testing.T) {
	mf := newTestEstimator()
	itemIds, scores := mf.Recommend("u0", 2)
	assert.Equal(t, []string{"i0", "i1"}, itemIds)
	assert.Equal(t, []float32{1, 0.5}, scores)
	itemIds, _ = mf.Recommend("u0", 2, "i0")
	assert.Equal(t, "i1", itemIds[0])
	itemIds, _ = mf.Recommend("unknown", 2)
	assert.Nil(t, itemIds)
}
