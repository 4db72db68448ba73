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
	"context"

	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/zshwuhan/poismf/base"
	"github.com/zshwuhan/poismf/common/floats"
	"github.com/zshwuhan/poismf/common/heap"
	"github.com/zshwuhan/poismf/common/parallel"
	"github.com/zshwuhan/poismf/dataset"
)

/* Evaluate Item Ranking */

// Metric is used by evaluators in personalized ranking tasks.
type Metric func(targetSet mapset.Set[int32], rankList []int32) float32

// Evaluate evaluates a model in top-n tasks. For each user with test feedback,
// the test items are ranked against numCandidates sampled negatives and every
// metric is averaged over users.
func Evaluate(estimator *PoissonMF, testSet, trainSet dataset.CountSet, topK, numCandidates, nJobs int, scorers ...Metric) []float32 {
	partSum := make([][]float32, nJobs)
	partCount := make([]float32, nJobs)
	for i := 0; i < nJobs; i++ {
		partSum[i] = make([]float32, len(scorers))
	}
	negatives := negativeSample(testSet, trainSet, numCandidates, 0)
	_ = parallel.Parallel(context.Background(), testSet.CountUsers(), nJobs, func(workerId, userIndex int) error {
		targetSet := mapset.NewSet[int32]()
		for _, count := range testSet.GetUserFeedback()[userIndex] {
			targetSet.Add(count.Index)
		}
		if targetSet.Cardinality() > 0 {
			negativeSamples := negatives[userIndex]
			candidates := make([]int32, 0, targetSet.Cardinality()+len(negativeSamples))
			candidates = append(candidates, targetSet.ToSlice()...)
			candidates = append(candidates, negativeSamples...)
			rankList, _ := Rank(estimator, int32(userIndex), candidates, topK)
			partCount[workerId]++
			for i, metric := range scorers {
				partSum[workerId][i] += metric(targetSet, rankList)
			}
		}
		return nil
	})
	sum := make([]float32, len(scorers))
	for i := 0; i < nJobs; i++ {
		for j := range partSum[i] {
			sum[j] += partSum[i][j]
		}
	}
	count := floats.Sum(partCount)
	floats.MulConst(sum, 1/count)
	return sum
}

// negativeSample draws up to numCandidates items per user that appear neither
// in the user's test feedback nor in the user's training feedback.
func negativeSample(testSet, trainSet dataset.CountSet, numCandidates int, seed int64) [][]int32 {
	rng := base.NewRandomGenerator(seed)
	negatives := make([][]int32, testSet.CountUsers())
	for userIndex := range negatives {
		positiveSet := mapset.NewSet[int32]()
		for _, count := range testSet.GetUserFeedback()[userIndex] {
			positiveSet.Add(count.Index)
		}
		if trainSet != nil && userIndex < trainSet.CountUsers() {
			for _, count := range trainSet.GetUserFeedback()[userIndex] {
				positiveSet.Add(count.Index)
			}
		}
		negatives[userIndex] = rng.SampleInt32(0, int32(testSet.CountItems()), numCandidates, positiveSet)
	}
	return negatives
}

// NDCG means Normalized Discounted Cumulative Gain.
func NDCG(targetSet mapset.Set[int32], rankList []int32) float32 {
	// IDCG = \sum^{|REL|}_{i=1} \frac {1} {\log_2(i+1)}
	idcg := float32(0)
	for i := 0; i < targetSet.Cardinality() && i < len(rankList); i++ {
		idcg += 1.0 / math32.Log2(float32(i)+2.0)
	}
	// DCG = \sum^{N}_{i=1} \frac {2^{rel_i}-1} {\log_2(i+1)}
	dcg := float32(0)
	for i, itemIndex := range rankList {
		if targetSet.Contains(itemIndex) {
			dcg += 1.0 / math32.Log2(float32(i)+2.0)
		}
	}
	return dcg / idcg
}

// Precision is the fraction of relevant items among the recommended items.
//
//	\frac{|relevant documents| \cap |retrieved documents|} {|{retrieved documents}|}
func Precision(targetSet mapset.Set[int32], rankList []int32) float32 {
	hit := float32(0)
	for _, itemIndex := range rankList {
		if targetSet.Contains(itemIndex) {
			hit++
		}
	}
	return hit / float32(len(rankList))
}

// Recall is the fraction of relevant items that have been recommended over the
// total amount of relevant items.
//
//	\frac{|relevant documents| \cap |retrieved documents|} {|{relevant documents}|}
func Recall(targetSet mapset.Set[int32], rankList []int32) float32 {
	hit := 0
	for _, itemIndex := range rankList {
		if targetSet.Contains(itemIndex) {
			hit++
		}
	}
	return float32(hit) / float32(targetSet.Cardinality())
}

// EvaluateAUC evaluates a model by AUC: the fraction of (positive, negative)
// item pairs ranked correctly, averaged over users with test feedback. Items
// observed in the training set are excluded from the negative side.
func EvaluateAUC(estimator *PoissonMF, testSet, trainSet dataset.CountSet) float32 {
	sum, userCount := float32(0), float32(0)
	for userIndex := 0; userIndex < testSet.CountUsers(); userIndex++ {
		userFeedback := testSet.GetUserFeedback()[userIndex]
		if len(userFeedback) == 0 {
			continue
		}
		userCount++
		positiveSet := mapset.NewSet[int32]()
		for _, count := range userFeedback {
			positiveSet.Add(count.Index)
		}
		if trainSet != nil && userIndex < trainSet.CountUsers() {
			for _, count := range trainSet.GetUserFeedback()[userIndex] {
				positiveSet.Add(count.Index)
			}
		}
		// generate scores for all items
		predictions := make([]float32, testSet.CountItems())
		for itemIndex := range predictions {
			predictions[itemIndex] = estimator.internalPredict(int32(userIndex), int32(itemIndex))
		}
		correctCount, pairCount := float32(0), float32(0)
		for _, count := range userFeedback {
			for negIndex := range predictions {
				if !positiveSet.Contains(int32(negIndex)) {
					if predictions[count.Index] > predictions[negIndex] {
						correctCount++
					}
					pairCount++
				}
			}
		}
		if pairCount > 0 {
			sum += correctCount / pairCount
		}
	}
	if userCount == 0 {
		return 0
	}
	return sum / userCount
}

// Rank returns the top-n candidates by predicted intensity.
func Rank(estimator *PoissonMF, userIndex int32, candidates []int32, topN int) ([]int32, []float32) {
	itemsHeap := heap.NewTopKFilter[int32, float32](topN)
	for _, itemIndex := range candidates {
		itemsHeap.Push(itemIndex, estimator.internalPredict(userIndex, itemIndex))
	}
	return itemsHeap.PopAll()
}

// Recommend returns the top-n items for a user, skipping the excluded items.
func (mf *PoissonMF) Recommend(userId string, n int, exclude ...string) ([]string, []float32) {
	userIndex := mf.UserIndex.ToIndex(userId)
	if userIndex == dataset.NotId {
		return nil, nil
	}
	excludeSet := mapset.NewSet[int32]()
	for _, itemId := range exclude {
		if itemIndex := mf.ItemIndex.ToIndex(itemId); itemIndex != dataset.NotId {
			excludeSet.Add(int32(itemIndex))
		}
	}
	candidates := make([]int32, 0, mf.ItemIndex.Count())
	for itemIndex := 0; itemIndex < mf.ItemIndex.Count(); itemIndex++ {
		if !excludeSet.Contains(int32(itemIndex)) {
			candidates = append(candidates, int32(itemIndex))
		}
	}
	rankList, scores := Rank(mf, int32(userIndex), candidates, n)
	itemIds := make([]string, len(rankList))
	for i, itemIndex := range rankList {
		itemIds[i], _ = mf.ItemIndex.String(int(itemIndex))
	}
	return itemIds, scores
}
