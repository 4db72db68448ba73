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
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/zshwuhan/poismf/base/encoding"
	"github.com/zshwuhan/poismf/base/log"
	"github.com/zshwuhan/poismf/common/floats"
	"github.com/zshwuhan/poismf/dataset"
	"github.com/zshwuhan/poismf/model"
)

type Score struct {
	NDCG      float32
	Precision float32
	Recall    float32
}

type FitConfig struct {
	Jobs       int
	Verbose    int
	Candidates int
	TopK       int
}

func NewFitConfig() *FitConfig {
	return &FitConfig{
		Jobs:       1,
		Verbose:    10,
		Candidates: 100,
		TopK:       10,
	}
}

func (config *FitConfig) SetVerbose(verbose int) *FitConfig {
	config.Verbose = verbose
	return config
}

func (config *FitConfig) SetJobs(jobs int) *FitConfig {
	config.Jobs = jobs
	return config
}

// PoissonMF approximates a sparse count matrix X by the rate matrix of
// independent Poisson draws, X ~ Poisson(A·Bᵗ), with non-negative factor
// matrices A (users) and B (items). Rows are fit by alternating block
// coordinate descent with one of three solvers.
//
// Hyper-parameters:
//
//	NFactors    - The number of latent factors. Default is 30.
//	NEpochs     - The number of outer iterations. Default is 10.
//	L1Reg       - The L1 regularization strength. Default is 0.
//	L2Reg       - The L2 regularization strength. Default is 1e9 for the
//	              "pg" solver and 0 otherwise.
//	Weight      - The weight multiplier for observed entries. Default is 1.
//	StepSize    - The initial proximal gradient step size. Default is 1e-7.
//	MaxUpdates  - The per-row update budget. Default is 15.
//	Solver      - The row solver, one of "pg", "cg" and "tncg". Default is "tncg".
//	LimitStep   - Zero out at most one coordinate per CG step. Default is true.
//	InitLow     - The lower bound of uniform initial factors. Default is 0.3.
//	InitHigh    - The upper bound of uniform initial factors. Default is 0.7.
type PoissonMF struct {
	model.BaseModel
	UserIndex       *dataset.FreqDict
	ItemIndex       *dataset.FreqDict
	UserPredictable *bitset.BitSet
	ItemPredictable *bitset.BitSet
	// Model parameters
	UserFactor [][]float32 // a_u
	ItemFactor [][]float32 // b_i
	// Hyper parameters
	nFactors   int
	nEpochs    int
	maxUpdates int
	l1Reg      float32
	l2Reg      float32
	weight     float32
	stepSize   float32
	solver     SolverType
	limitStep  bool
	initLow    float32
	initHigh   float32
}

// NewPoissonMF creates a PoissonMF model.
func NewPoissonMF(params model.Params) *PoissonMF {
	mf := new(PoissonMF)
	mf.SetParams(params)
	return mf
}

// SetParams sets hyper-parameters of the PoissonMF model.
func (mf *PoissonMF) SetParams(params model.Params) {
	mf.BaseModel.SetParams(params)
	// Setup hyper-parameters
	mf.nFactors = mf.Params.GetInt(model.NFactors, 30)
	mf.nEpochs = mf.Params.GetInt(model.NEpochs, 10)
	mf.maxUpdates = mf.Params.GetInt(model.MaxUpdates, 15)
	mf.solver = SolverType(mf.Params.GetString(model.Solver, string(TNCG)))
	mf.l1Reg = mf.Params.GetFloat32(model.L1Reg, 0)
	mf.l2Reg = mf.Params.GetFloat32(model.L2Reg, lo.Ternary[float32](mf.solver == PG, 1e9, 0))
	mf.weight = mf.Params.GetFloat32(model.Weight, 1)
	mf.stepSize = mf.Params.GetFloat32(model.StepSize, 1e-7)
	mf.limitStep = mf.Params.GetBool(model.LimitStep, true)
	mf.initLow = mf.Params.GetFloat32(model.InitLow, 0.3)
	mf.initHigh = mf.Params.GetFloat32(model.InitHigh, 0.7)
}

// config assembles the optimization settings from the hyper-parameters.
func (mf *PoissonMF) config(jobs int) *Config {
	return &Config{
		L2Reg:      mf.l2Reg,
		L1Reg:      mf.l1Reg,
		Weight:     mf.weight,
		StepSize:   mf.stepSize,
		Solver:     mf.solver,
		LimitStep:  mf.limitStep,
		NEpochs:    mf.nEpochs,
		MaxUpdates: mf.maxUpdates,
		Jobs:       jobs,
	}
}

// Init initializes the factor matrices with uniform random values and marks
// rows with at least one observed count as predictable.
func (mf *PoissonMF) Init(trainSet dataset.CountSet) {
	mf.UserFactor = mf.GetRandomGenerator().UniformMatrix(trainSet.CountUsers(), mf.nFactors, mf.initLow, mf.initHigh)
	mf.ItemFactor = mf.GetRandomGenerator().UniformMatrix(trainSet.CountItems(), mf.nFactors, mf.initLow, mf.initHigh)
	mf.UserIndex = trainSet.GetUserDict()
	mf.ItemIndex = trainSet.GetItemDict()
	mf.UserPredictable = bitset.New(uint(mf.UserIndex.Count()))
	for userIndex := 0; userIndex < mf.UserIndex.Count(); userIndex++ {
		if len(trainSet.GetUserFeedback()[userIndex]) > 0 {
			mf.UserPredictable.Set(uint(userIndex))
		}
	}
	mf.ItemPredictable = bitset.New(uint(mf.ItemIndex.Count()))
	for itemIndex := 0; itemIndex < mf.ItemIndex.Count(); itemIndex++ {
		if len(trainSet.GetItemFeedback()[itemIndex]) > 0 {
			mf.ItemPredictable.Set(uint(itemIndex))
		}
	}
}

// Fit the PoissonMF model. When valSet is non-nil, ranking metrics are logged
// after fitting.
func (mf *PoissonMF) Fit(ctx context.Context, trainSet, valSet dataset.CountSet, config *FitConfig) (Score, error) {
	log.Logger().Info("fit poisson mf",
		zap.Int("train_set_size", trainSet.CountFeedback()),
		zap.Any("params", mf.GetParams()),
		zap.Any("config", config))
	mf.Init(trainSet)
	view, err := NewDualView(trainSet)
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	fitStart := time.Now()
	if err := Fit(ctx, mf.UserFactor, mf.ItemFactor, view, mf.config(config.Jobs)); err != nil {
		return Score{}, errors.Trace(err)
	}
	fitTime := time.Since(fitStart)
	if valSet == nil {
		log.Logger().Info("fit poisson mf complete",
			zap.String("fit_time", fitTime.String()))
		return Score{}, nil
	}
	evalStart := time.Now()
	scores := Evaluate(mf, valSet, trainSet, config.TopK, config.Candidates, config.Jobs, NDCG, Precision, Recall)
	evalTime := time.Since(evalStart)
	log.Logger().Info("fit poisson mf complete",
		zap.String("fit_time", fitTime.String()),
		zap.String("eval_time", evalTime.String()),
		zap.Float32(fmt.Sprintf("NDCG@%v", config.TopK), scores[0]),
		zap.Float32(fmt.Sprintf("Precision@%v", config.TopK), scores[1]),
		zap.Float32(fmt.Sprintf("Recall@%v", config.TopK), scores[2]))
	return Score{
		NDCG:      scores[0],
		Precision: scores[1],
		Recall:    scores[2],
	}, nil
}

// IsUserPredictable returns false if the user has no feedback and its factor row was never trained.
func (mf *PoissonMF) IsUserPredictable(userIndex int32) bool {
	if int(userIndex) >= mf.UserIndex.Count() || userIndex < 0 {
		return false
	}
	return mf.UserPredictable.Test(uint(userIndex))
}

// IsItemPredictable returns false if the item has no feedback and its factor row was never trained.
func (mf *PoissonMF) IsItemPredictable(itemIndex int32) bool {
	if int(itemIndex) >= mf.ItemIndex.Count() || itemIndex < 0 {
		return false
	}
	return mf.ItemPredictable.Test(uint(itemIndex))
}

// GetUserFactor returns the latent factor of a user.
func (mf *PoissonMF) GetUserFactor(userIndex int32) []float32 {
	return mf.UserFactor[userIndex]
}

// GetItemFactor returns the latent factor of an item.
func (mf *PoissonMF) GetItemFactor(itemIndex int32) []float32 {
	return mf.ItemFactor[itemIndex]
}

// Predict returns the predicted intensity of the count given by a user
// (userId) to an item (itemId).
func (mf *PoissonMF) Predict(userId, itemId string) float32 {
	userIndex := mf.UserIndex.ToIndex(userId)
	itemIndex := mf.ItemIndex.ToIndex(itemId)
	if userIndex == dataset.NotId {
		log.Logger().Warn("unknown user", zap.String("user_id", userId))
	}
	if itemIndex == dataset.NotId {
		log.Logger().Warn("unknown item", zap.String("item_id", itemId))
	}
	return mf.internalPredict(int32(userIndex), int32(itemIndex))
}

func (mf *PoissonMF) internalPredict(userIndex, itemIndex int32) float32 {
	ret := float32(0.0)
	if itemIndex >= 0 && userIndex >= 0 {
		ret = floats.Dot(mf.UserFactor[userIndex], mf.ItemFactor[itemIndex])
	} else {
		log.Logger().Warn("unknown user or item")
	}
	return ret
}

// NewUserFactors infers a factor row for a user unseen at training time from
// its observed counts, holding the item factors fixed. Counts over unknown
// items are ignored; at least one count over a known item is required.
func (mf *PoissonMF) NewUserFactors(counts []dataset.Count) ([]float32, error) {
	support := make([]dataset.Count, 0, len(counts))
	for _, count := range counts {
		if count.Index >= 0 && int(count.Index) < len(mf.ItemFactor) {
			support = append(support, count)
		}
	}
	if len(support) == 0 {
		return nil, errors.NotValidf("user with no counts over known items")
	}
	sort.Slice(support, func(i, j int) bool { return support[i].Index < support[j].Index })
	values := make([]float32, 0, len(support))
	indices := make([]int32, 0, len(support))
	for _, count := range support {
		if n := len(indices); n > 0 && indices[n-1] == count.Index {
			values[n-1] += count.Value
		} else {
			values = append(values, count.Value)
			indices = append(indices, count.Index)
		}
	}
	a := mf.GetRandomGenerator().UniformVector(mf.nFactors, mf.initLow, mf.initHigh)
	if err := FitRow(a, mf.ItemFactor, values, indices, mf.config(1)); err != nil {
		return nil, errors.Trace(err)
	}
	return a, nil
}

// Marshal model into byte stream.
func (mf *PoissonMF) Marshal(w io.Writer) error {
	// write params
	if err := encoding.WriteGob(w, mf.Params); err != nil {
		return errors.Trace(err)
	}
	// write predictable user count
	if err := binary.Write(w, binary.LittleEndian, int64(mf.UserPredictable.Count())); err != nil {
		return errors.Trace(err)
	}
	// write user latent factors
	for userIndex := 0; userIndex < mf.UserIndex.Count(); userIndex++ {
		if mf.UserPredictable.Test(uint(userIndex)) {
			userId, _ := mf.UserIndex.String(userIndex)
			if err := encoding.WriteString(w, userId); err != nil {
				return errors.Trace(err)
			}
			if err := binary.Write(w, binary.LittleEndian, mf.UserFactor[userIndex]); err != nil {
				return errors.Trace(err)
			}
		}
	}
	// write predictable item count
	if err := binary.Write(w, binary.LittleEndian, int64(mf.ItemPredictable.Count())); err != nil {
		return errors.Trace(err)
	}
	// write item latent factors
	for itemIndex := 0; itemIndex < mf.ItemIndex.Count(); itemIndex++ {
		if mf.ItemPredictable.Test(uint(itemIndex)) {
			itemId, _ := mf.ItemIndex.String(itemIndex)
			if err := encoding.WriteString(w, itemId); err != nil {
				return errors.Trace(err)
			}
			if err := binary.Write(w, binary.LittleEndian, mf.ItemFactor[itemIndex]); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

// Unmarshal model from byte stream.
func (mf *PoissonMF) Unmarshal(r io.Reader) error {
	// read params
	if err := encoding.ReadGob(r, &mf.Params); err != nil {
		return errors.Trace(err)
	}
	mf.SetParams(mf.Params)
	// read predictable user count
	var userPredictableCount int64
	if err := binary.Read(r, binary.LittleEndian, &userPredictableCount); err != nil {
		return errors.Trace(err)
	}
	// read user latent factors
	mf.UserIndex = dataset.NewFreqDict()
	mf.UserPredictable = bitset.New(uint(userPredictableCount))
	mf.UserFactor = make([][]float32, userPredictableCount)
	for i := 0; i < int(userPredictableCount); i++ {
		userId, err := encoding.ReadString(r)
		if err != nil {
			return errors.Trace(err)
		}
		userIndex := mf.UserIndex.Id(userId)
		mf.UserPredictable.Set(uint(userIndex))
		mf.UserFactor[userIndex] = make([]float32, mf.nFactors)
		if err := binary.Read(r, binary.LittleEndian, mf.UserFactor[userIndex]); err != nil {
			return errors.Trace(err)
		}
	}
	// read predictable item count
	var itemPredictableCount int64
	if err := binary.Read(r, binary.LittleEndian, &itemPredictableCount); err != nil {
		return errors.Trace(err)
	}
	// read item latent factors
	mf.ItemIndex = dataset.NewFreqDict()
	mf.ItemPredictable = bitset.New(uint(itemPredictableCount))
	mf.ItemFactor = make([][]float32, itemPredictableCount)
	for i := 0; i < int(itemPredictableCount); i++ {
		itemId, err := encoding.ReadString(r)
		if err != nil {
			return errors.Trace(err)
		}
		itemIndex := mf.ItemIndex.Id(itemId)
		mf.ItemPredictable.Set(uint(itemIndex))
		mf.ItemFactor[itemIndex] = make([]float32, mf.nFactors)
		if err := binary.Read(r, binary.LittleEndian, mf.ItemFactor[itemIndex]); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (mf *PoissonMF) Clear() {
	mf.UserIndex = nil
	mf.ItemIndex = nil
	mf.UserFactor = nil
	mf.ItemFactor = nil
}

func (mf *PoissonMF) Invalid() bool {
	return mf == nil ||
		mf.UserIndex == nil ||
		mf.ItemIndex == nil ||
		mf.UserFactor == nil ||
		mf.ItemFactor == nil
}
