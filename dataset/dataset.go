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

package dataset

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/juju/errors"

	"github.com/zshwuhan/poismf/base"
)

// Count is one observed entry of the interaction matrix: a dense column (or
// row) index paired with a non-negative count.
type Count struct {
	Index int32
	Value float32
}

// CountSet is the read surface the factorization core needs from a dataset.
type CountSet interface {
	CountUsers() int
	CountItems() int
	CountFeedback() int
	GetUserFeedback() [][]Count
	GetItemFeedback() [][]Count
	GetUserDict() *FreqDict
	GetItemDict() *FreqDict
}

// Dataset accumulates (user, item, count) triplets and re-indexes string ids
// into dense indices. Feedback is kept twice, grouped by user and by item, so
// both compressed views of the count matrix can be built in O(nnz).
type Dataset struct {
	userDict     *FreqDict
	itemDict     *FreqDict
	userFeedback [][]Count
	itemFeedback [][]Count
	numFeedback  int
}

func NewDataset(userCount, itemCount int) *Dataset {
	return &Dataset{
		userDict:     NewFreqDict(),
		itemDict:     NewFreqDict(),
		userFeedback: make([][]Count, 0, userCount),
		itemFeedback: make([][]Count, 0, itemCount),
	}
}

func (d *Dataset) CountUsers() int {
	return d.userDict.Count()
}

func (d *Dataset) CountItems() int {
	return d.itemDict.Count()
}

// CountFeedback returns the number of accumulated triplets. Triplets for the
// same (user, item) pair are counted once per AddCount call; their values are
// summed when the compressed views are built.
func (d *Dataset) CountFeedback() int {
	return d.numFeedback
}

func (d *Dataset) GetUserFeedback() [][]Count {
	return d.userFeedback
}

func (d *Dataset) GetItemFeedback() [][]Count {
	return d.itemFeedback
}

func (d *Dataset) GetUserDict() *FreqDict {
	return d.userDict
}

func (d *Dataset) GetItemDict() *FreqDict {
	return d.itemDict
}

// AddCount adds one (user, item, count) triplet. Non-positive counts are
// rejected since the Poisson likelihood is only defined over non-negative
// observations and zeros are implicit.
func (d *Dataset) AddCount(userId, itemId string, value float32) error {
	if value <= 0 {
		return errors.NotValidf("count %v for (%v, %v)", value, userId, itemId)
	}
	userIndex := d.userDict.Id(userId)
	itemIndex := d.itemDict.Id(itemId)
	if userIndex == len(d.userFeedback) {
		d.userFeedback = append(d.userFeedback, nil)
	}
	if itemIndex == len(d.itemFeedback) {
		d.itemFeedback = append(d.itemFeedback, nil)
	}
	d.userFeedback[userIndex] = append(d.userFeedback[userIndex], Count{Index: int32(itemIndex), Value: value})
	d.itemFeedback[itemIndex] = append(d.itemFeedback[itemIndex], Count{Index: int32(userIndex), Value: value})
	d.numFeedback++
	return nil
}

// SplitByRatio splits the dataset into a train set and a test set. For each
// user, roughly ratio of the feedback goes to the test set. Users and items
// keep the same dense indices in both splits.
func (d *Dataset) SplitByRatio(ratio float32, seed int64) (train, test *Dataset) {
	rng := base.NewRandomGenerator(seed)
	train = NewDataset(d.CountUsers(), d.CountItems())
	test = NewDataset(d.CountUsers(), d.CountItems())
	// register users and items so dense indices match
	for userIndex := 0; userIndex < d.CountUsers(); userIndex++ {
		userId, _ := d.userDict.String(userIndex)
		train.userDict.Id(userId)
		test.userDict.Id(userId)
		train.userFeedback = append(train.userFeedback, nil)
		test.userFeedback = append(test.userFeedback, nil)
	}
	for itemIndex := 0; itemIndex < d.CountItems(); itemIndex++ {
		itemId, _ := d.itemDict.String(itemIndex)
		train.itemDict.Id(itemId)
		test.itemDict.Id(itemId)
		train.itemFeedback = append(train.itemFeedback, nil)
		test.itemFeedback = append(test.itemFeedback, nil)
	}
	for userIndex, feedback := range d.userFeedback {
		for _, count := range feedback {
			target := train
			if rng.Float32() < ratio {
				target = test
			}
			target.userFeedback[userIndex] = append(target.userFeedback[userIndex], count)
			target.itemFeedback[count.Index] = append(target.itemFeedback[count.Index],
				Count{Index: int32(userIndex), Value: count.Value})
			target.numFeedback++
		}
	}
	return
}

// LoadCSV reads (user, item, count) triplets from a CSV file.
func LoadCSV(path, sep string) (*Dataset, error) {
	d := NewDataset(0, 0)
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, sep)
		if len(fields) < 3 {
			return nil, errors.NotValidf("line %q", line)
		}
		count, parseErr := strconv.ParseFloat(fields[2], 32)
		if parseErr != nil {
			return nil, errors.Trace(parseErr)
		}
		if addErr := d.AddCount(fields[0], fields[1], float32(count)); addErr != nil {
			return nil, errors.Trace(addErr)
		}
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	return d, nil
}
