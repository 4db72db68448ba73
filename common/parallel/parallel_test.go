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

package parallel

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestParallel(t *testing.T) {
	done := make([]bool, 1000)
	err := Parallel(context.Background(), len(done), 4, func(workerId, jobId int) error {
		assert.GreaterOrEqual(t, workerId, 0)
		assert.Less(t, workerId, 4)
		done[jobId] = true
		return nil
	})
	assert.NoError(t, err)
	for _, v := range done {
		assert.True(t, v)
	}
}

func TestParallelError(t *testing.T) {
	expected := errors.New("random error")
	err := Parallel(context.Background(), 1000, 4, func(workerId, jobId int) error {
		if jobId == 500 {
			return expected
		}
		return nil
	})
	assert.ErrorIs(t, err, expected)
}

func TestParallelCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var count atomic.Int64
	err := Parallel(ctx, 1000, 4, func(workerId, jobId int) error {
		if count.Add(1) == 100 {
			cancel()
		}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, count.Load(), int64(1000))
}

func TestFor(t *testing.T) {
	var count atomic.Int64
	For(100, 3, func(i int) {
		count.Add(int64(i))
	})
	assert.Equal(t, int64(4950), count.Load())
}

func TestForEach(t *testing.T) {
	a := []int{1, 2, 3, 4, 5}
	var count atomic.Int64
	ForEach(a, 2, func(i, v int) {
		count.Add(int64(v))
	})
	assert.Equal(t, int64(15), count.Load())
}

func TestSplit(t *testing.T) {
	a := []int{1, 2, 3, 4, 5}
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, Split(a, 3))
	assert.Equal(t, [][]int{{1}, {2}, {3}, {4}, {5}}, Split(a, 7))
	assert.Nil(t, Split([]int{}, 3))
}
