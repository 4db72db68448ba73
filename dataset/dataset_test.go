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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreqDict(t *testing.T) {
	d := NewFreqDict()
	assert.Equal(t, 0, d.Id("a"))
	assert.Equal(t, 1, d.Id("b"))
	assert.Equal(t, 0, d.Id("a"))
	assert.Equal(t, 2, d.Count())
	assert.Equal(t, 2, d.Freq(0))
	assert.Equal(t, 1, d.Freq(1))
	assert.Equal(t, NotId, d.ToIndex("c"))
	s, ok := d.String(1)
	assert.True(t, ok)
	assert.Equal(t, "b", s)
	_, ok = d.String(2)
	assert.False(t, ok)
}

func TestAddCount(t *testing.T) {
	d := NewDataset(0, 0)
	assert.NoError(t, d.AddCount("u0", "i0", 4))
	assert.NoError(t, d.AddCount("u1", "i1", 9))
	assert.NoError(t, d.AddCount("u0", "i1", 2))
	assert.Error(t, d.AddCount("u0", "i2", 0))
	assert.Error(t, d.AddCount("u0", "i2", -1))
	assert.Equal(t, 2, d.CountUsers())
	assert.Equal(t, 2, d.CountItems())
	assert.Equal(t, 3, d.CountFeedback())
	assert.Equal(t, []Count{{Index: 0, Value: 4}, {Index: 1, Value: 2}}, d.GetUserFeedback()[0])
	assert.Equal(t, []Count{{Index: 1, Value: 9}, {Index: 0, Value: 2}}, d.GetItemFeedback()[1])
}

func TestSplitByRatio(t *testing.T) {
	d := NewDataset(0, 0)
	for i := 0; i < 10; i++ {
		for j := 0; j < 10; j++ {
			require.NoError(t, d.AddCount(string(rune('a'+i)), string(rune('A'+j)), float32(i+j+1)))
		}
	}
	train, test := d.SplitByRatio(0.2, 0)
	assert.Equal(t, d.CountUsers(), train.CountUsers())
	assert.Equal(t, d.CountItems(), test.CountItems())
	assert.Equal(t, d.CountFeedback(), train.CountFeedback()+test.CountFeedback())
	assert.Greater(t, test.CountFeedback(), 0)
	assert.Greater(t, train.CountFeedback(), test.CountFeedback())
	// dense indices are shared between splits
	for userIndex := 0; userIndex < d.CountUsers(); userIndex++ {
		expected, _ := d.GetUserDict().String(userIndex)
		actual, _ := train.GetUserDict().String(userIndex)
		assert.Equal(t, expected, actual)
	}
}

func TestLoadCSV(t *testing.T) {
	temp := t.TempDir()
	path := filepath.Join(temp, "counts.csv")
	require.NoError(t, os.WriteFile(path, []byte("u0,i0,4\nu1,i1,9\n\nu0,i1,2\n"), 0o644))
	d, err := LoadCSV(path, ",")
	require.NoError(t, err)
	assert.Equal(t, 3, d.CountFeedback())
	assert.Equal(t, 2, d.CountUsers())
	// malformed line
	require.NoError(t, os.WriteFile(path, []byte("u0,i0\n"), 0o644))
	_, err = LoadCSV(path, ",")
	assert.Error(t, err)
}
