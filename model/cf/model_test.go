// Copyright 2025 gorse Project Authors
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

package cf

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/juju/errors"
	"github.com/popcorn-rec/popcorn/common/log"
	"github.com/popcorn-rec/popcorn/dataset"
	"github.com/popcorn-rec/popcorn/model"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	// silence per-epoch logs
	log.CloseLogger()
	os.Exit(m.Run())
}

// blockData builds two user groups, each interacting with 8 of the 10 items of its own
// group. The last two items of each group are held out.
func blockData() (train dataset.InteractionSet, heldOut map[string][]string) {
	heldOut = make(map[string][]string)
	for g := 0; g < 2; g++ {
		for u := 0; u < 20; u++ {
			userId := fmt.Sprintf("u%d_%d", g, u)
			for i := 0; i < 10; i++ {
				itemId := fmt.Sprintf("i%d_%d", g, i)
				if (i+u)%10 >= 8 {
					heldOut[userId] = append(heldOut[userId], itemId)
					continue
				}
				train = append(train, dataset.Interaction{UserId: userId, ItemId: itemId, Rating: 5})
			}
		}
	}
	return
}

func groupModality(t *testing.T, trainSet *dataset.Dataset) dataset.Modalities {
	features := lo.Map(trainSet.ItemIds(), func(itemId string, _ int) []float32 {
		if itemId[1] == '0' {
			return []float32{1, 0}
		}
		return []float32{0, 1}
	})
	m, err := dataset.NewModality("group", trainSet.ItemIds(), features)
	require.NoError(t, err)
	return dataset.Modalities{Image: m}
}

// assertLearned checks that held-out items of a user's own group score higher than the
// items of the other group on average.
func assertLearned(t *testing.T, m model.Model, trainSet *dataset.Dataset, heldOut map[string][]string) {
	var own, other float32
	var nOwn, nOther int
	for userId, items := range heldOut {
		userIndex := m.GetUserIndex().Id(userId)
		require.GreaterOrEqual(t, userIndex, int32(0))
		scores := m.Score(userIndex)
		require.Len(t, scores, trainSet.CountItems())
		for _, itemId := range items {
			own += scores[m.GetItemIndex().Id(itemId)]
			nOwn++
		}
		for itemIndex, itemId := range trainSet.ItemIds() {
			if itemId[1] != userId[1] {
				other += scores[itemIndex]
				nOther++
			}
		}
	}
	assert.Greater(t, own/float32(nOwn), other/float32(nOther))
}

func TestBPR(t *testing.T) {
	train, heldOut := blockData()
	trainSet := dataset.NewDataset(train)
	m := NewBPR(model.Params{
		model.K:            8,
		model.LearningRate: 0.05,
		model.LambdaReg:    0.01,
		model.NEpochs:      50,
		model.InitStdDev:   0.1,
	})
	require.NoError(t, m.Fit(context.Background(), trainSet, dataset.Modalities{}))
	assert.Equal(t, trainSet.GetUserDict(), m.GetUserIndex())
	assert.Equal(t, trainSet.GetItemDict(), m.GetItemIndex())
	assert.True(t, m.IsUserPredictable(1))
	assert.False(t, m.IsUserPredictable(1 << 20))
	assert.Equal(t, make([]float32, trainSet.CountItems()), m.Score(-1))
	assertLearned(t, m, trainSet, heldOut)

	// same seed, same model
	m2 := NewBPR(m.GetParams())
	require.NoError(t, m2.Fit(context.Background(), trainSet, dataset.Modalities{}))
	assert.Equal(t, m.Score(3), m2.Score(3))
}

func TestBPR_Cancel(t *testing.T) {
	train, _ := blockData()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewBPR(model.Params{}).Fit(ctx, dataset.NewDataset(train), dataset.Modalities{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBPR_EmptyTrainSet(t *testing.T) {
	err := NewBPR(model.Params{}).Fit(context.Background(), dataset.NewDataset(nil), dataset.Modalities{})
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestMF(t *testing.T) {
	train, heldOut := blockData()
	// low ratings across groups
	for g := 0; g < 2; g++ {
		for u := 0; u < 20; u++ {
			for i := 0; i < 8; i++ {
				train = append(train, dataset.Interaction{
					UserId: fmt.Sprintf("u%d_%d", g, u),
					ItemId: fmt.Sprintf("i%d_%d", 1-g, i),
					Rating: 1,
				})
			}
		}
	}
	trainSet := dataset.NewDataset(train)
	m := NewMF(model.Params{
		model.K:            4,
		model.LearningRate: 0.02,
		model.LambdaReg:    0.01,
		model.MaxIter:      100,
		model.InitStdDev:   0.1,
	})
	require.NoError(t, m.Fit(context.Background(), trainSet, dataset.Modalities{}))
	assert.Greater(t, m.GlobalMean, float32(1))
	assert.Less(t, m.GlobalMean, float32(5))
	assertLearned(t, m, trainSet, heldOut)
}

func TestTopPop(t *testing.T) {
	trainSet := dataset.NewDataset(dataset.InteractionSet{
		{UserId: "u1", ItemId: "a"},
		{UserId: "u2", ItemId: "a"},
		{UserId: "u2", ItemId: "b"},
	})
	m := NewTopPop(nil)
	require.NoError(t, m.Fit(context.Background(), trainSet, dataset.Modalities{}))
	assert.Equal(t, []float32{2, 1}, m.Score(0))
	assert.Equal(t, m.Score(0), m.Score(1))
	assert.Equal(t, int32(-1), m.GetUserIndex().Id("u3"))
	// scores are copies
	m.Score(0)[0] = 100
	assert.Equal(t, []float32{2, 1}, m.Score(0))
}

func TestVBPR(t *testing.T) {
	train, _ := blockData()
	trainSet := dataset.NewDataset(train)
	params := model.Params{
		model.K:            4,
		model.K2:           2,
		model.LearningRate: 0.05,
		model.NEpochs:      5,
		model.InitStdDev:   0.1,
	}
	m := NewVBPR(params)
	// modality is required
	err := m.Fit(context.Background(), trainSet, dataset.Modalities{})
	assert.True(t, errors.Is(err, errors.NotValid))

	modalities := groupModality(t, trainSet)
	require.NoError(t, m.Fit(context.Background(), trainSet, modalities))
	assert.Equal(t, uint(trainSet.CountItems()), m.ItemFeatured.Count())
	assert.Len(t, m.Embedding, 2)
	scores := m.Score(0)
	assert.Len(t, scores, trainSet.CountItems())
	assert.Equal(t, make([]float32, trainSet.CountItems()), m.Score(-1))

	m2 := NewVBPR(params)
	require.NoError(t, m2.Fit(context.Background(), trainSet, modalities))
	assert.Equal(t, scores, m2.Score(0))
}

func TestVMF(t *testing.T) {
	train, heldOut := blockData()
	trainSet := dataset.NewDataset(train)
	m := NewVMF(model.Params{
		model.K:            4,
		model.LearningRate: 0.05,
		model.NEpochs:      20,
		model.InitStdDev:   0.1,
	})
	err := m.Fit(context.Background(), trainSet, dataset.Modalities{})
	assert.True(t, errors.Is(err, errors.NotValid))

	modalities := groupModality(t, trainSet)
	require.NoError(t, m.Fit(context.Background(), trainSet, modalities))
	assertLearned(t, m, trainSet, heldOut)
}

func TestModalityWithMissingItems(t *testing.T) {
	train, _ := blockData()
	trainSet := dataset.NewDataset(train)
	modality, err := dataset.NewModality("partial", []string{"i0_0", "unknown"}, [][]float32{{1, 2}, {3, 4}})
	require.NoError(t, err)
	features, featured, err := alignFeatures("test", trainSet, dataset.Modalities{Feature: modality})
	require.NoError(t, err)
	assert.Equal(t, uint(1), featured.Count())
	assert.Equal(t, []float32{1, 2}, features[trainSet.GetItemDict().Id("i0_0")])
	assert.Equal(t, []float32{0, 0}, features[trainSet.GetItemDict().Id("i1_0")])
}

func TestBuiltin(t *testing.T) {
	r := Builtin()
	assert.Equal(t, []string{TagMF, TagBPR, TagTopPop, TagVBPR, TagVMF}, r.Tags())

	e, err := r.Get(TagMF)
	require.NoError(t, err)
	assert.False(t, e.Modal)
	configs := e.Grid(10, false).Expand(5)
	assert.Len(t, configs, 5)
	assert.Equal(t, model.Params{model.K: 32, model.LearningRate: 0.01, model.LambdaReg: 0.01, model.MaxIter: 50}, configs[0])

	e, err = r.Get(TagTopPop)
	require.NoError(t, err)
	assert.Nil(t, e.Grid)
	assert.IsType(t, &TopPop{}, e.Create(nil))

	e, err = r.Get(TagVBPR)
	require.NoError(t, err)
	assert.True(t, e.Modal)
	configs = e.Grid(20, false).Expand(5)
	assert.Len(t, configs, 5)
	assert.Equal(t, 20, configs[0].GetInt(model.NEpochs, 0))
	assert.Equal(t, 1, e.Grid(20, true).Expand(5)[0].GetInt(model.NEpochs, 0))

	e, err = r.Get(TagVMF)
	require.NoError(t, err)
	assert.Len(t, e.Grid(10, true).Expand(5), 3)
	assert.IsType(t, &VMF{}, e.Create(model.Params{}))
}
