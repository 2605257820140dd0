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

	"github.com/bits-and-blooms/bitset"
	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/popcorn-rec/popcorn/base"
	"github.com/popcorn-rec/popcorn/common/floats"
	"github.com/popcorn-rec/popcorn/dataset"
	"github.com/popcorn-rec/popcorn/model"
)

// BaseMatrixFactorization holds the state shared by latent factor models.
type BaseMatrixFactorization struct {
	model.BaseModel
	UserIndex       *dataset.FreqDict
	ItemIndex       *dataset.FreqDict
	UserPredictable *bitset.BitSet
	// Model parameters
	UserFactor [][]float32 // p_u
	ItemFactor [][]float32 // q_i
}

func (baseModel *BaseMatrixFactorization) Init(trainSet *dataset.Dataset) {
	baseModel.UserIndex = trainSet.GetUserDict()
	baseModel.ItemIndex = trainSet.GetItemDict()
	// set user trained flags
	baseModel.UserPredictable = bitset.New(uint(baseModel.UserIndex.Count()))
	for userIndex := int32(0); userIndex < baseModel.UserIndex.Count(); userIndex++ {
		if len(trainSet.GetUserFeedback()[userIndex]) > 0 {
			baseModel.UserPredictable.Set(uint(userIndex))
		}
	}
}

func (baseModel *BaseMatrixFactorization) GetUserIndex() *dataset.FreqDict {
	return baseModel.UserIndex
}

func (baseModel *BaseMatrixFactorization) GetItemIndex() *dataset.FreqDict {
	return baseModel.ItemIndex
}

// IsUserPredictable returns false if user has no feedback and its embedding vector never be trained.
func (baseModel *BaseMatrixFactorization) IsUserPredictable(userIndex int32) bool {
	if baseModel.UserIndex == nil || userIndex >= baseModel.UserIndex.Count() || userIndex < 0 {
		return false
	}
	return baseModel.UserPredictable.Test(uint(userIndex))
}

// Score computes p_u^T q_i for every item. Unknown users get zeros.
func (baseModel *BaseMatrixFactorization) Score(userIndex int32) []float32 {
	scores := make([]float32, len(baseModel.ItemFactor))
	if !baseModel.IsUserPredictable(userIndex) {
		return scores
	}
	for itemIndex := range baseModel.ItemFactor {
		scores[itemIndex] = floats.Dot(baseModel.UserFactor[userIndex], baseModel.ItemFactor[itemIndex])
	}
	return scores
}

// pairSampler draws (user, positive, negative) triples for pairwise training.
type pairSampler struct {
	rng          base.RandomGenerator
	trainSet     *dataset.Dataset
	userFeedback []mapset.Set[int32]
}

func newPairSampler(rng base.RandomGenerator, trainSet *dataset.Dataset) *pairSampler {
	// Convert array to hashmap
	userFeedback := make([]mapset.Set[int32], trainSet.CountUsers())
	for u := range userFeedback {
		userFeedback[u] = mapset.NewThreadUnsafeSet(trainSet.GetUserFeedback()[u]...)
	}
	return &pairSampler{rng: rng, trainSet: trainSet, userFeedback: userFeedback}
}

// Sample returns false if the chosen user has interacted with every item.
func (s *pairSampler) Sample() (userIndex, posIndex, negIndex int32, ok bool) {
	// Select a user
	var ratingCount int
	for {
		userIndex = s.rng.Int31n(int32(s.trainSet.CountUsers()))
		ratingCount = len(s.trainSet.GetUserFeedback()[userIndex])
		if ratingCount > 0 {
			break
		}
	}
	if s.userFeedback[userIndex].Cardinality() >= s.trainSet.CountItems() {
		return 0, 0, 0, false
	}
	posIndex = s.trainSet.GetUserFeedback()[userIndex][s.rng.Intn(ratingCount)]
	// Select a negative sample
	for {
		temp := s.rng.Int31n(int32(s.trainSet.CountItems()))
		if !s.userFeedback[userIndex].Contains(temp) {
			negIndex = temp
			break
		}
	}
	return userIndex, posIndex, negIndex, true
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

func checkTrainSet(name string, trainSet *dataset.Dataset) error {
	if trainSet == nil || trainSet.CountFeedback() == 0 {
		return errors.NotValidf("empty train set for %s", name)
	}
	return nil
}

func checkContext(ctx context.Context) error {
	return errors.Trace(ctx.Err())
}

// alignFeatures copies modality rows into item index order. Items missing from the
// modality keep a zero row and are left unset in the returned bitset.
func alignFeatures(name string, trainSet *dataset.Dataset, modalities dataset.Modalities) ([][]float32, *bitset.BitSet, error) {
	modality := modalities.Image
	if modality == nil {
		modality = modalities.Feature
	}
	if modality == nil || modality.Dim() == 0 {
		return nil, nil, errors.NotValidf("%s without an image or feature modality", name)
	}
	features := make([][]float32, trainSet.CountItems())
	featured := bitset.New(uint(trainSet.CountItems()))
	for itemIndex, itemId := range trainSet.ItemIds() {
		features[itemIndex] = make([]float32, modality.Dim())
		if row, ok := modality.Get(itemId); ok {
			copy(features[itemIndex], row)
			featured.Set(uint(itemIndex))
		}
	}
	return features, featured, nil
}
