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

	"github.com/bits-and-blooms/bitset"
	"github.com/popcorn-rec/popcorn/common/floats"
	"github.com/popcorn-rec/popcorn/common/log"
	"github.com/popcorn-rec/popcorn/common/progress"
	"github.com/popcorn-rec/popcorn/dataset"
	"github.com/popcorn-rec/popcorn/model"
	"go.uber.org/zap"
)

// VMF is matrix factorization on implicit feedback whose item factor is augmented by a
// linear projection of item features:
//
//	\hat y_{ui} = p_u^T (q_i + E f_i)
//
// Each observed pair is fitted towards 1 together with one sampled negative towards 0.
//
// Hyper-parameters:
//
//	 k		- The number of latent factors. Default is 10.
//	 learning_rate	- The learning rate of SGD. Default is 0.01.
//	 lambda_reg	- The regularization strength. Default is 0.01.
//	 n_epochs	- The number of iteration of the SGD procedure. Default is 10.
type VMF struct {
	BaseMatrixFactorization
	Embedding    [][]float32 // E
	ItemFeatured *bitset.BitSet
	itemVector   [][]float32
	// Hyper parameters
	nFactors   int
	nEpochs    int
	lr         float32
	reg        float32
	initStdDev float32
}

func NewVMF(params model.Params) *VMF {
	vmf := new(VMF)
	vmf.SetParams(params)
	return vmf
}

func (vmf *VMF) SetParams(params model.Params) {
	vmf.BaseMatrixFactorization.SetParams(params)
	vmf.nFactors = vmf.Params.GetInt(model.K, 10)
	vmf.nEpochs = vmf.Params.GetInt(model.NEpochs, 10)
	vmf.lr = vmf.Params.GetFloat32(model.LearningRate, 0.01)
	vmf.reg = vmf.Params.GetFloat32(model.LambdaReg, 0.01)
	vmf.initStdDev = vmf.Params.GetFloat32(model.InitStdDev, 0.01)
}

func (vmf *VMF) Fit(ctx context.Context, trainSet *dataset.Dataset, modalities dataset.Modalities) error {
	if err := checkTrainSet("vmf", trainSet); err != nil {
		return err
	}
	features, featured, err := alignFeatures("vmf", trainSet, modalities)
	if err != nil {
		return err
	}
	dim := len(features[0])
	log.Logger().Debug("fit vmf",
		zap.Int("train_set_size", trainSet.CountFeedback()),
		zap.Int("dim", dim),
		zap.Uint("featured_items", featured.Count()),
		zap.Any("params", vmf.GetParams()))
	rng := vmf.GetRandomGenerator()
	vmf.UserFactor = rng.NormalMatrix(trainSet.CountUsers(), vmf.nFactors, 0, vmf.initStdDev)
	vmf.ItemFactor = rng.NormalMatrix(trainSet.CountItems(), vmf.nFactors, 0, vmf.initStdDev)
	vmf.Embedding = rng.NormalMatrix(vmf.nFactors, dim, 0, vmf.initStdDev)
	vmf.ItemFeatured = featured
	vmf.BaseMatrixFactorization.Init(trainSet)
	// Create buffers
	itemVector := make([]float32, vmf.nFactors)
	projected := make([]float32, vmf.nFactors)
	userFactor := make([]float32, vmf.nFactors)
	sampler := newPairSampler(rng, trainSet)
	update := func(u, i int32, target float32) float32 {
		floats.MatVecTo(vmf.Embedding, features[i], projected)
		floats.AddTo(vmf.ItemFactor[i], projected, itemVector)
		diff := target - floats.Dot(vmf.UserFactor[u], itemVector)
		copy(userFactor, vmf.UserFactor[u])
		floats.MulConst(vmf.UserFactor[u], 1-vmf.lr*vmf.reg)
		floats.MulConstAdd(itemVector, vmf.lr*diff, vmf.UserFactor[u])
		floats.MulConst(vmf.ItemFactor[i], 1-vmf.lr*vmf.reg)
		floats.MulConstAdd(userFactor, vmf.lr*diff, vmf.ItemFactor[i])
		floats.MulVecAddTo(userFactor, features[i], vmf.lr*diff, vmf.Embedding)
		return diff * diff
	}
	_, span := progress.Start(ctx, "VMF.Fit", vmf.nEpochs)
	defer span.End()
	for epoch := 1; epoch <= vmf.nEpochs; epoch++ {
		if err := checkContext(ctx); err != nil {
			span.Fail(err)
			return err
		}
		var cost float32
		for n := 0; n < trainSet.CountFeedback(); n++ {
			u, i, j, ok := sampler.Sample()
			if !ok {
				continue
			}
			cost += update(u, i, 1)
			cost += update(u, j, 0)
		}
		log.Logger().Debug(fmt.Sprintf("fit vmf %v/%v", epoch, vmf.nEpochs),
			zap.Float32("cost", cost))
		span.Add(1)
	}
	// cache q_i + E f_i
	vmf.itemVector = make([][]float32, trainSet.CountItems())
	for itemIndex := range features {
		vmf.itemVector[itemIndex] = make([]float32, vmf.nFactors)
		floats.MatVecTo(vmf.Embedding, features[itemIndex], vmf.itemVector[itemIndex])
		floats.Add(vmf.itemVector[itemIndex], vmf.ItemFactor[itemIndex])
	}
	return nil
}

func (vmf *VMF) Score(userIndex int32) []float32 {
	scores := make([]float32, len(vmf.ItemFactor))
	if !vmf.IsUserPredictable(userIndex) {
		return scores
	}
	for itemIndex := range scores {
		scores[itemIndex] = floats.Dot(vmf.UserFactor[userIndex], vmf.itemVector[itemIndex])
	}
	return scores
}
