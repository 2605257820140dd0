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
	"github.com/chewxy/math32"
	"github.com/popcorn-rec/popcorn/common/floats"
	"github.com/popcorn-rec/popcorn/common/log"
	"github.com/popcorn-rec/popcorn/common/progress"
	"github.com/popcorn-rec/popcorn/dataset"
	"github.com/popcorn-rec/popcorn/model"
	"go.uber.org/zap"
)

// VBPR extends BPR with a visual preference term. Item features f_i are projected into a
// visual space by E:
//
//	x_{ui} = \beta_i + \gamma_u^T \gamma_i + \theta_u^T (E f_i) + \beta'^T f_i
//
// Hyper-parameters:
//
//	 k		- The number of latent factors. Default is 10.
//	 k2		- The number of visual factors. Default is 10.
//	 learning_rate	- The learning rate of SGD. Default is 0.001.
//	 lambda_w	- The regularization of factors and projection. Default is 0.01.
//	 lambda_b	- The regularization of biases. Default is 0.01.
//	 n_epochs	- The number of iteration of the SGD procedure. Default is 10.
type VBPR struct {
	BaseMatrixFactorization
	ItemBias      []float32   // beta_i
	UserVisual    [][]float32 // theta_u
	Embedding     [][]float32 // E
	VisualBias    []float32   // beta'
	ItemFeatured  *bitset.BitSet
	itemVisual    [][]float32
	itemVisualOff []float32
	// Hyper parameters
	nFactors       int
	nVisualFactors int
	nEpochs        int
	lr             float32
	lambdaW        float32
	lambdaB        float32
	initStdDev     float32
}

func NewVBPR(params model.Params) *VBPR {
	vbpr := new(VBPR)
	vbpr.SetParams(params)
	return vbpr
}

func (vbpr *VBPR) SetParams(params model.Params) {
	vbpr.BaseMatrixFactorization.SetParams(params)
	vbpr.nFactors = vbpr.Params.GetInt(model.K, 10)
	vbpr.nVisualFactors = vbpr.Params.GetInt(model.K2, 10)
	vbpr.nEpochs = vbpr.Params.GetInt(model.NEpochs, 10)
	vbpr.lr = vbpr.Params.GetFloat32(model.LearningRate, 0.001)
	vbpr.lambdaW = vbpr.Params.GetFloat32(model.LambdaW, 0.01)
	vbpr.lambdaB = vbpr.Params.GetFloat32(model.LambdaB, 0.01)
	vbpr.initStdDev = vbpr.Params.GetFloat32(model.InitStdDev, 0.01)
}

func (vbpr *VBPR) Fit(ctx context.Context, trainSet *dataset.Dataset, modalities dataset.Modalities) error {
	if err := checkTrainSet("vbpr", trainSet); err != nil {
		return err
	}
	features, featured, err := alignFeatures("vbpr", trainSet, modalities)
	if err != nil {
		return err
	}
	dim := len(features[0])
	log.Logger().Debug("fit vbpr",
		zap.Int("train_set_size", trainSet.CountFeedback()),
		zap.Int("dim", dim),
		zap.Uint("featured_items", featured.Count()),
		zap.Any("params", vbpr.GetParams()))
	rng := vbpr.GetRandomGenerator()
	vbpr.UserFactor = rng.NormalMatrix(trainSet.CountUsers(), vbpr.nFactors, 0, vbpr.initStdDev)
	vbpr.ItemFactor = rng.NormalMatrix(trainSet.CountItems(), vbpr.nFactors, 0, vbpr.initStdDev)
	vbpr.UserVisual = rng.NormalMatrix(trainSet.CountUsers(), vbpr.nVisualFactors, 0, vbpr.initStdDev)
	vbpr.Embedding = rng.NormalMatrix(vbpr.nVisualFactors, dim, 0, vbpr.initStdDev)
	vbpr.ItemBias = make([]float32, trainSet.CountItems())
	vbpr.VisualBias = make([]float32, dim)
	vbpr.ItemFeatured = featured
	vbpr.BaseMatrixFactorization.Init(trainSet)
	// Create buffers
	featureDiff := make([]float32, dim)
	projected := make([]float32, vbpr.nVisualFactors)
	userFactor := make([]float32, vbpr.nFactors)
	userVisual := make([]float32, vbpr.nVisualFactors)
	itemDiff := make([]float32, vbpr.nFactors)
	sampler := newPairSampler(rng, trainSet)
	_, span := progress.Start(ctx, "VBPR.Fit", vbpr.nEpochs)
	defer span.End()
	for epoch := 1; epoch <= vbpr.nEpochs; epoch++ {
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
			floats.SubTo(features[i], features[j], featureDiff)
			floats.MatVecTo(vbpr.Embedding, featureDiff, projected)
			floats.SubTo(vbpr.ItemFactor[i], vbpr.ItemFactor[j], itemDiff)
			x := vbpr.ItemBias[i] - vbpr.ItemBias[j] +
				floats.Dot(vbpr.UserFactor[u], itemDiff) +
				floats.Dot(vbpr.UserVisual[u], projected) +
				floats.Dot(vbpr.VisualBias, featureDiff)
			cost += math32.Log1p(math32.Exp(-x))
			grad := sigmoid(-x)
			copy(userFactor, vbpr.UserFactor[u])
			copy(userVisual, vbpr.UserVisual[u])
			// biases
			vbpr.ItemBias[i] += vbpr.lr * (grad - vbpr.lambdaB*vbpr.ItemBias[i])
			vbpr.ItemBias[j] += vbpr.lr * (-grad - vbpr.lambdaB*vbpr.ItemBias[j])
			floats.MulConst(vbpr.VisualBias, 1-vbpr.lr*vbpr.lambdaB)
			floats.MulConstAdd(featureDiff, vbpr.lr*grad, vbpr.VisualBias)
			// latent factors
			floats.MulConst(vbpr.UserFactor[u], 1-vbpr.lr*vbpr.lambdaW)
			floats.MulConstAdd(itemDiff, vbpr.lr*grad, vbpr.UserFactor[u])
			floats.MulConst(vbpr.ItemFactor[i], 1-vbpr.lr*vbpr.lambdaW)
			floats.MulConstAdd(userFactor, vbpr.lr*grad, vbpr.ItemFactor[i])
			floats.MulConst(vbpr.ItemFactor[j], 1-vbpr.lr*vbpr.lambdaW)
			floats.MulConstAdd(userFactor, -vbpr.lr*grad, vbpr.ItemFactor[j])
			// visual factors
			floats.MulConst(vbpr.UserVisual[u], 1-vbpr.lr*vbpr.lambdaW)
			floats.MulConstAdd(projected, vbpr.lr*grad, vbpr.UserVisual[u])
			floats.MulVecAddTo(userVisual, featureDiff, vbpr.lr*grad, vbpr.Embedding)
		}
		// weight decay of the projection once per epoch
		for _, row := range vbpr.Embedding {
			floats.MulConst(row, 1-vbpr.lr*vbpr.lambdaW)
		}
		log.Logger().Debug(fmt.Sprintf("fit vbpr %v/%v", epoch, vbpr.nEpochs),
			zap.Float32("cost", cost))
		span.Add(1)
	}
	// cache the visual part of item scores
	vbpr.itemVisual = make([][]float32, trainSet.CountItems())
	vbpr.itemVisualOff = make([]float32, trainSet.CountItems())
	for itemIndex := range features {
		vbpr.itemVisual[itemIndex] = make([]float32, vbpr.nVisualFactors)
		floats.MatVecTo(vbpr.Embedding, features[itemIndex], vbpr.itemVisual[itemIndex])
		vbpr.itemVisualOff[itemIndex] = floats.Dot(vbpr.VisualBias, features[itemIndex])
	}
	return nil
}

func (vbpr *VBPR) Score(userIndex int32) []float32 {
	scores := make([]float32, len(vbpr.ItemFactor))
	if !vbpr.IsUserPredictable(userIndex) {
		return scores
	}
	for itemIndex := range scores {
		scores[itemIndex] = vbpr.ItemBias[itemIndex] +
			floats.Dot(vbpr.UserFactor[userIndex], vbpr.ItemFactor[itemIndex]) +
			floats.Dot(vbpr.UserVisual[userIndex], vbpr.itemVisual[itemIndex]) +
			vbpr.itemVisualOff[itemIndex]
	}
	return scores
}
