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
	"time"

	"github.com/chewxy/math32"
	"github.com/popcorn-rec/popcorn/common/floats"
	"github.com/popcorn-rec/popcorn/common/log"
	"github.com/popcorn-rec/popcorn/common/progress"
	"github.com/popcorn-rec/popcorn/dataset"
	"github.com/popcorn-rec/popcorn/model"
	"go.uber.org/zap"
)

// BPR means Bayesian Personal Ranking, is a pairwise learning algorithm for matrix factorization
// model with implicit feedback. The pairwise ranking between item i and j for user u is estimated
// by:
//
//	p(i >_u j) = \sigma( p_u^T (q_i - q_j) )
//
// Hyper-parameters:
//
//	 k		- The number of latent factors. Default is 10.
//	 learning_rate	- The learning rate of SGD. Default is 0.05.
//	 lambda_reg	- The regularization parameter of the cost function that is
//			  optimized. Default is 0.01.
//	 n_epochs	- The number of iteration of the SGD procedure. Default is 10.
//	 init_std_dev	- The standard deviation of initial random latent factors. Default is 0.01.
type BPR struct {
	BaseMatrixFactorization
	// Hyper parameters
	nFactors   int
	nEpochs    int
	lr         float32
	reg        float32
	initStdDev float32
}

// NewBPR creates a BPR model.
func NewBPR(params model.Params) *BPR {
	bpr := new(BPR)
	bpr.SetParams(params)
	return bpr
}

// SetParams sets hyper-parameters of the BPR model.
func (bpr *BPR) SetParams(params model.Params) {
	bpr.BaseMatrixFactorization.SetParams(params)
	// Setup hyper-parameters
	bpr.nFactors = bpr.Params.GetInt(model.K, 10)
	bpr.nEpochs = bpr.Params.GetInt(model.NEpochs, 10)
	bpr.lr = bpr.Params.GetFloat32(model.LearningRate, 0.05)
	bpr.reg = bpr.Params.GetFloat32(model.LambdaReg, 0.01)
	bpr.initStdDev = bpr.Params.GetFloat32(model.InitStdDev, 0.01)
}

// Fit the BPR model. Its task complexity is O(bpr.nEpochs * |feedback|).
func (bpr *BPR) Fit(ctx context.Context, trainSet *dataset.Dataset, _ dataset.Modalities) error {
	if err := checkTrainSet("bpr", trainSet); err != nil {
		return err
	}
	log.Logger().Debug("fit bpr",
		zap.Int("train_set_size", trainSet.CountFeedback()),
		zap.Any("params", bpr.GetParams()))
	bpr.Init(trainSet)
	// Create buffers
	temp := make([]float32, bpr.nFactors)
	userFactor := make([]float32, bpr.nFactors)
	positiveItemFactor := make([]float32, bpr.nFactors)
	negativeItemFactor := make([]float32, bpr.nFactors)
	sampler := newPairSampler(bpr.GetRandomGenerator(), trainSet)
	// Training
	_, span := progress.Start(ctx, "BPR.Fit", bpr.nEpochs)
	defer span.End()
	for epoch := 1; epoch <= bpr.nEpochs; epoch++ {
		if err := checkContext(ctx); err != nil {
			span.Fail(err)
			return err
		}
		fitStart := time.Now()
		var cost float32
		for i := 0; i < trainSet.CountFeedback(); i++ {
			userIndex, posIndex, negIndex, ok := sampler.Sample()
			if !ok {
				continue
			}
			diff := floats.Dot(bpr.UserFactor[userIndex], bpr.ItemFactor[posIndex]) -
				floats.Dot(bpr.UserFactor[userIndex], bpr.ItemFactor[negIndex])
			cost += math32.Log1p(math32.Exp(-diff))
			grad := math32.Exp(-diff) / (1.0 + math32.Exp(-diff))
			// Pairwise update
			copy(userFactor, bpr.UserFactor[userIndex])
			copy(positiveItemFactor, bpr.ItemFactor[posIndex])
			copy(negativeItemFactor, bpr.ItemFactor[negIndex])
			// Update positive item latent factor: +w_u
			floats.MulConstTo(userFactor, grad, temp)
			floats.MulConstAdd(positiveItemFactor, -bpr.reg, temp)
			floats.MulConstAdd(temp, bpr.lr, bpr.ItemFactor[posIndex])
			// Update negative item latent factor: -w_u
			floats.MulConstTo(userFactor, -grad, temp)
			floats.MulConstAdd(negativeItemFactor, -bpr.reg, temp)
			floats.MulConstAdd(temp, bpr.lr, bpr.ItemFactor[negIndex])
			// Update user latent factor: h_i-h_j
			floats.SubTo(positiveItemFactor, negativeItemFactor, temp)
			floats.MulConst(temp, grad)
			floats.MulConstAdd(userFactor, -bpr.reg, temp)
			floats.MulConstAdd(temp, bpr.lr, bpr.UserFactor[userIndex])
		}
		log.Logger().Debug(fmt.Sprintf("fit bpr %v/%v", epoch, bpr.nEpochs),
			zap.String("fit_time", time.Since(fitStart).String()),
			zap.Float32("cost", cost))
		span.Add(1)
	}
	return nil
}

func (bpr *BPR) Init(trainSet *dataset.Dataset) {
	// Initialize parameters
	bpr.UserFactor = bpr.GetRandomGenerator().NormalMatrix(trainSet.CountUsers(), bpr.nFactors, 0, bpr.initStdDev)
	bpr.ItemFactor = bpr.GetRandomGenerator().NormalMatrix(trainSet.CountItems(), bpr.nFactors, 0, bpr.initStdDev)
	// Initialize base
	bpr.BaseMatrixFactorization.Init(trainSet)
}
