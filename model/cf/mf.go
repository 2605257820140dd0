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

	"github.com/popcorn-rec/popcorn/common/floats"
	"github.com/popcorn-rec/popcorn/common/log"
	"github.com/popcorn-rec/popcorn/common/progress"
	"github.com/popcorn-rec/popcorn/dataset"
	"github.com/popcorn-rec/popcorn/model"
	"go.uber.org/zap"
)

// MF is biased matrix factorization fitted on explicit ratings by SGD:
//
//	\hat r_{ui} = \mu + b_u + b_i + p_u^T q_i
//
// Hyper-parameters:
//
//	 k		- The number of latent factors. Default is 10.
//	 learning_rate	- The learning rate of SGD. Default is 0.01.
//	 lambda_reg	- The regularization strength. Default is 0.02.
//	 max_iter	- The number of passes over the ratings. Default is 100.
//	 init_std_dev	- The standard deviation of initial random latent factors. Default is 0.01.
type MF struct {
	BaseMatrixFactorization
	GlobalMean float32
	UserBias   []float32
	ItemBias   []float32
	// Hyper parameters
	nFactors   int
	maxIter    int
	lr         float32
	reg        float32
	initStdDev float32
}

func NewMF(params model.Params) *MF {
	mf := new(MF)
	mf.SetParams(params)
	return mf
}

func (mf *MF) SetParams(params model.Params) {
	mf.BaseMatrixFactorization.SetParams(params)
	mf.nFactors = mf.Params.GetInt(model.K, 10)
	mf.maxIter = mf.Params.GetInt(model.MaxIter, 100)
	mf.lr = mf.Params.GetFloat32(model.LearningRate, 0.01)
	mf.reg = mf.Params.GetFloat32(model.LambdaReg, 0.02)
	mf.initStdDev = mf.Params.GetFloat32(model.InitStdDev, 0.01)
}

func (mf *MF) Fit(ctx context.Context, trainSet *dataset.Dataset, _ dataset.Modalities) error {
	if err := checkTrainSet("mf", trainSet); err != nil {
		return err
	}
	log.Logger().Debug("fit mf",
		zap.Int("train_set_size", trainSet.CountFeedback()),
		zap.Any("params", mf.GetParams()))
	rng := mf.GetRandomGenerator()
	mf.UserFactor = rng.NormalMatrix(trainSet.CountUsers(), mf.nFactors, 0, mf.initStdDev)
	mf.ItemFactor = rng.NormalMatrix(trainSet.CountItems(), mf.nFactors, 0, mf.initStdDev)
	mf.UserBias = make([]float32, trainSet.CountUsers())
	mf.ItemBias = make([]float32, trainSet.CountItems())
	mf.BaseMatrixFactorization.Init(trainSet)
	// global mean
	var sum float32
	for _, ratings := range trainSet.GetUserRatings() {
		for _, r := range ratings {
			sum += r
		}
	}
	mf.GlobalMean = sum / float32(trainSet.CountFeedback())
	// visit ratings in a shuffled order every iteration
	type pair struct{ user, pos int32 }
	pairs := make([]pair, 0, trainSet.CountFeedback())
	for userIndex, items := range trainSet.GetUserFeedback() {
		for pos := range items {
			pairs = append(pairs, pair{int32(userIndex), int32(pos)})
		}
	}
	userFactor := make([]float32, mf.nFactors)
	_, span := progress.Start(ctx, "MF.Fit", mf.maxIter)
	defer span.End()
	for iter := 1; iter <= mf.maxIter; iter++ {
		if err := checkContext(ctx); err != nil {
			span.Fail(err)
			return err
		}
		rng.Shuffle(len(pairs), func(i, j int) { pairs[i], pairs[j] = pairs[j], pairs[i] })
		var cost float32
		for _, p := range pairs {
			userIndex := p.user
			itemIndex := trainSet.GetUserFeedback()[userIndex][p.pos]
			rating := trainSet.GetUserRatings()[userIndex][p.pos]
			pred := mf.predict(userIndex, itemIndex)
			diff := rating - pred
			cost += diff * diff
			// Update biases
			mf.UserBias[userIndex] += mf.lr * (diff - mf.reg*mf.UserBias[userIndex])
			mf.ItemBias[itemIndex] += mf.lr * (diff - mf.reg*mf.ItemBias[itemIndex])
			// Update latent factors
			copy(userFactor, mf.UserFactor[userIndex])
			floats.MulConst(mf.UserFactor[userIndex], 1-mf.lr*mf.reg)
			floats.MulConstAdd(mf.ItemFactor[itemIndex], mf.lr*diff, mf.UserFactor[userIndex])
			floats.MulConst(mf.ItemFactor[itemIndex], 1-mf.lr*mf.reg)
			floats.MulConstAdd(userFactor, mf.lr*diff, mf.ItemFactor[itemIndex])
		}
		log.Logger().Debug(fmt.Sprintf("fit mf %v/%v", iter, mf.maxIter),
			zap.Float32("cost", cost))
		span.Add(1)
	}
	return nil
}

func (mf *MF) predict(userIndex, itemIndex int32) float32 {
	return mf.GlobalMean + mf.UserBias[userIndex] + mf.ItemBias[itemIndex] +
		floats.Dot(mf.UserFactor[userIndex], mf.ItemFactor[itemIndex])
}

func (mf *MF) Score(userIndex int32) []float32 {
	scores := make([]float32, len(mf.ItemFactor))
	if !mf.IsUserPredictable(userIndex) {
		return scores
	}
	for itemIndex := range scores {
		scores[itemIndex] = mf.predict(userIndex, int32(itemIndex))
	}
	return scores
}
