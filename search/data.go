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

package search

import (
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/popcorn-rec/popcorn/common/log"
	"github.com/popcorn-rec/popcorn/dataset"
	"github.com/popcorn-rec/popcorn/evaluator"
	"github.com/popcorn-rec/popcorn/model"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ValidationTopN is the cutoff of the validation blend.
const ValidationTopN = 10

// Data is the fit/validation view of a training partition. It is read-only once
// prepared, so concurrent trials share it.
type Data struct {
	Train      dataset.InteractionSet
	TrainSet   *dataset.Dataset
	Fit        dataset.InteractionSet
	FitSet     *dataset.Dataset
	Validation map[string]mapset.Set[string]
	// ValidationUsers are sorted user ids of the validation partition.
	ValidationUsers []string
	Candidates      evaluator.Candidates
}

// PrepareData splits a training partition randomly into fit and validation partitions.
func PrepareData(train dataset.InteractionSet, validationRatio float64, seed int64) (*Data, error) {
	if len(train) == 0 {
		log.Logger().Error("missing training partition")
		return nil, errors.NotFoundf("training partition")
	}
	fit, validation, err := dataset.Split(train, dataset.RandomSplit, validationRatio, seed)
	if err != nil {
		return nil, errors.Trace(err)
	}
	data := &Data{
		Train:      train,
		TrainSet:   dataset.NewDataset(train),
		Fit:        fit,
		FitSet:     dataset.NewDataset(fit),
		Validation: validation.GroupByUser(),
	}
	data.ValidationUsers = lo.Keys(data.Validation)
	slices.Sort(data.ValidationUsers)
	data.Candidates = evaluator.NewCandidates(data.FitSet, fit)
	log.Logger().Info("prepare fit and validation partitions",
		zap.Int("n_fit", len(fit)),
		zap.Int("n_validation", len(validation)),
		zap.Int("n_validation_users", len(data.ValidationUsers)))
	return data, nil
}

// ValidationScore blends mean Recall@10 and mean NDCG@10 over validation users known to
// the model. It is zero if no validation user can be scored.
func ValidationScore(m model.Model, data *Data) float64 {
	var recall, ndcg float64
	var count int
	for _, userId := range data.ValidationUsers {
		if m.GetUserIndex().Id(userId) < 0 {
			continue
		}
		groundTruth := data.Validation[userId]
		list := evaluator.TopN(m, userId, ValidationTopN, data.Candidates)
		recall += evaluator.Recall(groundTruth, list)
		ndcg += evaluator.NDCG(groundTruth, list, ValidationTopN)
		count++
	}
	if count == 0 {
		return 0
	}
	return 0.5*recall/float64(count) + 0.5*ndcg/float64(count)
}
