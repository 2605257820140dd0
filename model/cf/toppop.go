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

	"github.com/juju/errors"
	"github.com/popcorn-rec/popcorn/dataset"
	"github.com/popcorn-rec/popcorn/model"
)

// TopPop ranks items by the number of interactions in the training partition. Every
// user known at fit time gets the same scores.
type TopPop struct {
	model.BaseModel
	UserIndex  *dataset.FreqDict
	ItemIndex  *dataset.FreqDict
	Popularity []float32
}

func NewTopPop(params model.Params) *TopPop {
	pop := new(TopPop)
	pop.SetParams(params)
	return pop
}

func (pop *TopPop) Fit(_ context.Context, trainSet *dataset.Dataset, _ dataset.Modalities) error {
	if trainSet == nil {
		return errors.NotValidf("empty train set for toppop")
	}
	pop.UserIndex = trainSet.GetUserDict()
	pop.ItemIndex = trainSet.GetItemDict()
	pop.Popularity = make([]float32, trainSet.CountItems())
	for itemIndex := range pop.Popularity {
		pop.Popularity[itemIndex] = float32(pop.ItemIndex.Freq(int32(itemIndex)))
	}
	return nil
}

func (pop *TopPop) Score(int32) []float32 {
	return append([]float32(nil), pop.Popularity...)
}

func (pop *TopPop) GetUserIndex() *dataset.FreqDict {
	return pop.UserIndex
}

func (pop *TopPop) GetItemIndex() *dataset.FreqDict {
	return pop.ItemIndex
}
