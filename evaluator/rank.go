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

package evaluator

import (
	"cmp"
	"slices"

	"github.com/popcorn-rec/popcorn/dataset"
	"github.com/popcorn-rec/popcorn/model"
)

// Candidates are the items a fitted model may recommend on one partition.
type Candidates struct {
	// Catalog lists item ids in iteration order. Score ties keep this order.
	Catalog []string
	Seen    dataset.SeenSet
}

// NewCandidates builds candidates from an indexed training partition.
func NewCandidates(trainSet *dataset.Dataset, train dataset.InteractionSet) Candidates {
	return Candidates{
		Catalog: trainSet.ItemIds(),
		Seen:    dataset.NewSeenSet(train),
	}
}

// TopN ranks unseen catalog items for a user by model score and returns at most n
// item ids. Users unknown to the model get an empty list.
func TopN(m model.Model, userId string, n int, candidates Candidates) []string {
	userIndex := m.GetUserIndex().Id(userId)
	if userIndex < 0 || n <= 0 {
		return []string{}
	}
	scores := m.Score(userIndex)
	itemIndex := m.GetItemIndex()
	seen := candidates.Seen.Get(userId)
	type scored struct {
		itemId string
		score  float32
	}
	ranked := make([]scored, 0, len(candidates.Catalog))
	for _, itemId := range candidates.Catalog {
		if seen.Contains(itemId) {
			continue
		}
		index := itemIndex.Id(itemId)
		if index < 0 || int(index) >= len(scores) {
			// not scored by the model
			continue
		}
		ranked = append(ranked, scored{itemId: itemId, score: scores[index]})
	}
	slices.SortStableFunc(ranked, func(a, b scored) int {
		return cmp.Compare(b.score, a.score)
	})
	result := make([]string, 0, min(n, len(ranked)))
	for _, item := range ranked[:min(n, len(ranked))] {
		result = append(result, item.itemId)
	}
	return result
}
