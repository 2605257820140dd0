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

package dataset

import (
	"github.com/popcorn-rec/popcorn/common/log"
	"go.uber.org/zap"
)

// FilterKCore keeps only records whose user and item both have at least k records among
// the kept ones. Users and items are pruned alternately until a full pass removes
// nothing, since dropping items may push users back under k. The input is returned as is
// if k <= 0. The number of passes is returned as well.
func FilterKCore(set InteractionSet, k int) (InteractionSet, int) {
	if k <= 0 {
		log.Logger().Info("k-core filtering is disabled", zap.Int("k", k))
		return set, 0
	}
	filtered := set.Clone()
	passes := 0
	for {
		passes++
		before := len(filtered)
		// prune users
		userCounts := filtered.CountUsers()
		filtered = filterRecords(filtered, func(r Interaction) bool {
			return userCounts[r.UserId] >= k
		})
		// prune items
		itemCounts := filtered.CountItems()
		filtered = filterRecords(filtered, func(r Interaction) bool {
			return itemCounts[r.ItemId] >= k
		})
		log.Logger().Debug("k-core filtering pass",
			zap.Int("pass", passes),
			zap.Int("before", before),
			zap.Int("after", len(filtered)))
		if len(filtered) == before {
			break
		}
	}
	log.Logger().Info("k-core filtering complete",
		zap.Int("k", k),
		zap.Int("passes", passes),
		zap.Int("input", len(set)),
		zap.Int("output", len(filtered)))
	return filtered, passes
}

// filterRecords keeps matching records in place.
func filterRecords(set InteractionSet, keep func(Interaction) bool) InteractionSet {
	n := 0
	for _, r := range set {
		if keep(r) {
			set[n] = r
			n++
		}
	}
	return set[:n]
}
