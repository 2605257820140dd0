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
	"cmp"
	"slices"

	"github.com/juju/errors"
	"github.com/popcorn-rec/popcorn/base"
	"github.com/popcorn-rec/popcorn/common/log"
	"go.uber.org/zap"
)

// SplitMode selects how records are ordered before the test partition is cut.
type SplitMode string

const (
	// RandomSplit shuffles records with a seed and cuts the tail.
	RandomSplit SplitMode = "random"
	// TemporalSplit sorts records by timestamp and cuts the tail.
	TemporalSplit SplitMode = "temporal"
	// PerUserSplit holds out the latest record of every user. The ratio is ignored.
	PerUserSplit SplitMode = "per_user"
)

// DefaultTestRatio replaces ratios outside (0, 1).
const DefaultTestRatio = 0.2

func (m SplitMode) Valid() bool {
	switch m {
	case RandomSplit, TemporalSplit, PerUserSplit:
		return true
	default:
		return false
	}
}

// Split partitions records into train and test sets. For random and temporal modes the
// trailing floor(len(set) * ratio) records are the test set, so the test set is empty if
// that count rounds to zero. For the per-user mode every user contributes exactly one
// test record. An unknown mode is an error and no partition is returned.
func Split(set InteractionSet, mode SplitMode, ratio float64, seed int64) (train, test InteractionSet, err error) {
	if !mode.Valid() {
		log.Logger().Error("unsupported split mode", zap.String("mode", string(mode)))
		return nil, nil, errors.NotSupportedf("split mode %q", mode)
	}
	if ratio <= 0 || ratio >= 1 {
		log.Logger().Warn("test ratio should be in (0, 1)",
			zap.Float64("ratio", ratio),
			zap.Float64("default", DefaultTestRatio))
		ratio = DefaultTestRatio
	}
	switch mode {
	case RandomSplit:
		shuffled := set.Clone()
		rng := base.NewRandomGenerator(seed)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		train, test = cutTail(shuffled, ratio)
	case TemporalSplit:
		sorted := set.Clone()
		slices.SortStableFunc(sorted, func(a, b Interaction) int {
			return cmp.Compare(a.Timestamp, b.Timestamp)
		})
		train, test = cutTail(sorted, ratio)
	case PerUserSplit:
		train, test = leaveLastOut(set)
	}
	log.Logger().Info("split dataset",
		zap.String("mode", string(mode)),
		zap.Float64("ratio", ratio),
		zap.Int("train", len(train)),
		zap.Int("test", len(test)))
	return train, test, nil
}

func cutTail(set InteractionSet, ratio float64) (train, test InteractionSet) {
	n := int(float64(len(set)) * ratio)
	cut := len(set) - n
	return set[:cut:cut], set[cut:]
}

// leaveLastOut holds out the latest record of each user. Users are visited in sorted
// order and ties on timestamp keep input order.
func leaveLastOut(set InteractionSet) (train, test InteractionSet) {
	groups := make(map[string]InteractionSet)
	for _, r := range set {
		groups[r.UserId] = append(groups[r.UserId], r)
	}
	users := make([]string, 0, len(groups))
	for userId := range groups {
		users = append(users, userId)
	}
	slices.Sort(users)
	train = make(InteractionSet, 0, len(set)-len(users))
	test = make(InteractionSet, 0, len(users))
	for _, userId := range users {
		records := groups[userId]
		slices.SortStableFunc(records, func(a, b Interaction) int {
			return cmp.Compare(a.Timestamp, b.Timestamp)
		})
		train = append(train, records[:len(records)-1]...)
		test = append(test, records[len(records)-1])
	}
	return train, test
}
