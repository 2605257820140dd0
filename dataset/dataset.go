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
	mapset "github.com/deckarep/golang-set/v2"
)

// Dataset is the indexed form of a training partition. Users and items are numbered in
// order of first appearance, and the item numbering is the catalog order used when
// ranking. A Dataset is read-only after NewDataset returns, so it can be shared by
// concurrent trials.
type Dataset struct {
	userDict     *FreqDict
	itemDict     *FreqDict
	userFeedback [][]int32
	userRatings  [][]float32
	numFeedback  int
}

func NewDataset(set InteractionSet) *Dataset {
	d := &Dataset{
		userDict: NewFreqDict(),
		itemDict: NewFreqDict(),
	}
	for _, r := range set {
		userIndex := d.userDict.Add(r.UserId)
		itemIndex := d.itemDict.Add(r.ItemId)
		if int(userIndex) == len(d.userFeedback) {
			d.userFeedback = append(d.userFeedback, nil)
			d.userRatings = append(d.userRatings, nil)
		}
		d.userFeedback[userIndex] = append(d.userFeedback[userIndex], itemIndex)
		d.userRatings[userIndex] = append(d.userRatings[userIndex], r.Rating)
		d.numFeedback++
	}
	return d
}

func (d *Dataset) CountUsers() int {
	return int(d.userDict.Count())
}

func (d *Dataset) CountItems() int {
	return int(d.itemDict.Count())
}

func (d *Dataset) CountFeedback() int {
	return d.numFeedback
}

func (d *Dataset) GetUserDict() *FreqDict {
	return d.userDict
}

func (d *Dataset) GetItemDict() *FreqDict {
	return d.itemDict
}

func (d *Dataset) GetUserFeedback() [][]int32 {
	return d.userFeedback
}

// GetUserRatings is aligned with GetUserFeedback.
func (d *Dataset) GetUserRatings() [][]float32 {
	return d.userRatings
}

// ItemIds returns the item catalog in index order.
func (d *Dataset) ItemIds() []string {
	return d.itemDict.ToList()
}

func (d *Dataset) UserIds() []string {
	return d.userDict.ToList()
}

// SeenSet maps each user to the items the user interacted with in a training partition.
type SeenSet map[string]mapset.Set[string]

func NewSeenSet(set InteractionSet) SeenSet {
	return SeenSet(set.GroupByUser())
}

// Get returns the items seen by a user. Unknown users have seen nothing.
func (s SeenSet) Get(userId string) mapset.Set[string] {
	if items, ok := s[userId]; ok {
		return items
	}
	return mapset.NewThreadUnsafeSet[string]()
}

func (s SeenSet) Contains(userId, itemId string) bool {
	items, ok := s[userId]
	return ok && items.Contains(itemId)
}

// Popularity counts interactions per item in a training partition.
type Popularity struct {
	counts   map[string]int
	max      int
	numUsers int
}

func NewPopularity(set InteractionSet) *Popularity {
	p := &Popularity{counts: set.CountItems()}
	for _, c := range p.counts {
		p.max = max(p.max, c)
	}
	p.numUsers = len(set.CountUsers())
	return p
}

// Get returns the popularity of an item, zero if the item is unknown.
func (p *Popularity) Get(itemId string) int {
	return p.counts[itemId]
}

// Max returns the largest popularity, zero for an empty partition.
func (p *Popularity) Max() int {
	return p.max
}

// NumUsers returns the number of distinct users in the partition.
func (p *Popularity) NumUsers() int {
	return p.numUsers
}

// ColdItems returns items whose popularity is at most threshold.
func (p *Popularity) ColdItems(threshold int) mapset.Set[string] {
	cold := mapset.NewThreadUnsafeSet[string]()
	for itemId, c := range p.counts {
		if c <= threshold {
			cold.Add(itemId)
		}
	}
	return cold
}
