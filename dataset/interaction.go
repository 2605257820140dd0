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

// Interaction is a single user-item record. It is never modified once loaded.
type Interaction struct {
	UserId    string
	ItemId    string
	Rating    float32
	Timestamp int64
}

// InteractionSet is an unordered collection of interactions. Duplicated (user, item)
// pairs are allowed and counted as many times as they appear.
type InteractionSet []Interaction

func (s InteractionSet) Len() int {
	return len(s)
}

// Clone returns a copy that shares no backing array with s.
func (s InteractionSet) Clone() InteractionSet {
	if s == nil {
		return nil
	}
	return append(InteractionSet(make([]Interaction, 0, len(s))), s...)
}

// UserIds returns distinct users in order of first appearance.
func (s InteractionSet) UserIds() []string {
	seen := make(map[string]struct{})
	var users []string
	for _, r := range s {
		if _, ok := seen[r.UserId]; !ok {
			seen[r.UserId] = struct{}{}
			users = append(users, r.UserId)
		}
	}
	return users
}

// ItemIds returns distinct items in order of first appearance.
func (s InteractionSet) ItemIds() []string {
	seen := make(map[string]struct{})
	var items []string
	for _, r := range s {
		if _, ok := seen[r.ItemId]; !ok {
			seen[r.ItemId] = struct{}{}
			items = append(items, r.ItemId)
		}
	}
	return items
}

// CountUsers returns the number of interactions per user.
func (s InteractionSet) CountUsers() map[string]int {
	counts := make(map[string]int)
	for _, r := range s {
		counts[r.UserId]++
	}
	return counts
}

// CountItems returns the number of interactions per item.
func (s InteractionSet) CountItems() map[string]int {
	counts := make(map[string]int)
	for _, r := range s {
		counts[r.ItemId]++
	}
	return counts
}

// GroupByUser collects the set of items of every user.
func (s InteractionSet) GroupByUser() map[string]mapset.Set[string] {
	groups := make(map[string]mapset.Set[string])
	for _, r := range s {
		items, ok := groups[r.UserId]
		if !ok {
			items = mapset.NewThreadUnsafeSet[string]()
			groups[r.UserId] = items
		}
		items.Add(r.ItemId)
	}
	return groups
}
