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

// NoGenre labels items that are missing from a GenreCatalog.
const NoGenre = "(none)"

// GenreCatalog maps item ids to category labels.
type GenreCatalog map[string][]string

// Labels returns the labels of an item, nil if the item is not cataloged.
func (c GenreCatalog) Labels(itemId string) []string {
	return c[itemId]
}

// LabelsOrNone returns the labels of an item, or the single NoGenre label if the item
// is not cataloged.
func (c GenreCatalog) LabelsOrNone(itemId string) []string {
	if labels, ok := c[itemId]; ok {
		return labels
	}
	return []string{NoGenre}
}
