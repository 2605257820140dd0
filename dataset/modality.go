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
	"slices"

	"github.com/chewxy/math32"
	"github.com/juju/errors"
	"github.com/popcorn-rec/popcorn/common/floats"
	"github.com/samber/lo"
)

// Modality is a dense feature matrix aligned with item ids. It is never modified after
// construction.
type Modality struct {
	Name     string
	itemIds  []string
	index    map[string]int
	features [][]float32
}

// NewModality creates a modality. Every row must have the same dimension.
func NewModality(name string, itemIds []string, features [][]float32) (*Modality, error) {
	if len(itemIds) != len(features) {
		return nil, errors.NotValidf("modality %s with %d ids and %d rows", name, len(itemIds), len(features))
	}
	m := &Modality{
		Name:     name,
		itemIds:  itemIds,
		index:    make(map[string]int, len(itemIds)),
		features: features,
	}
	for i, itemId := range itemIds {
		if len(features[i]) != len(features[0]) {
			return nil, errors.NotValidf("modality %s row %d of dimension %d", name, i, len(features[i]))
		}
		m.index[itemId] = i
	}
	return m, nil
}

func (m *Modality) Len() int {
	return len(m.itemIds)
}

// Dim returns the feature dimension, zero for an empty modality.
func (m *Modality) Dim() int {
	if len(m.features) == 0 {
		return 0
	}
	return len(m.features[0])
}

func (m *Modality) ItemIds() []string {
	return m.itemIds
}

// Get returns the feature row of an item.
func (m *Modality) Get(itemId string) ([]float32, bool) {
	if i, ok := m.index[itemId]; ok {
		return m.features[i], true
	}
	return nil, false
}

// Normalize returns a copy with every row scaled to unit L2 norm. Zero rows are kept.
func (m *Modality) Normalize() *Modality {
	features := make([][]float32, len(m.features))
	for i, row := range m.features {
		features[i] = make([]float32, len(row))
		norm := floats.Norm(row)
		if norm == 0 || math32.IsNaN(norm) {
			continue
		}
		floats.MulConstTo(row, 1/norm, features[i])
	}
	return &Modality{
		Name:     m.Name,
		itemIds:  m.itemIds,
		index:    m.index,
		features: features,
	}
}

// Modalities holds the optional feature attachments of one fit. It is passed by value so
// that attaching a modality for one trial never shows up in another.
type Modalities struct {
	Image   *Modality
	Feature *Modality
}

func (m Modalities) Empty() bool {
	return m.Image == nil && m.Feature == nil
}

// ModalityDict maps a variant name to its modality attachments.
type ModalityDict map[string]Modalities

// Get returns the attachments of a variant.
func (d ModalityDict) Get(variant string) (Modalities, error) {
	if d == nil {
		return Modalities{}, errors.NotFoundf("modality dictionary")
	}
	m, ok := d[variant]
	if !ok || m.Empty() {
		return Modalities{}, errors.NotFoundf("modality variant %q", variant)
	}
	return m, nil
}

// Variants returns the sorted variant names in the dictionary.
func (d ModalityDict) Variants() []string {
	variants := lo.Keys(d)
	slices.Sort(variants)
	return variants
}
