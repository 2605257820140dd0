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

package model

import (
	"context"

	"github.com/juju/errors"
	"github.com/popcorn-rec/popcorn/base"
	"github.com/popcorn-rec/popcorn/dataset"
)

// Model is the capability shared by every scorable recommender. An instance is fitted
// once and never reused for another configuration.
type Model interface {
	// SetParams sets hyper-parameters.
	SetParams(params Params)
	// GetParams returns hyper-parameters.
	GetParams() Params
	// Fit trains the model on a training partition with optional modality attachments.
	Fit(ctx context.Context, trainSet *dataset.Dataset, modalities dataset.Modalities) error
	// Score returns one score per item of GetItemIndex.
	Score(userIndex int32) []float32
	// GetUserIndex returns the users seen during Fit.
	GetUserIndex() *dataset.FreqDict
	// GetItemIndex returns the items scored by Score.
	GetItemIndex() *dataset.FreqDict
}

// BaseModel must be included by every recommendation model. Hyper-parameters and the
// random generator are managed by the BaseModel.
type BaseModel struct {
	Params    Params               // Hyper-parameters
	rng       base.RandomGenerator // Random generator
	randState int64                // Random seed
}

// SetParams sets hyper-parameters for the BaseModel model.
func (model *BaseModel) SetParams(params Params) {
	model.Params = params
	model.randState = model.Params.GetInt64(RandomState, 0)
	model.rng = base.NewRandomGenerator(model.randState)
}

// GetParams returns all hyper-parameters.
func (model *BaseModel) GetParams() Params {
	return model.Params
}

func (model *BaseModel) GetRandomGenerator() base.RandomGenerator {
	return model.rng
}

// Creator builds an unfitted model from hyper-parameters.
type Creator func(params Params) Model

// GridFunc returns the default grid of a model given the epoch budget.
type GridFunc func(nEpochs int, fastPrototype bool) ParamsGrid

// Entry describes a registered model.
type Entry struct {
	Tag    string
	Create Creator
	// Modal models need an image or feature modality to fit.
	Modal bool
	// Grid is nil for models without hyper-parameters.
	Grid GridFunc
}

// Registry maps model tags to constructors. Tags keep registration order.
type Registry struct {
	entries map[string]Entry
	tags    []string
}

func NewRegistry(entries ...Entry) *Registry {
	r := &Registry{entries: make(map[string]Entry)}
	for _, e := range entries {
		r.Register(e)
	}
	return r
}

// Register adds or replaces a model.
func (r *Registry) Register(e Entry) {
	if _, exist := r.entries[e.Tag]; !exist {
		r.tags = append(r.tags, e.Tag)
	}
	r.entries[e.Tag] = e
}

func (r *Registry) Get(tag string) (Entry, error) {
	e, ok := r.entries[tag]
	if !ok {
		return Entry{}, errors.NotFoundf("model %q", tag)
	}
	return e, nil
}

// Tags returns registered tags in registration order.
func (r *Registry) Tags() []string {
	return append([]string(nil), r.tags...)
}
