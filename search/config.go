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

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/juju/errors"
	"github.com/popcorn-rec/popcorn/common/log"
	"github.com/popcorn-rec/popcorn/model"
	"github.com/popcorn-rec/popcorn/model/cf"
	"go.uber.org/zap"
)

// Model choices.
const (
	ChoiceCF   = "cf"
	ChoiceVBPR = "vbpr"
	ChoiceVMF  = "vmf"
	ChoiceAll  = "all"
)

// Strategies.
const (
	StrategyGrid = "grid"
	StrategyTPE  = "tpe"
)

// NoVariant is the variant of models that take no modality.
const NoVariant = "(na)"

const (
	DefaultEpochs     = 10
	MaxEpochs         = 100
	DefaultMaxConfigs = 5
	DefaultMaxWorkers = 8
	DefaultTrials     = 10
)

var choices = map[string][]string{
	ChoiceCF:   {cf.TagMF, cf.TagBPR, cf.TagTopPop},
	ChoiceVBPR: {cf.TagVBPR},
	ChoiceVMF:  {cf.TagVMF},
}

// Config of a Searcher.
type Config struct {
	ModelChoice   string
	ModelFilter   string
	Strategy      string
	NumTrials     int
	Parallel      bool
	MaxWorkers    int
	NumEpochs     int
	FastPrototype bool
	MaxConfigs    int
	FailFast      bool
	Seed          int64
	// ValidationRatio is the share of the training partition held out for validation.
	ValidationRatio float64
	// Variants searched by modality models. Empty means every variant of the dictionary.
	Variants []string
}

// selectedTags returns the registered tags picked by the model choice, in registration
// order.
func selectedTags(registry *model.Registry, choice string) ([]string, error) {
	if choice == ChoiceAll {
		return registry.Tags(), nil
	}
	picked, ok := choices[choice]
	if !ok {
		return nil, errors.NotSupportedf("model choice %q", choice)
	}
	var tags []string
	for _, tag := range registry.Tags() {
		if slices.Contains(picked, tag) {
			tags = append(tags, tag)
		}
	}
	return tags, nil
}

func clampEpochs(nEpochs int) int {
	if nEpochs <= 0 || nEpochs > MaxEpochs {
		log.Logger().Warn("invalid number of epochs, use default",
			zap.Int("n_epochs", nEpochs), zap.Int("default", DefaultEpochs))
		return DefaultEpochs
	}
	return nEpochs
}

// ModelFilter restricts (model, variant) branches by a boolean expression over the
// variables tag and variant, e.g. `tag != "VMF" || variant == "visual"`.
type ModelFilter struct {
	program *vm.Program
}

// NewModelFilter compiles a filter. An empty expression accepts every branch.
func NewModelFilter(code string) (*ModelFilter, error) {
	if code == "" {
		return &ModelFilter{}, nil
	}
	program, err := expr.Compile(code, expr.Env(filterEnv("", "")), expr.AsBool())
	if err != nil {
		return nil, errors.Annotatef(err, "compile model filter %q", code)
	}
	return &ModelFilter{program: program}, nil
}

// Match reports whether a branch passes the filter.
func (f *ModelFilter) Match(tag, variant string) (bool, error) {
	if f == nil || f.program == nil {
		return true, nil
	}
	out, err := expr.Run(f.program, filterEnv(tag, variant))
	if err != nil {
		return false, errors.Trace(err)
	}
	return out.(bool), nil
}

func filterEnv(tag, variant string) map[string]any {
	return map[string]any{"tag": tag, "variant": variant}
}
