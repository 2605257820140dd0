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
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/popcorn-rec/popcorn/common/log"
	"github.com/popcorn-rec/popcorn/common/parallel"
	"github.com/popcorn-rec/popcorn/common/progress"
	"github.com/popcorn-rec/popcorn/dataset"
	"github.com/popcorn-rec/popcorn/evaluator"
	"github.com/popcorn-rec/popcorn/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// DefaultValidationRatio is used when Config.ValidationRatio is unset.
const DefaultValidationRatio = 0.1

// State of a branch.
type State int

const (
	Configured State = iota
	Evaluating
	Selected
	Refitting
	Done
	// Failed branches were aborted by an error.
	Failed
	// Empty branches had no configuration to evaluate.
	Empty
)

func (s State) String() string {
	switch s {
	case Configured:
		return "CONFIGURED"
	case Evaluating:
		return "EVALUATING"
	case Selected:
		return "SELECTED"
	case Refitting:
		return "REFIT"
	case Done:
		return "DONE"
	case Failed:
		return "FAILED"
	case Empty:
		return "EMPTY"
	}
	return "UNKNOWN"
}

// Result of a branch.
type Result struct {
	Group  evaluator.Group
	State  State
	Err    error
	Trials []Trial
	// BestIndex is the grid index of the selected configuration, -1 if none.
	BestIndex  int
	BestScore  float64
	BestParams model.Params
	// Model is refitted on the full training partition.
	Model model.Model
}

// Report of a search run.
type Report struct {
	// TrainSet is the indexed training partition final models are fitted on.
	TrainSet *dataset.Dataset
	Results  []*Result
}

// Models returns the final models of completed branches.
func (r *Report) Models() []evaluator.NamedModel {
	var models []evaluator.NamedModel
	for _, result := range r.Results {
		if result.State == Done {
			models = append(models, evaluator.NamedModel{Group: result.Group, Model: result.Model})
		}
	}
	return models
}

// Failed returns branches aborted by an error.
func (r *Report) Failed() []*Result {
	var failed []*Result
	for _, result := range r.Results {
		if result.State == Failed {
			failed = append(failed, result)
		}
	}
	return failed
}

// Searcher searches hyper-parameters of every selected (model, variant) branch and
// refits the best configuration of each.
type Searcher struct {
	registry  *model.Registry
	config    Config
	filter    *ModelFilter
	tracer    trace.Tracer
	progress  *progress.Tracer
	completed atomic.Int64
	onTrial   OnTrial
}

// NewSearcher creates a searcher. Out-of-range settings are replaced by defaults.
func NewSearcher(registry *model.Registry, cfg Config) (*Searcher, error) {
	if cfg.ModelChoice == "" {
		cfg.ModelChoice = ChoiceCF
	}
	if _, err := selectedTags(registry, cfg.ModelChoice); err != nil {
		return nil, errors.Trace(err)
	}
	switch cfg.Strategy {
	case "":
		cfg.Strategy = StrategyGrid
	case StrategyGrid, StrategyTPE:
	default:
		return nil, errors.NotSupportedf("search strategy %q", cfg.Strategy)
	}
	cfg.NumEpochs = clampEpochs(cfg.NumEpochs)
	if cfg.MaxConfigs <= 0 {
		cfg.MaxConfigs = DefaultMaxConfigs
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.NumTrials <= 0 {
		cfg.NumTrials = DefaultTrials
	}
	if cfg.ValidationRatio == 0 {
		cfg.ValidationRatio = DefaultValidationRatio
	}
	filter, err := NewModelFilter(cfg.ModelFilter)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Searcher{
		registry: registry,
		config:   cfg,
		filter:   filter,
		tracer:   otel.Tracer("github.com/popcorn-rec/popcorn/search"),
		progress: progress.NewTracer("search"),
	}, nil
}

// Config returns the effective configuration.
func (s *Searcher) Config() Config {
	return s.config
}

// SetOnTrial registers a callback invoked after every successful trial.
func (s *Searcher) SetOnTrial(onTrial OnTrial) {
	s.onTrial = onTrial
}

// Progress lists the progress of the current and past runs. The progress of a run
// counts finished branches, subdivided by the trials and epochs of the running branch.
func (s *Searcher) Progress() []progress.Progress {
	return s.progress.List()
}

// Completed returns the number of successful trials so far.
func (s *Searcher) Completed() int64 {
	return s.completed.Load()
}

// Plan lists the branches selected by the model choice and the model filter. Modality
// models get one branch per variant. Modalities are attached when a branch runs.
func (s *Searcher) Plan(dict dataset.ModalityDict) ([]Branch, error) {
	tags, err := selectedTags(s.registry, s.config.ModelChoice)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var branches []Branch
	for _, tag := range tags {
		entry, err := s.registry.Get(tag)
		if err != nil {
			return nil, errors.Trace(err)
		}
		variants := []string{NoVariant}
		if entry.Modal {
			variants = s.config.Variants
			if len(variants) == 0 {
				variants = dict.Variants()
			}
			if len(variants) == 0 {
				// reported as a failed branch
				variants = []string{NoVariant}
			}
		}
		for _, variant := range variants {
			ok, err := s.filter.Match(tag, variant)
			if err != nil {
				return nil, errors.Annotatef(err, "filter %s_%s", tag, variant)
			}
			if !ok {
				log.Logger().Debug("skip branch", zap.String("model", tag), zap.String("variant", variant))
				continue
			}
			branch := Branch{Group: evaluator.Group{Model: tag, Variant: variant}, Entry: entry}
			if entry.Grid != nil {
				branch.Configs = entry.Grid(s.config.NumEpochs, s.config.FastPrototype).Expand(s.config.MaxConfigs)
			}
			branches = append(branches, branch)
		}
	}
	return branches, nil
}

// Run searches every planned branch. A failed branch is reported and the search goes on
// unless FailFast is set, in which case the partial report is returned with the error.
func (s *Searcher) Run(ctx context.Context, train dataset.InteractionSet, dict dataset.ModalityDict) (*Report, error) {
	data, err := PrepareData(train, s.config.ValidationRatio, s.config.Seed)
	if err != nil {
		return nil, errors.Trace(err)
	}
	branches, err := s.Plan(dict)
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("start model search",
		zap.String("model_choice", s.config.ModelChoice),
		zap.String("strategy", s.config.Strategy),
		zap.Int("n_branches", len(branches)),
		zap.Int("n_epochs", s.config.NumEpochs),
		zap.Bool("parallel", s.config.Parallel))
	startTime := time.Now()
	report := &Report{TrainSet: data.TrainSet}
	newCtx, span := s.progress.Start(ctx, "branches", len(branches))
	defer span.End()
	for i := range branches {
		result := s.runBranch(newCtx, data, &branches[i], dict)
		report.Results = append(report.Results, result)
		BranchesTotal.WithLabelValues(result.State.String()).Inc()
		span.Add(1)
		if result.State == Failed && s.config.FailFast {
			span.Fail(result.Err)
			return report, errors.Trace(result.Err)
		}
	}
	log.Logger().Info("complete model search",
		zap.Int("n_branches", len(report.Results)),
		zap.Int("n_failed", len(report.Failed())),
		zap.Int64("n_trials", s.Completed()),
		zap.String("search_time", time.Since(startTime).String()))
	return report, nil
}

func (s *Searcher) runBranch(ctx context.Context, data *Data, branch *Branch, dict dataset.ModalityDict) *Result {
	logger := log.BranchLogger(branch.Group.Model, branch.Group.Variant)
	result := &Result{Group: branch.Group, State: Configured, BestIndex: -1}
	ctx, span := s.tracer.Start(ctx, "branch", trace.WithAttributes(
		attribute.String("model", branch.Group.Model),
		attribute.String("variant", branch.Group.Variant)))
	defer span.End()
	fail := func(err error) *Result {
		result.State = Failed
		result.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("branch failed", zap.Error(err))
		return result
	}
	if branch.Entry.Modal {
		modalities, err := dict.Get(branch.Group.Variant)
		if err != nil {
			return fail(errors.Annotatef(err, "modalities of %s", branch.Group))
		}
		branch.Modalities = modalities
	}
	// models without hyper-parameters bypass the grid
	if branch.Entry.Grid == nil {
		m, err := Refit(ctx, branch.Entry, model.Params{model.RandomState: s.config.Seed}, data.TrainSet, branch.Modalities)
		if err != nil {
			return fail(err)
		}
		result.Model = m
		result.State = Done
		logger.Info("fit model without grid")
		return result
	}
	if len(branch.Configs) == 0 {
		result.State = Empty
		logger.Warn("no configuration to evaluate")
		return result
	}

	result.State = Evaluating
	runner := &trialRunner{
		data:   data,
		seed:   s.config.Seed,
		tracer: s.tracer,
		onTrial: func(group evaluator.Group, trial Trial) {
			s.completed.Inc()
			if s.onTrial != nil {
				s.onTrial(group, trial)
			}
		},
	}
	var trials []Trial
	var err error
	if s.config.Strategy == StrategyTPE {
		trials, err = runner.TPESearch(ctx, branch, s.config.NumTrials)
	} else {
		nWorkers := 1
		if s.config.Parallel {
			nWorkers = parallel.Workers(s.config.MaxWorkers, len(branch.Configs))
		}
		trials, err = runner.GridSearch(ctx, branch, nWorkers)
	}
	if err != nil {
		return fail(err)
	}
	// trial models are discarded once scored
	for i := range trials {
		trials[i].Model = nil
	}
	result.Trials = trials

	best := trials[Select(trials)]
	result.State = Selected
	result.BestIndex = best.Index
	result.BestScore = best.Score
	result.BestParams = best.Params
	BestScore.WithLabelValues(branch.Group.Model, branch.Group.Variant).Set(best.Score)
	logger.Info("select configuration",
		zap.Int("index", best.Index),
		zap.Float64("score", best.Score),
		zap.Any("params", best.Params),
		zap.Int("n_trials", len(trials)))

	result.State = Refitting
	m, err := Refit(ctx, branch.Entry, best.Params, data.TrainSet, branch.Modalities)
	if err != nil {
		return fail(err)
	}
	result.Model = m
	result.State = Done
	return result
}
