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
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/c-bata/goptuna"
	"github.com/c-bata/goptuna/tpe"
	"github.com/juju/errors"
	"github.com/popcorn-rec/popcorn/common/log"
	"github.com/popcorn-rec/popcorn/common/parallel"
	"github.com/popcorn-rec/popcorn/common/progress"
	"github.com/popcorn-rec/popcorn/dataset"
	"github.com/popcorn-rec/popcorn/evaluator"
	"github.com/popcorn-rec/popcorn/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Trial is one evaluated configuration of a grid.
type Trial struct {
	// Index is the position of the configuration in the grid.
	Index    int
	Params   model.Params
	Score    float64
	Duration time.Duration
	Model    model.Model
}

// TrialError is the failure of a trial. It aborts the branch of the trial.
type TrialError struct {
	Group  evaluator.Group
	Index  int
	Params model.Params
	Err    error
}

func (e *TrialError) Error() string {
	return fmt.Sprintf("trial %d of %s (%v): %v", e.Index, e.Group, e.Params, e.Err)
}

func (e *TrialError) Unwrap() error {
	return e.Err
}

// Branch is the search context of one (model, variant) pair.
type Branch struct {
	Group      evaluator.Group
	Entry      model.Entry
	Modalities dataset.Modalities
	// Configs is the ordered grid. Order breaks score ties.
	Configs []model.Params
}

// OnTrial is called after every successful trial. It may be called concurrently.
type OnTrial func(group evaluator.Group, trial Trial)

type trialRunner struct {
	data    *Data
	seed    int64
	tracer  trace.Tracer
	onTrial OnTrial
}

// run fits a fresh model on the fit partition and scores it on the validation partition.
// A panicking model is reported as a failure of the trial.
func (r *trialRunner) run(ctx context.Context, branch *Branch, index int) (trial Trial, err error) {
	params := branch.Configs[index].Overwrite(model.Params{model.RandomState: r.seed})
	ctx, span := r.tracer.Start(ctx, "trial", trace.WithAttributes(
		attribute.String("model", branch.Group.Model),
		attribute.String("variant", branch.Group.Variant),
		attribute.Int("index", index)))
	defer span.End()
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("panic: %v", p)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			TrialFailures.WithLabelValues(branch.Group.Model, branch.Group.Variant).Inc()
			trial = Trial{}
			err = &TrialError{Group: branch.Group, Index: index, Params: params, Err: err}
		}
	}()
	start := time.Now()
	m := branch.Entry.Create(params)
	if err = m.Fit(ctx, r.data.FitSet, branch.Modalities); err != nil {
		return Trial{}, errors.Trace(err)
	}
	trial = Trial{
		Index:    index,
		Params:   params,
		Score:    ValidationScore(m, r.data),
		Duration: time.Since(start),
		Model:    m,
	}
	span.SetAttributes(attribute.Float64("score", trial.Score))
	TrialsTotal.WithLabelValues(branch.Group.Model, branch.Group.Variant).Inc()
	TrialSeconds.WithLabelValues(branch.Group.Model, branch.Group.Variant).Observe(trial.Duration.Seconds())
	log.BranchLogger(branch.Group.Model, branch.Group.Variant).Debug("complete trial",
		zap.Int("index", index),
		zap.Any("params", params),
		zap.Float64("score", trial.Score),
		zap.Duration("duration", trial.Duration))
	if r.onTrial != nil {
		r.onTrial(branch.Group, trial)
	}
	return trial, nil
}

// GridSearch evaluates every configuration of a branch on at most nWorkers workers.
// Trials are returned in grid order, so the result does not depend on nWorkers.
func (r *trialRunner) GridSearch(ctx context.Context, branch *Branch, nWorkers int) ([]Trial, error) {
	trials := make([]Trial, len(branch.Configs))
	newCtx, span := progress.Start(ctx, "GridSearch "+branch.Group.String(), len(branch.Configs))
	defer span.End()
	err := parallel.Parallel(newCtx, len(branch.Configs), nWorkers, func(_, jobId int) error {
		trial, err := r.run(newCtx, branch, jobId)
		if err != nil {
			return err
		}
		trials[jobId] = trial
		span.Add(1)
		return nil
	})
	if err != nil {
		span.Fail(err)
		return nil, asTrialError(branch.Group, err)
	}
	return trials, nil
}

// TPESearch samples configuration indices with a tree-structured Parzen estimator.
// Trials run sequentially and are returned in grid order. Each index is evaluated at
// most once.
func (r *trialRunner) TPESearch(ctx context.Context, branch *Branch, nTrials int) ([]Trial, error) {
	choices := make([]string, len(branch.Configs))
	for i := range choices {
		choices[i] = strconv.Itoa(i)
	}
	study, err := goptuna.CreateStudy("popcorn-"+branch.Group.String(),
		goptuna.StudyOptionDirection(goptuna.StudyDirectionMaximize),
		goptuna.StudyOptionSampler(tpe.NewSampler(tpe.SamplerOptionSeed(r.seed))),
		goptuna.StudyOptionLogger(&studyLogger{logger: log.BranchLogger(branch.Group.Model, branch.Group.Variant).Sugar()}))
	if err != nil {
		return nil, errors.Trace(err)
	}
	newCtx, span := progress.Start(ctx, "TPESearch "+branch.Group.String(), nTrials)
	defer span.End()
	evaluated := make(map[int]Trial)
	var trialErr error
	err = study.Optimize(func(t goptuna.Trial) (float64, error) {
		if trialErr != nil {
			return 0, trialErr
		}
		if err := newCtx.Err(); err != nil {
			trialErr = errors.Trace(err)
			return 0, trialErr
		}
		choice, err := t.SuggestCategorical("config", choices)
		if err != nil {
			return 0, errors.Trace(err)
		}
		index, err := strconv.Atoi(choice)
		if err != nil {
			return 0, errors.Trace(err)
		}
		span.Add(1)
		if trial, ok := evaluated[index]; ok {
			return trial.Score, nil
		}
		trial, err := r.run(newCtx, branch, index)
		if err != nil {
			trialErr = err
			return 0, err
		}
		evaluated[index] = trial
		return trial.Score, nil
	}, nTrials)
	if trialErr != nil {
		span.Fail(trialErr)
		return nil, asTrialError(branch.Group, trialErr)
	}
	if err != nil {
		span.Fail(err)
		return nil, errors.Trace(err)
	}
	trials := make([]Trial, 0, len(evaluated))
	for _, trial := range evaluated {
		trials = append(trials, trial)
	}
	slices.SortFunc(trials, func(a, b Trial) int { return a.Index - b.Index })
	return trials, nil
}

func asTrialError(group evaluator.Group, err error) error {
	var trialErr *TrialError
	if errors.As(err, &trialErr) {
		return trialErr
	}
	// a cancelled search
	return &TrialError{Group: group, Index: -1, Err: err}
}

// Select returns the position of the trial with the largest score. Ties go to the
// trial with the lowest grid index. It returns -1 for no trials.
func Select(trials []Trial) int {
	best := -1
	for i, trial := range trials {
		if best < 0 || trial.Score > trials[best].Score ||
			(trial.Score == trials[best].Score && trial.Index < trials[best].Index) {
			best = i
		}
	}
	return best
}

// Refit fits a fresh model with the selected parameters on the full training partition.
func Refit(ctx context.Context, entry model.Entry, params model.Params, trainSet *dataset.Dataset, modalities dataset.Modalities) (model.Model, error) {
	m := entry.Create(params.Copy())
	if err := m.Fit(ctx, trainSet, modalities); err != nil {
		return nil, errors.Annotatef(err, "refit %s", entry.Tag)
	}
	return m, nil
}

// studyLogger forwards study logs to zap.
type studyLogger struct {
	logger *zap.SugaredLogger
}

func (l *studyLogger) Debug(msg string, fields ...interface{}) {
	l.logger.Debugw(msg, fields...)
}

func (l *studyLogger) Info(msg string, fields ...interface{}) {
	// one line per study trial
	l.logger.Debugw(msg, fields...)
}

func (l *studyLogger) Warn(msg string, fields ...interface{}) {
	l.logger.Warnw(msg, fields...)
}

func (l *studyLogger) Error(msg string, fields ...interface{}) {
	// trial failures are reported by the searcher
	l.logger.Debugw(msg, fields...)
}
