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
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/juju/errors"
	"github.com/popcorn-rec/popcorn/common/progress"
	"github.com/popcorn-rec/popcorn/dataset"
	"github.com/popcorn-rec/popcorn/evaluator"
	"github.com/popcorn-rec/popcorn/model"
	"github.com/popcorn-rec/popcorn/model/cf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

const weight model.ParamName = "weight"

// mockModel scores items by weight times popularity in the fit partition.
type mockModel struct {
	model.BaseModel
	userIndex *dataset.FreqDict
	itemIndex *dataset.FreqDict
	scores    []float32
	fit       func(params model.Params, modalities dataset.Modalities) error
}

func (m *mockModel) Fit(_ context.Context, trainSet *dataset.Dataset, modalities dataset.Modalities) error {
	if m.fit != nil {
		if err := m.fit(m.GetParams(), modalities); err != nil {
			return err
		}
	}
	m.userIndex = trainSet.GetUserDict()
	m.itemIndex = trainSet.GetItemDict()
	w := m.GetParams().GetFloat32(weight, 1)
	m.scores = make([]float32, trainSet.CountItems())
	for i := range m.scores {
		m.scores[i] = w * float32(trainSet.GetItemDict().Freq(int32(i)))
	}
	return nil
}

func (m *mockModel) Score(int32) []float32 {
	return m.scores
}

func (m *mockModel) GetUserIndex() *dataset.FreqDict {
	return m.userIndex
}

func (m *mockModel) GetItemIndex() *dataset.FreqDict {
	return m.itemIndex
}

func mockEntry(tag string, grid model.ParamsGrid, fit func(model.Params, dataset.Modalities) error) model.Entry {
	entry := model.Entry{
		Tag: tag,
		Create: func(params model.Params) model.Model {
			m := &mockModel{fit: fit}
			m.SetParams(params)
			return m
		},
	}
	if grid != nil {
		entry.Grid = func(int, bool) model.ParamsGrid { return grid }
	}
	return entry
}

func weights(values ...any) model.ParamsGrid {
	return model.ParamsGrid{{Name: weight, Values: values}}
}

func mockRegistry() *model.Registry {
	return model.NewRegistry(
		mockEntry("Pop", weights(-1, 1, 1), nil),
		mockEntry("Broken", weights(1, 2), func(params model.Params, _ dataset.Modalities) error {
			if params.GetInt(weight, 0) == 2 {
				return errors.New("broken")
			}
			return nil
		}),
		mockEntry("Fixed", nil, nil),
		mockEntry("Empty", weights(), nil),
	)
}

func modalEntry() model.Entry {
	entry := mockEntry("Modal", weights(1), func(_ model.Params, modalities dataset.Modalities) error {
		if modalities.Empty() {
			return errors.NotValidf("no modality")
		}
		return nil
	})
	entry.Modal = true
	return entry
}

// interactions of 30 users on three popular items and one niche item each.
func interactions() dataset.InteractionSet {
	var set dataset.InteractionSet
	for u := 0; u < 30; u++ {
		userId := fmt.Sprintf("u%02d", u)
		set = append(set, dataset.Interaction{UserId: userId, ItemId: fmt.Sprintf("n%02d", u), Rating: 1})
		for i := 0; i < 3; i++ {
			set = append(set, dataset.Interaction{UserId: userId, ItemId: fmt.Sprintf("p%d", i), Rating: 1})
		}
	}
	return set
}

func visualDict(t *testing.T) dataset.ModalityDict {
	modality, err := dataset.NewModality("visual", []string{"p0"}, [][]float32{{1}})
	require.NoError(t, err)
	return dataset.ModalityDict{"visual": {Image: modality}}
}

func TestState(t *testing.T) {
	assert.Equal(t, "CONFIGURED", Configured.String())
	assert.Equal(t, "REFIT", Refitting.String())
	assert.Equal(t, "FAILED", Failed.String())
	assert.Equal(t, "EMPTY", Empty.String())
	assert.Equal(t, "UNKNOWN", State(100).String())
}

func TestSelect(t *testing.T) {
	assert.Equal(t, -1, Select(nil))
	trials := []Trial{{Index: 0, Score: 0.5}, {Index: 1, Score: 0.7}, {Index: 2, Score: 0.7}}
	assert.Equal(t, 1, Select(trials))
	// completion order does not matter
	shuffled := []Trial{trials[2], trials[0], trials[1]}
	assert.Equal(t, 1, shuffled[Select(shuffled)].Index)
}

func TestPrepareData(t *testing.T) {
	_, err := PrepareData(nil, 0.1, 0)
	assert.True(t, errors.Is(err, errors.NotFound))

	data, err := PrepareData(interactions(), 0.1, 42)
	require.NoError(t, err)
	assert.Len(t, data.Fit, 108)
	assert.Equal(t, 120, data.TrainSet.CountFeedback())
	assert.Equal(t, 108, data.FitSet.CountFeedback())
	assert.IsIncreasing(t, data.ValidationUsers)
	var n int
	for _, items := range data.Validation {
		n += items.Cardinality()
	}
	assert.Equal(t, 12, n)
}

func TestValidationScore(t *testing.T) {
	data, err := PrepareData(interactions(), 0.1, 42)
	require.NoError(t, err)
	good := mockEntry("Pop", nil, nil).Create(model.Params{weight: 1})
	require.NoError(t, good.Fit(context.Background(), data.FitSet, dataset.Modalities{}))
	bad := mockEntry("Pop", nil, nil).Create(model.Params{weight: -1})
	require.NoError(t, bad.Fit(context.Background(), data.FitSet, dataset.Modalities{}))
	assert.Greater(t, ValidationScore(good, data), 0.0)
	assert.Zero(t, ValidationScore(bad, data))
	// no validation user is known
	cold := mockEntry("Pop", nil, nil).Create(nil)
	require.NoError(t, cold.Fit(context.Background(), dataset.NewDataset(dataset.InteractionSet{{UserId: "x", ItemId: "p0"}}), dataset.Modalities{}))
	assert.Zero(t, ValidationScore(cold, data))
}

func TestGridSearchDeterminism(t *testing.T) {
	data, err := PrepareData(interactions(), 0.1, 42)
	require.NoError(t, err)
	branch := &Branch{
		Group:   evaluator.Group{Model: "Pop", Variant: NoVariant},
		Entry:   mockEntry("Pop", nil, nil),
		Configs: weights(-1, 1, 0.5, 1, -2, 2).Expand(10),
	}
	runner := &trialRunner{data: data, seed: 42, tracer: otel.Tracer("test")}
	sequential, err := runner.GridSearch(context.Background(), branch, 1)
	require.NoError(t, err)
	for _, nWorkers := range []int{2, 4, 6} {
		concurrent, err := runner.GridSearch(context.Background(), branch, nWorkers)
		require.NoError(t, err)
		require.Len(t, concurrent, len(sequential))
		for i := range sequential {
			assert.Equal(t, sequential[i].Index, concurrent[i].Index)
			assert.Equal(t, sequential[i].Score, concurrent[i].Score)
			assert.Equal(t, sequential[i].Params, concurrent[i].Params)
		}
		assert.Equal(t, Select(sequential), Select(concurrent))
	}
	// positive weights rank identically, the first one wins
	assert.Equal(t, 1, Select(sequential))
	assert.Equal(t, int64(42), sequential[0].Params.GetInt64(model.RandomState, 0))
}

func TestSearcher(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			registry := mockRegistry()
			registry.Register(modalEntry())
			searcher, err := NewSearcher(registry, Config{
				ModelChoice: ChoiceAll,
				Parallel:    parallel,
				MaxWorkers:  4,
				Seed:        42,
			})
			require.NoError(t, err)
			var mu sync.Mutex
			var called int
			var running []progress.Progress
			searcher.SetOnTrial(func(evaluator.Group, Trial) {
				mu.Lock()
				defer mu.Unlock()
				called++
				running = append(running, searcher.Progress()...)
			})
			report, err := searcher.Run(context.Background(), interactions(), visualDict(t))
			require.NoError(t, err)
			require.Len(t, report.Results, 5)

			pop := report.Results[0]
			assert.Equal(t, evaluator.Group{Model: "Pop", Variant: NoVariant}, pop.Group)
			assert.Equal(t, Done, pop.State)
			assert.Equal(t, 1, pop.BestIndex)
			assert.Len(t, pop.Trials, 3)
			assert.Nil(t, pop.Trials[0].Model)
			require.NotNil(t, pop.Model)
			// refitted on the full training partition
			assert.Equal(t, int32(33), pop.Model.GetItemIndex().Count())

			broken := report.Results[1]
			assert.Equal(t, Failed, broken.State)
			assert.Nil(t, broken.Model)
			var trialErr *TrialError
			require.True(t, errors.As(broken.Err, &trialErr))
			assert.Equal(t, 1, trialErr.Index)
			assert.Equal(t, "Broken", trialErr.Group.Model)
			assert.ErrorContains(t, broken.Err, "broken")

			fixed := report.Results[2]
			assert.Equal(t, Done, fixed.State)
			assert.Equal(t, -1, fixed.BestIndex)
			assert.NotNil(t, fixed.Model)

			assert.Equal(t, Empty, report.Results[3].State)
			assert.NoError(t, report.Results[3].Err)

			modal := report.Results[4]
			assert.Equal(t, evaluator.Group{Model: "Modal", Variant: "visual"}, modal.Group)
			assert.Equal(t, Done, modal.State)

			assert.Len(t, report.Models(), 3)
			assert.Len(t, report.Failed(), 1)
			assert.Equal(t, int64(called), searcher.Completed())
			assert.GreaterOrEqual(t, called, 4)
			for _, p := range running {
				assert.Equal(t, progress.StatusRunning, p.Status)
				assert.Less(t, p.Count, p.Total)
			}
			done := searcher.Progress()
			require.Len(t, done, 1)
			assert.Equal(t, progress.StatusComplete, done[0].Status)
			assert.Equal(t, 5, done[0].Total)
			assert.Equal(t, 5, done[0].Count)

			var buf bytes.Buffer
			require.NoError(t, report.Render(&buf, false))
			assert.Contains(t, buf.String(), "FAILED")
			buf.Reset()
			require.NoError(t, report.Render(&buf, true))
			assert.Contains(t, buf.String(), "*")
		})
	}
}

func TestSearcherFailFast(t *testing.T) {
	searcher, err := NewSearcher(mockRegistry(), Config{ModelChoice: ChoiceAll, FailFast: true})
	require.NoError(t, err)
	report, err := searcher.Run(context.Background(), interactions(), nil)
	var trialErr *TrialError
	assert.True(t, errors.As(err, &trialErr))
	require.NotNil(t, report)
	assert.Len(t, report.Results, 2)
	list := searcher.Progress()
	require.Len(t, list, 1)
	assert.Equal(t, progress.StatusFailed, list[0].Status)
	assert.Equal(t, 2, list[0].Count)
	assert.ErrorContains(t, err, list[0].Error)
}

func TestSearcherPanic(t *testing.T) {
	registry := model.NewRegistry(mockEntry("Panic", weights(1, 3), func(params model.Params, _ dataset.Modalities) error {
		if params.GetInt(weight, 0) == 3 {
			panic("boom")
		}
		return nil
	}))
	for _, strategy := range []string{StrategyGrid, StrategyTPE} {
		t.Run(strategy, func(t *testing.T) {
			searcher, err := NewSearcher(registry, Config{ModelChoice: ChoiceAll, Strategy: strategy, Parallel: true, NumTrials: 20})
			require.NoError(t, err)
			report, err := searcher.Run(context.Background(), interactions(), nil)
			require.NoError(t, err)
			require.Len(t, report.Results, 1)
			assert.Equal(t, Failed, report.Results[0].State)
			var trialErr *TrialError
			require.True(t, errors.As(report.Results[0].Err, &trialErr))
			assert.Equal(t, 1, trialErr.Index)
			assert.Equal(t, 3, trialErr.Params.GetInt(weight, 0))
			assert.Equal(t, "Panic", trialErr.Group.Model)
			assert.ErrorContains(t, trialErr, "boom")
		})
	}
}

func TestSearcherMissingModalities(t *testing.T) {
	registry := model.NewRegistry(modalEntry())
	searcher, err := NewSearcher(registry, Config{ModelChoice: ChoiceAll})
	require.NoError(t, err)
	report, err := searcher.Run(context.Background(), interactions(), nil)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, evaluator.Group{Model: "Modal", Variant: NoVariant}, report.Results[0].Group)
	assert.Equal(t, Failed, report.Results[0].State)
	assert.True(t, errors.Is(report.Results[0].Err, errors.NotFound))

	// configured variant missing from the dictionary
	searcher, err = NewSearcher(registry, Config{ModelChoice: ChoiceAll, Variants: []string{"visual", "audio"}})
	require.NoError(t, err)
	report, err = searcher.Run(context.Background(), interactions(), visualDict(t))
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Equal(t, Done, report.Results[0].State)
	assert.Equal(t, Failed, report.Results[1].State)
}

func TestSearcherTPE(t *testing.T) {
	registry := model.NewRegistry(mockEntry("Pop", weights(-1, 1, 1), nil))
	searcher, err := NewSearcher(registry, Config{ModelChoice: ChoiceAll, Strategy: StrategyTPE, NumTrials: 20, Seed: 1})
	require.NoError(t, err)
	report, err := searcher.Run(context.Background(), interactions(), nil)
	require.NoError(t, err)
	result := report.Results[0]
	assert.Equal(t, Done, result.State)
	assert.Equal(t, 1, result.BestIndex)
	assert.LessOrEqual(t, len(result.Trials), 3)
	for i := 1; i < len(result.Trials); i++ {
		assert.Less(t, result.Trials[i-1].Index, result.Trials[i].Index)
	}
}

func TestNewSearcher(t *testing.T) {
	_, err := NewSearcher(cf.Builtin(), Config{ModelChoice: "amr"})
	assert.True(t, errors.Is(err, errors.NotSupported))
	_, err = NewSearcher(cf.Builtin(), Config{Strategy: "random"})
	assert.True(t, errors.Is(err, errors.NotSupported))
	_, err = NewSearcher(cf.Builtin(), Config{ModelFilter: "tag +"})
	assert.Error(t, err)

	searcher, err := NewSearcher(cf.Builtin(), Config{NumEpochs: 1000})
	require.NoError(t, err)
	cfg := searcher.Config()
	assert.Equal(t, ChoiceCF, cfg.ModelChoice)
	assert.Equal(t, StrategyGrid, cfg.Strategy)
	assert.Equal(t, DefaultEpochs, cfg.NumEpochs)
	assert.Equal(t, DefaultMaxConfigs, cfg.MaxConfigs)
	assert.Equal(t, DefaultMaxWorkers, cfg.MaxWorkers)
	assert.Equal(t, DefaultValidationRatio, cfg.ValidationRatio)
}

func TestPlan(t *testing.T) {
	dict := dataset.ModalityDict{"visual": {}, "audio": {}}
	searcher, err := NewSearcher(cf.Builtin(), Config{ModelChoice: ChoiceCF})
	require.NoError(t, err)
	branches, err := searcher.Plan(dict)
	require.NoError(t, err)
	var groups []string
	for _, branch := range branches {
		groups = append(groups, branch.Group.String())
	}
	assert.Equal(t, []string{"MF_(na)", "BPR_(na)", "TopPop_(na)"}, groups)
	assert.Len(t, branches[0].Configs, 5)
	assert.Empty(t, branches[2].Configs)

	searcher, err = NewSearcher(cf.Builtin(), Config{ModelChoice: ChoiceAll, FastPrototype: true})
	require.NoError(t, err)
	branches, err = searcher.Plan(dict)
	require.NoError(t, err)
	groups = groups[:0]
	for _, branch := range branches {
		groups = append(groups, branch.Group.String())
	}
	assert.Equal(t, []string{"MF_(na)", "BPR_(na)", "TopPop_(na)", "VBPR_audio", "VBPR_visual", "VMF_audio", "VMF_visual"}, groups)
	assert.Equal(t, 1, branches[3].Configs[0].GetInt(model.NEpochs, 0))

	searcher, err = NewSearcher(cf.Builtin(), Config{ModelChoice: ChoiceAll, ModelFilter: `tag == "VMF" && variant == "visual"`})
	require.NoError(t, err)
	branches, err = searcher.Plan(dict)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, "VMF_visual", branches[0].Group.String())

	searcher, err = NewSearcher(cf.Builtin(), Config{ModelChoice: ChoiceVBPR})
	require.NoError(t, err)
	branches, err = searcher.Plan(dict)
	require.NoError(t, err)
	assert.Len(t, branches, 2)
}

func TestModelFilter(t *testing.T) {
	filter, err := NewModelFilter("")
	require.NoError(t, err)
	ok, err := filter.Match("MF", NoVariant)
	assert.NoError(t, err)
	assert.True(t, ok)

	filter, err = NewModelFilter(`variant in ["visual", "text"]`)
	require.NoError(t, err)
	ok, _ = filter.Match("VBPR", "visual")
	assert.True(t, ok)
	ok, _ = filter.Match("VBPR", "audio")
	assert.False(t, ok)

	_, err = NewModelFilter(`tag`)
	assert.Error(t, err)
}
