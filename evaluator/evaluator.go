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

package evaluator

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/popcorn-rec/popcorn/common/log"
	"github.com/popcorn-rec/popcorn/common/parallel"
	"github.com/popcorn-rec/popcorn/dataset"
	"github.com/popcorn-rec/popcorn/model"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	DefaultTopN          = 10
	DefaultColdThreshold = 5
)

// Code is the short prefix of a metric column.
type Code string

const (
	CodeRecall          Code = "RC"
	CodeNDCG            Code = "ND"
	CodeColdRate        Code = "CR"
	CodeCoverage        Code = "CV"
	CodePopularityBias  Code = "PB"
	CodeFairness        Code = "FA"
	CodeNovelty         Code = "NO"
	CodeDiversity       Code = "DI"
	CodeCalibrationBias Code = "CB"
)

// Codes lists metric codes in column order.
var Codes = []Code{
	CodeRecall, CodeNDCG, CodeColdRate, CodeCoverage, CodePopularityBias,
	CodeFairness, CodeNovelty, CodeDiversity, CodeCalibrationBias,
}

// Name returns the aggregate column name of a metric. Cutoff metrics carry @topN.
func (code Code) Name(topN int) string {
	switch code {
	case CodeRecall:
		return fmt.Sprintf("Recall@%d", topN)
	case CodeNDCG:
		return fmt.Sprintf("NDCG@%d", topN)
	case CodeColdRate:
		return fmt.Sprintf("ColdRate@%d", topN)
	case CodeCoverage:
		return fmt.Sprintf("Coverage@%d", topN)
	case CodePopularityBias:
		return "PopularityBias"
	case CodeFairness:
		return "Fairness"
	case CodeNovelty:
		return "Novelty"
	case CodeDiversity:
		return "Diversity"
	case CodeCalibrationBias:
		return "CalibrationBias"
	}
	return string(code)
}

// Values holds one value per metric.
type Values struct {
	Recall          float64
	NDCG            float64
	ColdRate        float64
	Coverage        float64
	PopularityBias  float64
	Fairness        float64
	Novelty         float64
	Diversity       float64
	CalibrationBias float64
}

func (v Values) Get(code Code) float64 {
	switch code {
	case CodeRecall:
		return v.Recall
	case CodeNDCG:
		return v.NDCG
	case CodeColdRate:
		return v.ColdRate
	case CodeCoverage:
		return v.Coverage
	case CodePopularityBias:
		return v.PopularityBias
	case CodeFairness:
		return v.Fairness
	case CodeNovelty:
		return v.Novelty
	case CodeDiversity:
		return v.Diversity
	case CodeCalibrationBias:
		return v.CalibrationBias
	}
	return 0
}

func (v *Values) add(other Values) {
	v.Recall += other.Recall
	v.NDCG += other.NDCG
	v.ColdRate += other.ColdRate
	v.Coverage += other.Coverage
	v.PopularityBias += other.PopularityBias
	v.Fairness += other.Fairness
	v.Novelty += other.Novelty
	v.Diversity += other.Diversity
	v.CalibrationBias += other.CalibrationBias
}

func (v *Values) scale(c float64) {
	v.Recall *= c
	v.NDCG *= c
	v.ColdRate *= c
	v.Coverage *= c
	v.PopularityBias *= c
	v.Fairness *= c
	v.Novelty *= c
	v.Diversity *= c
	v.CalibrationBias *= c
}

// Group identifies a (model, variant) pair.
type Group struct {
	Model   string
	Variant string
}

func (g Group) String() string {
	return g.Model + "_" + g.Variant
}

// NamedModel is a fitted model with the group it is reported under.
type NamedModel struct {
	Group Group
	Model model.Model
}

// Result is the ranked list of one group for one user.
type Result struct {
	List   []string
	Values Values
}

// Row is the evaluation of one test user.
type Row struct {
	UserId      string
	Train       []string
	GroundTruth []string
	// Results are aligned with Report.Groups.
	Results []Result
}

// Report holds the per-user evaluation of every group.
type Report struct {
	TopN   int
	Groups []Group
	Rows   []Row
}

// Summary is the mean of every metric across the users of one group.
type Summary struct {
	Group
	Values
}

// Config of an Evaluator. Out-of-range values are replaced by defaults.
type Config struct {
	TopN          int
	ColdThreshold int
	NumJobs       int
}

// Evaluator ranks and measures held-out users against one training partition.
type Evaluator struct {
	Config
	candidates Candidates
	popularity *dataset.Popularity
	coldItems  mapset.Set[string]
	genres     dataset.GenreCatalog
}

// NewEvaluator creates an evaluator. The catalog is the item index of trainSet, which
// must be built from train.
func NewEvaluator(cfg Config, train dataset.InteractionSet, trainSet *dataset.Dataset, genres dataset.GenreCatalog) *Evaluator {
	if cfg.TopN <= 0 {
		log.Logger().Warn("invalid top-n, use default",
			zap.Int("top_n", cfg.TopN), zap.Int("default", DefaultTopN))
		cfg.TopN = DefaultTopN
	}
	if cfg.ColdThreshold < 0 {
		log.Logger().Warn("invalid cold-start threshold, use default",
			zap.Int("cold_threshold", cfg.ColdThreshold), zap.Int("default", DefaultColdThreshold))
		cfg.ColdThreshold = DefaultColdThreshold
	}
	cfg.NumJobs = max(cfg.NumJobs, 1)
	popularity := dataset.NewPopularity(train)
	return &Evaluator{
		Config:     cfg,
		candidates: NewCandidates(trainSet, train),
		popularity: popularity,
		coldItems:  popularity.ColdItems(cfg.ColdThreshold),
		genres:     genres,
	}
}

// Candidates returns the catalog and seen items used for ranking.
func (e *Evaluator) Candidates() Candidates {
	return e.candidates
}

// Evaluate ranks items for every user of the test partition with every model.
func (e *Evaluator) Evaluate(ctx context.Context, test dataset.InteractionSet, models []NamedModel) (*Report, error) {
	groundTruth := test.GroupByUser()
	userIds := lo.Keys(groundTruth)
	slices.Sort(userIds)
	report := &Report{
		TopN:   e.TopN,
		Groups: lo.Map(models, func(m NamedModel, _ int) Group { return m.Group }),
	}
	// one shard of sorted users per job keeps rows in user order
	shards, err := parallel.Map(ctx, parallel.Split(userIds, e.NumJobs), e.NumJobs, func(_ int, shard []string) ([]Row, error) {
		rows := make([]Row, len(shard))
		for i, userId := range shard {
			if err := ctx.Err(); err != nil {
				return nil, errors.Trace(err)
			}
			rows[i] = e.evaluateUser(userId, groundTruth[userId], models)
		}
		return rows, nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	rows := lo.Flatten(shards)
	report.Rows = rows
	// coverage is a group level metric broadcast to every row
	for g, group := range report.Groups {
		recommended := mapset.NewThreadUnsafeSet[string]()
		for _, row := range rows {
			recommended.Append(row.Results[g].List...)
		}
		coverage := Coverage(recommended, len(e.candidates.Catalog))
		for i := range rows {
			rows[i].Results[g].Values.Coverage = coverage
		}
		log.Logger().Debug("coverage", zap.Stringer("group", group), zap.Float64("coverage", coverage))
	}
	log.Logger().Info("evaluate test users",
		zap.Int("n_users", len(rows)),
		zap.Int("n_groups", len(models)),
		zap.Int("top_n", e.TopN))
	return report, nil
}

func (e *Evaluator) evaluateUser(userId string, groundTruth mapset.Set[string], models []NamedModel) Row {
	trainItems := e.candidates.Seen.Get(userId).ToSlice()
	slices.Sort(trainItems)
	gtItems := groundTruth.ToSlice()
	slices.Sort(gtItems)
	userLabels := CountLabels(lo.Map(trainItems, func(itemId string, _ int) []string {
		return e.genres.Labels(itemId)
	})...)
	row := Row{
		UserId:      userId,
		Train:       trainItems,
		GroundTruth: gtItems,
		Results:     make([]Result, len(models)),
	}
	for i, m := range models {
		list := TopN(m.Model, userId, e.TopN, e.candidates)
		listLabels := lo.Map(list, func(itemId string, _ int) []string {
			return e.genres.LabelsOrNone(itemId)
		})
		row.Results[i] = Result{
			List: list,
			Values: Values{
				Recall:          Recall(groundTruth, list),
				NDCG:            NDCG(groundTruth, list, e.TopN),
				ColdRate:        ColdRate(e.coldItems, list),
				PopularityBias:  PopularityBias(e.popularity, list),
				Fairness:        Fairness(e.popularity, list),
				Novelty:         Novelty(e.popularity, list),
				Diversity:       Diversity(listLabels),
				CalibrationBias: KLDivergence(userLabels, CountLabels(listLabels...)),
			},
		}
	}
	return row
}

// Aggregate averages metrics per group. Summaries are sorted by model and variant.
func Aggregate(report *Report) []Summary {
	if len(report.Rows) == 0 {
		log.Logger().Warn("no test users to aggregate")
		return nil
	}
	summaries := make([]Summary, len(report.Groups))
	for g, group := range report.Groups {
		summaries[g].Group = group
		for _, row := range report.Rows {
			summaries[g].Values.add(row.Results[g].Values)
		}
		summaries[g].Values.scale(1 / float64(len(report.Rows)))
	}
	slices.SortStableFunc(summaries, func(a, b Summary) int {
		return cmp.Or(strings.Compare(a.Model, b.Model), strings.Compare(a.Variant, b.Variant))
	})
	return summaries
}
