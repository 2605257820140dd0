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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelModel   = "model"
	LabelVariant = "variant"
	LabelState   = "state"
)

var (
	TrialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "popcorn",
		Subsystem: "search",
		Name:      "trials_total",
	}, []string{LabelModel, LabelVariant})
	TrialFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "popcorn",
		Subsystem: "search",
		Name:      "trial_failures_total",
	}, []string{LabelModel, LabelVariant})
	TrialSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "popcorn",
		Subsystem: "search",
		Name:      "trial_seconds",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{LabelModel, LabelVariant})
	BestScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "popcorn",
		Subsystem: "search",
		Name:      "best_score",
	}, []string{LabelModel, LabelVariant})
	BranchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "popcorn",
		Subsystem: "search",
		Name:      "branches_total",
	}, []string{LabelState})
)
