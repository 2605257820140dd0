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
	"maps"
	"math"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/popcorn-rec/popcorn/dataset"
	"github.com/samber/lo"
)

// Recall is the fraction of relevant items that have been recommended over the total
// amount of relevant items.
//
//	\frac{|relevant documents| \cap |retrieved documents|} {|{relevant documents}|}
func Recall(targetSet mapset.Set[string], rankList []string) float64 {
	if targetSet.Cardinality() == 0 {
		return 0
	}
	hit := 0
	for _, itemId := range rankList {
		if targetSet.Contains(itemId) {
			hit++
		}
	}
	return float64(hit) / float64(targetSet.Cardinality())
}

// NDCG means Normalized Discounted Cumulative Gain. The ideal ranking places
// min(|relevant|, n) relevant items at the top.
func NDCG(targetSet mapset.Set[string], rankList []string, n int) float64 {
	// IDCG = \sum^{|REL|}_{i=1} \frac {1} {\log_2(i+1)}
	idcg := 0.0
	for i := 0; i < targetSet.Cardinality() && i < n; i++ {
		idcg += 1.0 / math.Log2(float64(i)+2.0)
	}
	if idcg == 0 {
		return 0
	}
	// DCG = \sum^{N}_{i=1} \frac {2^{rel_i}-1} {\log_2(i+1)}
	dcg := 0.0
	for i, itemId := range rankList {
		if targetSet.Contains(itemId) {
			dcg += 1.0 / math.Log2(float64(i)+2.0)
		}
	}
	return dcg / idcg
}

// ColdRate is the fraction of recommended items that are cold in the training partition.
func ColdRate(coldItems mapset.Set[string], rankList []string) float64 {
	if len(rankList) == 0 {
		return 0
	}
	cold := 0
	for _, itemId := range rankList {
		if coldItems.Contains(itemId) {
			cold++
		}
	}
	return float64(cold) / float64(len(rankList))
}

// Coverage is the fraction of the catalog recommended to at least one user.
func Coverage(recommended mapset.Set[string], catalogSize int) float64 {
	if catalogSize == 0 {
		return 0
	}
	return float64(recommended.Cardinality()) / float64(catalogSize)
}

// PopularityBias is the mean popularity of recommended items relative to the most
// popular training item.
func PopularityBias(popularity *dataset.Popularity, rankList []string) float64 {
	if len(rankList) == 0 || popularity.Max() == 0 {
		return 0
	}
	sum := 0.0
	for _, itemId := range rankList {
		sum += float64(popularity.Get(itemId)) / float64(popularity.Max())
	}
	return sum / float64(len(rankList))
}

// Gini coefficient of non-negative values. Zero for an empty or all-zero input.
//
//	G = \frac{2 \sum_i (i+1) v_i}{n S} - \frac{n+1}{n}
func Gini(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	n := float64(len(sorted))
	var sum, cum float64
	for i, v := range sorted {
		sum += v
		cum += float64(i+1) * v
	}
	if sum == 0 {
		return 0
	}
	return 2*cum/(n*sum) - (n+1)/n
}

// Fairness is one minus the Gini coefficient of recommended item popularity.
func Fairness(popularity *dataset.Popularity, rankList []string) float64 {
	values := make([]float64, len(rankList))
	for i, itemId := range rankList {
		values[i] = float64(popularity.Get(itemId))
	}
	return 1 - Gini(values)
}

// Novelty is the mean self-information of recommended items. Popularity is floored at
// one so unseen items stay finite.
//
//	\frac{1}{|L|} \sum_{i \in L} -\log_2 \frac{pop(i)}{|U|}
func Novelty(popularity *dataset.Popularity, rankList []string) float64 {
	if len(rankList) == 0 || popularity.NumUsers() == 0 {
		return 0
	}
	sum := 0.0
	for _, itemId := range rankList {
		pop := max(popularity.Get(itemId), 1)
		sum += -math.Log2(float64(pop) / float64(popularity.NumUsers()))
	}
	return sum / float64(len(rankList))
}

// Diversity is the intra-list dissimilarity: the mean Jaccard distance between the
// label sets of every unordered pair of recommended items.
func Diversity(labels [][]string) float64 {
	if len(labels) <= 1 {
		return 0
	}
	sets := make([]mapset.Set[string], len(labels))
	for i := range labels {
		sets[i] = mapset.NewThreadUnsafeSet(labels[i]...)
	}
	var sum float64
	var count int
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			union := sets[i].Union(sets[j]).Cardinality()
			if union > 0 {
				sum += 1 - float64(sets[i].Intersect(sets[j]).Cardinality())/float64(union)
			}
			count++
		}
	}
	return sum / float64(count)
}

// CountLabels builds a label frequency distribution.
func CountLabels(labels ...[]string) map[string]int {
	dist := make(map[string]int)
	for _, group := range labels {
		for _, label := range group {
			dist[label]++
		}
	}
	return dist
}

// KLEpsilon replaces labels missing from one side of a divergence.
const KLEpsilon = 1e-8

// KLDivergence computes D(p || q) in nats between two label frequency distributions.
// Both are renormalized over the union of labels, with missing labels counted as
// KLEpsilon. The result is zero if both are empty or equal, and +Inf if exactly one is
// empty or the divergence is not finite.
func KLDivergence(p, q map[string]int) float64 {
	if len(p) == 0 && len(q) == 0 {
		return 0
	}
	if len(p) == 0 || len(q) == 0 {
		return math.Inf(1)
	}
	if maps.Equal(p, q) {
		return 0
	}
	keys := lo.Union(lo.Keys(p), lo.Keys(q))
	slices.Sort(keys)
	pVec := make([]float64, 0, len(keys))
	qVec := make([]float64, 0, len(keys))
	var pSum, qSum float64
	for _, k := range keys {
		pv, qv := lookup(p, k), lookup(q, k)
		pVec = append(pVec, pv)
		qVec = append(qVec, qv)
		pSum += pv
		qSum += qv
	}
	kl := 0.0
	for i := range pVec {
		pi, qi := pVec[i]/pSum, qVec[i]/qSum
		kl += pi * math.Log(pi/qi)
	}
	if math.IsNaN(kl) || math.IsInf(kl, 0) {
		return math.Inf(1)
	}
	return kl
}

func lookup(dist map[string]int, key string) float64 {
	if v, ok := dist[key]; ok {
		return float64(v)
	}
	return KLEpsilon
}
