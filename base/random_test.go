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

package base

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
)

const randomEpsilon = 0.1

func TestRandomGenerator_NormalMatrix(t *testing.T) {
	rng := NewRandomGenerator(0)
	vec := rng.NormalMatrix(1, 1000, 1, 2)[0]
	mean := lo.Sum(vec) / float32(len(vec))
	var variance float32
	for _, v := range vec {
		variance += (v - mean) * (v - mean)
	}
	stdDev := math32.Sqrt(variance / float32(len(vec)))
	assert.False(t, math32.Abs(mean-1) > randomEpsilon)
	assert.False(t, math32.Abs(stdDev-2) > randomEpsilon)
}

func TestRandomGenerator_Deterministic(t *testing.T) {
	a := NewRandomGenerator(42).NormalVector(10, 0, 1)
	b := NewRandomGenerator(42).NormalVector(10, 0, 1)
	assert.Equal(t, a, b)
}
