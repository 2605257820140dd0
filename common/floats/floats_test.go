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

package floats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdd(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	b := []float32{5, 6, 7, 8}
	Add(a, b)
	assert.Equal(t, []float32{6, 8, 10, 12}, a)
	assert.Panics(t, func() { Add([]float32{1}, nil) })
}

func TestAddTo(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	b := []float32{5, 6, 7, 8}
	c := make([]float32, 4)
	AddTo(a, b, c)
	assert.Equal(t, []float32{6, 8, 10, 12}, c)
	assert.Panics(t, func() { AddTo([]float32{1}, nil, c) })
}

func TestSubTo(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	b := []float32{5, 6, 7, 8}
	c := make([]float32, 4)
	SubTo(a, b, c)
	assert.Equal(t, []float32{-4, -4, -4, -4}, c)
	assert.Panics(t, func() { SubTo([]float32{1}, nil, c) })
}

func TestMulConst(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	MulConst(a, 2)
	assert.Equal(t, []float32{2, 4, 6, 8}, a)
}

func TestMulConstTo(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	b := make([]float32, 4)
	MulConstTo(a, 2, b)
	assert.Equal(t, []float32{2, 4, 6, 8}, b)
	assert.Panics(t, func() { MulConstTo(a, 2, nil) })
}

func TestMulConstAdd(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	b := []float32{1, 1, 1, 1}
	MulConstAdd(a, 2, b)
	assert.Equal(t, []float32{3, 5, 7, 9}, b)
	assert.Panics(t, func() { MulConstAdd(a, 2, nil) })
}

func TestDot(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	b := []float32{5, 6, 7, 8}
	assert.Equal(t, float32(70), Dot(a, b))
	assert.Panics(t, func() { Dot([]float32{1}, nil) })
}

func TestNorm(t *testing.T) {
	assert.InDelta(t, 5, Norm([]float32{3, 4}), 1e-6)
	assert.Zero(t, Norm(nil))
}

func TestMatVecTo(t *testing.T) {
	m := [][]float32{{1, 2}, {3, 4}, {5, 6}}
	dst := make([]float32, 3)
	MatVecTo(m, []float32{1, 1}, dst)
	assert.Equal(t, []float32{3, 7, 11}, dst)
	assert.Panics(t, func() { MatVecTo(m, []float32{1, 1}, nil) })
}

func TestMulVecAddTo(t *testing.T) {
	m := [][]float32{{1, 1}, {1, 1}}
	MulVecAddTo([]float32{1, 2}, []float32{3, 4}, 0.5, m)
	assert.Equal(t, [][]float32{{2.5, 3}, {4, 5}}, m)
}
