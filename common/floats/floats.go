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
	"github.com/chewxy/math32"
)

func checkLen(a, b []float32) {
	if len(a) != len(b) {
		panic("floats: slice lengths do not match")
	}
}

// Add two vectors: dst = dst + s
func Add(dst, s []float32) {
	checkLen(dst, s)
	for i := range dst {
		dst[i] += s[i]
	}
}

// AddTo adds two vectors and saves the result in dst: dst = a + b
func AddTo(a, b, dst []float32) {
	checkLen(a, b)
	checkLen(a, dst)
	for i := range a {
		dst[i] = a[i] + b[i]
	}
}

// SubTo subtracts one vector by another and saves the result in dst: dst = a - b
func SubTo(a, b, dst []float32) {
	checkLen(a, b)
	checkLen(a, dst)
	for i := range a {
		dst[i] = a[i] - b[i]
	}
}

// MulConst multiplies a vector with a const: dst = dst * c
func MulConst(dst []float32, c float32) {
	for i := range dst {
		dst[i] *= c
	}
}

// MulConstTo multiplies a vector and a const, then saves the result in dst: dst = a * c
func MulConstTo(a []float32, c float32, dst []float32) {
	checkLen(a, dst)
	for i := range a {
		dst[i] = a[i] * c
	}
}

// MulConstAdd multiplies a vector and a const, then adds to dst: dst = dst + a * c
func MulConstAdd(a []float32, c float32, dst []float32) {
	checkLen(a, dst)
	for i := range a {
		dst[i] += a[i] * c
	}
}

// Dot two vectors.
func Dot(a, b []float32) (ret float32) {
	checkLen(a, b)
	for i := range a {
		ret += a[i] * b[i]
	}
	return
}

// Norm returns the L2 norm of a vector.
func Norm(a []float32) float32 {
	var ret float32
	for i := range a {
		ret += a[i] * a[i]
	}
	return math32.Sqrt(ret)
}

// MatVecTo multiplies a matrix and a vector: dst = m * v
func MatVecTo(m [][]float32, v, dst []float32) {
	if len(m) != len(dst) {
		panic("floats: slice lengths do not match")
	}
	for i := range m {
		dst[i] = Dot(m[i], v)
	}
}

// MulVecAddTo adds the scaled outer product of a and b to m: m = m + c * a * b^T
func MulVecAddTo(a, b []float32, c float32, m [][]float32) {
	if len(m) != len(a) {
		panic("floats: slice lengths do not match")
	}
	for i := range m {
		MulConstAdd(b, c*a[i], m[i])
	}
}
