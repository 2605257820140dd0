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

package cf

import (
	"github.com/popcorn-rec/popcorn/model"
)

// Model tags of the built-in models.
const (
	TagTopPop = "TopPop"
	TagMF     = "MF"
	TagBPR    = "BPR"
	TagVBPR   = "VBPR"
	TagVMF    = "VMF"
)

// Builtin returns a registry of the built-in models with their default grids.
func Builtin() *model.Registry {
	return model.NewRegistry(
		model.Entry{
			Tag:    TagMF,
			Create: func(params model.Params) model.Model { return NewMF(params) },
			Grid: func(int, bool) model.ParamsGrid {
				return model.ParamsGrid{
					{Name: model.K, Values: []any{32, 64, 128}},
					{Name: model.LearningRate, Values: []any{0.01, 0.005}},
					{Name: model.LambdaReg, Values: []any{0.01}},
					{Name: model.MaxIter, Values: []any{50}},
				}
			},
		},
		model.Entry{
			Tag:    TagBPR,
			Create: func(params model.Params) model.Model { return NewBPR(params) },
			Grid: func(nEpochs int, _ bool) model.ParamsGrid {
				return model.ParamsGrid{
					{Name: model.K, Values: []any{32, 64, 128}},
					{Name: model.LearningRate, Values: []any{0.01, 0.005}},
					{Name: model.LambdaReg, Values: []any{0.01}},
					{Name: model.NEpochs, Values: []any{nEpochs}},
				}
			},
		},
		model.Entry{
			Tag:    TagTopPop,
			Create: func(params model.Params) model.Model { return NewTopPop(params) },
		},
		model.Entry{
			Tag:    TagVBPR,
			Create: func(params model.Params) model.Model { return NewVBPR(params) },
			Modal:  true,
			Grid: func(nEpochs int, fastPrototype bool) model.ParamsGrid {
				return model.ParamsGrid{
					{Name: model.K, Values: []any{32, 64, 128}},
					{Name: model.K2, Values: []any{8, 16}},
					{Name: model.LearningRate, Values: []any{0.001}},
					{Name: model.LambdaW, Values: []any{0.01}},
					{Name: model.LambdaB, Values: []any{0.01}},
					{Name: model.NEpochs, Values: []any{modalEpochs(nEpochs, fastPrototype)}},
				}
			},
		},
		model.Entry{
			Tag:    TagVMF,
			Create: func(params model.Params) model.Model { return NewVMF(params) },
			Modal:  true,
			Grid: func(nEpochs int, fastPrototype bool) model.ParamsGrid {
				return model.ParamsGrid{
					{Name: model.K, Values: []any{32, 64, 128}},
					{Name: model.LearningRate, Values: []any{0.01}},
					{Name: model.NEpochs, Values: []any{modalEpochs(nEpochs, fastPrototype)}},
				}
			},
		},
	)
}

func modalEpochs(nEpochs int, fastPrototype bool) int {
	if fastPrototype {
		return 1
	}
	return nEpochs
}
