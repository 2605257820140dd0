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

package model

import (
	"reflect"

	"github.com/popcorn-rec/popcorn/base/json"
	"github.com/popcorn-rec/popcorn/common/log"
	"go.uber.org/zap"
)

/* ParamName */

// ParamName is the type of hyper-parameter names.
type ParamName string

// Predefined hyper-parameter names
const (
	K            ParamName = "k"             // number of latent factors
	K2           ParamName = "k2"            // number of visual factors
	LearningRate ParamName = "learning_rate" // learning rate
	LambdaReg    ParamName = "lambda_reg"    // regularization strength
	LambdaW      ParamName = "lambda_w"      // regularization of weights
	LambdaB      ParamName = "lambda_b"      // regularization of biases
	MaxIter      ParamName = "max_iter"      // number of iterations
	NEpochs      ParamName = "n_epochs"      // number of epochs
	InitStdDev   ParamName = "init_std_dev"  // standard deviation of gaussian initial parameter
	RandomState  ParamName = "seed"          // random state (seed)
)

// Params stores hyper-parameters for a model. It is a map between names and values.
// For example, hyper-parameters for BPR are given by:
//
//	model.Params{
//		model.K:            32,
//		model.LearningRate: 0.01,
//		model.LambdaReg:    0.01,
//		model.NEpochs:      10,
//	}
type Params map[ParamName]any

// Copy hyper-parameters.
func (parameters Params) Copy() Params {
	newParams := make(Params, len(parameters))
	for k, v := range parameters {
		newParams[k] = v
	}
	return newParams
}

// GetInt gets a integer parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetInt(name ParamName, _default int) int {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int:
			return val
		case int64:
			return int(val)
		default:
			log.Logger().Error("type mismatch",
				zap.String("param", string(name)),
				zap.String("expect", "int"),
				zap.String("actual", reflect.TypeOf(val).String()))
		}
	}
	return _default
}

// GetInt64 gets a int64 parameter by name. Returns _default if not exists or type doesn't match. The
// type will be converted if given int.
func (parameters Params) GetInt64(name ParamName, _default int64) int64 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int64:
			return val
		case int:
			return int64(val)
		default:
			log.Logger().Error("type mismatch",
				zap.String("param", string(name)),
				zap.String("expect", "int64"),
				zap.String("actual", reflect.TypeOf(val).String()))
		}
	}
	return _default
}

func (parameters Params) GetFloat32(name ParamName, _default float32) float32 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case float32:
			return val
		case float64:
			return float32(val)
		case int:
			return float32(val)
		default:
			log.Logger().Error("type mismatch",
				zap.String("param", string(name)),
				zap.String("expect", "float32"),
				zap.String("actual", reflect.TypeOf(val).String()))
		}
	}
	return _default
}

func (parameters Params) GetFloat64(name ParamName, _default float64) float64 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case float64:
			return val
		case float32:
			return float64(val)
		case int:
			return float64(val)
		default:
			log.Logger().Error("type mismatch",
				zap.String("param", string(name)),
				zap.String("expect", "float64"),
				zap.String("actual", reflect.TypeOf(val).String()))
		}
	}
	return _default
}

// Overwrite returns a copy of parameters updated by params.
func (parameters Params) Overwrite(params Params) Params {
	merged := make(Params, len(parameters)+len(params))
	for k, v := range parameters {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	return merged
}

// String encodes parameters as JSON with sorted keys.
func (parameters Params) String() string {
	return json.MarshalString(parameters, "{}")
}

// ParamValues lists the candidates of one hyper-parameter.
type ParamValues struct {
	Name   ParamName
	Values []any
}

// ParamsGrid contains candidates for grid search. Declaration order matters: the first
// parameter varies slowest when the grid is expanded.
type ParamsGrid []ParamValues

// NumCombinations returns the size of the cartesian product.
func (grid ParamsGrid) NumCombinations() int {
	if len(grid) == 0 {
		return 0
	}
	total := 1
	for _, p := range grid {
		total *= len(p.Values)
	}
	return total
}

// Expand enumerates the cartesian product in declaration order and keeps at most limit
// configurations. A non-positive limit keeps all of them.
func (grid ParamsGrid) Expand(limit int) []Params {
	if grid.NumCombinations() == 0 {
		return nil
	}
	var configs []Params
	var dfs func(deep int, params Params) bool
	dfs = func(deep int, params Params) bool {
		if limit > 0 && len(configs) >= limit {
			return false
		}
		if deep == len(grid) {
			configs = append(configs, params.Copy())
			return true
		}
		for _, val := range grid[deep].Values {
			params[grid[deep].Name] = val
			if !dfs(deep+1, params) {
				return false
			}
		}
		return true
	}
	dfs(0, make(Params))
	return configs
}
