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


package config

import (
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/juju/errors"
	"github.com/popcorn-rec/popcorn/search"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		if err := validate.RegisterValidation("model_filter", validateModelFilter); err != nil {
			panic(err)
		}
	})
	return validate
}

// validateModelFilter accepts an empty filter or a boolean expression over tag and variant.
func validateModelFilter(fl validator.FieldLevel) bool {
	_, err := search.NewModelFilter(fl.Field().String())
	return err == nil
}

// Validate checks enumerations and ranges. Recoverable values are clamped later by
// their owners with a warning.
func (config *Config) Validate() error {
	if err := getValidator().Struct(config); err != nil {
		return errors.NewNotValid(err, "invalid config")
	}
	return nil
}
