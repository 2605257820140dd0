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
	"github.com/juju/errors"
	"github.com/popcorn-rec/popcorn/model"
	"github.com/popcorn-rec/popcorn/model/cf"
	"github.com/popcorn-rec/popcorn/storage"
)

// Settings are the shared resources of a run.
type Settings struct {
	Config *Config

	// model registry
	Registry *model.Registry
	// experiment store, nil if disabled
	Store *storage.Store
}

func NewSettings(config *Config) (*Settings, error) {
	settings := &Settings{
		Config:   config,
		Registry: cf.Builtin(),
	}
	if config.Output.SQLite != "" {
		store, err := storage.Open(config.Output.SQLite)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if err = store.Init(); err != nil {
			return nil, errors.Annotate(err, "init experiment store")
		}
		settings.Store = store
	}
	return settings, nil
}

func (s *Settings) Close() error {
	if s.Store != nil {
		return s.Store.Close()
	}
	return nil
}
