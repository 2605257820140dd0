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
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/juju/errors"
	"github.com/popcorn-rec/popcorn/dataset"
	"github.com/popcorn-rec/popcorn/evaluator"
	"github.com/popcorn-rec/popcorn/search"
	"github.com/spf13/viper"
)

// Config is the configuration of an evaluation run.
type Config struct {
	Filter    FilterConfig    `mapstructure:"filter"`
	Split     SplitConfig     `mapstructure:"split"`
	Recommend RecommendConfig `mapstructure:"recommend"`
	Search    SearchConfig    `mapstructure:"search"`
	Output    OutputConfig    `mapstructure:"output"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// FilterConfig is the configuration of the k-core filter. Zero disables it.
type FilterConfig struct {
	KCore int `mapstructure:"k_core" validate:"gte=0"`
}

// SplitConfig is the configuration of the train/test splitter. Out-of-range ratios are
// replaced by defaults when splitting.
type SplitConfig struct {
	Mode            string  `mapstructure:"mode" validate:"required"`
	TestRatio       float64 `mapstructure:"test_ratio"`
	ValidationRatio float64 `mapstructure:"validation_ratio"`
	Seed            int64   `mapstructure:"seed"`
}

type RecommendConfig struct {
	TopN          int `mapstructure:"top_n"`
	ColdThreshold int `mapstructure:"cold_threshold"`
}

type SearchConfig struct {
	ModelChoice   string        `mapstructure:"model_choice" validate:"oneof=cf vbpr vmf all"`
	ModelFilter   string        `mapstructure:"model_filter" validate:"model_filter"`
	Strategy      string        `mapstructure:"strategy" validate:"oneof=grid tpe"`
	NumTrials     int           `mapstructure:"n_trials" validate:"gte=0"`
	Parallel      bool          `mapstructure:"parallel"`
	MaxWorkers    int           `mapstructure:"max_workers" validate:"gte=0"`
	NumEpochs     int           `mapstructure:"n_epochs"`
	FastPrototype bool          `mapstructure:"fast_prototype"`
	MaxConfigs    int           `mapstructure:"max_configs" validate:"gte=0"`
	FailFast      bool          `mapstructure:"fail_fast"`
	Modalities    []string      `mapstructure:"modalities" validate:"dive,required"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

type OutputConfig struct {
	Dir    string `mapstructure:"dir" validate:"required"`
	Suffix string `mapstructure:"suffix"`
	SQLite string `mapstructure:"sqlite"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen" validate:"omitempty,hostname_port"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Split: SplitConfig{
			Mode:            string(dataset.RandomSplit),
			TestRatio:       dataset.DefaultTestRatio,
			ValidationRatio: search.DefaultValidationRatio,
			Seed:            42,
		},
		Recommend: RecommendConfig{
			TopN:          evaluator.DefaultTopN,
			ColdThreshold: evaluator.DefaultColdThreshold,
		},
		Search: SearchConfig{
			ModelChoice: search.ChoiceCF,
			Strategy:    search.StrategyGrid,
			NumTrials:   search.DefaultTrials,
			Parallel:    true,
			MaxWorkers:  search.DefaultMaxWorkers,
			NumEpochs:   search.DefaultEpochs,
			MaxConfigs:  search.DefaultMaxConfigs,
			Modalities:  []string{"visual"},
		},
		Output: OutputConfig{
			Dir: "outputs",
		},
		Tracing: TracingConfig{
			Exporter: "otlp",
			Sampler:  "always",
			Ratio:    1,
		},
	}
}

// SplitMode returns the configured split mode. It is checked by the splitter.
func (config *Config) SplitMode() dataset.SplitMode {
	return dataset.SplitMode(config.Split.Mode)
}

func (config *Config) SearchConfig() search.Config {
	return search.Config{
		ModelChoice:     config.Search.ModelChoice,
		ModelFilter:     config.Search.ModelFilter,
		Strategy:        config.Search.Strategy,
		NumTrials:       config.Search.NumTrials,
		Parallel:        config.Search.Parallel,
		MaxWorkers:      config.Search.MaxWorkers,
		NumEpochs:       config.Search.NumEpochs,
		FastPrototype:   config.Search.FastPrototype,
		MaxConfigs:      config.Search.MaxConfigs,
		FailFast:        config.Search.FailFast,
		Seed:            config.Split.Seed,
		ValidationRatio: config.Split.ValidationRatio,
		Variants:        config.Search.Modalities,
	}
}

func (config *Config) EvaluatorConfig() evaluator.Config {
	return evaluator.Config{
		TopN:          config.Recommend.TopN,
		ColdThreshold: config.Recommend.ColdThreshold,
		NumJobs:       config.Search.MaxWorkers,
	}
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [filter]
	v.SetDefault("filter.k_core", defaultConfig.Filter.KCore)
	// [split]
	v.SetDefault("split.mode", defaultConfig.Split.Mode)
	v.SetDefault("split.test_ratio", defaultConfig.Split.TestRatio)
	v.SetDefault("split.validation_ratio", defaultConfig.Split.ValidationRatio)
	v.SetDefault("split.seed", defaultConfig.Split.Seed)
	// [recommend]
	v.SetDefault("recommend.top_n", defaultConfig.Recommend.TopN)
	v.SetDefault("recommend.cold_threshold", defaultConfig.Recommend.ColdThreshold)
	// [search]
	v.SetDefault("search.model_choice", defaultConfig.Search.ModelChoice)
	v.SetDefault("search.model_filter", defaultConfig.Search.ModelFilter)
	v.SetDefault("search.strategy", defaultConfig.Search.Strategy)
	v.SetDefault("search.n_trials", defaultConfig.Search.NumTrials)
	v.SetDefault("search.parallel", defaultConfig.Search.Parallel)
	v.SetDefault("search.max_workers", defaultConfig.Search.MaxWorkers)
	v.SetDefault("search.n_epochs", defaultConfig.Search.NumEpochs)
	v.SetDefault("search.fast_prototype", defaultConfig.Search.FastPrototype)
	v.SetDefault("search.max_configs", defaultConfig.Search.MaxConfigs)
	v.SetDefault("search.fail_fast", defaultConfig.Search.FailFast)
	v.SetDefault("search.modalities", defaultConfig.Search.Modalities)
	v.SetDefault("search.timeout", defaultConfig.Search.Timeout)
	// [output]
	v.SetDefault("output.dir", defaultConfig.Output.Dir)
	v.SetDefault("output.suffix", defaultConfig.Output.Suffix)
	v.SetDefault("output.sqlite", defaultConfig.Output.SQLite)
	// [metrics]
	v.SetDefault("metrics.listen", defaultConfig.Metrics.Listen)
	// [tracing]
	v.SetDefault("tracing.enable_tracing", defaultConfig.Tracing.EnableTracing)
	v.SetDefault("tracing.exporter", defaultConfig.Tracing.Exporter)
	v.SetDefault("tracing.collector_endpoint", defaultConfig.Tracing.CollectorEndpoint)
	v.SetDefault("tracing.sampler", defaultConfig.Tracing.Sampler)
	v.SetDefault("tracing.ratio", defaultConfig.Tracing.Ratio)
}

type configBinding struct {
	key string
	env string
}

var bindings = []configBinding{
	{"filter.k_core", "POPCORN_FILTER_K_CORE"},
	{"split.mode", "POPCORN_SPLIT_MODE"},
	{"split.test_ratio", "POPCORN_SPLIT_TEST_RATIO"},
	{"split.validation_ratio", "POPCORN_SPLIT_VALIDATION_RATIO"},
	{"split.seed", "POPCORN_SPLIT_SEED"},
	{"recommend.top_n", "POPCORN_RECOMMEND_TOP_N"},
	{"recommend.cold_threshold", "POPCORN_RECOMMEND_COLD_THRESHOLD"},
	{"search.model_choice", "POPCORN_SEARCH_MODEL_CHOICE"},
	{"search.model_filter", "POPCORN_SEARCH_MODEL_FILTER"},
	{"search.strategy", "POPCORN_SEARCH_STRATEGY"},
	{"search.n_trials", "POPCORN_SEARCH_N_TRIALS"},
	{"search.parallel", "POPCORN_SEARCH_PARALLEL"},
	{"search.max_workers", "POPCORN_SEARCH_MAX_WORKERS"},
	{"search.n_epochs", "POPCORN_SEARCH_N_EPOCHS"},
	{"search.fast_prototype", "POPCORN_SEARCH_FAST_PROTOTYPE"},
	{"search.max_configs", "POPCORN_SEARCH_MAX_CONFIGS"},
	{"search.fail_fast", "POPCORN_SEARCH_FAIL_FAST"},
	{"search.modalities", "POPCORN_SEARCH_MODALITIES"},
	{"search.timeout", "POPCORN_SEARCH_TIMEOUT"},
	{"output.dir", "POPCORN_OUTPUT_DIR"},
	{"output.suffix", "POPCORN_OUTPUT_SUFFIX"},
	{"output.sqlite", "POPCORN_OUTPUT_SQLITE"},
	{"metrics.listen", "POPCORN_METRICS_LISTEN"},
	{"tracing.enable_tracing", "POPCORN_TRACING_ENABLE_TRACING"},
	{"tracing.exporter", "POPCORN_TRACING_EXPORTER"},
	{"tracing.collector_endpoint", "POPCORN_TRACING_COLLECTOR_ENDPOINT"},
	{"tracing.sampler", "POPCORN_TRACING_SAMPLER"},
	{"tracing.ratio", "POPCORN_TRACING_RATIO"},
}

// LoadConfig loads configuration from a TOML, YAML or JSON file, overridden by
// POPCORN_* environment variables. An empty path loads defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	for _, binding := range bindings {
		if err := v.BindEnv(binding.key, binding.env); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "" {
			v.SetConfigType("toml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var conf Config
	if err := v.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}
