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


package main

import (
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/popcorn-rec/popcorn/cmd/version"
	"github.com/popcorn-rec/popcorn/common/log"
	"github.com/popcorn-rec/popcorn/config"
	"github.com/popcorn-rec/popcorn/dataset"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func newRootCommand() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:           "popcorn",
		Short:         "Offline evaluation harness for recommendation models.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.PersistentFlags().String("sep", ",", "separator of input files")
	rootCommand.AddCommand(
		newKCoreCommand(),
		newSplitCommand(),
		newSearchCommand(),
		newEvaluateCommand(),
		newRunsCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information.",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprint(cmd.OutOrStdout(), version.BuildInfo())
			},
		},
	)
	return rootCommand
}

// setup builds the logger and loads the configuration.
func setup(cmd *cobra.Command) (*config.Config, error) {
	debug, _ := cmd.Flags().GetBool("debug")
	if err := log.SetLogger(cmd.Flags(), debug); err != nil {
		return nil, errors.Trace(err)
	}
	otel.SetErrorHandler(log.GetErrorHandler())
	configPath, _ := cmd.Flags().GetString("config")
	log.Logger().Info("load config", zap.String("config", configPath))
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, errors.Annotate(err, "load config")
	}
	return conf, nil
}

func csvOptions(cmd *cobra.Command) dataset.CSVOptions {
	opts := dataset.DefaultCSVOptions
	if sep, _ := cmd.Flags().GetString("sep"); sep != "" {
		opts.Sep = sep
	}
	return opts
}

func main() {
	err := newRootCommand().Execute()
	if err != nil {
		log.Logger().Error("failed to execute", zap.Error(err))
	}
	log.CloseLogger()
	if err != nil {
		os.Exit(1)
	}
}
