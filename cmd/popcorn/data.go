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
	"path/filepath"

	"github.com/juju/errors"
	"github.com/popcorn-rec/popcorn/config"
	"github.com/popcorn-rec/popcorn/dataset"
	"github.com/spf13/cobra"
)

func newKCoreCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "kcore",
		Short: "Filter interactions to their k-core.",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := setup(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("k") {
				conf.Filter.KCore, _ = cmd.Flags().GetInt("k")
			}
			input, _ := cmd.Flags().GetString("input")
			set, err := dataset.LoadInteractionsCSV(input, csvOptions(cmd))
			if err != nil {
				return errors.Trace(err)
			}
			filtered, passes := dataset.FilterKCore(set, conf.Filter.KCore)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "k:\t\t%d\n", conf.Filter.KCore)
			fmt.Fprintf(out, "passes:\t\t%d\n", passes)
			fmt.Fprintf(out, "records:\t%d -> %d\n", len(set), len(filtered))
			fmt.Fprintf(out, "users:\t\t%d -> %d\n", len(set.UserIds()), len(filtered.UserIds()))
			fmt.Fprintf(out, "items:\t\t%d -> %d\n", len(set.ItemIds()), len(filtered.ItemIds()))
			if output, _ := cmd.Flags().GetString("output"); output != "" {
				return dataset.SaveInteractionsCSV(output, filtered)
			}
			return nil
		},
	}
	command.Flags().StringP("input", "i", "", "interactions file path")
	command.Flags().Int("k", 0, "minimum number of interactions per user and item")
	command.Flags().StringP("output", "o", "", "path of filtered interactions")
	_ = command.MarkFlagRequired("input")
	return command
}

func newSplitCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "split",
		Short: "Split interactions into train and test partitions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := setup(cmd)
			if err != nil {
				return err
			}
			overrideSplit(cmd, conf)
			input, _ := cmd.Flags().GetString("input")
			train, test, err := loadAndSplit(cmd, conf, input)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mode:\t%s\n", conf.Split.Mode)
			fmt.Fprintf(out, "train:\t%d\n", len(train))
			fmt.Fprintf(out, "test:\t%d\n", len(test))
			if output, _ := cmd.Flags().GetString("output"); output != "" {
				if err = dataset.SaveInteractionsCSV(filepath.Join(output, "train.csv"), train); err != nil {
					return err
				}
				return dataset.SaveInteractionsCSV(filepath.Join(output, "test.csv"), test)
			}
			return nil
		},
	}
	command.Flags().StringP("input", "i", "", "interactions file path")
	command.Flags().Int("k", 0, "minimum number of interactions per user and item")
	command.Flags().String("mode", string(dataset.RandomSplit), "split mode: random, temporal or per_user")
	command.Flags().Float64("ratio", dataset.DefaultTestRatio, "share of test interactions")
	command.Flags().Int64("seed", 42, "random seed")
	command.Flags().StringP("output", "o", "", "directory of train.csv and test.csv")
	_ = command.MarkFlagRequired("input")
	return command
}

// overrideSplit replaces configured values by flags set on the command line.
func overrideSplit(cmd *cobra.Command, conf *config.Config) {
	if cmd.Flags().Changed("k") {
		conf.Filter.KCore, _ = cmd.Flags().GetInt("k")
	}
	if cmd.Flags().Changed("mode") {
		conf.Split.Mode, _ = cmd.Flags().GetString("mode")
	}
	if cmd.Flags().Changed("ratio") {
		conf.Split.TestRatio, _ = cmd.Flags().GetFloat64("ratio")
	}
	if cmd.Flags().Changed("seed") {
		conf.Split.Seed, _ = cmd.Flags().GetInt64("seed")
	}
}

// loadAndSplit loads interactions, filters them to the configured k-core and splits them.
func loadAndSplit(cmd *cobra.Command, conf *config.Config, input string) (train, test dataset.InteractionSet, err error) {
	set, err := dataset.LoadInteractionsCSV(input, csvOptions(cmd))
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	set, _ = dataset.FilterKCore(set, conf.Filter.KCore)
	train, test, err = dataset.Split(set, conf.SplitMode(), conf.Split.TestRatio, conf.Split.Seed)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return train, test, nil
}
