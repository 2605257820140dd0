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
	"io"
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/popcorn-rec/popcorn/config"
	"github.com/popcorn-rec/popcorn/storage"
	"github.com/spf13/cobra"
)

func newRunsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded experiments, or show the trials and metrics of one.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := setup(cmd)
			if err != nil {
				return err
			}
			if path, _ := cmd.Flags().GetString("sqlite"); path != "" {
				conf.Output.SQLite = path
			}
			if conf.Output.SQLite == "" {
				return errors.NotValidf("no experiment store, set output.sqlite or --sqlite")
			}
			settings, err := config.NewSettings(conf)
			if err != nil {
				return errors.Trace(err)
			}
			defer settings.Close()
			if len(args) == 0 {
				return listRuns(cmd, settings.Store)
			}
			return showRun(cmd, settings.Store, args[0])
		},
	}
	command.Flags().String("sqlite", "", "experiment store, e.g. sqlite://popcorn.db")
	return command
}

func listRuns(cmd *cobra.Command, store *storage.Store) error {
	runs, err := store.ListRuns(cmd.Context())
	if err != nil {
		return errors.Trace(err)
	}
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("run", "suffix", "created", "models", "strategy", "split")
	for _, run := range runs {
		var conf config.Config
		if err = run.Decode(&conf); err != nil {
			return errors.Trace(err)
		}
		if err = table.Append([]string{
			run.Id,
			run.Suffix,
			run.CreatedAt.Local().Format(time.DateTime),
			conf.Search.ModelChoice,
			conf.Search.Strategy,
			conf.Split.Mode,
		}); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}

func showRun(cmd *cobra.Command, store *storage.Store, runId string) error {
	ctx := cmd.Context()
	run, err := store.GetRun(ctx, runId)
	if err != nil {
		return errors.Trace(err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run:\t%s\n", run.Id)
	fmt.Fprintf(out, "suffix:\t%s\n", run.Suffix)
	fmt.Fprintf(out, "created:\t%s\n", run.CreatedAt.Local().Format(time.DateTime))
	trials, err := store.ListTrials(ctx, runId)
	if err != nil {
		return errors.Trace(err)
	}
	if err = renderTrials(out, trials); err != nil {
		return errors.Trace(err)
	}
	metrics, err := store.ListMetrics(ctx, runId)
	if err != nil {
		return errors.Trace(err)
	}
	table := tablewriter.NewWriter(out)
	table.Header("model", "variant", "metric", "value")
	for _, metric := range metrics {
		if err = table.Append([]string{metric.Model, metric.Variant, metric.Metric,
			strconv.FormatFloat(metric.Value, 'f', 4, 64)}); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}

func renderTrials(w io.Writer, trials []storage.TrialRecord) error {
	table := tablewriter.NewWriter(w)
	table.Header("model", "variant", "state", "trial", "score", "duration", "params", "selected")
	for _, trial := range trials {
		index, score, selected := "-", "-", ""
		if trial.Index >= 0 {
			index = strconv.Itoa(trial.Index)
			score = strconv.FormatFloat(trial.Score, 'f', 4, 64)
		}
		if trial.Selected {
			selected = "*"
		}
		params := trial.Params
		if trial.Error != "" {
			params = trial.Error
		}
		if err := table.Append([]string{trial.Model, trial.Variant, trial.State, index, score,
			trial.Duration.String(), params, selected}); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}
