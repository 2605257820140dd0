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
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/popcorn-rec/popcorn/base/json"
	"github.com/popcorn-rec/popcorn/common/log"
	"github.com/popcorn-rec/popcorn/common/progress"
	"github.com/popcorn-rec/popcorn/config"
	"github.com/popcorn-rec/popcorn/dataset"
	"github.com/popcorn-rec/popcorn/evaluator"
	"github.com/popcorn-rec/popcorn/search"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func newSearchCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "search",
		Short: "Search hyper-parameters, refit and evaluate models on held-out interactions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := setup(cmd)
			if err != nil {
				return err
			}
			input, _ := cmd.Flags().GetString("input")
			train, test, err := loadAndSplit(cmd, conf, input)
			if err != nil {
				return err
			}
			return runExperiment(cmd, conf, train, test)
		},
	}
	command.Flags().StringP("input", "i", "", "interactions file path")
	addExperimentFlags(command)
	_ = command.MarkFlagRequired("input")
	return command
}

func newEvaluateCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "evaluate",
		Short: "Search and evaluate models on a train and test partition split beforehand.",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := setup(cmd)
			if err != nil {
				return err
			}
			trainPath, _ := cmd.Flags().GetString("train")
			train, err := dataset.LoadInteractionsCSV(trainPath, csvOptions(cmd))
			if err != nil {
				return errors.Trace(err)
			}
			testPath, _ := cmd.Flags().GetString("test")
			test, err := dataset.LoadInteractionsCSV(testPath, csvOptions(cmd))
			if err != nil {
				return errors.Trace(err)
			}
			return runExperiment(cmd, conf, train, test)
		},
	}
	command.Flags().String("train", "", "train interactions file path")
	command.Flags().String("test", "", "test interactions file path")
	addExperimentFlags(command)
	_ = command.MarkFlagRequired("train")
	_ = command.MarkFlagRequired("test")
	return command
}

func addExperimentFlags(command *cobra.Command) {
	command.Flags().String("genres", "", "genre catalog file path")
	command.Flags().StringToString("modality", nil, "image modality files of variants, e.g. visual=visual.csv")
	command.Flags().StringToString("feature-modality", nil, "feature modality files of variants, e.g. text=text.csv")
	command.Flags().Bool("verbose", false, "list every trial")
	command.Flags().Bool("progress", true, "show a progress bar")
}

// loadSide loads the genre catalog and the modality dictionary. Both are optional. A
// variant may carry an image modality, a feature modality or both.
func loadSide(cmd *cobra.Command) (dataset.GenreCatalog, dataset.ModalityDict, error) {
	var (
		genres dataset.GenreCatalog
		dict   dataset.ModalityDict
		err    error
	)
	if path, _ := cmd.Flags().GetString("genres"); path != "" {
		if genres, err = dataset.LoadGenreCSV(path, csvOptions(cmd)); err != nil {
			return nil, nil, errors.Trace(err)
		}
	}
	for _, flag := range []string{"modality", "feature-modality"} {
		paths, _ := cmd.Flags().GetStringToString(flag)
		for variant, path := range paths {
			m, err := dataset.LoadModalityCSV(variant, path, csvOptions(cmd))
			if err != nil {
				return nil, nil, errors.Trace(err)
			}
			if dict == nil {
				dict = make(dataset.ModalityDict)
			}
			attachments := dict[variant]
			if flag == "modality" {
				attachments.Image = m.Normalize()
			} else {
				attachments.Feature = m.Normalize()
			}
			dict[variant] = attachments
		}
	}
	return genres, dict, nil
}

// runExperiment searches every selected branch on the training partition, ranks test
// users with the refitted models and writes the results.
func runExperiment(cmd *cobra.Command, conf *config.Config, train, test dataset.InteractionSet) error {
	genres, dict, err := loadSide(cmd)
	if err != nil {
		return err
	}
	settings, err := config.NewSettings(conf)
	if err != nil {
		return errors.Trace(err)
	}
	defer settings.Close()
	if conf.Metrics.Listen != "" {
		server := serveMetrics(conf.Metrics.Listen)
		defer server.Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if conf.Search.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, conf.Search.Timeout)
		defer cancel()
	}

	tp, err := conf.Tracing.NewTracerProvider()
	if err != nil {
		return errors.Annotate(err, "create tracer provider")
	}
	otel.SetTracerProvider(tp)
	if sdkProvider, ok := tp.(interface{ Shutdown(context.Context) error }); ok {
		defer func() {
			if err := sdkProvider.Shutdown(context.Background()); err != nil {
				log.Logger().Error("failed to shutdown tracer provider", zap.Error(err))
			}
		}()
	}

	searcher, err := search.NewSearcher(settings.Registry, conf.SearchConfig())
	if err != nil {
		return errors.Trace(err)
	}
	if showProgress, _ := cmd.Flags().GetBool("progress"); showProgress {
		bar := progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionSetDescription("search"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish())
		searcher.SetOnTrial(func(group evaluator.Group, trial search.Trial) {
			bar.Describe(describeProgress(searcher.Progress()))
			_ = bar.Add(1)
		})
		defer bar.Finish()
	}
	searchReport, err := searcher.Run(ctx, train, dict)
	if err != nil {
		return errors.Trace(err)
	}
	out := cmd.OutOrStdout()
	verbose, _ := cmd.Flags().GetBool("verbose")
	if err = searchReport.Render(out, verbose); err != nil {
		return errors.Trace(err)
	}
	if verbose {
		if err = renderProgress(out, searcher.Progress()); err != nil {
			return errors.Trace(err)
		}
	}
	for _, result := range searchReport.Failed() {
		log.BranchLogger(result.Group.Model, result.Group.Variant).Warn("branch failed", zap.Error(result.Err))
	}

	e := evaluator.NewEvaluator(conf.EvaluatorConfig(), train, searchReport.TrainSet, genres)
	evalReport, err := e.Evaluate(ctx, test, searchReport.Models())
	if err != nil {
		return errors.Trace(err)
	}
	summaries := evaluator.Aggregate(evalReport)
	suffix := conf.Output.Suffix
	if suffix == "" {
		suffix = uuid.NewString()[:8]
	}
	if _, _, err = evaluator.Save(conf.Output.Dir, suffix, evalReport, summaries); err != nil {
		return errors.Trace(err)
	}
	if err = evaluator.RenderMetrics(out, summaries, evalReport.TopN); err != nil {
		return errors.Trace(err)
	}

	if settings.Store != nil {
		if err = record(ctx, settings, suffix, searchReport, evalReport.TopN, summaries); err != nil {
			return errors.Annotate(err, "record experiment")
		}
	}
	return nil
}

func record(ctx context.Context, settings *config.Settings, suffix string, report *search.Report, topN int, summaries []evaluator.Summary) error {
	text, err := json.Marshal(settings.Config)
	if err != nil {
		return errors.Trace(err)
	}
	runId, err := settings.Store.CreateRun(ctx, suffix, string(text))
	if err != nil {
		return errors.Trace(err)
	}
	if err = settings.Store.InsertTrials(ctx, runId, report); err != nil {
		return errors.Trace(err)
	}
	if err = settings.Store.InsertMetrics(ctx, runId, topN, summaries); err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("record experiment", zap.String("run_id", runId), zap.String("suffix", suffix))
	return nil
}

// describeProgress prints the share of the search done so far.
func describeProgress(list []progress.Progress) string {
	for _, p := range list {
		if p.Status == progress.StatusRunning && p.Total > 0 {
			return fmt.Sprintf("search %3.0f%%", 100*float64(p.Count)/float64(p.Total))
		}
	}
	return "search"
}

func renderProgress(w io.Writer, list []progress.Progress) error {
	table := tablewriter.NewWriter(w)
	table.Header("job", "status", "progress", "elapsed", "error")
	for _, p := range list {
		finish := p.FinishTime
		if finish.IsZero() {
			finish = time.Now()
		}
		if err := table.Append([]string{
			p.Tracer + "/" + p.Name,
			string(p.Status),
			fmt.Sprintf("%d/%d", p.Count, p.Total),
			finish.Sub(p.StartTime).Round(time.Millisecond).String(),
			p.Error,
		}); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Logger().Info("start metrics server", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Logger().Error("failed to serve metrics", zap.Error(err))
		}
	}()
	return server
}

