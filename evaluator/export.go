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

package evaluator

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/popcorn-rec/popcorn/base"
	"github.com/popcorn-rec/popcorn/base/json"
	"github.com/popcorn-rec/popcorn/common/log"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// RecListHeader returns the columns of the per-user table.
func RecListHeader(groups []Group) []string {
	header := []string{"user_id", "train", "gt"}
	for _, group := range groups {
		header = append(header, "rec_"+group.String())
		for _, code := range Codes {
			header = append(header, string(code)+"_"+group.String())
		}
	}
	return header
}

// MetricsHeader returns the columns of the aggregate table.
func MetricsHeader(topN int) []string {
	header := []string{"model", "variant"}
	for _, code := range Codes {
		header = append(header, code.Name(topN))
	}
	return header
}

// WriteRecList writes one csv line per test user. Item lists are JSON arrays.
func WriteRecList(w io.Writer, report *Report) error {
	writer := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(writer, base.FormatLine(RecListHeader(report.Groups))); err != nil {
		return errors.Trace(err)
	}
	for _, row := range report.Rows {
		fields := []string{row.UserId, formatList(row.Train), formatList(row.GroundTruth)}
		for _, result := range row.Results {
			fields = append(fields, formatList(result.List))
			for _, code := range Codes {
				fields = append(fields, formatFloat(result.Values.Get(code)))
			}
		}
		if _, err := fmt.Fprintln(writer, base.FormatLine(fields)); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(writer.Flush())
}

// WriteMetrics writes one csv line per group summary.
func WriteMetrics(w io.Writer, summaries []Summary, topN int) error {
	writer := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(writer, base.FormatLine(MetricsHeader(topN))); err != nil {
		return errors.Trace(err)
	}
	for _, summary := range summaries {
		fields := []string{summary.Model, summary.Variant}
		for _, code := range Codes {
			fields = append(fields, formatFloat(summary.Get(code)))
		}
		if _, err := fmt.Fprintln(writer, base.FormatLine(fields)); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(writer.Flush())
}

// RenderMetrics prints summaries as a table.
func RenderMetrics(w io.Writer, summaries []Summary, topN int) error {
	table := tablewriter.NewWriter(w)
	table.Header(lo.ToAnySlice(MetricsHeader(topN))...)
	for _, summary := range summaries {
		row := []string{summary.Model, summary.Variant}
		for _, code := range Codes {
			row = append(row, fmt.Sprintf("%8.3f", summary.Get(code)))
		}
		if err := table.Append(row); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}

// Save writes reclist_<suffix>.csv and metrics_<suffix>.csv into dir.
func Save(dir, suffix string, report *Report, summaries []Summary) (recListPath, metricsPath string, err error) {
	if err = os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", "", errors.Trace(err)
	}
	recListPath = filepath.Join(dir, fmt.Sprintf("reclist_%s.csv", suffix))
	if err = writeFile(recListPath, func(w io.Writer) error { return WriteRecList(w, report) }); err != nil {
		return "", "", err
	}
	metricsPath = filepath.Join(dir, fmt.Sprintf("metrics_%s.csv", suffix))
	if err = writeFile(metricsPath, func(w io.Writer) error { return WriteMetrics(w, summaries, report.TopN) }); err != nil {
		return "", "", err
	}
	log.Logger().Info("save evaluation results",
		zap.String("reclist", recListPath),
		zap.String("metrics", metricsPath))
	return recListPath, metricsPath, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Annotatef(err, "create %s", path)
	}
	if err = write(file); err != nil {
		_ = file.Close()
		return errors.Annotatef(err, "write %s", path)
	}
	return errors.Trace(file.Close())
}

func formatList(items []string) string {
	if items == nil {
		items = []string{}
	}
	return json.MarshalString(items, "[]")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
