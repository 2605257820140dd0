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

package search

import (
	"fmt"
	"io"
	"strconv"

	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
)

// Render prints one line per branch. In verbose mode every trial is listed and the
// selected one is marked.
func (r *Report) Render(w io.Writer, verbose bool) error {
	table := tablewriter.NewWriter(w)
	if verbose {
		table.Header("model", "variant", "trial", "score", "params", "selected")
	} else {
		table.Header("model", "variant", "state", "best", "score", "params")
	}
	for _, result := range r.Results {
		var rows [][]string
		if verbose {
			for _, trial := range result.Trials {
				selected := ""
				if trial.Index == result.BestIndex {
					selected = "*"
				}
				rows = append(rows, []string{result.Group.Model, result.Group.Variant,
					strconv.Itoa(trial.Index), fmt.Sprintf("%.4f", trial.Score), trial.Params.String(), selected})
			}
			if result.State == Failed {
				rows = append(rows, []string{result.Group.Model, result.Group.Variant, "-", "-", result.Err.Error(), ""})
			}
		} else {
			row := []string{result.Group.Model, result.Group.Variant, result.State.String(), "-", "-", "-"}
			switch {
			case result.State == Failed:
				row[5] = result.Err.Error()
			case result.BestIndex >= 0:
				row[3] = strconv.Itoa(result.BestIndex)
				row[4] = fmt.Sprintf("%.4f", result.BestScore)
				row[5] = result.BestParams.String()
			}
			rows = append(rows, row)
		}
		for _, row := range rows {
			if err := table.Append(row); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return errors.Trace(table.Render())
}
