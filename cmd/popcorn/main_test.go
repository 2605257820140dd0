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
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/juju/errors"
	"github.com/popcorn-rec/popcorn/dataset"
	"github.com/popcorn-rec/popcorn/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRatings(t *testing.T, dir string) string {
	var set dataset.InteractionSet
	for u := 0; u < 30; u++ {
		for i := 0; i < 12; i++ {
			if (u+i)%3 != 0 {
				set = append(set, dataset.Interaction{
					UserId:    fmt.Sprintf("u%d", u),
					ItemId:    fmt.Sprintf("i%d", i),
					Rating:    float32(1 + (u*i)%5),
					Timestamp: int64(u*12 + i),
				})
			}
		}
	}
	path := filepath.Join(dir, "ratings.csv")
	require.NoError(t, dataset.SaveInteractionsCSV(path, set))
	return path
}

func writeConfig(t *testing.T, dir, mode string) string {
	text := fmt.Sprintf(`[split]
mode = %q

[search]
model_choice = "cf"
max_configs = 1
n_epochs = 2
parallel = false

[output]
dir = %q
suffix = "test"
sqlite = %q
`, mode, filepath.Join(dir, "outputs"), "sqlite://"+filepath.Join(dir, "popcorn.db"))
	path := filepath.Join(dir, "popcorn.toml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	return path
}

func execute(args ...string) (string, error) {
	var out, errOut bytes.Buffer
	command := newRootCommand()
	command.SetOut(&out)
	command.SetErr(&errOut)
	command.SetArgs(args)
	err := command.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute("version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:")
}

func TestKCore(t *testing.T) {
	dir := t.TempDir()
	input := writeRatings(t, dir)
	out, err := execute("kcore", "-i", input, "--k", "100")
	require.NoError(t, err)
	assert.Contains(t, out, "records:\t240 -> 0")

	output := filepath.Join(dir, "filtered.csv")
	out, err = execute("kcore", "-i", input, "--k", "2", "-o", output)
	require.NoError(t, err)
	assert.Contains(t, out, "records:\t240 -> 240")
	assert.FileExists(t, output)
}

func TestSplitAndEvaluate(t *testing.T) {
	dir := t.TempDir()
	input := writeRatings(t, dir)
	out, err := execute("split", "-i", input, "--mode", "temporal", "--ratio", "0.25", "-o", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "train:\t180")
	assert.Contains(t, out, "test:\t60")

	out, err = execute("evaluate", "-c", writeConfig(t, dir, "random"),
		"--train", filepath.Join(dir, "train.csv"),
		"--test", filepath.Join(dir, "test.csv"),
		"--progress=false")
	require.NoError(t, err)
	assert.Contains(t, out, "TopPop")
	assert.FileExists(t, filepath.Join(dir, "outputs", "reclist_test.csv"))
}

func TestSearch(t *testing.T) {
	dir := t.TempDir()
	input := writeRatings(t, dir)
	out, err := execute("search", "-c", writeConfig(t, dir, "random"), "-i", input, "--verbose")
	require.NoError(t, err)
	for _, tag := range []string{"MF", "BPR", "TopPop"} {
		assert.Contains(t, out, tag)
	}
	assert.Contains(t, out, "Recall@10")
	assert.FileExists(t, filepath.Join(dir, "outputs", "reclist_test.csv"))
	assert.FileExists(t, filepath.Join(dir, "outputs", "metrics_test.csv"))
	assert.FileExists(t, filepath.Join(dir, "popcorn.db"))

	metrics, err := os.ReadFile(filepath.Join(dir, "outputs", "metrics_test.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(metrics)), "\n")
	assert.Len(t, lines, 4)
	// progress of the search
	assert.Contains(t, out, "search/branches")
	assert.Contains(t, out, "Complete")
	assert.Contains(t, out, "3/3")
}

func TestSearchFeatureModality(t *testing.T) {
	dir := t.TempDir()
	input := writeRatings(t, dir)
	configPath := writeConfig(t, dir, "random")
	text, err := os.ReadFile(configPath)
	require.NoError(t, err)
	text = bytes.Replace(text, []byte(`model_choice = "cf"`), []byte("model_choice = \"vmf\"\nmodalities = [\"text\"]"), 1)
	require.NoError(t, os.WriteFile(configPath, text, 0644))
	features := "item_id,f1,f2\n"
	for i := 0; i < 12; i++ {
		features += fmt.Sprintf("i%d,%d,%d\n", i, i%4, 1+i%3)
	}
	featurePath := filepath.Join(dir, "text.csv")
	require.NoError(t, os.WriteFile(featurePath, []byte(features), 0644))

	out, err := execute("search", "-c", configPath, "-i", input,
		"--feature-modality", "text="+featurePath, "--progress=false")
	require.NoError(t, err)
	assert.Contains(t, out, "VMF")
	assert.Contains(t, out, "DONE")
	metrics, err := os.ReadFile(filepath.Join(dir, "outputs", "metrics_test.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(metrics)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "VMF,text"), lines[1])
}

func TestRuns(t *testing.T) {
	dir := t.TempDir()
	input := writeRatings(t, dir)
	_, err := execute("search", "-c", writeConfig(t, dir, "temporal"), "-i", input, "--progress=false")
	require.NoError(t, err)
	sqlitePath := "sqlite://" + filepath.Join(dir, "popcorn.db")

	out, err := execute("runs", "--sqlite", sqlitePath)
	require.NoError(t, err)
	assert.Contains(t, out, "temporal")
	assert.Contains(t, out, "grid")

	store, err := storage.Open(sqlitePath)
	require.NoError(t, err)
	runs, err := store.ListRuns(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.Len(t, runs, 1)
	assert.Contains(t, out, runs[0].Id)

	out, err = execute("runs", "--sqlite", sqlitePath, runs[0].Id)
	require.NoError(t, err)
	assert.Contains(t, out, "suffix:\ttest")
	for _, text := range []string{"TopPop", "DONE", "*", "Recall@10"} {
		assert.Contains(t, out, text)
	}

	_, err = execute("runs", "--sqlite", sqlitePath, "missing")
	assert.True(t, errors.Is(err, errors.NotFound), err)
	_, err = execute("runs")
	assert.True(t, errors.Is(err, errors.NotValid), err)
}

func TestSearchUnsupportedSplit(t *testing.T) {
	dir := t.TempDir()
	input := writeRatings(t, dir)
	_, err := execute("search", "-c", writeConfig(t, dir, "stratified"), "-i", input)
	assert.True(t, errors.Is(err, errors.NotSupported), err)
	assert.NoFileExists(t, filepath.Join(dir, "outputs", "reclist_test.csv"))
}

func TestMissingInput(t *testing.T) {
	_, err := execute("search", "-i", filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
