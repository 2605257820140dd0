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


package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/juju/errors"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet(t *testing.T, values map[string]string) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(flagSet)
	for name, value := range values {
		require.NoError(t, flagSet.Set(name, value))
	}
	return flagSet
}

func TestSetLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "popcorn.log")
	// production logger writes to file
	require.NoError(t, SetLogger(newFlagSet(t, map[string]string{"log-path": path}), false))
	Logger().Info("hello")
	Logger().Debug("hidden")
	_ = Logger().Sync()
	_, err := os.Stat(path)
	assert.NoError(t, err)
	// development logger
	require.NoError(t, SetLogger(newFlagSet(t, map[string]string{"log-path": path}), true))
	Logger().Debug("debug")
	_ = Logger().Sync()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), "debug")
	assert.NotContains(t, string(data), "hidden")
}

func TestLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "popcorn.log")
	require.NoError(t, SetLogger(newFlagSet(t, map[string]string{"log-path": path, "log-level": "warn"}), true))
	Logger().Info("info")
	Logger().Warn("warn")
	_ = Logger().Sync()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "\tinfo")
	assert.Contains(t, string(data), "\twarn")

	err = SetLogger(newFlagSet(t, map[string]string{"log-level": "loud"}), false)
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestBranchLogger(t *testing.T) {
	assert.NotNil(t, BranchLogger("BPR", "visual"))
}

func TestCloseLogger(t *testing.T) {
	defer func() {
		assert.NoError(t, SetLogger(newFlagSet(t, nil), false))
	}()
	CloseLogger()
	assert.False(t, Logger().Core().Enabled(0))
}
