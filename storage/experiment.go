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


package storage

import (
	"context"
	"database/sql"
	"math"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/popcorn-rec/popcorn/base/json"
	"github.com/popcorn-rec/popcorn/evaluator"
	"github.com/popcorn-rec/popcorn/search"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	_ "modernc.org/sqlite"
)

const SQLitePrefix = "sqlite://"

// timeLayout has a fixed width so that timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run is one invocation of the harness.
type Run struct {
	Id        string
	Suffix    string
	Config    string
	CreatedAt time.Time
}

// TrialRecord is a stored trial. Branches without trials are stored with Index -1.
type TrialRecord struct {
	RunId    string
	Model    string
	Variant  string
	State    string
	Index    int
	Params   string
	Score    float64
	Duration time.Duration
	Selected bool
	Error    string
}

// MetricRecord is one aggregate metric of a (model, variant) group.
type MetricRecord struct {
	RunId   string
	Model   string
	Variant string
	Metric  string
	Value   float64
}

// Store records runs, trials and aggregate metrics in SQLite.
type Store struct {
	db *sql.DB
}

// Open a store. The path may carry the sqlite:// prefix.
func Open(path string) (*Store, error) {
	path = strings.TrimPrefix(path, SQLitePrefix)
	if path == "" {
		return nil, errors.NotValidf("empty sqlite path")
	}
	db, err := otelsql.Open("sqlite", path,
		otelsql.WithAttributes(semconv.DBSystemSqlite),
		otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
	)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Store{db: db}, nil
}

// Init creates tables if they do not exist.
func (s *Store) Init() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT NOT NULL PRIMARY KEY,
		suffix TEXT NOT NULL DEFAULT '',
		config TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`); err != nil {
		return errors.Trace(err)
	}
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS trials (
		run_id TEXT NOT NULL,
		model TEXT NOT NULL,
		variant TEXT NOT NULL,
		state TEXT NOT NULL,
		trial_index INTEGER NOT NULL,
		params TEXT NOT NULL DEFAULT '{}',
		score REAL,
		duration INTEGER NOT NULL DEFAULT 0,
		selected INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, model, variant, trial_index)
	)`); err != nil {
		return errors.Trace(err)
	}
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS metrics (
		run_id TEXT NOT NULL,
		model TEXT NOT NULL,
		variant TEXT NOT NULL,
		metric TEXT NOT NULL,
		value REAL,
		PRIMARY KEY (run_id, model, variant, metric)
	)`); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a run and returns its identifier.
func (s *Store) CreateRun(ctx context.Context, suffix, config string) (string, error) {
	id := uuid.New().String()
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO runs(run_id, suffix, config, created_at) VALUES (?, ?, ?, ?)",
		id, suffix, config, time.Now().UTC().Format(timeLayout)); err != nil {
		return "", errors.Trace(err)
	}
	return id, nil
}

// Decode parses the configuration the run was started with.
func (r *Run) Decode(v any) error {
	if err := json.Unmarshal([]byte(r.Config), v); err != nil {
		return errors.Annotatef(err, "decode config of run %v", r.Id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run       Run
		createdAt string
	)
	if err := row.Scan(&run.Id, &run.Suffix, &run.Config, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if run.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, errors.Trace(err)
	}
	return &run, nil
}

// GetRun returns a run by identifier.
func (s *Store) GetRun(ctx context.Context, runId string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx,
		"SELECT run_id, suffix, config, created_at FROM runs WHERE run_id = ?", runId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundf("run %v", runId)
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	return run, nil
}

// ListRuns returns runs from the oldest to the newest.
func (s *Store) ListRuns(ctx context.Context) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT run_id, suffix, config, created_at FROM runs ORDER BY created_at, run_id")
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()
	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Trace(err)
		}
		runs = append(runs, run)
	}
	return runs, errors.Trace(rows.Err())
}

// InsertTrials stores every trial of a search report in one transaction.
func (s *Store) InsertTrials(ctx context.Context, runId string, report *search.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Trace(err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO trials(run_id, model, variant, state, trial_index,
		params, score, duration, selected, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Trace(err)
	}
	defer stmt.Close()
	for _, record := range TrialRecords(runId, report) {
		if _, err = stmt.ExecContext(ctx, record.RunId, record.Model, record.Variant, record.State,
			record.Index, record.Params, nullable(record.Score), record.Duration.Milliseconds(),
			record.Selected, record.Error); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(tx.Commit())
}

// TrialRecords flattens a search report into rows.
func TrialRecords(runId string, report *search.Report) []TrialRecord {
	var records []TrialRecord
	for _, result := range report.Results {
		var message string
		if result.Err != nil {
			message = result.Err.Error()
		}
		if len(result.Trials) == 0 {
			records = append(records, TrialRecord{
				RunId:   runId,
				Model:   result.Group.Model,
				Variant: result.Group.Variant,
				State:   result.State.String(),
				Index:   -1,
				Params:  "{}",
				Score:   math.NaN(),
				Error:   message,
			})
			continue
		}
		for _, trial := range result.Trials {
			records = append(records, TrialRecord{
				RunId:    runId,
				Model:    result.Group.Model,
				Variant:  result.Group.Variant,
				State:    result.State.String(),
				Index:    trial.Index,
				Params:   trial.Params.String(),
				Score:    trial.Score,
				Duration: trial.Duration,
				Selected: trial.Index == result.BestIndex,
				Error:    message,
			})
		}
	}
	return records
}

// ListTrials returns trials of a run ordered by (model, variant, index).
func (s *Store) ListTrials(ctx context.Context, runId string) ([]TrialRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, model, variant, state, trial_index, params,
		score, duration, selected, error FROM trials WHERE run_id = ? ORDER BY model, variant, trial_index`, runId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()
	var records []TrialRecord
	for rows.Next() {
		var (
			record   TrialRecord
			score    sql.NullFloat64
			duration int64
		)
		if err = rows.Scan(&record.RunId, &record.Model, &record.Variant, &record.State, &record.Index,
			&record.Params, &score, &duration, &record.Selected, &record.Error); err != nil {
			return nil, errors.Trace(err)
		}
		record.Score = fromNullable(score)
		record.Duration = time.Duration(duration) * time.Millisecond
		records = append(records, record)
	}
	return records, errors.Trace(rows.Err())
}

// InsertMetrics stores aggregate metrics, one row per (group, metric).
func (s *Store) InsertMetrics(ctx context.Context, runId string, topN int, summaries []evaluator.Summary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Trace(err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO metrics(run_id, model, variant, metric, value) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return errors.Trace(err)
	}
	defer stmt.Close()
	for _, summary := range summaries {
		for _, code := range evaluator.Codes {
			if _, err = stmt.ExecContext(ctx, runId, summary.Model, summary.Variant,
				code.Name(topN), nullable(summary.Get(code))); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return errors.Trace(tx.Commit())
}

// ListMetrics returns metrics of a run ordered by (model, variant, metric).
func (s *Store) ListMetrics(ctx context.Context, runId string) ([]MetricRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id, model, variant, metric, value FROM metrics WHERE run_id = ? ORDER BY model, variant, metric", runId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()
	var records []MetricRecord
	for rows.Next() {
		var (
			record MetricRecord
			value  sql.NullFloat64
		)
		if err = rows.Scan(&record.RunId, &record.Model, &record.Variant, &record.Metric, &value); err != nil {
			return nil, errors.Trace(err)
		}
		record.Value = fromNullable(value)
		records = append(records, record)
	}
	return records, errors.Trace(rows.Err())
}

// SQLite has no NaN, so it is stored as NULL.
func nullable(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
}

func fromNullable(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
