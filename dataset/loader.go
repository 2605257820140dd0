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

package dataset

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/juju/errors"
	"github.com/popcorn-rec/popcorn/base"
	"github.com/popcorn-rec/popcorn/common/log"
	"go.uber.org/zap"
)

// GenreSeparator separates labels inside the genres column.
const GenreSeparator = "|"

// CSVOptions describes the layout of input files.
type CSVOptions struct {
	Sep    string
	Header bool
}

// DefaultCSVOptions reads comma separated files with a header line.
var DefaultCSVOptions = CSVOptions{Sep: ",", Header: true}

func (opts CSVOptions) read(r io.Reader, handler func(lineNumber int, fields []string) error) error {
	sep := opts.Sep
	if sep == "" {
		sep = ","
	}
	var handlerErr error
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	err := base.ReadLines(sc, sep, func(lineNumber int, fields []string) bool {
		if opts.Header && lineNumber == 0 {
			return true
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			return true
		}
		if err := handler(lineNumber+1, fields); err != nil {
			handlerErr = err
			return false
		}
		return true
	})
	if handlerErr != nil {
		return handlerErr
	}
	return errors.Trace(err)
}

// ReadInteractions parses records with columns user_id, item_id, rating and timestamp.
// Timestamps are Unix seconds or dates such as 2006-01-02 15:04:05.
// Rating defaults to 1 and timestamp to 0 when the columns are absent.
func ReadInteractions(r io.Reader, opts CSVOptions) (InteractionSet, error) {
	var set InteractionSet
	err := opts.read(r, func(lineNumber int, fields []string) error {
		if len(fields) < 2 {
			return errors.NotValidf("line %d with %d fields", lineNumber, len(fields))
		}
		record := Interaction{
			UserId: strings.TrimSpace(fields[0]),
			ItemId: strings.TrimSpace(fields[1]),
			Rating: 1,
		}
		if len(fields) > 2 && strings.TrimSpace(fields[2]) != "" {
			rating, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 32)
			if err != nil {
				return errors.NotValidf("line %d rating %q", lineNumber, fields[2])
			}
			record.Rating = float32(rating)
		}
		if len(fields) > 3 && strings.TrimSpace(fields[3]) != "" {
			timestamp, err := parseTimestamp(strings.TrimSpace(fields[3]))
			if err != nil {
				return errors.NotValidf("line %d timestamp %q", lineNumber, fields[3])
			}
			record.Timestamp = timestamp
		}
		set = append(set, record)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// parseTimestamp accepts Unix seconds or any date layout known to dateparse.
func parseTimestamp(text string) (int64, error) {
	if timestamp, err := strconv.ParseInt(text, 10, 64); err == nil {
		return timestamp, nil
	}
	t, err := dateparse.ParseAny(text)
	if err != nil {
		return 0, errors.Trace(err)
	}
	return t.Unix(), nil
}

// ReadGenres parses a genre catalog with columns item_id and genres.
func ReadGenres(r io.Reader, opts CSVOptions) (GenreCatalog, error) {
	catalog := make(GenreCatalog)
	err := opts.read(r, func(lineNumber int, fields []string) error {
		if len(fields) < 2 {
			return errors.NotValidf("line %d with %d fields", lineNumber, len(fields))
		}
		var labels []string
		for _, label := range strings.Split(fields[1], GenreSeparator) {
			if label = strings.TrimSpace(label); label != "" {
				labels = append(labels, label)
			}
		}
		catalog[strings.TrimSpace(fields[0])] = labels
		return nil
	})
	if err != nil {
		return nil, err
	}
	return catalog, nil
}

// ReadModality parses a feature matrix with columns item_id, f1, f2, ...
func ReadModality(name string, r io.Reader, opts CSVOptions) (*Modality, error) {
	var (
		itemIds  []string
		features [][]float32
	)
	err := opts.read(r, func(lineNumber int, fields []string) error {
		if len(fields) < 2 {
			return errors.NotValidf("line %d with %d fields", lineNumber, len(fields))
		}
		row := make([]float32, len(fields)-1)
		for i, field := range fields[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
			if err != nil {
				return errors.NotValidf("line %d feature %q", lineNumber, field)
			}
			row[i] = float32(v)
		}
		itemIds = append(itemIds, strings.TrimSpace(fields[0]))
		features = append(features, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewModality(name, itemIds, features)
}

func LoadInteractionsCSV(path string, opts CSVOptions) (InteractionSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	set, err := ReadInteractions(file, opts)
	if err != nil {
		return nil, errors.Annotatef(err, "load %s", path)
	}
	log.Logger().Info("load interactions", zap.String("path", path), zap.Int("records", len(set)))
	return set, nil
}

func LoadGenreCSV(path string, opts CSVOptions) (GenreCatalog, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	catalog, err := ReadGenres(file, opts)
	if err != nil {
		return nil, errors.Annotatef(err, "load %s", path)
	}
	log.Logger().Info("load genres", zap.String("path", path), zap.Int("items", len(catalog)))
	return catalog, nil
}

func LoadModalityCSV(name, path string, opts CSVOptions) (*Modality, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	m, err := ReadModality(name, file, opts)
	if err != nil {
		return nil, errors.Annotatef(err, "load %s", path)
	}
	log.Logger().Info("load modality",
		zap.String("name", name),
		zap.String("path", path),
		zap.Int("items", m.Len()),
		zap.Int("dim", m.Dim()))
	return m, nil
}

// WriteInteractions writes comma separated records with a header line.
func WriteInteractions(w io.Writer, set InteractionSet) error {
	writer := bufio.NewWriter(w)
	if _, err := writer.WriteString(base.FormatLine([]string{"user_id", "item_id", "rating", "timestamp"}) + "\n"); err != nil {
		return errors.Trace(err)
	}
	for _, r := range set {
		line := base.FormatLine([]string{
			r.UserId,
			r.ItemId,
			strconv.FormatFloat(float64(r.Rating), 'g', -1, 32),
			strconv.FormatInt(r.Timestamp, 10),
		})
		if _, err := writer.WriteString(line + "\n"); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(writer.Flush())
}

func SaveInteractionsCSV(path string, set InteractionSet) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer file.Close()
	if err = WriteInteractions(file, set); err != nil {
		return errors.Annotatef(err, "save %s", path)
	}
	log.Logger().Info("save interactions", zap.String("path", path), zap.Int("records", len(set)))
	return nil
}
