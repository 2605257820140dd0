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


package base

import (
	"bufio"
	"strings"
	"unicode/utf8"

	"github.com/juju/errors"
)

const byteOrderMark = "\uFEFF"

// Escape quotes a csv cell holding a comma, a quote or a line break.
func Escape(text string) string {
	if !strings.ContainsAny(text, ",\"\r\n") {
		return text
	}
	return `"` + strings.ReplaceAll(text, `"`, `""`) + `"`
}

// FormatLine escapes fields and joins them into one csv line without a line break.
func FormatLine(fields []string) string {
	escaped := make([]string, len(fields))
	for i, field := range fields {
		escaped[i] = Escape(field)
	}
	return strings.Join(escaped, ",")
}

// recordParser collects the cells of a record that may span several physical lines.
type recordParser struct {
	sep    string
	fields []string
	cell   strings.Builder
	quoted bool
}

// feed parses a physical line and reports whether the record is complete.
func (p *recordParser) feed(line string) bool {
	if p.quoted {
		p.cell.WriteString("\r\n")
	}
	for len(line) > 0 {
		switch {
		case p.quoted && strings.HasPrefix(line, `""`):
			p.cell.WriteByte('"')
			line = line[2:]
		case line[0] == '"':
			p.quoted = !p.quoted
			line = line[1:]
		case !p.quoted && strings.HasPrefix(line, p.sep):
			p.fields = append(p.fields, p.cell.String())
			p.cell.Reset()
			line = line[len(p.sep):]
		default:
			r, size := utf8.DecodeRuneInString(line)
			p.cell.WriteRune(r)
			line = line[size:]
		}
	}
	return !p.quoted
}

func (p *recordParser) flush() []string {
	fields := append(p.fields, p.cell.String())
	p.fields = nil
	p.cell.Reset()
	return fields
}

// ReadLines parses csv records and passes each one with its record number to handler
// until handler returns false. The separator may be longer than one character, e.g.
// "::". Quoted cells may hold separators and line breaks. A leading byte order mark is
// skipped.
func ReadLines(sc *bufio.Scanner, sep string, handler func(int, []string) bool) error {
	if sep == "" {
		sep = ","
	}
	parser := recordParser{sep: sep}
	for recordCount, lineCount := 0, 0; sc.Scan(); lineCount++ {
		line := sc.Text()
		if lineCount == 0 {
			line = strings.TrimPrefix(line, byteOrderMark)
		}
		if !parser.feed(line) {
			continue
		}
		if !handler(recordCount, parser.flush()) {
			return nil
		}
		recordCount++
	}
	if err := sc.Err(); err != nil {
		return errors.Trace(err)
	}
	if parser.quoted {
		return errors.NotValidf("unterminated quoted cell")
	}
	return nil
}
