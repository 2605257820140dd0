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


// Package json encodes the JSON cells of exported files and stored records.
package json

import (
	"bytes"
	"encoding/json"
)

// Marshal returns compact JSON with sorted map keys. HTML characters are kept as is so
// that item ids read the same in csv cells.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// MarshalString returns the JSON text of v or fallback if v cannot be encoded.
func MarshalString(v any, fallback string) string {
	data, err := Marshal(v)
	if err != nil {
		return fallback
	}
	return string(data)
}

// Unmarshal parses JSON into v. Empty data is read as null.
func Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		data = []byte("null")
	}
	return json.Unmarshal(data, v)
}
