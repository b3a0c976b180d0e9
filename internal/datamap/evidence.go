/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package datamap turns the evidence payload of the authoring service into the
// macro source of the generated system passages.
package datamap

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gojsonschema "github.com/xeipuuv/gojsonschema"
)

//go:embed evidence.schema.json
var evidenceSchema []byte

var schemaLoader = gojsonschema.NewBytesLoader(evidenceSchema)

// Field is one key/value pair of an evidence record.
type Field struct {
	Key   string
	Value string
}

// Record is an evidence item. Field order follows the source JSON object and
// is kept when the record is rendered.
type Record []Field

// Get returns the value stored under key.
func (r Record) Get(key string) (string, bool) {
	for _, f := range r {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// UnmarshalJSON decodes an object into ordered fields. Scalar values are kept
// in their textual form.
func (r *Record) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("evidence record must be an object")
	}
	var out Record
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := kt.(string)
		vt, err := dec.Token()
		if err != nil {
			return err
		}
		var val string
		switch v := vt.(type) {
		case string:
			val = v
		case json.Number:
			val = v.String()
		case bool:
			val = fmt.Sprint(v)
		case nil:
			val = "null"
		default:
			return fmt.Errorf("evidence field %q must be a scalar", key)
		}
		out = append(out, Field{Key: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = out
	return nil
}

// MarshalJSON writes the fields as an object in their stored order.
func (r Record) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			b.WriteByte(',')
		}
		k, _ := json.Marshal(f.Key)
		v, _ := json.Marshal(f.Value)
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// Evidence is the evidence payload sent along with initiate and update-data.
// Missing lists are treated as empty.
type Evidence struct {
	Messages        []Record `json:"messages"`
	Photos          []Record `json:"photos"`
	Reports         []Record `json:"reports"`
	Witnesses       []Record `json:"witnesses"`
	Character       []Record `json:"character"`
	VoiceRecordings []Record `json:"voiceRecordings"`
	Interviews      []Record `json:"interviews"`
	Victims         []Record `json:"victims"`
	Introductions   []Record `json:"introductions"`
}

// Category pairs a macro variable with its evidence list.
type Category struct {
	Variable string
	Items    []Record
}

// Categories returns the evidence lists in their canonical order.
func (e Evidence) Categories() []Category {
	return []Category{
		{"$messages_evidence", e.Messages},
		{"$photos_evidence", e.Photos},
		{"$reports_evidence", e.Reports},
		{"$witnesses_evidence", e.Witnesses},
		{"$character_evidence", e.Character},
		{"$voice_recordings_evidence", e.VoiceRecordings},
		{"$interviews_evidence", e.Interviews},
		{"$victims_evidence", e.Victims},
		{"$introductions_evidence", e.Introductions},
	}
}

// Len returns the total number of evidence records.
func (e Evidence) Len() int {
	n := 0
	for _, c := range e.Categories() {
		n += len(c.Items)
	}
	return n
}

// ValidateJSON checks raw JSON against the evidence schema.
func ValidateJSON(data []byte) error {
	res, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validate evidence: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid evidence payload: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// ParseEvidence validates and decodes an evidence payload.
func ParseEvidence(data []byte) (Evidence, error) {
	if err := ValidateJSON(data); err != nil {
		return Evidence{}, err
	}
	var e Evidence
	if err := json.Unmarshal(data, &e); err != nil {
		return Evidence{}, fmt.Errorf("decode evidence: %w", err)
	}
	return e, nil
}
