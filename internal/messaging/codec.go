/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package messaging

import (
	"encoding/json"
	"fmt"
	"sync"

	gojsonschema "github.com/xeipuuv/gojsonschema"

	"storylens/internal/datamap"
)

// Envelope is the wire form of every message.
type Envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode wraps m into its JSON envelope.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return json.Marshal(Envelope{Type: m.Kind(), Data: data})
}

// Decode parses an envelope. Inbound payloads are validated against their
// schema before they are decoded.
func Decode(b []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		env.Data = json.RawMessage("{}")
	}
	if err := validate(env); err != nil {
		return nil, err
	}
	var m Message
	switch env.Type {
	case KindMountDone:
		m = &MountDone{}
	case KindInitiationDone:
		m = &InitiationDone{}
	case KindExportResponse:
		m = &ExportResponse{}
	case KindCommandEdit:
		m = &CommandEditRequest{}
	case KindGeneratePassage:
		m = &GeneratePassageRequest{}
	case KindEditEvidence:
		m = &EditEvidenceRequest{}
	case KindInitiate:
		m = &Initiate{}
	case KindExport:
		m = &Export{}
	case KindUpdateData:
		m = &UpdateData{}
	case KindUpdatePrefs:
		m = &UpdatePrefs{}
	case KindCommandEditResponse:
		m = &CommandEditResponse{}
	case KindGeneratePassageResponse:
		m = &GeneratePassageResponse{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
	if err := json.Unmarshal(env.Data, m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return deref(m), nil
}

// deref turns the decode target back into the value form handlers expect.
func deref(m Message) Message {
	switch v := m.(type) {
	case *MountDone:
		return *v
	case *InitiationDone:
		return *v
	case *ExportResponse:
		return *v
	case *CommandEditRequest:
		return *v
	case *GeneratePassageRequest:
		return *v
	case *EditEvidenceRequest:
		return *v
	case *Initiate:
		return *v
	case *Export:
		return *v
	case *UpdateData:
		return *v
	case *UpdatePrefs:
		return *v
	case *CommandEditResponse:
		return *v
	case *GeneratePassageResponse:
		return *v
	}
	return m
}

var inboundSchemas = map[Kind]string{
	KindInitiate: `{
		"type": "object",
		"properties": {
			"theme": {"type": "string"},
			"source": {"type": "string"},
			"evidence": {"type": "object"}
		},
		"anyOf": [{"required": ["source"]}, {"required": ["evidence"]}]
	}`,
	KindExport: `{"type": "object"}`,
	KindUpdateData: `{
		"type": "object",
		"required": ["evidence"],
		"properties": {"evidence": {"type": "object"}}
	}`,
	KindUpdatePrefs: `{
		"type": "object",
		"required": ["theme"],
		"properties": {"theme": {"type": "string"}}
	}`,
	KindCommandEditResponse: `{
		"type": "object",
		"required": ["value", "startPosition", "endPosition"],
		"properties": {
			"value": {"type": "string"},
			"startPosition": {"type": "integer", "minimum": 0},
			"endPosition": {"type": "integer", "minimum": 0},
			"imagesPassageContent": {"type": "string"},
			"mappersPassageContent": {"type": "string"}
		}
	}`,
	KindGeneratePassageResponse: `{
		"type": "object",
		"required": ["content", "currentPassageUid"],
		"properties": {
			"content": {"type": "string"},
			"currentPassageUid": {"type": "string"},
			"mappersPassageContent": {"type": "string"}
		}
	}`,
}

var (
	compileOnce sync.Once
	compiled    map[Kind]*gojsonschema.Schema
	compileErr  error
)

func schemaFor(k Kind) (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled = make(map[Kind]*gojsonschema.Schema, len(inboundSchemas))
		for kind, src := range inboundSchemas {
			s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", kind, err)
				return
			}
			compiled[kind] = s
		}
	})
	return compiled[k], compileErr
}

func validate(env Envelope) error {
	s, err := schemaFor(env.Type)
	if err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	res, err := s.Validate(gojsonschema.NewBytesLoader(env.Data))
	if err != nil {
		return fmt.Errorf("validate %s: %w", env.Type, err)
	}
	if !res.Valid() {
		return fmt.Errorf("invalid %s payload: %v", env.Type, res.Errors())
	}
	switch env.Type {
	case KindInitiate, KindUpdateData:
		var probe struct {
			Evidence json.RawMessage `json:"evidence"`
		}
		if err := json.Unmarshal(env.Data, &probe); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if len(probe.Evidence) > 0 {
			return datamap.ValidateJSON(probe.Evidence)
		}
	}
	return nil
}
