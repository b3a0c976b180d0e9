/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package messaging defines the messages exchanged with the authoring service
// and the channels that carry them.
//
// Messages form a closed set. Inbound messages are dispatched through an
// InboundHandler with one method per kind, so a new inbound kind does not
// compile until every handler supports it.
package messaging

import (
	"errors"
	"fmt"

	"storylens/internal/datamap"
	"storylens/internal/macro"
)

// Kind is the wire name of a message.
type Kind string

// Outbound kinds, sent by the editor side.
const (
	KindMountDone       Kind = "mount-done"
	KindInitiationDone  Kind = "initiation-done"
	KindExportResponse  Kind = "export-response"
	KindCommandEdit     Kind = "command-edit"
	KindGeneratePassage Kind = "generate-passage"
	KindEditEvidence    Kind = "edit-evidence"
)

// Inbound kinds, sent by the authoring service.
const (
	KindInitiate                Kind = "initiate"
	KindExport                  Kind = "export"
	KindUpdateData              Kind = "update-data"
	KindUpdatePrefs             Kind = "update-prefs"
	KindCommandEditResponse     Kind = "command-edit-response"
	KindGeneratePassageResponse Kind = "generate-passage-response"
)

// ErrUnknownKind is returned for envelopes naming a kind outside the closed set.
var ErrUnknownKind = errors.New("unknown message kind")

// Message is any message of the closed set.
type Message interface {
	Kind() Kind
	message()
}

// Inbound is a message the editor side receives.
type Inbound interface {
	Message
	dispatch(InboundHandler) error
}

// InboundHandler reacts to every inbound kind.
type InboundHandler interface {
	HandleInitiate(Initiate) error
	HandleExport(Export) error
	HandleUpdateData(UpdateData) error
	HandleUpdatePrefs(UpdatePrefs) error
	HandleCommandEditResponse(CommandEditResponse) error
	HandleGeneratePassageResponse(GeneratePassageResponse) error
}

// Dispatch routes m to the matching handler method.
func Dispatch(h InboundHandler, m Message) error {
	in, ok := m.(Inbound)
	if !ok {
		return fmt.Errorf("%w: %s is not an inbound message", ErrUnknownKind, m.Kind())
	}
	return in.dispatch(h)
}

// MountDone announces that the editor side is ready to be initiated.
type MountDone struct{}

// InitiationDone confirms that an Initiate message was applied.
type InitiationDone struct{}

// ExportResponse carries the story as Twee source.
type ExportResponse struct {
	Source string `json:"source"`
}

// CommandEditRequest asks the service to edit or create a command. Start and
// End form the half-open byte range the answer will replace; InitialValue is
// nil when a new command is created at the cursor.
type CommandEditRequest struct {
	Command      macro.CommandType `json:"command"`
	InitialValue *string           `json:"initialValue"`
	Start        int               `json:"startPosition"`
	End          int               `json:"endPosition"`
	PassageName  string            `json:"currentPassageName,omitempty"`
}

// PassageContent is one passage listed in a generate request.
type PassageContent struct {
	ID      string `json:"uid"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// GeneratePassageRequest asks the service to write the text of a passage.
type GeneratePassageRequest struct {
	Passages         []PassageContent `json:"passages"`
	CurrentPassageID string           `json:"currentPassageUid"`
}

// EditEvidenceRequest asks the service to open an evidence item.
type EditEvidenceRequest struct {
	EvidenceName string `json:"evidenceName"`
}

// Initiate resets the editor side. Source, when set, is a Twee story to load;
// otherwise a fresh story is built from Evidence.
type Initiate struct {
	Theme    string            `json:"theme,omitempty"`
	Source   *string           `json:"source,omitempty"`
	Evidence *datamap.Evidence `json:"evidence,omitempty"`
}

// Export asks for the current story as Twee source.
type Export struct{}

// UpdateData replaces the evidence data passage.
type UpdateData struct {
	Evidence datamap.Evidence `json:"evidence"`
}

// UpdatePrefs changes editor preferences.
type UpdatePrefs struct {
	Theme string `json:"theme"`
}

// CommandEditResponse answers a CommandEditRequest. The optional contents
// replace the Images and Mappers passages.
type CommandEditResponse struct {
	Value                 string  `json:"value"`
	Start                 int     `json:"startPosition"`
	End                   int     `json:"endPosition"`
	ImagesPassageContent  *string `json:"imagesPassageContent,omitempty"`
	MappersPassageContent *string `json:"mappersPassageContent,omitempty"`
}

// GeneratePassageResponse answers a GeneratePassageRequest.
type GeneratePassageResponse struct {
	Content               string  `json:"content"`
	CurrentPassageID      string  `json:"currentPassageUid"`
	MappersPassageContent *string `json:"mappersPassageContent,omitempty"`
}

func (MountDone) Kind() Kind               { return KindMountDone }
func (InitiationDone) Kind() Kind          { return KindInitiationDone }
func (ExportResponse) Kind() Kind          { return KindExportResponse }
func (CommandEditRequest) Kind() Kind      { return KindCommandEdit }
func (GeneratePassageRequest) Kind() Kind  { return KindGeneratePassage }
func (EditEvidenceRequest) Kind() Kind     { return KindEditEvidence }
func (Initiate) Kind() Kind                { return KindInitiate }
func (Export) Kind() Kind                  { return KindExport }
func (UpdateData) Kind() Kind              { return KindUpdateData }
func (UpdatePrefs) Kind() Kind             { return KindUpdatePrefs }
func (CommandEditResponse) Kind() Kind     { return KindCommandEditResponse }
func (GeneratePassageResponse) Kind() Kind { return KindGeneratePassageResponse }

func (MountDone) message()               {}
func (InitiationDone) message()          {}
func (ExportResponse) message()          {}
func (CommandEditRequest) message()      {}
func (GeneratePassageRequest) message()  {}
func (EditEvidenceRequest) message()     {}
func (Initiate) message()                {}
func (Export) message()                  {}
func (UpdateData) message()              {}
func (UpdatePrefs) message()             {}
func (CommandEditResponse) message()     {}
func (GeneratePassageResponse) message() {}

func (m Initiate) dispatch(h InboundHandler) error    { return h.HandleInitiate(m) }
func (m Export) dispatch(h InboundHandler) error      { return h.HandleExport(m) }
func (m UpdateData) dispatch(h InboundHandler) error  { return h.HandleUpdateData(m) }
func (m UpdatePrefs) dispatch(h InboundHandler) error { return h.HandleUpdatePrefs(m) }
func (m CommandEditResponse) dispatch(h InboundHandler) error {
	return h.HandleCommandEditResponse(m)
}
func (m GeneratePassageResponse) dispatch(h InboundHandler) error {
	return h.HandleGeneratePassageResponse(m)
}
