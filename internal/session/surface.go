/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package session binds the macro scanners to one editing surface: it keeps
// command and evidence widgets in sync with the cursor and the buffer, turns
// widget clicks into requests to the authoring service and applies the
// service's answers to the buffer.
package session

import "storylens/internal/domain"

// WidgetHandle identifies a widget attached to a surface.
type WidgetHandle int

// Surface is the text editor the session decorates. Offsets are byte offsets
// into Text(); ReplaceRange replaces the half-open range [start, end).
//
// AttachWidget and DetachWidget must not emit events synchronously.
// ReplaceRange may: the session never holds its lock while calling it.
// CursorOffset and Text are called under the session lock and must not call
// back into the session.
type Surface interface {
	CursorOffset() int
	Text() string
	ReplaceRange(start, end int, text string) error
	AttachWidget(offset int, w Widget) WidgetHandle
	DetachWidget(h WidgetHandle)
	OnCursorActivity(fn func()) (cancel func())
	OnChange(fn func()) (cancel func())
}

// Documents is the story model behind the surface. ActiveStory returns a
// snapshot, or nil when no story is open.
type Documents interface {
	ActiveStory() (*domain.Story, error)
	UpdatePassages(updates []domain.PassageUpdate) error
}
