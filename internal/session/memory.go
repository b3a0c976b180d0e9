/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"storylens/internal/domain"
)

// AttachedWidget is a widget as placed on a MemorySurface.
type AttachedWidget struct {
	Handle WidgetHandle
	Offset int
	Widget Widget
}

// MemorySurface is a plain in-memory editing surface. It backs the line
// editor of the CLI and the tests. Events are delivered synchronously.
type MemorySurface struct {
	mu      sync.Mutex
	text    string
	cursor  int
	next    WidgetHandle
	widgets map[WidgetHandle]AttachedWidget
	cursorL listeners
	changeL listeners
}

type listeners struct {
	next int
	fns  map[int]func()
}

func (l *listeners) add(fn func()) int {
	if l.fns == nil {
		l.fns = make(map[int]func())
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return id
}

func (l *listeners) snapshot() []func() {
	ids := make([]int, 0, len(l.fns))
	for id := range l.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(), 0, len(ids))
	for _, id := range ids {
		out = append(out, l.fns[id])
	}
	return out
}

// NewMemorySurface returns a surface holding text with the cursor at 0.
func NewMemorySurface(text string) *MemorySurface {
	return &MemorySurface{text: text, widgets: make(map[WidgetHandle]AttachedWidget)}
}

func (m *MemorySurface) CursorOffset() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

func (m *MemorySurface) Text() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text
}

// State returns the text and the cursor as one consistent pair.
func (m *MemorySurface) State() (string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, m.cursor
}

// SetCursor moves the cursor, clamped to the buffer, and emits cursor activity.
func (m *MemorySurface) SetCursor(off int) {
	m.mu.Lock()
	off = max(0, min(off, len(m.text)))
	m.cursor = off
	fns := m.cursorL.snapshot()
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// ReplaceRange replaces [start, end) and emits a change followed by cursor
// activity. A cursor behind the range shifts with it; one inside the range
// moves to the end of the inserted text.
func (m *MemorySurface) ReplaceRange(start, end int, text string) error {
	m.mu.Lock()
	if start < 0 || end < start || end > len(m.text) {
		n := len(m.text)
		m.mu.Unlock()
		return fmt.Errorf("range [%d, %d) outside buffer of %d bytes", start, end, n)
	}
	m.text = m.text[:start] + text + m.text[end:]
	switch {
	case m.cursor >= end:
		m.cursor += len(text) - (end - start)
	case m.cursor > start:
		m.cursor = start + len(text)
	}
	changes, cursors := m.changeL.snapshot(), m.cursorL.snapshot()
	m.mu.Unlock()
	for _, fn := range changes {
		fn()
	}
	for _, fn := range cursors {
		fn()
	}
	return nil
}

// Insert types text at the cursor.
func (m *MemorySurface) Insert(text string) error {
	c := m.CursorOffset()
	return m.ReplaceRange(c, c, text)
}

func (m *MemorySurface) AttachWidget(offset int, w Widget) WidgetHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.widgets[m.next] = AttachedWidget{Handle: m.next, Offset: offset, Widget: w}
	return m.next
}

func (m *MemorySurface) DetachWidget(h WidgetHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.widgets, h)
}

// Widgets returns the attached widgets ordered by offset, then by handle.
func (m *MemorySurface) Widgets() []AttachedWidget {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AttachedWidget, 0, len(m.widgets))
	for _, w := range m.widgets {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Offset != out[j].Offset {
			return out[i].Offset < out[j].Offset
		}
		return out[i].Handle < out[j].Handle
	})
	return out
}

func (m *MemorySurface) OnCursorActivity(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.cursorL.add(fn)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.cursorL.fns, id)
	}
}

func (m *MemorySurface) OnChange(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.changeL.add(fn)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.changeL.fns, id)
	}
}

// MemoryDocuments holds one story in memory.
type MemoryDocuments struct {
	mu    sync.Mutex
	story *domain.Story
}

// NewMemoryDocuments wraps st; a nil story means nothing is open.
func NewMemoryDocuments(st *domain.Story) *MemoryDocuments {
	return &MemoryDocuments{story: st}
}

// ActiveStory returns a copy of the story.
func (d *MemoryDocuments) ActiveStory() (*domain.Story, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.story == nil {
		return nil, nil
	}
	cp := *d.story
	cp.Passages = append([]domain.Passage(nil), d.story.Passages...)
	return &cp, nil
}

func (d *MemoryDocuments) UpdatePassages(updates []domain.PassageUpdate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.story == nil {
		return errors.New("no story open")
	}
	d.story.ApplyUpdates(updates)
	return nil
}

// Replace swaps the held story.
func (d *MemoryDocuments) Replace(st *domain.Story) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.story = st
	return nil
}
