/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package undo keeps per-passage text history for replacements applied from
// outside the editor (authoring service answers, command removal).
package undo

import (
	"sync"
	"time"
)

// Entry is one recorded buffer state of a passage.
type Entry struct {
	PassageID string
	Text      string
	TS        time.Time
}

// Config controls memory and depth caps and coalescing behavior.
type Config struct {
	// MaxBytes is a soft cap; older entries are pruned when exceeded.
	MaxBytes int
	// MaxPerPassage limits entries kept per passage (0 means unlimited).
	MaxPerPassage int
	// MinInterval merges records taken within the interval for the same
	// passage into one step; the oldest text of the burst is kept.
	MinInterval time.Duration
}

// Manager provides an in-memory undo/redo history per passage.
// It is safe for concurrent use.
type Manager struct {
	cfg Config
	mu  sync.Mutex

	undo map[string][]Entry
	redo map[string][]Entry

	totalBytes int
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 4 * 1024 * 1024
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	return &Manager{cfg: cfg, undo: make(map[string][]Entry), redo: make(map[string][]Entry)}
}

// Record stores the text a passage had before a change. Any recorded change
// clears the redo history of that passage.
func (m *Manager) Record(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropRedoLocked(e.PassageID)
	stack := m.undo[e.PassageID]
	if n := len(stack); n > 0 && m.cfg.MinInterval > 0 && e.TS.Sub(stack[n-1].TS) < m.cfg.MinInterval {
		// Same burst: keep the older text, extend the window.
		stack[n-1].TS = e.TS
		return
	}
	m.undo[e.PassageID] = append(stack, e)
	m.totalBytes += len(e.Text)
	m.enforceCapsLocked(e.PassageID)
}

// Undo returns the text to restore for a passage. current is the text being
// replaced; it becomes available to Redo.
func (m *Manager) Undo(passageID, current string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stack := m.undo[passageID]
	if len(stack) == 0 {
		return Entry{}, false
	}
	e := stack[len(stack)-1]
	m.undo[passageID] = stack[:len(stack)-1]
	m.totalBytes -= len(e.Text)
	m.redo[passageID] = append(m.redo[passageID], Entry{PassageID: passageID, Text: current, TS: time.Now()})
	m.totalBytes += len(current)
	m.enforceCapsLocked(passageID)
	return e, true
}

// Redo reverses the last Undo for a passage.
func (m *Manager) Redo(passageID, current string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.redo[passageID]
	if len(r) == 0 {
		return Entry{}, false
	}
	e := r[len(r)-1]
	m.redo[passageID] = r[:len(r)-1]
	m.totalBytes -= len(e.Text)
	m.undo[passageID] = append(m.undo[passageID], Entry{PassageID: passageID, Text: current, TS: time.Now()})
	m.totalBytes += len(current)
	m.enforceCapsLocked(passageID)
	return e, true
}

// Clear drops the history of a passage.
func (m *Manager) Clear(passageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.undo[passageID] {
		m.totalBytes -= len(e.Text)
	}
	m.dropRedoLocked(passageID)
	delete(m.undo, passageID)
	if m.totalBytes < 0 {
		m.totalBytes = 0
	}
}

// Stats returns current sizes for diagnostics.
func (m *Manager) Stats() (totalBytes int, passages int, entries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	passages = len(m.undo)
	for _, v := range m.undo {
		entries += len(v)
	}
	return m.totalBytes, passages, entries
}

func (m *Manager) dropRedoLocked(passageID string) {
	for _, e := range m.redo[passageID] {
		m.totalBytes -= len(e.Text)
	}
	delete(m.redo, passageID)
}

func (m *Manager) enforceCapsLocked(passageID string) {
	if m.cfg.MaxPerPassage > 0 {
		stack := m.undo[passageID]
		if len(stack) > m.cfg.MaxPerPassage {
			toDrop := len(stack) - m.cfg.MaxPerPassage
			for i := 0; i < toDrop; i++ {
				m.totalBytes -= len(stack[i].Text)
			}
			m.undo[passageID] = append([]Entry{}, stack[toDrop:]...)
		}
	}
	// Global memory cap: prune the oldest undo entries across passages.
	for m.cfg.MaxBytes > 0 && m.totalBytes > m.cfg.MaxBytes {
		oldest := ""
		found := false
		var oldestTS time.Time
		for id, stack := range m.undo {
			if len(stack) == 0 {
				continue
			}
			if !found || stack[0].TS.Before(oldestTS) {
				oldest, oldestTS, found = id, stack[0].TS, true
			}
		}
		if !found {
			break
		}
		stack := m.undo[oldest]
		m.totalBytes -= len(stack[0].Text)
		m.undo[oldest] = stack[1:]
		if len(m.undo[oldest]) == 0 {
			delete(m.undo, oldest)
		}
	}
}
