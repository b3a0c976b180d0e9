/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package undo

import (
	"testing"
	"time"
)

func TestUndoRedoText(t *testing.T) {
	m := NewManager(Config{MaxBytes: 1024 * 1024, MaxPerPassage: 10, MinInterval: 10 * time.Millisecond})
	t0 := time.Now()
	m.Record(Entry{PassageID: "p", Text: "a", TS: t0})
	m.Record(Entry{PassageID: "p", Text: "b", TS: t0.Add(20 * time.Millisecond)})
	if _, passages, total := m.Stats(); passages != 1 || total != 2 {
		t.Fatalf("expected 1 passage and 2 entries, got passages=%d total=%d", passages, total)
	}
	e, ok := m.Undo("p", "c")
	if !ok || e.Text != "b" {
		t.Fatalf("undo expected 'b', got ok=%v text=%q", ok, e.Text)
	}
	e, ok = m.Redo("p", "b")
	if !ok || e.Text != "c" {
		t.Fatalf("redo expected 'c', got ok=%v text=%q", ok, e.Text)
	}
	e, ok = m.Undo("p", "c")
	if !ok || e.Text != "b" {
		t.Fatalf("second undo expected 'b', got ok=%v text=%q", ok, e.Text)
	}
}

func TestCoalesceKeepsOldestText(t *testing.T) {
	m := NewManager(Config{MinInterval: 50 * time.Millisecond})
	t0 := time.Now()
	m.Record(Entry{PassageID: "p", Text: "1", TS: t0})
	m.Record(Entry{PassageID: "p", Text: "2", TS: t0.Add(10 * time.Millisecond)})
	m.Record(Entry{PassageID: "p", Text: "3", TS: t0.Add(40 * time.Millisecond)})
	if _, _, total := m.Stats(); total != 1 {
		t.Fatalf("expected a single coalesced entry, got %d", total)
	}
	if e, _ := m.Undo("p", "4"); e.Text != "1" {
		t.Fatalf("expected oldest text, got %q", e.Text)
	}
}

func TestRecordClearsRedo(t *testing.T) {
	m := NewManager(Config{})
	m.Record(Entry{PassageID: "p", Text: "a", TS: time.Now()})
	m.Undo("p", "b")
	m.Record(Entry{PassageID: "p", Text: "c", TS: time.Now()})
	if _, ok := m.Redo("p", "d"); ok {
		t.Fatalf("redo must be cleared by a new record")
	}
}

func TestPerPassageCapAndClear(t *testing.T) {
	m := NewManager(Config{MaxPerPassage: 2})
	t0 := time.Now()
	for i, s := range []string{"x", "y", "z"} {
		m.Record(Entry{PassageID: "p", Text: s, TS: t0.Add(time.Duration(i) * time.Second)})
	}
	if _, _, total := m.Stats(); total != 2 {
		t.Fatalf("expected cap of 2, got %d", total)
	}
	m.Clear("p")
	tb, passages, total := m.Stats()
	if tb != 0 || passages != 0 || total != 0 {
		t.Fatalf("expected cleared stats, got tb=%d passages=%d total=%d", tb, passages, total)
	}
}

func TestGlobalPruneAcrossPassages(t *testing.T) {
	m := NewManager(Config{MaxBytes: 8})
	t0 := time.Now()
	m.Record(Entry{PassageID: "one", Text: "xxxx", TS: t0})
	m.Record(Entry{PassageID: "two", Text: "yyyy", TS: t0.Add(time.Second)})
	m.Record(Entry{PassageID: "two", Text: "zzzz", TS: t0.Add(2 * time.Second)})
	if _, ok := m.Undo("one", ""); ok {
		t.Fatalf("expected passage one to have been pruned")
	}
	if _, ok := m.Undo("two", ""); !ok {
		t.Fatalf("expected passage two to keep entries")
	}
}
