/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestStoryJSONRoundTrip(t *testing.T) {
	s := NewStory("RoundTrip")
	p := NewPassage("Start", "($action: \"look\")")
	s.Passages = append(s.Passages, p)
	s.StartPassage = p.ID

	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Story
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Name != s.Name || got.StartPassage != p.ID {
		t.Fatalf("unexpected story: %+v", got)
	}
	if len(got.Passages) != 1 || got.Passages[0].Text != p.Text {
		t.Fatalf("unexpected passages: %+v", got.Passages)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestAddPassagePlacement(t *testing.T) {
	s := NewStory("Grid")
	p, err := s.AddPassage("A", "", nil, PlaceOptions{CenterX: 137, CenterY: 20})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	// 137-50 = 87 snaps to 75; 20-50 clamps to 0.
	if p.Left != 75 || p.Top != 0 || p.Width != SmallPassageSize {
		t.Fatalf("unexpected geometry: %+v", p)
	}

	s.SnapToGrid = false
	p, err = s.AddPassage("B", "", nil, PlaceOptions{CenterX: 300, CenterY: 300, DefaultSize: true})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if p.Left != 200 || p.Top != 200 || p.Width != DefaultPassageWidth {
		t.Fatalf("unexpected geometry: %+v", p)
	}
}

func TestAddPassageRejectsDuplicatesAndNaN(t *testing.T) {
	s := NewStory("Dup")
	if _, err := s.AddPassage("A", "", nil, PlaceOptions{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.AddPassage("A", "", nil, PlaceOptions{}); !errors.Is(err, ErrDuplicatePassage) {
		t.Fatalf("expected ErrDuplicatePassage, got %v", err)
	}
	if _, err := s.AddPassage("B", "", nil, PlaceOptions{CenterX: math.NaN()}); err == nil {
		t.Fatalf("expected error for NaN center")
	}
}

func TestApplyUpdates(t *testing.T) {
	s := NewStory("Up")
	a := NewPassage("A", "old")
	s.Passages = append(s.Passages, a)
	n := s.ApplyUpdates([]PassageUpdate{{ID: a.ID, Text: "new"}, {ID: "missing", Text: "x"}})
	if n != 1 {
		t.Fatalf("applied = %d, want 1", n)
	}
	if p, _ := s.PassageByName("A"); p.Text != "new" {
		t.Fatalf("text = %q", p.Text)
	}
}

func TestSystemPassages(t *testing.T) {
	for _, name := range []string{"Startup", "Footer", "Images", "Mappers"} {
		if !IsSystemPassage(name) {
			t.Fatalf("%s should be a system passage", name)
		}
	}
	if IsSystemPassage(EvidencePassage) || IsSystemPassage("Start") {
		t.Fatalf("unexpected system passage")
	}
}

func TestNewIFIDFormat(t *testing.T) {
	id := NewIFID()
	if len(id) != 36 || id[8] != '-' || id[13] != '-' {
		t.Fatalf("unexpected ifid %q", id)
	}
}
