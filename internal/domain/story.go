/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// This file defines the story model the editor helper works on: a story is a
// set of named passages, each holding free text with embedded macros.

// Names of passages with a fixed role in a story.
const (
	StartupPassage  = "Startup"
	FooterPassage   = "Footer"
	ImagesPassage   = "Images"
	MappersPassage  = "Mappers"
	EvidencePassage = "Evidence data"
)

// Default passage geometry. New passages created from the editor are placed on
// a grid of PassageGap when the story snaps to grid.
const (
	DefaultPassageWidth  = 200
	DefaultPassageHeight = 200
	SmallPassageSize     = 100
	PassageGap           = 25
)

// ErrDuplicatePassage is returned when a passage name is already taken.
var ErrDuplicatePassage = errors.New("passage with such name already exists")

// Story is a story document and its passages.
// It serializes to the story.json manifest.
type Story struct {
	ID            string            `json:"id"`
	IFID          string            `json:"ifid"`
	Name          string            `json:"name"`
	StartPassage  string            `json:"startPassage,omitempty"` // passage ID
	Format        string            `json:"storyFormat,omitempty"`
	FormatVersion string            `json:"storyFormatVersion,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	TagColors     map[string]string `json:"tagColors,omitempty"`
	SnapToGrid    bool              `json:"snapToGrid"`
	Zoom          float64           `json:"zoom,omitempty"`
	LastUpdate    time.Time         `json:"lastUpdate"`
	Passages      []Passage         `json:"passages"`
}

// Passage is one named section of a story.
type Passage struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Text   string   `json:"text"`
	Tags   []string `json:"tags,omitempty"`
	Left   float64  `json:"left"`
	Top    float64  `json:"top"`
	Width  float64  `json:"width"`
	Height float64  `json:"height"`
}

// PassageUpdate replaces the text of the passage with the given ID.
type PassageUpdate struct {
	ID   string
	Text string
}

// NewID returns a fresh identifier for stories and passages.
func NewID() string { return uuid.NewString() }

// NewStory returns an empty story with fresh identifiers and the editor defaults.
func NewStory(name string) Story {
	return Story{
		ID:         NewID(),
		IFID:       NewIFID(),
		Name:       name,
		SnapToGrid: true,
		Zoom:       1,
		LastUpdate: time.Now().UTC(),
		Passages:   []Passage{},
	}
}

// NewIFID returns an interactive fiction identifier (an upper-case UUID).
func NewIFID() string {
	u := uuid.New()
	return fmt.Sprintf("%X-%X-%X-%X-%X", u[0:4], u[4:6], u[6:8], u[8:10], u[10:16])
}

// NewPassage returns a passage with default geometry.
func NewPassage(name, text string) Passage {
	return Passage{
		ID:     NewID(),
		Name:   name,
		Text:   text,
		Width:  DefaultPassageWidth,
		Height: DefaultPassageHeight,
	}
}

// PassageByName returns the first passage named name.
func (s *Story) PassageByName(name string) (*Passage, bool) {
	for i := range s.Passages {
		if s.Passages[i].Name == name {
			return &s.Passages[i], true
		}
	}
	return nil, false
}

// PassageByID returns the passage with the given ID.
func (s *Story) PassageByID(id string) (*Passage, bool) {
	for i := range s.Passages {
		if s.Passages[i].ID == id {
			return &s.Passages[i], true
		}
	}
	return nil, false
}

// ApplyUpdates rewrites passage texts in place. Updates naming unknown IDs are
// ignored; the number of applied updates is returned.
func (s *Story) ApplyUpdates(updates []PassageUpdate) int {
	n := 0
	for _, u := range updates {
		if p, ok := s.PassageByID(u.ID); ok {
			p.Text = u.Text
			n++
		}
	}
	if n > 0 {
		s.LastUpdate = time.Now().UTC()
	}
	return n
}

// PlaceOptions controls where AddPassage puts a new passage.
type PlaceOptions struct {
	CenterX, CenterY float64
	// DefaultSize uses the default passage size instead of the small one.
	DefaultSize bool
}

// AddPassage creates a passage centred on the given point. The box is clamped
// to the positive quadrant and snapped to the grid when the story asks for it.
func (s *Story) AddPassage(name, text string, tags []string, opt PlaceOptions) (*Passage, error) {
	if math.IsNaN(opt.CenterX) || math.IsInf(opt.CenterX, 0) || math.IsNaN(opt.CenterY) || math.IsInf(opt.CenterY, 0) {
		return nil, errors.New("center must be a finite coordinate pair")
	}
	if _, exists := s.PassageByName(name); exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicatePassage, name)
	}
	size := float64(SmallPassageSize)
	w, h := size, size
	if opt.DefaultSize {
		w, h = DefaultPassageWidth, DefaultPassageHeight
	}
	left := math.Max(opt.CenterX-w/2, 0)
	top := math.Max(opt.CenterY-h/2, 0)
	if s.SnapToGrid {
		left = math.Round(left/PassageGap) * PassageGap
		top = math.Round(top/PassageGap) * PassageGap
	}
	s.Passages = append(s.Passages, Passage{
		ID:     NewID(),
		Name:   name,
		Text:   text,
		Tags:   tags,
		Left:   left,
		Top:    top,
		Width:  w,
		Height: h,
	})
	s.LastUpdate = time.Now().UTC()
	return &s.Passages[len(s.Passages)-1], nil
}

// IsSystemPassage reports whether name is one of the generated passages that
// are never sent out for generation.
func IsSystemPassage(name string) bool {
	switch name {
	case StartupPassage, FooterPassage, ImagesPassage, MappersPassage:
		return true
	}
	return false
}

// Validate checks structural invariants of a loaded story.
func (s *Story) Validate() error {
	if s.Name == "" {
		return errors.New("story name is empty")
	}
	seen := make(map[string]struct{}, len(s.Passages))
	ids := make(map[string]struct{}, len(s.Passages))
	for _, p := range s.Passages {
		if p.ID == "" {
			return fmt.Errorf("passage %q has no id", p.Name)
		}
		if _, dup := ids[p.ID]; dup {
			return fmt.Errorf("duplicate passage id %s", p.ID)
		}
		ids[p.ID] = struct{}{}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicatePassage, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	if s.StartPassage != "" {
		if _, ok := ids[s.StartPassage]; !ok {
			return fmt.Errorf("start passage %s not found", s.StartPassage)
		}
	}
	return nil
}
