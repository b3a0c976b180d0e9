/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package twee reads and writes stories in the Twee 3 source format.
//
//	:: StoryTitle
//	Name
//
//	:: StoryData
//	{"ifid": "...", "format": "Harlowe", "start": "Start"}
//
//	:: Passage name [tag other-tag] {"position":"100,200","size":"100,100"}
//	passage text
package twee

// Error represents a parse error with position context.
type Error struct {
	Line    int
	Column  int
	Message string
}

func (e Error) Error() string { return e.Message }

// storyData is the JSON body of the StoryData special passage.
type storyData struct {
	IFID          string            `json:"ifid"`
	Format        string            `json:"format,omitempty"`
	FormatVersion string            `json:"format-version,omitempty"`
	Start         string            `json:"start,omitempty"`
	TagColors     map[string]string `json:"tag-colors,omitempty"`
	Zoom          float64           `json:"zoom,omitempty"`
}

// passageMeta is the optional JSON block after a passage header.
type passageMeta struct {
	Position string `json:"position,omitempty"`
	Size     string `json:"size,omitempty"`
}

const (
	titlePassage = "StoryTitle"
	dataPassage  = "StoryData"
)
