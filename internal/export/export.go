/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package export renders a story to files outside the story directory's
// canonical manifest: twee source and a printable proof PDF.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"storylens/internal/domain"
	"storylens/internal/storage"
	"storylens/internal/twee"
)

// resolveOut places relative paths under the story's exports folder.
func resolveOut(h *storage.StoryHandle, outPath string) (string, error) {
	if outPath == "" {
		return "", fmt.Errorf("output path is empty")
	}
	if !filepath.IsAbs(outPath) {
		outPath = filepath.Join(h.Root, storage.ExportsDirName, outPath)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("ensure out dir: %w", err)
	}
	return outPath, nil
}

// Twee writes the story as twee source and returns the written path.
func Twee(h *storage.StoryHandle, outPath string) (string, error) {
	if h == nil {
		return "", fmt.Errorf("story handle is nil")
	}
	out, err := resolveOut(h, outPath)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(out, []byte(twee.Format(h.Snapshot())), 0o644); err != nil {
		return "", fmt.Errorf("write twee: %w", err)
	}
	return out, nil
}

// orderedPassages puts the start passage first, then the rest by name.
func orderedPassages(st domain.Story, includeSystem bool) []domain.Passage {
	out := make([]domain.Passage, 0, len(st.Passages))
	for _, p := range st.Passages {
		if !includeSystem && (domain.IsSystemPassage(p.Name) || p.Name == domain.EvidencePassage) {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].ID == st.StartPassage, out[j].ID == st.StartPassage
		if si != sj {
			return si
		}
		return out[i].Name < out[j].Name
	})
	return out
}
