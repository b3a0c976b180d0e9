/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"storylens/internal/domain"
	applog "storylens/internal/log"
)

const (
	ManifestFileName = "story.json"
	BackupsDirName   = "backups"
	ExportsDirName   = "exports"
)

var standardSubDirs = []string{ExportsDirName, BackupsDirName}

// StoryHandle keeps track of a story loaded from or saved to disk.
// Root is the story directory containing story.json; the story itself is
// guarded by the handle's lock, use Snapshot/Mutate or the Documents methods.
type StoryHandle struct {
	Root         string
	ManifestPath string

	// AutoSave writes the manifest and refreshes the index after every
	// UpdatePassages call.
	AutoSave bool

	mu    sync.Mutex
	story domain.Story
}

// NewHandle wraps st for root without touching the disk.
func NewHandle(root string, st domain.Story) *StoryHandle {
	return &StoryHandle{Root: root, ManifestPath: filepath.Join(root, ManifestFileName), story: st}
}

// InitStory creates a story directory at root (creating it if it doesn't exist),
// scaffolds the standard subfolders, and writes the manifest transactionally.
func InitStory(root string, st domain.Story) (*StoryHandle, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("root path is required")
	}
	if err := scaffold(root); err != nil {
		return nil, err
	}
	h := NewHandle(root, st)
	if err := Save(h); err != nil {
		return nil, err
	}
	return h, nil
}

func scaffold(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create story root: %w", err)
	}
	for _, d := range standardSubDirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return fmt.Errorf("create subdir %s: %w", d, err)
		}
	}
	return nil
}

// Open loads an existing story from root.
// If the manifest cannot be read or parsed, the latest backup is used.
func Open(root string) (*StoryHandle, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "open").With(slog.String("root", root))
	mpath := filepath.Join(root, ManifestFileName)
	st, err := readManifest(mpath)
	if err != nil {
		bst, berr := openFromLatestBackup(root)
		if berr != nil {
			return nil, fmt.Errorf("open manifest: %w; backup attempt: %v", err, berr)
		}
		l.Warn("manifest unreadable, recovered from backup", slog.Any("err", err))
		st = bst
	}
	return NewHandle(root, *st), nil
}

func readManifest(path string) (*domain.Story, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var st domain.Story
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return &st, nil
}

// Save writes the story to disk with transactional semantics
// and a timestamped backup of the previous manifest (if present).
func Save(h *StoryHandle) error {
	if h == nil {
		return errors.New("nil StoryHandle")
	}
	if h.Root == "" || h.ManifestPath == "" {
		return errors.New("invalid StoryHandle: missing paths")
	}
	h.mu.Lock()
	h.story.LastUpdate = time.Now().UTC()
	data, err := json.MarshalIndent(h.story, "", "  ")
	h.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	data = append(data, '\n')

	bdir := filepath.Join(h.Root, BackupsDirName)
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return fmt.Errorf("ensure backups dir: %w", err)
	}
	if _, statErr := os.Stat(h.ManifestPath); statErr == nil {
		stamp := time.Now().Format("20060102-150405")
		bpath := filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", ManifestFileName, stamp))
		if cerr := copyFile(h.ManifestPath, bpath); cerr != nil {
			return fmt.Errorf("backup current manifest: %w", cerr)
		}
	}
	return replaceFile(h.ManifestPath, data)
}

// replaceFile writes data to a temp file next to path, then renames it over path.
func replaceFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	temp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d-%d", filepath.Base(path), os.Getpid(), rand.Int()))
	if err := writeFileSync(temp, data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	// Windows cannot rename over an existing file.
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}
	if err := os.Rename(temp, path); err != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// SaveAs writes the story to a new root folder, scaffolding it if needed, and updates the handle.
func SaveAs(h *StoryHandle, newRoot string) error {
	if h == nil {
		return errors.New("nil StoryHandle")
	}
	if newRoot == "" {
		return errors.New("new root is empty")
	}
	if err := scaffold(newRoot); err != nil {
		return err
	}
	h.Root = newRoot
	h.ManifestPath = filepath.Join(newRoot, ManifestFileName)
	return Save(h)
}

// AutosaveCrashSnapshot writes the in-memory story next to the backups
// without touching story.json. It returns the written path.
func AutosaveCrashSnapshot(h *StoryHandle) (string, error) {
	if h == nil {
		return "", errors.New("nil StoryHandle")
	}
	bdir := filepath.Join(h.Root, BackupsDirName)
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return "", fmt.Errorf("ensure backups dir: %w", err)
	}
	st := h.Snapshot()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal crash snapshot: %w", err)
	}
	path := filepath.Join(bdir, fmt.Sprintf("%s.crash-%s.json", ManifestFileName, time.Now().Format("20060102-150405")))
	if err := writeFileSync(path, append(data, '\n')); err != nil {
		return "", err
	}
	return path, nil
}

// Snapshot returns a copy of the held story.
func (h *StoryHandle) Snapshot() domain.Story {
	h.mu.Lock()
	defer h.mu.Unlock()
	return copyStory(h.story)
}

// Mutate runs fn on the held story under the handle's lock.
func (h *StoryHandle) Mutate(fn func(st *domain.Story) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(&h.story)
}

// ActiveStory returns a copy of the story.
func (h *StoryHandle) ActiveStory() (*domain.Story, error) {
	st := h.Snapshot()
	return &st, nil
}

// UpdatePassages rewrites passage texts; with AutoSave the manifest and
// index follow.
func (h *StoryHandle) UpdatePassages(updates []domain.PassageUpdate) error {
	h.mu.Lock()
	n := h.story.ApplyUpdates(updates)
	h.mu.Unlock()
	if n == 0 || !h.AutoSave {
		return nil
	}
	return h.persist()
}

// Replace swaps the held story, persisting it when AutoSave is set.
func (h *StoryHandle) Replace(st *domain.Story) error {
	h.mu.Lock()
	if st == nil {
		h.story = domain.Story{}
	} else {
		h.story = copyStory(*st)
	}
	h.mu.Unlock()
	if !h.AutoSave {
		return nil
	}
	return h.persist()
}

func (h *StoryHandle) persist() error {
	if err := Save(h); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := UpdateIndex(ctx, h.Root, h.Snapshot()); err != nil {
		applog.WithComponent("storage").Warn("index update failed", slog.String("root", h.Root), slog.Any("err", err))
	}
	return nil
}

func copyStory(st domain.Story) domain.Story {
	cp := st
	cp.Passages = append([]domain.Passage(nil), st.Passages...)
	cp.Tags = append([]string(nil), st.Tags...)
	if st.TagColors != nil {
		cp.TagColors = make(map[string]string, len(st.TagColors))
		for k, v := range st.TagColors {
			cp.TagColors[k] = v
		}
	}
	return cp
}

// writeFileSync writes data to a file, ensures it is flushed to disk.
func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// copyFile copies a file from src to dst (overwrites dst if exists).
func copyFile(src, dst string) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sf.Close(); err == nil {
			err = cerr
		}
	}()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	df, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := df.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(df, sf); err != nil {
		return err
	}
	return df.Sync()
}

// openFromLatestBackup tries the timestamped backups newest first.
func openFromLatestBackup(root string) (*domain.Story, error) {
	bdir := filepath.Join(root, BackupsDirName)
	ents, err := os.ReadDir(bdir)
	if err != nil {
		return nil, fmt.Errorf("read backups dir: %w", err)
	}
	var candidates []string
	for _, e := range ents {
		name := e.Name()
		if strings.HasPrefix(name, ManifestFileName+".") && strings.HasSuffix(name, ".bak") {
			candidates = append(candidates, filepath.Join(bdir, name))
		}
	}
	if len(candidates) == 0 {
		return nil, errors.New("no backups found")
	}
	// timestamp in name yields lexicographic order
	sort.Sort(sort.Reverse(sort.StringSlice(candidates)))
	var lastErr error
	for _, c := range candidates {
		st, err := readManifest(c)
		if err == nil {
			return st, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no readable backup: %w", lastErr)
}
