/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"storylens/internal/domain"
)

func sampleStory() domain.Story {
	st := domain.NewStory("Case Files")
	st.Passages = []domain.Passage{
		domain.NewPassage("Start", `($trigger: ($action: "open") ) see ($evidence: "Knife")`),
		domain.NewPassage("Hall", `The ($evidence: "Rope") lies here. ($evidence: "knife")`),
		domain.NewPassage("Evidence data", ""),
	}
	st.Passages[1].Tags = []string{"scene", "night"}
	return st
}

func backupCount(t *testing.T, root string) int {
	t.Helper()
	ents, err := os.ReadDir(filepath.Join(root, BackupsDirName))
	if err != nil {
		t.Fatalf("read backups dir: %v", err)
	}
	n := 0
	for _, e := range ents {
		if strings.HasPrefix(e.Name(), ManifestFileName+".") && strings.HasSuffix(e.Name(), ".bak") {
			n++
		}
	}
	return n
}

func TestInitStoryCreatesStructureAndManifest(t *testing.T) {
	root := t.TempDir()
	st := sampleStory()
	h, err := InitStory(root, st)
	if err != nil {
		t.Fatalf("InitStory error: %v", err)
	}
	b, err := os.ReadFile(h.ManifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var got domain.Story
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if got.Name != st.Name || len(got.Passages) != 3 {
		t.Fatalf("manifest mismatch: %+v", got)
	}
	for _, d := range []string{ExportsDirName, BackupsDirName} {
		if fi, err := os.Stat(filepath.Join(root, d)); err != nil || !fi.IsDir() {
			t.Fatalf("expected directory %s to exist", d)
		}
	}
	if _, err := InitStory(" ", st); err == nil {
		t.Fatalf("expected error for empty root")
	}
}

func TestSaveCreatesBackupAndOpenRecovers(t *testing.T) {
	root := t.TempDir()
	h, err := InitStory(root, sampleStory())
	if err != nil {
		t.Fatalf("InitStory error: %v", err)
	}
	if err := h.Mutate(func(st *domain.Story) error { st.Zoom = 0.6; return nil }); err != nil {
		t.Fatal(err)
	}
	if err := Save(h); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if backupCount(t, root) == 0 {
		t.Fatalf("expected at least one backup file")
	}
	if err := os.WriteFile(h.ManifestPath, []byte("{ this is not json"), 0o644); err != nil {
		t.Fatalf("corrupt manifest: %v", err)
	}
	opened, err := Open(root)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if got := opened.Snapshot().Name; got != "Case Files" {
		t.Fatalf("recovered name = %q", got)
	}
}

func TestOpenWithoutManifestOrBackupFails(t *testing.T) {
	if _, err := Open(t.TempDir()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSaveAsMovesHandle(t *testing.T) {
	h, err := InitStory(t.TempDir(), sampleStory())
	if err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(t.TempDir(), "copy")
	if err := SaveAs(h, dst); err != nil {
		t.Fatalf("SaveAs error: %v", err)
	}
	if h.ManifestPath != filepath.Join(dst, ManifestFileName) {
		t.Fatalf("ManifestPath = %s", h.ManifestPath)
	}
	if _, err := Open(dst); err != nil {
		t.Fatalf("Open copy: %v", err)
	}
}

func TestHandleImplementsDocuments(t *testing.T) {
	root := t.TempDir()
	h, err := InitStory(root, sampleStory())
	if err != nil {
		t.Fatal(err)
	}
	h.AutoSave = true
	st, _ := h.ActiveStory()
	start, _ := st.PassageByName("Start")
	st.Passages[0].Text = "mutated copy"
	if h.Snapshot().Passages[0].Text == "mutated copy" {
		t.Fatalf("ActiveStory leaked internal state")
	}

	if err := h.UpdatePassages([]domain.PassageUpdate{{ID: start.ID, Text: `($evidence: "Gun")`}}); err != nil {
		t.Fatalf("UpdatePassages: %v", err)
	}
	reopened, err := Open(root)
	if err != nil {
		t.Fatal(err)
	}
	snap := reopened.Snapshot()
	p, _ := snap.PassageByName("Start")
	if p.Text != `($evidence: "Gun")` {
		t.Fatalf("autosaved text = %q", p.Text)
	}
	names, err := EvidenceNames(ctxT(t), root)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(names, ",") != "Gun,knife,Rope" {
		t.Fatalf("index not refreshed: %v", names)
	}
}

func TestAutosaveCrashSnapshotWritesFile(t *testing.T) {
	root := t.TempDir()
	h, err := InitStory(root, sampleStory())
	if err != nil {
		t.Fatalf("InitStory error: %v", err)
	}
	path, err := AutosaveCrashSnapshot(h)
	if err != nil {
		t.Fatalf("AutosaveCrashSnapshot error: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var got domain.Story
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if got.Name != "Case Files" {
		t.Fatalf("snapshot content mismatch: got %q", got.Name)
	}
}
