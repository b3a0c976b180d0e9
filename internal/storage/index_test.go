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
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"storylens/internal/macro"
)

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestIndexInitCreatesWALAndVersion(t *testing.T) {
	root := t.TempDir()
	db, err := InitOrOpenIndex(root)
	if err != nil {
		t.Fatalf("InitOrOpenIndex: %v", err)
	}
	defer db.Close()
	if _, err := os.Stat(IndexPath(root)); err != nil {
		t.Fatalf("index file missing: %v", err)
	}
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&mode); err != nil || mode != "wal" {
		t.Fatalf("journal_mode = %q, %v", mode, err)
	}
	v, err := SchemaVersion(ctxT(t), db)
	if err != nil || v != schemaVersion {
		t.Fatalf("schema version = %d, %v; want %d", v, err, schemaVersion)
	}
}

func TestMigrationFromSchemaOne(t *testing.T) {
	root := t.TempDir()
	db, err := InitOrOpenIndex(root)
	if err != nil {
		t.Fatal(err)
	}
	for _, q := range []string{`DROP INDEX idx_macro_commands_type`, `UPDATE version SET schema=1 WHERE id=1`} {
		if _, err := db.Exec(q); err != nil {
			t.Fatalf("downgrade: %v", err)
		}
	}
	_ = db.Close()

	db, err = InitOrOpenIndex(root)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name='idx_macro_commands_type'`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("migration did not recreate index: n=%d err=%v", n, err)
	}
}

func TestRebuildIndexStoresReferencesAndCommands(t *testing.T) {
	root := t.TempDir()
	st := sampleStory()
	if err := RebuildIndex(ctxT(t), root, st); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}
	got, err := CommandUsage(ctxT(t), root, macro.Action)
	if err != nil {
		t.Fatal(err)
	}
	want := []Usage{{PassageID: st.Passages[0].ID, PassageName: "Start", Kind: "$action", Start: 11, End: 27}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("command usage mismatch (-want +got):\n%s", diff)
	}
	if _, err := CommandUsage(ctxT(t), root, "$nope"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestBuildIndexIfEmptyKeepsExistingRows(t *testing.T) {
	root := t.TempDir()
	st := sampleStory()
	if err := BuildIndexIfEmpty(ctxT(t), root, st); err != nil {
		t.Fatal(err)
	}
	st.Passages = st.Passages[:1]
	if err := BuildIndexIfEmpty(ctxT(t), root, st); err != nil {
		t.Fatal(err)
	}
	res, err := Search(ctxT(t), root, SearchQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 3 {
		t.Fatalf("got %d passages, want 3 from the first build", len(res))
	}
}

func TestDetectAndRebuildIndexRecoversCorruptFile(t *testing.T) {
	root := t.TempDir()
	st := sampleStory()
	if err := RebuildIndex(ctxT(t), root, st); err != nil {
		t.Fatal(err)
	}
	if rebuilt, err := DetectAndRebuildIndex(ctxT(t), root, st); err != nil || rebuilt {
		t.Fatalf("healthy index: rebuilt=%v err=%v", rebuilt, err)
	}
	_ = os.Remove(IndexPath(root) + "-wal")
	_ = os.Remove(IndexPath(root) + "-shm")
	if err := os.WriteFile(IndexPath(root), []byte("definitely not sqlite"), 0o644); err != nil {
		t.Fatal(err)
	}
	rebuilt, err := DetectAndRebuildIndex(ctxT(t), root, st)
	if err != nil || !rebuilt {
		t.Fatalf("corrupt index: rebuilt=%v err=%v", rebuilt, err)
	}
	refs, err := WhereUsed(ctxT(t), root, "Rope")
	if err != nil || len(refs) != 1 {
		t.Fatalf("after rebuild WhereUsed = %v, %v", refs, err)
	}
}
