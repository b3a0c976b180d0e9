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
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"storylens/internal/domain"
	applog "storylens/internal/log"
	"storylens/internal/macro"
	"storylens/internal/version"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

const (
	// IndexDirName stores all per-story derived data under the story root.
	IndexDirName  = ".sls"
	IndexFileName = "index.sqlite"

	// schemaVersion tracks the local SQLite schema for the embedded index.
	// Bump this on breaking schema changes and add a migration step.
	schemaVersion = 2
)

// IndexPath returns the full path to the story's embedded index database file.
func IndexPath(storyRoot string) string {
	return filepath.Join(storyRoot, IndexDirName, IndexFileName)
}

// InitOrOpenIndex ensures that the per-story SQLite index exists at .sls/index.sqlite,
// opens the database, enables WAL mode, and ensures schema and migrations are current.
// Callers close the returned *sql.DB.
func InitOrOpenIndex(storyRoot string) (*sql.DB, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "index_init").With(
		slog.String("root", storyRoot),
	)
	if strings.TrimSpace(storyRoot) == "" {
		return nil, errors.New("story root is required")
	}
	if err := os.MkdirAll(filepath.Join(storyRoot, IndexDirName), 0o755); err != nil {
		l.Error("create index dir failed", slog.Any("err", err))
		return nil, fmt.Errorf("create %s dir: %w", IndexDirName, err)
	}

	path := IndexPath(storyRoot)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		l.Error("sqlite open failed", slog.Any("err", err))
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		l.Error("enable WAL failed", slog.Any("err", err))
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	steps := []struct {
		name string
		fn   func(context.Context, *sql.DB) error
	}{
		{"meta/version", ensureMetaAndVersion},
		{"schema", ensureIndexSchema},
		{"migrations", runMigrations},
	}
	for _, s := range steps {
		if err := s.fn(ctx, db); err != nil {
			_ = db.Close()
			l.Error("index setup failed", slog.String("step", s.name), slog.Any("err", err))
			return nil, err
		}
	}
	l.Debug("index ready", slog.String("path", path))
	return db, nil
}

func ensureMetaAndVersion(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	appv := version.String()
	var cur int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// A fresh database starts at schema 1 and migrates forward.
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, 1, ?, ?, ?)`, appv, now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, appv, now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

// migrations maps a target schema version to its statements.
var migrations = map[int][]string{
	2: {
		`CREATE INDEX IF NOT EXISTS idx_evidence_refs_name ON evidence_refs(name COLLATE NOCASE);`,
		`CREATE INDEX IF NOT EXISTS idx_macro_commands_type ON macro_commands(type);`,
	},
}

// runMigrations applies incremental schema migrations up to schemaVersion.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var cur int
	if err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for next := cur + 1; next <= schemaVersion; next++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", next, err)
		}
		for _, q := range migrations[next] {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d stmt failed: %w", next, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE version SET schema=?, updated_at=? WHERE id=1`, next, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d update version: %w", next, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d commit: %w", next, err)
		}
	}
	return nil
}

// SchemaVersion reports the schema version recorded in the index.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&v)
	return v, err
}

// ensureIndexSchema creates core index tables and FTS structures if they do not exist.
func ensureIndexSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS passages (
			doc_id     INTEGER PRIMARY KEY,
			passage_id TEXT    NOT NULL UNIQUE,
			name       TEXT    NOT NULL,
			tags       TEXT    NOT NULL DEFAULT '',
			text       TEXT    NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_passages_name ON passages(name);`,

		// Contentless FTS5 index fed from passages via triggers.
		`CREATE VIRTUAL TABLE IF NOT EXISTS fts_passages USING fts5(
			name,
			text,
			content='',
			tokenize = 'unicode61'
		);`,

		`CREATE TABLE IF NOT EXISTS evidence_refs (
			id       INTEGER PRIMARY KEY,
			doc_id   INTEGER NOT NULL REFERENCES passages(doc_id) ON DELETE CASCADE,
			name     TEXT    NOT NULL,
			span_start INTEGER NOT NULL,
			span_end   INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS macro_commands (
			id       INTEGER PRIMARY KEY,
			doc_id   INTEGER NOT NULL REFERENCES passages(doc_id) ON DELETE CASCADE,
			type     TEXT    NOT NULL,
			span_start INTEGER NOT NULL,
			span_end   INTEGER NOT NULL,
			value    TEXT    NOT NULL
		);`,

		// Passage history survives index rebuilds.
		`CREATE TABLE IF NOT EXISTS passage_snapshots (
			id         INTEGER PRIMARY KEY,
			passage_id TEXT    NOT NULL,
			ts         TEXT    NOT NULL,
			text       TEXT    NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_passage_snapshots_ts ON passage_snapshots(passage_id, ts);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure index schema: %w", err)
		}
	}
	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS passages_ai AFTER INSERT ON passages BEGIN
			INSERT INTO fts_passages(rowid, name, text) VALUES (new.doc_id, new.name, new.text);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS passages_ad AFTER DELETE ON passages BEGIN
			INSERT INTO fts_passages(fts_passages, rowid, name, text) VALUES ('delete', old.doc_id, old.name, old.text);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS passages_au AFTER UPDATE OF name, text ON passages BEGIN
			INSERT INTO fts_passages(fts_passages, rowid, name, text) VALUES ('delete', old.doc_id, old.name, old.text);
			INSERT INTO fts_passages(rowid, name, text) VALUES (new.doc_id, new.name, new.text);
		END;`,
	}
	for _, q := range triggers {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure fts triggers: %w", err)
		}
	}
	return nil
}

// DetectAndRebuildIndex checks for corruption or missing schema and rebuilds the index if needed.
// It returns true when a rebuild was performed.
func DetectAndRebuildIndex(ctx context.Context, storyRoot string, st domain.Story) (bool, error) {
	path := IndexPath(storyRoot)
	db, err := InitOrOpenIndex(storyRoot)
	if err != nil {
		backupIndexFile(path)
		_ = os.Remove(path)
		if rbErr := RebuildIndex(ctx, storyRoot, st); rbErr != nil {
			return false, fmt.Errorf("rebuild after open failure: %w (open err: %v)", rbErr, err)
		}
		return true, nil
	}
	needs := false
	var chk string
	if err := db.QueryRowContext(ctx, `PRAGMA quick_check;`).Scan(&chk); err != nil || !strings.Contains(strings.ToLower(chk), "ok") {
		needs = true
	}
	if !needs {
		if _, err := db.ExecContext(ctx, `SELECT 1 FROM passages LIMIT 1;`); err != nil {
			needs = true
		}
	}
	_ = db.Close()
	if !needs {
		return false, nil
	}
	backupIndexFile(path)
	_ = os.Remove(path)
	if err := RebuildIndex(ctx, storyRoot, st); err != nil {
		return false, err
	}
	return true, nil
}

// backupIndexFile copies the current index file into .sls/backups.
func backupIndexFile(indexPath string) {
	bdir := filepath.Join(filepath.Dir(indexPath), "backups")
	_ = os.MkdirAll(bdir, 0o755)
	stamp := time.Now().Format("20060102-150405")
	bak := filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", filepath.Base(indexPath), stamp))
	if data, err := os.ReadFile(indexPath); err == nil {
		_ = os.WriteFile(bak, data, 0o644)
	}
}

// BuildIndexIfEmpty populates the index from st when it holds no passages yet.
func BuildIndexIfEmpty(ctx context.Context, storyRoot string, st domain.Story) error {
	db, err := InitOrOpenIndex(storyRoot)
	if err != nil {
		return err
	}
	defer db.Close()
	var cnt int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM passages;").Scan(&cnt); err != nil {
		return fmt.Errorf("check passages count: %w", err)
	}
	if cnt > 0 {
		return nil
	}
	return rebuildPassages(ctx, db, st)
}

// UpdateIndex replaces the indexed passages with those of st.
func UpdateIndex(ctx context.Context, storyRoot string, st domain.Story) error {
	db, err := InitOrOpenIndex(storyRoot)
	if err != nil {
		return err
	}
	defer db.Close()
	return rebuildPassages(ctx, db, st)
}

// RebuildIndex drops and recreates the derived tables and repopulates them from st.
// meta, version and passage_snapshots are kept.
func RebuildIndex(ctx context.Context, storyRoot string, st domain.Story) error {
	db, err := InitOrOpenIndex(storyRoot)
	if err != nil {
		return err
	}
	defer db.Close()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	drops := []string{
		"DROP TABLE IF EXISTS evidence_refs;",
		"DROP TABLE IF EXISTS macro_commands;",
		"DROP TRIGGER IF EXISTS passages_ai;",
		"DROP TRIGGER IF EXISTS passages_ad;",
		"DROP TRIGGER IF EXISTS passages_au;",
		"DROP TABLE IF EXISTS passages;",
		"DROP TABLE IF EXISTS fts_passages;",
	}
	for _, q := range drops {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("drop schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("drop commit: %w", err)
	}
	if err := ensureIndexSchema(ctx, db); err != nil {
		return err
	}
	for v := 2; v <= schemaVersion; v++ {
		for _, q := range migrations[v] {
			if _, err := db.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("recreate indexes: %w", err)
			}
		}
	}
	return rebuildPassages(ctx, db, st)
}

// rebuildPassages replaces passages, evidence references and macro commands
// in one transaction.
func rebuildPassages(ctx context.Context, db *sql.DB, st domain.Story) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	rollback := func(err error) error {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM passages;"); err != nil {
		return rollback(fmt.Errorf("clear passages: %w", err))
	}
	insP, err := tx.PrepareContext(ctx, "INSERT INTO passages(passage_id, name, tags, text) VALUES(?,?,?,?);")
	if err != nil {
		return rollback(fmt.Errorf("prepare passage insert: %w", err))
	}
	defer insP.Close()
	insE, err := tx.PrepareContext(ctx, "INSERT INTO evidence_refs(doc_id, name, span_start, span_end) VALUES(?,?,?,?);")
	if err != nil {
		return rollback(fmt.Errorf("prepare evidence insert: %w", err))
	}
	defer insE.Close()
	insC, err := tx.PrepareContext(ctx, "INSERT INTO macro_commands(doc_id, type, span_start, span_end, value) VALUES(?,?,?,?,?);")
	if err != nil {
		return rollback(fmt.Errorf("prepare command insert: %w", err))
	}
	defer insC.Close()

	for _, p := range st.Passages {
		res, err := insP.ExecContext(ctx, p.ID, p.Name, strings.Join(p.Tags, " "), p.Text)
		if err != nil {
			return rollback(fmt.Errorf("insert passage %q: %w", p.Name, err))
		}
		docID, err := res.LastInsertId()
		if err != nil {
			return rollback(err)
		}
		for _, ref := range macro.ExtractEvidenceReferences(p.Text) {
			if _, err := insE.ExecContext(ctx, docID, ref.Name, ref.Span.Start, ref.Span.End); err != nil {
				return rollback(fmt.Errorf("insert evidence ref: %w", err))
			}
		}
		for _, c := range macro.ScanCommands(p.Text) {
			if _, err := insC.ExecContext(ctx, docID, string(c.Type), c.Span.Start, c.Span.End, c.Value); err != nil {
				return rollback(fmt.Errorf("insert command: %w", err))
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
