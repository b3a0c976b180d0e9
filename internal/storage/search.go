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
	"strings"

	"storylens/internal/macro"
)

// SearchQuery describes a passage search.
// Text uses SQLite FTS5 syntax (simple terms, phrases in quotes, AND/OR/NOT).
// Tags must all be present on the passage. Command restricts to passages
// containing a command of that type; Evidence to passages referencing that
// evidence name. Limit/Offset implement pagination.
type SearchQuery struct {
	Text     string
	Tags     []string
	Command  macro.CommandType
	Evidence string
	Limit    int
	Offset   int
}

// SearchResult is one matching passage.
// Snippet is a highlighted excerpt using [ ] markers when Text is used.
type SearchResult struct {
	DocID     int64
	PassageID string
	Name      string
	Snippet   string
}

// Search performs full-text search with optional filters over the embedded index.
// When q.Text is empty, it falls back to a plain scan with filters applied.
func Search(ctx context.Context, storyRoot string, q SearchQuery) ([]SearchResult, error) {
	if strings.TrimSpace(storyRoot) == "" {
		return nil, errors.New("story root is required")
	}
	db, err := InitOrOpenIndex(storyRoot)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return searchDB(ctx, db, q)
}

func searchDB(ctx context.Context, db *sql.DB, q SearchQuery) ([]SearchResult, error) {
	var args []any
	var sb strings.Builder
	if strings.TrimSpace(q.Text) != "" {
		sb.WriteString("SELECT p.doc_id, p.passage_id, p.name, snippet(fts_passages, 1, '[', ']', '…', 10)\n")
		sb.WriteString("FROM fts_passages JOIN passages p ON fts_passages.rowid = p.doc_id\n")
		sb.WriteString("WHERE fts_passages MATCH ?\n")
		args = append(args, q.Text)
	} else {
		sb.WriteString("SELECT p.doc_id, p.passage_id, p.name, ''\n")
		sb.WriteString("FROM passages p\nWHERE 1=1\n")
	}
	for _, t := range q.Tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		// tags are stored space separated
		sb.WriteString(" AND (' ' || p.tags || ' ') LIKE ? ESCAPE '\\'\n")
		args = append(args, likeContains(" "+t+" "))
	}
	if q.Command != "" {
		sb.WriteString(" AND EXISTS (SELECT 1 FROM macro_commands c WHERE c.doc_id = p.doc_id AND c.type = ?)\n")
		args = append(args, string(q.Command))
	}
	if s := strings.TrimSpace(q.Evidence); s != "" {
		sb.WriteString(" AND EXISTS (SELECT 1 FROM evidence_refs e WHERE e.doc_id = p.doc_id AND e.name = ? COLLATE NOCASE)\n")
		args = append(args, s)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	sb.WriteString("ORDER BY p.name, p.doc_id\nLIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()
	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		var sn sql.NullString
		if err := rows.Scan(&r.DocID, &r.PassageID, &r.Name, &sn); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.Snippet = sn.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Usage is one occurrence of an evidence reference or a macro command.
// Start and End are the inclusive bracket offsets within the passage text.
type Usage struct {
	PassageID   string
	PassageName string
	Kind        string
	Start       int
	End         int
}

// WhereUsed lists every reference to the named evidence, ordered by passage
// name then offset. Names compare case-insensitively.
func WhereUsed(ctx context.Context, storyRoot string, evidenceName string) ([]Usage, error) {
	if strings.TrimSpace(evidenceName) == "" {
		return nil, errors.New("evidence name is required")
	}
	return usages(ctx, storyRoot, `SELECT p.passage_id, p.name, e.name, e.span_start, e.span_end
		FROM evidence_refs e JOIN passages p ON p.doc_id = e.doc_id
		WHERE e.name = ? COLLATE NOCASE
		ORDER BY p.name, e.span_start`, strings.TrimSpace(evidenceName))
}

// CommandUsage lists every command of type t across the story.
func CommandUsage(ctx context.Context, storyRoot string, t macro.CommandType) ([]Usage, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown command type %q", t)
	}
	return usages(ctx, storyRoot, `SELECT p.passage_id, p.name, c.type, c.span_start, c.span_end
		FROM macro_commands c JOIN passages p ON p.doc_id = c.doc_id
		WHERE c.type = ?
		ORDER BY p.name, c.span_start`, string(t))
}

// EvidenceNames returns the distinct evidence names referenced in the story.
func EvidenceNames(ctx context.Context, storyRoot string) ([]string, error) {
	db, err := InitOrOpenIndex(storyRoot)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT name FROM evidence_refs ORDER BY name COLLATE NOCASE`)
	if err != nil {
		return nil, fmt.Errorf("evidence names query: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func usages(ctx context.Context, storyRoot, query string, args ...any) ([]Usage, error) {
	db, err := InitOrOpenIndex(storyRoot)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("usage query: %w", err)
	}
	defer rows.Close()
	var out []Usage
	for rows.Next() {
		var u Usage
		if err := rows.Scan(&u.PassageID, &u.PassageName, &u.Kind, &u.Start, &u.End); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likeContains builds a LIKE pattern matching s literally; use with ESCAPE '\'.
func likeContains(s string) string { return "%" + likeEscaper.Replace(s) + "%" }
