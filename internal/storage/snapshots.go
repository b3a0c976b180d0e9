/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */
package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// language=SQL
// dialect=SQLite
const insertSnapshotSQL = `INSERT INTO passage_snapshots(passage_id, ts, text) VALUES (?, ?, ?)`

// language=SQL
// dialect=SQLite
const selectLatestSnapshotSQL = `SELECT ts, text FROM passage_snapshots WHERE passage_id = ? ORDER BY ts DESC, id DESC LIMIT 1`

// language=SQL
// dialect=SQLite
const listSnapshotsSQL = `SELECT ts, text FROM passage_snapshots WHERE passage_id = ? ORDER BY ts DESC, id DESC LIMIT ?`

// language=SQL
// dialect=SQLite
const pruneOldSnapshotsSQL = `DELETE FROM passage_snapshots WHERE passage_id = ? AND id NOT IN (
	SELECT id FROM passage_snapshots WHERE passage_id = ? ORDER BY ts DESC, id DESC LIMIT ?
)`

// Snapshot is one saved passage text.
type Snapshot struct {
	TS   time.Time
	Text string
}

// SaveSnapshot stores the text of a passage with a timestamp.
func SaveSnapshot(ctx context.Context, h *StoryHandle, passageID, text string, ts time.Time) error {
	if h == nil {
		return errors.New("nil StoryHandle")
	}
	db, err := InitOrOpenIndex(h.Root)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	_, err = db.ExecContext(ctx, insertSnapshotSQL, passageID, ts.UTC().Format(time.RFC3339Nano), text)
	return err
}

// LatestSnapshot returns the newest snapshot of a passage; ok is false when none exists.
func LatestSnapshot(ctx context.Context, h *StoryHandle, passageID string) (s Snapshot, ok bool, err error) {
	if h == nil {
		return Snapshot{}, false, errors.New("nil StoryHandle")
	}
	db, err := InitOrOpenIndex(h.Root)
	if err != nil {
		return Snapshot{}, false, err
	}
	defer func() { _ = db.Close() }()
	var tsStr string
	err = db.QueryRowContext(ctx, selectLatestSnapshotSQL, passageID).Scan(&tsStr, &s.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	// keep the text even when the timestamp is unreadable
	s.TS, _ = time.Parse(time.RFC3339Nano, tsStr)
	return s, true, nil
}

// ListSnapshots returns up to limit most recent snapshots of a passage, newest first.
func ListSnapshots(ctx context.Context, h *StoryHandle, passageID string, limit int) ([]Snapshot, error) {
	if h == nil {
		return nil, errors.New("nil StoryHandle")
	}
	if limit <= 0 {
		limit = 50
	}
	db, err := InitOrOpenIndex(h.Root)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()
	rows, err := db.QueryContext(ctx, listSnapshotsSQL, passageID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Snapshot
	for rows.Next() {
		var tsStr string
		var s Snapshot
		if err := rows.Scan(&tsStr, &s.Text); err != nil {
			return nil, err
		}
		s.TS, _ = time.Parse(time.RFC3339Nano, tsStr)
		out = append(out, s)
	}
	return out, rows.Err()
}

// PruneOldSnapshots keeps at most keepLast snapshots of the passage.
func PruneOldSnapshots(ctx context.Context, h *StoryHandle, passageID string, keepLast int) (int64, error) {
	if h == nil {
		return 0, errors.New("nil StoryHandle")
	}
	if keepLast <= 0 {
		return 0, nil
	}
	db, err := InitOrOpenIndex(h.Root)
	if err != nil {
		return 0, err
	}
	defer func() { _ = db.Close() }()
	res, err := db.ExecContext(ctx, pruneOldSnapshotsSQL, passageID, passageID, keepLast)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
