/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */
package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var (
	ErrNotFound        = errors.New("story not found")
	ErrVersionConflict = errors.New("story version conflict")
)

// StoryInfo is the listing projection of a stored story.
type StoryInfo struct {
	ID           int64     `json:"id"`
	StableID     string    `json:"stable_id"`
	IFID         string    `json:"ifid"`
	Name         string    `json:"name"`
	PassageCount int       `json:"passage_count"`
	Version      int64     `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store persists stories as twee source.
type Store interface {
	ListStories(ctx context.Context) ([]StoryInfo, error)
	GetTwee(ctx context.Context, stableID string) (StoryInfo, string, error)
	// PutTwee creates or replaces a story. ifMatch > 0 requires the stored
	// version to equal it.
	PutTwee(ctx context.Context, info StoryInfo, source string, ifMatch int64, author string) (StoryInfo, error)
	Ping(ctx context.Context) error
}

// PGStore implements Store on Postgres through the pgx stdlib driver.
type PGStore struct {
	db *sql.DB
}

// OpenPG opens a pgx-backed database handle and checks connectivity.
func OpenPG(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PGStore) ListStories(ctx context.Context) ([]StoryInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, stable_id, ifid, name, passage_count, version, updated_at
		FROM stories ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []StoryInfo{}
	for rows.Next() {
		var si StoryInfo
		if err := rows.Scan(&si.ID, &si.StableID, &si.IFID, &si.Name, &si.PassageCount, &si.Version, &si.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, si)
	}
	return list, rows.Err()
}

func (s *PGStore) GetTwee(ctx context.Context, stableID string) (StoryInfo, string, error) {
	var si StoryInfo
	var src string
	err := s.db.QueryRowContext(ctx, `SELECT id, stable_id, ifid, name, passage_count, version, updated_at, source
		FROM stories WHERE stable_id = $1`, stableID).
		Scan(&si.ID, &si.StableID, &si.IFID, &si.Name, &si.PassageCount, &si.Version, &si.UpdatedAt, &src)
	if errors.Is(err, sql.ErrNoRows) {
		return StoryInfo{}, "", ErrNotFound
	}
	return si, src, err
}

func (s *PGStore) PutTwee(ctx context.Context, info StoryInfo, source string, ifMatch int64, author string) (StoryInfo, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return StoryInfo{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var id, cur int64
	err = tx.QueryRowContext(ctx, `SELECT id, version FROM stories WHERE stable_id = $1 FOR UPDATE`, info.StableID).Scan(&id, &cur)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if ifMatch > 0 {
			return StoryInfo{}, ErrNotFound
		}
		err = tx.QueryRowContext(ctx, `INSERT INTO stories(stable_id, ifid, name, passage_count, source)
			VALUES($1, $2, $3, $4, $5) RETURNING id, version, updated_at`,
			info.StableID, info.IFID, info.Name, info.PassageCount, source).Scan(&info.ID, &info.Version, &info.UpdatedAt)
	case err != nil:
		return StoryInfo{}, err
	default:
		if ifMatch > 0 && ifMatch != cur {
			return StoryInfo{}, fmt.Errorf("%w: have %d, want %d", ErrVersionConflict, cur, ifMatch)
		}
		err = tx.QueryRowContext(ctx, `UPDATE stories SET ifid=$2, name=$3, passage_count=$4, source=$5,
			version=version+1, updated_at=now() WHERE id=$1 RETURNING id, version, updated_at`,
			id, info.IFID, info.Name, info.PassageCount, source).Scan(&info.ID, &info.Version, &info.UpdatedAt)
	}
	if err != nil {
		return StoryInfo{}, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO story_revisions(story_id, version, source, author) VALUES($1, $2, $3, $4)`,
		info.ID, info.Version, source, author); err != nil {
		return StoryInfo{}, err
	}
	return info, tx.Commit()
}
