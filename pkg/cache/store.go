/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package cache is the scheduler's persistent local store: instance
// shapes, spot quotes, job state and timed locks live in a single
// SQLite file shared by every concurrent CLI invocation.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// busyTimeout tolerates the workflow engine hammering the CLI: a writer
// holding the file briefly must not fail its siblings.
const busyTimeout = 10 * time.Minute

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	jobid          TEXT PRIMARY KEY,
	jobname        TEXT NOT NULL,
	status         TEXT NOT NULL,
	instance_id    TEXT NOT NULL DEFAULT '',
	orig_jobscript TEXT NOT NULL DEFAULT '',
	start_time     TEXT NOT NULL DEFAULT '',
	end_time       TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS instance_types (
	shape      TEXT PRIMARY KEY,
	cpus       INTEGER NOT NULL,
	mem_mb     INTEGER NOT NULL,
	storage_gb INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS it_features (
	shape TEXT NOT NULL,
	key   TEXT NOT NULL,
	value REAL NOT NULL,
	PRIMARY KEY (shape, key)
);
CREATE TABLE IF NOT EXISTS spot_prices (
	shape   TEXT NOT NULL,
	az      TEXT NOT NULL,
	price   REAL NOT NULL,
	backoff INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (shape, az)
);
CREATE TABLE IF NOT EXISTS timed_locks (
	key     TEXT PRIMARY KEY,
	instant TEXT NOT NULL
);
`

type Store struct {
	db *sql.DB

	clock func() time.Time
}

// Open opens (creating if needed) the cache file. The connection runs
// in autocommit mode; cross-process writers serialize on SQLite's own
// file locking with a long busy timeout.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(%d)", path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening cache %s, %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing cache schema, %w", err)
	}
	return &Store{db: db, clock: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// now is stored with second precision so that rows round-trip through
// their RFC 3339 serialization unchanged.
func (s *Store) now() time.Time {
	return s.clock().UTC().Truncate(time.Second)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// TimedLock is the scheduler's sole cross-process coordination
// primitive. It returns true if no holder has acquired key within the
// last d; the caller then owns the guarded refresh until d elapses. A
// false return means another invocation got there first and the caller
// must proceed with whatever cached data it has.
func (s *Store) TimedLock(ctx context.Context, key string, d time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning timed lock transaction, %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stored string
	err = tx.QueryRowContext(ctx, `SELECT instant FROM timed_locks WHERE key = ?`, key).Scan(&stored)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("reading timed lock %s, %w", key, err)
	}
	now := s.now()
	if err == nil {
		if instant := parseTime(stored); !instant.IsZero() && now.Sub(instant) <= d {
			return false, nil
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO timed_locks (key, instant) VALUES (?, ?)`, key, formatTime(now)); err != nil {
		return false, fmt.Errorf("taking timed lock %s, %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing timed lock %s, %w", key, err)
	}
	return true, nil
}
