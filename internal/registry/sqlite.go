package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using a local SQLite database. Useful when a
// test rig wants every record in a single inspectable file instead of a
// directory of JSON files.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at config.Path and ensures
// the schema. An empty path yields an in-memory database.
func NewSQLiteStore(config Config) (*SQLiteStore, error) {
	path := config.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(1) // SQLite works best with a single connection
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxAge > 0 {
		db.SetConnMaxLifetime(config.ConnMaxAge)
	}

	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS server_records (
    config_hash TEXT PRIMARY KEY,
    pid         INTEGER NOT NULL,
    start_time  INTEGER NOT NULL,
    executable  TEXT NOT NULL,
    args        TEXT NOT NULL,
    base_url    TEXT NOT NULL,
    healthy     INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("ensure sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, hash string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT config_hash, pid, start_time, executable, args, base_url, healthy, updated_at
FROM server_records WHERE config_hash = ?`, hash)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		// Unreadable row: drop it and report absence, matching the file
		// backend's corrupt-state policy.
		_, _ = s.db.ExecContext(ctx, `DELETE FROM server_records WHERE config_hash = ?`, hash)
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	if rec.ConfigHash == "" {
		return fmt.Errorf("record without config hash")
	}
	args, err := json.Marshal(rec.Args)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO server_records (config_hash, pid, start_time, executable, args, base_url, healthy, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(config_hash) DO UPDATE SET
    pid = excluded.pid,
    start_time = excluded.start_time,
    executable = excluded.executable,
    args = excluded.args,
    base_url = excluded.base_url,
    healthy = excluded.healthy,
    updated_at = excluded.updated_at`,
		rec.ConfigHash, rec.Pid, rec.StartTime.UnixNano(), rec.Executable, string(args),
		rec.BaseURL, boolToInt(rec.Healthy), rec.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT config_hash, pid, start_time, executable, args, base_url, healthy, updated_at
FROM server_records`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			continue // skip unreadable rows
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM server_records WHERE config_hash = ?`, hash)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var startNs, updatedNs int64
	var argsJSON string
	var healthy int
	if err := row.Scan(&rec.ConfigHash, &rec.Pid, &startNs, &rec.Executable, &argsJSON, &rec.BaseURL, &healthy, &updatedNs); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(argsJSON), &rec.Args); err != nil {
		return Record{}, err
	}
	rec.StartTime = timeFromNs(startNs)
	rec.UpdatedAt = timeFromNs(updatedNs)
	rec.Healthy = healthy != 0
	return rec, nil
}

func timeFromNs(ns int64) time.Time { return time.Unix(0, ns).UTC() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
