package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store on PostgreSQL via the pgx stdlib driver.
// Meant for shared CI runners where several hosts coordinate through one
// registry database instead of their local filesystems.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects using config.DSN and ensures the schema.
func NewPostgresStore(config Config) (*PostgresStore, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("postgres store requires a dsn")
	}
	db, err := sql.Open("pgx", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxAge > 0 {
		db.SetConnMaxLifetime(config.ConnMaxAge)
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS server_records (
    config_hash TEXT PRIMARY KEY,
    pid         BIGINT NOT NULL,
    start_time  BIGINT NOT NULL,
    executable  TEXT NOT NULL,
    args        TEXT NOT NULL,
    base_url    TEXT NOT NULL,
    healthy     BOOLEAN NOT NULL,
    updated_at  BIGINT NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("ensure postgres schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, hash string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT config_hash, pid, start_time, executable, args, base_url, healthy, updated_at
FROM server_records WHERE config_hash = $1`, hash)
	rec, err := scanPgRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM server_records WHERE config_hash = $1`, hash)
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	if rec.ConfigHash == "" {
		return fmt.Errorf("record without config hash")
	}
	args, err := json.Marshal(rec.Args)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO server_records (config_hash, pid, start_time, executable, args, base_url, healthy, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (config_hash) DO UPDATE SET
    pid = EXCLUDED.pid,
    start_time = EXCLUDED.start_time,
    executable = EXCLUDED.executable,
    args = EXCLUDED.args,
    base_url = EXCLUDED.base_url,
    healthy = EXCLUDED.healthy,
    updated_at = EXCLUDED.updated_at`,
		rec.ConfigHash, rec.Pid, rec.StartTime.UnixNano(), rec.Executable, string(args),
		rec.BaseURL, rec.Healthy, rec.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT config_hash, pid, start_time, executable, args, base_url, healthy, updated_at
FROM server_records`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Record
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			continue // skip unreadable rows
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM server_records WHERE config_hash = $1`, hash)
	return err
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func scanPgRecord(row rowScanner) (Record, error) {
	var rec Record
	var startNs, updatedNs int64
	var argsJSON string
	if err := row.Scan(&rec.ConfigHash, &rec.Pid, &startNs, &rec.Executable, &argsJSON, &rec.BaseURL, &rec.Healthy, &updatedNs); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(argsJSON), &rec.Args); err != nil {
		return Record{}, err
	}
	rec.StartTime = timeFromNs(startNs)
	rec.UpdatedAt = timeFromNs(updatedNs)
	return rec, nil
}
