package storage

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"envbackup/internal/platform/sqlite"
	"envbackup/internal/shared"
)

// SQLite stores records in a single table of a local database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the database at path and applies the embedded migrations.
func OpenSQLite(ctx context.Context, path string, log *slog.Logger) (*SQLite, error) {
	db, err := sqlite.Open(ctx, path, sqlite.DefaultOptions())
	if err != nil {
		return nil, shared.MarkKind(err, shared.KindDependencyFailure)
	}
	if err := sqlite.ApplyMigrationsFS(path, migrationsFS, "migrations/sqlite"); err != nil {
		_ = db.Close()
		return nil, shared.MarkKind(err, shared.KindDependencyFailure)
	}
	log.Info("sqlite store ready", slog.String("path", path))
	return &SQLite{db: db}, nil
}

// NewSQLite wraps an already migrated database.
func NewSQLite(db *sql.DB) *SQLite { return &SQLite{db: db} }

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM schedule_records WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, shared.MarkKind(err, shared.KindDependencyFailure)
	}
	return v, nil
}

func (s *SQLite) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedule_records (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return shared.MarkKind(err, shared.KindDependencyFailure)
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLite) Close() error                   { return s.db.Close() }
