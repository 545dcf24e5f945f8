// Package storage implements the key/value store used for schedule records.
//
// Four backends are available: sqlite (default), postgres, redis and an
// in-memory map for tests and dry runs. Every backend reports a missing key
// as shared.ErrNotFound.
package storage

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"envbackup/internal/shared"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Store is a key/value store of opaque records.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver        string
	SQLitePath    string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Logger        *slog.Logger
}

// Open connects to the backend named by opts.Driver and applies its schema.
func Open(ctx context.Context, opts Options) (Store, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "storage"), slog.String("driver", opts.Driver))

	switch opts.Driver {
	case "sqlite", "":
		return OpenSQLite(ctx, opts.SQLitePath, log)
	case "postgres":
		return OpenPostgres(ctx, opts.DatabaseURL, log)
	case "redis":
		return OpenRedis(ctx, RedisOptions{Addr: opts.RedisAddr, Password: opts.RedisPassword, DB: opts.RedisDB}, log)
	case "memory":
		log.Warn("memory store selected, schedule records are lost on restart")
		return NewMemory(), nil
	default:
		return nil, shared.MarkKind(fmt.Errorf("unknown store driver %q", opts.Driver), shared.KindConfiguration)
	}
}

func notFound(key string) error {
	return shared.Wrapf(shared.ErrNotFound, "key %s", key)
}
