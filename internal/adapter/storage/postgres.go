package storage

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"envbackup/internal/platform/pg"
	"envbackup/internal/shared"
)

// Postgres stores records in a shared PostgreSQL database, which lets several
// replicas of the service see the same schedule.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres waits for the database, migrates it and opens a pool.
func OpenPostgres(ctx context.Context, dsn string, log *slog.Logger) (*Postgres, error) {
	if err := pg.WaitForDB(ctx, dsn, pg.DefaultWaitOptions()); err != nil {
		return nil, shared.MarkKind(err, shared.KindDependencyFailure)
	}
	info, err := pg.ApplyMigrationsFS(dsn, migrationsFS, "migrations/postgres")
	if err != nil {
		return nil, shared.MarkKind(err, shared.KindDependencyFailure)
	}
	pool, err := pg.NewPool(ctx, dsn)
	if err != nil {
		return nil, shared.MarkKind(err, shared.KindDependencyFailure)
	}
	log.Info("postgres store ready", slog.Bool("migrated", info.Applied), slog.Uint64("version", uint64(info.FinalVersion)))
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := p.pool.QueryRow(ctx, `SELECT value FROM schedule_records WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, shared.MarkKind(err, shared.KindDependencyFailure)
	}
	return v, nil
}

func (p *Postgres) Put(ctx context.Context, key string, value []byte) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO schedule_records (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return shared.MarkKind(err, shared.KindDependencyFailure)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return pg.HealthCheckPool(ctx, p.pool) }

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
