package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// WaitOptions содержит опции ожидания доступности БД при старте.
type WaitOptions struct {
	// MaxRetries - максимальное количество попыток (0 = до таймаута контекста)
	MaxRetries int
	// InitialInterval - начальная задержка между попытками
	InitialInterval time.Duration
	// MaxInterval - потолок экспоненциальной задержки
	MaxInterval time.Duration
	// PingTimeout - таймаут для каждой попытки ping
	PingTimeout time.Duration
}

// DefaultWaitOptions возвращает опции по умолчанию.
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		MaxRetries:      8,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		PingTimeout:     5 * time.Second,
	}
}

// WaitForDB ожидает доступности базы данных с экспоненциальной задержкой.
func WaitForDB(ctx context.Context, dsn string, opts WaitOptions) error {
	interval := opts.InitialInterval
	for attempt := 1; ; attempt++ {
		err := pingDatabase(ctx, dsn, opts.PingTimeout)
		if err == nil {
			return nil
		}
		if opts.MaxRetries > 0 && attempt >= opts.MaxRetries {
			return fmt.Errorf("database not available after %d attempts: %w", attempt, err)
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("context cancelled while waiting for database: %w", ctx.Err())
		case <-timer.C:
		}
		interval = nextInterval(interval, opts.MaxInterval)
	}
}

// HealthCheckPool проверяет существующий пул: ping и простой запрос.
func HealthCheckPool(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("pool is nil")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := pool.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("simple query failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("unexpected query result: got %d, want 1", result)
	}
	return nil
}

func pingDatabase(ctx context.Context, dsn string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// nextInterval удваивает задержку, не превышая потолок.
func nextInterval(cur, max time.Duration) time.Duration {
	next := cur * 2
	if max > 0 && next > max {
		return max
	}
	return next
}
