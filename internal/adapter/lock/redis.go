// Package lock provides the distributed pass lock backed by Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "envbackup:lock:"

// ErrNotOwner is returned when the lock expired or was taken over by another
// holder before release or extension.
var ErrNotOwner = errors.New("lock no longer owned by this holder")

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Redis is a PassLocker that holds a TTL-bound key per deployment.
type Redis struct {
	client    *redis.Client
	ttl       time.Duration
	heartbeat time.Duration
	log       *slog.Logger
}

// Option configures Redis.
type Option func(*Redis)

// WithLogger sets the logger for renewal failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Redis) {
		if l != nil {
			r.log = l
		}
	}
}

// WithHeartbeat sets how often a lock taken through TryLock is renewed.
// Defaults to a third of the TTL.
func WithHeartbeat(d time.Duration) Option {
	return func(r *Redis) {
		if d > 0 {
			r.heartbeat = d
		}
	}
}

// NewRedis creates a locker. ttl bounds how long a crashed holder can block
// later passes; a live holder keeps renewing it.
func NewRedis(client *redis.Client, ttl time.Duration, opts ...Option) *Redis {
	r := &Redis{client: client, ttl: ttl, heartbeat: ttl / 3, log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Held is an acquired lock.
type Held struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire tries to take key. It returns nil without error when another
// holder owns it.
func (r *Redis) Acquire(ctx context.Context, key string) (*Held, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, keyPrefix+key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	return &Held{client: r.client, key: keyPrefix + key, token: token}, nil
}

// TryLock adapts Acquire to the coordinator's locking contract. The lock is
// renewed in the background until the returned unlock is called, so a pass
// longer than the TTL keeps it.
func (r *Redis) TryLock(ctx context.Context, key string) (func(context.Context) error, bool, error) {
	h, err := r.Acquire(ctx, key)
	if err != nil || h == nil {
		return nil, false, err
	}
	stop := h.KeepAlive(r.ttl, r.heartbeat, func(err error) {
		r.log.Warn("pass lock renewal failed", slog.String("key", h.key), slog.Any("error", err))
	})
	return func(ctx context.Context) error {
		stop()
		return h.Release(ctx)
	}, true, nil
}

// Release deletes the key if it still carries our token.
func (h *Held) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, h.client, []string{h.key}, h.token).Int64()
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}

// Extend resets the TTL of an owned lock.
func (h *Held) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, h.client, []string{h.key}, h.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock: %w", err)
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}

// KeepAlive extends the lock to ttl every interval until the returned stop
// is called or the lock is lost. onErr sees every failed renewal; renewal
// ends after ErrNotOwner. stop waits for the renewal goroutine to exit.
func (h *Held) KeepAlive(ttl, interval time.Duration, onErr func(error)) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
			}
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := h.Extend(ctx, ttl)
			cancel()
			if err == nil {
				continue
			}
			if onErr != nil {
				onErr(err)
			}
			if errors.Is(err, ErrNotOwner) {
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-exited
		})
	}
}

func (h *Held) Key() string   { return h.key }
func (h *Held) Token() string { return h.token }
