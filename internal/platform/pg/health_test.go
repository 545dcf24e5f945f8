package pg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextInterval(t *testing.T) {
	tests := []struct {
		cur, max, want time.Duration
	}{
		{time.Second, 10 * time.Second, 2 * time.Second},
		{8 * time.Second, 10 * time.Second, 10 * time.Second},
		{time.Second, 0, 2 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, nextInterval(tt.cur, tt.max))
	}
}

func TestWaitForDB_GivesUp(t *testing.T) {
	opts := WaitOptions{MaxRetries: 2, InitialInterval: 10 * time.Millisecond, MaxInterval: 20 * time.Millisecond, PingTimeout: 200 * time.Millisecond}
	err := WaitForDB(context.Background(), "postgres://u:p@127.0.0.1:1/db?sslmode=disable&connect_timeout=1", opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestWaitForDB_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts := WaitOptions{InitialInterval: time.Second, PingTimeout: 100 * time.Millisecond}
	err := WaitForDB(ctx, "postgres://u:p@127.0.0.1:1/db?sslmode=disable", opts)
	require.ErrorIs(t, err, context.Canceled)
}

func TestHealthCheckPool_Nil(t *testing.T) {
	assert.Error(t, HealthCheckPool(context.Background(), nil))
}

func TestDefaultPoolOptions(t *testing.T) {
	opts := DefaultPoolOptions()
	assert.Equal(t, int32(4), opts.MaxConns)
	assert.Equal(t, 5*time.Second, opts.PingTimeout)
}

func TestNewPool_InvalidDSN(t *testing.T) {
	_, err := NewPool(context.Background(), "postgres://u:p@host:5432/%zz")
	assert.Error(t, err)
}
