package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir()) // no .env
	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "prod", c.Env)
	assert.Equal(t, "default", c.DeploymentID)
	assert.Equal(t, "sqlite", c.Store.Driver)
	assert.Equal(t, 30*time.Second, c.CMA.Timeout)
	assert.Equal(t, 2, c.CMA.Retries)
	assert.True(t, c.Schedule.CronEnabled)
	assert.True(t, c.Schedule.SlotGate, "deployments are spread over their slots by default")
	assert.Equal(t, 10*time.Second, c.CMA.MaxBackoff)
	assert.Equal(t, 2*time.Minute, c.CMA.RetryBudget)
	assert.Equal(t, time.Second, c.CMA.PollInterval)
	assert.Equal(t, "UTC", c.Schedule.TimezoneFallback)
}

func TestLoad_Overrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("ENV", "dev")
	t.Setenv("STORE_DRIVER", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("PASS_LOCK", "true")
	t.Setenv("PASS_LOCK_TTL", "2m")
	t.Setenv("CMA_RETRIES", "4")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis", c.Store.Driver)
	assert.True(t, c.Lock.Enabled)
	assert.Equal(t, 2*time.Minute, c.Lock.TTL)
	assert.Equal(t, 4, c.CMA.Retries)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad env", map[string]string{"ENV": "staging"}},
		{"bad driver", map[string]string{"STORE_DRIVER": "mongo"}},
		{"postgres without url", map[string]string{"STORE_DRIVER": "postgres"}},
		{"bad duration", map[string]string{"CMA_TIMEOUT": "soon"}},
		{"bad bool", map[string]string{"CRON_ENABLED": "sometimes"}},
		{"lock without redis", map[string]string{"PASS_LOCK": "1"}},
		{"telegram without chat", map[string]string{"TELEGRAM_BOT_TOKEN": "123:abc"}},
		{"too many retries", map[string]string{"CMA_RETRIES": "50"}},
		{"zero poll interval", map[string]string{"CMA_POLL_INTERVAL": "0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

// chdir changes the working directory for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatal(err)
		}
	})
}
