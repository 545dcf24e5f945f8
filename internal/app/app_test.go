package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envbackup/internal/backup"
	"envbackup/internal/config"
	"envbackup/internal/platform/logger"
	"envbackup/internal/schedule"
)

// fakeCMA serves a primary environment and records forks. Forks complete
// through an async job.
type fakeCMA struct {
	mu    sync.Mutex
	forks []string
}

func (f *fakeCMA) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/environments":
		var b strings.Builder
		b.WriteString(`{"data":[{"type":"environment","id":"main","meta":{"primary":true,"created_at":"2025-01-01T00:00:00Z"}}`)
		for _, id := range f.forks {
			b.WriteString(`,{"type":"environment","id":"` + id + `","meta":{"primary":false,"created_at":"2026-01-01T00:00:00Z"}}`)
		}
		b.WriteString(`]}`)
		_, _ = io.WriteString(w, b.String())
	case r.Method == http.MethodPost && r.URL.Path == "/environments/main/fork":
		var body struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.forks = append(f.forks, body.Data.ID)
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"data":{"type":"job","id":"job-`+body.Data.ID+`"}}`)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/job-results/"):
		_, _ = io.WriteString(w, `{"data":{"type":"job_result","attributes":{"status":201,"payload":{}}}}`)
	default:
		http.NotFound(w, r)
	}
}

func testConfig(baseURL string) config.Config {
	var cfg config.Config
	cfg.Env = "dev"
	cfg.DeploymentID = "test"
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.CMA.APIToken = "tok"
	cfg.CMA.BaseURL = baseURL
	cfg.CMA.Timeout = 5 * time.Second
	cfg.Schedule.TimezoneFallback = "UTC"
	cfg.Store.Driver = "memory"
	cfg.Lock.TTL = time.Minute
	return cfg
}

func newTestApp(t *testing.T) (*App, *fakeCMA) {
	t.Helper()
	remote := &fakeCMA{}
	srv := httptest.NewServer(remote)
	t.Cleanup(srv.Close)

	a, err := Build(context.Background(), testConfig(srv.URL), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, remote
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestApp_ScheduledPassOverHTTP(t *testing.T) {
	a, remote := newTestApp(t)
	h := a.Handler()

	rec := serve(h, http.MethodPost, "/api/backups/scheduled")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res backup.ScheduledBackupsRunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, []schedule.Cadence{schedule.Daily, schedule.Weekly}, res.DueCadences)
	require.Len(t, remote.forks, 2)
	assert.True(t, strings.HasPrefix(remote.forks[0], "backup-plugin-daily-"))
	assert.True(t, strings.HasPrefix(remote.forks[1], "backup-plugin-weekly-"))

	// the second trigger of the day has nothing to do
	rec = serve(h, http.MethodPost, "/api/backups/scheduled")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Skipped)
	assert.Equal(t, backup.SkipNothingDue, res.SkipReason)
	assert.Len(t, remote.forks, 2)

	rec = serve(h, http.MethodGet, "/api/backups/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var st backup.BackupStatusResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Len(t, st.Slots, len(schedule.AllCadences))

	rec = serve(h, http.MethodGet, "/metrics")
	assert.Contains(t, rec.Body.String(), `envbackup_passes_total{outcome="success"} 1`)
	assert.Contains(t, rec.Body.String(), `envbackup_passes_total{outcome="skipped"} 1`)

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/healthz").Code)
}

func TestApp_ManualBackupOfDisabledCadence(t *testing.T) {
	a, remote := newTestApp(t)

	rec := serve(a.Handler(), http.MethodPost, "/api/backups/monthly")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "CADENCE_NOT_ENABLED")
	assert.Empty(t, remote.forks)
}

func TestApp_RunPassJob(t *testing.T) {
	a, remote := newTestApp(t)
	require.NoError(t, a.runPass(context.Background()))
	assert.Len(t, remote.forks, 2)
}

func TestApp_ServeStopsOnCancel(t *testing.T) {
	a, _ := newTestApp(t)
	a.cfg.Schedule.CronEnabled = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestBuild_NotifierErrorLeavesLoggerOpen(t *testing.T) {
	orig := newNotifier
	t.Cleanup(func() { newNotifier = orig })
	newNotifier = func(string, int64, string, *slog.Logger) (backup.Notifier, error) {
		return nil, errors.New("bad bot token")
	}

	file := filepath.Join(t.TempDir(), "app.log")
	log := logger.New(logger.Options{Env: "prod", File: file, Console: io.Discard, App: "envbackup"})
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Telegram.Token, cfg.Telegram.ChatID = "123:abc", 42

	_, err := Build(context.Background(), cfg, log)
	require.ErrorContains(t, err, "bad bot token")

	log.Info("still logging after failed build")
	require.NoError(t, logger.Close(log))
	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "still logging after failed build")
}

func TestBuild_UnknownStore(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Store.Driver = "etcd"
	_, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
