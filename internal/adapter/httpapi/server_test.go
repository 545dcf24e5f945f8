package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envbackup/internal/backup"
	"envbackup/internal/schedule"
	"envbackup/internal/shared"
)

var fixedNow = time.Date(2026, 3, 5, 9, 30, 0, 0, time.UTC)

type fakeService struct {
	runRes    backup.ScheduledBackupsRunResult
	runErr    error
	manualErr error
	statusErr error

	gotCreds   backup.Credentials
	gotCadence schedule.Cadence
	gotNow     time.Time
}

func (f *fakeService) Run(_ context.Context, creds backup.Credentials, now time.Time) (backup.ScheduledBackupsRunResult, error) {
	f.gotCreds, f.gotNow = creds, now
	return f.runRes, f.runErr
}

func (f *fakeService) BackupNow(_ context.Context, creds backup.Credentials, cad schedule.Cadence, now time.Time) (backup.ManualBackupNowResult, error) {
	f.gotCreds, f.gotCadence = creds, cad
	if f.manualErr != nil {
		return backup.ManualBackupNowResult{}, f.manualErr
	}
	return backup.ManualBackupNowResult{Scope: cad, CheckedAt: now, CreatedEnvironmentID: cad.EnvironmentID(schedule.DateOf(now))}, nil
}

func (f *fakeService) Status(_ context.Context, creds backup.Credentials, _ time.Time) (backup.BackupStatusResult, error) {
	f.gotCreds = creds
	return backup.BackupStatusResult{}, f.statusErr
}

func newTestRouter(svc Service, mutate ...func(*Options)) *gin.Engine {
	gin.SetMode(gin.TestMode)
	opts := Options{Service: svc, APIToken: "cfg-token", Now: func() time.Time { return fixedNow }}
	for _, m := range mutate {
		m(&opts)
	}
	return NewRouter(opts)
}

func do(r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestScheduled_OK(t *testing.T) {
	svc := &fakeService{runRes: backup.ScheduledBackupsRunResult{RunID: "r1", Skipped: true, SkipReason: backup.SkipNothingDue}}
	rec := do(newTestRouter(svc), http.MethodPost, "/api/backups/scheduled", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cfg-token", svc.gotCreds.APIToken)
	assert.Equal(t, fixedNow, svc.gotNow)
	assert.Contains(t, rec.Body.String(), `"skipReason":"no_cadence_due"`)
}

func TestScheduled_TokenHeaderOverrides(t *testing.T) {
	svc := &fakeService{}
	do(newTestRouter(svc), http.MethodPost, "/api/backups/scheduled", map[string]string{"X-Api-Token": "req-token"})
	assert.Equal(t, "req-token", svc.gotCreds.APIToken)
}

func TestScheduled_PartialFailure(t *testing.T) {
	svc := &fakeService{runRes: backup.ScheduledBackupsRunResult{
		RunID:                      "r2",
		DueCadences:                []schedule.Cadence{schedule.Daily},
		Results:                    []backup.ScheduledCadenceExecutionResult{{Scope: schedule.Daily, Status: backup.StatusFailed, Error: "boom"}},
		HasScheduledBackupFailures: true,
	}}
	rec := do(newTestRouter(svc), http.MethodPost, "/api/backups/scheduled", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body struct {
		Code   string                           `json:"code"`
		Result backup.ScheduledBackupsRunResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "SCHEDULED_BACKUPS_PARTIAL_FAILURE", body.Code)
	require.Len(t, body.Result.Results, 1)
	assert.Equal(t, "boom", body.Result.Results[0].Error)
}

func TestScheduled_MissingToken(t *testing.T) {
	svc := &fakeService{runErr: backup.ErrMissingCredential}
	rec := do(newTestRouter(svc), http.MethodPost, "/api/backups/scheduled", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_API_TOKEN", decodeError(t, rec).Code)
}

func TestManual(t *testing.T) {
	svc := &fakeService{}
	rec := do(newTestRouter(svc), http.MethodPost, "/api/backups/Weekly", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, schedule.Weekly, svc.gotCadence)
	assert.Contains(t, rec.Body.String(), "backup-plugin-weekly-2026-03-05")
}

func TestManual_Errors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		err    error
		status int
		code   string
	}{
		{"unknown cadence", "/api/backups/hourly", nil, http.StatusBadRequest, "INVALID_CADENCE"},
		{"not enabled", "/api/backups/monthly", &backup.CadenceNotEnabledError{Cadence: schedule.Monthly}, http.StatusConflict, "CADENCE_NOT_ENABLED"},
		{"locked", "/api/backups/daily", backup.ErrPassInProgress, http.StatusConflict, "PASS_IN_PROGRESS"},
		{"no primary", "/api/backups/daily", &backup.RemotePrimaryNotFoundError{Listed: 2}, http.StatusBadGateway, "BACKUP_FAILED"},
		{"remote down", "/api/backups/daily", shared.MarkKind(errors.New("503"), shared.KindDependencyFailure), http.StatusBadGateway, "BACKUP_FAILED"},
		{"timeout", "/api/backups/daily", context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
		{"store broken", "/api/backups/daily", errors.New("disk full"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(newTestRouter(&fakeService{manualErr: tt.err}), http.MethodPost, tt.path, nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestStatus(t *testing.T) {
	svc := &fakeService{}
	rec := do(newTestRouter(svc), http.MethodGet, "/api/backups/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	svc.statusErr = backup.ErrMissingCredential
	rec = do(newTestRouter(svc), http.MethodGet, "/api/backups/status", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerSecret(t *testing.T) {
	r := newTestRouter(&fakeService{}, func(o *Options) { o.TriggerSecret = "s3cret" })

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/api/backups/scheduled", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/backups/status", map[string]string{"Authorization": "Bearer nope"}).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/backups/scheduled", map[string]string{"Authorization": "Bearer s3cret"}).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/backups/scheduled", map[string]string{"X-Trigger-Secret": "s3cret"}).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/healthz", nil).Code, "health is not guarded")
}

func TestRateLimit(t *testing.T) {
	r := newTestRouter(&fakeService{}, func(o *Options) { o.RateLimit = time.Hour })

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/backups/scheduled", nil).Code)
	rec := do(r, http.MethodPost, "/api/backups/scheduled", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", decodeError(t, rec).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/backups/status", nil).Code, "status is not rate limited")
}

func TestRateLimiter_Allow(t *testing.T) {
	now := fixedNow
	rl := NewRateLimiter(time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("10.0.0.1"))
}

func TestHealthz(t *testing.T) {
	var healthErr error
	r := newTestRouter(&fakeService{}, func(o *Options) {
		o.Health = func(context.Context) error { return healthErr }
		o.Metrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) })
	})

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/healthz", nil).Code)
	healthErr = errors.New("db down")
	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/healthz", nil).Code)

	rec := do(r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, "# metrics", rec.Body.String())
}
