// Package httpapi exposes the backup engine over HTTP: the scheduled pass
// trigger, manual single-cadence backups, the status report, health and
// metrics.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"envbackup/internal/backup"
	"envbackup/internal/schedule"
	"envbackup/internal/shared"
)

// Service is the engine surface served over HTTP.
type Service interface {
	Run(ctx context.Context, creds backup.Credentials, now time.Time) (backup.ScheduledBackupsRunResult, error)
	BackupNow(ctx context.Context, creds backup.Credentials, cad schedule.Cadence, now time.Time) (backup.ManualBackupNowResult, error)
	Status(ctx context.Context, creds backup.Credentials, now time.Time) (backup.BackupStatusResult, error)
}

// Options configures the router.
type Options struct {
	Service Service
	// APIToken is used when a request carries no X-Api-Token header.
	APIToken      string
	TriggerSecret string
	// RateLimit is the minimum interval between trigger requests of one
	// client. Zero disables limiting.
	RateLimit time.Duration
	// Health reports readiness, usually a store ping. Optional.
	Health  func(ctx context.Context) error
	Metrics http.Handler
	Logger  *slog.Logger
	Now     func() time.Time
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Result  any    `json:"result,omitempty"`
}

type handler struct {
	svc      Service
	apiToken string
	health   func(ctx context.Context) error
	log      *slog.Logger
	now      func() time.Time
}

// NewRouter builds the gin engine.
func NewRouter(opts Options) *gin.Engine {
	h := &handler{svc: opts.Service, apiToken: opts.APIToken, health: opts.Health, log: opts.Logger, now: opts.Now}
	if h.log == nil {
		h.log = slog.Default()
	}
	h.log = h.log.With(slog.String("component", "http"))
	if h.now == nil {
		h.now = time.Now
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.log))

	r.GET("/healthz", h.healthz)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	api := r.Group("/api/backups", NewSecretGuard(opts.TriggerSecret).Middleware())
	api.GET("/status", h.status)
	trig := api.Group("", NewRateLimiter(opts.RateLimit).Middleware())
	trig.POST("/scheduled", h.scheduled)
	trig.POST("/:cadence", h.manual)
	return r
}

func (h *handler) credentials(c *gin.Context) backup.Credentials {
	if t := c.GetHeader("X-Api-Token"); t != "" {
		return backup.Credentials{APIToken: t}
	}
	return backup.Credentials{APIToken: h.apiToken}
}

func (h *handler) healthz(c *gin.Context) {
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			h.log.Warn("health check failed", slog.Any("error", err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) scheduled(c *gin.Context) {
	res, err := h.svc.Run(c.Request.Context(), h.credentials(c), h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	if res.HasScheduledBackupFailures {
		c.JSON(http.StatusInternalServerError, ErrorBody{
			Code:    "SCHEDULED_BACKUPS_PARTIAL_FAILURE",
			Message: "one or more scheduled backups failed",
			Result:  res,
		})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) manual(c *gin.Context) {
	cad, err := schedule.ParseCadence(c.Param("cadence"))
	if err != nil {
		abort(c, http.StatusBadRequest, "INVALID_CADENCE", err.Error())
		return
	}
	res, err := h.svc.BackupNow(c.Request.Context(), h.credentials(c), cad, h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) status(c *gin.Context) {
	res, err := h.svc.Status(c.Request.Context(), h.credentials(c), h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) fail(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", slog.String("path", c.FullPath()), slog.String("kind", shared.KindOf(err).String()), slog.Any("error", err))
	}
	abort(c, status, code, err.Error())
}

// classify maps an engine error onto a status code and a stable error code.
func classify(err error) (int, string) {
	if errors.Is(err, backup.ErrMissingCredential) {
		return http.StatusBadRequest, "MISSING_API_TOKEN"
	}
	switch shared.KindOf(err) {
	case shared.KindCadenceNotEnabled:
		return http.StatusConflict, "CADENCE_NOT_ENABLED"
	case shared.KindConflict:
		if errors.Is(err, backup.ErrPassInProgress) {
			return http.StatusConflict, "PASS_IN_PROGRESS"
		}
		return http.StatusBadGateway, "BACKUP_FAILED"
	case shared.KindValidation:
		return http.StatusBadRequest, "INVALID_REQUEST"
	case shared.KindConfiguration:
		return http.StatusBadRequest, "CONFIGURATION_ERROR"
	case shared.KindCanceled:
		return 499, "CANCELED"
	case shared.KindTimeout:
		return http.StatusGatewayTimeout, "TIMEOUT"
	case shared.KindRemoteState, shared.KindUnauthorized, shared.KindNotFound, shared.KindDependencyFailure:
		return http.StatusBadGateway, "BACKUP_FAILED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, ErrorBody{Code: code, Message: msg})
}
