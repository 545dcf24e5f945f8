// Package app wires configuration, storage, the remote API client and the
// backup engine, and runs the long-lived service.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"envbackup/internal/adapter/external/cma"
	"envbackup/internal/adapter/httpapi"
	"envbackup/internal/adapter/lock"
	"envbackup/internal/adapter/scheduler"
	"envbackup/internal/adapter/storage"
	"envbackup/internal/adapter/telegram"
	"envbackup/internal/backup"
	"envbackup/internal/config"
	"envbackup/internal/metrics"
	"envbackup/internal/platform/httpclient"
	"envbackup/internal/platform/logger"
)

// newNotifier is replaced in tests.
var newNotifier = func(token string, chatID int64, deployment string, log *slog.Logger) (backup.Notifier, error) {
	return telegram.New(token, chatID, deployment, log)
}

// App wires application components.
type App struct {
	cfg      config.Config
	log      *slog.Logger
	store    storage.Store
	redis    *redis.Client
	registry *prom.Registry
	coord    *backup.Coordinator
}

// New loads configuration and builds every component. Close releases them.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "envbackup",
		Deployment:   cfg.DeploymentID,
	})
	a, err := Build(ctx, cfg, log)
	if err != nil {
		_ = logger.Close(log)
		return nil, err
	}
	return a, nil
}

// Build wires components from an already loaded configuration.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log, registry: prom.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, err := storage.Open(ctx, storage.Options{
		Driver:        cfg.Store.Driver,
		SQLitePath:    cfg.Store.SQLitePath,
		DatabaseURL:   cfg.Store.DatabaseURL,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}
	a.store = store

	hc := cma.NewHTTPClient(
		httpclient.WithLogger(log),
		httpclient.WithTimeout(cfg.CMA.Timeout),
		httpclient.WithRetries(cfg.CMA.Retries, 500*time.Millisecond),
		httpclient.WithMaxBackoff(cfg.CMA.MaxBackoff),
		httpclient.WithMaxRetryDuration(cfg.CMA.RetryBudget),
	)

	opts := []backup.Option{
		backup.WithLogger(log),
		backup.WithDeploymentID(cfg.DeploymentID),
		backup.WithTimezoneFallback(cfg.Schedule.TimezoneFallback),
		backup.WithRecorder(metrics.NewPrometheusRecorder(a.registry)),
		backup.WithSlotGate(cfg.Schedule.SlotGate),
	}

	if cfg.Lock.Enabled {
		opts = append(opts, backup.WithPassLocker(lock.NewRedis(a.redisClient(), cfg.Lock.TTL, lock.WithLogger(log))))
	}
	if cfg.Telegram.Token != "" {
		n, err := newNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, cfg.DeploymentID, log)
		if err != nil {
			_ = a.closeResources()
			return nil, err
		}
		opts = append(opts, backup.WithNotifier(n))
	}

	a.coord = backup.NewCoordinator(store, cma.Factory(hc, cfg.CMA.BaseURL, cma.WithPollInterval(cfg.CMA.PollInterval)), opts...)
	return a, nil
}

// redisClient reuses the store connection when the store is Redis.
func (a *App) redisClient() *redis.Client {
	if rs, ok := a.store.(*storage.Redis); ok {
		return rs.Client()
	}
	if a.redis == nil {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Store.RedisAddr,
			Password: a.cfg.Store.RedisPassword,
			DB:       a.cfg.Store.RedisDB,
		})
	}
	return a.redis
}

// Coordinator returns the backup engine.
func (a *App) Coordinator() *backup.Coordinator { return a.coord }

// Credentials returns the configured API credentials.
func (a *App) Credentials() backup.Credentials {
	return backup.Credentials{APIToken: a.cfg.CMA.APIToken}
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger { return a.log }

// Handler builds the HTTP router.
func (a *App) Handler() http.Handler {
	if a.cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	return httpapi.NewRouter(httpapi.Options{
		Service:       a.coord,
		APIToken:      a.cfg.CMA.APIToken,
		TriggerSecret: a.cfg.HTTP.TriggerSecret,
		RateLimit:     a.cfg.HTTP.RateLimit,
		Health:        a.store.Ping,
		Metrics:       metrics.HTTPHandler(a.registry),
		Logger:        a.log,
	})
}

// Serve runs the HTTP server and, when enabled, the in-process trigger until
// ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	a.log.Info("starting", slog.String("addr", a.cfg.HTTP.Addr), slog.String("store", a.cfg.Store.Driver))

	var sched *scheduler.Scheduler
	if a.cfg.Schedule.CronEnabled {
		sched = scheduler.New(ctx, scheduler.Config{Logger: a.log})
		spec := scheduler.PassSpec(a.cfg.Schedule.CronUseSlot, a.cfg.CMA.APIToken)
		if _, err := sched.AddJob(spec, a.runPass, scheduler.JobOptions{
			Name:          "backup-pass",
			Timeout:       time.Hour,
			OverlapPolicy: scheduler.SkipIfRunning,
		}); err != nil {
			return err
		}
		sched.Start()
	}

	srv := &http.Server{Addr: a.cfg.HTTP.Addr, Handler: a.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown", slog.Any("error", err))
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			a.log.Warn("scheduler shutdown", slog.Any("error", err))
		}
	}
	return serveErr
}

// runPass is the in-process trigger job.
func (a *App) runPass(ctx context.Context) error {
	res, err := a.coord.Run(ctx, a.Credentials(), time.Now())
	if err != nil {
		return err
	}
	if res.HasScheduledBackupFailures {
		return errors.New("scheduled backup pass finished with failures")
	}
	return nil
}

// Close releases the store, the lock connection and the log file.
func (a *App) Close() error {
	return errors.Join(a.closeResources(), logger.Close(a.log))
}

// closeResources releases everything Build opened.
func (a *App) closeResources() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
