package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"envbackup/internal/schedule"
)

// JobFunc представляет функцию задачи планировщика.
type JobFunc func(ctx context.Context) error

// OverlapPolicy определяет политику обработки перекрывающихся выполнений задач.
type OverlapPolicy int

const (
	// AllowOverlap разрешает параллельное выполнение задач (по умолчанию).
	AllowOverlap OverlapPolicy = iota
	// SkipIfRunning пропускает выполнение, если задача уже запущена.
	SkipIfRunning
)

// JobOptions содержит опции для настройки задач.
type JobOptions struct {
	// Name - имя задачи для логирования (необязательно).
	Name string
	// Timeout - максимальное время выполнения задачи (необязательно).
	Timeout time.Duration
	// OverlapPolicy - политика обработки перекрывающихся выполнений.
	OverlapPolicy OverlapPolicy
}

// cronLogger адаптер для интеграции cron logger с slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}

// Scheduler управляет периодическими задачами.
type Scheduler struct {
	cron      *cron.Cron
	clog      cron.Logger
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
}

// Config содержит конфигурацию планировщика.
type Config struct {
	Logger *slog.Logger
	// Location - часовой пояс расписаний, по умолчанию UTC.
	Location *time.Location
}

// New создает планировщик. Отмена parent останавливает планировщик.
func New(parent context.Context, cfg Config) *Scheduler {
	ctx, cancel := context.WithCancel(parent)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "scheduler"))
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	clog := cronLogger{logger: logger}

	return &Scheduler{
		cron:   cron.New(cron.WithSeconds(), cron.WithLocation(loc), cron.WithLogger(clog)),
		clog:   clog,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// PassSpec возвращает расписание прохода бэкапа (с секундами). При useSlot
// проход запускается раз в сутки в слот-час деплоймента, иначе каждый час.
// Пять минут после начала часа дают запас к границе суток.
func PassSpec(useSlot bool, identity string) string {
	if !useSlot {
		return "0 5 * * * *"
	}
	slot := schedule.AssignSlot(schedule.Daily, identity)
	return fmt.Sprintf("0 5 %d * * *", slot.HourUTC)
}

// AddJob добавляет задачу по cron-расписанию.
// Примеры расписаний:
//   - "0 5 * * * *" - каждый час в hh:05:00
//   - "@every 5m" - каждые 5 минут
func (s *Scheduler) AddJob(spec string, job JobFunc, opts JobOptions) (cron.EntryID, error) {
	if opts.Name == "" {
		opts.Name = "unnamed"
	}

	var chain cron.Chain
	switch opts.OverlapPolicy {
	case SkipIfRunning:
		chain = cron.NewChain(cron.SkipIfStillRunning(s.clog))
	default:
		chain = cron.NewChain()
	}

	id, err := s.cron.AddJob(spec, chain.Then(cron.FuncJob(func() { s.run(job, opts) })))
	if err != nil {
		return 0, fmt.Errorf("add job %s (%q): %w", opts.Name, spec, err)
	}
	s.logger.Info("job added", slog.String("name", opts.Name), slog.String("spec", spec), slog.Int("id", int(id)))
	return id, nil
}

// Start запускает планировщик. Повторные вызовы ничего не делают.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("starting scheduler")
		s.cron.Start()
		go func() {
			<-s.ctx.Done()
			s.stopOnce.Do(s.stop)
		}()
	})
}

// Stop останавливает планировщик и ждет завершения выполняющихся задач, но
// не дольше, чем живет ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.stopOnce.Do(s.stop)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop deadline exceeded, jobs still running")
		return ctx.Err()
	}
}

func (s *Scheduler) stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// run выполняет задачу с таймаутом и восстановлением после паники.
func (s *Scheduler) run(job JobFunc, opts JobOptions) {
	log := s.logger.With(slog.String("job", opts.Name))
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", slog.Any("panic", r))
		}
	}()

	ctx := s.ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := job(ctx)
	if err != nil {
		log.Error("job failed", slog.Any("error", err), slog.Duration("duration", time.Since(start)))
		return
	}
	log.Debug("job completed", slog.Duration("duration", time.Since(start)))
}
