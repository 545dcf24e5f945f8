package backup

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"envbackup/internal/schedule"
	"envbackup/internal/shared"
)

// ExecutionStatus is the outcome of one cadence within a pass.
type ExecutionStatus string

const (
	StatusExecuted ExecutionStatus = "executed"
	StatusFailed   ExecutionStatus = "failed"
)

// Skip reasons reported by a pass that made no remote calls.
const (
	SkipNothingDue = "no_cadence_due"
	SkipLocked     = "locked"
	SkipBeforeSlot = "before_slot"
)

// Pass outcomes reported to the Recorder.
const (
	OutcomeSkipped        = "skipped"
	OutcomeSuccess        = "success"
	OutcomePartialFailure = "partial_failure"
	OutcomeError          = "error"
)

// ScheduledCadenceExecutionResult is the result of one due cadence.
type ScheduledCadenceExecutionResult struct {
	Scope                schedule.Cadence `json:"scope"`
	Status               ExecutionStatus  `json:"status"`
	CreatedEnvironmentID string           `json:"createdEnvironmentId,omitempty"`
	DeletedEnvironmentID *string          `json:"deletedEnvironmentId,omitempty"`
	Error                string           `json:"error,omitempty"`
}

// ScheduledBackupsRunResult is the result of one pass.
type ScheduledBackupsRunResult struct {
	RunID                      string                            `json:"runId"`
	Schedule                   schedule.Config                   `json:"schedule"`
	CheckedAt                  time.Time                         `json:"checkedAt"`
	LocalDate                  schedule.Date                     `json:"localDate"`
	Skipped                    bool                              `json:"skipped"`
	SkipReason                 string                            `json:"skipReason,omitempty"`
	DueCadences                []schedule.Cadence                `json:"dueCadences"`
	Results                    []ScheduledCadenceExecutionResult `json:"results"`
	HasScheduledBackupFailures bool                              `json:"hasScheduledBackupFailures"`
}

// Failed returns the failed results of the pass.
func (r ScheduledBackupsRunResult) Failed() []ScheduledCadenceExecutionResult {
	var out []ScheduledCadenceExecutionResult
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// PassLocker guards a pass against concurrent invocations of the same
// deployment. acquired is false when another holder owns key.
type PassLocker interface {
	TryLock(ctx context.Context, key string) (unlock func(context.Context) error, acquired bool, err error)
}

// Recorder receives pass and cadence observations.
type Recorder interface {
	ObservePass(outcome string)
	ObserveCadence(c schedule.Cadence, status ExecutionStatus, d time.Duration, at time.Time)
}

// Notifier is told about passes that had failures.
type Notifier interface {
	NotifyFailures(ctx context.Context, res ScheduledBackupsRunResult) error
}

// Coordinator runs scheduled passes for one deployment.
type Coordinator struct {
	records  records
	clients  ClientFactory
	orch     *Orchestrator
	locker   PassLocker
	recorder Recorder
	notifier Notifier
	slotGate bool
	log      *slog.Logger
}

// Option configures Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger used by the coordinator and its orchestrator.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithDeploymentID scopes the stored records. Defaults to "default".
func WithDeploymentID(id string) Option {
	return func(c *Coordinator) {
		if id != "" {
			c.records.deploymentID = id
		}
	}
}

// WithTimezoneFallback sets the zone used when the stored one is invalid.
func WithTimezoneFallback(tz string) Option {
	return func(c *Coordinator) { c.records.timezoneFallback = tz }
}

// WithPassLocker enables the pass lock.
func WithPassLocker(l PassLocker) Option {
	return func(c *Coordinator) { c.locker = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithNotifier sets the failure notifier.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithSlotGate holds scheduled passes back until the deployment's daily slot
// hour has begun in its local day (see schedule.SlotReached). The slot is
// derived from the API token.
func WithSlotGate(enabled bool) Option {
	return func(c *Coordinator) { c.slotGate = enabled }
}

// NewCoordinator creates a Coordinator reading and writing records in store
// and talking to the remote API through clients.
func NewCoordinator(store Store, clients ClientFactory, opts ...Option) *Coordinator {
	c := &Coordinator{
		records: records{store: store, deploymentID: "default"},
		clients: clients,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.records.log = c.log
	c.orch = NewOrchestrator(c.log)
	return c
}

func (c *Coordinator) lockKey() string { return c.records.deploymentID + ":pass-lock" }

// Run executes one scheduled pass at now. It fails as a whole only on
// configuration and store errors; remote failures are reported per cadence
// and flagged with HasScheduledBackupFailures.
func (c *Coordinator) Run(ctx context.Context, creds Credentials, now time.Time) (ScheduledBackupsRunResult, error) {
	res := ScheduledBackupsRunResult{RunID: uuid.NewString(), CheckedAt: now.UTC()}
	log := c.log.With(slog.String("run_id", res.RunID))

	if err := creds.validate(); err != nil {
		c.observePass(OutcomeError)
		return res, err
	}

	cfg, err := c.records.loadConfig(ctx, now, true)
	if err != nil {
		c.observePass(OutcomeError)
		return res, err
	}
	res.Schedule = cfg
	res.LocalDate = cfg.Today(now)

	if c.slotGate && !schedule.SlotReached(creds.APIToken, now, cfg.Timezone) {
		log.Debug("backup pass held until slot", slog.Int("slot_hour_utc", schedule.AssignSlot(schedule.Daily, creds.APIToken).HourUTC))
		res.Skipped, res.SkipReason = true, SkipBeforeSlot
		c.observePass(OutcomeSkipped)
		return res, nil
	}

	if c.locker != nil {
		unlock, acquired, err := c.locker.TryLock(ctx, c.lockKey())
		if err != nil {
			c.observePass(OutcomeError)
			return res, shared.Wrap(err, "acquire pass lock")
		}
		if !acquired {
			log.Info("backup pass skipped, lock held elsewhere")
			res.Skipped, res.SkipReason = true, SkipLocked
			c.observePass(OutcomeSkipped)
			return res, nil
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				log.Warn("release pass lock", slog.Any("error", err))
			}
		}()
	}

	st, err := c.records.loadState(ctx, res.LocalDate)
	if err != nil {
		c.observePass(OutcomeError)
		return res, err
	}

	for _, cad := range cfg.EnabledCadences {
		if schedule.IsCadenceDueNow(cad, cfg.AnchorLocalDate, res.LocalDate, st.LastRun(cad)) {
			res.DueCadences = append(res.DueCadences, cad)
		}
	}
	if len(res.DueCadences) == 0 {
		log.Debug("no cadence due", slog.String("local_date", res.LocalDate.String()))
		res.Skipped, res.SkipReason = true, SkipNothingDue
		c.observePass(OutcomeSkipped)
		return res, nil
	}

	client := c.clients(creds.APIToken)
	for i, cad := range res.DueCadences {
		if err := ctx.Err(); err != nil {
			for _, rest := range res.DueCadences[i:] {
				res.Results = append(res.Results, ScheduledCadenceExecutionResult{Scope: rest, Status: StatusFailed, Error: "not started: " + err.Error()})
			}
			res.HasScheduledBackupFailures = true
			log.Warn("backup pass interrupted", slog.Int("not_started", len(res.DueCadences)-i), slog.Any("error", err))
			break
		}
		started := time.Now()
		out, err := c.orch.Execute(ctx, client, cad, now)
		r := ScheduledCadenceExecutionResult{Scope: cad}
		if err != nil {
			r.Status, r.Error = StatusFailed, err.Error()
			st.RecordFailure(cad, schedule.ModeScheduled, now, err)
			res.HasScheduledBackupFailures = true
			log.Error("cadence backup failed", slog.String("cadence", cad.String()), slog.String("kind", shared.KindOf(err).String()), slog.Any("error", err))
		} else {
			r.Status = StatusExecuted
			r.CreatedEnvironmentID = out.CreatedEnvironmentID
			r.DeletedEnvironmentID = out.DeletedEnvironmentID
			st.RecordSuccess(cad, schedule.ModeScheduled, res.LocalDate, now, out.CreatedEnvironmentID)
		}
		if c.recorder != nil {
			c.recorder.ObserveCadence(cad, r.Status, time.Since(started), now)
		}
		res.Results = append(res.Results, r)
	}

	// finished rotations are recorded even when the caller gave up meanwhile
	done := context.WithoutCancel(ctx)
	if err := c.records.saveState(done, st, now); err != nil {
		c.observePass(OutcomeError)
		return res, err
	}

	outcome := OutcomeSuccess
	if res.HasScheduledBackupFailures {
		outcome = OutcomePartialFailure
		c.notify(done, log, res)
	}
	c.observePass(outcome)
	log.Info("backup pass finished",
		slog.String("outcome", outcome),
		slog.Int("due", len(res.DueCadences)),
		slog.Int("failed", len(res.Failed())))
	return res, nil
}

func (c *Coordinator) observePass(outcome string) {
	if c.recorder != nil {
		c.recorder.ObservePass(outcome)
	}
}

func (c *Coordinator) notify(ctx context.Context, log *slog.Logger, res ScheduledBackupsRunResult) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.NotifyFailures(ctx, res); err != nil {
		log.Warn("failure notification not sent", slog.Any("error", err))
	}
}
