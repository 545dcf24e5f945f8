package backup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"envbackup/internal/schedule"
	"envbackup/internal/shared"
)

// ManualBackupNowResult is the result of an on-demand rotation.
type ManualBackupNowResult struct {
	Scope                 schedule.Cadence `json:"scope"`
	CheckedAt             time.Time        `json:"checkedAt"`
	LocalDate             schedule.Date    `json:"localDate"`
	CreatedEnvironmentID  string           `json:"createdEnvironmentId"`
	DeletedEnvironmentID  *string          `json:"deletedEnvironmentId"`
	DeletedEnvironmentIDs []string         `json:"deletedEnvironmentIds,omitempty"`
}

// BackupNow rotates cadence c immediately, whether or not it is due. The
// cadence must be enabled. The outcome is recorded in the schedule state with
// the manual execution mode, so a successful manual run also satisfies the
// scheduled run of the same local day.
func (c *Coordinator) BackupNow(ctx context.Context, creds Credentials, cad schedule.Cadence, now time.Time) (ManualBackupNowResult, error) {
	res := ManualBackupNowResult{Scope: cad, CheckedAt: now.UTC()}
	if err := creds.validate(); err != nil {
		return res, err
	}
	if !cad.Valid() {
		return res, shared.MarkKind(fmt.Errorf("unknown cadence %q", cad), shared.KindValidation)
	}

	cfg, err := c.records.loadConfig(ctx, now, true)
	if err != nil {
		return res, err
	}
	if !cfg.Enabled(cad) {
		return res, &CadenceNotEnabledError{Cadence: cad, Enabled: cfg.EnabledCadences}
	}
	res.LocalDate = cfg.Today(now)

	if c.locker != nil {
		unlock, acquired, err := c.locker.TryLock(ctx, c.lockKey())
		if err != nil {
			return res, shared.Wrap(err, "acquire pass lock")
		}
		if !acquired {
			return res, ErrPassInProgress
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				c.log.Warn("release pass lock", slog.Any("error", err))
			}
		}()
	}

	st, err := c.records.loadState(ctx, res.LocalDate)
	if err != nil {
		return res, err
	}

	started := time.Now()
	out, execErr := c.orch.Execute(ctx, c.clients(creds.APIToken), cad, now)
	status := StatusExecuted
	if execErr != nil {
		status = StatusFailed
		st.RecordFailure(cad, schedule.ModeManual, now, execErr)
	} else {
		st.RecordSuccess(cad, schedule.ModeManual, res.LocalDate, now, out.CreatedEnvironmentID)
		res.CreatedEnvironmentID = out.CreatedEnvironmentID
		res.DeletedEnvironmentID = out.DeletedEnvironmentID
		res.DeletedEnvironmentIDs = out.DeletedEnvironmentIDs
	}
	if c.recorder != nil {
		c.recorder.ObserveCadence(cad, status, time.Since(started), now)
	}

	if err := c.records.saveState(context.WithoutCancel(ctx), st, now); err != nil {
		if execErr != nil {
			return res, execErr
		}
		return res, err
	}
	if execErr != nil {
		c.log.Error("manual backup failed", slog.String("cadence", cad.String()), slog.Any("error", execErr))
		return res, execErr
	}
	c.log.Info("manual backup finished", slog.String("cadence", cad.String()), slog.String("environment", res.CreatedEnvironmentID))
	return res, nil
}
