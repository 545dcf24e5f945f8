package backup

import (
	"context"
	"time"

	"envbackup/internal/schedule"
	"envbackup/internal/shared"
)

// SchedulerStatus summarizes the configuration a status was computed from.
type SchedulerStatus struct {
	Schedule  schedule.Config `json:"schedule"`
	CheckedAt time.Time       `json:"checkedAt"`
	LocalDate schedule.Date   `json:"localDate"`
}

// CadenceStatus is the status of one defined cadence.
type CadenceStatus struct {
	Scope   schedule.Cadence `json:"scope"`
	Enabled bool             `json:"enabled"`

	// LastBackupAt comes from the remote environment metadata.
	LastBackupAt            *time.Time `json:"lastBackupAt"`
	LastBackupEnvironmentID string     `json:"lastBackupEnvironmentId,omitempty"`

	// NextBackupAt is the start of the next due local day, nil when disabled.
	NextBackupAt        *time.Time     `json:"nextBackupAt"`
	NextBackupLocalDate *schedule.Date `json:"nextBackupLocalDate,omitempty"`

	LastRunLocalDate  *schedule.Date         `json:"lastRunLocalDate,omitempty"`
	LastExecutionMode schedule.ExecutionMode `json:"lastExecutionMode,omitempty"`
	LastError         string                 `json:"lastError,omitempty"`

	Window schedule.Window `json:"window"`
}

// BackupStatusResult is the status of every defined cadence.
type BackupStatusResult struct {
	Scheduler SchedulerStatus `json:"scheduler"`
	Slots     []CadenceStatus `json:"slots"`
}

// Status reports every defined cadence, enabled or not. It lists the remote
// environments once and never writes records or rotates environments.
func (c *Coordinator) Status(ctx context.Context, creds Credentials, now time.Time) (BackupStatusResult, error) {
	var res BackupStatusResult
	if err := creds.validate(); err != nil {
		return res, err
	}

	cfg, err := c.records.loadConfig(ctx, now, false)
	if err != nil {
		return res, err
	}
	today := cfg.Today(now)
	res.Scheduler = SchedulerStatus{Schedule: cfg, CheckedAt: now.UTC(), LocalDate: today}

	st, err := c.records.loadState(ctx, today)
	if err != nil {
		return res, err
	}

	envs, err := c.clients(creds.APIToken).ListEnvironments(ctx)
	if err != nil {
		return res, shared.Wrap(err, "list environments")
	}

	loc := cfg.Location()
	for _, cad := range schedule.AllCadences {
		cs := CadenceStatus{
			Scope:   cad,
			Enabled: cfg.Enabled(cad),
			Window:  schedule.WindowAt(cad, creds.APIToken, now),
		}
		if env, ok := latestBackup(envs, cad); ok {
			cs.LastBackupEnvironmentID = env.ID
			if !env.CreatedAt.IsZero() {
				at := env.CreatedAt.UTC()
				cs.LastBackupAt = &at
			}
		}
		if prev, ok := st.Cadences[cad]; ok {
			cs.LastRunLocalDate = prev.LastRunLocalDate
			cs.LastExecutionMode = prev.LastExecutionMode
			cs.LastError = prev.LastError
		}
		if cs.Enabled {
			next := schedule.NextDueDate(cad, cfg.AnchorLocalDate, today, st.LastRun(cad))
			at := next.StartIn(loc)
			cs.NextBackupLocalDate = &next
			cs.NextBackupAt = &at
		}
		res.Slots = append(res.Slots, cs)
	}
	return res, nil
}
