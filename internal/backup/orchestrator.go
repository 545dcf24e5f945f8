package backup

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"envbackup/internal/schedule"
	"envbackup/internal/shared"
)

// ScopedBackupResult describes one completed rotation.
type ScopedBackupResult struct {
	Scope                schedule.Cadence `json:"scope"`
	CreatedEnvironmentID string           `json:"createdEnvironmentId"`
	// DeletedEnvironmentID is the last environment destroyed, nil when there
	// was nothing to rotate out.
	DeletedEnvironmentID  *string  `json:"deletedEnvironmentId"`
	DeletedEnvironmentIDs []string `json:"deletedEnvironmentIds,omitempty"`
}

// Orchestrator rotates the backup environment of a cadence.
type Orchestrator struct {
	log *slog.Logger
}

// NewOrchestrator creates an Orchestrator. A nil logger uses slog.Default.
func NewOrchestrator(log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{log: log}
}

// Execute destroys every previous backup environment of c and forks the
// primary environment into backup-plugin-<c>-<UTC date of now>. Deletion
// happens before the fork so a rotation never needs an extra environment
// slot. Any remote failure aborts the rotation and is returned wrapped.
func (o *Orchestrator) Execute(ctx context.Context, client EnvironmentClient, c schedule.Cadence, now time.Time) (ScopedBackupResult, error) {
	res := ScopedBackupResult{Scope: c}

	envs, err := client.ListEnvironments(ctx)
	if err != nil {
		return res, shared.Wrap(err, "list environments")
	}

	primary, ok := findPrimary(envs)
	if !ok {
		return res, &RemotePrimaryNotFoundError{Listed: len(envs)}
	}

	for _, id := range previousBackups(envs, c) {
		if err := client.DestroyEnvironment(ctx, id); err != nil {
			return res, shared.Wrapf(err, "destroy environment %s", id)
		}
		o.log.Info("backup environment destroyed", slog.String("cadence", c.String()), slog.String("environment", id))
		res.DeletedEnvironmentIDs = append(res.DeletedEnvironmentIDs, id)
		deleted := id
		res.DeletedEnvironmentID = &deleted
	}

	newID := c.EnvironmentID(schedule.DateOf(now.UTC()))
	if err := client.ForkEnvironment(ctx, primary.ID, newID); err != nil {
		return res, shared.Wrapf(err, "fork %s into %s", primary.ID, newID)
	}
	o.log.Info("backup environment forked",
		slog.String("cadence", c.String()),
		slog.String("source", primary.ID),
		slog.String("environment", newID))

	res.CreatedEnvironmentID = newID
	return res, nil
}

func findPrimary(envs []Environment) (Environment, bool) {
	for _, e := range envs {
		if e.Primary {
			return e, true
		}
	}
	return Environment{}, false
}

// previousBackups lists the non-primary environments managed for c, in the
// order the API returned them.
func previousBackups(envs []Environment, c schedule.Cadence) []string {
	prefix := c.EnvironmentPrefix()
	var ids []string
	for _, e := range envs {
		if !e.Primary && strings.HasPrefix(e.ID, prefix) {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// latestBackup returns the newest non-primary environment managed for c.
func latestBackup(envs []Environment, c schedule.Cadence) (Environment, bool) {
	prefix := c.EnvironmentPrefix()
	var (
		best  Environment
		found bool
	)
	for _, e := range envs {
		if e.Primary || !strings.HasPrefix(e.ID, prefix) {
			continue
		}
		if !found || e.CreatedAt.After(best.CreatedAt) {
			best, found = e, true
		}
	}
	return best, found
}
