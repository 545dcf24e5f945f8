package backup

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"envbackup/internal/schedule"
	"envbackup/internal/shared"
)

// Store persists opaque schedule records. Get returns an error of kind
// shared.KindNotFound when the key was never written.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// records reads and writes the configuration and state of one deployment.
type records struct {
	store            Store
	deploymentID     string
	timezoneFallback string
	log              *slog.Logger
}

func (r records) configKey() string { return r.deploymentID + ":schedule-config" }
func (r records) stateKey() string  { return r.deploymentID + ":schedule-state" }

func (r records) get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.store.Get(ctx, key)
	if shared.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, shared.Wrapf(err, "read %s", key)
	}
	return raw, true, nil
}

// loadConfig normalizes the stored configuration. With persist set, the
// normalized form is written back when it required migration or when no
// record existed.
func (r records) loadConfig(ctx context.Context, now time.Time, persist bool) (schedule.Config, error) {
	raw, found, err := r.get(ctx, r.configKey())
	if err != nil {
		return schedule.Config{}, err
	}
	cfg, migrate := schedule.NormalizeConfig(raw, r.timezoneFallback, now)
	if !persist || (found && !migrate) {
		return cfg, nil
	}
	cfg.UpdatedAt = now.UTC()
	out, err := json.Marshal(cfg)
	if err != nil {
		return cfg, shared.Wrap(err, "encode schedule config")
	}
	if err := r.store.Put(ctx, r.configKey(), out); err != nil {
		return cfg, shared.Wrapf(err, "write %s", r.configKey())
	}
	r.log.Info("schedule config written", slog.Bool("migrated", found), slog.Any("cadences", cfg.EnabledCadences), slog.String("timezone", cfg.Timezone))
	return cfg, nil
}

// loadState decodes the stored state. An undecodable record is logged and
// replaced by an empty state so the pass can still run.
func (r records) loadState(ctx context.Context, today schedule.Date) (schedule.State, error) {
	raw, _, err := r.get(ctx, r.stateKey())
	if err != nil {
		return schedule.NewState(), err
	}
	st, err := schedule.DecodeState(raw, today)
	if err != nil {
		r.log.Warn("schedule state unreadable, starting fresh", slog.Any("error", err))
	}
	return st, nil
}

func (r records) saveState(ctx context.Context, st schedule.State, now time.Time) error {
	st.UpdatedAt = now.UTC()
	out, err := st.Marshal()
	if err != nil {
		return shared.Wrap(err, "encode schedule state")
	}
	if err := r.store.Put(ctx, r.stateKey(), out); err != nil {
		return shared.Wrapf(err, "write %s", r.stateKey())
	}
	return nil
}
