package backup_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envbackup/internal/backup"
	"envbackup/internal/schedule"
	"envbackup/internal/shared"
)

func TestBackupNow_RunsEvenWhenNotDue(t *testing.T) {
	store := newMemStore()
	store.set(cfgKey, configJSON(t, "UTC", "2026-03-01", schedule.Daily, schedule.Monthly))
	fc := newFakeClient(primary(), backup.Environment{ID: "backup-plugin-monthly-2026-03-01"})
	co := backup.NewCoordinator(store, fc.factory())

	res, err := co.BackupNow(context.Background(), creds, schedule.Monthly, orchNow)
	require.NoError(t, err)

	assert.Equal(t, "backup-plugin-monthly-2026-03-05", res.CreatedEnvironmentID)
	assert.Equal(t, "backup-plugin-monthly-2026-03-01", *res.DeletedEnvironmentID)

	st := storedState(t, store, "2026-03-05")
	assert.Equal(t, schedule.ModeManual, st.Cadences[schedule.Monthly].LastExecutionMode)
	assert.Equal(t, "2026-03-05", st.LastRun(schedule.Monthly).String())
	assert.Equal(t, 1, store.puts[stateKey])
}

func TestBackupNow_SatisfiesScheduledRunOfTheDay(t *testing.T) {
	store := newMemStore()
	store.set(cfgKey, configJSON(t, "UTC", "2026-03-01", schedule.Daily))
	fc := newFakeClient(primary())
	co := backup.NewCoordinator(store, fc.factory())

	_, err := co.BackupNow(context.Background(), creds, schedule.Daily, orchNow)
	require.NoError(t, err)

	res, err := co.Run(context.Background(), creds, orchNow)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

func TestBackupNow_CadenceNotEnabled(t *testing.T) {
	store := newMemStore()
	store.set(cfgKey, configJSON(t, "UTC", "2026-03-01", schedule.Daily))
	fc := newFakeClient(primary())

	_, err := backup.NewCoordinator(store, fc.factory()).BackupNow(context.Background(), creds, schedule.Biweekly, orchNow)

	var notEnabled *backup.CadenceNotEnabledError
	require.ErrorAs(t, err, &notEnabled)
	assert.Equal(t, schedule.Biweekly, notEnabled.Cadence)
	assert.True(t, shared.IsCadenceNotEnabled(err))
	assert.Empty(t, fc.Calls())
}

func TestBackupNow_Errors(t *testing.T) {
	t.Run("missing credential", func(t *testing.T) {
		_, err := backup.NewCoordinator(newMemStore(), newFakeClient().factory()).
			BackupNow(context.Background(), backup.Credentials{}, schedule.Daily, orchNow)
		assert.True(t, shared.IsConfiguration(err))
	})

	t.Run("unknown cadence", func(t *testing.T) {
		_, err := backup.NewCoordinator(newMemStore(), newFakeClient().factory()).
			BackupNow(context.Background(), creds, schedule.Cadence("hourly"), orchNow)
		assert.Equal(t, shared.KindValidation, shared.KindOf(err))
	})

	t.Run("remote failure is recorded", func(t *testing.T) {
		store := newMemStore()
		store.set(cfgKey, configJSON(t, "UTC", "2026-03-01", schedule.Daily))
		fc := newFakeClient() // no primary

		_, err := backup.NewCoordinator(store, fc.factory()).BackupNow(context.Background(), creds, schedule.Daily, orchNow)
		assert.True(t, shared.IsRemoteState(err))

		st := storedState(t, store, "2026-03-05")
		assert.NotEmpty(t, st.Cadences[schedule.Daily].LastError)
		assert.Equal(t, schedule.ModeManual, st.Cadences[schedule.Daily].LastExecutionMode)
	})

	t.Run("pass in progress", func(t *testing.T) {
		store := newMemStore()
		store.set(cfgKey, configJSON(t, "UTC", "2026-03-01", schedule.Daily))
		co := backup.NewCoordinator(store, newFakeClient(primary()).factory(), backup.WithPassLocker(&fakeLocker{held: true}))

		_, err := co.BackupNow(context.Background(), creds, schedule.Daily, orchNow)
		assert.ErrorIs(t, err, backup.ErrPassInProgress)
		assert.True(t, shared.IsConflict(err))
	})
}
