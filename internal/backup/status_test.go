package backup_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envbackup/internal/backup"
	"envbackup/internal/schedule"
)

func TestStatus_ReportsEveryCadence(t *testing.T) {
	store := newMemStore()
	store.set(cfgKey, configJSON(t, "Europe/Berlin", "2026-01-31", schedule.Weekly, schedule.Monthly))
	older := time.Date(2026, 2, 26, 8, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 2, 28, 8, 0, 0, 0, time.UTC)
	fc := newFakeClient(
		primary(),
		backup.Environment{ID: "backup-plugin-monthly-2026-01-31", CreatedAt: older},
		backup.Environment{ID: "backup-plugin-monthly-2026-02-28", CreatedAt: newer},
	)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	res, err := backup.NewCoordinator(store, fc.factory()).Status(context.Background(), creds, now)
	require.NoError(t, err)

	assert.Equal(t, []string{"list"}, fc.Calls(), "status is read-only")
	assert.Empty(t, store.puts)
	assert.Equal(t, "2026-03-02", res.Scheduler.LocalDate.String())
	require.Len(t, res.Slots, len(schedule.AllCadences))

	byScope := map[schedule.Cadence]backup.CadenceStatus{}
	for _, s := range res.Slots {
		byScope[s.Scope] = s
	}

	daily := byScope[schedule.Daily]
	assert.False(t, daily.Enabled)
	assert.Nil(t, daily.NextBackupAt, "disabled cadences have no next backup")
	assert.Nil(t, daily.LastBackupAt)

	monthly := byScope[schedule.Monthly]
	require.NotNil(t, monthly.LastBackupAt)
	assert.Equal(t, newer, *monthly.LastBackupAt, "newest remote environment wins")
	assert.Equal(t, "backup-plugin-monthly-2026-02-28", monthly.LastBackupEnvironmentID)
	require.NotNil(t, monthly.NextBackupLocalDate)
	assert.Equal(t, "2026-03-31", monthly.NextBackupLocalDate.String())

	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 31, 0, 0, 0, 0, berlin), *monthly.NextBackupAt)

	weekly := byScope[schedule.Weekly]
	require.NotNil(t, weekly.NextBackupLocalDate)
	assert.Equal(t, "2026-03-07", weekly.NextBackupLocalDate.String())
	assert.Equal(t, schedule.AssignSlot(schedule.Weekly, creds.APIToken), weekly.Window.Slot)
}

func TestStatus_UsesStateForNextDate(t *testing.T) {
	store := newMemStore()
	store.set(cfgKey, configJSON(t, "UTC", "2026-03-01", schedule.Daily))
	fc := newFakeClient(primary())
	co := backup.NewCoordinator(store, fc.factory())

	before, err := co.Status(context.Background(), creds, orchNow)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-05", before.Slots[0].NextBackupLocalDate.String())

	_, err = co.Run(context.Background(), creds, orchNow)
	require.NoError(t, err)

	after, err := co.Status(context.Background(), creds, orchNow)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-06", after.Slots[0].NextBackupLocalDate.String())
	assert.Equal(t, schedule.ModeScheduled, after.Slots[0].LastExecutionMode)
	require.NotNil(t, after.Slots[0].LastBackupAt, "the fake stamps created environments")
}

func TestStatus_RemoteStateLost(t *testing.T) {
	store := newMemStore()
	store.set(cfgKey, configJSON(t, "UTC", "2026-03-01", schedule.Daily))
	store.set(stateKey, `{"cadences":{"daily":{"lastRunLocalDate":"2026-03-04"}}}`)

	res, err := backup.NewCoordinator(store, newFakeClient(primary()).factory()).Status(context.Background(), creds, orchNow)
	require.NoError(t, err)
	assert.Nil(t, res.Slots[0].LastBackupAt, "last backup comes from the remote side, not from state")
	assert.Equal(t, "2026-03-04", res.Slots[0].LastRunLocalDate.String())
}

func TestStatus_ListFailure(t *testing.T) {
	fc := newFakeClient()
	fc.listErr = errRemote
	_, err := backup.NewCoordinator(newMemStore(), fc.factory()).Status(context.Background(), creds, orchNow)
	assert.ErrorIs(t, err, errRemote)
}
