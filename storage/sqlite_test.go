package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/models"
)

func TestSQLiteStore_Commands(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ops.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.EnqueueCommand(models.CmdCheckProduct, models.CommandParams{ProductID: "p1"})
	require.NoError(t, err)
	_, err = store.EnqueueCommand(models.CmdCheckAll, models.CommandParams{})
	require.NoError(t, err)

	cmds, err := store.GetPendingCommands()
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, models.CmdCheckProduct, cmds[0].Command)

	params, err := ParseCommandParams(&cmds[0])
	require.NoError(t, err)
	assert.Equal(t, "p1", params.ProductID)

	require.NoError(t, store.MarkCommandProcessed(cmds[0].ID))
	cmds, err = store.GetPendingCommands()
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, models.CmdCheckAll, cmds[0].Command)
}

func TestSQLiteStore_Runs(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ops.db"))
	require.NoError(t, err)
	defer store.Close()

	run := &models.CheckRun{Trigger: models.TriggerScheduled, StartedAt: time.Now(), Status: models.RunStatusRunning}
	run.ID, err = store.CreateRun(run)
	require.NoError(t, err)

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.Status = models.RunStatusCompleted
	run.ProductsChecked = 3
	run.AlertsCreated = 1
	require.NoError(t, store.UpdateRun(run))
	require.NoError(t, store.Log(&run.ID, models.LogLevelInfo, "done", ""))

	runs, err := store.RecentRuns(5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, models.TriggerScheduled, runs[0].Trigger)
	assert.Equal(t, 3, runs[0].ProductsChecked)
	require.NotNil(t, runs[0].FinishedAt)
}

func TestParseCommandParams_Empty(t *testing.T) {
	params, err := ParseCommandParams(&models.Command{})
	require.NoError(t, err)
	assert.Empty(t, params.ProductID)
}
