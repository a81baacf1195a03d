package schedule

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/pressline/errors"
	pltest "github.com/teranos/pressline/internal/testing"
)

var testEpoch = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

// steppingClock advances by step on every read
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	now := start
	return func() time.Time {
		t := now
		now = now.Add(step)
		return t
	}
}

func newTestRunStore(t *testing.T) *RunStore {
	t.Helper()
	store := NewRunStore(pltest.CreateMigratedTestDB(t), zaptest.NewLogger(t).Sugar())
	store.SetClock(steppingClock(testEpoch, 1500*time.Millisecond))
	return store
}

func TestTrackRecordsCompletedRun(t *testing.T) {
	t.Log("🤖 TAS Bot logs the frame count of every sweep...")
	store := newTestRunStore(t)
	ctx := context.Background()

	err := store.Track(ctx, KindSweep, TriggerDaemon, func(ctx context.Context) (interface{}, error) {
		return map[string]int{"triggered": 3}, nil
	})
	require.NoError(t, err)

	runs, err := store.ListRecent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	assert.Equal(t, KindSweep, run.Kind)
	assert.Equal(t, TriggerDaemon, run.Trigger)
	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.True(t, testEpoch.Equal(run.StartedAt))
	require.NotNil(t, run.DurationMS)
	assert.Equal(t, int64(1500), *run.DurationMS)
	require.NotNil(t, run.CompletedAt)
	assert.JSONEq(t, `{"triggered":3}`, string(run.Summary))
	assert.Empty(t, run.ErrorMessage)
}

func TestTrackRecordsFailedRun(t *testing.T) {
	store := newTestRunStore(t)
	ctx := context.Background()

	passErr := errors.New("count processing jobs: database is locked")
	err := store.Track(ctx, KindMonitor, TriggerHTTP, func(ctx context.Context) (interface{}, error) {
		return nil, passErr
	})
	require.ErrorIs(t, err, passErr)

	runs, err := store.ListRecent(ctx, KindMonitor, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, RunStatusFailed, runs[0].Status)
	assert.Equal(t, passErr.Error(), runs[0].ErrorMessage)
	assert.Nil(t, runs[0].Summary)
}

func TestNilRunStoreStillRunsPass(t *testing.T) {
	var store *RunStore
	called := false
	err := store.Track(context.Background(), KindSweep, TriggerCLI, func(ctx context.Context) (interface{}, error) {
		called = true
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestListRecentOrderAndFilter(t *testing.T) {
	t.Log("⏳ Cronos reads history backwards...")
	store := newTestRunStore(t)
	ctx := context.Background()

	pass := func(ctx context.Context) (interface{}, error) { return nil, nil }
	require.NoError(t, store.Track(ctx, KindSweep, TriggerDaemon, pass))
	require.NoError(t, store.Track(ctx, KindMonitor, TriggerDaemon, pass))
	require.NoError(t, store.Track(ctx, KindSweep, TriggerCLI, pass))

	runs, err := store.ListRecent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, TriggerCLI, runs[0].Trigger, "newest first")
	assert.True(t, runs[0].StartedAt.After(runs[2].StartedAt))

	sweeps, err := store.ListRecent(ctx, KindSweep, 10)
	require.NoError(t, err)
	assert.Len(t, sweeps, 2)

	limited, err := store.ListRecent(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestUpdateRunNotFound(t *testing.T) {
	store := newTestRunStore(t)
	now := testEpoch
	err := store.UpdateRun(context.Background(), &Run{ID: "missing", Status: RunStatusCompleted, CompletedAt: &now})
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestTrackSurvivesHistoryWriteFailure(t *testing.T) {
	t.Log("⭐ Kirby keeps running even when the scoreboard is broken...")
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pulse_runs")).
		WillReturnError(errors.New("disk I/O error"))

	store := NewRunStore(db, zaptest.NewLogger(t).Sugar())
	called := false
	err = store.Track(context.Background(), KindSweep, TriggerDaemon, func(ctx context.Context) (interface{}, error) {
		called = true
		return json.RawMessage(`{}`), nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}
