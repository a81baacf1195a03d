package pulse

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/pressline/am"
	"github.com/teranos/pressline/artifact"
	"github.com/teranos/pressline/db"
	"github.com/teranos/pressline/errors"
	pltest "github.com/teranos/pressline/internal/testing"
	"github.com/teranos/pressline/pulse/async"
	"github.com/teranos/pressline/pulse/schedule"
)

// TAS Bot drives the whole runtime through its public surface.

func testConfig(t *testing.T) *am.Config {
	t.Helper()
	v := viper.New()
	am.SetDefaults(v)
	cfg, err := am.LoadWithViper(v)
	require.NoError(t, err)

	dir := t.TempDir()
	cfg.Database.Path = filepath.Join(dir, "pressline.db")
	cfg.Artifacts.Dir = filepath.Join(dir, "artifacts")
	cfg.Pulse.StopTimeoutSeconds = 5
	return cfg
}

func newTestService(t *testing.T, pl async.Pipeline) *Service {
	t.Helper()
	cfg := testConfig(t)
	log := zaptest.NewLogger(t).Sugar()

	artifacts, err := artifact.NewFSStore(cfg.Artifacts.Dir, "")
	require.NoError(t, err)

	comp := newSQLiteComponents(pltest.CreateMigratedTestDB(t), log)
	comp.Pipeline = pl
	comp.Artifacts = artifacts

	svc, err := New(context.Background(), cfg, comp, log)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func waitIdle(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Wait(ctx))
}

var okPipeline = async.PipelineFunc(func(ctx context.Context, req async.GenerationRequest) (json.RawMessage, error) {
	return json.RawMessage(`{"headline":"any%"}`), nil
})

func TestCreateJobLaunchesImmediately(t *testing.T) {
	t.Log("🤖 TAS Bot inserts a job and it starts on the same frame...")
	svc := newTestService(t, okPipeline)
	ctx := context.Background()

	job, triggered, err := svc.CreateJob(ctx, "tenant-1", "", json.RawMessage(`{"topic":"speedrun"}`))
	require.NoError(t, err)
	assert.True(t, triggered)
	waitIdle(t, svc)

	got, err := svc.Store().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, async.JobStatusCompleted, got.Status)
	assert.True(t, strings.HasPrefix(got.ArtifactURI, "file://"))
	assert.NotNil(t, got.PersistedAt)
}

func TestCreateJobRejectsInvalidParams(t *testing.T) {
	svc := newTestService(t, okPipeline)
	_, _, err := svc.CreateJob(context.Background(), "tenant-1", "", json.RawMessage(`{not json`))
	require.Error(t, err)
}

func TestSweepAndMonitorAreRecorded(t *testing.T) {
	t.Log("⏳ Cronos checks the run log after a sweep and a monitor pass...")
	svc := newTestService(t, okPipeline)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		job, err := async.NewJob("tenant-1", "", nil, time.Now().UTC())
		require.NoError(t, err)
		require.NoError(t, svc.Store().CreateJob(ctx, job))
	}

	result, err := svc.Sweep(ctx, schedule.TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Triggered)
	waitIdle(t, svc)

	report, err := svc.Monitor(ctx, schedule.TriggerCLI)
	require.NoError(t, err)
	assert.Zero(t, report.TotalProcessing)

	stubMemory(t, 8*bytesPerGB, 2*bytesPerGB, nil)
	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Queue.Completed)
	require.NotNil(t, stats.System)
	assert.InDelta(t, 75.0, stats.System.MemoryPercent, 0.001)
	assert.Equal(t, 0, stats.InFlight)
	assert.Equal(t, svc.cfg.Pulse.ConcurrencyCap, stats.ConcurrencyCap)
	require.Len(t, stats.RecentRuns, 2)
	assert.Equal(t, schedule.KindMonitor, stats.RecentRuns[0].Kind)
	assert.Equal(t, schedule.KindSweep, stats.RecentRuns[1].Kind)
	assert.JSONEq(t, `{"capacity":100,"triggered":3,"skipped":0}`, string(stats.RecentRuns[1].Summary))
}

func TestCreateJobAfterCloseOnlyStores(t *testing.T) {
	svc := newTestService(t, okPipeline)
	svc.Close()

	job, triggered, err := svc.CreateJob(context.Background(), "tenant-1", "", nil)
	require.NoError(t, err)
	assert.False(t, triggered)

	got, err := svc.Store().GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, async.JobStatusPending, got.Status)
}

func TestCleanup(t *testing.T) {
	svc := newTestService(t, okPipeline)
	ctx := context.Background()
	store := svc.Store()
	longAgo := time.Now().UTC().Add(-72 * time.Hour)

	old, err := async.NewJob("tenant-1", "", nil, longAgo)
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(ctx, old))
	old.Start("token-old", longAgo)
	won, err := store.ClaimJob(ctx, old, longAgo)
	require.NoError(t, err)
	require.True(t, won)
	old.Fail("gave up", longAgo)
	won, err = store.SaveTransition(ctx, old, async.JobStatusProcessing, "token-old")
	require.NoError(t, err)
	require.True(t, won)

	removed, err := svc.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestOpenRunsJobEndToEnd(t *testing.T) {
	t.Log("⭐ Kirby opens the whole runtime from config and calls a real HTTP pipeline...")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"headline":"Warp Star"}`))
	}))
	defer server.Close()

	cfg := testConfig(t)
	cfg.Pipeline.URL = server.URL

	svc, err := Open(context.Background(), cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer svc.Close()
	require.NotNil(t, svc.Runs())

	job, _, err := svc.CreateJob(context.Background(), "tenant-1", "", nil)
	require.NoError(t, err)
	waitIdle(t, svc)

	got, err := svc.Store().GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, async.JobStatusCompleted, got.Status)
	assert.JSONEq(t, `{"headline":"Warp Star"}`, string(got.Result))
}

func TestStartDaemonSweeps(t *testing.T) {
	svc := newTestService(t, okPipeline)
	svc.cfg.Pulse.SweepIntervalSeconds = 1
	svc.cfg.Pulse.MonitorIntervalSeconds = 0
	ctx := context.Background()

	job, err := async.NewJob("tenant-1", "", nil, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, svc.Store().CreateJob(ctx, job))

	svc.StartDaemon(ctx)
	require.Eventually(t, func() bool {
		got, err := svc.Store().GetJob(ctx, job.ID)
		return err == nil && got.Status == async.JobStatusCompleted
	}, 5*time.Second, 50*time.Millisecond)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats.Tickers, 2)
}

func TestTickErrorIgnoresClosedDatabase(t *testing.T) {
	svc := newTestService(t, okPipeline)

	assert.NoError(t, svc.tickError(errors.Wrap(db.ErrDatabaseClosed, "sweep")))
	assert.NoError(t, svc.tickError(nil))
	assert.Error(t, svc.tickError(errors.New("disk full")))
}
