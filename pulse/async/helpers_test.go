package async

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/pressline/errors"
	pltest "github.com/teranos/pressline/internal/testing"
)

// ============================================================================
// TAS Bot (Tool-Assisted Speedrun) & Kirby Test Universe
// ============================================================================
//
// Characters:
//   - TAS Bot: Frame-perfect coordinator who claims and dispatches jobs
//   - Kirby: The pipeline who inhales params and produces artifacts ('Poyo!')
//   - Cronos: Greek god of time, appears for timeout and backoff tests
// ============================================================================

// testEpoch is millisecond-aligned so times survive the storage round trip
var testEpoch = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(pltest.CreateMigratedTestDB(t))
}

// testClock is a settable clock shared by every component in a test
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(at time.Time) *testClock {
	return &testClock{now: at}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// createJob inserts a pending job created at the given time
func createJob(t *testing.T, store JobStore, destinationID string, createdAt time.Time) *Job {
	t.Helper()
	job, err := NewJob("tenant-1", destinationID, json.RawMessage(`{"topic":"speedrun"}`), createdAt)
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

// createProcessingJob inserts a job already claimed by token at startedAt
func createProcessingJob(t *testing.T, store JobStore, token string, startedAt time.Time) *Job {
	t.Helper()
	job := createJob(t, store, "", startedAt.Add(-time.Minute))
	job.Start(token, startedAt)
	won, err := store.ClaimJob(context.Background(), job, startedAt)
	require.NoError(t, err)
	require.True(t, won)
	return job
}

func reload(t *testing.T, store JobStore, id string) *Job {
	t.Helper()
	job, err := store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

// kirbyPipeline is a scripted pipeline: each call pops the next outcome
type kirbyPipeline struct {
	mu       sync.Mutex
	calls    int
	outcomes []func(req GenerationRequest) (json.RawMessage, error)
	requests []GenerationRequest
}

func (p *kirbyPipeline) Generate(ctx context.Context, req GenerationRequest) (json.RawMessage, error) {
	p.mu.Lock()
	p.calls++
	p.requests = append(p.requests, req)
	var outcome func(GenerationRequest) (json.RawMessage, error)
	if len(p.outcomes) > 0 {
		outcome = p.outcomes[0]
		p.outcomes = p.outcomes[1:]
	}
	p.mu.Unlock()

	if outcome == nil {
		return json.RawMessage(fmt.Sprintf(`{"copy_ability":"%s"}`, req.JobID)), nil
	}
	return outcome(req)
}

func (p *kirbyPipeline) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func failWith(msg string) func(GenerationRequest) (json.RawMessage, error) {
	return func(GenerationRequest) (json.RawMessage, error) {
		return nil, errors.New(msg)
	}
}

// memArtifacts is an in-memory ArtifactStore
type memArtifacts struct {
	mu    sync.Mutex
	items map[string]json.RawMessage
	fail  error
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{items: make(map[string]json.RawMessage)}
}

func (m *memArtifacts) Put(ctx context.Context, jobID string, artifact json.RawMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return "", m.fail
	}
	m.items[jobID] = artifact
	return "mem://jobs/" + jobID + ".json", nil
}

func (m *memArtifacts) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// recordingSlots captures scheduling handoffs
type recordingSlots struct {
	mu     sync.Mutex
	jobIDs []string
	err    error
}

func (s *recordingSlots) ScheduleJob(ctx context.Context, jobID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobIDs = append(s.jobIDs, jobID)
	if s.err != nil {
		return time.Time{}, s.err
	}
	return testEpoch.Add(24 * time.Hour), nil
}

// recordingLauncher captures monitor relaunches
type recordingLauncher struct {
	mu       sync.Mutex
	launched []string
}

func (l *recordingLauncher) Launch(ctx context.Context, job *Job) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launched = append(l.launched, job.ID)
	return true, nil
}
