package slots

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/pressline/errors"
	pltest "github.com/teranos/pressline/internal/testing"
	"github.com/teranos/pressline/pulse/async"
)

// 10:00 EDT on a weekday, after the March DST switch
var tuesdayMorning = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *async.Store {
	t.Helper()
	return async.NewStore(pltest.CreateMigratedTestDB(t))
}

func newTestScheduler(t *testing.T, store async.JobStore, cfg Config, now time.Time) *Scheduler {
	t.Helper()
	s, err := NewScheduler(store, cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	s.SetClock(func() time.Time { return now })
	s.SetJitter(func(time.Duration) time.Duration { return 0 })
	return s
}

// completedJob inserts a completed job for a destination, optionally with a persisted artifact
func completedJob(t *testing.T, store async.JobStore, destID string, persisted bool) *async.Job {
	t.Helper()
	ctx := context.Background()
	at := tuesdayMorning.Add(-time.Hour)

	job, err := async.NewJob("tenant", destID, nil, at)
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(ctx, job))

	job.Start("tok", at)
	won, err := store.ClaimJob(ctx, job, at)
	require.NoError(t, err)
	require.True(t, won)

	job.Complete(json.RawMessage(`{"title":"x"}`), at)
	if persisted {
		job.ArtifactURI = "file:///artifacts/" + job.ID + ".json"
		job.PersistedAt = &at
	}
	won, err = store.SaveTransition(ctx, job, async.JobStatusProcessing, "tok")
	require.NoError(t, err)
	require.True(t, won)
	return job
}

// takeSlot records an existing publish at the given time
func takeSlot(t *testing.T, store async.JobStore, destID string, at time.Time) {
	t.Helper()
	job := completedJob(t, store, destID, true)
	job.Schedule(at, tuesdayMorning)
	won, err := store.SaveTransition(context.Background(), job, async.JobStatusCompleted, "")
	require.NoError(t, err)
	require.True(t, won)
}

func upsertDest(t *testing.T, store async.JobStore, dest async.Destination) {
	t.Helper()
	require.NoError(t, store.UpsertDestination(context.Background(), &dest))
}

func TestNextSlotSkipsPastHoursOnDayZero(t *testing.T) {
	store := newTestStore(t)
	s := newTestScheduler(t, store, Config{}, tuesdayMorning)

	slot, err := s.NextSlot(context.Background(), "dest-1", 1, tuesdayMorning)
	require.NoError(t, err)
	// 12:00 EDT; 09:00 has passed
	assert.Equal(t, time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC), slot)
	assert.True(t, slot.After(tuesdayMorning))
}

func TestNextSlotLateEveningRollsToTomorrow(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC) // 21:00 EDT on the 10th
	s := newTestScheduler(t, store, Config{}, now)

	slot, err := s.NextSlot(context.Background(), "dest-1", 4, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 13, 0, 0, 0, time.UTC), slot)
}

func TestNextSlotRespectsDailyCap(t *testing.T) {
	store := newTestStore(t)
	s := newTestScheduler(t, store, Config{}, tuesdayMorning)

	takeSlot(t, store, "dest-1", time.Date(2026, 3, 10, 16, 4, 0, 0, time.UTC))
	takeSlot(t, store, "dest-1", time.Date(2026, 3, 10, 21, 11, 0, 0, time.UTC))
	// Another destination's slots do not count
	takeSlot(t, store, "dest-2", time.Date(2026, 3, 11, 13, 0, 0, 0, time.UTC))

	slot, err := s.NextSlot(context.Background(), "dest-1", 2, tuesdayMorning)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 13, 0, 0, 0, time.UTC), slot, "day 0 is full, first golden hour of day 1")
}

func TestNextSlotNeverDoubleBooksAnHour(t *testing.T) {
	store := newTestStore(t)
	s := newTestScheduler(t, store, Config{}, tuesdayMorning)

	takeSlot(t, store, "dest-1", time.Date(2026, 3, 10, 16, 9, 0, 0, time.UTC))

	slot, err := s.NextSlot(context.Background(), "dest-1", 4, tuesdayMorning)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC), slot)
}

func TestNextSlotHalfHourZone(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC) // 05:30 IST
	s := newTestScheduler(t, store, Config{Timezone: "Asia/Kolkata"}, now)

	// 09:10 IST takes the 09:00 IST golden hour (03:30Z)
	takeSlot(t, store, "dest-1", time.Date(2026, 3, 10, 3, 40, 0, 0, time.UTC))

	slot, err := s.NextSlot(context.Background(), "dest-1", 4, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 6, 30, 0, 0, time.UTC), slot)
}

func TestNextSlotAcrossDSTSwitch(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 3, 8, 5, 0, 0, 0, time.UTC) // midnight EST, clocks spring forward at 02:00
	s := newTestScheduler(t, store, Config{}, now)

	slot, err := s.NextSlot(context.Background(), "dest-1", 1, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 8, 13, 0, 0, 0, time.UTC), slot, "09:00 EDT")
}

func TestNextSlotNoneInHorizon(t *testing.T) {
	store := newTestStore(t)
	s := newTestScheduler(t, store, Config{HorizonDays: 1}, tuesdayMorning)

	takeSlot(t, store, "dest-1", time.Date(2026, 3, 10, 13, 2, 0, 0, time.UTC))

	_, err := s.NextSlot(context.Background(), "dest-1", 1, tuesdayMorning)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNoSlotAvailable))
}

func TestNextSlotAppliesJitter(t *testing.T) {
	store := newTestStore(t)
	s := newTestScheduler(t, store, Config{MaxJitter: 15 * time.Minute}, tuesdayMorning)
	s.SetJitter(func(max time.Duration) time.Duration {
		assert.Equal(t, 15*time.Minute, max)
		return 7 * time.Minute
	})

	slot, err := s.NextSlot(context.Background(), "dest-1", 1, tuesdayMorning)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 16, 7, 0, 0, time.UTC), slot)
}

func TestRandomJitterBounds(t *testing.T) {
	assert.Equal(t, time.Duration(0), randomJitter(0))
	for i := 0; i < 200; i++ {
		j := randomJitter(DefaultMaxJitter)
		assert.GreaterOrEqual(t, j, time.Duration(0))
		assert.Less(t, j, DefaultMaxJitter)
	}
}

func TestNewSchedulerValidates(t *testing.T) {
	store := newTestStore(t)

	_, err := NewScheduler(store, Config{Timezone: "Dreamland/Castle"}, zap.NewNop().Sugar())
	assert.Error(t, err)

	_, err = NewScheduler(store, Config{GoldenHours: []int{9, 24}}, zap.NewNop().Sugar())
	assert.Error(t, err)

	s, err := NewScheduler(store, Config{GoldenHours: []int{20, 9}}, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, []int{9, 20}, s.goldenHours)
	assert.Equal(t, DefaultHorizonDays, s.horizonDays)
}

func TestScheduleJob(t *testing.T) {
	ctx := context.Background()
	active := async.Destination{ID: "dest-1", Active: true, AutoScheduleEnabled: true, DailyLimit: 2, HasPublishConfig: true}

	t.Run("schedules a persisted completed job", func(t *testing.T) {
		store := newTestStore(t)
		upsertDest(t, store, active)
		s := newTestScheduler(t, store, Config{}, tuesdayMorning)
		job := completedJob(t, store, "dest-1", true)

		at, err := s.ScheduleJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC), at)

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, async.JobStatusScheduled, got.Status)
		require.NotNil(t, got.ScheduledPublishAt)
		assert.True(t, at.Equal(*got.ScheduledPublishAt))
		assert.True(t, got.AutoPublish)
		assert.Equal(t, 1, got.Metadata.Count(async.EventScheduled))

		_, err = s.ScheduleJob(ctx, job.ID)
		assert.True(t, errors.Is(err, ErrJobNotCompleted), "second call is a no-op")
	})

	t.Run("auto-scheduling disabled is silent", func(t *testing.T) {
		store := newTestStore(t)
		dest := active
		dest.AutoScheduleEnabled = false
		upsertDest(t, store, dest)
		s := newTestScheduler(t, store, Config{}, tuesdayMorning)
		job := completedJob(t, store, "dest-1", true)

		_, err := s.ScheduleJob(ctx, job.ID)
		assert.True(t, errors.Is(err, errors.ErrDestinationNotEligible))

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, async.JobStatusCompleted, got.Status)
		assert.Equal(t, 0, got.Metadata.Count(async.EventScheduleFailed))
	})

	refusals := []struct {
		name string
		dest func(d async.Destination) async.Destination
	}{
		{"inactive destination", func(d async.Destination) async.Destination { d.Active = false; return d }},
		{"missing publish config", func(d async.Destination) async.Destination { d.HasPublishConfig = false; return d }},
	}
	for _, tc := range refusals {
		t.Run(tc.name+" is recorded", func(t *testing.T) {
			store := newTestStore(t)
			upsertDest(t, store, tc.dest(active))
			s := newTestScheduler(t, store, Config{}, tuesdayMorning)
			job := completedJob(t, store, "dest-1", true)

			_, err := s.ScheduleJob(ctx, job.ID)
			assert.True(t, errors.Is(err, errors.ErrDestinationNotEligible))

			got, err := store.GetJob(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, async.JobStatusCompleted, got.Status)
			assert.Equal(t, 1, got.Metadata.Count(async.EventScheduleFailed))
			assert.NotEmpty(t, got.Metadata.LastError)
		})
	}

	t.Run("no slot in horizon is recorded", func(t *testing.T) {
		store := newTestStore(t)
		dest := active
		dest.DailyLimit = 1
		upsertDest(t, store, dest)
		s := newTestScheduler(t, store, Config{HorizonDays: 1}, tuesdayMorning)
		takeSlot(t, store, "dest-1", time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC))
		job := completedJob(t, store, "dest-1", true)

		_, err := s.ScheduleJob(ctx, job.ID)
		assert.True(t, errors.Is(err, errors.ErrNoSlotAvailable))

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, async.JobStatusCompleted, got.Status)
		assert.Nil(t, got.ScheduledPublishAt)
		assert.Equal(t, 1, got.Metadata.Count(async.EventScheduleFailed))
	})

	t.Run("artifact must be persisted first", func(t *testing.T) {
		store := newTestStore(t)
		upsertDest(t, store, active)
		s := newTestScheduler(t, store, Config{}, tuesdayMorning)
		job := completedJob(t, store, "dest-1", false)

		_, err := s.ScheduleJob(ctx, job.ID)
		assert.True(t, errors.Is(err, ErrArtifactNotPersisted))
	})

	t.Run("pending job is not scheduled", func(t *testing.T) {
		store := newTestStore(t)
		upsertDest(t, store, active)
		s := newTestScheduler(t, store, Config{}, tuesdayMorning)
		job, err := async.NewJob("tenant", "dest-1", nil, tuesdayMorning)
		require.NoError(t, err)
		require.NoError(t, store.CreateJob(ctx, job))

		_, err = s.ScheduleJob(ctx, job.ID)
		assert.True(t, errors.Is(err, ErrJobNotCompleted))
	})
}
