// Package slots assigns completed jobs to publish slots.
//
// A destination publishes at fixed golden hours of a reference time zone,
// at most daily_limit times per local day. The scheduler scans forward from
// today over a bounded horizon and takes the earliest free golden hour.
package slots

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pressline/errors"
	"github.com/teranos/pressline/logger"
	"github.com/teranos/pressline/pulse/async"
	"github.com/teranos/pressline/pulse/telemetry"
)

// Scheduler defaults
const (
	DefaultHorizonDays = 30
	DefaultMaxJitter   = 15 * time.Minute
	DefaultDailyLimit  = 1
)

// DefaultGoldenHours are local publish hours in the reference zone
var DefaultGoldenHours = []int{9, 12, 17, 20}

var (
	// ErrJobNotCompleted means the job left completed before it could be scheduled
	ErrJobNotCompleted = errors.New("job is not completed")

	// ErrArtifactNotPersisted means the artifact is not in durable storage yet
	ErrArtifactNotPersisted = errors.New("artifact not persisted")
)

// Config controls slot selection
type Config struct {
	Timezone          string
	GoldenHours       []int
	HorizonDays       int
	MaxJitter         time.Duration
	DefaultDailyLimit int
}

// Scheduler implements async.SlotAssigner
type Scheduler struct {
	store       async.JobStore
	loc         *time.Location
	goldenHours []int
	horizonDays int
	maxJitter   time.Duration
	dailyLimit  int
	log         *zap.SugaredLogger
	now         func() time.Time
	jitter      func(max time.Duration) time.Duration
}

var _ async.SlotAssigner = (*Scheduler)(nil)

// NewScheduler validates cfg and loads the reference zone
func NewScheduler(store async.JobStore, cfg Config, log *zap.SugaredLogger) (*Scheduler, error) {
	loc, err := LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	hours := cfg.GoldenHours
	if len(hours) == 0 {
		hours = DefaultGoldenHours
	}
	hours = append([]int(nil), hours...)
	sort.Ints(hours)
	for _, h := range hours {
		if h < 0 || h > 23 {
			return nil, errors.Newf("golden hour %d out of range 0-23", h)
		}
	}

	s := &Scheduler{
		store:       store,
		loc:         loc,
		goldenHours: hours,
		horizonDays: cfg.HorizonDays,
		maxJitter:   cfg.MaxJitter,
		dailyLimit:  cfg.DefaultDailyLimit,
		log:         logger.AddPulseSymbol(log.Named("slots")),
		now:         func() time.Time { return time.Now().UTC() },
		jitter:      randomJitter,
	}
	if s.horizonDays <= 0 {
		s.horizonDays = DefaultHorizonDays
	}
	if s.maxJitter < 0 {
		s.maxJitter = 0
	}
	if s.dailyLimit <= 0 {
		s.dailyLimit = DefaultDailyLimit
	}
	return s, nil
}

// SetClock replaces the scheduling clock (tests)
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// SetJitter replaces the jitter source (tests)
func (s *Scheduler) SetJitter(jitter func(max time.Duration) time.Duration) {
	s.jitter = jitter
}

// Location returns the reference zone
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}

// NextSlot returns the earliest free publish time for a destination, in UTC.
// Days are local days in the reference zone; a day with dailyCap slots
// already taken is skipped, as is any golden hour already used that day.
// On the first day, hours at or before now are skipped.
func (s *Scheduler) NextSlot(ctx context.Context, destinationID string, dailyCap int, now time.Time) (time.Time, error) {
	if dailyCap <= 0 {
		dailyCap = s.dailyLimit
	}

	local := now.In(s.loc)
	y, m, d := local.Date()
	horizonStart := time.Date(y, m, d, 0, 0, 0, 0, s.loc)
	horizonEnd := time.Date(y, m, d+s.horizonDays, 0, 0, 0, 0, s.loc)

	taken, err := s.store.ScheduledPublishTimes(ctx, destinationID, horizonStart.UTC(), horizonEnd.UTC())
	if err != nil {
		return time.Time{}, errors.Wrap(err, "failed to load scheduled publish times")
	}

	byDay := make(map[string][]time.Time)
	for _, t := range taken {
		key := dayKey(t.In(s.loc))
		byDay[key] = append(byDay[key], t)
	}

	for offset := 0; offset < s.horizonDays; offset++ {
		day := time.Date(y, m, d+offset, 0, 0, 0, 0, s.loc)
		used := byDay[dayKey(day)]
		if len(used) >= dailyCap {
			continue
		}

		usedHours := make(map[time.Time]bool, len(used))
		for _, t := range used {
			usedHours[t.UTC().Truncate(time.Hour)] = true
		}

		for _, hour := range s.goldenHours {
			slot := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, s.loc).UTC()
			if offset == 0 && !slot.After(now) {
				continue
			}
			if usedHours[slot.Truncate(time.Hour)] {
				continue
			}
			return slot.Add(s.jitter(s.maxJitter)), nil
		}
	}

	return time.Time{}, errors.Wrapf(errors.ErrNoSlotAvailable, "destination %s within %d days", destinationID, s.horizonDays)
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// ScheduleJob places a completed job with a durable artifact into the next
// free slot of its destination. Ineligible destinations that opted out of
// auto-scheduling return ErrDestinationNotEligible without touching the job;
// every other refusal is recorded in the job's metadata.
func (s *Scheduler) ScheduleJob(ctx context.Context, jobID string) (time.Time, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "failed to load job %s for scheduling", jobID)
	}
	log := logger.JobLogger(s.log, job.ID)

	if job.Status != async.JobStatusCompleted {
		return time.Time{}, errors.Wrapf(ErrJobNotCompleted, "job %s is %s", job.ID, job.Status)
	}
	if job.ArtifactURI == "" {
		return time.Time{}, errors.Wrapf(ErrArtifactNotPersisted, "job %s", job.ID)
	}
	if job.DestinationID == "" {
		return time.Time{}, errors.Wrapf(errors.ErrDestinationNotEligible, "job %s has no destination", job.ID)
	}

	dest, err := s.store.GetDestination(ctx, job.DestinationID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return time.Time{}, s.refuse(ctx, job, errors.Wrapf(errors.ErrDestinationNotEligible, "destination %s not found", job.DestinationID))
		}
		return time.Time{}, err
	}

	if !dest.AutoScheduleEnabled {
		return time.Time{}, errors.Wrapf(errors.ErrDestinationNotEligible, "destination %s has auto-scheduling disabled", dest.ID)
	}
	if !dest.Active {
		return time.Time{}, s.refuse(ctx, job, errors.Wrapf(errors.ErrDestinationNotEligible, "destination %s is inactive", dest.ID))
	}
	if !dest.HasPublishConfig {
		return time.Time{}, s.refuse(ctx, job, errors.Wrapf(errors.ErrDestinationNotEligible, "destination %s has no publish config", dest.ID))
	}

	now := s.now()
	at, err := s.NextSlot(ctx, dest.ID, dest.DailyLimit, now)
	if err != nil {
		if errors.Is(err, errors.ErrNoSlotAvailable) {
			telemetry.SlotsUnavailable.Inc()
			return time.Time{}, s.refuse(ctx, job, err)
		}
		return time.Time{}, err
	}

	job.Schedule(at, now)
	won, err := s.store.SaveTransition(ctx, job, async.JobStatusCompleted, "")
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "failed to schedule job %s", job.ID)
	}
	if !won {
		return time.Time{}, errors.Wrapf(ErrJobNotCompleted, "job %s changed before scheduling", job.ID)
	}

	telemetry.SlotsAssigned.Inc()
	log.Infow("Job scheduled",
		logger.FieldDestinationID, dest.ID,
		"scheduled_publish_at", at,
		"local", at.In(s.loc).Format("2006-01-02 15:04 MST"),
	)
	return at, nil
}

// refuse records a scheduling failure on the job and returns cause
func (s *Scheduler) refuse(ctx context.Context, job *async.Job, cause error) error {
	now := s.now()
	job.Metadata.LastError = cause.Error()
	job.Metadata.Record(async.EventScheduleFailed, now, cause.Error(), 0)
	job.UpdatedAt = now

	if _, err := s.store.SaveTransition(ctx, job, async.JobStatusCompleted, ""); err != nil {
		return errors.CombineErrors(cause, errors.Wrap(err, "failed to record scheduling failure"))
	}
	s.log.Warnw("Scheduling refused", logger.FieldJobID, job.ID, logger.FieldError, cause)
	return cause
}

// String describes the scheduler for logs
func (s *Scheduler) String() string {
	return fmt.Sprintf("Scheduler{tz=%s hours=%v horizon=%dd}", s.loc, s.goldenHours, s.horizonDays)
}
