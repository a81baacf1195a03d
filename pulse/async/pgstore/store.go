// Package pgstore is the Postgres JobStore for multi-process deployments.
// Queries mirror the SQLite store; timestamps are TIMESTAMPTZ and JSON columns are JSONB.
package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teranos/pressline/errors"
	"github.com/teranos/pressline/pulse/async"
)

// Store is the Postgres JobStore
type Store struct {
	pool *pgxpool.Pool
}

var _ async.JobStore = (*Store)(nil)

// New creates a store over a migrated pool
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateJob inserts a new job
func (s *Store) CreateJob(ctx context.Context, job *async.Job) error {
	metadata, err := async.MarshalMetadata(job.Metadata)
	if err != nil {
		return errors.Wrap(err, "failed to marshal metadata")
	}

	query := `
		INSERT INTO jobs (
			id, tenant_id, destination_id, status,
			params, result, metadata,
			retry_count, timeout_retries, claim_token,
			next_retry_at, created_at, started_at, updated_at, completed_at,
			artifact_uri, persisted_at, scheduled_publish_at, auto_publish
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err = s.pool.Exec(ctx, query,
		job.ID,
		job.TenantID,
		job.DestinationID,
		string(job.Status),
		paramsJSON(job.Params),
		nullJSON(job.Result),
		metadata,
		job.RetryCount,
		job.TimeoutRetries,
		nullText(job.ClaimToken),
		nullTime(job.NextRetryAt),
		job.CreatedAt.UTC(),
		nullTime(job.StartedAt),
		job.UpdatedAt.UTC(),
		nullTime(job.CompletedAt),
		nullText(job.ArtifactURI),
		nullTime(job.PersistedAt),
		nullTime(job.ScheduledPublishAt),
		job.AutoPublish,
	)
	if err != nil {
		err = errors.Wrap(err, "failed to create job")
		return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*async.Job, error) {
	query := `SELECT ` + async.StandardJobSelectColumns() + ` FROM jobs WHERE id = $1`

	job, err := scanJob(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NewNotFoundError("job %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status
func (s *Store) ListJobs(ctx context.Context, status *async.JobStatus, limit int) ([]*async.Job, error) {
	baseQuery := `SELECT ` + async.StandardJobSelectColumns() + ` FROM jobs`

	var rows pgx.Rows
	var err error
	if status != nil {
		rows, err = s.pool.Query(ctx, baseQuery+` WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, string(*status), limit)
	} else {
		rows, err = s.pool.Query(ctx, baseQuery+` ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	return scanJobs(rows, "jobs")
}

// CountByStatus counts jobs in one status
func (s *Store) CountByStatus(ctx context.Context, status async.JobStatus) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE status = $1`, string(status)).Scan(&n)
	if err != nil {
		err = errors.Wrap(err, "failed to count jobs")
		return 0, errors.WithDetail(err, fmt.Sprintf("Status: %s", status))
	}
	return n, nil
}

// Stats counts jobs per status
func (s *Store) Stats(ctx context.Context) (*async.QueueStats, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get queue stats")
	}
	defer rows.Close()

	stats := &async.QueueStats{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan queue stats")
		}
		stats.Add(async.JobStatus(status), n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating queue stats")
	}
	return stats, nil
}

// ClaimJob moves a pending, due job to processing. Zero rows affected means the claim was lost.
func (s *Store) ClaimJob(ctx context.Context, job *async.Job, now time.Time) (bool, error) {
	metadata, err := async.MarshalMetadata(job.Metadata)
	if err != nil {
		return false, errors.Wrap(err, "failed to marshal metadata")
	}

	query := `
		UPDATE jobs
		SET status = 'processing',
		    claim_token = $1,
		    started_at = $2,
		    updated_at = $3,
		    metadata = $4
		WHERE id = $5
		  AND status = 'pending'
		  AND (next_retry_at IS NULL OR next_retry_at <= $6)
	`

	tag, err := s.pool.Exec(ctx, query,
		job.ClaimToken,
		nullTime(job.StartedAt),
		job.UpdatedAt.UTC(),
		metadata,
		job.ID,
		now.UTC(),
	)
	if err != nil {
		err = errors.Wrap(err, "failed to claim job")
		return false, errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
	}
	return changed(tag), nil
}

// SaveTransition writes the job's mutable columns, conditioned on status and claim token
func (s *Store) SaveTransition(ctx context.Context, job *async.Job, from async.JobStatus, token string) (bool, error) {
	metadata, err := async.MarshalMetadata(job.Metadata)
	if err != nil {
		return false, errors.Wrap(err, "failed to marshal metadata")
	}

	query := `
		UPDATE jobs
		SET status = $1,
		    result = $2,
		    metadata = $3,
		    retry_count = $4,
		    timeout_retries = $5,
		    claim_token = $6,
		    next_retry_at = $7,
		    started_at = $8,
		    updated_at = $9,
		    completed_at = $10,
		    artifact_uri = $11,
		    persisted_at = $12,
		    scheduled_publish_at = $13,
		    auto_publish = $14
		WHERE id = $15 AND status = $16`
	args := []interface{}{
		string(job.Status),
		nullJSON(job.Result),
		metadata,
		job.RetryCount,
		job.TimeoutRetries,
		nullText(job.ClaimToken),
		nullTime(job.NextRetryAt),
		nullTime(job.StartedAt),
		job.UpdatedAt.UTC(),
		nullTime(job.CompletedAt),
		nullText(job.ArtifactURI),
		nullTime(job.PersistedAt),
		nullTime(job.ScheduledPublishAt),
		job.AutoPublish,
		job.ID,
		string(from),
	}
	if token != "" {
		query += ` AND claim_token = $17`
		args = append(args, token)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		err = errors.Wrap(err, "failed to save job transition")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		return false, errors.WithDetail(err, fmt.Sprintf("Transition: %s -> %s", from, job.Status))
	}
	return changed(tag), nil
}

// SaveUnpersistedMetadata records metadata on a completed job that still lacks its artifact
func (s *Store) SaveUnpersistedMetadata(ctx context.Context, job *async.Job) (bool, error) {
	metadata, err := async.MarshalMetadata(job.Metadata)
	if err != nil {
		return false, errors.Wrap(err, "failed to marshal metadata")
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET metadata = $1, updated_at = $2
		WHERE id = $3 AND status = 'completed'
		  AND (artifact_uri IS NULL OR artifact_uri = '')`,
		metadata, job.UpdatedAt.UTC(), job.ID)
	if err != nil {
		return false, errors.Wrapf(err, "failed to save metadata for job %s", job.ID)
	}
	return changed(tag), nil
}

// ListEligible returns pending jobs whose retry delay has passed, oldest first
func (s *Store) ListEligible(ctx context.Context, now time.Time, limit int) ([]*async.Job, error) {
	query := `SELECT ` + async.StandardJobSelectColumns() + `
		FROM jobs
		WHERE status = 'pending'
		  AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY created_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list eligible jobs")
	}
	return scanJobs(rows, "eligible jobs")
}

// ListCompletedUnpersisted returns completed jobs since a cutoff that have an
// in-row result but no durable artifact
func (s *Store) ListCompletedUnpersisted(ctx context.Context, since time.Time, limit int) ([]*async.Job, error) {
	query := `SELECT ` + async.StandardJobSelectColumns() + `
		FROM jobs
		WHERE status = 'completed'
		  AND completed_at >= $1
		  AND (artifact_uri IS NULL OR artifact_uri = '')
		  AND result IS NOT NULL
		ORDER BY completed_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, since.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list unpersisted jobs")
	}
	return scanJobs(rows, "unpersisted jobs")
}

// CleanupOldJobs removes failed jobs and persisted completed jobs older than the specified duration
func (s *Store) CleanupOldJobs(ctx context.Context, olderThan time.Duration, now time.Time) (int, error) {
	query := `
		DELETE FROM jobs
		WHERE updated_at < $1
		  AND (status = 'failed'
		       OR (status = 'completed' AND artifact_uri IS NOT NULL AND artifact_uri != ''))
	`

	tag, err := s.pool.Exec(ctx, query, now.Add(-olderThan).UTC())
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}
	return int(tag.RowsAffected()), nil
}

// GetDestination retrieves a destination by ID
func (s *Store) GetDestination(ctx context.Context, id string) (*async.Destination, error) {
	query := `
		SELECT id, name, active, auto_schedule_enabled, daily_limit, has_publish_config
		FROM destinations WHERE id = $1`

	var d async.Destination
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.Name, &d.Active, &d.AutoScheduleEnabled, &d.DailyLimit, &d.HasPublishConfig,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NewNotFoundError("destination %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get destination")
	}
	return &d, nil
}

// UpsertDestination creates or replaces a destination
func (s *Store) UpsertDestination(ctx context.Context, d *async.Destination) error {
	query := `
		INSERT INTO destinations (id, name, active, auto_schedule_enabled, daily_limit, has_publish_config)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			active = EXCLUDED.active,
			auto_schedule_enabled = EXCLUDED.auto_schedule_enabled,
			daily_limit = EXCLUDED.daily_limit,
			has_publish_config = EXCLUDED.has_publish_config`

	_, err := s.pool.Exec(ctx, query,
		d.ID, d.Name, d.Active, d.AutoScheduleEnabled, d.DailyLimit, d.HasPublishConfig,
	)
	if err != nil {
		err = errors.Wrap(err, "failed to upsert destination")
		return errors.WithDetail(err, fmt.Sprintf("Destination ID: %s", d.ID))
	}
	return nil
}

// ScheduledPublishTimes returns the publish slots already taken by a destination in [from, to)
func (s *Store) ScheduledPublishTimes(ctx context.Context, destinationID string, from, to time.Time) ([]time.Time, error) {
	query := `
		SELECT scheduled_publish_at FROM jobs
		WHERE destination_id = $1
		  AND scheduled_publish_at IS NOT NULL
		  AND scheduled_publish_at >= $2
		  AND scheduled_publish_at < $3
		ORDER BY scheduled_publish_at ASC`

	rows, err := s.pool.Query(ctx, query, destinationID, from.UTC(), to.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "failed to list scheduled publish times")
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, errors.Wrap(err, "failed to scan publish time")
		}
		times = append(times, t.UTC())
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating publish times")
	}
	return times, nil
}

func changed(tag pgconn.CommandTag) bool {
	return tag.RowsAffected() > 0
}
