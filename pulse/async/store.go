package async

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/teranos/pressline/errors"
)

// JobStore persists jobs and destinations. Every state change that can race
// goes through a conditional update and reports whether it won.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, status *JobStatus, limit int) ([]*Job, error)
	CountByStatus(ctx context.Context, status JobStatus) (int, error)
	Stats(ctx context.Context) (*QueueStats, error)

	// ClaimJob moves an eligible pending job to processing using job.ClaimToken,
	// job.StartedAt and job.Metadata. False means another caller won.
	ClaimJob(ctx context.Context, job *Job, now time.Time) (bool, error)

	// SaveTransition writes the job's mutable state if the row is still in status from
	// (and, when token is non-empty, still owned by that claim token).
	SaveTransition(ctx context.Context, job *Job, from JobStatus, token string) (bool, error)

	// SaveUnpersistedMetadata writes metadata and updated_at of a completed job
	// only while it still has no artifact. False means another finalizer got there.
	SaveUnpersistedMetadata(ctx context.Context, job *Job) (bool, error)

	ListEligible(ctx context.Context, now time.Time, limit int) ([]*Job, error)
	ListCompletedUnpersisted(ctx context.Context, since time.Time, limit int) ([]*Job, error)
	CleanupOldJobs(ctx context.Context, olderThan time.Duration, now time.Time) (int, error)

	GetDestination(ctx context.Context, id string) (*Destination, error)
	UpsertDestination(ctx context.Context, dest *Destination) error
	ScheduledPublishTimes(ctx context.Context, destinationID string, from, to time.Time) ([]time.Time, error)
}

// Store is the SQLite JobStore
type Store struct {
	db *sql.DB
}

var _ JobStore = (*Store)(nil)

// NewStore creates a new job store over a migrated database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateJob inserts a new job into the database
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	metadata, err := MarshalMetadata(job.Metadata)
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
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.TenantID,
		job.DestinationID,
		job.Status,
		string(job.Params),
		nullRaw(job.Result),
		metadata,
		job.RetryCount,
		job.TimeoutRetries,
		nullString(job.ClaimToken),
		nullMillis(job.NextRetryAt),
		toMillis(job.CreatedAt),
		nullMillis(job.StartedAt),
		toMillis(job.UpdatedAt),
		nullMillis(job.CompletedAt),
		nullString(job.ArtifactURI),
		nullMillis(job.PersistedAt),
		nullMillis(job.ScheduledPublishAt),
		job.AutoPublish,
	)
	if err != nil {
		err = errors.Wrap(err, "failed to create job")
		return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
	}

	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + ` FROM jobs WHERE id = ?`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status
func (s *Store) ListJobs(ctx context.Context, status *JobStatus, limit int) ([]*Job, error) {
	baseQuery := `SELECT ` + StandardJobSelectColumns() + ` FROM jobs`

	var rows *sql.Rows
	var err error
	if status != nil {
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status = ? ORDER BY created_at DESC LIMIT ?`, *status, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, baseQuery+` ORDER BY created_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}

	return scanJobs(rows, "jobs")
}

// CountByStatus counts jobs in one status
func (s *Store) CountByStatus(ctx context.Context, status JobStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = ?`, status).Scan(&n)
	if err != nil {
		err = errors.Wrap(err, "failed to count jobs")
		return 0, errors.WithDetail(err, fmt.Sprintf("Status: %s", status))
	}
	return n, nil
}

// Stats counts jobs per status
func (s *Store) Stats(ctx context.Context) (*QueueStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get queue stats")
	}
	defer rows.Close()

	stats := &QueueStats{}
	for rows.Next() {
		var status JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan queue stats")
		}
		stats.Add(status, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating queue stats")
	}
	return stats, nil
}

// ClaimJob moves a pending, due job to processing. Zero rows affected means the claim was lost.
func (s *Store) ClaimJob(ctx context.Context, job *Job, now time.Time) (bool, error) {
	metadata, err := MarshalMetadata(job.Metadata)
	if err != nil {
		return false, errors.Wrap(err, "failed to marshal metadata")
	}

	query := `
		UPDATE jobs
		SET status = 'processing',
		    claim_token = ?,
		    started_at = ?,
		    updated_at = ?,
		    metadata = ?
		WHERE id = ?
		  AND status = 'pending'
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		job.ClaimToken,
		nullMillis(job.StartedAt),
		toMillis(job.UpdatedAt),
		metadata,
		job.ID,
		toMillis(now),
	)
	if err != nil {
		err = errors.Wrap(err, "failed to claim job")
		return false, errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
	}

	return rowsChanged(result)
}

// SaveTransition writes the job's mutable columns, conditioned on status and claim token
func (s *Store) SaveTransition(ctx context.Context, job *Job, from JobStatus, token string) (bool, error) {
	metadata, err := MarshalMetadata(job.Metadata)
	if err != nil {
		return false, errors.Wrap(err, "failed to marshal metadata")
	}

	query := `
		UPDATE jobs
		SET status = ?,
		    result = ?,
		    metadata = ?,
		    retry_count = ?,
		    timeout_retries = ?,
		    claim_token = ?,
		    next_retry_at = ?,
		    started_at = ?,
		    updated_at = ?,
		    completed_at = ?,
		    artifact_uri = ?,
		    persisted_at = ?,
		    scheduled_publish_at = ?,
		    auto_publish = ?
		WHERE id = ? AND status = ?`
	args := []interface{}{
		job.Status,
		nullRaw(job.Result),
		metadata,
		job.RetryCount,
		job.TimeoutRetries,
		nullString(job.ClaimToken),
		nullMillis(job.NextRetryAt),
		nullMillis(job.StartedAt),
		toMillis(job.UpdatedAt),
		nullMillis(job.CompletedAt),
		nullString(job.ArtifactURI),
		nullMillis(job.PersistedAt),
		nullMillis(job.ScheduledPublishAt),
		job.AutoPublish,
		job.ID,
		from,
	}
	if token != "" {
		query += ` AND claim_token = ?`
		args = append(args, token)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		err = errors.Wrap(err, "failed to save job transition")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		return false, errors.WithDetail(err, fmt.Sprintf("Transition: %s -> %s", from, job.Status))
	}

	return rowsChanged(result)
}

// SaveUnpersistedMetadata records metadata on a completed job that still lacks its artifact
func (s *Store) SaveUnpersistedMetadata(ctx context.Context, job *Job) (bool, error) {
	metadata, err := MarshalMetadata(job.Metadata)
	if err != nil {
		return false, errors.Wrap(err, "failed to marshal metadata")
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET metadata = ?, updated_at = ?
		WHERE id = ? AND status = 'completed'
		  AND (artifact_uri IS NULL OR artifact_uri = '')`,
		metadata, toMillis(job.UpdatedAt), job.ID)
	if err != nil {
		return false, errors.Wrapf(err, "failed to save metadata for job %s", job.ID)
	}

	return rowsChanged(result)
}

// ListEligible returns pending jobs whose retry delay has passed, oldest first
func (s *Store) ListEligible(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM jobs
		WHERE status = 'pending'
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, toMillis(now), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list eligible jobs")
	}

	return scanJobs(rows, "eligible jobs")
}

// ListCompletedUnpersisted returns completed jobs since a cutoff that have an
// in-row result but no durable artifact
func (s *Store) ListCompletedUnpersisted(ctx context.Context, since time.Time, limit int) ([]*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM jobs
		WHERE status = 'completed'
		  AND completed_at >= ?
		  AND (artifact_uri IS NULL OR artifact_uri = '')
		  AND result IS NOT NULL
		ORDER BY completed_at ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, toMillis(since), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list unpersisted jobs")
	}

	return scanJobs(rows, "unpersisted jobs")
}

// CleanupOldJobs removes failed jobs and persisted completed jobs older than the specified duration
func (s *Store) CleanupOldJobs(ctx context.Context, olderThan time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-olderThan)

	query := `
		DELETE FROM jobs
		WHERE updated_at < ?
		  AND (status = 'failed'
		       OR (status = 'completed' AND artifact_uri IS NOT NULL AND artifact_uri != ''))
	`

	result, err := s.db.ExecContext(ctx, query, toMillis(cutoff))
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}

// GetDestination retrieves a destination by ID
func (s *Store) GetDestination(ctx context.Context, id string) (*Destination, error) {
	query := `
		SELECT id, name, active, auto_schedule_enabled, daily_limit, has_publish_config
		FROM destinations WHERE id = ?`

	var d Destination
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&d.ID, &d.Name, &d.Active, &d.AutoScheduleEnabled, &d.DailyLimit, &d.HasPublishConfig,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("destination %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get destination")
	}
	return &d, nil
}

// UpsertDestination creates or replaces a destination
func (s *Store) UpsertDestination(ctx context.Context, d *Destination) error {
	query := `
		INSERT INTO destinations (id, name, active, auto_schedule_enabled, daily_limit, has_publish_config, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			active = excluded.active,
			auto_schedule_enabled = excluded.auto_schedule_enabled,
			daily_limit = excluded.daily_limit,
			has_publish_config = excluded.has_publish_config`

	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.Name, d.Active, d.AutoScheduleEnabled, d.DailyLimit, d.HasPublishConfig,
		toMillis(time.Now()),
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
		WHERE destination_id = ?
		  AND scheduled_publish_at IS NOT NULL
		  AND scheduled_publish_at >= ?
		  AND scheduled_publish_at < ?
		ORDER BY scheduled_publish_at ASC`

	rows, err := s.db.QueryContext(ctx, query, destinationID, toMillis(from), toMillis(to))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list scheduled publish times")
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, errors.Wrap(err, "failed to scan publish time")
		}
		times = append(times, fromMillis(ms))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating publish times")
	}
	return times, nil
}

func rowsChanged(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return n > 0, nil
}
