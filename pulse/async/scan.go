package async

import (
	"database/sql"
	"time"

	"github.com/teranos/pressline/errors"
)

// JobScanArgs holds the nullable columns scanned from a jobs row
// before they are folded into a Job.
type JobScanArgs struct {
	Params             sql.NullString
	Result             sql.NullString
	Metadata           sql.NullString
	ClaimToken         sql.NullString
	NextRetryAt        sql.NullInt64
	CreatedAt          int64
	StartedAt          sql.NullInt64
	UpdatedAt          int64
	CompletedAt        sql.NullInt64
	ArtifactURI        sql.NullString
	PersistedAt        sql.NullInt64
	ScheduledPublishAt sql.NullInt64
}

// GetJobScanTargets returns scan destinations in StandardJobSelectColumns order
func GetJobScanTargets(job *Job, args *JobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.TenantID,
		&job.DestinationID,
		&job.Status,
		&args.Params,
		&args.Result,
		&args.Metadata,
		&job.RetryCount,
		&job.TimeoutRetries,
		&args.ClaimToken,
		&args.NextRetryAt,
		&args.CreatedAt,
		&args.StartedAt,
		&args.UpdatedAt,
		&args.CompletedAt,
		&args.ArtifactURI,
		&args.PersistedAt,
		&args.ScheduledPublishAt,
		&job.AutoPublish,
	}
}

// ProcessJobScanArgs folds the scanned nullable columns into the job
func ProcessJobScanArgs(job *Job, args *JobScanArgs) error {
	if args.Params.Valid {
		job.Params = []byte(args.Params.String)
	}
	if args.Result.Valid {
		job.Result = []byte(args.Result.String)
	}

	meta, err := UnmarshalMetadata(args.Metadata.String)
	if err != nil {
		return errors.Wrapf(err, "failed to unmarshal metadata for job %s", job.ID)
	}
	job.Metadata = meta

	job.ClaimToken = args.ClaimToken.String
	job.ArtifactURI = args.ArtifactURI.String

	job.CreatedAt = fromMillis(args.CreatedAt)
	job.UpdatedAt = fromMillis(args.UpdatedAt)
	job.NextRetryAt = timeFromNull(args.NextRetryAt)
	job.StartedAt = timeFromNull(args.StartedAt)
	job.CompletedAt = timeFromNull(args.CompletedAt)
	job.PersistedAt = timeFromNull(args.PersistedAt)
	job.ScheduledPublishAt = timeFromNull(args.ScheduledPublishAt)

	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanJob scans a single job from a row
func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var args JobScanArgs
	if err := row.Scan(GetJobScanTargets(&job, &args)...); err != nil {
		return nil, err
	}
	if err := ProcessJobScanArgs(&job, &args); err != nil {
		return nil, err
	}
	return &job, nil
}

// scanJobs scans every row, closing rows when done
func scanJobs(rows *sql.Rows, context string) ([]*Job, error) {
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}

	return jobs, nil
}

// StandardJobSelectColumns returns the standard column list for job SELECT queries
func StandardJobSelectColumns() string {
	return `id, tenant_id, destination_id, status,
		params, result, metadata,
		retry_count, timeout_retries, claim_token,
		next_retry_at, created_at, started_at, updated_at, completed_at,
		artifact_uri, persisted_at, scheduled_publish_at, auto_publish`
}

// Timestamps are stored as unix milliseconds, always UTC.

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timeFromNull(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullRaw(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: len(b) > 0}
}
