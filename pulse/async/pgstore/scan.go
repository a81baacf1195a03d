package pgstore

import (
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/teranos/pressline/errors"
	"github.com/teranos/pressline/pulse/async"
)

// jobRow holds the nullable columns of a jobs row before they are folded into a Job
type jobRow struct {
	status             string
	params             []byte
	result             []byte
	metadata           []byte
	claimToken         *string
	nextRetryAt        *time.Time
	createdAt          time.Time
	startedAt          *time.Time
	updatedAt          time.Time
	completedAt        *time.Time
	artifactURI        *string
	persistedAt        *time.Time
	scheduledPublishAt *time.Time
}

// targets follows async.StandardJobSelectColumns order
func (r *jobRow) targets(job *async.Job) []interface{} {
	return []interface{}{
		&job.ID,
		&job.TenantID,
		&job.DestinationID,
		&r.status,
		&r.params,
		&r.result,
		&r.metadata,
		&job.RetryCount,
		&job.TimeoutRetries,
		&r.claimToken,
		&r.nextRetryAt,
		&r.createdAt,
		&r.startedAt,
		&r.updatedAt,
		&r.completedAt,
		&r.artifactURI,
		&r.persistedAt,
		&r.scheduledPublishAt,
		&job.AutoPublish,
	}
}

func (r *jobRow) fold(job *async.Job) error {
	job.Status = async.JobStatus(r.status)
	job.Params = r.params
	if len(r.result) > 0 {
		job.Result = r.result
	}

	meta, err := async.UnmarshalMetadata(string(r.metadata))
	if err != nil {
		return errors.Wrapf(err, "failed to unmarshal metadata for job %s", job.ID)
	}
	job.Metadata = meta

	job.ClaimToken = deref(r.claimToken)
	job.ArtifactURI = deref(r.artifactURI)

	job.CreatedAt = r.createdAt.UTC()
	job.UpdatedAt = r.updatedAt.UTC()
	job.NextRetryAt = nullTime(r.nextRetryAt)
	job.StartedAt = nullTime(r.startedAt)
	job.CompletedAt = nullTime(r.completedAt)
	job.PersistedAt = nullTime(r.persistedAt)
	job.ScheduledPublishAt = nullTime(r.scheduledPublishAt)
	return nil
}

func scanJob(row pgx.Row) (*async.Job, error) {
	var job async.Job
	var r jobRow
	if err := row.Scan(r.targets(&job)...); err != nil {
		return nil, err
	}
	if err := r.fold(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

func scanJobs(rows pgx.Rows, context string) ([]*async.Job, error) {
	defer rows.Close()

	var jobs []*async.Job
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

func paramsJSON(b []byte) string {
	if len(b) == 0 {
		return "{}"
	}
	return string(b)
}

func nullJSON(b []byte) *string {
	if len(b) == 0 {
		return nil
	}
	s := string(b)
	return &s
}

func nullText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
