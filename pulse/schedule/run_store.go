package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/pressline/errors"
	"github.com/teranos/pressline/logger"
)

// RunStore persists pulse run history in the SQLite pulse_runs table.
// A nil *RunStore is valid and records nothing.
type RunStore struct {
	db  *sql.DB
	log *zap.SugaredLogger
	now func() time.Time
}

// NewRunStore creates a run store over a migrated database
func NewRunStore(db *sql.DB, log *zap.SugaredLogger) *RunStore {
	return &RunStore{
		db:  db,
		log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Track runs fn as one recorded pass of the given kind and returns fn's error.
// fn's result is stored as the run summary. Failing to write history never fails the pass.
func (s *RunStore) Track(ctx context.Context, kind, trigger string, fn func(ctx context.Context) (interface{}, error)) error {
	if s == nil {
		_, err := fn(ctx)
		return err
	}

	run := &Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		Trigger:   trigger,
		Status:    RunStatusRunning,
		StartedAt: s.now(),
	}
	if err := s.CreateRun(ctx, run); err != nil {
		s.log.Warnw("Failed to create run record", "kind", kind, logger.FieldError, err)
		run = nil
	}

	summary, err := fn(ctx)

	if run == nil {
		return err
	}

	completedAt := s.now()
	duration := completedAt.Sub(run.StartedAt).Milliseconds()
	run.CompletedAt = &completedAt
	run.DurationMS = &duration

	if err != nil {
		run.Status = RunStatusFailed
		run.ErrorMessage = err.Error()
	} else {
		run.Status = RunStatusCompleted
	}
	if summary != nil {
		if data, mErr := json.Marshal(summary); mErr == nil {
			run.Summary = data
		}
	}

	if uErr := s.UpdateRun(ctx, run); uErr != nil {
		s.log.Warnw("Failed to update run record", logger.FieldRunID, run.ID, logger.FieldError, uErr)
	}
	return err
}

// CreateRun inserts a new run record
func (s *RunStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO pulse_runs (
			id, kind, trigger, status,
			started_at, completed_at, duration_ms,
			summary, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Kind,
		run.Trigger,
		run.Status,
		run.StartedAt.UnixMilli(),
		nullMillis(run.CompletedAt),
		nullInt(run.DurationMS),
		nullText(string(run.Summary)),
		nullText(run.ErrorMessage),
	)
	if err != nil {
		err = errors.Wrap(err, "failed to create run")
		return errors.WithDetail(err, fmt.Sprintf("Run ID: %s", run.ID))
	}
	return nil
}

// UpdateRun writes a run's outcome
func (s *RunStore) UpdateRun(ctx context.Context, run *Run) error {
	query := `
		UPDATE pulse_runs
		SET status = ?,
		    completed_at = ?,
		    duration_ms = ?,
		    summary = ?,
		    error_message = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		run.Status,
		nullMillis(run.CompletedAt),
		nullInt(run.DurationMS),
		nullText(string(run.Summary)),
		nullText(run.ErrorMessage),
		run.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update run")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if rowsAffected == 0 {
		return errors.NewNotFoundError("run %s", run.ID)
	}
	return nil
}

// ListRecent returns the newest runs first, optionally filtered by kind
func (s *RunStore) ListRecent(ctx context.Context, kind string, limit int) ([]*Run, error) {
	query := `
		SELECT id, kind, trigger, status,
		       started_at, completed_at, duration_ms,
		       summary, error_message
		FROM pulse_runs`
	args := []interface{}{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		var startedAt int64
		var completedAt, durationMS sql.NullInt64
		var summary, errorMessage sql.NullString

		if err := rows.Scan(
			&run.ID,
			&run.Kind,
			&run.Trigger,
			&run.Status,
			&startedAt,
			&completedAt,
			&durationMS,
			&summary,
			&errorMessage,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}

		run.StartedAt = time.UnixMilli(startedAt).UTC()
		if completedAt.Valid {
			t := time.UnixMilli(completedAt.Int64).UTC()
			run.CompletedAt = &t
		}
		if durationMS.Valid {
			d := durationMS.Int64
			run.DurationMS = &d
		}
		if summary.Valid {
			run.Summary = json.RawMessage(summary.String)
		}
		run.ErrorMessage = errorMessage.String

		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating runs")
	}
	return runs, nil
}

// SetClock replaces the run clock (tests)
func (s *RunStore) SetClock(now func() time.Time) {
	s.now = now
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullInt(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

func nullText(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
