package catalog

import (
	"context"
	"database/sql"

	"github.com/ternarybob/lectern/internal/models"
)

// Job rows are control-plane state: written on the pool in autocommit
// so the API and watchdog observe transitions immediately, independent
// of the pipeline checkpoint cadence.

// CreateJob inserts a new job row in CREATED state.
func (s *Store) CreateJob(ctx context.Context, j models.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, library_root, created_at, status, options_json)
		VALUES (?, ?, ?, ?, ?)`,
		j.JobID, j.LibraryRoot, j.CreatedAt, string(j.Status), j.OptionsJSON)
	return err
}

// GetJob returns one job row, or nil when unknown.
func (s *Store) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, library_root, created_at, COALESCE(started_at, 0),
		       COALESCE(finished_at, 0), status, options_json
		FROM jobs WHERE job_id = ?`, jobID)
	var j models.Job
	err := row.Scan(&j.JobID, &j.LibraryRoot, &j.CreatedAt, &j.StartedAt,
		&j.FinishedAt, &j.Status, &j.OptionsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// SetJobStatus moves a job to the given status.
func (s *Store) SetJobStatus(ctx context.Context, jobID string, status models.JobStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE job_id = ?`,
		string(status), jobID)
	return err
}

// MarkJobStarted sets the status and stamps started_at, keeping the
// original timestamp when the job already started once.
func (s *Store) MarkJobStarted(ctx context.Context, jobID string, status models.JobStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, started_at = COALESCE(started_at, ?) WHERE job_id = ?`,
		string(status), nowEpoch(), jobID)
	return err
}

// FinishJob moves a job to a terminal status and stamps finished_at.
func (s *Store) FinishJob(ctx context.Context, jobID string, status models.JobStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, finished_at = ? WHERE job_id = ?`,
		string(status), nowEpoch(), jobID)
	return err
}
