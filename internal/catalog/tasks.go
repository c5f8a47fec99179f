package catalog

import (
	"context"
	"database/sql"

	"github.com/ternarybob/lectern/internal/models"
)

// CreateTask enqueues one pipeline task for a job. Written through the
// writer because tasks are created inside the planner's checkpoint.
func (s *Store) CreateTask(ctx context.Context, jobID string, kind models.TaskKind, priority int) (int64, error) {
	return s.execInsert(ctx, `
		INSERT INTO tasks (job_id, kind, status, priority, message)
		VALUES (?, ?, ?, ?, '')`,
		jobID, string(kind), string(models.TaskQueued), priority)
}

// StartTask moves a task to RUNNING and stamps its first heartbeat.
func (s *Store) StartTask(ctx context.Context, taskID int64) error {
	now := nowEpoch()
	return s.exec(ctx, `
		UPDATE tasks SET status = ?, started_at = ?, heartbeat_at = ?, message = 'start'
		WHERE task_id = ?`,
		string(models.TaskRunning), now, now, taskID)
}

// TouchTask records pipeline progress: the page being worked on, the
// fraction done, and a fresh heartbeat for the watchdog.
func (s *Store) TouchTask(ctx context.Context, taskID, pageID, fileID int64, progress float64) error {
	return s.exec(ctx, `
		UPDATE tasks SET page_id = ?, file_id = ?, progress = ?, heartbeat_at = ?
		WHERE task_id = ?`,
		pageID, fileID, progress, nowEpoch(), taskID)
}

// SetTaskMessage updates the short human-readable task message.
func (s *Store) SetTaskMessage(ctx context.Context, taskID int64, message string) error {
	return s.exec(ctx, `UPDATE tasks SET message = ? WHERE task_id = ?`,
		truncate(message, 500), taskID)
}

// FinishTask moves a task to a terminal status with a closing message.
func (s *Store) FinishTask(ctx context.Context, taskID int64, status models.TaskStatus, message string) error {
	return s.exec(ctx, `
		UPDATE tasks SET status = ?, finished_at = ?, message = ?
		WHERE task_id = ?`,
		string(status), nowEpoch(), truncate(message, 500), taskID)
}

// FailTask moves a task to ERROR with a code and capped message.
func (s *Store) FailTask(ctx context.Context, taskID int64, code, message string) error {
	return s.exec(ctx, `
		UPDATE tasks SET status = ?, finished_at = ?, error_code = ?, error_message = ?
		WHERE task_id = ?`,
		string(models.TaskError), nowEpoch(), code, truncate(message, 500), taskID)
}

// QueuedTasks returns a job's queued tasks, highest priority first.
func (s *Store) QueuedTasks(ctx context.Context, jobID string) ([]models.Task, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	rows, err := s.writer.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks WHERE job_id = ? AND status = ?
		ORDER BY priority DESC, task_id`,
		jobID, string(models.TaskQueued))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// TasksForJob returns every task of a job from the pool.
func (s *Store) TasksForJob(ctx context.Context, jobID string) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks WHERE job_id = ? ORDER BY task_id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// RunningTaskForJob returns the job's RUNNING task, or nil when the job
// is between pipelines.
func (s *Store) RunningTaskForJob(ctx context.Context, jobID string) (*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks WHERE job_id = ? AND status = ? ORDER BY task_id LIMIT 1`,
		jobID, string(models.TaskRunning))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tasks, err := scanTasks(rows)
	if err != nil || len(tasks) == 0 {
		return nil, err
	}
	return &tasks[0], nil
}

// StaleRunningTasks returns RUNNING tasks whose last sign of life is
// older than cutoff. A task with neither heartbeat nor start time is
// treated as alive; it has not begun work yet. Tasks of a PAUSED job
// are excluded: their pipelines are parked at a page boundary and stop
// heartbeating on purpose.
func (s *Store) StaleRunningTasks(ctx context.Context, cutoff int64) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status = ? AND COALESCE(heartbeat_at, started_at) < ?
		  AND job_id NOT IN (SELECT job_id FROM jobs WHERE status = ?)`,
		string(models.TaskRunning), cutoff, string(models.JobPaused))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// KillTask marks a stale task ERROR on the pool; the watchdog must not
// wait behind the pipeline's open checkpoint.
func (s *Store) KillTask(ctx context.Context, taskID int64, code, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, finished_at = ?, error_code = ?, error_message = ?
		WHERE task_id = ? AND status = ?`,
		string(models.TaskError), nowEpoch(), code, truncate(message, 500),
		taskID, string(models.TaskRunning))
	return err
}

// CancelPendingTasks moves a job's QUEUED and RUNNING tasks to
// CANCELLED during finalization.
func (s *Store) CancelPendingTasks(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, finished_at = ?
		WHERE job_id = ? AND status IN (?, ?)`,
		string(models.TaskCancelled), nowEpoch(), jobID,
		string(models.TaskQueued), string(models.TaskRunning))
	return err
}

const taskColumns = `task_id, job_id, kind, status,
	COALESCE(page_id, 0), COALESCE(file_id, 0), priority,
	COALESCE(started_at, 0), COALESCE(finished_at, 0), COALESCE(heartbeat_at, 0),
	progress, COALESCE(message, ''), COALESCE(error_code, ''), COALESCE(error_message, '')`

func scanTasks(rows *sql.Rows) ([]models.Task, error) {
	var tasks []models.Task
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.TaskID, &t.JobID, &t.Kind, &t.Status,
			&t.PageID, &t.FileID, &t.Priority,
			&t.StartedAt, &t.FinishedAt, &t.HeartbeatAt,
			&t.Progress, &t.Message, &t.ErrorCode, &t.ErrorMessage); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
