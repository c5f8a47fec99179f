package catalog

import (
	"context"
	"database/sql"

	"github.com/ternarybob/lectern/internal/models"
)

// WorkItem is one queued page a pipeline should process, joined with
// enough file context to locate the source on disk.
type WorkItem struct {
	PageID int64
	FileID int64
	PageNo int
	Path   string
	Aspect models.Aspect
}

// ArtifactStatusesForFile returns the per-kind status of a file's
// pages, keyed by page id. A positive maxPageNo restricts the result
// to pages 1..maxPageNo, so the planner never re-queues page rows left
// behind by a deck that shrank; zero means every page.
func (s *Store) ArtifactStatusesForFile(ctx context.Context, fileID int64, maxPageNo int) (map[int64]map[models.ArtifactKind]models.ArtifactStatus, error) {
	query := `
		SELECT a.page_id, a.kind, a.status
		FROM artifacts a JOIN pages p ON p.page_id = a.page_id
		WHERE p.file_id = ?`
	args := []any{fileID}
	if maxPageNo > 0 {
		query += ` AND p.page_no <= ?`
		args = append(args, maxPageNo)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	rows, err := s.writer.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]map[models.ArtifactKind]models.ArtifactStatus)
	for rows.Next() {
		var pageID int64
		var kind, status string
		if err := rows.Scan(&pageID, &kind, &status); err != nil {
			return nil, err
		}
		m, ok := out[pageID]
		if !ok {
			m = make(map[models.ArtifactKind]models.ArtifactStatus)
			out[pageID] = m
		}
		m[models.ArtifactKind(kind)] = models.ArtifactStatus(status)
	}
	return out, rows.Err()
}

// QueueArtifact moves one (page, kind) to QUEUED with fresh parameters,
// clearing any previous error.
func (s *Store) QueueArtifact(ctx context.Context, pageID int64, kind models.ArtifactKind, paramsJSON string) error {
	return s.exec(ctx, `
		UPDATE artifacts
		SET status = ?, updated_at = ?, error_code = NULL, error_message = NULL, params_json = ?
		WHERE page_id = ? AND kind = ?`,
		string(models.ArtifactQueued), nowEpoch(), paramsJSON, pageID, string(kind))
}

// MarkArtifactRunning bumps the attempt counter and moves to RUNNING.
func (s *Store) MarkArtifactRunning(ctx context.Context, pageID int64, kind models.ArtifactKind) error {
	return s.exec(ctx, `
		UPDATE artifacts SET status = ?, updated_at = ?, attempts = attempts + 1
		WHERE page_id = ? AND kind = ?`,
		string(models.ArtifactRunning), nowEpoch(), pageID, string(kind))
}

// MarkArtifactReady moves one (page, kind) to READY.
func (s *Store) MarkArtifactReady(ctx context.Context, pageID int64, kind models.ArtifactKind) error {
	return s.exec(ctx, `
		UPDATE artifacts SET status = ?, updated_at = ?, error_code = NULL, error_message = NULL
		WHERE page_id = ? AND kind = ?`,
		string(models.ArtifactReady), nowEpoch(), pageID, string(kind))
}

// MarkArtifactSkipped records a clean skip with its reason code.
func (s *Store) MarkArtifactSkipped(ctx context.Context, pageID int64, kind models.ArtifactKind, code, message string) error {
	return s.exec(ctx, `
		UPDATE artifacts SET status = ?, updated_at = ?, error_code = ?, error_message = ?
		WHERE page_id = ? AND kind = ?`,
		string(models.ArtifactSkipped), nowEpoch(), code, truncate(message, 500), pageID, string(kind))
}

// MarkArtifactError records a failure; the message is capped at 500 chars.
func (s *Store) MarkArtifactError(ctx context.Context, pageID int64, kind models.ArtifactKind, code, message string) error {
	return s.exec(ctx, `
		UPDATE artifacts SET status = ?, updated_at = ?, error_code = ?, error_message = ?
		WHERE page_id = ? AND kind = ?`,
		string(models.ArtifactError), nowEpoch(), code, truncate(message, 500), pageID, string(kind))
}

// QueuedWork returns the QUEUED pages for one kind in (file id, page
// ordinal) order, which fixes the processing order of every pipeline.
func (s *Store) QueuedWork(ctx context.Context, kind models.ArtifactKind) ([]WorkItem, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	rows, err := s.writer.QueryContext(ctx, `
		SELECT p.page_id, p.file_id, p.page_no, f.path, p.aspect
		FROM artifacts a
		JOIN pages p ON p.page_id = a.page_id
		JOIN files f ON f.file_id = p.file_id
		WHERE a.kind = ? AND a.status = ?
		ORDER BY p.file_id, p.page_no`,
		string(kind), string(models.ArtifactQueued))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []WorkItem
	for rows.Next() {
		var it WorkItem
		if err := rows.Scan(&it.PageID, &it.FileID, &it.PageNo, &it.Path, &it.Aspect); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// FailQueuedArtifactsForFile marks every remaining QUEUED artifact of one
// kind for a file as ERROR. Used when a per-file precondition fails, such
// as PDF conversion, and every dependent page fails with it.
func (s *Store) FailQueuedArtifactsForFile(ctx context.Context, fileID int64, kind models.ArtifactKind, code, message string) error {
	return s.exec(ctx, `
		UPDATE artifacts SET status = ?, updated_at = ?, error_code = ?, error_message = ?
		WHERE kind = ? AND status = ?
		AND page_id IN (SELECT page_id FROM pages WHERE file_id = ?)`,
		string(models.ArtifactError), nowEpoch(), code, truncate(message, 500),
		string(kind), string(models.ArtifactQueued), fileID)
}

// CancelPendingArtifacts moves every QUEUED or RUNNING artifact to
// CANCELLED. Runs on the pool during job finalization, after the writer
// transaction has been committed.
func (s *Store) CancelPendingArtifacts(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE artifacts SET status = ?, updated_at = ?
		WHERE status IN (?, ?)`,
		string(models.ArtifactCancelled), nowEpoch(),
		string(models.ArtifactQueued), string(models.ArtifactRunning))
	return err
}

// GetArtifact returns one (page, kind) row from the pool, or nil.
func (s *Store) GetArtifact(ctx context.Context, pageID int64, kind models.ArtifactKind) (*models.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT page_id, kind, status, updated_at, attempts,
		       COALESCE(error_code, ''), COALESCE(error_message, ''), COALESCE(params_json, '')
		FROM artifacts WHERE page_id = ? AND kind = ?`, pageID, string(kind))
	var a models.Artifact
	err := row.Scan(&a.PageID, &a.Kind, &a.Status, &a.UpdatedAt, &a.Attempts,
		&a.ErrorCode, &a.ErrorMessage, &a.ParamsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
