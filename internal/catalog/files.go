package catalog

import (
	"context"
	"database/sql"

	"github.com/ternarybob/lectern/internal/models"
)

// GetFileByPath looks up a file row through the writer connection so
// the planner sees rows it inserted earlier in the same checkpoint.
func (s *Store) GetFileByPath(ctx context.Context, path string) (*models.File, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	row := s.writer.QueryRowContext(ctx, `
		SELECT file_id, path, size_bytes, mtime_epoch, slide_aspect, slide_count,
		       COALESCE(last_scanned_at, 0), COALESCE(scan_error, '')
		FROM files WHERE path = ?`, path)
	return scanFile(row)
}

// GetFile reads a file row from the pool; used by handlers.
func (s *Store) GetFile(ctx context.Context, fileID int64) (*models.File, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT file_id, path, size_bytes, mtime_epoch, slide_aspect, slide_count,
		       COALESCE(last_scanned_at, 0), COALESCE(scan_error, '')
		FROM files WHERE file_id = ?`, fileID)
	return scanFile(row)
}

func scanFile(row *sql.Row) (*models.File, error) {
	var f models.File
	err := row.Scan(&f.FileID, &f.Path, &f.SizeBytes, &f.MtimeEpoch,
		&f.SlideAspect, &f.SlideCount, &f.LastScannedAt, &f.ScanError)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// UpsertFile records a sighting of path with the observed size, mtime and
// aspect. Returns the file id and the previous row (nil on first sighting)
// so the planner can detect source changes. A successful sighting clears
// any prior scan_error; an unknown aspect never overwrites a known one.
func (s *Store) UpsertFile(ctx context.Context, path string, sizeBytes, mtimeEpoch int64, aspect models.Aspect) (int64, *models.File, error) {
	prev, err := s.GetFileByPath(ctx, path)
	if err != nil {
		return 0, nil, err
	}
	now := nowEpoch()
	if prev == nil {
		id, err := s.execInsert(ctx, `
			INSERT INTO files (path, size_bytes, mtime_epoch, slide_aspect, slide_count, last_scanned_at, scan_error)
			VALUES (?, ?, ?, ?, 0, ?, NULL)`,
			path, sizeBytes, mtimeEpoch, string(aspect), now)
		if err != nil {
			return 0, nil, err
		}
		return id, nil, nil
	}
	keep := aspect
	if keep == models.AspectUnknown && prev.SlideAspect != "" {
		keep = prev.SlideAspect
	}
	err = s.exec(ctx, `
		UPDATE files
		SET size_bytes = ?, mtime_epoch = ?, slide_aspect = ?, last_scanned_at = ?, scan_error = NULL
		WHERE file_id = ?`,
		sizeBytes, mtimeEpoch, string(keep), now, prev.FileID)
	if err != nil {
		return 0, nil, err
	}
	return prev.FileID, prev, nil
}

// SetFileScanError records why a file could not be planned. The file row
// stays in the catalog so the failure is visible in the library views.
func (s *Store) SetFileScanError(ctx context.Context, fileID int64, message string) error {
	return s.exec(ctx, `UPDATE files SET scan_error = ?, last_scanned_at = ? WHERE file_id = ?`,
		message, nowEpoch(), fileID)
}

// SetFileSlideCount updates the slide count discovered during planning.
func (s *Store) SetFileSlideCount(ctx context.Context, fileID int64, count int) error {
	return s.exec(ctx, `UPDATE files SET slide_count = ? WHERE file_id = ?`, count, fileID)
}
