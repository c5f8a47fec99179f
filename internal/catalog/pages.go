package catalog

import (
	"context"
	"database/sql"

	"github.com/ternarybob/lectern/internal/models"
)

// GetPage reads one page row from the pool, or nil when unknown.
func (s *Store) GetPage(ctx context.Context, pageID int64) (*models.Page, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT page_id, file_id, page_no, aspect, source_size_bytes, source_mtime_epoch, created_at
		FROM pages WHERE page_id = ?`, pageID)
	var p models.Page
	err := row.Scan(&p.PageID, &p.FileID, &p.PageNo, &p.Aspect,
		&p.SourceSizeBytes, &p.SourceMtimeEpoch, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// EnsurePages makes pages 1..slideCount exist for the file, stamping each
// with the source snapshot it was planned against, and seeds a MISSING
// artifact row for every kind. Existing pages and artifact rows are
// preserved; INSERT OR IGNORE keeps artifacts unique per (page, kind).
func (s *Store) EnsurePages(ctx context.Context, fileID int64, slideCount int, aspect models.Aspect, sizeBytes, mtimeEpoch int64) error {
	now := nowEpoch()
	for pageNo := 1; pageNo <= slideCount; pageNo++ {
		_, err := s.execInsert(ctx, `
			INSERT INTO pages (file_id, page_no, aspect, source_size_bytes, source_mtime_epoch, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(file_id, page_no) DO UPDATE SET
				aspect = excluded.aspect,
				source_size_bytes = excluded.source_size_bytes,
				source_mtime_epoch = excluded.source_mtime_epoch`,
			fileID, pageNo, string(aspect), sizeBytes, mtimeEpoch, now)
		if err != nil {
			return err
		}
	}
	for _, kind := range models.AllArtifactKinds {
		err := s.exec(ctx, `
			INSERT OR IGNORE INTO artifacts (page_id, kind, status, updated_at)
			SELECT page_id, ?, ?, ? FROM pages WHERE file_id = ?`,
			string(kind), string(models.ArtifactMissing), now, fileID)
		if err != nil {
			return err
		}
	}
	return nil
}

// PagesForFile returns the file's pages in slide order, read through the
// writer so freshly planned rows are visible.
func (s *Store) PagesForFile(ctx context.Context, fileID int64) ([]models.Page, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	rows, err := s.writer.QueryContext(ctx, `
		SELECT page_id, file_id, page_no, aspect, source_size_bytes, source_mtime_epoch, created_at
		FROM pages WHERE file_id = ? ORDER BY page_no`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []models.Page
	for rows.Next() {
		var p models.Page
		if err := rows.Scan(&p.PageID, &p.FileID, &p.PageNo, &p.Aspect,
			&p.SourceSizeBytes, &p.SourceMtimeEpoch, &p.CreatedAt); err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}
