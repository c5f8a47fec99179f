package catalog

import (
	"context"
	"database/sql"

	"github.com/ternarybob/lectern/internal/models"
)

// UpsertThumbnail records where a rendered page image lives on disk.
func (s *Store) UpsertThumbnail(ctx context.Context, t models.Thumbnail) error {
	return s.exec(ctx, `
		INSERT OR REPLACE INTO thumbnails (page_id, aspect, width, height, image_path, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.PageID, string(t.Aspect), t.Width, t.Height, t.ImagePath, nowEpoch())
}

// GetThumbnail returns the recorded thumbnail of one page from the pool,
// or nil if the page has never been rendered.
func (s *Store) GetThumbnail(ctx context.Context, pageID int64) (*models.Thumbnail, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT page_id, aspect, width, height, image_path, updated_at
		FROM thumbnails WHERE page_id = ?`, pageID)
	var t models.Thumbnail
	err := row.Scan(&t.PageID, &t.Aspect, &t.Width, &t.Height, &t.ImagePath, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ThumbnailForPage reads through the writer so the image embedding
// pipeline sees thumbnails rendered earlier in the same run.
func (s *Store) ThumbnailForPage(ctx context.Context, pageID int64) (*models.Thumbnail, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	row := s.writer.QueryRowContext(ctx, `
		SELECT page_id, aspect, width, height, image_path, updated_at
		FROM thumbnails WHERE page_id = ?`, pageID)
	var t models.Thumbnail
	err := row.Scan(&t.PageID, &t.Aspect, &t.Width, &t.Height, &t.ImagePath, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
