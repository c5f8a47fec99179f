package catalog

import (
	"context"
	"database/sql"

	"github.com/ternarybob/lectern/internal/models"
)

// UpsertPageText stores the extracted text of one page, replacing any
// previous extraction.
func (s *Store) UpsertPageText(ctx context.Context, pageID int64, raw, norm, sig string) error {
	return s.exec(ctx, `
		INSERT INTO page_text (page_id, raw_text, norm_text, text_sig, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(page_id) DO UPDATE SET
			raw_text = excluded.raw_text,
			norm_text = excluded.norm_text,
			text_sig = excluded.text_sig,
			updated_at = excluded.updated_at`,
		pageID, raw, norm, sig, nowEpoch())
}

// GetPageText returns the stored text of one page from the pool, or nil.
func (s *Store) GetPageText(ctx context.Context, pageID int64) (*models.PageText, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT page_id, raw_text, norm_text, text_sig, updated_at
		FROM page_text WHERE page_id = ?`, pageID)
	var t models.PageText
	err := row.Scan(&t.PageID, &t.RawText, &t.NormText, &t.TextSig, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// PageTextNorm reads a page's normalized text and fingerprint through
// the writer; used by pipelines that depend on a same-run extraction.
func (s *Store) PageTextNorm(ctx context.Context, pageID int64) (string, string, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	row := s.writer.QueryRowContext(ctx, `
		SELECT norm_text, text_sig FROM page_text WHERE page_id = ?`, pageID)
	var norm, sig string
	err := row.Scan(&norm, &sig)
	if err == sql.ErrNoRows {
		return "", "", nil
	}
	if err != nil {
		return "", "", err
	}
	return norm, sig, nil
}

// UpsertFTS replaces the page's row in the full-text index. FTS5 has no
// upsert, so the old row is deleted first.
func (s *Store) UpsertFTS(ctx context.Context, pageID int64, normText string) error {
	if err := s.exec(ctx, `DELETE FROM fts_pages WHERE page_id = ?`, pageID); err != nil {
		return err
	}
	return s.exec(ctx, `INSERT INTO fts_pages (norm_text, page_id) VALUES (?, ?)`, normText, pageID)
}

// EmbedRow is one queued text_vec page with its normalized text.
// Pages never extracted (no page_text row) carry empty norm and sig.
type EmbedRow struct {
	WorkItem
	NormText string
	TextSig  string
}

// QueuedEmbedWork returns the QUEUED text_vec pages joined with their
// extracted text, in (file id, page ordinal) order.
func (s *Store) QueuedEmbedWork(ctx context.Context) ([]EmbedRow, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	rows, err := s.writer.QueryContext(ctx, `
		SELECT p.page_id, p.file_id, p.page_no, f.path, p.aspect,
		       COALESCE(t.norm_text, ''), COALESCE(t.text_sig, '')
		FROM artifacts a
		JOIN pages p ON p.page_id = a.page_id
		JOIN files f ON f.file_id = p.file_id
		LEFT JOIN page_text t ON t.page_id = p.page_id
		WHERE a.kind = ? AND a.status = ?
		ORDER BY p.file_id, p.page_no`,
		string(models.ArtifactTextVec), string(models.ArtifactQueued))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []EmbedRow
	for rows.Next() {
		var r EmbedRow
		if err := rows.Scan(&r.PageID, &r.FileID, &r.PageNo, &r.Path, &r.Aspect,
			&r.NormText, &r.TextSig); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}
