package catalog

import (
	"context"
	"database/sql"
)

// GetCachedTextVector looks up a vector by (model, fingerprint) through
// the writer, so vectors cached earlier in the same run are found.
func (s *Store) GetCachedTextVector(ctx context.Context, model, textSig string) (int, []byte, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	row := s.writer.QueryRowContext(ctx, `
		SELECT dim, vector_blob FROM embedding_cache_text
		WHERE model = ? AND text_sig = ?`, model, textSig)
	var dim int
	var blob []byte
	err := row.Scan(&dim, &blob)
	if err == sql.ErrNoRows {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	return dim, blob, nil
}

// PutTextVector stores a vector in the shared cache. Re-inserting the
// same (model, fingerprint) is a no-op so concurrent jobs cannot clash.
func (s *Store) PutTextVector(ctx context.Context, model, textSig string, dim int, blob []byte) error {
	return s.exec(ctx, `
		INSERT OR IGNORE INTO embedding_cache_text (model, text_sig, dim, vector_blob, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		model, textSig, dim, blob, nowEpoch())
}

// LinkPageTextEmbedding points a page at its cached text vector.
func (s *Store) LinkPageTextEmbedding(ctx context.Context, pageID int64, model, textSig string) error {
	return s.exec(ctx, `
		INSERT INTO page_text_embedding (page_id, model, text_sig, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(page_id) DO UPDATE SET
			model = excluded.model,
			text_sig = excluded.text_sig,
			updated_at = excluded.updated_at`,
		pageID, model, textSig, nowEpoch())
}

// PutPageImageEmbedding stores a page's image vector inline; image
// vectors are per page and never shared, so there is no cache tier.
func (s *Store) PutPageImageEmbedding(ctx context.Context, pageID int64, model string, dim int, blob []byte) error {
	return s.exec(ctx, `
		INSERT INTO page_image_embedding (page_id, model, dim, vector_blob, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(page_id) DO UPDATE SET
			model = excluded.model,
			dim = excluded.dim,
			vector_blob = excluded.vector_blob,
			updated_at = excluded.updated_at`,
		pageID, model, dim, blob, nowEpoch())
}
