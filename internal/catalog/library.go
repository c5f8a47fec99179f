package catalog

import (
	"context"
	"database/sql"

	"github.com/ternarybob/lectern/internal/models"
)

// StatusCounts maps artifact kind to a status histogram.
type StatusCounts map[models.ArtifactKind]map[models.ArtifactStatus]int

func (c StatusCounts) add(kind models.ArtifactKind, status models.ArtifactStatus, n int) {
	m, ok := c[kind]
	if !ok {
		m = make(map[models.ArtifactStatus]int)
		c[kind] = m
	}
	m[status] += n
}

// LibrarySummary aggregates file, page and artifact counts, optionally
// filtered to files whose path starts with rootPrefix.
type LibrarySummary struct {
	Files     int          `json:"files"`
	Pages     int          `json:"pages"`
	Artifacts StatusCounts `json:"artifacts"`
}

// Summary computes a LibrarySummary from the pool. An empty rootPrefix
// means the whole catalog.
func (s *Store) Summary(ctx context.Context, rootPrefix string) (*LibrarySummary, error) {
	where := ""
	var args []any
	if rootPrefix != "" {
		where = " WHERE f.path LIKE ? ESCAPE '\\'"
		args = append(args, likePrefix(rootPrefix))
	}

	out := &LibrarySummary{Artifacts: make(StatusCounts)}
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files f`+where, args...)
	if err := row.Scan(&out.Files); err != nil {
		return nil, err
	}
	row = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pages p JOIN files f ON f.file_id = p.file_id`+where, args...)
	if err := row.Scan(&out.Pages); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.kind, a.status, COUNT(*)
		FROM artifacts a
		JOIN pages p ON p.page_id = a.page_id
		JOIN files f ON f.file_id = p.file_id`+where+`
		GROUP BY a.kind, a.status`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var kind, status string
		var n int
		if err := rows.Scan(&kind, &status, &n); err != nil {
			return nil, err
		}
		out.Artifacts.add(models.ArtifactKind(kind), models.ArtifactStatus(status), n)
	}
	return out, rows.Err()
}

// FileSummary is one library file with its artifact-status histogram.
type FileSummary struct {
	models.File
	Artifacts StatusCounts `json:"artifacts"`
}

// ListFiles returns per-file rows with aggregated artifact counts,
// optionally filtered by path prefix.
func (s *Store) ListFiles(ctx context.Context, rootPrefix string) ([]FileSummary, error) {
	where := ""
	var args []any
	if rootPrefix != "" {
		where = " WHERE path LIKE ? ESCAPE '\\'"
		args = append(args, likePrefix(rootPrefix))
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_id, path, size_bytes, mtime_epoch, slide_aspect, slide_count,
		       COALESCE(last_scanned_at, 0), COALESCE(scan_error, '')
		FROM files`+where+` ORDER BY path`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []FileSummary
	index := make(map[int64]int)
	for rows.Next() {
		var f FileSummary
		if err := rows.Scan(&f.FileID, &f.Path, &f.SizeBytes, &f.MtimeEpoch,
			&f.SlideAspect, &f.SlideCount, &f.LastScannedAt, &f.ScanError); err != nil {
			return nil, err
		}
		f.Artifacts = make(StatusCounts)
		index[f.FileID] = len(files)
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	crows, err := s.db.QueryContext(ctx, `
		SELECT p.file_id, a.kind, a.status, COUNT(*)
		FROM artifacts a JOIN pages p ON p.page_id = a.page_id
		GROUP BY p.file_id, a.kind, a.status`)
	if err != nil {
		return nil, err
	}
	defer crows.Close()
	for crows.Next() {
		var fileID int64
		var kind, status string
		var n int
		if err := crows.Scan(&fileID, &kind, &status, &n); err != nil {
			return nil, err
		}
		if i, ok := index[fileID]; ok {
			files[i].Artifacts.add(models.ArtifactKind(kind), models.ArtifactStatus(status), n)
		}
	}
	return files, crows.Err()
}

// PageSummary is one page row decorated for the library browser: its
// artifact states, a short text excerpt, and the thumbnail path if any.
type PageSummary struct {
	models.Page
	Artifacts map[models.ArtifactKind]models.ArtifactStatus `json:"artifacts"`
	Excerpt   string                                        `json:"excerpt"`
	ThumbPath string                                        `json:"thumb_path,omitempty"`
}

// ListPages returns a file's pages with artifact states, a 140-char
// excerpt of the normalized text, and the thumbnail path.
func (s *Store) ListPages(ctx context.Context, fileID int64) ([]PageSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.page_id, p.file_id, p.page_no, p.aspect,
		       p.source_size_bytes, p.source_mtime_epoch, p.created_at,
		       COALESCE(t.norm_text, ''), COALESCE(th.image_path, '')
		FROM pages p
		LEFT JOIN page_text t ON t.page_id = p.page_id
		LEFT JOIN thumbnails th ON th.page_id = p.page_id
		WHERE p.file_id = ? ORDER BY p.page_no`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []PageSummary
	index := make(map[int64]int)
	for rows.Next() {
		var p PageSummary
		var norm string
		if err := rows.Scan(&p.PageID, &p.FileID, &p.PageNo, &p.Aspect,
			&p.SourceSizeBytes, &p.SourceMtimeEpoch, &p.CreatedAt,
			&norm, &p.ThumbPath); err != nil {
			return nil, err
		}
		p.Excerpt = excerpt(norm, 140)
		p.Artifacts = make(map[models.ArtifactKind]models.ArtifactStatus)
		index[p.PageID] = len(pages)
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	arows, err := s.db.QueryContext(ctx, `
		SELECT a.page_id, a.kind, a.status
		FROM artifacts a JOIN pages p ON p.page_id = a.page_id
		WHERE p.file_id = ?`, fileID)
	if err != nil {
		return nil, err
	}
	defer arows.Close()
	for arows.Next() {
		var pageID int64
		var kind, status string
		if err := arows.Scan(&pageID, &kind, &status); err != nil {
			return nil, err
		}
		if i, ok := index[pageID]; ok {
			pages[i].Artifacts[models.ArtifactKind(kind)] = models.ArtifactStatus(status)
		}
	}
	return pages, arows.Err()
}

// PageDetail is the full state of one page.
type PageDetail struct {
	models.Page
	FilePath  string            `json:"file_path"`
	RawText   string            `json:"raw_text"`
	NormText  string            `json:"norm_text"`
	TextSig   string            `json:"text_sig"`
	Artifacts []models.Artifact `json:"artifacts"`
	Thumbnail *models.Thumbnail `json:"thumbnail,omitempty"`
}

// GetPageDetail returns the full state of one page, or nil when unknown.
func (s *Store) GetPageDetail(ctx context.Context, pageID int64) (*PageDetail, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT p.page_id, p.file_id, p.page_no, p.aspect,
		       p.source_size_bytes, p.source_mtime_epoch, p.created_at, f.path,
		       COALESCE(t.raw_text, ''), COALESCE(t.norm_text, ''), COALESCE(t.text_sig, '')
		FROM pages p
		JOIN files f ON f.file_id = p.file_id
		LEFT JOIN page_text t ON t.page_id = p.page_id
		WHERE p.page_id = ?`, pageID)

	var d PageDetail
	err := row.Scan(&d.PageID, &d.FileID, &d.PageNo, &d.Aspect,
		&d.SourceSizeBytes, &d.SourceMtimeEpoch, &d.CreatedAt, &d.FilePath,
		&d.RawText, &d.NormText, &d.TextSig)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	arows, err := s.db.QueryContext(ctx, `
		SELECT page_id, kind, status, updated_at, attempts,
		       COALESCE(error_code, ''), COALESCE(error_message, ''), COALESCE(params_json, '')
		FROM artifacts WHERE page_id = ? ORDER BY kind`, pageID)
	if err != nil {
		return nil, err
	}
	defer arows.Close()
	for arows.Next() {
		var a models.Artifact
		if err := arows.Scan(&a.PageID, &a.Kind, &a.Status, &a.UpdatedAt, &a.Attempts,
			&a.ErrorCode, &a.ErrorMessage, &a.ParamsJSON); err != nil {
			return nil, err
		}
		d.Artifacts = append(d.Artifacts, a)
	}
	if err := arows.Err(); err != nil {
		return nil, err
	}

	thumb, err := s.GetThumbnail(ctx, pageID)
	if err != nil {
		return nil, err
	}
	d.Thumbnail = thumb
	return &d, nil
}

// likePrefix escapes LIKE metacharacters so a filesystem prefix matches
// literally.
func likePrefix(prefix string) string {
	out := make([]byte, 0, len(prefix)+8)
	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		if c == '%' || c == '_' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out) + "%"
}

// excerpt returns at most max runes of s.
func excerpt(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
