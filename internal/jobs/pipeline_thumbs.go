package jobs

import (
	"context"
	"path/filepath"

	"github.com/ternarybob/lectern/internal/common"
	"github.com/ternarybob/lectern/internal/models"
	"github.com/ternarybob/lectern/internal/thumbs"
)

// runThumbPipeline converts each file to PDF, then renders a thumbnail
// per queued page. A failed conversion fails every dependent page of
// that file; other files are unaffected.
func (m *Manager) runThumbPipeline(ctx context.Context, r *run, cp *checkpointer) error {
	thumbTask, hasThumb := r.tasks[models.TaskThumb]
	pdfTask, hasPDF := r.tasks[models.TaskPDF]
	if !hasThumb && !hasPDF {
		return nil
	}

	items, err := r.store.QueuedWork(ctx, models.ArtifactThumb)
	if err != nil {
		return err
	}

	type fileRef struct {
		id   int64
		path string
	}
	var files []fileRef
	seen := make(map[int64]bool)
	for _, it := range items {
		if !seen[it.FileID] {
			seen[it.FileID] = true
			files = append(files, fileRef{id: it.FileID, path: it.Path})
		}
	}

	pdfPaths := make(map[int64]string, len(files))
	if hasPDF {
		r.store.StartTask(ctx, pdfTask)
		outDir := common.PDFCacheDir(r.root)
		for i, f := range files {
			if err := m.pageBoundary(ctx, r); err != nil {
				return err
			}
			// The subprocess is a suspension point: commit so the pause
			// and cancel endpoints can write job state meanwhile.
			if err := r.store.Commit(ctx); err != nil {
				return err
			}
			pdfPath, cerr := m.convert(ctx, r.opts.PDF, f.path, outDir, f.id)
			if err := r.store.Begin(ctx); err != nil {
				return err
			}
			if cerr != nil {
				m.logger.Warn().Err(cerr).Str("file", f.path).Msg("PDF conversion failed")
				if err := r.store.FailQueuedArtifactsForFile(ctx, f.id, models.ArtifactThumb,
					models.ErrCodePDFConvert, cerr.Error()); err != nil {
					return err
				}
			} else {
				pdfPaths[f.id] = pdfPath
			}
			r.store.TouchTask(ctx, pdfTask, 0, f.id, float64(i+1)/float64(len(files)))
			if err := cp.tick(ctx); err != nil {
				return err
			}
		}
		r.store.FinishTask(ctx, pdfTask, models.TaskSucceeded, "ok")
	}

	if !hasThumb {
		return nil
	}

	// Pages of failed conversions are ERROR now; work the rest.
	items, err = r.store.QueuedWork(ctx, models.ArtifactThumb)
	if err != nil {
		return err
	}
	r.store.StartTask(ctx, thumbTask)

	var rend thumbRenderer
	rendFile := int64(0)
	closeRenderer := func() {
		if rend != nil {
			rend.Close()
			rend = nil
			rendFile = 0
		}
	}
	defer closeRenderer()

	total := len(items)
	for i, it := range items {
		if err := m.pageBoundary(ctx, r); err != nil {
			return err
		}
		if err := r.store.MarkArtifactRunning(ctx, it.PageID, models.ArtifactThumb); err != nil {
			return err
		}

		fail := func(msg string) error {
			if err := r.store.MarkArtifactError(ctx, it.PageID, models.ArtifactThumb,
				models.ErrCodeThumb, msg); err != nil {
				return err
			}
			m.publishArtifact(r, it, models.ArtifactThumb, models.ArtifactError)
			return nil
		}

		pdfPath, converted := pdfPaths[it.FileID]
		if !converted {
			if err := fail("no converted pdf for file"); err != nil {
				return err
			}
			continue
		}
		if rendFile != it.FileID {
			closeRenderer()
			opened, oerr := m.openRenderer(pdfPath)
			if oerr != nil {
				if err := fail(oerr.Error()); err != nil {
					return err
				}
				continue
			}
			rend, rendFile = opened, it.FileID
		}

		width, height := thumbs.SizeFor(it.Aspect, r.opts.Thumb)
		outPath := filepath.Join(common.ThumbDir(r.root, it.FileID),
			thumbs.FileName(it.PageNo, it.Aspect, width, height))
		if rerr := rend.RenderPage(it.PageNo, r.opts.Thumb.RenderDPI, width, height, outPath); rerr != nil {
			if err := fail(rerr.Error()); err != nil {
				return err
			}
		} else {
			if err := r.store.UpsertThumbnail(ctx, models.Thumbnail{
				PageID:    it.PageID,
				Aspect:    it.Aspect,
				Width:     width,
				Height:    height,
				ImagePath: outPath,
			}); err != nil {
				return err
			}
			if err := r.store.MarkArtifactReady(ctx, it.PageID, models.ArtifactThumb); err != nil {
				return err
			}
			m.publishArtifact(r, it, models.ArtifactThumb, models.ArtifactReady)
		}

		r.store.TouchTask(ctx, thumbTask, it.PageID, it.FileID, float64(i+1)/float64(total))
		if err := cp.tick(ctx); err != nil {
			return err
		}
	}
	closeRenderer()

	r.store.FinishTask(ctx, thumbTask, models.TaskSucceeded, "ok")
	return nil
}
