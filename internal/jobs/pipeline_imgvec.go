package jobs

import (
	"context"
	"os"

	"github.com/ternarybob/lectern/internal/catalog"
	"github.com/ternarybob/lectern/internal/common"
	"github.com/ternarybob/lectern/internal/embeddings"
	"github.com/ternarybob/lectern/internal/models"
)

// runImgVecPipeline embeds rendered thumbnails with the local model.
// A missing model asset degrades the whole pipeline to SKIPPED; a page
// without a thumbnail degrades that page to SKIPPED; only inference
// failures are errors.
func (m *Manager) runImgVecPipeline(ctx context.Context, r *run, cp *checkpointer) error {
	taskID, ok := r.tasks[models.TaskImgVec]
	if !ok {
		return nil
	}

	items, err := r.store.QueuedWork(ctx, models.ArtifactImgVec)
	if err != nil {
		return err
	}
	r.store.StartTask(ctx, taskID)

	skipAll := func(message string) error {
		for _, it := range items {
			if err := r.store.MarkArtifactSkipped(ctx, it.PageID, models.ArtifactImgVec,
				models.ErrCodeImgVecSkipped, message); err != nil {
				return err
			}
			m.publishArtifact(r, it, models.ArtifactImgVec, models.ArtifactSkipped)
		}
		r.store.FinishTask(ctx, taskID, models.TaskSkipped, message)
		return nil
	}

	modelPath := common.ModelAssetPath(r.root)
	if _, err := os.Stat(modelPath); err != nil {
		m.logger.Info().Str("model", modelPath).Msg("Image embedding model not installed, skipping")
		return skipAll("image embedding model not installed")
	}
	embedder, err := m.openImageEmbedder(modelPath)
	if err != nil {
		m.logger.Warn().Err(err).Str("model", modelPath).Msg("Image embedding model failed to load, skipping")
		return skipAll("image embedding model failed to load: " + err.Error())
	}
	defer embedder.Close()

	model := r.opts.Embed.ModelImage
	total := len(items)
	for i, it := range items {
		if err := m.pageBoundary(ctx, r); err != nil {
			return err
		}

		advance := func(row catalog.WorkItem, status models.ArtifactStatus) error {
			m.publishArtifact(r, row, models.ArtifactImgVec, status)
			r.store.TouchTask(ctx, taskID, row.PageID, row.FileID, float64(i+1)/float64(total))
			return cp.tick(ctx)
		}

		thumb, err := r.store.ThumbnailForPage(ctx, it.PageID)
		if err != nil {
			return err
		}
		if thumb == nil {
			if err := r.store.MarkArtifactSkipped(ctx, it.PageID, models.ArtifactImgVec,
				models.ErrCodeThumbMissing, "no thumbnail for page"); err != nil {
				return err
			}
			if err := advance(it, models.ArtifactSkipped); err != nil {
				return err
			}
			continue
		}

		if err := r.store.MarkArtifactRunning(ctx, it.PageID, models.ArtifactImgVec); err != nil {
			return err
		}
		vec, ierr := embedder.EmbedImage(thumb.ImagePath)
		if ierr != nil {
			if err := r.store.MarkArtifactError(ctx, it.PageID, models.ArtifactImgVec,
				models.ErrCodeImgVec, ierr.Error()); err != nil {
				return err
			}
			if err := advance(it, models.ArtifactError); err != nil {
				return err
			}
			continue
		}

		if err := r.store.PutPageImageEmbedding(ctx, it.PageID, model, len(vec), embeddings.PackF32(vec)); err != nil {
			return err
		}
		if err := r.store.MarkArtifactReady(ctx, it.PageID, models.ArtifactImgVec); err != nil {
			return err
		}
		if err := advance(it, models.ArtifactReady); err != nil {
			return err
		}
	}

	r.store.FinishTask(ctx, taskID, models.TaskSucceeded, "ok")
	return nil
}
