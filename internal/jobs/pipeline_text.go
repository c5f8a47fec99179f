package jobs

import (
	"context"

	"github.com/ternarybob/lectern/internal/catalog"
	"github.com/ternarybob/lectern/internal/models"
	"github.com/ternarybob/lectern/internal/pptx"
)

// runTextPipeline extracts slide text and maintains the full-text
// index. Failures are isolated per page: a corrupt slide marks its own
// artifacts ERROR and the pipeline moves on.
func (m *Manager) runTextPipeline(ctx context.Context, r *run, cp *checkpointer) error {
	textTask, hasText := r.tasks[models.TaskText]
	bmTask, hasBM := r.tasks[models.TaskBM25]
	if !hasText && !hasBM {
		return nil
	}

	items, err := r.store.QueuedWork(ctx, models.ArtifactText)
	if err != nil {
		return err
	}
	bmItems, err := r.store.QueuedWork(ctx, models.ArtifactBM25)
	if err != nil {
		return err
	}
	bmByPage := make(map[int64]catalog.WorkItem, len(bmItems))
	for _, it := range bmItems {
		bmByPage[it.PageID] = it
	}

	if hasText {
		r.store.StartTask(ctx, textTask)
	}
	if hasBM {
		r.store.StartTask(ctx, bmTask)
	}

	var deck *pptx.Deck
	deckPath := ""
	closeDeck := func() {
		if deck != nil {
			deck.Close()
			deck = nil
			deckPath = ""
		}
	}
	defer closeDeck()

	failPage := func(it catalog.WorkItem, msg string) error {
		if err := r.store.MarkArtifactError(ctx, it.PageID, models.ArtifactText, models.ErrCodeTextExtract, msg); err != nil {
			return err
		}
		m.publishArtifact(r, it, models.ArtifactText, models.ArtifactError)
		if _, queued := bmByPage[it.PageID]; queued {
			// No extraction means nothing to index.
			if err := r.store.MarkArtifactError(ctx, it.PageID, models.ArtifactBM25, models.ErrCodeTextExtract, msg); err != nil {
				return err
			}
			m.publishArtifact(r, it, models.ArtifactBM25, models.ArtifactError)
			delete(bmByPage, it.PageID)
		}
		return nil
	}

	total := len(items)
	for i, it := range items {
		if err := m.pageBoundary(ctx, r); err != nil {
			return err
		}
		if err := r.store.MarkArtifactRunning(ctx, it.PageID, models.ArtifactText); err != nil {
			return err
		}

		if deckPath != it.Path {
			closeDeck()
			d, derr := pptx.OpenDeck(it.Path)
			if derr != nil {
				if err := failPage(it, derr.Error()); err != nil {
					return err
				}
				continue
			}
			deck, deckPath = d, it.Path
		}

		raw, xerr := deck.SlideText(it.PageNo)
		if xerr != nil {
			if err := failPage(it, xerr.Error()); err != nil {
				return err
			}
			continue
		}
		norm := pptx.Normalize(raw)
		sig := pptx.Fingerprint(norm)

		if err := r.store.UpsertPageText(ctx, it.PageID, raw, norm, sig); err != nil {
			return err
		}
		if err := r.store.MarkArtifactReady(ctx, it.PageID, models.ArtifactText); err != nil {
			return err
		}
		m.publishArtifact(r, it, models.ArtifactText, models.ArtifactReady)

		if bmIt, queued := bmByPage[it.PageID]; queued {
			if err := r.store.UpsertFTS(ctx, it.PageID, norm); err != nil {
				return err
			}
			if err := r.store.MarkArtifactReady(ctx, it.PageID, models.ArtifactBM25); err != nil {
				return err
			}
			m.publishArtifact(r, bmIt, models.ArtifactBM25, models.ArtifactReady)
			delete(bmByPage, it.PageID)
		}

		if hasText {
			r.store.TouchTask(ctx, textTask, it.PageID, it.FileID, float64(i+1)/float64(total))
		}
		if err := cp.tick(ctx); err != nil {
			return err
		}
	}
	closeDeck()

	// bm25 rows whose text survived from an earlier run are indexed
	// from the stored normalized text.
	for _, it := range bmItems {
		if _, pending := bmByPage[it.PageID]; !pending {
			continue
		}
		if err := m.pageBoundary(ctx, r); err != nil {
			return err
		}
		norm, _, err := r.store.PageTextNorm(ctx, it.PageID)
		if err != nil {
			return err
		}
		if err := r.store.UpsertFTS(ctx, it.PageID, norm); err != nil {
			return err
		}
		if err := r.store.MarkArtifactReady(ctx, it.PageID, models.ArtifactBM25); err != nil {
			return err
		}
		m.publishArtifact(r, it, models.ArtifactBM25, models.ArtifactReady)
		if hasBM {
			r.store.TouchTask(ctx, bmTask, it.PageID, it.FileID, 1)
		}
		if err := cp.tick(ctx); err != nil {
			return err
		}
	}

	if hasText {
		r.store.FinishTask(ctx, textTask, models.TaskSucceeded, "ok")
	}
	if hasBM {
		r.store.FinishTask(ctx, bmTask, models.TaskSucceeded, "ok")
	}
	return nil
}
