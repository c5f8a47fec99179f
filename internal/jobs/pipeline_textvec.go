package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/lectern/internal/catalog"
	"github.com/ternarybob/lectern/internal/embeddings"
	"github.com/ternarybob/lectern/internal/models"
	"github.com/ternarybob/lectern/internal/ratelimit"
)

// runTextVecPipeline embeds normalized page text. Pages with no text
// get a zero vector without a provider call; pages whose fingerprint is
// already in the cache just link to it. Everything else goes out in
// batches under the job's dual token bucket.
func (m *Manager) runTextVecPipeline(ctx context.Context, r *run, cp *checkpointer) error {
	taskID, ok := r.tasks[models.TaskTextVec]
	if !ok {
		return nil
	}

	rows, err := r.store.QueuedEmbedWork(ctx)
	if err != nil {
		return err
	}
	r.store.StartTask(ctx, taskID)

	limiter := ratelimit.NewDualBucket(r.opts.Embed.ReqPerMin, r.opts.Embed.TokPerMin)
	model := r.opts.Embed.ModelText
	total := len(rows)
	processed := 0

	done := func(row catalog.EmbedRow, status models.ArtifactStatus) error {
		m.publishArtifact(r, row.WorkItem, models.ArtifactTextVec, status)
		processed++
		r.store.TouchTask(ctx, taskID, row.PageID, row.FileID, float64(processed)/float64(total))
		return cp.tick(ctx)
	}

	var batch []catalog.EmbedRow
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		defer func() { batch = batch[:0] }()

		texts := make([]string, len(batch))
		tokens := 0
		for i, row := range batch {
			texts[i] = row.NormText
			tokens += embeddings.EstimateTokens(row.NormText)
			if err := r.store.MarkArtifactRunning(ctx, row.PageID, models.ArtifactTextVec); err != nil {
				return err
			}
		}
		// Provider calls are suspension points: commit so control-plane
		// writes are not blocked behind the writer while we wait.
		if err := r.store.Commit(ctx); err != nil {
			return err
		}
		if err := limiter.Acquire(ctx, 1, tokens); err != nil {
			return err
		}

		var vectors [][]float32
		var callErr error
		for attempt := 0; ; attempt++ {
			vectors, callErr = m.provider.EmbedBatch(ctx, model, texts)
			if callErr == nil {
				break
			}
			if attempt+1 >= r.opts.Embed.MaxRetries {
				break
			}
			m.logger.Warn().Err(callErr).
				Str("job_id", r.jobID).
				Int("attempt", attempt+1).
				Msg("Embedding batch failed, retrying")
			time.Sleep(ratelimit.Backoff(attempt))
			if r.cancelled.Load() {
				return errCancelled
			}
		}
		if err := r.store.Begin(ctx); err != nil {
			return err
		}

		if callErr != nil {
			for _, row := range batch {
				if err := r.store.MarkArtifactError(ctx, row.PageID, models.ArtifactTextVec,
					models.ErrCodeEmbed, callErr.Error()); err != nil {
					return err
				}
				if err := done(row, models.ArtifactError); err != nil {
					return err
				}
			}
			return nil
		}

		for i, row := range batch {
			sig := row.TextSig
			if sig == "" {
				sig = fmt.Sprintf("__nosig__:%d:%d", row.PageID, time.Now().Unix())
			}
			vec := vectors[i]
			if err := r.store.PutTextVector(ctx, model, sig, len(vec), embeddings.PackF32(vec)); err != nil {
				return err
			}
			if err := r.store.LinkPageTextEmbedding(ctx, row.PageID, model, sig); err != nil {
				return err
			}
			if err := r.store.MarkArtifactReady(ctx, row.PageID, models.ArtifactTextVec); err != nil {
				return err
			}
			if err := done(row, models.ArtifactReady); err != nil {
				return err
			}
		}
		return nil
	}

	for _, row := range rows {
		if err := m.pageBoundary(ctx, r); err != nil {
			return err
		}

		// Empty page: a zero vector under a per-page sentinel key, no
		// provider call.
		if row.NormText == "" {
			if err := r.store.MarkArtifactRunning(ctx, row.PageID, models.ArtifactTextVec); err != nil {
				return err
			}
			sentinel := fmt.Sprintf("__zero__:%d:%d", row.PageID, time.Now().Unix())
			blob := embeddings.PackF32(embeddings.ZeroVector(embeddings.DefaultTextDim))
			if err := r.store.PutTextVector(ctx, model, sentinel, embeddings.DefaultTextDim, blob); err != nil {
				return err
			}
			if err := r.store.LinkPageTextEmbedding(ctx, row.PageID, model, sentinel); err != nil {
				return err
			}
			if err := r.store.MarkArtifactReady(ctx, row.PageID, models.ArtifactTextVec); err != nil {
				return err
			}
			if err := done(row, models.ArtifactReady); err != nil {
				return err
			}
			continue
		}

		// Cache hit: link only, no provider call.
		if row.TextSig != "" {
			dim, _, err := r.store.GetCachedTextVector(ctx, model, row.TextSig)
			if err != nil {
				return err
			}
			if dim > 0 {
				if err := r.store.LinkPageTextEmbedding(ctx, row.PageID, model, row.TextSig); err != nil {
					return err
				}
				if err := r.store.MarkArtifactReady(ctx, row.PageID, models.ArtifactTextVec); err != nil {
					return err
				}
				if err := done(row, models.ArtifactReady); err != nil {
					return err
				}
				continue
			}
		}

		batch = append(batch, row)
		if len(batch) >= r.opts.Embed.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	r.store.FinishTask(ctx, taskID, models.TaskSucceeded, "ok")
	return nil
}
