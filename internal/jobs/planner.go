package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/lectern/internal/models"
	"github.com/ternarybob/lectern/internal/pptx"
)

// maxSkipExamples bounds how many paths each skip bucket keeps for the
// planning report.
const maxSkipExamples = 20

type skipRecorder struct {
	counts   map[string]int
	examples map[string][]string
}

func newSkipRecorder() *skipRecorder {
	return &skipRecorder{
		counts:   make(map[string]int),
		examples: make(map[string][]string),
	}
}

func (s *skipRecorder) record(bucket, path string) {
	s.counts[bucket]++
	if len(s.examples[bucket]) < maxSkipExamples {
		s.examples[bucket] = append(s.examples[bucket], path)
	}
}

// resolvePath normalizes a candidate path for the root-prefix test:
// absolute with symlinks resolved, so a link under the root cannot
// point a job at a file outside it. A path that does not exist keeps
// its absolute form and is bucketed as missing by the stat below.
func resolvePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

// plan scans the candidate files, upserts catalog rows, queues the
// artifacts that need (re)computation, and creates one task per
// pipeline that has work. Runs inside the planner's checkpoint
// transaction; the caller commits. Returns the planning-report payload.
func (m *Manager) plan(ctx context.Context, r *run) (map[string]any, error) {
	opts := r.opts
	store := r.store
	skips := newSkipRecorder()

	allowed := make(map[string]bool)
	for _, p := range opts.FilePaths {
		if abs, err := resolvePath(p); err == nil {
			allowed[abs] = true
		}
	}

	// Candidate sources, in preference order: the client's scan
	// snapshots, else a fresh stat of the selected paths.
	var scans []models.FileScan
	var source string
	switch {
	case len(opts.FileScans) > 0:
		source = "file_scans"
		scans = opts.FileScans
	case len(opts.FilePaths) > 0:
		source = "scan"
		for _, p := range opts.FilePaths {
			abs, err := resolvePath(p)
			if err != nil {
				continue
			}
			info, err := os.Stat(abs)
			if err != nil {
				skips.record("missing_path", abs)
				continue
			}
			scans = append(scans, models.FileScan{
				Path:       abs,
				SizeBytes:  info.Size(),
				MtimeEpoch: info.ModTime().Unix(),
			})
		}
	default:
		return nil, errors.New("missing_frontend_scan_inputs")
	}

	queued := make(map[models.ArtifactKind]int)
	filesPlanned := 0
	pdfFileCount := 0

	for _, scan := range scans {
		path, err := resolvePath(scan.Path)
		if err != nil {
			skips.record("missing_path", scan.Path)
			continue
		}
		if strings.ToLower(filepath.Ext(path)) != ".pptx" {
			skips.record("non_pptx", path)
			continue
		}
		if !strings.HasPrefix(path, r.root+string(filepath.Separator)) {
			skips.record("outside_root", path)
			continue
		}
		if len(allowed) > 0 && !allowed[path] {
			skips.record("unselected_path", path)
			continue
		}
		if _, err := os.Stat(path); err != nil {
			skips.record("missing_path", path)
			continue
		}

		deck, err := pptx.OpenDeck(path)
		if err != nil {
			fileID, _, uerr := store.UpsertFile(ctx, path, scan.SizeBytes, scan.MtimeEpoch, models.AspectUnknown)
			if uerr != nil {
				return nil, uerr
			}
			store.SetFileScanError(ctx, fileID, err.Error())
			skips.record("parse_failed", path)
			continue
		}
		aspect := deck.Aspect()
		slideCount := deck.SlideCount()
		deck.Close()

		fileID, prev, err := store.UpsertFile(ctx, path, scan.SizeBytes, scan.MtimeEpoch, aspect)
		if err != nil {
			return nil, err
		}
		if slideCount == 0 {
			store.SetFileScanError(ctx, fileID, "presentation has no slides")
			skips.record("parse_failed", path)
			continue
		}
		if err := store.SetFileSlideCount(ctx, fileID, slideCount); err != nil {
			return nil, err
		}
		if err := store.EnsurePages(ctx, fileID, slideCount, aspect, scan.SizeBytes, scan.MtimeEpoch); err != nil {
			return nil, err
		}

		changed := prev == nil ||
			prev.SizeBytes != scan.SizeBytes ||
			prev.MtimeEpoch != scan.MtimeEpoch

		statuses, err := store.ArtifactStatusesForFile(ctx, fileID, slideCount)
		if err != nil {
			return nil, err
		}
		filesPlanned++
		thumbBefore := queued[models.ArtifactThumb]
		for pageID, byKind := range statuses {
			for _, kind := range models.AllArtifactKinds {
				if !kindEnabled(kind, opts) {
					continue
				}
				// Unchanged sources keep their terminal results; anything
				// else is queued for recomputation.
				if !changed && byKind[kind].TerminalSuccess() {
					continue
				}
				if err := store.QueueArtifact(ctx, pageID, kind, paramsFor(kind, opts, aspect)); err != nil {
					return nil, err
				}
				queued[kind]++
			}
		}
		if queued[models.ArtifactThumb] > thumbBefore {
			pdfFileCount++
		}
	}

	taskCounts := make(map[string]any)
	taskTotal := 0
	addTask := func(kind models.TaskKind, priority, count int) error {
		if count == 0 {
			return nil
		}
		taskID, err := store.CreateTask(ctx, r.jobID, kind, priority)
		if err != nil {
			return err
		}
		r.tasks[kind] = taskID
		taskCounts[string(kind)] = count
		taskTotal += count
		return nil
	}
	// The PDF task carries the highest priority so conversions appear
	// first in task listings; count is files, every other kind is pages.
	if err := addTask(models.TaskPDF, 10, pdfFileCount); err != nil {
		return nil, err
	}
	if err := addTask(models.TaskText, 0, queued[models.ArtifactText]); err != nil {
		return nil, err
	}
	if err := addTask(models.TaskBM25, 0, queued[models.ArtifactBM25]); err != nil {
		return nil, err
	}
	if err := addTask(models.TaskTextVec, 0, queued[models.ArtifactTextVec]); err != nil {
		return nil, err
	}
	if err := addTask(models.TaskThumb, 0, queued[models.ArtifactThumb]); err != nil {
		return nil, err
	}
	if err := addTask(models.TaskImgVec, 0, queued[models.ArtifactImgVec]); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("job_id", r.jobID).
		Int("files", filesPlanned).
		Int("task_total", taskTotal).
		Msg("Planning finished")

	return map[string]any{
		"files":       filesPlanned,
		"task_counts": taskCounts,
		"task_total":  taskTotal,
		"skipped": map[string]any{
			"source":   source,
			"counts":   skips.counts,
			"examples": skips.examples,
		},
	}, nil
}

func kindEnabled(kind models.ArtifactKind, opts models.JobOptions) bool {
	switch kind {
	case models.ArtifactText:
		return opts.EnableText
	case models.ArtifactBM25:
		return opts.EnableBM25 && opts.EnableText
	case models.ArtifactThumb:
		return opts.EnableThumb && opts.Thumb.Enabled && opts.PDF.Enabled
	case models.ArtifactTextVec:
		return opts.EnableTextVec && opts.Embed.EnabledText
	case models.ArtifactImgVec:
		return opts.EnableImgVec && opts.Embed.EnabledImage &&
			opts.EnableThumb && opts.Thumb.Enabled && opts.PDF.Enabled
	}
	return false
}

func paramsFor(kind models.ArtifactKind, opts models.JobOptions, aspect models.Aspect) string {
	switch kind {
	case models.ArtifactThumb:
		return fmt.Sprintf(`{"v":1,"w":%d,"h43":%d,"h169":%d,"aspect":%q}`,
			opts.Thumb.Width, opts.Thumb.Height4x3, opts.Thumb.Height16x9, aspect)
	case models.ArtifactTextVec:
		return fmt.Sprintf(`{"v":1,"model":%q}`, opts.Embed.ModelText)
	case models.ArtifactImgVec:
		return fmt.Sprintf(`{"v":1,"model":%q}`, opts.Embed.ModelImage)
	default:
		return `{"v":1}`
	}
}
