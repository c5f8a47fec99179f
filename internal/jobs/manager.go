package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/lectern/internal/catalog"
	"github.com/ternarybob/lectern/internal/common"
	"github.com/ternarybob/lectern/internal/embeddings"
	"github.com/ternarybob/lectern/internal/events"
	"github.com/ternarybob/lectern/internal/imagevec"
	"github.com/ternarybob/lectern/internal/models"
	"github.com/ternarybob/lectern/internal/pdfconvert"
	"github.com/ternarybob/lectern/internal/thumbs"
)

// ErrLibraryRootNotFound is returned when a job names a root that is
// missing or not a directory; the API maps it to a 400.
var ErrLibraryRootNotFound = errors.New("library_root_not_found")

// errCancelled unwinds a run loop after the cancel flag is observed.
var errCancelled = errors.New("job cancelled")

// watchdogStale is how old a running task's heartbeat may grow before
// the watchdog kills it.
const watchdogStale = 30 * time.Second

// run is the in-process state of one job: its catalog, pause gate,
// cancel flag and the tasks the planner created.
type run struct {
	jobID     string
	root      string
	opts      models.JobOptions
	store     *catalog.Store
	gate      *gate
	cancelled atomic.Bool
	tasks     map[models.TaskKind]int64
}

// thumbRenderer abstracts the per-file page rasterizer so tests can
// substitute one that needs no native PDF library.
type thumbRenderer interface {
	PageCount() int
	RenderPage(pageNo, dpi, width, height int, outPath string) error
	Close() error
}

// Manager owns job execution: one catalog per library root, one run
// loop active at a time, a shared event bus, and the task watchdog.
type Manager struct {
	logger   arbor.ILogger
	bus      *events.Bus
	validate *validator.Validate
	provider embeddings.Provider

	mu     sync.Mutex
	stores map[string]*catalog.Store
	runs   map[string]*run

	sem  chan struct{}
	cron *cron.Cron

	// Seams for the external tools, replaced in tests.
	convert           func(ctx context.Context, opts models.PDFOptions, input, outDir string, fileID int64) (string, error)
	openRenderer      func(path string) (thumbRenderer, error)
	openImageEmbedder func(modelPath string) (imagevec.Embedder, error)
}

func NewManager(logger arbor.ILogger, bus *events.Bus, provider embeddings.Provider) *Manager {
	m := &Manager{
		logger:   logger,
		bus:      bus,
		validate: validator.New(),
		provider: provider,
		stores:   make(map[string]*catalog.Store),
		runs:     make(map[string]*run),
		sem:      make(chan struct{}, 1),
		cron:     cron.New(),
	}
	m.convert = func(ctx context.Context, opts models.PDFOptions, input, outDir string, fileID int64) (string, error) {
		conv := pdfconvert.New(logger, time.Duration(opts.TimeoutSec)*time.Second, opts.Prefer)
		return conv.Convert(ctx, input, outDir, fileID)
	}
	m.openRenderer = func(path string) (thumbRenderer, error) {
		return thumbs.OpenPDF(path)
	}
	m.openImageEmbedder = func(modelPath string) (imagevec.Embedder, error) {
		return imagevec.Open(modelPath, logger)
	}

	m.cron.AddFunc("@every 2s", m.watchdogSweep)
	m.cron.Start()
	return m
}

// Close stops the watchdog and closes every open catalog.
func (m *Manager) Close() {
	m.cron.Stop()
	m.mu.Lock()
	defer m.mu.Unlock()
	for root, store := range m.stores {
		if err := store.Close(); err != nil {
			m.logger.Warn().Err(err).Str("root", root).Msg("Failed to close catalog")
		}
	}
	m.stores = make(map[string]*catalog.Store)
}

func (m *Manager) Bus() *events.Bus {
	return m.bus
}

// CatalogFor opens (or reuses) the catalog of a library root.
func (m *Manager) CatalogFor(libraryRoot string) (*catalog.Store, error) {
	root, err := resolveRoot(libraryRoot)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if store, ok := m.stores[root]; ok {
		return store, nil
	}
	store, err := catalog.Open(common.DatabasePath(root), m.logger)
	if err != nil {
		return nil, err
	}
	m.stores[root] = store
	return store, nil
}

// CreateJob validates the request, records the job in CREATED state and
// starts its run loop. The loop itself serializes on the process-wide
// single-run semaphore.
func (m *Manager) CreateJob(ctx context.Context, libraryRoot string, opts models.JobOptions) (string, error) {
	root, err := resolveRoot(libraryRoot)
	if err != nil {
		return "", err
	}
	if err := m.validate.Struct(opts); err != nil {
		return "", fmt.Errorf("invalid options: %w", err)
	}
	store, err := m.CatalogFor(root)
	if err != nil {
		return "", err
	}

	optionsJSON, err := json.Marshal(opts)
	if err != nil {
		return "", err
	}
	jobID := common.NewJobID()
	job := models.Job{
		JobID:       jobID,
		LibraryRoot: root,
		CreatedAt:   time.Now().Unix(),
		Status:      models.JobCreated,
		OptionsJSON: string(optionsJSON),
	}
	if err := store.CreateJob(ctx, job); err != nil {
		return "", err
	}

	r := &run{
		jobID: jobID,
		root:  root,
		opts:  opts,
		store: store,
		gate:  newGate(),
		tasks: make(map[models.TaskKind]int64),
	}
	m.mu.Lock()
	m.runs[jobID] = r
	m.mu.Unlock()

	m.logger.Info().Str("job_id", jobID).Str("root", root).Msg("Job created")
	m.bus.Publish(jobID, models.EventJobCreated, map[string]any{"library_root": root})

	go m.execute(r)
	return jobID, nil
}

// Pause suspends a job at its next page boundary. Unknown or finished
// jobs are a no-op.
func (m *Manager) Pause(ctx context.Context, jobID string) {
	r, job := m.lookup(ctx, jobID)
	if r == nil || job == nil || job.Status.Terminal() {
		return
	}
	r.gate.pause()
	r.store.SetJobStatus(ctx, jobID, models.JobPaused)
	m.bus.Publish(jobID, models.EventJobPaused, nil)
}

// Resume reopens the pause gate.
func (m *Manager) Resume(ctx context.Context, jobID string) {
	r, job := m.lookup(ctx, jobID)
	if r == nil || job == nil || job.Status.Terminal() {
		return
	}
	r.gate.resume()
	r.store.SetJobStatus(ctx, jobID, models.JobRunning)
	m.bus.Publish(jobID, models.EventJobResumed, nil)
}

// Cancel sets the level-triggered cancel flag. The gate is reopened so
// a paused run can observe it; the run loop finalizes the job.
func (m *Manager) Cancel(ctx context.Context, jobID string) {
	r, job := m.lookup(ctx, jobID)
	if r == nil || job == nil || job.Status.Terminal() {
		return
	}
	r.cancelled.Store(true)
	r.gate.resume()
	r.store.SetJobStatus(ctx, jobID, models.JobCancelRequested)
	m.bus.Publish(jobID, models.EventJobCancelRequested, nil)
}

// NowRunning describes the task a job is currently executing.
type NowRunning struct {
	TaskID   int64           `json:"task_id"`
	Kind     models.TaskKind `json:"kind"`
	Message  string          `json:"message"`
	Progress float64         `json:"progress"`
	PageID   int64           `json:"page_id,omitempty"`
	FileID   int64           `json:"file_id,omitempty"`
	PageNo   int             `json:"page_no,omitempty"`
	FilePath string          `json:"file_path,omitempty"`
}

// Snapshot is the full state of one job for the status endpoint.
type Snapshot struct {
	Job     models.Job
	Options models.JobOptions
	Stats   catalog.StatusCounts
	Running *NowRunning
}

// JobSnapshot assembles a job's status view, or nil when the job is
// unknown to this process.
func (m *Manager) JobSnapshot(ctx context.Context, jobID string) (*Snapshot, error) {
	r, job := m.lookup(ctx, jobID)
	if r == nil || job == nil {
		return nil, nil
	}

	var opts models.JobOptions
	if err := json.Unmarshal([]byte(job.OptionsJSON), &opts); err != nil {
		return nil, err
	}
	summary, err := r.store.Summary(ctx, "")
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Job: *job, Options: opts, Stats: summary.Artifacts}
	task, err := r.store.RunningTaskForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if task != nil {
		running := &NowRunning{
			TaskID:   task.TaskID,
			Kind:     task.Kind,
			Message:  task.Message,
			Progress: task.Progress,
			PageID:   task.PageID,
			FileID:   task.FileID,
		}
		if task.PageID > 0 {
			if page, err := r.store.GetPage(ctx, task.PageID); err == nil && page != nil {
				running.PageNo = page.PageNo
			}
		}
		if task.FileID > 0 {
			if file, err := r.store.GetFile(ctx, task.FileID); err == nil && file != nil {
				running.FilePath = file.Path
			}
		}
		snap.Running = running
	}
	return snap, nil
}

func (m *Manager) lookup(ctx context.Context, jobID string) (*run, *models.Job) {
	m.mu.Lock()
	r, ok := m.runs[jobID]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		m.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to read job row")
		return r, nil
	}
	return r, job
}

// execute is the job run loop: plan, run the pipelines in order, then
// finalize. It owns the single-run semaphore for its whole duration.
func (m *Manager) execute(r *run) {
	m.sem <- struct{}{}
	defer func() { <-m.sem }()

	ctx := context.Background()

	r.store.MarkJobStarted(ctx, r.jobID, models.JobPlanning)
	m.bus.Publish(r.jobID, models.EventJobPlanningStarted, nil)

	if err := r.store.Begin(ctx); err != nil {
		m.finalize(ctx, r, err)
		return
	}
	planOutcome, err := m.plan(ctx, r)
	if cerr := r.store.Commit(ctx); err == nil {
		err = cerr
	}
	if err != nil {
		m.logger.Error().Err(err).Str("job_id", r.jobID).Msg("Planning failed")
		r.store.FinishJob(ctx, r.jobID, models.JobFailed)
		m.bus.Publish(r.jobID, models.EventJobFailed, map[string]any{"error": err.Error()})
		return
	}
	m.bus.Publish(r.jobID, models.EventJobPlanningFinished, planOutcome)

	if r.cancelled.Load() {
		m.finalize(ctx, r, errCancelled)
		return
	}

	r.store.MarkJobStarted(ctx, r.jobID, models.JobRunning)
	m.bus.Publish(r.jobID, models.EventJobStarted, nil)

	m.finalize(ctx, r, m.runPipelines(ctx, r))
}

func (m *Manager) runPipelines(ctx context.Context, r *run) error {
	if err := r.store.Begin(ctx); err != nil {
		return err
	}
	cp := newCheckpointer(r.store, r.opts.CommitEveryPages, r.opts.CommitEverySec)

	stages := []func(context.Context, *run, *checkpointer) error{
		m.runTextPipeline,
		m.runTextVecPipeline,
		m.runThumbPipeline,
		m.runImgVecPipeline,
	}
	for _, stage := range stages {
		if err := stage(ctx, r, cp); err != nil {
			r.store.Commit(ctx)
			return err
		}
	}
	return r.store.Commit(ctx)
}

// finalize drives the job to its terminal state and emits the closing
// event. On cancellation every pending task and artifact is marked
// CANCELLED so nothing is left half-open.
func (m *Manager) finalize(ctx context.Context, r *run, err error) {
	switch {
	case errors.Is(err, errCancelled) || r.cancelled.Load():
		r.store.CancelPendingTasks(ctx, r.jobID)
		r.store.CancelPendingArtifacts(ctx)
		r.store.FinishJob(ctx, r.jobID, models.JobCancelled)
		m.bus.Publish(r.jobID, models.EventJobCancelled, nil)
		m.logger.Info().Str("job_id", r.jobID).Msg("Job cancelled")
	case err != nil:
		r.store.FinishJob(ctx, r.jobID, models.JobFailed)
		m.bus.Publish(r.jobID, models.EventJobFailed, map[string]any{"error": err.Error()})
		m.logger.Error().Err(err).Str("job_id", r.jobID).Msg("Job failed")
	default:
		r.store.FinishJob(ctx, r.jobID, models.JobCompleted)
		m.bus.Publish(r.jobID, models.EventJobCompleted, nil)
		m.logger.Info().Str("job_id", r.jobID).Msg("Job completed")
	}
}

// pageBoundary is the cooperative suspension point: it observes the
// cancel flag and waits out a pause before the next unit of work.
func (m *Manager) pageBoundary(ctx context.Context, r *run) error {
	if r.cancelled.Load() {
		return errCancelled
	}
	if err := r.gate.wait(ctx); err != nil {
		return err
	}
	if r.cancelled.Load() {
		return errCancelled
	}
	return nil
}

// publishArtifact emits an artifact_state_changed event.
func (m *Manager) publishArtifact(r *run, item catalog.WorkItem, kind models.ArtifactKind, status models.ArtifactStatus) {
	m.bus.Publish(r.jobID, models.EventArtifactChanged, map[string]any{
		"page_id": item.PageID,
		"kind":    string(kind),
		"status":  string(status),
		"file":    item.Path,
		"page_no": item.PageNo,
	})
}

// watchdogSweep kills RUNNING tasks whose heartbeat went stale.
func (m *Manager) watchdogSweep() {
	ctx := context.Background()
	cutoff := time.Now().Add(-watchdogStale).Unix()

	m.mu.Lock()
	stores := make([]*catalog.Store, 0, len(m.stores))
	for _, store := range m.stores {
		stores = append(stores, store)
	}
	m.mu.Unlock()

	for _, store := range stores {
		stale, err := store.StaleRunningTasks(ctx, cutoff)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Watchdog scan failed")
			continue
		}
		for _, task := range stale {
			m.logger.Warn().
				Str("job_id", task.JobID).
				Int64("task_id", task.TaskID).
				Str("kind", string(task.Kind)).
				Msg("Killing task with stale heartbeat")
			store.KillTask(ctx, task.TaskID, models.ErrCodeWatchdogTimeout, "task heartbeat timeout")
			m.bus.Publish(task.JobID, models.EventTaskError, map[string]any{
				"task_id":    task.TaskID,
				"kind":       string(task.Kind),
				"error_code": models.ErrCodeWatchdogTimeout,
			})
		}
	}
}

func resolveRoot(libraryRoot string) (string, error) {
	root, err := filepath.Abs(libraryRoot)
	if err != nil {
		return "", ErrLibraryRootNotFound
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return "", ErrLibraryRootNotFound
	}
	// Resolve symlinks so the planner's root-prefix test compares
	// canonical paths on both sides.
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	return root, nil
}
