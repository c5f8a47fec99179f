package jobs

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/lectern/internal/catalog"
	"github.com/ternarybob/lectern/internal/events"
	"github.com/ternarybob/lectern/internal/models"
)

// writeDeck drops a minimal presentation archive into dir.
func writeDeck(t *testing.T, dir, name string, slides ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("ppt/presentation.xml")
	require.NoError(t, err)
	fmt.Fprint(w, `<?xml version="1.0"?>`+
		`<p:presentation xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">`+
		`<p:sldSz cx="12192000" cy="6858000"/></p:presentation>`)
	for i, body := range slides {
		w, err := zw.Create(fmt.Sprintf("ppt/slides/slide%d.xml", i+1))
		require.NoError(t, err)
		fmt.Fprintf(w, `<?xml version="1.0"?>`+
			`<p:sld xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"`+
			` xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">%s</p:sld>`, body)
	}
	require.NoError(t, zw.Close())
	return path
}

type stubProvider struct {
	mu    sync.Mutex
	calls [][]string
	fail  int
	block chan struct{}
}

func (p *stubProvider) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, append([]string(nil), texts...))
	if p.fail > 0 {
		p.fail--
		return nil, fmt.Errorf("provider unavailable")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1, 2, 3}
	}
	return out, nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type stubRenderer struct {
	pages int
}

func (s *stubRenderer) PageCount() int { return s.pages }

func (s *stubRenderer) RenderPage(pageNo, dpi, width, height int, outPath string) error {
	if pageNo > s.pages {
		return fmt.Errorf("page %d out of range", pageNo)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(outPath, []byte("jpg"), 0644)
}

func (s *stubRenderer) Close() error { return nil }

// newTestManager wires a Manager with every external tool stubbed out.
func newTestManager(t *testing.T, provider *stubProvider) *Manager {
	t.Helper()
	if provider == nil {
		provider = &stubProvider{}
	}
	m := NewManager(arbor.NewLogger(), events.NewBus(arbor.NewLogger()), provider)
	m.convert = func(ctx context.Context, opts models.PDFOptions, input, outDir string, fileID int64) (string, error) {
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return "", err
		}
		target := filepath.Join(outDir, fmt.Sprintf("%d.pdf", fileID))
		return target, os.WriteFile(target, []byte("%PDF"), 0644)
	}
	m.openRenderer = func(path string) (thumbRenderer, error) {
		return &stubRenderer{pages: 100}, nil
	}
	t.Cleanup(m.Close)
	return m
}

func testOptions(paths ...string) models.JobOptions {
	opts := models.DefaultJobOptions()
	opts.FilePaths = paths
	opts.CommitEverySec = 0.05
	return opts
}

func waitTerminal(t *testing.T, store *catalog.Store, jobID string) models.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		require.NotNil(t, job)
		if job.Status.Terminal() {
			return *job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state")
	return models.Job{}
}

func TestCreateJob_UnknownRoot(t *testing.T) {
	m := newTestManager(t, nil)
	_, err := m.CreateJob(context.Background(), filepath.Join(t.TempDir(), "nope"),
		testOptions("x.pptx"))
	assert.ErrorIs(t, err, ErrLibraryRootNotFound)
}

func TestRunJob_FullLifecycle(t *testing.T) {
	root := t.TempDir()
	deck := writeDeck(t, root, "deck.pptx",
		`<a:t>alpha slide</a:t>`, `<a:t>beta slide</a:t>`, ``)

	provider := &stubProvider{}
	m := newTestManager(t, provider)

	// Hold the run semaphore so the event subscription is in place
	// before the run loop emits anything.
	m.sem <- struct{}{}
	jobID, err := m.CreateJob(context.Background(), root, testOptions(deck))
	require.NoError(t, err)
	ch, cancelSub := m.bus.Subscribe(jobID)
	defer cancelSub()
	<-m.sem

	store, err := m.CatalogFor(root)
	require.NoError(t, err)
	job := waitTerminal(t, store, jobID)
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.NotZero(t, job.StartedAt)
	assert.NotZero(t, job.FinishedAt)

	// Every artifact reached a terminal state: text, bm25, text_vec and
	// thumb READY; img_vec SKIPPED because no model asset is installed.
	summary, err := store.Summary(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Files)
	assert.Equal(t, 3, summary.Pages)
	assert.Equal(t, 3, summary.Artifacts[models.ArtifactText][models.ArtifactReady])
	assert.Equal(t, 3, summary.Artifacts[models.ArtifactBM25][models.ArtifactReady])
	assert.Equal(t, 3, summary.Artifacts[models.ArtifactTextVec][models.ArtifactReady])
	assert.Equal(t, 3, summary.Artifacts[models.ArtifactThumb][models.ArtifactReady])
	assert.Equal(t, 3, summary.Artifacts[models.ArtifactImgVec][models.ArtifactSkipped])

	// Slide 3 is empty, so only two texts went to the provider.
	require.Equal(t, 1, provider.callCount())
	assert.Len(t, provider.calls[0], 2)

	// Event stream: planning frames first, terminal frame last, seq
	// strictly increasing throughout.
	var types []string
	var lastSeq int64
	drain := time.After(time.Second)
loop:
	for {
		select {
		case evt := <-ch:
			require.Greater(t, evt.Seq, lastSeq)
			lastSeq = evt.Seq
			types = append(types, evt.Type)
			if evt.Type == models.EventJobCompleted {
				break loop
			}
		case <-drain:
			t.Fatal("event stream never completed")
		}
	}
	assert.Equal(t, models.EventJobPlanningStarted, types[0])
	assert.Equal(t, models.EventJobPlanningFinished, types[1])
	assert.Equal(t, models.EventJobStarted, types[2])
	assert.Contains(t, types, models.EventArtifactChanged)

	// The job snapshot is readable after completion.
	snap, err := m.JobSnapshot(context.Background(), jobID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, models.JobCompleted, snap.Job.Status)
	assert.Nil(t, snap.Running)

	// Re-running over the unchanged file re-queues nothing.
	jobID2, err := m.CreateJob(context.Background(), root, testOptions(deck))
	require.NoError(t, err)
	job2 := waitTerminal(t, store, jobID2)
	assert.Equal(t, models.JobCompleted, job2.Status)
	assert.Equal(t, 1, provider.callCount(), "terminal artifacts must not be recomputed")
}

func TestRunJob_EmbeddingCacheSharedAcrossPages(t *testing.T) {
	root := t.TempDir()
	// Two slides with identical content normalize to the same
	// fingerprint; the provider must be called for one of them only.
	deck := writeDeck(t, root, "deck.pptx",
		`<a:t>same   content</a:t>`, `<a:t>same content</a:t>`)

	provider := &stubProvider{}
	m := newTestManager(t, provider)

	jobID, err := m.CreateJob(context.Background(), root, testOptions(deck))
	require.NoError(t, err)
	store, err := m.CatalogFor(root)
	require.NoError(t, err)
	job := waitTerminal(t, store, jobID)
	require.Equal(t, models.JobCompleted, job.Status)

	require.Equal(t, 1, provider.callCount())
	assert.Equal(t, []string{"same content"}, provider.calls[0])

	summary, err := store.Summary(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Artifacts[models.ArtifactTextVec][models.ArtifactReady])
}

func TestRunJob_ProviderFailureMarksEmbedError(t *testing.T) {
	root := t.TempDir()
	deck := writeDeck(t, root, "deck.pptx", `<a:t>content</a:t>`)

	provider := &stubProvider{fail: 100}
	m := newTestManager(t, provider)

	opts := testOptions(deck)
	opts.Embed.MaxRetries = 2

	jobID, err := m.CreateJob(context.Background(), root, opts)
	require.NoError(t, err)
	store, err := m.CatalogFor(root)
	require.NoError(t, err)
	job := waitTerminal(t, store, jobID)
	// The batch failing is a page-level outcome, not a job failure.
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 2, provider.callCount())

	summary, err := store.Summary(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Artifacts[models.ArtifactTextVec][models.ArtifactError])
}

func TestRunJob_CorruptFileIsIsolated(t *testing.T) {
	root := t.TempDir()
	good := writeDeck(t, root, "good.pptx", `<a:t>fine</a:t>`)
	corrupt := filepath.Join(root, "corrupt.pptx")
	require.NoError(t, os.WriteFile(corrupt, []byte("not a zip"), 0644))

	m := newTestManager(t, nil)
	jobID, err := m.CreateJob(context.Background(), root, testOptions(good, corrupt))
	require.NoError(t, err)

	store, err := m.CatalogFor(root)
	require.NoError(t, err)
	job := waitTerminal(t, store, jobID)
	assert.Equal(t, models.JobCompleted, job.Status)

	// The corrupt file carries a scan error; the good one is indexed.
	files, err := store.ListFiles(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, f := range files {
		if f.Path == corrupt {
			assert.NotEmpty(t, f.ScanError)
		} else {
			assert.Empty(t, f.ScanError)
			assert.Equal(t, 1, f.Artifacts[models.ArtifactText][models.ArtifactReady])
		}
	}
}

func TestRunJob_MalformedSlideIsIsolated(t *testing.T) {
	root := t.TempDir()
	deck := writeDeck(t, root, "deck.pptx",
		`<a:t>first</a:t>`, `<a:t>broken`, `<a:t>third</a:t>`)

	m := newTestManager(t, nil)
	jobID, err := m.CreateJob(context.Background(), root, testOptions(deck))
	require.NoError(t, err)
	store, err := m.CatalogFor(root)
	require.NoError(t, err)
	job := waitTerminal(t, store, jobID)
	assert.Equal(t, models.JobCompleted, job.Status)

	file, err := store.GetFileByPath(context.Background(), deck)
	require.NoError(t, err)
	require.NotNil(t, file)
	pages, err := store.ListPages(context.Background(), file.FileID)
	require.NoError(t, err)
	require.Len(t, pages, 3)

	// The slide with broken XML fails extraction; its neighbors index
	// normally and the run still completes.
	for _, p := range pages {
		want := models.ArtifactReady
		if p.PageNo == 2 {
			want = models.ArtifactError
		}
		assert.Equal(t, want, p.Artifacts[models.ArtifactText], "text page %d", p.PageNo)
		assert.Equal(t, want, p.Artifacts[models.ArtifactBM25], "bm25 page %d", p.PageNo)
	}

	detail, err := store.GetPageDetail(context.Background(), pages[1].PageID)
	require.NoError(t, err)
	for _, a := range detail.Artifacts {
		if a.Kind == models.ArtifactText || a.Kind == models.ArtifactBM25 {
			assert.Equal(t, models.ErrCodeTextExtract, a.ErrorCode)
		}
	}
}

func TestRunJob_ShrunkDeckReplansOnlyCurrentPages(t *testing.T) {
	root := t.TempDir()
	deck := writeDeck(t, root, "deck.pptx",
		`<a:t>one</a:t>`, `<a:t>two</a:t>`, `<a:t>three</a:t>`)

	m := newTestManager(t, nil)
	jobID, err := m.CreateJob(context.Background(), root, testOptions(deck))
	require.NoError(t, err)
	store, err := m.CatalogFor(root)
	require.NoError(t, err)
	job := waitTerminal(t, store, jobID)
	require.Equal(t, models.JobCompleted, job.Status)

	// Same path, one slide fewer, newer mtime so the change is picked up.
	writeDeck(t, root, "deck.pptx", `<a:t>one</a:t>`, `<a:t>two</a:t>`)
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(deck, future, future))

	jobID2, err := m.CreateJob(context.Background(), root, testOptions(deck))
	require.NoError(t, err)
	job2 := waitTerminal(t, store, jobID2)
	assert.Equal(t, models.JobCompleted, job2.Status)

	file, err := store.GetFileByPath(context.Background(), deck)
	require.NoError(t, err)
	require.NotNil(t, file)
	assert.Equal(t, 2, file.SlideCount)

	// The page row past the new slide count is left alone: it must not
	// be re-queued against a slide that no longer exists.
	pages, err := store.ListPages(context.Background(), file.FileID)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	for _, p := range pages {
		for kind, status := range p.Artifacts {
			assert.NotEqual(t, models.ArtifactError, status,
				"page %d %s", p.PageNo, kind)
		}
	}
}

func TestCancel_FinalizesEverything(t *testing.T) {
	root := t.TempDir()
	deck := writeDeck(t, root, "deck.pptx",
		`<a:t>one</a:t>`, `<a:t>two</a:t>`, `<a:t>three</a:t>`)

	// The provider blocks so the run sits inside the text_vec pipeline
	// until cancel is requested.
	provider := &stubProvider{block: make(chan struct{})}
	m := newTestManager(t, provider)

	opts := testOptions(deck)
	opts.Embed.BatchSize = 1

	jobID, err := m.CreateJob(context.Background(), root, opts)
	require.NoError(t, err)
	store, err := m.CatalogFor(root)
	require.NoError(t, err)

	// Wait for the run to reach the provider call.
	deadline := time.Now().Add(5 * time.Second)
	for provider.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	m.Cancel(context.Background(), jobID)
	close(provider.block)

	job := waitTerminal(t, store, jobID)
	assert.Equal(t, models.JobCancelled, job.Status)

	// Nothing is left QUEUED or RUNNING anywhere.
	tasks, err := store.TasksForJob(context.Background(), jobID)
	require.NoError(t, err)
	for _, task := range tasks {
		assert.NotEqual(t, models.TaskQueued, task.Status)
		assert.NotEqual(t, models.TaskRunning, task.Status)
	}
	summary, err := store.Summary(context.Background(), "")
	require.NoError(t, err)
	for kind, byStatus := range summary.Artifacts {
		assert.Zero(t, byStatus[models.ArtifactQueued], "kind %s left queued", kind)
		assert.Zero(t, byStatus[models.ArtifactRunning], "kind %s left running", kind)
	}

	// Cancel is level-triggered: a second cancel is a no-op.
	m.Cancel(context.Background(), jobID)
	job2, err := store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, job2.Status)
}

func TestPauseResume_GateAndEvents(t *testing.T) {
	root := t.TempDir()
	deck := writeDeck(t, root, "deck.pptx", `<a:t>one</a:t>`)

	provider := &stubProvider{block: make(chan struct{})}
	m := newTestManager(t, provider)

	jobID, err := m.CreateJob(context.Background(), root, testOptions(deck))
	require.NoError(t, err)
	ch, cancelSub := m.bus.Subscribe(jobID)
	defer cancelSub()
	store, err := m.CatalogFor(root)
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for provider.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	m.Pause(context.Background(), jobID)
	job, err := store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPaused, job.Status)

	m.Resume(context.Background(), jobID)
	job, err = store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunning, job.Status)

	close(provider.block)
	waitTerminal(t, store, jobID)

	var sawPaused, sawResumed bool
	for {
		select {
		case evt := <-ch:
			switch evt.Type {
			case models.EventJobPaused:
				sawPaused = true
			case models.EventJobResumed:
				sawResumed = true
			case models.EventJobCompleted, models.EventJobCancelled, models.EventJobFailed:
				assert.True(t, sawPaused)
				assert.True(t, sawResumed)
				return
			}
		case <-time.After(time.Second):
			t.Fatal("terminal event never arrived")
		}
	}
}

func TestControls_UnknownJobNoOp(t *testing.T) {
	m := newTestManager(t, nil)
	// Must not panic or create state.
	m.Pause(context.Background(), "missing")
	m.Resume(context.Background(), "missing")
	m.Cancel(context.Background(), "missing")

	snap, err := m.JobSnapshot(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestWatchdog_KillsStaleTask(t *testing.T) {
	root := t.TempDir()
	m := newTestManager(t, nil)
	store, err := m.CatalogFor(root)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, models.Job{
		JobID: "jw", LibraryRoot: root, CreatedAt: 1,
		Status: models.JobRunning, OptionsJSON: "{}",
	}))
	taskID, err := store.CreateTask(ctx, "jw", models.TaskText, 0)
	require.NoError(t, err)
	require.NoError(t, store.StartTask(ctx, taskID))
	_, err = store.DB().ExecContext(ctx,
		`UPDATE tasks SET heartbeat_at = ? WHERE task_id = ?`,
		time.Now().Add(-2*time.Minute).Unix(), taskID)
	require.NoError(t, err)

	ch, cancelSub := m.bus.Subscribe("jw")
	defer cancelSub()

	m.watchdogSweep()

	tasks, err := store.TasksForJob(ctx, "jw")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskError, tasks[0].Status)
	assert.Equal(t, models.ErrCodeWatchdogTimeout, tasks[0].ErrorCode)
	assert.Equal(t, "task heartbeat timeout", tasks[0].ErrorMessage)

	select {
	case evt := <-ch:
		assert.Equal(t, models.EventTaskError, evt.Type)
		assert.Equal(t, models.ErrCodeWatchdogTimeout, evt.Payload["error_code"])
	case <-time.After(time.Second):
		t.Fatal("task_error event never published")
	}
}

func TestGate(t *testing.T) {
	g := newGate()

	// Open gate: wait returns immediately.
	require.NoError(t, g.wait(context.Background()))

	g.pause()
	done := make(chan struct{})
	go func() {
		g.wait(context.Background())
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("wait returned while paused")
	case <-time.After(50 * time.Millisecond):
	}

	g.resume()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait did not return after resume")
	}

	// Redundant transitions are safe.
	g.resume()
	g.pause()
	g.pause()
	g.resume()
	require.NoError(t, g.wait(context.Background()))
}
