package jobs

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/lectern/internal/models"
)

// planRunSeq keeps job IDs unique when a test builds several runs.
var planRunSeq atomic.Int64

// newPlanRun builds a run wired to a fresh catalog, without starting
// the run loop, so plan can be exercised in isolation.
func newPlanRun(t *testing.T, m *Manager, root string, opts models.JobOptions) *run {
	t.Helper()
	store, err := m.CatalogFor(root)
	require.NoError(t, err)
	jobID := "J-test-" + t.Name() + "-" + strconv.FormatInt(planRunSeq.Add(1), 10)
	require.NoError(t, store.CreateJob(context.Background(), models.Job{
		JobID: jobID, LibraryRoot: root, CreatedAt: 1,
		Status: models.JobCreated, OptionsJSON: "{}",
	}))
	return &run{
		jobID: jobID,
		root:  root,
		opts:  opts,
		store: store,
		gate:  newGate(),
		tasks: make(map[models.TaskKind]int64),
	}
}

func TestPlan_SkipBuckets(t *testing.T) {
	root := t.TempDir()
	elsewhere := t.TempDir()

	good := writeDeck(t, root, "good.pptx", `<a:t>x</a:t>`, `<a:t>y</a:t>`)
	notPptx := filepath.Join(root, "notes.txt")
	require.NoError(t, os.WriteFile(notPptx, []byte("x"), 0644))
	outside := writeDeck(t, elsewhere, "outside.pptx", `<a:t>x</a:t>`)
	missing := filepath.Join(root, "gone.pptx")

	m := newTestManager(t, nil)
	r := newPlanRun(t, m, root, testOptions(good, notPptx, outside, missing))

	payload, err := m.plan(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, 1, payload["files"])
	skipped := payload["skipped"].(map[string]any)
	assert.Equal(t, "scan", skipped["source"])
	counts := skipped["counts"].(map[string]int)
	assert.Equal(t, 1, counts["non_pptx"])
	assert.Equal(t, 1, counts["outside_root"])
	assert.Equal(t, 1, counts["missing_path"])
	examples := skipped["examples"].(map[string][]string)
	assert.Equal(t, []string{outside}, examples["outside_root"])
}

func TestPlan_SymlinkEscapesRoot(t *testing.T) {
	root := t.TempDir()
	elsewhere := t.TempDir()

	target := writeDeck(t, elsewhere, "target.pptx", `<a:t>x</a:t>`)
	link := filepath.Join(root, "linked.pptx")
	require.NoError(t, os.Symlink(target, link))

	m := newTestManager(t, nil)
	r := newPlanRun(t, m, root, testOptions(link))

	payload, err := m.plan(context.Background(), r)
	require.NoError(t, err)

	// The link sits under the root but resolves outside it.
	assert.Equal(t, 0, payload["files"])
	skipped := payload["skipped"].(map[string]any)
	counts := skipped["counts"].(map[string]int)
	assert.Equal(t, 1, counts["outside_root"])
	examples := skipped["examples"].(map[string][]string)
	assert.Equal(t, []string{target}, examples["outside_root"])
}

func TestPlan_FileScansSourceAndUnselected(t *testing.T) {
	root := t.TempDir()
	selected := writeDeck(t, root, "selected.pptx", `<a:t>x</a:t>`)
	extra := writeDeck(t, root, "extra.pptx", `<a:t>x</a:t>`)

	opts := testOptions(selected)
	info, err := os.Stat(selected)
	require.NoError(t, err)
	opts.FileScans = []models.FileScan{
		{Path: selected, SizeBytes: info.Size(), MtimeEpoch: info.ModTime().Unix()},
		{Path: extra, SizeBytes: 10, MtimeEpoch: 10},
	}

	m := newTestManager(t, nil)
	r := newPlanRun(t, m, root, opts)

	payload, err := m.plan(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 1, payload["files"])
	skipped := payload["skipped"].(map[string]any)
	assert.Equal(t, "file_scans", skipped["source"])
	assert.Equal(t, 1, skipped["counts"].(map[string]int)["unselected_path"])
}

func TestPlan_NoInputsFails(t *testing.T) {
	root := t.TempDir()
	m := newTestManager(t, nil)
	opts := models.DefaultJobOptions()
	r := newPlanRun(t, m, root, opts)

	_, err := m.plan(context.Background(), r)
	require.Error(t, err)
	assert.Equal(t, "missing_frontend_scan_inputs", err.Error())
}

func TestPlan_QueuesAllKindsAndTasks(t *testing.T) {
	root := t.TempDir()
	deck := writeDeck(t, root, "deck.pptx", `<a:t>a</a:t>`, `<a:t>b</a:t>`)

	m := newTestManager(t, nil)
	r := newPlanRun(t, m, root, testOptions(deck))

	payload, err := m.plan(context.Background(), r)
	require.NoError(t, err)

	taskCounts := payload["task_counts"].(map[string]any)
	assert.Equal(t, 2, taskCounts["text"])
	assert.Equal(t, 2, taskCounts["bm25"])
	assert.Equal(t, 2, taskCounts["text_vec"])
	assert.Equal(t, 2, taskCounts["thumb"])
	assert.Equal(t, 2, taskCounts["img_vec"])
	assert.Equal(t, 1, taskCounts["pdf"], "pdf counts files, not pages")
	assert.Equal(t, 11, payload["task_total"])

	// One task per pipeline kind, pdf at the highest priority.
	tasks, err := r.store.QueuedTasks(context.Background(), r.jobID)
	require.NoError(t, err)
	require.Len(t, tasks, 6)
	assert.Equal(t, models.TaskPDF, tasks[0].Kind)
	assert.Equal(t, 10, tasks[0].Priority)

	// Every page has exactly one queued artifact per kind.
	file, err := r.store.GetFileByPath(context.Background(), deck)
	require.NoError(t, err)
	statuses, err := r.store.ArtifactStatusesForFile(context.Background(), file.FileID, 0)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	for _, byKind := range statuses {
		require.Len(t, byKind, len(models.AllArtifactKinds))
		for _, st := range byKind {
			assert.Equal(t, models.ArtifactQueued, st)
		}
	}
}

func TestPlan_DisabledKindsStayMissing(t *testing.T) {
	root := t.TempDir()
	deck := writeDeck(t, root, "deck.pptx", `<a:t>a</a:t>`)

	opts := testOptions(deck)
	opts.EnableThumb = false
	opts.Embed.EnabledText = false

	m := newTestManager(t, nil)
	r := newPlanRun(t, m, root, opts)

	_, err := m.plan(context.Background(), r)
	require.NoError(t, err)

	file, err := r.store.GetFileByPath(context.Background(), deck)
	require.NoError(t, err)
	statuses, err := r.store.ArtifactStatusesForFile(context.Background(), file.FileID, 0)
	require.NoError(t, err)
	for _, byKind := range statuses {
		assert.Equal(t, models.ArtifactQueued, byKind[models.ArtifactText])
		assert.Equal(t, models.ArtifactQueued, byKind[models.ArtifactBM25])
		assert.Equal(t, models.ArtifactMissing, byKind[models.ArtifactThumb])
		assert.Equal(t, models.ArtifactMissing, byKind[models.ArtifactTextVec])
		// img_vec depends on thumbnails, which are off.
		assert.Equal(t, models.ArtifactMissing, byKind[models.ArtifactImgVec])
	}
}

func TestPlan_RequeueRules(t *testing.T) {
	root := t.TempDir()
	deck := writeDeck(t, root, "deck.pptx", `<a:t>a</a:t>`)

	m := newTestManager(t, nil)
	r := newPlanRun(t, m, root, testOptions(deck))
	_, err := m.plan(context.Background(), r)
	require.NoError(t, err)

	file, err := r.store.GetFileByPath(context.Background(), deck)
	require.NoError(t, err)

	// Simulate a completed run.
	_, err = r.store.DB().Exec(`UPDATE artifacts SET status = 'ready'`)
	require.NoError(t, err)

	// Unchanged source: terminal artifacts stay untouched.
	r2 := newPlanRun(t, m, root, testOptions(deck))
	payload, err := m.plan(context.Background(), r2)
	require.NoError(t, err)
	assert.Equal(t, 0, payload["task_total"])
	statuses, err := r2.store.ArtifactStatusesForFile(context.Background(), file.FileID, 0)
	require.NoError(t, err)
	for _, byKind := range statuses {
		for _, st := range byKind {
			assert.Equal(t, models.ArtifactReady, st)
		}
	}

	// Changed mtime: everything requeues.
	info, err := os.Stat(deck)
	require.NoError(t, err)
	opts := testOptions(deck)
	opts.FileScans = []models.FileScan{{
		Path: deck, SizeBytes: info.Size(), MtimeEpoch: info.ModTime().Unix() + 60,
	}}
	r3 := newPlanRun(t, m, root, opts)
	payload, err = m.plan(context.Background(), r3)
	require.NoError(t, err)
	assert.Equal(t, 6, payload["task_total"])

	// Error artifacts requeue even when the source is unchanged.
	_, err = r.store.DB().Exec(`UPDATE artifacts SET status = 'error', error_code = 'X'`)
	require.NoError(t, err)
	r4 := newPlanRun(t, m, root, opts)
	payload, err = m.plan(context.Background(), r4)
	require.NoError(t, err)
	assert.Equal(t, 6, payload["task_total"])
}
