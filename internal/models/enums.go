package models

// ArtifactKind identifies a computed per-page derivative.
type ArtifactKind string

const (
	ArtifactText    ArtifactKind = "text"
	ArtifactThumb   ArtifactKind = "thumb"
	ArtifactTextVec ArtifactKind = "text_vec"
	ArtifactImgVec  ArtifactKind = "img_vec"
	ArtifactBM25    ArtifactKind = "bm25"
)

// AllArtifactKinds lists every kind the planner seeds per page.
var AllArtifactKinds = []ArtifactKind{
	ArtifactText,
	ArtifactThumb,
	ArtifactTextVec,
	ArtifactImgVec,
	ArtifactBM25,
}

// ArtifactStatus is the per-(page,kind) state machine.
// missing -> queued -> running -> {ready | error | skipped | cancelled}
type ArtifactStatus string

const (
	ArtifactMissing   ArtifactStatus = "missing"
	ArtifactQueued    ArtifactStatus = "queued"
	ArtifactRunning   ArtifactStatus = "running"
	ArtifactReady     ArtifactStatus = "ready"
	ArtifactSkipped   ArtifactStatus = "skipped"
	ArtifactError     ArtifactStatus = "error"
	ArtifactCancelled ArtifactStatus = "cancelled"
)

// TerminalSuccess reports whether a status does not need recomputation
// on an unchanged source file.
func (s ArtifactStatus) TerminalSuccess() bool {
	return s == ArtifactReady || s == ArtifactSkipped
}

// TaskKind identifies a unit of scheduling within a job.
type TaskKind string

const (
	TaskText    TaskKind = "text"
	TaskPDF     TaskKind = "pdf"
	TaskThumb   TaskKind = "thumb"
	TaskBM25    TaskKind = "bm25"
	TaskTextVec TaskKind = "text_vec"
	TaskImgVec  TaskKind = "img_vec"
)

// TaskStatus is the task state machine.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskError     TaskStatus = "error"
	TaskSkipped   TaskStatus = "skipped"
	TaskCancelled TaskStatus = "cancelled"
)

// JobStatus is the job lifecycle state machine.
// CREATED -> PLANNING -> RUNNING <-> PAUSED -> {COMPLETED | CANCELLED | FAILED}.
// CANCEL_REQUESTED is transient and resolved to CANCELLED by the finalizer.
type JobStatus string

const (
	JobCreated         JobStatus = "created"
	JobPlanning        JobStatus = "planning"
	JobRunning         JobStatus = "running"
	JobPaused          JobStatus = "paused"
	JobCancelRequested JobStatus = "cancel_requested"
	JobCancelled       JobStatus = "cancelled"
	JobCompleted       JobStatus = "completed"
	JobFailed          JobStatus = "failed"
)

// Terminal reports whether the job can no longer change state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobCancelled || s == JobFailed
}

// Aspect classifies slide geometry.
type Aspect string

const (
	Aspect4x3     Aspect = "4:3"
	Aspect16x9    Aspect = "16:9"
	AspectUnknown Aspect = "unknown"
)

// Error codes persisted on artifact and task rows.
const (
	ErrCodeTextExtract     = "TEXT_EXTRACT_FAIL"
	ErrCodePDFConvert      = "PDF_CONVERT_FAIL"
	ErrCodeThumb           = "THUMB_FAIL"
	ErrCodeEmbed           = "EMBED_FAIL"
	ErrCodeImgVec          = "IMG_VEC_FAIL"
	ErrCodeThumbMissing    = "THUMB_MISSING"
	ErrCodeImgVecSkipped   = "IMG_VEC_SKIPPED"
	ErrCodeWatchdogTimeout = "WATCHDOG_TIMEOUT"
)
