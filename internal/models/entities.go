package models

// File is one presentation file in the library, identified by its
// absolute path. Created on first sighting by the planner and updated
// in place on later sightings; never deleted by the daemon.
type File struct {
	FileID        int64  `json:"file_id"`
	Path          string `json:"path"`
	SizeBytes     int64  `json:"size_bytes"`
	MtimeEpoch    int64  `json:"mtime_epoch"`
	SlideAspect   Aspect `json:"slide_aspect"`
	SlideCount    int    `json:"slide_count"`
	LastScannedAt int64  `json:"last_scanned_at"`
	ScanError     string `json:"scan_error,omitempty"`
}

// Page is one slide within a file, identified by (file, 1-based ordinal).
type Page struct {
	PageID           int64  `json:"page_id"`
	FileID           int64  `json:"file_id"`
	PageNo           int    `json:"page_no"`
	Aspect           Aspect `json:"aspect"`
	SourceSizeBytes  int64  `json:"source_size_bytes"`
	SourceMtimeEpoch int64  `json:"source_mtime_epoch"`
	CreatedAt        int64  `json:"created_at"`
}

// Artifact is the state of one computed derivative of one page.
// Exactly one row exists per (page, kind).
type Artifact struct {
	PageID       int64          `json:"page_id"`
	Kind         ArtifactKind   `json:"kind"`
	Status       ArtifactStatus `json:"status"`
	UpdatedAt    int64          `json:"updated_at"`
	Attempts     int            `json:"attempts"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ParamsJSON   string         `json:"params_json,omitempty"`
}

// PageText holds the extracted and normalized text of one page.
// NormText is canonical; TextSig is the xxhash64 hex fingerprint of it
// and keys the shared embedding cache.
type PageText struct {
	PageID    int64  `json:"page_id"`
	RawText   string `json:"raw_text"`
	NormText  string `json:"norm_text"`
	TextSig   string `json:"text_sig"`
	UpdatedAt int64  `json:"updated_at"`
}

// Thumbnail records a rendered page image on disk.
type Thumbnail struct {
	PageID    int64  `json:"page_id"`
	Aspect    Aspect `json:"aspect"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	ImagePath string `json:"image_path"`
	UpdatedAt int64  `json:"updated_at"`
}

// Job is one indexing run over a library root.
type Job struct {
	JobID       string    `json:"job_id"`
	LibraryRoot string    `json:"library_root"`
	CreatedAt   int64     `json:"created_at"`
	StartedAt   int64     `json:"started_at,omitempty"`
	FinishedAt  int64     `json:"finished_at,omitempty"`
	Status      JobStatus `json:"status"`
	OptionsJSON string    `json:"-"`
}

// Task is the per-pipeline progress bearer within a job. The planner
// enqueues at most one task per pipeline kind per job; the running
// pipeline moves the task's page/file reference, heartbeat, and
// progress as it advances.
type Task struct {
	TaskID       int64      `json:"task_id"`
	JobID        string     `json:"job_id"`
	Kind         TaskKind   `json:"kind"`
	Status       TaskStatus `json:"status"`
	PageID       int64      `json:"page_id,omitempty"`
	FileID       int64      `json:"file_id,omitempty"`
	Priority     int        `json:"priority"`
	StartedAt    int64      `json:"started_at,omitempty"`
	FinishedAt   int64      `json:"finished_at,omitempty"`
	HeartbeatAt  int64      `json:"heartbeat_at,omitempty"`
	Progress     float64    `json:"progress"`
	Message      string     `json:"message,omitempty"`
	ErrorCode    string     `json:"error_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// FileScan is one candidate file presented to the planner: the path and
// the (size, mtime) snapshot the client observed.
type FileScan struct {
	Path       string `json:"path"`
	SizeBytes  int64  `json:"size_bytes"`
	MtimeEpoch int64  `json:"mtime_epoch"`
}
