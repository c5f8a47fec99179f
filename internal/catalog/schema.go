package catalog

const schemaSQL = `
-- Library files. Identified by absolute path; never deleted by the daemon.
CREATE TABLE IF NOT EXISTS files (
	file_id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT NOT NULL UNIQUE,
	size_bytes INTEGER NOT NULL DEFAULT 0,
	mtime_epoch INTEGER NOT NULL DEFAULT 0,
	slide_aspect TEXT NOT NULL DEFAULT 'unknown',
	slide_count INTEGER NOT NULL DEFAULT 0,
	last_scanned_at INTEGER,
	scan_error TEXT
);

-- One row per slide; cascade with the owning file.
CREATE TABLE IF NOT EXISTS pages (
	page_id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_id INTEGER NOT NULL REFERENCES files(file_id) ON DELETE CASCADE,
	page_no INTEGER NOT NULL,
	aspect TEXT NOT NULL DEFAULT 'unknown',
	source_size_bytes INTEGER NOT NULL DEFAULT 0,
	source_mtime_epoch INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	UNIQUE(file_id, page_no)
);

-- Exactly one row per (page, kind).
CREATE TABLE IF NOT EXISTS artifacts (
	page_id INTEGER NOT NULL REFERENCES pages(page_id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	error_code TEXT,
	error_message TEXT,
	params_json TEXT,
	PRIMARY KEY (page_id, kind)
);
CREATE INDEX IF NOT EXISTS idx_artifacts_kind_status ON artifacts(kind, status);

CREATE TABLE IF NOT EXISTS page_text (
	page_id INTEGER PRIMARY KEY REFERENCES pages(page_id) ON DELETE CASCADE,
	raw_text TEXT NOT NULL DEFAULT '',
	norm_text TEXT NOT NULL DEFAULT '',
	text_sig TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);

-- FTS5 index over normalized page text.
CREATE VIRTUAL TABLE IF NOT EXISTS fts_pages USING fts5(
	norm_text,
	page_id UNINDEXED
);

CREATE TABLE IF NOT EXISTS thumbnails (
	page_id INTEGER PRIMARY KEY REFERENCES pages(page_id) ON DELETE CASCADE,
	aspect TEXT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	image_path TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

-- Text embedding vectors, shared across pages and jobs, keyed by
-- (model, normalized-text fingerprint). Vector blobs are packed
-- little-endian float32, dim*4 bytes.
CREATE TABLE IF NOT EXISTS embedding_cache_text (
	model TEXT NOT NULL,
	text_sig TEXT NOT NULL,
	dim INTEGER NOT NULL,
	vector_blob BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (model, text_sig)
);

CREATE TABLE IF NOT EXISTS page_text_embedding (
	page_id INTEGER PRIMARY KEY REFERENCES pages(page_id) ON DELETE CASCADE,
	model TEXT NOT NULL,
	text_sig TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS page_image_embedding (
	page_id INTEGER PRIMARY KEY REFERENCES pages(page_id) ON DELETE CASCADE,
	model TEXT NOT NULL,
	dim INTEGER NOT NULL,
	vector_blob BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	job_id TEXT PRIMARY KEY,
	library_root TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	finished_at INTEGER,
	status TEXT NOT NULL,
	options_json TEXT NOT NULL DEFAULT '{}'
);

-- One task per pipeline kind per job; the running pipeline moves the
-- page/file reference, heartbeat, and progress as it advances.
CREATE TABLE IF NOT EXISTS tasks (
	task_id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	page_id INTEGER,
	file_id INTEGER,
	priority INTEGER NOT NULL DEFAULT 0,
	started_at INTEGER,
	finished_at INTEGER,
	heartbeat_at INTEGER,
	progress REAL NOT NULL DEFAULT 0,
	message TEXT,
	error_code TEXT,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_job ON tasks(job_id, kind, status);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`
