package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed catalog for one library root. All
// pipeline mutations go through a single dedicated writer connection so
// checkpoint commits batch them; control-plane writes (job status,
// watchdog kills) and all reads use the pool, which under WAL observes
// the last durable commit.
type Store struct {
	db     *sql.DB
	writer *sql.Conn
	wmu    sync.Mutex
	inTx   bool
	logger arbor.ILogger
}

// Open opens (creating if needed) the catalog database at path.
func Open(path string, logger arbor.ILogger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// modernc.org/sqlite uses "sqlite" driver name (not "sqlite3").
	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + path +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=temp_store(2)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	writer, err := db.Conn(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reserve writer connection: %w", err)
	}

	logger.Info().Str("path", path).Msg("Catalog database initialized")
	return &Store{db: db, writer: writer, logger: logger}, nil
}

// Close closes the writer connection and the pool.
func (s *Store) Close() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.inTx {
		s.writer.ExecContext(context.Background(), "COMMIT")
		s.inTx = false
	}
	if s.writer != nil {
		s.writer.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the read pool. Intended for tests and handlers that need
// raw queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Begin opens a checkpoint transaction on the writer connection.
// Mutations between Begin and Commit become durable together.
func (s *Store) Begin(ctx context.Context) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.inTx {
		return nil
	}
	if _, err := s.writer.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin checkpoint: %w", err)
	}
	s.inTx = true
	return nil
}

// Commit makes all writer mutations since Begin durable.
func (s *Store) Commit(ctx context.Context) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if !s.inTx {
		return nil
	}
	if _, err := s.writer.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	s.inTx = false
	return nil
}

// Checkpoint commits the open transaction and starts the next one.
func (s *Store) Checkpoint(ctx context.Context) error {
	if err := s.Commit(ctx); err != nil {
		return err
	}
	return s.Begin(ctx)
}

// exec runs a mutation on the writer connection.
func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := s.writer.ExecContext(ctx, query, args...)
	return err
}

// execInsert runs an insert on the writer connection and returns the
// generated rowid.
func (s *Store) execInsert(ctx context.Context, query string, args ...any) (int64, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	res, err := s.writer.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// queryWriter reads through the writer connection, so uncommitted
// checkpoint state is visible to the running pipeline.
func (s *Store) queryWriter(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.writer.QueryContext(ctx, query, args...)
}

func nowEpoch() int64 {
	return time.Now().Unix()
}
