package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"researchnerd/internal/logging"

	_ "modernc.org/sqlite"
)

// Archive persists finished research sessions to SQLite so reports can be
// listed, reread, and searched after the process exits.
//
// Layout:
//   - sessions: one row per run with the full snapshot and artifact JSON
//   - sources: flattened source ledger for per-session inspection
//   - learnings: flattened findings, searchable across sessions
type Archive struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewArchive opens the archive database at the given path, creating the
// file and schema on first use.
func NewArchive(path string) (*Archive, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewArchive")
	defer timer.Stop()

	logging.Store("Opening session archive at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.StoreError("Failed to create archive directory %s: %v", dir, err)
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	logging.StoreDebug("Opened SQLite database connection")

	a := &Archive{db: db, dbPath: path}
	if err := a.initialize(); err != nil {
		logging.StoreError("Failed to initialize archive schema: %v", err)
		db.Close()
		return nil, err
	}
	logging.StoreDebug("Archive schema initialized")

	return a, nil
}

// ==================== Schema ====================

func (a *Archive) initialize() error {
	sessionsTable := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		depth INTEGER NOT NULL DEFAULT 0,
		breadth INTEGER NOT NULL DEFAULT 0,
		iterations INTEGER NOT NULL DEFAULT 0,
		source_count INTEGER NOT NULL DEFAULT 0,
		learning_count INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL DEFAULT 0,
		ended_at INTEGER NOT NULL DEFAULT 0,
		snapshot_json TEXT NOT NULL,
		artifact_json TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
	`

	sourcesTable := `
	CREATE TABLE IF NOT EXISTS sources (
		session_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		domain TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		relevance REAL NOT NULL DEFAULT 0,
		credibility REAL NOT NULL DEFAULT 0,
		excluded INTEGER NOT NULL DEFAULT 0,
		first_seen_iteration INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (session_id, source_id)
	);
	CREATE INDEX IF NOT EXISTS idx_sources_session ON sources(session_id);
	CREATE INDEX IF NOT EXISTS idx_sources_domain ON sources(domain);
	`

	learningsTable := `
	CREATE TABLE IF NOT EXISTS learnings (
		session_id TEXT NOT NULL,
		learning_id TEXT NOT NULL,
		content TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		iteration INTEGER NOT NULL DEFAULT 0,
		source_ids TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (session_id, learning_id)
	);
	CREATE INDEX IF NOT EXISTS idx_learnings_session ON learnings(session_id);
	`

	for _, stmt := range []string{sessionsTable, sourcesTable, learningsTable} {
		if _, err := a.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create archive schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	logging.StoreDebug("Closing session archive at %s", a.dbPath)
	return a.db.Close()
}
