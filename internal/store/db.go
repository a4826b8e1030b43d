// Package store provides SQLite-backed persistence for the swarm
// orchestrator: agents, tasks, messages, memory entries, knowledge and
// conflict records. It is the leaf dependency every other component
// builds on; if the store is unavailable the orchestrator halts.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite database connection with swarm-specific operations.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDBPath returns the path to the default swarm database.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "swarm", "swarm.db")
}

// Open opens an SQLite database at the given path, creating parent
// directories if needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// OpenDefault opens the database at the default XDG data path.
func OpenDefault() (*DB, error) {
	return Open(DefaultDBPath())
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Agents},
		{2, migrationV2Tasks},
		{3, migrationV3Messages},
		{4, migrationV4Memory},
		{5, migrationV5Knowledge},
		{6, migrationV6Conflicts},
		{7, migrationV7Performance},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Agents = `
CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	capabilities TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'idle',
	max_concurrent_tasks INTEGER NOT NULL DEFAULT 1,
	max_memory_entries INTEGER NOT NULL DEFAULT 0,
	active_tasks INTEGER NOT NULL DEFAULT 0,
	performance TEXT,
	needs_health_check INTEGER NOT NULL DEFAULT 0,
	registered_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);
CREATE INDEX IF NOT EXISTS idx_agents_type ON agents(type);
`

const migrationV2Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	required_capability TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 2,
	depends_on TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	assigned_to TEXT,
	excluded_agents TEXT,
	input TEXT,
	output TEXT,
	error TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	assigned_at DATETIME,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_assigned_to ON tasks(assigned_to);
CREATE INDEX IF NOT EXISTS idx_tasks_capability ON tasks(required_capability);
`

const migrationV3Messages = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	sender TEXT NOT NULL,
	receiver TEXT,
	priority INTEGER NOT NULL DEFAULT 2,
	payload TEXT,
	correlation_id TEXT,
	requires_response INTEGER NOT NULL DEFAULT 0,
	delivery TEXT NOT NULL DEFAULT 'queued',
	attempts INTEGER NOT NULL DEFAULT 0,
	sent_at DATETIME NOT NULL,
	delivered_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver);
CREATE INDEX IF NOT EXISTS idx_messages_delivery ON messages(delivery);
CREATE INDEX IF NOT EXISTS idx_messages_correlation ON messages(correlation_id);
`

const migrationV4Memory = `
CREATE TABLE IF NOT EXISTS memory (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	tier TEXT NOT NULL,
	category TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT,
	importance REAL NOT NULL DEFAULT 0.5,
	access_count INTEGER NOT NULL DEFAULT 0,
	last_accessed DATETIME NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	expires_at DATETIME,
	created_at DATETIME NOT NULL,
	UNIQUE(agent_id, tier, category, key)
);

CREATE INDEX IF NOT EXISTS idx_memory_agent_tier ON memory(agent_id, tier);
CREATE INDEX IF NOT EXISTS idx_memory_expires ON memory(expires_at);
`

const migrationV5Knowledge = `
CREATE TABLE IF NOT EXISTS knowledge (
	id TEXT PRIMARY KEY,
	source_agent TEXT NOT NULL,
	target_agent TEXT,
	kind TEXT NOT NULL,
	content TEXT NOT NULL,
	context TEXT,
	confidence REAL NOT NULL DEFAULT 0,
	effectiveness REAL NOT NULL DEFAULT 0,
	applications INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_knowledge_source ON knowledge(source_agent);
CREATE INDEX IF NOT EXISTS idx_knowledge_context ON knowledge(context);
`

const migrationV6Conflicts = `
CREATE TABLE IF NOT EXISTS conflicts (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	agents TEXT NOT NULL,
	task_ids TEXT,
	context TEXT,
	strategy TEXT NOT NULL DEFAULT 'automatic',
	outcome TEXT,
	detected_at DATETIME NOT NULL,
	resolved_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_conflicts_type ON conflicts(type);
`

const migrationV7Performance = `
CREATE TABLE IF NOT EXISTS performance (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	capability TEXT NOT NULL,
	task_id TEXT NOT NULL,
	success INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	quality REAL NOT NULL DEFAULT 0,
	complexity REAL NOT NULL DEFAULT 0,
	recorded_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_performance_agent_cap ON performance(agent_id, capability);
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// FormatTime formats a time.Time the way the store persists timestamps.
// Callers pass the result to UpdateMessageDelivery.
func FormatTime(t time.Time) string {
	return formatTime(t)
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// formatNullableTime formats an optional time for SQLite storage.
func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

// nullString converts a string to sql.NullString, treating empty as null.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
