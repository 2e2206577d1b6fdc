// Package database provides schema instantiation
package database

import (
	"database/sql"
	"fmt"
)

var tables = []string{
	`CREATE TABLE IF NOT EXISTS environments (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		secret_hash TEXT NOT NULL,
		jwt_secret TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		activation_token TEXT,
		activation_expires_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS contents (
		id TEXT PRIMARY KEY,
		environment_id TEXT NOT NULL,
		name TEXT NOT NULL,
		content_type TEXT NOT NULL,
		ordering INTEGER NOT NULL DEFAULT 0,
		published_version_id TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (environment_id) REFERENCES environments(id)
	)`,
	`CREATE TABLE IF NOT EXISTS versions (
		id TEXT PRIMARY KEY,
		content_id TEXT NOT NULL,
		config TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (content_id) REFERENCES contents(id)
	)`,
	`CREATE TABLE IF NOT EXISTS steps (
		id TEXT PRIMARY KEY,
		version_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL DEFAULT '{}',
		FOREIGN KEY (version_id) REFERENCES versions(id)
	)`,
	`CREATE TABLE IF NOT EXISTS biz_sessions (
		id TEXT PRIMARY KEY,
		environment_id TEXT NOT NULL,
		content_id TEXT NOT NULL,
		version_id TEXT NOT NULL,
		external_user_id TEXT NOT NULL,
		state INTEGER NOT NULL DEFAULT 0,
		current_step INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		environment_id TEXT NOT NULL,
		external_id TEXT NOT NULL,
		attributes TEXT NOT NULL DEFAULT '{}',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (environment_id, external_id)
	)`,
	`CREATE TABLE IF NOT EXISTS companies (
		environment_id TEXT NOT NULL,
		external_id TEXT NOT NULL,
		attributes TEXT NOT NULL DEFAULT '{}',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (environment_id, external_id)
	)`,
	`CREATE TABLE IF NOT EXISTS segments (
		id TEXT PRIMARY KEY,
		environment_id TEXT NOT NULL,
		name TEXT NOT NULL,
		rules TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		environment_id TEXT NOT NULL,
		external_user_id TEXT NOT NULL,
		session_id TEXT,
		content_id TEXT,
		version_id TEXT,
		verb TEXT NOT NULL,
		data TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS conn_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conn_locks (
		key TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_contents_environment ON contents(environment_id, content_type, ordering)`,
	`CREATE INDEX IF NOT EXISTS idx_versions_content ON versions(content_id)`,
	`CREATE INDEX IF NOT EXISTS idx_steps_version ON steps(version_id, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_biz_sessions_user ON biz_sessions(environment_id, external_user_id, content_id, updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_events_environment ON events(environment_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_conn_state_expiry ON conn_state(expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_conn_locks_expiry ON conn_locks(expires_at)`,
}

// TableCreator handles the creation of the database schema.
type TableCreator struct{}

// NewTableCreator creates a new TableCreator.
func NewTableCreator() *TableCreator {
	return &TableCreator{}
}

// CreateSchema executes all necessary queries to build the database tables and indexes.
func (tc *TableCreator) CreateSchema(db *sql.DB) error {
	for _, tableSQL := range tables {
		if _, err := db.Exec(tableSQL); err != nil {
			return fmt.Errorf("failed to create table for query [%s]: %w", tableSQL, err)
		}
	}

	for _, indexSQL := range indexes {
		if _, err := db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index for query [%s]: %w", indexSQL, err)
		}
	}
	return nil
}
