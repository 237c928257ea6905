package db

import (
	"database/sql"
	"fmt"
)

// migrations is an ordered list of SQL migration statements.
// Each entry is applied once in order. New migrations are appended at the end.
var migrations = []string{
	// Migration 0: initial schema
	`CREATE TABLE IF NOT EXISTS turns (
		id            TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
		user_id       TEXT NOT NULL,
		persona_name  TEXT NOT NULL,
		user_text     TEXT NOT NULL,
		response_text TEXT NOT NULL,
		is_starred    INTEGER NOT NULL DEFAULT 0,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS compressed_memories (
		id                TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
		source_entry_id   TEXT REFERENCES turns(id) ON DELETE SET NULL,
		user_id           TEXT NOT NULL,
		persona_name      TEXT NOT NULL,
		user_essence      TEXT NOT NULL,
		response_essence  TEXT NOT NULL,
		arc_summary       TEXT NOT NULL,
		salience          INTEGER NOT NULL DEFAULT 5,
		is_instruction    INTEGER NOT NULL DEFAULT 0,
		instruction_scope TEXT,
		created_at        DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS file_records (
		id               TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
		user_id          TEXT NOT NULL,
		filename         TEXT NOT NULL,
		file_type        TEXT NOT NULL,
		content_hash     TEXT NOT NULL,
		status           TEXT NOT NULL DEFAULT 'pending',
		processing_stage TEXT,
		progress         INTEGER NOT NULL DEFAULT 0,
		description      TEXT,
		error_message    TEXT,
		uploaded_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,

	// A second upload of identical content by the same user must not create
	// a second row.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_file_records_user_hash ON file_records(user_id, content_hash)`,

	`CREATE INDEX IF NOT EXISTS idx_turns_user_created     ON turns(user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_turns_starred          ON turns(user_id, is_starred)`,
	`CREATE INDEX IF NOT EXISTS idx_compressed_user        ON compressed_memories(user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_compressed_instruction ON compressed_memories(user_id, is_instruction)`,
	`CREATE INDEX IF NOT EXISTS idx_file_records_status    ON file_records(user_id, status)`,

	// Migration 1: migration tracking table
	`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
}

// applyMigrations runs any migrations that have not yet been applied.
func applyMigrations(conn *sql.DB) error {
	// Ensure the migration tracking table exists first.
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for i, stmt := range migrations {
		var count int
		row := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, i)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", i, err)
		}
		if count > 0 {
			continue
		}

		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i, err)
		}

		if _, err := conn.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, i); err != nil {
			return fmt.Errorf("record migration %d: %w", i, err)
		}
	}

	return nil
}

// applyVectorTables creates the sqlite-vec virtual tables.
// Called separately after the vec extension is confirmed loaded.
func applyVectorTables(conn *sql.DB, dimension int) error {
	stmts := []string{
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_memories USING vec0(
			id TEXT PRIMARY KEY,
			embedding float[%d]
		)`, dimension),
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_files USING vec0(
			id TEXT PRIMARY KEY,
			embedding float[%d]
		)`, dimension),
	}

	for _, stmt := range stmts {
		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("create vector table: %w", err)
		}
	}

	return nil
}
