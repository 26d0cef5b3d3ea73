package storage

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS forms (
		uid TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL,
		version_id TEXT NOT NULL DEFAULT '',
		fields TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		form_uid TEXT NOT NULL REFERENCES forms(uid) ON DELETE CASCADE,
		owner_id TEXT NOT NULL,
		version_id TEXT NOT NULL DEFAULT '',
		fields TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS hooks (
		id TEXT PRIMARY KEY,
		form_uid TEXT NOT NULL REFERENCES forms(uid) ON DELETE CASCADE,
		name TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT 1,
		format TEXT NOT NULL DEFAULT 'json',
		subset_fields TEXT NOT NULL DEFAULT '[]',
		payload_template TEXT NOT NULL DEFAULT '',
		settings TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS hook_logs (
		id TEXT PRIMARY KEY,
		hook_id TEXT NOT NULL REFERENCES hooks(id) ON DELETE CASCADE,
		submission_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		status_code INTEGER NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		generation INTEGER NOT NULL DEFAULT 0,
		payload BLOB,
		next_attempt_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_submissions_form ON submissions(form_uid)`,
	`CREATE INDEX IF NOT EXISTS idx_hooks_form ON hooks(form_uid)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_hook_logs_hook_submission ON hook_logs(hook_id, submission_id)`,
	`CREATE INDEX IF NOT EXISTS idx_hook_logs_due ON hook_logs(status, next_attempt_at) WHERE status IN ('pending', 'failed')`,
}

func NewSQLite(path string) (*SQLStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLStorage{db: db, dialect: dialect{name: "sqlite", schema: sqliteSchema}}, nil
}
