package storage

import (
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS forms (
		uid TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL,
		version_id TEXT NOT NULL DEFAULT '',
		fields TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		form_uid TEXT NOT NULL REFERENCES forms(uid) ON DELETE CASCADE,
		owner_id TEXT NOT NULL,
		version_id TEXT NOT NULL DEFAULT '',
		fields TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS hooks (
		id TEXT PRIMARY KEY,
		form_uid TEXT NOT NULL REFERENCES forms(uid) ON DELETE CASCADE,
		name TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		format TEXT NOT NULL DEFAULT 'json',
		subset_fields TEXT NOT NULL DEFAULT '[]',
		payload_template TEXT NOT NULL DEFAULT '',
		settings TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS hook_logs (
		id TEXT PRIMARY KEY,
		hook_id TEXT NOT NULL REFERENCES hooks(id) ON DELETE CASCADE,
		submission_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		status_code INTEGER NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		generation BIGINT NOT NULL DEFAULT 0,
		payload BYTEA,
		next_attempt_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_submissions_form ON submissions(form_uid)`,
	`CREATE INDEX IF NOT EXISTS idx_hooks_form ON hooks(form_uid)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_hook_logs_hook_submission ON hook_logs(hook_id, submission_id)`,
	`CREATE INDEX IF NOT EXISTS idx_hook_logs_due ON hook_logs(status, next_attempt_at) WHERE status IN ('pending', 'failed')`,
}

// NewPostgres opens a Postgres store through the pgx database/sql driver.
func NewPostgres(dsn string) (*SQLStorage, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &SQLStorage{db: db, dialect: dialect{name: "postgres", numbered: true, schema: postgresSchema}}, nil
}
