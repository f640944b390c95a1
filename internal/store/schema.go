package store

import "context"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS realms (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		default_language TEXT NOT NULL DEFAULT 'en'
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		realm_id BIGINT NOT NULL REFERENCES realms(id),
		email TEXT NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS scheduled_emails (
		id BIGSERIAL PRIMARY KEY,
		scheduled_at TIMESTAMPTZ NOT NULL,
		kind TEXT NOT NULL,
		address TEXT,
		attempts INT NOT NULL DEFAULT 0,
		data JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS scheduled_emails_due_idx
		ON scheduled_emails (scheduled_at)`,
	`CREATE TABLE IF NOT EXISTS scheduled_email_users (
		scheduled_email_id BIGINT NOT NULL
			REFERENCES scheduled_emails(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL,
		PRIMARY KEY (scheduled_email_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS scheduled_email_users_user_idx
		ON scheduled_email_users (user_id)`,
}

// EnsureSchema applies the DDL idempotently on startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return storageErr("ensure schema", err)
		}
	}
	return nil
}
