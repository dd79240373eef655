package postgres

import (
	"context"
	"fmt"

	"github.com/toolbridge/toolbridge/pkg/logger"
)

// schemaStatements bootstrap the tables on startup. Everything is idempotent;
// there is no migration framework, new columns ship as new statements.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS integrations (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		tool_name     TEXT NOT NULL,
		access_token  TEXT NOT NULL,
		refresh_token TEXT NOT NULL DEFAULT '',
		expires_at    TIMESTAMPTZ,
		status        TEXT NOT NULL DEFAULT 'active',
		scopes        JSONB NOT NULL DEFAULT '[]',
		metadata      JSONB NOT NULL DEFAULT '{}',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (user_id, tool_name)
	)`,
	`CREATE TABLE IF NOT EXISTS scheduled_tasks (
		id         TEXT PRIMARY KEY,
		agent_id   TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		tool       TEXT NOT NULL,
		action     TEXT NOT NULL,
		payload    JSONB NOT NULL DEFAULT '{}',
		execute_at TIMESTAMPTZ NOT NULL,
		status     TEXT NOT NULL DEFAULT 'scheduled',
		attempts   INT NOT NULL DEFAULT 0,
		result     JSONB,
		error      TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_due
		ON scheduled_tasks (execute_at, created_at) WHERE status = 'scheduled'`,
	`CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_user
		ON scheduled_tasks (user_id)`,
	`CREATE TABLE IF NOT EXISTS error_logs (
		id            TEXT PRIMARY KEY,
		agent_id      TEXT NOT NULL,
		user_id       TEXT NOT NULL DEFAULT '',
		tool          TEXT NOT NULL,
		action        TEXT NOT NULL DEFAULT '',
		error_code    TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		payload       JSONB NOT NULL DEFAULT '{}',
		timestamp     TIMESTAMPTZ NOT NULL DEFAULT now(),
		resolved      BOOLEAN NOT NULL DEFAULT false,
		resolved_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_error_logs_agent
		ON error_logs (agent_id, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_error_logs_tool_time
		ON error_logs (tool, timestamp)`,
	`CREATE TABLE IF NOT EXISTS fallback_messages (
		tool       TEXT NOT NULL,
		agent_id   TEXT NOT NULL DEFAULT '',
		message    TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (tool, agent_id)
	)`,
	`CREATE TABLE IF NOT EXISTS context_mappings (
		id          TEXT PRIMARY KEY,
		agent_id    TEXT NOT NULL,
		user_id     TEXT NOT NULL DEFAULT '',
		tool        TEXT NOT NULL,
		context_key TEXT NOT NULL,
		external_id TEXT NOT NULL,
		metadata    JSONB NOT NULL DEFAULT '{}',
		expires_at  TIMESTAMPTZ,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (agent_id, tool, context_key),
		UNIQUE (agent_id, tool, external_id)
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_events (
		id           TEXT PRIMARY KEY,
		tool         TEXT NOT NULL,
		event_type   TEXT NOT NULL,
		resource_id  TEXT NOT NULL,
		payload      JSONB NOT NULL DEFAULT '{}',
		status       TEXT NOT NULL DEFAULT 'pending',
		error        TEXT NOT NULL DEFAULT '',
		received_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		processed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_events_pending
		ON webhook_events (received_at) WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS webhook_subscriptions (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		agent_id    TEXT NOT NULL DEFAULT '',
		tool        TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		external_id TEXT NOT NULL DEFAULT '',
		expires_at  TIMESTAMPTZ,
		status      TEXT NOT NULL DEFAULT 'active',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (tool, resource_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_subscriptions_renewal
		ON webhook_subscriptions (expires_at) WHERE status <> 'cancelled'`,
}

// EnsureSchema creates all tables and indexes if missing.
func EnsureSchema(ctx context.Context, db DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensuring schema: %w", err)
		}
	}
	logger.FromContext(ctx).Debug("schema ensured", "statements", len(schemaStatements))
	return nil
}
