package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/errorlog"
)

const errorLogColumnsSQL = "id, agent_id, user_id, tool, action, error_code, " +
	"error_message, payload, timestamp, resolved, resolved_at"

// ErrorLogRepo implements errorlog.Repository on Postgres.
type ErrorLogRepo struct {
	db DB
}

func NewErrorLogRepo(db DB) *ErrorLogRepo {
	return &ErrorLogRepo{db: db}
}

func (r *ErrorLogRepo) Insert(ctx context.Context, e *errorlog.Entry) (core.ID, error) {
	if e.ID.IsZero() {
		e.ID = core.MustNewID()
	}
	payload, err := toJSONB(e.Payload, "{}")
	if err != nil {
		return "", err
	}
	sql, args, err := squirrel.Insert("error_logs").
		Columns("id", "agent_id", "user_id", "tool", "action", "error_code",
			"error_message", "payload", "timestamp").
		Values(e.ID, e.AgentID, e.UserID, e.Tool, e.Action, e.ErrorCode,
			e.ErrorMessage, payload, e.Timestamp).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("building insert: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return "", fmt.Errorf("inserting error log: %w", err)
	}
	return e.ID, nil
}

func (r *ErrorLogRepo) Resolve(ctx context.Context, id core.ID, at time.Time) error {
	sql, args, err := squirrel.Update("error_logs").
		Set("resolved", true).
		Set("resolved_at", at).
		Where(squirrel.Eq{"id": id, "resolved": false}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("resolving error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errorlog.ErrNotFound
	}
	return nil
}

func (r *ErrorLogRepo) BulkResolve(ctx context.Context, ids []core.ID, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	sql, args, err := squirrel.Update("error_logs").
		Set("resolved", true).
		Set("resolved_at", at).
		Where(squirrel.Eq{"id": ids, "resolved": false}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building update: %w", err)
	}
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk resolving errors: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *ErrorLogRepo) ListByAgent(ctx context.Context, agentID string, limit int) ([]*errorlog.Entry, error) {
	sql, args, err := squirrel.Select(errorLogColumnsSQL).
		From("error_logs").
		Where(squirrel.Eq{"agent_id": agentID}).
		OrderBy("timestamp DESC").
		Limit(uint64(limit)).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var out []*errorlog.Entry
	if err := pgxscan.Select(ctx, r.db, &out, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning error logs: %w", err)
	}
	return out, nil
}

func (r *ErrorLogRepo) StatsByTool(ctx context.Context, since time.Time) (map[string]int, error) {
	sql, args, err := squirrel.Select("tool", "COUNT(*) AS count").
		From("error_logs").
		Where(squirrel.GtOrEq{"timestamp": since}).
		GroupBy("tool").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var rows []struct {
		Tool  string `db:"tool"`
		Count int    `db:"count"`
	}
	if err := pgxscan.Select(ctx, r.db, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning tool stats: %w", err)
	}
	stats := make(map[string]int, len(rows))
	for _, row := range rows {
		stats[row.Tool] = row.Count
	}
	return stats, nil
}

func (r *ErrorLogRepo) CountsByDay(ctx context.Context, since time.Time, tool string) (map[string]int, error) {
	sb := squirrel.Select(
		"to_char(timestamp AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day",
		"COUNT(*) AS count").
		From("error_logs").
		Where(squirrel.GtOrEq{"timestamp": since}).
		GroupBy("day").
		PlaceholderFormat(squirrel.Dollar)
	if tool != "" {
		sb = sb.Where(squirrel.Eq{"tool": tool})
	}
	sql, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var rows []struct {
		Day   string `db:"day"`
		Count int    `db:"count"`
	}
	if err := pgxscan.Select(ctx, r.db, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning day counts: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Day] = row.Count
	}
	return counts, nil
}

func (r *ErrorLogRepo) TopCodes(ctx context.Context, since time.Time, limit int) ([]errorlog.CodeCount, error) {
	sql, args, err := squirrel.Select("error_code", "COUNT(*) AS count").
		From("error_logs").
		Where(squirrel.GtOrEq{"timestamp": since}).
		GroupBy("error_code").
		OrderBy("count DESC").
		Limit(uint64(limit)).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var out []errorlog.CodeCount
	if err := pgxscan.Select(ctx, r.db, &out, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning top codes: %w", err)
	}
	return out, nil
}

// FallbackRepo implements errorlog.FallbackRepository on Postgres.
type FallbackRepo struct {
	db DB
}

func NewFallbackRepo(db DB) *FallbackRepo {
	return &FallbackRepo{db: db}
}

func (r *FallbackRepo) Upsert(ctx context.Context, fm *errorlog.FallbackMessage) error {
	sql, args, err := squirrel.Insert("fallback_messages").
		Columns("tool", "agent_id", "message").
		Values(fm.Tool, fm.AgentID, fm.Message).
		Suffix(`ON CONFLICT (tool, agent_id) DO UPDATE SET
			message = EXCLUDED.message, updated_at = now()`).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building upsert: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("upserting fallback message: %w", err)
	}
	return nil
}

func (r *FallbackRepo) List(ctx context.Context) ([]*errorlog.FallbackMessage, error) {
	sql, args, err := squirrel.Select("tool", "agent_id", "message").
		From("fallback_messages").
		OrderBy("tool", "agent_id").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var out []*errorlog.FallbackMessage
	if err := pgxscan.Select(ctx, r.db, &out, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning fallback messages: %w", err)
	}
	return out, nil
}
