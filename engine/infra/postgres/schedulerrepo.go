package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/scheduler"
)

const taskColumnsSQL = "id, agent_id, user_id, tool, action, payload, execute_at, " +
	"status, attempts, result, error, created_at, updated_at"

// claimDueSQL atomically claims one batch of due tasks. SKIP LOCKED makes
// concurrent sweeps take disjoint sets without blocking each other.
const claimDueSQL = `UPDATE scheduled_tasks SET
	status = 'processing', attempts = attempts + 1, updated_at = now()
	WHERE id IN (
		SELECT id FROM scheduled_tasks
		WHERE status = 'scheduled' AND execute_at <= $1
		ORDER BY execute_at, created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	)
	RETURNING ` + taskColumnsSQL

// ScheduledTaskRepo implements scheduler.Repository on Postgres.
type ScheduledTaskRepo struct {
	db DB
}

func NewScheduledTaskRepo(db DB) *ScheduledTaskRepo {
	return &ScheduledTaskRepo{db: db}
}

func (r *ScheduledTaskRepo) Insert(ctx context.Context, t *scheduler.Task) (*scheduler.Task, error) {
	if t.ID.IsZero() {
		t.ID = core.MustNewID()
	}
	payload, err := toJSONB(t.Payload, "{}")
	if err != nil {
		return nil, err
	}
	sql, args, err := squirrel.Insert("scheduled_tasks").
		Columns("id", "agent_id", "user_id", "tool", "action", "payload", "execute_at", "status", "attempts").
		Values(t.ID, t.AgentID, t.UserID, t.Tool, t.Action, payload, t.ExecuteAt, t.Status, t.Attempts).
		Suffix("RETURNING " + taskColumnsSQL).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building insert: %w", err)
	}
	var stored scheduler.Task
	if err := pgxscan.Get(ctx, r.db, &stored, sql, args...); err != nil {
		return nil, fmt.Errorf("inserting task: %w", err)
	}
	return &stored, nil
}

func (r *ScheduledTaskRepo) Get(ctx context.Context, id core.ID) (*scheduler.Task, error) {
	sql, args, err := squirrel.Select(taskColumnsSQL).
		From("scheduled_tasks").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var t scheduler.Task
	if err := pgxscan.Get(ctx, r.db, &t, sql, args...); err != nil {
		if pgxscan.NotFound(err) || errors.Is(err, pgx.ErrNoRows) {
			return nil, scheduler.ErrNotFound
		}
		return nil, fmt.Errorf("scanning task: %w", err)
	}
	return &t, nil
}

func (r *ScheduledTaskRepo) ListByUser(ctx context.Context, userID string) ([]*scheduler.Task, error) {
	sql, args, err := squirrel.Select(taskColumnsSQL).
		From("scheduled_tasks").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("execute_at DESC").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var out []*scheduler.Task
	if err := pgxscan.Select(ctx, r.db, &out, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning tasks: %w", err)
	}
	return out, nil
}

func (r *ScheduledTaskRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*scheduler.Task, error) {
	var claimed []*scheduler.Task
	if err := pgxscan.Select(ctx, r.db, &claimed, claimDueSQL, now, limit); err != nil {
		return nil, fmt.Errorf("claiming due tasks: %w", err)
	}
	return claimed, nil
}

func (r *ScheduledTaskRepo) Complete(ctx context.Context, id core.ID, result *core.Result) error {
	raw, err := toJSONB(result, "null")
	if err != nil {
		return err
	}
	return r.finish(ctx, id, scheduler.StatusCompleted, raw, "")
}

func (r *ScheduledTaskRepo) Fail(ctx context.Context, id core.ID, errMsg string) error {
	return r.finish(ctx, id, scheduler.StatusFailed, nil, errMsg)
}

// finish writes a terminal status onto a processing row; terminal rows are
// immutable.
func (r *ScheduledTaskRepo) finish(ctx context.Context, id core.ID, status scheduler.Status, result []byte, errMsg string) error {
	sb := squirrel.Update("scheduled_tasks").
		Set("status", status).
		Set("error", errMsg).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id, "status": scheduler.StatusProcessing}).
		PlaceholderFormat(squirrel.Dollar)
	if result != nil {
		sb = sb.Set("result", result)
	}
	sql, args, err := sb.ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("finishing task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionError(ctx, id)
	}
	return nil
}

func (r *ScheduledTaskRepo) Cancel(ctx context.Context, id core.ID) error {
	sql, args, err := squirrel.Update("scheduled_tasks").
		Set("status", scheduler.StatusCancelled).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id, "status": scheduler.StatusScheduled}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("cancelling task: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	t, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	// Cancelling twice is a no-op.
	if t.Status == scheduler.StatusCancelled {
		return nil
	}
	return scheduler.ErrInvalidTransition
}

func (r *ScheduledTaskRepo) ResetForRetry(ctx context.Context, id core.ID, executeAt time.Time, maxAttempts int) error {
	sql, args, err := squirrel.Update("scheduled_tasks").
		Set("status", scheduler.StatusScheduled).
		Set("execute_at", executeAt).
		Set("error", "").
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id, "status": scheduler.StatusFailed}).
		Where(squirrel.Lt{"attempts": maxAttempts}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("resetting task: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	t, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Status != scheduler.StatusFailed {
		return scheduler.ErrInvalidTransition
	}
	return scheduler.ErrAttemptsExhausted
}

func (r *ScheduledTaskRepo) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	sql, args, err := squirrel.Delete("scheduled_tasks").
		Where(squirrel.Eq{"status": []scheduler.Status{
			scheduler.StatusCompleted, scheduler.StatusFailed, scheduler.StatusCancelled,
		}}).
		Where(squirrel.Lt{"updated_at": cutoff}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building delete: %w", err)
	}
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting terminal tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// transitionError distinguishes a missing row from an illegal transition.
func (r *ScheduledTaskRepo) transitionError(ctx context.Context, id core.ID) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return scheduler.ErrInvalidTransition
}
