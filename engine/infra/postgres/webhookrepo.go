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
	"github.com/toolbridge/toolbridge/engine/webhook"
)

const webhookEventColumnsSQL = "id, tool, event_type, resource_id, payload, " +
	"status, error, received_at, processed_at"

const subscriptionColumnsSQL = "id, user_id, agent_id, tool, resource_id, " +
	"external_id, expires_at, status, created_at, updated_at"

// WebhookEventRepo implements webhook.EventRepository on Postgres.
type WebhookEventRepo struct {
	db DB
}

func NewWebhookEventRepo(db DB) *WebhookEventRepo {
	return &WebhookEventRepo{db: db}
}

func (r *WebhookEventRepo) Insert(ctx context.Context, e *webhook.Event) (*webhook.Event, error) {
	if e.ID.IsZero() {
		e.ID = core.MustNewID()
	}
	payload, err := toJSONB(e.Payload, "{}")
	if err != nil {
		return nil, err
	}
	sql, args, err := squirrel.Insert("webhook_events").
		Columns("id", "tool", "event_type", "resource_id", "payload", "status").
		Values(e.ID, e.Tool, e.EventType, e.ResourceID, payload, e.Status).
		Suffix("RETURNING " + webhookEventColumnsSQL).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building insert: %w", err)
	}
	var stored webhook.Event
	if err := pgxscan.Get(ctx, r.db, &stored, sql, args...); err != nil {
		return nil, fmt.Errorf("inserting webhook event: %w", err)
	}
	return &stored, nil
}

func (r *WebhookEventRepo) Get(ctx context.Context, id core.ID) (*webhook.Event, error) {
	sql, args, err := squirrel.Select(webhookEventColumnsSQL).
		From("webhook_events").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var e webhook.Event
	if err := pgxscan.Get(ctx, r.db, &e, sql, args...); err != nil {
		if pgxscan.NotFound(err) || errors.Is(err, pgx.ErrNoRows) {
			return nil, webhook.ErrNotFound
		}
		return nil, fmt.Errorf("scanning webhook event: %w", err)
	}
	return &e, nil
}

func (r *WebhookEventRepo) MarkProcessed(ctx context.Context, id core.ID, at time.Time) error {
	return r.mark(ctx, id, webhook.EventProcessed, "", at)
}

func (r *WebhookEventRepo) MarkFailed(ctx context.Context, id core.ID, errMsg string, at time.Time) error {
	return r.mark(ctx, id, webhook.EventFailed, errMsg, at)
}

func (r *WebhookEventRepo) mark(ctx context.Context, id core.ID, status webhook.EventStatus, errMsg string, at time.Time) error {
	sql, args, err := squirrel.Update("webhook_events").
		Set("status", status).
		Set("error", errMsg).
		Set("processed_at", at).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("marking webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

func (r *WebhookEventRepo) ListPending(ctx context.Context, limit int) ([]*webhook.Event, error) {
	sql, args, err := squirrel.Select(webhookEventColumnsSQL).
		From("webhook_events").
		Where(squirrel.Eq{"status": webhook.EventPending}).
		OrderBy("received_at").
		Limit(uint64(limit)).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var out []*webhook.Event
	if err := pgxscan.Select(ctx, r.db, &out, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning pending events: %w", err)
	}
	return out, nil
}

// WebhookSubscriptionRepo implements webhook.SubscriptionRepository on
// Postgres.
type WebhookSubscriptionRepo struct {
	db DB
}

func NewWebhookSubscriptionRepo(db DB) *WebhookSubscriptionRepo {
	return &WebhookSubscriptionRepo{db: db}
}

func (r *WebhookSubscriptionRepo) Upsert(ctx context.Context, s *webhook.Subscription) (*webhook.Subscription, error) {
	if s.ID.IsZero() {
		s.ID = core.MustNewID()
	}
	sql, args, err := squirrel.Insert("webhook_subscriptions").
		Columns("id", "user_id", "agent_id", "tool", "resource_id", "external_id", "expires_at", "status").
		Values(s.ID, s.UserID, s.AgentID, s.Tool, s.ResourceID, s.ExternalID, s.ExpiresAt, s.Status).
		Suffix(`ON CONFLICT (tool, resource_id, user_id) DO UPDATE SET
			agent_id = EXCLUDED.agent_id,
			external_id = EXCLUDED.external_id,
			expires_at = EXCLUDED.expires_at,
			status = EXCLUDED.status,
			updated_at = now()
			RETURNING ` + subscriptionColumnsSQL).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building upsert: %w", err)
	}
	var stored webhook.Subscription
	if err := pgxscan.Get(ctx, r.db, &stored, sql, args...); err != nil {
		return nil, fmt.Errorf("upserting subscription: %w", err)
	}
	return &stored, nil
}

func (r *WebhookSubscriptionRepo) Get(ctx context.Context, id core.ID) (*webhook.Subscription, error) {
	return r.getWhere(ctx, squirrel.Eq{"id": id})
}

func (r *WebhookSubscriptionRepo) GetByResource(ctx context.Context, tool, resourceID string) (*webhook.Subscription, error) {
	return r.getWhere(ctx, squirrel.Eq{
		"tool": tool, "resource_id": resourceID, "status": webhook.SubscriptionActive,
	})
}

func (r *WebhookSubscriptionRepo) getWhere(ctx context.Context, where squirrel.Eq) (*webhook.Subscription, error) {
	sql, args, err := squirrel.Select(subscriptionColumnsSQL).
		From("webhook_subscriptions").
		Where(where).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var s webhook.Subscription
	if err := pgxscan.Get(ctx, r.db, &s, sql, args...); err != nil {
		if pgxscan.NotFound(err) || errors.Is(err, pgx.ErrNoRows) {
			return nil, webhook.ErrNotFound
		}
		return nil, fmt.Errorf("scanning subscription: %w", err)
	}
	return &s, nil
}

func (r *WebhookSubscriptionRepo) ListByUser(ctx context.Context, userID string) ([]*webhook.Subscription, error) {
	sql, args, err := squirrel.Select(subscriptionColumnsSQL).
		From("webhook_subscriptions").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("tool", "resource_id").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var out []*webhook.Subscription
	if err := pgxscan.Select(ctx, r.db, &out, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning subscriptions: %w", err)
	}
	return out, nil
}

func (r *WebhookSubscriptionRepo) ListRenewable(ctx context.Context, before time.Time) ([]*webhook.Subscription, error) {
	sql, args, err := squirrel.Select(subscriptionColumnsSQL).
		From("webhook_subscriptions").
		Where(squirrel.NotEq{"status": webhook.SubscriptionCancelled}).
		Where(squirrel.Or{
			squirrel.Lt{"expires_at": before},
			squirrel.Eq{"status": webhook.SubscriptionError},
		}).
		OrderBy("expires_at").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var out []*webhook.Subscription
	if err := pgxscan.Select(ctx, r.db, &out, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning renewable subscriptions: %w", err)
	}
	return out, nil
}

func (r *WebhookSubscriptionRepo) UpdateExpiry(ctx context.Context, id core.ID, externalID string, expiresAt time.Time) error {
	sql, args, err := squirrel.Update("webhook_subscriptions").
		Set("external_id", externalID).
		Set("expires_at", expiresAt).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("updating expiry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

func (r *WebhookSubscriptionRepo) SetStatus(ctx context.Context, id core.ID, status webhook.SubscriptionStatus) error {
	sql, args, err := squirrel.Update("webhook_subscriptions").
		Set("status", status).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhook.ErrNotFound
	}
	return nil
}
