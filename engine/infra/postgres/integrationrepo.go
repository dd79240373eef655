package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/integration"
)

const integrationColumnsSQL = "id, user_id, tool_name, access_token, refresh_token, " +
	"expires_at, status, scopes, metadata, created_at, updated_at"

// IntegrationRepo implements integration.Repository on Postgres.
type IntegrationRepo struct {
	db DB
}

func NewIntegrationRepo(db DB) *IntegrationRepo {
	return &IntegrationRepo{db: db}
}

// toJSONB marshals a value for a jsonb column, defaulting empties so columns
// stay NOT NULL.
func toJSONB(v any, empty string) ([]byte, error) {
	if v == nil {
		return []byte(empty), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling jsonb: %w", err)
	}
	return raw, nil
}

func (r *IntegrationRepo) Upsert(ctx context.Context, in *integration.Integration) (*integration.Integration, error) {
	if in.ID.IsZero() {
		in.ID = core.MustNewID()
	}
	scopes, err := toJSONB(in.Scopes, "[]")
	if err != nil {
		return nil, err
	}
	metadata, err := toJSONB(in.Metadata, "{}")
	if err != nil {
		return nil, err
	}
	sql, args, err := squirrel.Insert("integrations").
		Columns("id", "user_id", "tool_name", "access_token", "refresh_token",
			"expires_at", "status", "scopes", "metadata").
		Values(in.ID, in.UserID, in.ToolName, in.AccessToken, in.RefreshToken,
			in.ExpiresAt, in.Status, scopes, metadata).
		Suffix(`ON CONFLICT (user_id, tool_name) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			status = EXCLUDED.status,
			scopes = EXCLUDED.scopes,
			metadata = EXCLUDED.metadata,
			updated_at = now()
			RETURNING ` + integrationColumnsSQL).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building upsert: %w", err)
	}
	var stored integration.Integration
	if err := pgxscan.Get(ctx, r.db, &stored, sql, args...); err != nil {
		return nil, fmt.Errorf("upserting integration: %w", err)
	}
	return &stored, nil
}

func (r *IntegrationRepo) Get(ctx context.Context, userID, toolName string) (*integration.Integration, error) {
	sql, args, err := squirrel.Select(integrationColumnsSQL).
		From("integrations").
		Where(squirrel.Eq{"user_id": userID, "tool_name": toolName}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var in integration.Integration
	if err := pgxscan.Get(ctx, r.db, &in, sql, args...); err != nil {
		if pgxscan.NotFound(err) || errors.Is(err, pgx.ErrNoRows) {
			return nil, integration.ErrNotFound
		}
		return nil, fmt.Errorf("scanning integration: %w", err)
	}
	return &in, nil
}

func (r *IntegrationRepo) ListByUser(ctx context.Context, userID string) ([]*integration.Integration, error) {
	sql, args, err := squirrel.Select(integrationColumnsSQL).
		From("integrations").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("tool_name").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var out []*integration.Integration
	if err := pgxscan.Select(ctx, r.db, &out, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning integrations: %w", err)
	}
	return out, nil
}

func (r *IntegrationRepo) UpdateTokens(ctx context.Context, id core.ID, accessToken, refreshToken string, expiresAt *time.Time) error {
	sql, args, err := squirrel.Update("integrations").
		Set("access_token", accessToken).
		Set("refresh_token", refreshToken).
		Set("expires_at", expiresAt).
		Set("status", integration.StatusActive).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("updating tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return integration.ErrNotFound
	}
	return nil
}

func (r *IntegrationRepo) SetStatus(ctx context.Context, id core.ID, status integration.Status) error {
	sql, args, err := squirrel.Update("integrations").
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
		return integration.ErrNotFound
	}
	return nil
}
