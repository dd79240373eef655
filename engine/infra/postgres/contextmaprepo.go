package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/toolbridge/toolbridge/engine/contextmap"
	"github.com/toolbridge/toolbridge/engine/core"
)

const mappingColumnsSQL = "id, agent_id, user_id, tool, context_key, external_id, " +
	"metadata, expires_at, created_at, updated_at"

const pgUniqueViolation = "23505"

// ContextMappingRepo implements contextmap.Repository on Postgres.
type ContextMappingRepo struct {
	db DB
}

func NewContextMappingRepo(db DB) *ContextMappingRepo {
	return &ContextMappingRepo{db: db}
}

func (r *ContextMappingRepo) Create(ctx context.Context, m *contextmap.Mapping) (*contextmap.Mapping, error) {
	if m.ID.IsZero() {
		m.ID = core.MustNewID()
	}
	metadata, err := toJSONB(m.Metadata, "{}")
	if err != nil {
		return nil, err
	}
	sql, args, err := squirrel.Insert("context_mappings").
		Columns("id", "agent_id", "user_id", "tool", "context_key", "external_id", "metadata", "expires_at").
		Values(m.ID, m.AgentID, m.UserID, m.Tool, m.ContextKey, m.ExternalID, metadata, m.ExpiresAt).
		Suffix("RETURNING " + mappingColumnsSQL).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building insert: %w", err)
	}
	var stored contextmap.Mapping
	if err := pgxscan.Get(ctx, r.db, &stored, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, contextmap.ErrConflict
		}
		return nil, fmt.Errorf("inserting mapping: %w", err)
	}
	return &stored, nil
}

func (r *ContextMappingRepo) Upsert(ctx context.Context, m *contextmap.Mapping) (*contextmap.Mapping, error) {
	if m.ID.IsZero() {
		m.ID = core.MustNewID()
	}
	metadata, err := toJSONB(m.Metadata, "{}")
	if err != nil {
		return nil, err
	}
	sql, args, err := squirrel.Insert("context_mappings").
		Columns("id", "agent_id", "user_id", "tool", "context_key", "external_id", "metadata", "expires_at").
		Values(m.ID, m.AgentID, m.UserID, m.Tool, m.ContextKey, m.ExternalID, metadata, m.ExpiresAt).
		Suffix(`ON CONFLICT (agent_id, tool, context_key) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			metadata = EXCLUDED.metadata,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()
			RETURNING ` + mappingColumnsSQL).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building upsert: %w", err)
	}
	var stored contextmap.Mapping
	if err := pgxscan.Get(ctx, r.db, &stored, sql, args...); err != nil {
		return nil, fmt.Errorf("upserting mapping: %w", err)
	}
	return &stored, nil
}

func (r *ContextMappingRepo) GetByID(ctx context.Context, id core.ID) (*contextmap.Mapping, error) {
	return r.getWhere(ctx, squirrel.Eq{"id": id})
}

func (r *ContextMappingRepo) GetByKey(ctx context.Context, agentID, tool, contextKey string) (*contextmap.Mapping, error) {
	return r.getWhere(ctx, squirrel.Eq{"agent_id": agentID, "tool": tool, "context_key": contextKey})
}

func (r *ContextMappingRepo) GetByExternalID(ctx context.Context, agentID, tool, externalID string) (*contextmap.Mapping, error) {
	return r.getWhere(ctx, squirrel.Eq{"agent_id": agentID, "tool": tool, "external_id": externalID})
}

func (r *ContextMappingRepo) getWhere(ctx context.Context, where squirrel.Eq) (*contextmap.Mapping, error) {
	sql, args, err := squirrel.Select(mappingColumnsSQL).
		From("context_mappings").
		Where(where).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var m contextmap.Mapping
	if err := pgxscan.Get(ctx, r.db, &m, sql, args...); err != nil {
		if pgxscan.NotFound(err) || errors.Is(err, pgx.ErrNoRows) {
			return nil, contextmap.ErrNotFound
		}
		return nil, fmt.Errorf("scanning mapping: %w", err)
	}
	return &m, nil
}

func (r *ContextMappingRepo) Update(ctx context.Context, id core.ID, patch *contextmap.Patch) (*contextmap.Mapping, error) {
	sb := squirrel.Update("context_mappings").
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING " + mappingColumnsSQL).
		PlaceholderFormat(squirrel.Dollar)
	if patch.ExternalID != nil {
		sb = sb.Set("external_id", *patch.ExternalID)
	}
	if patch.Metadata != nil {
		metadata, err := toJSONB(patch.Metadata, "{}")
		if err != nil {
			return nil, err
		}
		sb = sb.Set("metadata", metadata)
	}
	if patch.ExpiresAt != nil {
		sb = sb.Set("expires_at", *patch.ExpiresAt)
	}
	sql, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building update: %w", err)
	}
	var m contextmap.Mapping
	if err := pgxscan.Get(ctx, r.db, &m, sql, args...); err != nil {
		if pgxscan.NotFound(err) || errors.Is(err, pgx.ErrNoRows) {
			return nil, contextmap.ErrNotFound
		}
		return nil, fmt.Errorf("updating mapping: %w", err)
	}
	return &m, nil
}

func (r *ContextMappingRepo) DeleteByID(ctx context.Context, id core.ID) error {
	return r.deleteWhere(ctx, squirrel.Eq{"id": id})
}

func (r *ContextMappingRepo) DeleteByKey(ctx context.Context, agentID, tool, contextKey string) error {
	return r.deleteWhere(ctx, squirrel.Eq{"agent_id": agentID, "tool": tool, "context_key": contextKey})
}

func (r *ContextMappingRepo) deleteWhere(ctx context.Context, where squirrel.Eq) error {
	sql, args, err := squirrel.Delete("context_mappings").
		Where(where).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete: %w", err)
	}
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("deleting mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return contextmap.ErrNotFound
	}
	return nil
}

func (r *ContextMappingRepo) List(ctx context.Context, agentID, tool string) ([]*contextmap.Mapping, error) {
	sb := squirrel.Select(mappingColumnsSQL).
		From("context_mappings").
		Where(squirrel.Eq{"agent_id": agentID}).
		OrderBy("context_key").
		PlaceholderFormat(squirrel.Dollar)
	if tool != "" {
		sb = sb.Where(squirrel.Eq{"tool": tool})
	}
	sql, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var out []*contextmap.Mapping
	if err := pgxscan.Select(ctx, r.db, &out, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning mappings: %w", err)
	}
	return out, nil
}
