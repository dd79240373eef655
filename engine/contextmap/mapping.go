package contextmap

import (
	"context"
	"errors"
	"time"

	"github.com/toolbridge/toolbridge/engine/core"
)

// ErrNotFound is returned when no mapping matches the lookup.
var ErrNotFound = errors.New("contextmap: not found")

// ErrConflict is returned by Create when the natural key already exists.
var ErrConflict = errors.New("contextmap: mapping already exists")

// Mapping translates an agent-local identifier into a provider identifier.
// Natural key: (agentID, tool, contextKey). (agentID, tool, externalID) is
// unique as well so reverse lookups stay unambiguous.
type Mapping struct {
	ID         core.ID        `json:"id" db:"id"`
	AgentID    string         `json:"agentId" db:"agent_id"`
	UserID     string         `json:"userId" db:"user_id"`
	Tool       string         `json:"tool" db:"tool"`
	ContextKey string         `json:"contextKey" db:"context_key"`
	ExternalID string         `json:"externalId" db:"external_id"`
	Metadata   map[string]any `json:"metadata,omitempty" db:"metadata"`
	ExpiresAt  *time.Time     `json:"expiresAt,omitempty" db:"expires_at"`
	CreatedAt  time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time      `json:"updatedAt" db:"updated_at"`
}

// Patch carries the mutable fields for UpdateMapping. Nil means unchanged.
type Patch struct {
	ExternalID *string        `json:"externalId,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ExpiresAt  *time.Time     `json:"expiresAt,omitempty"`
}

// Repository is the durable-store contract for context mappings.
type Repository interface {
	Create(ctx context.Context, m *Mapping) (*Mapping, error)
	Upsert(ctx context.Context, m *Mapping) (*Mapping, error)
	GetByID(ctx context.Context, id core.ID) (*Mapping, error)
	GetByKey(ctx context.Context, agentID, tool, contextKey string) (*Mapping, error)
	GetByExternalID(ctx context.Context, agentID, tool, externalID string) (*Mapping, error)
	Update(ctx context.Context, id core.ID, patch *Patch) (*Mapping, error)
	DeleteByID(ctx context.Context, id core.ID) error
	DeleteByKey(ctx context.Context, agentID, tool, contextKey string) error
	List(ctx context.Context, agentID, tool string) ([]*Mapping, error)
}
