package integration

import (
	"context"
	"errors"
	"time"

	"github.com/toolbridge/toolbridge/engine/core"
)

// Status is the lifecycle state of a stored credential set.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
	StatusError   Status = "error"
)

// ErrNotFound is returned when no integration exists for (userID, toolName).
var ErrNotFound = errors.New("integration: not found")

// Integration is a stored OAuth credential set for (userID, toolName).
// Rows are never physically deleted; disconnect revokes in place.
type Integration struct {
	ID           core.ID        `json:"id" db:"id"`
	UserID       string         `json:"userId" db:"user_id"`
	ToolName     string         `json:"toolName" db:"tool_name"`
	AccessToken  string         `json:"accessToken" db:"access_token"`
	RefreshToken string         `json:"refreshToken,omitempty" db:"refresh_token"`
	ExpiresAt    *time.Time     `json:"expiresAt,omitempty" db:"expires_at"`
	Status       Status         `json:"status" db:"status"`
	Scopes       []string       `json:"scopes" db:"scopes"`
	Metadata     map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt    time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time      `json:"updatedAt" db:"updated_at"`
}

// Expired reports whether the access token is past its expiry. An absent
// expiry never expires.
func (i *Integration) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && !i.ExpiresAt.After(now)
}

// Redacted returns a copy safe for listing over HTTP: token material blanked.
func (i *Integration) Redacted() *Integration {
	out := *i
	out.AccessToken = ""
	out.RefreshToken = ""
	return &out
}

// AuthStatus is the connectivity report for (userID, toolName).
type AuthStatus struct {
	Connected bool       `json:"connected"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Scopes    []string   `json:"scopes,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Repository is the durable-store contract for integrations.
type Repository interface {
	// Upsert inserts or updates on the (userID, toolName) natural key and
	// returns the stored row.
	Upsert(ctx context.Context, in *Integration) (*Integration, error)
	Get(ctx context.Context, userID, toolName string) (*Integration, error)
	ListByUser(ctx context.Context, userID string) ([]*Integration, error)
	// UpdateTokens persists a refresh outcome.
	UpdateTokens(ctx context.Context, id core.ID, accessToken, refreshToken string, expiresAt *time.Time) error
	SetStatus(ctx context.Context, id core.ID, status Status) error
}
