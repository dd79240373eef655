package adapter

import (
	"context"

	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/integration"
)

// Metadata describes a registered tool adapter.
type Metadata struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Version      string         `json:"version"`
	Author       string         `json:"author"`
	Scopes       []string       `json:"scopes,omitempty"`
	ConfigSchema map[string]any `json:"configSchema,omitempty"`
}

// Adapter is the per-tool contract. Expected failures (validation, provider
// errors, rate limits) come back as structured Results; a Go error escapes
// only on programmer error and is converted to EXECUTION_ERROR upstream.
type Adapter interface {
	Connect(ctx context.Context, userID string) (*integration.AuthStatus, error)
	IsConnected(ctx context.Context, userID string) bool
	Send(ctx context.Context, userID string, payload map[string]any) (*core.Result, error)
	Fetch(ctx context.Context, userID string, query map[string]any) (*core.Result, error)
	Disconnect(ctx context.Context, userID string) error
	Metadata() *Metadata
}
