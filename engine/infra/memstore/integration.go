package memstore

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/integration"
)

// IntegrationRepo implements integration.Repository in memory.
type IntegrationRepo struct {
	mu   sync.RWMutex
	rows map[core.ID]*integration.Integration
}

func NewIntegrationRepo() *IntegrationRepo {
	return &IntegrationRepo{rows: make(map[core.ID]*integration.Integration)}
}

func cloneIntegration(in *integration.Integration) *integration.Integration {
	out := *in
	out.Scopes = append([]string(nil), in.Scopes...)
	out.Metadata = maps.Clone(in.Metadata)
	return &out
}

func (r *IntegrationRepo) Upsert(_ context.Context, in *integration.Integration) (*integration.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := nowUTC()
	stored := cloneIntegration(in)
	if existing := r.findLocked(in.UserID, in.ToolName); existing != nil {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	} else {
		if stored.ID.IsZero() {
			stored.ID = core.MustNewID()
		}
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	r.rows[stored.ID] = stored
	return cloneIntegration(stored), nil
}

func (r *IntegrationRepo) Get(_ context.Context, userID, toolName string) (*integration.Integration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if in := r.findLocked(userID, toolName); in != nil {
		return cloneIntegration(in), nil
	}
	return nil, integration.ErrNotFound
}

func (r *IntegrationRepo) ListByUser(_ context.Context, userID string) ([]*integration.Integration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*integration.Integration
	for _, in := range r.rows {
		if in.UserID == userID {
			out = append(out, cloneIntegration(in))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ToolName < out[j].ToolName })
	return out, nil
}

func (r *IntegrationRepo) UpdateTokens(_ context.Context, id core.ID, accessToken, refreshToken string, expiresAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.rows[id]
	if !ok {
		return integration.ErrNotFound
	}
	in.AccessToken = accessToken
	in.RefreshToken = refreshToken
	in.ExpiresAt = expiresAt
	in.Status = integration.StatusActive
	in.UpdatedAt = nowUTC()
	return nil
}

func (r *IntegrationRepo) SetStatus(_ context.Context, id core.ID, status integration.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.rows[id]
	if !ok {
		return integration.ErrNotFound
	}
	in.Status = status
	in.UpdatedAt = nowUTC()
	return nil
}

func (r *IntegrationRepo) findLocked(userID, toolName string) *integration.Integration {
	for _, in := range r.rows {
		if in.UserID == userID && in.ToolName == toolName {
			return in
		}
	}
	return nil
}
