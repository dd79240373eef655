package memstore

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/toolbridge/toolbridge/engine/contextmap"
	"github.com/toolbridge/toolbridge/engine/core"
)

// ContextMappingRepo implements contextmap.Repository in memory.
type ContextMappingRepo struct {
	mu   sync.RWMutex
	rows map[core.ID]*contextmap.Mapping
}

func NewContextMappingRepo() *ContextMappingRepo {
	return &ContextMappingRepo{rows: make(map[core.ID]*contextmap.Mapping)}
}

func cloneMapping(m *contextmap.Mapping) *contextmap.Mapping {
	out := *m
	out.Metadata = maps.Clone(m.Metadata)
	return &out
}

func (r *ContextMappingRepo) Create(_ context.Context, m *contextmap.Mapping) (*contextmap.Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findByKeyLocked(m.AgentID, m.Tool, m.ContextKey) != nil {
		return nil, contextmap.ErrConflict
	}
	return r.storeLocked(m), nil
}

func (r *ContextMappingRepo) Upsert(_ context.Context, m *contextmap.Mapping) (*contextmap.Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.findByKeyLocked(m.AgentID, m.Tool, m.ContextKey); existing != nil {
		existing.ExternalID = m.ExternalID
		existing.Metadata = maps.Clone(m.Metadata)
		existing.ExpiresAt = m.ExpiresAt
		existing.UpdatedAt = nowUTC()
		return cloneMapping(existing), nil
	}
	return r.storeLocked(m), nil
}

func (r *ContextMappingRepo) storeLocked(m *contextmap.Mapping) *contextmap.Mapping {
	stored := cloneMapping(m)
	if stored.ID.IsZero() {
		stored.ID = core.MustNewID()
	}
	now := nowUTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.rows[stored.ID] = stored
	return cloneMapping(stored)
}

func (r *ContextMappingRepo) GetByID(_ context.Context, id core.ID) (*contextmap.Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.rows[id]; ok {
		return cloneMapping(m), nil
	}
	return nil, contextmap.ErrNotFound
}

func (r *ContextMappingRepo) GetByKey(_ context.Context, agentID, tool, contextKey string) (*contextmap.Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m := r.findByKeyLocked(agentID, tool, contextKey); m != nil {
		return cloneMapping(m), nil
	}
	return nil, contextmap.ErrNotFound
}

func (r *ContextMappingRepo) GetByExternalID(_ context.Context, agentID, tool, externalID string) (*contextmap.Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.rows {
		if m.AgentID == agentID && m.Tool == tool && m.ExternalID == externalID {
			return cloneMapping(m), nil
		}
	}
	return nil, contextmap.ErrNotFound
}

func (r *ContextMappingRepo) Update(_ context.Context, id core.ID, patch *contextmap.Patch) (*contextmap.Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return nil, contextmap.ErrNotFound
	}
	if patch.ExternalID != nil {
		m.ExternalID = *patch.ExternalID
	}
	if patch.Metadata != nil {
		m.Metadata = maps.Clone(patch.Metadata)
	}
	if patch.ExpiresAt != nil {
		m.ExpiresAt = patch.ExpiresAt
	}
	m.UpdatedAt = nowUTC()
	return cloneMapping(m), nil
}

func (r *ContextMappingRepo) DeleteByID(_ context.Context, id core.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return contextmap.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *ContextMappingRepo) DeleteByKey(_ context.Context, agentID, tool, contextKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.findByKeyLocked(agentID, tool, contextKey)
	if m == nil {
		return contextmap.ErrNotFound
	}
	delete(r.rows, m.ID)
	return nil
}

func (r *ContextMappingRepo) List(_ context.Context, agentID, tool string) ([]*contextmap.Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*contextmap.Mapping
	for _, m := range r.rows {
		if m.AgentID != agentID {
			continue
		}
		if tool != "" && m.Tool != tool {
			continue
		}
		out = append(out, cloneMapping(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContextKey < out[j].ContextKey })
	return out, nil
}

func (r *ContextMappingRepo) findByKeyLocked(agentID, tool, contextKey string) *contextmap.Mapping {
	for _, m := range r.rows {
		if m.AgentID == agentID && m.Tool == tool && m.ContextKey == contextKey {
			return m
		}
	}
	return nil
}
