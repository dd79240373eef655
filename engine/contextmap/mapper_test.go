package contextmap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/infra/cache"
)

type memRepo struct {
	mu   sync.Mutex
	rows map[core.ID]*Mapping
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[core.ID]*Mapping)}
}

func (r *memRepo) findByKey(agentID, tool, contextKey string) *Mapping {
	for _, m := range r.rows {
		if m.AgentID == agentID && m.Tool == tool && m.ContextKey == contextKey {
			return m
		}
	}
	return nil
}

func (r *memRepo) Create(_ context.Context, m *Mapping) (*Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findByKey(m.AgentID, m.Tool, m.ContextKey) != nil {
		return nil, ErrConflict
	}
	cp := *m
	cp.ID = core.MustNewID()
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	r.rows[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memRepo) Upsert(_ context.Context, m *Mapping) (*Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.findByKey(m.AgentID, m.Tool, m.ContextKey); existing != nil {
		existing.ExternalID = m.ExternalID
		existing.Metadata = m.Metadata
		existing.ExpiresAt = m.ExpiresAt
		existing.UpdatedAt = time.Now()
		out := *existing
		return &out, nil
	}
	cp := *m
	cp.ID = core.MustNewID()
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	r.rows[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memRepo) GetByID(_ context.Context, id core.ID) (*Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.rows[id]; ok {
		out := *m
		return &out, nil
	}
	return nil, ErrNotFound
}

func (r *memRepo) GetByKey(_ context.Context, agentID, tool, contextKey string) (*Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m := r.findByKey(agentID, tool, contextKey); m != nil {
		out := *m
		return &out, nil
	}
	return nil, ErrNotFound
}

func (r *memRepo) GetByExternalID(_ context.Context, agentID, tool, externalID string) (*Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.rows {
		if m.AgentID == agentID && m.Tool == tool && m.ExternalID == externalID {
			out := *m
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memRepo) Update(_ context.Context, id core.ID, patch *Patch) (*Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.ExternalID != nil {
		m.ExternalID = *patch.ExternalID
	}
	if patch.Metadata != nil {
		m.Metadata = patch.Metadata
	}
	if patch.ExpiresAt != nil {
		m.ExpiresAt = patch.ExpiresAt
	}
	m.UpdatedAt = time.Now()
	out := *m
	return &out, nil
}

func (r *memRepo) DeleteByID(_ context.Context, id core.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *memRepo) DeleteByKey(_ context.Context, agentID, tool, contextKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m := r.findByKey(agentID, tool, contextKey); m != nil {
		delete(r.rows, m.ID)
		return nil
	}
	return ErrNotFound
}

func (r *memRepo) List(_ context.Context, agentID, tool string) ([]*Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Mapping
	for _, m := range r.rows {
		if m.AgentID == agentID && m.Tool == tool {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func newTestMapper(t *testing.T) (*Mapper, cache.KV) {
	t.Helper()
	kv := cache.NewMemoryAdapter()
	return NewMapper(newMemRepo(), kv, 0), kv
}

func TestMapper_RoundTrip(t *testing.T) {
	t.Run("Should resolve forward and reverse after upsert", func(t *testing.T) {
		m, _ := newTestMapper(t)
		ctx := t.Context()
		_, err := m.UpsertMapping(ctx, &Mapping{
			AgentID: "a1", UserID: "u1", Tool: "slack",
			ContextKey: "channel", ExternalID: "C123",
		})
		require.NoError(t, err)

		ext, err := m.GetExternalID(ctx, "a1", "slack", "channel")
		require.NoError(t, err)
		assert.Equal(t, "C123", ext)

		key, err := m.GetContextKey(ctx, "a1", "slack", "C123")
		require.NoError(t, err)
		assert.Equal(t, "channel", key)
	})

	t.Run("Should miss after delete", func(t *testing.T) {
		m, _ := newTestMapper(t)
		ctx := t.Context()
		_, err := m.UpsertMapping(ctx, &Mapping{
			AgentID: "a1", UserID: "u1", Tool: "slack",
			ContextKey: "channel", ExternalID: "C123",
		})
		require.NoError(t, err)
		require.NoError(t, m.DeleteMappingByKey(ctx, "a1", "slack", "channel"))

		_, err = m.GetMapping(ctx, "a1", "slack", "channel")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = m.GetExternalID(ctx, "a1", "slack", "channel")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Should reject conflicting create", func(t *testing.T) {
		m, _ := newTestMapper(t)
		ctx := t.Context()
		_, err := m.CreateMapping(ctx, &Mapping{AgentID: "a1", Tool: "slack", ContextKey: "k", ExternalID: "X1"})
		require.NoError(t, err)
		_, err = m.CreateMapping(ctx, &Mapping{AgentID: "a1", Tool: "slack", ContextKey: "k", ExternalID: "X2"})
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestMapper_CacheCoherence(t *testing.T) {
	t.Run("Should drop stale reverse key when externalID changes", func(t *testing.T) {
		m, kv := newTestMapper(t)
		ctx := t.Context()
		stored, err := m.UpsertMapping(ctx, &Mapping{
			AgentID: "a1", Tool: "notion", ContextKey: "db", ExternalID: "old-id",
		})
		require.NoError(t, err)

		newID := "new-id"
		_, err = m.UpdateMapping(ctx, stored.ID, &Patch{ExternalID: &newID})
		require.NoError(t, err)

		_, err = kv.Get(ctx, cache.ContextMapRevKey("a1", "notion", "old-id"))
		assert.ErrorIs(t, err, cache.ErrNotFound)
		key, err := m.GetContextKey(ctx, "a1", "notion", "new-id")
		require.NoError(t, err)
		assert.Equal(t, "db", key)
	})

	t.Run("Should upsert over existing key without stale reverse entry", func(t *testing.T) {
		m, kv := newTestMapper(t)
		ctx := t.Context()
		_, err := m.UpsertMapping(ctx, &Mapping{AgentID: "a1", Tool: "trello", ContextKey: "board", ExternalID: "B1"})
		require.NoError(t, err)
		_, err = m.UpsertMapping(ctx, &Mapping{AgentID: "a1", Tool: "trello", ContextKey: "board", ExternalID: "B2"})
		require.NoError(t, err)

		_, err = kv.Get(ctx, cache.ContextMapRevKey("a1", "trello", "B1"))
		assert.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("Should not cache mappings past their expiry", func(t *testing.T) {
		m, kv := newTestMapper(t)
		ctx := t.Context()
		expired := time.Now().Add(-time.Minute)
		_, err := m.UpsertMapping(ctx, &Mapping{
			AgentID: "a1", Tool: "asana", ContextKey: "proj", ExternalID: "P1", ExpiresAt: &expired,
		})
		require.NoError(t, err)
		_, err = kv.Get(ctx, cache.ContextMapKey("a1", "asana", "proj"))
		assert.ErrorIs(t, err, cache.ErrNotFound)
	})
}

func TestMapper_BulkOperations(t *testing.T) {
	t.Run("Should return zero for empty bulk calls", func(t *testing.T) {
		m, _ := newTestMapper(t)
		n, err := m.BulkUpsertMappings(t.Context(), nil)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		n, err = m.BulkDeleteMappings(t.Context(), "a1", "slack", nil)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("Should count successful upserts", func(t *testing.T) {
		m, _ := newTestMapper(t)
		ctx := t.Context()
		n, err := m.BulkUpsertMappings(ctx, []*Mapping{
			{AgentID: "a1", Tool: "slack", ContextKey: "c1", ExternalID: "C1"},
			{AgentID: "a1", Tool: "slack", ContextKey: "c2", ExternalID: "C2"},
			{AgentID: "a1", Tool: "slack", ContextKey: "", ExternalID: "C3"}, // invalid
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		got, err := m.ListMappings(ctx, "a1", "slack")
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("Should count per-key delete successes", func(t *testing.T) {
		m, _ := newTestMapper(t)
		ctx := t.Context()
		_, err := m.UpsertMapping(ctx, &Mapping{AgentID: "a1", Tool: "slack", ContextKey: "c1", ExternalID: "C1"})
		require.NoError(t, err)

		n, err := m.BulkDeleteMappings(ctx, "a1", "slack", []string{"c1", "missing"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}
