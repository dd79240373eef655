package contextmap

import (
	"context"
	"fmt"
	"time"

	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/infra/cache"
	"github.com/toolbridge/toolbridge/pkg/logger"
)

const defaultCacheTTL = 3600 * time.Second

// Mapper owns bidirectional (contextKey <-> externalID) translation per
// (agent, tool). The durable store is authoritative; forward and reverse KV
// keys are derived copies. Every mutation touches the store first, then
// fixes both cache keys before returning.
type Mapper struct {
	repo     Repository
	kv       cache.KV
	cacheTTL time.Duration
	now      func() time.Time
}

func NewMapper(repo Repository, kv cache.KV, cacheTTL time.Duration) *Mapper {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &Mapper{repo: repo, kv: kv, cacheTTL: cacheTTL, now: time.Now}
}

// ttlFor bounds the cache TTL by the mapping's expiry when present.
func (m *Mapper) ttlFor(mp *Mapping) time.Duration {
	ttl := m.cacheTTL
	if mp.ExpiresAt != nil {
		until := mp.ExpiresAt.Sub(m.now())
		if until <= 0 {
			return 0
		}
		if until < ttl {
			ttl = until
		}
	}
	return ttl
}

func (m *Mapper) cachePut(ctx context.Context, mp *Mapping) {
	ttl := m.ttlFor(mp)
	if ttl <= 0 {
		return
	}
	log := logger.FromContext(ctx)
	if err := m.kv.Set(ctx, cache.ContextMapKey(mp.AgentID, mp.Tool, mp.ContextKey), mp.ExternalID, ttl); err != nil {
		log.Warn("caching forward mapping failed", "error", err)
	}
	if err := m.kv.Set(ctx, cache.ContextMapRevKey(mp.AgentID, mp.Tool, mp.ExternalID), mp.ContextKey, ttl); err != nil {
		log.Warn("caching reverse mapping failed", "error", err)
	}
}

func (m *Mapper) cacheDrop(ctx context.Context, mp *Mapping) {
	_, _ = m.kv.Del(ctx,
		cache.ContextMapKey(mp.AgentID, mp.Tool, mp.ContextKey),
		cache.ContextMapRevKey(mp.AgentID, mp.Tool, mp.ExternalID),
	)
}

// CreateMapping inserts a new mapping; the natural key must be free.
func (m *Mapper) CreateMapping(ctx context.Context, mp *Mapping) (*Mapping, error) {
	if err := validate(mp); err != nil {
		return nil, err
	}
	stored, err := m.repo.Create(ctx, mp)
	if err != nil {
		return nil, err
	}
	m.cachePut(ctx, stored)
	return stored, nil
}

// UpsertMapping inserts or replaces on the natural key.
func (m *Mapper) UpsertMapping(ctx context.Context, mp *Mapping) (*Mapping, error) {
	if err := validate(mp); err != nil {
		return nil, err
	}
	// A replaced row may point at a different externalID; its reverse key
	// must not survive the write.
	if prev, err := m.repo.GetByKey(ctx, mp.AgentID, mp.Tool, mp.ContextKey); err == nil && prev.ExternalID != mp.ExternalID {
		_, _ = m.kv.Del(ctx, cache.ContextMapRevKey(prev.AgentID, prev.Tool, prev.ExternalID))
	}
	stored, err := m.repo.Upsert(ctx, mp)
	if err != nil {
		return nil, err
	}
	m.cachePut(ctx, stored)
	return stored, nil
}

func validate(mp *Mapping) error {
	if mp.AgentID == "" || mp.Tool == "" || mp.ContextKey == "" || mp.ExternalID == "" {
		return fmt.Errorf("contextmap: agentId, tool, contextKey and externalId are required")
	}
	return nil
}

// GetMapping returns the full record for (agent, tool, contextKey).
func (m *Mapper) GetMapping(ctx context.Context, agentID, tool, contextKey string) (*Mapping, error) {
	return m.repo.GetByKey(ctx, agentID, tool, contextKey)
}

// GetExternalID is the forward lookup, served from cache when possible.
func (m *Mapper) GetExternalID(ctx context.Context, agentID, tool, contextKey string) (string, error) {
	if v, err := m.kv.Get(ctx, cache.ContextMapKey(agentID, tool, contextKey)); err == nil {
		return v, nil
	}
	mp, err := m.repo.GetByKey(ctx, agentID, tool, contextKey)
	if err != nil {
		return "", err
	}
	m.cachePut(ctx, mp)
	return mp.ExternalID, nil
}

// GetContextKey is the reverse lookup, served from cache when possible.
func (m *Mapper) GetContextKey(ctx context.Context, agentID, tool, externalID string) (string, error) {
	if v, err := m.kv.Get(ctx, cache.ContextMapRevKey(agentID, tool, externalID)); err == nil {
		return v, nil
	}
	mp, err := m.repo.GetByExternalID(ctx, agentID, tool, externalID)
	if err != nil {
		return "", err
	}
	m.cachePut(ctx, mp)
	return mp.ContextKey, nil
}

// UpdateMapping patches a mapping by id. When the externalID changes, the
// stale reverse key is deleted before the new one is written so no window
// exists where two reverse keys answer for the same row.
func (m *Mapper) UpdateMapping(ctx context.Context, id core.ID, patch *Patch) (*Mapping, error) {
	prev, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	updated, err := m.repo.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	if prev.ExternalID != updated.ExternalID {
		_, _ = m.kv.Del(ctx, cache.ContextMapRevKey(prev.AgentID, prev.Tool, prev.ExternalID))
	}
	m.cachePut(ctx, updated)
	return updated, nil
}

// DeleteMapping removes a mapping by id.
func (m *Mapper) DeleteMapping(ctx context.Context, id core.ID) error {
	mp, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := m.repo.DeleteByID(ctx, id); err != nil {
		return err
	}
	m.cacheDrop(ctx, mp)
	return nil
}

// DeleteMappingByKey removes a mapping by its natural key.
func (m *Mapper) DeleteMappingByKey(ctx context.Context, agentID, tool, contextKey string) error {
	mp, err := m.repo.GetByKey(ctx, agentID, tool, contextKey)
	if err != nil {
		return err
	}
	if err := m.repo.DeleteByKey(ctx, agentID, tool, contextKey); err != nil {
		return err
	}
	m.cacheDrop(ctx, mp)
	return nil
}

// ListMappings returns all mappings for (agent, tool).
func (m *Mapper) ListMappings(ctx context.Context, agentID, tool string) ([]*Mapping, error) {
	return m.repo.List(ctx, agentID, tool)
}

// BulkUpsertMappings upserts each mapping and returns how many succeeded.
// An empty input returns 0 without touching the store.
func (m *Mapper) BulkUpsertMappings(ctx context.Context, mappings []*Mapping) (int, error) {
	if len(mappings) == 0 {
		return 0, nil
	}
	log := logger.FromContext(ctx)
	n := 0
	for _, mp := range mappings {
		if _, err := m.UpsertMapping(ctx, mp); err != nil {
			log.Warn("bulk upsert entry failed", "agent_id", mp.AgentID, "context_key", mp.ContextKey, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// BulkDeleteMappings deletes each key and returns how many succeeded. There
// are no all-or-nothing semantics.
func (m *Mapper) BulkDeleteMappings(ctx context.Context, agentID, tool string, contextKeys []string) (int, error) {
	if len(contextKeys) == 0 {
		return 0, nil
	}
	n := 0
	for _, key := range contextKeys {
		if err := m.DeleteMappingByKey(ctx, agentID, tool, key); err != nil {
			continue
		}
		n++
	}
	return n, nil
}
