package memstore

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/webhook"
)

// WebhookEventRepo implements webhook.EventRepository in memory.
type WebhookEventRepo struct {
	mu   sync.RWMutex
	rows map[core.ID]*webhook.Event
}

func NewWebhookEventRepo() *WebhookEventRepo {
	return &WebhookEventRepo{rows: make(map[core.ID]*webhook.Event)}
}

func cloneEvent(e *webhook.Event) *webhook.Event {
	out := *e
	out.Payload = maps.Clone(e.Payload)
	return &out
}

func (r *WebhookEventRepo) Insert(_ context.Context, e *webhook.Event) (*webhook.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := cloneEvent(e)
	if stored.ID.IsZero() {
		stored.ID = core.MustNewID()
	}
	if stored.ReceivedAt.IsZero() {
		stored.ReceivedAt = nowUTC()
	}
	r.rows[stored.ID] = stored
	return cloneEvent(stored), nil
}

func (r *WebhookEventRepo) Get(_ context.Context, id core.ID) (*webhook.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.rows[id]; ok {
		return cloneEvent(e), nil
	}
	return nil, webhook.ErrNotFound
}

func (r *WebhookEventRepo) MarkProcessed(_ context.Context, id core.ID, at time.Time) error {
	return r.mark(id, webhook.EventProcessed, "", at)
}

func (r *WebhookEventRepo) MarkFailed(_ context.Context, id core.ID, errMsg string, at time.Time) error {
	return r.mark(id, webhook.EventFailed, errMsg, at)
}

func (r *WebhookEventRepo) mark(id core.ID, status webhook.EventStatus, errMsg string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	if !ok {
		return webhook.ErrNotFound
	}
	e.Status = status
	e.Error = errMsg
	e.ProcessedAt = &at
	return nil
}

func (r *WebhookEventRepo) ListPending(_ context.Context, limit int) ([]*webhook.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*webhook.Event
	for _, e := range r.rows {
		if e.Status == webhook.EventPending {
			out = append(out, cloneEvent(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// WebhookSubscriptionRepo implements webhook.SubscriptionRepository in
// memory.
type WebhookSubscriptionRepo struct {
	mu   sync.RWMutex
	rows map[core.ID]*webhook.Subscription
}

func NewWebhookSubscriptionRepo() *WebhookSubscriptionRepo {
	return &WebhookSubscriptionRepo{rows: make(map[core.ID]*webhook.Subscription)}
}

func cloneSubscription(s *webhook.Subscription) *webhook.Subscription {
	out := *s
	return &out
}

func (r *WebhookSubscriptionRepo) Upsert(_ context.Context, s *webhook.Subscription) (*webhook.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := nowUTC()
	for _, existing := range r.rows {
		if existing.Tool == s.Tool && existing.ResourceID == s.ResourceID && existing.UserID == s.UserID {
			existing.AgentID = s.AgentID
			existing.ExternalID = s.ExternalID
			existing.ExpiresAt = s.ExpiresAt
			existing.Status = s.Status
			existing.UpdatedAt = now
			return cloneSubscription(existing), nil
		}
	}
	stored := cloneSubscription(s)
	if stored.ID.IsZero() {
		stored.ID = core.MustNewID()
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.rows[stored.ID] = stored
	return cloneSubscription(stored), nil
}

func (r *WebhookSubscriptionRepo) Get(_ context.Context, id core.ID) (*webhook.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.rows[id]; ok {
		return cloneSubscription(s), nil
	}
	return nil, webhook.ErrNotFound
}

func (r *WebhookSubscriptionRepo) GetByResource(_ context.Context, tool, resourceID string) (*webhook.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.rows {
		if s.Tool == tool && s.ResourceID == resourceID && s.Status == webhook.SubscriptionActive {
			return cloneSubscription(s), nil
		}
	}
	return nil, webhook.ErrNotFound
}

func (r *WebhookSubscriptionRepo) ListByUser(_ context.Context, userID string) ([]*webhook.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*webhook.Subscription
	for _, s := range r.rows {
		if s.UserID == userID {
			out = append(out, cloneSubscription(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tool != out[j].Tool {
			return out[i].Tool < out[j].Tool
		}
		return out[i].ResourceID < out[j].ResourceID
	})
	return out, nil
}

func (r *WebhookSubscriptionRepo) ListRenewable(_ context.Context, before time.Time) ([]*webhook.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*webhook.Subscription
	for _, s := range r.rows {
		if s.Status == webhook.SubscriptionCancelled {
			continue
		}
		expiring := s.ExpiresAt != nil && s.ExpiresAt.Before(before)
		if expiring || s.Status == webhook.SubscriptionError {
			out = append(out, cloneSubscription(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		switch {
		case out[i].ExpiresAt == nil:
			return false
		case out[j].ExpiresAt == nil:
			return true
		default:
			return out[i].ExpiresAt.Before(*out[j].ExpiresAt)
		}
	})
	return out, nil
}

func (r *WebhookSubscriptionRepo) UpdateExpiry(_ context.Context, id core.ID, externalID string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return webhook.ErrNotFound
	}
	s.ExternalID = externalID
	s.ExpiresAt = &expiresAt
	s.UpdatedAt = nowUTC()
	return nil
}

func (r *WebhookSubscriptionRepo) SetStatus(_ context.Context, id core.ID, status webhook.SubscriptionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return webhook.ErrNotFound
	}
	s.Status = status
	s.UpdatedAt = nowUTC()
	return nil
}
