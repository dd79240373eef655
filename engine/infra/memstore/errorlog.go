package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/errorlog"
)

// ErrorLogRepo implements errorlog.Repository in memory.
type ErrorLogRepo struct {
	mu      sync.RWMutex
	entries []*errorlog.Entry
	byID    map[core.ID]*errorlog.Entry
}

func NewErrorLogRepo() *ErrorLogRepo {
	return &ErrorLogRepo{byID: make(map[core.ID]*errorlog.Entry)}
}

func (r *ErrorLogRepo) Insert(_ context.Context, e *errorlog.Entry) (core.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *e
	if stored.ID.IsZero() {
		stored.ID = core.MustNewID()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = nowUTC()
	}
	r.entries = append(r.entries, &stored)
	r.byID[stored.ID] = &stored
	return stored.ID, nil
}

func (r *ErrorLogRepo) Resolve(_ context.Context, id core.ID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok || e.Resolved {
		return errorlog.ErrNotFound
	}
	e.Resolved = true
	e.ResolvedAt = &at
	return nil
}

func (r *ErrorLogRepo) BulkResolve(_ context.Context, ids []core.ID, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range ids {
		if e, ok := r.byID[id]; ok && !e.Resolved {
			e.Resolved = true
			e.ResolvedAt = &at
			n++
		}
	}
	return n, nil
}

func (r *ErrorLogRepo) ListByAgent(_ context.Context, agentID string, limit int) ([]*errorlog.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*errorlog.Entry
	for _, e := range r.entries {
		if e.AgentID == agentID {
			copied := *e
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ErrorLogRepo) StatsByTool(_ context.Context, since time.Time) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int)
	for _, e := range r.entries {
		if !e.Timestamp.Before(since) {
			out[e.Tool]++
		}
	}
	return out, nil
}

func (r *ErrorLogRepo) CountsByDay(_ context.Context, since time.Time, tool string) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int)
	for _, e := range r.entries {
		if e.Timestamp.Before(since) {
			continue
		}
		if tool != "" && e.Tool != tool {
			continue
		}
		out[e.Timestamp.UTC().Format("2006-01-02")]++
	}
	return out, nil
}

func (r *ErrorLogRepo) TopCodes(_ context.Context, since time.Time, limit int) ([]errorlog.CodeCount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[core.ErrorCode]int)
	for _, e := range r.entries {
		if !e.Timestamp.Before(since) {
			counts[e.ErrorCode]++
		}
	}
	out := make([]errorlog.CodeCount, 0, len(counts))
	for code, n := range counts {
		out = append(out, errorlog.CodeCount{Code: code, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Code < out[j].Code
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FallbackRepo implements errorlog.FallbackRepository in memory.
type FallbackRepo struct {
	mu   sync.RWMutex
	rows map[string]*errorlog.FallbackMessage
}

func NewFallbackRepo() *FallbackRepo {
	return &FallbackRepo{rows: make(map[string]*errorlog.FallbackMessage)}
}

func (r *FallbackRepo) Upsert(_ context.Context, fm *errorlog.FallbackMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *fm
	r.rows[fm.Tool+"\x00"+fm.AgentID] = &copied
	return nil
}

func (r *FallbackRepo) List(_ context.Context) ([]*errorlog.FallbackMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*errorlog.FallbackMessage, 0, len(r.rows))
	for _, fm := range r.rows {
		copied := *fm
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tool != out[j].Tool {
			return out[i].Tool < out[j].Tool
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out, nil
}
