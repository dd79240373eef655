package errorlog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/infra/cache"
)

type memRepo struct {
	mu      sync.Mutex
	entries []*Entry
	failing bool
}

func (r *memRepo) Insert(_ context.Context, e *Entry) (core.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return "", fmt.Errorf("store unavailable")
	}
	cp := *e
	cp.ID = core.MustNewID()
	r.entries = append(r.entries, &cp)
	return cp.ID, nil
}

func (r *memRepo) Resolve(_ context.Context, id core.ID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ID == id {
			e.Resolved = true
			e.ResolvedAt = &at
			return nil
		}
	}
	return ErrNotFound
}

func (r *memRepo) BulkResolve(_ context.Context, ids []core.ID, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		for _, id := range ids {
			if e.ID == id && !e.Resolved {
				e.Resolved = true
				e.ResolvedAt = &at
				n++
			}
		}
	}
	return n, nil
}

func (r *memRepo) ListByAgent(_ context.Context, agentID string, limit int) ([]*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Entry
	for _, e := range r.entries {
		if e.AgentID == agentID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) StatsByTool(_ context.Context, since time.Time) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int)
	for _, e := range r.entries {
		if !e.Timestamp.Before(since) {
			out[e.Tool]++
		}
	}
	return out, nil
}

func (r *memRepo) CountsByDay(_ context.Context, since time.Time, tool string) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
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

func (r *memRepo) TopCodes(_ context.Context, since time.Time, limit int) ([]CodeCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[core.ErrorCode]int)
	for _, e := range r.entries {
		if !e.Timestamp.Before(since) {
			counts[e.ErrorCode]++
		}
	}
	out := make([]CodeCount, 0, len(counts))
	for code, n := range counts {
		out = append(out, CodeCount{Code: code, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memFallbacks struct {
	mu   sync.Mutex
	rows map[string]*FallbackMessage
}

func newMemFallbacks() *memFallbacks {
	return &memFallbacks{rows: make(map[string]*FallbackMessage)}
}

func (f *memFallbacks) Upsert(_ context.Context, fm *FallbackMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[fm.Tool+"|"+fm.AgentID] = fm
	return nil
}

func (f *memFallbacks) List(_ context.Context) ([]*FallbackMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FallbackMessage, 0, len(f.rows))
	for _, fm := range f.rows {
		out = append(out, fm)
	}
	return out, nil
}

func newTestHandler(t *testing.T) (*Handler, *memRepo, cache.KV) {
	t.Helper()
	repo := &memRepo{}
	kv := cache.NewMemoryAdapter()
	h := NewHandler(repo, newMemFallbacks(), kv)
	return h, repo, kv
}

func entry(agent, tool, action string, code core.ErrorCode) *Entry {
	return &Entry{
		AgentID: agent, UserID: "u1", Tool: tool, Action: action,
		ErrorCode: code, ErrorMessage: "boom",
	}
}

func TestHandler_LogError(t *testing.T) {
	t.Run("Should persist and bump both counters", func(t *testing.T) {
		h, repo, kv := newTestHandler(t)
		id := h.LogError(t.Context(), entry("a1", "slack", "send_message", core.CodeExecutionError))
		assert.False(t, id.IsZero())
		assert.Len(t, repo.entries, 1)

		raw, err := kv.Get(t.Context(), cache.ErrorCountKey("a1", "slack"))
		require.NoError(t, err)
		assert.Equal(t, "1", raw)
		raw, err = kv.Get(t.Context(), cache.ErrorCountActionKey("a1", "slack", "send_message"))
		require.NoError(t, err)
		assert.Equal(t, "1", raw)
	})

	t.Run("Should return empty id without throwing on store failure", func(t *testing.T) {
		h, repo, kv := newTestHandler(t)
		repo.failing = true
		id := h.LogError(t.Context(), entry("a1", "slack", "send_message", core.CodeExecutionError))
		assert.True(t, id.IsZero())
		// Counter still moves so circuit breaking keeps working.
		raw, err := kv.Get(t.Context(), cache.ErrorCountKey("a1", "slack"))
		require.NoError(t, err)
		assert.Equal(t, "1", raw)
	})
}

func TestHandler_CircuitBreaker(t *testing.T) {
	t.Run("Should open circuit strictly above threshold", func(t *testing.T) {
		h, _, _ := newTestHandler(t)
		ctx := t.Context()
		for range 10 {
			h.LogError(ctx, entry("a1", "slack", "send_message", core.CodeAPIError))
		}
		assert.False(t, h.ShouldDisableTool(ctx, "a1", "slack"))
		h.LogError(ctx, entry("a1", "slack", "send_message", core.CodeAPIError))
		assert.True(t, h.ShouldDisableTool(ctx, "a1", "slack"))
	})

	t.Run("Should keep circuits independent per agent and tool", func(t *testing.T) {
		h, _, _ := newTestHandler(t)
		ctx := t.Context()
		for range 11 {
			h.LogError(ctx, entry("a1", "slack", "send_message", core.CodeAPIError))
		}
		assert.True(t, h.ShouldDisableTool(ctx, "a1", "slack"))
		assert.False(t, h.ShouldDisableTool(ctx, "a2", "slack"))
		assert.False(t, h.ShouldDisableTool(ctx, "a1", "notion"))
	})
}

func TestHandler_ShouldRetry(t *testing.T) {
	t.Run("Should allow retries under the limit and stop at it", func(t *testing.T) {
		h, _, _ := newTestHandler(t)
		ctx := t.Context()
		assert.True(t, h.ShouldRetry(ctx, "a1", "slack", "send_message"))
		h.LogError(ctx, entry("a1", "slack", "send_message", core.CodeAPIError))
		assert.True(t, h.ShouldRetry(ctx, "a1", "slack", "send_message"))
		h.LogError(ctx, entry("a1", "slack", "send_message", core.CodeAPIError))
		assert.False(t, h.ShouldRetry(ctx, "a1", "slack", "send_message"))
	})

	t.Run("Should honor per-tool overrides", func(t *testing.T) {
		repo := &memRepo{}
		h := NewHandler(repo, newMemFallbacks(), cache.NewMemoryAdapter(), WithRetryLimit("gmail", 5))
		assert.Equal(t, 5, h.RetryLimit("gmail"))
		assert.Equal(t, 2, h.RetryLimit("slack"))
	})
}

func TestHandler_Fallbacks(t *testing.T) {
	t.Run("Should resolve hierarchy agent then tool then default", func(t *testing.T) {
		h, _, _ := newTestHandler(t)
		ctx := t.Context()
		assert.Equal(t, DefaultFallback, h.GetFallbackMessage("slack", "a1"))

		require.NoError(t, h.SetFallbackMessage(ctx, "default", "", "Something went wrong."))
		assert.Equal(t, "Something went wrong.", h.GetFallbackMessage("slack", "a1"))

		require.NoError(t, h.SetFallbackMessage(ctx, "slack", "", "Slack is unavailable."))
		assert.Equal(t, "Slack is unavailable.", h.GetFallbackMessage("slack", "a1"))

		require.NoError(t, h.SetFallbackMessage(ctx, "slack", "a1", "Your Slack connection needs attention."))
		assert.Equal(t, "Your Slack connection needs attention.", h.GetFallbackMessage("slack", "a1"))
		assert.Equal(t, "Slack is unavailable.", h.GetFallbackMessage("slack", "a2"))
	})

	t.Run("Should reload persisted messages on boot", func(t *testing.T) {
		fallbacks := newMemFallbacks()
		repo := &memRepo{}
		h := NewHandler(repo, fallbacks, cache.NewMemoryAdapter())
		require.NoError(t, h.SetFallbackMessage(t.Context(), "asana", "", "Asana is down."))

		restarted := NewHandler(repo, fallbacks, cache.NewMemoryAdapter())
		require.NoError(t, restarted.LoadFallbacks(t.Context()))
		assert.Equal(t, "Asana is down.", restarted.GetFallbackMessage("asana", ""))
	})
}

func TestHandler_Resolution(t *testing.T) {
	t.Run("Should resolve single entries", func(t *testing.T) {
		h, repo, _ := newTestHandler(t)
		id := h.LogError(t.Context(), entry("a1", "slack", "send_message", core.CodeAPIError))
		require.NoError(t, h.ResolveError(t.Context(), id))
		assert.True(t, repo.entries[0].Resolved)
		assert.NotNil(t, repo.entries[0].ResolvedAt)
	})

	t.Run("Should return zero for empty bulk resolve without store calls", func(t *testing.T) {
		h, repo, _ := newTestHandler(t)
		repo.failing = true // would error if touched
		n, err := h.BulkResolveErrors(t.Context(), nil)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}

func TestHandler_Statistics(t *testing.T) {
	t.Run("Should zero-fill trends across the full window", func(t *testing.T) {
		h, repo, _ := newTestHandler(t)
		now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
		h.now = func() time.Time { return now }
		repo.entries = append(repo.entries, &Entry{
			ID: core.MustNewID(), AgentID: "a1", Tool: "slack",
			ErrorCode: core.CodeAPIError, Timestamp: now.Add(-48 * time.Hour),
		})

		points, err := h.GetErrorTrends(t.Context(), 7, "")
		require.NoError(t, err)
		require.Len(t, points, 7)
		assert.Equal(t, "2026-08-18", points[0].Date)
		assert.Equal(t, "2026-08-24", points[6].Date)
		for i := 1; i < len(points); i++ {
			assert.Less(t, points[i-1].Date, points[i].Date)
		}
		total := 0
		for _, p := range points {
			total += p.Count
		}
		assert.Equal(t, 1, total)
	})

	t.Run("Should aggregate stats by tool", func(t *testing.T) {
		h, _, _ := newTestHandler(t)
		ctx := t.Context()
		h.LogError(ctx, entry("a1", "slack", "send_message", core.CodeAPIError))
		h.LogError(ctx, entry("a1", "slack", "send_message", core.CodeAPIError))
		h.LogError(ctx, entry("a1", "notion", "create_task", core.CodeNetworkError))

		stats, err := h.GetErrorStatsByTool(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, 2, stats["slack"])
		assert.Equal(t, 1, stats["notion"])
	})

	t.Run("Should rank most frequent codes", func(t *testing.T) {
		h, _, _ := newTestHandler(t)
		ctx := t.Context()
		for range 3 {
			h.LogError(ctx, entry("a1", "slack", "send_message", core.CodeAPIError))
		}
		h.LogError(ctx, entry("a1", "slack", "send_message", core.CodeNetworkError))

		codes, err := h.GetMostFrequentErrorCodes(ctx, 5, 7)
		require.NoError(t, err)
		require.NotEmpty(t, codes)
		assert.Equal(t, core.CodeAPIError, codes[0].Code)
		assert.Equal(t, 3, codes[0].Count)
	})

	t.Run("Should cap agent errors at the limit newest first", func(t *testing.T) {
		h, _, _ := newTestHandler(t)
		ctx := t.Context()
		for i := range 15 {
			e := entry("a1", "slack", "send_message", core.CodeAPIError)
			e.Timestamp = time.Now().Add(time.Duration(i) * time.Second)
			h.LogError(ctx, e)
		}
		got, err := h.GetAgentErrors(ctx, "a1", 0)
		require.NoError(t, err)
		assert.Len(t, got, 10)
		assert.True(t, got[0].Timestamp.After(got[9].Timestamp))
	})
}
