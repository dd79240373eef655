package errorlog

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/infra/cache"
	"github.com/toolbridge/toolbridge/pkg/logger"
)

// DefaultFallback is the last-resort failure message when nothing more
// specific is configured.
const DefaultFallback = "The agent encountered an issue while trying to complete this task."

const (
	defaultCountTTL   = 3600 * time.Second
	defaultThreshold  = 10
	defaultRetryLimit = 2
	defaultFallbackID = "default"
)

// Handler performs error accounting: durable logging, sliding error counters
// in KV, circuit-break decisions and fallback message resolution. The KV
// counters are the sole authority for circuit state; no in-process counter
// is kept.
type Handler struct {
	repo       Repository
	fallbacks  FallbackRepository
	kv         cache.KV
	countTTL   time.Duration
	threshold  int64
	retryLimit int

	mu          sync.RWMutex
	retryLimits map[string]int
	messages    map[string]string
	now         func() time.Time
}

type Option func(*Handler)

// WithRetryLimit overrides the per-tool retry limit at construction.
func WithRetryLimit(tool string, limit int) Option {
	return func(h *Handler) { h.retryLimits[tool] = limit }
}

// WithThreshold overrides the circuit-break threshold.
func WithThreshold(n int64) Option {
	return func(h *Handler) { h.threshold = n }
}

// WithCountTTL overrides the sliding-window TTL on KV counters.
func WithCountTTL(ttl time.Duration) Option {
	return func(h *Handler) { h.countTTL = ttl }
}

func NewHandler(repo Repository, fallbacks FallbackRepository, kv cache.KV, opts ...Option) *Handler {
	h := &Handler{
		repo:        repo,
		fallbacks:   fallbacks,
		kv:          kv,
		countTTL:    defaultCountTTL,
		threshold:   defaultThreshold,
		retryLimit:  defaultRetryLimit,
		retryLimits: make(map[string]int),
		messages:    make(map[string]string),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// LoadFallbacks seeds the in-memory fallback table from the durable store.
// Called once at boot so custom messages survive restarts.
func (h *Handler) LoadFallbacks(ctx context.Context) error {
	stored, err := h.fallbacks.List(ctx)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, fm := range stored {
		h.messages[fallbackMapKey(fm.Tool, fm.AgentID)] = fm.Message
	}
	return nil
}

func fallbackMapKey(tool, agentID string) string {
	if agentID != "" {
		return tool + ":" + agentID
	}
	return tool
}

// LogError persists the entry and bumps both the tool-scoped and the
// action-scoped counters. It never returns an error: a store failure yields
// an empty id so callers on the failure path cannot fail again.
func (h *Handler) LogError(ctx context.Context, e *Entry) core.ID {
	log := logger.FromContext(ctx).With("component", "error_handler", "agent_id", e.AgentID, "tool", e.Tool)
	if e.Timestamp.IsZero() {
		e.Timestamp = h.now()
	}
	id, err := h.repo.Insert(ctx, e)
	if err != nil {
		log.Error("persisting error log failed", "error", err)
		id = ""
	}
	h.bump(ctx, cache.ErrorCountKey(e.AgentID, e.Tool))
	h.bump(ctx, cache.ErrorCountActionKey(e.AgentID, e.Tool, e.Action))
	return id
}

// bump increments a counter and refreshes its TTL, making the window
// sliding-approximate with O(1) state.
func (h *Handler) bump(ctx context.Context, key string) {
	if _, err := h.kv.Incr(ctx, key); err != nil {
		logger.FromContext(ctx).Warn("incrementing error counter failed", "key", key, "error", err)
		return
	}
	if _, err := h.kv.Expire(ctx, key, h.countTTL); err != nil {
		logger.FromContext(ctx).Warn("refreshing counter ttl failed", "key", key, "error", err)
	}
}

// ErrorCount reads the tool-scoped counter for (agent, tool).
func (h *Handler) ErrorCount(ctx context.Context, agentID, tool string) int64 {
	return h.readCount(ctx, cache.ErrorCountKey(agentID, tool))
}

func (h *Handler) readCount(ctx context.Context, key string) int64 {
	raw, err := h.kv.Get(ctx, key)
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ShouldDisableTool reports whether the circuit is open for (agent, tool):
// strictly more than the threshold errors inside the counter window.
func (h *Handler) ShouldDisableTool(ctx context.Context, agentID, tool string) bool {
	return h.ErrorCount(ctx, agentID, tool) > h.threshold
}

// ShouldRetry reports whether the action-scoped count is still under the
// tool's retry limit.
func (h *Handler) ShouldRetry(ctx context.Context, agentID, tool, action string) bool {
	count := h.readCount(ctx, cache.ErrorCountActionKey(agentID, tool, action))
	return count < int64(h.RetryLimit(tool))
}

// RetryLimit returns the configured limit for the tool, or the default.
func (h *Handler) RetryLimit(tool string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if limit, ok := h.retryLimits[tool]; ok {
		return limit
	}
	return h.retryLimit
}

// GetFallbackMessage resolves the failure message hierarchy:
// agent-scoped, then tool-scoped, then the stored default, then the constant.
func (h *Handler) GetFallbackMessage(tool, agentID string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if agentID != "" {
		if msg, ok := h.messages[fallbackMapKey(tool, agentID)]; ok {
			return msg
		}
	}
	if msg, ok := h.messages[tool]; ok {
		return msg
	}
	if msg, ok := h.messages[defaultFallbackID]; ok {
		return msg
	}
	return DefaultFallback
}

// SetFallbackMessage updates the in-memory table and mirrors the entry to the
// durable store so it survives restarts.
func (h *Handler) SetFallbackMessage(ctx context.Context, tool, agentID, message string) error {
	if err := h.fallbacks.Upsert(ctx, &FallbackMessage{Tool: tool, AgentID: agentID, Message: message}); err != nil {
		return err
	}
	h.mu.Lock()
	h.messages[fallbackMapKey(tool, agentID)] = message
	h.mu.Unlock()
	return nil
}

// ListFallbacks returns the stored fallback messages.
func (h *Handler) ListFallbacks(ctx context.Context) ([]*FallbackMessage, error) {
	return h.fallbacks.List(ctx)
}

// ResolveError marks one row resolved.
func (h *Handler) ResolveError(ctx context.Context, id core.ID) error {
	return h.repo.Resolve(ctx, id, h.now())
}

// BulkResolveErrors marks the given rows resolved, returning how many were
// updated. An empty slice returns 0 without touching the store.
func (h *Handler) BulkResolveErrors(ctx context.Context, ids []core.ID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return h.repo.BulkResolve(ctx, ids, h.now())
}

// GetAgentErrors returns the newest entries for the agent, default limit 10.
func (h *Handler) GetAgentErrors(ctx context.Context, agentID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	return h.repo.ListByAgent(ctx, agentID, limit)
}

// GetErrorStatsByTool aggregates error counts per tool over the window.
func (h *Handler) GetErrorStatsByTool(ctx context.Context, days int) (map[string]int, error) {
	if days <= 0 {
		days = 7
	}
	since := h.now().AddDate(0, 0, -days)
	return h.repo.StatsByTool(ctx, since)
}

// GetErrorTrends returns one point per day over the window, ascending by
// date, zero-filled for days without errors.
func (h *Handler) GetErrorTrends(ctx context.Context, days int, tool string) ([]TrendPoint, error) {
	if days <= 0 {
		days = 30
	}
	today := h.now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(days - 1))
	counts, err := h.repo.CountsByDay(ctx, start, tool)
	if err != nil {
		return nil, err
	}
	points := make([]TrendPoint, 0, days)
	for d := start; !d.After(today); d = d.AddDate(0, 0, 1) {
		date := d.Format("2006-01-02")
		points = append(points, TrendPoint{Date: date, Count: counts[date]})
	}
	return points, nil
}

// GetMostFrequentErrorCodes returns the top codes by count over the window.
func (h *Handler) GetMostFrequentErrorCodes(ctx context.Context, limit, days int) ([]CodeCount, error) {
	if limit <= 0 {
		limit = 5
	}
	if days <= 0 {
		days = 7
	}
	since := h.now().AddDate(0, 0, -days)
	return h.repo.TopCodes(ctx, since, limit)
}
