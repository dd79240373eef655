package errorlog

import (
	"context"
	"errors"
	"time"

	"github.com/toolbridge/toolbridge/engine/core"
)

// ErrNotFound is returned when an error log row does not exist.
var ErrNotFound = errors.New("errorlog: not found")

// Entry is one recorded tool failure.
type Entry struct {
	ID           core.ID        `json:"id" db:"id"`
	AgentID      string         `json:"agentId" db:"agent_id"`
	UserID       string         `json:"userId" db:"user_id"`
	Tool         string         `json:"tool" db:"tool"`
	Action       string         `json:"action" db:"action"`
	ErrorCode    core.ErrorCode `json:"errorCode" db:"error_code"`
	ErrorMessage string         `json:"errorMessage" db:"error_message"`
	Payload      map[string]any `json:"payload,omitempty" db:"payload"`
	Timestamp    time.Time      `json:"timestamp" db:"timestamp"`
	Resolved     bool           `json:"resolved" db:"resolved"`
	ResolvedAt   *time.Time     `json:"resolvedAt,omitempty" db:"resolved_at"`
}

// CodeCount pairs an error code with its occurrence count.
type CodeCount struct {
	Code  core.ErrorCode `json:"code" db:"error_code"`
	Count int            `json:"count" db:"count"`
}

// TrendPoint is one day in an error trend series.
type TrendPoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Repository is the durable-store contract for error accounting.
type Repository interface {
	Insert(ctx context.Context, e *Entry) (core.ID, error)
	Resolve(ctx context.Context, id core.ID, at time.Time) error
	BulkResolve(ctx context.Context, ids []core.ID, at time.Time) (int, error)
	ListByAgent(ctx context.Context, agentID string, limit int) ([]*Entry, error)
	// StatsByTool aggregates counts per tool since the cutoff.
	StatsByTool(ctx context.Context, since time.Time) (map[string]int, error)
	// CountsByDay aggregates counts per calendar day (UTC, "2006-01-02")
	// since the cutoff, optionally filtered by tool.
	CountsByDay(ctx context.Context, since time.Time, tool string) (map[string]int, error)
	TopCodes(ctx context.Context, since time.Time, limit int) ([]CodeCount, error)
}

// FallbackMessage is a stored human-readable failure message. AgentID empty
// means tool-scoped.
type FallbackMessage struct {
	Tool    string `json:"tool" db:"tool"`
	AgentID string `json:"agentId,omitempty" db:"agent_id"`
	Message string `json:"message" db:"message"`
}

// FallbackRepository mirrors the in-memory fallback table so custom messages
// survive restarts.
type FallbackRepository interface {
	Upsert(ctx context.Context, fm *FallbackMessage) error
	List(ctx context.Context) ([]*FallbackMessage, error)
}
