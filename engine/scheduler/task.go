package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/toolbridge/toolbridge/engine/core"
)

// Status is the lifecycle state of a scheduled task. Terminal states are
// write-once.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var (
	// ErrNotFound is returned when no task matches the id.
	ErrNotFound = errors.New("scheduler: task not found")
	// ErrInvalidTransition is returned for state changes the lifecycle
	// forbids, e.g. cancelling a processing task.
	ErrInvalidTransition = errors.New("scheduler: invalid status transition")
	// ErrAttemptsExhausted is returned by retry when the attempt budget is
	// spent.
	ErrAttemptsExhausted = errors.New("scheduler: attempts exhausted")
)

// Task is a deferred intent awaiting execution.
type Task struct {
	ID        core.ID        `json:"id" db:"id"`
	AgentID   string         `json:"agentId" db:"agent_id"`
	UserID    string         `json:"userId" db:"user_id"`
	Tool      string         `json:"tool" db:"tool"`
	Action    string         `json:"action" db:"action"`
	Payload   map[string]any `json:"payload,omitempty" db:"payload"`
	ExecuteAt time.Time      `json:"executeAt" db:"execute_at"`
	Status    Status         `json:"status" db:"status"`
	Attempts  int            `json:"attempts" db:"attempts"`
	Result    *core.Result   `json:"result,omitempty" db:"result"`
	Error     string         `json:"error,omitempty" db:"error"`
	CreatedAt time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time      `json:"updatedAt" db:"updated_at"`
}

// Intent reconstructs the immediate-path intent for execution.
func (t *Task) Intent() *core.TaskIntent {
	return &core.TaskIntent{
		AgentID: t.AgentID,
		UserID:  t.UserID,
		Tool:    t.Tool,
		Intent:  t.Action,
		Context: t.Payload,
	}
}

// Repository is the durable-store contract for scheduled tasks.
type Repository interface {
	Insert(ctx context.Context, t *Task) (*Task, error)
	Get(ctx context.Context, id core.ID) (*Task, error)
	ListByUser(ctx context.Context, userID string) ([]*Task, error)
	// ClaimDue atomically transitions up to limit due rows from scheduled to
	// processing, incrementing attempts, ordered by executeAt then createdAt.
	// Two concurrent claimers must receive disjoint sets.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Task, error)
	// Complete and Fail only apply to processing rows; terminal rows are
	// immutable.
	Complete(ctx context.Context, id core.ID, result *core.Result) error
	Fail(ctx context.Context, id core.ID, errMsg string) error
	// Cancel transitions scheduled to cancelled. Cancelling an already
	// cancelled task is a no-op; any other state is ErrInvalidTransition.
	Cancel(ctx context.Context, id core.ID) error
	// ResetForRetry moves a failed task back to scheduled at the given time
	// when its attempts are below maxAttempts.
	ResetForRetry(ctx context.Context, id core.ID, executeAt time.Time, maxAttempts int) error
	DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
