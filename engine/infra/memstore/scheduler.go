package memstore

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/scheduler"
)

// ScheduledTaskRepo implements scheduler.Repository in memory. ClaimDue is
// serialized under the repo lock, so concurrent sweeps still take disjoint
// sets.
type ScheduledTaskRepo struct {
	mu   sync.Mutex
	rows map[core.ID]*scheduler.Task
}

func NewScheduledTaskRepo() *ScheduledTaskRepo {
	return &ScheduledTaskRepo{rows: make(map[core.ID]*scheduler.Task)}
}

func cloneTask(t *scheduler.Task) *scheduler.Task {
	out := *t
	out.Payload = maps.Clone(t.Payload)
	return &out
}

func (r *ScheduledTaskRepo) Insert(_ context.Context, t *scheduler.Task) (*scheduler.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := cloneTask(t)
	if stored.ID.IsZero() {
		stored.ID = core.MustNewID()
	}
	now := nowUTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.rows[stored.ID] = stored
	return cloneTask(stored), nil
}

func (r *ScheduledTaskRepo) Get(_ context.Context, id core.ID) (*scheduler.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.rows[id]
	if !ok {
		return nil, scheduler.ErrNotFound
	}
	return cloneTask(t), nil
}

func (r *ScheduledTaskRepo) ListByUser(_ context.Context, userID string) ([]*scheduler.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*scheduler.Task
	for _, t := range r.rows {
		if t.UserID == userID {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecuteAt.After(out[j].ExecuteAt) })
	return out, nil
}

func (r *ScheduledTaskRepo) ClaimDue(_ context.Context, now time.Time, limit int) ([]*scheduler.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*scheduler.Task
	for _, t := range r.rows {
		if t.Status == scheduler.StatusScheduled && !t.ExecuteAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ExecuteAt.Equal(due[j].ExecuteAt) {
			return due[i].ExecuteAt.Before(due[j].ExecuteAt)
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	claimed := make([]*scheduler.Task, 0, len(due))
	for _, t := range due {
		t.Status = scheduler.StatusProcessing
		t.Attempts++
		t.UpdatedAt = nowUTC()
		claimed = append(claimed, cloneTask(t))
	}
	return claimed, nil
}

func (r *ScheduledTaskRepo) Complete(_ context.Context, id core.ID, result *core.Result) error {
	return r.finish(id, scheduler.StatusCompleted, result, "")
}

func (r *ScheduledTaskRepo) Fail(_ context.Context, id core.ID, errMsg string) error {
	return r.finish(id, scheduler.StatusFailed, nil, errMsg)
}

func (r *ScheduledTaskRepo) finish(id core.ID, status scheduler.Status, result *core.Result, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.rows[id]
	if !ok {
		return scheduler.ErrNotFound
	}
	if t.Status != scheduler.StatusProcessing {
		return scheduler.ErrInvalidTransition
	}
	t.Status = status
	t.Error = errMsg
	if result != nil {
		t.Result = result
	}
	t.UpdatedAt = nowUTC()
	return nil
}

func (r *ScheduledTaskRepo) Cancel(_ context.Context, id core.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.rows[id]
	if !ok {
		return scheduler.ErrNotFound
	}
	switch t.Status {
	case scheduler.StatusScheduled:
		t.Status = scheduler.StatusCancelled
		t.UpdatedAt = nowUTC()
		return nil
	case scheduler.StatusCancelled:
		return nil
	default:
		return scheduler.ErrInvalidTransition
	}
}

func (r *ScheduledTaskRepo) ResetForRetry(_ context.Context, id core.ID, executeAt time.Time, maxAttempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.rows[id]
	if !ok {
		return scheduler.ErrNotFound
	}
	if t.Status != scheduler.StatusFailed {
		return scheduler.ErrInvalidTransition
	}
	if t.Attempts >= maxAttempts {
		return scheduler.ErrAttemptsExhausted
	}
	t.Status = scheduler.StatusScheduled
	t.ExecuteAt = executeAt
	t.Error = ""
	t.UpdatedAt = nowUTC()
	return nil
}

func (r *ScheduledTaskRepo) DeleteTerminalOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.rows {
		if t.Status.Terminal() && t.UpdatedAt.Before(cutoff) {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}
