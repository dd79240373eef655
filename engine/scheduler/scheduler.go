package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/infra/cache"
	"github.com/toolbridge/toolbridge/pkg/logger"
)

const (
	defaultBatchSize   = 10
	defaultMaxAttempts = 3
	defaultRetryDelay  = 5 * time.Minute
)

// Executor runs a claimed task through the immediate dispatch path. The
// dispatcher implements it; the indirection keeps this package free of
// adapter imports.
type Executor interface {
	ExecuteTask(ctx context.Context, t *Task) *core.Result
}

// Scheduler persists future tasks and sweeps them when due. Claimed tasks
// are owned by the claiming sweep until a terminal status lands.
type Scheduler struct {
	repo        Repository
	kv          cache.KV
	executor    Executor
	batchSize   int
	maxAttempts int
	retryDelay  time.Duration
	now         func() time.Time
}

func NewScheduler(repo Repository, kv cache.KV, batchSize, maxAttempts int) *Scheduler {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Scheduler{
		repo:        repo,
		kv:          kv,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		retryDelay:  defaultRetryDelay,
		now:         time.Now,
	}
}

// SetExecutor wires the dispatcher in after construction; the dispatcher
// needs the scheduler too, so one side is attached late.
func (s *Scheduler) SetExecutor(e Executor) {
	s.executor = e
}

// Schedule persists a future task and mirrors it into KV with a TTL equal to
// the seconds until it is due, minimum one second.
func (s *Scheduler) Schedule(ctx context.Context, intent *core.TaskIntent) (*Task, error) {
	if intent.ScheduledTime == nil {
		return nil, fmt.Errorf("scheduler: intent has no scheduled time")
	}
	task := &Task{
		AgentID:   intent.AgentID,
		UserID:    intent.UserID,
		Tool:      intent.Tool,
		Action:    intent.Intent,
		Payload:   intent.Context,
		ExecuteAt: *intent.ScheduledTime,
		Status:    StatusScheduled,
		Attempts:  0,
	}
	stored, err := s.repo.Insert(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("scheduler: inserting task: %w", err)
	}
	s.mirror(ctx, stored)
	logger.FromContext(ctx).Info("task scheduled",
		"task_id", stored.ID, "tool", stored.Tool, "action", stored.Action, "execute_at", stored.ExecuteAt)
	return stored, nil
}

func (s *Scheduler) mirror(ctx context.Context, t *Task) {
	ttl := time.Until(t.ExecuteAt)
	if ttl < time.Second {
		ttl = time.Second
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := s.kv.Set(ctx, cache.ScheduledTaskKey(t.ID.String()), string(raw), ttl); err != nil {
		logger.FromContext(ctx).Warn("mirroring scheduled task failed", "task_id", t.ID, "error", err)
	}
}

// ProcessDueTasks claims one batch of due tasks and executes each through
// the dispatcher, writing a terminal status per task. Failed tasks are not
// re-enqueued here; retry is an explicit caller decision.
func (s *Scheduler) ProcessDueTasks(ctx context.Context) ([]*Task, error) {
	log := logger.FromContext(ctx).With("component", "scheduler")
	claimed, err := s.repo.ClaimDue(ctx, s.now(), s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("scheduler: claiming due tasks: %w", err)
	}
	if len(claimed) == 0 {
		return nil, nil
	}
	log.Info("claimed due tasks", "count", len(claimed))
	for _, task := range claimed {
		s.runClaimed(ctx, task)
	}
	return claimed, nil
}

// runClaimed executes one owned task. Cancellation between tasks is the
// sweeper's business; an already claimed task always reaches a terminal
// status.
func (s *Scheduler) runClaimed(ctx context.Context, task *Task) {
	log := logger.FromContext(ctx).With("task_id", task.ID, "tool", task.Tool, "action", task.Action)
	if s.executor == nil {
		s.finishFailed(ctx, task, "no executor configured")
		return
	}
	result := func() (res *core.Result) {
		defer func() {
			if r := recover(); r != nil {
				res = core.Fail(core.CodeExecutionError, fmt.Sprintf("panic: %v", r))
			}
		}()
		return s.executor.ExecuteTask(ctx, task)
	}()
	if result == nil {
		result = core.Fail(core.CodeExecutionError, "executor returned no result")
	}
	if result.Success {
		task.Status = StatusCompleted
		task.Result = result
		if err := s.repo.Complete(ctx, task.ID, result); err != nil {
			log.Error("writing completed status failed", "error", err)
			return
		}
		log.Info("scheduled task completed")
		return
	}
	s.finishFailed(ctx, task, result.Message)
}

func (s *Scheduler) finishFailed(ctx context.Context, task *Task, msg string) {
	log := logger.FromContext(ctx).With("task_id", task.ID)
	task.Status = StatusFailed
	task.Error = msg
	if err := s.repo.Fail(ctx, task.ID, msg); err != nil {
		log.Error("writing failed status failed", "error", err)
		return
	}
	log.Warn("scheduled task failed", "reason", msg)
}

// CancelTask cancels a pending task. Idempotent for already cancelled tasks.
func (s *Scheduler) CancelTask(ctx context.Context, id core.ID) error {
	if err := s.repo.Cancel(ctx, id); err != nil {
		return err
	}
	_, _ = s.kv.Del(ctx, cache.ScheduledTaskKey(id.String()))
	return nil
}

// RetryTask re-enqueues a failed task after the retry delay, subject to the
// attempt budget.
func (s *Scheduler) RetryTask(ctx context.Context, id core.ID) (*Task, error) {
	executeAt := s.now().Add(s.retryDelay)
	if err := s.repo.ResetForRetry(ctx, id, executeAt, s.maxAttempts); err != nil {
		return nil, err
	}
	task, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mirror(ctx, task)
	return task, nil
}

// GetTask returns one task by id.
func (s *Scheduler) GetTask(ctx context.Context, id core.ID) (*Task, error) {
	return s.repo.Get(ctx, id)
}

// ListTasks returns the user's scheduled tasks.
func (s *Scheduler) ListTasks(ctx context.Context, userID string) ([]*Task, error) {
	return s.repo.ListByUser(ctx, userID)
}

// CleanupCompletedTasks deletes terminal rows older than the cutoff.
func (s *Scheduler) CleanupCompletedTasks(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan)
	n, err := s.repo.DeleteTerminalOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("scheduler: cleanup: %w", err)
	}
	if n > 0 {
		logger.FromContext(ctx).Info("cleaned up terminal tasks", "count", n, "cutoff", cutoff)
	}
	return n, nil
}
