package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/toolbridge/toolbridge/engine/adapter"
	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/errorlog"
	"github.com/toolbridge/toolbridge/engine/infra/cache"
	"github.com/toolbridge/toolbridge/engine/scheduler"
	"github.com/toolbridge/toolbridge/pkg/logger"
)

const (
	defaultResultTTL      = 300 * time.Second
	defaultAdapterTimeout = 30 * time.Second
)

// TaskScheduler is the slice of the scheduler the dispatcher needs for the
// deferred path.
type TaskScheduler interface {
	Schedule(ctx context.Context, intent *core.TaskIntent) (*scheduler.Task, error)
}

// Engine routes task intents to adapters: immediately when no scheduled time
// is set, otherwise through the scheduler. It also serves as the scheduler's
// executor, so swept tasks flow through the same pipeline.
type Engine struct {
	registry       *adapter.Registry
	errors         *errorlog.Handler
	tasks          TaskScheduler
	kv             cache.KV
	resultTTL      time.Duration
	adapterTimeout time.Duration
	now            func() time.Time
}

type Option func(*Engine)

func WithResultTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.resultTTL = ttl
		}
	}
}

func WithAdapterTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.adapterTimeout = d
		}
	}
}

func NewEngine(registry *adapter.Registry, errors *errorlog.Handler, tasks TaskScheduler, kv cache.KV, opts ...Option) *Engine {
	e := &Engine{
		registry:       registry,
		errors:         errors,
		tasks:          tasks,
		kv:             kv,
		resultTTL:      defaultResultTTL,
		adapterTimeout: defaultAdapterTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessIntent runs one intent through the full pipeline: schedule fork,
// adapter lookup, circuit check, connectivity check, execution, then error
// accounting or result caching. It always returns a Result; failures are
// structured, never panics or Go errors.
func (e *Engine) ProcessIntent(ctx context.Context, intent *core.TaskIntent) *core.Result {
	log := logger.FromContext(ctx).With(
		"component", "dispatcher", "agent_id", intent.AgentID, "tool", intent.Tool, "intent", intent.Intent)
	if err := intent.Validate(); err != nil {
		return core.Fail(core.CodeMissingFields, err.Error())
	}
	if intent.ScheduledTime != nil && intent.ScheduledTime.After(e.now()) {
		return e.schedule(ctx, intent)
	}

	ad, ok := e.registry.Get(intent.Tool)
	if !ok {
		// Caller bug, not a runtime fault: no error log entry, no circuit bump.
		log.Warn("no adapter registered")
		return core.Fail(core.CodeAdapterNotFound, "No adapter found for tool: "+intent.Tool)
	}
	if e.errors.ShouldDisableTool(ctx, intent.AgentID, intent.Tool) {
		fallback := e.errors.GetFallbackMessage(intent.Tool, intent.AgentID)
		msg := fmt.Sprintf("Tool %s is currently disabled due to excessive errors. %s", intent.Tool, fallback)
		log.Warn("tool disabled by circuit breaker")
		return core.Fail(core.CodeToolDisabled, msg)
	}
	if !ad.IsConnected(ctx, intent.UserID) {
		res := core.Fail(core.CodeNotConnected,
			fmt.Sprintf("user %s is not connected to %s", intent.UserID, intent.Tool))
		e.recordFailure(ctx, intent, res)
		return res
	}

	kind := core.ClassifyIntent(intent.Intent)
	res := e.execute(ctx, ad, intent, kind)
	if !res.Success {
		e.recordFailure(ctx, intent, res)
		return res
	}
	// Advisory cache for collaborators, never read back on dispatch.
	e.cacheResult(ctx, intent, res)
	log.Info("intent dispatched", "success", true)
	return res
}

// ExecuteTask adapts the scheduler's claimed-task callback onto the immediate
// path.
func (e *Engine) ExecuteTask(ctx context.Context, t *scheduler.Task) *core.Result {
	return e.ProcessIntent(ctx, t.Intent())
}

func (e *Engine) schedule(ctx context.Context, intent *core.TaskIntent) *core.Result {
	task, err := e.tasks.Schedule(ctx, intent)
	if err != nil {
		res := core.Fail(core.CodeDatabaseError, "failed to schedule task: "+err.Error())
		e.recordFailure(ctx, intent, res)
		return res
	}
	res := core.OK(fmt.Sprintf("Task scheduled for %s", task.ExecuteAt.Format(time.RFC3339)))
	res.Data = map[string]any{
		"taskId":        task.ID.String(),
		"scheduledTime": task.ExecuteAt,
		"status":        string(task.Status),
	}
	return res
}

func (e *Engine) execute(ctx context.Context, ad adapter.Adapter, intent *core.TaskIntent, kind core.IntentKind) *core.Result {
	execCtx, cancel := context.WithTimeout(ctx, e.adapterTimeout)
	defer cancel()

	args := make(map[string]any, len(intent.Context)+1)
	for k, v := range intent.Context {
		args[k] = v
	}
	args["action"] = intent.Intent

	var (
		res *core.Result
		err error
	)
	switch kind {
	case core.IntentRead:
		res, err = ad.Fetch(execCtx, intent.UserID, args)
	case core.IntentWrite:
		res, err = ad.Send(execCtx, intent.UserID, args)
	default:
		return core.Fail(core.CodeUnsupportedAction,
			fmt.Sprintf("cannot classify intent %q as read or write", intent.Intent))
	}
	if err != nil {
		return core.Fail(core.CodeExecutionError, err.Error())
	}
	if res == nil {
		return core.Fail(core.CodeExecutionError, "adapter returned no result")
	}
	return res
}

// recordFailure logs the failure for accounting and composes the
// user-visible message as "<errorMessage>. <fallback>".
func (e *Engine) recordFailure(ctx context.Context, intent *core.TaskIntent, res *core.Result) {
	code := core.CodeExecutionError
	msg := res.Message
	if res.Error != nil {
		code = res.Error.Code
		msg = res.Error.Message
	}
	id := e.errors.LogError(ctx, &errorlog.Entry{
		AgentID:      intent.AgentID,
		UserID:       intent.UserID,
		Tool:         intent.Tool,
		Action:       intent.Intent,
		ErrorCode:    code,
		ErrorMessage: msg,
		Payload:      intent.Context,
	})
	if res.Metadata == nil {
		res.Metadata = map[string]any{}
	}
	if !id.IsZero() {
		res.Metadata["errorId"] = id.String()
	}
	res.Message = msg + ". " + e.errors.GetFallbackMessage(intent.Tool, intent.AgentID)
}

func (e *Engine) cacheResult(ctx context.Context, intent *core.TaskIntent, res *core.Result) {
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	key := cache.ResultKey(intent.AgentID, intent.Tool, intent.Intent)
	if err := e.kv.Set(ctx, key, string(raw), e.resultTTL); err != nil {
		logger.FromContext(ctx).Warn("caching result failed", "key", key, "error", err)
	}
}
