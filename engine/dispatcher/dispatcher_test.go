package dispatcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolbridge/toolbridge/engine/adapter"
	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/errorlog"
	"github.com/toolbridge/toolbridge/engine/infra/cache"
	"github.com/toolbridge/toolbridge/engine/integration"
	"github.com/toolbridge/toolbridge/engine/scheduler"
)

type fakeAdapter struct {
	connected  bool
	sendResult *core.Result
	sendCalls  atomic.Int32
	fetchCalls atomic.Int32
}

func (f *fakeAdapter) Connect(context.Context, string) (*integration.AuthStatus, error) {
	return &integration.AuthStatus{Connected: f.connected}, nil
}
func (f *fakeAdapter) IsConnected(context.Context, string) bool { return f.connected }
func (f *fakeAdapter) Send(_ context.Context, _ string, _ map[string]any) (*core.Result, error) {
	f.sendCalls.Add(1)
	return f.sendResult, nil
}
func (f *fakeAdapter) Fetch(_ context.Context, _ string, _ map[string]any) (*core.Result, error) {
	f.fetchCalls.Add(1)
	return f.sendResult, nil
}
func (f *fakeAdapter) Disconnect(context.Context, string) error { return nil }
func (f *fakeAdapter) Metadata() *adapter.Metadata {
	return &adapter.Metadata{ID: "fake", Name: "Fake"}
}

type fakeErrRepo struct {
	entries []*errorlog.Entry
}

func (r *fakeErrRepo) Insert(_ context.Context, e *errorlog.Entry) (core.ID, error) {
	e.ID = core.MustNewID()
	r.entries = append(r.entries, e)
	return e.ID, nil
}
func (r *fakeErrRepo) Resolve(context.Context, core.ID, time.Time) error { return nil }
func (r *fakeErrRepo) BulkResolve(_ context.Context, ids []core.ID, _ time.Time) (int, error) {
	return len(ids), nil
}
func (r *fakeErrRepo) ListByAgent(context.Context, string, int) ([]*errorlog.Entry, error) {
	return nil, nil
}
func (r *fakeErrRepo) StatsByTool(context.Context, time.Time) (map[string]int, error) {
	return nil, nil
}
func (r *fakeErrRepo) CountsByDay(context.Context, time.Time, string) (map[string]int, error) {
	return nil, nil
}
func (r *fakeErrRepo) TopCodes(context.Context, time.Time, int) ([]errorlog.CodeCount, error) {
	return nil, nil
}

type fakeFallbackRepo struct{}

func (fakeFallbackRepo) Upsert(context.Context, *errorlog.FallbackMessage) error { return nil }
func (fakeFallbackRepo) List(context.Context) ([]*errorlog.FallbackMessage, error) {
	return nil, nil
}

type fakeScheduler struct {
	scheduled []*core.TaskIntent
}

func (f *fakeScheduler) Schedule(_ context.Context, intent *core.TaskIntent) (*scheduler.Task, error) {
	f.scheduled = append(f.scheduled, intent)
	return &scheduler.Task{
		ID:        core.MustNewID(),
		ExecuteAt: *intent.ScheduledTime,
		Status:    scheduler.StatusScheduled,
	}, nil
}

type harness struct {
	engine  *Engine
	adapter *fakeAdapter
	errRepo *fakeErrRepo
	sched   *fakeScheduler
	kv      cache.KV
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ad := &fakeAdapter{connected: true, sendResult: core.OK("done")}
	reg := adapter.NewRegistry()
	require.NoError(t, reg.Register("slack", ad))
	errRepo := &fakeErrRepo{}
	kv := cache.NewMemoryAdapter()
	handler := errorlog.NewHandler(errRepo, fakeFallbackRepo{}, kv)
	sched := &fakeScheduler{}
	return &harness{
		engine:  NewEngine(reg, handler, sched, kv),
		adapter: ad,
		errRepo: errRepo,
		sched:   sched,
		kv:      kv,
	}
}

func intentFor(tool, name string) *core.TaskIntent {
	return &core.TaskIntent{AgentID: "a1", UserID: "u1", Tool: tool, Intent: name}
}

func TestEngineProcessIntent(t *testing.T) {
	t.Run("Should schedule intents with a future scheduled time", func(t *testing.T) {
		h := newHarness(t)
		in := intentFor("slack", "send_message")
		at := time.Now().Add(time.Hour)
		in.ScheduledTime = &at
		res := h.engine.ProcessIntent(context.Background(), in)
		require.True(t, res.Success)
		assert.Contains(t, res.Message, "Task scheduled")
		assert.Equal(t, at, res.Data["scheduledTime"])
		assert.Len(t, h.sched.scheduled, 1)
		assert.Equal(t, int32(0), h.adapter.sendCalls.Load())
	})
	t.Run("Should fail when no adapter is registered for the tool", func(t *testing.T) {
		h := newHarness(t)
		res := h.engine.ProcessIntent(context.Background(), intentFor("jira", "create_issue"))
		require.False(t, res.Success)
		assert.Equal(t, core.CodeAdapterNotFound, res.Error.Code)
		assert.Equal(t, "No adapter found for tool: jira", res.Error.Message)
		// A typo'd tool name is a caller bug: no error log row, no circuit bump.
		assert.Empty(t, h.errRepo.entries)
		exists, err := h.kv.Exists(context.Background(), cache.ErrorCountKey("a1", "jira"))
		require.NoError(t, err)
		assert.False(t, exists)
	})
	t.Run("Should short-circuit when the tool is disabled", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		for i := 0; i < 11; i++ {
			_, err := h.kv.Incr(ctx, cache.ErrorCountKey("a1", "slack"))
			require.NoError(t, err)
		}
		res := h.engine.ProcessIntent(ctx, intentFor("slack", "send_message"))
		require.False(t, res.Success)
		assert.Equal(t, core.CodeToolDisabled, res.Error.Code)
		assert.Contains(t, res.Message, "Tool slack is currently disabled due to excessive errors.")
		assert.Contains(t, res.Message, errorlog.DefaultFallback)
		assert.Equal(t, int32(0), h.adapter.sendCalls.Load())
	})
	t.Run("Should fail with NOT_CONNECTED and log when disconnected", func(t *testing.T) {
		h := newHarness(t)
		h.adapter.connected = false
		res := h.engine.ProcessIntent(context.Background(), intentFor("slack", "send_message"))
		require.False(t, res.Success)
		assert.Equal(t, core.CodeNotConnected, res.Error.Code)
		require.Len(t, h.errRepo.entries, 1)
		assert.Equal(t, core.CodeNotConnected, h.errRepo.entries[0].ErrorCode)
	})
	t.Run("Should dispatch every read to the adapter and mirror the result", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		in := intentFor("slack", "list_channels")

		res := h.engine.ProcessIntent(ctx, in)
		require.True(t, res.Success)
		res = h.engine.ProcessIntent(ctx, in)
		require.True(t, res.Success)
		// The mirror is advisory: repeat reads still reach the adapter.
		assert.Equal(t, int32(2), h.adapter.fetchCalls.Load())

		raw, err := h.kv.Get(ctx, cache.ResultKey("a1", "slack", "list_channels"))
		require.NoError(t, err)
		assert.Contains(t, raw, `"success":true`)
	})
	t.Run("Should mirror successful writes under the result key", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		in := intentFor("slack", "test_intent")
		res := h.engine.ProcessIntent(ctx, in)
		require.True(t, res.Success)
		assert.Equal(t, int32(1), h.adapter.sendCalls.Load())

		raw, err := h.kv.Get(ctx, cache.ResultKey("a1", "slack", "test_intent"))
		require.NoError(t, err)
		assert.Contains(t, raw, `"success":true`)

		ttl, err := h.kv.TTL(ctx, cache.ResultKey("a1", "slack", "test_intent"))
		require.NoError(t, err)
		assert.Greater(t, ttl, 0*time.Second)
	})
	t.Run("Should reject unclassifiable intents", func(t *testing.T) {
		h := newHarness(t)
		res := h.engine.ProcessIntent(context.Background(), intentFor("slack", "frobnicate"))
		require.False(t, res.Success)
		assert.Equal(t, core.CodeUnsupportedAction, res.Error.Code)
	})
	t.Run("Should append the fallback to technical failure messages", func(t *testing.T) {
		h := newHarness(t)
		h.adapter.sendResult = core.Fail(core.CodeAPIError, "Slack API error (500)")
		res := h.engine.ProcessIntent(context.Background(), intentFor("slack", "send_message"))
		require.False(t, res.Success)
		assert.Equal(t, "Slack API error (500). "+errorlog.DefaultFallback, res.Message)
		assert.Equal(t, "Slack API error (500)", res.Error.Message)
		assert.NotEmpty(t, res.Metadata["errorId"])
		require.Len(t, h.errRepo.entries, 1)
	})
	t.Run("Should append the fallback to validation failures as well", func(t *testing.T) {
		h := newHarness(t)
		h.adapter.sendResult = core.Fail(core.CodeMissingFields, "send_message requires: [channel text]")
		res := h.engine.ProcessIntent(context.Background(), intentFor("slack", "send_message"))
		require.False(t, res.Success)
		assert.Equal(t, "send_message requires: [channel text]. "+errorlog.DefaultFallback, res.Message)
	})
	t.Run("Should validate the intent envelope first", func(t *testing.T) {
		h := newHarness(t)
		res := h.engine.ProcessIntent(context.Background(), &core.TaskIntent{Tool: "slack"})
		require.False(t, res.Success)
		assert.Equal(t, core.CodeMissingFields, res.Error.Code)
	})
}

func TestEngineExecuteTask(t *testing.T) {
	t.Run("Should run claimed tasks through the immediate path", func(t *testing.T) {
		h := newHarness(t)
		task := &scheduler.Task{
			ID:      core.MustNewID(),
			AgentID: "a1",
			UserID:  "u1",
			Tool:    "slack",
			Action:  "send_message",
			Payload: map[string]any{"channel": "C1", "text": "hi"},
		}
		res := h.engine.ExecuteTask(context.Background(), task)
		require.True(t, res.Success)
		assert.Equal(t, int32(1), h.adapter.sendCalls.Load())
	})
}
