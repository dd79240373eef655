package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolbridge/toolbridge/engine/adapter"
	"github.com/toolbridge/toolbridge/engine/contextmap"
	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/dispatcher"
	"github.com/toolbridge/toolbridge/engine/errorlog"
	"github.com/toolbridge/toolbridge/engine/infra/cache"
	"github.com/toolbridge/toolbridge/engine/infra/memstore"
	"github.com/toolbridge/toolbridge/engine/integration"
	"github.com/toolbridge/toolbridge/engine/scheduler"
	"github.com/toolbridge/toolbridge/engine/webhook"
	"github.com/toolbridge/toolbridge/pkg/config"
	"github.com/toolbridge/toolbridge/pkg/logger"
)

type testEnv struct {
	router  http.Handler
	mapper  *contextmap.Mapper
	sched   *scheduler.Scheduler
	manager *integration.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	kv := cache.NewMemoryAdapter()
	cfg := config.Default()
	cfg.Auth.CronSecretToken = "cron-secret"
	cfg.Auth.WebhookRefreshAPIKey = "refresh-key"

	manager := integration.NewManager(memstore.NewIntegrationRepo(), kv, nil, time.Hour)
	handler := errorlog.NewHandler(memstore.NewErrorLogRepo(), memstore.NewFallbackRepo(), kv)
	mapper := contextmap.NewMapper(memstore.NewContextMappingRepo(), kv, time.Hour)
	sched := scheduler.NewScheduler(memstore.NewScheduledTaskRepo(), kv, 10, 3)
	registry := adapter.NewRegistry()
	engine := dispatcher.NewEngine(registry, handler, sched, kv)
	sched.SetExecutor(engine)
	subs := webhook.NewSubscriptions(memstore.NewWebhookSubscriptionRepo(), manager, nil, time.Hour, time.Hour)
	hooks := webhook.NewService(map[string]webhook.Verifier{}, memstore.NewWebhookEventRepo(), memstore.NewWebhookSubscriptionRepo(), engine)

	deps := &Deps{
		Config:        cfg,
		Registry:      registry,
		Dispatcher:    engine,
		Integrations:  manager,
		Errors:        handler,
		Mappings:      mapper,
		Scheduler:     sched,
		Webhooks:      hooks,
		Subscriptions: subs,
		Health: []HealthCheck{
			{Name: "cache", Check: func(context.Context) error { return nil }},
		},
	}
	return &testEnv{
		router:  NewRouter(deps, logger.NewLogger(logger.TestConfig())),
		mapper:  mapper,
		sched:   sched,
		manager: manager,
	}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestRouter(t *testing.T) {
	t.Run("Should report healthy when all checks pass", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.do(http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"healthy":true`)
	})
	t.Run("Should keep tool failures in-band on the intent endpoint", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.do(http.MethodPost, "/plugin-engine/intents", core.TaskIntent{
			AgentID: "a1", UserID: "u1", Tool: "ghost", Intent: "send_message",
		})
		require.Equal(t, http.StatusOK, w.Code)
		var res core.Result
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.False(t, res.Success)
		require.NotNil(t, res.Error)
		assert.Equal(t, core.CodeAdapterNotFound, res.Error.Code)
	})
	t.Run("Should reject a malformed intent body", func(t *testing.T) {
		env := newTestEnv(t)
		req := httptest.NewRequest(http.MethodPost, "/plugin-engine/intents", bytes.NewBufferString("{"))
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("Should list integrations with token material redacted", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.manager.Store(context.Background(), &integration.Integration{
			UserID: "u1", ToolName: "slack", AccessToken: "xoxb-secret",
		})
		require.NoError(t, err)
		w := env.do(http.MethodGet, "/plugin-engine/integrations?userId=u1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"slack"`)
		assert.NotContains(t, w.Body.String(), "xoxb-secret")
	})
	t.Run("Should round-trip a context mapping lookup", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.do(http.MethodPost, "/plugin-engine/context-mappings", contextmap.Mapping{
			AgentID: "a1", UserID: "u1", Tool: "notion",
			ContextKey: "meeting-notes", ExternalID: "pg-42",
		})
		require.Equal(t, http.StatusOK, w.Code)
		w = env.do(http.MethodGet, "/plugin-engine/context-mappings/lookup?agentId=a1&tool=notion&contextKey=meeting-notes", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "pg-42")
	})
	t.Run("Should upsert in place when a mapping is posted twice", func(t *testing.T) {
		env := newTestEnv(t)
		m := contextmap.Mapping{
			AgentID: "a1", UserID: "u1", Tool: "notion",
			ContextKey: "meeting-notes", ExternalID: "pg-42",
		}
		require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/plugin-engine/context-mappings", m).Code)
		m.ExternalID = "pg-43"
		require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/plugin-engine/context-mappings", m).Code)
		w := env.do(http.MethodGet, "/plugin-engine/context-mappings/lookup?agentId=a1&tool=notion&contextKey=meeting-notes", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "pg-43")
	})
	t.Run("Should cancel a scheduled task and 404 unknown ids", func(t *testing.T) {
		env := newTestEnv(t)
		when := time.Now().Add(time.Hour)
		task, err := env.sched.Schedule(context.Background(), &core.TaskIntent{
			AgentID: "a1", UserID: "u1", Tool: "slack", Intent: "send_message",
			ScheduledTime: &when,
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent,
			env.do(http.MethodDelete, "/plugin-engine/tasks/"+task.ID.String(), nil).Code)
		assert.Equal(t, http.StatusNotFound,
			env.do(http.MethodDelete, "/plugin-engine/tasks/"+core.MustNewID().String(), nil).Code)
	})
	t.Run("Should guard cron endpoints behind the shared token", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.do(http.MethodPost, "/plugin-engine/cron", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		req := httptest.NewRequest(http.MethodPost, "/plugin-engine/cron", nil)
		req.Header.Set(headerCronToken, "cron-secret")
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"claimed"`)
	})
	t.Run("Should accept the configured key on the webhook refresh endpoint", func(t *testing.T) {
		env := newTestEnv(t)
		req := httptest.NewRequest(http.MethodPost, "/plugin-engine/webhooks/refresh", nil)
		req.Header.Set(headerAPIKey, "refresh-key")
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
	t.Run("Should return 404 for webhooks from unknown tools", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.do(http.MethodPost, "/plugin-engine/webhooks/ghost", map[string]any{"type": "event"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
	t.Run("Should report unhealthy when a check fails", func(t *testing.T) {
		kv := cache.NewMemoryAdapter()
		cfg := config.Default()
		manager := integration.NewManager(memstore.NewIntegrationRepo(), kv, nil, time.Hour)
		handler := errorlog.NewHandler(memstore.NewErrorLogRepo(), memstore.NewFallbackRepo(), kv)
		mapper := contextmap.NewMapper(memstore.NewContextMappingRepo(), kv, time.Hour)
		sched := scheduler.NewScheduler(memstore.NewScheduledTaskRepo(), kv, 10, 3)
		registry := adapter.NewRegistry()
		engine := dispatcher.NewEngine(registry, handler, sched, kv)
		deps := &Deps{
			Config: cfg, Registry: registry, Dispatcher: engine,
			Integrations: manager, Errors: handler, Mappings: mapper, Scheduler: sched,
			Webhooks:      webhook.NewService(map[string]webhook.Verifier{}, memstore.NewWebhookEventRepo(), memstore.NewWebhookSubscriptionRepo(), engine),
			Subscriptions: webhook.NewSubscriptions(memstore.NewWebhookSubscriptionRepo(), manager, nil, time.Hour, time.Hour),
			Health: []HealthCheck{
				{Name: "database", Check: func(context.Context) error { return errors.New("connection refused") }},
			},
		}
		router := NewRouter(deps, logger.NewLogger(logger.TestConfig()))
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "connection refused")
	})
}
