package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/infra/cache"
	"github.com/toolbridge/toolbridge/engine/integration"
	"github.com/toolbridge/toolbridge/pkg/config"
)

type stubRepo struct {
	items map[string]*integration.Integration
}

func (r *stubRepo) key(userID, tool string) string { return userID + ":" + tool }

func (r *stubRepo) Upsert(_ context.Context, in *integration.Integration) (*integration.Integration, error) {
	if in.ID.IsZero() {
		in.ID = core.MustNewID()
	}
	r.items[r.key(in.UserID, in.ToolName)] = in
	return in, nil
}

func (r *stubRepo) Get(_ context.Context, userID, tool string) (*integration.Integration, error) {
	in, ok := r.items[r.key(userID, tool)]
	if !ok {
		return nil, integration.ErrNotFound
	}
	return in, nil
}

func (r *stubRepo) ListByUser(_ context.Context, userID string) ([]*integration.Integration, error) {
	var out []*integration.Integration
	for _, in := range r.items {
		if in.UserID == userID {
			out = append(out, in)
		}
	}
	return out, nil
}

func (r *stubRepo) UpdateTokens(_ context.Context, id core.ID, access, refresh string, expiresAt *time.Time) error {
	for _, in := range r.items {
		if in.ID == id {
			in.AccessToken = access
			in.RefreshToken = refresh
			in.ExpiresAt = expiresAt
		}
	}
	return nil
}

func (r *stubRepo) SetStatus(_ context.Context, id core.ID, status integration.Status) error {
	for _, in := range r.items {
		if in.ID == id {
			in.Status = status
		}
	}
	return nil
}

// connectedManager holds one active credential for (u1, tool).
func connectedManager(tool string) *integration.Manager {
	repo := &stubRepo{items: map[string]*integration.Integration{}}
	_, _ = repo.Upsert(context.Background(), &integration.Integration{
		UserID:      "u1",
		ToolName:    tool,
		AccessToken: "test-token",
		Status:      integration.StatusActive,
	})
	return integration.NewManager(repo, cache.NewMemoryAdapter(), nil, time.Hour)
}

func providerFor(srv *httptest.Server) *config.ProviderConfig {
	return &config.ProviderConfig{BaseURL: srv.URL}
}

func TestRegistry(t *testing.T) {
	t.Run("Should reject registration after freeze", func(t *testing.T) {
		reg := NewRegistry()
		mgr := connectedManager("slack")
		require.NoError(t, reg.Register("slack", NewSlack(mgr, nil, time.Second)))
		reg.Freeze()
		err := reg.Register("gmail", NewGmail(mgr, nil, time.Second))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "frozen")
	})
	t.Run("Should list tools sorted", func(t *testing.T) {
		reg := NewRegistry()
		mgr := connectedManager("slack")
		require.NoError(t, reg.Register("trello", NewTrello(mgr, nil, time.Second)))
		require.NoError(t, reg.Register("asana", NewAsana(mgr, nil, time.Second)))
		assert.Equal(t, []string{"asana", "trello"}, reg.List())
	})
}

func TestSlackAdapter(t *testing.T) {
	t.Run("Should send a message and return the ts as external id", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/chat.postMessage", r.URL.Path)
			require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
			fmt.Fprint(w, `{"ok":true,"channel":"C123","ts":"1727000000.000100"}`)
		}))
		defer srv.Close()
		a := NewSlack(connectedManager("slack"), providerFor(srv), time.Second)
		res, err := a.Send(context.Background(), "u1",
			map[string]any{"action": "send_message", "channel": "C123", "text": "hi"})
		require.NoError(t, err)
		require.True(t, res.Success)
		assert.Equal(t, "1727000000.000100", res.ExternalID)
	})
	t.Run("Should fail validation when channel or text missing", func(t *testing.T) {
		a := NewSlack(connectedManager("slack"), nil, time.Second)
		res, err := a.Send(context.Background(), "u1", map[string]any{"action": "send_message"})
		require.NoError(t, err)
		require.False(t, res.Success)
		assert.Equal(t, core.CodeMissingFields, res.Error.Code)
	})
	t.Run("Should surface ok=false responses as API errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"ok":false,"error":"channel_not_found"}`)
		}))
		defer srv.Close()
		a := NewSlack(connectedManager("slack"), providerFor(srv), time.Second)
		res, err := a.Send(context.Background(), "u1",
			map[string]any{"action": "send_message", "channel": "C404", "text": "hi"})
		require.NoError(t, err)
		require.False(t, res.Success)
		assert.Equal(t, core.CodeAPIError, res.Error.Code)
		assert.Contains(t, res.Message, "channel_not_found")
	})
	t.Run("Should fail with NOT_CONNECTED for unknown users", func(t *testing.T) {
		a := NewSlack(connectedManager("slack"), nil, time.Second)
		res, err := a.Send(context.Background(), "ghost",
			map[string]any{"action": "send_message", "channel": "C1", "text": "hi"})
		require.NoError(t, err)
		require.False(t, res.Success)
		assert.Equal(t, core.CodeNotConnected, res.Error.Code)
	})
	t.Run("Should route unknown actions to UNKNOWN_ACTION", func(t *testing.T) {
		a := NewSlack(connectedManager("slack"), nil, time.Second)
		res, err := a.Send(context.Background(), "u1", map[string]any{"action": "launch_rocket"})
		require.NoError(t, err)
		assert.Equal(t, core.CodeUnknownAction, res.Error.Code)
	})
	t.Run("Should retry once on 429 honoring Retry-After", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) == 1 {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			fmt.Fprint(w, `{"ok":true,"ts":"1.2"}`)
		}))
		defer srv.Close()
		a := NewSlack(connectedManager("slack"), providerFor(srv), time.Second)
		res, err := a.Send(context.Background(), "u1",
			map[string]any{"action": "send_message", "channel": "C1", "text": "hi"})
		require.NoError(t, err)
		require.True(t, res.Success)
		assert.Equal(t, int32(2), calls.Load())
	})
}

func TestAsanaAdapter(t *testing.T) {
	t.Run("Should require projectId and name for create_task", func(t *testing.T) {
		a := NewAsana(connectedManager("asana"), nil, time.Second)
		res, err := a.Send(context.Background(), "u1",
			map[string]any{"action": "create_task", "name": "ship it"})
		require.NoError(t, err)
		assert.Equal(t, core.CodeMissingFields, res.Error.Code)
	})
	t.Run("Should require taskId for update_task", func(t *testing.T) {
		a := NewAsana(connectedManager("asana"), nil, time.Second)
		res, err := a.Send(context.Background(), "u1",
			map[string]any{"action": "update_task", "name": "renamed"})
		require.NoError(t, err)
		assert.Equal(t, core.CodeMissingTaskID, res.Error.Code)
	})
	t.Run("Should list tasks with pagination metadata", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/projects/p1/tasks", r.URL.Path)
			fmt.Fprint(w, `{"data":[{"gid":"1","name":"a"},{"gid":"2","name":"b"}]}`)
		}))
		defer srv.Close()
		a := NewAsana(connectedManager("asana"), providerFor(srv), time.Second)
		res, err := a.Fetch(context.Background(), "u1",
			map[string]any{"action": "list_tasks", "projectId": "p1", "limit": 2})
		require.NoError(t, err)
		require.True(t, res.Success)
		tasks := res.Data["tasks"].([]map[string]any)
		assert.Len(t, tasks, 2)
		p, ok := res.Metadata["pagination"].(core.Pagination)
		require.True(t, ok)
		assert.True(t, p.HasMore)
		assert.Equal(t, 2, p.NextOffset)
	})
	t.Run("Should map provider 500s to API_ERROR", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"errors":[{"message":"boom"}]}`, http.StatusInternalServerError)
		}))
		defer srv.Close()
		a := NewAsana(connectedManager("asana"), providerFor(srv), time.Second)
		res, err := a.Fetch(context.Background(), "u1",
			map[string]any{"action": "list_workspaces"})
		require.NoError(t, err)
		require.False(t, res.Success)
		assert.Equal(t, core.CodeAPIError, res.Error.Code)
	})
}

func TestTaskMasterAdapter(t *testing.T) {
	t.Run("Should create then complete a task", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method == http.MethodPost && r.URL.Path == "/v1/tasks":
				fmt.Fprint(w, `{"id":"tm-1","title":"write docs"}`)
			case r.Method == http.MethodPost && r.URL.Path == "/v1/tasks/tm-1/complete":
				fmt.Fprint(w, `{"id":"tm-1","status":"done"}`)
			default:
				http.NotFound(w, r)
			}
		}))
		defer srv.Close()
		a := NewTaskMaster(connectedManager("taskmaster"), providerFor(srv), time.Second)

		res, err := a.Send(context.Background(), "u1",
			map[string]any{"action": "create_task", "title": "write docs"})
		require.NoError(t, err)
		require.True(t, res.Success)
		assert.Equal(t, "tm-1", res.ExternalID)

		res, err = a.Send(context.Background(), "u1",
			map[string]any{"action": "complete_task", "taskId": "tm-1"})
		require.NoError(t, err)
		assert.True(t, res.Success)
	})
	t.Run("Should map network failures to NETWORK_ERROR", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		srv.Close() // connection refused from here on
		a := NewTaskMaster(connectedManager("taskmaster"), providerFor(srv), time.Second)
		res, err := a.Fetch(context.Background(), "u1", map[string]any{"action": "list_tasks"})
		require.NoError(t, err)
		require.False(t, res.Success)
		assert.Equal(t, core.CodeNetworkError, res.Error.Code)
	})
}
