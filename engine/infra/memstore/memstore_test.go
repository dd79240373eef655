package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolbridge/toolbridge/engine/contextmap"
	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/errorlog"
	"github.com/toolbridge/toolbridge/engine/scheduler"
	"github.com/toolbridge/toolbridge/engine/webhook"
)

func TestScheduledTasks(t *testing.T) {
	ctx := context.Background()
	t.Run("Should claim due tasks in execution order and mark them processing", func(t *testing.T) {
		repo := NewScheduledTaskRepo()
		now := time.Now().UTC()
		later, err := repo.Insert(ctx, &scheduler.Task{
			UserID: "u1", Tool: "slack", Action: "send_message",
			ExecuteAt: now.Add(-time.Minute), Status: scheduler.StatusScheduled,
		})
		require.NoError(t, err)
		earlier, err := repo.Insert(ctx, &scheduler.Task{
			UserID: "u1", Tool: "gmail", Action: "send_email",
			ExecuteAt: now.Add(-time.Hour), Status: scheduler.StatusScheduled,
		})
		require.NoError(t, err)
		_, err = repo.Insert(ctx, &scheduler.Task{
			UserID: "u1", Tool: "notion", Action: "create_page",
			ExecuteAt: now.Add(time.Hour), Status: scheduler.StatusScheduled,
		})
		require.NoError(t, err)

		claimed, err := repo.ClaimDue(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 2)
		assert.Equal(t, earlier.ID, claimed[0].ID)
		assert.Equal(t, later.ID, claimed[1].ID)
		assert.Equal(t, scheduler.StatusProcessing, claimed[0].Status)
		assert.Equal(t, 1, claimed[0].Attempts)

		again, err := repo.ClaimDue(ctx, now, 10)
		require.NoError(t, err)
		assert.Empty(t, again)
	})
	t.Run("Should treat a second cancel as a no-op but reject cancelling processing", func(t *testing.T) {
		repo := NewScheduledTaskRepo()
		now := time.Now().UTC()
		task, err := repo.Insert(ctx, &scheduler.Task{
			UserID: "u1", Tool: "slack", ExecuteAt: now.Add(time.Hour),
			Status: scheduler.StatusScheduled,
		})
		require.NoError(t, err)
		require.NoError(t, repo.Cancel(ctx, task.ID))
		require.NoError(t, repo.Cancel(ctx, task.ID))

		busy, err := repo.Insert(ctx, &scheduler.Task{
			UserID: "u1", Tool: "slack", ExecuteAt: now.Add(-time.Hour),
			Status: scheduler.StatusScheduled,
		})
		require.NoError(t, err)
		_, err = repo.ClaimDue(ctx, now, 1)
		require.NoError(t, err)
		assert.ErrorIs(t, repo.Cancel(ctx, busy.ID), scheduler.ErrInvalidTransition)
	})
	t.Run("Should stop retrying once attempts are exhausted", func(t *testing.T) {
		repo := NewScheduledTaskRepo()
		now := time.Now().UTC()
		task, err := repo.Insert(ctx, &scheduler.Task{
			UserID: "u1", Tool: "slack", ExecuteAt: now.Add(-time.Minute),
			Status: scheduler.StatusScheduled,
		})
		require.NoError(t, err)
		_, err = repo.ClaimDue(ctx, now, 1)
		require.NoError(t, err)
		require.NoError(t, repo.Fail(ctx, task.ID, "boom"))
		assert.ErrorIs(t, repo.ResetForRetry(ctx, task.ID, now, 1), scheduler.ErrAttemptsExhausted)
	})
}

func TestContextMappings(t *testing.T) {
	ctx := context.Background()
	t.Run("Should reject a duplicate natural key on Create", func(t *testing.T) {
		repo := NewContextMappingRepo()
		_, err := repo.Create(ctx, &contextmap.Mapping{
			AgentID: "a1", Tool: "notion", ContextKey: "meeting-notes", ExternalID: "pg-1",
		})
		require.NoError(t, err)
		_, err = repo.Create(ctx, &contextmap.Mapping{
			AgentID: "a1", Tool: "notion", ContextKey: "meeting-notes", ExternalID: "pg-2",
		})
		assert.ErrorIs(t, err, contextmap.ErrConflict)
	})
	t.Run("Should resolve reverse lookups by external id", func(t *testing.T) {
		repo := NewContextMappingRepo()
		_, err := repo.Create(ctx, &contextmap.Mapping{
			AgentID: "a1", Tool: "notion", ContextKey: "meeting-notes", ExternalID: "pg-1",
		})
		require.NoError(t, err)
		m, err := repo.GetByExternalID(ctx, "a1", "notion", "pg-1")
		require.NoError(t, err)
		assert.Equal(t, "meeting-notes", m.ContextKey)
	})
}

func TestErrorLog(t *testing.T) {
	ctx := context.Background()
	t.Run("Should rank codes by frequency", func(t *testing.T) {
		repo := NewErrorLogRepo()
		for range 3 {
			_, err := repo.Insert(ctx, &errorlog.Entry{AgentID: "a1", Tool: "slack", ErrorCode: core.CodeAPIError})
			require.NoError(t, err)
		}
		_, err := repo.Insert(ctx, &errorlog.Entry{AgentID: "a1", Tool: "slack", ErrorCode: core.CodeNetworkError})
		require.NoError(t, err)
		top, err := repo.TopCodes(ctx, time.Now().Add(-time.Hour), 1)
		require.NoError(t, err)
		require.Len(t, top, 1)
		assert.Equal(t, core.CodeAPIError, top[0].Code)
		assert.Equal(t, 3, top[0].Count)
	})
	t.Run("Should resolve each entry at most once", func(t *testing.T) {
		repo := NewErrorLogRepo()
		id, err := repo.Insert(ctx, &errorlog.Entry{AgentID: "a1", Tool: "slack", ErrorCode: core.CodeAPIError})
		require.NoError(t, err)
		require.NoError(t, repo.Resolve(ctx, id, time.Now()))
		assert.ErrorIs(t, repo.Resolve(ctx, id, time.Now()), errorlog.ErrNotFound)
	})
}

func TestWebhookSubscriptions(t *testing.T) {
	ctx := context.Background()
	t.Run("Should list expiring and errored subscriptions but never cancelled ones", func(t *testing.T) {
		repo := NewWebhookSubscriptionRepo()
		soon := time.Now().Add(time.Hour)
		far := time.Now().Add(30 * 24 * time.Hour)
		expiring, err := repo.Upsert(ctx, &webhook.Subscription{
			UserID: "u1", Tool: "gmail", ResourceID: "inbox-1",
			ExpiresAt: &soon, Status: webhook.SubscriptionActive,
		})
		require.NoError(t, err)
		_, err = repo.Upsert(ctx, &webhook.Subscription{
			UserID: "u1", Tool: "gmail", ResourceID: "inbox-2",
			ExpiresAt: &far, Status: webhook.SubscriptionActive,
		})
		require.NoError(t, err)
		errored, err := repo.Upsert(ctx, &webhook.Subscription{
			UserID: "u1", Tool: "slack", ResourceID: "chan-1",
			Status: webhook.SubscriptionError,
		})
		require.NoError(t, err)
		cancelled, err := repo.Upsert(ctx, &webhook.Subscription{
			UserID: "u1", Tool: "slack", ResourceID: "chan-2",
			ExpiresAt: &soon, Status: webhook.SubscriptionCancelled,
		})
		require.NoError(t, err)

		due, err := repo.ListRenewable(ctx, time.Now().Add(24*time.Hour))
		require.NoError(t, err)
		ids := make([]core.ID, 0, len(due))
		for _, s := range due {
			ids = append(ids, s.ID)
		}
		assert.Contains(t, ids, expiring.ID)
		assert.Contains(t, ids, errored.ID)
		assert.NotContains(t, ids, cancelled.ID)
		assert.Len(t, due, 2)
	})
	t.Run("Should update in place on the natural key", func(t *testing.T) {
		repo := NewWebhookSubscriptionRepo()
		first, err := repo.Upsert(ctx, &webhook.Subscription{
			UserID: "u1", Tool: "asana", ResourceID: "proj-1",
			Status: webhook.SubscriptionActive,
		})
		require.NoError(t, err)
		second, err := repo.Upsert(ctx, &webhook.Subscription{
			UserID: "u1", Tool: "asana", ResourceID: "proj-1",
			ExternalID: "hook-9", Status: webhook.SubscriptionActive,
		})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "hook-9", second.ExternalID)
	})
}
