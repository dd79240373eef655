package webhook

import (
	"context"
	"errors"
	"time"

	"github.com/toolbridge/toolbridge/engine/core"
)

// EventStatus is the processing state of a received webhook event. Events are
// acknowledged to the provider before processing, so pending rows are the
// replay source after a crash.
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventProcessed EventStatus = "processed"
	EventFailed    EventStatus = "failed"
)

// ErrNotFound is returned when an event or subscription does not exist.
var ErrNotFound = errors.New("webhook: not found")

// Event is one verified, persisted provider notification.
type Event struct {
	ID          core.ID        `json:"id" db:"id"`
	Tool        string         `json:"tool" db:"tool"`
	EventType   string         `json:"eventType" db:"event_type"`
	ResourceID  string         `json:"resourceId" db:"resource_id"`
	Payload     map[string]any `json:"payload" db:"payload"`
	Status      EventStatus    `json:"status" db:"status"`
	Error       string         `json:"error,omitempty" db:"error"`
	ReceivedAt  time.Time      `json:"receivedAt" db:"received_at"`
	ProcessedAt *time.Time     `json:"processedAt,omitempty" db:"processed_at"`
}

// EventRepository is the durable-store contract for webhook events.
type EventRepository interface {
	Insert(ctx context.Context, e *Event) (*Event, error)
	Get(ctx context.Context, id core.ID) (*Event, error)
	MarkProcessed(ctx context.Context, id core.ID, at time.Time) error
	MarkFailed(ctx context.Context, id core.ID, errMsg string, at time.Time) error
	// ListPending returns unprocessed events oldest first, for replay.
	ListPending(ctx context.Context, limit int) ([]*Event, error)
}

// SubscriptionStatus is the lifecycle state of a provider subscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionError     SubscriptionStatus = "error"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Subscription binds a provider resource to the (agent, user) that should be
// notified about it. ExternalID is the provider's handle for the
// subscription, where one exists.
type Subscription struct {
	ID         core.ID            `json:"id" db:"id"`
	UserID     string             `json:"userId" db:"user_id"`
	AgentID    string             `json:"agentId" db:"agent_id"`
	Tool       string             `json:"tool" db:"tool"`
	ResourceID string             `json:"resourceId" db:"resource_id"`
	ExternalID string             `json:"externalId,omitempty" db:"external_id"`
	ExpiresAt  *time.Time         `json:"expiresAt,omitempty" db:"expires_at"`
	Status     SubscriptionStatus `json:"status" db:"status"`
	CreatedAt  time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time          `json:"updatedAt" db:"updated_at"`
}

// SubscriptionRepository is the durable-store contract for subscriptions.
type SubscriptionRepository interface {
	// Upsert inserts or updates on the (tool, resourceID, userID) natural key.
	Upsert(ctx context.Context, s *Subscription) (*Subscription, error)
	Get(ctx context.Context, id core.ID) (*Subscription, error)
	// GetByResource resolves the active subscription an inbound event belongs to.
	GetByResource(ctx context.Context, tool, resourceID string) (*Subscription, error)
	ListByUser(ctx context.Context, userID string) ([]*Subscription, error)
	// ListRenewable returns subscriptions expiring before the deadline plus
	// any in error state, so failed renewals are retried each sweep.
	ListRenewable(ctx context.Context, before time.Time) ([]*Subscription, error)
	UpdateExpiry(ctx context.Context, id core.ID, externalID string, expiresAt time.Time) error
	SetStatus(ctx context.Context, id core.ID, status SubscriptionStatus) error
}
