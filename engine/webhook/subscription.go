package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sethvargo/go-retry"

	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/integration"
	"github.com/toolbridge/toolbridge/pkg/logger"
)

const (
	// gmailWatchLifetime is how long a Gmail watch stays valid; the API caps
	// watches at seven days.
	gmailWatchLifetime = 7 * 24 * time.Hour

	defaultRenewalLead     = 24 * time.Hour
	defaultRenewalInterval = time.Hour
	renewalBackoffBase     = 2 * time.Second
	renewalMaxAttempts     = 3
)

// Renewer re-registers one subscription with its provider and reports the new
// expiry. Tools without an expiring subscription model do not register one.
type Renewer func(ctx context.Context, sub *Subscription) (externalID string, expiresAt time.Time, err error)

// Subscriptions manages provider webhook subscriptions and their renewal
// sweep. Renewal refreshes the OAuth credential first; a provider cannot
// accept a re-registration signed with a dead token.
type Subscriptions struct {
	repo         SubscriptionRepository
	integrations *integration.Manager
	renewers     map[string]Renewer
	leadTime     time.Duration
	interval     time.Duration
	backoffBase  time.Duration
	cron         *cron.Cron
	baseCtx      context.Context
	now          func() time.Time
}

func NewSubscriptions(repo SubscriptionRepository, integrations *integration.Manager, renewers map[string]Renewer, leadTime, interval time.Duration) *Subscriptions {
	if leadTime <= 0 {
		leadTime = defaultRenewalLead
	}
	if interval <= 0 {
		interval = defaultRenewalInterval
	}
	return &Subscriptions{
		repo:         repo,
		integrations: integrations,
		renewers:     renewers,
		leadTime:     leadTime,
		interval:     interval,
		backoffBase:  renewalBackoffBase,
		cron:         cron.New(),
		now:          time.Now,
	}
}

// Create registers a subscription. Tools with expiring provider watches get
// their initial expiry stamped here.
func (m *Subscriptions) Create(ctx context.Context, sub *Subscription) (*Subscription, error) {
	if sub.UserID == "" || sub.Tool == "" || sub.ResourceID == "" {
		return nil, fmt.Errorf("webhook: userId, tool and resourceId are required")
	}
	sub.Status = SubscriptionActive
	if sub.Tool == "gmail" && sub.ExpiresAt == nil {
		exp := m.now().Add(gmailWatchLifetime)
		sub.ExpiresAt = &exp
	}
	stored, err := m.repo.Upsert(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("webhook: storing subscription: %w", err)
	}
	logger.FromContext(ctx).Info("subscription created",
		"tool", stored.Tool, "resource", stored.ResourceID, "user_id", stored.UserID)
	return stored, nil
}

// Cancel marks the subscription cancelled; the renewal sweep skips it from
// then on.
func (m *Subscriptions) Cancel(ctx context.Context, sub *Subscription) error {
	return m.repo.SetStatus(ctx, sub.ID, SubscriptionCancelled)
}

// ListByUser returns the user's subscriptions.
func (m *Subscriptions) Get(ctx context.Context, id core.ID) (*Subscription, error) {
	return m.repo.Get(ctx, id)
}

func (m *Subscriptions) ListByUser(ctx context.Context, userID string) ([]*Subscription, error) {
	return m.repo.ListByUser(ctx, userID)
}

// StartRenewalLoop begins the periodic renewal sweep.
func (m *Subscriptions) StartRenewalLoop(ctx context.Context) error {
	m.baseCtx = ctx
	spec := fmt.Sprintf("@every %s", m.interval)
	if _, err := m.cron.AddFunc(spec, func() { m.RenewExpiring(m.baseCtx) }); err != nil {
		return fmt.Errorf("webhook: registering renewal job: %w", err)
	}
	m.cron.Start()
	logger.FromContext(ctx).Info("subscription renewal loop started", "interval", m.interval)
	return nil
}

// StopRenewalLoop halts the sweep, waiting for a running pass.
func (m *Subscriptions) StopRenewalLoop() {
	<-m.cron.Stop().Done()
}

// RenewExpiring renews every subscription expiring within the lead time plus
// any stuck in error state. Per-subscription failures mark that row errored
// and do not stop the sweep.
func (m *Subscriptions) RenewExpiring(ctx context.Context) (renewed int) {
	log := logger.FromContext(ctx).With("component", "subscription_renewal")
	due, err := m.repo.ListRenewable(ctx, m.now().Add(m.leadTime))
	if err != nil {
		log.Error("listing renewable subscriptions failed", "error", err)
		return 0
	}
	for _, sub := range due {
		if m.renewOne(ctx, sub) {
			renewed++
		}
	}
	if len(due) > 0 {
		log.Info("renewal sweep finished", "due", len(due), "renewed", renewed)
	}
	return renewed
}

func (m *Subscriptions) renewOne(ctx context.Context, sub *Subscription) bool {
	log := logger.FromContext(ctx).With(
		"component", "subscription_renewal", "tool", sub.Tool, "resource", sub.ResourceID)
	renew, ok := m.renewers[sub.Tool]
	if !ok {
		return false
	}
	if status := m.integrations.IsConnected(ctx, sub.UserID, sub.Tool); !status.Connected {
		log.Warn("credential unusable, marking subscription errored", "reason", status.Error)
		_ = m.repo.SetStatus(ctx, sub.ID, SubscriptionError)
		return false
	}
	var (
		externalID string
		expiresAt  time.Time
	)
	backoff := retry.WithMaxRetries(renewalMaxAttempts-1, retry.NewFibonacci(m.backoffBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var rerr error
		externalID, expiresAt, rerr = renew(ctx, sub)
		if rerr != nil {
			return retry.RetryableError(rerr)
		}
		return nil
	})
	if err != nil {
		log.Warn("renewal failed, marking subscription errored", "error", err)
		_ = m.repo.SetStatus(ctx, sub.ID, SubscriptionError)
		return false
	}
	if err := m.repo.UpdateExpiry(ctx, sub.ID, externalID, expiresAt); err != nil {
		log.Error("storing renewed expiry failed", "error", err)
		return false
	}
	if sub.Status == SubscriptionError {
		_ = m.repo.SetStatus(ctx, sub.ID, SubscriptionActive)
	}
	log.Info("subscription renewed", "expires_at", expiresAt)
	return true
}
