package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/toolbridge/toolbridge/engine/infra/cache"
	"github.com/toolbridge/toolbridge/pkg/logger"
)

const defaultCacheTTL = 3600 * time.Second

// TokenRefresher exchanges a refresh token for a new access token at the
// provider's token endpoint.
type TokenRefresher interface {
	Refresh(ctx context.Context, in *Integration) (*RefreshedToken, error)
}

// RefreshedToken is the provider's token endpoint response, normalized.
// RefreshToken may be empty; providers are allowed to omit it on rotation.
type RefreshedToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// Manager owns the OAuth credential lifecycle per (user, tool).
type Manager struct {
	repo      Repository
	kv        cache.KV
	refresher TokenRefresher
	cacheTTL  time.Duration
	inflight  singleflight.Group
	now       func() time.Time
}

func NewManager(repo Repository, kv cache.KV, refresher TokenRefresher, cacheTTL time.Duration) *Manager {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &Manager{
		repo:      repo,
		kv:        kv,
		refresher: refresher,
		cacheTTL:  cacheTTL,
		now:       time.Now,
	}
}

// Store upserts on the (userID, toolName) natural key and refreshes the KV
// mirror before returning.
func (m *Manager) Store(ctx context.Context, in *Integration) (*Integration, error) {
	if in.UserID == "" || in.ToolName == "" {
		return nil, fmt.Errorf("integration: userId and toolName are required")
	}
	if in.Status == "" {
		in.Status = StatusActive
	}
	stored, err := m.repo.Upsert(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("integration: upsert: %w", err)
	}
	m.cachePut(ctx, stored)
	return stored, nil
}

// Get is a read-through lookup: KV first, durable store on miss, KV backfilled
// on a store hit.
func (m *Manager) Get(ctx context.Context, userID, toolName string) (*Integration, error) {
	key := cache.IntegrationKey(userID, toolName)
	if raw, err := m.kv.Get(ctx, key); err == nil {
		var cached Integration
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			return &cached, nil
		}
		// Corrupt cache entry: drop it and fall through to the store.
		_, _ = m.kv.Del(ctx, key)
	}
	stored, err := m.repo.Get(ctx, userID, toolName)
	if err != nil {
		return nil, err
	}
	m.cachePut(ctx, stored)
	return stored, nil
}

// List returns all integrations owned by the user.
func (m *Manager) List(ctx context.Context, userID string) ([]*Integration, error) {
	return m.repo.ListByUser(ctx, userID)
}

// IsConnected reports whether (userID, toolName) holds a usable credential.
// Expired credentials with a refresh token are refreshed synchronously;
// refresh failure marks the integration errored.
func (m *Manager) IsConnected(ctx context.Context, userID, toolName string) *AuthStatus {
	in, err := m.Get(ctx, userID, toolName)
	if err != nil {
		return &AuthStatus{Connected: false, Error: "no integration found"}
	}
	if in.Status != StatusActive {
		return &AuthStatus{Connected: false, Error: fmt.Sprintf("integration is %s", in.Status)}
	}
	if !in.Expired(m.now()) {
		return &AuthStatus{Connected: true, ExpiresAt: in.ExpiresAt, Scopes: in.Scopes}
	}
	if in.RefreshToken == "" {
		return &AuthStatus{Connected: false, Error: "access token expired and no refresh token available"}
	}
	refreshed, err := m.RefreshToken(ctx, in)
	if err != nil {
		return &AuthStatus{Connected: false, Error: err.Error()}
	}
	return &AuthStatus{Connected: true, ExpiresAt: refreshed.ExpiresAt, Scopes: refreshed.Scopes}
}

// RefreshToken exchanges the stored refresh token for fresh credentials.
// Concurrent refreshes for the same (user, tool) are coalesced so a burst of
// dispatches cannot stampede the provider's token endpoint.
func (m *Manager) RefreshToken(ctx context.Context, in *Integration) (*Integration, error) {
	key := in.UserID + ":" + in.ToolName
	v, err, _ := m.inflight.Do(key, func() (any, error) {
		return m.refreshLocked(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Integration), nil
}

func (m *Manager) refreshLocked(ctx context.Context, in *Integration) (*Integration, error) {
	log := logger.FromContext(ctx).With("component", "integration_manager", "user_id", in.UserID, "tool", in.ToolName)
	if m.refresher == nil {
		return nil, fmt.Errorf("integration: no token refresher configured for %s", in.ToolName)
	}
	token, err := m.refresher.Refresh(ctx, in)
	if err != nil {
		log.Error("token refresh failed", "error", err)
		if serr := m.repo.SetStatus(ctx, in.ID, StatusError); serr != nil {
			log.Error("marking integration errored failed", "error", serr)
		}
		_, _ = m.kv.Del(ctx, cache.IntegrationKey(in.UserID, in.ToolName))
		return nil, fmt.Errorf("integration: token refresh failed: %w", err)
	}
	refreshToken := token.RefreshToken
	if refreshToken == "" {
		// Providers may rotate without returning a new refresh token.
		refreshToken = in.RefreshToken
	}
	if err := m.repo.UpdateTokens(ctx, in.ID, token.AccessToken, refreshToken, token.ExpiresAt); err != nil {
		return nil, fmt.Errorf("integration: persisting refreshed tokens: %w", err)
	}
	out := *in
	out.AccessToken = token.AccessToken
	out.RefreshToken = refreshToken
	out.ExpiresAt = token.ExpiresAt
	out.Status = StatusActive
	out.UpdatedAt = m.now()
	m.cachePut(ctx, &out)
	log.Info("token refreshed")
	return &out, nil
}

// Disconnect revokes the credential and drops the KV mirror. The durable row
// is retained for audit.
func (m *Manager) Disconnect(ctx context.Context, userID, toolName string) error {
	in, err := m.repo.Get(ctx, userID, toolName)
	if err != nil {
		return err
	}
	if err := m.repo.SetStatus(ctx, in.ID, StatusRevoked); err != nil {
		return fmt.Errorf("integration: revoking: %w", err)
	}
	if _, err := m.kv.Del(ctx, cache.IntegrationKey(userID, toolName)); err != nil {
		logger.FromContext(ctx).Warn("deleting integration cache entry failed", "error", err)
	}
	return nil
}

func (m *Manager) cachePut(ctx context.Context, in *Integration) {
	raw, err := json.Marshal(in)
	if err != nil {
		return
	}
	if err := m.kv.Set(ctx, cache.IntegrationKey(in.UserID, in.ToolName), string(raw), m.cacheTTL); err != nil {
		logger.FromContext(ctx).Warn("caching integration failed", "error", err)
	}
}
