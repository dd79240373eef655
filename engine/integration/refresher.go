package integration

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/toolbridge/toolbridge/pkg/config"
)

// OAuthRefresher implements TokenRefresher against standard OAuth2 token
// endpoints. The endpoint per tool comes from provider configuration so tests
// can point it at a local stub.
type OAuthRefresher struct {
	providers *config.ProvidersConfig
	timeout   time.Duration
}

func NewOAuthRefresher(providers *config.ProvidersConfig, timeout time.Duration) *OAuthRefresher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OAuthRefresher{providers: providers, timeout: timeout}
}

func (r *OAuthRefresher) Refresh(ctx context.Context, in *Integration) (*RefreshedToken, error) {
	provider, ok := r.providers.ByTool(in.ToolName)
	if !ok || provider.TokenURL == "" {
		return nil, fmt.Errorf("no token endpoint configured for tool %q", in.ToolName)
	}
	conf := &oauth2.Config{
		ClientID:     provider.ClientID,
		ClientSecret: provider.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: provider.TokenURL},
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: r.timeout})
	// TokenSource drives the refresh_token grant and parses expires_in.
	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: in.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("token endpoint exchange: %w", err)
	}
	out := &RefreshedToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		out.ExpiresAt = &expiry
	}
	return out, nil
}
