package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/integration"
	"github.com/toolbridge/toolbridge/pkg/config"
)

// base carries what every tool adapter shares: credential handling through
// the integration manager and an authorized provider client. Concrete
// adapters embed it and implement Send/Fetch.
type base struct {
	meta    *Metadata
	manager *integration.Manager
	http    *resty.Client
}

func newBase(meta *Metadata, mgr *integration.Manager, provider *config.ProviderConfig, timeout time.Duration) base {
	baseURL := ""
	if provider != nil {
		baseURL = provider.BaseURL
	}
	return base{
		meta:    meta,
		manager: mgr,
		http:    newHTTPClient(baseURL, timeout),
	}
}

func (b *base) Metadata() *Metadata {
	return b.meta
}

// Connect reports the current credential state. The OAuth dance itself
// happens out of band; by the time an agent calls this, tokens either exist
// or they do not.
func (b *base) Connect(ctx context.Context, userID string) (*integration.AuthStatus, error) {
	return b.manager.IsConnected(ctx, userID, b.meta.ID), nil
}

func (b *base) IsConnected(ctx context.Context, userID string) bool {
	return b.manager.IsConnected(ctx, userID, b.meta.ID).Connected
}

func (b *base) Disconnect(ctx context.Context, userID string) error {
	return b.manager.Disconnect(ctx, userID, b.meta.ID)
}

// bearer resolves a usable access token for userID, refreshing through the
// manager when expired.
func (b *base) bearer(ctx context.Context, userID string) (string, *core.Error) {
	status := b.manager.IsConnected(ctx, userID, b.meta.ID)
	if !status.Connected {
		return "", core.NewError(core.CodeNotConnected,
			fmt.Sprintf("user %s is not connected to %s", userID, b.meta.Name))
	}
	in, err := b.manager.Get(ctx, userID, b.meta.ID)
	if err != nil {
		return "", core.NewError(core.CodeNotConnected, err.Error())
	}
	return in.AccessToken, nil
}

// call performs one authorized provider request. Network failures map to
// NETWORK_ERROR, non-2xx responses to API_ERROR with the provider body kept
// as details.
func (b *base) call(ctx context.Context, userID, method, path string, body any, query map[string]string) (*resty.Response, *core.Error) {
	token, cerr := b.bearer(ctx, userID)
	if cerr != nil {
		return nil, cerr
	}
	req := b.http.R().
		SetContext(ctx).
		SetAuthToken(token)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, core.NewError(core.CodeNetworkError,
			fmt.Sprintf("%s request failed: %v", b.meta.Name, err))
	}
	if resp.IsError() {
		return nil, b.apiError(resp)
	}
	return resp, nil
}

func (b *base) apiError(resp *resty.Response) *core.Error {
	msg := fmt.Sprintf("%s API error (%d)", b.meta.Name, resp.StatusCode())
	e := core.NewError(core.CodeAPIError, msg)
	if snippet := strings.TrimSpace(string(resp.Body())); snippet != "" {
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		e.Details = snippet
	}
	return e
}

// body parses the response body for gjson probing.
func body(resp *resty.Response) gjson.Result {
	return gjson.ParseBytes(resp.Body())
}

// failErr wraps a structured error into a failed Result.
func failErr(e *core.Error) *core.Result {
	return &core.Result{Success: false, Message: e.Message, Error: e}
}
