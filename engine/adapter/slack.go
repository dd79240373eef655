package adapter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/integration"
	"github.com/toolbridge/toolbridge/pkg/config"
)

const slackDefaultBaseURL = "https://slack.com/api"

// SlackAdapter speaks the Slack Web API. Slack reports failures as 200s with
// ok=false, so every response goes through slackBody.
type SlackAdapter struct {
	base
}

func NewSlack(mgr *integration.Manager, provider *config.ProviderConfig, timeout time.Duration) *SlackAdapter {
	if provider == nil || provider.BaseURL == "" {
		provider = withBaseURL(provider, slackDefaultBaseURL)
	}
	meta := &Metadata{
		ID:          "slack",
		Name:        "Slack",
		Description: "Send messages and read channels in a Slack workspace",
		Version:     "1.0.0",
		Author:      "ToolBridge",
		Scopes:      []string{"chat:write", "channels:read", "channels:history", "search:read"},
	}
	return &SlackAdapter{base: newBase(meta, mgr, provider, timeout)}
}

func (a *SlackAdapter) Send(ctx context.Context, userID string, payload map[string]any) (*core.Result, error) {
	action := strArg(payload, "action")
	switch action {
	case "send_message":
		return a.sendMessage(ctx, userID, payload), nil
	case "create_channel":
		return a.createChannel(ctx, userID, payload), nil
	default:
		return unknownAction("slack", action), nil
	}
}

func (a *SlackAdapter) Fetch(ctx context.Context, userID string, query map[string]any) (*core.Result, error) {
	action := strArg(query, "action")
	switch action {
	case "list_channels":
		return a.listChannels(ctx, userID, query), nil
	case "get_messages", "fetch_messages":
		return a.getMessages(ctx, userID, query), nil
	case "search_messages":
		return a.searchMessages(ctx, userID, query), nil
	default:
		return unknownAction("slack", action), nil
	}
}

func (a *SlackAdapter) sendMessage(ctx context.Context, userID string, payload map[string]any) *core.Result {
	channel := strArg(payload, "channel")
	text := strArg(payload, "text")
	if channel == "" || text == "" {
		return missingFields("send_message", "channel", "text")
	}
	resp, cerr := a.call(ctx, userID, http.MethodPost, "/chat.postMessage",
		map[string]any{"channel": channel, "text": text}, nil)
	if cerr != nil {
		return failErr(cerr)
	}
	doc, cerr := a.slackBody(resp)
	if cerr != nil {
		return failErr(cerr)
	}
	res := core.OK("message sent to " + channel)
	res.ExternalID = doc.Get("ts").String()
	res.Data = map[string]any{"channel": doc.Get("channel").String(), "ts": res.ExternalID}
	return res
}

func (a *SlackAdapter) createChannel(ctx context.Context, userID string, payload map[string]any) *core.Result {
	name := strArg(payload, "name")
	if name == "" {
		return missingFields("create_channel", "name")
	}
	resp, cerr := a.call(ctx, userID, http.MethodPost, "/conversations.create",
		map[string]any{"name": name}, nil)
	if cerr != nil {
		return failErr(cerr)
	}
	doc, cerr := a.slackBody(resp)
	if cerr != nil {
		return failErr(cerr)
	}
	res := core.OK("channel created")
	res.ExternalID = doc.Get("channel.id").String()
	res.Data = map[string]any{
		"id":   res.ExternalID,
		"name": doc.Get("channel.name").String(),
	}
	return res
}

func (a *SlackAdapter) listChannels(ctx context.Context, userID string, query map[string]any) *core.Result {
	limit, offset := pageArgs(query, 20)
	resp, cerr := a.call(ctx, userID, http.MethodGet, "/conversations.list", nil,
		map[string]string{"limit": fmt.Sprint(limit), "exclude_archived": "true"})
	if cerr != nil {
		return failErr(cerr)
	}
	doc, cerr := a.slackBody(resp)
	if cerr != nil {
		return failErr(cerr)
	}
	channels := make([]map[string]any, 0, limit)
	doc.Get("channels").ForEach(func(_, ch gjson.Result) bool {
		channels = append(channels, map[string]any{
			"id":        ch.Get("id").String(),
			"name":      ch.Get("name").String(),
			"isPrivate": ch.Get("is_private").Bool(),
		})
		return true
	})
	res := core.OK(fmt.Sprintf("fetched %d channels", len(channels)))
	res.Data = map[string]any{"channels": channels}
	res.Metadata = pageMeta(len(channels), limit, offset)
	if cursor := doc.Get("response_metadata.next_cursor").String(); cursor != "" {
		res.Metadata["pagination"] = core.Pagination{HasMore: true, NextURI: cursor}
	}
	return res
}

func (a *SlackAdapter) getMessages(ctx context.Context, userID string, query map[string]any) *core.Result {
	channel := strArg(query, "channel")
	if channel == "" {
		return missingID("get_messages", "channel")
	}
	limit, offset := pageArgs(query, 20)
	resp, cerr := a.call(ctx, userID, http.MethodGet, "/conversations.history", nil,
		map[string]string{"channel": channel, "limit": fmt.Sprint(limit)})
	if cerr != nil {
		return failErr(cerr)
	}
	doc, cerr := a.slackBody(resp)
	if cerr != nil {
		return failErr(cerr)
	}
	messages := make([]map[string]any, 0, limit)
	doc.Get("messages").ForEach(func(_, m gjson.Result) bool {
		messages = append(messages, map[string]any{
			"ts":   m.Get("ts").String(),
			"user": m.Get("user").String(),
			"text": m.Get("text").String(),
		})
		return true
	})
	res := core.OK(fmt.Sprintf("fetched %d messages", len(messages)))
	res.Data = map[string]any{"channel": channel, "messages": messages}
	res.Metadata = pageMeta(len(messages), limit, offset)
	return res
}

func (a *SlackAdapter) searchMessages(ctx context.Context, userID string, query map[string]any) *core.Result {
	q := strArg(query, "query")
	if q == "" {
		return missingFields("search_messages", "query")
	}
	limit, offset := pageArgs(query, 20)
	resp, cerr := a.call(ctx, userID, http.MethodGet, "/search.messages", nil,
		map[string]string{"query": q, "count": fmt.Sprint(limit)})
	if cerr != nil {
		return failErr(cerr)
	}
	doc, cerr := a.slackBody(resp)
	if cerr != nil {
		return failErr(cerr)
	}
	matches := make([]map[string]any, 0, limit)
	doc.Get("messages.matches").ForEach(func(_, m gjson.Result) bool {
		matches = append(matches, map[string]any{
			"ts":      m.Get("ts").String(),
			"channel": m.Get("channel.id").String(),
			"text":    m.Get("text").String(),
		})
		return true
	})
	res := core.OK(fmt.Sprintf("found %d messages", len(matches)))
	res.Data = map[string]any{"matches": matches}
	res.Metadata = pageMeta(len(matches), limit, offset)
	return res
}

func (a *SlackAdapter) slackBody(resp *resty.Response) (gjson.Result, *core.Error) {
	doc := body(resp)
	if !doc.Get("ok").Bool() {
		return doc, core.NewError(core.CodeAPIError,
			fmt.Sprintf("Slack API error: %s", doc.Get("error").String()))
	}
	return doc, nil
}

// withBaseURL fills a provider config default without mutating the caller's.
func withBaseURL(p *config.ProviderConfig, url string) *config.ProviderConfig {
	out := config.ProviderConfig{}
	if p != nil {
		out = *p
	}
	out.BaseURL = url
	return &out
}
