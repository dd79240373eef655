package adapter

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/integration"
	"github.com/toolbridge/toolbridge/pkg/config"
)

const gmailDefaultBaseURL = "https://gmail.googleapis.com/gmail/v1"

// GmailAdapter speaks the Gmail REST API on behalf of the authenticated user
// (the API's "me" shorthand resolves against the bearer token).
type GmailAdapter struct {
	base
}

func NewGmail(mgr *integration.Manager, provider *config.ProviderConfig, timeout time.Duration) *GmailAdapter {
	if provider == nil || provider.BaseURL == "" {
		provider = withBaseURL(provider, gmailDefaultBaseURL)
	}
	meta := &Metadata{
		ID:          "gmail",
		Name:        "Gmail",
		Description: "Send and search email in the user's Gmail account",
		Version:     "1.0.0",
		Author:      "ToolBridge",
		Scopes: []string{
			"https://www.googleapis.com/auth/gmail.send",
			"https://www.googleapis.com/auth/gmail.readonly",
		},
	}
	return &GmailAdapter{base: newBase(meta, mgr, provider, timeout)}
}

func (a *GmailAdapter) Send(ctx context.Context, userID string, payload map[string]any) (*core.Result, error) {
	action := strArg(payload, "action")
	switch action {
	case "send_email":
		return a.sendEmail(ctx, userID, payload, false), nil
	case "create_draft":
		return a.sendEmail(ctx, userID, payload, true), nil
	default:
		return unknownAction("gmail", action), nil
	}
}

func (a *GmailAdapter) Fetch(ctx context.Context, userID string, query map[string]any) (*core.Result, error) {
	action := strArg(query, "action")
	switch action {
	case "list_messages", "search_messages":
		return a.listMessages(ctx, userID, query), nil
	case "get_message":
		return a.getMessage(ctx, userID, query), nil
	default:
		return unknownAction("gmail", action), nil
	}
}

func (a *GmailAdapter) sendEmail(ctx context.Context, userID string, payload map[string]any, draft bool) *core.Result {
	action := "send_email"
	if draft {
		action = "create_draft"
	}
	to := strArg(payload, "to")
	subject := strArg(payload, "subject")
	bodyText := strArg(payload, "body")
	if to == "" || subject == "" || bodyText == "" {
		return missingFields(action, "to", "subject", "body")
	}
	raw := base64.URLEncoding.EncodeToString([]byte(
		fmt.Sprintf("To: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s", to, subject, bodyText)))

	path := "/users/me/messages/send"
	reqBody := map[string]any{"raw": raw}
	if draft {
		path = "/users/me/drafts"
		reqBody = map[string]any{"message": map[string]any{"raw": raw}}
	}
	resp, cerr := a.call(ctx, userID, http.MethodPost, path, reqBody, nil)
	if cerr != nil {
		return failErr(cerr)
	}
	doc := body(resp)
	res := core.OK("email sent to " + to)
	res.ExternalID = doc.Get("id").String()
	if draft {
		res.Message = "draft created"
		res.ExternalID = doc.Get("message.id").String()
		res.Data = map[string]any{"draftId": doc.Get("id").String()}
	}
	return res
}

func (a *GmailAdapter) listMessages(ctx context.Context, userID string, query map[string]any) *core.Result {
	action := strArg(query, "action")
	q := strArg(query, "query")
	if action == "search_messages" && q == "" {
		return missingFields("search_messages", "query")
	}
	limit, offset := pageArgs(query, 20)
	params := map[string]string{"maxResults": fmt.Sprint(limit)}
	if q != "" {
		params["q"] = q
	}
	if tok := strArg(query, "pageToken"); tok != "" {
		params["pageToken"] = tok
	}
	resp, cerr := a.call(ctx, userID, http.MethodGet, "/users/me/messages", nil, params)
	if cerr != nil {
		return failErr(cerr)
	}
	doc := body(resp)
	messages := make([]map[string]any, 0, limit)
	doc.Get("messages").ForEach(func(_, m gjson.Result) bool {
		messages = append(messages, map[string]any{
			"id":       m.Get("id").String(),
			"threadId": m.Get("threadId").String(),
		})
		return true
	})
	res := core.OK(fmt.Sprintf("fetched %d messages", len(messages)))
	res.Data = map[string]any{"messages": messages}
	res.Metadata = pageMeta(len(messages), limit, offset)
	if next := doc.Get("nextPageToken").String(); next != "" {
		res.Metadata["pagination"] = core.Pagination{HasMore: true, NextURI: next}
	}
	return res
}

func (a *GmailAdapter) getMessage(ctx context.Context, userID string, query map[string]any) *core.Result {
	id := strArg(query, "messageId")
	if id == "" {
		return missingID("get_message", "messageId")
	}
	resp, cerr := a.call(ctx, userID, http.MethodGet, "/users/me/messages/"+id, nil,
		map[string]string{"format": "metadata"})
	if cerr != nil {
		return failErr(cerr)
	}
	doc := body(resp)
	headers := map[string]string{}
	doc.Get("payload.headers").ForEach(func(_, h gjson.Result) bool {
		switch h.Get("name").String() {
		case "From", "To", "Subject", "Date":
			headers[h.Get("name").String()] = h.Get("value").String()
		}
		return true
	})
	res := core.OK("fetched message")
	res.ExternalID = doc.Get("id").String()
	res.Data = map[string]any{
		"id":      doc.Get("id").String(),
		"snippet": doc.Get("snippet").String(),
		"headers": headers,
	}
	return res
}

// Watch registers the Pub/Sub notification channel for the user's mailbox.
// Gmail caps watches at seven days; subscription renewal calls this again
// before expiry. Returns the history id and the provider expiry.
func (a *GmailAdapter) Watch(ctx context.Context, userID, topic string) (string, time.Time, error) {
	payload := map[string]any{
		"topicName": topic,
		"labelIds":  []string{"INBOX"},
	}
	resp, cerr := a.call(ctx, userID, http.MethodPost, "/users/me/watch", payload, nil)
	if cerr != nil {
		return "", time.Time{}, fmt.Errorf("gmail watch: %s", cerr.Message)
	}
	doc := body(resp)
	expiresAt := time.UnixMilli(doc.Get("expiration").Int())
	return doc.Get("historyId").String(), expiresAt, nil
}
