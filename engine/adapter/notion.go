package adapter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/integration"
	"github.com/toolbridge/toolbridge/pkg/config"
)

const (
	notionDefaultBaseURL = "https://api.notion.com/v1"
	notionVersion        = "2022-06-28"
)

// NotionAdapter speaks the Notion API. Every request carries the pinned
// Notion-Version header; Notion rejects unversioned calls.
type NotionAdapter struct {
	base
}

func NewNotion(mgr *integration.Manager, provider *config.ProviderConfig, timeout time.Duration) *NotionAdapter {
	if provider == nil || provider.BaseURL == "" {
		provider = withBaseURL(provider, notionDefaultBaseURL)
	}
	meta := &Metadata{
		ID:          "notion",
		Name:        "Notion",
		Description: "Create and query pages and databases in a Notion workspace",
		Version:     "1.0.0",
		Author:      "ToolBridge",
	}
	a := &NotionAdapter{base: newBase(meta, mgr, provider, timeout)}
	a.http.SetHeader("Notion-Version", notionVersion)
	return a
}

func (a *NotionAdapter) Send(ctx context.Context, userID string, payload map[string]any) (*core.Result, error) {
	action := strArg(payload, "action")
	switch action {
	case "create_page":
		return a.createPage(ctx, userID, payload), nil
	case "update_page":
		return a.updatePage(ctx, userID, payload), nil
	default:
		return unknownAction("notion", action), nil
	}
}

func (a *NotionAdapter) Fetch(ctx context.Context, userID string, query map[string]any) (*core.Result, error) {
	action := strArg(query, "action")
	switch action {
	case "get_page":
		return a.getPage(ctx, userID, query), nil
	case "query_database":
		return a.queryDatabase(ctx, userID, query), nil
	case "search":
		return a.search(ctx, userID, query, ""), nil
	case "list_databases":
		return a.search(ctx, userID, query, "database"), nil
	default:
		return unknownAction("notion", action), nil
	}
}

func (a *NotionAdapter) createPage(ctx context.Context, userID string, payload map[string]any) *core.Result {
	parentID := strArg(payload, "parentId")
	title := strArg(payload, "title")
	if parentID == "" || title == "" {
		return missingFields("create_page", "parentId", "title")
	}
	reqBody := map[string]any{
		"parent": map[string]any{"page_id": parentID},
		"properties": map[string]any{
			"title": map[string]any{
				"title": []map[string]any{{"text": map[string]any{"content": title}}},
			},
		},
	}
	resp, cerr := a.call(ctx, userID, http.MethodPost, "/pages", reqBody, nil)
	if cerr != nil {
		return failErr(cerr)
	}
	doc := body(resp)
	res := core.OK("page created")
	res.ExternalID = doc.Get("id").String()
	res.Data = map[string]any{"id": res.ExternalID, "url": doc.Get("url").String()}
	return res
}

func (a *NotionAdapter) updatePage(ctx context.Context, userID string, payload map[string]any) *core.Result {
	pageID := strArg(payload, "pageId")
	if pageID == "" {
		return missingID("update_page", "pageId")
	}
	props, _ := payload["properties"].(map[string]any)
	if len(props) == 0 {
		return missingFields("update_page", "properties")
	}
	resp, cerr := a.call(ctx, userID, http.MethodPatch, "/pages/"+pageID,
		map[string]any{"properties": props}, nil)
	if cerr != nil {
		return failErr(cerr)
	}
	doc := body(resp)
	res := core.OK("page updated")
	res.ExternalID = doc.Get("id").String()
	return res
}

func (a *NotionAdapter) getPage(ctx context.Context, userID string, query map[string]any) *core.Result {
	pageID := strArg(query, "pageId")
	if pageID == "" {
		return missingID("get_page", "pageId")
	}
	resp, cerr := a.call(ctx, userID, http.MethodGet, "/pages/"+pageID, nil, nil)
	if cerr != nil {
		return failErr(cerr)
	}
	doc := body(resp)
	res := core.OK("fetched page")
	res.ExternalID = doc.Get("id").String()
	res.Data = map[string]any{
		"id":             doc.Get("id").String(),
		"url":            doc.Get("url").String(),
		"lastEditedTime": doc.Get("last_edited_time").String(),
	}
	return res
}

func (a *NotionAdapter) queryDatabase(ctx context.Context, userID string, query map[string]any) *core.Result {
	dbID := strArg(query, "databaseId")
	if dbID == "" {
		return missingID("query_database", "databaseId")
	}
	limit, offset := pageArgs(query, 20)
	reqBody := map[string]any{"page_size": limit}
	if cursor := strArg(query, "cursor"); cursor != "" {
		reqBody["start_cursor"] = cursor
	}
	resp, cerr := a.call(ctx, userID, http.MethodPost, "/databases/"+dbID+"/query", reqBody, nil)
	if cerr != nil {
		return failErr(cerr)
	}
	doc := body(resp)
	rows := collectNotionObjects(doc, limit)
	res := core.OK(fmt.Sprintf("fetched %d rows", len(rows)))
	res.Data = map[string]any{"results": rows}
	res.Metadata = pageMeta(len(rows), limit, offset)
	if doc.Get("has_more").Bool() {
		res.Metadata["pagination"] = core.Pagination{HasMore: true, NextURI: doc.Get("next_cursor").String()}
	}
	return res
}

// search backs both the free-text search and list_databases actions; filter
// narrows results to one object type when set.
func (a *NotionAdapter) search(ctx context.Context, userID string, query map[string]any, filter string) *core.Result {
	q := strArg(query, "query")
	if filter == "" && q == "" {
		return missingFields("search", "query")
	}
	limit, offset := pageArgs(query, 20)
	reqBody := map[string]any{"page_size": limit}
	if q != "" {
		reqBody["query"] = q
	}
	if filter != "" {
		reqBody["filter"] = map[string]any{"property": "object", "value": filter}
	}
	resp, cerr := a.call(ctx, userID, http.MethodPost, "/search", reqBody, nil)
	if cerr != nil {
		return failErr(cerr)
	}
	doc := body(resp)
	results := collectNotionObjects(doc, limit)
	res := core.OK(fmt.Sprintf("found %d results", len(results)))
	res.Data = map[string]any{"results": results}
	res.Metadata = pageMeta(len(results), limit, offset)
	return res
}

func collectNotionObjects(doc gjson.Result, capHint int) []map[string]any {
	out := make([]map[string]any, 0, capHint)
	doc.Get("results").ForEach(func(_, r gjson.Result) bool {
		out = append(out, map[string]any{
			"id":     r.Get("id").String(),
			"object": r.Get("object").String(),
			"url":    r.Get("url").String(),
		})
		return true
	})
	return out
}
