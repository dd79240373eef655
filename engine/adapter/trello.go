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

const trelloDefaultBaseURL = "https://api.trello.com/1"

// TrelloAdapter speaks the Trello REST API.
type TrelloAdapter struct {
	base
}

func NewTrello(mgr *integration.Manager, provider *config.ProviderConfig, timeout time.Duration) *TrelloAdapter {
	if provider == nil || provider.BaseURL == "" {
		provider = withBaseURL(provider, trelloDefaultBaseURL)
	}
	meta := &Metadata{
		ID:          "trello",
		Name:        "Trello",
		Description: "Manage boards, lists and cards in Trello",
		Version:     "1.0.0",
		Author:      "ToolBridge",
	}
	return &TrelloAdapter{base: newBase(meta, mgr, provider, timeout)}
}

func (a *TrelloAdapter) Send(ctx context.Context, userID string, payload map[string]any) (*core.Result, error) {
	action := strArg(payload, "action")
	switch action {
	case "create_card":
		return a.createCard(ctx, userID, payload), nil
	case "update_card":
		return a.updateCard(ctx, userID, payload), nil
	case "delete_card":
		return a.deleteCard(ctx, userID, payload), nil
	default:
		return unknownAction("trello", action), nil
	}
}

func (a *TrelloAdapter) Fetch(ctx context.Context, userID string, query map[string]any) (*core.Result, error) {
	action := strArg(query, "action")
	switch action {
	case "list_boards":
		return a.listBoards(ctx, userID, query), nil
	case "list_cards":
		return a.listCards(ctx, userID, query), nil
	case "get_card":
		return a.getCard(ctx, userID, query), nil
	default:
		return unknownAction("trello", action), nil
	}
}

func (a *TrelloAdapter) createCard(ctx context.Context, userID string, payload map[string]any) *core.Result {
	listID := strArg(payload, "listId")
	name := strArg(payload, "name")
	if listID == "" || name == "" {
		return missingFields("create_card", "listId", "name")
	}
	reqBody := map[string]any{"idList": listID, "name": name}
	if desc := strArg(payload, "desc"); desc != "" {
		reqBody["desc"] = desc
	}
	resp, cerr := a.call(ctx, userID, http.MethodPost, "/cards", reqBody, nil)
	if cerr != nil {
		return failErr(cerr)
	}
	doc := body(resp)
	res := core.OK("card created")
	res.ExternalID = doc.Get("id").String()
	res.Data = map[string]any{
		"id":       res.ExternalID,
		"name":     doc.Get("name").String(),
		"shortUrl": doc.Get("shortUrl").String(),
	}
	return res
}

func (a *TrelloAdapter) updateCard(ctx context.Context, userID string, payload map[string]any) *core.Result {
	cardID := strArg(payload, "cardId")
	if cardID == "" {
		return missingID("update_card", "cardId")
	}
	reqBody := map[string]any{}
	for _, field := range []string{"name", "desc", "idList", "due"} {
		if v := strArg(payload, field); v != "" {
			reqBody[field] = v
		}
	}
	if closed, ok := payload["closed"].(bool); ok {
		reqBody["closed"] = closed
	}
	if len(reqBody) == 0 {
		return missingFields("update_card", "name|desc|idList|due|closed")
	}
	resp, cerr := a.call(ctx, userID, http.MethodPut, "/cards/"+cardID, reqBody, nil)
	if cerr != nil {
		return failErr(cerr)
	}
	doc := body(resp)
	res := core.OK("card updated")
	res.ExternalID = doc.Get("id").String()
	return res
}

func (a *TrelloAdapter) deleteCard(ctx context.Context, userID string, payload map[string]any) *core.Result {
	cardID := strArg(payload, "cardId")
	if cardID == "" {
		return missingID("delete_card", "cardId")
	}
	if _, cerr := a.call(ctx, userID, http.MethodDelete, "/cards/"+cardID, nil, nil); cerr != nil {
		return failErr(cerr)
	}
	res := core.OK("card deleted")
	res.ExternalID = cardID
	return res
}

func (a *TrelloAdapter) listBoards(ctx context.Context, userID string, query map[string]any) *core.Result {
	limit, offset := pageArgs(query, 20)
	resp, cerr := a.call(ctx, userID, http.MethodGet, "/members/me/boards", nil,
		map[string]string{"fields": "name,closed,url"})
	if cerr != nil {
		return failErr(cerr)
	}
	doc := body(resp)
	boards := make([]map[string]any, 0, limit)
	doc.ForEach(func(_, b gjson.Result) bool {
		if len(boards) >= limit {
			return false
		}
		boards = append(boards, map[string]any{
			"id":     b.Get("id").String(),
			"name":   b.Get("name").String(),
			"closed": b.Get("closed").Bool(),
		})
		return true
	})
	res := core.OK(fmt.Sprintf("fetched %d boards", len(boards)))
	res.Data = map[string]any{"boards": boards}
	res.Metadata = pageMeta(len(boards), limit, offset)
	return res
}

func (a *TrelloAdapter) listCards(ctx context.Context, userID string, query map[string]any) *core.Result {
	listID := strArg(query, "listId")
	if listID == "" {
		return missingID("list_cards", "listId")
	}
	limit, offset := pageArgs(query, 20)
	resp, cerr := a.call(ctx, userID, http.MethodGet, "/lists/"+listID+"/cards", nil,
		map[string]string{"limit": fmt.Sprint(limit)})
	if cerr != nil {
		return failErr(cerr)
	}
	doc := body(resp)
	cards := make([]map[string]any, 0, limit)
	doc.ForEach(func(_, c gjson.Result) bool {
		cards = append(cards, map[string]any{
			"id":   c.Get("id").String(),
			"name": c.Get("name").String(),
			"due":  c.Get("due").String(),
		})
		return true
	})
	res := core.OK(fmt.Sprintf("fetched %d cards", len(cards)))
	res.Data = map[string]any{"cards": cards}
	res.Metadata = pageMeta(len(cards), limit, offset)
	return res
}

func (a *TrelloAdapter) getCard(ctx context.Context, userID string, query map[string]any) *core.Result {
	cardID := strArg(query, "cardId")
	if cardID == "" {
		return missingID("get_card", "cardId")
	}
	resp, cerr := a.call(ctx, userID, http.MethodGet, "/cards/"+cardID, nil, nil)
	if cerr != nil {
		return failErr(cerr)
	}
	doc := body(resp)
	res := core.OK("fetched card")
	res.ExternalID = doc.Get("id").String()
	res.Data = map[string]any{
		"id":   doc.Get("id").String(),
		"name": doc.Get("name").String(),
		"desc": doc.Get("desc").String(),
		"due":  doc.Get("due").String(),
	}
	return res
}
