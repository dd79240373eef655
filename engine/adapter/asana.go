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

const asanaDefaultBaseURL = "https://app.asana.com/api/1.0"

// AsanaAdapter speaks the Asana REST API. Asana wraps every payload in a
// top-level "data" envelope, both directions.
type AsanaAdapter struct {
	base
}

func NewAsana(mgr *integration.Manager, provider *config.ProviderConfig, timeout time.Duration) *AsanaAdapter {
	if provider == nil || provider.BaseURL == "" {
		provider = withBaseURL(provider, asanaDefaultBaseURL)
	}
	meta := &Metadata{
		ID:          "asana",
		Name:        "Asana",
		Description: "Manage tasks and projects in Asana workspaces",
		Version:     "1.0.0",
		Author:      "ToolBridge",
	}
	return &AsanaAdapter{base: newBase(meta, mgr, provider, timeout)}
}

func (a *AsanaAdapter) Send(ctx context.Context, userID string, payload map[string]any) (*core.Result, error) {
	action := strArg(payload, "action")
	switch action {
	case "create_task":
		return a.createTask(ctx, userID, payload), nil
	case "update_task":
		return a.updateTask(ctx, userID, payload), nil
	case "delete_task":
		return a.deleteTask(ctx, userID, payload), nil
	default:
		return unknownAction("asana", action), nil
	}
}

func (a *AsanaAdapter) Fetch(ctx context.Context, userID string, query map[string]any) (*core.Result, error) {
	action := strArg(query, "action")
	switch action {
	case "list_tasks":
		return a.listTasks(ctx, userID, query), nil
	case "get_task":
		return a.getTask(ctx, userID, query), nil
	case "list_projects":
		return a.listProjects(ctx, userID, query), nil
	case "list_workspaces":
		return a.listWorkspaces(ctx, userID, query), nil
	default:
		return unknownAction("asana", action), nil
	}
}

func (a *AsanaAdapter) createTask(ctx context.Context, userID string, payload map[string]any) *core.Result {
	projectID := strArg(payload, "projectId")
	name := strArg(payload, "name")
	if projectID == "" || name == "" {
		return missingFields("create_task", "projectId", "name")
	}
	data := map[string]any{"name": name, "projects": []string{projectID}}
	if notes := strArg(payload, "notes"); notes != "" {
		data["notes"] = notes
	}
	if due := strArg(payload, "dueOn"); due != "" {
		data["due_on"] = due
	}
	resp, cerr := a.call(ctx, userID, http.MethodPost, "/tasks", map[string]any{"data": data}, nil)
	if cerr != nil {
		return failErr(cerr)
	}
	doc := body(resp)
	res := core.OK("task created")
	res.ExternalID = doc.Get("data.gid").String()
	res.Data = map[string]any{"gid": res.ExternalID, "name": doc.Get("data.name").String()}
	return res
}

func (a *AsanaAdapter) updateTask(ctx context.Context, userID string, payload map[string]any) *core.Result {
	taskID := strArg(payload, "taskId")
	if taskID == "" {
		return missingTaskID("update_task")
	}
	data := map[string]any{}
	if name := strArg(payload, "name"); name != "" {
		data["name"] = name
	}
	if notes := strArg(payload, "notes"); notes != "" {
		data["notes"] = notes
	}
	if completed, ok := payload["completed"].(bool); ok {
		data["completed"] = completed
	}
	if len(data) == 0 {
		return missingFields("update_task", "name|notes|completed")
	}
	resp, cerr := a.call(ctx, userID, http.MethodPut, "/tasks/"+taskID, map[string]any{"data": data}, nil)
	if cerr != nil {
		return failErr(cerr)
	}
	doc := body(resp)
	res := core.OK("task updated")
	res.ExternalID = doc.Get("data.gid").String()
	return res
}

func (a *AsanaAdapter) deleteTask(ctx context.Context, userID string, payload map[string]any) *core.Result {
	taskID := strArg(payload, "taskId")
	if taskID == "" {
		return missingTaskID("delete_task")
	}
	if _, cerr := a.call(ctx, userID, http.MethodDelete, "/tasks/"+taskID, nil, nil); cerr != nil {
		return failErr(cerr)
	}
	res := core.OK("task deleted")
	res.ExternalID = taskID
	return res
}

func (a *AsanaAdapter) listTasks(ctx context.Context, userID string, query map[string]any) *core.Result {
	projectID := strArg(query, "projectId")
	if projectID == "" {
		return missingFields("list_tasks", "projectId")
	}
	limit, offset := pageArgs(query, 20)
	resp, cerr := a.call(ctx, userID, http.MethodGet, "/projects/"+projectID+"/tasks", nil,
		map[string]string{"limit": fmt.Sprint(limit), "opt_fields": "name,completed,due_on"})
	if cerr != nil {
		return failErr(cerr)
	}
	doc := body(resp)
	tasks := make([]map[string]any, 0, limit)
	doc.Get("data").ForEach(func(_, t gjson.Result) bool {
		tasks = append(tasks, map[string]any{
			"gid":       t.Get("gid").String(),
			"name":      t.Get("name").String(),
			"completed": t.Get("completed").Bool(),
			"dueOn":     t.Get("due_on").String(),
		})
		return true
	})
	res := core.OK(fmt.Sprintf("fetched %d tasks", len(tasks)))
	res.Data = map[string]any{"tasks": tasks}
	res.Metadata = pageMeta(len(tasks), limit, offset)
	if next := doc.Get("next_page.offset").String(); next != "" {
		res.Metadata["pagination"] = core.Pagination{HasMore: true, NextURI: next}
	}
	return res
}

func (a *AsanaAdapter) getTask(ctx context.Context, userID string, query map[string]any) *core.Result {
	taskID := strArg(query, "taskId")
	if taskID == "" {
		return missingTaskID("get_task")
	}
	resp, cerr := a.call(ctx, userID, http.MethodGet, "/tasks/"+taskID, nil, nil)
	if cerr != nil {
		return failErr(cerr)
	}
	doc := body(resp)
	res := core.OK("fetched task")
	res.ExternalID = doc.Get("data.gid").String()
	res.Data = map[string]any{
		"gid":       doc.Get("data.gid").String(),
		"name":      doc.Get("data.name").String(),
		"notes":     doc.Get("data.notes").String(),
		"completed": doc.Get("data.completed").Bool(),
	}
	return res
}

func (a *AsanaAdapter) listProjects(ctx context.Context, userID string, query map[string]any) *core.Result {
	workspaceID := strArg(query, "workspaceId")
	if workspaceID == "" {
		return missingFields("list_projects", "workspaceId")
	}
	limit, offset := pageArgs(query, 20)
	resp, cerr := a.call(ctx, userID, http.MethodGet, "/workspaces/"+workspaceID+"/projects", nil,
		map[string]string{"limit": fmt.Sprint(limit)})
	if cerr != nil {
		return failErr(cerr)
	}
	doc := body(resp)
	projects := make([]map[string]any, 0, limit)
	doc.Get("data").ForEach(func(_, p gjson.Result) bool {
		projects = append(projects, map[string]any{
			"gid":  p.Get("gid").String(),
			"name": p.Get("name").String(),
		})
		return true
	})
	res := core.OK(fmt.Sprintf("fetched %d projects", len(projects)))
	res.Data = map[string]any{"projects": projects}
	res.Metadata = pageMeta(len(projects), limit, offset)
	return res
}

func (a *AsanaAdapter) listWorkspaces(ctx context.Context, userID string, query map[string]any) *core.Result {
	limit, offset := pageArgs(query, 50)
	resp, cerr := a.call(ctx, userID, http.MethodGet, "/workspaces", nil,
		map[string]string{"limit": fmt.Sprint(limit)})
	if cerr != nil {
		return failErr(cerr)
	}
	doc := body(resp)
	workspaces := make([]map[string]any, 0, limit)
	doc.Get("data").ForEach(func(_, w gjson.Result) bool {
		workspaces = append(workspaces, map[string]any{
			"gid":  w.Get("gid").String(),
			"name": w.Get("name").String(),
		})
		return true
	})
	res := core.OK(fmt.Sprintf("fetched %d workspaces", len(workspaces)))
	res.Data = map[string]any{"workspaces": workspaces}
	res.Metadata = pageMeta(len(workspaces), limit, offset)
	return res
}
