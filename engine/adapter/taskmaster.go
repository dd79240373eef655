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

// TaskMasterAdapter speaks the in-house TaskMaster API. Unlike the public
// providers there is no default base URL; deployments must configure one.
type TaskMasterAdapter struct {
	base
}

func NewTaskMaster(mgr *integration.Manager, provider *config.ProviderConfig, timeout time.Duration) *TaskMasterAdapter {
	meta := &Metadata{
		ID:          "taskmaster",
		Name:        "TaskMaster",
		Description: "Manage tasks in the TaskMaster service",
		Version:     "1.0.0",
		Author:      "ToolBridge",
	}
	return &TaskMasterAdapter{base: newBase(meta, mgr, provider, timeout)}
}

func (a *TaskMasterAdapter) Send(ctx context.Context, userID string, payload map[string]any) (*core.Result, error) {
	action := strArg(payload, "action")
	switch action {
	case "create_task":
		return a.createTask(ctx, userID, payload), nil
	case "update_task":
		return a.updateTask(ctx, userID, payload), nil
	case "complete_task":
		return a.completeTask(ctx, userID, payload), nil
	case "delete_task":
		return a.deleteTask(ctx, userID, payload), nil
	default:
		return unknownAction("taskmaster", action), nil
	}
}

func (a *TaskMasterAdapter) Fetch(ctx context.Context, userID string, query map[string]any) (*core.Result, error) {
	action := strArg(query, "action")
	switch action {
	case "list_tasks":
		return a.listTasks(ctx, userID, query), nil
	case "get_task":
		return a.getTask(ctx, userID, query), nil
	default:
		return unknownAction("taskmaster", action), nil
	}
}

func (a *TaskMasterAdapter) createTask(ctx context.Context, userID string, payload map[string]any) *core.Result {
	title := strArg(payload, "title")
	if title == "" {
		return missingFields("create_task", "title")
	}
	reqBody := map[string]any{"title": title}
	if desc := strArg(payload, "description"); desc != "" {
		reqBody["description"] = desc
	}
	if due := strArg(payload, "dueAt"); due != "" {
		reqBody["dueAt"] = due
	}
	resp, cerr := a.call(ctx, userID, http.MethodPost, "/v1/tasks", reqBody, nil)
	if cerr != nil {
		return failErr(cerr)
	}
	doc := body(resp)
	res := core.OK("task created")
	res.ExternalID = doc.Get("id").String()
	res.Data = map[string]any{"id": res.ExternalID, "title": doc.Get("title").String()}
	return res
}

func (a *TaskMasterAdapter) updateTask(ctx context.Context, userID string, payload map[string]any) *core.Result {
	taskID := strArg(payload, "taskId")
	if taskID == "" {
		return missingTaskID("update_task")
	}
	reqBody := map[string]any{}
	for _, field := range []string{"title", "description", "dueAt", "status"} {
		if v := strArg(payload, field); v != "" {
			reqBody[field] = v
		}
	}
	if len(reqBody) == 0 {
		return missingFields("update_task", "title|description|dueAt|status")
	}
	resp, cerr := a.call(ctx, userID, http.MethodPatch, "/v1/tasks/"+taskID, reqBody, nil)
	if cerr != nil {
		return failErr(cerr)
	}
	doc := body(resp)
	res := core.OK("task updated")
	res.ExternalID = doc.Get("id").String()
	return res
}

func (a *TaskMasterAdapter) completeTask(ctx context.Context, userID string, payload map[string]any) *core.Result {
	taskID := strArg(payload, "taskId")
	if taskID == "" {
		return missingTaskID("complete_task")
	}
	if _, cerr := a.call(ctx, userID, http.MethodPost, "/v1/tasks/"+taskID+"/complete", nil, nil); cerr != nil {
		return failErr(cerr)
	}
	res := core.OK("task completed")
	res.ExternalID = taskID
	return res
}

func (a *TaskMasterAdapter) deleteTask(ctx context.Context, userID string, payload map[string]any) *core.Result {
	taskID := strArg(payload, "taskId")
	if taskID == "" {
		return missingTaskID("delete_task")
	}
	if _, cerr := a.call(ctx, userID, http.MethodDelete, "/v1/tasks/"+taskID, nil, nil); cerr != nil {
		return failErr(cerr)
	}
	res := core.OK("task deleted")
	res.ExternalID = taskID
	return res
}

func (a *TaskMasterAdapter) listTasks(ctx context.Context, userID string, query map[string]any) *core.Result {
	limit, offset := pageArgs(query, 20)
	params := map[string]string{"limit": fmt.Sprint(limit), "offset": fmt.Sprint(offset)}
	if status := strArg(query, "status"); status != "" {
		params["status"] = status
	}
	resp, cerr := a.call(ctx, userID, http.MethodGet, "/v1/tasks", nil, params)
	if cerr != nil {
		return failErr(cerr)
	}
	doc := body(resp)
	tasks := make([]map[string]any, 0, limit)
	doc.Get("tasks").ForEach(func(_, t gjson.Result) bool {
		tasks = append(tasks, map[string]any{
			"id":     t.Get("id").String(),
			"title":  t.Get("title").String(),
			"status": t.Get("status").String(),
			"dueAt":  t.Get("dueAt").String(),
		})
		return true
	})
	res := core.OK(fmt.Sprintf("fetched %d tasks", len(tasks)))
	res.Data = map[string]any{"tasks": tasks}
	res.Metadata = pageMeta(len(tasks), limit, offset)
	return res
}

func (a *TaskMasterAdapter) getTask(ctx context.Context, userID string, query map[string]any) *core.Result {
	taskID := strArg(query, "taskId")
	if taskID == "" {
		return missingTaskID("get_task")
	}
	resp, cerr := a.call(ctx, userID, http.MethodGet, "/v1/tasks/"+taskID, nil, nil)
	if cerr != nil {
		return failErr(cerr)
	}
	doc := body(resp)
	res := core.OK("fetched task")
	res.ExternalID = doc.Get("id").String()
	res.Data = map[string]any{
		"id":          doc.Get("id").String(),
		"title":       doc.Get("title").String(),
		"description": doc.Get("description").String(),
		"status":      doc.Get("status").String(),
	}
	return res
}
