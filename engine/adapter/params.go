package adapter

import (
	"fmt"
	"strconv"

	"github.com/toolbridge/toolbridge/engine/core"
)

// strArg reads a string field from an action payload, tolerating absent or
// non-string values.
func strArg(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// intArg reads a numeric field, accepting the float64 that JSON decoding
// produces as well as string forms.
func intArg(m map[string]any, key string, def int) int {
	if m == nil {
		return def
	}
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// missingFields builds the validation failure for absent required fields.
func missingFields(action string, fields ...string) *core.Result {
	return core.Fail(core.CodeMissingFields,
		fmt.Sprintf("%s requires: %v", action, fields))
}

// missingID is for actions addressing a generic external object.
func missingID(action, field string) *core.Result {
	return core.Fail(core.CodeMissingID, fmt.Sprintf("%s requires %s", action, field))
}

// missingTaskID is for task-addressed actions.
func missingTaskID(action string) *core.Result {
	return core.Fail(core.CodeMissingTaskID, fmt.Sprintf("%s requires taskId", action))
}

// unknownAction is the routing miss for an action name the adapter does not
// implement.
func unknownAction(tool, action string) *core.Result {
	return core.Fail(core.CodeUnknownAction,
		fmt.Sprintf("unknown action %q for tool %s", action, tool))
}

// pageArgs extracts limit/offset with the adapter's default page size.
func pageArgs(query map[string]any, defLimit int) (limit, offset int) {
	limit = intArg(query, "limit", defLimit)
	if limit <= 0 || limit > 100 {
		limit = defLimit
	}
	offset = intArg(query, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// pageMeta builds the pagination block list operations attach under
// Result.Metadata. hasMore is inferred from a full page.
func pageMeta(returned, limit, offset int) map[string]any {
	p := core.Pagination{HasMore: returned >= limit, NextOffset: offset + returned}
	return map[string]any{"pagination": p}
}
