package core

import (
	"strings"
	"time"
)

// TaskIntent is the inbound request envelope from an agent.
type TaskIntent struct {
	AgentID       string         `json:"agentId"`
	UserID        string         `json:"userId"`
	Tool          string         `json:"tool"`
	Intent        string         `json:"intent"`
	Context       map[string]any `json:"context,omitempty"`
	ScheduledTime *time.Time     `json:"scheduledTime,omitempty"`
}

// IntentKind distinguishes read intents (adapter Fetch) from write intents
// (adapter Send).
type IntentKind int

const (
	IntentUnknown IntentKind = iota
	IntentRead
	IntentWrite
)

var readPrefixes = []string{"get_", "fetch", "fetch_", "list_", "search_"}

var writePrefixes = []string{"send", "send_", "create_", "update_", "delete_", "post_"}

const testIntent = "test_intent"

// ClassifyIntent maps an intent name onto the read/write dispatch split.
// Names matching none of the known prefixes are unsupported.
func ClassifyIntent(name string) IntentKind {
	if name == testIntent {
		return IntentWrite
	}
	for _, p := range readPrefixes {
		if strings.HasPrefix(name, p) {
			return IntentRead
		}
	}
	for _, p := range writePrefixes {
		if strings.HasPrefix(name, p) {
			return IntentWrite
		}
	}
	return IntentUnknown
}

// Validate checks the fields every dispatch requires.
func (t *TaskIntent) Validate() error {
	if t.AgentID == "" {
		return NewError(CodeMissingFields, "agentId is required")
	}
	if t.UserID == "" {
		return NewError(CodeMissingFields, "userId is required")
	}
	if t.Tool == "" {
		return NewError(CodeMissingFields, "tool is required")
	}
	if t.Intent == "" {
		return NewError(CodeMissingFields, "intent is required")
	}
	return nil
}
