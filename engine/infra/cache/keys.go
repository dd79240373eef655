package cache

import "fmt"

// Key builders for the engine's KV namespace. Every component goes through
// these so the layout stays greppable in one place.

func IntegrationKey(userID, tool string) string {
	return fmt.Sprintf("integration:%s:%s", userID, tool)
}

func ResultKey(agentID, tool, intent string) string {
	return fmt.Sprintf("result:%s:%s:%s", agentID, tool, intent)
}

func ScheduledTaskKey(taskID string) string {
	return fmt.Sprintf("scheduled_task:%s", taskID)
}

// ErrorCountKey is the tool-scoped circuit breaker counter.
func ErrorCountKey(agentID, tool string) string {
	return fmt.Sprintf("error_count:%s:%s", agentID, tool)
}

// ErrorCountActionKey is the action-scoped retry counter.
func ErrorCountActionKey(agentID, tool, action string) string {
	return fmt.Sprintf("error_count:%s:%s:%s", agentID, tool, action)
}

func ContextMapKey(agentID, tool, contextKey string) string {
	return fmt.Sprintf("context_map:%s:%s:%s", agentID, tool, contextKey)
}

func ContextMapRevKey(agentID, tool, externalID string) string {
	return fmt.Sprintf("context_map_rev:%s:%s:%s", agentID, tool, externalID)
}

func FallbackKey(tool string) string {
	return fmt.Sprintf("fallback:%s", tool)
}

func FallbackAgentKey(tool, agentID string) string {
	return fmt.Sprintf("fallback:%s:%s", tool, agentID)
}
