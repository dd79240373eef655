package core

// ErrorCode identifies a failure class in the engine taxonomy.
type ErrorCode string

const (
	CodeNotConnected      ErrorCode = "NOT_CONNECTED"
	CodeToolDisabled      ErrorCode = "TOOL_DISABLED"
	CodeAdapterNotFound   ErrorCode = "ADAPTER_NOT_FOUND"
	CodeUnsupportedAction ErrorCode = "UNSUPPORTED_ACTION"
	CodeUnknownAction     ErrorCode = "UNKNOWN_ACTION"
	CodeMissingFields     ErrorCode = "MISSING_FIELDS"
	CodeMissingID         ErrorCode = "MISSING_ID"
	CodeMissingTaskID     ErrorCode = "MISSING_TASK_ID"
	CodeAPIError          ErrorCode = "API_ERROR"
	CodeNetworkError      ErrorCode = "NETWORK_ERROR"
	CodeTokenRefresh      ErrorCode = "TOKEN_REFRESH_FAILED"
	CodeExecutionError    ErrorCode = "EXECUTION_ERROR"
	CodeDatabaseError     ErrorCode = "DATABASE_ERROR"
)

// Error is the structured failure carried inside a Result.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Result is the envelope every adapter call and dispatch returns. Adapters
// report expected failures through it rather than by returning a Go error.
type Result struct {
	Success    bool           `json:"success"`
	Message    string         `json:"message,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	ExternalID string         `json:"externalId,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Error      *Error         `json:"error,omitempty"`
}

// Pagination is attached under Result.Metadata["pagination"] by list operations.
type Pagination struct {
	HasMore    bool   `json:"hasMore"`
	NextOffset int    `json:"nextOffset,omitempty"`
	NextURI    string `json:"nextUri,omitempty"`
}

func OK(message string) *Result {
	return &Result{Success: true, Message: message}
}

func Fail(code ErrorCode, message string) *Result {
	return &Result{Success: false, Message: message, Error: NewError(code, message)}
}
