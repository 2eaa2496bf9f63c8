package api

// ReportRequest upserts the window keyed by task_id. It is safe to send repeatedly.
type ReportRequest struct {
	TaskID        string `json:"task_id"`
	Name          string `json:"name"`
	IDE           string `json:"ide"`
	WindowTitle   string `json:"window_title"`
	IsFocused     bool   `json:"is_focused"`
	ProjectPath   string `json:"project_path"`
	ActiveFile    string `json:"active_file,omitempty"`
	Status        string `json:"status,omitempty"`
	SessionInsert int    `json:"session_insert,omitempty"`
	SessionEvents int    `json:"session_events,omitempty"`
}

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusArmed     = "armed"
)

type UpdateStateRequest struct {
	TaskID        string `json:"task_id"`
	Status        string `json:"status"`
	SessionInsert int    `json:"session_insert,omitempty"`
	SessionEvents int    `json:"session_events,omitempty"`
}

type DeleteRequest struct {
	TaskID string `json:"task_id"`
}

// ActiveFileRequest is the legacy partial update carrying only the focused document.
type ActiveFileRequest struct {
	TaskID     string `json:"task_id"`
	ActiveFile string `json:"active_file,omitempty"`
}

// CompleteRequest is the legacy run-completion body.
type CompleteRequest struct {
	TaskID      string `json:"task_id"`
	TotalTokens int    `json:"total_tokens"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the optional structured error body of the status service.
type ErrorResponse struct {
	Error APIError `json:"error"`
}
