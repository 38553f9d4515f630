package models

// ChatEvent is one SSE event on the chat stream. Every event is serialized as
// a single `data:` line; fields are omitted when empty.
type ChatEvent struct {
	Seq        uint64 `json:"seq,omitempty"`
	Step       string `json:"step,omitempty"`
	Status     string `json:"status,omitempty"` // "started" or "completed"
	DurationMS int64  `json:"duration_ms,omitempty"`
	IsParent   bool   `json:"is_parent,omitempty"`

	Content string `json:"content,omitempty"`

	ToolCall *ToolCallEvent `json:"tool_call,omitempty"`

	ThreadID string `json:"thread_id,omitempty"`
	Done     bool   `json:"done,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Step statuses.
const (
	StepStatusStarted   = "started"
	StepStatusCompleted = "completed"
)

// ToolCallEvent carries a structured tool result, used by the frontend to
// render data tables and clarification pills.
type ToolCallEvent struct {
	ToolName   string          `json:"tool_name"`
	ToolCallID string          `json:"tool_call_id"`
	Args       map[string]any  `json:"args,omitempty"`
	Result     *NL2SQLResponse `json:"result"`
}

// NewContentEvent creates a streamed assistant-text chunk.
func NewContentEvent(chunk string) ChatEvent {
	return ChatEvent{Content: chunk}
}

// NewToolCallEvent creates the event carrying the NL2SQL result payload.
func NewToolCallEvent(id, name string, result *NL2SQLResponse) ChatEvent {
	return ChatEvent{ToolCall: &ToolCallEvent{ToolName: name, ToolCallID: id, Result: result}}
}

// NewDoneEvent creates the terminal event for a request.
func NewDoneEvent(threadID string) ChatEvent {
	return ChatEvent{ThreadID: threadID, Done: true}
}

// NewErrorEvent creates a failure event with a user-safe message.
func NewErrorEvent(msg string) ChatEvent {
	return ChatEvent{Error: msg}
}
