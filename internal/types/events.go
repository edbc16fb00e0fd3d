package types

// Progress event types streamed to the caller of a round.
const (
	EventTextStart  = "text_start"
	EventTextDelta  = "text_delta"
	EventToolStart  = "tool_start"
	EventToolDelta  = "tool_delta"
	EventJS         = "js"
	EventToolOutput = "tool_output"
	EventError      = "error"
	EventDone       = "done"
)

// ProgressEvent is one entry of the append-only stream observed by a UI
// while a round runs. The stream is terminal on "done".
type ProgressEvent struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Name    string `json:"name,omitempty"`
	Code    string `json:"code,omitempty"`
	ToolID  string `json:"tool_id,omitempty"`
	Result  string `json:"result,omitempty"`
	ChatID  ChatID `json:"chat_id,omitempty"`
}

// Emitter receives progress events in production order.
type Emitter func(ProgressEvent)

func ErrorEvent(msg string) ProgressEvent {
	return ProgressEvent{Type: EventError, Content: msg}
}

func DoneEvent(id ChatID) ProgressEvent {
	return ProgressEvent{Type: EventDone, ChatID: id}
}
