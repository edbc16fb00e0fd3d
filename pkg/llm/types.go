package llm

import "encoding/json"

// Stop reasons reported in message_delta events.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Message represents a chat message in a conversation.
type Message struct {
	Role   string  `json:"role"`
	Blocks []Block `json:"content"`
}

// Block is one piece of message content: text, a tool invocation or a tool
// result.
type Block struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

func TextBlock(text string) Block {
	return Block{Type: "text", Text: text}
}

func ToolUseBlock(id, name string, input json.RawMessage) Block {
	return Block{Type: "tool_use", ID: id, Name: name, Input: input}
}

func ToolResultBlock(toolUseID, content string, isError bool) Block {
	return Block{Type: "tool_result", ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Tool describes a tool that can be provided to the model.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Request is one outbound model call.
type Request struct {
	System   string
	Messages []Message
	Tools    []Tool
}

// EventKind names a stream event.
type EventKind string

const (
	EventBlockStart   EventKind = "block_start"
	EventBlockDelta   EventKind = "block_delta"
	EventBlockStop    EventKind = "block_stop"
	EventMessageDelta EventKind = "message_delta"
	EventMessageStop  EventKind = "message_stop"
)

// BlockKind is the kind of content block an event refers to.
type BlockKind string

const (
	BlockText    BlockKind = "text"
	BlockToolUse BlockKind = "tool_use"
)

// StreamEvent is the provider-neutral incremental event. Block is set on
// block_start and block_delta; a tool_use delta carries PartialJSON.
type StreamEvent struct {
	Kind        EventKind
	Block       BlockKind
	ID          string
	Name        string
	Text        string
	PartialJSON string
	StopReason  string
}

func TextStart() StreamEvent {
	return StreamEvent{Kind: EventBlockStart, Block: BlockText}
}

func ToolStart(id, name string) StreamEvent {
	return StreamEvent{Kind: EventBlockStart, Block: BlockToolUse, ID: id, Name: name}
}

func TextDelta(text string) StreamEvent {
	return StreamEvent{Kind: EventBlockDelta, Block: BlockText, Text: text}
}

func InputDelta(partial string) StreamEvent {
	return StreamEvent{Kind: EventBlockDelta, Block: BlockToolUse, PartialJSON: partial}
}

func BlockStop() StreamEvent {
	return StreamEvent{Kind: EventBlockStop}
}

func MessageDelta(stopReason string) StreamEvent {
	return StreamEvent{Kind: EventMessageDelta, StopReason: stopReason}
}

func MessageStop() StreamEvent {
	return StreamEvent{Kind: EventMessageStop}
}
