package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// titleMaxRunes bounds the title derived from the first user message.
const titleMaxRunes = 80

// ContentBlock is one element of an assistant message: either text or a
// tool invocation.
type ContentBlock struct {
	Type  string
	Text  string
	ID    string
	Name  string
	Input json.RawMessage
}

func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

func NewToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

type textBlockJSON struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolUseBlockJSON struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// MarshalJSON writes only the fields the model peer accepts for the block
// type.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	switch b.Type {
	case BlockText:
		return json.Marshal(textBlockJSON{Type: BlockText, Text: b.Text})
	case BlockToolUse:
		input := b.Input
		if len(bytes.TrimSpace(input)) == 0 {
			input = json.RawMessage(`{}`)
		}
		return json.Marshal(toolUseBlockJSON{Type: BlockToolUse, ID: b.ID, Name: b.Name, Input: input})
	default:
		return nil, fmt.Errorf("unsupported content block type %q", b.Type)
	}
}

func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var raw toolUseBlockJSON
	var text textBlockJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case BlockText:
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*b = NewTextBlock(text.Text)
	case BlockToolUse:
		*b = NewToolUseBlock(raw.ID, raw.Name, raw.Input)
	default:
		return fmt.Errorf("unsupported content block type %q", raw.Type)
	}
	return nil
}

// ToolResultBlock feeds the outcome of one tool invocation back to the model.
type ToolResultBlock struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

func NewToolResult(toolUseID, content string, isError bool) ToolResultBlock {
	return ToolResultBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Message is one transcript entry. A user message carries either Text
// (human-authored) or Results (tool feedback); an assistant message carries
// Blocks.
type Message struct {
	Role    Role
	Text    string
	Results []ToolResultBlock
	Blocks  []ContentBlock
}

func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

func NewToolResultMessage(results []ToolResultBlock) Message {
	return Message{Role: RoleUser, Results: results}
}

func NewAssistantMessage(blocks []ContentBlock) Message {
	return Message{Role: RoleAssistant, Blocks: blocks}
}

// ToolUses returns the tool invocation blocks of an assistant message in
// declaration order.
func (m Message) ToolUses() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Blocks {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

type messageJSON struct {
	Role    Role            `json:"role"`
	Content json.RawMessage `json:"content"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	var content any
	switch {
	case m.Role == RoleAssistant:
		blocks := m.Blocks
		if blocks == nil {
			blocks = []ContentBlock{}
		}
		content = blocks
	case m.Results != nil:
		content = m.Results
	default:
		content = m.Text
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageJSON{Role: m.Role, Content: raw})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message{Role: raw.Role}
	content := bytes.TrimSpace(raw.Content)
	if len(content) == 0 || content[0] == '"' {
		var text string
		if len(content) > 0 {
			if err := json.Unmarshal(content, &text); err != nil {
				return err
			}
		}
		if m.Role == RoleAssistant {
			m.Blocks = []ContentBlock{NewTextBlock(text)}
		} else {
			m.Text = text
		}
		return nil
	}
	if m.Role == RoleAssistant {
		return json.Unmarshal(content, &m.Blocks)
	}
	m.Results = []ToolResultBlock{}
	return json.Unmarshal(content, &m.Results)
}

// Transcript is the full message history of one conversation.
type Transcript struct {
	ID        ChatID    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// TranscriptMeta is the listing view of a transcript.
type TranscriptMeta struct {
	ID        ChatID    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeriveTitle returns the first 80 code points of text.
func DeriveTitle(text string) string {
	r := []rune(text)
	if len(r) > titleMaxRunes {
		r = r[:titleMaxRunes]
	}
	return string(r)
}
