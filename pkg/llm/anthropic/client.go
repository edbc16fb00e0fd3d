// Package anthropic adapts the Anthropic Messages streaming API to llm.Provider.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/atondwal/reflect/pkg/llm"
)

// DefaultMaxTokens bounds the output of one response.
const DefaultMaxTokens = 16000

// Client implements llm.Provider on top of anthropic-sdk-go.
type Client struct {
	config *llm.Config
	client anthropic.Client
}

// New creates a Client. Extra request options (for example a custom HTTP
// client) are appended after those derived from config.
func New(config *llm.Config, opts ...option.RequestOption) *Client {
	var base []option.RequestOption
	if config.APIKey != "" {
		base = append(base, option.WithAPIKey(config.APIKey))
	}
	if config.BaseURL != "" {
		base = append(base, option.WithBaseURL(config.BaseURL))
	}
	return &Client{
		config: config,
		client: anthropic.NewClient(append(base, opts...)...),
	}
}

// Stream starts a streaming Messages request.
func (c *Client) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	maxTokens := c.config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		MaxTokens: int64(maxTokens),
		Messages:  buildMessages(req.Messages),
		Tools:     buildTools(req.Tools),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if c.config.Temperature != 0 {
		params.Temperature = anthropic.Float(float64(c.config.Temperature))
	}

	s := c.client.Messages.NewStreaming(ctx, params)
	if err := s.Err(); err != nil {
		s.Close()
		return nil, fmt.Errorf("start stream: %w", err)
	}
	return &stream{src: s, skipped: make(map[int64]bool)}, nil
}

func buildTools(tools []llm.Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema struct {
			Properties any      `json:"properties"`
			Required   []string `json:"required"`
		}
		if len(t.InputSchema) > 0 {
			_ = json.Unmarshal(t.InputSchema, &schema)
		}
		param := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: schema.Properties,
				Required:   schema.Required,
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

func buildMessages(messages []llm.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Blocks))
		for _, b := range msg.Blocks {
			switch b.Type {
			case "text":
				if b.Text == "" {
					continue
				}
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			case "tool_use":
				input := b.Input
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{OfToolUse: &anthropic.ToolUseBlockParam{
					ID:    b.ID,
					Name:  b.Name,
					Input: input,
				}})
			case "tool_result":
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if msg.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

// stream translates SDK events into llm.StreamEvent. Blocks of kinds other
// than text and tool_use are dropped along with their deltas.
type stream struct {
	src     *ssestream.Stream[anthropic.MessageStreamEventUnion]
	cur     llm.StreamEvent
	skipped map[int64]bool
}

func (s *stream) Next() bool {
	for s.src.Next() {
		if ev, ok := s.translate(s.src.Current()); ok {
			s.cur = ev
			return true
		}
	}
	return false
}

func (s *stream) translate(event anthropic.MessageStreamEventUnion) (llm.StreamEvent, bool) {
	switch variant := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		switch variant.ContentBlock.Type {
		case "text":
			return llm.TextStart(), true
		case "tool_use":
			return llm.ToolStart(variant.ContentBlock.ID, variant.ContentBlock.Name), true
		default:
			s.skipped[variant.Index] = true
			return llm.StreamEvent{}, false
		}
	case anthropic.ContentBlockDeltaEvent:
		if s.skipped[variant.Index] {
			return llm.StreamEvent{}, false
		}
		switch delta := variant.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			return llm.TextDelta(delta.Text), true
		case anthropic.InputJSONDelta:
			return llm.InputDelta(delta.PartialJSON), true
		}
	case anthropic.ContentBlockStopEvent:
		if s.skipped[variant.Index] {
			delete(s.skipped, variant.Index)
			return llm.StreamEvent{}, false
		}
		return llm.BlockStop(), true
	case anthropic.MessageDeltaEvent:
		return llm.MessageDelta(string(variant.Delta.StopReason)), true
	case anthropic.MessageStopEvent:
		return llm.MessageStop(), true
	}
	return llm.StreamEvent{}, false
}

func (s *stream) Current() llm.StreamEvent { return s.cur }

func (s *stream) Err() error { return s.src.Err() }

func (s *stream) Close() error { return s.src.Close() }
