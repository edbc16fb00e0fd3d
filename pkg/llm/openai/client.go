package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/atondwal/reflect/pkg/llm"
)

// Client implements the llm.Provider interface for OpenAI-compatible APIs.
type Client struct {
	config     *llm.Config
	httpClient *http.Client
}

// New creates a new OpenAI-compatible client with the given configuration.
// Streams can run for minutes, so the HTTP client has no overall timeout;
// cancellation comes from the request context.
func New(config *llm.Config) *Client {
	return &Client{
		config:     config,
		httpClient: &http.Client{},
	}
}

// chatRequest is the OpenAI chat completions request body.
type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []requestMessage `json:"messages"`
	Tools       []requestTool    `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float32         `json:"temperature,omitempty"`
	Stream      bool             `json:"stream"`
}

// requestMessage is the OpenAI message format for requests.
type requestMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type requestTool struct {
	Type     string   `json:"type"`
	Function function `json:"function"`
}

type function struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// streamChunk is one `data:` payload of a streamed completion.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func buildMessages(req *llm.Request) []requestMessage {
	var out []requestMessage
	if req.System != "" {
		out = append(out, requestMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		if msg.Role == "assistant" {
			rm := requestMessage{Role: "assistant"}
			var text []string
			for _, b := range msg.Blocks {
				switch b.Type {
				case "text":
					text = append(text, b.Text)
				case "tool_use":
					args := string(b.Input)
					if args == "" {
						args = "{}"
					}
					rm.ToolCalls = append(rm.ToolCalls, toolCall{
						ID:       b.ID,
						Type:     "function",
						Function: functionCall{Name: b.Name, Arguments: args},
					})
				}
			}
			rm.Content = strings.Join(text, "")
			out = append(out, rm)
			continue
		}
		for _, b := range msg.Blocks {
			switch b.Type {
			case "text":
				out = append(out, requestMessage{Role: "user", Content: b.Text})
			case "tool_result":
				out = append(out, requestMessage{Role: "tool", Content: b.Content, ToolCallID: b.ToolUseID})
			}
		}
	}
	return out
}

// Stream sends a streaming chat completion request.
func (c *Client) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	reqBody := chatRequest{
		Model:    c.config.Model,
		Messages: buildMessages(req),
		Stream:   true,
	}

	for _, t := range req.Tools {
		reqBody.Tools = append(reqBody.Tools, requestTool{
			Type:     "function",
			Function: function{Name: t.Name, Description: t.Description, Parameters: t.InputSchema},
		})
	}

	if c.config.MaxTokens > 0 {
		reqBody.MaxTokens = c.config.MaxTokens
	}

	if c.config.Temperature != 0 {
		temp := c.config.Temperature
		reqBody.Temperature = &temp
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &stream{body: resp.Body, scanner: scanner, toolIndex: -1}, nil
}

// stream converts chat completion chunks into block-structured events.
// Completions have no explicit block boundaries, so a block is closed
// whenever content of another kind or another tool call begins.
type stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	queue   []llm.StreamEvent
	cur     llm.StreamEvent
	err     error
	done    bool

	open      llm.BlockKind
	toolIndex int
	finished  bool // a finish_reason has been seen
}

func (s *stream) Next() bool {
	for len(s.queue) == 0 {
		if s.done || s.err != nil {
			return false
		}
		s.fill()
	}
	s.cur = s.queue[0]
	s.queue = s.queue[1:]
	return true
}

func (s *stream) fill() {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			s.err = fmt.Errorf("reading stream: %w", err)
			return
		}
		// Peer closed without [DONE]. Without a finish_reason the turn may
		// be cut short.
		if !s.finished {
			s.err = fmt.Errorf("reading stream: %w", io.ErrUnexpectedEOF)
			return
		}
		s.finish()
		return
	}

	line := strings.TrimSpace(s.scanner.Text())
	data, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return
	}
	data = strings.TrimSpace(data)
	if data == "[DONE]" {
		s.finish()
		return
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		s.err = fmt.Errorf("parsing chunk: %w", err)
		return
	}
	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			if s.open != llm.BlockText {
				s.closeBlock()
				s.open = llm.BlockText
				s.queue = append(s.queue, llm.TextStart())
			}
			s.queue = append(s.queue, llm.TextDelta(choice.Delta.Content))
		}
		for _, tc := range choice.Delta.ToolCalls {
			if s.open != llm.BlockToolUse || tc.Index != s.toolIndex {
				s.closeBlock()
				s.open = llm.BlockToolUse
				s.toolIndex = tc.Index
				s.queue = append(s.queue, llm.ToolStart(tc.ID, tc.Function.Name))
			}
			if tc.Function.Arguments != "" {
				s.queue = append(s.queue, llm.InputDelta(tc.Function.Arguments))
			}
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			s.closeBlock()
			s.finished = true
			s.queue = append(s.queue, llm.MessageDelta(mapFinishReason(*choice.FinishReason)))
		}
	}
}

func (s *stream) closeBlock() {
	if s.open != "" {
		s.queue = append(s.queue, llm.BlockStop())
		s.open = ""
	}
}

func (s *stream) finish() {
	s.closeBlock()
	s.queue = append(s.queue, llm.MessageStop())
	s.done = true
}

func mapFinishReason(reason string) string {
	switch reason {
	case "stop":
		return llm.StopEndTurn
	case "tool_calls", "function_call":
		return llm.StopToolUse
	case "length":
		return llm.StopMaxTokens
	default:
		return reason
	}
}

func (s *stream) Current() llm.StreamEvent { return s.cur }

func (s *stream) Err() error { return s.err }

func (s *stream) Close() error { return s.body.Close() }
