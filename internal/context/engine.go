// Package context renders the system prompt and fits transcripts into the
// model's context window.
package context

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/atondwal/reflect/internal/types"
	"github.com/atondwal/reflect/pkg/llm"
)

// PromptData is the input of the system prompt template.
type PromptData struct {
	Time    string
	ChatID  string
	Tools   string
	Browser bool
	Sandbox bool
}

// Engine assembles token-budgeted model requests.
type Engine struct {
	counter   Counter
	maxTokens int
	reserve   int

	mu   sync.RWMutex
	tmpl *template.Template
}

// New creates a context engine. maxTokens is the model's context window;
// zero disables trimming. reserve is kept free for the response.
func New(counter Counter, maxTokens, reserve int) *Engine {
	if counter == nil {
		counter = HeuristicCounter{}
	}
	return &Engine{
		counter:   counter,
		maxTokens: maxTokens,
		reserve:   reserve,
		tmpl:      template.Must(template.New("system").Parse(DefaultPrompt)),
	}
}

// LoadPrompt replaces the system prompt template with the content of path.
// The current template is kept when the file does not parse.
func (e *Engine) LoadPrompt(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read prompt: %w", err)
	}
	tmpl, err := template.New("system").Parse(string(data))
	if err != nil {
		return fmt.Errorf("parse prompt: %w", err)
	}
	e.mu.Lock()
	e.tmpl = tmpl
	e.mu.Unlock()
	return nil
}

// SystemPrompt renders the system prompt for a chat and tool catalog.
func (e *Engine) SystemPrompt(chatID types.ChatID, tools []llm.Tool) (string, error) {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	data := PromptData{
		Time:    time.Now().Format(time.RFC3339),
		ChatID:  string(chatID),
		Tools:   strings.Join(names, ", "),
		Browser: slices.Contains(names, "run_js"),
		Sandbox: slices.Contains(names, "bash"),
	}

	e.mu.RLock()
	tmpl := e.tmpl
	e.mu.RUnlock()

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return buf.String(), nil
}

// BuildRequest renders the system prompt and converts the transcript into
// a model request. When the transcript exceeds the input budget, whole
// exchanges are dropped from the front; the exchange holding the latest
// user message is always kept.
func (e *Engine) BuildRequest(chatID types.ChatID, messages []types.Message, tools []llm.Tool) (*llm.Request, error) {
	system, err := e.SystemPrompt(chatID, tools)
	if err != nil {
		return nil, err
	}

	converted := make([]llm.Message, len(messages))
	for i, m := range messages {
		converted[i] = ToLLMMessage(m)
	}

	if e.maxTokens > 0 {
		budget := e.maxTokens - e.reserve - e.counter.Count(system)
		for _, t := range tools {
			budget -= e.counter.Count(t.Name) + e.counter.Count(t.Description) + e.counter.Count(string(t.InputSchema))
		}
		converted = e.trim(messages, converted, budget)
	}

	return &llm.Request{System: system, Messages: converted, Tools: tools}, nil
}

func (e *Engine) trim(messages []types.Message, converted []llm.Message, budget int) []llm.Message {
	costs := make([]int, len(converted))
	total := 0
	for i, m := range converted {
		costs[i] = e.messageTokens(m)
		total += costs[i]
	}

	start := 0
	for total > budget {
		next := nextExchange(messages, start)
		if next < 0 {
			break
		}
		for i := start; i < next; i++ {
			total -= costs[i]
		}
		start = next
	}
	return converted[start:]
}

// nextExchange returns the index of the first human-authored user message
// after from, or -1.
func nextExchange(messages []types.Message, from int) int {
	for i := from + 1; i < len(messages); i++ {
		if messages[i].Role == types.RoleUser && messages[i].Results == nil {
			return i
		}
	}
	return -1
}

func (e *Engine) messageTokens(m llm.Message) int {
	n := 4
	for _, b := range m.Blocks {
		n += e.counter.Count(b.Text) + e.counter.Count(b.Name) + e.counter.Count(string(b.Input)) + e.counter.Count(b.Content)
	}
	return n
}

// ToLLMMessage converts a transcript message into the provider-neutral form.
func ToLLMMessage(m types.Message) llm.Message {
	out := llm.Message{Role: string(m.Role)}
	switch {
	case m.Role == types.RoleAssistant:
		for _, b := range m.Blocks {
			if b.Type == types.BlockToolUse {
				out.Blocks = append(out.Blocks, llm.ToolUseBlock(b.ID, b.Name, b.Input))
			} else {
				out.Blocks = append(out.Blocks, llm.TextBlock(b.Text))
			}
		}
	case m.Results != nil:
		for _, r := range m.Results {
			out.Blocks = append(out.Blocks, llm.ToolResultBlock(r.ToolUseID, r.Content, r.IsError))
		}
	default:
		out.Blocks = []llm.Block{llm.TextBlock(m.Text)}
	}
	return out
}
