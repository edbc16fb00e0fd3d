package runtime

import (
	"context"
	"encoding/json"
	"testing"
)

type echoTool struct{}

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "Echoes input" }
func (e *echoTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`)
}
func (e *echoTool) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var p struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	return p.Text, nil
}

type namedTool struct{ name string }

func (n namedTool) Name() string                { return n.name }
func (n namedTool) Description() string         { return n.name }
func (n namedTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{})

	tool, ok := r.Get("echo")
	if !ok {
		t.Fatal("expected to find echo tool")
	}
	if tool.Name() != "echo" {
		t.Errorf("expected name 'echo', got %q", tool.Name())
	}
	if _, ok := tool.(LocalTool); !ok {
		t.Error("echo should be a LocalTool")
	}
}

func TestRegistryGetMissing(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("missing"); ok {
		t.Fatal("expected not to find missing tool")
	}
}

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"run_js", "bash", "read_file", "grep"} {
		r.Register(namedTool{n})
	}
	r.Register(namedTool{"bash"})

	var got []string
	for _, tool := range r.All() {
		got = append(got, tool.Name())
	}
	want := []string{"run_js", "bash", "read_file", "grep"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRegistryWithout(t *testing.T) {
	r := NewRegistry()
	r.Register(namedTool{"run_js"})
	r.Register(namedTool{"bash"})

	trimmed := r.Without("run_js")
	if _, ok := trimmed.Get("run_js"); ok {
		t.Error("run_js should be removed")
	}
	if _, ok := trimmed.Get("bash"); !ok {
		t.Error("bash should remain")
	}
	if _, ok := r.Get("run_js"); !ok {
		t.Error("original registry must be unchanged")
	}
}

func TestRegistryAsLLMTools(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{})
	llmTools := r.AsLLMTools()
	if len(llmTools) != 1 {
		t.Fatalf("expected 1 llm tool, got %d", len(llmTools))
	}
	if llmTools[0].Name != "echo" {
		t.Errorf("expected name 'echo', got %q", llmTools[0].Name)
	}
	if string(llmTools[0].InputSchema) != string((&echoTool{}).Parameters()) {
		t.Errorf("schema not carried over: %s", llmTools[0].InputSchema)
	}
}
