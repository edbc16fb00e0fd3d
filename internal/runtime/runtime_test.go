package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atondwal/reflect/internal/broker"
	ctxengine "github.com/atondwal/reflect/internal/context"
	"github.com/atondwal/reflect/internal/gateway"
	"github.com/atondwal/reflect/internal/state"
	"github.com/atondwal/reflect/internal/stream"
	"github.com/atondwal/reflect/internal/types"
	"github.com/atondwal/reflect/pkg/llm"
)

// scriptedProvider replays one event list per round and records requests.
type scriptedProvider struct {
	mu       sync.Mutex
	rounds   [][]llm.StreamEvent
	fallback []llm.StreamEvent
	err      error
	requests []*llm.Request
}

func (p *scriptedProvider) Stream(_ context.Context, req *llm.Request) (llm.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	idx := len(p.requests) - 1
	if idx < len(p.rounds) {
		return llm.NewSliceStream(p.rounds[idx], nil), nil
	}
	return llm.NewSliceStream(p.fallback, nil), nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func textTurn(text string) []llm.StreamEvent {
	return []llm.StreamEvent{
		llm.TextStart(), llm.TextDelta(text), llm.BlockStop(),
		llm.MessageDelta(llm.StopEndTurn), llm.MessageStop(),
	}
}

func toolTurn(stop string, calls ...[3]string) []llm.StreamEvent {
	var evs []llm.StreamEvent
	for _, c := range calls {
		evs = append(evs, llm.ToolStart(c[0], c[1]), llm.InputDelta(c[2]), llm.BlockStop())
	}
	return append(evs, llm.MessageDelta(stop), llm.MessageStop())
}

type recorder struct {
	mu     sync.Mutex
	events []types.ProgressEvent
	onJS   func(types.ProgressEvent)
}

func (r *recorder) emit(ev types.ProgressEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if ev.Type == types.EventJS && r.onJS != nil {
		r.onJS(ev)
	}
}

func (r *recorder) ofType(typ string) []types.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.ProgressEvent
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) last() types.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type countingTool struct {
	name   string
	mu     sync.Mutex
	calls  int
	result string
	err    error
}

func (c *countingTool) Name() string                { return c.name }
func (c *countingTool) Description() string         { return "test tool" }
func (c *countingTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (c *countingTool) Execute(ctx context.Context, _ json.RawMessage) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if _, ok := types.ChatIDFromContext(ctx); !ok {
		return "", errors.New("chat id missing from context")
	}
	return c.result, c.err
}

type jsTool struct{}

func (jsTool) Name() string                { return "run_js" }
func (jsTool) Description() string         { return "run script in the browser" }
func (jsTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (jsTool) Payload(args json.RawMessage) (string, error) {
	var p struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	return p.Code, nil
}

type fixture struct {
	provider *scriptedProvider
	store    *state.TranscriptStore
	broker   *broker.Broker
	registry *Registry
	rt       *Runtime
}

func newFixture(t *testing.T, p *scriptedProvider, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		provider: p,
		store:    state.NewTranscriptStore(t.TempDir()),
		broker:   broker.New(),
		registry: NewRegistry(),
	}
	f.registry.Register(jsTool{})
	f.rt = New(p, ctxengine.New(nil, 100000, 1000), f.store, f.registry, f.broker, opts...)
	return f
}

func (f *fixture) transcript(t *testing.T, id types.ChatID) *types.Transcript {
	t.Helper()
	tr, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return tr
}

func TestDrawRedCircleScenario(t *testing.T) {
	code := `const c=document.createElement('canvas');c.getContext('2d').fillStyle='red';`
	input, _ := json.Marshal(map[string]string{"code": code})
	f := newFixture(t, &scriptedProvider{rounds: [][]llm.StreamEvent{
		toolTurn(llm.StopToolUse, [3]string{"toolu_circle", "run_js", string(input)}),
		textTurn("Here is your red circle."),
	}})

	rec := &recorder{}
	rec.onJS = func(ev types.ProgressEvent) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			assert.NoError(t, f.broker.Submit(ev.ToolID, "OK"))
		}()
	}

	id, err := f.rt.HandleUserMessage(context.Background(), "", "draw a red circle", rec.emit)
	require.NoError(t, err)
	require.True(t, id.Valid())

	js := rec.ofType(types.EventJS)
	require.Len(t, js, 1)
	assert.Equal(t, code, js[0].Code)
	assert.Equal(t, "toolu_circle", js[0].ToolID)

	assert.Equal(t, types.DoneEvent(id), rec.last())

	tr := f.transcript(t, id)
	assert.Equal(t, "draw a red circle", tr.Title)
	require.Len(t, tr.Messages, 4)
	assert.Equal(t, "draw a red circle", tr.Messages[0].Text)

	uses := tr.Messages[1].ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "toolu_circle", uses[0].ID)
	assert.JSONEq(t, string(input), string(uses[0].Input))

	require.Len(t, tr.Messages[2].Results, 1)
	assert.Equal(t, types.NewToolResult("toolu_circle", "OK", false), tr.Messages[2].Results[0])
	assert.Equal(t, "Here is your red circle.", tr.Messages[3].Blocks[0].Text)
	assert.Zero(t, f.broker.Pending())
}

func TestTerminalStopExecutesNoTools(t *testing.T) {
	bash := &countingTool{name: "bash", result: "ran"}
	f := newFixture(t, &scriptedProvider{rounds: [][]llm.StreamEvent{
		toolTurn(llm.StopEndTurn, [3]string{"toolu_1", "bash", `{"command":"ls"}`}),
	}})
	f.registry.Register(bash)

	rec := &recorder{}
	id, err := f.rt.HandleUserMessage(context.Background(), "", "hi", rec.emit)
	require.NoError(t, err)

	assert.Zero(t, bash.calls)
	assert.Equal(t, 1, f.provider.calls())
	assert.Empty(t, rec.ofType(types.EventToolOutput))
	assert.Len(t, f.transcript(t, id).Messages, 2)
}

func TestCorrelationIntegrity(t *testing.T) {
	bash := &countingTool{name: "bash", result: "file.txt"}
	f := newFixture(t, &scriptedProvider{rounds: [][]llm.StreamEvent{
		toolTurn(llm.StopToolUse,
			[3]string{"toolu_a", "bash", `{"command":"ls"}`},
			[3]string{"toolu_b", "nope", `{}`},
			[3]string{"toolu_c", "bash", `{"command":"pwd"}`},
		),
		textTurn("done"),
	}})
	f.registry.Register(bash)

	id, err := f.rt.HandleUserMessage(context.Background(), "", "list", nil)
	require.NoError(t, err)

	tr := f.transcript(t, id)
	require.Len(t, tr.Messages, 4)
	var useIDs []string
	for _, u := range tr.Messages[1].ToolUses() {
		useIDs = append(useIDs, u.ID)
	}
	var resultIDs []string
	for _, r := range tr.Messages[2].Results {
		resultIDs = append(resultIDs, r.ToolUseID)
	}
	assert.Equal(t, useIDs, resultIDs)
	assert.Equal(t, 2, bash.calls)

	// The second request carries the results back to the model.
	require.Equal(t, 2, f.provider.calls())
	second := f.provider.requests[1]
	lastMsg := second.Messages[len(second.Messages)-1]
	require.Len(t, lastMsg.Blocks, 3)
	assert.Equal(t, "toolu_b", lastMsg.Blocks[1].ToolUseID)
}

func TestUnknownToolYieldsErrorResult(t *testing.T) {
	f := newFixture(t, &scriptedProvider{rounds: [][]llm.StreamEvent{
		toolTurn(llm.StopToolUse, [3]string{"toolu_x", "teleport", `{}`}),
		textTurn("sorry"),
	}})

	id, err := f.rt.HandleUserMessage(context.Background(), "", "go", nil)
	require.NoError(t, err)

	res := f.transcript(t, id).Messages[2].Results
	require.Len(t, res, 1)
	assert.Equal(t, "Error: unknown tool teleport", res[0].Content)
	assert.True(t, res[0].IsError)
}

func TestLocalToolOutputIsTruncatedAndEmitted(t *testing.T) {
	big := &countingTool{name: "bash", result: strings.Repeat("a", MaxResultBytes*2)}
	f := newFixture(t, &scriptedProvider{rounds: [][]llm.StreamEvent{
		toolTurn(llm.StopToolUse, [3]string{"toolu_big", "bash", `{"command":"yes"}`}),
		textTurn("ok"),
	}})
	f.registry.Register(big)

	rec := &recorder{}
	id, err := f.rt.HandleUserMessage(context.Background(), "", "spam", rec.emit)
	require.NoError(t, err)

	want := strings.Repeat("a", MaxResultBytes) + TruncatedMarker
	out := rec.ofType(types.EventToolOutput)
	require.Len(t, out, 1)
	assert.Equal(t, "bash", out[0].Name)
	assert.Equal(t, "toolu_big", out[0].ToolID)
	assert.Equal(t, want, out[0].Result)
	assert.Equal(t, want, f.transcript(t, id).Messages[2].Results[0].Content)
}

func TestLocalToolErrorIsReported(t *testing.T) {
	failing := &countingTool{name: "bash", err: errors.New("sandbox unavailable")}
	f := newFixture(t, &scriptedProvider{rounds: [][]llm.StreamEvent{
		toolTurn(llm.StopToolUse, [3]string{"toolu_f", "bash", `{}`}),
		textTurn("ok"),
	}})
	f.registry.Register(failing)

	id, err := f.rt.HandleUserMessage(context.Background(), "", "run", nil)
	require.NoError(t, err)

	res := f.transcript(t, id).Messages[2].Results[0]
	assert.Equal(t, "Error: sandbox unavailable", res.Content)
	assert.True(t, res.IsError)
}

func TestRemoteTimeoutFallsBackToDefault(t *testing.T) {
	f := newFixture(t, &scriptedProvider{rounds: [][]llm.StreamEvent{
		toolTurn(llm.StopToolUse, [3]string{"toolu_slow", "run_js", `{"code":"1"}`}),
		textTurn("ok"),
	}}, WithRemoteTimeout(20*time.Millisecond))

	id, err := f.rt.HandleUserMessage(context.Background(), "", "js", nil)
	require.NoError(t, err)

	assert.Equal(t, broker.DefaultResult, f.transcript(t, id).Messages[2].Results[0].Content)
	assert.Zero(t, f.broker.Pending())
	assert.ErrorIs(t, f.broker.Submit("toolu_slow", "late"), broker.ErrUnknownCall)
}

func TestNonTerminalStopWithoutToolsEndsLoop(t *testing.T) {
	f := newFixture(t, &scriptedProvider{rounds: [][]llm.StreamEvent{{
		llm.TextStart(), llm.TextDelta("partial"), llm.BlockStop(),
		llm.MessageDelta(llm.StopMaxTokens), llm.MessageStop(),
	}}})

	id, err := f.rt.HandleUserMessage(context.Background(), "", "long", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.provider.calls())
	assert.Len(t, f.transcript(t, id).Messages, 2)
}

func TestMaxRoundsIsFatal(t *testing.T) {
	bash := &countingTool{name: "bash", result: "again"}
	f := newFixture(t, &scriptedProvider{
		fallback: toolTurn(llm.StopToolUse, [3]string{"toolu_loop", "bash", `{}`}),
	}, WithMaxRounds(2))
	f.registry.Register(bash)

	rec := &recorder{}
	id, err := f.rt.HandleUserMessage(context.Background(), "", "loop", rec.emit)
	require.ErrorIs(t, err, ErrMaxRounds)

	assert.Equal(t, 2, f.provider.calls())
	require.Len(t, rec.ofType(types.EventError), 1)
	assert.Equal(t, types.DoneEvent(id), rec.last())
	assert.Len(t, f.transcript(t, id).Messages, 5)
}

func TestProviderFailurePersistsUserMessage(t *testing.T) {
	f := newFixture(t, &scriptedProvider{err: errors.New("overloaded")})

	rec := &recorder{}
	id, err := f.rt.HandleUserMessage(context.Background(), "", "hello?", rec.emit)
	require.Error(t, err)

	errs := rec.ofType(types.EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Content, "overloaded")
	assert.Equal(t, types.EventDone, rec.last().Type)

	tr := f.transcript(t, id)
	require.Len(t, tr.Messages, 1)
	assert.Equal(t, "hello?", tr.Messages[0].Text)
}

func TestProtocolErrorKeepsCompletedRounds(t *testing.T) {
	bash := &countingTool{name: "bash", result: "ok"}
	f := newFixture(t, &scriptedProvider{rounds: [][]llm.StreamEvent{
		toolTurn(llm.StopToolUse, [3]string{"toolu_1", "bash", `{}`}),
		{llm.TextDelta("orphan")},
	}})
	f.registry.Register(bash)

	id, err := f.rt.HandleUserMessage(context.Background(), "", "x", nil)
	require.ErrorIs(t, err, stream.ErrProtocol)
	assert.Len(t, f.transcript(t, id).Messages, 3)
}

func TestMalformedToolInputIsFatal(t *testing.T) {
	bash := &countingTool{name: "bash"}
	f := newFixture(t, &scriptedProvider{rounds: [][]llm.StreamEvent{
		toolTurn(llm.StopToolUse, [3]string{"toolu_bad", "bash", `{"command":`}),
	}})
	f.registry.Register(bash)

	_, err := f.rt.HandleUserMessage(context.Background(), "", "x", nil)
	var mal *stream.MalformedToolInputError
	require.ErrorAs(t, err, &mal)
	assert.Equal(t, "toolu_bad", mal.ToolID)
	assert.Zero(t, bash.calls)
}

func TestExistingTranscriptKeepsTitle(t *testing.T) {
	f := newFixture(t, &scriptedProvider{fallback: textTurn("hi again")})
	ctx := context.Background()
	id := types.NewChatID()
	require.NoError(t, f.store.Save(ctx, id, "first words", time.Now(), []types.Message{
		types.NewUserMessage("first words"),
		types.NewAssistantMessage([]types.ContentBlock{types.NewTextBlock("hello")}),
	}))

	got, err := f.rt.HandleUserMessage(ctx, id, "second words", nil)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	tr := f.transcript(t, id)
	assert.Equal(t, "first words", tr.Title)
	assert.Len(t, tr.Messages, 4)
	assert.Len(t, f.provider.requests[0].Messages, 3)
}

type flakyStore struct {
	types.TranscriptStore
	mu       sync.Mutex
	failures int
	attempts int
}

func (s *flakyStore) Save(ctx context.Context, id types.ChatID, title string, at time.Time, msgs []types.Message) error {
	s.mu.Lock()
	s.attempts++
	fail := s.attempts <= s.failures
	s.mu.Unlock()
	if fail {
		return errors.New("disk busy")
	}
	return s.TranscriptStore.Save(ctx, id, title, at, msgs)
}

func fastPersist() *gateway.RetryPolicy {
	return &gateway.RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
}

func TestPersistRetriesOnce(t *testing.T) {
	store := &flakyStore{TranscriptStore: state.NewTranscriptStore(t.TempDir()), failures: 1}
	rt := New(&scriptedProvider{fallback: textTurn("hi")}, ctxengine.New(nil, 100000, 1000),
		store, NewRegistry(), broker.New(), WithPersistPolicy(fastPersist()))

	rec := &recorder{}
	id, err := rt.HandleUserMessage(context.Background(), "", "hello", rec.emit)
	require.NoError(t, err)
	assert.Equal(t, 2, store.attempts)
	assert.Empty(t, rec.ofType(types.EventError))

	_, err = store.Get(context.Background(), id)
	assert.NoError(t, err)
}

func TestPersistFailureIsReportedBeforeDone(t *testing.T) {
	store := &flakyStore{TranscriptStore: state.NewTranscriptStore(t.TempDir()), failures: 5}
	rt := New(&scriptedProvider{fallback: textTurn("hi")}, ctxengine.New(nil, 100000, 1000),
		store, NewRegistry(), broker.New(), WithPersistPolicy(fastPersist()))

	rec := &recorder{}
	_, err := rt.HandleUserMessage(context.Background(), "", "hello", rec.emit)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save transcript")
	assert.Equal(t, 2, store.attempts)
	require.Len(t, rec.ofType(types.EventError), 1)
	assert.Equal(t, types.EventDone, rec.last().Type)
}

func TestProcessRunThroughGateway(t *testing.T) {
	f := newFixture(t, &scriptedProvider{fallback: textTurn("queued reply")})
	gw := gateway.New(f.rt.ProcessRun, 2)
	gw.Start(context.Background())
	defer gw.Stop()

	rec := &recorder{}
	run, err := gw.Submit("", "via queue", rec.emit)
	require.NoError(t, err)
	require.NoError(t, run.Wait(context.Background()))

	assert.Equal(t, gateway.RunStatusComplete, run.Status())
	assert.Equal(t, types.DoneEvent(run.ChatID), rec.last())
	assert.Len(t, f.transcript(t, run.ChatID).Messages, 2)
}

func TestTruncateRespectsRuneBoundary(t *testing.T) {
	s := strings.Repeat("a", MaxResultBytes-1) + "é" + "tail"
	got := Truncate(s)
	assert.Equal(t, strings.Repeat("a", MaxResultBytes-1)+TruncatedMarker, got)
	assert.Equal(t, "short", Truncate("short"))
}
