package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/atondwal/reflect/internal/broker"
	ctxengine "github.com/atondwal/reflect/internal/context"
	"github.com/atondwal/reflect/internal/gateway"
	"github.com/atondwal/reflect/internal/stream"
	"github.com/atondwal/reflect/internal/types"
	"github.com/atondwal/reflect/pkg/llm"
)

const (
	// MaxResultBytes caps a local tool result before it reaches the model.
	MaxResultBytes  = 10000
	TruncatedMarker = "\n... [truncated]"

	DefaultMaxRounds     = 25
	DefaultRemoteTimeout = 30 * time.Second
)

// ErrMaxRounds is returned when the model keeps requesting tools past the
// configured round cap.
var ErrMaxRounds = errors.New("max tool rounds exceeded")

// Runtime implements the conversation round loop.
type Runtime struct {
	provider      llm.Provider
	engine        *ctxengine.Engine
	store         types.TranscriptStore
	registry      *Registry
	broker        *broker.Broker
	maxRounds     int
	remoteTimeout time.Duration
	persist       *gateway.RetryPolicy
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithMaxRounds bounds the number of model requests per user message.
// Zero disables the bound.
func WithMaxRounds(n int) Option {
	return func(rt *Runtime) { rt.maxRounds = n }
}

// WithRemoteTimeout sets how long a round waits for a remote tool result.
func WithRemoteTimeout(d time.Duration) Option {
	return func(rt *Runtime) {
		if d > 0 {
			rt.remoteTimeout = d
		}
	}
}

// WithPersistPolicy overrides the retry policy used when saving transcripts.
func WithPersistPolicy(p *gateway.RetryPolicy) Option {
	return func(rt *Runtime) { rt.persist = p }
}

// New creates a Runtime with the given dependencies.
func New(
	provider llm.Provider,
	engine *ctxengine.Engine,
	store types.TranscriptStore,
	registry *Registry,
	b *broker.Broker,
	opts ...Option,
) *Runtime {
	rt := &Runtime{
		provider:      provider,
		engine:        engine,
		store:         store,
		registry:      registry,
		broker:        b,
		maxRounds:     DefaultMaxRounds,
		remoteTimeout: DefaultRemoteTimeout,
		persist:       gateway.PersistRetryPolicy(),
	}
	for _, o := range opts {
		o(rt)
	}
	return rt
}

// Registry returns the tool catalog offered to the model.
func (rt *Runtime) Registry() *Registry {
	return rt.registry
}

// ProcessRun executes the round loop for a single queued run.
// This is the function passed to gateway.New.
func (rt *Runtime) ProcessRun(run *gateway.Run) error {
	ctx := run.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	id, err := rt.HandleUserMessage(ctx, run.ChatID, run.Text, run.Emit)
	if run.ChatID == "" {
		run.ChatID = id
	}
	return err
}

// HandleUserMessage appends text to the chat, drives model rounds until the
// model stops requesting tools, and persists the transcript. The last event
// passed to emit is always done, even when an error is returned.
func (rt *Runtime) HandleUserMessage(ctx context.Context, chatID types.ChatID, text string, emit types.Emitter) (types.ChatID, error) {
	if emit == nil {
		emit = func(types.ProgressEvent) {}
	}
	if chatID == "" {
		chatID = types.NewChatID()
	}
	log := slog.With("chat_id", string(chatID))

	transcript, err := rt.load(ctx, chatID)
	if err != nil {
		emit(types.ErrorEvent(err.Error()))
		emit(types.DoneEvent(chatID))
		return chatID, err
	}
	if transcript.Title == "" {
		transcript.Title = types.DeriveTitle(text)
	}
	transcript.Messages = append(transcript.Messages, types.NewUserMessage(text))

	loopErr := rt.loop(types.WithChatID(ctx, chatID), chatID, transcript, emit)
	if loopErr != nil {
		log.Error("round failed", "error", loopErr)
		emit(types.ErrorEvent(loopErr.Error()))
	}

	saveCtx := context.WithoutCancel(ctx)
	saveErr := rt.persist.Execute(saveCtx, func() error {
		return rt.store.Save(saveCtx, chatID, transcript.Title, time.Now(), transcript.Messages)
	})
	if saveErr != nil {
		saveErr = fmt.Errorf("save transcript: %w", saveErr)
		log.Error("persist failed", "error", saveErr)
		if loopErr == nil {
			emit(types.ErrorEvent(saveErr.Error()))
		}
	}

	emit(types.DoneEvent(chatID))
	return chatID, errors.Join(loopErr, saveErr)
}

func (rt *Runtime) load(ctx context.Context, chatID types.ChatID) (*types.Transcript, error) {
	t, err := rt.store.Get(ctx, chatID)
	if errors.Is(err, types.ErrTranscriptNotFound) {
		return &types.Transcript{ID: chatID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	return t, nil
}

func (rt *Runtime) loop(ctx context.Context, chatID types.ChatID, transcript *types.Transcript, emit types.Emitter) error {
	tools := rt.registry.AsLLMTools()

	for round := 0; rt.maxRounds == 0 || round < rt.maxRounds; round++ {
		req, err := rt.engine.BuildRequest(chatID, transcript.Messages, tools)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}

		src, err := rt.provider.Stream(ctx, req)
		if err != nil {
			return fmt.Errorf("model request: %w", err)
		}
		turn, err := stream.Assemble(ctx, src, emit)
		src.Close()
		if err != nil {
			return err
		}

		slog.Debug("turn assembled", "chat_id", string(chatID), "round", round,
			"blocks", len(turn.Blocks), "stop_reason", turn.StopReason)

		if len(turn.Blocks) > 0 {
			transcript.Messages = append(transcript.Messages, types.NewAssistantMessage(turn.Blocks))
		}
		if turn.Terminal() {
			return nil
		}
		uses := turn.ToolUses()
		if len(uses) == 0 {
			return nil
		}

		results := make([]types.ToolResultBlock, 0, len(uses))
		for _, use := range uses {
			results = append(results, rt.execute(ctx, use, emit))
		}
		transcript.Messages = append(transcript.Messages, types.NewToolResultMessage(results))
	}
	return fmt.Errorf("%w (%d)", ErrMaxRounds, rt.maxRounds)
}

// execute runs one tool invocation. Tool failures never abort the round;
// they come back as error results for the model to read.
func (rt *Runtime) execute(ctx context.Context, use types.ContentBlock, emit types.Emitter) types.ToolResultBlock {
	log := slog.With("tool", use.Name, "tool_id", use.ID)
	log.Debug("tool requested", "input", describeInput(use.Input))

	tool, ok := rt.registry.Get(use.Name)
	if !ok {
		log.Warn("unknown tool requested")
		return types.NewToolResult(use.ID, "Error: unknown tool "+use.Name, true)
	}

	switch t := tool.(type) {
	case RemoteTool:
		return rt.executeRemote(ctx, t, use, emit)
	case LocalTool:
		start := time.Now()
		result, err := t.Execute(ctx, use.Input)
		isErr := false
		if err != nil {
			result = "Error: " + err.Error()
			isErr = true
		}
		result = Truncate(result)
		log.Info("tool executed", "duration", time.Since(start), "is_error", isErr)
		emit(types.ProgressEvent{Type: types.EventToolOutput, Name: use.Name, ToolID: use.ID, Result: result})
		return types.NewToolResult(use.ID, result, isErr)
	default:
		return types.NewToolResult(use.ID, "Error: tool "+use.Name+" cannot be executed", true)
	}
}

func (rt *Runtime) executeRemote(ctx context.Context, t RemoteTool, use types.ContentBlock, emit types.Emitter) types.ToolResultBlock {
	payload, err := t.Payload(use.Input)
	if err != nil {
		return types.NewToolResult(use.ID, "Error: "+err.Error(), true)
	}
	if _, err := rt.broker.Register(use.ID); err != nil {
		return types.NewToolResult(use.ID, "Error: "+err.Error(), true)
	}
	emit(types.ProgressEvent{Type: types.EventJS, Code: payload, ToolID: use.ID})

	result, delivered := rt.broker.Await(ctx, use.ID, rt.remoteTimeout)
	if !delivered {
		slog.Warn("remote tool result not delivered", "tool", use.Name, "tool_id", use.ID, "timeout", rt.remoteTimeout)
	}
	return types.NewToolResult(use.ID, Truncate(result), false)
}

// Truncate caps s at MaxResultBytes, appending TruncatedMarker when cut.
// The cut never splits a UTF-8 sequence.
func Truncate(s string) string {
	if len(s) <= MaxResultBytes {
		return s
	}
	cut := MaxResultBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + TruncatedMarker
}

// describeInput renders tool arguments for debug logs.
func describeInput(raw json.RawMessage) string {
	if len(raw) > 200 {
		return string(raw[:200]) + "..."
	}
	return string(raw)
}
