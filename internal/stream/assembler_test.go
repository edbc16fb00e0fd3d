package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atondwal/reflect/internal/types"
	"github.com/atondwal/reflect/pkg/llm"
)

func assemble(t *testing.T, events []llm.StreamEvent, srcErr error) (*Turn, []types.ProgressEvent, error) {
	t.Helper()
	var progress []types.ProgressEvent
	turn, err := Assemble(context.Background(), llm.NewSliceStream(events, srcErr), func(ev types.ProgressEvent) {
		progress = append(progress, ev)
	})
	return turn, progress, err
}

func TestAssembleTextAndTool(t *testing.T) {
	turn, progress, err := assemble(t, []llm.StreamEvent{
		llm.TextStart(),
		llm.TextDelta("Let me "),
		llm.TextDelta("draw."),
		llm.BlockStop(),
		llm.ToolStart("tu_1", "run_js"),
		llm.InputDelta(`{"code": "ctx.`),
		llm.InputDelta(`fill()"}`),
		llm.BlockStop(),
		llm.MessageDelta("tool_use"),
		llm.MessageStop(),
	}, nil)
	require.NoError(t, err)

	require.Len(t, turn.Blocks, 2)
	assert.Equal(t, types.NewTextBlock("Let me draw."), turn.Blocks[0])
	assert.Equal(t, "tu_1", turn.Blocks[1].ID)
	assert.Equal(t, "run_js", turn.Blocks[1].Name)
	assert.JSONEq(t, `{"code":"ctx.fill()"}`, string(turn.Blocks[1].Input))
	assert.Equal(t, "tool_use", turn.StopReason)
	assert.False(t, turn.Terminal())
	assert.Len(t, turn.ToolUses(), 1)

	assert.Equal(t, []types.ProgressEvent{
		{Type: types.EventTextStart},
		{Type: types.EventTextDelta, Content: "Let me "},
		{Type: types.EventTextDelta, Content: "draw."},
		{Type: types.EventToolStart, Name: "run_js"},
		{Type: types.EventToolDelta, Content: `{"code": "ctx.`},
		{Type: types.EventToolDelta, Content: `fill()"}`},
	}, progress)
}

func TestAssembleDropsEmptyTextBlocks(t *testing.T) {
	turn, progress, err := assemble(t, []llm.StreamEvent{
		llm.TextStart(), llm.BlockStop(),
		llm.ToolStart("tu_1", "bash"), llm.InputDelta(`{"command":"ls"}`), llm.BlockStop(),
		llm.MessageDelta("tool_use"), llm.MessageStop(),
	}, nil)
	require.NoError(t, err)
	require.Len(t, turn.Blocks, 1)
	assert.Equal(t, types.BlockToolUse, turn.Blocks[0].Type)
	assert.Equal(t, types.EventTextStart, progress[0].Type)
}

func TestAssembleTerminal(t *testing.T) {
	turn, _, err := assemble(t, []llm.StreamEvent{
		llm.TextStart(), llm.TextDelta("hi"), llm.BlockStop(),
		llm.MessageDelta(llm.StopEndTurn), llm.MessageStop(),
	}, nil)
	require.NoError(t, err)
	assert.True(t, turn.Terminal())
}

func TestAssembleToolWithoutFragments(t *testing.T) {
	turn, _, err := assemble(t, []llm.StreamEvent{
		llm.ToolStart("tu_1", "list_files"), llm.BlockStop(),
		llm.MessageDelta("tool_use"), llm.MessageStop(),
	}, nil)
	require.NoError(t, err)
	require.Len(t, turn.Blocks, 1)
	assert.JSONEq(t, `{}`, string(turn.Blocks[0].Input))
}

func TestAssembleMalformedToolInput(t *testing.T) {
	_, progress, err := assemble(t, []llm.StreamEvent{
		llm.ToolStart("tu_9", "bash"),
		llm.InputDelta(`{"command": "ls"`),
		llm.BlockStop(),
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedToolInput)
	var mErr *MalformedToolInputError
	require.True(t, errors.As(err, &mErr))
	assert.Equal(t, "tu_9", mErr.ToolID)
	assert.Equal(t, "bash", mErr.Name)
	assert.Equal(t, `{"command": "ls"`, mErr.Raw)

	// Fragments are forwarded regardless of the final parse.
	assert.Equal(t, types.ProgressEvent{Type: types.EventToolDelta, Content: `{"command": "ls"`}, progress[len(progress)-1])
}

func TestAssembleProtocolViolations(t *testing.T) {
	cases := map[string][]llm.StreamEvent{
		"delta without block":   {llm.TextDelta("x")},
		"stop without block":    {llm.BlockStop()},
		"nested start":          {llm.TextStart(), llm.ToolStart("a", "b")},
		"kind mismatch":         {llm.TextStart(), llm.InputDelta("{}")},
		"open at message_stop":  {llm.TextStart(), llm.MessageStop()},
		"open at end of stream": {llm.ToolStart("a", "b"), llm.InputDelta("{}")},
		"unknown block kind":    {{Kind: llm.EventBlockStart, Block: "image"}},
	}
	for name, events := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := assemble(t, events, nil)
			assert.ErrorIs(t, err, ErrProtocol)
		})
	}
}

func TestAssembleSourceError(t *testing.T) {
	boom := errors.New("connection reset")
	turn, _, err := assemble(t, []llm.StreamEvent{
		llm.TextStart(), llm.TextDelta("par"), llm.BlockStop(),
	}, boom)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrProtocol)
	assert.Len(t, turn.Blocks, 1)
}

func TestAssembleContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Assemble(ctx, llm.NewSliceStream([]llm.StreamEvent{llm.TextStart()}, nil), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
