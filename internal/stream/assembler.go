// Package stream reconstructs complete assistant turns from a model's
// incremental event stream while forwarding progress to an observer.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/atondwal/reflect/internal/types"
	"github.com/atondwal/reflect/pkg/llm"
)

var (
	// ErrProtocol reports an event sequence that violates the block state
	// machine.
	ErrProtocol = errors.New("stream protocol violation")
	// ErrMalformedToolInput reports tool arguments that are not one JSON value.
	ErrMalformedToolInput = errors.New("malformed tool input")
)

// MalformedToolInputError carries the offending tool invocation.
type MalformedToolInputError struct {
	ToolID string
	Name   string
	Raw    string
	Err    error
}

func (e *MalformedToolInputError) Error() string {
	return fmt.Sprintf("malformed input for tool %s (%s): %v", e.Name, e.ToolID, e.Err)
}

func (e *MalformedToolInputError) Unwrap() []error {
	return []error{ErrMalformedToolInput, e.Err}
}

// Turn is one completed assistant response.
type Turn struct {
	Blocks     []types.ContentBlock
	StopReason string
}

// Terminal reports whether the model ended its turn without asking for more
// work.
func (t *Turn) Terminal() bool {
	return t.StopReason == llm.StopEndTurn
}

// ToolUses returns the tool invocation blocks in declaration order.
func (t *Turn) ToolUses() []types.ContentBlock {
	return types.NewAssistantMessage(t.Blocks).ToolUses()
}

// openBlock is the block currently accumulating.
type openBlock struct {
	kind      llm.BlockKind
	id        string
	name      string
	text      strings.Builder
	fragments []string
}

// Assemble drains src, forwarding progress events to emit in source order,
// and returns the completed turn. A nil emit discards progress.
func Assemble(ctx context.Context, src llm.Stream, emit types.Emitter) (*Turn, error) {
	if emit == nil {
		emit = func(types.ProgressEvent) {}
	}
	turn := &Turn{}
	var cur *openBlock

	for src.Next() {
		if err := ctx.Err(); err != nil {
			return turn, err
		}
		ev := src.Current()
		switch ev.Kind {
		case llm.EventBlockStart:
			if cur != nil {
				return turn, fmt.Errorf("%w: block_start while a %s block is open", ErrProtocol, cur.kind)
			}
			switch ev.Block {
			case llm.BlockText:
				emit(types.ProgressEvent{Type: types.EventTextStart})
			case llm.BlockToolUse:
				emit(types.ProgressEvent{Type: types.EventToolStart, Name: ev.Name})
			default:
				return turn, fmt.Errorf("%w: unknown block kind %q", ErrProtocol, ev.Block)
			}
			cur = &openBlock{kind: ev.Block, id: ev.ID, name: ev.Name}

		case llm.EventBlockDelta:
			if cur == nil {
				return turn, fmt.Errorf("%w: block_delta with no open block", ErrProtocol)
			}
			if ev.Block != cur.kind {
				return turn, fmt.Errorf("%w: %s delta for open %s block", ErrProtocol, ev.Block, cur.kind)
			}
			if cur.kind == llm.BlockText {
				cur.text.WriteString(ev.Text)
				emit(types.ProgressEvent{Type: types.EventTextDelta, Content: ev.Text})
			} else {
				cur.fragments = append(cur.fragments, ev.PartialJSON)
				emit(types.ProgressEvent{Type: types.EventToolDelta, Content: ev.PartialJSON})
			}

		case llm.EventBlockStop:
			if cur == nil {
				return turn, fmt.Errorf("%w: block_stop with no open block", ErrProtocol)
			}
			block, err := cur.close()
			if err != nil {
				return turn, err
			}
			// Empty text blocks are not replayable to the model.
			if block.Type != types.BlockText || block.Text != "" {
				turn.Blocks = append(turn.Blocks, block)
			}
			cur = nil

		case llm.EventMessageDelta:
			if ev.StopReason != "" {
				turn.StopReason = ev.StopReason
			}

		case llm.EventMessageStop:
			if cur != nil {
				return turn, fmt.Errorf("%w: message_stop with an open %s block", ErrProtocol, cur.kind)
			}
		}
	}
	if err := src.Err(); err != nil {
		return turn, fmt.Errorf("model stream: %w", err)
	}
	if cur != nil {
		return turn, fmt.Errorf("%w: stream ended with an open %s block", ErrProtocol, cur.kind)
	}
	return turn, nil
}

func (b *openBlock) close() (types.ContentBlock, error) {
	if b.kind == llm.BlockText {
		return types.NewTextBlock(b.text.String()), nil
	}

	raw := strings.Join(b.fragments, "")
	if strings.TrimSpace(raw) == "" {
		return types.NewToolUseBlock(b.id, b.name, json.RawMessage(`{}`)), nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(raw)); err != nil {
		return types.ContentBlock{}, &MalformedToolInputError{ToolID: b.id, Name: b.name, Raw: raw, Err: err}
	}
	return types.NewToolUseBlock(b.id, b.name, json.RawMessage(compact.Bytes())), nil
}
