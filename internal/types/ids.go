package types

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// ChatID identifies one transcript.
type ChatID string

// NewChatID generates a random chat id.
func NewChatID() ChatID {
	return ChatID(uuid.New().String())
}

// Valid reports whether the id is usable as a storage key.
func (id ChatID) Valid() bool {
	s := string(id)
	if s == "" || s == "." || s == ".." || len(s) > 128 {
		return false
	}
	return !strings.ContainsAny(s, `/\`+"\x00")
}

// RunID identifies one queued user message.
type RunID string

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

type chatIDKey struct{}

// WithChatID returns a context carrying the chat id of the running round.
// Sandbox tools use it to address the per-conversation environment.
func WithChatID(ctx context.Context, id ChatID) context.Context {
	return context.WithValue(ctx, chatIDKey{}, id)
}

// ChatIDFromContext returns the chat id stored by WithChatID.
func ChatIDFromContext(ctx context.Context) (ChatID, bool) {
	id, ok := ctx.Value(chatIDKey{}).(ChatID)
	return id, ok && id != ""
}
