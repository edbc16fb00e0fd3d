package types

import (
	"context"
	"errors"
	"time"
)

// ErrTranscriptNotFound is returned by TranscriptStore.Get for unknown ids.
var ErrTranscriptNotFound = errors.New("transcript not found")

// TranscriptStore persists transcripts keyed by chat id.
type TranscriptStore interface {
	Get(ctx context.Context, id ChatID) (*Transcript, error)
	Save(ctx context.Context, id ChatID, title string, updatedAt time.Time, messages []Message) error
	List(ctx context.Context) ([]TranscriptMeta, error)
	Delete(ctx context.Context, id ChatID) error
}
