package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atondwal/reflect/internal/types"
)

// TranscriptStore is a JSON-file-backed transcript store.
// Each transcript is stored whole in chats/<chatID>.json.
type TranscriptStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.ChatID]*sync.RWMutex
}

// NewTranscriptStore creates a file-backed TranscriptStore rooted at the given directory.
func NewTranscriptStore(root string) *TranscriptStore {
	return &TranscriptStore{
		root:  root,
		locks: make(map[types.ChatID]*sync.RWMutex),
	}
}

// getLock returns the per-chat lock, creating one if it doesn't exist.
func (s *TranscriptStore) getLock(id types.ChatID) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, ok := s.locks[id]; ok {
		return lock
	}
	lock := &sync.RWMutex{}
	s.locks[id] = lock
	return lock
}

func (s *TranscriptStore) chatsDir() string {
	return filepath.Join(s.root, "chats")
}

func (s *TranscriptStore) chatPath(id types.ChatID) string {
	return filepath.Join(s.chatsDir(), string(id)+".json")
}

// Get returns the transcript for id, or types.ErrTranscriptNotFound.
func (s *TranscriptStore) Get(_ context.Context, id types.ChatID) (*types.Transcript, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("invalid chat id %q", id)
	}
	lock := s.getLock(id)
	lock.RLock()
	defer lock.RUnlock()

	return s.read(s.chatPath(id))
}

func (s *TranscriptStore) read(path string) (*types.Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.ErrTranscriptNotFound
		}
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	var t types.Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal transcript: %w", err)
	}
	return &t, nil
}

// Save replaces the stored transcript for id. Saving the same content twice
// leaves the same file.
func (s *TranscriptStore) Save(_ context.Context, id types.ChatID, title string, updatedAt time.Time, messages []types.Message) error {
	if !id.Valid() {
		return fmt.Errorf("invalid chat id %q", id)
	}
	if messages == nil {
		messages = []types.Message{}
	}
	data, err := json.MarshalIndent(types.Transcript{
		ID:        id,
		Title:     title,
		UpdatedAt: updatedAt,
		Messages:  messages,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	lock := s.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(s.chatsDir(), 0o755); err != nil {
		return fmt.Errorf("create chats dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	path := s.chatPath(id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp transcript: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp transcript: %w", err)
	}
	return nil
}

// List returns metadata for all transcripts, most recently updated first.
func (s *TranscriptStore) List(_ context.Context) ([]types.TranscriptMeta, error) {
	entries, err := os.ReadDir(s.chatsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []types.TranscriptMeta{}, nil
		}
		return nil, fmt.Errorf("read chats dir: %w", err)
	}

	metas := make([]types.TranscriptMeta, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := types.ChatID(strings.TrimSuffix(name, ".json"))
		lock := s.getLock(id)
		lock.RLock()
		t, err := s.read(filepath.Join(s.chatsDir(), name))
		lock.RUnlock()
		if err != nil {
			// Deleted between ReadDir and read.
			if errors.Is(err, types.ErrTranscriptNotFound) {
				continue
			}
			return nil, err
		}
		metas = append(metas, types.TranscriptMeta{ID: t.ID, Title: t.Title, UpdatedAt: t.UpdatedAt})
	}

	sortNewestFirst(metas)
	return metas, nil
}

// Delete removes the transcript for id. Deleting an unknown id is not an error.
func (s *TranscriptStore) Delete(_ context.Context, id types.ChatID) error {
	if !id.Valid() {
		return fmt.Errorf("invalid chat id %q", id)
	}
	lock := s.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.chatPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete transcript: %w", err)
	}
	return nil
}

func sortNewestFirst(metas []types.TranscriptMeta) {
	sort.SliceStable(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
}
