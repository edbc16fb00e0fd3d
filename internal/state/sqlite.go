package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/atondwal/reflect/internal/types"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps transcripts in a single SQLite database, one row per
// chat with the message list stored as JSON.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS chats (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL DEFAULT '',
  updated_at_unix_nano INTEGER NOT NULL,
  messages_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chats_updated ON chats(updated_at_unix_nano DESC);
`); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, id types.ChatID) (*types.Transcript, error) {
	var (
		title    string
		updated  int64
		messages string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT title, updated_at_unix_nano, messages_json
FROM chats
WHERE id = ?
`, string(id)).Scan(&title, &updated, &messages)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrTranscriptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}

	t := &types.Transcript{
		ID:        id,
		Title:     title,
		UpdatedAt: time.Unix(0, updated).UTC(),
	}
	if err := json.Unmarshal([]byte(messages), &t.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) Save(ctx context.Context, id types.ChatID, title string, updatedAt time.Time, messages []types.Message) error {
	if !id.Valid() {
		return fmt.Errorf("invalid chat id %q", id)
	}
	if messages == nil {
		messages = []types.Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO chats(id, title, updated_at_unix_nano, messages_json)
VALUES(?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  title = excluded.title,
  updated_at_unix_nano = excluded.updated_at_unix_nano,
  messages_json = excluded.messages_json
`, string(id), title, updatedAt.UnixNano(), string(data))
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]types.TranscriptMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, title, updated_at_unix_nano
FROM chats
ORDER BY updated_at_unix_nano DESC, id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	metas := []types.TranscriptMeta{}
	for rows.Next() {
		var (
			id      string
			m       types.TranscriptMeta
			updated int64
		)
		if err := rows.Scan(&id, &m.Title, &updated); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		m.ID = types.ChatID(id)
		m.UpdatedAt = time.Unix(0, updated).UTC()
		metas = append(metas, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcripts: %w", err)
	}
	return metas, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id types.ChatID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete transcript: %w", err)
	}
	return nil
}
