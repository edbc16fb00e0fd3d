// Package state provides transcript storage backed by JSON files or SQLite.
package state

import "github.com/atondwal/reflect/internal/types"

// Compile-time interface compliance checks.
var _ types.TranscriptStore = (*TranscriptStore)(nil)
var _ types.TranscriptStore = (*SQLiteStore)(nil)
