package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atondwal/reflect/internal/sandbox"
)

type ReadFileInput struct {
	Path string `json:"path" jsonschema_description:"Path of the file inside the sandbox."`
}

type WriteFileInput struct {
	Path    string `json:"path" jsonschema_description:"Path of the file inside the sandbox. Parent directories are created."`
	Content string `json:"content" jsonschema_description:"Full file content to write."`
}

type EditFileInput struct {
	Path      string `json:"path" jsonschema_description:"Path of the file inside the sandbox."`
	OldString string `json:"old_string" jsonschema_description:"Exact text to replace. Must occur exactly once in the file."`
	NewString string `json:"new_string" jsonschema_description:"Replacement text."`
}

type ListFilesInput struct {
	Path string `json:"path,omitempty" jsonschema_description:"Directory to list (defaults to the sandbox working directory). Descends three levels and skips dotfiles."`
}

type GrepInput struct {
	Pattern string `json:"pattern" jsonschema_description:"Regular expression to search for."`
	Path    string `json:"path,omitempty" jsonschema_description:"File or directory to search (defaults to the sandbox working directory)."`
}

var (
	ReadFileInputSchema  = GenerateSchema[ReadFileInput]()
	WriteFileInputSchema = GenerateSchema[WriteFileInput]()
	EditFileInputSchema  = GenerateSchema[EditFileInput]()
	ListFilesInputSchema = GenerateSchema[ListFilesInput]()
	GrepInputSchema      = GenerateSchema[GrepInput]()
)

// ReadFile returns a file's content from the chat's sandbox.
type ReadFile struct{ gw *sandbox.Gateway }

func NewReadFile(gw *sandbox.Gateway) *ReadFile { return &ReadFile{gw: gw} }

func (t *ReadFile) Name() string                { return "read_file" }
func (t *ReadFile) Description() string         { return "Read a file from this chat's sandbox." }
func (t *ReadFile) Parameters() json.RawMessage { return ReadFileInputSchema }

func (t *ReadFile) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var p ReadFileInput
	if err := decode(args, &p); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if p.Path == "" {
		return "", errors.New("path is required")
	}
	id, err := chatFrom(ctx)
	if err != nil {
		return "", err
	}
	return t.gw.Read(ctx, id, p.Path), nil
}

// WriteFile creates or overwrites a file in the chat's sandbox.
type WriteFile struct{ gw *sandbox.Gateway }

func NewWriteFile(gw *sandbox.Gateway) *WriteFile { return &WriteFile{gw: gw} }

func (t *WriteFile) Name() string                { return "write_file" }
func (t *WriteFile) Description() string         { return "Create or overwrite a file in this chat's sandbox." }
func (t *WriteFile) Parameters() json.RawMessage { return WriteFileInputSchema }

func (t *WriteFile) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var p WriteFileInput
	if err := decode(args, &p); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if p.Path == "" {
		return "", errors.New("path is required")
	}
	id, err := chatFrom(ctx)
	if err != nil {
		return "", err
	}
	return t.gw.Write(ctx, id, p.Path, p.Content), nil
}

// EditFile replaces one unique occurrence of a string in a sandbox file.
type EditFile struct{ gw *sandbox.Gateway }

func NewEditFile(gw *sandbox.Gateway) *EditFile { return &EditFile{gw: gw} }

func (t *EditFile) Name() string { return "edit_file" }
func (t *EditFile) Description() string {
	return "Replace text in a sandbox file. old_string must match exactly once; otherwise the file is left unchanged."
}
func (t *EditFile) Parameters() json.RawMessage { return EditFileInputSchema }

func (t *EditFile) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var p EditFileInput
	if err := decode(args, &p); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if p.Path == "" {
		return "", errors.New("path is required")
	}
	id, err := chatFrom(ctx)
	if err != nil {
		return "", err
	}
	return t.gw.Edit(ctx, id, p.Path, p.OldString, p.NewString), nil
}

// ListFiles enumerates a sandbox directory.
type ListFiles struct{ gw *sandbox.Gateway }

func NewListFiles(gw *sandbox.Gateway) *ListFiles { return &ListFiles{gw: gw} }

func (t *ListFiles) Name() string                { return "list_files" }
func (t *ListFiles) Description() string         { return "List files in this chat's sandbox, up to three levels deep." }
func (t *ListFiles) Parameters() json.RawMessage { return ListFilesInputSchema }

func (t *ListFiles) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var p ListFilesInput
	if err := decode(args, &p); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	id, err := chatFrom(ctx)
	if err != nil {
		return "", err
	}
	return t.gw.List(ctx, id, p.Path), nil
}

// Grep searches sandbox files for a pattern.
type Grep struct{ gw *sandbox.Gateway }

func NewGrep(gw *sandbox.Gateway) *Grep { return &Grep{gw: gw} }

func (t *Grep) Name() string                { return "grep" }
func (t *Grep) Description() string         { return "Recursively search files in this chat's sandbox." }
func (t *Grep) Parameters() json.RawMessage { return GrepInputSchema }

func (t *Grep) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var p GrepInput
	if err := decode(args, &p); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if p.Pattern == "" {
		return "", errors.New("pattern is required")
	}
	id, err := chatFrom(ctx)
	if err != nil {
		return "", err
	}
	return t.gw.Search(ctx, id, p.Pattern, p.Path), nil
}
