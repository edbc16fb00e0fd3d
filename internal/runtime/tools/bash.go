package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atondwal/reflect/internal/sandbox"
	"github.com/atondwal/reflect/internal/types"
)

type BashInput struct {
	Command string `json:"command" jsonschema_description:"Shell command line to run inside the chat's sandbox."`
}

var BashInputSchema = GenerateSchema[BashInput]()

// Bash runs a command line in the sandbox that belongs to the current chat.
type Bash struct {
	gw *sandbox.Gateway
}

func NewBash(gw *sandbox.Gateway) *Bash { return &Bash{gw: gw} }

func (b *Bash) Name() string { return "bash" }
func (b *Bash) Description() string {
	return "Execute a bash command in this chat's isolated sandbox. Network access is enabled. Output is stdout followed by stderr."
}
func (b *Bash) Parameters() json.RawMessage { return BashInputSchema }

func (b *Bash) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params BashInput
	if err := decode(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if params.Command == "" {
		return "", errors.New("command is required")
	}
	id, err := chatFrom(ctx)
	if err != nil {
		return "", err
	}
	return b.gw.Run(ctx, id, params.Command), nil
}

func chatFrom(ctx context.Context) (types.ChatID, error) {
	id, ok := types.ChatIDFromContext(ctx)
	if !ok {
		return "", errors.New("no chat bound to this tool call")
	}
	return id, nil
}
