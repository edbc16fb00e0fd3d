package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalRunner runs commands on the host, one working directory per
// environment under Root. It provides separation, not isolation, and is
// meant for development.
type LocalRunner struct {
	Root string
}

func NewLocalRunner(root string) *LocalRunner {
	return &LocalRunner{Root: root}
}

func (r *LocalRunner) Dir(env string) string {
	return filepath.Join(r.Root, env)
}

func (r *LocalRunner) Exec(ctx context.Context, env string, cmd Command) Result {
	dir := r.Dir(env)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{Stderr: fmt.Sprintf("create environment: %v", err), ExitCode: -1}
	}
	return execCommand(ctx, dir, cmd.Argv, cmd.Stdin, cmd.Timeout)
}
