package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atondwal/reflect/internal/types"
)

const (
	DefaultPrefix      = "reflect"
	DefaultBashTimeout = 120 * time.Second
	DefaultOpTimeout   = 30 * time.Second
)

// Gateway maps file and shell operations onto Runner calls against the
// environment of one conversation. Every method returns the caller-visible
// result string; failures are reported in that string, never as errors.
type Gateway struct {
	runner      Runner
	prefix      string
	bashTimeout time.Duration
	opTimeout   time.Duration
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

func WithPrefix(prefix string) GatewayOption {
	return func(g *Gateway) {
		if prefix != "" {
			g.prefix = prefix
		}
	}
}

func WithTimeouts(bash, op time.Duration) GatewayOption {
	return func(g *Gateway) {
		if bash > 0 {
			g.bashTimeout = bash
		}
		if op > 0 {
			g.opTimeout = op
		}
	}
}

func NewGateway(runner Runner, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		runner:      runner,
		prefix:      DefaultPrefix,
		bashTimeout: DefaultBashTimeout,
		opTimeout:   DefaultOpTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// EnvName returns the environment name addressed for a chat.
func (g *Gateway) EnvName(id types.ChatID) string {
	return g.prefix + "-" + string(id)
}

func (g *Gateway) exec(ctx context.Context, id types.ChatID, timeout time.Duration, stdin string, argv ...string) Result {
	return g.runner.Exec(ctx, g.EnvName(id), Command{Argv: argv, Stdin: stdin, Timeout: timeout})
}

// Run executes a command line with bash.
func (g *Gateway) Run(ctx context.Context, id types.ChatID, command string) string {
	res := g.exec(ctx, id, g.bashTimeout, "", "bash", "-c", command)

	var parts []string
	if res.Stdout != "" {
		parts = append(parts, res.Stdout)
	}
	if res.Stderr != "" {
		parts = append(parts, res.Stderr)
	}
	out := strings.Join(parts, "\n")
	switch {
	case out != "":
		return out
	case res.ExitCode != 0:
		return fmt.Sprintf("Exit code: %d", res.ExitCode)
	default:
		return "(no output)"
	}
}

// Read returns the content of path.
func (g *Gateway) Read(ctx context.Context, id types.ChatID, path string) string {
	res := g.exec(ctx, id, g.opTimeout, "", "cat", "--", path)
	if res.ExitCode != 0 {
		return "Error: " + strings.TrimSpace(res.Stderr)
	}
	return res.Stdout
}

// writeFile creates the parent directories of path and writes content to it.
// The path reaches the shell only as a positional parameter.
func (g *Gateway) writeFile(ctx context.Context, id types.ChatID, path, content string) Result {
	return g.exec(ctx, id, g.opTimeout, content,
		"sh", "-c", `mkdir -p -- "$(dirname -- "$1")" && cat > "$1"`, "sh", path)
}

// Write replaces the content of path.
func (g *Gateway) Write(ctx context.Context, id types.ChatID, path, content string) string {
	if res := g.writeFile(ctx, id, path, content); res.ExitCode != 0 {
		return "Error: " + strings.TrimSpace(res.Stderr)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path)
}

// Edit replaces the single occurrence of oldString in path. The file is left
// unchanged unless oldString occurs exactly once.
func (g *Gateway) Edit(ctx context.Context, id types.ChatID, path, oldString, newString string) string {
	if oldString == "" {
		return "Error: old_string must not be empty"
	}
	res := g.exec(ctx, id, g.opTimeout, "", "cat", "--", path)
	if res.ExitCode != 0 {
		return "Error: " + strings.TrimSpace(res.Stderr)
	}

	switch n := strings.Count(res.Stdout, oldString); n {
	case 0:
		return fmt.Sprintf("Error: old_string not found in %s", path)
	case 1:
	default:
		return fmt.Sprintf("Error: old_string found %d times in %s; it must be unique", n, path)
	}

	updated := strings.Replace(res.Stdout, oldString, newString, 1)
	if res := g.writeFile(ctx, id, path, updated); res.ExitCode != 0 {
		return "Error: " + strings.TrimSpace(res.Stderr)
	}
	return "Edited " + path
}

// List enumerates entries under path up to three levels deep, skipping
// dotfiles and dot-directories below path. Path itself is never filtered.
func (g *Gateway) List(ctx context.Context, id types.ChatID, path string) string {
	if path == "" {
		path = "."
	}
	res := g.exec(ctx, id, g.opTimeout, "",
		"find", path, "-mindepth", "1", "-maxdepth", "3", "-name", ".*", "-prune", "-o", "-print")
	if res.ExitCode != 0 {
		if msg := strings.TrimSpace(res.Stderr); msg != "" {
			return "Error: " + msg
		}
		return fmt.Sprintf("Error: exit code %d", res.ExitCode)
	}
	out := strings.TrimRight(res.Stdout, "\n")
	if out == "" {
		return "(empty directory)"
	}
	return out
}

// Search greps recursively for pattern under path.
func (g *Gateway) Search(ctx context.Context, id types.ChatID, pattern, path string) string {
	if path == "" {
		path = "."
	}
	res := g.exec(ctx, id, g.opTimeout, "",
		"grep", "-rn", "--exclude-dir=.[!.]*", "-e", pattern, "--", path)
	switch res.ExitCode {
	case 0:
		return strings.TrimRight(res.Stdout, "\n")
	case 1:
		return "No matches found"
	default:
		if msg := strings.TrimSpace(res.Stderr); msg != "" {
			return "Error: " + msg
		}
		return fmt.Sprintf("Error: exit code %d", res.ExitCode)
	}
}
