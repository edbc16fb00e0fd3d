// Package sandbox executes shell-level operations inside a named, isolated
// environment per conversation.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// TimeoutMessage is the synthesized stderr of a command killed by its deadline.
const TimeoutMessage = "Command timed out"

// Command is an argument vector with optional stdin and a wall-clock bound.
type Command struct {
	Argv    []string
	Stdin   string
	Timeout time.Duration
}

// Result is the outcome of one command. A timed-out command has ExitCode -1
// and Stderr set to TimeoutMessage.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Runner executes a command inside the environment named env, creating the
// environment on first use.
type Runner interface {
	Exec(ctx context.Context, env string, cmd Command) Result
}

// waitDelay bounds how long Wait blocks on pipes held open by orphaned
// grandchildren after the command itself was killed.
const waitDelay = 2 * time.Second

// execCommand runs argv on the host with the given working directory.
func execCommand(ctx context.Context, dir string, argv []string, stdin string, timeout time.Duration) Result {
	if len(argv) == 0 {
		return Result{Stderr: "empty command", ExitCode: -1}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Result{Stdout: stdout.String(), Stderr: TimeoutMessage, ExitCode: -1, TimedOut: true}
	}

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			if res.Stderr == "" {
				res.Stderr = err.Error()
			}
		}
	}
	return res
}
