package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const containerStartTimeout = 60 * time.Second

// DockerRunner runs commands with `docker exec` in one long-lived container
// per environment, started from Image on first use.
type DockerRunner struct {
	Image   string
	Network string
	// Binary is the docker CLI to invoke. Defaults to "docker".
	Binary string

	mu   sync.Mutex
	envs map[string]*dockerEnv
}

// dockerEnv serializes container startup for one environment.
type dockerEnv struct {
	mu    sync.Mutex
	ready bool
}

func NewDockerRunner(image, network string) *DockerRunner {
	return &DockerRunner{Image: image, Network: network}
}

func (r *DockerRunner) binary() string {
	if r.Binary == "" {
		return "docker"
	}
	return r.Binary
}

func (r *DockerRunner) env(name string) *dockerEnv {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.envs == nil {
		r.envs = make(map[string]*dockerEnv)
	}
	e, ok := r.envs[name]
	if !ok {
		e = &dockerEnv{}
		r.envs[name] = e
	}
	return e
}

// ensure starts the container for env unless it is known to be running.
// Startup of one environment does not block the others.
func (r *DockerRunner) ensure(ctx context.Context, env string) error {
	e := r.env(env)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return nil
	}

	docker := r.binary()
	inspect := execCommand(ctx, "", []string{docker, "container", "inspect", "-f", "{{.State.Running}}", env}, "", containerStartTimeout)
	switch {
	case inspect.ExitCode == 0 && strings.TrimSpace(inspect.Stdout) == "true":
	case inspect.ExitCode == 0:
		if res := execCommand(ctx, "", []string{docker, "start", env}, "", containerStartTimeout); res.ExitCode != 0 {
			return fmt.Errorf("start container %s: %s", env, strings.TrimSpace(res.Stderr))
		}
	default:
		argv := []string{docker, "run", "-d", "--name", env}
		if r.Network != "" {
			argv = append(argv, "--network", r.Network)
		}
		argv = append(argv, r.Image, "sleep", "infinity")
		if res := execCommand(ctx, "", argv, "", containerStartTimeout); res.ExitCode != 0 {
			return fmt.Errorf("create container %s: %s", env, strings.TrimSpace(res.Stderr))
		}
		slog.Info("sandbox container created", "env", env, "image", r.Image)
	}
	e.ready = true
	return nil
}

// Exec runs cmd in the container for env. On timeout the docker client is
// killed; the process inside the container may outlive it.
func (r *DockerRunner) Exec(ctx context.Context, env string, cmd Command) Result {
	if err := r.ensure(ctx, env); err != nil {
		return Result{Stderr: err.Error(), ExitCode: -1}
	}
	argv := append([]string{r.binary(), "exec", "-i", env}, cmd.Argv...)
	return execCommand(ctx, "", argv, cmd.Stdin, cmd.Timeout)
}
