package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/atondwal/reflect/internal/config"
	ctxengine "github.com/atondwal/reflect/internal/context"
	"github.com/atondwal/reflect/internal/runtime"
	"github.com/atondwal/reflect/internal/runtime/tools"
	"github.com/atondwal/reflect/internal/sandbox"
	"github.com/atondwal/reflect/internal/state"
	"github.com/atondwal/reflect/internal/types"
	"github.com/atondwal/reflect/pkg/llm"
	"github.com/atondwal/reflect/pkg/llm/anthropic"
	"github.com/atondwal/reflect/pkg/llm/openai"
)

// openStore returns the transcript store selected by store.driver and a
// function releasing it.
func openStore(cfg *config.Config) (types.TranscriptStore, func() error, error) {
	switch cfg.Store.Driver {
	case "", "file":
		return state.NewTranscriptStore(cfg.DataDir), func() error { return nil }, nil
	case "sqlite":
		s, err := state.OpenSQLite(filepath.Join(cfg.DataDir, "reflect.db"))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func newProvider(cfg *config.Config) (llm.Provider, error) {
	lc := &llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}
	switch cfg.LLM.Provider {
	case "anthropic":
		return anthropic.New(lc), nil
	case "openai":
		if lc.BaseURL == "" {
			lc.BaseURL = "https://api.openai.com/v1"
		}
		return openai.New(lc), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

// newEngine builds the context engine. Token counting falls back to a
// character heuristic when no tiktoken encoding can be loaded.
func newEngine(cfg *config.Config) (*ctxengine.Engine, error) {
	var counter ctxengine.Counter
	tk, err := ctxengine.NewTiktokenCounter(cfg.LLM.Model)
	if err != nil {
		slog.Warn("tiktoken unavailable, estimating tokens from length", "error", err)
		counter = ctxengine.HeuristicCounter{}
	} else {
		counter = tk
	}
	engine := ctxengine.New(counter, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve)
	if cfg.SystemPromptPath != "" {
		if err := engine.LoadPrompt(cfg.SystemPromptPath); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

func newSandbox(cfg *config.Config) (*sandbox.Gateway, error) {
	var runner sandbox.Runner
	switch cfg.Sandbox.Runner {
	case "docker":
		runner = sandbox.NewDockerRunner(cfg.Sandbox.Image, cfg.Sandbox.Network)
	case "local":
		root := cfg.Sandbox.Root
		if root == "" {
			root = filepath.Join(cfg.DataDir, "sandboxes")
		}
		runner = sandbox.NewLocalRunner(root)
	default:
		return nil, fmt.Errorf("unknown sandbox runner %q", cfg.Sandbox.Runner)
	}
	return sandbox.NewGateway(runner,
		sandbox.WithPrefix(cfg.Sandbox.Prefix),
		sandbox.WithTimeouts(
			time.Duration(cfg.Sandbox.BashTimeoutSeconds)*time.Second,
			time.Duration(cfg.Sandbox.OpTimeoutSeconds)*time.Second,
		),
	), nil
}

// newRegistry assembles the tool catalog. The browser tool comes first so
// front ends without a browser can drop it with Without.
func newRegistry(cfg *config.Config) (*runtime.Registry, error) {
	registry := runtime.NewRegistry()
	registry.Register(tools.NewRunJS())

	if cfg.Sandbox.Enabled {
		gw, err := newSandbox(cfg)
		if err != nil {
			return nil, err
		}
		registry.Register(tools.NewBash(gw))
		registry.Register(tools.NewReadFile(gw))
		registry.Register(tools.NewWriteFile(gw))
		registry.Register(tools.NewEditFile(gw))
		registry.Register(tools.NewListFiles(gw))
		registry.Register(tools.NewGrep(gw))
	}

	registry.Register(tools.NewReadURL())
	if cfg.Brave.APIKey != "" {
		registry.Register(tools.NewWebSearch(cfg.Brave.APIKey))
	}
	return registry, nil
}
