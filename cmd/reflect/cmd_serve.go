package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/atondwal/reflect/internal/broker"
	"github.com/atondwal/reflect/internal/gateway"
	"github.com/atondwal/reflect/internal/runtime"
	"github.com/atondwal/reflect/internal/scheduler"
	"github.com/atondwal/reflect/internal/server"
	"github.com/atondwal/reflect/internal/telegram"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reflect server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, "reflect.pid")
}

func writePIDFile(dataDir string) (string, error) {
	path := pidPath(dataDir)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	pidFile, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	if cfg.Debug.Gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			slog.Warn("gops agent failed to start", "error", err)
		} else {
			defer agent.Close()
		}
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}
	engine, err := newEngine(cfg)
	if err != nil {
		return fmt.Errorf("create context engine: %w", err)
	}
	registry, err := newRegistry(cfg)
	if err != nil {
		return err
	}

	b := broker.New()
	opts := []runtime.Option{
		runtime.WithMaxRounds(cfg.MaxToolRounds),
		runtime.WithRemoteTimeout(cfg.RemoteTimeout()),
	}
	rt := runtime.New(provider, engine, store, registry, b, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw := gateway.New(rt.ProcessRun, int64(cfg.MaxConcurrent))
	gw.Start(ctx)
	defer gw.Stop()

	g, gctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           server.New(gw, b, store),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		slog.Info("http server started", "listen", cfg.HTTP.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.SystemPromptPath != "" {
		g.Go(func() error {
			if err := engine.WatchPrompt(gctx, cfg.SystemPromptPath); err != nil {
				slog.Warn("system prompt watch stopped", "error", err)
			}
			return nil
		})
	}

	if cfg.Telegram.Token != "" {
		// Telegram has no browser to run scripts in.
		tgRuntime := runtime.New(provider, engine, store, registry.Without("run_js"), b, opts...)
		tgGateway := gateway.New(tgRuntime.ProcessRun, int64(cfg.MaxConcurrent))
		tgGateway.Start(ctx)
		defer tgGateway.Stop()

		adapter, err := telegram.New(cfg.Telegram.Token, tgGateway, store)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		g.Go(func() error {
			adapter.Start(gctx)
			return nil
		})
	} else {
		slog.Info("telegram adapter disabled (no token)")
	}

	if cfg.Retention.MaxAgeHours > 0 {
		sweeper := scheduler.New(store, time.Duration(cfg.Retention.MaxAgeHours)*time.Hour)
		if err := sweeper.Start(ctx, cfg.Retention.Schedule); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	g.Go(func() error {
		return waitForRestart(gctx, pidFile, cfg.DataDir)
	})

	slog.Info("reflect started",
		"data_dir", cfg.DataDir,
		"store", cfg.Store.Driver,
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
		"max_concurrent", cfg.MaxConcurrent,
		"max_tool_rounds", cfg.MaxToolRounds,
		"sandbox", cfg.Sandbox.Enabled,
		"tools", len(registry.All()),
		"pid_file", pidFile,
	)

	err = g.Wait()
	slog.Info("shutting down")
	return err
}

// waitForRestart re-executes the binary on SIGHUP so a new config and
// binary take effect without a supervisor.
func waitForRestart(ctx context.Context, pidFile, dataDir string) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			os.Remove(pidFile)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, werr := writePIDFile(dataDir); werr != nil {
					slog.Error("failed to re-write PID file", "error", werr)
				}
			}
		}
	}
}
