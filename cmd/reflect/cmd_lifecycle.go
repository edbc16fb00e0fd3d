package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(stopCmd, restartCmd)
}

// runningServer returns the serve process recorded in the PID file, after
// checking that it is alive.
func runningServer() (*os.Process, error) {
	cfg := loadConfig()
	data, err := os.ReadFile(pidPath(cfg.DataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no running server (PID file not found)")
		}
		return nil, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid PID file content: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return nil, fmt.Errorf("no running server (process %d not found)", pid)
	}
	return proc, nil
}

func signalCommand(use, short string, sig syscall.Signal, verb string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			proc, err := runningServer()
			if err != nil {
				return err
			}
			if err := proc.Signal(sig); err != nil {
				return fmt.Errorf("send %s: %w", sig, err)
			}
			fmt.Fprintf(os.Stdout, "Sent %s to server (PID %d) to %s.\n", sig, proc.Pid, verb)
			return nil
		},
	}
}

var (
	stopCmd    = signalCommand("stop", "Stop the running server", syscall.SIGTERM, "stop it")
	restartCmd = signalCommand("restart", "Restart the running server", syscall.SIGHUP, "restart it")
)
