package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atondwal/reflect/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("reflect setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.LLM.Provider = prompt(scanner, "Model provider (anthropic|openai)", cfg.LLM.Provider)
		if cfg.LLM.Provider == "openai" {
			cfg.LLM.BaseURL = prompt(scanner, "OpenAI-compatible base URL", cfg.LLM.BaseURL)
		}
		cfg.LLM.APIKey = prompt(scanner, "API key", cfg.LLM.APIKey)
		cfg.LLM.Model = prompt(scanner, "Model name", cfg.LLM.Model)
		if n, err := strconv.Atoi(prompt(scanner, "Max output tokens", strconv.Itoa(cfg.LLM.MaxTokens))); err == nil {
			cfg.LLM.MaxTokens = n
		}

		cfg.HTTP.Listen = prompt(scanner, "Listen address", cfg.HTTP.Listen)
		cfg.Store.Driver = prompt(scanner, "Transcript store (file|sqlite)", cfg.Store.Driver)

		sandbox := prompt(scanner, "Enable sandbox tools (y/n)", yesNo(cfg.Sandbox.Enabled))
		cfg.Sandbox.Enabled = strings.HasPrefix(strings.ToLower(sandbox), "y")
		if cfg.Sandbox.Enabled {
			cfg.Sandbox.Runner = prompt(scanner, "Sandbox runner (docker|local)", cfg.Sandbox.Runner)
			if cfg.Sandbox.Runner == "docker" {
				cfg.Sandbox.Image = prompt(scanner, "Sandbox image", cfg.Sandbox.Image)
			}
		}

		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)
		cfg.Brave.APIKey = prompt(scanner, "Brave Search API key (optional)", cfg.Brave.APIKey)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			return input
		}
	}
	return defaultVal
}
