package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/atondwal/reflect/internal/broker"
	"github.com/atondwal/reflect/internal/runtime"
	"github.com/atondwal/reflect/internal/types"
)

var chatSendID string

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.AddCommand(chatListCmd, chatShowCmd, chatDeleteCmd, chatSendCmd)
	chatSendCmd.Flags().StringVar(&chatSendID, "chat", "", "continue an existing chat")
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Manage stored chats",
}

var chatListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored chats, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store, closeStore, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		metas, err := store.List(context.Background())
		if err != nil {
			return fmt.Errorf("list chats: %w", err)
		}
		if len(metas) == 0 {
			fmt.Println("No chats found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tUPDATED")
		for _, m := range metas {
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.ID, m.Title, m.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var chatShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a chat transcript as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := types.ChatID(args[0])
		if !id.Valid() {
			return fmt.Errorf("invalid chat id %q", args[0])
		}
		cfg := loadConfig()
		store, closeStore, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		t, err := store.Get(context.Background(), id)
		if err != nil {
			return fmt.Errorf("get chat: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	},
}

var chatDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a chat transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := types.ChatID(args[0])
		if !id.Valid() {
			return fmt.Errorf("invalid chat id %q", args[0])
		}
		cfg := loadConfig()
		store, closeStore, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		if err := store.Delete(context.Background(), id); err != nil {
			return fmt.Errorf("delete chat: %w", err)
		}
		fmt.Printf("Chat %s deleted.\n", id)
		return nil
	},
}

// chatSendCmd runs one round in-process. There is no browser attached, so
// run_js is left out of the catalog.
var chatSendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a message and stream the reply to stdout",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		chatID := types.ChatID(chatSendID)
		if chatID != "" && !chatID.Valid() {
			return fmt.Errorf("invalid chat id %q", chatSendID)
		}

		store, closeStore, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore()
		provider, err := newProvider(cfg)
		if err != nil {
			return err
		}
		engine, err := newEngine(cfg)
		if err != nil {
			return err
		}
		registry, err := newRegistry(cfg)
		if err != nil {
			return err
		}

		rt := runtime.New(provider, engine, store, registry.Without("run_js"), broker.New(),
			runtime.WithMaxRounds(cfg.MaxToolRounds),
			runtime.WithRemoteTimeout(cfg.RemoteTimeout()),
		)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		id, err := rt.HandleUserMessage(ctx, chatID, strings.Join(args, " "), printEvent)
		fmt.Fprintf(os.Stderr, "\nchat: %s\n", id)
		return err
	},
}

func printEvent(ev types.ProgressEvent) {
	switch ev.Type {
	case types.EventTextDelta:
		fmt.Print(ev.Content)
	case types.EventToolStart:
		fmt.Fprintf(os.Stderr, "\n[%s]\n", ev.Name)
	case types.EventToolOutput:
		fmt.Fprintf(os.Stderr, "%s\n", ev.Result)
	case types.EventError:
		fmt.Fprintf(os.Stderr, "\nerror: %s\n", ev.Content)
	}
}
