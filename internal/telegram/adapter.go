package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/atondwal/reflect/internal/gateway"
	"github.com/atondwal/reflect/internal/types"
)

const maxTelegramMessage = 4096

// Submitter queues a user message for a chat. *gateway.Gateway satisfies it.
type Submitter interface {
	Submit(chatID types.ChatID, text string, emit types.Emitter) (*gateway.Run, error)
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter bridges Telegram chats to the gateway. Each Telegram chat maps to
// one transcript; there is no browser, so the runs it submits must use a
// catalog without browser-executed tools.
type Adapter struct {
	bot   *tgbotapi.BotAPI
	send  sender
	runs  Submitter
	store types.TranscriptStore
	wg    sync.WaitGroup
}

// New creates a Telegram adapter.
func New(token string, runs Submitter, store types.TranscriptStore) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Adapter{bot: bot, send: bot, runs: runs, store: store}, nil
}

// Start long-polls for updates until ctx is done, then waits for pending
// replies to be sent.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := a.bot.GetUpdatesChan(u)
	slog.Info("telegram adapter started", "bot", a.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			a.wg.Wait()
			return
		}
	}
}

// replyBuffer collects the text of one run for a single Telegram reply.
type replyBuffer struct {
	mu   sync.Mutex
	text strings.Builder
	errs []string
}

func (b *replyBuffer) emit(ev types.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch ev.Type {
	case types.EventTextStart:
		if b.text.Len() > 0 {
			b.text.WriteString("\n\n")
		}
	case types.EventTextDelta:
		b.text.WriteString(ev.Content)
	case types.EventError:
		b.errs = append(b.errs, ev.Content)
	}
}

func (b *replyBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := strings.TrimSpace(b.text.String())
	for _, e := range b.errs {
		if out != "" {
			out += "\n\n"
		}
		out += "Error: " + e
	}
	return out
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	chat := msg.Chat.ID
	buf := &replyBuffer{}
	run, err := a.runs.Submit(chatIDFor(chat), msg.Text, buf.emit)
	if err != nil {
		slog.Error("telegram submit failed", "telegram_chat", chat, "error", err)
		a.sendResponse(chat, "Sorry, I encountered an error processing your message.")
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		<-run.Done()
		reply := buf.String()
		if reply == "" {
			reply = "(no response)"
		}
		a.sendResponse(chat, reply)
	}()
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chat := msg.Chat.ID
	id := chatIDFor(chat)

	switch msg.Command() {
	case "start":
		a.sendResponse(chat, "Hello! Send me a message to get started. /new clears the conversation.")

	case "new":
		if err := a.store.Delete(ctx, id); err != nil {
			slog.Error("telegram reset failed", "chat_id", string(id), "error", err)
			a.sendResponse(chat, "Could not clear the conversation.")
			return
		}
		a.sendResponse(chat, "Started a new conversation.")

	case "status":
		t, err := a.store.Get(ctx, id)
		switch {
		case errors.Is(err, types.ErrTranscriptNotFound):
			a.sendResponse(chat, "No conversation yet.")
		case err != nil:
			a.sendResponse(chat, "Error fetching status.")
		default:
			a.sendResponse(chat, fmt.Sprintf("Chat: %s\nMessages: %d\nUpdated: %s",
				t.ID, len(t.Messages), t.UpdatedAt.Format("2006-01-02 15:04")))
		}

	default:
		a.sendResponse(chat, "Unknown command. Available: /start, /new, /status")
	}
}

func (a *Adapter) sendResponse(chat int64, text string) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chat, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := a.send.Send(msg); err != nil {
			// Model output is not always valid Telegram markdown.
			msg.ParseMode = ""
			if _, err := a.send.Send(msg); err != nil {
				slog.Error("telegram send failed", "telegram_chat", chat, "error", err)
			}
		}
	}
}

// splitMessage cuts text into Telegram-sized parts on rune boundaries.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := min(maxTelegramMessage, len(text))
		for end < len(text) && end > 0 && !utf8.RuneStart(text[end]) {
			end--
		}
		if end == 0 {
			end = min(maxTelegramMessage, len(text))
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func chatIDFor(chat int64) types.ChatID {
	return types.ChatID("tg" + strings.ReplaceAll(strconv.FormatInt(chat, 10), "-", "n"))
}
