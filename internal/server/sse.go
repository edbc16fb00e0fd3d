package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/atondwal/reflect/internal/types"
)

type chatRequest struct {
	Message string       `json:"message"`
	ChatID  types.ChatID `json:"chat_id"`
}

// sseWriter serializes progress events onto one response. Writes after the
// handler has returned, or to a departed client, are dropped.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
	failed  bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	f, _ := w.(http.Flusher)
	sw := &sseWriter{w: w, flusher: f}
	sw.flush()
	return sw
}

func (s *sseWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

func (s *sseWriter) emit(ev types.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("encode progress event", "type", ev.Type, "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.failed {
		return
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		s.failed = true
		return
	}
	s.flush()
}

func (s *sseWriter) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// handleChat streams the progress of one user message as server-sent events.
// The round runs on the gateway's context, so a client that goes away does
// not stop it; the handler still waits for the run so the response stays
// open while events are produced.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	sw := newSSEWriter(w)
	defer sw.close()

	if req.Message == "" {
		sw.emit(types.ErrorEvent("Empty message"))
		sw.emit(types.DoneEvent(req.ChatID))
		return
	}

	run, err := s.runs.Submit(req.ChatID, req.Message, sw.emit)
	if err != nil {
		slog.Warn("chat submit rejected", "chat_id", string(req.ChatID), "error", err)
		sw.emit(types.ErrorEvent(err.Error()))
		sw.emit(types.DoneEvent(req.ChatID))
		return
	}
	<-run.Done()
	endDropped(run, sw.emit)
	slog.Info("chat run finished", "chat_id", string(run.ChatID), "run_id", string(run.ID),
		"status", string(run.Status()), "duration", run.Duration())
}
