package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/atondwal/reflect/internal/broker"
	"github.com/atondwal/reflect/internal/gateway"
	"github.com/atondwal/reflect/internal/types"
)

// Submitter queues a user message for a chat. *gateway.Gateway satisfies it.
type Submitter interface {
	Submit(chatID types.ChatID, text string, emit types.Emitter) (*gateway.Run, error)
}

// Server exposes chats over HTTP: SSE for progress, a result endpoint for
// browser-executed tools, transcript CRUD and a websocket transport.
type Server struct {
	runs     Submitter
	broker   *broker.Broker
	store    types.TranscriptStore
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// New creates a Server. All three collaborators are shared with the runtime.
func New(runs Submitter, b *broker.Broker, store types.TranscriptStore) *Server {
	s := &Server{
		runs:   runs,
		broker: b,
		store:  store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		mux: http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /chat", s.handleChat)
	s.mux.HandleFunc("POST /tool_result", s.handleToolResult)
	s.mux.HandleFunc("GET /chats", s.handleListChats)
	s.mux.HandleFunc("GET /chats/{id}", s.handleGetChat)
	s.mux.HandleFunc("DELETE /chats/{id}", s.handleDeleteChat)
	s.mux.HandleFunc("GET /ws", s.handleWS)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// endDropped terminates the event stream of a run the gateway finished
// without processing. Processed runs send their own done.
func endDropped(run *gateway.Run, emit types.Emitter) {
	if !errors.Is(run.Err(), gateway.ErrQueueStopped) {
		return
	}
	emit(types.ErrorEvent("server is shutting down"))
	emit(types.DoneEvent(run.ChatID))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type toolResultRequest struct {
	ToolID string `json:"tool_id"`
	Result string `json:"result"`
}

func (s *Server) handleToolResult(w http.ResponseWriter, r *http.Request) {
	var req toolResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ToolID == "" {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.broker.Submit(req.ToolID, req.Result); err != nil {
		if errors.Is(err, broker.ErrUnknownCall) {
			writeError(w, http.StatusNotFound, "unknown or expired tool call")
			return
		}
		slog.Error("submit tool result failed", "tool_id", req.ToolID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.store.List(r.Context())
	if err != nil {
		slog.Error("list chats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if chats == nil {
		chats = []types.TranscriptMeta{}
	}
	writeJSON(w, http.StatusOK, chats)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	id := types.ChatID(r.PathValue("id"))
	if !id.Valid() {
		writeError(w, http.StatusBadRequest, "invalid chat id")
		return
	}
	t, err := s.store.Get(r.Context(), id)
	if errors.Is(err, types.ErrTranscriptNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		slog.Error("load chat failed", "chat_id", string(id), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	id := types.ChatID(r.PathValue("id"))
	if !id.Valid() {
		writeError(w, http.StatusBadRequest, "invalid chat id")
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		slog.Error("delete chat failed", "chat_id", string(id), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
