package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/atondwal/reflect/internal/types"
)

// wsFrame is a client frame on /ws.
type wsFrame struct {
	Type    string       `json:"type"`
	Message string       `json:"message,omitempty"`
	ChatID  types.ChatID `json:"chat_id,omitempty"`
	ToolID  string       `json:"tool_id,omitempty"`
	Result  string       `json:"result,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) emit(ev types.ProgressEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(ev); err != nil {
		slog.Debug("websocket write failed", "type", ev.Type, "error", err)
	}
}

// handleWS carries both directions of a chat on one socket. Messages start
// runs whose events are pushed as they happen; tool results go to the same
// broker as POST /tool_result.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	c := &wsConn{conn: conn}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read failed", "error", err)
			}
			return
		}
		var f wsFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.emit(types.ErrorEvent("invalid JSON"))
			continue
		}
		switch f.Type {
		case "message":
			if f.Message == "" {
				c.emit(types.ErrorEvent("Empty message"))
				c.emit(types.DoneEvent(f.ChatID))
				continue
			}
			run, err := s.runs.Submit(f.ChatID, f.Message, c.emit)
			if err != nil {
				c.emit(types.ErrorEvent(err.Error()))
				c.emit(types.DoneEvent(f.ChatID))
				continue
			}
			go func() {
				<-run.Done()
				endDropped(run, c.emit)
			}()
		case "tool_result":
			if err := s.broker.Submit(f.ToolID, f.Result); err != nil {
				slog.Debug("websocket tool result dropped", "tool_id", f.ToolID, "error", err)
			}
		default:
			c.emit(types.ErrorEvent("unknown frame type " + f.Type))
		}
	}
}
