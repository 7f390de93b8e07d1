package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ashureev/tutbot/internal/tutorial"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// BoardSource supplies the current board for a new subscriber.
type BoardSource interface {
	Board(ctx context.Context, chatID int64) (tutorial.Board, error)
}

// Handler upgrades requests on /ws/chats/{chatID}/board and streams events.
type Handler struct {
	hub            *Hub
	boards         BoardSource
	allowedOrigins []string
}

// NewHandler creates a board feed handler.
func NewHandler(hub *Hub, boards BoardSource, allowedOrigins []string) *Handler {
	return &Handler{hub: hub, boards: boards, allowedOrigins: allowedOrigins}
}

type clientMessage struct {
	Type string `json:"type"`
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid chat id", http.StatusBadRequest)
		return
	}

	// Subscribe before reading the board so no event falls between the two.
	id, frames, unsubscribe := h.hub.Subscribe(chatID)
	defer unsubscribe()

	board, err := h.boards.Board(r.Context(), chatID)
	if err != nil {
		slog.Error("Failed to load board for feed", "chat_id", chatID, "error", err)
		http.Error(w, "failed to load board", http.StatusInternalServerError)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns(),
	})
	if err != nil {
		slog.Warn("Failed to accept WebSocket", "chat_id", chatID, "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "chat_id", chatID, "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := h.writeFrame(ctx, ws, "board", "", board); err != nil {
		slog.Debug("Failed to send initial board", "chat_id", chatID, "subscriber_id", id, "error", err)
		return
	}

	go func() {
		defer cancel()
		h.readLoop(ctx, ws, chatID, id)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := ws.Write(ctx, websocket.MessageText, frame); err != nil {
				slog.Debug("WebSocket write error", "chat_id", chatID, "subscriber_id", id, "error", err)
				return
			}
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, chatID int64, id string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "chat_id", chatID, "subscriber_id", id)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "chat_id", chatID, "subscriber_id", id, "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := h.writeFrame(ctx, ws, "pong", "", nil); err != nil {
				slog.Debug("Failed to send pong", "chat_id", chatID, "error", err)
			}
		}
	}
}

func (h *Handler) writeFrame(ctx context.Context, ws *websocket.Conn, typ, kind string, v any) error {
	frame, err := EncodeFrame(typ, kind, v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, frame)
}

// originPatterns converts allowed origins into host patterns for Accept.
func (h *Handler) originPatterns() []string {
	patterns := make([]string, 0, len(h.allowedOrigins))
	for _, origin := range h.allowedOrigins {
		if origin == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return patterns
}
