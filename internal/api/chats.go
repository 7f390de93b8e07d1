package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/tutbot/internal/store"
	"github.com/go-chi/chi/v5"
)

// flushLocks prevents concurrent on-demand saves for the same chat.
var flushLocks sync.Map

// ChatHandler serves board, ledger and projection views of a chat.
type ChatHandler struct {
	*Handler
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(base *Handler) *ChatHandler {
	return &ChatHandler{Handler: base}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chats", func(r chi.Router) {
		r.Get("/", h.ListChats)
		r.Route("/{chatID}", func(r chi.Router) {
			r.Get("/", h.GetChat)
			r.Get("/board", h.GetBoard)
			r.Get("/ledger", h.GetLedger)
			r.Get("/projection", h.GetProjection)
			r.Post("/flush", h.Flush)
		})
	})
}

// ListChats returns the ids of every saved chat.
func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	ids, err := h.repo.ListChatIDs(r.Context())
	if err != nil {
		slog.Error("Failed to list chats", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"chat_ids": ids})
}

// GetChat returns a chat's lifecycle status and board.
func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(r)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid chat id")
		return
	}

	chat, err := h.svc.Chat(r.Context(), chatID)
	if err != nil {
		slog.Error("Failed to load chat", "chat_id", chatID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load chat")
		return
	}
	if !chat.IsReady() {
		Error(w, http.StatusNotFound, "chat_not_initialized")
		return
	}

	board, err := h.svc.Board(r.Context(), chatID)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load board")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"chat_id":    chat.ChatID,
		"status":     chat.Status,
		"board":      board,
		"updated_at": chat.UpdatedAt,
	})
}

// GetBoard returns the active board. A chat without a session has an
// inactive board.
func (h *ChatHandler) GetBoard(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(r)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid chat id")
		return
	}

	board, err := h.svc.Board(r.Context(), chatID)
	if err != nil {
		slog.Error("Failed to load board", "chat_id", chatID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load board")
		return
	}
	JSON(w, http.StatusOK, board)
}

// GetLedger returns participation counts in descending order and each
// participant's history.
func (h *ChatHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(r)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid chat id")
		return
	}

	snap, err := h.svc.Snapshot(r.Context(), chatID)
	if err != nil {
		slog.Error("Failed to load ledger", "chat_id", chatID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load ledger")
		return
	}
	JSON(w, http.StatusOK, snap)
}

// GetProjection returns the labels that currently count as claim messages.
func (h *ChatHandler) GetProjection(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(r)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid chat id")
		return
	}

	p, err := h.svc.Projection(r.Context(), chatID)
	if err != nil {
		slog.Error("Failed to load projection", "chat_id", chatID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load projection")
		return
	}
	labels := p.Labels()
	if labels == nil {
		labels = []string{}
	}
	JSON(w, http.StatusOK, map[string]any{"labels": labels})
}

// Flush saves the chat now instead of waiting for the next checkpoint.
func (h *ChatHandler) Flush(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(r)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid chat id")
		return
	}

	lockVal, _ := flushLocks.LoadOrStore(chatID, &sync.Mutex{})
	lock := lockVal.(*sync.Mutex)
	if !lock.TryLock() {
		Error(w, http.StatusConflict, "flush_in_progress")
		return
	}
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.svc.Flush(ctx, chatID); err != nil {
		slog.Error("On-demand flush failed", "chat_id", chatID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save chat")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo    store.Repository
	timeout time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{repo: repo, timeout: timeout}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok", "database": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		checks["database"] = "unreachable"
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	JSON(w, statusCode, map[string]any{"status": status, "checks": checks})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
