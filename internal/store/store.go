// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/tutbot/internal/domain"
)

// Repository defines the interface for persisting per-chat tutorial state.
type Repository interface {
	// GetChat retrieves the saved state of a chat. Returns nil, nil when the
	// chat has never been saved.
	GetChat(ctx context.Context, chatID int64) (*domain.Chat, error)

	// UpsertChat creates or replaces the saved state of a chat.
	UpsertChat(ctx context.Context, chat *domain.Chat) error

	// DeleteChat removes the saved state of a chat.
	DeleteChat(ctx context.Context, chatID int64) error

	// ListChatIDs returns every chat with saved state.
	ListChatIDs(ctx context.Context) ([]int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
