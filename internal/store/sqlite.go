package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/tutbot/internal/domain"
	"github.com/ashureev/tutbot/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes writers to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS chats (
		chat_id INTEGER PRIMARY KEY,
		status TEXT NOT NULL,
		active_json TEXT,
		ledger_json TEXT NOT NULL,
		board_message_id INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chats_updated ON chats(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetChat retrieves the saved state of a chat.
func (s *SQLiteStore) GetChat(ctx context.Context, chatID int64) (*domain.Chat, error) {
	query := `
		SELECT chat_id, status, active_json, ledger_json, board_message_id, updated_at
		FROM chats WHERE chat_id = ?`

	row := s.db.QueryRowContext(ctx, query, chatID)

	var chat domain.Chat
	var status string
	var activeJSON sql.NullString
	var ledgerJSON string
	var updatedAt int64

	err := row.Scan(&chat.ChatID, &status, &activeJSON, &ledgerJSON, &chat.BoardMessageID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat row: %w", err)
	}

	chat.Status = domain.ChatStatus(status)
	chat.UpdatedAt = time.Unix(updatedAt, 0)

	if activeJSON.Valid && activeJSON.String != "" {
		var active domain.Session
		if err := json.Unmarshal([]byte(activeJSON.String), &active); err != nil {
			return nil, fmt.Errorf("decode active session: %w", err)
		}
		chat.Active = &active
	}

	ledger := domain.NewLedger()
	if err := json.Unmarshal([]byte(ledgerJSON), ledger); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	chat.Ledger = ledger

	return &chat, nil
}

// UpsertChat creates or replaces the saved state of a chat.
// Retries with exponential backoff when SQLite reports a lock conflict.
func (s *SQLiteStore) UpsertChat(ctx context.Context, chat *domain.Chat) error {
	var activeJSON interface{}
	if chat.Active != nil {
		data, err := json.Marshal(chat.Active)
		if err != nil {
			return fmt.Errorf("encode active session: %w", err)
		}
		activeJSON = string(data)
	}

	ledger := chat.Ledger
	if ledger == nil {
		ledger = domain.NewLedger()
	}
	ledgerJSON, err := json.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	query := `
	INSERT INTO chats (chat_id, status, active_json, ledger_json, board_message_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(chat_id) DO UPDATE SET
		status = excluded.status,
		active_json = excluded.active_json,
		ledger_json = excluded.ledger_json,
		board_message_id = excluded.board_message_id,
		updated_at = excluded.updated_at`

	now := time.Now().Unix()
	return shared.RetryOnConflict(ctx, 3, 50*time.Millisecond, func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		_, err := s.db.ExecContext(ctx, query,
			chat.ChatID, string(chat.Status), activeJSON, string(ledgerJSON),
			chat.BoardMessageID, now, now,
		)
		if err != nil {
			return fmt.Errorf("upsert chat: %w", err)
		}
		return nil
	})
}

// DeleteChat removes the saved state of a chat.
func (s *SQLiteStore) DeleteChat(ctx context.Context, chatID int64) error {
	return shared.RetryOnConflict(ctx, 3, 50*time.Millisecond, func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		if _, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE chat_id = ?`, chatID); err != nil {
			return fmt.Errorf("delete chat: %w", err)
		}
		return nil
	})
}

// ListChatIDs returns every chat with saved state.
func (s *SQLiteStore) ListChatIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM chats ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close chat rows", "error", closeErr)
		}
	}()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chat id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return ids, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
