// Package tutorial serializes lifecycle operations per chat and keeps chat
// state in memory between checkpoints.
package tutorial

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/tutbot/internal/domain"
	"github.com/ashureev/tutbot/internal/store"
)

// EventKind names the mutation that produced an Event.
type EventKind string

const (
	EventInitialized EventKind = "initialized"
	EventReset       EventKind = "reset"
	EventOpened      EventKind = "opened"
	EventClosed      EventKind = "closed"
	EventClaimed     EventKind = "claimed"
	EventUnclaimed   EventKind = "unclaimed"
	EventAssigned    EventKind = "assigned"
	EventUnassigned  EventKind = "unassigned"
)

// Board is a read-only view of a chat's active session.
type Board struct {
	ChatID    int64         `json:"chat_id"`
	Active    bool          `json:"active"`
	SessionID string        `json:"session_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Slots     []domain.Slot `json:"slots"`
	Claimable []string      `json:"claimable"`
}

// Event is published after every successful mutation.
type Event struct {
	ChatID      int64     `json:"chat_id"`
	Kind        EventKind `json:"kind"`
	Label       string    `json:"label,omitempty"`
	Participant string    `json:"participant,omitempty"`
	Board       Board     `json:"board"`
	At          time.Time `json:"at"`
}

// Listener receives events. It runs on the caller's goroutine after the chat
// lock is released and must not block.
type Listener func(Event)

type chatEntry struct {
	mu           sync.Mutex
	chat         *domain.Chat
	version      uint64
	savedVersion uint64
}

// Service owns the live state of every chat the bot has seen.
type Service struct {
	repo  store.Repository
	chats sync.Map // chatID -> *chatEntry

	listenersMu sync.RWMutex
	listeners   []Listener

	now func() time.Time
}

// NewService creates a service backed by repo.
func NewService(repo store.Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Subscribe registers fn for every future event.
func (s *Service) Subscribe(fn Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Initialize prepares a chat. A chat that is already initialized is left as is
// and domain.ErrAlreadyInitialized is returned.
func (s *Service) Initialize(ctx context.Context, chatID int64) error {
	return s.mutate(ctx, chatID, func(c *domain.Chat) (*Event, error) {
		if err := c.Initialize(); err != nil {
			return nil, err
		}
		return &Event{Kind: EventInitialized}, nil
	})
}

// Reset wipes the chat, ledger included, and returns it to uninitialized.
// The saved record is deleted before memory is touched, so a failed delete
// leaves the chat as it was.
func (s *Service) Reset(ctx context.Context, chatID int64) error {
	e, err := s.entry(ctx, chatID)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteChat(ctx, chatID); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("delete chat %d: %w", chatID, err)
	}
	e.chat.Reset()
	e.version++
	e.savedVersion = e.version
	e.chat.UpdatedAt = s.now()
	ev := Event{ChatID: chatID, Kind: EventReset, Board: boardOf(e.chat), At: e.chat.UpdatedAt}
	e.mu.Unlock()

	s.publish(ev)
	return nil
}

// OpenSession activates a new session, closing any running one first. The
// closed session, if there was one, is returned.
func (s *Service) OpenSession(ctx context.Context, chatID int64, sessionID string, labels []string) (*domain.ClosedSession, error) {
	var closed *domain.ClosedSession
	err := s.mutate(ctx, chatID, func(c *domain.Chat) (*Event, error) {
		var err error
		closed, err = c.OpenSession(sessionID, labels)
		if err != nil {
			return nil, err
		}
		return &Event{Kind: EventOpened}, nil
	})
	if err != nil {
		return nil, err
	}
	if closed != nil {
		slog.Info("Previous session closed by new session", "chat_id", chatID, "session_id", closed.ID, "claimed", len(closed.Claimed))
	}
	return closed, nil
}

// CloseSession folds the active session into the ledger.
func (s *Service) CloseSession(ctx context.Context, chatID int64) (*domain.ClosedSession, error) {
	var closed *domain.ClosedSession
	err := s.mutate(ctx, chatID, func(c *domain.Chat) (*Event, error) {
		var err error
		closed, err = c.CloseSession()
		if err != nil {
			return nil, err
		}
		return &Event{Kind: EventClosed}, nil
	})
	return closed, err
}

// Claim takes label for participant under the one-label-per-session rule.
func (s *Service) Claim(ctx context.Context, chatID int64, label, participant string) error {
	return s.mutate(ctx, chatID, func(c *domain.Chat) (*Event, error) {
		if err := c.Claim(label, participant); err != nil {
			return nil, err
		}
		return &Event{Kind: EventClaimed, Label: label, Participant: participant}, nil
	})
}

// Unclaim releases participant's label and returns it.
func (s *Service) Unclaim(ctx context.Context, chatID int64, participant string) (string, error) {
	var label string
	err := s.mutate(ctx, chatID, func(c *domain.Chat) (*Event, error) {
		var err error
		label, err = c.Unclaim(participant)
		if err != nil {
			return nil, err
		}
		return &Event{Kind: EventUnclaimed, Label: label, Participant: participant}, nil
	})
	return label, err
}

// AdminAssign gives label to participant regardless of what they already hold.
func (s *Service) AdminAssign(ctx context.Context, chatID int64, label, participant string) error {
	return s.mutate(ctx, chatID, func(c *domain.Chat) (*Event, error) {
		if err := c.AdminAssign(label, participant); err != nil {
			return nil, err
		}
		return &Event{Kind: EventAssigned, Label: label, Participant: participant}, nil
	})
}

// AdminUnassign takes label away from participant.
func (s *Service) AdminUnassign(ctx context.Context, chatID int64, label, participant string) error {
	return s.mutate(ctx, chatID, func(c *domain.Chat) (*Event, error) {
		if err := c.AdminUnassign(label, participant); err != nil {
			return nil, err
		}
		return &Event{Kind: EventUnassigned, Label: label, Participant: participant}, nil
	})
}

// Board returns the current board of a chat.
func (s *Service) Board(ctx context.Context, chatID int64) (Board, error) {
	var b Board
	err := s.read(ctx, chatID, func(c *domain.Chat) {
		b = boardOf(c)
	})
	return b, err
}

// Projection returns the labels the claim handler currently accepts.
func (s *Service) Projection(ctx context.Context, chatID int64) (domain.Projection, error) {
	var p domain.Projection
	err := s.read(ctx, chatID, func(c *domain.Chat) {
		p = c.Projection()
	})
	return p, err
}

// Snapshot returns the chat's ledger.
func (s *Service) Snapshot(ctx context.Context, chatID int64) (domain.LedgerSnapshot, error) {
	var snap domain.LedgerSnapshot
	err := s.read(ctx, chatID, func(c *domain.Chat) {
		snap = c.Ledger.Snapshot()
	})
	return snap, err
}

// Chat returns a copy of the chat's full state.
func (s *Service) Chat(ctx context.Context, chatID int64) (*domain.Chat, error) {
	var cp *domain.Chat
	err := s.read(ctx, chatID, func(c *domain.Chat) {
		cp = c.Clone()
	})
	return cp, err
}

// BoardMessage returns the id of the message currently showing the board, or 0.
func (s *Service) BoardMessage(ctx context.Context, chatID int64) (int, error) {
	var id int
	err := s.read(ctx, chatID, func(c *domain.Chat) {
		id = c.BoardMessageID
	})
	return id, err
}

// SetBoardMessage records the message now showing the board and returns the
// one it replaces.
func (s *Service) SetBoardMessage(ctx context.Context, chatID int64, messageID int) (int, error) {
	e, err := s.entry(ctx, chatID)
	if err != nil {
		return 0, err
	}
	defer e.mu.Unlock()

	prev := e.chat.BoardMessageID
	if prev != messageID {
		e.chat.BoardMessageID = messageID
		e.version++
	}
	return prev, nil
}

// Flush saves one chat if it changed since the last save.
func (s *Service) Flush(ctx context.Context, chatID int64) error {
	v, ok := s.chats.Load(chatID)
	if !ok {
		return nil
	}
	return s.flushEntry(ctx, v.(*chatEntry))
}

// FlushAll saves every chat that changed since its last save. It returns the
// number of chats written; a failing chat stays dirty for the next attempt.
func (s *Service) FlushAll(ctx context.Context) (int, error) {
	var saved int
	var firstErr error
	s.chats.Range(func(key, value any) bool {
		e := value.(*chatEntry)
		e.mu.Lock()
		dirty := e.chat != nil && e.version != e.savedVersion
		e.mu.Unlock()
		if !dirty {
			return true
		}
		if err := s.flushEntry(ctx, e); err != nil {
			slog.Error("Failed to save chat", "chat_id", key, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			return true
		}
		saved++
		return true
	})
	return saved, firstErr
}

func (s *Service) flushEntry(ctx context.Context, e *chatEntry) error {
	e.mu.Lock()
	if e.chat == nil || e.version == e.savedVersion {
		e.mu.Unlock()
		return nil
	}
	snapshot := e.chat.Clone()
	version := e.version
	e.mu.Unlock()

	if err := s.repo.UpsertChat(ctx, snapshot); err != nil {
		return fmt.Errorf("save chat %d: %w", snapshot.ChatID, err)
	}

	e.mu.Lock()
	if version > e.savedVersion {
		e.savedVersion = version
	}
	e.mu.Unlock()
	return nil
}

// entry returns the locked entry for chatID, loading it from the repository
// on first use. The caller must unlock it.
func (s *Service) entry(ctx context.Context, chatID int64) (*chatEntry, error) {
	return s.lockEntry(ctx, chatID, nil)
}

// lockEntry is entry with an optional chat already read from the repository.
func (s *Service) lockEntry(ctx context.Context, chatID int64, loaded *domain.Chat) (*chatEntry, error) {
	v, _ := s.chats.LoadOrStore(chatID, &chatEntry{})
	e := v.(*chatEntry)
	e.mu.Lock()
	if e.chat != nil {
		return e, nil
	}

	chat := loaded
	if chat == nil {
		var err error
		chat, err = s.repo.GetChat(ctx, chatID)
		if err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("load chat %d: %w", chatID, err)
		}
	}
	if chat == nil {
		chat = domain.NewChat(chatID)
	}
	if chat.Ledger == nil {
		chat.Ledger = domain.NewLedger()
	}
	e.chat = chat
	return e, nil
}

// read runs fn against the chat. Chats that are neither cached nor saved are
// answered from a fresh uninitialized chat and are not cached.
func (s *Service) read(ctx context.Context, chatID int64, fn func(*domain.Chat)) error {
	var loaded *domain.Chat
	if _, ok := s.chats.Load(chatID); !ok {
		chat, err := s.repo.GetChat(ctx, chatID)
		if err != nil {
			return fmt.Errorf("load chat %d: %w", chatID, err)
		}
		if chat == nil {
			fn(domain.NewChat(chatID))
			return nil
		}
		loaded = chat
	}

	e, err := s.lockEntry(ctx, chatID, loaded)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	fn(e.chat)
	return nil
}

func (s *Service) mutate(ctx context.Context, chatID int64, fn func(*domain.Chat) (*Event, error)) error {
	e, err := s.entry(ctx, chatID)
	if err != nil {
		return err
	}

	ev, err := fn(e.chat)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.version++
	e.chat.UpdatedAt = s.now()
	ev.ChatID = chatID
	ev.Board = boardOf(e.chat)
	ev.At = e.chat.UpdatedAt
	e.mu.Unlock()

	s.publish(*ev)
	return nil
}

func (s *Service) publish(ev Event) {
	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func boardOf(c *domain.Chat) Board {
	b := Board{ChatID: c.ChatID}
	if c.Active == nil {
		return b
	}
	b.Active = true
	b.SessionID = c.Active.ID
	b.Name = c.Active.Name()
	b.Slots = c.Active.Board()
	b.Claimable = c.Projection().Claimable()
	return b
}
