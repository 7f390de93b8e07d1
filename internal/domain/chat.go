// Package domain contains the tutorial board, ledger and per-chat lifecycle.
package domain

import (
	"fmt"
	"time"
)

// ChatStatus is where a chat is in its lifecycle.
type ChatStatus string

const (
	StatusUninitialized ChatStatus = "uninitialized"
	StatusReady         ChatStatus = "ready"
)

// Chat is everything the bot keeps for one group chat.
type Chat struct {
	ChatID         int64      `json:"chat_id"`
	Status         ChatStatus `json:"status"`
	Active         *Session   `json:"active,omitempty"`
	Ledger         *Ledger    `json:"ledger"`
	BoardMessageID int        `json:"board_message_id,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ClosedSession describes a session that was folded into the ledger.
type ClosedSession struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Claimed []Slot `json:"claimed"`
}

// NewChat returns an uninitialized chat.
func NewChat(chatID int64) *Chat {
	return &Chat{
		ChatID: chatID,
		Status: StatusUninitialized,
		Ledger: NewLedger(),
	}
}

// IsReady reports whether Initialize has run.
func (c *Chat) IsReady() bool {
	return c.Status == StatusReady
}

// Initialize clears the chat and marks it ready. A ready chat is left untouched.
func (c *Chat) Initialize() error {
	if c.IsReady() {
		return ErrAlreadyInitialized
	}
	c.Active = nil
	c.Ledger = NewLedger()
	c.BoardMessageID = 0
	c.Status = StatusReady
	return nil
}

// Reset drops all state, including the ledger.
func (c *Chat) Reset() {
	c.Active = nil
	c.Ledger = NewLedger()
	c.BoardMessageID = 0
	c.Status = StatusUninitialized
}

// OpenSession starts a new round, closing the running one first.
// The new labels are validated before anything is closed.
func (c *Chat) OpenSession(id string, labels []string) (*ClosedSession, error) {
	if !c.IsReady() {
		return nil, ErrNotInitialized
	}
	next, err := NewSession(id, labels)
	if err != nil {
		return nil, err
	}

	var closed *ClosedSession
	if c.Active != nil {
		closed, err = c.CloseSession()
		if err != nil {
			return nil, fmt.Errorf("close previous session: %w", err)
		}
	}
	c.Active = next
	return closed, nil
}

// CloseSession folds the active session into the ledger and discards it.
func (c *Chat) CloseSession() (*ClosedSession, error) {
	if !c.IsReady() {
		return nil, ErrNotInitialized
	}
	s := c.Active
	if s == nil {
		return nil, ErrNoActiveSession
	}
	if c.Ledger == nil {
		c.Ledger = NewLedger()
	}

	claimed := s.Claimed()
	for _, slot := range claimed {
		c.Ledger.Record(s.Name(), slot.Holder, slot.Label)
	}

	c.Active = nil
	c.BoardMessageID = 0
	return &ClosedSession{ID: s.ID, Name: s.Name(), Claimed: claimed}, nil
}

// Claim is the student's self-service claim.
func (c *Chat) Claim(label, participant string) error {
	s, err := c.active()
	if err != nil {
		return err
	}
	return s.Claim(label, participant)
}

// Unclaim releases the participant's first label and returns it.
func (c *Chat) Unclaim(participant string) (string, error) {
	s, err := c.active()
	if err != nil {
		return "", err
	}
	return s.Unclaim(participant)
}

// AdminAssign gives label to participant, bypassing the one-label cap.
func (c *Chat) AdminAssign(label, participant string) error {
	s, err := c.active()
	if err != nil {
		return err
	}
	return s.AdminClaim(label, participant)
}

// AdminUnassign takes label away from participant.
func (c *Chat) AdminUnassign(label, participant string) error {
	s, err := c.active()
	if err != nil {
		return err
	}
	return s.AdminUnclaim(label, participant)
}

// Projection derives the claim filter from the active session.
func (c *Chat) Projection() Projection {
	return NewProjection(c.Active)
}

// Clone returns a deep copy for persistence and read-only views.
func (c *Chat) Clone() *Chat {
	cp := *c
	cp.Active = c.Active.Clone()
	if c.Ledger != nil {
		l := NewLedger()
		for p, n := range c.Ledger.Frequency {
			l.Frequency[p] = n
		}
		l.Order = append([]string(nil), c.Ledger.Order...)
		l.History = c.Ledger.Snapshot().History
		cp.Ledger = l
	}
	return &cp
}

func (c *Chat) active() (*Session, error) {
	if c.Active == nil {
		return nil, ErrNoActiveSession
	}
	return c.Active, nil
}
