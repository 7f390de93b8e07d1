// Package identity answers who a chat member is and whether they may run
// instructor commands.
package identity

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Member is the sender of a chat message as reported by the platform.
type Member struct {
	UserID    int64
	Username  string
	FirstName string
}

// Participant returns the display handle used on the board and in the ledger.
// Members without a username fall back to their first name, then their id.
func (m Member) Participant() string {
	if name := NormalizeHandle(m.Username); name != "" {
		return name
	}
	if name := strings.TrimSpace(m.FirstName); name != "" {
		return name
	}
	return "user" + strconv.FormatInt(m.UserID, 10)
}

// NormalizeHandle strips whitespace and a leading "@" from a username.
func NormalizeHandle(handle string) string {
	return strings.TrimPrefix(strings.TrimSpace(handle), "@")
}

// RoleChecker reports whether a user administers a chat.
type RoleChecker interface {
	IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

type roleKey struct {
	chatID int64
	userID int64
}

type roleEntry struct {
	admin     bool
	expiresAt time.Time
}

// CachedRoleChecker remembers answers from another checker for a while so a
// burst of commands does not turn into a burst of platform lookups.
type CachedRoleChecker struct {
	next RoleChecker
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[roleKey]roleEntry
}

// NewCachedRoleChecker wraps next. A zero ttl disables caching.
func NewCachedRoleChecker(next RoleChecker, ttl time.Duration) *CachedRoleChecker {
	return &CachedRoleChecker{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[roleKey]roleEntry),
	}
}

// IsAdmin implements RoleChecker. Errors are never cached.
func (c *CachedRoleChecker) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	key := roleKey{chatID: chatID, userID: userID}
	if c.ttl > 0 {
		c.mu.Lock()
		e, ok := c.entries[key]
		if ok && c.now().Before(e.expiresAt) {
			c.mu.Unlock()
			return e.admin, nil
		}
		c.mu.Unlock()
	}

	admin, err := c.next.IsAdmin(ctx, chatID, userID)
	if err != nil {
		return false, err
	}

	if c.ttl > 0 {
		c.mu.Lock()
		c.entries[key] = roleEntry{admin: admin, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
	}
	return admin, nil
}

// Forget drops every cached answer for a chat.
func (c *CachedRoleChecker) Forget(chatID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.chatID == chatID {
			delete(c.entries, key)
		}
	}
}
