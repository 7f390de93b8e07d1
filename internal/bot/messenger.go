// Package bot turns chat messages into tutorial operations and renders the
// results back into the chat.
package bot

import (
	"context"
	"strings"

	"github.com/ashureev/tutbot/internal/identity"
)

// Keyboard is a reply keyboard, one slice of button labels per row.
type Keyboard [][]string

// Outgoing is a message the bot sends.
type Outgoing struct {
	ChatID         int64
	Text           string
	ReplyTo        int
	Keyboard       Keyboard
	RemoveKeyboard bool
}

// Messenger is the chat platform as the dispatcher sees it.
type Messenger interface {
	Send(ctx context.Context, msg Outgoing) (int, error)
	Delete(ctx context.Context, chatID int64, messageID int) error
	Pin(ctx context.Context, chatID int64, messageID int) error
	Unpin(ctx context.Context, chatID int64, messageID int) error
}

// Incoming is a message received from a chat.
type Incoming struct {
	ChatID    int64
	Group     bool
	MessageID int
	From      identity.Member
	Text      string
	Command   string
	Args      []string
	ReplyTo   int
}

// IsCommand reports whether the message is a bot command.
func (in Incoming) IsCommand() bool {
	return in.Command != ""
}

// ParseCommand splits "/new@tutbot 5 1 2" into "new" and its arguments.
// Text that is not a command yields "".
func ParseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") || len(fields[0]) == 1 {
		return "", nil
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), fields[1:]
}
