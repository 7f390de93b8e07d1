package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/tutbot/internal/identity"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram implements Messenger and identity.RoleChecker on the Bot API.
type Telegram struct {
	api *tgbotapi.BotAPI
}

// NewTelegram connects to the Bot API with token.
func NewTelegram(token string, debug bool) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	api.Debug = debug
	return &Telegram{api: api}, nil
}

// Username is the bot's own handle.
func (t *Telegram) Username() string {
	return t.api.Self.UserName
}

// Send implements Messenger.
func (t *Telegram) Send(ctx context.Context, msg Outgoing) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cfg := tgbotapi.NewMessage(msg.ChatID, msg.Text)
	cfg.ReplyToMessageID = msg.ReplyTo
	cfg.AllowSendingWithoutReply = true
	switch {
	case len(msg.Keyboard) > 0:
		rows := make([][]tgbotapi.KeyboardButton, 0, len(msg.Keyboard))
		for _, labels := range msg.Keyboard {
			buttons := make([]tgbotapi.KeyboardButton, 0, len(labels))
			for _, label := range labels {
				buttons = append(buttons, tgbotapi.NewKeyboardButton(label))
			}
			rows = append(rows, tgbotapi.NewKeyboardButtonRow(buttons...))
		}
		markup := tgbotapi.NewReplyKeyboard(rows...)
		markup.OneTimeKeyboard = true
		cfg.ReplyMarkup = markup
	case msg.RemoveKeyboard:
		cfg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	}

	sent, err := t.api.Send(cfg)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return sent.MessageID, nil
}

// Delete implements Messenger.
func (t *Telegram) Delete(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// Pin implements Messenger.
func (t *Telegram) Pin(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.api.Request(tgbotapi.PinChatMessageConfig{
		ChatID:              chatID,
		MessageID:           messageID,
		DisableNotification: true,
	})
	if err != nil {
		return fmt.Errorf("pin message: %w", err)
	}
	return nil
}

// Unpin implements Messenger.
func (t *Telegram) Unpin(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.api.Request(tgbotapi.UnpinChatMessageConfig{ChatID: chatID, MessageID: messageID})
	if err != nil {
		return fmt.Errorf("unpin message: %w", err)
	}
	return nil
}

// IsAdmin implements identity.RoleChecker: owners and administrators qualify.
func (t *Telegram) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	member, err := t.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil {
		return false, fmt.Errorf("get chat member: %w", err)
	}
	return member.IsCreator() || member.IsAdministrator(), nil
}

// updateTimeout bounds the handling of one update once it has been queued.
const updateTimeout = 30 * time.Second

// Poll long-polls for updates and hands each message to d, one at a time per
// chat, until ctx is done.
func (t *Telegram) Poll(ctx context.Context, d *Dispatcher, timeout int) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout
	updates := t.api.GetUpdatesChan(u)

	slog.Info("Telegram polling started", "bot", t.Username(), "timeout", timeout)
	serveUpdates(ctx, updates, d)
	t.api.StopReceivingUpdates()
}

// serveUpdates dispatches updates until ctx is done or the channel closes,
// then waits for queued updates to finish.
func serveUpdates(ctx context.Context, updates <-chan tgbotapi.Update, d *Dispatcher) {
	queue := newChatQueue(64)
	defer queue.Close()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Telegram polling stopped", "reason", ctx.Err())
			return
		case update, ok := <-updates:
			if !ok {
				slog.Warn("Telegram update channel closed")
				return
			}
			in, ok := incomingFromUpdate(update)
			if !ok {
				continue
			}
			queue.Submit(in.ChatID, func() {
				// Updates drained during shutdown still need to reach the chat.
				hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), updateTimeout)
				defer cancel()
				d.Handle(hctx, in)
			})
		}
	}
}

func incomingFromUpdate(update tgbotapi.Update) (Incoming, bool) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return Incoming{}, false
	}

	in := Incoming{
		ChatID:    msg.Chat.ID,
		Group:     msg.Chat.IsGroup() || msg.Chat.IsSuperGroup(),
		MessageID: msg.MessageID,
		From: identity.Member{
			UserID:    msg.From.ID,
			Username:  msg.From.UserName,
			FirstName: msg.From.FirstName,
		},
		Text: strings.TrimSpace(msg.Text),
	}
	in.Command, in.Args = ParseCommand(in.Text)
	if msg.ReplyToMessage != nil {
		in.ReplyTo = msg.ReplyToMessage.MessageID
	}
	return in, true
}
