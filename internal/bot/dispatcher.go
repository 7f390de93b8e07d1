package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/tutbot/internal/domain"
	"github.com/ashureev/tutbot/internal/identity"
	"github.com/ashureev/tutbot/internal/tutorial"
)

// Dispatcher routes incoming messages to tutorial operations.
type Dispatcher struct {
	svc       *tutorial.Service
	msgr      Messenger
	roles     identity.RoleChecker
	noticeTTL time.Duration
	width     int
	logger    *slog.Logger

	// deleteAfter removes a message once ttl has passed.
	deleteAfter func(chatID int64, messageID int, ttl time.Duration)
}

// NewDispatcher creates a dispatcher. Transient replies are removed after
// noticeTTL; keyboards are laid out width buttons per row.
func NewDispatcher(svc *tutorial.Service, msgr Messenger, roles identity.RoleChecker, noticeTTL time.Duration, width int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		svc:       svc,
		msgr:      msgr,
		roles:     roles,
		noticeTTL: noticeTTL,
		width:     width,
		logger:    logger,
	}
	d.deleteAfter = d.scheduleDelete
	return d
}

// Handle processes one message. Errors are reported to the chat and logged;
// nothing is returned to the caller.
func (d *Dispatcher) Handle(ctx context.Context, in Incoming) {
	if in.IsCommand() {
		d.handleCommand(ctx, in)
		return
	}
	d.handleText(ctx, in)
}

func (d *Dispatcher) handleCommand(ctx context.Context, in Incoming) {
	log := d.logger.With("chat_id", in.ChatID, "command", in.Command, "user_id", in.From.UserID)
	log.Debug("Command received", "args", in.Args)

	switch in.Command {
	case "start":
		d.adminOnly(ctx, in, d.cmdStart)
	case "new":
		d.adminOnly(ctx, in, d.cmdNew)
	case "end":
		d.adminOnly(ctx, in, d.cmdEnd)
	case "assign":
		d.adminOnly(ctx, in, d.cmdAssign)
	case "unassign":
		d.adminOnly(ctx, in, d.cmdUnassign)
	case "show_attempts":
		d.adminOnly(ctx, in, d.cmdShowAttempts)
	case "save":
		d.adminOnly(ctx, in, d.cmdSave)
	case "reset":
		d.adminOnly(ctx, in, d.cmdReset)
	case "help":
		d.reply(ctx, in, msgHelp)
	default:
		d.notice(ctx, in, msgUnknown)
	}

	d.deleteIncoming(ctx, in)
}

// adminOnly runs fn when the sender administers the group chat.
func (d *Dispatcher) adminOnly(ctx context.Context, in Incoming, fn func(context.Context, Incoming)) {
	if err := d.authorize(ctx, in); err != nil {
		if !errors.Is(err, domain.ErrNotAuthorized) {
			d.logger.Error("Admin lookup failed", "chat_id", in.ChatID, "user_id", in.From.UserID, "error", err)
		}
		d.notice(ctx, in, msgNotPermitted)
		return
	}
	fn(ctx, in)
}

func (d *Dispatcher) authorize(ctx context.Context, in Incoming) error {
	if !in.Group {
		d.logger.Warn("Admin commands are only available in group chats", "chat_id", in.ChatID)
		return domain.ErrNotAuthorized
	}
	admin, err := d.roles.IsAdmin(ctx, in.ChatID, in.From.UserID)
	if err != nil {
		return fmt.Errorf("check admin: %w", err)
	}
	if !admin {
		return domain.ErrNotAuthorized
	}
	return nil
}

func (d *Dispatcher) cmdStart(ctx context.Context, in Incoming) {
	if err := d.svc.Initialize(ctx, in.ChatID); err != nil {
		d.fail(ctx, in, err)
		return
	}
	d.logger.Info("Chat initialized", "chat_id", in.ChatID)
	d.reply(ctx, in, msgReady)
}

func (d *Dispatcher) cmdNew(ctx context.Context, in Incoming) {
	if len(in.Args) == 0 {
		d.notice(ctx, in, msgUsageNew)
		return
	}
	sessionID, labels := in.Args[0], in.Args[1:]

	closed, err := d.svc.OpenSession(ctx, in.ChatID, sessionID, labels)
	if err != nil {
		d.fail(ctx, in, err)
		return
	}
	if closed != nil {
		d.announceEnd(ctx, in, closed)
	}
	d.logger.Info("Tutorial opened", "chat_id", in.ChatID, "session_id", sessionID, "questions", len(labels))
	d.showBoard(ctx, in)
}

func (d *Dispatcher) cmdEnd(ctx context.Context, in Incoming) {
	closed, err := d.svc.CloseSession(ctx, in.ChatID)
	if err != nil {
		d.fail(ctx, in, err)
		return
	}
	d.announceEnd(ctx, in, closed)
}

func (d *Dispatcher) cmdAssign(ctx context.Context, in Incoming) {
	if len(in.Args) != 2 {
		d.notice(ctx, in, msgUsageAssign)
		return
	}
	participant, label := identity.NormalizeHandle(in.Args[0]), in.Args[1]
	if err := d.svc.AdminAssign(ctx, in.ChatID, label, participant); err != nil {
		d.fail(ctx, in, err)
		return
	}
	d.notice(ctx, in, fmt.Sprintf("Assigned question %s to %s", label, participant))
	d.showBoard(ctx, in)
}

func (d *Dispatcher) cmdUnassign(ctx context.Context, in Incoming) {
	if len(in.Args) != 2 {
		d.notice(ctx, in, msgUsageUnassign)
		return
	}
	participant, label := identity.NormalizeHandle(in.Args[0]), in.Args[1]
	if err := d.svc.AdminUnassign(ctx, in.ChatID, label, participant); err != nil {
		d.fail(ctx, in, err)
		return
	}
	d.notice(ctx, in, fmt.Sprintf("Removed %s from question %s", participant, label))
	d.showBoard(ctx, in)
}

func (d *Dispatcher) cmdShowAttempts(ctx context.Context, in Incoming) {
	snap, err := d.svc.Snapshot(ctx, in.ChatID)
	if err != nil {
		d.fail(ctx, in, err)
		return
	}
	if _, err := d.msgr.Send(ctx, Outgoing{ChatID: in.From.UserID, Text: RenderLedger(snap)}); err != nil {
		d.logger.Warn("Failed to send attempts privately", "chat_id", in.ChatID, "user_id", in.From.UserID, "error", err)
		d.notice(ctx, in, msgDMFailed)
		return
	}
	d.notice(ctx, in, msgCheckDM)
}

func (d *Dispatcher) cmdSave(ctx context.Context, in Incoming) {
	if err := d.svc.Flush(ctx, in.ChatID); err != nil {
		d.logger.Error("On-demand save failed", "chat_id", in.ChatID, "error", err)
		d.notice(ctx, in, errorMessage(err))
		return
	}
	d.notice(ctx, in, msgSaved)
}

func (d *Dispatcher) cmdReset(ctx context.Context, in Incoming) {
	prev, err := d.svc.BoardMessage(ctx, in.ChatID)
	if err != nil {
		d.fail(ctx, in, err)
		return
	}
	if err := d.svc.Reset(ctx, in.ChatID); err != nil {
		d.fail(ctx, in, err)
		return
	}
	if prev != 0 {
		d.retireBoard(ctx, in.ChatID, prev)
	}
	if forgetter, ok := d.roles.(interface{ Forget(int64) }); ok {
		forgetter.Forget(in.ChatID)
	}
	d.logger.Info("Chat reset", "chat_id", in.ChatID)
	_, _ = d.send(ctx, Outgoing{ChatID: in.ChatID, Text: msgReset, RemoveKeyboard: true})
}

// handleText treats a plain message as a claim or removal when it names a
// claimable label and replies to the current board.
func (d *Dispatcher) handleText(ctx context.Context, in Incoming) {
	projection, err := d.svc.Projection(ctx, in.ChatID)
	if err != nil {
		d.logger.Error("Failed to load projection", "chat_id", in.ChatID, "error", err)
		return
	}
	if !projection.Contains(in.Text) {
		return
	}

	boardID, err := d.svc.BoardMessage(ctx, in.ChatID)
	if err != nil {
		d.logger.Error("Failed to load board message", "chat_id", in.ChatID, "error", err)
		return
	}
	if boardID == 0 || in.ReplyTo != boardID {
		return
	}

	participant := in.From.Participant()
	if projection.IsRemove(in.Text) {
		label, err := d.svc.Unclaim(ctx, in.ChatID, participant)
		if err != nil {
			d.fail(ctx, in, err)
		} else {
			d.logger.Info("Question released", "chat_id", in.ChatID, "participant", participant, "label", label)
			d.notice(ctx, in, "Removed your name successfully")
			d.showBoard(ctx, in)
		}
		d.deleteIncoming(ctx, in)
		return
	}

	if err := d.svc.Claim(ctx, in.ChatID, in.Text, participant); err != nil {
		d.fail(ctx, in, err)
	} else {
		d.logger.Info("Question claimed", "chat_id", in.ChatID, "participant", participant, "label", in.Text)
		d.notice(ctx, in, fmt.Sprintf("Successfully picked question %s!", in.Text))
		d.showBoard(ctx, in)
	}
	d.deleteIncoming(ctx, in)
}

// showBoard sends and pins a fresh board, retiring the previous one.
func (d *Dispatcher) showBoard(ctx context.Context, in Incoming) {
	board, err := d.svc.Board(ctx, in.ChatID)
	if err != nil {
		d.logger.Error("Failed to load board", "chat_id", in.ChatID, "error", err)
		return
	}
	if !board.Active {
		return
	}

	text, keyboard := RenderBoard(board, d.width)
	id, err := d.send(ctx, Outgoing{ChatID: in.ChatID, Text: text, ReplyTo: in.MessageID, Keyboard: keyboard})
	if err != nil {
		return
	}

	prev, err := d.svc.SetBoardMessage(ctx, in.ChatID, id)
	if err != nil {
		d.logger.Error("Failed to record board message", "chat_id", in.ChatID, "error", err)
		return
	}
	if prev != 0 && prev != id {
		d.retireBoard(ctx, in.ChatID, prev)
	}
	if err := d.msgr.Pin(ctx, in.ChatID, id); err != nil {
		d.logger.Warn("Failed to pin board", "chat_id", in.ChatID, "message_id", id, "error", err)
	}
}

func (d *Dispatcher) retireBoard(ctx context.Context, chatID int64, messageID int) {
	if err := d.msgr.Unpin(ctx, chatID, messageID); err != nil {
		d.logger.Debug("Failed to unpin old board", "chat_id", chatID, "message_id", messageID, "error", err)
	}
	if err := d.msgr.Delete(ctx, chatID, messageID); err != nil {
		d.logger.Debug("Failed to delete old board", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}

func (d *Dispatcher) announceEnd(ctx context.Context, in Incoming, closed *domain.ClosedSession) {
	d.logger.Info("Tutorial ended", "chat_id", in.ChatID, "session_id", closed.ID, "claimed", len(closed.Claimed))
	_, _ = d.send(ctx, Outgoing{
		ChatID:         in.ChatID,
		Text:           fmt.Sprintf("Tutorial %s has ended", closed.ID),
		RemoveKeyboard: true,
	})
}

// fail reports err to the chat as a transient notice.
func (d *Dispatcher) fail(ctx context.Context, in Incoming, err error) {
	d.logger.Debug("Operation rejected", "chat_id", in.ChatID, "user_id", in.From.UserID, "error", err)
	d.notice(ctx, in, errorMessage(err))
}

// reply sends a lasting reply to the message.
func (d *Dispatcher) reply(ctx context.Context, in Incoming, text string) {
	_, _ = d.send(ctx, Outgoing{ChatID: in.ChatID, Text: text, ReplyTo: in.MessageID})
}

// notice sends a reply that removes itself after noticeTTL.
func (d *Dispatcher) notice(ctx context.Context, in Incoming, text string) {
	id, err := d.send(ctx, Outgoing{ChatID: in.ChatID, Text: text, ReplyTo: in.MessageID})
	if err != nil {
		return
	}
	d.deleteAfter(in.ChatID, id, d.noticeTTL)
}

func (d *Dispatcher) send(ctx context.Context, msg Outgoing) (int, error) {
	id, err := d.msgr.Send(ctx, msg)
	if err != nil {
		d.logger.Warn("Failed to send message", "chat_id", msg.ChatID, "error", err)
		return 0, err
	}
	return id, nil
}

func (d *Dispatcher) deleteIncoming(ctx context.Context, in Incoming) {
	if err := d.msgr.Delete(ctx, in.ChatID, in.MessageID); err != nil {
		d.logger.Debug("Failed to delete incoming message", "chat_id", in.ChatID, "message_id", in.MessageID, "error", err)
	}
}

func (d *Dispatcher) scheduleDelete(chatID int64, messageID int, ttl time.Duration) {
	remove := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.msgr.Delete(ctx, chatID, messageID); err != nil {
			d.logger.Debug("Failed to delete notice", "chat_id", chatID, "message_id", messageID, "error", err)
		}
	}
	if ttl <= 0 {
		remove()
		return
	}
	time.AfterFunc(ttl, remove)
}
