package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/tutbot/internal/domain"
	"github.com/ashureev/tutbot/internal/identity"
	"github.com/ashureev/tutbot/internal/tutorial"
)

const (
	groupID int64 = -1001
	adminID int64 = 1
	aliceID int64 = 2
	bobID   int64 = 3
)

type memRepo struct {
	mu    sync.Mutex
	chats map[int64]*domain.Chat
}

func (m *memRepo) GetChat(_ context.Context, chatID int64) (*domain.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.chats[chatID]; c != nil {
		return c.Clone(), nil
	}
	return nil, nil
}

func (m *memRepo) UpsertChat(_ context.Context, chat *domain.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[chat.ChatID] = chat.Clone()
	return nil
}

func (m *memRepo) DeleteChat(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, chatID)
	return nil
}

func (m *memRepo) ListChatIDs(_ context.Context) ([]int64, error) { return nil, nil }
func (m *memRepo) Ping(_ context.Context) error                  { return nil }
func (m *memRepo) Close() error                                  { return nil }

type sentMessage struct {
	ID int
	Outgoing
}

type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentMessage
	deleted []int
	pinned  []int
	unpin   []int
	failDM  bool
}

func (f *fakeMessenger) Send(ctx context.Context, msg Outgoing) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDM && msg.ChatID > 0 {
		return 0, errors.New("bot was blocked by the user")
	}
	f.nextID++
	id := 1000 + f.nextID
	f.sent = append(f.sent, sentMessage{ID: id, Outgoing: msg})
	return id, nil
}

func (f *fakeMessenger) Delete(_ context.Context, _ int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeMessenger) Pin(_ context.Context, _ int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinned = append(f.pinned, messageID)
	return nil
}

func (f *fakeMessenger) Unpin(_ context.Context, _ int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unpin = append(f.unpin, messageID)
	return nil
}

func (f *fakeMessenger) last() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMessage{}
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeMessenger) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Text)
	}
	return out
}

func (f *fakeMessenger) wasDeleted(id int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deleted {
		if d == id {
			return true
		}
	}
	return false
}

type staticRoles map[int64]bool

func (r staticRoles) IsAdmin(_ context.Context, _, userID int64) (bool, error) {
	return r[userID], nil
}

type harness struct {
	t       *testing.T
	svc     *tutorial.Service
	msgr    *fakeMessenger
	d       *Dispatcher
	msgID   int
	notices []int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	svc := tutorial.NewService(&memRepo{chats: make(map[int64]*domain.Chat)})
	msgr := &fakeMessenger{}
	h := &harness{t: t, svc: svc, msgr: msgr}
	h.d = NewDispatcher(svc, msgr, staticRoles{adminID: true}, time.Second, 3, nil)
	h.d.deleteAfter = func(_ int64, messageID int, _ time.Duration) {
		h.notices = append(h.notices, messageID)
	}
	return h
}

func (h *harness) command(from int64, text string) int {
	h.t.Helper()
	h.msgID++
	cmd, args := ParseCommand(text)
	h.d.Handle(context.Background(), Incoming{
		ChatID:    groupID,
		Group:     true,
		MessageID: h.msgID,
		From:      member(from),
		Text:      text,
		Command:   cmd,
		Args:      args,
	})
	return h.msgID
}

func (h *harness) replyToBoard(from int64, text string) int {
	h.t.Helper()
	board, err := h.svc.BoardMessage(context.Background(), groupID)
	if err != nil {
		h.t.Fatal(err)
	}
	h.msgID++
	h.d.Handle(context.Background(), Incoming{
		ChatID:    groupID,
		Group:     true,
		MessageID: h.msgID,
		From:      member(from),
		Text:      text,
		ReplyTo:   board,
	})
	return h.msgID
}

func member(id int64) identity.Member {
	switch id {
	case adminID:
		return identity.Member{UserID: id, Username: "prof"}
	case aliceID:
		return identity.Member{UserID: id, Username: "alice"}
	default:
		return identity.Member{UserID: id, Username: "bob"}
	}
}

func TestStartRequiresAdmin(t *testing.T) {
	h := newHarness(t)

	h.command(aliceID, "/start")
	if got := h.msgr.last().Text; got != msgNotPermitted {
		t.Fatalf("expected not permitted, got %q", got)
	}

	id := h.command(adminID, "/start")
	if got := h.msgr.last().Text; got != msgReady {
		t.Fatalf("expected ready message, got %q", got)
	}
	if !h.msgr.wasDeleted(id) {
		t.Fatal("expected the command message to be deleted")
	}

	h.command(adminID, "/start")
	if got := h.msgr.last().Text; got != "Bot is already initialized" {
		t.Fatalf("expected already initialized, got %q", got)
	}
}

func TestNewShowsAndPinsBoard(t *testing.T) {
	h := newHarness(t)
	h.command(adminID, "/start")
	h.command(adminID, "/new 5 1 2 3 4")

	board := h.msgr.last()
	if !strings.HasPrefix(board.Text, "Questions for tutorial 5\n") {
		t.Fatalf("unexpected board text %q", board.Text)
	}
	want := Keyboard{{"1", "2", "3"}, {"4", domain.RemoveLabel}}
	if len(board.Keyboard) != 2 || len(board.Keyboard[0]) != 3 || board.Keyboard[1][1] != want[1][1] {
		t.Fatalf("unexpected keyboard %v", board.Keyboard)
	}
	if len(h.msgr.pinned) != 1 || h.msgr.pinned[0] != board.ID {
		t.Fatalf("expected board %d to be pinned, got %v", board.ID, h.msgr.pinned)
	}
}

func TestClaimFlow(t *testing.T) {
	h := newHarness(t)
	h.command(adminID, "/start")
	h.command(adminID, "/new 5 1 2 3")
	firstBoard := h.msgr.last().ID

	h.replyToBoard(aliceID, "2")
	texts := h.msgr.texts()
	if !contains(texts, "Successfully picked question 2!") {
		t.Fatalf("expected success notice, got %v", texts)
	}
	newBoard := h.msgr.last()
	if !strings.Contains(newBoard.Text, "Q2 - alice") {
		t.Fatalf("expected alice on board, got %q", newBoard.Text)
	}
	if !h.msgr.wasDeleted(firstBoard) {
		t.Fatal("expected the previous board to be deleted")
	}

	h.replyToBoard(bobID, "2")
	// "2" is no longer claimable, so bob's message is ignored entirely.
	if h.msgr.last().ID != newBoard.ID {
		t.Fatal("expected no reply to a label outside the projection")
	}

	h.replyToBoard(aliceID, "3")
	if got := h.msgr.last().Text; got != "You have already attempted a question!" {
		t.Fatalf("expected one-question notice, got %q", got)
	}
}

func TestClaimMustReplyToBoard(t *testing.T) {
	h := newHarness(t)
	h.command(adminID, "/start")
	h.command(adminID, "/new 5 1 2")
	before := len(h.msgr.texts())

	h.msgID++
	h.d.Handle(context.Background(), Incoming{
		ChatID: groupID, Group: true, MessageID: h.msgID, From: member(aliceID), Text: "1",
	})
	if len(h.msgr.texts()) != before {
		t.Fatal("messages not replying to the board must be ignored")
	}
	b, _ := h.svc.Board(context.Background(), groupID)
	if b.Slots[0].Holder != "" {
		t.Fatal("claim must not be applied")
	}
}

func TestRemoveFlow(t *testing.T) {
	h := newHarness(t)
	h.command(adminID, "/start")
	h.command(adminID, "/new 5 1 2")

	h.replyToBoard(aliceID, domain.RemoveLabel)
	if got := h.msgr.last().Text; got != "You have not picked a question" {
		t.Fatalf("unexpected reply %q", got)
	}

	h.replyToBoard(aliceID, "1")
	h.replyToBoard(aliceID, domain.RemoveLabel)
	if !contains(h.msgr.texts(), "Removed your name successfully") {
		t.Fatal("expected removal notice")
	}
	if !strings.Contains(h.msgr.last().Text, "Q1 - \n") {
		t.Fatalf("expected question 1 to be free, got %q", h.msgr.last().Text)
	}
}

func TestEndFoldsIntoLedgerAndShowAttempts(t *testing.T) {
	h := newHarness(t)
	h.command(adminID, "/start")
	h.command(adminID, "/new 5 1 2 3")
	h.replyToBoard(aliceID, "2")
	h.command(adminID, "/end")

	end := h.msgr.last()
	if end.Text != "Tutorial 5 has ended" || !end.RemoveKeyboard {
		t.Fatalf("unexpected end message %+v", end)
	}

	h.command(adminID, "/end")
	if got := h.msgr.last().Text; got != "No tutorial session right now" {
		t.Fatalf("expected no session notice, got %q", got)
	}

	h.command(adminID, "/show_attempts")
	var dm sentMessage
	for _, m := range h.msgr.sent {
		if m.ChatID == adminID {
			dm = m
		}
	}
	if !strings.Contains(dm.Text, "alice: 1") || !strings.Contains(dm.Text, "Tut 5: Q2") {
		t.Fatalf("unexpected attempts message %q", dm.Text)
	}
}

func TestShowAttemptsWithoutPrivateChat(t *testing.T) {
	h := newHarness(t)
	h.msgr.failDM = true
	h.command(adminID, "/start")
	h.command(adminID, "/show_attempts")
	if got := h.msgr.last().Text; got != msgDMFailed {
		t.Fatalf("expected DM failure notice, got %q", got)
	}
}

func TestAssignAndUnassign(t *testing.T) {
	h := newHarness(t)
	h.command(adminID, "/start")
	h.command(adminID, "/new 5 1 2 3")
	h.replyToBoard(aliceID, "3")

	h.command(adminID, "/assign @alice 1")
	if !strings.Contains(h.msgr.last().Text, "Q1 - alice") {
		t.Fatalf("expected alice on question 1, got %q", h.msgr.last().Text)
	}

	h.command(adminID, "/unassign bob 1")
	if got := h.msgr.last().Text; got != "That person is not doing that question" {
		t.Fatalf("unexpected reply %q", got)
	}

	h.command(adminID, "/unassign alice 3")
	if !strings.Contains(h.msgr.last().Text, "Q3 - \n") {
		t.Fatalf("expected question 3 to be free, got %q", h.msgr.last().Text)
	}

	h.command(adminID, "/assign alice")
	if got := h.msgr.last().Text; got != msgUsageAssign {
		t.Fatalf("expected usage, got %q", got)
	}

	h.command(adminID, "/end")
	snap, err := h.svc.Snapshot(context.Background(), groupID)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Tallies) != 1 || snap.Tallies[0].Count != 1 {
		t.Fatalf("unexpected tallies %+v", snap.Tallies)
	}
}

func TestNewValidatesLabels(t *testing.T) {
	h := newHarness(t)
	h.command(adminID, "/start")

	h.command(adminID, "/new 5 1 1")
	if got := h.msgr.last().Text; !strings.HasPrefix(got, "Question numbers must be distinct") {
		t.Fatalf("unexpected reply %q", got)
	}

	h.command(adminID, "/new")
	if got := h.msgr.last().Text; got != msgUsageNew {
		t.Fatalf("expected usage, got %q", got)
	}
}

func TestNewBeforeStart(t *testing.T) {
	h := newHarness(t)
	h.command(adminID, "/new 5 1")
	if got := h.msgr.last().Text; !strings.Contains(got, "/start") {
		t.Fatalf("expected hint to run /start, got %q", got)
	}
}

func TestNewEndsPreviousTutorial(t *testing.T) {
	h := newHarness(t)
	h.command(adminID, "/start")
	h.command(adminID, "/new 5 1")
	h.replyToBoard(aliceID, "1")
	h.command(adminID, "/new 6 1 2")

	if !contains(h.msgr.texts(), "Tutorial 5 has ended") {
		t.Fatal("expected previous tutorial to be announced as ended")
	}
	snap, _ := h.svc.Snapshot(context.Background(), groupID)
	if len(snap.Tallies) != 1 || snap.Tallies[0].Participant != "alice" {
		t.Fatalf("expected alice credited, got %+v", snap.Tallies)
	}
}

func TestAdminCommandsOnlyInGroups(t *testing.T) {
	h := newHarness(t)
	h.msgID++
	h.d.Handle(context.Background(), Incoming{
		ChatID: adminID, MessageID: h.msgID, From: member(adminID), Text: "/start", Command: "start",
	})
	if got := h.msgr.last().Text; got != msgNotPermitted {
		t.Fatalf("expected not permitted in private chat, got %q", got)
	}
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t)
	h.command(aliceID, "/dance")
	last := h.msgr.last()
	if last.Text != msgUnknown {
		t.Fatalf("unexpected reply %q", last.Text)
	}
	if len(h.notices) == 0 || h.notices[len(h.notices)-1] != last.ID {
		t.Fatal("expected unknown-command reply to be transient")
	}
}

func TestResetClearsBoard(t *testing.T) {
	h := newHarness(t)
	h.command(adminID, "/start")
	h.command(adminID, "/new 5 1")
	board := h.msgr.last().ID

	h.command(adminID, "/reset")
	if !h.msgr.wasDeleted(board) {
		t.Fatal("expected board to be removed on reset")
	}
	h.command(adminID, "/new 6 1")
	if !strings.Contains(h.msgr.last().Text, "/start") {
		t.Fatalf("expected chat to need /start again, got %q", h.msgr.last().Text)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
