package bot

import (
	"fmt"
	"strings"

	"github.com/ashureev/tutbot/internal/domain"
	"github.com/ashureev/tutbot/internal/tutorial"
)

// RenderBoard returns the pinned board text and its keyboard.
func RenderBoard(b tutorial.Board, width int) (string, Keyboard) {
	var text strings.Builder
	fmt.Fprintf(&text, "Questions for tutorial %s\n", b.SessionID)
	for _, slot := range b.Slots {
		fmt.Fprintf(&text, "Q%s - %s\n", slot.Label, slot.Holder)
	}

	buttons := append(append([]string(nil), b.Claimable...), domain.RemoveLabel)
	return text.String(), chunk(buttons, width)
}

// RenderLedger formats a ledger snapshot for a private message.
func RenderLedger(snap domain.LedgerSnapshot) string {
	if len(snap.Tallies) == 0 {
		return "No participation recorded yet."
	}

	var text strings.Builder
	text.WriteString("Questions attempted\n")
	for _, t := range snap.Tallies {
		fmt.Fprintf(&text, "%s: %d\n", t.Participant, t.Count)
	}
	for _, t := range snap.Tallies {
		fmt.Fprintf(&text, "\n%s\n", t.Participant)
		for _, e := range snap.History[t.Participant] {
			fmt.Fprintf(&text, "  %s: Q%s\n", e.Session, strings.Join(e.Labels, ", Q"))
		}
	}
	return text.String()
}

func chunk(items []string, width int) Keyboard {
	if width <= 0 {
		width = 3
	}
	var rows Keyboard
	for i := 0; i < len(items); i += width {
		end := min(i+width, len(items))
		rows = append(rows, append([]string(nil), items[i:end]...))
	}
	return rows
}
