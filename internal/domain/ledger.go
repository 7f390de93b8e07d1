package domain

import (
	"sort"
	"strings"
)

// HistoryEntry lists the labels one participant did in one session.
type HistoryEntry struct {
	Session string   `json:"session"`
	Labels  []string `json:"labels"`
}

// Joined renders the labels the way the chat shows them.
func (e HistoryEntry) Joined() string {
	return strings.Join(e.Labels, ", ")
}

// Tally is one participant's total claim count.
type Tally struct {
	Participant string `json:"participant"`
	Count       int    `json:"count"`
}

// Ledger accumulates participation across closed sessions of a chat.
// It only grows; the order slice remembers when each participant first appeared
// so that ties in Snapshot keep discovery order.
type Ledger struct {
	Frequency map[string]int            `json:"frequency"`
	History   map[string][]HistoryEntry `json:"history"`
	Order     []string                  `json:"order"`
}

// LedgerSnapshot is a read-only copy of a ledger.
type LedgerSnapshot struct {
	Tallies []Tally                   `json:"tallies"`
	History map[string][]HistoryEntry `json:"history"`
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		Frequency: make(map[string]int),
		History:   make(map[string][]HistoryEntry),
	}
}

// Record credits participant with label in sessionName.
func (l *Ledger) Record(sessionName, participant, label string) {
	if l.Frequency == nil {
		l.Frequency = make(map[string]int)
	}
	if l.History == nil {
		l.History = make(map[string][]HistoryEntry)
	}
	if _, seen := l.Frequency[participant]; !seen {
		l.Order = append(l.Order, participant)
	}
	l.Frequency[participant]++

	entries := l.History[participant]
	for i := range entries {
		if entries[i].Session == sessionName {
			entries[i].Labels = append(entries[i].Labels, label)
			return
		}
	}
	l.History[participant] = append(entries, HistoryEntry{Session: sessionName, Labels: []string{label}})
}

// Count returns participant's total.
func (l *Ledger) Count(participant string) int {
	return l.Frequency[participant]
}

// Entry returns participant's labels for sessionName.
func (l *Ledger) Entry(participant, sessionName string) (HistoryEntry, bool) {
	for _, e := range l.History[participant] {
		if e.Session == sessionName {
			return e, true
		}
	}
	return HistoryEntry{}, false
}

// Snapshot copies the ledger, tallies sorted by count descending.
func (l *Ledger) Snapshot() LedgerSnapshot {
	snap := LedgerSnapshot{
		Tallies: make([]Tally, 0, len(l.Order)),
		History: make(map[string][]HistoryEntry, len(l.History)),
	}
	for _, p := range l.Order {
		snap.Tallies = append(snap.Tallies, Tally{Participant: p, Count: l.Frequency[p]})
	}
	sort.SliceStable(snap.Tallies, func(i, j int) bool {
		return snap.Tallies[i].Count > snap.Tallies[j].Count
	})
	for p, entries := range l.History {
		copied := make([]HistoryEntry, len(entries))
		for i, e := range entries {
			copied[i] = HistoryEntry{Session: e.Session, Labels: append([]string(nil), e.Labels...)}
		}
		snap.History[p] = copied
	}
	return snap
}
