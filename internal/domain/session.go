package domain

import (
	"fmt"
	"strings"
)

// RemoveLabel is the keyboard entry students use to give up their question.
const RemoveLabel = "Remove"

// Session is one tutorial round: a fixed, ordered set of question slots and
// who currently holds each of them.
type Session struct {
	ID     string            `json:"id"`
	Labels []string          `json:"labels"`
	Slots  map[string]string `json:"slots"`
	Counts map[string]int    `json:"counts"`
}

// Slot is a label together with its holder ("" when unclaimed).
type Slot struct {
	Label  string `json:"label"`
	Holder string `json:"holder,omitempty"`
}

// NewSession validates the labels and returns a session with every slot unclaimed.
func NewSession(id string, labels []string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: session id is empty", ErrInvalidArgument)
	}

	seen := make(map[string]struct{}, len(labels))
	ordered := make([]string, 0, len(labels))
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			return nil, fmt.Errorf("%w: empty label", ErrInvalidArgument)
		}
		if label == RemoveLabel {
			return nil, fmt.Errorf("%w: %q is reserved", ErrInvalidArgument, RemoveLabel)
		}
		if _, dup := seen[label]; dup {
			return nil, fmt.Errorf("%w: duplicate label %q", ErrInvalidArgument, label)
		}
		seen[label] = struct{}{}
		ordered = append(ordered, label)
	}

	return &Session{
		ID:     id,
		Labels: ordered,
		Slots:  make(map[string]string, len(ordered)),
		Counts: make(map[string]int),
	}, nil
}

// Name is the display name the ledger files this session under.
func (s *Session) Name() string {
	return "Tut " + s.ID
}

// Has reports whether label is one of the session's slots.
func (s *Session) Has(label string) bool {
	for _, l := range s.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Holder returns who holds label, or "" if nobody does.
func (s *Session) Holder(label string) string {
	return s.Slots[label]
}

// ClaimCount returns how many slots participant holds in this session.
func (s *Session) ClaimCount(participant string) int {
	return s.Counts[participant]
}

// Claim takes label for participant under the self-service policy: at most one
// label per participant per session.
func (s *Session) Claim(label, participant string) error {
	if err := s.checkClaimable(label, participant); err != nil {
		return err
	}
	if s.Slots[label] == participant {
		return nil
	}
	if s.Counts[participant] > 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyClaimingElsewhere, participant)
	}
	s.assign(label, participant)
	return nil
}

// AdminClaim takes label for participant regardless of what else they hold.
func (s *Session) AdminClaim(label, participant string) error {
	if err := s.checkClaimable(label, participant); err != nil {
		return err
	}
	if s.Slots[label] == participant {
		return nil
	}
	s.assign(label, participant)
	return nil
}

// Unclaim releases the first label, in slot order, held by participant.
func (s *Session) Unclaim(participant string) (string, error) {
	for _, label := range s.Labels {
		if s.Slots[label] == participant && participant != "" {
			s.release(label, participant)
			return label, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNothingToRemove, participant)
}

// AdminUnclaim releases label only if participant currently holds it.
func (s *Session) AdminUnclaim(label, participant string) error {
	if !s.Has(label) {
		return fmt.Errorf("%w: %q", ErrNoSuchLabel, label)
	}
	if participant == "" || s.Slots[label] != participant {
		return fmt.Errorf("%w: %s does not hold %q", ErrNotHoldingThatLabel, participant, label)
	}
	s.release(label, participant)
	return nil
}

// Board lists every slot in display order.
func (s *Session) Board() []Slot {
	slots := make([]Slot, 0, len(s.Labels))
	for _, label := range s.Labels {
		slots = append(slots, Slot{Label: label, Holder: s.Slots[label]})
	}
	return slots
}

// Claimed lists held slots in display order.
func (s *Session) Claimed() []Slot {
	var slots []Slot
	for _, label := range s.Labels {
		if holder := s.Slots[label]; holder != "" {
			slots = append(slots, Slot{Label: label, Holder: holder})
		}
	}
	return slots
}

// Unclaimed lists free labels in display order.
func (s *Session) Unclaimed() []string {
	var labels []string
	for _, label := range s.Labels {
		if s.Slots[label] == "" {
			labels = append(labels, label)
		}
	}
	return labels
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := &Session{
		ID:     s.ID,
		Labels: append([]string(nil), s.Labels...),
		Slots:  make(map[string]string, len(s.Slots)),
		Counts: make(map[string]int, len(s.Counts)),
	}
	for k, v := range s.Slots {
		c.Slots[k] = v
	}
	for k, v := range s.Counts {
		c.Counts[k] = v
	}
	return c
}

func (s *Session) checkClaimable(label, participant string) error {
	if participant == "" {
		return fmt.Errorf("%w: empty participant", ErrInvalidArgument)
	}
	if !s.Has(label) {
		return fmt.Errorf("%w: %q", ErrNoSuchLabel, label)
	}
	if holder := s.Slots[label]; holder != "" && holder != participant {
		return fmt.Errorf("%w: %q is held by %s", ErrAlreadyClaimedByOther, label, holder)
	}
	return nil
}

func (s *Session) assign(label, participant string) {
	if s.Slots == nil {
		s.Slots = make(map[string]string)
	}
	if s.Counts == nil {
		s.Counts = make(map[string]int)
	}
	s.Slots[label] = participant
	s.Counts[participant]++
}

func (s *Session) release(label, participant string) {
	delete(s.Slots, label)
	s.Counts[participant]--
	if s.Counts[participant] <= 0 {
		delete(s.Counts, participant)
	}
}
