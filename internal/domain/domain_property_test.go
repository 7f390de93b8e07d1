package domain

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type boardOp struct {
	Kind        int
	Label       string
	Participant string
}

func genBoardOp() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 3),
		gen.IntRange(1, 5),
		gen.OneConstOf("alice", "bob", "carol", "dave"),
	).Map(func(values []interface{}) boardOp {
		return boardOp{
			Kind:        values[0].(int),
			Label:       fmt.Sprint(values[1].(int)),
			Participant: values[2].(string),
		}
	})
}

func applyBoardOp(c *Chat, op boardOp) {
	switch op.Kind {
	case 0:
		_ = c.Claim(op.Label, op.Participant)
	case 1:
		_, _ = c.Unclaim(op.Participant)
	case 2:
		_ = c.AdminAssign(op.Label, op.Participant)
	case 3:
		_ = c.AdminUnassign(op.Label, op.Participant)
	}
}

func countsMatchSlots(s *Session) bool {
	held := make(map[string]int)
	for _, label := range s.Labels {
		if holder := s.Slots[label]; holder != "" {
			held[holder]++
		}
	}
	for p, n := range s.Counts {
		if n <= 0 || held[p] != n {
			return false
		}
	}
	return len(held) == len(s.Counts)
}

func ledgerConsistent(l *Ledger) bool {
	for p, n := range l.Frequency {
		total := 0
		for _, e := range l.History[p] {
			total += len(e.Labels)
		}
		if total != n {
			return false
		}
	}
	return len(l.Frequency) == len(l.History) && len(l.Order) == len(l.Frequency)
}

func TestProperty_BoardAndLedgerInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("claim counts always mirror slot holders", prop.ForAll(
		func(ops []boardOp) bool {
			c := NewChat(1)
			_ = c.Initialize()
			if _, err := c.OpenSession("1", []string{"1", "2", "3", "4"}); err != nil {
				return false
			}
			for _, op := range ops {
				applyBoardOp(c, op)
				if !countsMatchSlots(c.Active) {
					return false
				}
				p := c.Projection()
				for _, label := range c.Active.Labels {
					if p.Contains(label) != (c.Active.Holder(label) == "") {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(genBoardOp()),
	))

	properties.Property("ledger frequency equals recorded labels across sessions", prop.ForAll(
		func(rounds [][]boardOp) bool {
			c := NewChat(1)
			_ = c.Initialize()
			claimed := 0
			for i, ops := range rounds {
				if _, err := c.OpenSession(fmt.Sprint(i), []string{"1", "2", "3", "4", "5"}); err != nil {
					return false
				}
				for _, op := range ops {
					applyBoardOp(c, op)
				}
				claimed += len(c.Active.Claimed())
			}
			if c.Active != nil {
				if _, err := c.CloseSession(); err != nil {
					return false
				}
			}
			total := 0
			for _, n := range c.Ledger.Frequency {
				total += n
			}
			return total == claimed && ledgerConsistent(c.Ledger)
		},
		gen.SliceOf(gen.SliceOf(genBoardOp())),
	))

	properties.Property("self-service never holds more than one label", prop.ForAll(
		func(ops []boardOp) bool {
			c := NewChat(1)
			_ = c.Initialize()
			_, _ = c.OpenSession("1", []string{"1", "2", "3", "4", "5"})
			for _, op := range ops {
				if op.Kind == 0 {
					_ = c.Claim(op.Label, op.Participant)
				} else {
					_, _ = c.Unclaim(op.Participant)
				}
				for _, n := range c.Active.Counts {
					if n > 1 {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(genBoardOp()),
	))

	properties.TestingRun(t)
}
