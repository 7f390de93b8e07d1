package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingChecker struct {
	calls int
	admin bool
	err   error
}

func (c *countingChecker) IsAdmin(_ context.Context, _, _ int64) (bool, error) {
	c.calls++
	return c.admin, c.err
}

func TestParticipant(t *testing.T) {
	tests := []struct {
		member Member
		want   string
	}{
		{Member{UserID: 1, Username: "alice"}, "alice"},
		{Member{UserID: 1, Username: "@alice "}, "alice"},
		{Member{UserID: 2, FirstName: "Bob"}, "Bob"},
		{Member{UserID: 3}, "user3"},
	}
	for _, tt := range tests {
		if got := tt.member.Participant(); got != tt.want {
			t.Errorf("Participant(%+v) = %q, want %q", tt.member, got, tt.want)
		}
	}
}

func TestCachedRoleCheckerCaches(t *testing.T) {
	next := &countingChecker{admin: true}
	c := NewCachedRoleChecker(next, time.Minute)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		admin, err := c.IsAdmin(context.Background(), 1, 2)
		if err != nil || !admin {
			t.Fatalf("expected admin, got %v %v", admin, err)
		}
	}
	if next.calls != 1 {
		t.Fatalf("expected one lookup, got %d", next.calls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := c.IsAdmin(context.Background(), 1, 2); err != nil {
		t.Fatal(err)
	}
	if next.calls != 2 {
		t.Fatalf("expected expired entry to be refreshed, got %d lookups", next.calls)
	}

	c.Forget(1)
	if _, err := c.IsAdmin(context.Background(), 1, 2); err != nil {
		t.Fatal(err)
	}
	if next.calls != 3 {
		t.Fatalf("expected forgotten entry to be refreshed, got %d lookups", next.calls)
	}
}

func TestCachedRoleCheckerDoesNotCacheErrors(t *testing.T) {
	next := &countingChecker{err: errors.New("timeout")}
	c := NewCachedRoleChecker(next, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := c.IsAdmin(context.Background(), 1, 2); err == nil {
			t.Fatal("expected error")
		}
	}
	if next.calls != 2 {
		t.Fatalf("expected errors to bypass cache, got %d lookups", next.calls)
	}
}
