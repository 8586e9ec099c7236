package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/memory"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time      { return c.t }
func (c *fakeClock) add(d time.Duration) { c.t = c.t.Add(d) }

func newLimiterTest(t *testing.T, capacity int) (*Limiter, *memory.Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l, err := New(Config{MaxAttemptsPerHour: capacity}, WithClock(clock.now))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return l, memory.New(memory.WithClock(clock.now)), clock
}

func run(t *testing.T, s store.Store, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	if err := s.RunInTx(context.Background(), fn); err != nil {
		t.Fatalf("RunInTx failed: %v", err)
	}
}

func limited(t *testing.T, l *Limiter, s store.Store, id string) bool {
	t.Helper()
	var out bool
	run(t, s, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = l.IsLimited(ctx, tx, id)
		return err
	})
	return out
}

func fail(t *testing.T, l *Limiter, s store.Store, id string) {
	t.Helper()
	run(t, s, func(ctx context.Context, tx store.Tx) error {
		return l.RecordFailure(ctx, tx, id)
	})
}

func TestNoRecordNeverLimited(t *testing.T) {
	l, s, _ := newLimiterTest(t, 3)
	if limited(t, l, s, "a@example.com") {
		t.Fatal("expected fresh identifier to be unlimited")
	}
}

func TestLimitedAfterCapacityFailures(t *testing.T) {
	l, s, clock := newLimiterTest(t, 10)

	for i := 0; i < 10; i++ {
		if limited(t, l, s, "id") {
			t.Fatalf("limited after only %d failures", i)
		}
		fail(t, l, s, "id")
		clock.add(time.Second)
	}
	if !limited(t, l, s, "id") {
		t.Fatal("expected limit after 10 failures within the hour")
	}
}

func TestRefillPermitsExactlyOneMoreAttempt(t *testing.T) {
	l, s, clock := newLimiterTest(t, 10)

	for i := 0; i < 10; i++ {
		fail(t, l, s, "id")
	}
	if !limited(t, l, s, "id") {
		t.Fatal("expected limit")
	}

	// One unit refills every hour/capacity.
	clock.add(6 * time.Minute)
	if limited(t, l, s, "id") {
		t.Fatal("expected one refilled attempt")
	}
	fail(t, l, s, "id")
	if !limited(t, l, s, "id") {
		t.Fatal("expected limit after spending the refilled attempt")
	}
}

func TestRefillIsCappedAtCapacity(t *testing.T) {
	l, s, clock := newLimiterTest(t, 4)

	fail(t, l, s, "id")
	clock.add(48 * time.Hour)

	run(t, s, func(ctx context.Context, tx store.Tx) error {
		state, err := l.Load(ctx, tx, "id")
		if err != nil {
			return err
		}
		if state == nil || state.AttemptsLeft != 4 {
			t.Fatalf("expected capped budget of 4, got %+v", state)
		}
		return nil
	})

	for i := 0; i < 4; i++ {
		fail(t, l, s, "id")
	}
	if !limited(t, l, s, "id") {
		t.Fatal("a long idle period must not bank more than capacity")
	}
}

func TestResetClearsState(t *testing.T) {
	l, s, _ := newLimiterTest(t, 2)

	fail(t, l, s, "id")
	fail(t, l, s, "id")
	if !limited(t, l, s, "id") {
		t.Fatal("expected limit")
	}

	run(t, s, func(ctx context.Context, tx store.Tx) error { return l.Reset(ctx, tx, "id") })
	if limited(t, l, s, "id") {
		t.Fatal("expected reset to clear limit")
	}
	if n := s.Len(store.TableRateLimits); n != 0 {
		t.Fatalf("expected record deleted, found %d", n)
	}
	run(t, s, func(ctx context.Context, tx store.Tx) error { return l.Reset(ctx, tx, "id") })
}

func TestCheckReturnsSentinel(t *testing.T) {
	l, s, _ := newLimiterTest(t, 1)
	fail(t, l, s, "id")

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return l.Check(ctx, tx, "id")
	})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestIdentifiersAreIndependent(t *testing.T) {
	l, s, _ := newLimiterTest(t, 1)
	fail(t, l, s, "a")
	if limited(t, l, s, "b") {
		t.Fatal("failures for one identifier must not affect another")
	}
}

func TestNewRejectsNegativeCapacity(t *testing.T) {
	if _, err := New(Config{MaxAttemptsPerHour: -1}); !errors.Is(err, ErrInvalidCapacity) {
		t.Fatalf("expected ErrInvalidCapacity, got %v", err)
	}
}
