package rate

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/MrEthical07/authcore/store"
)

const refillPeriod = time.Hour

// DefaultMaxAttemptsPerHour is the budget used when Config leaves it unset.
const DefaultMaxAttemptsPerHour = 10

// Config holds rate limiter tuning parameters.
type Config struct {
	MaxAttemptsPerHour int
}

// Limiter enforces a per-identifier failed-attempt budget stored in the
// authRateLimits table.
type Limiter struct {
	capacity float64
	now      func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a [Limiter]. A zero MaxAttemptsPerHour selects the default.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	capacity := cfg.MaxAttemptsPerHour
	if capacity == 0 {
		capacity = DefaultMaxAttemptsPerHour
	}
	if capacity < 0 {
		return nil, ErrInvalidCapacity
	}
	l := &Limiter{capacity: float64(capacity), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// State is the refilled view of an identifier's budget.
type State struct {
	ID           string
	AttemptsLeft float64
}

// Load returns the refilled budget, or nil when the identifier has never
// failed.
func (l *Limiter) Load(ctx context.Context, tx store.Tx, identifier string) (*State, error) {
	rec, err := store.First[store.RateLimit](ctx, tx, store.TableRateLimits, store.IndexIdentifier, identifier)
	if err != nil {
		return nil, fmt.Errorf("load rate limit: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	elapsed := float64(l.now().UnixMilli() - rec.LastAttemptTime)
	if elapsed < 0 {
		elapsed = 0
	}
	refilled := rec.AttemptsLeft + elapsed*l.capacity/float64(refillPeriod.Milliseconds())
	return &State{ID: rec.ID, AttemptsLeft: math.Min(l.capacity, refilled)}, nil
}

// IsLimited reports whether identifier has less than one attempt left.
func (l *Limiter) IsLimited(ctx context.Context, tx store.Tx, identifier string) (bool, error) {
	state, err := l.Load(ctx, tx, identifier)
	if err != nil {
		return false, err
	}
	return state != nil && state.AttemptsLeft < 1, nil
}

// Check returns ErrRateLimited when identifier is limited.
func (l *Limiter) Check(ctx context.Context, tx store.Tx, identifier string) error {
	limited, err := l.IsLimited(ctx, tx, identifier)
	if err != nil {
		return err
	}
	if limited {
		return ErrRateLimited
	}
	return nil
}

// RecordFailure spends one attempt, creating the record with capacity-1
// attempts on the first failure.
func (l *Limiter) RecordFailure(ctx context.Context, tx store.Tx, identifier string) error {
	state, err := l.Load(ctx, tx, identifier)
	if err != nil {
		return err
	}
	now := l.now().UnixMilli()
	if state != nil {
		err = tx.Patch(ctx, store.TableRateLimits, state.ID, map[string]any{
			"attemptsLeft":    state.AttemptsLeft - 1,
			"lastAttemptTime": now,
		})
	} else {
		_, err = tx.Insert(ctx, store.TableRateLimits, store.RateLimit{
			Identifier:      identifier,
			AttemptsLeft:    l.capacity - 1,
			LastAttemptTime: now,
		})
	}
	if err != nil {
		return fmt.Errorf("record rate limit failure: %w", err)
	}
	return nil
}

// Reset deletes the identifier's record.
func (l *Limiter) Reset(ctx context.Context, tx store.Tx, identifier string) error {
	rec, err := store.First[store.RateLimit](ctx, tx, store.TableRateLimits, store.IndexIdentifier, identifier)
	if err != nil {
		return fmt.Errorf("load rate limit: %w", err)
	}
	if rec == nil {
		return nil
	}
	if err := tx.Delete(ctx, store.TableRateLimits, rec.ID); err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}
