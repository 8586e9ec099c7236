package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/store"
)

// DefaultVerifierMaxAge matches the OAuth check cookie lifetime; a verifier
// whose cookies are gone can never be completed.
const DefaultVerifierMaxAge = 15 * time.Minute

var (
	ErrVerifierNotFound = errors.New("verifier not found")
	ErrVerifierSigned   = errors.New("verifier already has a signature")
)

// VerifierStore persists OAuth pending-exchange handles.
type VerifierStore struct {
	maxAge time.Duration
	now    func() time.Time
}

// NewVerifierStore creates a VerifierStore. Zero maxAge selects the default.
func NewVerifierStore(maxAge time.Duration, now func() time.Time) *VerifierStore {
	if maxAge <= 0 {
		maxAge = DefaultVerifierMaxAge
	}
	if now == nil {
		now = time.Now
	}
	return &VerifierStore{maxAge: maxAge, now: now}
}

// Create stores a new verifier, capturing the caller's session if any.
func (s *VerifierStore) Create(ctx context.Context, tx store.Tx, sessionID string) (string, error) {
	id, err := tx.Insert(ctx, store.TableVerifiers, store.Verifier{SessionID: sessionID})
	if err != nil {
		return "", fmt.Errorf("insert verifier: %w", err)
	}
	return id, nil
}

// Sign attaches the OAuth check signature to an unsigned verifier.
func (s *VerifierStore) Sign(ctx context.Context, tx store.Tx, verifierID, signature string) error {
	v, err := s.load(ctx, tx, verifierID)
	if err != nil {
		return err
	}
	if v == nil {
		return ErrVerifierNotFound
	}
	if v.Signature != "" {
		return ErrVerifierSigned
	}
	if err := tx.Patch(ctx, store.TableVerifiers, verifierID, map[string]any{"signature": signature}); err != nil {
		return fmt.Errorf("sign verifier: %w", err)
	}
	return nil
}

// Get returns a live verifier by id, or nil.
func (s *VerifierStore) Get(ctx context.Context, tx store.Tx, verifierID string) (*store.Verifier, error) {
	return s.load(ctx, tx, verifierID)
}

// FindBySignature returns the live verifier carrying signature, or nil.
func (s *VerifierStore) FindBySignature(ctx context.Context, tx store.Tx, signature string) (*store.Verifier, error) {
	if signature == "" {
		return nil, nil
	}
	v, err := store.First[store.Verifier](ctx, tx, store.TableVerifiers, store.IndexSignature, signature)
	if err != nil {
		return nil, fmt.Errorf("load verifier: %w", err)
	}
	return s.live(ctx, tx, v)
}

// Delete removes a verifier. Missing verifiers are ignored.
func (s *VerifierStore) Delete(ctx context.Context, tx store.Tx, verifierID string) error {
	if err := tx.Delete(ctx, store.TableVerifiers, verifierID); err != nil {
		return fmt.Errorf("delete verifier: %w", err)
	}
	return nil
}

func (s *VerifierStore) load(ctx context.Context, tx store.Tx, verifierID string) (*store.Verifier, error) {
	v, err := store.Load[store.Verifier](ctx, tx, store.TableVerifiers, verifierID)
	if err != nil {
		return nil, fmt.Errorf("load verifier: %w", err)
	}
	return s.live(ctx, tx, v)
}

// live drops verifiers older than maxAge.
func (s *VerifierStore) live(ctx context.Context, tx store.Tx, v *store.Verifier) (*store.Verifier, error) {
	if v == nil {
		return nil, nil
	}
	if s.now().Sub(time.UnixMilli(v.CreationTime)) <= s.maxAge {
		return v, nil
	}
	if err := s.Delete(ctx, tx, v.ID); err != nil {
		return nil, err
	}
	return nil, nil
}
