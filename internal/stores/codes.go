package stores

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/store"
)

var (
	// ErrCodeNotFound is returned when no stored digest matches the code.
	ErrCodeNotFound = errors.New("verification code not found")
	// ErrCodeExpired is returned for a code used at or after its expiry. The
	// code is still consumed.
	ErrCodeExpired = errors.New("verification code expired")
	// ErrVerifierMismatch is returned when the code was bound to a different
	// verifier.
	ErrVerifierMismatch = errors.New("verification code verifier mismatch")
)

// IssueCode describes a code to persist. Code is the plaintext; only its
// digest is stored.
type IssueCode struct {
	AccountID     string
	Provider      string
	Code          string
	ExpiresAt     time.Time
	Verifier      string
	EmailVerified string
	PhoneVerified string
}

// CodeStore persists verification codes.
type CodeStore struct {
	now func() time.Time
}

// NewCodeStore creates a CodeStore; a nil clock means time.Now.
func NewCodeStore(now func() time.Time) *CodeStore {
	if now == nil {
		now = time.Now
	}
	return &CodeStore{now: now}
}

// Issue deletes any live code of the account and stores the new one.
func (s *CodeStore) Issue(ctx context.Context, tx store.Tx, in IssueCode) (string, error) {
	if in.AccountID == "" || in.Code == "" {
		return "", errors.New("verification code requires account and code")
	}
	if err := s.DeleteForAccount(ctx, tx, in.AccountID); err != nil {
		return "", err
	}
	id, err := tx.Insert(ctx, store.TableVerificationCodes, store.VerificationCode{
		AccountID:      in.AccountID,
		Provider:       in.Provider,
		Code:           internal.HashCode(in.Code),
		ExpirationTime: in.ExpiresAt.UnixMilli(),
		Verifier:       in.Verifier,
		EmailVerified:  in.EmailVerified,
		PhoneVerified:  in.PhoneVerified,
	})
	if err != nil {
		return "", fmt.Errorf("insert verification code: %w", err)
	}
	return id, nil
}

// Consume looks a code up by digest and deletes it before checking the
// verifier binding and the expiry. The deleted record is returned alongside
// ErrVerifierMismatch and ErrCodeExpired so callers can attribute the
// failure to an account.
func (s *CodeStore) Consume(ctx context.Context, tx store.Tx, code, verifier string) (*store.VerificationCode, error) {
	rec, err := store.First[store.VerificationCode](ctx, tx, store.TableVerificationCodes, store.IndexCode, internal.HashCode(code))
	if err != nil {
		return nil, fmt.Errorf("load verification code: %w", err)
	}
	if rec == nil {
		return nil, ErrCodeNotFound
	}
	if err := tx.Delete(ctx, store.TableVerificationCodes, rec.ID); err != nil {
		return nil, fmt.Errorf("delete verification code: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(rec.Verifier), []byte(verifier)) != 1 {
		return rec, ErrVerifierMismatch
	}
	if rec.ExpirationTime <= s.now().UnixMilli() {
		return rec, ErrCodeExpired
	}
	return rec, nil
}

// DeleteForAccount removes any live code of the account.
func (s *CodeStore) DeleteForAccount(ctx context.Context, tx store.Tx, accountID string) error {
	existing, err := store.Find[store.VerificationCode](ctx, tx, store.TableVerificationCodes, store.IndexAccountID, accountID)
	if err != nil {
		return fmt.Errorf("list verification codes: %w", err)
	}
	for _, code := range existing {
		if err := tx.Delete(ctx, store.TableVerificationCodes, code.ID); err != nil {
			return fmt.Errorf("delete verification code: %w", err)
		}
	}
	return nil
}
