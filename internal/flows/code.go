package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal/accounts"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
)

// VerifyCodeRequest redeems a one-time code and signs its account in.
type VerifyCodeRequest struct {
	Provider string
	Code     string
	// Verifier must match the one the code was bound to, if any.
	Verifier string
	// Email or Phone must match the identity the code was sent to and
	// rate-limits the attempt. One of them is required unless Verifier is set.
	Email string
	Phone string
	// AllowExtraProviders accepts codes issued for another provider.
	AllowExtraProviders bool
	GenerateTokens      bool
	CurrentSessionID    string
}

// VerifyCodeResult carries the signed-in session or failure metadata.
type VerifyCodeResult struct {
	Failure   FailureKind
	AccountID string
	UserID    string
	SessionID string
	Tokens    *session.Tokens
}

// RunVerifyCodeAndSignIn consumes a verification code and, on success,
// marks the channel it was delivered on as verified, resets the identifier's
// rate limit and starts a session.
func RunVerifyCodeAndSignIn(ctx context.Context, tx store.Tx, req VerifyCodeRequest, deps Deps) (VerifyCodeResult, error) {
	identifier := req.Email
	if identifier == "" {
		identifier = req.Phone
	}
	identifier = accounts.NormalizeAccountID(identifier)
	if identifier == "" && req.Verifier == "" {
		return VerifyCodeResult{}, ErrMissingIdentifier
	}

	if identifier != "" {
		limited, err := deps.Limiter.IsLimited(ctx, tx, identifier)
		if err != nil {
			return VerifyCodeResult{}, err
		}
		if limited {
			return VerifyCodeResult{Failure: FailureRateLimited}, nil
		}
	}

	acc, failure, err := consumeCode(ctx, tx, req, deps)
	if err != nil {
		return VerifyCodeResult{}, err
	}
	if failure != FailureNone {
		if identifier != "" {
			if err := deps.Limiter.RecordFailure(ctx, tx, identifier); err != nil {
				return VerifyCodeResult{}, err
			}
		}
		out := VerifyCodeResult{Failure: failure}
		if acc != nil {
			out.AccountID = acc.ID
			out.UserID = acc.UserID
		}
		return out, nil
	}

	if identifier != "" {
		if err := deps.Limiter.Reset(ctx, tx, identifier); err != nil {
			return VerifyCodeResult{}, err
		}
	}

	signed, err := startSession(ctx, tx, acc.UserID, req.CurrentSessionID, req.GenerateTokens, deps)
	if err != nil {
		return VerifyCodeResult{}, err
	}
	return VerifyCodeResult{
		AccountID: acc.ID,
		UserID:    acc.UserID,
		SessionID: signed.SessionID,
		Tokens:    signed.Tokens,
	}, nil
}

// consumeCode redeems the code and applies its verification markers. The
// account is returned alongside failures that can be attributed to it.
func consumeCode(ctx context.Context, tx store.Tx, req VerifyCodeRequest, deps Deps) (*store.Account, FailureKind, error) {
	rec, err := deps.Codes.Consume(ctx, tx, req.Code, req.Verifier)
	switch {
	case errors.Is(err, stores.ErrCodeNotFound):
		deps.warn("authcore: verification code rejected", "reason", "not_found", "provider", req.Provider)
		return nil, FailureInvalidCode, nil
	case errors.Is(err, stores.ErrVerifierMismatch) && rec.Verifier == "":
		// An unbound code never answers to a verifier.
		deps.warn("authcore: verification code rejected", "reason", "unexpected_verifier", "provider", req.Provider)
		return nil, FailureInvalidCode, nil
	case errors.Is(err, stores.ErrVerifierMismatch):
		deps.warn("authcore: verification code rejected", "reason", "verifier_mismatch", "provider", req.Provider)
		return nil, FailureInvalidVerifier, nil
	case errors.Is(err, stores.ErrCodeExpired):
		deps.warn("authcore: verification code rejected", "reason", "expired", "provider", req.Provider)
		return nil, FailureExpiredCode, nil
	case err != nil:
		return nil, FailureNone, err
	}

	acc, err := store.Load[store.Account](ctx, tx, store.TableAccounts, rec.AccountID)
	if err != nil {
		return nil, FailureNone, fmt.Errorf("load account: %w", err)
	}
	if acc == nil {
		return nil, FailureAccountDeleted, nil
	}
	if !req.AllowExtraProviders && rec.Provider != req.Provider {
		deps.warn("authcore: verification code rejected", "reason", "provider_mismatch", "provider", req.Provider)
		return acc, FailureProviderMismatch, nil
	}
	if !codeSentTo(rec, acc, req) {
		deps.warn("authcore: verification code rejected", "reason", "identity_mismatch", "provider", req.Provider)
		return acc, FailureInvalidCode, nil
	}

	if rec.EmailVerified == "" && rec.PhoneVerified == "" {
		return acc, FailureNone, nil
	}
	verified := true
	profile := accounts.Profile{}
	patch := map[string]any{}
	if rec.EmailVerified != "" {
		profile.Email = rec.EmailVerified
		profile.EmailVerified = &verified
		patch["emailVerified"] = rec.EmailVerified
	}
	if rec.PhoneVerified != "" {
		profile.Phone = rec.PhoneVerified
		profile.PhoneVerified = &verified
		patch["phoneVerified"] = rec.PhoneVerified
	}
	if _, err := deps.Accounts.Upsert(ctx, tx, accounts.Input{
		ProviderID:      acc.Provider,
		ExistingAccount: acc,
		Profile:         profile,
	}); err != nil {
		return nil, FailureNone, err
	}
	if err := tx.Patch(ctx, store.TableAccounts, acc.ID, patch); err != nil {
		return nil, FailureNone, fmt.Errorf("mark account verified: %w", err)
	}
	return acc, FailureNone, nil
}

// codeSentTo reports whether the identity in req is the one the code was
// delivered to. Codes without a verifier fall back to the account id when
// they carry no channel marker.
func codeSentTo(rec *store.VerificationCode, acc *store.Account, req VerifyCodeRequest) bool {
	email, phone := rec.EmailVerified, rec.PhoneVerified
	if rec.Verifier == "" {
		if email == "" {
			email = acc.ProviderAccountID
		}
		if phone == "" {
			phone = acc.ProviderAccountID
		}
	}
	if req.Email != "" && email != "" && !sameIdentity(req.Email, email) {
		return false
	}
	if req.Phone != "" && phone != "" && !sameIdentity(req.Phone, phone) {
		return false
	}
	return true
}

func sameIdentity(a, b string) bool {
	return accounts.NormalizeAccountID(a) == accounts.NormalizeAccountID(b)
}

// CreateCodeRequest issues a verification code for an account. Without
// AccountID the account is resolved (or created) from Email or Phone.
type CreateCodeRequest struct {
	Provider  string
	AccountID string
	Email     string
	Phone     string
	Code      string
	// ExpiresAt defaults to now plus the configured code lifetime.
	ExpiresAt        time.Time
	CurrentSessionID string
}

// CreateCodeResult reports where the code should be delivered.
type CreateCodeResult struct {
	Failure    FailureKind
	Identifier string
	AccountID  string
	UserID     string
	ExpiresAt  time.Time
}

// RunCreateVerificationCode stores a new code for the account, replacing
// any live one. The plaintext code is never persisted.
func RunCreateVerificationCode(ctx context.Context, tx store.Tx, req CreateCodeRequest, deps Deps) (CreateCodeResult, error) {
	if req.Code == "" {
		return CreateCodeResult{}, errors.New("flows: verification code is empty")
	}
	expiresAt := req.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = deps.now().Add(deps.codeTTL())
	}

	var (
		acc *store.Account
		err error
	)
	if req.AccountID != "" {
		if _, err := deps.provider(req.Provider); err != nil {
			return CreateCodeResult{}, err
		}
		acc, err = store.Load[store.Account](ctx, tx, store.TableAccounts, req.AccountID)
		if err != nil {
			return CreateCodeResult{}, fmt.Errorf("load account: %w", err)
		}
		if acc == nil {
			return CreateCodeResult{Failure: FailureInvalidAccountID}, nil
		}
	} else {
		acc, err = resolveCodeAccount(ctx, tx, req, deps)
		if errors.Is(err, accounts.ErrProviderMismatch) {
			return CreateCodeResult{Failure: FailureProviderMismatch}, nil
		}
		if err != nil {
			return CreateCodeResult{}, err
		}
	}

	identifier := req.Email
	if identifier == "" {
		identifier = req.Phone
	}
	if identifier == "" {
		identifier = acc.ProviderAccountID
	}
	if _, err := deps.Codes.Issue(ctx, tx, stores.IssueCode{
		AccountID:     acc.ID,
		Provider:      req.Provider,
		Code:          req.Code,
		ExpiresAt:     expiresAt,
		EmailVerified: req.Email,
		PhoneVerified: req.Phone,
	}); err != nil {
		return CreateCodeResult{}, err
	}
	return CreateCodeResult{
		Identifier: identifier,
		AccountID:  acc.ID,
		UserID:     acc.UserID,
		ExpiresAt:  expiresAt,
	}, nil
}

func resolveCodeAccount(ctx context.Context, tx store.Tx, req CreateCodeRequest, deps Deps) (*store.Account, error) {
	info, err := deps.provider(req.Provider, accounts.TypeEmail, accounts.TypePhone)
	if err != nil {
		return nil, err
	}
	in := accounts.Input{
		ProviderID:   info.ID,
		ProviderType: info.Type,
	}
	switch {
	case req.Email != "":
		in.ProviderAccountID = accounts.NormalizeAccountID(req.Email)
		in.Profile.Email = req.Email
	case req.Phone != "":
		in.ProviderAccountID = accounts.NormalizeAccountID(req.Phone)
		in.Profile.Phone = req.Phone
	default:
		return nil, ErrMissingIdentifier
	}
	in.SessionUserID, err = deps.sessionUser(ctx, tx, req.CurrentSessionID)
	if err != nil {
		return nil, err
	}

	res, err := deps.Accounts.Upsert(ctx, tx, in)
	if err != nil {
		return nil, err
	}
	acc, err := store.Load[store.Account](ctx, tx, store.TableAccounts, res.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if acc == nil {
		return nil, fmt.Errorf("flows: account %s vanished after upsert", res.AccountID)
	}
	return acc, nil
}
