package flows

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/internal/accounts"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/store"
)

// CreateVerifierResult names the new pending-exchange handle.
type CreateVerifierResult struct {
	VerifierID string
	// SessionID is the caller's session captured by the verifier, if any.
	SessionID string
}

// RunCreateVerifier stores a verifier that captures the caller's current
// session when it is still active.
func RunCreateVerifier(ctx context.Context, tx store.Tx, currentSessionID string, deps Deps) (CreateVerifierResult, error) {
	sess, err := deps.Sessions.ActiveSession(ctx, tx, currentSessionID)
	if err != nil {
		return CreateVerifierResult{}, err
	}
	sessionID := ""
	if sess != nil {
		sessionID = sess.ID
	}
	id, err := deps.Verifiers.Create(ctx, tx, sessionID)
	if err != nil {
		return CreateVerifierResult{}, err
	}
	return CreateVerifierResult{VerifierID: id, SessionID: sessionID}, nil
}

// SignVerifierRequest attaches the OAuth check signature to a verifier.
type SignVerifierRequest struct {
	Verifier  string
	Signature string
}

// SignVerifierResult reports whether the signature was attached.
type SignVerifierResult struct {
	Failure FailureKind
}

// RunSignVerifier signs an unsigned, live verifier.
func RunSignVerifier(ctx context.Context, tx store.Tx, req SignVerifierRequest, deps Deps) (SignVerifierResult, error) {
	if req.Signature == "" {
		return SignVerifierResult{Failure: FailureInvalidVerifier}, nil
	}
	err := deps.Verifiers.Sign(ctx, tx, req.Verifier, req.Signature)
	switch {
	case errors.Is(err, stores.ErrVerifierNotFound), errors.Is(err, stores.ErrVerifierSigned):
		return SignVerifierResult{Failure: FailureInvalidVerifier}, nil
	case err != nil:
		return SignVerifierResult{}, err
	}
	return SignVerifierResult{}, nil
}

// UserOAuthRequest finalizes an OAuth exchange whose network phase produced
// Signature and Profile.
type UserOAuthRequest struct {
	Provider          string
	ProviderAccountID string
	Profile           accounts.Profile
	Signature         string
}

// UserOAuthResult carries the one-time code the client redeems with the
// verifier through verifyCodeAndSignIn.
type UserOAuthResult struct {
	Failure    FailureKind
	Code       string
	VerifierID string
	UserID     string
	AccountID  string
	Created    bool
}

// RunUserOAuth resolves the OAuth identity, consumes the verifier found by
// signature and mints a short-lived code bound to that verifier.
func RunUserOAuth(ctx context.Context, tx store.Tx, req UserOAuthRequest, deps Deps) (UserOAuthResult, error) {
	info, err := deps.provider(req.Provider, accounts.TypeOAuth, accounts.TypeOIDC)
	if err != nil {
		return UserOAuthResult{}, err
	}
	if req.ProviderAccountID == "" {
		return UserOAuthResult{}, ErrMissingIdentifier
	}

	verifier, err := deps.Verifiers.FindBySignature(ctx, tx, req.Signature)
	if err != nil {
		return UserOAuthResult{}, err
	}
	if verifier == nil {
		deps.warn("authcore: oauth verifier not found", "provider", req.Provider)
		return UserOAuthResult{Failure: FailureInvalidVerifier}, nil
	}
	sessionUser, err := deps.sessionUser(ctx, tx, verifier.SessionID)
	if err != nil {
		return UserOAuthResult{}, err
	}

	res, err := deps.Accounts.Upsert(ctx, tx, accounts.Input{
		ProviderID:                        info.ID,
		ProviderType:                      info.Type,
		ProviderAccountID:                 req.ProviderAccountID,
		Profile:                           req.Profile,
		AllowDangerousEmailAccountLinking: info.AllowDangerousEmailAccountLinking,
		SessionUserID:                     sessionUser,
	})
	if errors.Is(err, accounts.ErrProviderMismatch) {
		if err := deps.Verifiers.Delete(ctx, tx, verifier.ID); err != nil {
			return UserOAuthResult{}, err
		}
		return UserOAuthResult{Failure: FailureProviderMismatch}, nil
	}
	if err != nil {
		return UserOAuthResult{}, err
	}

	if err := deps.Verifiers.Delete(ctx, tx, verifier.ID); err != nil {
		return UserOAuthResult{}, err
	}
	if deps.NewOAuthCode == nil {
		return UserOAuthResult{}, errors.New("flows: oauth code generator not configured")
	}
	code, err := deps.NewOAuthCode()
	if err != nil {
		return UserOAuthResult{}, fmt.Errorf("generate oauth code: %w", err)
	}
	if _, err := deps.Codes.Issue(ctx, tx, stores.IssueCode{
		AccountID: res.AccountID,
		Provider:  info.ID,
		Code:      code,
		ExpiresAt: deps.now().Add(deps.oauthCodeTTL()),
		Verifier:  verifier.ID,
	}); err != nil {
		return UserOAuthResult{}, err
	}
	return UserOAuthResult{
		Code:       code,
		VerifierID: verifier.ID,
		UserID:     res.UserID,
		AccountID:  res.AccountID,
		Created:    res.CreatedAccount,
	}, nil
}
