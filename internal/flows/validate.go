package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/store"
)

// ValidateFailureKind classifies access-token validation failures.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureUnauthorized
	ValidateFailureTokenClockSkew
	ValidateFailureSessionNotFound
)

// ValidateResult returns either the claims (and session in strict mode) or
// a classified failure.
type ValidateResult struct {
	Failure ValidateFailureKind
	Err     error
	Claims  *jwt.AccessClaims
	Session *store.Session
}

// RunValidate parses an access token. With a non-nil tx the token's session
// must also still be active.
func RunValidate(ctx context.Context, tx store.Tx, token string, deps Deps) (ValidateResult, error) {
	if deps.ParseAccess == nil {
		return ValidateResult{}, errors.New("flows: access token parser not configured")
	}
	claims, err := deps.ParseAccess(token)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureUnauthorized, Err: err}, nil
	}
	if deps.MaxClockSkew >= 0 && claims.IssuedAt != nil {
		if claims.IssuedAt.Time.After(deps.now().Add(deps.MaxClockSkew)) {
			return ValidateResult{Failure: ValidateFailureTokenClockSkew}, nil
		}
	}
	if tx == nil {
		return ValidateResult{Claims: claims}, nil
	}

	sess, err := deps.Sessions.ActiveSession(ctx, tx, claims.SessionID())
	if err != nil {
		return ValidateResult{}, err
	}
	if sess == nil || sess.UserID != claims.UserID() {
		return ValidateResult{Failure: ValidateFailureSessionNotFound}, nil
	}
	return ValidateResult{Claims: claims, Session: sess}, nil
}
