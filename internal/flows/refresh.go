package flows

import (
	"context"

	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
)

// RefreshResult carries either the rotated token pair or failure metadata.
type RefreshResult struct {
	Failure   FailureKind
	Reason    session.RefreshFailureKind
	UserID    string
	SessionID string
	Tokens    *session.Tokens
}

// RunRefresh rotates a refresh token. A malformed presentation is returned
// as session.ErrMalformedRefreshToken; every other rejection terminates the
// session and is reported as a failure.
func RunRefresh(ctx context.Context, tx store.Tx, refreshToken string, deps Deps) (RefreshResult, error) {
	res, err := deps.Sessions.Refresh(ctx, tx, refreshToken)
	if err != nil {
		return RefreshResult{}, err
	}

	out := RefreshResult{
		Reason:    res.Failure,
		UserID:    res.UserID,
		SessionID: res.SessionID,
		Tokens:    res.Tokens,
	}
	switch res.Failure {
	case session.RefreshFailureNone:
		return out, nil
	case session.RefreshFailureTokenExpired, session.RefreshFailureSessionExpired:
		out.Failure = FailureExpiredSession
	default:
		out.Failure = FailureInvalidRefreshToken
	}
	deps.warn("authcore: refresh rejected, session terminated",
		"reason", res.Failure.String(),
		"session_id", res.SessionID,
	)
	return out, nil
}
