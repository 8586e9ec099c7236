package flows

import (
	"context"
	"fmt"

	"github.com/MrEthical07/authcore/store"
)

// SignOutResult reports the session that was removed, if any.
type SignOutResult struct {
	SignedOut bool
	UserID    string
	SessionID string
}

// RunSignOut deletes the caller's session and its refresh tokens.
func RunSignOut(ctx context.Context, tx store.Tx, currentSessionID string, deps Deps) (SignOutResult, error) {
	if currentSessionID == "" {
		return SignOutResult{}, nil
	}
	sess, err := store.Load[store.Session](ctx, tx, store.TableSessions, currentSessionID)
	if err != nil {
		return SignOutResult{}, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return SignOutResult{}, nil
	}
	if err := deps.Sessions.DeleteSession(ctx, tx, sess.ID); err != nil {
		return SignOutResult{}, err
	}
	return SignOutResult{SignedOut: true, UserID: sess.UserID, SessionID: sess.ID}, nil
}

// InvalidateSessionsRequest names the user whose sessions are removed.
type InvalidateSessionsRequest struct {
	UserID string
	Except []string
}

// InvalidateSessionsResult reports how many sessions were removed.
type InvalidateSessionsResult struct {
	Removed int
}

// RunInvalidateSessions deletes every session of a user except req.Except.
func RunInvalidateSessions(ctx context.Context, tx store.Tx, req InvalidateSessionsRequest, deps Deps) (InvalidateSessionsResult, error) {
	if req.UserID == "" {
		return InvalidateSessionsResult{}, ErrMissingIdentifier
	}
	n, err := deps.Sessions.InvalidateUserSessions(ctx, tx, req.UserID, req.Except...)
	if err != nil {
		return InvalidateSessionsResult{}, err
	}
	return InvalidateSessionsResult{Removed: n}, nil
}
