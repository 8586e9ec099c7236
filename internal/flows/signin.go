package flows

import (
	"context"
	"fmt"

	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
)

// SignInRequest starts or resumes a session for an already-resolved user.
type SignInRequest struct {
	UserID string
	// SessionID resumes an existing session of UserID instead of creating one.
	SessionID      string
	GenerateTokens bool
	// CurrentSessionID is the caller's session; it is replaced by the new one.
	CurrentSessionID string
}

// SignInResult carries the session and, when requested, its tokens.
type SignInResult struct {
	Failure   FailureKind
	UserID    string
	SessionID string
	Tokens    *session.Tokens
}

// RunSignIn creates (or resumes) a session for req.UserID and issues tokens.
func RunSignIn(ctx context.Context, tx store.Tx, req SignInRequest, deps Deps) (SignInResult, error) {
	user, err := store.Load[store.User](ctx, tx, store.TableUsers, req.UserID)
	if err != nil {
		return SignInResult{}, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return SignInResult{Failure: FailureAccountDeleted, UserID: req.UserID}, nil
	}

	if req.SessionID != "" {
		sess, err := deps.Sessions.ActiveSession(ctx, tx, req.SessionID)
		if err != nil {
			return SignInResult{}, err
		}
		if sess == nil || sess.UserID != req.UserID {
			return SignInResult{Failure: FailureExpiredSession, UserID: req.UserID, SessionID: req.SessionID}, nil
		}
		return issue(ctx, tx, req.UserID, req.SessionID, req.GenerateTokens, deps)
	}
	return startSession(ctx, tx, req.UserID, req.CurrentSessionID, req.GenerateTokens, deps)
}

// startSession replaces the caller's session with a fresh one for userID.
func startSession(ctx context.Context, tx store.Tx, userID, currentSessionID string, generate bool, deps Deps) (SignInResult, error) {
	sessionID, err := deps.Sessions.CreateSession(ctx, tx, userID, currentSessionID)
	if err != nil {
		return SignInResult{}, err
	}
	return issue(ctx, tx, userID, sessionID, generate, deps)
}

func issue(ctx context.Context, tx store.Tx, userID, sessionID string, generate bool, deps Deps) (SignInResult, error) {
	tokens, err := deps.Sessions.IssueTokens(ctx, tx, userID, sessionID, generate)
	if err != nil {
		return SignInResult{}, err
	}
	return SignInResult{UserID: userID, SessionID: sessionID, Tokens: tokens}, nil
}
