package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/store"
)

const (
	// DefaultTotalDuration bounds a session's lifetime.
	DefaultTotalDuration = 30 * 24 * time.Hour
	// DefaultInactiveDuration bounds a refresh token's lifetime.
	DefaultInactiveDuration = 30 * 24 * time.Hour
)

// ErrNoTokenIssuer is returned by IssueTokens when tokens are requested from
// a manager built without an access-token issuer.
var ErrNoTokenIssuer = errors.New("session: access token issuer not configured")

// TokenIssuer mints access tokens. *jwt.Manager implements it.
type TokenIssuer interface {
	CreateAccess(userID, sessionID string) (string, error)
}

// Config holds lifecycle durations.
type Config struct {
	TotalDuration    time.Duration
	InactiveDuration time.Duration
}

// Manager runs lifecycle steps inside a caller-supplied transaction.
type Manager struct {
	config Config
	issuer TokenIssuer
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a lifecycle Manager. Zero durations select defaults.
func NewManager(cfg Config, issuer TokenIssuer, opts ...Option) *Manager {
	if cfg.TotalDuration <= 0 {
		cfg.TotalDuration = DefaultTotalDuration
	}
	if cfg.InactiveDuration <= 0 {
		cfg.InactiveDuration = DefaultInactiveDuration
	}
	m := &Manager{config: cfg, issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) nowMs() int64 { return m.now().UnixMilli() }

// CreateSession inserts a new session for userID. The caller's current
// session, when given, is deleted first together with its refresh tokens.
func (m *Manager) CreateSession(ctx context.Context, tx store.Tx, userID, currentSessionID string) (string, error) {
	if currentSessionID != "" {
		if err := m.DeleteSession(ctx, tx, currentSessionID); err != nil {
			return "", err
		}
	}
	id, err := tx.Insert(ctx, store.TableSessions, store.Session{
		UserID:         userID,
		ExpirationTime: m.nowMs() + m.config.TotalDuration.Milliseconds(),
	})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// IssueTokens mints a refresh token and an access token for the session.
// With generate false the session is kept but no tokens are returned.
func (m *Manager) IssueTokens(ctx context.Context, tx store.Tx, userID, sessionID string, generate bool) (*Tokens, error) {
	if !generate {
		return nil, nil
	}
	if m.issuer == nil {
		return nil, ErrNoTokenIssuer
	}
	refreshID, err := tx.Insert(ctx, store.TableRefreshTokens, store.RefreshToken{
		SessionID:      sessionID,
		ExpirationTime: m.nowMs() + m.config.InactiveDuration.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("create refresh token: %w", err)
	}
	access, err := m.issuer.CreateAccess(userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("create access token: %w", err)
	}
	return &Tokens{
		Token:        access,
		RefreshToken: EncodeRefreshToken(refreshID, sessionID),
	}, nil
}

// Refresh rotates a presented refresh token. All of the session's refresh
// tokens are deleted before the presented one is examined; any validation
// failure then deletes the session as well. Errors are reserved for
// malformed presentations and store failures.
func (m *Manager) Refresh(ctx context.Context, tx store.Tx, presentation string) (RefreshResult, error) {
	refreshID, sessionID, err := DecodeRefreshToken(presentation)
	if err != nil {
		return RefreshResult{}, err
	}

	token, err := store.Load[store.RefreshToken](ctx, tx, store.TableRefreshTokens, refreshID)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("load refresh token: %w", err)
	}
	if err := m.deleteRefreshTokens(ctx, tx, sessionID); err != nil {
		return RefreshResult{}, err
	}

	sess, err := store.Load[store.Session](ctx, tx, store.TableSessions, sessionID)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("load session: %w", err)
	}

	failure := RefreshFailureNone
	now := m.nowMs()
	switch {
	case token == nil:
		failure = RefreshFailureTokenNotFound
	case token.SessionID != sessionID:
		failure = RefreshFailureSessionMismatch
	case token.ExpirationTime <= now:
		failure = RefreshFailureTokenExpired
	case sess == nil:
		failure = RefreshFailureSessionNotFound
	case sess.ExpirationTime <= now:
		failure = RefreshFailureSessionExpired
	}

	if failure != RefreshFailureNone {
		result := RefreshResult{Failure: failure, SessionID: sessionID}
		if sess != nil {
			result.UserID = sess.UserID
			if err := tx.Delete(ctx, store.TableSessions, sessionID); err != nil {
				return RefreshResult{}, fmt.Errorf("delete session: %w", err)
			}
		}
		return result, nil
	}

	tokens, err := m.IssueTokens(ctx, tx, sess.UserID, sessionID, true)
	if err != nil {
		return RefreshResult{}, err
	}
	return RefreshResult{UserID: sess.UserID, SessionID: sessionID, Tokens: tokens}, nil
}

// ActiveSession returns the session when it exists and has not expired.
func (m *Manager) ActiveSession(ctx context.Context, tx store.Tx, sessionID string) (*store.Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	sess, err := store.Load[store.Session](ctx, tx, store.TableSessions, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil || sess.ExpirationTime <= m.nowMs() {
		return nil, nil
	}
	return sess, nil
}

// DeleteSession deletes a session and every refresh token that belongs to
// it. Deleting a missing session is not an error.
func (m *Manager) DeleteSession(ctx context.Context, tx store.Tx, sessionID string) error {
	if err := m.deleteRefreshTokens(ctx, tx, sessionID); err != nil {
		return err
	}
	if err := tx.Delete(ctx, store.TableSessions, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// InvalidateUserSessions deletes every session of userID except the listed
// ones and returns how many were removed.
func (m *Manager) InvalidateUserSessions(ctx context.Context, tx store.Tx, userID string, except ...string) (int, error) {
	keep := make(map[string]struct{}, len(except))
	for _, id := range except {
		keep[id] = struct{}{}
	}
	sessions, err := store.Find[store.Session](ctx, tx, store.TableSessions, store.IndexUserID, userID)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	removed := 0
	for _, sess := range sessions {
		if _, ok := keep[sess.ID]; ok {
			continue
		}
		if err := m.DeleteSession(ctx, tx, sess.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (m *Manager) deleteRefreshTokens(ctx context.Context, tx store.Tx, sessionID string) error {
	tokens, err := store.Find[store.RefreshToken](ctx, tx, store.TableRefreshTokens, store.IndexSessionID, sessionID)
	if err != nil {
		return fmt.Errorf("list refresh tokens: %w", err)
	}
	for _, token := range tokens {
		if err := tx.Delete(ctx, store.TableRefreshTokens, token.ID); err != nil {
			return fmt.Errorf("delete refresh token: %w", err)
		}
	}
	return nil
}
