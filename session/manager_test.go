package session

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/memory"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type lifecycleTest struct {
	m     *Manager
	s     *memory.Store
	jwt   *jwt.Manager
	clock *testClock
}

func newLifecycleTest(t *testing.T) *lifecycleTest {
	t.Helper()
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jm, err := jwt.NewManager(jwt.Config{AccessTTL: time.Hour, SigningMethod: jwt.MethodEd25519, PrivateKey: priv},
		jwt.WithClock(clock.now))
	if err != nil {
		t.Fatalf("new jwt manager: %v", err)
	}
	return &lifecycleTest{
		m:     NewManager(Config{TotalDuration: 24 * time.Hour, InactiveDuration: time.Hour}, jm, WithClock(clock.now)),
		s:     memory.New(memory.WithClock(clock.now)),
		jwt:   jm,
		clock: clock,
	}
}

func (lt *lifecycleTest) tx(t *testing.T, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	if err := lt.s.RunInTx(context.Background(), fn); err != nil {
		t.Fatalf("RunInTx failed: %v", err)
	}
}

func (lt *lifecycleTest) signIn(t *testing.T, userID string) (string, *Tokens) {
	t.Helper()
	var sid string
	var tokens *Tokens
	lt.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		sid, err = lt.m.CreateSession(ctx, tx, userID, "")
		if err != nil {
			return err
		}
		tokens, err = lt.m.IssueTokens(ctx, tx, userID, sid, true)
		return err
	})
	return sid, tokens
}

func (lt *lifecycleTest) refresh(t *testing.T, presentation string) RefreshResult {
	t.Helper()
	var out RefreshResult
	lt.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = lt.m.Refresh(ctx, tx, presentation)
		return err
	})
	return out
}

func TestIssueTokensSubjectCarriesSession(t *testing.T) {
	lt := newLifecycleTest(t)
	sid, tokens := lt.signIn(t, "user-1")

	claims, err := lt.jwt.ParseAccess(tokens.Token)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.SessionID() != sid || claims.UserID() != "user-1" {
		t.Fatalf("unexpected subject %q for session %q", claims.Subject, sid)
	}

	res := lt.refresh(t, tokens.RefreshToken)
	if res.Failure != RefreshFailureNone || res.Tokens == nil {
		t.Fatalf("expected refresh to succeed, got %v", res.Failure)
	}
	claims, err = lt.jwt.ParseAccess(res.Tokens.Token)
	if err != nil {
		t.Fatalf("parse refreshed access: %v", err)
	}
	if claims.SessionID() != sid {
		t.Fatalf("refresh changed session: %q != %q", claims.SessionID(), sid)
	}
	if res.Tokens.RefreshToken == tokens.RefreshToken {
		t.Fatal("expected a new refresh token")
	}
}

func TestIssueTokensWithoutGenerateKeepsSession(t *testing.T) {
	lt := newLifecycleTest(t)
	lt.tx(t, func(ctx context.Context, tx store.Tx) error {
		sid, err := lt.m.CreateSession(ctx, tx, "u", "")
		if err != nil {
			return err
		}
		tokens, err := lt.m.IssueTokens(ctx, tx, "u", sid, false)
		if err != nil {
			return err
		}
		if tokens != nil {
			t.Fatalf("expected nil tokens, got %+v", tokens)
		}
		return nil
	})
	if lt.s.Len(store.TableSessions) != 1 || lt.s.Len(store.TableRefreshTokens) != 0 {
		t.Fatal("expected a session without refresh tokens")
	}
}

func TestCreateSessionReplacesCurrent(t *testing.T) {
	lt := newLifecycleTest(t)
	old, _ := lt.signIn(t, "u")

	lt.tx(t, func(ctx context.Context, tx store.Tx) error {
		_, err := lt.m.CreateSession(ctx, tx, "u", old)
		return err
	})
	if lt.s.Len(store.TableSessions) != 1 {
		t.Fatalf("expected old session replaced, have %d", lt.s.Len(store.TableSessions))
	}
	if lt.s.Len(store.TableRefreshTokens) != 0 {
		t.Fatal("expected old session's refresh tokens deleted")
	}
}

func TestRefreshReuseTerminatesFamily(t *testing.T) {
	lt := newLifecycleTest(t)
	sid, first := lt.signIn(t, "u")

	second := lt.refresh(t, first.RefreshToken)
	if second.Failure != RefreshFailureNone {
		t.Fatalf("first refresh failed: %v", second.Failure)
	}

	replay := lt.refresh(t, first.RefreshToken)
	if replay.Failure != RefreshFailureTokenNotFound {
		t.Fatalf("expected replay to fail with token_not_found, got %v", replay.Failure)
	}
	if replay.UserID != "u" || replay.SessionID != sid {
		t.Fatalf("unexpected replay identity: %+v", replay)
	}

	after := lt.refresh(t, second.Tokens.RefreshToken)
	if after.Failure == RefreshFailureNone {
		t.Fatal("token issued before the replay must be dead")
	}
	if lt.s.Len(store.TableSessions) != 0 || lt.s.Len(store.TableRefreshTokens) != 0 {
		t.Fatal("expected session family wiped")
	}
}

func TestConcurrentRefreshNeverYieldsTwoLiveFamilies(t *testing.T) {
	lt := newLifecycleTest(t)
	_, tokens := lt.signIn(t, "u")

	var wg sync.WaitGroup
	results := make(chan RefreshResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = lt.s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
				res, err := lt.m.Refresh(ctx, tx, tokens.RefreshToken)
				if err == nil {
					results <- res
				}
				return err
			})
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for res := range results {
		if res.Failure == RefreshFailureNone {
			successes++
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one winner, got %d", successes)
	}
	if lt.s.Len(store.TableRefreshTokens) != 0 || lt.s.Len(store.TableSessions) != 0 {
		t.Fatal("the loser must terminate the session and its tokens")
	}
}

func TestRefreshExpiry(t *testing.T) {
	lt := newLifecycleTest(t)

	_, tokens := lt.signIn(t, "u")
	lt.clock.add(2 * time.Hour)
	if res := lt.refresh(t, tokens.RefreshToken); res.Failure != RefreshFailureTokenExpired {
		t.Fatalf("expected token_expired, got %v", res.Failure)
	}
	if lt.s.Len(store.TableSessions) != 0 {
		t.Fatal("expected session deleted")
	}

	_, tokens = lt.signIn(t, "u")
	for i := 0; i < 40; i++ {
		lt.clock.add(50 * time.Minute)
		res := lt.refresh(t, tokens.RefreshToken)
		if res.Failure != RefreshFailureNone {
			if res.Failure != RefreshFailureSessionExpired {
				t.Fatalf("expected session_expired, got %v", res.Failure)
			}
			return
		}
		tokens = res.Tokens
	}
	t.Fatal("session outlived its total duration")
}

func TestRefreshMalformedIsStructural(t *testing.T) {
	lt := newLifecycleTest(t)
	err := lt.s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := lt.m.Refresh(ctx, tx, "garbage")
		return err
	})
	if !errors.Is(err, ErrMalformedRefreshToken) {
		t.Fatalf("expected ErrMalformedRefreshToken, got %v", err)
	}
}

func TestRefreshWithForeignSessionFails(t *testing.T) {
	lt := newLifecycleTest(t)
	_, a := lt.signIn(t, "a")
	sidB, _ := lt.signIn(t, "b")

	idA, _, err := DecodeRefreshToken(a.RefreshToken)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	res := lt.refresh(t, EncodeRefreshToken(idA, sidB))
	if res.Failure != RefreshFailureSessionMismatch {
		t.Fatalf("expected session_mismatch, got %v", res.Failure)
	}
	if res := lt.refresh(t, a.RefreshToken); res.Failure != RefreshFailureNone {
		t.Fatalf("session a must be unaffected, got %v", res.Failure)
	}
}

func TestInvalidateUserSessionsExcept(t *testing.T) {
	lt := newLifecycleTest(t)
	keep, _ := lt.signIn(t, "u")
	lt.signIn(t, "u")
	lt.signIn(t, "u")
	other, _ := lt.signIn(t, "v")

	lt.tx(t, func(ctx context.Context, tx store.Tx) error {
		n, err := lt.m.InvalidateUserSessions(ctx, tx, "u", keep)
		if err != nil {
			return err
		}
		if n != 2 {
			t.Fatalf("expected 2 removed, got %d", n)
		}
		for _, sid := range []string{keep, other} {
			s, err := lt.m.ActiveSession(ctx, tx, sid)
			if err != nil {
				return err
			}
			if s == nil {
				t.Fatalf("session %s should survive", sid)
			}
		}
		return nil
	})
	if lt.s.Len(store.TableRefreshTokens) != 2 {
		t.Fatalf("expected refresh tokens of survivors only, have %d", lt.s.Len(store.TableRefreshTokens))
	}
}
