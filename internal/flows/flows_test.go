package flows

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/accounts"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
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

type fixture struct {
	s     *memory.Store
	clock *testClock
	deps  Deps
}

var testProviders = map[string]ProviderInfo{
	"password": {ID: "password", Type: accounts.TypeCredentials},
	"email":    {ID: "email", Type: accounts.TypeEmail},
	"github":   {ID: "github", Type: accounts.TypeOAuth},
}

func newFixture(t *testing.T, maxAttempts int) *fixture {
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
	limiter, err := rate.New(rate.Config{MaxAttemptsPerHour: maxAttempts}, rate.WithClock(clock.now))
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	hashCfg := password.DefaultConfig()
	hashCfg.Memory = 8 * 1024
	hashCfg.Time = 1
	hashCfg.Parallelism = 1
	hasher, err := password.NewArgon2(hashCfg)
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}

	return &fixture{
		s:     memory.New(memory.WithClock(clock.now)),
		clock: clock,
		deps: Deps{
			Sessions:  session.NewManager(session.Config{TotalDuration: 24 * time.Hour, InactiveDuration: time.Hour}, jm, session.WithClock(clock.now)),
			Accounts:  accounts.NewResolver(accounts.Config{}, clock.now),
			Codes:     stores.NewCodeStore(clock.now),
			Verifiers: stores.NewVerifierStore(0, clock.now),
			Limiter:   limiter,
			Hasher:    hasher,
			Provider: func(id string) (ProviderInfo, bool) {
				info, ok := testProviders[id]
				return info, ok
			},
			NewOAuthCode: func() (string, error) {
				return internal.RandomString(OAuthCodeLength, internal.AlphanumericAlphabet)
			},
			ParseAccess:  jm.ParseAccess,
			MaxClockSkew: time.Minute,
			Now:          clock.now,
		},
	}
}

func (f *fixture) tx(t *testing.T, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	if err := f.s.RunInTx(context.Background(), fn); err != nil {
		t.Fatalf("RunInTx failed: %v", err)
	}
}

func (f *fixture) createAccount(t *testing.T, id, secret string) AccountResult {
	t.Helper()
	var res AccountResult
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = RunCreateAccountFromCredentials(ctx, tx, CreateAccountRequest{
			Provider: "password",
			Account:  CredentialsAccount{ID: id, Secret: secret},
			Profile:  accounts.Profile{Email: id},
		}, f.deps)
		return err
	})
	return res
}

func (f *fixture) retrieve(t *testing.T, id, secret string) AccountResult {
	t.Helper()
	var res AccountResult
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = RunRetrieveAccountWithCredentials(ctx, tx, RetrieveAccountRequest{
			Provider: "password",
			Account:  CredentialsAccount{ID: id, Secret: secret},
		}, f.deps)
		return err
	})
	return res
}

func (f *fixture) signIn(t *testing.T, userID string) SignInResult {
	t.Helper()
	var res SignInResult
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = RunSignIn(ctx, tx, SignInRequest{UserID: userID, GenerateTokens: true}, f.deps)
		return err
	})
	if res.Failure != FailureNone || res.Tokens == nil {
		t.Fatalf("sign in failed: %+v", res)
	}
	return res
}

func TestCreateAccountFromCredentialsIsIdempotent(t *testing.T) {
	f := newFixture(t, 10)

	first := f.createAccount(t, "a@example.com", "correct horse")
	if first.Failure != FailureNone || !first.Created || first.User == nil {
		t.Fatalf("unexpected first result %+v", first)
	}
	if first.Account.Secret == "correct horse" {
		t.Fatalf("secret stored in plaintext")
	}

	again := f.createAccount(t, "a@example.com", "correct horse")
	if again.Failure != FailureNone || again.Created || again.Account.ID != first.Account.ID {
		t.Fatalf("expected existing account, got %+v", again)
	}

	wrong := f.createAccount(t, "a@example.com", "battery staple")
	if wrong.Failure != FailureInvalidSecret || wrong.Detail != "account already exists" {
		t.Fatalf("expected InvalidSecret, got %+v", wrong)
	}
	if f.s.Len(store.TableUsers) != 1 || f.s.Len(store.TableAccounts) != 1 {
		t.Fatalf("expected exactly one user and account")
	}
}

func TestRetrieveAccountUsesNormalizedFallback(t *testing.T) {
	f := newFixture(t, 10)
	created := f.createAccount(t, "Mixed@Example.com", "s3cret-value")
	if created.Account.ProviderAccountID != "mixed@example.com" {
		t.Fatalf("expected normalized account id, got %q", created.Account.ProviderAccountID)
	}

	got := f.retrieve(t, "MIXED@example.COM", "s3cret-value")
	if got.Failure != FailureNone || got.Account.ID != created.Account.ID || got.User.ID != created.User.ID {
		t.Fatalf("expected same account via fallback, got %+v", got)
	}
	if f.s.Len(store.TableAccounts) != 1 {
		t.Fatalf("fallback lookup must not create accounts")
	}
}

func TestRetrieveAccountFailures(t *testing.T) {
	f := newFixture(t, 2)
	f.createAccount(t, "a@example.com", "right-secret")

	if res := f.retrieve(t, "nobody@example.com", "x"); res.Failure != FailureInvalidAccountID {
		t.Fatalf("expected InvalidAccountID, got %v", res.Failure)
	}
	for i := 0; i < 2; i++ {
		if res := f.retrieve(t, "a@example.com", "wrong"); res.Failure != FailureInvalidSecret {
			t.Fatalf("attempt %d: expected InvalidSecret, got %v", i, res.Failure)
		}
	}
	if res := f.retrieve(t, "a@example.com", "right-secret"); res.Failure != FailureTooManyFailedAttempts {
		t.Fatalf("expected TooManyFailedAttempts, got %v", res.Failure)
	}

	// One attempt refills after half an hour at two attempts per hour.
	f.clock.add(30 * time.Minute)
	if res := f.retrieve(t, "a@example.com", "right-secret"); res.Failure != FailureNone {
		t.Fatalf("expected success after refill, got %v", res.Failure)
	}
	if f.s.Len(store.TableRateLimits) != 0 {
		t.Fatalf("expected rate limit record to be reset")
	}
}

func TestModifyAccountReplacesSecret(t *testing.T) {
	f := newFixture(t, 10)
	f.createAccount(t, "a@example.com", "old-secret")

	var res AccountResult
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = RunModifyAccount(ctx, tx, ModifyAccountRequest{
			Provider: "password",
			Account:  CredentialsAccount{ID: "a@example.com", Secret: "new-secret"},
		}, f.deps)
		return err
	})
	if res.Failure != FailureNone {
		t.Fatalf("modify failed: %v", res.Failure)
	}
	if got := f.retrieve(t, "a@example.com", "old-secret"); got.Failure != FailureInvalidSecret {
		t.Fatalf("old secret still accepted")
	}
	if got := f.retrieve(t, "a@example.com", "new-secret"); got.Failure != FailureNone {
		t.Fatalf("new secret rejected: %v", got.Failure)
	}

	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = RunModifyAccount(ctx, tx, ModifyAccountRequest{
			Provider: "password",
			Account:  CredentialsAccount{ID: "ghost", Secret: "x"},
		}, f.deps)
		return err
	})
	if res.Failure != FailureInvalidAccountID {
		t.Fatalf("expected InvalidAccountID, got %v", res.Failure)
	}
}

func TestWrongProviderTypeIsStructural(t *testing.T) {
	f := newFixture(t, 10)
	err := f.s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := RunCreateAccountFromCredentials(ctx, tx, CreateAccountRequest{
			Provider: "github",
			Account:  CredentialsAccount{ID: "x", Secret: "y"},
		}, f.deps)
		return err
	})
	if err != ErrWrongProviderType {
		t.Fatalf("expected ErrWrongProviderType, got %v", err)
	}
	err = f.s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := RunModifyAccount(ctx, tx, ModifyAccountRequest{Provider: "nope"}, f.deps)
		return err
	})
	if err != ErrUnknownProvider {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func (f *fixture) issueEmailCode(t *testing.T, email, code string) CreateCodeResult {
	t.Helper()
	var res CreateCodeResult
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = RunCreateVerificationCode(ctx, tx, CreateCodeRequest{Provider: "email", Email: email, Code: code}, f.deps)
		return err
	})
	return res
}

func (f *fixture) verifyEmailCode(t *testing.T, email, code string) VerifyCodeResult {
	t.Helper()
	var res VerifyCodeResult
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = RunVerifyCodeAndSignIn(ctx, tx, VerifyCodeRequest{
			Provider:       "email",
			Code:           code,
			Email:          email,
			GenerateTokens: true,
		}, f.deps)
		return err
	})
	return res
}

func TestVerifyCodeAndSignInMarksEmailVerified(t *testing.T) {
	f := newFixture(t, 10)

	issued := f.issueEmailCode(t, "a@example.com", "12345678")
	if issued.Failure != FailureNone || issued.Identifier != "a@example.com" {
		t.Fatalf("unexpected issue result %+v", issued)
	}
	if !issued.ExpiresAt.Equal(f.clock.now().Add(DefaultCodeTTL)) {
		t.Fatalf("unexpected expiry %v", issued.ExpiresAt)
	}

	res := f.verifyEmailCode(t, "A@example.com", "12345678")
	if res.Failure != FailureNone || res.Tokens == nil || res.SessionID == "" {
		t.Fatalf("verify failed: %+v", res)
	}
	if res.UserID != issued.UserID {
		t.Fatalf("signed in %s, expected %s", res.UserID, issued.UserID)
	}
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		user, err := store.Load[store.User](ctx, tx, store.TableUsers, res.UserID)
		if err != nil {
			return err
		}
		if !user.EmailVerified() {
			t.Fatalf("expected verified email on %+v", user)
		}
		acc, err := store.Load[store.Account](ctx, tx, store.TableAccounts, res.AccountID)
		if err != nil {
			return err
		}
		if acc.EmailVerified != "a@example.com" {
			t.Fatalf("expected account emailVerified marker, got %q", acc.EmailVerified)
		}
		return nil
	})

	if again := f.verifyEmailCode(t, "a@example.com", "12345678"); again.Failure != FailureInvalidCode {
		t.Fatalf("expected reused code to be invalid, got %v", again.Failure)
	}
}

func TestVerifyCodeDistinguishesExpiredAndReplaced(t *testing.T) {
	f := newFixture(t, 10)

	f.issueEmailCode(t, "a@example.com", "11111111")
	f.issueEmailCode(t, "a@example.com", "22222222")
	if res := f.verifyEmailCode(t, "a@example.com", "11111111"); res.Failure != FailureInvalidCode {
		t.Fatalf("expected replaced code to be invalid, got %v", res.Failure)
	}

	f.clock.add(DefaultCodeTTL + time.Second)
	if res := f.verifyEmailCode(t, "a@example.com", "22222222"); res.Failure != FailureExpiredCode {
		t.Fatalf("expected ExpiredCode, got %v", res.Failure)
	}
}

func TestVerifyCodeRejectsOtherEmail(t *testing.T) {
	f := newFixture(t, 10)
	f.issueEmailCode(t, "a@example.com", "12345678")

	if res := f.verifyEmailCode(t, "b@example.com", "12345678"); res.Failure != FailureInvalidCode {
		t.Fatalf("expected InvalidCode for another email, got %v", res.Failure)
	}
	if f.s.Len(store.TableSessions) != 0 {
		t.Fatalf("no session may be created")
	}
}

func TestVerifyCodeRateLimitsIdentifier(t *testing.T) {
	f := newFixture(t, 2)
	f.issueEmailCode(t, "a@example.com", "12345678")

	for i := 0; i < 2; i++ {
		if res := f.verifyEmailCode(t, "a@example.com", "00000000"); res.Failure != FailureInvalidCode {
			t.Fatalf("attempt %d: expected InvalidCode, got %v", i, res.Failure)
		}
	}
	if res := f.verifyEmailCode(t, "a@example.com", "12345678"); res.Failure != FailureRateLimited {
		t.Fatalf("expected RateLimited, got %v", res.Failure)
	}
}

func TestVerifyCodeWithoutIdentifierOrVerifier(t *testing.T) {
	f := newFixture(t, 2)
	f.issueEmailCode(t, "victim@example.com", "12345678")

	redeem := func(req VerifyCodeRequest) (VerifyCodeResult, error) {
		var res VerifyCodeResult
		err := f.s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			var err error
			res, err = RunVerifyCodeAndSignIn(ctx, tx, req, f.deps)
			return err
		})
		return res, err
	}

	for i := 0; i < 5; i++ {
		if _, err := redeem(VerifyCodeRequest{Provider: "email", Code: "00000000"}); !errors.Is(err, ErrMissingIdentifier) {
			t.Fatalf("guess %d: expected ErrMissingIdentifier, got %v", i, err)
		}
	}
	if _, err := redeem(VerifyCodeRequest{Provider: "email", Code: "12345678", GenerateTokens: true}); !errors.Is(err, ErrMissingIdentifier) {
		t.Fatalf("expected ErrMissingIdentifier, got %v", err)
	}

	res, err := redeem(VerifyCodeRequest{Provider: "email", Code: "12345678", Verifier: "made-up", GenerateTokens: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failure != FailureInvalidCode {
		t.Fatalf("expected InvalidCode for a verifier on an unbound code, got %v", res.Failure)
	}
	if n := f.s.Len(store.TableSessions); n != 0 {
		t.Fatalf("no session may be created, have %d", n)
	}
}

func TestVerifyCodeFallsBackToAccountID(t *testing.T) {
	f := newFixture(t, 10)
	created := f.createAccount(t, "dora", "dora-secret")

	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		_, err := RunCreateVerificationCode(ctx, tx, CreateCodeRequest{
			Provider:  "password",
			AccountID: created.Account.ID,
			Code:      "55555555",
		}, f.deps)
		return err
	})

	var res VerifyCodeResult
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = RunVerifyCodeAndSignIn(ctx, tx, VerifyCodeRequest{Provider: "password", Code: "55555555", Email: "mallory"}, f.deps)
		return err
	})
	if res.Failure != FailureInvalidCode {
		t.Fatalf("expected InvalidCode for another identity, got %v", res.Failure)
	}
}

func TestVerifyCodeProviderBinding(t *testing.T) {
	f := newFixture(t, 10)
	f.issueEmailCode(t, "a@example.com", "12345678")

	var res VerifyCodeResult
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = RunVerifyCodeAndSignIn(ctx, tx, VerifyCodeRequest{Provider: "password", Code: "12345678", Email: "a@example.com"}, f.deps)
		return err
	})
	if res.Failure != FailureProviderMismatch {
		t.Fatalf("expected ProviderMismatch, got %v", res.Failure)
	}

	f.issueEmailCode(t, "a@example.com", "87654321")
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = RunVerifyCodeAndSignIn(ctx, tx, VerifyCodeRequest{
			Provider:            "password",
			Code:                "87654321",
			Email:               "a@example.com",
			AllowExtraProviders: true,
		}, f.deps)
		return err
	})
	if res.Failure != FailureNone {
		t.Fatalf("expected extra provider to be accepted, got %v", res.Failure)
	}
}

func TestCreateVerificationCodeForUnknownAccount(t *testing.T) {
	f := newFixture(t, 10)
	var res CreateCodeResult
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = RunCreateVerificationCode(ctx, tx, CreateCodeRequest{Provider: "password", AccountID: "missing", Code: "1234"}, f.deps)
		return err
	})
	if res.Failure != FailureInvalidAccountID {
		t.Fatalf("expected InvalidAccountID, got %v", res.Failure)
	}
}

func TestOAuthSplitPhase(t *testing.T) {
	f := newFixture(t, 10)

	var verifier CreateVerifierResult
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		verifier, err = RunCreateVerifier(ctx, tx, "", f.deps)
		return err
	})
	if verifier.VerifierID == "" || verifier.SessionID != "" {
		t.Fatalf("unexpected verifier %+v", verifier)
	}

	sign := func(sig string) SignVerifierResult {
		var res SignVerifierResult
		f.tx(t, func(ctx context.Context, tx store.Tx) error {
			var err error
			res, err = RunSignVerifier(ctx, tx, SignVerifierRequest{Verifier: verifier.VerifierID, Signature: sig}, f.deps)
			return err
		})
		return res
	}
	if res := sign("pkce state nonce"); res.Failure != FailureNone {
		t.Fatalf("sign failed: %v", res.Failure)
	}
	if res := sign("other"); res.Failure != FailureInvalidVerifier {
		t.Fatalf("expected second signature to be rejected, got %v", res.Failure)
	}

	userOAuth := func(sig string) UserOAuthResult {
		var res UserOAuthResult
		f.tx(t, func(ctx context.Context, tx store.Tx) error {
			var err error
			res, err = RunUserOAuth(ctx, tx, UserOAuthRequest{
				Provider:          "github",
				ProviderAccountID: "4242",
				Profile:           accounts.Profile{Name: "Octo", Email: "octo@example.com"},
				Signature:         sig,
			}, f.deps)
			return err
		})
		return res
	}
	if res := userOAuth("forged"); res.Failure != FailureInvalidVerifier {
		t.Fatalf("expected InvalidVerifier for unknown signature, got %v", res.Failure)
	}
	minted := userOAuth("pkce state nonce")
	if minted.Failure != FailureNone || len(minted.Code) != OAuthCodeLength || minted.VerifierID != verifier.VerifierID {
		t.Fatalf("unexpected userOAuth result %+v", minted)
	}
	if f.s.Len(store.TableVerifiers) != 0 {
		t.Fatalf("verifier must be consumed")
	}

	redeem := func(verifierID string) VerifyCodeResult {
		var res VerifyCodeResult
		f.tx(t, func(ctx context.Context, tx store.Tx) error {
			var err error
			res, err = RunVerifyCodeAndSignIn(ctx, tx, VerifyCodeRequest{
				Provider:       "github",
				Code:           minted.Code,
				Verifier:       verifierID,
				GenerateTokens: true,
			}, f.deps)
			return err
		})
		return res
	}
	if res := redeem("someone-else"); res.Failure != FailureInvalidVerifier {
		t.Fatalf("expected InvalidVerifier, got %v", res.Failure)
	}

	// The failed attempt consumed the code; mint a fresh one.
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		verifier, err = RunCreateVerifier(ctx, tx, "", f.deps)
		return err
	})
	sign("second exchange")
	minted = userOAuth("second exchange")
	res := redeem(verifier.VerifierID)
	if res.Failure != FailureNone || res.Tokens == nil || res.UserID != minted.UserID {
		t.Fatalf("redeem failed: %+v", res)
	}
	if f.s.Len(store.TableAccounts) != 1 {
		t.Fatalf("expected one oauth account")
	}
}

func TestOAuthVerifierAdoptsSessionUser(t *testing.T) {
	f := newFixture(t, 10)
	created := f.createAccount(t, "a@example.com", "secret-value")
	signed := f.signIn(t, created.User.ID)

	var verifier CreateVerifierResult
	var minted UserOAuthResult
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		verifier, err = RunCreateVerifier(ctx, tx, signed.SessionID, f.deps)
		if err != nil {
			return err
		}
		if _, err := RunSignVerifier(ctx, tx, SignVerifierRequest{Verifier: verifier.VerifierID, Signature: "sig"}, f.deps); err != nil {
			return err
		}
		minted, err = RunUserOAuth(ctx, tx, UserOAuthRequest{
			Provider:          "github",
			ProviderAccountID: "7",
			Profile:           accounts.Profile{Name: "Linked"},
			Signature:         "sig",
		}, f.deps)
		return err
	})
	if verifier.SessionID != signed.SessionID {
		t.Fatalf("verifier did not capture session")
	}
	if minted.UserID != created.User.ID {
		t.Fatalf("expected oauth account to join %s, got %s", created.User.ID, minted.UserID)
	}
}

func TestRefreshReuseTerminatesSession(t *testing.T) {
	f := newFixture(t, 10)
	created := f.createAccount(t, "a@example.com", "secret-value")
	signed := f.signIn(t, created.User.ID)

	refresh := func(token string) RefreshResult {
		var res RefreshResult
		f.tx(t, func(ctx context.Context, tx store.Tx) error {
			var err error
			res, err = RunRefresh(ctx, tx, token, f.deps)
			return err
		})
		return res
	}

	first := refresh(signed.Tokens.RefreshToken)
	if first.Failure != FailureNone || first.SessionID != signed.SessionID || first.Tokens == nil {
		t.Fatalf("first refresh failed: %+v", first)
	}
	replay := refresh(signed.Tokens.RefreshToken)
	if replay.Failure != FailureInvalidRefreshToken {
		t.Fatalf("expected replay to fail, got %v", replay.Failure)
	}
	if res := refresh(first.Tokens.RefreshToken); res.Failure == FailureNone {
		t.Fatalf("token issued before replay must be dead")
	}
	if f.s.Len(store.TableSessions) != 0 {
		t.Fatalf("expected session to be terminated")
	}

	err := f.s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := RunRefresh(ctx, tx, "no-divider", f.deps)
		return err
	})
	if err == nil {
		t.Fatalf("expected malformed refresh token error")
	}
}

func TestSignInResumeAndSignOut(t *testing.T) {
	f := newFixture(t, 10)
	created := f.createAccount(t, "a@example.com", "secret-value")
	signed := f.signIn(t, created.User.ID)

	var resumed SignInResult
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		resumed, err = RunSignIn(ctx, tx, SignInRequest{UserID: created.User.ID, SessionID: signed.SessionID}, f.deps)
		return err
	})
	if resumed.Failure != FailureNone || resumed.SessionID != signed.SessionID || resumed.Tokens != nil {
		t.Fatalf("unexpected resume %+v", resumed)
	}

	var out SignOutResult
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = RunSignOut(ctx, tx, signed.SessionID, f.deps)
		return err
	})
	if !out.SignedOut || out.UserID != created.User.ID {
		t.Fatalf("unexpected sign out %+v", out)
	}
	if f.s.Len(store.TableSessions) != 0 || f.s.Len(store.TableRefreshTokens) != 0 {
		t.Fatalf("expected session and refresh tokens removed")
	}

	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		resumed, err = RunSignIn(ctx, tx, SignInRequest{UserID: created.User.ID, SessionID: signed.SessionID}, f.deps)
		return err
	})
	if resumed.Failure != FailureExpiredSession {
		t.Fatalf("expected ExpiredSession, got %v", resumed.Failure)
	}
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		resumed, err = RunSignIn(ctx, tx, SignInRequest{UserID: "ghost"}, f.deps)
		return err
	})
	if resumed.Failure != FailureAccountDeleted {
		t.Fatalf("expected AccountDeleted, got %v", resumed.Failure)
	}
}

func TestInvalidateSessionsKeepsExcluded(t *testing.T) {
	f := newFixture(t, 10)
	created := f.createAccount(t, "a@example.com", "secret-value")
	keep := f.signIn(t, created.User.ID)
	f.signIn(t, created.User.ID)
	f.signIn(t, created.User.ID)

	var res InvalidateSessionsResult
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = RunInvalidateSessions(ctx, tx, InvalidateSessionsRequest{UserID: created.User.ID, Except: []string{keep.SessionID}}, f.deps)
		return err
	})
	if res.Removed != 2 || f.s.Len(store.TableSessions) != 1 {
		t.Fatalf("expected two sessions removed, got %d (left %d)", res.Removed, f.s.Len(store.TableSessions))
	}
}

func TestValidateChecksSessionInStrictMode(t *testing.T) {
	f := newFixture(t, 10)
	created := f.createAccount(t, "a@example.com", "secret-value")
	signed := f.signIn(t, created.User.ID)

	res, err := RunValidate(context.Background(), nil, signed.Tokens.Token, f.deps)
	if err != nil || res.Failure != ValidateFailureNone || res.Claims.SessionID() != signed.SessionID {
		t.Fatalf("stateless validate failed: %+v %v", res, err)
	}
	if res, _ := RunValidate(context.Background(), nil, "garbage", f.deps); res.Failure != ValidateFailureUnauthorized {
		t.Fatalf("expected Unauthorized, got %v", res.Failure)
	}

	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		_, err := RunSignOut(ctx, tx, signed.SessionID, f.deps)
		return err
	})
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		res, err := RunValidate(ctx, tx, signed.Tokens.Token, f.deps)
		if err != nil {
			return err
		}
		if res.Failure != ValidateFailureSessionNotFound {
			t.Fatalf("expected SessionNotFound, got %v", res.Failure)
		}
		return nil
	})
}
