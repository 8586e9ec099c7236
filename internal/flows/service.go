package flows

import (
	"context"

	"github.com/MrEthical07/authcore/store"
)

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Sessions != nil && s.deps.Accounts != nil && s.deps.Codes != nil
}

func (s Service) SignIn(ctx context.Context, tx store.Tx, req SignInRequest) (SignInResult, error) {
	return RunSignIn(ctx, tx, req, s.deps)
}

func (s Service) SignOut(ctx context.Context, tx store.Tx, currentSessionID string) (SignOutResult, error) {
	return RunSignOut(ctx, tx, currentSessionID, s.deps)
}

func (s Service) Refresh(ctx context.Context, tx store.Tx, refreshToken string) (RefreshResult, error) {
	return RunRefresh(ctx, tx, refreshToken, s.deps)
}

func (s Service) InvalidateSessions(ctx context.Context, tx store.Tx, req InvalidateSessionsRequest) (InvalidateSessionsResult, error) {
	return RunInvalidateSessions(ctx, tx, req, s.deps)
}

func (s Service) VerifyCodeAndSignIn(ctx context.Context, tx store.Tx, req VerifyCodeRequest) (VerifyCodeResult, error) {
	return RunVerifyCodeAndSignIn(ctx, tx, req, s.deps)
}

func (s Service) CreateVerificationCode(ctx context.Context, tx store.Tx, req CreateCodeRequest) (CreateCodeResult, error) {
	return RunCreateVerificationCode(ctx, tx, req, s.deps)
}

func (s Service) CreateVerifier(ctx context.Context, tx store.Tx, currentSessionID string) (CreateVerifierResult, error) {
	return RunCreateVerifier(ctx, tx, currentSessionID, s.deps)
}

func (s Service) SignVerifier(ctx context.Context, tx store.Tx, req SignVerifierRequest) (SignVerifierResult, error) {
	return RunSignVerifier(ctx, tx, req, s.deps)
}

func (s Service) UserOAuth(ctx context.Context, tx store.Tx, req UserOAuthRequest) (UserOAuthResult, error) {
	return RunUserOAuth(ctx, tx, req, s.deps)
}

func (s Service) CreateAccountFromCredentials(ctx context.Context, tx store.Tx, req CreateAccountRequest) (AccountResult, error) {
	return RunCreateAccountFromCredentials(ctx, tx, req, s.deps)
}

func (s Service) RetrieveAccountWithCredentials(ctx context.Context, tx store.Tx, req RetrieveAccountRequest) (AccountResult, error) {
	return RunRetrieveAccountWithCredentials(ctx, tx, req, s.deps)
}

func (s Service) ModifyAccount(ctx context.Context, tx store.Tx, req ModifyAccountRequest) (AccountResult, error) {
	return RunModifyAccount(ctx, tx, req, s.deps)
}

// Validate checks an access token; a nil tx skips the session lookup.
func (s Service) Validate(ctx context.Context, tx store.Tx, token string) (ValidateResult, error) {
	return RunValidate(ctx, tx, token, s.deps)
}
