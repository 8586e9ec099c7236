package authcore

import (
	"context"
	"fmt"
)

// Run dispatches req and asserts the result type. A *Failure result is
// returned as the error, so callers that do not need failures as data can
// use plain error handling.
func Run[T Result](ctx context.Context, e *Engine, req Request) (T, error) {
	var zero T
	res, err := e.Dispatch(ctx, req)
	if err != nil {
		return zero, err
	}
	if f, ok := res.(*Failure); ok {
		return zero, f
	}
	typed, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s returned %T", ErrUnknownRequest, req.requestName(), res)
	}
	return typed, nil
}

// SignUp creates a credentials account and signs its user in. An existing
// account with the same secret is signed in as well; with a different
// secret the call fails with InvalidSecret.
func (e *Engine) SignUp(ctx context.Context, provider string, account CredentialsAccount, profile Profile) (*SessionResult, error) {
	created, err := Run[*AccountResult](ctx, e, CreateAccountFromCredentialsRequest{
		Provider: provider,
		Account:  account,
		Profile:  profile,
	})
	if err != nil {
		return nil, err
	}
	return e.signInAccount(ctx, created)
}

// SignInWithPassword checks the secret of a credentials account and signs
// its user in. Failed attempts count against the account's rate limit.
func (e *Engine) SignInWithPassword(ctx context.Context, provider string, account CredentialsAccount) (*SessionResult, error) {
	found, err := Run[*AccountResult](ctx, e, RetrieveAccountWithCredentialsRequest{
		Provider: provider,
		Account:  account,
	})
	if err != nil {
		return nil, err
	}
	return e.signInAccount(ctx, found)
}

// ChangePassword replaces the secret of a credentials account. Existing
// sessions are left alone; pair it with InvalidateSessionsRequest to end them.
func (e *Engine) ChangePassword(ctx context.Context, provider string, account CredentialsAccount) error {
	_, err := Run[*AccountResult](ctx, e, ModifyAccountRequest{Provider: provider, Account: account})
	return err
}

func (e *Engine) signInAccount(ctx context.Context, acc *AccountResult) (*SessionResult, error) {
	if acc.Account == nil {
		return nil, fmt.Errorf("%w: account result without account", ErrMissingIdentifier)
	}
	res, err := Run[*SessionResult](ctx, e, SignInRequest{
		UserID:         acc.Account.UserID,
		GenerateTokens: true,
	})
	if err != nil {
		return nil, err
	}
	res.AccountID = acc.Account.ID
	return res, nil
}
