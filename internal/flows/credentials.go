package flows

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/internal/accounts"
	"github.com/MrEthical07/authcore/store"
)

// CredentialsAccount names an account by its provider-local id and carries
// the plaintext secret, if any.
type CredentialsAccount struct {
	ID     string
	Secret string
}

// CreateAccountRequest creates (or idempotently returns) a credentials
// account.
type CreateAccountRequest struct {
	Provider           string
	Account            CredentialsAccount
	Profile            accounts.Profile
	ShouldLinkViaEmail bool
	ShouldLinkViaPhone bool
	CurrentSessionID   string
}

// AccountResult carries the resolved account and user documents.
type AccountResult struct {
	Failure FailureKind
	Detail  string
	Account *store.Account
	User    *store.User
	Created bool
}

type upgradeChecker interface {
	NeedsUpgrade(encoded string) (bool, error)
}

// RunCreateAccountFromCredentials returns the existing account when the
// secret matches, fails with InvalidSecret when it does not, and otherwise
// creates the account under a resolved or new user.
func RunCreateAccountFromCredentials(ctx context.Context, tx store.Tx, req CreateAccountRequest, deps Deps) (AccountResult, error) {
	info, err := deps.provider(req.Provider, accounts.TypeCredentials)
	if err != nil {
		return AccountResult{}, err
	}
	if req.Account.ID == "" {
		return AccountResult{}, ErrMissingIdentifier
	}

	existing, err := deps.Accounts.FindAccount(ctx, tx, info.ID, req.Account.ID)
	if err != nil {
		return AccountResult{}, err
	}
	if existing != nil {
		if req.Account.Secret != "" {
			ok, err := deps.verifySecret(req.Account.Secret, existing.Secret)
			if err != nil {
				return AccountResult{}, err
			}
			if !ok {
				return AccountResult{Failure: FailureInvalidSecret, Detail: "account already exists"}, nil
			}
		}
		return withUser(ctx, tx, existing, false)
	}

	var secret string
	if req.Account.Secret != "" {
		secret, err = deps.Hasher.Hash(req.Account.Secret)
		if err != nil {
			return AccountResult{}, fmt.Errorf("hash secret: %w", err)
		}
	}
	sessionUser, err := deps.sessionUser(ctx, tx, req.CurrentSessionID)
	if err != nil {
		return AccountResult{}, err
	}
	res, err := deps.Accounts.Upsert(ctx, tx, accounts.Input{
		ProviderID:         info.ID,
		ProviderType:       info.Type,
		ProviderAccountID:  accounts.NormalizeAccountID(req.Account.ID),
		Secret:             secret,
		Profile:            req.Profile,
		ShouldLinkViaEmail: req.ShouldLinkViaEmail,
		ShouldLinkViaPhone: req.ShouldLinkViaPhone,
		SessionUserID:      sessionUser,
	})
	if errors.Is(err, accounts.ErrProviderMismatch) {
		return AccountResult{Failure: FailureProviderMismatch}, nil
	}
	if err != nil {
		return AccountResult{}, err
	}
	acc, err := store.Load[store.Account](ctx, tx, store.TableAccounts, res.AccountID)
	if err != nil {
		return AccountResult{}, fmt.Errorf("load account: %w", err)
	}
	if acc == nil {
		return AccountResult{}, fmt.Errorf("flows: account %s vanished after upsert", res.AccountID)
	}
	return withUser(ctx, tx, acc, res.CreatedAccount)
}

// RetrieveAccountRequest looks a credentials account up and optionally
// checks its secret.
type RetrieveAccountRequest struct {
	Provider string
	Account  CredentialsAccount
}

// RunRetrieveAccountWithCredentials resolves the account and, when a secret
// is presented, verifies it under the account's rate limit.
func RunRetrieveAccountWithCredentials(ctx context.Context, tx store.Tx, req RetrieveAccountRequest, deps Deps) (AccountResult, error) {
	info, err := deps.provider(req.Provider, accounts.TypeCredentials)
	if err != nil {
		return AccountResult{}, err
	}
	acc, err := deps.Accounts.FindAccount(ctx, tx, info.ID, req.Account.ID)
	if err != nil {
		return AccountResult{}, err
	}
	if acc == nil {
		return AccountResult{Failure: FailureInvalidAccountID}, nil
	}

	if req.Account.Secret != "" {
		limited, err := deps.Limiter.IsLimited(ctx, tx, acc.ID)
		if err != nil {
			return AccountResult{}, err
		}
		if limited {
			return AccountResult{Failure: FailureTooManyFailedAttempts, Account: acc}, nil
		}
		ok, err := deps.verifySecret(req.Account.Secret, acc.Secret)
		if err != nil {
			return AccountResult{}, err
		}
		if !ok {
			if err := deps.Limiter.RecordFailure(ctx, tx, acc.ID); err != nil {
				return AccountResult{}, err
			}
			return AccountResult{Failure: FailureInvalidSecret, Account: acc}, nil
		}
		if err := deps.Limiter.Reset(ctx, tx, acc.ID); err != nil {
			return AccountResult{}, err
		}
		if err := deps.upgradeSecret(ctx, tx, acc, req.Account.Secret); err != nil {
			return AccountResult{}, err
		}
	}
	return withUser(ctx, tx, acc, false)
}

// ModifyAccountRequest replaces a credentials account's secret.
type ModifyAccountRequest struct {
	Provider string
	Account  CredentialsAccount
}

// RunModifyAccount rehashes and stores a new secret.
func RunModifyAccount(ctx context.Context, tx store.Tx, req ModifyAccountRequest, deps Deps) (AccountResult, error) {
	info, err := deps.provider(req.Provider, accounts.TypeCredentials)
	if err != nil {
		return AccountResult{}, err
	}
	acc, err := deps.Accounts.FindAccount(ctx, tx, info.ID, req.Account.ID)
	if err != nil {
		return AccountResult{}, err
	}
	if acc == nil {
		return AccountResult{Failure: FailureInvalidAccountID}, nil
	}
	secret, err := deps.Hasher.Hash(req.Account.Secret)
	if err != nil {
		return AccountResult{}, fmt.Errorf("hash secret: %w", err)
	}
	if err := tx.Patch(ctx, store.TableAccounts, acc.ID, map[string]any{"secret": secret}); err != nil {
		return AccountResult{}, fmt.Errorf("update secret: %w", err)
	}
	acc.Secret = secret
	return AccountResult{Account: acc}, nil
}

func (d Deps) verifySecret(secret, encoded string) (bool, error) {
	if encoded == "" {
		return false, nil
	}
	ok, err := d.Hasher.Verify(secret, encoded)
	if err != nil {
		return false, fmt.Errorf("verify secret: %w", err)
	}
	return ok, nil
}

// upgradeSecret rehashes a verified secret stored with outdated parameters.
func (d Deps) upgradeSecret(ctx context.Context, tx store.Tx, acc *store.Account, secret string) error {
	checker, ok := d.Hasher.(upgradeChecker)
	if !ok {
		return nil
	}
	needs, err := checker.NeedsUpgrade(acc.Secret)
	if err != nil || !needs {
		return nil
	}
	encoded, err := d.Hasher.Hash(secret)
	if err != nil {
		d.warn("authcore: secret rehash failed", "account_id", acc.ID, "error", err)
		return nil
	}
	if err := tx.Patch(ctx, store.TableAccounts, acc.ID, map[string]any{"secret": encoded}); err != nil {
		return fmt.Errorf("upgrade secret: %w", err)
	}
	acc.Secret = encoded
	return nil
}

func withUser(ctx context.Context, tx store.Tx, acc *store.Account, created bool) (AccountResult, error) {
	user, err := store.Load[store.User](ctx, tx, store.TableUsers, acc.UserID)
	if err != nil {
		return AccountResult{}, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return AccountResult{Failure: FailureAccountDeleted, Account: acc}, nil
	}
	return AccountResult{Account: acc, User: user, Created: created}, nil
}
