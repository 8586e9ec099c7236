// Package accounts resolves an incoming identity to a user and account,
// linking it to an existing user when policy allows.
//
// # Resolution order
//
//  1. An already-resolved account keeps its user.
//  2. Otherwise the caller's current session user, when present, adopts the
//     new account.
//  3. Otherwise a unique user with a verified identical email or phone is
//     linked when the linking flags allow it.
//  4. Otherwise a new user is created.
//
// A verified email or phone already on a user is never replaced by an
// unverified one, and contradictory matches fail with ErrProviderMismatch.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/store"
)

// ErrProviderMismatch is returned when an identity matches more than one
// distinct user.
var ErrProviderMismatch = errors.New("identity matches conflicting users")

// ProviderType is the kind of provider that produced an identity.
type ProviderType string

const (
	// TypeCredentials is a secret-based provider such as a password.
	TypeCredentials ProviderType = "credentials"
	// TypeOAuth is an OAuth 2.0 authorization code provider.
	TypeOAuth ProviderType = "oauth"
	// TypeOIDC is an OAuth provider that also returns an ID token.
	TypeOIDC ProviderType = "oidc"
	// TypeEmail signs in with a code or link sent to an email address.
	TypeEmail ProviderType = "email"
	// TypePhone signs in with a code sent to a phone number.
	TypePhone ProviderType = "phone"
)

// Profile is the user-facing data an identity contributes.
type Profile struct {
	Name          string
	Image         string
	Email         string
	EmailVerified *bool
	Phone         string
	PhoneVerified *bool
	// Extra is merged into the user document verbatim.
	Extra map[string]any
}

// Input describes one identity to upsert.
type Input struct {
	ProviderID   string
	ProviderType ProviderType
	// ExistingAccount short-circuits the account lookup.
	ExistingAccount *store.Account
	// ProviderAccountID is required when ExistingAccount is nil.
	ProviderAccountID string
	// Secret is an already-hashed credential stored on new accounts.
	Secret  string
	Profile Profile

	ShouldLinkViaEmail bool
	ShouldLinkViaPhone bool
	// AllowDangerousEmailAccountLinking governs whether OAuth emails without
	// an explicit verification flag count as verified. nil means true.
	AllowDangerousEmailAccountLinking *bool

	// SessionUserID is the user of the caller's current session, if any.
	SessionUserID string
}

// Result identifies the resolved pair.
type Result struct {
	UserID         string
	AccountID      string
	CreatedUser    bool
	CreatedAccount bool
	LinkedUser     bool
}

// Config holds linking policy.
type Config struct {
	// RequireVerifiedCredential disables linking on ShouldLinkViaEmail or
	// ShouldLinkViaPhone alone; the incoming email or phone must itself be
	// verified.
	RequireVerifiedCredential bool
}

// Resolver performs account linking inside a caller-supplied transaction.
type Resolver struct {
	config Config
	now    func() time.Time
}

// NewResolver creates a Resolver; a nil clock means time.Now.
func NewResolver(cfg Config, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{config: cfg, now: now}
}

// NormalizeAccountID is the lowercased lookup key for legacy accounts.
func NormalizeAccountID(providerAccountID string) string {
	return strings.ToLower(providerAccountID)
}

// FindAccount looks up (provider, providerAccountID) exactly, then by the
// normalized id when that differs.
func (r *Resolver) FindAccount(ctx context.Context, tx store.Tx, provider, providerAccountID string) (*store.Account, error) {
	acc, err := store.First[store.Account](ctx, tx, store.TableAccounts, store.IndexProviderAndAccountID, provider, providerAccountID)
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	if acc != nil {
		return acc, nil
	}
	normalized := NormalizeAccountID(providerAccountID)
	if normalized == providerAccountID {
		return nil, nil
	}
	acc, err = store.First[store.Account](ctx, tx, store.TableAccounts, store.IndexProviderAndAccountID, provider, normalized)
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	return acc, nil
}

// Upsert resolves the identity to a user and account, creating or linking
// as needed, and merges the profile into the user.
func (r *Resolver) Upsert(ctx context.Context, tx store.Tx, in Input) (Result, error) {
	existing := in.ExistingAccount
	if existing == nil {
		if in.ProviderAccountID == "" {
			return Result{}, errors.New("accounts: provider account id required")
		}
		var err error
		existing, err = r.FindAccount(ctx, tx, in.ProviderID, in.ProviderAccountID)
		if err != nil {
			return Result{}, err
		}
	}

	emailVerified, phoneVerified := r.verification(in)

	var (
		userID string
		linked bool
		err    error
	)
	if existing != nil {
		userID = existing.UserID
	} else {
		userID, err = r.linkTarget(ctx, tx, in, emailVerified, phoneVerified)
		if err != nil {
			return Result{}, err
		}
		linked = userID != ""
	}

	res := Result{LinkedUser: linked}
	if userID != "" {
		user, err := store.Load[store.User](ctx, tx, store.TableUsers, userID)
		if err != nil {
			return Result{}, fmt.Errorf("load user: %w", err)
		}
		if user == nil {
			if existing != nil {
				return Result{}, fmt.Errorf("accounts: account %s references missing user %s", existing.ID, userID)
			}
			userID = ""
			res.LinkedUser = false
		} else if err := tx.Patch(ctx, store.TableUsers, userID, r.userPatch(user, in.Profile, emailVerified, phoneVerified)); err != nil {
			return Result{}, fmt.Errorf("update user %s: %w", userID, err)
		}
	}
	if userID == "" {
		userID, err = tx.Insert(ctx, store.TableUsers, r.userPatch(nil, in.Profile, emailVerified, phoneVerified))
		if err != nil {
			return Result{}, fmt.Errorf("create user: %w", err)
		}
		res.CreatedUser = true
	}
	res.UserID = userID

	if existing != nil {
		res.AccountID = existing.ID
		return res, nil
	}
	accountID, err := tx.Insert(ctx, store.TableAccounts, store.Account{
		UserID:            userID,
		Provider:          in.ProviderID,
		ProviderAccountID: in.ProviderAccountID,
		Secret:            in.Secret,
	})
	if err != nil {
		return Result{}, fmt.Errorf("create account: %w", err)
	}
	res.AccountID = accountID
	res.CreatedAccount = true
	return res, nil
}

func (r *Resolver) verification(in Input) (email, phone bool) {
	if in.Profile.EmailVerified != nil {
		email = *in.Profile.EmailVerified
	} else if in.ProviderType == TypeOAuth || in.ProviderType == TypeOIDC {
		email = in.AllowDangerousEmailAccountLinking == nil || *in.AllowDangerousEmailAccountLinking
	}
	if in.Profile.PhoneVerified != nil {
		phone = *in.Profile.PhoneVerified
	}
	return email && in.Profile.Email != "", phone && in.Profile.Phone != ""
}

// linkTarget picks the user a new account should join, or "" for a new user.
func (r *Resolver) linkTarget(ctx context.Context, tx store.Tx, in Input, emailVerified, phoneVerified bool) (string, error) {
	viaEmail := emailVerified || in.ProviderType == TypeEmail
	viaPhone := phoneVerified || in.ProviderType == TypePhone
	if !r.config.RequireVerifiedCredential {
		viaEmail = viaEmail || in.ShouldLinkViaEmail
		viaPhone = viaPhone || in.ShouldLinkViaPhone
	}

	var emailUser, phoneUser string
	if viaEmail && in.Profile.Email != "" {
		u, err := uniqueVerifiedUser(ctx, tx, store.IndexEmail, in.Profile.Email, (*store.User).EmailVerified)
		if err != nil {
			return "", err
		}
		emailUser = u
	}
	if viaPhone && in.Profile.Phone != "" {
		u, err := uniqueVerifiedUser(ctx, tx, store.IndexPhone, in.Profile.Phone, (*store.User).PhoneVerified)
		if err != nil {
			return "", err
		}
		phoneUser = u
	}
	if emailUser != "" && phoneUser != "" && emailUser != phoneUser {
		return "", ErrProviderMismatch
	}
	matched := emailUser
	if matched == "" {
		matched = phoneUser
	}

	if in.SessionUserID != "" {
		if matched != "" && matched != in.SessionUserID {
			return "", ErrProviderMismatch
		}
		return in.SessionUserID, nil
	}
	return matched, nil
}

func uniqueVerifiedUser(ctx context.Context, tx store.Tx, index, value string, verified func(*store.User) bool) (string, error) {
	users, err := store.Find[store.User](ctx, tx, store.TableUsers, index, value)
	if err != nil {
		return "", fmt.Errorf("find users by %s: %w", index, err)
	}
	var match string
	for i := range users {
		if !verified(&users[i]) {
			continue
		}
		if match != "" {
			// Ambiguous: never guess between verified owners.
			return "", nil
		}
		match = users[i].ID
	}
	return match, nil
}

// userPatch builds the user fields for an upsert. For existing users a
// verified email or phone is kept when the incoming one is unverified.
func (r *Resolver) userPatch(user *store.User, p Profile, emailVerified, phoneVerified bool) map[string]any {
	now := r.now().UnixMilli()
	patch := make(map[string]any, len(p.Extra)+6)
	for k, v := range p.Extra {
		patch[k] = v
	}
	if p.Name != "" {
		patch["name"] = p.Name
	}
	if p.Image != "" {
		patch["image"] = p.Image
	}
	if p.Email != "" && (emailVerified || user == nil || !user.EmailVerified() || user.Email == p.Email) {
		patch["email"] = p.Email
		if emailVerified {
			patch["emailVerificationTime"] = now
		}
	}
	if p.Phone != "" && (phoneVerified || user == nil || !user.PhoneVerified() || user.Phone == p.Phone) {
		patch["phone"] = p.Phone
		if phoneVerified {
			patch["phoneVerificationTime"] = now
		}
	}
	return patch
}
