package authcore

import (
	"time"

	"github.com/MrEthical07/authcore/internal/accounts"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
)

// Request is one dispatcher operation. The set is closed: only the request
// types declared in this package implement it.
//
// The caller's current session, where an operation needs it, is read from
// the context (see [WithCurrentSession]).
type Request interface {
	requestName() string
}

// Result is the success payload of a dispatcher operation, or a *Failure.
type Result interface {
	isResult()
}

// Tokens is an access token and refresh token pair.
type Tokens = session.Tokens

// Profile is the user data an identity contributes to its user document.
type Profile struct {
	Name          string
	Image         string
	Email         string
	EmailVerified *bool
	Phone         string
	PhoneVerified *bool
	Extra         map[string]any
}

func (p Profile) internal() accounts.Profile {
	return accounts.Profile{
		Name:          p.Name,
		Image:         p.Image,
		Email:         p.Email,
		EmailVerified: p.EmailVerified,
		Phone:         p.Phone,
		PhoneVerified: p.PhoneVerified,
		Extra:         p.Extra,
	}
}

// CredentialsAccount names a credentials account and carries its plaintext
// secret, if any.
type CredentialsAccount struct {
	ID     string
	Secret string
}

// Identity is the caller resolved from a valid access token.
type Identity struct {
	UserID    string
	SessionID string
	ExpiresAt time.Time
}

/*
====================================
REQUESTS
====================================
*/

// SignInRequest starts a session for an already-resolved user, replacing
// the caller's current one. A non-empty SessionID resumes that session.
type SignInRequest struct {
	UserID         string
	SessionID      string
	GenerateTokens bool
}

// SignOutRequest deletes the caller's current session.
type SignOutRequest struct{}

// RefreshSessionRequest rotates a refresh token.
type RefreshSessionRequest struct {
	RefreshToken string
}

// VerifyCodeAndSignInRequest redeems a verification code, or the code minted
// by an OAuth callback together with its verifier.
type VerifyCodeAndSignInRequest struct {
	Provider            string
	Code                string
	Verifier            string
	Email               string
	Phone               string
	AllowExtraProviders bool
	GenerateTokens      bool
}

// VerifierRequest creates the verifier that opens an OAuth flow.
type VerifierRequest struct{}

// VerifierSignatureRequest binds the check signature of an OAuth redirect to
// a verifier.
type VerifierSignatureRequest struct {
	Verifier  string
	Signature string
}

// UserOAuthRequest records the identity returned by an OAuth callback.
type UserOAuthRequest struct {
	Provider          string
	ProviderAccountID string
	Profile           Profile
	Signature         string
}

// CreateVerificationCodeRequest issues a code for an account, resolving the
// account from Email or Phone when AccountID is empty. Code is the plaintext
// the caller will deliver; it is stored hashed.
type CreateVerificationCodeRequest struct {
	Provider  string
	AccountID string
	Email     string
	Phone     string
	Code      string
	ExpiresAt time.Time
}

// CreateAccountFromCredentialsRequest creates a credentials account, or
// returns it when the same id and secret were already registered.
type CreateAccountFromCredentialsRequest struct {
	Provider           string
	Account            CredentialsAccount
	Profile            Profile
	ShouldLinkViaEmail bool
	ShouldLinkViaPhone bool
}

// RetrieveAccountWithCredentialsRequest looks an account up and checks its
// secret when one is given.
type RetrieveAccountWithCredentialsRequest struct {
	Provider string
	Account  CredentialsAccount
}

// ModifyAccountRequest replaces the secret of a credentials account.
type ModifyAccountRequest struct {
	Provider string
	Account  CredentialsAccount
}

// InvalidateSessionsRequest deletes every session of UserID except those
// listed in Except.
type InvalidateSessionsRequest struct {
	UserID string
	Except []string
}

func (SignInRequest) requestName() string {
	return "signIn"
}

func (SignOutRequest) requestName() string {
	return "signOut"
}

func (RefreshSessionRequest) requestName() string {
	return "refreshSession"
}

func (VerifyCodeAndSignInRequest) requestName() string {
	return "verifyCodeAndSignIn"
}

func (VerifierRequest) requestName() string {
	return "verifier"
}

func (VerifierSignatureRequest) requestName() string {
	return "verifierSignature"
}

func (UserOAuthRequest) requestName() string {
	return "userOAuth"
}

func (CreateVerificationCodeRequest) requestName() string {
	return "createVerificationCode"
}

func (CreateAccountFromCredentialsRequest) requestName() string {
	return "createAccountFromCredentials"
}

func (RetrieveAccountWithCredentialsRequest) requestName() string {
	return "retrieveAccountWithCredentials"
}

func (ModifyAccountRequest) requestName() string {
	return "modifyAccount"
}

func (InvalidateSessionsRequest) requestName() string {
	return "invalidateSessions"
}

/*
====================================
RESULTS
====================================
*/

// SessionResult is returned by signIn, refreshSession and
// verifyCodeAndSignIn. Tokens is nil when none were requested.
type SessionResult struct {
	UserID    string
	SessionID string
	// AccountID is set by verifyCodeAndSignIn.
	AccountID string
	Tokens    *Tokens
}

// SignOutResult names the removed session; both fields are empty when the
// caller had none.
type SignOutResult struct {
	UserID    string
	SessionID string
}

// VerifierResult carries the id of a new verifier.
type VerifierResult struct {
	VerifierID string
}

// VerifierSignatureResult acknowledges a signed verifier.
type VerifierSignatureResult struct{}

// UserOAuthResult carries the one-time code to redeem with the verifier.
type UserOAuthResult struct {
	Code       string
	VerifierID string
	UserID     string
	AccountID  string
	Created    bool
}

// VerificationCodeResult says where to deliver a code. The plaintext code
// is never echoed back.
type VerificationCodeResult struct {
	Identifier string
	AccountID  string
	UserID     string
	ExpiresAt  time.Time
}

// AccountResult carries the resolved account and its user.
type AccountResult struct {
	Account *store.Account
	User    *store.User
	Created bool
}

// InvalidateSessionsResult reports how many sessions were removed.
type InvalidateSessionsResult struct {
	Removed int
}

func (*SessionResult) isResult()            {}
func (*SignOutResult) isResult()            {}
func (*VerifierResult) isResult()           {}
func (*VerifierSignatureResult) isResult()  {}
func (*UserOAuthResult) isResult()          {}
func (*VerificationCodeResult) isResult()   {}
func (*AccountResult) isResult()            {}
func (*InvalidateSessionsResult) isResult() {}
