package store

// User is the profile record an identity resolves to. Profile fields beyond
// the ones declared here are kept in the document and are visible to
// triggers, but the core never reads them.
type User struct {
	ID                    string `json:"_id,omitempty"`
	CreationTime          int64  `json:"_creationTime,omitempty"`
	Name                  string `json:"name,omitempty"`
	Image                 string `json:"image,omitempty"`
	Email                 string `json:"email,omitempty"`
	EmailVerificationTime int64  `json:"emailVerificationTime,omitempty"`
	Phone                 string `json:"phone,omitempty"`
	PhoneVerificationTime int64  `json:"phoneVerificationTime,omitempty"`
	IsAnonymous           bool   `json:"isAnonymous,omitempty"`
}

// EmailVerified reports whether the user's email has been verified.
func (u *User) EmailVerified() bool { return u != nil && u.EmailVerificationTime > 0 }

// PhoneVerified reports whether the user's phone has been verified.
func (u *User) PhoneVerified() bool { return u != nil && u.PhoneVerificationTime > 0 }

// Account is one external or local identity owned by a user.
type Account struct {
	ID                string `json:"_id,omitempty"`
	CreationTime      int64  `json:"_creationTime,omitempty"`
	UserID            string `json:"userId"`
	Provider          string `json:"provider"`
	ProviderAccountID string `json:"providerAccountId"`
	Secret            string `json:"secret,omitempty"`
	EmailVerified     string `json:"emailVerified,omitempty"`
	PhoneVerified     string `json:"phoneVerified,omitempty"`
}

// Session belongs to one user and is checked for expiry lazily on use.
type Session struct {
	ID             string `json:"_id,omitempty"`
	CreationTime   int64  `json:"_creationTime,omitempty"`
	UserID         string `json:"userId"`
	ExpirationTime int64  `json:"expirationTime"`
}

// RefreshToken belongs to exactly one session.
type RefreshToken struct {
	ID             string `json:"_id,omitempty"`
	CreationTime   int64  `json:"_creationTime,omitempty"`
	SessionID      string `json:"sessionId"`
	ExpirationTime int64  `json:"expirationTime"`
}

// VerificationCode stores the hash of a one-time code for an account.
type VerificationCode struct {
	ID             string `json:"_id,omitempty"`
	CreationTime   int64  `json:"_creationTime,omitempty"`
	AccountID      string `json:"accountId"`
	Provider       string `json:"provider"`
	Code           string `json:"code"`
	ExpirationTime int64  `json:"expirationTime"`
	Verifier       string `json:"verifier,omitempty"`
	EmailVerified  string `json:"emailVerified,omitempty"`
	PhoneVerified  string `json:"phoneVerified,omitempty"`
}

// Verifier correlates a pending OAuth exchange with the transaction that
// finalizes it.
type Verifier struct {
	ID           string `json:"_id,omitempty"`
	CreationTime int64  `json:"_creationTime,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
	Signature    string `json:"signature,omitempty"`
}

// RateLimit tracks failed attempts for one identifier.
type RateLimit struct {
	ID              string  `json:"_id,omitempty"`
	CreationTime    int64   `json:"_creationTime,omitempty"`
	Identifier      string  `json:"identifier"`
	LastAttemptTime int64   `json:"lastAttemptTime"`
	AttemptsLeft    float64 `json:"attemptsLeft"`
}
