package session

import (
	"errors"
	"strings"
)

// RefreshTokenDivider separates the refresh token id from the session id.
const RefreshTokenDivider = "|"

// ErrMalformedRefreshToken is returned for presentations that are not
// "<id>|<sessionId>".
var ErrMalformedRefreshToken = errors.New("malformed refresh token")

// EncodeRefreshToken renders the external representation of a refresh token.
func EncodeRefreshToken(refreshTokenID, sessionID string) string {
	return refreshTokenID + RefreshTokenDivider + sessionID
}

// DecodeRefreshToken parses the external representation of a refresh token.
func DecodeRefreshToken(presentation string) (refreshTokenID, sessionID string, err error) {
	refreshTokenID, sessionID, ok := strings.Cut(presentation, RefreshTokenDivider)
	if !ok || refreshTokenID == "" || sessionID == "" || strings.Contains(sessionID, RefreshTokenDivider) {
		return "", "", ErrMalformedRefreshToken
	}
	return refreshTokenID, sessionID, nil
}
