package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	// DigitAlphabet is used for numeric one-time codes.
	DigitAlphabet = "0123456789"
	// AlphanumericAlphabet is used for long opaque codes such as the ones
	// minted at the end of an OAuth callback.
	AlphanumericAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	opaqueTokenSize = 32
)

// RandomString draws length characters uniformly from alphabet using
// crypto/rand.
func RandomString(length int, alphabet string) (string, error) {
	if length <= 0 {
		return "", errors.New("invalid random string length")
	}
	if len(alphabet) < 2 {
		return "", errors.New("alphabet too small")
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n.Int64()])
	}

	out := b.String()
	if len(out) != length {
		return "", fmt.Errorf("invalid random string generation length")
	}
	return out, nil
}

// NewDigitCode returns a numeric code of the given width.
func NewDigitCode(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid code digits")
	}
	return RandomString(digits, DigitAlphabet)
}

// NewOpaqueToken returns 32 random bytes, base64url encoded without padding.
func NewOpaqueToken() (string, error) {
	var raw [opaqueTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// HashCode returns the lowercase hex SHA-256 of a one-time code. Only this
// digest is ever persisted.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
