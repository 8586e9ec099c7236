package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16

	phcPrefix = "$argon2id$"

	// DefaultMaxSecretBytes caps secret input so hashing cost stays bounded.
	DefaultMaxSecretBytes = 1024
)

var (
	// ErrEmptySecret is returned when hashing an empty secret.
	ErrEmptySecret = errors.New("secret must not be empty")
	// ErrSecretTooLong is returned for secrets above MaxSecretBytes.
	ErrSecretTooLong = errors.New("secret exceeds maximum length")
	// ErrMalformedHash is returned when a stored digest is not an Argon2id
	// PHC string this package can verify.
	ErrMalformedHash = errors.New("malformed argon2id hash")
)

var b64 = base64.RawStdEncoding

// Hasher turns account secrets into storable digests and checks candidates
// against them. *Argon2 is the default implementation.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret, encodedHash string) (bool, error)
}

// Config holds the Argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory         uint32
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MaxSecretBytes int
}

// DefaultConfig returns the OWASP-recommended Argon2id parameters.
func DefaultConfig() Config {
	return Config{
		Memory:         64 * 1024,
		Time:           3,
		Parallelism:    2,
		SaltLength:     16,
		KeyLength:      32,
		MaxSecretBytes: DefaultMaxSecretBytes,
	}
}

func (c Config) validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return fmt.Errorf("argon2 memory must be >= %d KiB", minMemoryKB)
	case c.Time < minTimeCost:
		return errors.New("argon2 time must be >= 1")
	case c.Parallelism < minParallelism:
		return errors.New("argon2 parallelism must be >= 1")
	case c.SaltLength < minSaltLength:
		return fmt.Errorf("argon2 salt length must be >= %d", minSaltLength)
	case c.KeyLength < minKeyLength:
		return fmt.Errorf("argon2 key length must be >= %d", minKeyLength)
	}
	return nil
}

// cost is the part of a digest that decides how expensive it was to make.
type cost struct {
	memory      uint32
	time        uint32
	parallelism uint8
	keyLength   uint32
}

// below reports whether c is cheaper than want in any dimension, or was
// derived to a different key length.
func (c cost) below(want cost) bool {
	return c.memory < want.memory ||
		c.time < want.time ||
		c.parallelism < want.parallelism ||
		c.keyLength != want.keyLength
}

type digest struct {
	cost
	salt []byte
	key  []byte
}

func (d digest) String() string {
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		phcPrefix, argon2.Version,
		d.memory, d.time, d.parallelism,
		b64.EncodeToString(d.salt), b64.EncodeToString(d.key))
}

// Argon2 hashes secrets with Argon2id into PHC strings. It is safe for
// concurrent use.
type Argon2 struct {
	config Config
	target cost
}

// NewArgon2 validates cfg and returns a hasher. A zero MaxSecretBytes
// selects DefaultMaxSecretBytes.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxSecretBytes <= 0 {
		cfg.MaxSecretBytes = DefaultMaxSecretBytes
	}
	return &Argon2{
		config: cfg,
		target: cost{
			memory:      cfg.Memory,
			time:        cfg.Time,
			parallelism: cfg.Parallelism,
			keyLength:   cfg.KeyLength,
		},
	}, nil
}

func (a *Argon2) derive(secret string, salt []byte, c cost) []byte {
	// Bytes are hashed as given; no Unicode normalization.
	return argon2.IDKey([]byte(secret), salt, c.time, c.memory, c.parallelism, c.keyLength)
}

// Hash returns the PHC encoding of a freshly salted Argon2id digest.
func (a *Argon2) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	if len(secret) > a.config.MaxSecretBytes {
		return "", ErrSecretTooLong
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	d := digest{cost: a.target, salt: salt}
	d.key = a.derive(secret, salt, a.target)
	return d.String(), nil
}

// Verify recomputes the digest with the parameters stored in encodedHash and
// compares in constant time. A malformed hash is an error, a mismatch is not.
func (a *Argon2) Verify(secret, encodedHash string) (bool, error) {
	if len(secret) > a.config.MaxSecretBytes {
		return false, ErrSecretTooLong
	}
	d, err := parseDigest(encodedHash)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(a.derive(secret, d.salt, d.cost), d.key) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker
// parameters than the current configuration.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	d, err := parseDigest(encodedHash)
	if err != nil {
		return false, err
	}
	return d.below(a.target), nil
}

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", ErrMalformedHash, reason)
}

func parseDigest(encoded string) (digest, error) {
	var d digest
	rest, ok := strings.CutPrefix(encoded, phcPrefix)
	if !ok {
		return d, malformed("not argon2id")
	}
	fields := strings.Split(rest, "$")
	if len(fields) != 4 {
		return d, malformed("field count")
	}
	if fields[0] != fmt.Sprintf("v=%d", argon2.Version) {
		return d, malformed("unsupported version")
	}

	var m, t uint32
	var p uint8
	// Sscanf ignores trailing input, so the round trip rejects extra or
	// reordered parameters.
	if _, err := fmt.Sscanf(fields[1], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil ||
		fmt.Sprintf("m=%d,t=%d,p=%d", m, t, p) != fields[1] {
		return d, malformed("parameters")
	}
	if m < minMemoryKB || t < minTimeCost || p < minParallelism {
		return d, malformed("parameters below minimum")
	}

	salt, err := b64.DecodeString(fields[2])
	if err != nil || len(salt) < int(minSaltLength) {
		return d, malformed("salt")
	}
	key, err := b64.DecodeString(fields[3])
	if err != nil || len(key) == 0 {
		return d, malformed("key")
	}

	d.cost = cost{memory: m, time: t, parallelism: p, keyLength: uint32(len(key))}
	d.salt, d.key = salt, key
	return d, nil
}
