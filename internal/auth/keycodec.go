package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultKeyLength is the length of generated session keys.
	DefaultKeyLength = 22
	// BootstrapKeyLength is the length of the generated first Founder key.
	BootstrapKeyLength = 28
	// MinCustomKeyLength is the shortest caller-chosen secret accepted at key creation.
	MinCustomKeyLength = 12
	// MaxKeyLength is the bcrypt input limit.
	MaxKeyLength = 72

	keyHashCost = 12
	keyCharset  = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789!@#$%^&*()_+-=?"
)

// KeyCodec generates session key secrets and derives their stored bcrypt hashes.
type KeyCodec struct {
	cost   int
	random io.Reader
}

// KeyCodecOption configures a KeyCodec.
type KeyCodecOption func(*KeyCodec)

// WithHashCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func WithHashCost(cost int) KeyCodecOption {
	return func(c *KeyCodec) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			c.cost = cost
		}
	}
}

// NewKeyCodec returns a codec hashing at cost 12 and reading entropy from crypto/rand.
func NewKeyCodec(opts ...KeyCodecOption) *KeyCodec {
	c := &KeyCodec{cost: keyHashCost, random: rand.Reader}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate returns a random secret of the given length drawn from the key charset.
// Bytes that would bias the charset distribution are rejected and redrawn.
func (c *KeyCodec) Generate(length int) (string, error) {
	if length <= 0 {
		length = DefaultKeyLength
	}
	if length > MaxKeyLength {
		return "", fmt.Errorf("%w: key length %d exceeds %d", ErrInvalidInput, length, MaxKeyLength)
	}
	limit := 256 - (256 % len(keyCharset))
	out := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(out) < length {
		if _, err := io.ReadFull(c.random, buf); err != nil {
			return "", fmt.Errorf("read entropy: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, keyCharset[int(b)%len(keyCharset)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// Hash derives a salted bcrypt hash of secret.
func (c *KeyCodec) Hash(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("session key is empty")
	}
	if len(secret) > MaxKeyLength {
		return "", fmt.Errorf("%w: session key longer than %d bytes", ErrInvalidInput, MaxKeyLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), c.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether secret matches hash. A malformed hash never matches.
func (c *KeyCodec) Verify(secret, hash string) bool {
	if secret == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
