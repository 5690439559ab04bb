package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// TokenLength is the number of random bytes per token (256 bits)
const TokenLength = 32

// TokenIssuer mints opaque single-use tokens for invitations and password resets.
// Uniqueness is enforced by the store's unique index, not here.
type TokenIssuer struct {
	source io.Reader
}

// NewTokenIssuer creates an issuer backed by crypto/rand
func NewTokenIssuer() *TokenIssuer {
	return &TokenIssuer{source: rand.Reader}
}

// NewTokenIssuerWithSource creates an issuer reading from source.
// Only tests should pass anything other than crypto/rand.Reader.
func NewTokenIssuerWithSource(source io.Reader) *TokenIssuer {
	return &TokenIssuer{source: source}
}

// Issue returns a new hex-encoded token (64 characters)
func (ti *TokenIssuer) Issue() (string, error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := io.ReadFull(ti.source, randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}

// IssueWithHash returns a new token and its SHA256 hash.
// Only the hash may be persisted; the raw token goes to the requester once.
func (ti *TokenIssuer) IssueWithHash() (token string, tokenHash string, err error) {
	token, err = ti.Issue()
	if err != nil {
		return "", "", err
	}
	return token, HashToken(token), nil
}

// HashToken computes the hex SHA256 hash of a token for lookup
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidTokenFormat reports whether token looks like something Issue produced.
// Lookups with malformed tokens can be skipped entirely.
func ValidTokenFormat(token string) bool {
	if len(token) != TokenLength*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}
