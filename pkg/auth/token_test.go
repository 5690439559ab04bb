package auth

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_Issue(t *testing.T) {
	ti := NewTokenIssuer()

	token, err := ti.Issue()
	require.NoError(t, err)

	assert.Len(t, token, 64)
	assert.True(t, ValidTokenFormat(token))
}

func TestTokenIssuer_Uniqueness(t *testing.T) {
	ti := NewTokenIssuer()

	tokens := make(map[string]bool)
	for i := 0; i < 200; i++ {
		token, err := ti.Issue()
		require.NoError(t, err)
		if tokens[token] {
			t.Fatalf("duplicate token generated: %s", token)
		}
		tokens[token] = true
	}
}

func TestTokenIssuer_DeterministicSource(t *testing.T) {
	source := bytes.NewReader(bytes.Repeat([]byte{0xab}, TokenLength))
	ti := NewTokenIssuerWithSource(source)

	token, err := ti.Issue()
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("ab", TokenLength), token)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestTokenIssuer_SourceFailure(t *testing.T) {
	ti := NewTokenIssuerWithSource(failingReader{})

	_, err := ti.Issue()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entropy exhausted")

	t.Run("short read is an error", func(t *testing.T) {
		ti := NewTokenIssuerWithSource(bytes.NewReader([]byte{1, 2, 3}))
		_, err := ti.Issue()
		assert.Error(t, err)
	})
}

func TestIssueWithHash(t *testing.T) {
	ti := NewTokenIssuer()

	token, tokenHash, err := ti.IssueWithHash()
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(token))
	assert.Equal(t, hex.EncodeToString(sum[:]), tokenHash)
	assert.NotEqual(t, token, tokenHash)
	assert.Equal(t, tokenHash, HashToken(token))
}

func TestValidTokenFormat(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"valid", strings.Repeat("0f", 32), true},
		{"too short", "abc123", false},
		{"too long", strings.Repeat("0f", 33), false},
		{"not hex", strings.Repeat("zz", 32), false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidTokenFormat(tt.token))
		})
	}
}
