package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// emailPattern is the address shape accepted by every form in the system.
// Top-level domains are limited to two or three characters.
var emailPattern = regexp.MustCompile(`^\w+([.-]?\w+)*@\w+([.-]?\w+)*(\.\w{2,3})+$`)

// usernamePattern allows letters, digits, dot, dash and underscore
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

const (
	MinUsernameLength = 3
	MaxUsernameLength = 50
)

// NormalizeEmail trims and lowercases an address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsEmail reports whether email (already normalized or not) is well formed
func IsEmail(email string) bool {
	return emailPattern.MatchString(strings.TrimSpace(email))
}

// IsUsername reports whether username has an allowed length and alphabet
func IsUsername(username string) bool {
	n := utf8.RuneCountInString(username)
	if n < MinUsernameLength || n > MaxUsernameLength {
		return false
	}
	return usernamePattern.MatchString(username)
}

// Present reports whether every value is non-blank
func Present(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

// MinLength reports whether s has at least n characters
func MinLength(s string, n int) bool {
	return utf8.RuneCountInString(s) >= n
}
