// Package validation holds the input checks shared by the sign-up, invitation
// and password-reset flows: email shape and normalization, username alphabet,
// presence and minimum length. The functions return booleans; callers choose
// the caller-facing message.
package validation
