// Package passwordreset implements the forgot-password flow: a one-hour,
// single-use link emailed to the account owner. Only the SHA-256 of a reset
// token is stored, so a leaked table cannot be replayed.
package passwordreset
