// Package notify renders and delivers the account lifecycle emails:
// invitations, welcome messages, password reset links and configuration
// tests.
//
// Delivery is advisory. A Sender reports failure through Result and never
// returns an error that callers must act on, so a broken mail server cannot
// roll back an invitation or a reset request.
//
// Templates are embedded in the binary. A directory of overrides can replace
// any of them by file name, and Templates.Watch reloads the overrides while
// the server runs.
package notify
