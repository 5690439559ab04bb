// Package invitations implements invite-only onboarding. An admin issues an
// invitation for an email address and role; the invitee redeems the emailed
// token once, before it expires, to create an account with that role.
//
// At most one active invitation exists per (email, role) pair. Expired rows
// are replaced on the next create and physically removed by ReclaimExpired.
package invitations
