// Package audit records security-relevant events: sign-ins, invitation and
// password-reset lifecycle steps, account activation and denied access.
//
// Events are built from the request context so the request ID and acting
// user come along automatically:
//
//	event := audit.NewEvent(ctx, audit.EventTypeInvitationCreate, audit.EventStatusSuccess).
//		WithTarget(audit.TargetTypeInvitation, inv.ID).
//		With("role", inv.Role)
//	_ = logger.Log(ctx, event)
//
// DBLogger persists to the audit_events table and supports Search and
// Reclaim. StreamLogger writes structured log entries. MultiLogger fans out
// to both.
//
// Audit failures never fail the operation being audited; callers log the
// error and continue.
package audit
