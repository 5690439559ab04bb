// Package reclaim physically deletes records the application no longer needs:
// expired or long-redeemed invitations, stale password reset tokens and audit
// events past their retention.
//
// Tasks are plain functions so the same Reclaimer runs inside the API server on
// a cron schedule and in the standalone reaper binary:
//
//	r := reclaim.New(auditLogger, logger).
//		Add("invitations", reclaim.Expired(invitationManager, 30*24*time.Hour)).
//		Add("audit_events", reclaim.Older(dbAudit, 90*24*time.Hour, "audit_events", metrics))
//	c, err := r.Schedule("@every 1h")
//	c.Start()
package reclaim
