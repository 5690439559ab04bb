// Package middleware provides the route guards and the Redis-backed
// per-IP rate limiter used on the public auth endpoints.
//
// # Authorization
//
// Every Authorizer guard runs the same three checks: a signed-in user
// (401 otherwise), an active account (403), then the guard's own predicate
// (403 naming what was required). Admitted requests carry the identity in
// their context:
//
//	authz := middleware.NewAuthorizer(sessions, auditLogger, logger)
//	router.Handle("/api/invitations", authz.RequirePermission(rbac.PermInviteUsers)(create))
//
//	identity := middleware.GetIdentity(r)
//
// Denials are written to the audit log.
//
// # Rate limiting
//
//	limiter := middleware.NewRateLimiter(redisClient, middleware.SignInRateLimitConfig(), "ratelimit:signin")
//	router.Handle("/auth/signin/credentials", limiter.PerIP("signin", metrics, logger)(signIn))
//
// Counters live in Redis under prefix:ip:<addr> with a fixed window. Redis
// errors fail open.
package middleware
