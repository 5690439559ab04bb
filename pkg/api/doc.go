// Package api provides the HTTP surface of the academy back end.
//
// # Overview
//
// The API is built on gorilla/mux and organized into handler groups, each with
// a RegisterRoutes method:
//
//   - AuthHandlers: credential sign-in, sign-out, session lookup, registration and profile
//   - InvitationHandlers: issue, list, count, look up, accept and cancel invitations
//   - PasswordResetHandlers: request, verify and redeem password reset tokens
//   - AdminHandlers: list users, activate and deactivate accounts, search the audit trail
//
// Protected routes are wrapped by a middleware.Authorizer built over the
// cookie session manager. Public credential routes are rate limited per client
// IP through Redis when a limiter is configured.
//
// # Usage
//
//	server, err := api.NewServer(api.Config{
//		Sessions:    sessions,
//		Directory:   directory,
//		Invitations: invitationManager,
//		Resets:      resetManager,
//		Email:       notifier,
//	})
//	http.ListenAndServe(":8080", server)
//
// Server implements http.Handler with request IDs, access logging, panic
// recovery and CORS applied ahead of the router.
//
// # Error Responses
//
// Failures are JSON objects with an "error" key, an optional "message" and
// any detail keys the failure carries (required, userRole, invitableRoles,
// availableRoles).
package api
