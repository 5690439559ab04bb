// Package httputil provides the JSON request/response helpers and the common
// middleware shared by every route.
//
// # Errors
//
// Handlers return apperrors values and hand them to WriteAppError, which picks
// the status from the error kind and renders
//
//	{"error": "<message>", "message": "<detail>", ...fields}
//
// Errors outside the taxonomy become a generic 500 and are logged in full.
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
package httputil
