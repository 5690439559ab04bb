// Package observability provides structured logging, Prometheus metrics, health
// probes and OpenTelemetry export.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("invitation_id", id).Info("Invitation accepted")
//
// Request-scoped logging picks up the request and user IDs placed in the context
// by the HTTP middleware:
//
//	observability.FromContext(r.Context()).Warn("Email delivery failed")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	metrics.RecordInvitation("accepted")
//
// All Record* methods accept a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version, db, redisClient)
//	observability.RegisterHealthRoutes(router, checker)
//
// The database is critical; Redis being down only degrades readiness.
//
// # OpenTelemetry
//
//	tel, err := observability.StartTelemetry(ctx, cfg, logger)
//	defer tel.Shutdown(ctx)
package observability
