// Package observability provides structured logging, Prometheus metrics, health
// checks and OpenTelemetry tracing for the campus role service.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("principal_id", id).Info("role state resolved")
//
// Request scoped logging picks up the request ID and user ID placed on the
// context by pkg/middleware:
//
//	observability.FromContext(r.Context()).WithError(err).Warn("role lookup failed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordResolution("authoritative", time.Since(start))
//
// The Record* helpers are safe on a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddCheck("route_table", routes.Healthy)
//	checker.RegisterRoutes(router)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "campus-roles",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
//	ctx, span := observability.Tracer().Start(ctx, "rbac.Resolve")
//	defer span.End()
package observability
