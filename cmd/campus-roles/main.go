package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/campus/pkg/auth"
	"github.com/platinummonkey/campus/pkg/cache"
	"github.com/platinummonkey/campus/pkg/config"
	"github.com/platinummonkey/campus/pkg/httputil"
	"github.com/platinummonkey/campus/pkg/middleware"
	"github.com/platinummonkey/campus/pkg/observability"
	"github.com/platinummonkey/campus/pkg/rbac"
	"github.com/platinummonkey/campus/pkg/reconcile"
	"github.com/platinummonkey/campus/pkg/sso"
	"github.com/platinummonkey/campus/pkg/storage/postgres"
)

var version = "dev"

func main() {
	boot := setupLogger(os.Getenv("CAMPUS_LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		boot.Fatalf("Failed to load configuration: %v", err)
	}

	if err := run(cfg, boot); err != nil {
		boot.Fatalf("Campus role service failed: %v", err)
	}
}

func run(cfg *config.Config, boot *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)
	boot.WithField("version", version).Info("Starting Campus role service")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	// Storage
	conn, err := postgres.NewConnectionManager(ctx, postgres.ConfigFromStorage(cfg.Storage), logger)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if cfg.Storage.MigrateOnStart {
		if err := postgres.RunMigrations(ctx, conn.Primary(), logger); err != nil {
			conn.Close()
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	conn.StartHealthCheckRoutine(ctx, 30*time.Second)

	assignments := postgres.NewAssignmentStore(conn)
	profiles := postgres.NewProfileStore(conn)

	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			// the shared tier is optional, each replica keeps its own memory tier
			logger.WithError(err).Warn("Redis unavailable, continuing without the shared cache tier")
			redisClient = nil
		}
	}

	// Role state
	var states *cache.Tiered[rbac.State]
	if cfg.Storage.CacheEnabled {
		tiers := []cache.Tier[rbac.State]{cache.NewMemoryTier[rbac.State](cfg.Storage.L1CacheSize, cfg.Storage.CacheTTL)}
		if redisClient != nil {
			tiers = append(tiers, cache.NewRedisTier[rbac.State](redisClient, "campus:roles:", cfg.Storage.CacheTTL))
		}
		states = cache.NewTiered[rbac.State](metrics, tiers...)
	}

	routes, err := loadRoutes(cfg.Roles.RouteTablePath)
	if err != nil {
		return err
	}

	roleConfig := rbac.DefaultConfig()
	roleConfig.LookupTimeout = cfg.Roles.LookupTimeout
	roleConfig.SessionTTL = cfg.Storage.CacheTTL
	roleConfig.States = states
	roleConfig.Logger = logger
	roleConfig.Metrics = metrics
	if redisClient != nil {
		roleConfig.Broadcaster = cache.NewBroadcaster(redisClient, "campus:roles:changed")
	}
	roles := rbac.NewManager(assignments, profiles, routes, roleConfig)

	stopListening, err := roles.Listen(ctx)
	if err != nil {
		// other replicas' changes then reach this one when its stores expire
		logger.WithError(err).Warn("Failed to subscribe to role state announcements")
		stopListening = func() error { return nil }
	}

	broker := auth.NewBroker()
	detach := roles.Attach(broker)
	defer detach()

	// Sign-in
	router := mux.NewRouter()
	var (
		verifiers sso.Verifiers
		oidc      sso.Authenticator
		saml      sso.Authenticator
		callback  string
	)
	if cfg.Auth.Enabled() {
		provider, err := sso.NewOIDCProvider(ctx, sso.ConfigFromAuth(cfg.Auth))
		if err != nil {
			return fmt.Errorf("failed to initialize OIDC provider: %w", err)
		}
		verifiers = append(verifiers, provider)
		oidc = provider
		callback = cfg.Auth.RedirectURL
	}
	if cfg.Auth.SAML.Enabled() {
		sessionTiers := []cache.Tier[auth.Session]{cache.NewMemoryTier[auth.Session](cfg.Storage.L1CacheSize, cfg.Auth.SAML.SessionTTL)}
		if redisClient != nil {
			// sessions survive a restart and are visible to every replica
			sessionTiers = append(sessionTiers, cache.NewRedisTier[auth.Session](redisClient, "campus:saml:sessions:", cfg.Auth.SAML.SessionTTL))
		}
		provider, err := sso.NewSAMLProvider(sso.SAMLConfigFromAuth(cfg.Auth.SAML), cache.NewTiered[auth.Session](metrics, sessionTiers...))
		if err != nil {
			return fmt.Errorf("failed to initialize SAML provider: %w", err)
		}
		verifiers = append(verifiers, provider)
		saml = provider
		if callback == "" {
			callback = cfg.Auth.SAML.ACSURL
		}
	}

	var verifier auth.Verifier
	if len(verifiers) > 0 {
		verifier = verifiers
		sso.NewHandlers(oidc, broker, profiles, sso.HandlersConfig{
			PostLoginRedirect: cfg.Auth.PostLoginRedirect,
			SecureCookies:     isHTTPS(callback),
		}, logger).WithSAML(saml).RegisterRoutes(router)
	} else {
		logger.Warn("No sign-in method configured, every request is signed out")
	}

	// Role API
	limiter := mutationLimiter(cfg.Server.MutationRateLimit, redisClient)
	api := router.NewRoute().Subrouter()
	api.Use(mux.MiddlewareFunc(httputil.ContentTypeMiddleware), mux.MiddlewareFunc(httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes)))
	if limiter != nil {
		api.Use(mutationsOnly(middleware.RateLimit(limiter)))
	}
	roles.RegisterRoutes(api)

	handler := httputil.Chain(
		middleware.RequestID,
		middleware.Logging(logger),
		middleware.Recovery(logger),
		middleware.SessionMiddleware(verifier),
		roles.GetMiddleware().Protect,
	)(router)
	if cfg.Observability.MetricsEnabled {
		handler = observability.HTTPMetricsMiddleware(metrics, routeTemplate(router))(handler)
	}
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "campus-roles")
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics
	health := observability.NewHealthChecker(conn.Primary(), redisClient, version)
	if cfg.Roles.RouteTablePath != "" {
		health.AddCheck("route_table", func(context.Context) error {
			if len(roles.GetRoutes().Routes()) == 0 {
				return errors.New("route table is empty")
			}
			return nil
		})
	}
	healthRouter := mux.NewRouter()
	health.RegisterRoutes(healthRouter)
	if cfg.Observability.MetricsEnabled {
		healthRouter.Handle("/metrics", observability.MetricsHandler(registry))
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Background work
	var reconciler *reconcile.Reconciler
	if cfg.Roles.ReconcileSchedule != "" {
		reconciler = reconcile.New(assignments, reconcile.Config{
			Schedule:  cfg.Roles.ReconcileSchedule,
			BatchSize: cfg.Roles.ReconcileBatchSize,
		}, logger, metrics)
		if err := reconciler.Start(); err != nil {
			return err
		}
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("health_server", healthServer.Shutdown)
	if reconciler != nil {
		shutdown.RegisterShutdownFunc("reconciler", reconciler.Stop)
	}
	shutdown.RegisterShutdownFunc("postgres", func(context.Context) error {
		return conn.Close()
	})
	shutdown.RegisterShutdownFunc("role_announcements", func(context.Context) error {
		return stopListening()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer observability.RecoverPanic(logger, "http server")
		logger.WithField("addr", server.Addr).Info("Role API listening")
		return serve(server)
	})
	g.Go(func() error {
		defer observability.RecoverPanic(logger, "health server")
		logger.WithField("addr", healthServer.Addr).Info("Health endpoints listening")
		return serve(healthServer)
	})
	if cfg.Roles.WatchRouteTable && cfg.Roles.RouteTablePath != "" {
		g.Go(func() error {
			defer observability.RecoverPanic(logger, "route table watcher")
			if err := roles.WatchRoutes(gctx, cfg.Roles.RouteTablePath); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Warn("Route table watcher stopped, keeping the current table")
			}
			return nil
		})
	}
	if limiter, ok := limiter.(*middleware.RateLimiter); ok {
		limiter.StartCleanup(gctx)
	}

	g.Go(func() error {
		return shutdown.WaitForShutdown(gctx)
	})

	err = g.Wait()
	boot.Info("Campus role service stopped")
	return err
}

func serve(server *http.Server) error {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", server.Addr, err)
	}
	return nil
}

func loadRoutes(path string) (*rbac.RouteTable, error) {
	if path == "" {
		return rbac.NewRouteTable(nil)
	}
	routes, err := rbac.LoadRouteTable(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load route table: %w", err)
	}
	return routes, nil
}

// mutationLimiter prefers the redis limiter so the limit holds across replicas
func mutationLimiter(perMinute int, client *redis.Client) middleware.Limiter {
	if perMinute == 0 {
		return nil
	}
	limitConfig := middleware.MutationRateLimitConfig(perMinute)
	if client != nil {
		return middleware.NewDistributedRateLimiter(client, limitConfig, "campus:ratelimit:")
	}
	return middleware.NewRateLimiter(limitConfig)
}

// mutationsOnly applies limit to requests that change role state
func mutationsOnly(limit func(http.Handler) http.Handler) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		limited := limit(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
			default:
				limited.ServeHTTP(w, r)
			}
		})
	}
}

// routeTemplate labels requests by their mux path template. The metrics
// middleware runs outside the router, so the route is matched again here.
func routeTemplate(router *mux.Router) func(*http.Request) string {
	return func(r *http.Request) string {
		var match mux.RouteMatch
		if router.Match(r, &match) && match.Route != nil {
			if tmpl, err := match.Route.GetPathTemplate(); err == nil {
				return tmpl
			}
		}
		return "unmatched"
	}
}

func isHTTPS(rawURL string) bool {
	return strings.HasPrefix(rawURL, "https://")
}

func setupLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}
