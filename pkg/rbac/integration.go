package rbac

import (
	"context"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/campus/pkg/cache"
	"github.com/platinummonkey/campus/pkg/observability"
)

// Config holds role resolution configuration
type Config struct {
	// LookupTimeout bounds the authoritative role lookup
	LookupTimeout time.Duration

	// MaxSessions bounds the number of live session stores
	MaxSessions int

	// SessionTTL evicts the stores of idle sessions
	SessionTTL time.Duration

	// States caches resolved states across requests and replicas
	States *cache.Tiered[State]

	// Broadcaster tells other replicas to drop their copies of a changed state
	Broadcaster *cache.Broadcaster

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// DefaultConfig returns default role configuration
func DefaultConfig() Config {
	return Config{
		LookupTimeout: DefaultLookupTimeout,
		MaxSessions:   10000,
		SessionTTL:    15 * time.Minute,
	}
}

// Manager wires the role components together
type Manager struct {
	resolver  *Resolver
	directory *Directory
	routes    *RouteTable
	handlers  *Handlers
	guard     *GuardMiddleware
	config    Config
}

// NewManager creates a new role manager. A nil route table guards nothing.
func NewManager(service RoleService, profiles ProfileStore, routes *RouteTable, config Config) *Manager {
	if config.Logger == nil {
		config.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if routes == nil {
		routes, _ = NewRouteTable(nil)
	}

	resolver := NewResolver(service,
		WithLookupTimeout(config.LookupTimeout),
		WithResolverLogger(config.Logger),
		WithResolverMetrics(config.Metrics),
	)
	directory := NewDirectory(resolver, profiles, service, DirectoryConfig{
		States:      config.States,
		MaxSessions: config.MaxSessions,
		SessionTTL:  config.SessionTTL,
		Broadcaster: config.Broadcaster,
		Logger:      config.Logger,
		Metrics:     config.Metrics,
	})

	return &Manager{
		resolver:  resolver,
		directory: directory,
		routes:    routes,
		handlers:  NewHandlers(directory, routes),
		guard:     NewGuardMiddleware(routes, directory, config.Metrics),
		config:    config,
	}
}

// Attach subscribes the manager to sign-in and sign-out events
func (m *Manager) Attach(provider SessionProvider) func() {
	return m.directory.Attach(provider)
}

// Listen applies role state changes announced by other replicas until ctx is
// cancelled or stop is called
func (m *Manager) Listen(ctx context.Context) (stop func() error, err error) {
	return m.directory.Listen(ctx)
}

// RegisterRoutes registers role routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

// WatchRoutes reloads the route table whenever the file at path changes,
// until ctx is cancelled
func (m *Manager) WatchRoutes(ctx context.Context, path string) error {
	return m.routes.Watch(ctx, path, m.config.Logger, m.config.Metrics)
}

// GetResolver returns the role resolver
func (m *Manager) GetResolver() *Resolver {
	return m.resolver
}

// GetDirectory returns the session directory
func (m *Manager) GetDirectory() *Directory {
	return m.directory
}

// GetRoutes returns the route table
func (m *Manager) GetRoutes() *RouteTable {
	return m.routes
}

// GetMiddleware returns the guard middleware
func (m *Manager) GetMiddleware() *GuardMiddleware {
	return m.guard
}
