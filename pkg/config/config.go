package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/campus/pkg/observability"
	"github.com/platinummonkey/campus/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Auth configuration
	Auth AuthConfig

	// Role resolution and access control configuration
	Roles RolesConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// MutationRateLimit caps role mutations per principal per minute. Zero disables it.
	MutationRateLimit int

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AuthConfig holds the OpenID Connect session provider settings.
// An empty IssuerURL runs the service without sign-in: every request is unauthenticated.
type AuthConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// RoleClaim is the dotted path of the ID token claim carrying the role hint
	RoleClaim string

	// PostLoginRedirect is where /auth/callback sends the browser when no return path is known
	PostLoginRedirect string

	// SAML is a second sign-in method next to OIDC
	SAML SAMLConfig
}

// Enabled reports whether an identity provider is configured
func (a AuthConfig) Enabled() bool {
	return a.IssuerURL != ""
}

// SAMLConfig holds the SAML 2.0 service provider settings. An empty IDPSSOURL
// disables SAML sign-in.
type SAMLConfig struct {
	IDPEntityID    string
	IDPSSOURL      string
	IDPCertificate string // PEM

	// EntityID names this service to the IdP; ACSURL receives the assertions
	EntityID string
	ACSURL   string

	// Certificate and PrivateKey sign AuthnRequests when both are set
	Certificate string
	PrivateKey  string

	NameIDFormat   string
	RoleAttribute  string
	EmailAttribute string
	SessionTTL     time.Duration
}

// Enabled reports whether SAML sign-in is configured
func (s SAMLConfig) Enabled() bool {
	return s.IDPSSOURL != ""
}

// RolesConfig holds role resolution settings
type RolesConfig struct {
	// LookupTimeout bounds the authoritative role lookup before falling back
	LookupTimeout time.Duration

	// RouteTablePath is the YAML file declaring guarded routes
	RouteTablePath string
	WatchRouteTable bool

	// ReconcileSchedule is a cron spec for the storage reconciler. Empty disables it.
	ReconcileSchedule  string
	ReconcileBatchSize int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		Roles:         loadRolesConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:              getEnv("CAMPUS_HOST", "0.0.0.0"),
		Port:              getEnv("CAMPUS_PORT", "8080"),
		ReadTimeout:       getEnvDuration("CAMPUS_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      getEnvDuration("CAMPUS_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       getEnvDuration("CAMPUS_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getEnvDuration("CAMPUS_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:      getEnvInt64("CAMPUS_MAX_BODY_BYTES", 64*1024),
		MutationRateLimit: getEnvInt("CAMPUS_MUTATION_RATE_LIMIT", 30),
		HealthPort:        getEnv("CAMPUS_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// PostgreSQL config
	cfg.PostgresURL = getEnv("CAMPUS_POSTGRES_URL", cfg.PostgresURL)
	cfg.PostgresReplicaURLs = getEnv("CAMPUS_POSTGRES_REPLICA_URLS", cfg.PostgresReplicaURLs)
	if maxConns := getEnvInt("CAMPUS_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("CAMPUS_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("CAMPUS_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}
	cfg.MigrateOnStart = getEnvBool("CAMPUS_POSTGRES_MIGRATE", cfg.MigrateOnStart)

	// Redis config
	cfg.RedisURL = getEnv("CAMPUS_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("CAMPUS_REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("CAMPUS_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("CAMPUS_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("CAMPUS_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Cache config
	cfg.CacheEnabled = getEnvBool("CAMPUS_CACHE_ENABLED", cfg.CacheEnabled)
	cfg.CacheTTL = getEnvDuration("CAMPUS_CACHE_TTL", cfg.CacheTTL)
	if l1Size := getEnvInt("CAMPUS_L1_CACHE_SIZE", 0); l1Size > 0 {
		cfg.L1CacheSize = l1Size
	}

	return cfg
}

// loadAuthConfig loads the OIDC settings from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		IssuerURL:         getEnv("CAMPUS_OIDC_ISSUER_URL", ""),
		ClientID:          getEnv("CAMPUS_OIDC_CLIENT_ID", ""),
		ClientSecret:      getEnv("CAMPUS_OIDC_CLIENT_SECRET", ""),
		RedirectURL:       getEnv("CAMPUS_OIDC_REDIRECT_URL", ""),
		Scopes:            getEnvList("CAMPUS_OIDC_SCOPES", []string{"openid", "email", "profile"}),
		RoleClaim:         getEnv("CAMPUS_OIDC_ROLE_CLAIM", "user_metadata.role"),
		PostLoginRedirect: getEnv("CAMPUS_POST_LOGIN_REDIRECT", "/"),
		SAML: SAMLConfig{
			IDPEntityID:    getEnv("CAMPUS_SAML_IDP_ENTITY_ID", ""),
			IDPSSOURL:      getEnv("CAMPUS_SAML_IDP_SSO_URL", ""),
			IDPCertificate: getEnv("CAMPUS_SAML_IDP_CERTIFICATE", ""),
			EntityID:       getEnv("CAMPUS_SAML_ENTITY_ID", ""),
			ACSURL:         getEnv("CAMPUS_SAML_ACS_URL", ""),
			Certificate:    getEnv("CAMPUS_SAML_CERTIFICATE", ""),
			PrivateKey:     getEnv("CAMPUS_SAML_PRIVATE_KEY", ""),
			NameIDFormat:   getEnv("CAMPUS_SAML_NAMEID_FORMAT", ""),
			RoleAttribute:  getEnv("CAMPUS_SAML_ROLE_ATTRIBUTE", "role"),
			EmailAttribute: getEnv("CAMPUS_SAML_EMAIL_ATTRIBUTE", "email"),
			SessionTTL:     getEnvDuration("CAMPUS_SAML_SESSION_TTL", 8*time.Hour),
		},
	}
}

// loadRolesConfig loads role resolution settings from environment
func loadRolesConfig() RolesConfig {
	return RolesConfig{
		LookupTimeout:      getEnvDuration("CAMPUS_ROLE_LOOKUP_TIMEOUT", 5*time.Second),
		RouteTablePath:     getEnv("CAMPUS_ROUTE_TABLE", ""),
		WatchRouteTable:    getEnvBool("CAMPUS_ROUTE_TABLE_WATCH", true),
		ReconcileSchedule:  getEnv("CAMPUS_RECONCILE_SCHEDULE", "@every 10m"),
		ReconcileBatchSize: getEnvInt("CAMPUS_RECONCILE_BATCH_SIZE", 500),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("CAMPUS_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("CAMPUS_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("CAMPUS_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("CAMPUS_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("CAMPUS_OTEL_SERVICE_NAME", "campus-roles"),
		OTelServiceVersion: getEnv("CAMPUS_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("CAMPUS_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("CAMPUS_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Server.MutationRateLimit < 0 {
		return fmt.Errorf("mutation rate limit must not be negative")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Storage.CacheEnabled && c.Storage.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive when the cache is enabled")
	}

	if c.Auth.Enabled() {
		if _, err := url.ParseRequestURI(c.Auth.IssuerURL); err != nil {
			return fmt.Errorf("invalid OIDC issuer URL: %w", err)
		}
		if c.Auth.ClientID == "" {
			return fmt.Errorf("OIDC client ID is required when an issuer is configured")
		}
		if c.Auth.RoleClaim == "" {
			return fmt.Errorf("OIDC role claim path must not be empty")
		}
	}

	if c.Auth.SAML.Enabled() {
		if _, err := url.ParseRequestURI(c.Auth.SAML.IDPSSOURL); err != nil {
			return fmt.Errorf("invalid SAML IdP SSO URL: %w", err)
		}
		if _, err := url.ParseRequestURI(c.Auth.SAML.ACSURL); err != nil {
			return fmt.Errorf("invalid SAML ACS URL: %w", err)
		}
		if c.Auth.SAML.IDPCertificate == "" {
			return fmt.Errorf("SAML IdP certificate is required when an IdP is configured")
		}
		if c.Auth.SAML.SessionTTL <= 0 {
			return fmt.Errorf("SAML session TTL must be positive")
		}
	}

	if c.Roles.LookupTimeout <= 0 {
		return fmt.Errorf("role lookup timeout must be positive")
	}
	if c.Roles.ReconcileSchedule != "" {
		if _, err := cron.ParseStandard(c.Roles.ReconcileSchedule); err != nil {
			return fmt.Errorf("invalid reconcile schedule %q: %w", c.Roles.ReconcileSchedule, err)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma or space separated list or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' '
	})
	if len(fields) == 0 {
		return defaultValue
	}
	return fields
}
