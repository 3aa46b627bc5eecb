// Package config provides application configuration management from environment variables.
//
// # Configuration Structure
//
// Server settings:
//
//	CAMPUS_HOST="0.0.0.0"
//	CAMPUS_PORT="8080"
//	CAMPUS_HEALTH_PORT="9090"
//	CAMPUS_READ_TIMEOUT="15s"
//
// Storage settings:
//
//	CAMPUS_POSTGRES_URL="postgres://localhost/campus?sslmode=disable"
//	CAMPUS_POSTGRES_REPLICA_URLS="postgres://replica-1/campus,postgres://replica-2/campus"
//	CAMPUS_POSTGRES_MIGRATE="true"
//
// Cache settings:
//
//	CAMPUS_CACHE_ENABLED="true"
//	CAMPUS_CACHE_TTL="15m"
//	CAMPUS_L1_CACHE_SIZE="10000"
//	CAMPUS_REDIS_URL="redis://localhost:6379/0"  # empty keeps the cache in process
//
// Session provider settings:
//
//	CAMPUS_OIDC_ISSUER_URL="https://auth.example.edu"
//	CAMPUS_OIDC_CLIENT_ID="campus"
//	CAMPUS_OIDC_CLIENT_SECRET="..."
//	CAMPUS_OIDC_REDIRECT_URL="https://campus.example.edu/auth/callback"
//	CAMPUS_OIDC_ROLE_CLAIM="user_metadata.role"
//
// Role settings:
//
//	CAMPUS_ROLE_LOOKUP_TIMEOUT="5s"
//	CAMPUS_ROUTE_TABLE="/etc/campus/routes.yaml"
//	CAMPUS_RECONCILE_SCHEDULE="@every 10m"  # empty disables the reconciler
//
// Observability settings:
//
//	CAMPUS_LOG_LEVEL="info"  # debug, info, warn, error
//	CAMPUS_METRICS_ENABLED="true"
//	CAMPUS_OTEL_ENABLED="true"
//	CAMPUS_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config
