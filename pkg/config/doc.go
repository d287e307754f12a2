// Package config loads viewcount configuration from an optional YAML file and environment
// variables.
//
// Defaults are applied first, then the YAML file named by VIEWCOUNT_CONFIG_FILE, then
// environment variables. The result is validated before it is returned.
//
// # Configuration Structure
//
// Server settings:
//
//	VIEWCOUNT_HOST="0.0.0.0"
//	VIEWCOUNT_PORT="8080"
//	VIEWCOUNT_HEALTH_PORT="9090"
//
// Storage settings:
//
//	VIEWCOUNT_DURABLE_TYPE="postgres"  # postgres, sqlite
//	VIEWCOUNT_POSTGRES_URL="postgres://localhost/viewcount?sslmode=disable"
//	VIEWCOUNT_POSTGRES_REPLICA_URLS="postgres://replica-1/viewcount,postgres://replica-2/viewcount"
//	VIEWCOUNT_SQLITE_PATH="/var/lib/viewcount/views.db"
//	VIEWCOUNT_REDIS_URL="redis://localhost:6379/0"
//	VIEWCOUNT_COUNTER_TTL="24h"
//
// Write-ahead log and jobs:
//
//	VIEWCOUNT_WAL_PATH="/var/log/viewcount/view_wal.log"
//	VIEWCOUNT_SYNC_SCHEDULE="@every 1m"
//	VIEWCOUNT_CONSISTENCY_SCHEDULE="@every 15m"
//
// Observability settings:
//
//	VIEWCOUNT_LOG_LEVEL="info"  # debug, info, warn, error
//	VIEWCOUNT_LOG_FORMAT="json" # json, text
//	VIEWCOUNT_OTEL_ENABLED="true"
//	VIEWCOUNT_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/observability: Uses observability configuration
package config
