// Package config loads and validates application configuration.
//
// # Overview
//
// Values are layered, later layers winning:
//
//  1. built-in defaults (Default)
//  2. a .env file in the working directory, when present
//  3. the YAML file named by ACADEMY_CONFIG_FILE
//  4. ACADEMY_* environment variables
//
// # Configuration Structure
//
// Server settings:
//
//	ACADEMY_HOST="0.0.0.0"
//	ACADEMY_PORT="5000"
//	ACADEMY_READ_TIMEOUT="15s"
//	ACADEMY_SHUTDOWN_TIMEOUT="30s"
//	ACADEMY_TRUSTED_PROXIES="10.0.0.0/8"   # peers whose X-Forwarded-For is honored
//
// Database and cache:
//
//	ACADEMY_DB_DRIVER="postgres"  # postgres or sqlite3
//	ACADEMY_DB_URL="postgres://localhost/academy?sslmode=disable"
//	ACADEMY_REDIS_URL="redis://localhost:6379/0"  # optional, enables per-IP rate limits
//
// Sessions and mail:
//
//	ACADEMY_SESSION_SECRET="at-least-32-bytes-of-secret......"
//	ACADEMY_SESSION_SECURE="true"
//	ACADEMY_MAIL_SERVICE="gmail"  # gmail, outlook, smtp or empty to disable
//	ACADEMY_MAIL_USER="office@example.edu"
//	ACADEMY_MAIL_PASSWORD="app-password"
//	ACADEMY_MAIL_TEMPLATE_DIR="/etc/academy/templates"
//	ACADEMY_FRONTEND_URL="https://academy.example.edu"
//
// Password resets and reclamation:
//
//	ACADEMY_RESET_SURFACE_RATE_LIMIT="false"
//	ACADEMY_RESET_COOLDOWN="2m"
//	ACADEMY_RESET_RESPONSE_FLOOR="2s"
//	ACADEMY_RECLAIM_SCHEDULE="@every 1h"
//	ACADEMY_RECLAIM_AUDIT_RETENTION="2160h"
//
// First super admin, created only while none exists:
//
//	ACADEMY_SUPERADMIN_EMAIL="root@example.edu"
//	ACADEMY_SUPERADMIN_PASSWORD="..."
//
// Observability:
//
//	ACADEMY_LOG_LEVEL="info"  # debug, info, warn, error
//	ACADEMY_OTEL_ENABLED="true"
//	ACADEMY_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	db, dialect, err := storage.Open(ctx, cfg.StorageConfig())
package config
