package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/elbethel/academy/pkg/audit"
	"github.com/elbethel/academy/pkg/auth"
	"github.com/elbethel/academy/pkg/invitations"
	"github.com/elbethel/academy/pkg/notify"
	"github.com/elbethel/academy/pkg/observability"
	"github.com/elbethel/academy/pkg/passwordreset"
	"github.com/elbethel/academy/pkg/reclaim"
	"github.com/elbethel/academy/pkg/storage"
	"github.com/elbethel/academy/pkg/users"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Session       SessionConfig       `yaml:"session"`
	Mail          MailConfig          `yaml:"mail"`
	Frontend      FrontendConfig      `yaml:"frontend"`
	Reset         ResetConfig         `yaml:"reset"`
	Reclaim       ReclaimConfig       `yaml:"reclaim"`
	Bootstrap     BootstrapConfig     `yaml:"bootstrap"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// TrustedProxies lists addresses or CIDRs whose X-Forwarded-For is honored
	TrustedProxies []string `yaml:"trustedProxies"`
}

// Addr is the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig selects the SQL backend
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	ConnectTimeout  time.Duration `yaml:"connectTimeout"`
}

// RedisConfig is optional; without a URL the public auth routes are not rate limited
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SessionConfig holds cookie session settings
type SessionConfig struct {
	Secret     string        `yaml:"secret"`
	CookieName string        `yaml:"cookieName"`
	Secure     bool          `yaml:"secure"`
	MaxAge     time.Duration `yaml:"maxAge"`
	CacheSize  int           `yaml:"cacheSize"`
	CacheTTL   time.Duration `yaml:"cacheTTL"`
}

// MailConfig holds outbound email settings. An empty service disables mail.
type MailConfig struct {
	Service     string        `yaml:"service"`
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Secure      bool          `yaml:"secure"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	FromAddress string        `yaml:"fromAddress"`
	FromName    string        `yaml:"fromName"`
	Timeout     time.Duration `yaml:"timeout"`
	TemplateDir string        `yaml:"templateDir"`
}

// FrontendConfig holds where emailed links point and which origins may call the API
type FrontendConfig struct {
	URL            string   `yaml:"url"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// ResetConfig tunes password reset behavior
type ResetConfig struct {
	SurfaceRateLimit bool          `yaml:"surfaceRateLimit"`
	Cooldown         time.Duration `yaml:"cooldown"`
	ResponseFloor    time.Duration `yaml:"responseFloor"`
}

// ReclaimConfig controls physical deletion of stale records
type ReclaimConfig struct {
	Enabled                 bool          `yaml:"enabled"`
	Schedule                string        `yaml:"schedule"`
	InvitationUsedRetention time.Duration `yaml:"invitationUsedRetention"`
	ResetTokenUsedRetention time.Duration `yaml:"resetTokenUsedRetention"`
	AuditRetention          time.Duration `yaml:"auditRetention"`
}

// BootstrapConfig describes the first super admin. An empty password skips bootstrap.
type BootstrapConfig struct {
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"logLevel"`

	MetricsEnabled bool `yaml:"metricsEnabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otelEnabled"`
	OTelEndpoint       string  `yaml:"otelEndpoint"`
	OTelServiceName    string  `yaml:"otelServiceName"`
	OTelServiceVersion string  `yaml:"otelServiceVersion"`
	OTelInsecure       bool    `yaml:"otelInsecure"`
	OTelSampleRatio    float64 `yaml:"otelSampleRatio"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "5000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:         string(storage.SQLite),
			URL:            "file:academy.db?_foreign_keys=on",
			MaxOpenConns:   20,
			MaxIdleConns:   5,
			ConnectTimeout: 5 * time.Second,
		},
		Session: SessionConfig{
			CookieName: auth.DefaultSessionCookie,
			MaxAge:     30 * 24 * time.Hour,
			CacheSize:  1024,
			CacheTTL:   30 * time.Second,
		},
		Mail: MailConfig{
			FromName: notify.DefaultFromName,
			Timeout:  10 * time.Second,
		},
		Frontend: FrontendConfig{
			URL: notify.DefaultFrontendURL,
		},
		Reset: ResetConfig{
			Cooldown:      passwordreset.Cooldown,
			ResponseFloor: 2 * time.Second,
		},
		Reclaim: ReclaimConfig{
			Enabled:                 true,
			Schedule:                reclaim.DefaultSchedule,
			InvitationUsedRetention: invitations.DefaultUsedRetention,
			ResetTokenUsedRetention: passwordreset.DefaultUsedRetention,
			AuditRetention:          audit.DefaultRetention,
		},
		Bootstrap: BootstrapConfig{
			Username: "superadmin",
			Name:     "Super Admin",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "academy",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads .env (when present), then the YAML file named by
// ACADEMY_CONFIG_FILE, then ACADEMY_* environment variables, and validates the result.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("ACADEMY_CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadFile overlays the YAML document at path. Keys absent from the file keep their values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays every ACADEMY_* variable that is set
func (c *Config) ApplyEnv() {
	s := &c.Server
	s.Host = getEnv("ACADEMY_HOST", s.Host)
	s.Port = getEnv("ACADEMY_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("ACADEMY_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("ACADEMY_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("ACADEMY_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("ACADEMY_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.TrustedProxies = getEnvList("ACADEMY_TRUSTED_PROXIES", s.TrustedProxies)

	d := &c.Database
	d.Driver = getEnv("ACADEMY_DB_DRIVER", d.Driver)
	d.URL = getEnv("ACADEMY_DB_URL", d.URL)
	d.MaxOpenConns = getEnvInt("ACADEMY_DB_MAX_OPEN_CONNS", d.MaxOpenConns)
	d.MaxIdleConns = getEnvInt("ACADEMY_DB_MAX_IDLE_CONNS", d.MaxIdleConns)
	d.ConnMaxLifetime = getEnvDuration("ACADEMY_DB_CONN_MAX_LIFETIME", d.ConnMaxLifetime)
	d.ConnectTimeout = getEnvDuration("ACADEMY_DB_CONNECT_TIMEOUT", d.ConnectTimeout)

	c.Redis.URL = getEnv("ACADEMY_REDIS_URL", c.Redis.URL)

	ss := &c.Session
	ss.Secret = getEnv("ACADEMY_SESSION_SECRET", ss.Secret)
	ss.CookieName = getEnv("ACADEMY_SESSION_COOKIE", ss.CookieName)
	ss.Secure = getEnvBool("ACADEMY_SESSION_SECURE", ss.Secure)
	ss.MaxAge = getEnvDuration("ACADEMY_SESSION_MAX_AGE", ss.MaxAge)
	ss.CacheSize = getEnvInt("ACADEMY_SESSION_CACHE_SIZE", ss.CacheSize)
	ss.CacheTTL = getEnvDuration("ACADEMY_SESSION_CACHE_TTL", ss.CacheTTL)

	m := &c.Mail
	m.Service = getEnv("ACADEMY_MAIL_SERVICE", m.Service)
	m.Host = getEnv("ACADEMY_MAIL_HOST", m.Host)
	m.Port = getEnvInt("ACADEMY_MAIL_PORT", m.Port)
	m.Secure = getEnvBool("ACADEMY_MAIL_SECURE", m.Secure)
	m.Username = getEnv("ACADEMY_MAIL_USER", m.Username)
	m.Password = getEnv("ACADEMY_MAIL_PASSWORD", m.Password)
	m.FromAddress = getEnv("ACADEMY_MAIL_FROM", m.FromAddress)
	m.FromName = getEnv("ACADEMY_MAIL_FROM_NAME", m.FromName)
	m.Timeout = getEnvDuration("ACADEMY_MAIL_TIMEOUT", m.Timeout)
	m.TemplateDir = getEnv("ACADEMY_MAIL_TEMPLATE_DIR", m.TemplateDir)

	c.Frontend.URL = getEnv("ACADEMY_FRONTEND_URL", c.Frontend.URL)
	c.Frontend.AllowedOrigins = getEnvList("ACADEMY_ALLOWED_ORIGINS", c.Frontend.AllowedOrigins)

	c.Reset.SurfaceRateLimit = getEnvBool("ACADEMY_RESET_SURFACE_RATE_LIMIT", c.Reset.SurfaceRateLimit)
	c.Reset.Cooldown = getEnvDuration("ACADEMY_RESET_COOLDOWN", c.Reset.Cooldown)
	c.Reset.ResponseFloor = getEnvDuration("ACADEMY_RESET_RESPONSE_FLOOR", c.Reset.ResponseFloor)

	r := &c.Reclaim
	r.Enabled = getEnvBool("ACADEMY_RECLAIM_ENABLED", r.Enabled)
	r.Schedule = getEnv("ACADEMY_RECLAIM_SCHEDULE", r.Schedule)
	r.InvitationUsedRetention = getEnvDuration("ACADEMY_RECLAIM_INVITATION_RETENTION", r.InvitationUsedRetention)
	r.ResetTokenUsedRetention = getEnvDuration("ACADEMY_RECLAIM_RESET_RETENTION", r.ResetTokenUsedRetention)
	r.AuditRetention = getEnvDuration("ACADEMY_RECLAIM_AUDIT_RETENTION", r.AuditRetention)

	b := &c.Bootstrap
	b.Username = getEnv("ACADEMY_SUPERADMIN_USERNAME", b.Username)
	b.Email = getEnv("ACADEMY_SUPERADMIN_EMAIL", b.Email)
	b.Name = getEnv("ACADEMY_SUPERADMIN_NAME", b.Name)
	b.Password = getEnv("ACADEMY_SUPERADMIN_PASSWORD", b.Password)

	o := &c.Observability
	o.LogLevel = getEnv("ACADEMY_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("ACADEMY_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("ACADEMY_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("ACADEMY_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("ACADEMY_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("ACADEMY_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("ACADEMY_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("ACADEMY_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if _, err := auth.NewProxyTrust(c.Server.TrustedProxies); err != nil {
		return err
	}

	if _, err := storage.ParseDialect(c.Database.Driver); err != nil {
		return err
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if len(c.Session.Secret) < auth.MinSecretLength {
		return fmt.Errorf("session secret must be at least %d bytes", auth.MinSecretLength)
	}

	if c.Frontend.URL == "" {
		return fmt.Errorf("frontend URL is required")
	}

	if c.Reset.Cooldown < 0 {
		return fmt.Errorf("password reset cooldown cannot be negative")
	}
	if c.Reset.ResponseFloor < 0 {
		return fmt.Errorf("password reset response floor cannot be negative")
	}

	if c.Reclaim.Enabled && c.Reclaim.Schedule == "" {
		return fmt.Errorf("reclaim schedule is required when reclamation is enabled")
	}

	if c.Bootstrap.Password != "" {
		if c.Bootstrap.Email == "" || c.Bootstrap.Username == "" {
			return fmt.Errorf("super admin username and email are required when a bootstrap password is set")
		}
		if len(c.Bootstrap.Password) < users.MinPasswordLength {
			return fmt.Errorf("super admin password must be at least %d characters", users.MinPasswordLength)
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

// StorageConfig converts the database section for storage.Open
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Driver:          c.Database.Driver,
		URL:             c.Database.URL,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnectTimeout:  c.Database.ConnectTimeout,
	}
}

// ProxyTrust builds the trusted-proxy set for client address resolution
func (c *Config) ProxyTrust() (*auth.ProxyTrust, error) {
	return auth.NewProxyTrust(c.Server.TrustedProxies)
}

// SessionSettings converts the session section for auth.NewSessionManager
func (c *Config) SessionSettings() auth.SessionConfig {
	return auth.SessionConfig{
		Secret:     c.Session.Secret,
		CookieName: c.Session.CookieName,
		Secure:     c.Session.Secure,
		MaxAge:     c.Session.MaxAge,
		CacheSize:  c.Session.CacheSize,
		CacheTTL:   c.Session.CacheTTL,
	}
}

// NotifySettings converts the mail section for notify.NewSender
func (c *Config) NotifySettings() notify.Settings {
	return notify.Settings{
		Service:     c.Mail.Service,
		Host:        c.Mail.Host,
		Port:        c.Mail.Port,
		Secure:      c.Mail.Secure,
		Username:    c.Mail.Username,
		Password:    c.Mail.Password,
		FromAddress: c.Mail.FromAddress,
		FromName:    c.Mail.FromName,
		Timeout:     c.Mail.Timeout,
	}
}

// TelemetryConfig converts the observability section for observability.StartTelemetry
func (c *Config) TelemetryConfig() observability.TelemetryConfig {
	return observability.TelemetryConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
	}
}

// LogLevel is the parsed observability log level
func (c *Config) LogLevel() observability.LogLevel {
	return observability.ParseLogLevel(c.Observability.LogLevel)
}

// SuperAdmin returns the bootstrap request, or nil when bootstrap is disabled
func (c *Config) SuperAdmin() *users.BootstrapRequest {
	if c.Bootstrap.Password == "" {
		return nil
	}
	return &users.BootstrapRequest{
		Username: c.Bootstrap.Username,
		Email:    c.Bootstrap.Email,
		Name:     c.Bootstrap.Name,
		Password: c.Bootstrap.Password,
	}
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

// getEnvList splits a comma separated variable, dropping blanks
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
