package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lockhaven/tenantd/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
	Invitations   InvitationConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// RedisConfig holds Redis configuration for distributed rate limiting
type RedisConfig struct {
	Enabled  bool
	URL      string
	Password string
	DB       int
}

// AuthConfig holds identity-provider configuration
type AuthConfig struct {
	// OIDC identity verification
	OIDCEnabled  bool
	OIDCIssuer   string
	OIDCClientID string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// InvitationConfig holds tenant invitation settings
type InvitationConfig struct {
	TTL             time.Duration
	CleanupSchedule string
}

// LoadConfig loads configuration from environment variables. When
// TENANTD_CONFIG_FILE is set, the named YAML file is applied first and
// environment variables override it.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := getEnv("TENANTD_CONFIG_FILE", ""); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Database: DatabaseConfig{
			URL:          "postgres://localhost/tenantd?sslmode=disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			ConnLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			URL: "localhost:6379",
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.InfoLevel,
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "tenantd",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
		Invitations: InvitationConfig{
			TTL:             7 * 24 * time.Hour,
			CleanupSchedule: "30 0 * * *",
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("TENANTD_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnv("TENANTD_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvDuration("TENANTD_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvDuration("TENANTD_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = getEnvDuration("TENANTD_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = getEnvDuration("TENANTD_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.HealthPort = getEnv("TENANTD_HEALTH_PORT", cfg.Server.HealthPort)

	cfg.Database.URL = getEnv("TENANTD_POSTGRES_URL", cfg.Database.URL)
	cfg.Database.MaxOpenConns = getEnvInt("TENANTD_POSTGRES_MAX_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = getEnvInt("TENANTD_POSTGRES_IDLE_CONNS", cfg.Database.MaxIdleConns)
	cfg.Database.ConnLifetime = getEnvDuration("TENANTD_POSTGRES_CONN_LIFETIME", cfg.Database.ConnLifetime)

	cfg.Redis.Enabled = getEnvBool("TENANTD_REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.URL = getEnv("TENANTD_REDIS_URL", cfg.Redis.URL)
	cfg.Redis.Password = getEnv("TENANTD_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("TENANTD_REDIS_DB", cfg.Redis.DB)

	cfg.Auth.OIDCEnabled = getEnvBool("TENANTD_OIDC_ENABLED", cfg.Auth.OIDCEnabled)
	cfg.Auth.OIDCIssuer = getEnv("TENANTD_OIDC_ISSUER", cfg.Auth.OIDCIssuer)
	cfg.Auth.OIDCClientID = getEnv("TENANTD_OIDC_CLIENT_ID", cfg.Auth.OIDCClientID)

	cfg.Observability.LogLevel = observability.ParseLogLevel(getEnv("TENANTD_LOG_LEVEL", cfg.Observability.LogLevel.String()))
	cfg.Observability.MetricsEnabled = getEnvBool("TENANTD_METRICS_ENABLED", cfg.Observability.MetricsEnabled)
	cfg.Observability.OTelEnabled = getEnvBool("TENANTD_OTEL_ENABLED", cfg.Observability.OTelEnabled)
	cfg.Observability.OTelEndpoint = getEnv("TENANTD_OTEL_ENDPOINT", cfg.Observability.OTelEndpoint)
	cfg.Observability.OTelServiceName = getEnv("TENANTD_OTEL_SERVICE_NAME", cfg.Observability.OTelServiceName)
	cfg.Observability.OTelServiceVersion = getEnv("TENANTD_OTEL_SERVICE_VERSION", cfg.Observability.OTelServiceVersion)
	cfg.Observability.OTelInsecure = getEnvBool("TENANTD_OTEL_INSECURE", cfg.Observability.OTelInsecure)

	cfg.Invitations.TTL = getEnvDuration("TENANTD_INVITATION_TTL", cfg.Invitations.TTL)
	cfg.Invitations.CleanupSchedule = getEnv("TENANTD_INVITATION_CLEANUP_SCHEDULE", cfg.Invitations.CleanupSchedule)
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

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required when redis is enabled")
	}

	if c.Auth.OIDCEnabled {
		if c.Auth.OIDCIssuer == "" {
			return fmt.Errorf("OIDC issuer is required when OIDC is enabled")
		}
		if c.Auth.OIDCClientID == "" {
			return fmt.Errorf("OIDC client ID is required when OIDC is enabled")
		}
	}

	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
