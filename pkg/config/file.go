package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lockhaven/tenantd/pkg/observability"
)

// fileConfig mirrors Config with pointer fields so that absent keys leave the
// defaults untouched.
type fileConfig struct {
	Server struct {
		Host            *string        `yaml:"host"`
		Port            *string        `yaml:"port"`
		HealthPort      *string        `yaml:"health_port"`
		ReadTimeout     *time.Duration `yaml:"read_timeout"`
		WriteTimeout    *time.Duration `yaml:"write_timeout"`
		IdleTimeout     *time.Duration `yaml:"idle_timeout"`
		ShutdownTimeout *time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Database struct {
		URL          *string        `yaml:"url"`
		MaxOpenConns *int           `yaml:"max_open_conns"`
		MaxIdleConns *int           `yaml:"max_idle_conns"`
		ConnLifetime *time.Duration `yaml:"conn_lifetime"`
	} `yaml:"database"`

	Redis struct {
		Enabled  *bool   `yaml:"enabled"`
		URL      *string `yaml:"url"`
		Password *string `yaml:"password"`
		DB       *int    `yaml:"db"`
	} `yaml:"redis"`

	Auth struct {
		OIDCEnabled  *bool   `yaml:"oidc_enabled"`
		OIDCIssuer   *string `yaml:"oidc_issuer"`
		OIDCClientID *string `yaml:"oidc_client_id"`
	} `yaml:"auth"`

	Observability struct {
		LogLevel           *string `yaml:"log_level"`
		MetricsEnabled     *bool   `yaml:"metrics_enabled"`
		OTelEnabled        *bool   `yaml:"otel_enabled"`
		OTelEndpoint       *string `yaml:"otel_endpoint"`
		OTelServiceName    *string `yaml:"otel_service_name"`
		OTelServiceVersion *string `yaml:"otel_service_version"`
		OTelInsecure       *bool   `yaml:"otel_insecure"`
	} `yaml:"observability"`

	Invitations struct {
		TTL             *time.Duration `yaml:"ttl"`
		CleanupSchedule *string        `yaml:"cleanup_schedule"`
	} `yaml:"invitations"`
}

// applyFile overlays values from a YAML config file onto cfg
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	setString(&cfg.Server.Host, fc.Server.Host)
	setString(&cfg.Server.Port, fc.Server.Port)
	setString(&cfg.Server.HealthPort, fc.Server.HealthPort)
	setDuration(&cfg.Server.ReadTimeout, fc.Server.ReadTimeout)
	setDuration(&cfg.Server.WriteTimeout, fc.Server.WriteTimeout)
	setDuration(&cfg.Server.IdleTimeout, fc.Server.IdleTimeout)
	setDuration(&cfg.Server.ShutdownTimeout, fc.Server.ShutdownTimeout)

	setString(&cfg.Database.URL, fc.Database.URL)
	setInt(&cfg.Database.MaxOpenConns, fc.Database.MaxOpenConns)
	setInt(&cfg.Database.MaxIdleConns, fc.Database.MaxIdleConns)
	setDuration(&cfg.Database.ConnLifetime, fc.Database.ConnLifetime)

	setBool(&cfg.Redis.Enabled, fc.Redis.Enabled)
	setString(&cfg.Redis.URL, fc.Redis.URL)
	setString(&cfg.Redis.Password, fc.Redis.Password)
	setInt(&cfg.Redis.DB, fc.Redis.DB)

	setBool(&cfg.Auth.OIDCEnabled, fc.Auth.OIDCEnabled)
	setString(&cfg.Auth.OIDCIssuer, fc.Auth.OIDCIssuer)
	setString(&cfg.Auth.OIDCClientID, fc.Auth.OIDCClientID)

	if fc.Observability.LogLevel != nil {
		cfg.Observability.LogLevel = observability.ParseLogLevel(*fc.Observability.LogLevel)
	}
	setBool(&cfg.Observability.MetricsEnabled, fc.Observability.MetricsEnabled)
	setBool(&cfg.Observability.OTelEnabled, fc.Observability.OTelEnabled)
	setString(&cfg.Observability.OTelEndpoint, fc.Observability.OTelEndpoint)
	setString(&cfg.Observability.OTelServiceName, fc.Observability.OTelServiceName)
	setString(&cfg.Observability.OTelServiceVersion, fc.Observability.OTelServiceVersion)
	setBool(&cfg.Observability.OTelInsecure, fc.Observability.OTelInsecure)

	setDuration(&cfg.Invitations.TTL, fc.Invitations.TTL)
	setString(&cfg.Invitations.CleanupSchedule, fc.Invitations.CleanupSchedule)

	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *time.Duration) {
	if src != nil {
		*dst = *src
	}
}
