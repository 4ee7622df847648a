// Package config loads service configuration from TENANTD_* environment
// variables, with an optional YAML file overlay for deployments that prefer
// file-based configuration.
package config
