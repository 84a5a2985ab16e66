// Package config loads and validates mailtrace's YAML configuration,
// following the teacher's load-then-default-then-env-override-then-
// validate pipeline, generalized to the keys in spec §6.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	apperr "mailtrace/pkg/errors"

	"gopkg.in/yaml.v2"
)

// Load reads configFile (if non-empty), applies defaults, then
// environment-variable overrides, then validates the result. The
// MAILTRACE_CONFIG environment variable takes precedence over
// configFile when set, per spec §6.
func Load(configFile string) (*Config, error) {
	if env := os.Getenv("MAILTRACE_CONFIG"); env != "" {
		configFile = env
	}

	cfg := &Config{}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, apperr.ConfigError("load", "cannot read config file "+configFile).Wrap(err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperr.ConfigError("load", "cannot parse config file "+configFile).Wrap(err)
		}
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Method == "" {
		cfg.Method = "ssh"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	if cfg.SSH.Timeout == 0 {
		cfg.SSH.Timeout = 10
	}
	if cfg.OpenSearch.Port == 0 {
		cfg.OpenSearch.Port = 9200
	}
	if cfg.OpenSearch.Timeout == 0 {
		cfg.OpenSearch.Timeout = 10
	}
	if cfg.OpenSearch.TimeZone == "" {
		cfg.OpenSearch.TimeZone = "+00:00"
	}
	if cfg.OpenSearch.MaxResults == 0 {
		cfg.OpenSearch.MaxResults = 10000
	}
	if cfg.Tracing.SleepSeconds == 0 {
		cfg.Tracing.SleepSeconds = 60
	}
	if cfg.Tracing.HoldRounds == 0 {
		cfg.Tracing.HoldRounds = 2
	}
	if cfg.Tracing.GoBackSeconds == 0 {
		cfg.Tracing.GoBackSeconds = 10
	}
}

// applyEnvironmentOverrides applies the four env vars from spec §6 that
// take precedence over the config file.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("MAILTRACE_SSH_PASSWORD"); v != "" {
		cfg.SSH.Password = v
	}
	if v := os.Getenv("MAILTRACE_SUDO_PASSWORD"); v != "" {
		cfg.SSH.SudoPass = v
	}
	if v := os.Getenv("MAILTRACE_OPENSEARCH_PASSWORD"); v != "" {
		cfg.OpenSearch.Password = v
	}
}

var validLogLevels = map[string]bool{
	"DEBUG": true, "INFO": true, "WARNING": true, "ERROR": true, "CRITICAL": true,
}

// Validate checks cfg against the enum and required-field rules implied
// by spec §6/§7; any failure is a ConfigError, which terminates the CLI.
func Validate(cfg *Config) error {
	if cfg.Method != "ssh" && cfg.Method != "opensearch" {
		return apperr.ConfigError("validate", fmt.Sprintf("method must be 'ssh' or 'opensearch', got %q", cfg.Method))
	}
	if !validLogLevels[cfg.LogLevel] {
		return apperr.ConfigError("validate", fmt.Sprintf("invalid log_level %q", cfg.LogLevel))
	}

	if cfg.Method == "ssh" {
		if cfg.SSH.Username == "" {
			return apperr.ConfigError("validate", "ssh_config.username is required when method is ssh")
		}
		if cfg.SSH.Password == "" && cfg.SSH.PrivateKey == "" {
			return apperr.ConfigError("validate", "ssh_config requires either password or private_key")
		}
	}

	if cfg.Method == "opensearch" {
		if cfg.OpenSearch.Host == "" {
			return apperr.ConfigError("validate", "opensearch_config.host is required when method is opensearch")
		}
		if cfg.OpenSearch.Index == "" {
			return apperr.ConfigError("validate", "opensearch_config.index is required when method is opensearch")
		}
		if _, err := parseOffset(cfg.OpenSearch.TimeZone); err != nil {
			return apperr.ConfigError("validate", "opensearch_config.time_zone is not a valid offset: "+cfg.OpenSearch.TimeZone)
		}
	}

	if cfg.Tracing.HoldRounds < 0 {
		return apperr.ConfigError("validate", "tracing.hold_rounds must be >= 0")
	}

	return nil
}

// parseOffset parses a "+HH:MM" / "-HH:MM" style offset into a fixed
// *time.Location, matching the opensearch_config.time_zone key format.
func parseOffset(offset string) (*time.Location, error) {
	if offset == "" {
		return time.UTC, nil
	}
	if len(offset) != 6 || (offset[0] != '+' && offset[0] != '-') {
		return nil, fmt.Errorf("invalid offset format: %s", offset)
	}
	hours, err := strconv.Atoi(offset[1:3])
	if err != nil {
		return nil, err
	}
	minutes, err := strconv.Atoi(offset[4:6])
	if err != nil {
		return nil, err
	}
	seconds := hours*3600 + minutes*60
	if offset[0] == '-' {
		seconds = -seconds
	}
	return time.FixedZone(offset, seconds), nil
}

// ResolveHost appends Domain as a DNS suffix to a bare hostname if
// configured and host does not already look fully-qualified under it.
func (c *Config) ResolveHost(host string) string {
	if c.Domain == "" || host == "" {
		return host
	}
	suffix := "." + c.Domain
	if len(host) >= len(suffix) && host[len(host)-len(suffix):] == suffix {
		return host
	}
	return host + suffix
}

// ClusterMembers returns the physical hosts behind a cluster alias, or
// nil if host is not a configured alias (i.e. it is a physical host).
func (c *Config) ClusterMembers(host string) ([]string, bool) {
	members, ok := c.Clusters[host]
	return members, ok
}
