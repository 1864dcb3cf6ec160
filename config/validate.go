package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mbocsi/cloudhw/client"
)

// ValidationError collects every problem found in a Config.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Errors, "; ")
}

func (e *ValidationError) add(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate checks the parts of cfg that can be wrong regardless of which
// binary uses it. Identity is checked by the client itself.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateClient(cfg, ve)
	validateBreaker(cfg, ve)
	validateLogger(cfg, ve)
	validateHub(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateDuration(ve *ValidationError, field, value string) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		ve.add("%s: %v", field, err)
		return
	}
	if d < 0 {
		ve.add("%s: must not be negative", field)
	}
}

func validateURL(ve *ValidationError, field, value string) {
	if value == "" {
		return
	}
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		ve.add("%s: %q is not an absolute URL", field, value)
	}
}

func validateClient(cfg *Config, ve *ValidationError) {
	c := cfg.Client
	switch c.ConfigPath {
	case "", client.DefaultConfigPath, client.LegacyConfigPath:
	default:
		ve.add("client.config_path: must be %q or %q", client.DefaultConfigPath, client.LegacyConfigPath)
	}
	validateDuration(ve, "client.connect_timeout", c.ConnectTimeout)
	validateDuration(ve, "client.result_timeout", c.ResultTimeout)
	validateURL(ve, "client.hub_endpoints.production", c.HubEndpoints.Production)
	validateURL(ve, "client.hub_endpoints.staging", c.HubEndpoints.Staging)
	validateURL(ve, "client.config_endpoints.production", c.ConfigEndpoints.Production)
	validateURL(ve, "client.config_endpoints.staging", c.ConfigEndpoints.Staging)
}

func validateBreaker(cfg *Config, ve *ValidationError) {
	validateDuration(ve, "breaker.timeout", cfg.Breaker.Timeout)
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.add("logger.level: unknown level %q", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.add("logger.format: must be text or json")
	}
}

func validateHub(cfg *Config, ve *ValidationError) {
	validateDuration(ve, "hub.keep_alive", cfg.Hub.KeepAlive)
	if cfg.Hub.InvokeRate < 0 {
		ve.add("hub.invoke_rate: must not be negative")
	}
	seen := make(map[string]bool)
	for i, loc := range cfg.Hub.Locations {
		if loc.ID == "" {
			ve.add("hub.locations[%d].id: required", i)
			continue
		}
		if seen[loc.ID] {
			ve.add("hub.locations[%d].id: duplicate location %q", i, loc.ID)
		}
		seen[loc.ID] = true
		if loc.Controller == "" {
			ve.add("hub.locations[%d].controller: required", i)
		}
	}
}
