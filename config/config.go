package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mbocsi/cloudhw/client"
	"github.com/mbocsi/cloudhw/proto"
	"github.com/mbocsi/cloudhw/server"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration shared by the binaries.
type Config struct {
	Client  ClientConfig  `yaml:"client"`
	Breaker BreakerConfig `yaml:"breaker"`
	Logger  LoggerConfig  `yaml:"logger"`
	Hub     HubConfig     `yaml:"hub"`
}

type ClientConfig struct {
	Identity        string          `yaml:"identity"`
	Controller      string          `yaml:"controller"`
	Location        string          `yaml:"location"`
	TestMode        bool            `yaml:"test_mode"`
	LegacyEnvelope  bool            `yaml:"legacy_envelope"`
	APIKey          string          `yaml:"api_key"`
	ConfigPath      string          `yaml:"config_path"`     // "Config" or "RemoteConfig"
	ConnectTimeout  string          `yaml:"connect_timeout"` // duration string, e.g. "15s"
	ResultTimeout   string          `yaml:"result_timeout"`  // how long CLI tools wait for a device
	HubEndpoints    EndpointsConfig `yaml:"hub_endpoints"`
	ConfigEndpoints EndpointsConfig `yaml:"config_endpoints"`
}

// EndpointsConfig overrides the production/staging base URLs.
type EndpointsConfig struct {
	Production string `yaml:"production"`
	Staging    string `yaml:"staging"`
}

type BreakerConfig struct {
	MaxFailures uint32 `yaml:"max_failures"`
	Timeout     string `yaml:"timeout"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type HubConfig struct {
	Addr      string           `yaml:"addr"`
	APIKey    string           `yaml:"api_key"`
	KeepAlive string           `yaml:"keep_alive"`
	Simulate  bool             `yaml:"simulate"`
	Locations []LocationConfig `yaml:"locations"`

	InvokeRate  float64 `yaml:"invoke_rate"` // per connection, 0 for unlimited
	InvokeBurst int     `yaml:"invoke_burst"`
}

type LocationConfig struct {
	ID         string   `yaml:"id"`
	Controller string   `yaml:"controller"`
	Devices    []string `yaml:"devices"`
}

func Defaults() *Config {
	return &Config{
		Client: ClientConfig{
			ConfigPath:     client.DefaultConfigPath,
			ConnectTimeout: "30s",
			ResultTimeout:  "90s",
		},
		Breaker: BreakerConfig{
			MaxFailures: 5,
			Timeout:     "30s",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Hub: HubConfig{
			Addr:      ":8080",
			KeepAlive: "20s",
			Simulate:  true,
		},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing
// file is not an error; defaults and the environment are used instead.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps CLOUDHW_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CLOUDHW_IDENTITY"); v != "" {
		cfg.Client.Identity = v
	}
	if v := os.Getenv("CLOUDHW_CONTROLLER"); v != "" {
		cfg.Client.Controller = v
	}
	if v := os.Getenv("CLOUDHW_LOCATION"); v != "" {
		cfg.Client.Location = v
	}
	if v := os.Getenv("CLOUDHW_TEST_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Client.TestMode = b
		}
	}
	if v := os.Getenv("CLOUDHW_API_KEY"); v != "" {
		cfg.Client.APIKey = v
	}
	if v := os.Getenv("CLOUDHW_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CLOUDHW_HUB_ADDR"); v != "" {
		cfg.Hub.Addr = v
	}
}

// duration parses a validated duration string; empty means zero.
func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func (c ClientConfig) ResultWait() time.Duration {
	return duration(c.ResultTimeout)
}

// ClientConfig converts the client section into a client.Config.
func (c *Config) ClientConfig() client.Config {
	cc := client.Config{
		Identity:       c.Client.Identity,
		ControllerName: c.Client.Controller,
		LocationID:     c.Client.Location,
		TestMode:       c.Client.TestMode,
		LegacyEnvelope: c.Client.LegacyEnvelope,
		APIKey:         c.Client.APIKey,
		ConfigPath:     c.Client.ConfigPath,
		ConnectTimeout: duration(c.Client.ConnectTimeout),
	}
	if e := c.Client.HubEndpoints; e != (EndpointsConfig{}) {
		cc.HubEndpoints = withDefaults(e, client.DefaultHubEndpoints())
	}
	if e := c.Client.ConfigEndpoints; e != (EndpointsConfig{}) {
		cc.ConfigEndpoints = withDefaults(e, client.DefaultConfigEndpoints())
	}
	return cc
}

func withDefaults(e EndpointsConfig, def client.Endpoints) client.Endpoints {
	out := def
	if e.Production != "" {
		out.Production = e.Production
	}
	if e.Staging != "" {
		out.Staging = e.Staging
	}
	return out
}

func (c *Config) BreakerConfig() client.BreakerConfig {
	return client.BreakerConfig{
		MaxFailures: c.Breaker.MaxFailures,
		Timeout:     duration(c.Breaker.Timeout),
	}
}

// HubOptions converts the hub section into options for server.NewHubServer.
func (c *Config) HubOptions() server.HubServerOptions {
	opts := server.HubServerOptions{
		Addr:      c.Hub.Addr,
		APIKey:    c.Hub.APIKey,
		KeepAlive: duration(c.Hub.KeepAlive),
		Simulate:  c.Hub.Simulate,

		InvokeRate:  c.Hub.InvokeRate,
		InvokeBurst: c.Hub.InvokeBurst,
	}
	for _, loc := range c.Hub.Locations {
		l := server.Location{ID: loc.ID, ControllerName: loc.Controller}
		for _, name := range loc.Devices {
			l.Devices = append(l.Devices, proto.Device{
				Name:       name,
				Attributes: map[string]json.RawMessage{},
			})
		}
		opts.Locations = append(opts.Locations, l)
	}
	return opts
}
