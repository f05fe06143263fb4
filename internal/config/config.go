// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
)

// Config is the top-level ChatRelay configuration.
type Config struct {
	Server     ServerConfig              `mapstructure:"server"`
	Storage    StorageConfig             `mapstructure:"storage"`
	Routing    RoutingConfig             `mapstructure:"routing"`
	Sessions   SessionsConfig            `mapstructure:"sessions"`
	Disposable DisposableConfig          `mapstructure:"disposable"`
	Proxies    ProxiesConfig             `mapstructure:"proxies"`
	Providers  map[string]ProviderConfig `mapstructure:"providers"`
	Models     []ModelEntry              `mapstructure:"models"`
}

// ServerConfig controls how chatrelay listens for connections.
type ServerConfig struct {
	Listen         string   `mapstructure:"listen"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
	RateLimitRPS   float64  `mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	Backend  string `mapstructure:"backend"`
	DataPath string `mapstructure:"data_path"`
}

// RoutingConfig carries the ranking weights and breaker tunables.
type RoutingConfig struct {
	WeightStreak     float64       `mapstructure:"weight_streak"`
	WeightSuccess    float64       `mapstructure:"weight_success"`
	WeightLatency    float64       `mapstructure:"weight_latency"`
	BreakerThreshold int64         `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
	AttemptTimeout   time.Duration `mapstructure:"attempt_timeout"`
}

// SessionsConfig controls persisted browser session lifecycle.
type SessionsConfig struct {
	UsageCap int64 `mapstructure:"usage_cap"`
}

// DisposableConfig controls disposable-mode identity rotation.
type DisposableConfig struct {
	MaxMessages int    `mapstructure:"max_messages"`
	WorkRoot    string `mapstructure:"work_root"`
}

// ProxiesConfig controls the outbound proxy pool and its prober.
type ProxiesConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int64         `mapstructure:"failure_threshold"`
	ProbeInterval    time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	EchoURL          string        `mapstructure:"echo_url"`
}

// ProviderConfig holds the per-provider configuration. Mode selects how
// the provider is driven: "api" (SDK call), "browser" (persistent
// automated session), or "disposable" (browser with identity rotation).
type ProviderConfig struct {
	Mode       string   `mapstructure:"mode"`
	APIKey     string   `mapstructure:"api_key"`
	Endpoint   string   `mapstructure:"endpoint"`
	Models     []string `mapstructure:"models"`
	Region     string   `mapstructure:"region"`      // TTS providers
	Voice      string   `mapstructure:"voice"`       // TTS providers
	LandingURL string   `mapstructure:"landing_url"` // browser providers
}

// ModelEntry maps a friendly model name onto a provider/model pair. The
// order of entries with the same friendly name is the static failover
// preference.
type ModelEntry struct {
	Name     string `mapstructure:"name"`
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix CHATRELAY_).
func Load(path string) (*Config, error) {
	v, err := LoadViper(path)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// LoadViper builds the Viper instance with defaults, env overrides, and
// the optional config file. Split out so secrets resolution can run on
// the raw instance before unmarshalling.
func LoadViper(path string) (*viper.Viper, error) {
	v := viper.New()

	SetDefaults(v)
	SetupEnv(v)

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, relayerr.Errorf(relayerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}
	return v, nil
}

// SetDefaults installs the stock tunables on a Viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:18700")
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("routing.weight_streak", 10.0)
	v.SetDefault("routing.weight_success", 100.0)
	v.SetDefault("routing.weight_latency", 0.001)
	v.SetDefault("routing.breaker_threshold", 5)
	v.SetDefault("routing.breaker_cooldown", "60s")
	v.SetDefault("routing.attempt_timeout", "120s")
	v.SetDefault("sessions.usage_cap", 50)
	v.SetDefault("disposable.max_messages", 20)
	v.SetDefault("proxies.enabled", false)
	v.SetDefault("proxies.failure_threshold", 3)
	v.SetDefault("proxies.probe_interval", "5m")
	v.SetDefault("proxies.probe_timeout", "15s")
}

// SetupEnv wires CHATRELAY_* environment overrides. Dots in config
// keys map to underscores (server.listen -> CHATRELAY_SERVER_LISTEN).
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("CHATRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// FromViper unmarshals and validates a loaded Viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, relayerr.Errorf(relayerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}
	return &cfg, nil
}

// Validate checks the configuration for logical errors, collecting all
// issues rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateRouting()...)
	errs = append(errs, c.validateProviders()...)
	errs = append(errs, c.validateModels()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue, "config: server.listen must not be empty"))
		return errs
	}
	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %w",
			c.Server.Listen, err,
		))
		return errs
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be a number, got %q", portStr))
	} else if port < 1 || port > 65535 {
		errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be between 1 and 65535, got %d", port))
	}
	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true, "memory": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [sqlite, memory], got %q",
			c.Storage.Backend,
		))
	}
	return errs
}

func (c *Config) validateRouting() []error {
	var errs []error

	if c.Routing.BreakerThreshold <= 0 {
		errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
			"config: routing.breaker_threshold must be greater than 0, got %d",
			c.Routing.BreakerThreshold,
		))
	}
	if c.Routing.BreakerCooldown <= 0 {
		errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
			"config: routing.breaker_cooldown must be greater than 0, got %s",
			c.Routing.BreakerCooldown,
		))
	}
	if c.Routing.AttemptTimeout <= 0 {
		errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
			"config: routing.attempt_timeout must be greater than 0, got %s",
			c.Routing.AttemptTimeout,
		))
	}
	return errs
}

func (c *Config) validateProviders() []error {
	var errs []error

	validModes := map[string]bool{"": true, "api": true, "browser": true, "disposable": true}
	for name, p := range c.Providers {
		if !validModes[p.Mode] {
			errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
				"config: providers.%s.mode must be one of [api, browser, disposable], got %q",
				name, p.Mode,
			))
		}
		if (p.Mode == "browser" || p.Mode == "disposable") && p.LandingURL == "" {
			errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
				"config: providers.%s.landing_url is required for %s mode", name, p.Mode))
		}
	}
	return errs
}

func (c *Config) validateModels() []error {
	var errs []error

	for i, m := range c.Models {
		if m.Name == "" || m.Provider == "" || m.Model == "" {
			errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
				"config: models[%d] must set name, provider, and model", i))
			continue
		}
		if c.Providers != nil {
			if _, ok := c.Providers[m.Provider]; !ok {
				errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
					"config: models[%d] (%s) references provider %q which is not configured",
					i, m.Name, m.Provider,
				))
			}
		}
	}
	return errs
}
