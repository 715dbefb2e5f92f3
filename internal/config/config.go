// Package config provides configuration loading and validation for the
// DNS server.
//
// Configuration is loaded with the following priority (highest to lowest):
//  1. Command-line flags (not handled here, see cmd/dnsd/main.go)
//  2. Environment variables (DNSD_* prefix)
//  3. YAML config file (if specified with --config)
//  4. Hardcoded defaults
//
// All configuration is validated during Load() to ensure correctness early.
package config

import (
	"errors"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// initConfig sets up the config loader with defaults, env binding, and config file.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("DNSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errFromViper(err)
		}
	}

	return v, nil
}

func errFromViper(err error) error {
	return errors.New("config: failed to read config file: " + err.Error())
}

// setDefaults configures all default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "::")
	v.SetDefault("server.port", 53)
	v.SetDefault("server.workers", "auto")
	v.SetDefault("server.max_concurrency", 0)
	v.SetDefault("server.enable_tcp", true)
	v.SetDefault("server.work_deadline", "5s")

	v.SetDefault("zones.directory", "zones")
	v.SetDefault("zones.files", []string{})

	v.SetDefault("reverse_ipv6", []ReverseIPv6Config{})
	v.SetDefault("delegations", []DelegationConfig{})

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", false)
	v.SetDefault("logging.include_pid", false)

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8080)
}

// loadFromSource loads configuration from file and environment.
func loadFromSource(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	loadServerConfig(v, cfg)
	loadZonesConfig(v, cfg)
	if err := v.UnmarshalKey("reverse_ipv6", &cfg.ReverseIPv6); err != nil {
		return nil, errors.New("config: invalid reverse_ipv6 section: " + err.Error())
	}
	if err := v.UnmarshalKey("delegations", &cfg.Delegations); err != nil {
		return nil, errors.New("config: invalid delegations section: " + err.Error())
	}
	loadLoggingConfig(v, cfg)
	loadAPIConfig(v, cfg)

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadServerConfig(v *viper.Viper, cfg *Config) {
	cfg.Server.Host = v.GetString("server.host")
	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.MaxConcurrency = v.GetInt("server.max_concurrency")
	cfg.Server.EnableTCP = v.GetBool("server.enable_tcp")
	cfg.Server.WorkDeadline = v.GetString("server.work_deadline")
	cfg.Server.WorkersRaw = v.GetString("server.workers")
	cfg.Server.Workers = ParseWorkers(cfg.Server.WorkersRaw)
}

func loadZonesConfig(v *viper.Viper, cfg *Config) {
	cfg.Zones.Directory = v.GetString("zones.directory")
	cfg.Zones.Files = v.GetStringSlice("zones.files")
}

func loadLoggingConfig(v *viper.Viper, cfg *Config) {
	cfg.Logging.Level = strings.ToUpper(v.GetString("logging.level"))
	cfg.Logging.Structured = v.GetBool("logging.structured")
	cfg.Logging.IncludePID = v.GetBool("logging.include_pid")
}

func loadAPIConfig(v *viper.Viper, cfg *Config) {
	cfg.API.Enabled = v.GetBool("api.enabled")
	cfg.API.Host = v.GetString("api.host")
	cfg.API.Port = v.GetInt("api.port")
}

// ParseWorkers converts the workers string to WorkerSetting.
func ParseWorkers(raw string) WorkerSetting {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" || raw == "auto" {
		return WorkerSetting{Mode: WorkersAuto}
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return WorkerSetting{Mode: WorkersFixed, Value: n}
	}
	return WorkerSetting{Mode: WorkersAuto}
}

// normalizeConfig validates and normalizes the configuration.
func normalizeConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.New("server.port must be 1..65535")
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "::"
	}
	if cfg.Server.WorkDeadline == "" {
		cfg.Server.WorkDeadline = "5s"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}

	if cfg.API.Host == "" {
		cfg.API.Host = "127.0.0.1"
	}
	if cfg.API.Enabled {
		if cfg.API.Port <= 0 || cfg.API.Port > 65535 {
			return errors.New("api.port must be 1..65535")
		}
	}

	seen := make(map[string]struct{}, len(cfg.Delegations))
	for _, d := range cfg.Delegations {
		if _, dup := seen[d.Zone]; dup {
			return errors.New("config: duplicate delegation zone " + d.Zone)
		}
		seen[d.Zone] = struct{}{}
	}

	return nil
}
