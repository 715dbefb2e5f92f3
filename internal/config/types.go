// Package config provides configuration loading for the DNS server using
// Viper. Configuration is loaded from a YAML file with automatic
// environment variable binding.
//
// Environment variables use the DNSD_ prefix and underscore-separated keys:
//   - DNSD_SERVER_HOST -> server.host
//   - DNSD_SERVER_PORT -> server.port
//   - DNSD_ZONES_DIRECTORY -> zones.directory
package config

import (
	"strconv"
	"strings"
)

// WorkersMode specifies how worker count is determined.
type WorkersMode int

const (
	// WorkersAuto automatically determines worker count based on available CPUs.
	WorkersAuto WorkersMode = iota
	// WorkersFixed uses a specific worker count.
	WorkersFixed
)

// WorkerSetting represents the workers configuration.
type WorkerSetting struct {
	Mode  WorkersMode
	Value int
}

// String returns the string representation of the worker setting.
func (w WorkerSetting) String() string {
	if w.Mode == WorkersAuto {
		return "auto"
	}
	return strconv.Itoa(w.Value)
}

// ServerConfig contains server-related settings.
type ServerConfig struct {
	Host           string        `yaml:"host"             mapstructure:"host"`
	Port           int           `yaml:"port"             mapstructure:"port"`
	Workers        WorkerSetting `yaml:"-"                mapstructure:"-"`
	WorkersRaw     string        `yaml:"workers"          mapstructure:"workers"`
	MaxConcurrency int           `yaml:"max_concurrency"  mapstructure:"max_concurrency"`
	EnableTCP      bool          `yaml:"enable_tcp"       mapstructure:"enable_tcp"`
	WorkDeadline   string        `yaml:"work_deadline"    mapstructure:"work_deadline"`
}

// ZonesConfig contains zone file settings consumed by ZoneFileProvider.
type ZonesConfig struct {
	Directory string   `yaml:"directory" mapstructure:"directory" json:"directory"`
	Files     []string `yaml:"files"     mapstructure:"files"     json:"files,omitempty"`
}

// SOAConfig carries the SOA fields needed to synthesize a SOA record for
// a generated zone (ReverseIPv6Provider has no zone file to read one from).
type SOAConfig struct {
	MName   string `yaml:"mname"   mapstructure:"mname"   json:"mname"`
	RName   string `yaml:"rname"   mapstructure:"rname"   json:"rname"`
	Serial  uint32 `yaml:"serial"  mapstructure:"serial"  json:"serial"`
	Refresh uint32 `yaml:"refresh" mapstructure:"refresh" json:"refresh"`
	Retry   uint32 `yaml:"retry"   mapstructure:"retry"   json:"retry"`
	Expire  uint32 `yaml:"expire"  mapstructure:"expire"  json:"expire"`
	Minimum uint32 `yaml:"minimum" mapstructure:"minimum" json:"minimum"`
}

// ReverseIPv6Config describes one ReverseIPv6Provider instance.
type ReverseIPv6Config struct {
	ForwardZone string    `yaml:"forward_zone" mapstructure:"forward_zone" json:"forward_zone"`
	Prefix      string    `yaml:"prefix"       mapstructure:"prefix"       json:"prefix"`
	Nameservers []string  `yaml:"nameservers"  mapstructure:"nameservers"  json:"nameservers"`
	SOA         SOAConfig `yaml:"soa"          mapstructure:"soa"          json:"soa"`
	TTL         uint32    `yaml:"ttl"          mapstructure:"ttl"          json:"ttl"`
}

// DelegationConfig describes one DelegationFilter instance. Provider names
// which already-configured provider the filter attaches to: "zonefile" for
// the ZoneFileProvider, or a ReverseIPv6Config's ForwardZone to attach to
// that ReverseIPv6Provider instead.
type DelegationConfig struct {
	Zone        string              `yaml:"zone"        mapstructure:"zone"        json:"zone"`
	Provider    string              `yaml:"provider"    mapstructure:"provider"    json:"provider"`
	Nameservers []string            `yaml:"nameservers" mapstructure:"nameservers" json:"nameservers"`
	Glue        map[string][]string `yaml:"glue"        mapstructure:"glue"        json:"glue,omitempty"`
	TTL         uint32              `yaml:"ttl"         mapstructure:"ttl"         json:"ttl"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"      mapstructure:"level"      json:"level"`
	Structured bool   `yaml:"structured" mapstructure:"structured" json:"structured"`
	IncludePID bool   `yaml:"include_pid" mapstructure:"include_pid" json:"include_pid"`
}

// APIConfig contains introspection API settings. The API is always
// read-only: there is no api_key or write endpoint to configure.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Host    string `yaml:"host"    mapstructure:"host"`
	Port    int    `yaml:"port"    mapstructure:"port"`
}

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig       `yaml:"server"       mapstructure:"server"`
	Zones       ZonesConfig        `yaml:"zones"        mapstructure:"zones"`
	ReverseIPv6 []ReverseIPv6Config `yaml:"reverse_ipv6" mapstructure:"reverse_ipv6"`
	Delegations []DelegationConfig `yaml:"delegations"  mapstructure:"delegations"`
	Logging     LoggingConfig      `yaml:"logging"      mapstructure:"logging"`
	API         APIConfig          `yaml:"api"          mapstructure:"api"`
}

// ResolveConfigPath determines the config file path from a flag, falling
// back to the DNSD_CONFIG environment variable.
func ResolveConfigPath(flagValue string, envLookup func(string) string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if envLookup != nil {
		if v := strings.TrimSpace(envLookup("DNSD_CONFIG")); v != "" {
			return v
		}
	}
	return ""
}

// Load loads configuration from a YAML file with environment variable overrides.
func Load(path string) (*Config, error) {
	return loadFromSource(path)
}
