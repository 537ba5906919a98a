// Package config loads the YAML run configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"nodesift/internal/source"
)

// Config is the full run configuration.
type Config struct {
	Sources []source.Source `yaml:"sources"`
	Filter  Filter          `yaml:"filter"`
	Tester  Tester          `yaml:"tester"`
	Output  Output          `yaml:"output"`
	Push    Push            `yaml:"remote_push"`
	Logging Logging         `yaml:"logging"`
}

// Filter controls name filtering and classification inputs.
type Filter struct {
	NameBlacklist []string `yaml:"name_blacklist"`
	NameWhitelist []string `yaml:"name_whitelist"`

	// ASNFile overrides the embedded datacenter ASN registry.
	ASNFile string `yaml:"asn_file"`

	// AbuseAPIKey enables the AbuseIPDB reputation signal.
	AbuseAPIKey string `yaml:"abuseipdb_key"`

	// MMDBPath optionally points at a GeoLite2-ASN database used to fill
	// ASN fields the geolocation service omits.
	MMDBPath string `yaml:"mmdb_path"`

	ResolveWorkers int           `yaml:"resolve_workers"`
	ResolveTimeout time.Duration `yaml:"resolve_timeout"`
}

// Tester controls the precise-path probing session.
type Tester struct {
	MihomoBin string        `yaml:"mihomo_bin"`
	TestURL   string        `yaml:"test_url"`
	Timeout   time.Duration `yaml:"timeout"`

	SwitchTimeout  time.Duration `yaml:"switch_timeout"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`

	MeasureDelay bool `yaml:"measure_delay"`

	// UnlockServices selects which providers to probe through each node.
	// Empty disables unlock checks entirely.
	UnlockServices []string `yaml:"unlock_services"`
	UnlockEnabled  bool     `yaml:"unlock_enabled"`
}

// Output controls artifact generation.
type Output struct {
	Dir         string `yaml:"dir"`
	ConfigFile  string `yaml:"config_file"`
	ProxiesFile string `yaml:"proxies_file"`
	ReportFile  string `yaml:"report_file"`
	MixedPort   int    `yaml:"mixed_port"`
	APIPort     int    `yaml:"api_port"`
}

// Push controls uploading artifacts to a remote worker.
type Push struct {
	Enable bool   `yaml:"enable"`
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
}

// Logging controls log output.
type Logging struct {
	Level string `yaml:"level"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Filter.ResolveWorkers <= 0 {
		c.Filter.ResolveWorkers = 20
	}
	if c.Filter.ResolveTimeout <= 0 {
		c.Filter.ResolveTimeout = 5 * time.Second
	}
	if c.Tester.MihomoBin == "" {
		c.Tester.MihomoBin = "mihomo"
	}
	if c.Tester.TestURL == "" {
		c.Tester.TestURL = "https://www.gstatic.com/generate_204"
	}
	if c.Tester.Timeout <= 0 {
		c.Tester.Timeout = 10 * time.Second
	}
	if c.Tester.SwitchTimeout <= 0 {
		c.Tester.SwitchTimeout = 8 * time.Second
	}
	if c.Tester.StartupTimeout <= 0 {
		c.Tester.StartupTimeout = 15 * time.Second
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.ConfigFile == "" {
		c.Output.ConfigFile = "filtered_config.yaml"
	}
	if c.Output.ProxiesFile == "" {
		c.Output.ProxiesFile = "filtered_proxies.yaml"
	}
	if c.Output.ReportFile == "" {
		c.Output.ReportFile = "filter_report.md"
	}
	if c.Output.MixedPort <= 0 {
		c.Output.MixedPort = 7890
	}
	if c.Output.APIPort <= 0 {
		c.Output.APIPort = 9090
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Load reads a YAML config file and applies defaults. A missing path returns
// the default configuration.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}
