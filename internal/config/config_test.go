package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"nodesift/internal/source"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
sources:
  - type: subscription
    url: https://example.com/sub
  - type: file
    path: ./nodes.txt
filter:
  name_blacklist: ["expire", "traffic"]
  abuseipdb_key: secret
tester:
  mihomo_bin: /opt/mihomo/mihomo
  switch_timeout: 3s
remote_push:
  enable: true
  url: https://worker.example.com
  token: tok
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Sources) != 2 || cfg.Sources[0].Kind != source.KindSubscription || cfg.Sources[1].Path != "./nodes.txt" {
		t.Errorf("sources = %+v", cfg.Sources)
	}
	if cfg.Filter.AbuseAPIKey != "secret" || len(cfg.Filter.NameBlacklist) != 2 {
		t.Errorf("filter = %+v", cfg.Filter)
	}
	if cfg.Tester.MihomoBin != "/opt/mihomo/mihomo" {
		t.Errorf("mihomo_bin = %q", cfg.Tester.MihomoBin)
	}
	if cfg.Tester.SwitchTimeout != 3*time.Second {
		t.Errorf("switch_timeout = %v", cfg.Tester.SwitchTimeout)
	}
	// Unset fields fall back to defaults.
	if cfg.Tester.StartupTimeout != 15*time.Second {
		t.Errorf("startup_timeout = %v", cfg.Tester.StartupTimeout)
	}
	if cfg.Output.Dir != "./output" || cfg.Output.ConfigFile != "filtered_config.yaml" {
		t.Errorf("output = %+v", cfg.Output)
	}
	if !cfg.Push.Enable || cfg.Push.Token != "tok" {
		t.Errorf("push = %+v", cfg.Push)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Filter.ResolveWorkers != 20 || cfg.Output.MixedPort != 7890 {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("sources: [unclosed"), 0644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}
