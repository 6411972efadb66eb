package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// TestDefaultConfig verifies that DefaultConfig returns sensible defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		getValue func(*Config) string
		want     string
	}{
		{"server url", func(c *Config) string { return c.GitHub.ServerURL }, "https://github.com"},
		{"api url", func(c *Config) string { return c.GitHub.APIURL }, ""},
		{"probe url", func(c *Config) string { return c.Mirror.ProbeURL }, "https://github.com/robots.txt"},
		{"probe timeout", func(c *Config) string { return c.Mirror.ProbeTimeout.String() }, "5s"},
		{"cache ttl", func(c *Config) string { return c.Mirror.CacheTTL.String() }, "5m0s"},
		{"download timeout", func(c *Config) string { return c.Download.Timeout.String() }, "10m0s"},
		{"journal", func(c *Config) string { return c.Journal.DBPath }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.getValue(cfg)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if cfg.Download.RetryAttempts != 3 {
		t.Errorf("RetryAttempts = %d, want 3", cfg.Download.RetryAttempts)
	}
	if len(cfg.Mirror.SupportedHosts) != 2 {
		t.Errorf("SupportedHosts = %v, want github.com and githubusercontent.com", cfg.Mirror.SupportedHosts)
	}
	if cfg.Mirror.MaxProbeWait != 0 {
		t.Errorf("MaxProbeWait = %v, want 0", cfg.Mirror.MaxProbeWait)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

// TestLoad tests loading a valid config file
func TestLoad(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "repofetch.yaml")

	configContent := `
github:
  server_url: "https://ghe.example"
  token: "file-token"
mirror:
  candidates:
    - "https://mirror-a.example"
    - "https://u:p@mirror-b.example"
  probe_timeout: 2s
  max_probe_wait: 8s
  cache_ttl: 1m
download:
  retry_attempts: 5
  max_archive_size: "2GB"
journal:
  db_path: "/var/lib/repofetch/journal.db"
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.GitHub.ServerURL != "https://ghe.example" {
		t.Errorf("ServerURL = %q", cfg.GitHub.ServerURL)
	}
	if cfg.GitHub.Token != "file-token" {
		t.Errorf("Token = %q", cfg.GitHub.Token)
	}
	if len(cfg.Mirror.Candidates) != 2 {
		t.Fatalf("Candidates = %v", cfg.Mirror.Candidates)
	}
	if cfg.Mirror.ProbeTimeout != 2*time.Second || cfg.Mirror.MaxProbeWait != 8*time.Second || cfg.Mirror.CacheTTL != time.Minute {
		t.Errorf("durations not parsed: %+v", cfg.Mirror)
	}
	if cfg.Download.RetryAttempts != 5 {
		t.Errorf("RetryAttempts = %d, want 5", cfg.Download.RetryAttempts)
	}
	// Unset keys keep their defaults.
	if cfg.Download.Timeout != 10*time.Minute {
		t.Errorf("Timeout = %v, want default 10m", cfg.Download.Timeout)
	}
	if cfg.Mirror.ProbeURL != "https://github.com/robots.txt" {
		t.Errorf("ProbeURL = %q, want default", cfg.Mirror.ProbeURL)
	}

	n, err := cfg.MaxArchiveBytes()
	if err != nil {
		t.Fatalf("MaxArchiveBytes() failed: %v", err)
	}
	if n != 2_000_000_000 {
		t.Errorf("MaxArchiveBytes = %d, want 2000000000", n)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() failed: %v", err)
	}
}

// TestLoadInvalidYAML tests that Load returns an error for invalid YAML
func TestLoadInvalidYAML(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "invalid.yaml")

	invalidContent := `
github:
  server_url: "https://github.com"
  invalid: [unclosed bracket
`

	if err := os.WriteFile(configFile, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := Load(configFile); err == nil {
		t.Error("Load() succeeded, want error for invalid YAML")
	}
}

// TestLoadNonexistentFile tests that Load returns an error for missing files
func TestLoadNonexistentFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/to/config.yaml"); err == nil {
		t.Error("Load() succeeded, want error for nonexistent file")
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	originalWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(originalWd); err != nil {
			t.Fatalf("failed to restore working directory: %v", err)
		}
	})
}

// TestFindConfigFileFound tests that FindConfigFile prefers the working directory
func TestFindConfigFileFound(t *testing.T) {
	tempDir := t.TempDir()
	chdir(t, tempDir)

	if err := os.WriteFile(filepath.Join(tempDir, "repofetch.yaml"), []byte("github:\n  token: x\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	found, err := FindConfigFile()
	if err != nil {
		t.Fatalf("FindConfigFile() failed: %v", err)
	}
	if found != "repofetch.yaml" {
		t.Errorf("FindConfigFile() = %q, want repofetch.yaml", found)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvToken:    "env-token",
		EnvProxyURL: "https://proxy.example",
		EnvMirrors:  " https://a.example , ,https://b.example",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	cfg.GitHub.Token = "file-token"
	cfg.ApplyEnv(lookup)

	if cfg.GitHub.Token != "env-token" {
		t.Errorf("Token = %q, want env-token", cfg.GitHub.Token)
	}
	if cfg.Mirror.ProxyURL != "https://proxy.example" {
		t.Errorf("ProxyURL = %q", cfg.Mirror.ProxyURL)
	}
	want := []string{"https://a.example", "https://b.example"}
	if strings.Join(cfg.Mirror.Candidates, ",") != strings.Join(want, ",") {
		t.Errorf("Candidates = %v, want %v", cfg.Mirror.Candidates, want)
	}

	untouched := DefaultConfig()
	untouched.GitHub.Token = "file-token"
	untouched.ApplyEnv(func(string) (string, bool) { return "", false })
	if untouched.GitHub.Token != "file-token" {
		t.Errorf("empty environment must not clear the token")
	}
}

func TestLoadDotenv(t *testing.T) {
	const key = "REPOFETCH_TEST_DOTENV_VALUE"
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(key+"=from-file\n"), 0644); err != nil {
		t.Fatalf("failed to write dotenv: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	if err := LoadDotenv(path); err != nil {
		t.Fatalf("LoadDotenv() failed: %v", err)
	}
	if got := os.Getenv(key); got != "from-file" {
		t.Errorf("%s = %q, want from-file", key, got)
	}

	if err := LoadDotenv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing dotenv should be ignored, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad server", func(c *Config) { c.GitHub.ServerURL = "github.com" }, "github.server_url"},
		{"bad candidate", func(c *Config) { c.Mirror.Candidates = []string{"ftp://u:p@x"} }, "mirror.candidates[0]"},
		{"bad proxy", func(c *Config) { c.Mirror.ProxyURL = "::" }, "mirror.proxy_url"},
		{"zero probe timeout", func(c *Config) { c.Mirror.ProbeTimeout = 0 }, "probe_timeout"},
		{"negative max wait", func(c *Config) { c.Mirror.MaxProbeWait = -time.Second }, "max_probe_wait"},
		{"zero ttl", func(c *Config) { c.Mirror.CacheTTL = 0 }, "cache_ttl"},
		{"zero retries", func(c *Config) { c.Download.RetryAttempts = 0 }, "retry_attempts"},
		{"bad size", func(c *Config) { c.Download.MaxArchiveSize = "lots" }, "max_archive_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
			if strings.Contains(err.Error(), "u:p") {
				t.Errorf("error leaks credentials: %v", err)
			}
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GitHub.Token = "ghp_secret"
	cfg.Mirror.ProxyURL = "https://u:p@proxy.example"
	cfg.Mirror.Candidates = []string{"https://a:b@mirror.example"}

	data, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := string(data)
	for _, secret := range []string{"ghp_secret", "u:p", "a:b"} {
		if strings.Contains(out, secret) {
			t.Errorf("redacted output contains %q:\n%s", secret, out)
		}
	}
	if cfg.Mirror.Candidates[0] != "https://a:b@mirror.example" {
		t.Error("Redacted must not modify the original")
	}
}
