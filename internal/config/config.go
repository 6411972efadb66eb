package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/repofetch/internal/safety"
)

// Environment variables overlaid onto a loaded config.
const (
	EnvToken    = "REPOFETCH_TOKEN"
	EnvProxyURL = "REPOFETCH_PROXY_URL"
	EnvMirrors  = "REPOFETCH_MIRRORS"
)

// Config is the top-level configuration
type Config struct {
	GitHub   GitHubConfig   `yaml:"github"`
	Mirror   MirrorConfig   `yaml:"mirror"`
	Download DownloadConfig `yaml:"download"`
	Journal  JournalConfig  `yaml:"journal"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// GitHubConfig holds origin server settings
type GitHubConfig struct {
	ServerURL string `yaml:"server_url"`
	APIURL    string `yaml:"api_url"` // empty derives from server_url
	Token     string `yaml:"token"`
}

// MirrorConfig holds mirror proxy and selection settings
type MirrorConfig struct {
	Candidates     []string      `yaml:"candidates"`
	ProxyURL       string        `yaml:"proxy_url"`
	SupportedHosts []string      `yaml:"supported_hosts"`
	ProbeURL       string        `yaml:"probe_url"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	MaxProbeWait   time.Duration `yaml:"max_probe_wait"` // 0 waits for every probe
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

// DownloadConfig holds archive download settings
type DownloadConfig struct {
	RetryAttempts  int           `yaml:"retry_attempts"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxArchiveSize string        `yaml:"max_archive_size"` // e.g. "2GB", empty for no limit
}

// JournalConfig holds acquisition history settings
type JournalConfig struct {
	DBPath string `yaml:"db_path"` // empty disables the journal
}

// MetricsConfig holds metrics export settings
type MetricsConfig struct {
	Textfile string `yaml:"textfile"` // empty disables the export
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		GitHub: GitHubConfig{
			ServerURL: "https://github.com",
		},
		Mirror: MirrorConfig{
			SupportedHosts: []string{"github.com", "githubusercontent.com"},
			ProbeURL:       "https://github.com/robots.txt",
			ProbeTimeout:   5 * time.Second,
			CacheTTL:       5 * time.Minute,
		},
		Download: DownloadConfig{
			RetryAttempts: 3,
			Timeout:       10 * time.Minute,
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"repofetch.yaml",
		"/etc/repofetch/repofetch.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "repofetch", "repofetch.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// LoadDotenv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotenv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment settings onto c.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvToken); ok && v != "" {
		c.GitHub.Token = v
	}
	if v, ok := lookup(EnvProxyURL); ok && v != "" {
		c.Mirror.ProxyURL = v
	}
	if v, ok := lookup(EnvMirrors); ok && v != "" {
		var candidates []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				candidates = append(candidates, part)
			}
		}
		c.Mirror.Candidates = candidates
	}
}

// MaxArchiveBytes parses Download.MaxArchiveSize. Empty means no limit.
func (c *Config) MaxArchiveBytes() (int64, error) {
	if c.Download.MaxArchiveSize == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.Download.MaxArchiveSize)
	if err != nil {
		return 0, fmt.Errorf("parsing download.max_archive_size: %w", err)
	}
	return int64(n), nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := safety.ParseHTTPURL(c.GitHub.ServerURL); err != nil {
		return fmt.Errorf("github.server_url: %w", err)
	}
	if c.GitHub.APIURL != "" {
		if _, err := safety.ParseHTTPURL(c.GitHub.APIURL); err != nil {
			return fmt.Errorf("github.api_url: %w", err)
		}
	}
	for i, raw := range c.Mirror.Candidates {
		if _, err := safety.ParseHTTPURL(raw); err != nil {
			return fmt.Errorf("mirror.candidates[%d] %s: %w", i, safety.MaskUserinfo(raw), err)
		}
	}
	if c.Mirror.ProxyURL != "" {
		if _, err := safety.ParseHTTPURL(c.Mirror.ProxyURL); err != nil {
			return fmt.Errorf("mirror.proxy_url: %w", err)
		}
	}
	if c.Mirror.ProbeTimeout <= 0 {
		return fmt.Errorf("mirror.probe_timeout must be positive")
	}
	if c.Mirror.MaxProbeWait < 0 {
		return fmt.Errorf("mirror.max_probe_wait must not be negative")
	}
	if c.Mirror.CacheTTL <= 0 {
		return fmt.Errorf("mirror.cache_ttl must be positive")
	}
	if c.Download.RetryAttempts < 1 {
		return fmt.Errorf("download.retry_attempts must be at least 1")
	}
	if c.Download.Timeout <= 0 {
		return fmt.Errorf("download.timeout must be positive")
	}
	if _, err := c.MaxArchiveBytes(); err != nil {
		return err
	}
	return nil
}

// Redacted returns a copy safe to print: the token is replaced and URL
// credentials are masked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.GitHub.Token != "" {
		out.GitHub.Token = "*****"
	}
	out.Mirror.ProxyURL = safety.MaskUserinfo(c.Mirror.ProxyURL)
	out.Mirror.Candidates = make([]string, len(c.Mirror.Candidates))
	for i, raw := range c.Mirror.Candidates {
		out.Mirror.Candidates[i] = safety.MaskUserinfo(raw)
	}
	return &out
}
