package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"netsentinel/internal/model"
	"netsentinel/internal/probe"
	"netsentinel/internal/sampler"
	"netsentinel/internal/store"
)

const (
	DefaultInterval = time.Second
	DefaultListen   = "127.0.0.1:8090"
	// FallbackDataDir is used when the user config directory is unknown.
	FallbackDataDir = "/var/lib/netsentinel"
	DefaultMethod   = "HEAD"
)

// Config holds monitor settings.
type Config struct {
	Targets      []model.Target `yaml:"targets"`
	Interval     time.Duration  `yaml:"interval"`
	ProbeTimeout time.Duration  `yaml:"probe_timeout"`
	TimingWait   time.Duration  `yaml:"timing_wait"`
	Method       string         `yaml:"method"`
	DataDir      string         `yaml:"data_dir"`
	Listen       string         `yaml:"listen"`
	HistoryKey   string         `yaml:"history_key"`
}

// DefaultTargets is the built-in probe set: one edge endpoint and three
// regional cloud ping endpoints.
func DefaultTargets() []model.Target {
	return []model.Target{
		{ID: "default", Name: "Local Edge", Location: "CDN", URL: "https://www.cloudflare.com/cdn-cgi/trace"},
		{ID: "mumbai", Name: "Mumbai", Location: "ap-south-1", URL: "https://dynamodb.ap-south-1.amazonaws.com/ping"},
		{ID: "washington", Name: "Washington", Location: "us-east-1", URL: "https://dynamodb.us-east-1.amazonaws.com/ping"},
		{ID: "stockholm", Name: "Stockholm", Location: "eu-north-1", URL: "https://dynamodb.eu-north-1.amazonaws.com/ping"},
	}
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks the target set and timing bounds.
func Validate(cfg Config) error {
	if len(cfg.Targets) == 0 {
		return fmt.Errorf("at least one target is required")
	}
	seen := make(map[string]bool, len(cfg.Targets))
	for i, t := range cfg.Targets {
		if t.ID == "" {
			return fmt.Errorf("targets[%d].id is required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate target id %q", t.ID)
		}
		seen[t.ID] = true
		if err := validateURL(t.URL); err != nil {
			return fmt.Errorf("target %s: %w", t.ID, err)
		}
	}
	if cfg.Interval <= 0 || cfg.Interval >= sampler.MaxInterval {
		return fmt.Errorf("interval must be in (0, %s), got %s", sampler.MaxInterval, cfg.Interval)
	}
	if cfg.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout must be positive")
	}
	switch cfg.Method {
	case "HEAD", "GET":
	default:
		return fmt.Errorf("method must be HEAD or GET, got %q", cfg.Method)
	}
	return nil
}

func validateURL(raw string) error {
	if probe.IsSTUN(raw) {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if len(cfg.Targets) == 0 {
		cfg.Targets = DefaultTargets()
	}
	for i := range cfg.Targets {
		if cfg.Targets[i].Name == "" {
			cfg.Targets[i].Name = cfg.Targets[i].ID
		}
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = probe.DefaultTimeout
	}
	if cfg.TimingWait == 0 {
		cfg.TimingWait = probe.DefaultTimingWait
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Method == "" {
		cfg.Method = DefaultMethod
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.HistoryKey == "" {
		cfg.HistoryKey = store.DefaultHistoryKey
	}
}

// DefaultDataDir returns the per-user history directory, e.g.
// ~/.config/netsentinel on Linux.
func DefaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return FallbackDataDir
	}
	return filepath.Join(dir, "netsentinel")
}

// Default returns a config with every field defaulted.
func Default() Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return cfg
}
