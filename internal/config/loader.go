package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Load] for zero-valued fields.
const (
	DefaultListenAddr           = ":8808"
	DefaultBackendBaseURL       = "http://127.0.0.1:8081"
	DefaultBackendTimeoutMs     = 30000
	DefaultMatchThreshold       = 0.7
	DefaultAutoSaveIntervalMs   = 30000
	DefaultMaxHistory           = 20
	DefaultMaxCandidates        = 8
	DefaultAutoConfirmThreshold = 85
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with every default applied and the extraction and
// fuzzy-matching features enabled.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: DefaultListenAddr,
			LogLevel:   LogInfo,
		},
		Backend: BackendConfig{
			BaseURL:      DefaultBackendBaseURL,
			TimeoutMs:    DefaultBackendTimeoutMs,
			PriceLookups: true,
		},
		Session: SessionConfig{
			AutoExtractRarity:    true,
			MatchThreshold:       DefaultMatchThreshold,
			EnableFuzzyMatching:  true,
			AutoSave:             true,
			AutoSaveIntervalMs:   DefaultAutoSaveIntervalMs,
			MaxHistory:           DefaultMaxHistory,
			MaxCandidates:        DefaultMaxCandidates,
			AutoConfirmThreshold: DefaultAutoConfirmThreshold,
		},
	}
}

// applyDefaults fills zero-valued fields that YAML decoding may have cleared.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = DefaultBackendBaseURL
	}
	if cfg.Backend.TimeoutMs <= 0 {
		cfg.Backend.TimeoutMs = DefaultBackendTimeoutMs
	}
	if cfg.Session.MatchThreshold <= 0 {
		cfg.Session.MatchThreshold = DefaultMatchThreshold
	}
	if cfg.Session.AutoSaveIntervalMs <= 0 {
		cfg.Session.AutoSaveIntervalMs = DefaultAutoSaveIntervalMs
	}
	if cfg.Session.MaxHistory <= 0 {
		cfg.Session.MaxHistory = DefaultMaxHistory
	}
	if cfg.Session.MaxCandidates <= 0 {
		cfg.Session.MaxCandidates = DefaultMaxCandidates
	}
	if cfg.Session.AutoConfirmThreshold <= 0 {
		cfg.Session.AutoConfirmThreshold = DefaultAutoConfirmThreshold
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Session.MatchThreshold < 0 || cfg.Session.MatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("session.match_threshold %v is out of range [0, 1]", cfg.Session.MatchThreshold))
	}
	if cfg.Session.AutoConfirmThreshold < 0 || cfg.Session.AutoConfirmThreshold > 100 {
		errs = append(errs, fmt.Errorf("session.auto_confirm_threshold %v is out of range [0, 100]", cfg.Session.AutoConfirmThreshold))
	}

	return errors.Join(errs...)
}
