package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/cardrip/internal/config"
)

func TestLoadFromReader_Minimal(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: debug\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("LogLevel = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Backend.BaseURL != config.DefaultBackendBaseURL {
		t.Errorf("BaseURL = %q, want default %q", cfg.Backend.BaseURL, config.DefaultBackendBaseURL)
	}
	if cfg.Session.MatchThreshold != config.DefaultMatchThreshold {
		t.Errorf("MatchThreshold = %v, want default %v", cfg.Session.MatchThreshold, config.DefaultMatchThreshold)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("serverr:\n  listen_addr: \":1\"\n"))
	if err == nil {
		t.Fatal("LoadFromReader accepted an unknown top-level field")
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: loud\n"))
	if err == nil || !strings.Contains(err.Error(), "log_level") {
		t.Errorf("LoadFromReader error = %v, want log_level validation failure", err)
	}
}

func TestValidate_ThresholdRange(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("session:\n  match_threshold: 1.5\n"))
	if err == nil || !strings.Contains(err.Error(), "match_threshold") {
		t.Errorf("LoadFromReader error = %v, want match_threshold validation failure", err)
	}
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	if err := config.Validate(config.Default()); err != nil {
		t.Errorf("Validate(Default()) = %v, want nil", err)
	}
}
