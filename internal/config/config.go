// Package config provides the configuration schema and loader for the cardrip
// companion service.
package config

// LogLevel controls log verbosity for the cardrip server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for cardrip.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Storage StorageConfig `yaml:"storage"`
	Session SessionConfig `yaml:"session"`
}

// ServerConfig holds network and logging settings for the local gateway.
type ServerConfig struct {
	// ListenAddr is the TCP address the gateway listens on (e.g. ":8808").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// BackendConfig points at the external catalog/pricing service.
type BackendConfig struct {
	// BaseURL is the backend's base URL. Default: http://127.0.0.1:8081.
	BaseURL string `yaml:"base_url"`

	// TimeoutMs bounds every outbound request. Default: 30000.
	TimeoutMs int `yaml:"timeout_ms"`

	// PriceLookups enables asynchronous per-entry price enrichment after a
	// card is added to the session.
	PriceLookups bool `yaml:"price_lookups"`
}

// StorageConfig selects the persistence backing.
type StorageConfig struct {
	// Path is the SQLite database file. Empty selects the in-memory store,
	// which loses sessions on restart.
	Path string `yaml:"path"`
}

// SessionConfig carries the default per-session settings. Individual sessions
// may override them at start.
type SessionConfig struct {
	// AutoExtractRarity enables the rarity-phrase extractor on transcripts.
	AutoExtractRarity bool `yaml:"auto_extract_rarity"`

	// AutoExtractArtVariant enables the art-variant extractor on transcripts.
	AutoExtractArtVariant bool `yaml:"auto_extract_art_variant"`

	// MatchThreshold is the minimum name-match ratio in [0,1]. Default: 0.7.
	MatchThreshold float64 `yaml:"match_threshold"`

	// EnableFuzzyMatching turns on the expanded variant/phonetic resolver pass.
	EnableFuzzyMatching bool `yaml:"enable_fuzzy_matching"`

	// AutoSave persists the active session at a fixed interval.
	AutoSave bool `yaml:"auto_save"`

	// AutoSaveIntervalMs is the auto-save cadence. Default: 30000.
	AutoSaveIntervalMs int `yaml:"auto_save_interval_ms"`

	// MaxHistory bounds the stopped-session history. Default: 20.
	MaxHistory int `yaml:"max_history"`

	// MaxCandidates truncates resolver output. Default: 8.
	MaxCandidates int `yaml:"max_candidates"`

	// AutoConfirm adds the top candidate directly when its confidence meets
	// AutoConfirmThreshold instead of returning the choice list.
	AutoConfirm bool `yaml:"auto_confirm"`

	// AutoConfirmThreshold is the auto-confirm confidence floor in [0,100].
	// Default: 85.
	AutoConfirmThreshold float64 `yaml:"auto_confirm_threshold"`
}
