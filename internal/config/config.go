// Package config loads the estate guardian's tunable constants from a YAML
// file and environment overrides, following the teacher's pkg/config
// loader shape (envdecode struct tags + godotenv + yaml.v3) generalized
// from server/database settings to estate tunables (§6 Limits and
// constants).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EstateConfig controls the lifecycle timers (§4.G).
type EstateConfig struct {
	InactivityPeriodSecs uint64 `json:"inactivity_period_secs" yaml:"inactivity_period_secs" env:"ESTATE_INACTIVITY_PERIOD_SECS"`
	WarningWindowSecs    uint64 `json:"warning_window_secs" yaml:"warning_window_secs" env:"ESTATE_WARNING_WINDOW_SECS"`
}

// DocumentConfig bounds the chunked document upload path (§6 Limits).
type DocumentConfig struct {
	MaxDocBytes          uint64 `json:"max_doc_bytes" yaml:"max_doc_bytes" env:"DOCUMENT_MAX_DOC_BYTES"`
	MaxChunkBytes        uint64 `json:"max_chunk_bytes" yaml:"max_chunk_bytes" env:"DOCUMENT_MAX_CHUNK_BYTES"`
	MaxConcurrentUploads int    `json:"max_concurrent_uploads" yaml:"max_concurrent_uploads" env:"DOCUMENT_MAX_CONCURRENT_UPLOADS"`
}

// RetryConfig overrides retry-budget defaults (§4.L).
type RetryConfig struct {
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" env:"RETRY_MAX_ATTEMPTS"`
}

// MaintenanceConfig controls the periodic tick (§4.O).
type MaintenanceConfig struct {
	CronSpec               string `json:"cron_spec" yaml:"cron_spec" env:"MAINTENANCE_CRON_SPEC"`
	ReconciliationIntervalSecs uint64 `json:"reconciliation_interval_secs" yaml:"reconciliation_interval_secs" env:"MAINTENANCE_RECONCILIATION_INTERVAL_SECS"`
	MaxSessionPurgePerTick int    `json:"max_session_purge_per_tick" yaml:"max_session_purge_per_tick" env:"MAINTENANCE_MAX_SESSION_PURGE_PER_TICK"`
	MaxRetryPassesPerTick  int    `json:"max_retry_passes_per_tick" yaml:"max_retry_passes_per_tick" env:"MAINTENANCE_MAX_RETRY_PASSES_PER_TICK"`
	MaxNotificationsPerTick int   `json:"max_notifications_per_tick" yaml:"max_notifications_per_tick" env:"MAINTENANCE_MAX_NOTIFICATIONS_PER_TICK"`
	MaxEscrowScanPerTick   int    `json:"max_escrow_scan_per_tick" yaml:"max_escrow_scan_per_tick" env:"MAINTENANCE_MAX_ESCROW_SCAN_PER_TICK"`
	MetricsRingSize        int    `json:"metrics_ring_size" yaml:"metrics_ring_size" env:"MAINTENANCE_METRICS_RING_SIZE"`
}

// ServerConfig controls the ambient HTTP surface (/health, /info, /metrics).
type ServerConfig struct {
	Host string `json:"host" yaml:"host" env:"SERVER_HOST"`
	Port int    `json:"port" yaml:"port" env:"SERVER_PORT"`
}

// LoggingConfig controls the structured logger (internal/logging).
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT"`
}

// Config is the top-level estate guardian configuration.
type Config struct {
	Server      ServerConfig      `json:"server" yaml:"server"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
	Estate      EstateConfig      `json:"estate" yaml:"estate"`
	Document    DocumentConfig    `json:"document" yaml:"document"`
	Retry       RetryConfig       `json:"retry" yaml:"retry"`
	Maintenance MaintenanceConfig `json:"maintenance" yaml:"maintenance"`

	// MasterKeyHex is the 32-byte (hex-encoded) key subaccount/document
	// encryption keys are derived from. Empty in dev, generated at
	// startup and logged once as a warning — production deployments must
	// supply this via secret injection, not this loader.
	MasterKeyHex string `json:"-" yaml:"-" env:"ESTATE_MASTER_KEY_HEX"`
}

// New returns a Config populated with the spec's documented defaults
// (§6 Limits and constants).
func New() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Estate: EstateConfig{
			InactivityPeriodSecs: 30 * 24 * 3600,
			WarningWindowSecs:    7 * 24 * 3600,
		},
		Document: DocumentConfig{
			MaxDocBytes:          10 * 1024 * 1024,
			MaxChunkBytes:        512 * 1024,
			MaxConcurrentUploads: 4,
		},
		Retry: RetryConfig{MaxAttempts: 8},
		Maintenance: MaintenanceConfig{
			CronSpec:                   "@every 1h",
			ReconciliationIntervalSecs: 6 * 3600,
			MaxSessionPurgePerTick:     64,
			MaxRetryPassesPerTick:      8,
			MaxNotificationsPerTick:    10,
			MaxEscrowScanPerTick:       16,
			MetricsRingSize:            168,
		},
	}
}

// Load builds a Config from (in increasing precedence) the compiled-in
// defaults, an optional CONFIG_FILE YAML document, and environment
// variables, matching the teacher's pkg/config.Load three-tier precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/estateguardian.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors when no tagged field was present in the
		// environment at all; that just means "no overrides."
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
