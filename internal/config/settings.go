package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds the non-secret numeric knobs the CLI and server read
// from probefind.yaml. Only RandomComboCount, MaxIngestWorkers and
// DefaultMaxDBSizeGB can be overridden by environment variables (see
// loadApp in cmd/probefind); the other knobs come from the file alone.
type Settings struct {
	RandomComboCount           int     `yaml:"random_combo_count"`
	RandomPerAugmentation      int     `yaml:"random_per_augmentation"`
	IngestCycles               int     `yaml:"ingest_cycles"`
	GuidedPerCycle             int     `yaml:"guided_per_cycle"`
	MinGuidedSampleSize        int64   `yaml:"min_guided_sample_size"`
	MaxIngestWorkers           int     `yaml:"max_ingest_workers"`
	DiscoverEveryNIngests      int     `yaml:"discover_every_n_ingests"`
	DiscoverIterationsPerBatch int     `yaml:"discover_iterations_per_batch"`
	RealtimePruneEveryNIngests int     `yaml:"realtime_prune_every_n_ingests"`
	RealtimePruneMinIntervalS  int     `yaml:"realtime_prune_min_interval_seconds"`
	SessionTTLMinutes          int     `yaml:"session_ttl_minutes"`
	DefaultMaxDBSizeGB         float64 `yaml:"default_max_db_size_gb"`
	MinSkipCount               int64   `yaml:"min_skip_count"`
	MinGroupAgeMinutes         int     `yaml:"min_group_age_minutes"`
	MaxGroupHitCount           int64   `yaml:"max_group_hit_count"`
	RateLimitPerMinute         int     `yaml:"rate_limit_per_minute"`
	RateLimitBurst             int     `yaml:"rate_limit_burst"`
}

// DefaultSettings mirrors the constants a freshly-cloned deployment
// should run with before anyone writes a probefind.yaml.
func DefaultSettings() Settings {
	return Settings{
		RandomComboCount:           4,
		RandomPerAugmentation:      8,
		IngestCycles:               3,
		GuidedPerCycle:             12,
		MinGuidedSampleSize:        20,
		MaxIngestWorkers:           0,
		DiscoverEveryNIngests:      10,
		DiscoverIterationsPerBatch: 25,
		RealtimePruneEveryNIngests: 50,
		RealtimePruneMinIntervalS:  300,
		SessionTTLMinutes:          10,
		DefaultMaxDBSizeGB:         5.0,
		MinSkipCount:               20,
		MinGroupAgeMinutes:         MinAgeMinutes,
		MaxGroupHitCount:           2,
		RateLimitPerMinute:         60,
		RateLimitBurst:             10,
	}
}

// LoadSettings reads path if present, folding its values over the
// defaults; a missing file is not an error. It reads no environment
// variables; the caller applies the RANDOM_COMBO_COUNT,
// MAX_INGEST_WORKERS and MAX_DB_SIZE_GB overrides afterwards through
// GetEnvIntOrDefault/GetEnvFloatOrDefault.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	blob, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(blob, &s); err != nil {
		return s, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return s, nil
}

func (s Settings) SessionTTL() time.Duration {
	return time.Duration(s.SessionTTLMinutes) * time.Minute
}

func (s Settings) RealtimePruneMinInterval() time.Duration {
	return time.Duration(s.RealtimePruneMinIntervalS) * time.Second
}
