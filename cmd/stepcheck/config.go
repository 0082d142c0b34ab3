package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rendis/stepcheck/internal/validation"
)

// Config holds all stepcheck configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath               string `json:"db_path"`
	LogLevel             string `json:"log_level"`
	SystemMaxDelay       string `json:"system_max_delay"`
	SystemMaxDigest      string `json:"system_max_digest"`
	CronAllowedByDefault bool   `json:"cron_allowed_by_default"`
	SelfHosted           bool   `json:"self_hosted"`
	StrictFilters        bool   `json:"strict_filters"`
	MockReferenceTime    string `json:"mock_reference_time"`
	RevalidateSchedule   string `json:"revalidate_schedule"` // cron spec; empty disables
}

func defaultConfig() Config {
	return Config{
		DBPath:               filepath.Join(stepcheckDir(), "stepcheck.db"),
		LogLevel:             "info",
		SystemMaxDelay:       validation.SystemTierLimits.MaxDelay.String(),
		SystemMaxDigest:      validation.SystemTierLimits.MaxDigest.String(),
		CronAllowedByDefault: validation.SystemTierLimits.CronAllowed,
	}
}

func stepcheckDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stepcheck"
	}
	return filepath.Join(home, ".stepcheck")
}

func settingsPath() string {
	return filepath.Join(stepcheckDir(), "settings.json")
}

func loadConfig() Config {
	return loadConfigFrom(settingsPath(), os.Getenv)
}

func loadConfigFrom(path string, getenv func(string) string) Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := getenv("STEPCHECK_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("STEPCHECK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("STEPCHECK_SYSTEM_MAX_DELAY"); v != "" {
		cfg.SystemMaxDelay = v
	}
	if v := getenv("STEPCHECK_SYSTEM_MAX_DIGEST"); v != "" {
		cfg.SystemMaxDigest = v
	}
	if v := getenv("STEPCHECK_CRON_ALLOWED_BY_DEFAULT"); v != "" {
		cfg.CronAllowedByDefault = parseBool(v)
	}
	if v := getenv("STEPCHECK_SELF_HOSTED"); v != "" {
		cfg.SelfHosted = parseBool(v)
	}
	if v := getenv("STEPCHECK_STRICT_FILTERS"); v != "" {
		cfg.StrictFilters = parseBool(v)
	}
	if v := getenv("STEPCHECK_MOCK_REFERENCE_TIME"); v != "" {
		cfg.MockReferenceTime = v
	}
	if v := getenv("STEPCHECK_REVALIDATE_SCHEDULE"); v != "" {
		cfg.RevalidateSchedule = v
	}

	return cfg
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// SystemLimits converts the configured ceilings. Unparseable durations keep
// the built-in system value.
func (c Config) SystemLimits() validation.TierLimits {
	limits := validation.SystemTierLimits
	if d, err := time.ParseDuration(c.SystemMaxDelay); err == nil && d > 0 {
		limits.MaxDelay = d
	}
	if d, err := time.ParseDuration(c.SystemMaxDigest); err == nil && d > 0 {
		limits.MaxDigest = d
	}
	limits.CronAllowed = c.CronAllowedByDefault
	return limits
}

// ReferenceTime returns the mock reference instant, or ok=false when none
// is configured or it does not parse as RFC 3339.
func (c Config) ReferenceTime() (time.Time, bool) {
	if c.MockReferenceTime == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, c.MockReferenceTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
