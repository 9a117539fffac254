// SPDX-License-Identifier: MIT

// Package config loads the static daemon settings from the environment.
// Runtime-tunable knobs (schedules, policy flags, MQTT broker settings)
// live in the settings table instead and are editable over the API.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Settings holds the environment-derived configuration. Values here are
// fixed for the lifetime of the process.
type Settings struct {
	AppName      string
	BuildVersion string
	Host         string
	Port         int
	DataDir      string
	DBPath       string

	GeminiAPIKey string
	GeminiModel  string

	TimezoneDefault string

	WebhookTimeoutSeconds   int
	DecisionCacheTTLSeconds int
	StrictAllowMinConf      int

	SponsorBlockAPIBase         string
	SponsorBlockSegmentCacheTTL int
	RemoteListsCacheTTLSeconds  int

	LogLevel string
}

// Load reads all settings from the environment, applying defaults.
func Load() Settings {
	return Settings{
		AppName:      "Sentinel",
		BuildVersion: ParseString("SENTINEL_BUILD_VERSION", "v1"),
		Host:         ParseString("SENTINEL_HOST", "0.0.0.0"),
		Port:         ParseInt("SENTINEL_PORT", 8090),
		DataDir:      ParseString("SENTINEL_DATA_DIR", "/data"),
		DBPath:       ParseString("SENTINEL_DB_PATH", "/data/sentinel.db"),

		GeminiAPIKey: ParseString("GEMINI_API_KEY", ""),
		GeminiModel:  ParseString("GEMINI_MODEL", "gemini-2.0-flash"),

		TimezoneDefault: ParseString("SENTINEL_TIMEZONE_DEFAULT", ""),

		WebhookTimeoutSeconds:   ParseInt("SENTINEL_WEBHOOK_TIMEOUT_SECONDS", 8),
		DecisionCacheTTLSeconds: ParseInt("SENTINEL_DECISION_CACHE_TTL_SECONDS", 2592000),
		StrictAllowMinConf:      ParseInt("SENTINEL_STRICT_ALLOW_MIN_CONFIDENCE", 95),

		SponsorBlockAPIBase:         ParseString("SENTINEL_SPONSORBLOCK_API_BASE", "https://sponsor.ajay.app/api"),
		SponsorBlockSegmentCacheTTL: ParseInt("SENTINEL_SPONSORBLOCK_SEGMENT_CACHE_TTL_SECONDS", 900),
		RemoteListsCacheTTLSeconds:  ParseInt("SENTINEL_REMOTE_BLOCKLISTS_CACHE_TTL_SECONDS", 900),

		LogLevel: ParseString("SENTINEL_LOG_LEVEL", "info"),
	}
}

// HostTimezone returns the host timezone name, preferring the TZ variable.
func HostTimezone() string {
	if tz := strings.TrimSpace(os.Getenv("TZ")); tz != "" {
		return tz
	}
	return "UTC"
}

// ParseString returns the trimmed environment value or the default.
func ParseString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// ParseInt returns the environment value as int or the default on
// missing/unparseable input.
func ParseInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
