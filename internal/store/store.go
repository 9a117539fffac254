// SPDX-License-Identifier: MIT

// Package store provides SQLite persistence for settings, schedules,
// devices, rules, decisions, and action logs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

// Store wraps the SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// New opens the database, runs migrations, and seeds defaults.
// hostTimezone seeds the timezone settings on first start.
func New(dbPath, hostTimezone string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	// busy_timeout avoids "database locked" errors under concurrent workers
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if err := s.ensureDefaults(hostTimezone); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed defaults: %w", err)
	}
	if err := s.ensureDefaultSchedule(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed default schedule: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS schedules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		start TEXT NOT NULL,
		end TEXT NOT NULL,
		timezone TEXT NOT NULL,
		mode TEXT NOT NULL DEFAULT 'blocklist',
		created_at TEXT,
		updated_at TEXT
	);

	CREATE TABLE IF NOT EXISTS devices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT,
		screen_id TEXT UNIQUE,
		lounge_token TEXT,
		auth_state_json TEXT,
		status TEXT DEFAULT 'offline',
		last_seen_at TEXT,
		last_error TEXT
	);

	CREATE TABLE IF NOT EXISTS video_decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id INTEGER,
		video_id TEXT,
		channel_id TEXT,
		title TEXT,
		thumbnail_url TEXT,
		verdict TEXT,
		reason TEXT,
		confidence INTEGER,
		source TEXT,
		action_taken TEXT,
		created_at TEXT
	);

	CREATE TABLE IF NOT EXISTS rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rule_type TEXT,
		scope TEXT,
		value TEXT,
		label TEXT DEFAULT '',
		url TEXT DEFAULT '',
		source_list TEXT DEFAULT 'manual',
		created_at TEXT
	);

	CREATE TABLE IF NOT EXISTS analysis_cache (
		key TEXT PRIMARY KEY,
		payload_json TEXT,
		expires_at TEXT
	);

	CREATE TABLE IF NOT EXISTS sponsorblock_actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id INTEGER,
		video_id TEXT,
		title TEXT,
		category TEXT,
		segment_start REAL,
		segment_end REAL,
		action_taken TEXT,
		status TEXT,
		error TEXT,
		created_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_rules_scope_value ON rules(scope, value);
	CREATE INDEX IF NOT EXISTS idx_rules_type_scope ON rules(rule_type, scope);
	CREATE INDEX IF NOT EXISTS idx_schedules_enabled_id ON schedules(enabled, id);
	CREATE INDEX IF NOT EXISTS idx_video_decisions_created ON video_decisions(id DESC);
	CREATE INDEX IF NOT EXISTS idx_video_decisions_verdict ON video_decisions(verdict, id DESC);
	CREATE INDEX IF NOT EXISTS idx_sponsorblock_actions_created ON sponsorblock_actions(id DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) ensureDefaults(hostTimezone string) error {
	if hostTimezone == "" {
		hostTimezone = "UTC"
	}
	defaults := map[string]string{
		"active":                            "true",
		"schedule_enabled":                  "true",
		"schedule_start":                    "07:00",
		"schedule_end":                      "19:00",
		"timezone":                          hostTimezone,
		"custom_prompt":                     "",
		"failure_webhook_url":               "",
		"webhook_control_token":             "",
		"judge_ok":                          "true",
		"last_error":                        "",
		"gemini_api_key_runtime":            "",
		"last_failure_alert_at":             "",
		"policy_flags_json":                 "{}",
		"gemini_enabled":                    "true",
		"sponsorblock_active":               "false",
		"sponsorblock_schedule_enabled":     "false",
		"sponsorblock_schedule_start":       "00:00",
		"sponsorblock_schedule_end":         "23:59",
		"sponsorblock_timezone":             hostTimezone,
		"sponsorblock_categories_json":      `["sponsor","selfpromo","interaction","intro","outro","music_offtopic"]`,
		"sponsorblock_min_length_seconds":   "1.0",
		"sponsorblock_release_until":        "",
		"mqtt_enabled":                      "false",
		"mqtt_host":                         "",
		"mqtt_port":                         "1883",
		"mqtt_username":                     "",
		"mqtt_password":                     "",
		"mqtt_base_topic":                   "sentinel",
		"mqtt_discovery_prefix":             "homeassistant",
		"mqtt_retain":                       "true",
		"mqtt_tls":                          "false",
		"mqtt_publish_interval_seconds":     "30",
		"mqtt_client_id":                    "sentinel-yt",
		"blacklist_source_urls":             "",
		"whitelist_source_urls":             "",
		"allow_policy_flags_json":           "{}",
		"schedule_mode":                     "blocklist",
	}
	ctx := context.Background()
	for key, value := range defaults {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO settings(key, value) VALUES(?, ?) ON CONFLICT(key) DO NOTHING`,
			key, value)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ensureDefaultSchedule() error {
	ctx := context.Background()
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schedules").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	get := func(key, def string) string {
		v, err := s.GetSetting(ctx, key)
		if err != nil || v == "" {
			return def
		}
		return v
	}
	_, err := s.AddSchedule(ctx, Schedule{
		Name:     "Default",
		Enabled:  get("schedule_enabled", "true") == "true",
		Start:    get("schedule_start", "07:00"),
		End:      get("schedule_end", "19:00"),
		Timezone: get("timezone", "UTC"),
		Mode:     get("schedule_mode", "blocklist"),
	})
	return err
}

func utcNowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// GetSetting returns the stored value, or "" when the key does not exist.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetSetting inserts or replaces a settings key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

// AllSettings returns the whole settings table as a map.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
