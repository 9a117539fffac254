// SPDX-License-Identifier: MIT

// Package runtime is the supervisor: it computes the effective
// enforcement state, reacts to device events, replaces blocked videos
// and keeps the MQTT bridge fed.
package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/joeblack2k/sentinel-yt/internal/bus"
	"github.com/joeblack2k/sentinel-yt/internal/config"
	"github.com/joeblack2k/sentinel-yt/internal/judge"
	xlog "github.com/joeblack2k/sentinel-yt/internal/log"
	"github.com/joeblack2k/sentinel-yt/internal/media"
	"github.com/joeblack2k/sentinel-yt/internal/metrics"
	"github.com/joeblack2k/sentinel-yt/internal/mqtt"
	"github.com/joeblack2k/sentinel-yt/internal/schedule"
	"github.com/joeblack2k/sentinel-yt/internal/sponsorblock"
	"github.com/joeblack2k/sentinel-yt/internal/store"
)

// DeviceCommander is the lounge manager surface the supervisor drives.
type DeviceCommander interface {
	StartForExistingDevices(ctx context.Context) error
	PauseAll(ctx context.Context)
	StopAll()
	NextVideo(ctx context.Context, deviceID int64) (bool, string, string)
	SeekVideo(ctx context.Context, deviceID int64, seconds float64) (bool, string)
	PlayVideo(ctx context.Context, deviceID int64, videoID string) (bool, string)
}

// Judge decides verdicts and absorbs fatal LLM failures.
type Judge interface {
	Evaluate(ctx context.Context, video judge.VideoContext, enforcementMode string) (judge.Verdict, error)
	HandleFatalFailure(ctx context.Context, cause error)
}

// MetadataResolver looks up video titles for decisions and logs.
type MetadataResolver interface {
	Resolve(ctx context.Context, videoID string) media.Metadata
}

// SegmentSkipper is the SponsorBlock surface the supervisor uses.
type SegmentSkipper interface {
	Prefetch(ctx context.Context, videoID string, categories []string, minLength float64)
	TrySkip(ctx context.Context, deviceID int64, videoID string, currentTime *float64, categories []string, minLength float64, seek sponsorblock.SeekFunc) sponsorblock.SkipResult
}

// Bridge is the MQTT side the supervisor feeds and drains.
// *mqtt.Bridge implements it.
type Bridge interface {
	ApplySettings(ctx context.Context, settings map[string]string)
	Enabled() bool
	Connected() bool
	LastError() string
	PublishIntervalSeconds() int
	PublishDiscovery(ctx context.Context, buildVersion string, force bool)
	PublishSnapshot(ctx context.Context, payload map[string]any)
	DrainCommands() []mqtt.Command
}

// Supervisor owns runtime state and the event processing pipeline.
type Supervisor struct {
	cfg     *config.Settings
	store   *store.Store
	judge   Judge
	lounge  DeviceCommander
	sponsor SegmentSkipper
	meta    MetadataResolver
	mqtt    Bridge
	bus     *bus.Bus
	log     zerolog.Logger

	now func() time.Time

	mu                sync.Mutex
	workersEnabled    bool
	upNextRepeat      map[int64]repeatCount
	lastNowPlayingAt  map[int64]time.Time
	lastNowPlaying    map[int64]videoSeen
	blockRetryAt      map[string]time.Time
	upNextCandidates  map[int64][]string
	lastHistoryChoice map[int64]string
	reinforceCancel   map[int64]context.CancelFunc
	mqttPublishDueAt  time.Time

	// Test seams.
	reinforceDelays []time.Duration
	shuffle         func([]string)
}

type repeatCount struct {
	videoID string
	count   int
}

type videoSeen struct {
	videoID string
	at      time.Time
}

func NewSupervisor(cfg *config.Settings, st *store.Store, j Judge, lounge DeviceCommander, sponsor SegmentSkipper, meta MetadataResolver, mqtt Bridge, b *bus.Bus) *Supervisor {
	return &Supervisor{
		cfg:               cfg,
		store:             st,
		judge:             j,
		lounge:            lounge,
		sponsor:           sponsor,
		meta:              meta,
		mqtt:              mqtt,
		bus:               b,
		log:               xlog.WithComponent("runtime"),
		now:               time.Now,
		upNextRepeat:      make(map[int64]repeatCount),
		lastNowPlayingAt:  make(map[int64]time.Time),
		lastNowPlaying:    make(map[int64]videoSeen),
		blockRetryAt:      make(map[string]time.Time),
		upNextCandidates:  make(map[int64][]string),
		lastHistoryChoice: make(map[int64]string),
		reinforceCancel:   make(map[int64]context.CancelFunc),
		reinforceDelays:   []time.Duration{time.Second, 3 * time.Second},
		shuffle:           shuffleStrings,
	}
}

func (s *Supervisor) emitLive(eventType string, data map[string]any) {
	s.bus.Publish(bus.NewEvent(eventType, data))
}

// ScheduleContext is the currently governing enforcement window.
type ScheduleContext struct {
	Active         bool   `json:"active"`
	Mode           string `json:"mode"`
	Timezone       string `json:"timezone"`
	ScheduleID     *int64 `json:"schedule_id"`
	ScheduleName   string `json:"schedule_name"`
	SchedulesCount int    `json:"schedules_count"`
}

// CurrentScheduleContext evaluates schedule rows, falling back to the
// legacy single-window settings when no rows exist.
func (s *Supervisor) CurrentScheduleContext(ctx context.Context, settings map[string]string) ScheduleContext {
	if settings == nil {
		settings, _ = s.store.AllSettings(ctx)
	}
	rows, err := s.store.ListSchedules(ctx)
	if err == nil && len(rows) > 0 {
		windows := make([]schedule.Window, 0, len(rows))
		for _, r := range rows {
			windows = append(windows, schedule.Window{
				ID: r.ID, Name: r.Name, Enabled: r.Enabled,
				Start: r.Start, End: r.End, Timezone: r.Timezone, Mode: r.Mode,
			})
		}
		if active := schedule.PickActiveWindow(windows, s.now()); active != nil {
			id := active.ID
			return ScheduleContext{
				Active: true, Mode: active.Mode, Timezone: active.Timezone,
				ScheduleID: &id, ScheduleName: active.Name, SchedulesCount: len(rows),
			}
		}
		return ScheduleContext{
			Active: false, Mode: "blocklist",
			Timezone: settingOr(settings, "timezone", "UTC"), SchedulesCount: len(rows),
		}
	}

	tz := settingOr(settings, "timezone", "UTC")
	active := schedule.IsActive(
		settingOr(settings, "schedule_enabled", "true") == "true",
		settingOr(settings, "schedule_start", "07:00"),
		settingOr(settings, "schedule_end", "19:00"),
		tz, s.now())
	return ScheduleContext{
		Active: active, Mode: settingOr(settings, "schedule_mode", "blocklist"),
		Timezone: tz, ScheduleName: "Legacy",
	}
}

func settingOr(settings map[string]string, key, fallback string) string {
	if v, ok := settings[key]; ok && v != "" {
		return v
	}
	return fallback
}

// MonitoringEnabledNow is the effective enforcement gate.
func (s *Supervisor) MonitoringEnabledNow(ctx context.Context, settings map[string]string) bool {
	if settings == nil {
		settings, _ = s.store.AllSettings(ctx)
	}
	if settingOr(settings, "active", "true") != "true" {
		return false
	}
	return s.CurrentScheduleContext(ctx, settings).Active
}

// SponsorblockEnabledNow is the effective segment-skipping gate.
func (s *Supervisor) SponsorblockEnabledNow(ctx context.Context, settings map[string]string) bool {
	if settings == nil {
		settings, _ = s.store.AllSettings(ctx)
	}
	if settingOr(settings, "sponsorblock_active", "false") != "true" {
		return false
	}
	tz := settingOr(settings, "sponsorblock_timezone", settingOr(settings, "timezone", "UTC"))
	return schedule.IsActive(
		settingOr(settings, "sponsorblock_schedule_enabled", "false") == "true",
		settingOr(settings, "sponsorblock_schedule_start", "00:00"),
		settingOr(settings, "sponsorblock_schedule_end", "23:59"),
		tz, s.now())
}

// RemoteReleaseActive reports whether the parental release window is
// open. It suppresses both enforcement and segment skipping.
func (s *Supervisor) RemoteReleaseActive(settings map[string]string) bool {
	raw := strings.TrimSpace(settings["sponsorblock_release_until"])
	if raw == "" {
		return false
	}
	until, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false
	}
	return until.After(s.now())
}

// ReleaseMinutesRemaining is the whole minutes left in the release
// window, minimum one while any time remains.
func (s *Supervisor) ReleaseMinutesRemaining(settings map[string]string) int {
	raw := strings.TrimSpace(settings["sponsorblock_release_until"])
	if raw == "" {
		return 0
	}
	until, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0
	}
	remaining := until.Sub(s.now())
	if remaining <= 0 {
		return 0
	}
	minutes := int(remaining / time.Minute)
	if minutes < 1 {
		return 1
	}
	return minutes
}

// Status is the aggregate state payload for the API and MQTT.
func (s *Supervisor) Status(ctx context.Context) (map[string]any, error) {
	settings, err := s.store.AllSettings(ctx)
	if err != nil {
		return nil, err
	}
	total, connected, err := s.store.DeviceCounts(ctx)
	if err != nil {
		return nil, err
	}
	schedCtx := s.CurrentScheduleContext(ctx, settings)
	return map[string]any{
		"active":                  settingOr(settings, "active", "true") == "true",
		"monitoring_effective":    s.MonitoringEnabledNow(ctx, settings),
		"schedule_active_now":     schedCtx.Active,
		"schedule_mode_now":       schedCtx.Mode,
		"schedules_count":         schedCtx.SchedulesCount,
		"sponsorblock_active":     s.SponsorblockEnabledNow(ctx, settings),
		"sponsorblock_configured": settingOr(settings, "sponsorblock_active", "false") == "true",
		"remote_release_active":   s.RemoteReleaseActive(settings),
		"timezone":                schedCtx.Timezone,
		"devices_total":           total,
		"devices_connected":       connected,
		"judge_ok":                settingOr(settings, "judge_ok", "true") == "true",
		"last_error":              settings["last_error"],
		"mqtt_enabled":            settingOr(settings, "mqtt_enabled", "false") == "true",
		"mqtt_connected":          s.mqtt != nil && s.mqtt.Connected(),
		"mqtt_last_error":         s.mqttLastError(),
		"build_version":           s.cfg.BuildVersion,
	}, nil
}

func (s *Supervisor) mqttLastError() string {
	if s.mqtt == nil {
		return ""
	}
	return s.mqtt.LastError()
}

// WorkersShouldRun reports whether any gate needs live device sessions.
func (s *Supervisor) WorkersShouldRun(ctx context.Context) bool {
	settings, _ := s.store.AllSettings(ctx)
	return s.MonitoringEnabledNow(ctx, settings) || s.SponsorblockEnabledNow(ctx, settings)
}

// SyncWorkers starts or pauses device workers on gate transitions.
func (s *Supervisor) SyncWorkers(ctx context.Context) {
	enabled := s.WorkersShouldRun(ctx)
	s.mu.Lock()
	transition := enabled != s.workersEnabled
	s.workersEnabled = enabled
	s.mu.Unlock()
	if !transition {
		return
	}
	if enabled {
		if err := s.lounge.StartForExistingDevices(ctx); err != nil {
			s.log.Error().Err(err).Msg("starting device workers failed")
		}
	} else {
		s.lounge.PauseAll(ctx)
	}
	metrics.SetBoolGauge(metrics.MonitoringActive, enabled)
	s.emitLive("monitoring_state", map[string]any{"active": enabled})
}

// setBoolSettingConfirmed persists and re-reads the key, retrying
// briefly; some SQLite write stalls surfaced as silently lost toggles.
func (s *Supervisor) setBoolSettingConfirmed(ctx context.Context, key string, value bool) error {
	target := "false"
	if value {
		target = "true"
	}
	for attempt := 0; attempt < 3; attempt++ {
		if err := s.store.SetSetting(ctx, key, target); err == nil {
			if got, err := s.store.GetSetting(ctx, key); err == nil && got == target {
				return nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("failed to persist setting %q as %s", key, target)
}

func (s *Supervisor) cancelReinforcements() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.reinforceCancel))
	for _, cancel := range s.reinforceCancel {
		cancels = append(cancels, cancel)
	}
	s.reinforceCancel = make(map[int64]context.CancelFunc)
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// SetMonitoringActive flips the master switch. Deactivation clears all
// retry state so re-enabling starts clean.
func (s *Supervisor) SetMonitoringActive(ctx context.Context, active bool) error {
	if err := s.setBoolSettingConfirmed(ctx, "active", active); err != nil {
		return err
	}
	if !active {
		s.cancelReinforcements()
		s.mu.Lock()
		s.blockRetryAt = make(map[string]time.Time)
		s.upNextCandidates = make(map[int64][]string)
		s.mu.Unlock()
	}
	_ = s.store.SetSetting(ctx, "last_error", "")
	s.SyncWorkers(ctx)
	s.PublishMQTTSnapshot(ctx, false, nil)
	return nil
}

// SetSponsorblockActive flips the segment-skipping switch.
func (s *Supervisor) SetSponsorblockActive(ctx context.Context, active bool) error {
	if err := s.setBoolSettingConfirmed(ctx, "sponsorblock_active", active); err != nil {
		return err
	}
	s.SyncWorkers(ctx)
	s.PublishMQTTSnapshot(ctx, false, nil)
	return nil
}

// SetRemoteReleaseMinutes opens (or closes, with 0) the release window.
// Minutes clamp to [0,240]. Returns the persisted expiry.
func (s *Supervisor) SetRemoteReleaseMinutes(ctx context.Context, minutes int) (string, error) {
	if minutes < 0 {
		minutes = 0
	}
	if minutes > 240 {
		minutes = 240
	}
	until := ""
	if minutes > 0 {
		until = s.now().UTC().Add(time.Duration(minutes) * time.Minute).Format(time.RFC3339)
	}
	if err := s.store.SetSetting(ctx, "sponsorblock_release_until", until); err != nil {
		return "", err
	}
	s.PublishMQTTSnapshot(ctx, false, nil)
	return until, nil
}

// ParseBoolPayload interprets MQTT-style boolean payloads. The third
// state (nil) means "not a boolean, ignore".
func ParseBoolPayload(raw string) *bool {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch v {
	case "1", "on", "true", "yes":
		t := true
		return &t
	case "0", "off", "false", "no":
		f := false
		return &f
	}
	return nil
}

// Run ticks the supervisor until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		s.SyncWorkers(ctx)
		s.TickMQTT(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
