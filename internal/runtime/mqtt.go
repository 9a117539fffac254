// SPDX-License-Identifier: MIT
package runtime

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// PublishMQTTSnapshot pushes discovery and the full state payload to
// the broker. A nil bridge or disabled broker is a no-op.
func (s *Supervisor) PublishMQTTSnapshot(ctx context.Context, forceDiscovery bool, settings map[string]string) {
	if s.mqtt == nil {
		return
	}
	if settings == nil {
		var err error
		settings, err = s.store.AllSettings(ctx)
		if err != nil {
			return
		}
	}
	s.mqtt.ApplySettings(ctx, settings)
	if !s.mqtt.Enabled() {
		return
	}

	s.mqtt.PublishDiscovery(ctx, s.cfg.BuildVersion, forceDiscovery)
	status, err := s.Status(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("building status for mqtt snapshot failed")
		return
	}
	dashboard, err := s.store.HomeDashboardStats(ctx, 7)
	if err != nil {
		s.log.Error().Err(err).Msg("loading dashboard stats for mqtt snapshot failed")
		return
	}
	dbStats, err := s.store.Stats(ctx)
	if err != nil {
		return
	}

	blocked7d, allowed7d, reviewed7d := 0, 0, 0
	blockedToday, allowedToday, reviewedToday := 0, 0, 0
	for _, day := range dashboard.Trend {
		blocked7d += day.BlockCount
		allowed7d += day.AllowCount
		reviewed7d += day.Total
	}
	if n := len(dashboard.Trend); n > 0 {
		today := dashboard.Trend[n-1]
		blockedToday, allowedToday, reviewedToday = today.BlockCount, today.AllowCount, today.Total
	}

	payload := map[string]any{
		"active":                 status["active"],
		"monitoring_effective":   status["monitoring_effective"],
		"sponsorblock_active":    status["sponsorblock_configured"],
		"sponsorblock_effective": status["sponsorblock_active"],
		"judge_ok":               status["judge_ok"],
		"schedule_active_now":    status["schedule_active_now"],
		"schedule_mode_now":      status["schedule_mode_now"],
		"schedules_count":        status["schedules_count"],
		"timezone":               status["timezone"],
		"build_version":          status["build_version"],
		"remote_release_active":  status["remote_release_active"],
		"devices_connected":      status["devices_connected"],
		"devices_total":          status["devices_total"],
		"blocked_today":          blockedToday,
		"allowed_today":          allowedToday,
		"reviewed_today":         reviewedToday,
		"blocked_7d":             blocked7d,
		"allowed_7d":             allowed7d,
		"reviewed_7d":            reviewed7d,
		"blocked_total":          dashboard.Totals.BlockCount,
		"allowed_total":          dashboard.Totals.AllowCount,
		"db_size_bytes":          dbStats.TotalBytes,
		"remote_release_minutes": s.ReleaseMinutesRemaining(settings),
		"last_error":             status["last_error"],
	}
	s.mqtt.PublishSnapshot(ctx, payload)
}

// ProcessMQTTCommands drains and applies queued broker commands.
func (s *Supervisor) ProcessMQTTCommands(ctx context.Context) {
	if s.mqtt == nil {
		return
	}
	commands := s.mqtt.DrainCommands()
	if len(commands) == 0 {
		return
	}

	changed := false
	for _, cmd := range commands {
		switch cmd.Name {
		case "active":
			parsed := ParseBoolPayload(cmd.Payload)
			if parsed == nil {
				continue
			}
			if err := s.SetMonitoringActive(ctx, *parsed); err != nil {
				s.log.Error().Err(err).Msg("mqtt monitoring toggle failed")
				continue
			}
			s.emitLive("mqtt_state_change", map[string]any{"target": "active", "active": *parsed})
			changed = true
		case "sponsorblock_active":
			parsed := ParseBoolPayload(cmd.Payload)
			if parsed == nil {
				continue
			}
			if err := s.SetSponsorblockActive(ctx, *parsed); err != nil {
				s.log.Error().Err(err).Msg("mqtt sponsorblock toggle failed")
				continue
			}
			s.emitLive("mqtt_state_change", map[string]any{"target": "sponsorblock_active", "active": *parsed})
			changed = true
		case "remote_release_minutes":
			minutes, err := strconv.Atoi(strings.TrimSpace(cmd.Payload))
			if err != nil {
				continue
			}
			until, err := s.SetRemoteReleaseMinutes(ctx, minutes)
			if err != nil {
				continue
			}
			s.emitLive("mqtt_state_change", map[string]any{
				"target":  "remote_release_minutes",
				"minutes": minutes,
				"until":   until,
			})
			changed = true
		}
	}
	if changed {
		s.PublishMQTTSnapshot(ctx, false, nil)
	}
}

// TickMQTT applies broker settings, handles inbound commands, and
// publishes a periodic snapshot when one is due.
func (s *Supervisor) TickMQTT(ctx context.Context) {
	if s.mqtt == nil {
		return
	}
	settings, err := s.store.AllSettings(ctx)
	if err != nil {
		return
	}
	s.mqtt.ApplySettings(ctx, settings)
	s.ProcessMQTTCommands(ctx)
	if !s.mqtt.Enabled() {
		return
	}
	now := s.now()
	s.mu.Lock()
	due := s.mqttPublishDueAt
	s.mu.Unlock()
	if now.Before(due) {
		return
	}
	s.PublishMQTTSnapshot(ctx, false, settings)
	s.mu.Lock()
	s.mqttPublishDueAt = now.Add(time.Duration(s.mqtt.PublishIntervalSeconds()) * time.Second)
	s.mu.Unlock()
}
