// SPDX-License-Identifier: MIT
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/joeblack2k/sentinel-yt/internal/policy"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.sup.Status(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

type controlStateRequest struct {
	Active bool `json:"active"`
}

func (s *Server) handleControlState(w http.ResponseWriter, r *http.Request) {
	var req controlStateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.sup.SetMonitoringActive(r.Context(), req.Active); err != nil {
		s.internalError(w, r, err)
		return
	}
	status, err := s.sup.Status(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.emit("manual_state_change", map[string]any{"active": req.Active})
	s.writeJSON(w, http.StatusOK, map[string]any{
		"active":               status["active"],
		"monitoring_effective": status["monitoring_effective"],
		"changed_at":           utcNowISO(),
		"reason":               "manual",
	})
}

type webhookControlRequest struct {
	Active bool   `json:"active"`
	Source string `json:"source"`
	Token  string `json:"token"`
}

func (s *Server) handleWebhookControl(w http.ResponseWriter, r *http.Request) {
	var req webhookControlRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.webhookAuthorized(r, req.Token) {
		s.rejectWebhook(w)
		return
	}
	if req.Source == "" {
		req.Source = "home_assistant"
	}
	if err := s.sup.SetMonitoringActive(r.Context(), req.Active); err != nil {
		s.internalError(w, r, err)
		return
	}
	status, err := s.sup.Status(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.emit("webhook_state_change", map[string]any{"active": req.Active, "source": req.Source})
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":                   true,
		"active":               status["active"],
		"monitoring_effective": status["monitoring_effective"],
		"source":               req.Source,
	})
}

func (s *Server) setSponsorblockState(w http.ResponseWriter, r *http.Request, active bool, source string) {
	if err := s.sup.SetSponsorblockActive(r.Context(), active); err != nil {
		s.internalError(w, r, err)
		return
	}
	status, err := s.sup.Status(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.emit("sponsorblock_state_change", map[string]any{"active": active, "source": source})
	out := map[string]any{
		"ok":               true,
		"active":           status["sponsorblock_configured"],
		"effective_active": status["sponsorblock_active"],
	}
	if source != "dashboard" {
		out["source"] = source
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSponsorblockState(w http.ResponseWriter, r *http.Request) {
	var req controlStateRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.setSponsorblockState(w, r, req.Active, "dashboard")
}

func (s *Server) handleWebhookSponsorblockState(w http.ResponseWriter, r *http.Request) {
	var req webhookControlRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.webhookAuthorized(r, req.Token) {
		s.rejectWebhook(w)
		return
	}
	if req.Source == "" {
		req.Source = "home_assistant"
	}
	s.setSponsorblockState(w, r, req.Active, req.Source)
}

type sponsorblockScheduleRequest struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

func (s *Server) handleSponsorblockSchedule(w http.ResponseWriter, r *http.Request) {
	var req sponsorblockScheduleRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	pairs := map[string]string{
		"sponsorblock_schedule_enabled": boolString(req.Enabled),
		"sponsorblock_schedule_start":   req.Start,
		"sponsorblock_schedule_end":     req.End,
		"sponsorblock_timezone":         req.Timezone,
	}
	for key, value := range pairs {
		if err := s.store.SetSetting(ctx, key, value); err != nil {
			s.internalError(w, r, err)
			return
		}
	}
	s.sup.SyncWorkers(ctx)
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type sponsorblockConfigRequest struct {
	Categories       []string `json:"categories"`
	MinLengthSeconds *float64 `json:"min_length_seconds"`
}

func (s *Server) handleSponsorblockConfig(w http.ResponseWriter, r *http.Request) {
	var req sponsorblockConfigRequest
	if !s.decode(w, r, &req) {
		return
	}
	minLength := 1.0
	if req.MinLengthSeconds != nil {
		minLength = *req.MinLengthSeconds
	}
	if minLength < 0 || minLength > 30 {
		s.validationError(w, "min_length_seconds: must be between 0 and 30.")
		return
	}
	categories := normalizeCategories(req.Categories)
	if len(categories) == 0 {
		categories = append([]string(nil), policy.DefaultSponsorBlockCategories...)
	}
	raw, err := json.Marshal(categories)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	ctx := r.Context()
	if err := s.store.SetSetting(ctx, "sponsorblock_categories_json", string(raw)); err != nil {
		s.internalError(w, r, err)
		return
	}
	if err := s.store.SetSetting(ctx, "sponsorblock_min_length_seconds", floatString(minLength)); err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":                 true,
		"categories":         categories,
		"min_length_seconds": minLength,
	})
}

type sponsorblockReleaseRequest struct {
	Minutes int    `json:"minutes"`
	Reason  string `json:"reason"`
	Source  string `json:"source"`
	Token   string `json:"token"`
}

func (s *Server) setRelease(w http.ResponseWriter, r *http.Request, req sponsorblockReleaseRequest, defaultSource string) {
	if req.Minutes < 0 || req.Minutes > 240 {
		s.validationError(w, "minutes: must be between 0 and 240.")
		return
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = defaultSource
	}
	until, err := s.sup.SetRemoteReleaseMinutes(r.Context(), req.Minutes)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.emit("remote_release_change", map[string]any{
		"active":  until != "",
		"until":   until,
		"minutes": req.Minutes,
		"source":  source,
		"reason":  req.Reason,
	})
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"active":  until != "",
		"until":   until,
		"minutes": req.Minutes,
	})
}

func (s *Server) handleSponsorblockRelease(w http.ResponseWriter, r *http.Request) {
	var req sponsorblockReleaseRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.setRelease(w, r, req, "dashboard")
}

func (s *Server) handleWebhookSponsorblockRelease(w http.ResponseWriter, r *http.Request) {
	var req sponsorblockReleaseRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.webhookAuthorized(r, req.Token) {
		s.rejectWebhook(w)
		return
	}
	s.setRelease(w, r, req, "home_assistant")
}

type mqttStateRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleMQTTState(w http.ResponseWriter, r *http.Request) {
	var req mqttStateRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	if err := s.store.SetSetting(ctx, "mqtt_enabled", boolString(req.Enabled)); err != nil {
		s.internalError(w, r, err)
		return
	}
	s.publishMQTT(ctx)
	s.emit("mqtt_state_change", map[string]any{"target": "mqtt_enabled", "active": req.Enabled})
	info := s.mqtt.Info()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"enabled": info["enabled"],
		"mqtt":    info,
	})
}

type mqttConfigRequest struct {
	Enabled                bool   `json:"enabled"`
	Host                   string `json:"host"`
	Port                   int    `json:"port"`
	Username               string `json:"username"`
	Password               string `json:"password"`
	BaseTopic              string `json:"base_topic"`
	DiscoveryPrefix        string `json:"discovery_prefix"`
	Retain                 bool   `json:"retain"`
	TLS                    bool   `json:"tls"`
	PublishIntervalSeconds int    `json:"publish_interval_seconds"`
}

func (s *Server) handleMQTTConfig(w http.ResponseWriter, r *http.Request) {
	var req mqttConfigRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	pairs := map[string]string{
		"mqtt_enabled":                  boolString(req.Enabled),
		"mqtt_host":                     strings.TrimSpace(req.Host),
		"mqtt_port":                     intString(req.Port),
		"mqtt_username":                 strings.TrimSpace(req.Username),
		"mqtt_password":                 req.Password,
		"mqtt_base_topic":               strings.TrimSpace(req.BaseTopic),
		"mqtt_discovery_prefix":         strings.TrimSpace(req.DiscoveryPrefix),
		"mqtt_retain":                   boolString(req.Retain),
		"mqtt_tls":                      boolString(req.TLS),
		"mqtt_publish_interval_seconds": intString(req.PublishIntervalSeconds),
	}
	for key, value := range pairs {
		if err := s.store.SetSetting(ctx, key, value); err != nil {
			s.internalError(w, r, err)
			return
		}
	}
	s.publishMQTT(ctx)
	s.emit("mqtt_config_saved", nil)
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "mqtt": s.mqtt.Info()})
}

func (s *Server) handleMQTTPublish(w http.ResponseWriter, r *http.Request) {
	s.publishMQTT(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "mqtt": s.mqtt.Info()})
}

func (s *Server) publishMQTT(ctx context.Context) {
	settings, err := s.store.AllSettings(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("mqtt publish skipped: settings unavailable")
		return
	}
	s.sup.PublishMQTTSnapshot(ctx, true, settings)
}

func normalizeCategories(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := map[string]struct{}{}
	for _, item := range raw {
		key := strings.TrimSpace(item)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
