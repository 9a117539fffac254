// SPDX-License-Identifier: MIT
package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/joeblack2k/sentinel-yt/internal/policy"
	"github.com/joeblack2k/sentinel-yt/internal/store"
)

type scheduleWindowRequest struct {
	Name     string `json:"name"`
	Enabled  *bool  `json:"enabled"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
	Mode     string `json:"mode"`
}

func (req *scheduleWindowRequest) normalize() (store.Schedule, string) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Schedule"
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	mode := req.Mode
	if mode == "" {
		mode = "blocklist"
	}
	if mode != "blocklist" && mode != "whitelist" {
		return store.Schedule{}, "mode: must be blocklist or whitelist."
	}
	return store.Schedule{
		Name:     name,
		Enabled:  enabled,
		Start:    req.Start,
		End:      req.End,
		Timezone: req.Timezone,
		Mode:     mode,
	}, ""
}

func (s *Server) handleSchedulesList(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListSchedules(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rows": rows, "count": len(rows)})
}

func (s *Server) handleScheduleAdd(w http.ResponseWriter, r *http.Request) {
	var req scheduleWindowRequest
	if !s.decode(w, r, &req) {
		return
	}
	sc, problem := req.normalize()
	if problem != "" {
		s.validationError(w, problem)
		return
	}
	id, err := s.store.AddSchedule(r.Context(), sc)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.sup.SyncWorkers(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id})
}

func (s *Server) handleScheduleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "scheduleID"), 10, 64)
	if err != nil {
		s.validationError(w, "scheduleID: must be an integer.")
		return
	}
	var req scheduleWindowRequest
	if !s.decode(w, r, &req) {
		return
	}
	sc, problem := req.normalize()
	if problem != "" {
		s.validationError(w, problem)
		return
	}
	sc.ID = id
	updated, err := s.store.UpdateSchedule(r.Context(), sc)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if !updated {
		s.apiError(w, http.StatusNotFound, "schedule_not_found", "Schedule not found.")
		return
	}
	s.sup.SyncWorkers(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleScheduleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "scheduleID"), 10, 64)
	if err != nil {
		s.validationError(w, "scheduleID: must be an integer.")
		return
	}
	ctx := r.Context()
	rows, err := s.store.ListSchedules(ctx)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if len(rows) <= 1 {
		s.apiError(w, http.StatusBadRequest, "schedule_minimum_one", "At least one schedule must remain.")
		return
	}
	deleted, err := s.store.DeleteSchedule(ctx, id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if !deleted {
		s.apiError(w, http.StatusNotFound, "schedule_not_found", "Schedule not found.")
		return
	}
	s.sup.SyncWorkers(ctx)
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type legacyScheduleRequest struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// handleSettingsSchedule is the legacy single-window endpoint: it edits
// the first schedule row and mirrors the values into settings.
func (s *Server) handleSettingsSchedule(w http.ResponseWriter, r *http.Request) {
	var req legacyScheduleRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	rows, err := s.store.ListSchedules(ctx)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if len(rows) > 0 {
		first := rows[0]
		name := first.Name
		if name == "" {
			name = "Default"
		}
		mode := first.Mode
		if mode == "" {
			mode = "blocklist"
		}
		_, err = s.store.UpdateSchedule(ctx, store.Schedule{
			ID:       first.ID,
			Name:     name,
			Enabled:  req.Enabled,
			Start:    req.Start,
			End:      req.End,
			Timezone: req.Timezone,
			Mode:     mode,
		})
	} else {
		_, err = s.store.AddSchedule(ctx, store.Schedule{
			Name:     "Default",
			Enabled:  req.Enabled,
			Start:    req.Start,
			End:      req.End,
			Timezone: req.Timezone,
			Mode:     "blocklist",
		})
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	pairs := map[string]string{
		"schedule_enabled": boolString(req.Enabled),
		"schedule_start":   req.Start,
		"schedule_end":     req.End,
		"timezone":         req.Timezone,
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

type promptRequest struct {
	CustomPrompt string `json:"custom_prompt"`
}

func (s *Server) handleSettingsPrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if !s.decode(w, r, &req) {
		return
	}
	submitted := strings.TrimSpace(req.CustomPrompt)
	value := submitted
	if submitted == "" || submitted == strings.TrimSpace(policy.DefaultSafePrompt) {
		value = ""
	}
	if err := s.store.SetSetting(r.Context(), "custom_prompt", value); err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSettingsPromptReset(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SetSetting(r.Context(), "custom_prompt", ""); err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSettingsPromptPreview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"prompt":           s.judge.PromptPreview(ctx),
		"whitelist_prompt": s.judge.WhitelistPromptPreview(ctx),
	})
}

type webhookSettingsRequest struct {
	FailureWebhookURL string `json:"failure_webhook_url"`
}

func (s *Server) handleSettingsWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookSettingsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.SetSetting(r.Context(), "failure_webhook_url", strings.TrimSpace(req.FailureWebhookURL)); err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type geminiSettingsRequest struct {
	APIKey  string `json:"api_key"`
	Enabled *bool  `json:"enabled"`
}

func (s *Server) handleSettingsGemini(w http.ResponseWriter, r *http.Request) {
	var req geminiSettingsRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	if err := s.store.SetSetting(ctx, "gemini_api_key_runtime", strings.TrimSpace(req.APIKey)); err != nil {
		s.internalError(w, r, err)
		return
	}
	if req.Enabled != nil {
		if err := s.store.SetSetting(ctx, "gemini_enabled", boolString(*req.Enabled)); err != nil {
			s.internalError(w, r, err)
			return
		}
		// With the classifier off, a stale failure state would be
		// misleading on every dashboard.
		if !*req.Enabled {
			_ = s.store.SetSetting(ctx, "judge_ok", "true")
			_ = s.store.SetSetting(ctx, "last_error", "")
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// secretSettings never leave the process through the settings endpoint.
var secretSettings = []string{"gemini_api_key_runtime", "mqtt_password", "webhook_control_token"}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.AllSettings(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	flags := map[string]bool{}
	for _, key := range secretSettings {
		flags[key+"_set"] = strings.TrimSpace(settings[key]) != ""
		delete(settings, key)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"settings":  settings,
		"secrets":   flags,
		"timezones": policy.SupportedTimezones,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			page = n
		}
	}
	paged, err := s.store.PagedDecisions(r.Context(), page, 50, 500)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, paged)
}

func (s *Server) handleHistoryRecent(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	rows, err := s.store.RecentDecisions(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rows": rows, "count": len(rows)})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			days = n
		}
	}
	stats, err := s.store.HomeDashboardStats(r.Context(), days)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDBStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSponsorActions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	rows, err := s.store.RecentSponsorActions(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rows": rows, "count": len(rows)})
}

type purgeRequest struct {
	Target string `json:"target"`
}

func (s *Server) handleAdminPurge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	deleted := 0
	switch req.Target {
	case "analysis_cache":
		n, err := s.store.PurgeAnalysisCache(ctx)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		deleted = n
	case "history":
		n, err := s.store.PurgeHistory(ctx)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		deleted = n
	case "all":
		cacheN, err := s.store.PurgeAnalysisCache(ctx)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		histN, err := s.store.PurgeHistory(ctx)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		deleted = cacheN + histN
	default:
		s.validationError(w, "target: must be analysis_cache, history, or all.")
		return
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"target":  req.Target,
		"deleted": deleted,
		"stats":   stats,
	})
}
