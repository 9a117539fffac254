// SPDX-License-Identifier: MIT
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/joeblack2k/sentinel-yt/internal/lists"
	"github.com/joeblack2k/sentinel-yt/internal/policy"
	"github.com/joeblack2k/sentinel-yt/internal/store"
)

type ruleRequest struct {
	VideoID   string `json:"video_id"`
	ChannelID string `json:"channel_id"`
	Label     string `json:"label"`
	URL       string `json:"url"`
	Scope     string `json:"scope"`
}

// ruleValue picks the rule value for the requested scope.
func (r ruleRequest) ruleValue() string {
	if r.Scope == "video" {
		return strings.TrimSpace(r.VideoID)
	}
	return strings.TrimSpace(r.ChannelID)
}

func (s *Server) addRule(w http.ResponseWriter, r *http.Request, ruleType string, list *lists.Service, reload bool) {
	var req ruleRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Scope != "video" && req.Scope != "channel" {
		s.validationError(w, "scope: must be video or channel.")
		return
	}
	value := req.ruleValue()
	if value == "" {
		s.apiError(w, http.StatusBadRequest, "value_missing",
			"Missing rule value. Provide a video ID for video scope, or a channel ID for channel scope.")
		return
	}
	label := strings.TrimSpace(req.Label)
	entryURL := strings.TrimSpace(req.URL)
	ctx := r.Context()
	err := s.store.AddRule(ctx, store.Rule{
		RuleType:   ruleType,
		Scope:      req.Scope,
		Value:      value,
		Label:      label,
		URL:        entryURL,
		SourceList: "manual",
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if err := list.AppendEntry(req.Scope, value, label, entryURL, "manual"); err != nil {
		s.internalError(w, r, err)
		return
	}
	if reload {
		if _, err := list.Reload(ctx, s.store); err != nil {
			s.log.Warn().Err(err).Str("rule_type", ruleType).Msg("list reload after rule add failed")
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleRuleWhitelist(w http.ResponseWriter, r *http.Request) {
	s.addRule(w, r, "whitelist", s.allowlist, true)
}

func (s *Server) handleRuleBlacklist(w http.ResponseWriter, r *http.Request) {
	s.addRule(w, r, "blacklist", s.blocklist, false)
}

func (s *Server) handleRulesList(w http.ResponseWriter, r *http.Request) {
	ruleType := r.URL.Query().Get("type")
	limit := 200
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	rows, err := s.store.ListRules(r.Context(), ruleType, limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rows": rows, "count": len(rows)})
}

func (s *Server) handleRuleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "ruleID"), 10, 64)
	if err != nil {
		s.validationError(w, "ruleID: must be an integer.")
		return
	}
	ctx := r.Context()
	row, err := s.store.GetRule(ctx, id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if err := s.store.DeleteRule(ctx, id); err != nil {
		s.internalError(w, r, err)
		return
	}
	// Manual rules live in the list file too; keep both in sync.
	if row != nil && row.SourceList == "manual" {
		var list *lists.Service
		switch row.RuleType {
		case "blacklist":
			list = s.blocklist
		case "whitelist":
			list = s.allowlist
		}
		if list != nil {
			if err := list.RemoveEntry(row.Scope, row.Value); err != nil {
				s.log.Warn().Err(err).Int64("rule_id", id).Msg("list entry removal failed")
			}
			if _, err := list.Reload(ctx, s.store); err != nil {
				s.log.Warn().Err(err).Int64("rule_id", id).Msg("list reload after rule delete failed")
			}
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type policyFlagsRequest struct {
	Flags map[string]bool `json:"flags"`
}

func (s *Server) savePolicyFlags(w http.ResponseWriter, r *http.Request, settingKey string, normalize func(string) policy.Flags) {
	var req policyFlagsRequest
	if !s.decode(w, r, &req) {
		return
	}
	raw, err := json.Marshal(req.Flags)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	flags := normalize(string(raw))
	stored, err := json.Marshal(flags)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if err := s.store.SetSetting(r.Context(), settingKey, string(stored)); err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "flags": flags})
}

func (s *Server) handleBlockPolicies(w http.ResponseWriter, r *http.Request) {
	s.savePolicyFlags(w, r, "policy_flags_json", policy.NormalizeBlockFlags)
}

func (s *Server) handleAllowPolicies(w http.ResponseWriter, r *http.Request) {
	s.savePolicyFlags(w, r, "allow_policy_flags_json", policy.NormalizeAllowFlags)
}

func (s *Server) listInfo(w http.ResponseWriter, r *http.Request, list *lists.Service, flagsKey string, normalize func(string) policy.Flags) {
	ctx := r.Context()
	sources, err := list.Sources(ctx, s.store)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	rawFlags, _ := s.store.GetSetting(ctx, flagsKey)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"summary":      list.Summary(),
		"sources":      sources,
		"policy_flags": normalize(rawFlags),
	})
}

func (s *Server) handleBlocklistInfo(w http.ResponseWriter, r *http.Request) {
	s.listInfo(w, r, s.blocklist, "policy_flags_json", policy.NormalizeBlockFlags)
}

func (s *Server) handleAllowlistInfo(w http.ResponseWriter, r *http.Request) {
	s.listInfo(w, r, s.allowlist, "allow_policy_flags_json", policy.NormalizeAllowFlags)
}

func (s *Server) listLocalGet(w http.ResponseWriter, r *http.Request, list *lists.Service) {
	content, err := list.LocalContent()
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"content": content, "path": list.LocalPath()})
}

type localContentRequest struct {
	Content string `json:"content"`
}

func (s *Server) listLocalSave(w http.ResponseWriter, r *http.Request, list *lists.Service) {
	var req localContentRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := list.SaveLocalContent(req.Content); err != nil {
		s.internalError(w, r, err)
		return
	}
	summary, err := list.Reload(r.Context(), s.store)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "summary": summary})
}

type listSourcesRequest struct {
	URLs []string `json:"urls"`
}

func (s *Server) listSetSources(w http.ResponseWriter, r *http.Request, list *lists.Service) {
	var req listSourcesRequest
	if !s.decode(w, r, &req) {
		return
	}
	urls := make([]string, 0, len(req.URLs))
	for _, raw := range req.URLs {
		if u := strings.TrimSpace(raw); u != "" {
			urls = append(urls, u)
		}
	}
	ctx := r.Context()
	if err := list.SetSources(ctx, s.store, urls); err != nil {
		s.internalError(w, r, err)
		return
	}
	summary, err := list.Reload(ctx, s.store)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "summary": summary, "sources": urls})
}

func (s *Server) listReload(w http.ResponseWriter, r *http.Request, list *lists.Service) {
	summary, err := list.Reload(r.Context(), s.store)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "summary": summary})
}

func (s *Server) handleBlocklistLocalGet(w http.ResponseWriter, r *http.Request) {
	s.listLocalGet(w, r, s.blocklist)
}

func (s *Server) handleBlocklistLocalSave(w http.ResponseWriter, r *http.Request) {
	s.listLocalSave(w, r, s.blocklist)
}

func (s *Server) handleBlocklistSources(w http.ResponseWriter, r *http.Request) {
	s.listSetSources(w, r, s.blocklist)
}

func (s *Server) handleBlocklistReload(w http.ResponseWriter, r *http.Request) {
	s.listReload(w, r, s.blocklist)
}

func (s *Server) handleAllowlistLocalGet(w http.ResponseWriter, r *http.Request) {
	s.listLocalGet(w, r, s.allowlist)
}

func (s *Server) handleAllowlistLocalSave(w http.ResponseWriter, r *http.Request) {
	s.listLocalSave(w, r, s.allowlist)
}

func (s *Server) handleAllowlistSources(w http.ResponseWriter, r *http.Request) {
	s.listSetSources(w, r, s.allowlist)
}

func (s *Server) handleAllowlistReload(w http.ResponseWriter, r *http.Request) {
	s.listReload(w, r, s.allowlist)
}
