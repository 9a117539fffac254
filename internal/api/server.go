// SPDX-License-Identifier: MIT

// Package api is the HTTP surface: JSON control endpoints, the SSE live
// stream, Prometheus metrics, and health checks.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/joeblack2k/sentinel-yt/internal/bus"
	"github.com/joeblack2k/sentinel-yt/internal/config"
	"github.com/joeblack2k/sentinel-yt/internal/discovery"
	"github.com/joeblack2k/sentinel-yt/internal/lists"
	"github.com/joeblack2k/sentinel-yt/internal/lounge"
	xlog "github.com/joeblack2k/sentinel-yt/internal/log"
	"github.com/joeblack2k/sentinel-yt/internal/runtime"
	"github.com/joeblack2k/sentinel-yt/internal/store"
)

// Pairer is the slice of the lounge manager the API needs.
type Pairer interface {
	PairDevice(ctx context.Context, pairingCode, deviceRef string) (*lounge.PairResult, error)
	EnsureWorker(ctx context.Context, deviceID int64)
	StopAll()
	StartForExistingDevices(ctx context.Context) error
}

// PromptPreviewer renders the effective judge prompts for display.
type PromptPreviewer interface {
	PromptPreview(ctx context.Context) string
	WhitelistPromptPreview(ctx context.Context) string
}

// Scanner runs one network sweep for pairable TVs.
type Scanner interface {
	Scan(ctx context.Context, window time.Duration, maxResults int) ([]discovery.Device, error)
}

// MQTTInfo exposes the bridge diagnostics block.
type MQTTInfo interface {
	Info() map[string]any
}

// Deps collects everything the server wires together.
type Deps struct {
	Config     *config.Settings
	Store      *store.Store
	Supervisor *runtime.Supervisor
	Judge      PromptPreviewer
	Lounge     Pairer
	Blocklist  *lists.Service
	Allowlist  *lists.Service
	Scanner    Scanner
	MQTT       MQTTInfo
	Bus        *bus.Bus
}

// Server holds handler state. The discovered-device cache backs the
// scan-then-pair flow; it is only ever replaced wholesale by a scan.
type Server struct {
	cfg       *config.Settings
	store     *store.Store
	sup       *runtime.Supervisor
	judge     PromptPreviewer
	lounge    Pairer
	blocklist *lists.Service
	allowlist *lists.Service
	scanner   Scanner
	mqtt      MQTTInfo
	bus       *bus.Bus
	log       zerolog.Logger

	mu         sync.Mutex
	discovered []discovery.Device
}

func New(d Deps) *Server {
	return &Server{
		cfg:       d.Config,
		store:     d.Store,
		sup:       d.Supervisor,
		judge:     d.Judge,
		lounge:    d.Lounge,
		blocklist: d.Blocklist,
		allowlist: d.Allowlist,
		scanner:   d.Scanner,
		mqtt:      d.MQTT,
		bus:       d.Bus,
		log:       xlog.WithComponent("api"),
	}
}

// Router builds the chi mux with the full middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(httprate.LimitByIP(600, time.Minute))

		api.Get("/status", s.handleStatus)
		api.Post("/control/state", s.handleControlState)
		api.Post("/webhook/control", s.handleWebhookControl)

		api.Post("/sponsorblock/state", s.handleSponsorblockState)
		api.Post("/webhook/sponsorblock/state", s.handleWebhookSponsorblockState)
		api.Post("/sponsorblock/schedule", s.handleSponsorblockSchedule)
		api.Post("/sponsorblock/config", s.handleSponsorblockConfig)
		api.Post("/sponsorblock/release", s.handleSponsorblockRelease)
		api.Post("/webhook/sponsorblock/release", s.handleWebhookSponsorblockRelease)
		api.Get("/sponsorblock/actions", s.handleSponsorActions)

		api.Post("/mqtt/state", s.handleMQTTState)
		api.Post("/mqtt/config", s.handleMQTTConfig)
		api.Post("/mqtt/publish", s.handleMQTTPublish)

		api.Post("/devices/scan", s.handleDevicesScan)
		api.Post("/devices/pair", s.handleDevicesPair)
		api.Post("/devices/pair/code", s.handleDevicesPairCode)
		api.Get("/devices", s.handleDevicesList)
		api.Delete("/devices/{deviceID}", s.handleDeviceDelete)

		api.Get("/live/events", s.handleLiveEvents)

		api.Post("/rules/whitelist", s.handleRuleWhitelist)
		api.Post("/rules/blacklist", s.handleRuleBlacklist)
		api.Get("/rules", s.handleRulesList)
		api.Delete("/rules/{ruleID}", s.handleRuleDelete)
		api.Post("/rules/policies", s.handleBlockPolicies)
		api.Post("/blocklist/policies", s.handleBlockPolicies)
		api.Post("/allowlist/policies", s.handleAllowPolicies)

		api.Get("/blocklist", s.handleBlocklistInfo)
		api.Get("/blocklist/local", s.handleBlocklistLocalGet)
		api.Post("/blocklist/local", s.handleBlocklistLocalSave)
		api.Post("/rules/blocklists/local", s.handleBlocklistLocalSave)
		api.Post("/blocklist/sources", s.handleBlocklistSources)
		api.Post("/rules/blocklists/sources", s.handleBlocklistSources)
		api.Post("/blocklist/reload", s.handleBlocklistReload)
		api.Post("/rules/blocklists/reload", s.handleBlocklistReload)

		api.Get("/allowlist", s.handleAllowlistInfo)
		api.Get("/allowlist/local", s.handleAllowlistLocalGet)
		api.Post("/allowlist/local", s.handleAllowlistLocalSave)
		api.Post("/allowlist/sources", s.handleAllowlistSources)
		api.Post("/allowlist/reload", s.handleAllowlistReload)

		api.Get("/schedules", s.handleSchedulesList)
		api.Post("/schedules/add", s.handleScheduleAdd)
		api.Post("/schedules/{scheduleID}/update", s.handleScheduleUpdate)
		api.Delete("/schedules/{scheduleID}", s.handleScheduleDelete)

		api.Get("/settings", s.handleSettingsGet)
		api.Post("/settings/prompt", s.handleSettingsPrompt)
		api.Post("/settings/prompt/reset", s.handleSettingsPromptReset)
		api.Get("/settings/prompt/preview", s.handleSettingsPromptPreview)
		api.Post("/settings/schedule", s.handleSettingsSchedule)
		api.Post("/settings/webhook", s.handleSettingsWebhook)
		api.Post("/settings/gemini", s.handleSettingsGemini)

		api.Get("/history", s.handleHistory)
		api.Get("/history/recent", s.handleHistoryRecent)
		api.Get("/dashboard", s.handleDashboard)
		api.Get("/db/stats", s.handleDBStats)
		api.Post("/admin/purge", s.handleAdminPurge)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		entry := s.log.Info()
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			entry = s.log.Debug()
		}
		entry.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("response encode failed")
	}
}

// apiError mirrors the {"detail": {code, message}} error contract every
// client of this API expects.
func (s *Server) apiError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]any{
		"detail": map[string]string{"code": code, "message": message},
	})
}

func (s *Server) validationError(w http.ResponseWriter, message string) {
	s.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"error": "validation_error",
		"detail": map[string]string{
			"code":    "validation_error",
			"message": "Invalid request data. " + message,
		},
	})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error().Err(err).Str("path", r.URL.Path).Msg("unhandled api error")
	_ = s.store.SetSetting(r.Context(), "last_error", err.Error())
	s.writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error": "internal_error",
		"detail": map[string]string{
			"code": "internal_error",
			"message": "Unexpected server error. Please retry. " +
				"If the issue continues, check the device status and logs.",
		},
	})
}

// decode parses a JSON body, answering 422 on malformed input.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.validationError(w, "Check your input and try again.")
		return false
	}
	return true
}

func (s *Server) emit(eventType string, data map[string]any) {
	s.bus.Publish(bus.NewEvent(eventType, data))
}

func utcNowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func intString(v int) string {
	return strconv.Itoa(v)
}

func floatString(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// webhookAuthorized gates automation endpoints. With no token
// configured the endpoints stay open for LAN automations; once
// webhook_control_token is set, callers must present it in the
// X-Sentinel-Token header or a token body field.
func (s *Server) webhookAuthorized(r *http.Request, bodyToken string) bool {
	expected, _ := s.store.GetSetting(r.Context(), "webhook_control_token")
	expected = strings.TrimSpace(expected)
	if expected == "" {
		return true
	}
	supplied := strings.TrimSpace(r.Header.Get("X-Sentinel-Token"))
	if supplied == "" {
		supplied = strings.TrimSpace(bodyToken)
	}
	if supplied == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(expected)) == 1
}

func (s *Server) rejectWebhook(w http.ResponseWriter) {
	s.apiError(w, http.StatusUnauthorized, "webhook_token_invalid",
		"Missing or invalid webhook token. Send it in the X-Sentinel-Token header or a token field.")
}
