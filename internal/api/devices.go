// SPDX-License-Identifier: MIT
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/joeblack2k/sentinel-yt/internal/discovery"
	"github.com/joeblack2k/sentinel-yt/internal/lounge"
	"github.com/joeblack2k/sentinel-yt/internal/store"
)

// deviceView is the device row without credential columns.
type deviceView struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	ScreenID   string `json:"screen_id"`
	Status     string `json:"status"`
	LastSeenAt string `json:"last_seen_at"`
	LastError  string `json:"last_error"`
}

func toDeviceView(d store.Device) deviceView {
	return deviceView{
		ID:         d.ID,
		Name:       d.Name,
		ScreenID:   d.ScreenID,
		Status:     d.Status,
		LastSeenAt: d.LastSeenAt,
		LastError:  d.LastError,
	}
}

func (s *Server) handleDevicesScan(w http.ResponseWriter, r *http.Request) {
	devices, err := s.scanner.Scan(r.Context(), 0, 0)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.mu.Lock()
	s.discovered = devices
	s.mu.Unlock()
	s.emit("scan_result", map[string]any{"count": len(devices)})
	s.writeJSON(w, http.StatusOK, map[string]any{
		"devices":    devices,
		"count":      len(devices),
		"scanned_at": utcNowISO(),
	})
}

func (s *Server) discoveredByRef(ref string) *discovery.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.discovered {
		if s.discovered[i].DeviceRef == ref {
			dev := s.discovered[i]
			return &dev
		}
	}
	return nil
}

type pairDeviceRequest struct {
	DeviceRef   string `json:"device_ref"`
	PairingCode string `json:"pairing_code"`
}

func validPairingCode(code string) bool {
	return len(code) >= 4 && len(code) <= 32
}

func (s *Server) pairFailed(w http.ResponseWriter, err error, deviceRef string) {
	var pe *lounge.PairingError
	if errors.As(err, &pe) {
		s.log.Warn().Str("code", pe.Code).Str("device_ref", deviceRef).Str("message", pe.Message).Msg("pair failed")
		s.apiError(w, http.StatusBadRequest, pe.Code, pe.Message)
		return
	}
	s.log.Error().Err(err).Str("device_ref", deviceRef).Msg("pair failed unexpectedly")
	s.apiError(w, http.StatusBadRequest, "pair_unknown_error",
		"Pairing failed unexpectedly. Please request a new TV code and try again.")
}

func (s *Server) afterPair(ctx context.Context, result *lounge.PairResult) {
	if s.sup.WorkersShouldRun(ctx) {
		s.lounge.EnsureWorker(ctx, result.DeviceID)
	}
	s.emit("pair_success", map[string]any{
		"device_id":  result.DeviceID,
		"screen_id":  result.ScreenID,
		"name":       result.Name,
		"device_ref": result.DeviceRef,
	})
	s.sup.SyncWorkers(ctx)
}

func (s *Server) handleDevicesPair(w http.ResponseWriter, r *http.Request) {
	var req pairDeviceRequest
	if !s.decode(w, r, &req) {
		return
	}
	ref := strings.TrimSpace(req.DeviceRef)
	code := strings.TrimSpace(req.PairingCode)
	if !validPairingCode(code) {
		s.validationError(w, "pairing_code: must be between 4 and 32 characters.")
		return
	}
	chosen := s.discoveredByRef(ref)
	if chosen == nil {
		s.log.Warn().Str("code", "pair_device_not_found").Str("device_ref", ref).Msg("pair failed")
		s.apiError(w, http.StatusNotFound, "pair_device_not_found",
			"The selected device is no longer in the scan list. Scan again and retry pairing.")
		return
	}
	result, err := s.lounge.PairDevice(r.Context(), code, ref)
	if err != nil {
		s.pairFailed(w, err, ref)
		return
	}
	if chosen.ScreenID != "" && result.ScreenID != chosen.ScreenID {
		selectedName := chosen.DisplayName
		if selectedName == "" {
			selectedName = chosen.Host
		}
		if selectedName == "" {
			selectedName = "selected device"
		}
		pairedName := result.Name
		if pairedName == "" {
			pairedName = "another TV"
		}
		s.log.Warn().
			Str("code", "pair_mismatch").
			Str("device_ref", ref).
			Str("selected", selectedName).
			Str("paired", pairedName).
			Msg("pair failed")
		s.apiError(w, http.StatusConflict, "pair_mismatch", fmt.Sprintf(
			"This code was accepted by %q, not %q. "+
				"Make sure you entered the code from the same TV row and try again.",
			pairedName, selectedName))
		return
	}
	s.afterPair(r.Context(), result)
	s.log.Info().
		Int64("device_id", result.DeviceID).
		Str("device_ref", ref).
		Str("screen_id", result.ScreenID).
		Str("name", result.Name).
		Msg("pair success")
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"device_id":  result.DeviceID,
		"screen_id":  result.ScreenID,
		"name":       result.Name,
		"device_ref": result.DeviceRef,
	})
}

type pairCodeOnlyRequest struct {
	PairingCode string `json:"pairing_code"`
}

func (s *Server) handleDevicesPairCode(w http.ResponseWriter, r *http.Request) {
	var req pairCodeOnlyRequest
	if !s.decode(w, r, &req) {
		return
	}
	code := strings.TrimSpace(req.PairingCode)
	if !validPairingCode(code) {
		s.validationError(w, "pairing_code: must be between 4 and 32 characters.")
		return
	}
	result, err := s.lounge.PairDevice(r.Context(), code, "manual-code")
	if err != nil {
		s.pairFailed(w, err, "manual-code")
		return
	}
	s.afterPair(r.Context(), result)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"device_id":  result.DeviceID,
		"screen_id":  result.ScreenID,
		"name":       result.Name,
		"device_ref": result.DeviceRef,
		"warning":    "Paired by code only. Device scan match was skipped.",
	})
}

func (s *Server) handleDevicesList(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListDevices(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	views := make([]deviceView, 0, len(rows))
	for _, row := range rows {
		views = append(views, toDeviceView(row))
	}
	s.mu.Lock()
	discovered := append([]discovery.Device(nil), s.discovered...)
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"devices":    views,
		"count":      len(views),
		"discovered": discovered,
	})
}

func (s *Server) handleDeviceDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "deviceID"), 10, 64)
	if err != nil {
		s.validationError(w, "deviceID: must be an integer.")
		return
	}
	ctx := r.Context()
	deleted, err := s.store.DeleteDevice(ctx, id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if !deleted {
		s.apiError(w, http.StatusNotFound, "device_not_found", "Device not found.")
		return
	}
	// The worker pool has no per-device stop, so rebuild it from the
	// remaining rows when monitoring is on.
	if s.sup.WorkersShouldRun(ctx) {
		s.lounge.StopAll()
		if err := s.lounge.StartForExistingDevices(ctx); err != nil {
			s.log.Warn().Err(err).Msg("worker restart after device delete failed")
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
