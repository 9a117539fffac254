// SPDX-License-Identifier: MIT
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joeblack2k/sentinel-yt/internal/judge"
	"github.com/joeblack2k/sentinel-yt/internal/lounge"
	"github.com/joeblack2k/sentinel-yt/internal/metrics"
	"github.com/joeblack2k/sentinel-yt/internal/store"
)

var defaultSponsorCategories = []string{
	"sponsor", "selfpromo", "interaction", "intro", "outro", "music_offtopic",
}

func parseSponsorCategories(raw string) []string {
	var loaded []any
	if err := json.Unmarshal([]byte(raw), &loaded); err == nil {
		out := make([]string, 0, len(loaded))
		for _, item := range loaded {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return append([]string(nil), defaultSponsorCategories...)
}

func parseFloatSetting(raw string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return def
	}
	return v
}

// rememberCandidate records an up-next video as a future safe-play
// candidate. Repeats move to the back; the queue keeps the newest 30.
func (s *Supervisor) rememberCandidate(deviceID int64, videoID string) {
	if videoID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.upNextCandidates[deviceID]
	filtered := make([]string, 0, len(q)+1)
	for _, v := range q {
		if v != videoID {
			filtered = append(filtered, v)
		}
	}
	filtered = append(filtered, videoID)
	if len(filtered) > 30 {
		filtered = filtered[len(filtered)-30:]
	}
	s.upNextCandidates[deviceID] = filtered
}

func (s *Supervisor) dropCandidate(deviceID int64, videoID string) {
	if videoID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.upNextCandidates[deviceID]
	if len(q) == 0 {
		return
	}
	filtered := make([]string, 0, len(q))
	for _, v := range q {
		if v != videoID {
			filtered = append(filtered, v)
		}
	}
	s.upNextCandidates[deviceID] = filtered
}

func (s *Supervisor) candidateQueue(deviceID int64, exclude string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.upNextCandidates[deviceID]
	out := make([]string, 0, len(q))
	for _, v := range q {
		if v != "" && v != exclude {
			out = append(out, v)
		}
	}
	return out
}

// ProcessEvent is the single entry point for worker events.
func (s *Supervisor) ProcessEvent(ctx context.Context, ev lounge.DeviceEvent) {
	switch ev.Event {
	case "device_status":
		s.emitLive("device_status", map[string]any{
			"device_id": ev.DeviceID,
			"status":    ev.Status,
			"error":     ev.Error,
		})
		return
	case "now_playing", "up_next":
	default:
		return
	}

	s.processSponsorblockEvent(ctx, ev)

	settings, err := s.store.AllSettings(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("loading settings for event processing failed")
		return
	}
	if !s.MonitoringEnabledNow(ctx, settings) {
		return
	}
	videoID := strings.TrimSpace(ev.VideoID)
	if videoID == "" {
		return
	}
	if ev.Event == "up_next" {
		s.rememberCandidate(ev.DeviceID, videoID)
	}

	inferredNowPlaying := false
	now := s.now()
	s.mu.Lock()
	if ev.Event == "now_playing" {
		if prev, ok := s.lastNowPlaying[ev.DeviceID]; ok && prev.videoID == videoID && now.Sub(prev.at) < 5*time.Second {
			s.mu.Unlock()
			return
		}
		s.lastNowPlaying[ev.DeviceID] = videoSeen{videoID: videoID, at: now}
		s.lastNowPlayingAt[ev.DeviceID] = now
		delete(s.upNextRepeat, ev.DeviceID)
	} else {
		prev := s.upNextRepeat[ev.DeviceID]
		count := 1
		if prev.videoID == videoID {
			count = prev.count + 1
		}
		s.upNextRepeat[ev.DeviceID] = repeatCount{videoID: videoID, count: count}
		recentNowPlaying := false
		if last, ok := s.lastNowPlayingAt[ev.DeviceID]; ok {
			recentNowPlaying = now.Sub(last) < 4*time.Second
		}
		// A TV that keeps re-announcing the same up-next without a
		// now-playing in between is usually already playing it.
		inferredNowPlaying = !recentNowPlaying && count >= 2
	}
	s.mu.Unlock()
	if ev.Event == "now_playing" {
		s.dropCandidate(ev.DeviceID, videoID)
	}

	meta := s.meta.Resolve(ctx, videoID)
	schedCtx := s.CurrentScheduleContext(ctx, settings)
	mode := schedCtx.Mode
	if mode == "" {
		mode = "blocklist"
	}

	video := judge.VideoContext{
		VideoID:      videoID,
		VideoURL:     "https://www.youtube.com/watch?v=" + videoID,
		Title:        meta.Title,
		ChannelTitle: meta.AuthorName,
	}
	verdict, err := s.judge.Evaluate(ctx, video, mode)
	switch {
	case err == nil:
		_ = s.store.SetSetting(ctx, "judge_ok", "true")
		_ = s.store.SetSetting(ctx, "last_error", "")
	case isFatal(err):
		s.judge.HandleFatalFailure(ctx, err)
		if mode == "whitelist" {
			verdict = judge.Verdict{
				Verdict:    "BLOCK",
				Reason:     "Whitelist mode: Gemini unavailable and no explicit allowlist match.",
				Confidence: 100,
				Source:     "fallback",
			}
		} else {
			verdict = judge.Verdict{
				Verdict:    "ALLOW",
				Reason:     "Gemini is temporarily unavailable (quota/auth). Allowed by fail-open policy.",
				Confidence: 0,
				Source:     "fallback",
			}
		}
		s.emitLive("judge_failure", map[string]any{"error": err.Error(), "active": true})
	default:
		if mode == "whitelist" {
			verdict = judge.Verdict{
				Verdict:    "BLOCK",
				Reason:     fmt.Sprintf("Whitelist mode fallback block due to parser/runtime error: %v", err),
				Confidence: 100,
				Source:     "fallback",
			}
		} else {
			verdict = judge.Verdict{
				Verdict:    "ALLOW",
				Reason:     fmt.Sprintf("Fallback allow due to parser/runtime error: %v", err),
				Confidence: 0,
				Source:     "fallback",
			}
		}
	}
	metrics.Decisions.WithLabelValues(verdict.Verdict, verdict.Source).Inc()

	action := "none"
	treatAsCurrent := ev.Event == "now_playing" || inferredNowPlaying ||
		(ev.Event == "up_next" && verdict.Verdict == "BLOCK")
	releaseActive := s.RemoteReleaseActive(settings)

	if treatAsCurrent && verdict.Verdict == "BLOCK" {
		if !releaseActive && s.markBlockRetry(ev.DeviceID, videoID) {
			ok, skipErr, safeVideoID := s.playSafeFromQueue(ctx, ev.DeviceID, videoID, mode)
			if ok {
				action = "play_safe"
				s.startReinforce(ev.DeviceID, safeVideoID)
				s.clearBlockRetries(ev.DeviceID)
				metrics.Interventions.WithLabelValues("play_safe").Inc()
				s.emitLive("intervention_play_safe", map[string]any{
					"device_id":        ev.DeviceID,
					"blocked_video_id": videoID,
					"safe_video_id":    safeVideoID,
				})
			} else if skipErr != "" {
				metrics.Interventions.WithLabelValues("error").Inc()
				s.emitLive("intervention_error", map[string]any{
					"device_id": ev.DeviceID,
					"video_id":  videoID,
					"message":   skipErr,
				})
			}
		}
	} else if treatAsCurrent {
		action = "allow"
	}

	if err := s.store.AddDecision(ctx, store.Decision{
		DeviceID:     ev.DeviceID,
		VideoID:      videoID,
		Title:        meta.Title,
		ThumbnailURL: meta.ThumbnailURL,
		Verdict:      verdict.Verdict,
		Reason:       verdict.Reason,
		Confidence:   verdict.Confidence,
		Source:       verdict.Source,
		ActionTaken:  action,
	}); err != nil {
		s.log.Error().Err(err).Msg("recording decision failed")
	}

	s.emitLive(ev.Event, map[string]any{
		"device_id":            ev.DeviceID,
		"video_id":             videoID,
		"title":                meta.Title,
		"channel_title":        meta.AuthorName,
		"thumbnail_url":        meta.ThumbnailURL,
		"verdict":              verdict.Verdict,
		"reason":               verdict.Reason,
		"confidence":           verdict.Confidence,
		"source":               verdict.Source,
		"action_taken":         action,
		"inferred_now_playing": inferredNowPlaying,
	})
}

// markBlockRetry reports whether a replacement attempt is due for this
// device/video pair. Attempts within 1.5s are suppressed.
func (s *Supervisor) markBlockRetry(deviceID int64, videoID string) bool {
	key := fmt.Sprintf("%d:%s", deviceID, videoID)
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.blockRetryAt[key]; ok && now.Sub(last) < 1500*time.Millisecond {
		return false
	}
	s.blockRetryAt[key] = now
	return true
}

func (s *Supervisor) clearBlockRetries(deviceID int64) {
	prefix := fmt.Sprintf("%d:", deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.blockRetryAt {
		if strings.HasPrefix(key, prefix) {
			delete(s.blockRetryAt, key)
		}
	}
}

func (s *Supervisor) processSponsorblockEvent(ctx context.Context, ev lounge.DeviceEvent) {
	settings, err := s.store.AllSettings(ctx)
	if err != nil {
		return
	}
	if !s.SponsorblockEnabledNow(ctx, settings) || s.RemoteReleaseActive(settings) {
		return
	}
	videoID := strings.TrimSpace(ev.VideoID)
	if videoID == "" {
		return
	}
	categories := parseSponsorCategories(settings["sponsorblock_categories_json"])
	minLength := parseFloatSetting(settings["sponsorblock_min_length_seconds"], 1.0)

	if ev.Event == "up_next" {
		s.sponsor.Prefetch(ctx, videoID, categories, minLength)
		return
	}
	if ev.PlayState != "" && ev.PlayState != "1" {
		return
	}

	result := s.sponsor.TrySkip(ctx, ev.DeviceID, videoID, ev.CurrentTime, categories, minLength,
		func(ctx context.Context, deviceID int64, position float64) error {
			ok, msg := s.lounge.SeekVideo(ctx, deviceID, position)
			if !ok {
				return fmt.Errorf("%s", msg)
			}
			return nil
		})
	if result.Segment == nil {
		return
	}

	meta := s.meta.Resolve(ctx, videoID)
	action, status := "none", "error"
	if result.Acted {
		action, status = "seek_end", "ok"
	}
	metrics.SponsorSkips.WithLabelValues(status).Inc()
	_ = s.store.AddSponsorAction(ctx, store.SponsorAction{
		DeviceID:     ev.DeviceID,
		VideoID:      videoID,
		Title:        meta.Title,
		Category:     result.Segment.Category,
		SegmentStart: result.Segment.Start,
		SegmentEnd:   result.Segment.End,
		ActionTaken:  action,
		Status:       status,
		Error:        result.Err,
	})
	if result.Acted {
		s.emitLive("sponsorblock_skip", map[string]any{
			"device_id":     ev.DeviceID,
			"video_id":      videoID,
			"title":         meta.Title,
			"segment_start": result.Segment.Start,
			"segment_end":   result.Segment.End,
			"category":      result.Segment.Category,
			"action_taken":  action,
		})
	} else if result.Err != "" {
		s.emitLive("sponsorblock_error", map[string]any{
			"device_id": ev.DeviceID,
			"video_id":  videoID,
			"message":   result.Err,
		})
	}
}

func isFatal(err error) bool {
	return errors.Is(err, judge.ErrFatal)
}
