// SPDX-License-Identifier: MIT
package runtime

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/joeblack2k/sentinel-yt/internal/judge"
)

func shuffleStrings(items []string) {
	rand.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
}

// fallbackReasons carries the per-context reason strings used when a
// candidate evaluation cannot complete.
type fallbackReasons struct {
	whitelistFatal string
	allowFatal     string
	whitelistErr   string
	allowErr       string
}

var queueFallback = fallbackReasons{
	whitelistFatal: "Whitelist mode: Gemini unavailable for candidate evaluation.",
	allowFatal:     "Gemini unavailable; fail-open candidate allow.",
	whitelistErr:   "Whitelist mode: candidate evaluation failed.",
	allowErr:       "Candidate evaluation failed; fail-open candidate allow.",
}

var historyFallback = fallbackReasons{
	whitelistFatal: "Whitelist mode: Gemini unavailable for history candidate.",
	allowFatal:     "Gemini unavailable; fail-open history candidate allow.",
	whitelistErr:   "Whitelist mode: history candidate evaluation failed.",
	allowErr:       "History candidate evaluation failed; fail-open allow.",
}

func (s *Supervisor) judgeCandidate(ctx context.Context, videoID, mode string, reasons fallbackReasons) judge.Verdict {
	meta := s.meta.Resolve(ctx, videoID)
	video := judge.VideoContext{
		VideoID:      videoID,
		VideoURL:     "https://www.youtube.com/watch?v=" + videoID,
		Title:        meta.Title,
		ChannelTitle: meta.AuthorName,
	}
	verdict, err := s.judge.Evaluate(ctx, video, mode)
	if err == nil {
		return verdict
	}
	if isFatal(err) {
		s.judge.HandleFatalFailure(ctx, err)
		if mode == "whitelist" {
			return judge.Verdict{Verdict: "BLOCK", Reason: reasons.whitelistFatal, Confidence: 100, Source: "fallback"}
		}
		return judge.Verdict{Verdict: "ALLOW", Reason: reasons.allowFatal, Confidence: 0, Source: "fallback"}
	}
	if mode == "whitelist" {
		return judge.Verdict{Verdict: "BLOCK", Reason: reasons.whitelistErr, Confidence: 100, Source: "fallback"}
	}
	return judge.Verdict{Verdict: "ALLOW", Reason: reasons.allowErr, Confidence: 0, Source: "fallback"}
}

// playSafeFromQueue replaces a blocked video with the first up-next
// candidate that passes the judge, falling back to decision history
// when the queue is empty or exhausted.
func (s *Supervisor) playSafeFromQueue(ctx context.Context, deviceID int64, blockedVideoID, mode string) (bool, string, string) {
	queue := s.candidateQueue(deviceID, blockedVideoID)
	if len(queue) == 0 {
		return s.playSafeFromHistory(ctx, deviceID, blockedVideoID, mode)
	}

	if len(queue) > 12 {
		queue = queue[:12]
	}
	lastError := ""
	for _, candidateID := range queue {
		verdict := s.judgeCandidate(ctx, candidateID, mode, queueFallback)
		if verdict.Verdict != "ALLOW" {
			continue
		}
		ok, msg := s.lounge.PlayVideo(ctx, deviceID, candidateID)
		if ok {
			s.dropCandidate(deviceID, candidateID)
			return true, "", candidateID
		}
		if msg == "" {
			msg = "TV refused to play safe candidate video."
		}
		lastError = msg
	}

	histOK, histErr, histID := s.playSafeFromHistory(ctx, deviceID, blockedVideoID, mode)
	if histOK {
		return true, "", histID
	}
	if lastError != "" {
		return false, strings.TrimSpace(lastError + " " + histErr), ""
	}
	if histErr == "" {
		histErr = "No safe video found in queued candidates."
	}
	return false, histErr, ""
}

// playSafeFromHistory picks a previously allowed video from the recent
// decision history, avoiding an immediate repeat of the last choice.
func (s *Supervisor) playSafeFromHistory(ctx context.Context, deviceID int64, blockedVideoID, mode string) (bool, string, string) {
	rows, err := s.store.RecentDecisions(ctx, 500)
	if err != nil {
		return false, "No known-safe history video available for fallback.", ""
	}

	seen := make(map[string]struct{})
	var candidates []string
	for _, row := range rows {
		if row.Verdict != "ALLOW" {
			continue
		}
		candidateID := strings.TrimSpace(row.VideoID)
		if candidateID == "" || candidateID == blockedVideoID {
			continue
		}
		if _, dup := seen[candidateID]; dup {
			continue
		}
		seen[candidateID] = struct{}{}
		candidates = append(candidates, candidateID)
	}
	if len(candidates) == 0 {
		return false, "No known-safe history video available for fallback.", ""
	}

	s.shuffle(candidates)
	s.mu.Lock()
	lastChoice := s.lastHistoryChoice[deviceID]
	s.mu.Unlock()
	if lastChoice != "" && len(candidates) > 1 && candidates[0] == lastChoice {
		for i, candidateID := range candidates {
			if candidateID != lastChoice {
				candidates[0], candidates[i] = candidates[i], candidates[0]
				break
			}
		}
	}

	lastError := ""
	for _, candidateID := range candidates {
		verdict := s.judgeCandidate(ctx, candidateID, mode, historyFallback)
		if verdict.Verdict != "ALLOW" {
			continue
		}
		ok, msg := s.lounge.PlayVideo(ctx, deviceID, candidateID)
		if ok {
			s.mu.Lock()
			s.lastHistoryChoice[deviceID] = candidateID
			s.mu.Unlock()
			return true, "", candidateID
		}
		if msg == "" {
			msg = "TV refused to play known-safe history video."
		}
		lastError = msg
	}
	if lastError != "" {
		return false, lastError, ""
	}
	return false, "No known-safe history video available for fallback.", ""
}

// startReinforce re-sends the safe video after short delays. Some TV
// clients ignore the first override while user-initiated playback is
// still settling.
func (s *Supervisor) startReinforce(deviceID int64, safeVideoID string) {
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if old, ok := s.reinforceCancel[deviceID]; ok {
		old()
	}
	s.reinforceCancel[deviceID] = cancel
	delays := s.reinforceDelays
	s.mu.Unlock()

	go func() {
		defer cancel()
		for _, delay := range delays {
			timer := time.NewTimer(delay)
			select {
			case <-runCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			settings, err := s.store.AllSettings(runCtx)
			if err != nil {
				return
			}
			if !s.MonitoringEnabledNow(runCtx, settings) || s.RemoteReleaseActive(settings) {
				return
			}
			if ok, _ := s.lounge.PlayVideo(runCtx, deviceID, safeVideoID); ok {
				s.emitLive("intervention_play_safe_reinforce", map[string]any{
					"device_id":     deviceID,
					"safe_video_id": safeVideoID,
				})
			}
		}
	}()
}
