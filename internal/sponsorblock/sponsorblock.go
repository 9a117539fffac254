// SPDX-License-Identifier: MIT

// Package sponsorblock fetches skippable segments from the SponsorBlock
// API and drives seek-past-segment actions on playing devices.
package sponsorblock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/joeblack2k/sentinel-yt/internal/log"
)

// Segment is one skippable span of a video.
type Segment struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Category string  `json:"category"`
	UUID     string  `json:"uuid"`
}

// SeekFunc seeks a device to an absolute position in seconds.
type SeekFunc func(ctx context.Context, deviceID int64, position float64) error

type cacheEntry struct {
	expiresAt time.Time
	segments  []Segment
}

// Service fetches, caches and applies segments. The privacy-preserving
// hash-prefix endpoint is used so the full video id never leaves the box.
type Service struct {
	apiBase  string
	cacheTTL time.Duration
	http     *http.Client
	log      zerolog.Logger
	now      func() time.Time

	mu        sync.Mutex
	cache     map[string]cacheEntry
	skipGuard map[string]time.Time
}

func NewService(apiBase string, cacheTTLSeconds int) *Service {
	ttl := time.Duration(cacheTTLSeconds) * time.Second
	if ttl < 30*time.Second {
		ttl = 30 * time.Second
	}
	return &Service{
		apiBase:   strings.TrimRight(apiBase, "/"),
		cacheTTL:  ttl,
		http:      &http.Client{Timeout: 6 * time.Second},
		log:       xlog.WithComponent("sponsorblock"),
		now:       time.Now,
		cache:     make(map[string]cacheEntry),
		skipGuard: make(map[string]time.Time),
	}
}

// Prefetch warms the segment cache for an upcoming video.
func (s *Service) Prefetch(ctx context.Context, videoID string, categories []string, minLength float64) {
	if videoID == "" {
		return
	}
	_ = s.Segments(ctx, videoID, categories, minLength)
}

// Segments returns the cached or freshly fetched segments for a video.
func (s *Service) Segments(ctx context.Context, videoID string, categories []string, minLength float64) []Segment {
	now := s.now()
	s.mu.Lock()
	if entry, ok := s.cache[videoID]; ok && entry.expiresAt.After(now) {
		segs := entry.segments
		s.mu.Unlock()
		return segs
	}
	s.mu.Unlock()

	fetched := s.fetch(ctx, videoID, categories, minLength)
	s.mu.Lock()
	s.cache[videoID] = cacheEntry{expiresAt: now.Add(s.cacheTTL), segments: fetched}
	s.mu.Unlock()
	return fetched
}

// SkipResult describes one skip attempt.
type SkipResult struct {
	Acted   bool
	Err     string
	Segment *Segment
}

// TrySkip seeks past a segment covering the current position. Repeated
// attempts at the same segment end are suppressed for two seconds.
func (s *Service) TrySkip(ctx context.Context, deviceID int64, videoID string, currentTime *float64, categories []string, minLength float64, seek SeekFunc) SkipResult {
	if currentTime == nil {
		return SkipResult{}
	}
	segments := s.Segments(ctx, videoID, categories, minLength)
	if len(segments) == 0 {
		return SkipResult{}
	}
	selected := selectSegment(segments, *currentTime)
	if selected == nil {
		return SkipResult{}
	}

	guardKey := fmt.Sprintf("%d:%s:%.2f", deviceID, videoID, selected.End)
	now := s.now()
	s.mu.Lock()
	if last, ok := s.skipGuard[guardKey]; ok && now.Sub(last) < 2*time.Second {
		s.mu.Unlock()
		return SkipResult{Segment: selected}
	}
	s.skipGuard[guardKey] = now
	s.mu.Unlock()

	seekTo := selected.End + 0.08
	if alt := *currentTime + 0.1; alt > seekTo {
		seekTo = alt
	}
	if err := seek(ctx, deviceID, seekTo); err != nil {
		return SkipResult{Acted: false, Err: err.Error(), Segment: selected}
	}
	return SkipResult{Acted: true, Segment: selected}
}

func (s *Service) fetch(ctx context.Context, videoID string, categories []string, minLength float64) []Segment {
	sum := sha256.Sum256([]byte(videoID))
	prefix := hex.EncodeToString(sum[:])[:4]

	params := url.Values{}
	params.Set("service", "YouTube")
	params.Set("actionType", "skip")
	for _, cat := range categories {
		params.Add("category", cat)
	}
	endpoint := fmt.Sprintf("%s/skipSegments/%s?%s", s.apiBase, prefix, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		s.log.Debug().Err(err).Str("video_id", videoID).Msg("segment fetch failed")
		return nil
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var payload []struct {
		VideoID  string `json:"videoID"`
		Segments []struct {
			Segment  []float64 `json:"segment"`
			Category string    `json:"category"`
			UUID     string    `json:"UUID"`
		} `json:"segments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil
	}

	var parsed []Segment
	for _, item := range payload {
		if item.VideoID != videoID {
			continue
		}
		for _, seg := range item.Segments {
			if len(seg.Segment) != 2 {
				continue
			}
			start, end := seg.Segment[0], seg.Segment[1]
			if end <= start || (end-start) < minLength {
				continue
			}
			parsed = append(parsed, Segment{Start: start, End: end, Category: seg.Category, UUID: seg.UUID})
		}
		break
	}
	if len(parsed) == 0 {
		return nil
	}
	sort.Slice(parsed, func(i, j int) bool {
		if parsed[i].Start != parsed[j].Start {
			return parsed[i].Start < parsed[j].Start
		}
		return parsed[i].End < parsed[j].End
	})
	return mergeSegments(parsed)
}

// mergeSegments joins spans whose gap is at most 0.8 seconds.
func mergeSegments(segments []Segment) []Segment {
	var merged []Segment
	for _, seg := range segments {
		if len(merged) == 0 {
			merged = append(merged, seg)
			continue
		}
		prev := &merged[len(merged)-1]
		if seg.Start <= prev.End+0.8 {
			if seg.End > prev.End {
				prev.End = seg.End
			}
			if prev.Category == "" && seg.Category != "" {
				prev.Category = seg.Category
			}
		} else {
			merged = append(merged, seg)
		}
	}
	return merged
}

func selectSegment(segments []Segment, position float64) *Segment {
	for i := range segments {
		seg := &segments[i]
		if (seg.Start-0.1) <= position && position < (seg.End-0.05) {
			return seg
		}
	}
	return nil
}
