// SPDX-License-Identifier: MIT

// Package media resolves video metadata via the public oEmbed endpoint.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/joeblack2k/sentinel-yt/internal/log"
)

const defaultEndpoint = "https://www.youtube.com/oembed"

// Metadata is the subset of oEmbed fields the judge and UI need.
type Metadata struct {
	VideoID      string `json:"video_id"`
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	AuthorURL    string `json:"author_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	Stub         bool   `json:"stub"`
}

// Resolver fetches video metadata with a small timeout and never fails:
// on any error it returns a stub so decisions can proceed.
type Resolver struct {
	endpoint string
	http     *http.Client
	log      zerolog.Logger
}

func NewResolver() *Resolver {
	return &Resolver{
		endpoint: defaultEndpoint,
		http:     &http.Client{Timeout: 5 * time.Second},
		log:      xlog.WithComponent("media"),
	}
}

// NewResolverWithEndpoint is used by tests to point at a local server.
func NewResolverWithEndpoint(endpoint string) *Resolver {
	r := NewResolver()
	r.endpoint = endpoint
	return r
}

func stub(videoID string) Metadata {
	return Metadata{
		VideoID:      videoID,
		Title:        "Video " + videoID,
		ThumbnailURL: "https://i.ytimg.com/vi/" + videoID + "/hqdefault.jpg",
		Stub:         true,
	}
}

// Resolve looks up title and channel for a video id. Errors degrade to a
// stub with Title "Video <id>".
func (r *Resolver) Resolve(ctx context.Context, videoID string) Metadata {
	if videoID == "" {
		return stub(videoID)
	}
	watch := "https://www.youtube.com/watch?v=" + videoID
	endpoint := fmt.Sprintf("%s?url=%s&format=json", r.endpoint, url.QueryEscape(watch))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return stub(videoID)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		r.log.Debug().Err(err).Str("video_id", videoID).Msg("oembed lookup failed")
		return stub(videoID)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		r.log.Debug().Int("status", resp.StatusCode).Str("video_id", videoID).Msg("oembed lookup rejected")
		return stub(videoID)
	}
	var body struct {
		Title        string `json:"title"`
		AuthorName   string `json:"author_name"`
		AuthorURL    string `json:"author_url"`
		ThumbnailURL string `json:"thumbnail_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return stub(videoID)
	}
	if body.Title == "" {
		return stub(videoID)
	}
	out := Metadata{
		VideoID:      videoID,
		Title:        body.Title,
		AuthorName:   body.AuthorName,
		AuthorURL:    body.AuthorURL,
		ThumbnailURL: body.ThumbnailURL,
	}
	if out.ThumbnailURL == "" {
		out.ThumbnailURL = "https://i.ytimg.com/vi/" + videoID + "/hqdefault.jpg"
	}
	return out
}
