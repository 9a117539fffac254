// SPDX-License-Identifier: MIT
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Decision is one logged enforcement verdict.
type Decision struct {
	ID           int64  `json:"id"`
	DeviceID     int64  `json:"device_id"`
	VideoID      string `json:"video_id"`
	ChannelID    string `json:"channel_id"`
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnail_url"`
	Verdict      string `json:"verdict"`
	Reason       string `json:"reason"`
	Confidence   int    `json:"confidence"`
	Source       string `json:"source"`
	ActionTaken  string `json:"action_taken"`
	CreatedAt    string `json:"created_at"`
}

// DecisionPage is a bounded page of the decision history.
type DecisionPage struct {
	Rows       []Decision `json:"rows"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	TotalCount int        `json:"total_count"`
	PageCount  int        `json:"page_count"`
	HasPrev    bool       `json:"has_prev"`
	HasNext    bool       `json:"has_next"`
}

// AddDecision appends a decision row.
func (s *Store) AddDecision(ctx context.Context, d Decision) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO video_decisions(device_id, video_id, channel_id, title, thumbnail_url,
		     verdict, reason, confidence, source, action_taken, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.DeviceID, d.VideoID, d.ChannelID, d.Title, d.ThumbnailURL,
		d.Verdict, d.Reason, d.Confidence, d.Source, d.ActionTaken, utcNowISO())
	return err
}

const decisionColumns = `id, COALESCE(device_id, 0), COALESCE(video_id, ''), COALESCE(channel_id, ''),
	COALESCE(title, ''), COALESCE(thumbnail_url, ''), COALESCE(verdict, ''), COALESCE(reason, ''),
	COALESCE(confidence, 0), COALESCE(source, ''), COALESCE(action_taken, ''), COALESCE(created_at, '')`

func (s *Store) queryDecisions(ctx context.Context, query string, args ...any) ([]Decision, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Decision
	for rows.Next() {
		var d Decision
		if err := rows.Scan(&d.ID, &d.DeviceID, &d.VideoID, &d.ChannelID, &d.Title, &d.ThumbnailURL,
			&d.Verdict, &d.Reason, &d.Confidence, &d.Source, &d.ActionTaken, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecentDecisions returns the newest decisions up to limit.
func (s *Store) RecentDecisions(ctx context.Context, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 200
	}
	return s.queryDecisions(ctx,
		"SELECT "+decisionColumns+" FROM video_decisions ORDER BY id DESC LIMIT ?", limit)
}

// RecentDecisionsByVerdict returns the newest decisions with the given verdict.
func (s *Store) RecentDecisionsByVerdict(ctx context.Context, verdict string, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.queryDecisions(ctx,
		"SELECT "+decisionColumns+" FROM video_decisions WHERE verdict = ? ORDER BY id DESC LIMIT ?",
		verdict, limit)
}

// PagedDecisions pages over the newest maxTotal decisions.
func (s *Store) PagedDecisions(ctx context.Context, page, pageSize, maxTotal int) (*DecisionPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if maxTotal < pageSize {
		maxTotal = 500
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM video_decisions").Scan(&total); err != nil {
		return nil, err
	}
	if total > maxTotal {
		total = maxTotal
	}
	pageCount := (total + pageSize - 1) / pageSize
	if pageCount < 1 {
		pageCount = 1
	}
	if page > pageCount {
		page = pageCount
	}
	offset := (page - 1) * pageSize

	rows, err := s.queryDecisions(ctx,
		`SELECT `+decisionColumns+` FROM (
		     SELECT * FROM video_decisions ORDER BY id DESC LIMIT ?
		 ) ORDER BY id DESC LIMIT ? OFFSET ?`,
		maxTotal, pageSize, offset)
	if err != nil {
		return nil, err
	}
	return &DecisionPage{
		Rows:       rows,
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		PageCount:  pageCount,
		HasPrev:    page > 1,
		HasNext:    page < pageCount,
	}, nil
}

// PurgeHistory deletes all decisions and returns the removed row count.
func (s *Store) PurgeHistory(ctx context.Context) (int, error) {
	var before int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM video_decisions").Scan(&before); err != nil {
		return 0, err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM video_decisions"); err != nil {
		return 0, err
	}
	return before, nil
}

// CachedVerdict is a stored judge verdict with its metadata.
type CachedVerdict struct {
	Verdict    string `json:"verdict"`
	Reason     string `json:"reason"`
	Confidence int    `json:"confidence"`
	Source     string `json:"source"`
}

// CacheSet stores a verdict under key until expiresAt.
func (s *Store) CacheSet(ctx context.Context, key string, v CachedVerdict, expiresAt time.Time) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_cache(key, payload_json, expires_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload_json = excluded.payload_json, expires_at = excluded.expires_at`,
		key, string(payload), expiresAt.UTC().Format(time.RFC3339))
	return err
}

// CacheGet returns the cached verdict, or nil when absent or expired.
func (s *Store) CacheGet(ctx context.Context, key string) (*CachedVerdict, error) {
	var payload, expiresAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(payload_json, ''), COALESCE(expires_at, '') FROM analysis_cache WHERE key = ?",
		key).Scan(&payload, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if expiresAt != "" {
		exp, perr := time.Parse(time.RFC3339, expiresAt)
		if perr == nil && exp.Before(time.Now()) {
			return nil, nil
		}
	}
	var v CachedVerdict
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return nil, nil
	}
	return &v, nil
}

// PurgeAnalysisCache deletes all cached verdicts and returns the removed count.
func (s *Store) PurgeAnalysisCache(ctx context.Context) (int, error) {
	var before int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM analysis_cache").Scan(&before); err != nil {
		return 0, err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM analysis_cache"); err != nil {
		return 0, err
	}
	return before, nil
}
