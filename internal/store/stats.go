// SPDX-License-Identifier: MIT
package store

import (
	"context"
	"os"
	"time"
)

// DBStats summarizes database file and row counts.
type DBStats struct {
	DBFileBytes         int64 `json:"db_file_bytes"`
	WALFileBytes        int64 `json:"wal_file_bytes"`
	TotalBytes          int64 `json:"total_bytes"`
	VideoDecisions      int   `json:"video_decisions"`
	AnalysisCache       int   `json:"analysis_cache"`
	Rules               int   `json:"rules"`
	SponsorBlockActions int   `json:"sponsorblock_actions"`
	Schedules           int   `json:"schedules"`
}

// Stats returns file sizes and table row counts.
func (s *Store) Stats(ctx context.Context) (*DBStats, error) {
	var out DBStats
	if fi, err := os.Stat(s.path); err == nil {
		out.DBFileBytes = fi.Size()
	}
	if fi, err := os.Stat(s.path + "-wal"); err == nil {
		out.WALFileBytes = fi.Size()
	}
	out.TotalBytes = out.DBFileBytes + out.WALFileBytes

	counts := []struct {
		query string
		dst   *int
	}{
		{"SELECT COUNT(*) FROM video_decisions", &out.VideoDecisions},
		{"SELECT COUNT(*) FROM analysis_cache", &out.AnalysisCache},
		{"SELECT COUNT(*) FROM rules", &out.Rules},
		{"SELECT COUNT(*) FROM sponsorblock_actions", &out.SponsorBlockActions},
		{"SELECT COUNT(*) FROM schedules", &out.Schedules},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, err
		}
	}
	return &out, nil
}

// SourceBreakdown is the per-source verdict split.
type SourceBreakdown struct {
	Source     string `json:"source"`
	AllowCount int    `json:"allow_count"`
	BlockCount int    `json:"block_count"`
	Total      int    `json:"total"`
}

// TrendDay is one day of the decision trend.
type TrendDay struct {
	Day        string `json:"day"`
	AllowCount int    `json:"allow_count"`
	BlockCount int    `json:"block_count"`
	Total      int    `json:"total"`
}

// TopBlocked is one frequently blocked video.
type TopBlocked struct {
	VideoID    string `json:"video_id"`
	Title      string `json:"title"`
	BlockCount int    `json:"block_count"`
	URL        string `json:"url"`
}

// DashboardTotals aggregates history counters for the home dashboard.
type DashboardTotals struct {
	TotalCount         int     `json:"total_count"`
	AllowCount         int     `json:"allow_count"`
	BlockCount         int     `json:"block_count"`
	BlockRatePercent   float64 `json:"block_rate_percent"`
	UniqueVideos       int     `json:"unique_videos"`
	UniqueChannels     int     `json:"unique_channels"`
	SponsorBlockTotal  int     `json:"sponsorblock_total"`
	SponsorBlockOK     int     `json:"sponsorblock_ok"`
	RuleBlacklistCount int     `json:"rule_blacklist_count"`
	RuleWhitelistCount int     `json:"rule_whitelist_count"`
}

// DashboardStats is the home dashboard payload.
type DashboardStats struct {
	Totals          DashboardTotals   `json:"totals"`
	SourceBreakdown []SourceBreakdown `json:"source_breakdown"`
	Trend           []TrendDay        `json:"trend"`
	TopBlocked      []TopBlocked      `json:"top_blocked"`
}

// HomeDashboardStats aggregates decision history for the dashboard. The
// trend is zero-filled for the last days days (clamped to 3..30).
func (s *Store) HomeDashboardStats(ctx context.Context, days int) (*DashboardStats, error) {
	if days < 3 {
		days = 3
	}
	if days > 30 {
		days = 30
	}
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -(days - 1)).Format(time.RFC3339)

	out := &DashboardStats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN verdict = 'ALLOW' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN verdict = 'BLOCK' THEN 1 ELSE 0 END), 0),
		       COUNT(DISTINCT CASE WHEN TRIM(COALESCE(video_id, '')) <> '' THEN video_id END),
		       COUNT(DISTINCT CASE WHEN TRIM(COALESCE(channel_id, '')) <> '' THEN channel_id END)
		FROM video_decisions`).Scan(
		&out.Totals.TotalCount, &out.Totals.AllowCount, &out.Totals.BlockCount,
		&out.Totals.UniqueVideos, &out.Totals.UniqueChannels)
	if err != nil {
		return nil, err
	}
	if out.Totals.TotalCount > 0 {
		rate := float64(out.Totals.BlockCount) / float64(out.Totals.TotalCount) * 100.0
		out.Totals.BlockRatePercent = float64(int(rate*10+0.5)) / 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(NULLIF(source, ''), 'unknown') AS source,
		       SUM(CASE WHEN verdict = 'ALLOW' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN verdict = 'BLOCK' THEN 1 ELSE 0 END)
		FROM video_decisions
		GROUP BY COALESCE(NULLIF(source, ''), 'unknown')
		ORDER BY (SUM(CASE WHEN verdict = 'ALLOW' THEN 1 ELSE 0 END) + SUM(CASE WHEN verdict = 'BLOCK' THEN 1 ELSE 0 END)) DESC
		LIMIT 8`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var b SourceBreakdown
		if err := rows.Scan(&b.Source, &b.AllowCount, &b.BlockCount); err != nil {
			_ = rows.Close()
			return nil, err
		}
		b.Total = b.AllowCount + b.BlockCount
		out.SourceBreakdown = append(out.SourceBreakdown, b)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	trendMap := make(map[string]TrendDay)
	rows, err = s.db.QueryContext(ctx, `
		SELECT SUBSTR(created_at, 1, 10) AS day,
		       SUM(CASE WHEN verdict = 'ALLOW' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN verdict = 'BLOCK' THEN 1 ELSE 0 END)
		FROM video_decisions
		WHERE created_at >= ?
		GROUP BY SUBSTR(created_at, 1, 10)
		ORDER BY day ASC`, since)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var d TrendDay
		if err := rows.Scan(&d.Day, &d.AllowCount, &d.BlockCount); err != nil {
			_ = rows.Close()
			return nil, err
		}
		trendMap[d.Day] = d
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := 0; i < days; i++ {
		day := now.AddDate(0, 0, -(days - 1 - i)).Format("2006-01-02")
		entry := trendMap[day]
		entry.Day = day
		entry.Total = entry.AllowCount + entry.BlockCount
		out.Trend = append(out.Trend, entry)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT COALESCE(NULLIF(video_id, ''), '-') AS vid,
		       COALESCE(NULLIF(title, ''), COALESCE(NULLIF(video_id, ''), 'Unknown title')) AS title,
		       COUNT(*) AS block_count
		FROM video_decisions
		WHERE verdict = 'BLOCK'
		GROUP BY vid, title
		ORDER BY block_count DESC, title ASC
		LIMIT 5`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var t TopBlocked
		if err := rows.Scan(&t.VideoID, &t.Title, &t.BlockCount); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if t.VideoID != "" && t.VideoID != "-" {
			t.URL = "https://www.youtube.com/watch?v=" + t.VideoID
		}
		out.TopBlocked = append(out.TopBlocked, t)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, "SELECT rule_type, COUNT(*) FROM rules GROUP BY rule_type")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var ruleType string
		var count int
		if err := rows.Scan(&ruleType, &count); err != nil {
			_ = rows.Close()
			return nil, err
		}
		switch ruleType {
		case "blacklist":
			out.Totals.RuleBlacklistCount = count
		case "whitelist":
			out.Totals.RuleWhitelistCount = count
		}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'ok' THEN 1 ELSE 0 END), 0)
		FROM sponsorblock_actions`).Scan(&out.Totals.SponsorBlockTotal, &out.Totals.SponsorBlockOK)
	if err != nil {
		return nil, err
	}
	return out, nil
}
