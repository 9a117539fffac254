// SPDX-License-Identifier: MIT
package store

import (
	"context"
)

// SponsorAction is one logged segment-skip attempt.
type SponsorAction struct {
	ID           int64   `json:"id"`
	DeviceID     int64   `json:"device_id"`
	VideoID      string  `json:"video_id"`
	Title        string  `json:"title"`
	Category     string  `json:"category"`
	SegmentStart float64 `json:"segment_start"`
	SegmentEnd   float64 `json:"segment_end"`
	ActionTaken  string  `json:"action_taken"`
	Status       string  `json:"status"`
	Error        string  `json:"error"`
	CreatedAt    string  `json:"created_at"`
}

// AddSponsorAction appends a sponsor-skip log row.
func (s *Store) AddSponsorAction(ctx context.Context, a SponsorAction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sponsorblock_actions(device_id, video_id, title, category,
		     segment_start, segment_end, action_taken, status, error, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.DeviceID, a.VideoID, a.Title, a.Category,
		a.SegmentStart, a.SegmentEnd, a.ActionTaken, a.Status, a.Error, utcNowISO())
	return err
}

// RecentSponsorActions returns the newest sponsor-skip log rows.
func (s *Store) RecentSponsorActions(ctx context.Context, limit int) ([]SponsorAction, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(device_id, 0), COALESCE(video_id, ''), COALESCE(title, ''),
		        COALESCE(category, ''), COALESCE(segment_start, 0), COALESCE(segment_end, 0),
		        COALESCE(action_taken, ''), COALESCE(status, ''), COALESCE(error, ''), COALESCE(created_at, '')
		 FROM sponsorblock_actions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []SponsorAction
	for rows.Next() {
		var a SponsorAction
		if err := rows.Scan(&a.ID, &a.DeviceID, &a.VideoID, &a.Title, &a.Category,
			&a.SegmentStart, &a.SegmentEnd, &a.ActionTaken, &a.Status, &a.Error, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
