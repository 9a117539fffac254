// SPDX-License-Identifier: MIT
package store

import (
	"context"
)

// Schedule is one enforcement window row.
type Schedule struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Enabled   bool   `json:"enabled"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Timezone  string `json:"timezone"`
	Mode      string `json:"mode"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ListSchedules returns all schedule rows ordered by id.
func (s *Store) ListSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, enabled, start, end, timezone, mode,
		        COALESCE(created_at, ''), COALESCE(updated_at, '')
		 FROM schedules ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Schedule
	for rows.Next() {
		var sc Schedule
		var enabled int
		if err := rows.Scan(&sc.ID, &sc.Name, &enabled, &sc.Start, &sc.End,
			&sc.Timezone, &sc.Mode, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
			return nil, err
		}
		sc.Enabled = enabled != 0
		if sc.Mode == "" {
			sc.Mode = "blocklist"
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// AddSchedule inserts a schedule row and returns its id.
func (s *Store) AddSchedule(ctx context.Context, sc Schedule) (int64, error) {
	now := utcNowISO()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(name, enabled, start, end, timezone, mode, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.Name, boolInt(sc.Enabled), sc.Start, sc.End, sc.Timezone, sc.Mode, now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateSchedule rewrites a schedule row. Returns false when the id is unknown.
func (s *Store) UpdateSchedule(ctx context.Context, sc Schedule) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules
		 SET name = ?, enabled = ?, start = ?, end = ?, timezone = ?, mode = ?, updated_at = ?
		 WHERE id = ?`,
		sc.Name, boolInt(sc.Enabled), sc.Start, sc.End, sc.Timezone, sc.Mode, utcNowISO(), sc.ID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteSchedule removes a schedule row. Returns false when the id is unknown.
func (s *Store) DeleteSchedule(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
