// SPDX-License-Identifier: MIT
package store

import (
	"context"
	"database/sql"
)

// Device is one paired TV screen.
type Device struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	ScreenID      string `json:"screen_id"`
	LoungeToken   string `json:"lounge_token"`
	AuthStateJSON string `json:"auth_state_json"`
	Status        string `json:"status"`
	LastSeenAt    string `json:"last_seen_at"`
	LastError     string `json:"last_error"`
}

// UpsertDevice inserts or refreshes a device keyed by screen id and returns
// its row id.
func (s *Store) UpsertDevice(ctx context.Context, d Device) (int64, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices(name, screen_id, lounge_token, auth_state_json, status, last_seen_at, last_error)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(screen_id) DO UPDATE SET
		     name = excluded.name,
		     lounge_token = excluded.lounge_token,
		     auth_state_json = excluded.auth_state_json,
		     status = excluded.status,
		     last_seen_at = excluded.last_seen_at,
		     last_error = excluded.last_error`,
		d.Name, d.ScreenID, d.LoungeToken, d.AuthStateJSON, d.Status, utcNowISO(), d.LastError)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx, "SELECT id FROM devices WHERE screen_id = ?", d.ScreenID).Scan(&id)
	return id, err
}

const deviceColumns = `id, COALESCE(name, ''), screen_id, COALESCE(lounge_token, ''),
	COALESCE(auth_state_json, ''), COALESCE(status, 'offline'),
	COALESCE(last_seen_at, ''), COALESCE(last_error, '')`

func scanDevice(row interface{ Scan(...any) error }) (Device, error) {
	var d Device
	err := row.Scan(&d.ID, &d.Name, &d.ScreenID, &d.LoungeToken,
		&d.AuthStateJSON, &d.Status, &d.LastSeenAt, &d.LastError)
	return d, err
}

// ListDevices returns all devices ordered by id.
func (s *Store) ListDevices(ctx context.Context) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+deviceColumns+" FROM devices ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDevice returns a device by id, or nil when absent.
func (s *Store) GetDevice(ctx context.Context, id int64) (*Device, error) {
	d, err := scanDevice(s.db.QueryRowContext(ctx, "SELECT "+deviceColumns+" FROM devices WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDeviceByScreenID returns a device by screen id, or nil when absent.
func (s *Store) GetDeviceByScreenID(ctx context.Context, screenID string) (*Device, error) {
	d, err := scanDevice(s.db.QueryRowContext(ctx, "SELECT "+deviceColumns+" FROM devices WHERE screen_id = ?", screenID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateDeviceStatus sets the status and last error for a device.
func (s *Store) UpdateDeviceStatus(ctx context.Context, id int64, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE devices SET status = ?, last_error = ?, last_seen_at = ? WHERE id = ?",
		status, errMsg, utcNowISO(), id)
	return err
}

// DeleteDevice removes a device row.
func (s *Store) DeleteDevice(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeviceCounts returns total and connected (connected or linked) device counts.
func (s *Store) DeviceCounts(ctx context.Context) (total, connected int, err error) {
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM devices").Scan(&total); err != nil {
		return 0, 0, err
	}
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM devices WHERE status IN ('connected', 'linked')").Scan(&connected)
	return total, connected, err
}
