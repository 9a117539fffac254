// SPDX-License-Identifier: MIT

// Package lounge speaks the YouTube Lounge remote-control protocol:
// pairing, session binding, the long-poll event channel and playback
// commands, plus the per-device workers that keep sessions alive.
package lounge

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// AuthState is the persisted pairing credential set for one screen.
type AuthState struct {
	Version       int    `json:"version"`
	ScreenID      string `json:"screenId"`
	LoungeIDToken string `json:"loungeIdToken"`
	RefreshToken  string `json:"refreshToken,omitempty"`
	Expiry        int64  `json:"expiry"`
}

// NormalizeAuthState parses persisted auth JSON, accepting both the
// current schema and the legacy snake_case keys older versions wrote.
func NormalizeAuthState(raw string) (AuthState, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return AuthState{}, fmt.Errorf("auth state decode: %w", err)
	}

	str := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := data[k].(string); ok && v != "" {
				return v
			}
		}
		return ""
	}
	num := func(key string) int64 {
		switch v := data[key].(type) {
		case float64:
			return int64(v)
		case string:
			n, _ := strconv.ParseInt(v, 10, 64)
			return n
		}
		return 0
	}

	if _, hasVersion := data["version"]; hasVersion {
		if _, hasScreen := data["screenId"]; hasScreen {
			return AuthState{
				Version:       int(num("version")),
				ScreenID:      str("screenId"),
				LoungeIDToken: str("loungeIdToken"),
				RefreshToken:  str("refreshToken"),
				Expiry:        num("expiry"),
			}, nil
		}
	}

	// Legacy persisted shape.
	return AuthState{
		Version:       0,
		ScreenID:      str("screenId", "screen_id"),
		LoungeIDToken: str("loungeIdToken", "lounge_id_token", "loungeToken"),
		RefreshToken:  str("refreshToken", "refresh_token"),
		Expiry:        num("expiry"),
	}, nil
}

// Marshal serializes the auth state for persistence.
func (a AuthState) Marshal() string {
	b, _ := json.Marshal(a)
	return string(b)
}

// Valid reports whether the state carries enough to open a session.
func (a AuthState) Valid() bool {
	return a.ScreenID != "" && a.LoungeIDToken != ""
}
