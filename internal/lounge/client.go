// SPDX-License-Identifier: MIT
package lounge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultAPIBase = "https://www.youtube.com/api/lounge"
	bindVersion    = "8"
)

// ErrNotConnected is returned for commands issued before a successful
// Connect, or after the session was torn down.
var ErrNotConnected = errors.New("not connected")

// Client is one lounge session for one screen. It is not safe for
// concurrent use except for the command methods, which are serialized.
type Client struct {
	apiBase    string
	deviceName string
	http       *http.Client

	auth AuthState

	mu         sync.Mutex
	sid        string
	gsessionID string
	rid        int
	ofs        int
	connected  bool
	screenName string
}

func NewClient(deviceName string) *Client {
	return &Client{
		apiBase:    defaultAPIBase,
		deviceName: deviceName,
		http:       &http.Client{Timeout: 20 * time.Second},
	}
}

// NewClientWithBase is used by tests to point at a local server.
func NewClientWithBase(base, deviceName string) *Client {
	c := NewClient(deviceName)
	c.apiBase = strings.TrimRight(base, "/")
	return c
}

// LoadAuthState installs persisted credentials before Connect.
func (c *Client) LoadAuthState(a AuthState) { c.auth = a }

// AuthSnapshot returns the current credentials for persistence.
func (c *Client) AuthSnapshot() AuthState { return c.auth }

// ScreenName is the display name learned during pairing.
func (c *Client) ScreenName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screenName
}

// Connected reports whether a bind session is established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Pair exchanges a TV pairing code for screen credentials.
func (c *Client) Pair(ctx context.Context, pairingCode string) error {
	form := url.Values{"pairing_code": {pairingCode}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/pairing/get_screen", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pairing failed: status %d", resp.StatusCode)
	}
	var payload struct {
		Screen struct {
			ScreenID    string `json:"screenId"`
			LoungeToken string `json:"loungeToken"`
			Name        string `json:"name"`
			Expiration  int64  `json:"expiration"`
		} `json:"screen"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("pairing response json decode: %w", err)
	}
	if payload.Screen.ScreenID == "" || payload.Screen.LoungeToken == "" {
		return fmt.Errorf("pairing failed: empty screen credentials")
	}
	c.auth = AuthState{
		Version:       1,
		ScreenID:      payload.Screen.ScreenID,
		LoungeIDToken: payload.Screen.LoungeToken,
		Expiry:        payload.Screen.Expiration,
	}
	c.mu.Lock()
	c.screenName = payload.Screen.Name
	c.mu.Unlock()
	return nil
}

// RefreshAuth exchanges the screen id for a fresh lounge token.
func (c *Client) RefreshAuth(ctx context.Context) (bool, error) {
	if c.auth.ScreenID == "" {
		return false, nil
	}
	form := url.Values{"screen_ids": {c.auth.ScreenID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/pairing/get_lounge_token_batch", strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	var payload struct {
		Screens []struct {
			ScreenID    string `json:"screenId"`
			LoungeToken string `json:"loungeToken"`
			Expiration  int64  `json:"expiration"`
		} `json:"screens"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, nil
	}
	if len(payload.Screens) == 0 || payload.Screens[0].LoungeToken == "" {
		return false, nil
	}
	c.auth.LoungeIDToken = payload.Screens[0].LoungeToken
	c.auth.Expiry = payload.Screens[0].Expiration
	c.auth.Version = 1
	return true, nil
}

func (c *Client) bindParams() url.Values {
	params := url.Values{}
	params.Set("device", "REMOTE_CONTROL")
	params.Set("name", c.deviceName)
	params.Set("app", "youtube-desktop")
	params.Set("loungeIdToken", c.auth.LoungeIDToken)
	params.Set("id", uuid.NewString())
	params.Set("VER", bindVersion)
	params.Set("CVER", "1")
	params.Set("auth_failure_option", "send_error")
	return params
}

// Connect opens the bind session and records the SID / gsession pair
// every later request needs.
func (c *Client) Connect(ctx context.Context) (bool, error) {
	if !c.auth.Valid() {
		return false, nil
	}
	c.mu.Lock()
	c.rid++
	params := c.bindParams()
	params.Set("RID", strconv.Itoa(c.rid))
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/bc/bind?"+params.Encode(), strings.NewReader("count=0"))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("bind status %d", resp.StatusCode)
	}

	events, err := readChunk(bufio.NewReader(resp.Body))
	if err != nil {
		return false, fmt.Errorf("bind stream: %w", err)
	}
	var sid, gsession string
	for _, ev := range events {
		switch ev.name {
		case "c":
			_ = json.Unmarshal(ev.payload, &sid)
		case "S":
			_ = json.Unmarshal(ev.payload, &gsession)
		}
	}
	if sid == "" || gsession == "" {
		return false, nil
	}
	c.mu.Lock()
	c.sid = sid
	c.gsessionID = gsession
	c.ofs = 0
	c.connected = true
	c.mu.Unlock()
	return true, nil
}

// Subscribe long-polls the event channel until ctx is done or the
// stream ends. Decoded events go to the handler.
func (c *Client) Subscribe(ctx context.Context, handler EventHandler) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	params := c.bindParams()
	params.Set("RID", "rpc")
	params.Set("SID", c.sid)
	params.Set("gsessionid", c.gsessionID)
	params.Set("CI", "0")
	params.Set("TYPE", "xmlhttp")
	c.mu.Unlock()

	// No client timeout here: the channel stays open between events.
	subscriber := &http.Client{}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.apiBase+"/bc/bind?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := subscriber.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("subscribe status %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		events, err := readChunk(reader)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, ev := range events {
			dispatch(ev, handler)
		}
	}
}

// command posts one remote-control command on the bind channel.
func (c *Client) command(ctx context.Context, name string, args map[string]string) (bool, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return false, ErrNotConnected
	}
	c.rid++
	c.ofs++
	params := c.bindParams()
	params.Set("RID", strconv.Itoa(c.rid))
	params.Set("SID", c.sid)
	params.Set("gsessionid", c.gsessionID)
	ofs := c.ofs
	c.mu.Unlock()

	form := url.Values{}
	form.Set("count", "1")
	form.Set("ofs", strconv.Itoa(ofs))
	form.Set("req0__sc", name)
	for k, v := range args {
		form.Set("req0_"+k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/bc/bind?"+params.Encode(), strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusGone {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		return false, nil
	}
	return resp.StatusCode == http.StatusOK, nil
}

// SeekTo jumps playback to an absolute position in seconds.
func (c *Client) SeekTo(ctx context.Context, seconds float64) (bool, error) {
	return c.command(ctx, "seekTo", map[string]string{
		"newTime": strconv.FormatFloat(seconds, 'f', -1, 64),
	})
}

// Next advances to the next queued video.
func (c *Client) Next(ctx context.Context) (bool, error) {
	return c.command(ctx, "next", nil)
}

// PlayVideo replaces the current playback with the given video.
func (c *Client) PlayVideo(ctx context.Context, videoID string) (bool, error) {
	return c.command(ctx, "setPlaylist", map[string]string{
		"videoId":     videoID,
		"currentTime": "0",
	})
}

// Disconnect tears the session down on the TV side.
func (c *Client) Disconnect(ctx context.Context) {
	_, _ = c.command(ctx, "disconnect", nil)
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}
