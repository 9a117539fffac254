// SPDX-License-Identifier: MIT
package lounge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/joeblack2k/sentinel-yt/internal/log"
	"github.com/joeblack2k/sentinel-yt/internal/store"
)

// Session is the per-connection lounge API surface the worker drives.
// *Client implements it; tests substitute fakes.
type Session interface {
	Pair(ctx context.Context, pairingCode string) error
	ScreenName() string
	LoadAuthState(AuthState)
	AuthSnapshot() AuthState
	RefreshAuth(ctx context.Context) (bool, error)
	Connect(ctx context.Context) (bool, error)
	Subscribe(ctx context.Context, handler EventHandler) error
	SeekTo(ctx context.Context, seconds float64) (bool, error)
	Next(ctx context.Context) (bool, error)
	PlayVideo(ctx context.Context, videoID string) (bool, error)
	Disconnect(ctx context.Context)
	Connected() bool
}

// SessionFactory builds a session for a device connection attempt.
type SessionFactory func(deviceName string) Session

// DeviceEvent is what workers report upward to the runtime processor.
type DeviceEvent struct {
	Event       string // "device_status", "now_playing", "up_next"
	DeviceID    int64
	VideoID     string
	CurrentTime *float64
	Duration    *float64
	PlayState   string
	Status      string
	Error       string
}

// EventCallback consumes worker events. It is invoked synchronously on
// the worker goroutine, so a device's events arrive one at a time in
// order; a slow callback delays only that device.
type EventCallback func(ev DeviceEvent)

// Worker keeps one device session alive and relays its events.
type Worker struct {
	deviceID   int64
	store      *store.Store
	newSession SessionFactory
	callback   EventCallback
	log        zerolog.Logger

	// Test seams.
	backoffBase time.Duration
	backoffMax  time.Duration

	mu          sync.Mutex
	session     Session
	lastVideoID string
}

func NewWorker(deviceID int64, st *store.Store, factory SessionFactory, cb EventCallback) *Worker {
	return &Worker{
		deviceID:    deviceID,
		store:       st,
		newSession:  factory,
		callback:    cb,
		log:         xlog.Derive(func(c *zerolog.Context) { *c = c.Str("component", "lounge").Int64("device_id", deviceID) }),
		backoffBase: 2 * time.Second,
		backoffMax:  30 * time.Second,
	}
}

func (w *Worker) currentSession() Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session
}

func (w *Worker) setSession(s Session) {
	w.mu.Lock()
	w.session = s
	w.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run is the connection state machine. It returns when ctx is cancelled
// or the device row disappears.
func (w *Worker) Run(ctx context.Context) {
	backoff := w.backoffBase
	for ctx.Err() == nil {
		device, err := w.store.GetDevice(ctx, w.deviceID)
		if err != nil || device == nil {
			return
		}
		if strings.TrimSpace(device.AuthStateJSON) == "" {
			_ = w.store.UpdateDeviceStatus(ctx, w.deviceID, "offline",
				"Missing pairing credentials. Please pair this TV again.")
			sleepCtx(ctx, 5*time.Second)
			continue
		}

		connected, err := w.runSession(ctx, device)
		w.setSession(nil)
		if ctx.Err() != nil {
			return
		}
		// A session that reached connected state resets the backoff: the
		// credentials and endpoint are fine, so a later drop retries at
		// the base delay instead of the previously doubled one.
		if connected {
			backoff = w.backoffBase
		}
		if err == nil {
			// Subscription ended without error; reconnect promptly.
			_ = w.store.UpdateDeviceStatus(ctx, w.deviceID, "offline", HumanizeError("subscription_ended"))
			continue
		}

		errMsg := HumanizeError(err.Error())
		_ = w.store.UpdateDeviceStatus(ctx, w.deviceID, "offline", errMsg)
		w.callback(DeviceEvent{Event: "device_status", DeviceID: w.deviceID, Status: "offline", Error: errMsg})
		sleepCtx(ctx, backoff)
		backoff *= 2
		if backoff > w.backoffMax {
			backoff = w.backoffMax
		}
	}
}

// runSession drives one connection attempt. The bool reports whether
// the session reached connected state before ending.
func (w *Worker) runSession(ctx context.Context, device *store.Device) (bool, error) {
	auth, err := NormalizeAuthState(device.AuthStateJSON)
	if err != nil {
		return false, err
	}
	session := w.newSession(fmt.Sprintf("Sentinel-%d", w.deviceID))
	session.LoadAuthState(auth)
	w.setSession(session)
	defer session.Disconnect(context.WithoutCancel(ctx))

	_ = w.store.UpdateDeviceStatus(ctx, w.deviceID, "connecting", "")

	ok, err := session.RefreshAuth(ctx)
	if err != nil || !ok {
		return false, errors.New("refresh_auth_failed")
	}
	refreshed := session.AuthSnapshot()
	if _, err := w.store.UpsertDevice(ctx, store.Device{
		Name:          device.Name,
		ScreenID:      device.ScreenID,
		LoungeToken:   refreshed.LoungeIDToken,
		AuthStateJSON: refreshed.Marshal(),
		Status:        "linked",
	}); err != nil {
		return false, err
	}

	ok, err = session.Connect(ctx)
	if err != nil || !ok {
		return false, errors.New("connect_failed")
	}
	_ = w.store.UpdateDeviceStatus(ctx, w.deviceID, "connected", "")
	w.callback(DeviceEvent{Event: "device_status", DeviceID: w.deviceID, Status: "connected"})

	return true, session.Subscribe(ctx, w)
}

// OnNowPlaying implements EventHandler. Repeated reports for the same
// video without a position carry no new information and are dropped.
func (w *Worker) OnNowPlaying(ev NowPlaying) {
	if ev.VideoID == "" {
		return
	}
	w.mu.Lock()
	if ev.VideoID == w.lastVideoID && ev.CurrentTime == nil {
		w.mu.Unlock()
		return
	}
	w.lastVideoID = ev.VideoID
	w.mu.Unlock()
	w.callback(DeviceEvent{
		Event:       "now_playing",
		DeviceID:    w.deviceID,
		VideoID:     ev.VideoID,
		CurrentTime: ev.CurrentTime,
		Duration:    ev.Duration,
		PlayState:   ev.State,
	})
}

func (w *Worker) OnUpNext(ev UpNext) {
	if ev.VideoID == "" {
		return
	}
	w.callback(DeviceEvent{Event: "up_next", DeviceID: w.deviceID, VideoID: ev.VideoID})
}

func (w *Worker) OnDisconnected(ev Disconnected) {
	reason := ev.Reason
	if reason == "" {
		reason = "disconnected"
	}
	errMsg := HumanizeError(reason)
	ctx := context.Background()
	_ = w.store.UpdateDeviceStatus(ctx, w.deviceID, "offline", errMsg)
	w.callback(DeviceEvent{Event: "device_status", DeviceID: w.deviceID, Status: "offline", Error: errMsg})
}

const noSessionMsg = "No active TV session in the worker. Reconnect in progress."

// NextVideo skips the current video, preferring a seek to the end since
// some TV clients drop the session on a plain next command.
func (w *Worker) NextVideo(ctx context.Context) (bool, string, string) {
	session := w.currentSession()
	if session == nil {
		return false, noSessionMsg, "none"
	}
	seekErr := "Could not fast-forward the current video."
	ok, err := session.SeekTo(ctx, 99999)
	if err != nil {
		seekErr = HumanizeError(err.Error())
	} else if ok {
		return true, "", "seek_end"
	}

	nextErr := "The TV did not accept the skip command."
	ok, err = session.Next(ctx)
	if err != nil {
		nextErr = HumanizeError(err.Error())
	} else if ok {
		return true, "", "next"
	}
	return false, strings.TrimSpace(seekErr + " " + nextErr), "none"
}

// SeekVideo moves playback to an absolute position.
func (w *Worker) SeekVideo(ctx context.Context, seconds float64) (bool, string) {
	session := w.currentSession()
	if session == nil {
		return false, noSessionMsg
	}
	ok, err := session.SeekTo(ctx, seconds)
	if err != nil {
		return false, HumanizeError(err.Error())
	}
	if !ok {
		return false, "The TV did not accept the seek command."
	}
	return true, ""
}

// PlayVideo replaces the current playback with a specific video.
func (w *Worker) PlayVideo(ctx context.Context, videoID string) (bool, string) {
	session := w.currentSession()
	if session == nil {
		return false, noSessionMsg
	}
	ok, err := session.PlayVideo(ctx, videoID)
	if err != nil {
		return false, HumanizeError(err.Error())
	}
	if !ok {
		return false, "The TV did not accept play command for the selected safe video."
	}
	return true, ""
}
