// SPDX-License-Identifier: MIT
package lounge

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/joeblack2k/sentinel-yt/internal/log"
	"github.com/joeblack2k/sentinel-yt/internal/store"
)

var nonDigitsRe = regexp.MustCompile(`\D+`)

type workerState struct {
	worker *Worker
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns one worker per paired device and the pairing flow.
type Manager struct {
	store      *store.Store
	newSession SessionFactory
	callback   EventCallback
	log        zerolog.Logger

	mu      sync.Mutex
	workers map[int64]*workerState
}

func NewManager(st *store.Store, factory SessionFactory, cb EventCallback) *Manager {
	if factory == nil {
		factory = func(deviceName string) Session { return NewClient(deviceName) }
	}
	return &Manager{
		store:      st,
		newSession: factory,
		callback:   cb,
		log:        xlog.WithComponent("lounge"),
		workers:    make(map[int64]*workerState),
	}
}

// StartForExistingDevices spawns workers for every persisted device.
func (m *Manager) StartForExistingDevices(ctx context.Context) error {
	devices, err := m.store.ListDevices(ctx)
	if err != nil {
		return err
	}
	for _, dev := range devices {
		m.EnsureWorker(ctx, dev.ID)
	}
	return nil
}

// EnsureWorker starts a worker for the device unless one is running.
func (m *Manager) EnsureWorker(ctx context.Context, deviceID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workers[deviceID]; ok {
		return
	}
	worker := NewWorker(deviceID, m.store, m.newSession, m.callback)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	state := &workerState{worker: worker, cancel: cancel, done: make(chan struct{})}
	m.workers[deviceID] = state
	go func() {
		defer close(state.done)
		worker.Run(runCtx)
	}()
}

// StopAll cancels every worker and waits up to three seconds each.
func (m *Manager) StopAll() {
	m.mu.Lock()
	states := make([]*workerState, 0, len(m.workers))
	for _, st := range m.workers {
		states = append(states, st)
	}
	m.workers = make(map[int64]*workerState)
	m.mu.Unlock()

	for _, st := range states {
		st.cancel()
	}
	for _, st := range states {
		select {
		case <-st.done:
		case <-time.After(3 * time.Second):
			m.log.Warn().Msg("worker did not stop within grace period")
		}
	}
}

// PauseAll stops workers and marks every device paused.
func (m *Manager) PauseAll(ctx context.Context) {
	m.StopAll()
	devices, err := m.store.ListDevices(ctx)
	if err != nil {
		return
	}
	for _, dev := range devices {
		_ = m.store.UpdateDeviceStatus(ctx, dev.ID, "paused", "schedule_or_state_inactive")
	}
}

// WorkerCount reports the number of running workers.
func (m *Manager) WorkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

func (m *Manager) workerFor(deviceID int64) (*Worker, bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.workers[deviceID]
	if !ok {
		return nil, false, false
	}
	select {
	case <-st.done:
		return nil, true, true
	default:
	}
	return st.worker, true, false
}

const (
	noWorkerMsg   = "No active worker for this TV. Sentinel is reconnecting."
	restartingMsg = "TV worker is restarting. Sentinel will retry automatically."
)

// NextVideo skips the current video on a device.
func (m *Manager) NextVideo(ctx context.Context, deviceID int64) (bool, string, string) {
	worker, ok, finished := m.workerFor(deviceID)
	if !ok {
		return false, noWorkerMsg, "none"
	}
	if finished {
		return false, restartingMsg, "none"
	}
	return worker.NextVideo(ctx)
}

// SeekVideo moves a device to an absolute playback position.
func (m *Manager) SeekVideo(ctx context.Context, deviceID int64, seconds float64) (bool, string) {
	worker, ok, finished := m.workerFor(deviceID)
	if !ok {
		return false, noWorkerMsg
	}
	if finished {
		return false, restartingMsg
	}
	return worker.SeekVideo(ctx, seconds)
}

// PlayVideo starts a specific video on a device.
func (m *Manager) PlayVideo(ctx context.Context, deviceID int64, videoID string) (bool, string) {
	worker, ok, finished := m.workerFor(deviceID)
	if !ok {
		return false, noWorkerMsg
	}
	if finished {
		return false, restartingMsg
	}
	return worker.PlayVideo(ctx, videoID)
}

// PairResult describes a completed pairing.
type PairResult struct {
	DeviceID  int64  `json:"device_id"`
	ScreenID  string `json:"screen_id"`
	Name      string `json:"name"`
	DeviceRef string `json:"device_ref"`
}

// PairDevice exchanges a TV code for credentials and persists the
// device. Errors are always *PairingError.
func (m *Manager) PairDevice(ctx context.Context, pairingCode, deviceRef string) (*PairResult, error) {
	normalized := nonDigitsRe.ReplaceAllString(pairingCode, "")
	if len(normalized) < 6 {
		return nil, pairingErr("pair_code_invalid",
			"The pairing code looks invalid. Please enter the full code shown on the TV.")
	}

	session := m.newSession("Sentinel-Pair")
	if err := session.Pair(ctx, normalized); err != nil {
		return nil, classifyPairingError(err)
	}

	auth := session.AuthSnapshot()
	if auth.ScreenID == "" {
		return nil, pairingErr("pair_missing_screen_id",
			"Pairing succeeded but no screen ID was returned by the TV.")
	}

	deviceName := session.ScreenName()
	if deviceName == "" {
		short := auth.ScreenID
		if len(short) > 6 {
			short = short[:6]
		}
		deviceName = "YouTube Screen " + short
	}
	deviceID, err := m.store.UpsertDevice(ctx, store.Device{
		Name:          deviceName,
		ScreenID:      auth.ScreenID,
		LoungeToken:   auth.LoungeIDToken,
		AuthStateJSON: auth.Marshal(),
		Status:        "paired",
	})
	if err != nil {
		return nil, pairingErr("pair_failed",
			"Pairing could not be completed. Request a fresh TV code, keep YouTube open on the TV, and retry.")
	}
	m.EnsureWorker(ctx, deviceID)
	return &PairResult{DeviceID: deviceID, ScreenID: auth.ScreenID, Name: deviceName, DeviceRef: deviceRef}, nil
}

func classifyPairingError(err error) *PairingError {
	var pe *PairingError
	if errors.As(err, &pe) {
		return pe
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return pairingErr("pair_timeout",
			"Pairing timed out. Request a new code on the TV and try again.")
	case strings.Contains(msg, "json") || strings.Contains(msg, "pairing failed"):
		return pairingErr("pair_rejected",
			"The TV rejected the pairing code. Double-check the code and try again.")
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") || strings.Contains(msg, "host"):
		return pairingErr("pair_network_error",
			"The TV could not be reached during pairing. Check network connectivity and try again.")
	}
	return pairingErr("pair_failed",
		"Pairing failed due to a network or TV API error. Please try again.")
}
