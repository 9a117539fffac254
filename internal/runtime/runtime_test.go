// SPDX-License-Identifier: MIT
package runtime

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeblack2k/sentinel-yt/internal/bus"
	"github.com/joeblack2k/sentinel-yt/internal/config"
	"github.com/joeblack2k/sentinel-yt/internal/judge"
	"github.com/joeblack2k/sentinel-yt/internal/lounge"
	"github.com/joeblack2k/sentinel-yt/internal/media"
	"github.com/joeblack2k/sentinel-yt/internal/mqtt"
	"github.com/joeblack2k/sentinel-yt/internal/sponsorblock"
	"github.com/joeblack2k/sentinel-yt/internal/store"
)

type fakeJudge struct {
	mu       sync.Mutex
	verdicts map[string]judge.Verdict
	errs     map[string]error
	fatal    int
}

func (f *fakeJudge) Evaluate(_ context.Context, video judge.VideoContext, _ string) (judge.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[video.VideoID]; ok {
		return judge.Verdict{}, err
	}
	if v, ok := f.verdicts[video.VideoID]; ok {
		return v, nil
	}
	return judge.Verdict{Verdict: "ALLOW", Reason: "ok", Confidence: 100, Source: "gemini"}, nil
}

func (f *fakeJudge) HandleFatalFailure(context.Context, error) {
	f.mu.Lock()
	f.fatal++
	f.mu.Unlock()
}

type playCall struct {
	deviceID int64
	videoID  string
}

type fakeLounge struct {
	mu        sync.Mutex
	playOK    bool
	playErr   string
	plays     []playCall
	seeks     []float64
	starts    int
	pauses    int
	seekFails bool
}

func (f *fakeLounge) StartForExistingDevices(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return nil
}

func (f *fakeLounge) PauseAll(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
}

func (f *fakeLounge) StopAll() {}

func (f *fakeLounge) NextVideo(context.Context, int64) (bool, string, string) {
	return true, "", "seek_end"
}

func (f *fakeLounge) SeekVideo(_ context.Context, _ int64, seconds float64) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seekFails {
		return false, "seek refused"
	}
	f.seeks = append(f.seeks, seconds)
	return true, ""
}

func (f *fakeLounge) PlayVideo(_ context.Context, deviceID int64, videoID string) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, playCall{deviceID: deviceID, videoID: videoID})
	if f.playOK {
		return true, ""
	}
	return false, f.playErr
}

func (f *fakeLounge) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.plays)
}

type fakeSponsor struct {
	mu         sync.Mutex
	result     sponsorblock.SkipResult
	prefetched []string
	seekCalled bool
}

func (f *fakeSponsor) Prefetch(_ context.Context, videoID string, _ []string, _ float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefetched = append(f.prefetched, videoID)
}

func (f *fakeSponsor) TrySkip(ctx context.Context, deviceID int64, _ string, _ *float64, _ []string, _ float64, seek sponsorblock.SeekFunc) sponsorblock.SkipResult {
	f.mu.Lock()
	result := f.result
	f.mu.Unlock()
	if result.Acted && result.Segment != nil {
		f.mu.Lock()
		f.seekCalled = true
		f.mu.Unlock()
		_ = seek(ctx, deviceID, result.Segment.End+0.08)
	}
	return result
}

type fakeMeta struct{}

func (fakeMeta) Resolve(_ context.Context, videoID string) media.Metadata {
	return media.Metadata{
		VideoID:      videoID,
		Title:        "Title " + videoID,
		AuthorName:   "Channel " + videoID,
		ThumbnailURL: "https://i.ytimg.com/vi/" + videoID + "/hqdefault.jpg",
	}
}

type fakeBridge struct {
	mu        sync.Mutex
	enabled   bool
	connected bool
	interval  int
	commands  []mqtt.Command
	snapshots []map[string]any
	discovery int
}

func (f *fakeBridge) ApplySettings(context.Context, map[string]string) {}

func (f *fakeBridge) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeBridge) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBridge) LastError() string { return "" }

func (f *fakeBridge) PublishIntervalSeconds() int {
	if f.interval <= 0 {
		return 30
	}
	return f.interval
}

func (f *fakeBridge) PublishDiscovery(context.Context, string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discovery++
}

func (f *fakeBridge) PublishSnapshot(_ context.Context, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, payload)
}

func (f *fakeBridge) DrainCommands() []mqtt.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.commands
	f.commands = nil
	return out
}

func (f *fakeBridge) snapshotCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snapshots)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testRig struct {
	sup     *Supervisor
	store   *store.Store
	judge   *fakeJudge
	lounge  *fakeLounge
	sponsor *fakeSponsor
	bridge  *fakeBridge
	bus     *bus.Bus
	clock   *testClock
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "sentinel.db"), "UTC")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	fj := &fakeJudge{verdicts: map[string]judge.Verdict{}, errs: map[string]error{}}
	fl := &fakeLounge{playOK: true}
	fs := &fakeSponsor{}
	fb := &fakeBridge{}
	b := bus.New()
	cfg := &config.Settings{BuildVersion: "test"}

	sup := NewSupervisor(cfg, st, fj, fl, fs, fakeMeta{}, fb, b)
	// Midday keeps the seeded 07:00-19:00 default window active.
	clock := &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	sup.now = clock.Now
	sup.shuffle = func([]string) {}
	sup.reinforceDelays = []time.Duration{time.Millisecond}
	return &testRig{sup: sup, store: st, judge: fj, lounge: fl, sponsor: fs, bridge: fb, bus: b, clock: clock}
}

func collectEvents(sub *bus.Subscriber, wait time.Duration) []bus.Event {
	deadline := time.After(wait)
	var out []bus.Event
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
}

func hasEvent(events []bus.Event, eventType string) bool {
	for _, ev := range events {
		if ev.Type == eventType {
			return true
		}
	}
	return false
}

func TestScheduleContextUsesRowsThenLegacy(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	sc := rig.sup.CurrentScheduleContext(ctx, nil)
	require.True(t, sc.Active)
	require.Equal(t, "Default", sc.ScheduleName)
	require.Equal(t, "blocklist", sc.Mode)
	require.Equal(t, 1, sc.SchedulesCount)

	rows, err := rig.store.ListSchedules(ctx)
	require.NoError(t, err)
	for _, row := range rows {
		_, err := rig.store.DeleteSchedule(ctx, row.ID)
		require.NoError(t, err)
	}

	sc = rig.sup.CurrentScheduleContext(ctx, nil)
	require.True(t, sc.Active)
	require.Equal(t, "Legacy", sc.ScheduleName)
	require.Equal(t, 0, sc.SchedulesCount)
}

func TestScheduleContextInactiveOutsideWindow(t *testing.T) {
	rig := newTestRig(t)
	rig.clock.mu.Lock()
	rig.clock.now = time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	rig.clock.mu.Unlock()

	sc := rig.sup.CurrentScheduleContext(context.Background(), nil)
	require.False(t, sc.Active)
	require.Equal(t, "blocklist", sc.Mode)
	require.False(t, rig.sup.MonitoringEnabledNow(context.Background(), nil))
}

func TestBlockedVideoTriggersSafePlay(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sub := rig.bus.Subscribe()
	defer sub.Close()

	rig.judge.verdicts["bad-video-1"] = judge.Verdict{Verdict: "BLOCK", Reason: "no", Confidence: 100, Source: "gemini"}
	rig.judge.verdicts["safe-video-1"] = judge.Verdict{Verdict: "ALLOW", Reason: "yes", Confidence: 100, Source: "gemini"}

	rig.sup.ProcessEvent(ctx, lounge.DeviceEvent{Event: "up_next", DeviceID: 7, VideoID: "safe-video-1"})
	rig.clock.Advance(10 * time.Second)
	rig.sup.ProcessEvent(ctx, lounge.DeviceEvent{Event: "now_playing", DeviceID: 7, VideoID: "bad-video-1"})

	require.GreaterOrEqual(t, rig.lounge.playCount(), 1)
	rig.lounge.mu.Lock()
	first := rig.lounge.plays[0]
	rig.lounge.mu.Unlock()
	require.Equal(t, int64(7), first.deviceID)
	require.Equal(t, "safe-video-1", first.videoID)

	rows, err := rig.store.RecentDecisions(ctx, 10)
	require.NoError(t, err)
	var blocked *store.Decision
	for i := range rows {
		if rows[i].VideoID == "bad-video-1" {
			blocked = &rows[i]
		}
	}
	require.NotNil(t, blocked)
	require.Equal(t, "BLOCK", blocked.Verdict)
	require.Equal(t, "play_safe", blocked.ActionTaken)

	events := collectEvents(sub, 200*time.Millisecond)
	require.True(t, hasEvent(events, "intervention_play_safe"))
	require.True(t, hasEvent(events, "now_playing"))
	require.True(t, hasEvent(events, "intervention_play_safe_reinforce"))
}

func TestBlockRetryGuardSuppressesRapidRetries(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	rig.judge.verdicts["bad-video-2"] = judge.Verdict{Verdict: "BLOCK", Reason: "no", Confidence: 100, Source: "gemini"}
	rig.sup.reinforceDelays = nil
	rig.lounge.playOK = false
	rig.lounge.playErr = "refused"
	rig.sup.rememberCandidate(3, "cand-ok")

	rig.sup.ProcessEvent(ctx, lounge.DeviceEvent{Event: "up_next", DeviceID: 3, VideoID: "bad-video-2"})
	require.Equal(t, 1, rig.lounge.playCount())

	// Within the 1.5s retry guard: no new replacement attempt.
	rig.sup.ProcessEvent(ctx, lounge.DeviceEvent{Event: "up_next", DeviceID: 3, VideoID: "bad-video-2"})
	require.Equal(t, 1, rig.lounge.playCount())

	rig.clock.Advance(2 * time.Second)
	rig.sup.ProcessEvent(ctx, lounge.DeviceEvent{Event: "up_next", DeviceID: 3, VideoID: "bad-video-2"})
	require.Equal(t, 2, rig.lounge.playCount())

	rows, err := rig.store.RecentDecisions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "none", rows[0].ActionTaken)
}

func TestNowPlayingDedupWithinFiveSeconds(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.sup.ProcessEvent(ctx, lounge.DeviceEvent{Event: "now_playing", DeviceID: 1, VideoID: "vid-a"})
	rig.clock.Advance(2 * time.Second)
	rig.sup.ProcessEvent(ctx, lounge.DeviceEvent{Event: "now_playing", DeviceID: 1, VideoID: "vid-a"})

	rows, err := rig.store.RecentDecisions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rig.clock.Advance(6 * time.Second)
	rig.sup.ProcessEvent(ctx, lounge.DeviceEvent{Event: "now_playing", DeviceID: 1, VideoID: "vid-a"})
	rows, err = rig.store.RecentDecisions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestRepeatedUpNextInfersPlayback(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sub := rig.bus.Subscribe()
	defer sub.Close()
	rig.judge.verdicts["bad-up-next"] = judge.Verdict{Verdict: "BLOCK", Reason: "no", Confidence: 100, Source: "gemini"}
	rig.sup.reinforceDelays = nil
	rig.lounge.playOK = false
	rig.lounge.playErr = "refused"

	rig.sup.ProcessEvent(ctx, lounge.DeviceEvent{Event: "up_next", DeviceID: 2, VideoID: "bad-up-next"})
	rig.clock.Advance(10 * time.Second)
	rig.sup.ProcessEvent(ctx, lounge.DeviceEvent{Event: "up_next", DeviceID: 2, VideoID: "bad-up-next"})

	rows, err := rig.store.RecentDecisions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "BLOCK", rows[0].Verdict)

	var inferred []bool
	for _, ev := range collectEvents(sub, 100*time.Millisecond) {
		if ev.Type == "up_next" {
			flag, _ := ev.Data["inferred_now_playing"].(bool)
			inferred = append(inferred, flag)
		}
	}
	require.Equal(t, []bool{false, true}, inferred)
}

func TestHistoryFallbackAvoidsRepeatChoice(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.NoError(t, rig.store.AddDecision(ctx, store.Decision{
		DeviceID: 4, VideoID: "hist-1", Verdict: "ALLOW", Source: "gemini",
	}))
	require.NoError(t, rig.store.AddDecision(ctx, store.Decision{
		DeviceID: 4, VideoID: "hist-2", Verdict: "ALLOW", Source: "gemini",
	}))

	rig.sup.mu.Lock()
	rig.sup.lastHistoryChoice[4] = "hist-2"
	rig.sup.mu.Unlock()

	// Newest-first rows with identity shuffle put hist-2 first; the
	// repeat-avoidance swap must pick hist-1 instead.
	ok, errMsg, videoID := rig.sup.playSafeFromHistory(ctx, 4, "blocked-vid", "blocklist")
	require.True(t, ok)
	require.Empty(t, errMsg)
	require.Equal(t, "hist-1", videoID)

	rig.sup.mu.Lock()
	require.Equal(t, "hist-1", rig.sup.lastHistoryChoice[4])
	rig.sup.mu.Unlock()
}

func TestHistoryFallbackEmptyHistory(t *testing.T) {
	rig := newTestRig(t)
	ok, errMsg, _ := rig.sup.playSafeFromHistory(context.Background(), 4, "blocked", "blocklist")
	require.False(t, ok)
	require.Equal(t, "No known-safe history video available for fallback.", errMsg)
}

func TestRemoteReleaseSuppressesIntervention(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	rig.judge.verdicts["bad-video-3"] = judge.Verdict{Verdict: "BLOCK", Reason: "no", Confidence: 100, Source: "gemini"}

	until := rig.clock.Now().Add(30 * time.Minute).Format(time.RFC3339)
	require.NoError(t, rig.store.SetSetting(ctx, "sponsorblock_release_until", until))

	rig.sup.ProcessEvent(ctx, lounge.DeviceEvent{Event: "now_playing", DeviceID: 5, VideoID: "bad-video-3"})
	require.Equal(t, 0, rig.lounge.playCount())

	rows, err := rig.store.RecentDecisions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "none", rows[0].ActionTaken)
}

func TestQueueFallbackSkipsBlockedCandidates(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	rig.judge.verdicts["cand-bad"] = judge.Verdict{Verdict: "BLOCK", Reason: "no", Confidence: 100, Source: "gemini"}

	rig.sup.rememberCandidate(9, "cand-bad")
	rig.sup.rememberCandidate(9, "cand-good")

	ok, errMsg, videoID := rig.sup.playSafeFromQueue(ctx, 9, "blocked-vid", "blocklist")
	require.True(t, ok)
	require.Empty(t, errMsg)
	require.Equal(t, "cand-good", videoID)
	require.Empty(t, rig.sup.candidateQueue(9, ""))
}

func TestCandidateQueueCapsAtThirty(t *testing.T) {
	rig := newTestRig(t)
	for i := 0; i < 40; i++ {
		rig.sup.rememberCandidate(1, "vid-"+string(rune('a'+i%26))+string(rune('0'+i/26)))
	}
	require.LessOrEqual(t, len(rig.sup.candidateQueue(1, "")), 30)

	rig.sup.rememberCandidate(2, "dup")
	rig.sup.rememberCandidate(2, "other")
	rig.sup.rememberCandidate(2, "dup")
	q := rig.sup.candidateQueue(2, "")
	require.Equal(t, []string{"other", "dup"}, q)
}

func TestSponsorblockSkipRecordsAction(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	require.NoError(t, rig.store.SetSetting(ctx, "sponsorblock_active", "true"))
	sub := rig.bus.Subscribe()
	defer sub.Close()

	pos := 12.0
	rig.sponsor.result = sponsorblock.SkipResult{
		Acted:   true,
		Segment: &sponsorblock.Segment{Start: 10, End: 40, Category: "sponsor"},
	}
	rig.sup.processSponsorblockEvent(ctx, lounge.DeviceEvent{
		Event: "now_playing", DeviceID: 6, VideoID: "sb-video", CurrentTime: &pos, PlayState: "1",
	})

	actions, err := rig.store.RecentSponsorActions(ctx, 5)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, "seek_end", actions[0].ActionTaken)
	require.Equal(t, "ok", actions[0].Status)
	require.Equal(t, "sponsor", actions[0].Category)

	events := collectEvents(sub, 100*time.Millisecond)
	require.True(t, hasEvent(events, "sponsorblock_skip"))
}

func TestSponsorblockUpNextPrefetches(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	require.NoError(t, rig.store.SetSetting(ctx, "sponsorblock_active", "true"))

	rig.sup.processSponsorblockEvent(ctx, lounge.DeviceEvent{Event: "up_next", DeviceID: 6, VideoID: "sb-next"})
	rig.sponsor.mu.Lock()
	defer rig.sponsor.mu.Unlock()
	require.Equal(t, []string{"sb-next"}, rig.sponsor.prefetched)
}

func TestSponsorblockPausedPlaybackIgnored(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	require.NoError(t, rig.store.SetSetting(ctx, "sponsorblock_active", "true"))

	pos := 12.0
	rig.sponsor.result = sponsorblock.SkipResult{
		Acted:   true,
		Segment: &sponsorblock.Segment{Start: 10, End: 40, Category: "sponsor"},
	}
	rig.sup.processSponsorblockEvent(ctx, lounge.DeviceEvent{
		Event: "now_playing", DeviceID: 6, VideoID: "sb-video", CurrentTime: &pos, PlayState: "2",
	})
	actions, err := rig.store.RecentSponsorActions(ctx, 5)
	require.NoError(t, err)
	require.Empty(t, actions)
}

func TestSetMonitoringActiveClearsRetryState(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.sup.rememberCandidate(1, "vid")
	rig.sup.mu.Lock()
	rig.sup.blockRetryAt["1:vid"] = rig.clock.Now()
	rig.sup.mu.Unlock()

	require.NoError(t, rig.sup.SetMonitoringActive(ctx, false))
	v, err := rig.store.GetSetting(ctx, "active")
	require.NoError(t, err)
	require.Equal(t, "false", v)

	rig.sup.mu.Lock()
	require.Empty(t, rig.sup.blockRetryAt)
	require.Empty(t, rig.sup.upNextCandidates)
	rig.sup.mu.Unlock()
}

func TestSyncWorkersTransitions(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	sub := rig.bus.Subscribe()
	defer sub.Close()

	rig.sup.SyncWorkers(ctx)
	rig.lounge.mu.Lock()
	require.Equal(t, 1, rig.lounge.starts)
	rig.lounge.mu.Unlock()

	// Same state again: no transition, no extra start.
	rig.sup.SyncWorkers(ctx)
	rig.lounge.mu.Lock()
	require.Equal(t, 1, rig.lounge.starts)
	rig.lounge.mu.Unlock()

	require.NoError(t, rig.store.SetSetting(ctx, "active", "false"))
	rig.sup.SyncWorkers(ctx)
	rig.lounge.mu.Lock()
	require.Equal(t, 1, rig.lounge.pauses)
	rig.lounge.mu.Unlock()

	events := collectEvents(sub, 100*time.Millisecond)
	require.True(t, hasEvent(events, "monitoring_state"))
}

func TestSetRemoteReleaseMinutesClamps(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	until, err := rig.sup.SetRemoteReleaseMinutes(ctx, 500)
	require.NoError(t, err)
	parsed, err := time.Parse(time.RFC3339, until)
	require.NoError(t, err)
	require.WithinDuration(t, rig.clock.Now().Add(240*time.Minute), parsed, time.Second)

	settings, err := rig.store.AllSettings(ctx)
	require.NoError(t, err)
	require.True(t, rig.sup.RemoteReleaseActive(settings))
	require.Equal(t, 240, rig.sup.ReleaseMinutesRemaining(settings))

	until, err = rig.sup.SetRemoteReleaseMinutes(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, until)
	settings, err = rig.store.AllSettings(ctx)
	require.NoError(t, err)
	require.False(t, rig.sup.RemoteReleaseActive(settings))
}

func TestParseBoolPayload(t *testing.T) {
	for _, raw := range []string{"1", "ON", "true", " yes "} {
		parsed := ParseBoolPayload(raw)
		require.NotNil(t, parsed, raw)
		require.True(t, *parsed, raw)
	}
	for _, raw := range []string{"0", "off", "False", "no"} {
		parsed := ParseBoolPayload(raw)
		require.NotNil(t, parsed, raw)
		require.False(t, *parsed, raw)
	}
	require.Nil(t, ParseBoolPayload("maybe"))
	require.Nil(t, ParseBoolPayload(""))
}

func TestMQTTCommandsApplyAndSnapshot(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	rig.bridge.enabled = true
	rig.bridge.commands = []mqtt.Command{
		{Name: "active", Payload: "off"},
		{Name: "remote_release_minutes", Payload: "15"},
		{Name: "sponsorblock_active", Payload: "garbage"},
	}

	rig.sup.ProcessMQTTCommands(ctx)

	v, err := rig.store.GetSetting(ctx, "active")
	require.NoError(t, err)
	require.Equal(t, "false", v)

	settings, err := rig.store.AllSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, 15, rig.sup.ReleaseMinutesRemaining(settings))

	require.Greater(t, rig.bridge.snapshotCount(), 0)
}

func TestMQTTSnapshotPayload(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	rig.bridge.enabled = true
	require.NoError(t, rig.store.AddDecision(ctx, store.Decision{
		DeviceID: 1, VideoID: "v1", Verdict: "BLOCK", Source: "gemini",
	}))
	require.NoError(t, rig.store.AddDecision(ctx, store.Decision{
		DeviceID: 1, VideoID: "v2", Verdict: "ALLOW", Source: "gemini",
	}))

	rig.sup.PublishMQTTSnapshot(ctx, true, nil)

	require.Equal(t, 1, rig.bridge.snapshotCount())
	rig.bridge.mu.Lock()
	payload := rig.bridge.snapshots[0]
	discovery := rig.bridge.discovery
	rig.bridge.mu.Unlock()
	require.Equal(t, 1, discovery)
	require.Equal(t, true, payload["active"])
	require.Equal(t, 1, payload["blocked_today"])
	require.Equal(t, 1, payload["allowed_today"])
	require.Equal(t, 2, payload["reviewed_7d"])
	require.Equal(t, "test", payload["build_version"])
}

func TestTickMQTTHonorsPublishInterval(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	rig.bridge.enabled = true
	rig.bridge.interval = 30

	rig.sup.TickMQTT(ctx)
	require.Equal(t, 1, rig.bridge.snapshotCount())

	rig.clock.Advance(10 * time.Second)
	rig.sup.TickMQTT(ctx)
	require.Equal(t, 1, rig.bridge.snapshotCount())

	rig.clock.Advance(25 * time.Second)
	rig.sup.TickMQTT(ctx)
	require.Equal(t, 2, rig.bridge.snapshotCount())
}

func TestStatusPayloadShape(t *testing.T) {
	rig := newTestRig(t)
	status, err := rig.sup.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, true, status["active"])
	require.Equal(t, true, status["monitoring_effective"])
	require.Equal(t, "blocklist", status["schedule_mode_now"])
	require.Equal(t, true, status["judge_ok"])
	require.Equal(t, false, status["mqtt_connected"])
	require.Equal(t, "test", status["build_version"])
	require.Equal(t, 0, status["devices_total"])
}

func TestJudgeFatalFallsBackPerMode(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	rig.judge.errs["flaky-vid"] = judge.ErrFatal
	rig.sup.reinforceDelays = nil

	rig.sup.ProcessEvent(ctx, lounge.DeviceEvent{Event: "now_playing", DeviceID: 8, VideoID: "flaky-vid"})

	rows, err := rig.store.RecentDecisions(ctx, 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "ALLOW", rows[0].Verdict)
	require.Equal(t, "fallback", rows[0].Source)
	rig.judge.mu.Lock()
	require.Equal(t, 1, rig.judge.fatal)
	rig.judge.mu.Unlock()
}
