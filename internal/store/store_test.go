// SPDX-License-Identifier: MIT
package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "sentinel.db"), "Europe/Amsterdam")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDefaultsSeeded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	settings, err := s.AllSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "true", settings["active"])
	assert.Equal(t, "07:00", settings["schedule_start"])
	assert.Equal(t, "19:00", settings["schedule_end"])
	assert.Equal(t, "Europe/Amsterdam", settings["timezone"])
	assert.Equal(t, "false", settings["sponsorblock_active"])
	assert.Equal(t, "sentinel", settings["mqtt_base_topic"])
	assert.Equal(t, "blocklist", settings["schedule_mode"])

	// Seeding must not overwrite existing values on restart.
	require.NoError(t, s.SetSetting(ctx, "active", "false"))
	require.NoError(t, s.ensureDefaults("UTC"))
	v, err := s.GetSetting(ctx, "active")
	require.NoError(t, err)
	assert.Equal(t, "false", v)
}

func TestDefaultScheduleRow(t *testing.T) {
	s := newTestStore(t)
	rows, err := s.ListSchedules(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Default", rows[0].Name)
	assert.Equal(t, "07:00", rows[0].Start)
	assert.Equal(t, "blocklist", rows[0].Mode)
	assert.True(t, rows[0].Enabled)
}

func TestScheduleCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddSchedule(ctx, Schedule{
		Name: "Evening", Enabled: true, Start: "19:00", End: "21:00",
		Timezone: "UTC", Mode: "whitelist",
	})
	require.NoError(t, err)

	ok, err := s.UpdateSchedule(ctx, Schedule{
		ID: id, Name: "Evening", Enabled: false, Start: "19:00", End: "20:30",
		Timezone: "UTC", Mode: "whitelist",
	})
	require.NoError(t, err)
	assert.True(t, ok)

	rows, err := s.ListSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "20:30", rows[1].End)
	assert.False(t, rows[1].Enabled)

	ok, err = s.DeleteSchedule(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.DeleteSchedule(ctx, 9999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindRuleMatchPrecedence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddRule(ctx, Rule{RuleType: "whitelist", Scope: "channel", Value: "UCabcdefghijklmnopqrstuv"}))
	require.NoError(t, s.AddRule(ctx, Rule{RuleType: "blacklist", Scope: "video", Value: "dQw4w9WgXcQ"}))

	// Video rules win over channel rules.
	m, err := s.FindRuleMatch(ctx, "dQw4w9WgXcQ", "UCabcdefghijklmnopqrstuv", "")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "blacklist", m.RuleType)
	assert.Equal(t, "video", m.Scope)

	// Type filter narrows the lookup.
	m, err = s.FindRuleMatch(ctx, "dQw4w9WgXcQ", "UCabcdefghijklmnopqrstuv", "whitelist")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "channel", m.Scope)

	// Newest rule wins for the same value.
	require.NoError(t, s.AddRule(ctx, Rule{RuleType: "whitelist", Scope: "video", Value: "dQw4w9WgXcQ"}))
	m, err = s.FindRuleMatch(ctx, "dQw4w9WgXcQ", "", "")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "whitelist", m.RuleType)

	m, err = s.FindRuleMatch(ctx, "unknownvid1", "@unknown", "")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestListRulesFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddRule(ctx, Rule{RuleType: "blacklist", Scope: "video", Value: "aaaaaaaaaaa"}))
	require.NoError(t, s.AddRule(ctx, Rule{RuleType: "whitelist", Scope: "video", Value: "bbbbbbbbbbb"}))

	rules, err := s.ListRules(ctx, "blacklist", 0)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "aaaaaaaaaaa", rules[0].Value)
	assert.Equal(t, "manual", rules[0].SourceList)

	all, err := s.ListRules(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCacheExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v := CachedVerdict{Verdict: "ALLOW", Reason: "fine", Confidence: 97, Source: "gemini"}
	require.NoError(t, s.CacheSet(ctx, "blocklist:dQw4w9WgXcQ", v, time.Now().Add(time.Hour)))

	got, err := s.CacheGet(ctx, "blocklist:dQw4w9WgXcQ")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ALLOW", got.Verdict)
	assert.Equal(t, 97, got.Confidence)

	// Mode-scoped keys are independent.
	got, err = s.CacheGet(ctx, "whitelist:dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Expired entries read as absent.
	require.NoError(t, s.CacheSet(ctx, "blocklist:expired0000", v, time.Now().Add(-time.Minute)))
	got, err = s.CacheGet(ctx, "blocklist:expired0000")
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err := s.PurgeAnalysisCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDecisionsPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		require.NoError(t, s.AddDecision(ctx, Decision{
			DeviceID: 1, VideoID: "vid", Verdict: "ALLOW", Source: "gemini",
		}))
	}
	page, err := s.PagedDecisions(ctx, 2, 3, 500)
	require.NoError(t, err)
	assert.Equal(t, 7, page.TotalCount)
	assert.Equal(t, 3, page.PageCount)
	assert.Len(t, page.Rows, 3)
	assert.True(t, page.HasPrev)
	assert.True(t, page.HasNext)

	recent, err := s.RecentDecisions(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	n, err := s.PurgeHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestDeviceLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.UpsertDevice(ctx, Device{
		Name: "Living Room", ScreenID: "screen-1", LoungeToken: "tok",
		AuthStateJSON: `{"screenId":"screen-1"}`, Status: "paired",
	})
	require.NoError(t, err)

	// Upsert on the same screen id keeps the row id.
	id2, err := s.UpsertDevice(ctx, Device{
		Name: "Living Room TV", ScreenID: "screen-1", LoungeToken: "tok2",
		AuthStateJSON: `{"screenId":"screen-1"}`, Status: "linked",
	})
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	d, err := s.GetDevice(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "Living Room TV", d.Name)
	assert.Equal(t, "linked", d.Status)

	require.NoError(t, s.UpdateDeviceStatus(ctx, id, "offline", "boom"))
	d, err = s.GetDevice(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "offline", d.Status)
	assert.Equal(t, "boom", d.LastError)

	total, connected, err := s.DeviceCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 0, connected)

	missing, err := s.GetDevice(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDashboardStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddDecision(ctx, Decision{VideoID: "aaaaaaaaaaa", ChannelID: "UC1", Title: "Bad", Verdict: "BLOCK", Source: "policy"}))
	require.NoError(t, s.AddDecision(ctx, Decision{VideoID: "aaaaaaaaaaa", ChannelID: "UC1", Title: "Bad", Verdict: "BLOCK", Source: "policy"}))
	require.NoError(t, s.AddDecision(ctx, Decision{VideoID: "bbbbbbbbbbb", ChannelID: "UC2", Title: "Good", Verdict: "ALLOW", Source: "gemini"}))
	require.NoError(t, s.AddSponsorAction(ctx, SponsorAction{DeviceID: 1, VideoID: "bbbbbbbbbbb", Status: "ok", ActionTaken: "seek_end"}))

	stats, err := s.HomeDashboardStats(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Totals.TotalCount)
	assert.Equal(t, 2, stats.Totals.BlockCount)
	assert.Equal(t, 1, stats.Totals.AllowCount)
	assert.Equal(t, 2, stats.Totals.UniqueVideos)
	assert.Equal(t, 2, stats.Totals.UniqueChannels)
	assert.InDelta(t, 66.7, stats.Totals.BlockRatePercent, 0.05)
	assert.Equal(t, 1, stats.Totals.SponsorBlockTotal)
	assert.Equal(t, 1, stats.Totals.SponsorBlockOK)
	require.Len(t, stats.Trend, 7)
	today := stats.Trend[6]
	assert.Equal(t, 3, today.Total)
	require.NotEmpty(t, stats.TopBlocked)
	assert.Equal(t, "aaaaaaaaaaa", stats.TopBlocked[0].VideoID)
	assert.Equal(t, 2, stats.TopBlocked[0].BlockCount)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Schedules)
	assert.Positive(t, st.TotalBytes)
}
