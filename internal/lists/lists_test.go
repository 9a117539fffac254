// SPDX-License-Identifier: MIT
package lists

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettings map[string]string

func (f fakeSettings) GetSetting(_ context.Context, key string) (string, error) {
	return f[key], nil
}

func (f fakeSettings) SetSetting(_ context.Context, key, value string) error {
	f[key] = value
	return nil
}

func newTestService(t *testing.T, kind Kind) *Service {
	t.Helper()
	dir := t.TempDir()
	return NewService(kind, dir, dir+"/sentinel.db")
}

func TestParseLineForms(t *testing.T) {
	cases := []struct {
		line  string
		scope string
		value string
	}{
		{"video:dQw4w9WgXcQ | Never Gonna | https://www.youtube.com/watch?v=dQw4w9WgXcQ", "video", "dQw4w9WgXcQ"},
		{"channel:UCabcdefghijklmnopqrstuv | Some Channel", "channel", "UCabcdefghijklmnopqrstuv"},
		{"channel:@handle.name", "channel", "@handle.name"},
		{"dQw4w9WgXcQ", "video", "dQw4w9WgXcQ"},
		{"@somehandle", "channel", "@somehandle"},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "video", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ", "video", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/channel/UCabcdefghijklmnopqrstuv", "channel", "UCabcdefghijklmnopqrstuv"},
		{"https://www.youtube.com/@handle", "channel", "@handle"},
	}
	for _, tc := range cases {
		e := ParseLine(tc.line)
		require.NotNil(t, e, tc.line)
		assert.Equal(t, tc.scope, e.Scope, tc.line)
		assert.Equal(t, tc.value, e.Value, tc.line)
	}

	for _, bad := range []string{
		"video:short",
		"channel:UCtooshort",
		"https://example.com/watch?v=dQw4w9WgXcQ",
		"not a youtube thing",
		"",
	} {
		assert.Nil(t, ParseLine(bad), bad)
	}
}

func TestEnsureLocalFileWritesHeader(t *testing.T) {
	s := newTestService(t, KindBlacklist)
	content, err := s.LocalContent()
	require.NoError(t, err)
	assert.Contains(t, content, "# Sentinel Blacklist File v1")
	assert.Contains(t, content, "video:<VIDEO_ID>")
}

func TestAppendEntryDedupe(t *testing.T) {
	s := newTestService(t, KindBlacklist)
	_, err := s.Reload(context.Background(), fakeSettings{})
	require.NoError(t, err)

	require.NoError(t, s.AppendEntry("video", "dQw4w9WgXcQ", "Rick", "", "manual"))
	require.NoError(t, s.AppendEntry("video", "dQw4w9WgXcQ", "Rick again", "", "manual"))

	content, err := s.LocalContent()
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(content, "video:dQw4w9WgXcQ"))
	assert.Contains(t, content, "# [manual] Rick")

	m := s.MatchIDs("dQw4w9WgXcQ", "")
	require.NotNil(t, m)
	assert.Equal(t, "video", m.Scope)
	assert.Equal(t, "blacklist", m.RuleType)
}

func TestRemoveEntryDropsComment(t *testing.T) {
	s := newTestService(t, KindWhitelist)
	require.NoError(t, s.AppendEntry("channel", "@goodkids", "Good Kids", "", "manual"))
	require.NoError(t, s.RemoveEntry("channel", "@goodkids"))

	content, err := s.LocalContent()
	require.NoError(t, err)
	assert.NotContains(t, content, "channel:@goodkids")
	assert.NotContains(t, content, "# [manual] Good Kids")
	// Header survives removal.
	assert.Contains(t, content, "# Sentinel Whitelist File v1")
}

func TestReloadMergesRemoteSources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# remote list\nchannel:UCabcdefghijklmnopqrstuv | Remote Channel\nbadline\n"))
	}))
	defer srv.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	s := newTestService(t, KindBlacklist)
	require.NoError(t, s.AppendEntry("video", "dQw4w9WgXcQ", "Local", "", "manual"))

	settings := fakeSettings{"blacklist_source_urls": srv.URL + "\n" + down.URL + "\n"}
	sum, err := s.Reload(context.Background(), settings)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.VideoCount)
	assert.Equal(t, 1, sum.ChannelCount)
	assert.Len(t, sum.Sources, 2)

	require.NotNil(t, s.MatchIDs("", "UCabcdefghijklmnopqrstuv"))
	require.NotNil(t, s.MatchIDs("dQw4w9WgXcQ", ""))
	assert.Nil(t, s.MatchIDs("unknownvid1", "@nobody"))
}

func TestMatchPrefersVideo(t *testing.T) {
	s := newTestService(t, KindBlacklist)
	require.NoError(t, s.AppendEntry("video", "dQw4w9WgXcQ", "", "", "manual"))
	require.NoError(t, s.AppendEntry("channel", "UCabcdefghijklmnopqrstuv", "", "", "manual"))

	m := s.MatchIDs("dQw4w9WgXcQ", "UCabcdefghijklmnopqrstuv")
	require.NotNil(t, m)
	assert.Equal(t, "video", m.Scope)
}

func TestRecentEntriesNewestFirst(t *testing.T) {
	s := newTestService(t, KindBlacklist)
	require.NoError(t, s.AppendEntry("video", "aaaaaaaaaaa", "first", "", "manual"))
	require.NoError(t, s.AppendEntry("video", "bbbbbbbbbbb", "second", "", "manual"))

	entries := s.RecentEntries(5)
	require.Len(t, entries, 2)
	assert.Equal(t, "bbbbbbbbbbb", entries[0].Value)
	assert.Equal(t, "aaaaaaaaaaa", entries[1].Value)
}

func TestFallbackPathWhenDataDirReadOnly(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	blocked := dir + "/ro"
	require.NoError(t, os.MkdirAll(blocked, 0o555))
	fallbackDir := t.TempDir()

	s := NewService(KindBlacklist, blocked, fallbackDir+"/sentinel.db")
	_, err := s.LocalContent()
	require.NoError(t, err)
	assert.Contains(t, s.LocalPath(), fallbackDir)
}
