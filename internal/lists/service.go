// SPDX-License-Identifier: MIT

// Package lists maintains the file-backed allow/block lists, merged with
// optional remote sources into an in-memory match snapshot.
package lists

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/joeblack2k/sentinel-yt/internal/log"
)

// Kind selects which list a service manages.
type Kind string

const (
	KindBlacklist Kind = "blacklist"
	KindWhitelist Kind = "whitelist"
)

// Match is the result of a snapshot lookup.
type Match struct {
	RuleType   string `json:"rule_type"`
	Scope      string `json:"scope"`
	Value      string `json:"value"`
	SourceList string `json:"source_list"`
}

// Summary describes the loaded snapshot.
type Summary struct {
	ListKind     string   `json:"list_kind"`
	VideoCount   int      `json:"video_count"`
	ChannelCount int      `json:"channel_count"`
	EntriesCount int      `json:"entries_count"`
	LoadedAt     string   `json:"loaded_at"`
	LocalPath    string   `json:"local_path"`
	Sources      []string `json:"sources"`
}

type snapshot struct {
	videoIDs      map[string]struct{}
	channelIDs    map[string]struct{}
	entries       []Entry
	loadedAt      string
	remoteSources []string
}

// SourceStore reads and writes the remote source URL list.
type SourceStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Service manages one list file plus its remote sources.
type Service struct {
	kind         Kind
	sourcesKey   string
	localPath    string
	fallbackPath string
	http         *http.Client
	log          zerolog.Logger

	mu   sync.Mutex
	snap snapshot
}

// NewService creates a list service. dataDir holds the primary list file;
// the directory of dbPath is the fallback when dataDir is not writable.
func NewService(kind Kind, dataDir, dbPath string) *Service {
	filename := fmt.Sprintf("custom-%s.txt", kind)
	return &Service{
		kind:         kind,
		sourcesKey:   string(kind) + "_source_urls",
		localPath:    filepath.Join(dataDir, "blocklists", filename),
		fallbackPath: filepath.Join(filepath.Dir(dbPath), "blocklists", filename),
		http:         &http.Client{Timeout: 15 * time.Second},
		log:          xlog.WithComponent("lists"),
		snap: snapshot{
			videoIDs:   make(map[string]struct{}),
			channelIDs: make(map[string]struct{}),
		},
	}
}

// Kind returns the managed list kind.
func (s *Service) Kind() Kind { return s.kind }

// LocalPath returns the current local list file path.
func (s *Service) LocalPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localPath
}

func (s *Service) header() string {
	kind := strings.ToUpper(string(s.kind)[:1]) + string(s.kind)[1:]
	return "# Sentinel " + kind + " File v1\n" +
		"# Supported entry formats:\n" +
		"# 1) video:<VIDEO_ID> | Human readable title | https://www.youtube.com/watch?v=<VIDEO_ID>\n" +
		"# 2) channel:<CHANNEL_ID_OR_HANDLE> | Channel name | https://www.youtube.com/channel/<CHANNEL_ID>\n" +
		"# 3) Direct YouTube links are accepted and parsed.\n" +
		"# Lines starting with # are comments.\n"
}

// ensureLocalFileLocked creates the list file (and its directory) if
// missing, switching to the fallback path when the data dir is read-only.
func (s *Service) ensureLocalFileLocked() error {
	mkdir := func(path string) error {
		return os.MkdirAll(filepath.Dir(path), 0o755)
	}
	if err := mkdir(s.localPath); err != nil && s.localPath != s.fallbackPath {
		s.localPath = s.fallbackPath
		if err := mkdir(s.localPath); err != nil {
			return err
		}
	}
	if _, err := os.Stat(s.localPath); err == nil {
		return nil
	}
	if err := os.WriteFile(s.localPath, []byte(s.header()), 0o644); err != nil {
		if s.localPath == s.fallbackPath {
			return err
		}
		s.localPath = s.fallbackPath
		if err := mkdir(s.localPath); err != nil {
			return err
		}
		if _, statErr := os.Stat(s.localPath); statErr != nil {
			return os.WriteFile(s.localPath, []byte(s.header()), 0o644)
		}
	}
	return nil
}

// LocalContent returns the raw list file content, creating it if needed.
func (s *Service) LocalContent() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localContentLocked()
}

func (s *Service) localContentLocked() (string, error) {
	if err := s.ensureLocalFileLocked(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(s.localPath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SaveLocalContent replaces the list file content.
func (s *Service) SaveLocalContent(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLocalFileLocked(); err != nil {
		return err
	}
	return os.WriteFile(s.localPath, []byte(content), 0o644)
}

// SetSources persists the remote source URL list.
func (s *Service) SetSources(ctx context.Context, store SourceStore, urls []string) error {
	return store.SetSetting(ctx, s.sourcesKey, strings.Join(urls, "\n"))
}

// Sources returns the configured remote source URLs.
func (s *Service) Sources(ctx context.Context, store SourceStore) ([]string, error) {
	raw, err := store.GetSetting(ctx, s.sourcesKey)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if item := strings.TrimSpace(line); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

// AppendEntry adds one entry to the list file, deduplicated on
// "scope:value". A source comment line precedes the entry.
func (s *Service) AppendEntry(scope, value, label, entryURL, sourceList string) error {
	scope = strings.ToLower(strings.TrimSpace(scope))
	value = strings.TrimSpace(value)
	if (scope != "video" && scope != "channel") || value == "" {
		return nil
	}
	if sourceList == "" {
		sourceList = "manual"
	}
	safeLabel := strings.NewReplacer("\n", " ", "\r", " ").Replace(strings.TrimSpace(label))
	safeURL := strings.TrimSpace(entryURL)

	comment := fmt.Sprintf("# [%s] %s", sourceList, safeLabel)
	if safeLabel == "" {
		comment = fmt.Sprintf("# [%s] %s:%s", sourceList, scope, value)
	}
	line := scope + ":" + value
	if safeLabel != "" {
		line += " | " + safeLabel
	}
	if safeURL != "" {
		line += " | " + safeURL
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	text, err := s.localContentLocked()
	if err != nil {
		return err
	}
	if strings.Contains(text, scope+":"+value) {
		return nil
	}
	fh, err := os.OpenFile(s.localPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(fh, "\n%s\n%s\n", comment, line); err != nil {
		_ = fh.Close()
		return err
	}
	if err := fh.Close(); err != nil {
		return err
	}

	if scope == "video" {
		s.snap.videoIDs[value] = struct{}{}
	} else {
		s.snap.channelIDs[value] = struct{}{}
	}
	s.snap.entries = append(s.snap.entries, Entry{
		Scope: scope, Value: value, Label: safeLabel, URL: safeURL, SourceList: sourceList,
	})
	return nil
}

// RemoveEntry deletes an entry line and its preceding manual comment.
func (s *Service) RemoveEntry(scope, value string) error {
	scope = strings.ToLower(strings.TrimSpace(scope))
	value = strings.TrimSpace(value)
	if (scope != "video" && scope != "channel") || value == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	text, err := s.localContentLocked()
	if err != nil {
		return err
	}
	target := scope + ":" + value
	var filtered []string
	skipNextComment := false
	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, "# [manual]") {
			skipNextComment = true
			filtered = append(filtered, line)
			continue
		}
		if strings.HasPrefix(stripped, target) {
			if skipNextComment && len(filtered) > 0 {
				filtered = filtered[:len(filtered)-1]
			}
			skipNextComment = false
			continue
		}
		skipNextComment = false
		filtered = append(filtered, line)
	}
	out := strings.TrimRight(strings.Join(filtered, "\n"), "\n") + "\n"
	return os.WriteFile(s.localPath, []byte(out), 0o644)
}

// Reload rebuilds the snapshot from the local file plus all remote sources.
func (s *Service) Reload(ctx context.Context, store SourceStore) (Summary, error) {
	local, err := s.LocalContent()
	if err != nil {
		return Summary{}, err
	}
	sources, err := s.Sources(ctx, store)
	if err != nil {
		return Summary{}, err
	}

	next := snapshot{
		videoIDs:      make(map[string]struct{}),
		channelIDs:    make(map[string]struct{}),
		loadedAt:      time.Now().UTC().Format(time.RFC3339),
		remoteSources: sources,
	}
	merge := func(content, sourceName string) {
		p := parseContent(content, sourceName)
		for v := range p.videoIDs {
			next.videoIDs[v] = struct{}{}
		}
		for c := range p.channelIDs {
			next.channelIDs[c] = struct{}{}
		}
		next.entries = append(next.entries, p.entries...)
	}
	merge(local, "local")
	for _, src := range sources {
		content, err := s.fetch(ctx, src)
		if err != nil {
			s.log.Warn().Err(err).Str("source", src).Str("kind", string(s.kind)).
				Msg("remote list fetch failed")
			continue
		}
		merge(content, src)
	}

	s.mu.Lock()
	s.snap = next
	s.mu.Unlock()
	return s.Summary(), nil
}

func (s *Service) fetch(ctx context.Context, src string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// MatchIDs checks the snapshot, video id before channel id.
func (s *Service) MatchIDs(videoID, channelID string) *Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	if videoID != "" {
		if _, ok := s.snap.videoIDs[videoID]; ok {
			return &Match{RuleType: string(s.kind), Scope: "video", Value: videoID, SourceList: "file"}
		}
	}
	if channelID != "" {
		if _, ok := s.snap.channelIDs[channelID]; ok {
			return &Match{RuleType: string(s.kind), Scope: "channel", Value: channelID, SourceList: "file"}
		}
	}
	return nil
}

// Summary describes the current snapshot.
func (s *Service) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		ListKind:     string(s.kind),
		VideoCount:   len(s.snap.videoIDs),
		ChannelCount: len(s.snap.channelIDs),
		EntriesCount: len(s.snap.entries),
		LoadedAt:     s.snap.loadedAt,
		LocalPath:    s.localPath,
		Sources:      s.snap.remoteSources,
	}
}

// RecentEntries returns the newest entries first, up to limit.
func (s *Service) RecentEntries(limit int) []Entry {
	if limit <= 0 {
		limit = 10
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.snap.entries)
	if limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.snap.entries[i])
	}
	return out
}
