// SPDX-License-Identifier: MIT
package lists

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	videoIDRe   = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	channelIDRe = regexp.MustCompile(`^(UC[A-Za-z0-9_-]{22}|@[A-Za-z0-9_.-]+)$`)
)

// ValidVideoID reports whether s is an 11-character YouTube video id.
func ValidVideoID(s string) bool {
	return videoIDRe.MatchString(s)
}

// ValidChannelID reports whether s is a UC channel id or an @handle.
func ValidChannelID(s string) bool {
	return channelIDRe.MatchString(s)
}

// Entry is one parsed list line.
type Entry struct {
	Scope      string `json:"scope"` // "video" or "channel"
	Value      string `json:"value"`
	Label      string `json:"label"`
	URL        string `json:"url"`
	SourceList string `json:"source_list"`
}

func channelURL(ch string) string {
	if strings.HasPrefix(ch, "UC") {
		return "https://www.youtube.com/channel/" + ch
	}
	return "https://www.youtube.com/" + ch
}

func watchURL(vid string) string {
	return "https://www.youtube.com/watch?v=" + vid
}

// ParseLine parses one non-comment list line. Accepted forms:
//
//	video:<id> | label | url
//	channel:<id-or-handle> | label | url
//	<bare id or handle>
//	<youtube watch / youtu.be / channel / handle URL>
//
// Returns nil for lines that do not parse.
func ParseLine(line string) *Entry {
	parts := strings.Split(line, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	primary := parts[0]
	label := ""
	rawURL := ""
	if len(parts) > 1 {
		label = parts[1]
	}
	if len(parts) > 2 {
		rawURL = parts[2]
	}

	if v, ok := strings.CutPrefix(primary, "video:"); ok {
		v = strings.TrimSpace(v)
		if !ValidVideoID(v) {
			return nil
		}
		if rawURL == "" {
			rawURL = watchURL(v)
		}
		return &Entry{Scope: "video", Value: v, Label: label, URL: rawURL}
	}
	if c, ok := strings.CutPrefix(primary, "channel:"); ok {
		c = strings.TrimSpace(c)
		if !ValidChannelID(c) {
			return nil
		}
		if rawURL == "" {
			rawURL = channelURL(c)
		}
		return &Entry{Scope: "channel", Value: c, Label: label, URL: rawURL}
	}

	if e := parseFromURL(primary); e != nil {
		return e
	}

	if ValidVideoID(primary) {
		if rawURL == "" {
			rawURL = watchURL(primary)
		}
		return &Entry{Scope: "video", Value: primary, Label: label, URL: rawURL}
	}
	if ValidChannelID(primary) {
		if rawURL == "" {
			rawURL = channelURL(primary)
		}
		return &Entry{Scope: "channel", Value: primary, Label: label, URL: rawURL}
	}
	return nil
}

func parseFromURL(text string) *Entry {
	parsed, err := url.Parse(text)
	if err != nil {
		return nil
	}
	host := strings.ToLower(parsed.Host)
	if !strings.Contains(host, "youtube.com") && !strings.Contains(host, "youtu.be") {
		return nil
	}

	if strings.Contains(host, "youtu.be") {
		vid, _, _ := strings.Cut(strings.Trim(parsed.Path, "/"), "/")
		if ValidVideoID(vid) {
			return &Entry{Scope: "video", Value: vid, URL: watchURL(vid)}
		}
		return nil
	}

	if vid := strings.TrimSpace(parsed.Query().Get("v")); vid != "" {
		if ValidVideoID(vid) {
			return &Entry{Scope: "video", Value: vid, URL: watchURL(vid)}
		}
	}

	var pathParts []string
	for _, p := range strings.Split(parsed.Path, "/") {
		if p != "" {
			pathParts = append(pathParts, p)
		}
	}
	if len(pathParts) >= 2 && pathParts[0] == "channel" {
		ch := strings.TrimSpace(pathParts[1])
		if ValidChannelID(ch) {
			return &Entry{Scope: "channel", Value: ch, URL: channelURL(ch)}
		}
	}
	if len(pathParts) > 0 && strings.HasPrefix(pathParts[0], "@") {
		handle := pathParts[0]
		if ValidChannelID(handle) {
			return &Entry{Scope: "channel", Value: handle, URL: channelURL(handle)}
		}
	}
	return nil
}

type parsed struct {
	videoIDs   map[string]struct{}
	channelIDs map[string]struct{}
	entries    []Entry
}

// parseContent parses a whole list file, skipping blanks and comments.
func parseContent(content, sourceName string) parsed {
	out := parsed{
		videoIDs:   make(map[string]struct{}),
		channelIDs: make(map[string]struct{}),
	}
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		e := ParseLine(line)
		if e == nil {
			continue
		}
		e.SourceList = sourceName
		if e.Scope == "video" {
			out.videoIDs[e.Value] = struct{}{}
		} else {
			out.channelIDs[e.Value] = struct{}{}
		}
		out.entries = append(out.entries, *e)
	}
	return out
}
