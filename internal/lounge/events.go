// SPDX-License-Identifier: MIT
package lounge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// NowPlaying reports the video currently on screen. CurrentTime and
// Duration are nil when the TV omits them.
type NowPlaying struct {
	VideoID     string
	CurrentTime *float64
	Duration    *float64
	State       string
}

// UpNext reports the autoplay candidate the TV queued.
type UpNext struct {
	VideoID string
}

// Disconnected reports the TV closing the lounge session.
type Disconnected struct {
	Reason string
}

// EventHandler receives decoded lounge events during a subscription.
type EventHandler interface {
	OnNowPlaying(ev NowPlaying)
	OnUpNext(ev UpNext)
	OnDisconnected(ev Disconnected)
}

// sessionEvent is one decoded wire message.
type sessionEvent struct {
	id      int64
	name    string
	payload json.RawMessage
}

// readChunk reads one length-prefixed message block from the bind stream.
func readChunk(r *bufio.Reader) ([]sessionEvent, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	size, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return nil, fmt.Errorf("bad chunk header %q", strings.TrimSpace(line))
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return parseEvents(buf)
}

// parseEvents decodes the [[id,["name",payload]],...] wire array.
func parseEvents(data []byte) ([]sessionEvent, error) {
	var outer []json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return nil, fmt.Errorf("event array decode: %w", err)
	}
	events := make([]sessionEvent, 0, len(outer))
	for _, item := range outer {
		var pair []json.RawMessage
		if err := json.Unmarshal(item, &pair); err != nil || len(pair) != 2 {
			continue
		}
		var id int64
		if err := json.Unmarshal(pair[0], &id); err != nil {
			continue
		}
		var body []json.RawMessage
		if err := json.Unmarshal(pair[1], &body); err != nil || len(body) == 0 {
			continue
		}
		var name string
		if err := json.Unmarshal(body[0], &name); err != nil {
			continue
		}
		ev := sessionEvent{id: id, name: name}
		if len(body) > 1 {
			ev.payload = body[1]
		}
		events = append(events, ev)
	}
	return events, nil
}

func optFloat(fields map[string]string, key string) *float64 {
	raw, ok := fields[key]
	if !ok || raw == "" {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &f
}

// dispatch routes one wire event to the handler.
func dispatch(ev sessionEvent, h EventHandler) {
	switch ev.name {
	case "nowPlaying":
		var fields map[string]string
		if err := json.Unmarshal(ev.payload, &fields); err != nil {
			return
		}
		if fields["videoId"] == "" {
			return
		}
		h.OnNowPlaying(NowPlaying{
			VideoID:     fields["videoId"],
			CurrentTime: optFloat(fields, "currentTime"),
			Duration:    optFloat(fields, "duration"),
			State:       fields["state"],
		})
	case "autoplayUpNext":
		var fields map[string]string
		if err := json.Unmarshal(ev.payload, &fields); err != nil {
			return
		}
		if fields["videoId"] == "" {
			return
		}
		h.OnUpNext(UpNext{VideoID: fields["videoId"]})
	case "loungeScreenDisconnected":
		var fields map[string]string
		_ = json.Unmarshal(ev.payload, &fields)
		reason := fields["reason"]
		if reason == "" {
			reason = "disconnected"
		}
		h.OnDisconnected(Disconnected{Reason: reason})
	}
}
