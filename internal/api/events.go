// SPDX-License-Identifier: MIT
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/joeblack2k/sentinel-yt/internal/bus"
)

// sseFrame flattens an event to the wire shape clients expect: the
// event type under "event" next to the payload fields.
func sseFrame(eventType, timestamp string, data map[string]any) []byte {
	frame := make(map[string]any, len(data)+2)
	for k, v := range data {
		frame[k] = v
	}
	frame["event"] = eventType
	if timestamp != "" {
		frame["timestamp"] = timestamp
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return nil
	}
	return []byte(fmt.Sprintf("data: %s\n\n", raw))
}

// handleLiveEvents streams runtime events as server-sent events. Every
// subscriber first receives a status snapshot, then the live feed.
func (s *Server) handleLiveEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.apiError(w, http.StatusInternalServerError, "sse_unsupported",
			"Streaming is not supported by this connection.")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := s.bus.Subscribe()
	defer sub.Close()

	if status, err := s.sup.Status(r.Context()); err == nil {
		if frame := sseFrame("status", "", status); frame != nil {
			_, _ = w.Write(frame)
			flusher.Flush()
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.C():
			if !open {
				return
			}
			s.writeEvent(w, flusher, ev)
		}
	}
}

func (s *Server) writeEvent(w http.ResponseWriter, flusher http.Flusher, ev bus.Event) {
	frame := sseFrame(ev.Type, ev.Timestamp, ev.Data)
	if frame == nil {
		return
	}
	if _, err := w.Write(frame); err != nil {
		return
	}
	flusher.Flush()
}
