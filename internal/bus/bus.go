// SPDX-License-Identifier: MIT

// Package bus is the in-process event stream feeding SSE clients and the
// MQTT bridge. Delivery is best-effort: slow subscribers lose the oldest
// events rather than blocking publishers.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeblack2k/sentinel-yt/internal/metrics"
)

const subscriberQueue = 200

// Event is one live runtime event.
type Event struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent stamps an event with the current UTC time.
func NewEvent(eventType string, data map[string]any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}
}

// Bus fans events out to bounded subscriber queues.
type Bus struct {
	mu      sync.Mutex
	subs    map[*Subscriber]struct{}
	dropped atomic.Uint64
}

func New() *Bus {
	return &Bus{subs: make(map[*Subscriber]struct{})}
}

// Subscriber receives events on C until Close.
type Subscriber struct {
	bus *Bus
	ch  chan Event
}

func (s *Subscriber) C() <-chan Event { return s.ch }

func (s *Subscriber) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s]; !ok {
		return
	}
	delete(s.bus.subs, s)
	close(s.ch)
}

// Subscribe registers a new bounded subscriber.
func (b *Bus) Subscribe() *Subscriber {
	sub := &Subscriber{bus: b, ch: make(chan Event, subscriberQueue)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish delivers ev to every subscriber, dropping the oldest queued
// event when a queue is full.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
			continue
		default:
		}
		select {
		case <-sub.ch:
			b.dropped.Add(1)
			metrics.BusDrops.Inc()
		default:
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
			metrics.BusDrops.Inc()
		}
	}
}

// Dropped reports how many events were discarded since startup.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// SubscriberCount reports the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
