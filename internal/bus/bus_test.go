// SPDX-License-Identifier: MIT
package bus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFanOut(t *testing.T) {
	b := New()
	a := b.Subscribe()
	c := b.Subscribe()
	defer a.Close()
	defer c.Close()

	b.Publish(NewEvent("now_playing", map[string]any{"video_id": "dQw4w9WgXcQ"}))

	ev := <-a.C()
	assert.Equal(t, "now_playing", ev.Type)
	assert.Equal(t, "dQw4w9WgXcQ", ev.Data["video_id"])
	assert.NotEmpty(t, ev.Timestamp)

	ev = <-c.C()
	assert.Equal(t, "now_playing", ev.Type)
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Close()

	for i := 0; i < subscriberQueue+5; i++ {
		b.Publish(NewEvent("tick", map[string]any{"seq": fmt.Sprintf("%d", i)}))
	}
	assert.EqualValues(t, 5, b.Dropped())

	// The head of the queue is the oldest surviving event.
	ev := <-sub.C()
	assert.Equal(t, "5", ev.Data["seq"])
}

func TestCloseRemovesSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	sub.Close()
	assert.Equal(t, 0, b.SubscriberCount())
	_, open := <-sub.C()
	assert.False(t, open)

	// Double close is safe.
	sub.Close()
	b.Publish(NewEvent("tick", nil))
}
