package devloop

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetstage/internal/metrics"
)

// countingRecorder tracks reload and rebuild metrics.
type countingRecorder struct {
	metrics.NoopRecorder
	mu          sync.Mutex
	broadcasts  int
	subscribers int
	rebuilds    map[string]int
}

func (c *countingRecorder) IncReloadBroadcast() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcasts++
}

func (c *countingRecorder) SetReloadSubscribers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = n
}

func (c *countingRecorder) IncClassRebuild(class string, _ metrics.ResultLabel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rebuilds == nil {
		c.rebuilds = make(map[string]int)
	}
	c.rebuilds[class]++
}

func (c *countingRecorder) rebuildCount(class string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rebuilds[class]
}

func TestHubBroadcastReachesEverySubscriber(t *testing.T) {
	rec := &countingRecorder{}
	hub := NewHub(rec)

	a := hub.Subscribe()
	b := hub.Subscribe()
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, hub.Subscribers())
	assert.Equal(t, 2, rec.subscribers)

	n := hub.Broadcast(Message{Type: MessageReload, Paths: []string{"demo.css"}})
	assert.Equal(t, 2, n)

	for _, sub := range []Subscription{a, b} {
		select {
		case msg := <-sub.C:
			assert.Equal(t, MessageReload, msg.Type)
			assert.Equal(t, []string{"demo.css"}, msg.Paths)
			assert.False(t, msg.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("message not delivered")
		}
	}
	assert.Equal(t, 1, rec.broadcasts)
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe()

	hub.Unsubscribe(sub.ID)
	hub.Unsubscribe(sub.ID)

	_, ok := <-sub.C
	assert.False(t, ok)
	assert.Zero(t, hub.Subscribers())
	assert.Zero(t, hub.Broadcast(Message{Type: MessageReload}))
}

func TestHubNeverBlocksOnSlowSubscriber(t *testing.T) {
	hub := NewHub(nil)
	slow := hub.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			hub.Broadcast(Message{Type: MessageReload})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked")
	}
	assert.Len(t, slow.C, subscriberBuffer)
}

func TestHubClose(t *testing.T) {
	rec := &countingRecorder{}
	hub := NewHub(rec)
	sub := hub.Subscribe()

	hub.Close()
	hub.Close()

	_, ok := <-sub.C
	assert.False(t, ok)

	late := hub.Subscribe()
	_, ok = <-late.C
	require.False(t, ok, "subscriptions after Close are closed")
	assert.Zero(t, rec.subscribers)
}
