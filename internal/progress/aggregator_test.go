package progress

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/grabber/internal/utils"
)

func TestSnapshotFollowsRegistrationOrder(t *testing.T) {
	a := NewAggregator()
	a.Register("b", "http://x/b", "/tmp/b")
	a.Register("a", "http://x/a", "/tmp/a")
	a.Publish(Event{Type: EventStarted, ItemID: "a"})
	a.Publish(Event{Type: EventStatusChanged, ItemID: "a", Stage: utils.StageStreaming})
	a.Publish(Event{Type: EventBytesTransferred, ItemID: "a", Bytes: 10, Total: 100})

	snap := a.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "b", snap[0].ID)
	assert.Equal(t, utils.StageQueued, snap[0].Stage)
	assert.Equal(t, "a", snap[1].ID)
	assert.Equal(t, utils.StageStreaming, snap[1].Stage)
	assert.Equal(t, int64(10), snap[1].Bytes)
	assert.Equal(t, int64(100), snap[1].Total)
	assert.Equal(t, "http://x/a", snap[1].URL)
}

func TestFinishedSetsTerminalStage(t *testing.T) {
	a := NewAggregator()
	a.Publish(Event{Type: EventFinished, ItemID: "ok", Outcome: &utils.Outcome{ItemID: "ok", Path: "/tmp/ok"}})
	bad := errors.New("nope")
	a.Publish(Event{Type: EventFinished, ItemID: "bad", Outcome: &utils.Outcome{ItemID: "bad", Err: bad}})

	ok, found := a.Get("ok")
	require.True(t, found)
	assert.Equal(t, utils.StageSucceeded, ok.Stage)

	failed, found := a.Get("bad")
	require.True(t, found)
	assert.Equal(t, utils.StageFailed, failed.Stage)
	assert.ErrorIs(t, failed.LastError, bad)

	_, found = a.Get("missing")
	assert.False(t, found)
}

func TestConcurrentPublishersLoseNothing(t *testing.T) {
	a := NewAggregator()
	const items, updates = 16, 200
	var wg sync.WaitGroup
	for i := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("item-%d", i)
			for n := 1; n <= updates; n++ {
				a.Publish(Event{Type: EventBytesTransferred, ItemID: id, Bytes: int64(n)})
			}
		}()
	}
	wg.Wait()

	snap := a.Snapshot()
	require.Len(t, snap, items)
	for _, st := range snap {
		assert.Equal(t, int64(updates), st.Bytes, st.ID)
	}
}

func TestSubscribePreservesPerItemOrder(t *testing.T) {
	a := NewAggregator()
	events, cancel := a.Subscribe()
	defer cancel()

	var wg sync.WaitGroup
	for _, id := range []string{"x", "y"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 1; n <= 100; n++ {
				a.Publish(Event{Type: EventBytesTransferred, ItemID: id, Bytes: int64(n)})
			}
		}()
	}
	wg.Wait()
	a.Close()

	last := map[string]int64{}
	count := 0
	for ev := range events {
		assert.Greater(t, ev.Bytes, last[ev.ItemID])
		last[ev.ItemID] = ev.Bytes
		count++
	}
	assert.Equal(t, 200, count)
}

func TestSlowSubscriberDoesNotBlockPublishers(t *testing.T) {
	a := NewAggregator()
	events, cancel := a.Subscribe()

	done := make(chan struct{})
	go func() {
		for n := range 1000 {
			a.Publish(Event{Type: EventBytesTransferred, ItemID: "z", Bytes: int64(n)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on an unread subscription")
	}

	first := <-events
	assert.Equal(t, int64(0), first.Bytes)
	cancel()
	cancel()
}

func TestSubscribeAfterClose(t *testing.T) {
	a := NewAggregator()
	a.Close()
	events, cancel := a.Subscribe()
	defer cancel()
	_, open := <-events
	assert.False(t, open)
}
