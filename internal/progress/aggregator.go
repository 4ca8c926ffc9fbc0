// Package progress collects events from concurrently running downloads and
// exposes them as a snapshot or as per-subscriber event streams.
package progress

import (
	"sync"
	"time"

	"github.com/tanq16/grabber/internal/utils"
)

// ItemState is the aggregated view of one item.
type ItemState struct {
	ID        string
	URL       string
	Target    string
	Bytes     int64
	Total     int64
	Stage     utils.Stage
	Attempt   int
	LastError error
	Outcome   *utils.Outcome
	StartTime time.Time
	Updated   time.Time
}

type Aggregator struct {
	mu     sync.RWMutex
	items  map[string]*ItemState
	order  []string
	subs   map[*subscription]struct{}
	closed bool
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		items: make(map[string]*ItemState),
		subs:  make(map[*subscription]struct{}),
	}
}

// Register adds an item in Queued state so snapshots list it before it starts.
func (a *Aggregator) Register(id, url, target string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stateLocked(id, url, target)
}

func (a *Aggregator) stateLocked(id, url, target string) *ItemState {
	st, ok := a.items[id]
	if !ok {
		st = &ItemState{ID: id, Stage: utils.StageQueued}
		a.items[id] = st
		a.order = append(a.order, id)
	}
	if url != "" {
		st.URL = url
	}
	if target != "" {
		st.Target = target
	}
	return st
}

// Publish applies ev to the item's state and forwards it to subscribers.
// Events of one item are applied in the order they are published.
func (a *Aggregator) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	st := a.stateLocked(ev.ItemID, ev.URL, ev.Target)
	st.Updated = ev.Time
	switch ev.Type {
	case EventStarted:
		st.StartTime = ev.Time
		st.Attempt = 1
	case EventBytesTransferred:
		st.Bytes = ev.Bytes
		st.Total = ev.Total
	case EventStatusChanged:
		st.Stage = ev.Stage
	case EventRetrying:
		st.Attempt = ev.Attempt
		st.LastError = ev.Err
		st.Bytes = 0
	case EventFinished:
		st.Outcome = ev.Outcome
		if ev.Outcome != nil && ev.Outcome.OK() {
			st.Stage = utils.StageSucceeded
		} else {
			st.Stage = utils.StageFailed
			if ev.Outcome != nil {
				st.LastError = ev.Outcome.Err
			}
		}
	}
	for sub := range a.subs {
		sub.push(ev)
	}
}

// Get returns a copy of one item's state.
func (a *Aggregator) Get(id string) (ItemState, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st, ok := a.items[id]
	if !ok {
		return ItemState{}, false
	}
	return *st, true
}

// Snapshot returns copies of every item's state in registration order.
func (a *Aggregator) Snapshot() []ItemState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]ItemState, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, *a.items[id])
	}
	return out
}

// Subscribe returns a channel receiving every event published from now on.
// Delivery never blocks publishers; events queue until the subscriber reads them.
// The returned cancel function stops delivery and closes the channel.
func (a *Aggregator) Subscribe() (<-chan Event, func()) {
	sub := newSubscription()
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		sub.close()
		return sub.out, func() {}
	}
	a.subs[sub] = struct{}{}
	a.mu.Unlock()

	var once sync.Once
	return sub.out, func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs, sub)
			a.mu.Unlock()
			close(sub.stop)
			sub.close()
		})
	}
}

// Close stops accepting events. Subscribers get what was already queued, then their channel closes.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	for sub := range a.subs {
		sub.close()
	}
	a.subs = map[*subscription]struct{}{}
}

type subscription struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
	out    chan Event
	stop   chan struct{}
}

func newSubscription() *subscription {
	s := &subscription{out: make(chan Event), stop: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	go s.forward()
	return s
}

func (s *subscription) push(ev Event) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, ev)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *subscription) forward() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		select {
		case s.out <- ev:
		case <-s.stop:
			return
		}
	}
}
