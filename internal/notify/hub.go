// Package notify fans playback snapshots out to live view subscribers.
package notify

import (
	"sync"

	"github.com/google/uuid"

	"github.com/treefix50/nowplaying/internal/metrics"
	"github.com/treefix50/nowplaying/internal/playback"
)

const DefaultQueueSize = 10

// Source provides the snapshot a new subscriber starts from.
type Source interface {
	Snapshot() playback.Snapshot
}

// Subscription is one subscriber's private delivery queue.
type Subscription struct {
	ID uuid.UUID

	ch   chan playback.Snapshot
	done chan struct{}
	once sync.Once
}

// Updates delivers snapshots in publish order, possibly with gaps.
func (s *Subscription) Updates() <-chan playback.Snapshot { return s.ch }

// Done is closed once the subscription has been removed from its hub.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// offer enqueues snap without blocking. When the queue is full the oldest
// pending snapshot is evicted so the newest one always gets in.
func (s *Subscription) offer(snap playback.Snapshot) (dropped bool) {
	select {
	case s.ch <- snap:
		return false
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
	default:
		// a concurrent publisher refilled the slot; its snapshot is newer or equal
	}
	return true
}

// Hub is a registry of subscriptions keyed by id.
type Hub struct {
	source    Source
	queueSize int
	metrics   *metrics.Metrics

	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscription
}

func NewHub(source Source, queueSize int, m *metrics.Metrics) *Hub {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		source:    source,
		queueSize: queueSize,
		metrics:   m,
		subs:      make(map[uuid.UUID]*Subscription),
	}
}

// Subscribe registers a new subscription and queues the current snapshot on it.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		ID:   uuid.New(),
		ch:   make(chan playback.Snapshot, h.queueSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	n := len(h.subs)
	// read under the registry lock so a concurrent Publish cannot slip an
	// older snapshot in behind a newer one
	sub.ch <- h.source.Snapshot()
	h.mu.Unlock()

	h.metrics.SetSubscribers(n)
	return sub
}

// Unsubscribe removes sub. Calling it more than once is harmless.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	_, ok := h.subs[sub.ID]
	delete(h.subs, sub.ID)
	n := len(h.subs)
	h.mu.Unlock()

	sub.once.Do(func() { close(sub.done) })
	if ok {
		h.metrics.SetSubscribers(n)
	}
}

// Publish offers snap to every subscriber without blocking.
func (h *Hub) Publish(snap playback.Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.offer(snap) {
			h.metrics.Dropped()
		}
	}
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close removes every subscriber, releasing their streams.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[uuid.UUID]*Subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.done) })
	}
	h.metrics.SetSubscribers(0)
}
