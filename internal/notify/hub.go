// Package notify fans full request snapshots out to live subscribers.
package notify

import (
	"errors"
	"sync"

	"booklend/pkg/domain"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("notify: hub closed")

// Snapshot is the complete request listing at one point in time.
// Receivers must treat it as read-only.
type Snapshot []domain.Request

// Hub is the process-wide subscriber registry. Each subscriber owns a
// one-slot mailbox that keeps only the newest snapshot, so slow readers skip
// intermediate states but never miss the latest one.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*Subscription)}
}

// Subscription is one observer's handle.
type Subscription struct {
	id  uint64
	hub *Hub
	ch  chan Snapshot
}

// C yields snapshots. It is closed on Unsubscribe or when the hub closes.
func (s *Subscription) C() <-chan Snapshot { return s.ch }

// Unsubscribe removes the handle. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if _, ok := s.hub.subs[s.id]; !ok {
		return
	}
	delete(s.hub.subs, s.id)
	close(s.ch)
}

// Subscribe registers an observer and queues initial as its first snapshot.
func (h *Hub) Subscribe(initial Snapshot) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	h.nextID++
	sub := &Subscription{id: h.nextID, hub: h, ch: make(chan Snapshot, 1)}
	sub.ch <- initial
	h.subs[sub.id] = sub
	return sub, nil
}

// Publish replaces every subscriber's pending snapshot with snap.
// It never blocks on slow readers.
func (h *Hub) Publish(snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		// Drop the stale pending snapshot, if any. Only Publish and Subscribe
		// send, both under h.mu, so the slot is free afterwards.
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- snap
	}
}

// Len reports the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}
