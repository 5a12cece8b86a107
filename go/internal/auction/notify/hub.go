// Package notify provides typed publish/subscribe fan-out with explicit unsubscribe handles.
package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Hub fans values of T out to subscribers. Subscriber channels are never closed by the hub;
// a subscriber stops receiving once its unsubscribe func has been called.
type Hub[T any] struct {
	name   string
	buffer int

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscriber[T]
}

type subscriber[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once
}

// NewHub creates a hub whose subscriber channels hold up to buffer values.
func NewHub[T any](name string, buffer int) *Hub[T] {
	return &Hub[T]{
		name:   name,
		buffer: buffer,
		subs:   make(map[uint64]*subscriber[T]),
	}
}

// Subscribe registers a new subscriber.
func (h *Hub[T]) Subscribe() (<-chan T, func()) {
	s := &subscriber[T]{
		ch:   make(chan T, h.buffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = s
	h.mu.Unlock()

	unsubscribe := func() {
		s.once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(s.done)
		})
	}
	return s.ch, unsubscribe
}

// Len returns the number of active subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub[T]) snapshot() []*subscriber[T] {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := make([]*subscriber[T], 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	return subs
}

// Publish delivers v to every subscriber, waiting for slow subscribers until they read,
// unsubscribe, or ctx is done. Use it where dropping a value would lose ordering guarantees.
func (h *Hub[T]) Publish(ctx context.Context, v T) error {
	for _, s := range h.snapshot() {
		select {
		case s.ch <- v:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Offer delivers v without blocking; subscribers with a full buffer miss it.
func (h *Hub[T]) Offer(v T) {
	for _, s := range h.snapshot() {
		select {
		case s.ch <- v:
		case <-s.done:
		default:
			log.Warn().Str("hub", h.name).Msg("subscriber buffer full, dropping notification")
		}
	}
}
