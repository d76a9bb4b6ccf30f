package store

import (
	"context"
	"sync"
)

// Hub fans values out to subscribers grouped by key. Each subscriber holds
// at most one undelivered value; a newer value replaces it, so a slow
// reader always catches up to the latest state instead of a backlog.
type Hub[T any] struct {
	subs map[string]map[*subscription[T]]struct{}
	mu   sync.Mutex
}

type subscription[T any] struct {
	ch chan T
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[string]map[*subscription[T]]struct{})}
}

// Subscribe registers a subscriber for key and queues initial as its first
// value. The channel is closed once ctx is done.
func (h *Hub[T]) Subscribe(ctx context.Context, key string, initial T) <-chan T {
	sub := &subscription[T]{ch: make(chan T, 1)}
	sub.ch <- initial

	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[*subscription[T]]struct{})
	}
	h.subs[key][sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[key]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, key)
			}
		}
		close(sub.ch)
	}()
	return sub.ch
}

// Publish delivers v to every subscriber of key without blocking.
func (h *Hub[T]) Publish(key string, v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[key] {
		select {
		case sub.ch <- v:
			continue
		default:
		}
		// drop the stale value
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- v
	}
}

// Subscribers returns how many subscribers key has.
func (h *Hub[T]) Subscribers(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key])
}
