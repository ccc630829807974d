// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

// Package notify provides a synchronous observer hub with per-observer
// failure isolation.
//
// The single-slot callback pattern (one notifier field, silently
// swallowed exceptions) is fragile: a second subscriber displaces the
// first, and one bad observer mutes everyone. The hub keeps an
// explicit observer list, delivers to every observer in subscription
// order, and contains each observer's failure to itself — an error or
// panic is logged and delivery continues.
package notify

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Observer receives one published event. A returned error is logged;
// it never suppresses delivery to other observers.
type Observer[T any] func(event T) error

// Hub is a set of observers for events of type T. Safe for concurrent
// use.
type Hub[T any] struct {
	logger *slog.Logger

	mu        sync.Mutex
	observers map[int]Observer[T]
	nextID    int
}

// NewHub creates an empty hub. Observer failures are logged to
// logger.
func NewHub[T any](logger *slog.Logger) *Hub[T] {
	return &Hub[T]{
		logger:    logger,
		observers: make(map[int]Observer[T]),
	}
}

// Subscribe registers an observer and returns a cancel function that
// removes it. Cancel is idempotent.
func (h *Hub[T]) Subscribe(observer Observer[T]) (cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.observers[id] = observer

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.observers, id)
	}
}

// Publish delivers event to every observer synchronously, in
// subscription order. Each observer's error or panic is isolated:
// logged, then delivery continues with the next observer.
func (h *Hub[T]) Publish(event T) {
	h.mu.Lock()
	ids := make([]int, 0, len(h.observers))
	for id := range h.observers {
		ids = append(ids, id)
	}
	// Map iteration order is random; deliver in subscription order.
	slices.Sort(ids)
	observers := make([]Observer[T], len(ids))
	for i, id := range ids {
		observers[i] = h.observers[id]
	}
	h.mu.Unlock()

	for _, observer := range observers {
		h.deliver(observer, event)
	}
}

func (h *Hub[T]) deliver(observer Observer[T], event T) {
	defer func() {
		if recovered := recover(); recovered != nil {
			h.logger.Error("observer panicked", "panic", fmt.Sprint(recovered))
		}
	}()
	if err := observer(event); err != nil {
		h.logger.Warn("observer failed", "error", err)
	}
}
