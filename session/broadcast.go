/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session

import (
	"context"
	"sync"
)

// Broadcaster holds a single latest value and wakes every waiting subscriber
// when it changes. Nothing is queued per subscriber: a slow reader skips the
// intermediate values and only ever sees the newest one.
type Broadcaster[T any] struct {
	mu      sync.Mutex
	value   T
	gen     uint64
	changed chan struct{}
}

func NewBroadcaster[T any](initial T) *Broadcaster[T] {
	return &Broadcaster[T]{
		value:   initial,
		gen:     1,
		changed: make(chan struct{}),
	}
}

// Publish replaces the current value and wakes all subscribers.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.value = v
	b.gen++
	close(b.changed)
	b.changed = make(chan struct{})
}

// Load returns the current value and its generation.
func (b *Broadcaster[T]) Load() (T, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.value, b.gen
}

func (b *Broadcaster[T]) Subscribe() *Receiver[T] {
	return &Receiver[T]{b: b}
}

// Receiver tracks the last generation one subscriber has observed.
// It is not safe for concurrent use.
type Receiver[T any] struct {
	b    *Broadcaster[T]
	seen uint64
}

// Next returns the current value immediately on the first call, then blocks
// until a newer value is published or ctx is done.
func (r *Receiver[T]) Next(ctx context.Context) (T, error) {
	for {
		r.b.mu.Lock()
		if r.b.gen != r.seen {
			v := r.b.value
			r.seen = r.b.gen
			r.b.mu.Unlock()

			return v, nil
		}
		wait := r.b.changed
		r.b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}
