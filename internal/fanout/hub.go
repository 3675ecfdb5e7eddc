// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package fanout distributes values to independent subscribers. Every
// subscriber has its own unbounded queue drained by its own goroutine, so a
// slow consumer never blocks the publisher or any other consumer, and nothing
// is dropped.
package fanout

import "sync"

// Hub distributes published values to subscribers.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

// New creates a new hub.
func New[T any]() *Hub[T] {
	return &Hub[T]{
		subs: make(map[*Subscription[T]]struct{}),
	}
}

// Subscription receives values published after it was created.
type Subscription[T any] struct {
	hub   *Hub[T]
	out   chan T
	done  chan struct{}
	abort chan struct{}

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []T
	ended  bool
	aborts sync.Once
}

// Subscribe registers a new subscriber. On a closed hub the subscription's
// channel is closed immediately.
func (h *Hub[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{
		hub:   h,
		out:   make(chan T),
		done:  make(chan struct{}),
		abort: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)

	h.mu.Lock()
	if h.closed {
		s.ended = true
	} else {
		h.subs[s] = struct{}{}
	}
	h.mu.Unlock()

	go s.pump()
	return s
}

// Publish enqueues v for every current subscriber. It never blocks on
// consumers. Publishing to a closed hub is a no-op.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	for s := range h.subs {
		s.push(v)
	}
}

// Len returns the number of active subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends the stream. Subscribers receive everything already published and
// then see their channel closed.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		s.end()
	}
	h.subs = nil
}

// C returns the channel values are delivered on. It is closed after the hub
// closes and the backlog is delivered, or after Unsubscribe.
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Done is closed once the subscription's delivery goroutine has exited.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Unsubscribe leaves the hub and discards any undelivered backlog. It is safe
// to call more than once and does not require the consumer to keep reading.
func (s *Subscription[T]) Unsubscribe() {
	s.hub.mu.Lock()
	delete(s.hub.subs, s)
	s.hub.mu.Unlock()

	s.aborts.Do(func() { close(s.abort) })
	s.end()
	<-s.done
}

// Pending returns the number of values queued but not yet delivered.
func (s *Subscription[T]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Subscription[T]) push(v T) {
	s.mu.Lock()
	if !s.ended {
		s.queue = append(s.queue, v)
	}
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *Subscription[T]) end() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *Subscription[T]) pump() {
	defer close(s.done)
	defer close(s.out)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.ended {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.abort:
			s.mu.Lock()
			s.queue = nil
			s.mu.Unlock()
			return
		}
	}
}
