// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package fanout

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func drain[T any](s *Subscription[T]) []T {
	var got []T
	for v := range s.C() {
		got = append(got, v)
	}
	return got
}

func TestHub_DeliversInOrderToEverySubscriber(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := New[int]()
	a := h.Subscribe()
	b := h.Subscribe()

	for i := 0; i < 100; i++ {
		h.Publish(i)
	}
	h.Close()

	want := make([]int, 100)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, drain(a))
	assert.Equal(t, want, drain(b))
}

func TestHub_SlowSubscriberDoesNotBlockFastOne(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := New[string]()
	slow := h.Subscribe()
	fast := h.Subscribe()

	const n = 10_000
	published := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			h.Publish("line")
		}
		close(published)
	}()

	got := 0
	for got < n {
		select {
		case <-fast.C():
			got++
		case <-time.After(5 * time.Second):
			t.Fatalf("fast subscriber stalled after %d values", got)
		}
	}
	<-published

	// The slow subscriber has not read anything but still holds every value.
	assert.GreaterOrEqual(t, slow.Pending(), n-1, "at most one value is held by the pump")
	h.Close()
	assert.Len(t, drain(slow), n)
	assert.Empty(t, drain(fast))
}

func TestHub_UnsubscribeWithoutReading(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := New[int]()
	s := h.Subscribe()
	h.Publish(1)
	h.Publish(2)

	s.Unsubscribe()
	s.Unsubscribe()

	assert.Equal(t, 0, h.Len())
	_, ok := <-s.C()
	assert.False(t, ok)
	h.Close()
}

func TestHub_LateSubscriberSeesOnlyNewValues(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := New[int]()
	early := h.Subscribe()
	h.Publish(1)
	late := h.Subscribe()
	h.Publish(2)
	h.Close()

	assert.Equal(t, []int{1, 2}, drain(early))
	assert.Equal(t, []int{2}, drain(late))
}

func TestHub_SubscribeAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := New[int]()
	h.Close()
	h.Publish(1)

	s := h.Subscribe()
	assert.Empty(t, drain(s))
	<-s.Done()
}

func TestHub_ConcurrentPublishers(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := New[int]()
	a := h.Subscribe()
	b := h.Subscribe()

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				h.Publish(p*1000 + i)
			}
		}(p)
	}

	var gotA, gotB []int
	var readers sync.WaitGroup
	readers.Add(2)
	go func() { defer readers.Done(); gotA = drain(a) }()
	go func() { defer readers.Done(); gotB = drain(b) }()

	wg.Wait()
	h.Close()
	readers.Wait()

	require.Len(t, gotA, 800)
	assert.Equal(t, gotA, gotB, "all subscribers observe one order")
}
