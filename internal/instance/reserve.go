// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package instance

import "sync"

// reservations grants exclusive use of an instance, keyed by id.
type reservations struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newReservations() *reservations {
	return &reservations{held: make(map[string]struct{})}
}

func (r *reservations) acquire(id string) (func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.held[id]; taken {
		return nil, false
	}
	r.held[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.held, id)
			r.mu.Unlock()
		})
	}, true
}

func (r *reservations) isHeld(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, taken := r.held[id]
	return taken
}
