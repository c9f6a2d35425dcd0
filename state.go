package fitsync

import (
	"sync"
)

// StateHub owns the published SyncState and its subscribers. Subscribers are
// called synchronously, in subscription order, on the goroutine that changed
// the state.
type StateHub struct {
	mu     sync.Mutex
	state  SyncState
	nextID int
	subs   []subscriber

	// emit serializes broadcasts so subscribers observe changes in order.
	emit sync.Mutex
}

type subscriber struct {
	id int
	fn func(SyncState)
}

// NewStateHub creates a hub holding the initial state.
func NewStateHub(initial SyncState) *StateHub {
	return &StateHub{state: initial}
}

// State returns a copy of the current state.
func (h *StateHub) State() SyncState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Subscribe registers fn and calls it immediately with the current state.
// The returned function removes the subscription; calling it twice is safe.
func (h *StateHub) Subscribe(fn func(SyncState)) (unsubscribe func()) {
	h.emit.Lock()
	defer h.emit.Unlock()

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs = append(h.subs, subscriber{id: id, fn: fn})
	current := h.state
	h.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, s := range h.subs {
				if s.id == id {
					h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Update applies mutate to the state and broadcasts the result when it
// changed. It returns the new state.
func (h *StateHub) Update(mutate func(*SyncState)) SyncState {
	h.emit.Lock()
	defer h.emit.Unlock()

	h.mu.Lock()
	before := h.state
	mutate(&h.state)
	after := h.state
	subs := make([]subscriber, len(h.subs))
	copy(subs, h.subs)
	h.mu.Unlock()

	if after == before {
		return after
	}
	for _, s := range subs {
		s.fn(after)
	}
	return after
}

// SetStatus changes the status.
func (h *StateHub) SetStatus(status SyncStatus) SyncState {
	return h.Update(func(s *SyncState) { s.Status = status })
}

// SetPending publishes a new pending count.
func (h *StateHub) SetPending(n int) SyncState {
	return h.Update(func(s *SyncState) { s.PendingCount = n })
}
