package fitsync

import (
	"sync"
)

// Monitor turns device connectivity signals into transition events. Repeated
// reports of the same state are ignored; only a change notifies listeners.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	nextID    int
	listeners []listener

	emit sync.Mutex
}

type listener struct {
	id int
	fn func(online bool)
}

// NewMonitor creates a monitor starting in the given state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{online: online}
}

// Online reports the last known connectivity.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Report ingests a connectivity signal. Listeners run synchronously when the
// state flips. Report returns true when it caused a transition.
func (m *Monitor) Report(online bool) bool {
	m.emit.Lock()
	defer m.emit.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	ls := make([]listener, len(m.listeners))
	copy(ls, m.listeners)
	m.mu.Unlock()

	for _, l := range ls {
		l.fn(online)
	}
	return true
}

// OnConnectivityChange registers fn for online/offline transitions.
func (m *Monitor) OnConnectivityChange(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listener{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, l := range m.listeners {
				if l.id == id {
					m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
}
