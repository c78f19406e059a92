package control

import (
	"sync"

	"github.com/smartgrow/growd/internal/eventbus"
)

// StateChange is published on the bus whenever the Store changes.
type StateChange struct {
	State State `json:"state"`
	Ready bool  `json:"ready"`
}

// Store holds the believed device state. It does not enforce field locks;
// the Coordinator does that when accepting intents.
type Store struct {
	mu    sync.RWMutex
	state State
	ready bool

	bus eventbus.Publisher
}

// NewStore creates an empty, not-ready Store. A nil bus disables publishing.
func NewStore(bus eventbus.Publisher) *Store {
	return &Store{bus: bus}
}

// Snapshot returns a copy of the state and whether bootstrap has completed.
func (s *Store) Snapshot() (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.ready
}

// Ready reports whether bootstrap has completed.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// replace installs a full state and marks the store ready.
func (s *Store) replace(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	s.ready = true
	s.publish(StateChange{State: st, Ready: true})
}

// apply sets one field and returns the resulting state.
func (s *Store) apply(in Intent) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.state.with(in)
	s.publish(StateChange{State: s.state, Ready: s.ready})
	return s.state
}

// publish is called with s.mu held so bus sequence numbers follow the
// order of mutations.
func (s *Store) publish(change StateChange) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.EventTypeStateChanged, Data: change})
}
