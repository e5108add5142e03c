package actuator

import (
	"sync"

	mood "workspace-mood-monitor/internal/mood/domain"
)

// Update is a partial lamp change; nil fields are left untouched.
type Update struct {
	On    *bool
	Color *mood.Color
}

// Empty reports whether the update carries no change.
func (u Update) Empty() bool {
	return u.On == nil && u.Color == nil
}

// Snapshot is a consistent copy of the lamp state.
type Snapshot struct {
	On      bool
	Color   mood.Color
	Version uint64
}

// State is the mutex-guarded lamp state shared by the notification handler
// and the render loop. It boots switched off and black.
type State struct {
	mu      sync.Mutex
	on      bool
	color   mood.Color
	version uint64
}

// NewState constructs a lamp state.
func NewState() *State {
	return &State{}
}

// Apply merges u into the state and reports whether anything was applied.
func (s *State) Apply(u Update) bool {
	if u.Empty() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.On != nil {
		s.on = *u.On
	}
	if u.Color != nil {
		s.color = *u.Color
	}
	s.version++
	return true
}

// Snapshot returns the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{On: s.on, Color: s.color, Version: s.version}
}
