package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mvalente/tablechat/internal/bus"
)

// State represents an engine runtime state.
type State string

const (
	// Booting is the initial state while config, cache and components load.
	Booting State = "BOOTING"
	// Disabled means the engine feature flag is off. No timers run.
	Disabled State = "DISABLED"
	// AuthRequired means the server rejected our credentials.
	AuthRequired State = "AUTH_REQUIRED"
	// Polling means the engine is live on timers alone.
	Polling State = "POLLING"
	// Live means polling plus a connected push transport.
	Live State = "LIVE"
	// Degraded means the last refresh failed but timers keep retrying.
	Degraded State = "DEGRADED"
	// Error is a fatal state requiring a restart.
	Error State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:      {Disabled, Polling, Live, Degraded, AuthRequired, Error},
	Disabled:     {Booting},
	AuthRequired: {Polling, Live, Error},
	Polling:      {Live, Degraded, AuthRequired, Error},
	Live:         {Polling, Degraded, AuthRequired, Error},
	Degraded:     {Polling, Live, AuthRequired, Error},
	Error:        {Booting},
}

// Machine tracks and enforces engine runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if the
// transition is invalid; a transition to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
