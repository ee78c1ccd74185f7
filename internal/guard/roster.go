// Package guard tracks the dispatchable human resources and ranks them for
// backup dispatch.
package guard

import (
	"fmt"
	"sync"

	"github.com/apexsec/voice-dispatch/internal/ports"
)

// Roster is an in-memory guard pool loaded from configuration. Selection is
// by proximity among available guards; dispatching a guard removes them from
// the pool until released.
type Roster struct {
	mu     sync.Mutex
	guards map[string]*ports.Guard
	// assignments maps guard ID to the call that holds them.
	assignments map[string]string
}

var _ ports.GuardRoster = (*Roster)(nil)

// NewRoster builds a roster from the configured guard list.
func NewRoster(guards []ports.Guard) *Roster {
	r := &Roster{
		guards:      make(map[string]*ports.Guard, len(guards)),
		assignments: make(map[string]string),
	}
	for _, g := range guards {
		cp := g
		r.guards[g.ID] = &cp
	}
	return r
}

// NextAvailable returns the closest available guard, or false when the pool
// is exhausted.
func (r *Roster) NextAvailable() (ports.Guard, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *ports.Guard
	for _, g := range r.guards {
		if !g.Available {
			continue
		}
		if best == nil || g.Proximity < best.Proximity {
			best = g
		}
	}
	if best == nil {
		return ports.Guard{}, false
	}
	return *best, true
}

// Dispatch commits a guard to a call, making them unavailable for further
// selection until Release.
func (r *Roster) Dispatch(guardID, callID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.guards[guardID]
	if !ok {
		return fmt.Errorf("guard %s not in roster", guardID)
	}
	if !g.Available {
		return fmt.Errorf("guard %s already dispatched to call %s", guardID, r.assignments[guardID])
	}

	g.Available = false
	r.assignments[guardID] = callID
	return nil
}

// Release returns a guard to the pool once their call resolves.
func (r *Roster) Release(guardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.guards[guardID]; ok {
		g.Available = true
		delete(r.assignments, guardID)
	}
}
