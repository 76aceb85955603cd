// Package clock controls what "now" means for every component. In
// production the gate is wall clock; in simulation it is a cursor that
// only moves forward. All time-filtered reads go through a Gate so the
// same pipeline code runs in both modes without lookahead.
package clock

import (
	"fmt"
	"sync"
	"time"
)

// Mode says which kind of gate is active.
type Mode string

const (
	ModeProduction Mode = "production"
	ModeSimulation Mode = "simulation"
)

// Gate is the single source of current time.
type Gate interface {
	Now() time.Time
	Mode() Mode
	SimulationID() string

	// AdvanceTo moves the cursor forward. Fails in production mode and
	// never moves backward.
	AdvanceTo(t time.Time) error
}

// Production is the wall-clock gate.
type Production struct{}

// NewProduction returns the wall-clock gate.
func NewProduction() *Production { return &Production{} }

func (*Production) Now() time.Time       { return time.Now().UTC() }
func (*Production) Mode() Mode           { return ModeProduction }
func (*Production) SimulationID() string { return "" }

func (*Production) AdvanceTo(time.Time) error {
	return fmt.Errorf("clock: cannot advance time in production mode")
}

// Simulation is a gate frozen at a historical cursor.
type Simulation struct {
	mu      sync.RWMutex
	current time.Time
	simID   string
}

// NewSimulation returns a gate whose cursor starts at the given time.
func NewSimulation(start time.Time, simulationID string) *Simulation {
	return &Simulation{current: start.UTC(), simID: simulationID}
}

func (s *Simulation) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (*Simulation) Mode() Mode { return ModeSimulation }

func (s *Simulation) SimulationID() string { return s.simID }

func (s *Simulation) AdvanceTo(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t = t.UTC()
	if t.Before(s.current) {
		return fmt.Errorf("clock: cannot advance backward from %s to %s",
			s.current.Format(time.RFC3339), t.Format(time.RFC3339))
	}
	s.current = t
	return nil
}

// Visible reports whether data stamped availableAt can be seen now.
func Visible(g Gate, availableAt time.Time) bool {
	return !availableAt.After(g.Now())
}
