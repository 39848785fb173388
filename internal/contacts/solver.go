package contacts

import (
	"sync"

	"github.com/banshee-data/floatbase/internal/measurements"
)

// Solver queues contact changes decided by a planner. Add and Remove may be
// called from any goroutine; queued events take effect at the next cycle and
// bypass hysteresis.
type Solver struct {
	mu      sync.Mutex
	pending []measurements.SolverEvent
	active  map[string]bool
}

func newSolver() *Solver {
	return &Solver{active: make(map[string]bool)}
}

// Add requests a contact on surface, measured by sensor (may be empty).
func (s *Solver) Add(surface, sensor string) {
	s.push(measurements.SolverEvent{Kind: measurements.SolverAdd, Surface: surface, Sensor: sensor})
}

// Remove requests the removal of the contact named name.
func (s *Solver) Remove(name string) {
	s.push(measurements.SolverEvent{Kind: measurements.SolverRemove, Surface: name})
}

func (s *Solver) push(ev measurements.SolverEvent) {
	s.mu.Lock()
	s.pending = append(s.pending, ev)
	s.mu.Unlock()
}

func (s *Solver) drain() []measurements.SolverEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

func eventName(ev measurements.SolverEvent) string {
	if ev.Surface != "" {
		return ev.Surface
	}
	return ev.Sensor
}

type solverPolicy struct {
	d *Detector
}

func (p *solverPolicy) desired(frame measurements.Frame) map[string]bool {
	s := p.d.solver
	events := append(s.drain(), frame.SolverEvents...)
	for _, ev := range events {
		name := eventName(ev)
		switch ev.Kind {
		case measurements.SolverAdd:
			if _, ok := p.d.registry.byName[name]; !ok {
				if ev.Sensor != "" && !p.d.sensors[ev.Sensor] {
					p.d.warnOnce("solver/"+name, "solver contact %s uses unknown sensor %s", name, ev.Sensor)
					continue
				}
				_ = p.d.registry.AddCandidate(Candidate{
					Name:          name,
					Sensor:        ev.Sensor,
					Surface:       ev.Surface,
					SensorEnabled: ev.Sensor != "" && !p.d.disabled[ev.Sensor],
				})
			}
			s.active[name] = true
		case measurements.SolverRemove:
			if !s.active[name] {
				p.d.warnOnce("solver-rm/"+name, "solver removed inactive contact %s", name)
			}
			delete(s.active, name)
		}
	}
	out := make(map[string]bool, len(s.active))
	for n := range s.active {
		out[n] = true
	}
	return out
}
