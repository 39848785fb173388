package contacts

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/floatbase/internal/measurements"
	"github.com/banshee-data/floatbase/internal/monitoring"
)

// Kind names a detection policy.
type Kind string

const (
	KindSurfaces  Kind = "surfaces"
	KindSensors   Kind = "sensors"
	KindThreshold Kind = "threshold"
	KindSolver    Kind = "solver"
)

var (
	ErrUnknownPolicy     = errors.New("contacts: unknown detection policy")
	ErrUnknownSensor     = errors.New("contacts: unknown force sensor")
	ErrInvalidThresholds = errors.New("contacts: lower threshold above upper threshold")
)

// ParseKind validates a policy name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindSurfaces, KindSensors, KindThreshold, KindSolver:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// SurfaceCandidate binds a contact surface to the force sensor measuring it.
type SurfaceCandidate struct {
	Surface string `json:"surface"`
	Sensor  string `json:"sensor"`
}

// DetectorConfig selects a policy and its parameters.
type DetectorConfig struct {
	Kind        Kind
	MaxContacts int

	// Sensors lists every force sensor known to the robot.
	Sensors []string
	// Surfaces are the candidates of the surfaces policy. The solver policy
	// may pre-declare surfaces here too.
	Surfaces []SurfaceCandidate
	// PureInputs are sensors never turned into contacts; their wrench is
	// only fed to the estimator as an external input.
	PureInputs      []string
	DisabledSensors []string

	// Weight of the robot (N). The proportional thresholds are fractions of it.
	Weight    float64
	LowerProp float64
	UpperProp float64

	// Threshold is the absolute force norm (N) of the threshold policy.
	// LowerThreshold defaults to Threshold when nil.
	Threshold      float64
	LowerThreshold *float64
}

// Trigger returns the Schmitt thresholds the policy applies.
func (c DetectorConfig) Trigger() SchmittTrigger {
	if c.Kind == KindThreshold {
		lower := c.Threshold
		if c.LowerThreshold != nil {
			lower = *c.LowerThreshold
		}
		return SchmittTrigger{Lower: lower, Upper: c.Threshold}
	}
	return SchmittTrigger{Lower: c.LowerProp * c.Weight, Upper: c.UpperProp * c.Weight}
}

// Handlers are invoked once per contact of each classified set.
type Handlers struct {
	OnRemoved    func(*Contact)
	OnMaintained func(*Contact)
	OnNew        func(*Contact)
}

type policy interface {
	desired(frame measurements.Frame) map[string]bool
}

// Detector runs a detection policy over a Registry.
type Detector struct {
	kind     Kind
	registry *Registry
	policy   policy
	solver   *Solver
	disabled map[string]bool
	sensors  map[string]bool
	warned   map[string]bool
}

// NewDetector validates cfg and declares the candidates of its policy.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if _, err := ParseKind(string(cfg.Kind)); err != nil {
		return nil, err
	}
	d := &Detector{
		kind:     cfg.Kind,
		registry: NewRegistry(cfg.MaxContacts),
		disabled: make(map[string]bool),
		sensors:  make(map[string]bool),
		warned:   make(map[string]bool),
	}
	for _, s := range cfg.Sensors {
		d.sensors[s] = true
	}
	for _, s := range cfg.DisabledSensors {
		if !d.sensors[s] {
			return nil, fmt.Errorf("cannot disable %q: %w", s, ErrUnknownSensor)
		}
		d.disabled[s] = true
	}
	pure := make(map[string]bool)
	for _, s := range cfg.PureInputs {
		if !d.sensors[s] {
			return nil, fmt.Errorf("pure input %q: %w", s, ErrUnknownSensor)
		}
		pure[s] = true
	}
	trig := cfg.Trigger()
	if trig.Lower > trig.Upper {
		return nil, fmt.Errorf("%w: %g > %g", ErrInvalidThresholds, trig.Lower, trig.Upper)
	}

	var cands []Candidate
	switch cfg.Kind {
	case KindSurfaces, KindSolver:
		for _, s := range cfg.Surfaces {
			if s.Sensor != "" && !d.sensors[s.Sensor] {
				return nil, fmt.Errorf("surface %q: %w %q", s.Surface, ErrUnknownSensor, s.Sensor)
			}
			cands = append(cands, Candidate{Name: s.Surface, Sensor: s.Sensor, Surface: s.Surface})
		}
	case KindSensors, KindThreshold:
		for _, s := range cfg.Sensors {
			if !pure[s] {
				cands = append(cands, Candidate{Name: s, Sensor: s})
			}
		}
	}
	if cfg.Kind != KindSolver && len(cands) > d.registry.Max() {
		return nil, fmt.Errorf("%w: %d candidates for %d slots", ErrTooManyContacts, len(cands), d.registry.Max())
	}
	for _, c := range cands {
		c.SensorEnabled = !d.disabled[c.Sensor]
		if err := d.registry.AddCandidate(c); err != nil {
			return nil, err
		}
	}

	switch cfg.Kind {
	case KindSolver:
		d.solver = newSolver()
		d.policy = &solverPolicy{d: d}
	case KindThreshold:
		d.policy = &triggerPolicy{d: d, trigger: trig, on: map[string]bool{}, forceOnly: true}
	default:
		d.policy = &triggerPolicy{d: d, trigger: trig, on: map[string]bool{}}
	}
	return d, nil
}

func (d *Detector) Kind() Kind { return d.kind }

func (d *Detector) Registry() *Registry { return d.registry }

// Solver returns the event queue of the solver policy, nil for other policies.
func (d *Detector) Solver() *Solver { return d.solver }

// SetSensorEnabled toggles a contact sensor by contact or sensor name.
func (d *Detector) SetSensorEnabled(name string, enabled bool) error {
	if err := d.registry.SetSensorEnabled(name, enabled); err != nil {
		return err
	}
	if c, ok := d.registry.Candidate(name); ok && c.Sensor != "" {
		d.disabled[c.Sensor] = !enabled
	}
	return nil
}

// Classify runs the policy on frame and updates the registry. Removed
// contacts keep their id until Release.
func (d *Detector) Classify(frame measurements.Frame) (Classification, error) {
	return d.registry.Apply(d.policy.desired(frame))
}

// Update classifies frame, calls h for every contact and releases the ids
// of removed contacts once their handler has run.
func (d *Detector) Update(frame measurements.Frame, h Handlers) (Classification, error) {
	cl, err := d.Classify(frame)
	for _, c := range cl.Removed {
		if h.OnRemoved != nil {
			h.OnRemoved(c)
		}
		_ = d.registry.Release(c)
	}
	for _, c := range cl.Maintained {
		if h.OnMaintained != nil {
			h.OnMaintained(c)
		}
	}
	for _, c := range cl.New {
		if h.OnNew != nil {
			h.OnNew(c)
		}
	}
	return cl, err
}

func (d *Detector) warnOnce(key, format string, v ...interface{}) {
	if d.warned[key] {
		return
	}
	d.warned[key] = true
	monitoring.Warnf("[contacts] "+format, v...)
}

// triggerPolicy drives the surfaces, sensors and threshold policies.
type triggerPolicy struct {
	d         *Detector
	trigger   SchmittTrigger
	on        map[string]bool
	forceOnly bool
}

func (p *triggerPolicy) desired(frame measurements.Frame) map[string]bool {
	out := make(map[string]bool)
	for _, c := range p.d.registry.candidates {
		next := p.trigger.Next(p.on[c.Name], p.signal(frame, c))
		p.on[c.Name] = next
		if next {
			out[c.Name] = true
		}
	}
	return out
}

// signal prefers an externally computed surface signal, then the force norm
// of the contact sensor. NaN when neither is available.
func (p *triggerPolicy) signal(frame measurements.Frame, c *Candidate) float64 {
	if !p.forceOnly {
		key := c.Surface
		if key == "" {
			key = c.Name
		}
		if s, ok := frame.Surfaces[key]; ok && s.HasSignal() {
			return s.Signal
		}
	}
	if r, ok := frame.ForceSensors[c.Sensor]; ok {
		return r.ForceNorm()
	}
	p.d.warnOnce("signal/"+c.Name, "no detection signal for contact %s", c.Name)
	return math.NaN()
}
