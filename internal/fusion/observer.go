// Package fusion drives one estimation cycle: contact detection, the primary
// estimator update, fault detection and the recovery through the backup
// filter.
package fusion

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/floatbase/internal/backup"
	"github.com/banshee-data/floatbase/internal/contacts"
	"github.com/banshee-data/floatbase/internal/estimator"
	"github.com/banshee-data/floatbase/internal/history"
	"github.com/banshee-data/floatbase/internal/kinematics"
	"github.com/banshee-data/floatbase/internal/measurements"
	"github.com/banshee-data/floatbase/internal/monitoring"
	"github.com/banshee-data/floatbase/internal/odometry"
)

// ErrOdometrySwitch is returned when switching to or from odometry mode
// "none" at runtime: contact references would change meaning mid-run.
var ErrOdometrySwitch = errors.New("fusion: odometry can only be switched between 6d and flat")

// Observer is the floating-base observer. Tick and the operator setters are
// serialized by one mutex, so a reader never sees a half-updated state and
// history pair.
type Observer struct {
	mu sync.Mutex

	cfg      Config
	detector *contacts.Detector
	resolver odometry.Resolver
	adapter  *estimator.Adapter
	backup   *backup.Filter
	machine  *Machine
	hist     *history.Ring[kinematics.Kinematics]
	pure     map[string]bool
	warned   map[string]bool
	// lastFb is the last known floating-base kinematics of each set contact.
	lastFb map[int]kinematics.Kinematics

	ticks     int64
	lastFault int64
	injected  bool
	started   bool
	pending   []Event
	last      Output
}

// NewObserver validates cfg and builds the observer around est. A nil est
// selects the bundled LegOdometry estimator.
func NewObserver(cfg Config, est estimator.Estimator) (*Observer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	det, err := contacts.NewDetector(cfg.Detector)
	if err != nil {
		return nil, fmt.Errorf("fusion: contacts detection: %w", err)
	}
	machine, err := NewMachine(cfg.RecoveryWindow)
	if err != nil {
		return nil, err
	}
	if est == nil {
		lo, err := estimator.NewLegOdometry(cfg.LegOdometryConfig())
		if err != nil {
			return nil, err
		}
		est = lo
	}

	o := &Observer{
		cfg:      cfg,
		detector: det,
		resolver: odometry.Resolver{Mode: cfg.Odometry, Gains: cfg.Gains, NominalHeight: cfg.NominalHeight},
		adapter:  estimator.NewAdapter(est, cfg.Covariances, cfg.Gains),
		backup:   backup.New(cfg.BackupConfig()),
		machine:  machine,
		hist:     history.NewRing[kinematics.Kinematics](cfg.HistorySize),
		pure:     make(map[string]bool),
		warned:   make(map[string]bool),
		lastFb:   make(map[int]kinematics.Kinematics),

		lastFault: -1,
	}
	for _, s := range cfg.Detector.PureInputs {
		o.pure[s] = true
	}
	monitoring.SetFusionState(string(StateNominal), AllStates...)
	return o, nil
}

func (o *Observer) warnOnce(key, format string, v ...interface{}) {
	if o.warned[key] {
		return
	}
	o.warned[key] = true
	monitoring.Warnf("[fusion] "+format, v...)
}

// Tick runs one cycle on frame. Numerical faults of the primary estimator
// are handled internally and never returned. The only error is contact
// overflow, returned with the otherwise complete output.
func (o *Observer) Tick(frame measurements.Frame) (Output, error) {
	start := time.Now()
	o.mu.Lock()
	defer o.mu.Unlock()

	o.ticks++
	est := o.adapter.Estimator()
	if !o.started {
		o.start(frame)
	}
	events := o.pending
	o.pending = nil

	var anchors []backup.Contact
	add := func(c *contacts.Contact, fb, world kinematics.Kinematics) {
		c.RestKine = o.restPose(c, fb, world)
		if err := o.adapter.Register(c, o.resolver.Mode == odometry.ModeFlat); err != nil {
			monitoring.Warnf("[fusion] %v", err)
			return
		}
		if err := o.adapter.Feed(c, fb); err != nil {
			monitoring.Warnf("[fusion] %v", err)
		}
		o.lastFb[c.ID] = fb
		anchors = append(anchors, backup.Contact{ID: c.ID, FbKine: fb})
		events = append(events, Event{Kind: EventContactAdded, Contact: c.Name, ContactID: c.ID})
	}
	cl, detErr := o.detector.Update(frame, contacts.Handlers{
		OnRemoved: func(c *contacts.Contact) {
			if err := o.adapter.Remove(c); err != nil {
				monitoring.Warnf("[fusion] %v", err)
			}
			delete(o.lastFb, c.ID)
			events = append(events, Event{Kind: EventContactRemoved, Contact: c.Name, ContactID: c.ID})
		},
		OnMaintained: func(c *contacts.Contact) {
			fb, world, ok := o.refreshContact(c, frame)
			if !ok {
				// a set contact still gets its one input: the last known
				// kinematics, without the wrench
				if last, set := o.lastFb[c.ID]; set {
					if err := o.adapter.FeedWithoutSensor(c, last); err != nil {
						monitoring.Warnf("[fusion] %v", err)
					}
					anchors = append(anchors, backup.Contact{ID: c.ID, FbKine: last})
				}
				return
			}
			e, known := est.ContactEstimate(c.ID)
			if !known {
				// kinematics were missing when the contact appeared
				add(c, fb, world)
				return
			}
			if o.resolver.Mode.Enabled() {
				c.RestKine = e.Rest
			} else {
				c.RestKine = world.Only(kinematics.FlagPose)
			}
			if err := o.adapter.Feed(c, fb); err != nil {
				monitoring.Warnf("[fusion] %v", err)
			}
			o.lastFb[c.ID] = fb
			anchors = append(anchors, backup.Contact{ID: c.ID, FbKine: fb})
		},
		OnNew: func(c *contacts.Contact) {
			if fb, world, ok := o.refreshContact(c, frame); ok {
				add(c, fb, world)
			}
		},
	})
	if detErr != nil {
		monitoring.Warnf("[fusion] tick %d: %v", o.ticks, detErr)
	}
	monitoring.ContactEventsTotal.WithLabelValues("added").Add(float64(len(cl.New)))
	monitoring.ContactEventsTotal.WithLabelValues("removed").Add(float64(len(cl.Removed)))

	imus := o.imus(frame)
	if err := o.adapter.SetInputs(imus, frame.CoM, o.additionalWrench(frame)); err != nil {
		monitoring.Warnf("[fusion] %v", err)
	}
	if _, err := est.Update(); err != nil {
		monitoring.Warnf("[fusion] tick %d: %v", o.ticks, err)
	}

	imu := measurements.IMUReading{FbKine: kinematics.Zero(kinematics.FlagPose)}
	if len(imus) > 0 {
		imu = imus[0]
	}
	o.backup.Update(imu, anchors)

	primary := o.adapter.Output()
	fault := o.injected || est.Faulted() || !primary.IsFinite()
	o.injected = false
	state, resync := o.machine.Step(fault)

	var out kinematics.Kinematics
	switch state {
	case StateNominal:
		out = primary
	case StateFaultDetected:
		warnings := o.faultWarnings()
		for _, w := range warnings {
			monitoring.Warnf("[fusion] %s", w)
		}
		out = o.withAcceleration(o.replay())
		o.resynchronize(frame, out, true)
		o.lastFault = o.ticks
		monitoring.FaultsTotal.Inc()
		monitoring.Logf("[fusion] tick %d: primary estimator fault, recovering from backup", o.ticks)
		events = append(events, Event{Kind: EventFaultEntered, Warnings: warnings})
	case StateRecovering:
		prev, err := o.hist.Back()
		if err != nil {
			prev = o.backup.Current()
		}
		out = o.withAcceleration(o.backup.ApplyLastTransformation(prev))
		if resync {
			o.resynchronize(frame, out, false)
			monitoring.Logf("[fusion] tick %d: recovery completed", o.ticks)
			events = append(events, Event{Kind: EventRecoveryCompleted})
		}
	}
	o.hist.Push(out)

	for i := range events {
		events[i].Tick = o.ticks
	}
	output := Output{
		Tick:       o.ticks,
		Time:       frame.Time,
		State:      state,
		Kinematics: out,
		Yaw:        out.Yaw(),
		Contacts:   o.contactOutputs(),
		Events:     events,
	}
	o.last = output

	monitoring.TicksTotal.Inc()
	monitoring.SetFusionState(string(state), AllStates...)
	monitoring.ActiveContacts.Set(float64(len(output.Contacts)))
	monitoring.TickDuration.Observe(time.Since(start).Seconds())

	if errors.Is(detErr, contacts.ErrTooManyContacts) {
		return output, fmt.Errorf("fusion: tick %d: %w", o.ticks, detErr)
	}
	return output, nil
}

// start seeds both estimators with the control model base pose, when the
// first frame carries one.
func (o *Observer) start(frame measurements.Frame) {
	o.started = true
	if !frame.BaseWorldKine.Has(kinematics.FlagPose) {
		return
	}
	base := frame.BaseWorldKine.Only(kinematics.FlagPose | kinematics.FlagVel)
	est := o.adapter.Estimator()
	est.SetCenterOfMass(frame.CoM)
	est.SetWorldCentroidStateKinematics(base.Compose(frame.CoM.Kinematics()), true)
	o.backup.Reset(base)
}

// refreshContact recomputes the wrench of c in its contact frame and
// returns the contact kinematics in the floating-base and world frames.
func (o *Observer) refreshContact(c *contacts.Contact, frame measurements.Frame) (fb, world kinematics.Kinematics, ok bool) {
	reading, hasSensor := frame.ForceSensors[c.Sensor]
	if c.Surface != "" {
		surf, found := frame.Surfaces[c.Surface]
		if !found {
			o.warnOnce("surface/"+c.Surface, "no kinematics for surface %s of contact %s", c.Surface, c.Name)
			return fb, world, false
		}
		fb, world = surf.FbKine, surf.WorldKine
		if hasSensor {
			c.SensorToContact = surf.FbKine.Only(kinematics.FlagPose).Inverse().Compose(reading.FbKine.Only(kinematics.FlagPose))
		}
	} else {
		if !hasSensor {
			o.warnOnce("sensor/"+c.Sensor, "no reading for sensor %s of contact %s", c.Sensor, c.Name)
			return fb, world, false
		}
		fb, world = reading.FbKine, reading.WorldKine
		c.SensorToContact = kinematics.Zero(kinematics.FlagPose)
	}
	c.Wrench = measurements.Wrench{}
	if hasSensor {
		c.Wrench = reading.Wrench.Express(c.SensorToContact)
	}
	return fb, world, true
}

// restPose is the reference pose of c in the world: the control model pose
// without odometry, the inverted contact model with it.
func (o *Observer) restPose(c *contacts.Contact, fb, world kinematics.Kinematics) kinematics.Kinematics {
	if !o.resolver.Mode.Enabled() {
		return world.Only(kinematics.FlagPose)
	}
	if !c.SensorEnabled && c.Sensor != "" {
		monitoring.Logf("[fusion] contact %s: sensor %s is disabled for the correction but still used for odometry", c.Name, c.Sensor)
	}
	return o.resolver.Rest(o.adapter.Estimator().GlobalKinematicsOf(fb), c.Wrench)
}

// imus returns the readings of the configured IMUs, in configuration order.
func (o *Observer) imus(frame measurements.Frame) []measurements.IMUReading {
	n := len(frame.IMUs)
	if n > len(o.cfg.IMUs) {
		n = len(o.cfg.IMUs)
	}
	if n == 0 {
		o.warnOnce("imu", "frame carries no IMU reading")
	}
	for i := 0; i < n; i++ {
		if name := frame.IMUs[i].Name; name != "" && name != o.cfg.IMUs[i] {
			o.warnOnce("imu/"+name, "IMU %d is %s, expected %s", i, name, o.cfg.IMUs[i])
		}
	}
	return frame.IMUs[:n]
}

// additionalWrench sums, in the floating-base frame, the wrenches measured
// by pure input sensors, by sensors no candidate uses and by the enabled
// sensors of candidates that are not in contact.
func (o *Observer) additionalWrench(frame measurements.Frame) measurements.Wrench {
	names := make([]string, 0, len(frame.ForceSensors))
	for name := range frame.ForceSensors {
		names = append(names, name)
	}
	sort.Strings(names)

	reg := o.detector.Registry()
	var sum measurements.Wrench
	for _, name := range names {
		include := o.pure[name]
		if !include {
			cand, ok := reg.Candidate(name)
			switch {
			case !ok:
				include = true
			case cand.SensorEnabled:
				c, active := reg.Active(cand.Name)
				include = !active || !c.IsSet
			}
		}
		if include {
			r := frame.ForceSensors[name]
			sum = sum.Add(r.Wrench.Express(r.FbKine.Only(kinematics.FlagPose)))
		}
	}
	return sum
}

func (o *Observer) faultWarnings() []string {
	var out []string
	if n, c := o.hist.Len(), o.hist.Cap(); n < c {
		out = append(out, fmt.Sprintf("fault at tick %d before the history filled (%d/%d cycles)", o.ticks, n, c))
	}
	if o.lastFault >= 0 && o.ticks-o.lastFault <= int64(o.machine.Window()) {
		out = append(out, fmt.Sprintf("fault at tick %d within the recovery window of the fault at tick %d", o.ticks, o.lastFault))
	}
	return out
}

// replay rebuilds the current base kinematics from the oldest history
// entry moved by the backup motion recorded since.
func (o *Observer) replay() kinematics.Kinematics {
	front, err := o.hist.Front()
	if err != nil {
		monitoring.Warnf("[fusion] tick %d: empty history, using the backup estimate as is", o.ticks)
		return o.backup.Current()
	}
	out, err := o.backup.Replay(front)
	if err != nil {
		return o.backup.Current()
	}
	return out
}

// withAcceleration completes k with accelerations differentiated from the
// last published velocities.
func (o *Observer) withAcceleration(k kinematics.Kinematics) kinematics.Kinematics {
	k = k.Only(kinematics.FlagPose | kinematics.FlagVel)
	if prev, err := o.hist.Back(); err == nil && prev.Has(kinematics.FlagVel) && k.Has(kinematics.FlagVel) {
		k.LinAcc = r3.Scale(1/o.cfg.DT, r3.Sub(k.LinVel, prev.LinVel))
		k.AngAcc = r3.Scale(1/o.cfg.DT, r3.Sub(k.AngVel, prev.AngVel))
	}
	k.Flags = kinematics.FlagAll
	return k
}

// resynchronize moves the primary estimator onto fb, the published base
// kinematics, and recomputes the contact references against it. reset also
// resets covariances, zeroes the gyro biases and the unmodeled wrench and
// clears the fault flag.
func (o *Observer) resynchronize(frame measurements.Frame, fb kinematics.Kinematics, reset bool) {
	est := o.adapter.Estimator()
	est.SetWorldCentroidStateKinematics(fb.Compose(frame.CoM.Kinematics()), reset)
	if reset {
		est.SetStateUnmodeledWrench(measurements.Wrench{}, true)
		for i := range o.cfg.IMUs {
			if err := est.SetGyroBias(i, r3.Vec{}, true); err != nil {
				monitoring.Warnf("[fusion] %v", err)
			}
		}
	}
	for _, c := range o.detector.Registry().SetContacts() {
		cfb, world, ok := o.refreshContact(c, frame)
		if !ok {
			continue
		}
		c.RestKine = o.restPose(c, cfb, world)
		if err := est.SetStateContact(c.ID, c.RestKine, c.Wrench, reset); err != nil {
			monitoring.Warnf("[fusion] resync contact %s: %v", c.Name, err)
		}
	}
	if reset {
		est.ClearFault()
	}
}

func (o *Observer) contactOutputs() []ContactOutput {
	set := o.detector.Registry().SetContacts()
	out := make([]ContactOutput, 0, len(set))
	for _, c := range set {
		e, _ := o.adapter.Estimator().ContactEstimate(c.ID)
		out = append(out, ContactOutput{Name: c.Name, ID: c.ID, SensorEnabled: c.SensorEnabled, Estimate: e})
	}
	return out
}

// SetOdometryMode switches between 6d and flat odometry. Switching to the
// current mode does nothing.
func (o *Observer) SetOdometryMode(mode odometry.Mode) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := odometry.ParseMode(string(mode)); err != nil {
		return err
	}
	if mode == o.resolver.Mode {
		return nil
	}
	if !mode.Enabled() || !o.resolver.Mode.Enabled() {
		return fmt.Errorf("%w: %s to %s", ErrOdometrySwitch, o.resolver.Mode, mode)
	}
	monitoring.Logf("[fusion] odometry switched from %s to %s", o.resolver.Mode, mode)
	o.resolver.Mode = mode
	o.pending = append(o.pending, Event{Kind: EventOdometryModeChanged, Detail: string(mode)})
	return nil
}

func (o *Observer) OdometryMode() odometry.Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resolver.Mode
}

// SetSensorEnabled toggles whether the sensor of a contact (by contact or
// sensor name) takes part in the correction step.
func (o *Observer) SetSensorEnabled(name string, enabled bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.detector.SetSensorEnabled(name, enabled); err != nil {
		return err
	}
	detail := "disabled"
	if enabled {
		detail = "enabled"
	}
	ev := Event{Kind: EventSensorToggled, Contact: name, Detail: detail}
	if c, ok := o.detector.Registry().Candidate(name); ok {
		ev.Contact = c.Name
	}
	o.pending = append(o.pending, ev)
	return nil
}

// InjectFault makes the next Tick behave as if the primary estimator had
// failed.
func (o *Observer) InjectFault() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.injected = true
}

// State returns the fusion state of the last cycle.
func (o *Observer) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.machine.State()
}

// Last returns the output of the last cycle.
func (o *Observer) Last() Output {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// History returns the published kinematics, oldest first.
func (o *Observer) History() []kinematics.Kinematics {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hist.Items()
}

// Solver returns the handle of the solver detection policy, nil for other
// policies.
func (o *Observer) Solver() *contacts.Solver { return o.detector.Solver() }

// Config returns the configuration the observer was built with.
func (o *Observer) Config() Config { return o.cfg }
