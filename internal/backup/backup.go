// Package backup implements the fallback floating-base estimator: a passive
// complementary (tilt) filter on one IMU with a contact-anchored position.
// It cannot estimate accelerations, biases on yaw or contact forces, but it
// cannot diverge either.
package backup

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/floatbase/internal/history"
	"github.com/banshee-data/floatbase/internal/kinematics"
	"github.com/banshee-data/floatbase/internal/measurements"
)

const gravity = 9.80665

// Config tunes the filter.
type Config struct {
	DT float64
	// Kp is the accelerometer feedback gain (rad/s per unit of tilt error).
	Kp float64
	// Ti is the bias integration time constant (s). Zero disables bias
	// estimation.
	Ti float64
	// Capacity of the kinematics history. Keep it one above the fusion
	// history so the oldest entries of both refer to the same cycle.
	Capacity int
}

// Contact is the kinematics of a set contact in the floating-base frame.
type Contact struct {
	ID     int
	FbKine kinematics.Kinematics
}

// Filter is the backup estimator. Not safe for concurrent use.
type Filter struct {
	cfg Config

	ori    kinematics.Rotation
	pos    r3.Vec
	linVel r3.Vec
	angVel r3.Vec
	bias   r3.Vec
	fb     r3.Vec // correction of the previous cycle

	anchors map[int]r3.Vec
	hist    *history.Ring[kinematics.Kinematics]
	updates int
}

func New(cfg Config) *Filter {
	return &Filter{
		cfg:     cfg,
		anchors: make(map[int]r3.Vec),
		hist:    history.NewRing[kinematics.Kinematics](cfg.Capacity),
	}
}

// History exposes the ring of past outputs, oldest first.
func (f *Filter) History() *history.Ring[kinematics.Kinematics] { return f.hist }

// Updates returns the number of cycles run since the last reset.
func (f *Filter) Updates() int { return f.updates }

// Reset moves the filter to k and clears its anchors and history.
func (f *Filter) Reset(k kinematics.Kinematics) {
	f.ori = k.Orientation
	f.pos = k.Position
	f.linVel, f.angVel, f.bias, f.fb = r3.Vec{}, r3.Vec{}, r3.Vec{}, r3.Vec{}
	if k.Has(kinematics.FlagLinVel) {
		f.linVel = k.LinVel
	}
	if k.Has(kinematics.FlagAngVel) {
		f.angVel = k.AngVel
	}
	f.anchors = make(map[int]r3.Vec)
	f.hist.Reset()
	f.updates = 0
}

// Bias returns the estimated gyro bias.
func (f *Filter) Bias() r3.Vec { return f.bias }

// Current returns the latest output.
func (f *Filter) Current() kinematics.Kinematics {
	return kinematics.Kinematics{
		Position:    f.pos,
		Orientation: f.ori,
		LinVel:      f.linVel,
		AngVel:      f.angVel,
		Flags:       kinematics.FlagPose | kinematics.FlagVel,
	}
}

// Update runs one cycle and records the result in the history.
func (f *Filter) Update(imu measurements.IMUReading, contacts []Contact) kinematics.Kinematics {
	dt := f.cfg.DT
	prevPos := f.pos

	gyro := imu.FbKine.Orientation.Apply(imu.Gyro)
	acc := imu.FbKine.Orientation.Apply(imu.Accel)

	// Tilt feedback from the accelerometer, only trusted near 1 g.
	w := r3.Vec{}
	if n := r3.Norm(acc); f.cfg.Kp > 0 && n > 0.5*gravity && n < 1.5*gravity {
		up := f.ori.Inverse().Apply(r3.Vec{Z: 1})
		w = r3.Scale(f.cfg.Kp, r3.Cross(r3.Scale(1/n, acc), up))
	}
	if f.cfg.Ti > 0 {
		f.bias = r3.Sub(f.bias, r3.Scale(0.5*dt/f.cfg.Ti, r3.Add(w, f.fb)))
	}
	f.fb = w
	omega := r3.Add(r3.Sub(gyro, f.bias), w)
	f.ori = f.ori.Mul(kinematics.FromRotationVector(r3.Scale(dt, omega)))
	f.angVel = f.ori.Apply(r3.Sub(gyro, f.bias))

	f.pos = f.anchoredPosition(r3.Add(f.pos, r3.Scale(dt, f.linVel)), contacts)
	if f.updates > 0 {
		f.linVel = r3.Scale(1/dt, r3.Sub(f.pos, prevPos))
	}
	f.updates++

	out := f.Current()
	f.hist.Push(out)
	return out
}

// anchoredPosition averages the base positions implied by already anchored
// contacts. New contacts are anchored where the predicted base puts them.
func (f *Filter) anchoredPosition(pred r3.Vec, contacts []Contact) r3.Vec {
	seen := make(map[int]bool, len(contacts))
	var sum r3.Vec
	n := 0
	for _, c := range contacts {
		seen[c.ID] = true
		if a, ok := f.anchors[c.ID]; ok {
			sum = r3.Add(sum, r3.Sub(a, f.ori.Apply(c.FbKine.Position)))
			n++
		}
	}
	pos := pred
	if n > 0 {
		pos = r3.Scale(1/float64(n), sum)
	}
	for _, c := range contacts {
		if _, ok := f.anchors[c.ID]; !ok {
			f.anchors[c.ID] = r3.Add(pos, f.ori.Apply(c.FbKine.Position))
		}
	}
	for id := range f.anchors {
		if !seen[id] {
			delete(f.anchors, id)
		}
	}
	return pos
}

// transfer applies the motion from→to of the backup estimate onto base.
// Velocities of to are rotated into base's frame.
func transfer(base, from, to kinematics.Kinematics) kinematics.Kinematics {
	delta := from.Only(kinematics.FlagPose).Inverse().Compose(to.Only(kinematics.FlagPose))
	out := base.Only(kinematics.FlagPose).Compose(delta)
	off := base.Orientation.Mul(from.Orientation.Inverse())
	out.LinVel = off.Apply(to.LinVel)
	out.AngVel = off.Apply(to.AngVel)
	out.Flags = kinematics.FlagPose | kinematics.FlagVel
	return out
}

// ApplyLastTransformation moves prev by the last cycle's motion of the
// backup estimate. With fewer than two entries prev is returned unchanged,
// without velocities.
func (f *Filter) ApplyLastTransformation(prev kinematics.Kinematics) kinematics.Kinematics {
	to, err := f.hist.Back()
	if err != nil {
		return prev.Only(kinematics.FlagPose)
	}
	from, err := f.hist.Previous(2)
	if err != nil {
		return prev.Only(kinematics.FlagPose)
	}
	return transfer(prev, from, to)
}

// Replay moves anchor, an estimate aligned with the oldest history entry,
// by the whole motion recorded in the history.
func (f *Filter) Replay(anchor kinematics.Kinematics) (kinematics.Kinematics, error) {
	from, err := f.hist.Front()
	if err != nil {
		return kinematics.Kinematics{}, err
	}
	to, _ := f.hist.Back()
	return transfer(anchor, from, to), nil
}

// Finite reports whether the filter state is usable.
func (f *Filter) Finite() bool {
	k := f.Current()
	return k.IsFinite() && !math.IsNaN(f.bias.X+f.bias.Y+f.bias.Z)
}
