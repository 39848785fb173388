// Package sensorio reads sensor frames from recorded files and serial links.
//
// Frames travel as JSON, one object per line. Vectors are [x, y, z] arrays
// and orientations are [w, x, y, z] quaternions; a kinematics object only
// carries the fields that are valid.
package sensorio

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/floatbase/internal/kinematics"
	"github.com/banshee-data/floatbase/internal/measurements"
)

type vec3 [3]float64

func (v vec3) r3() r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

func fromR3(v r3.Vec) vec3 { return vec3{v.X, v.Y, v.Z} }

type wireKine struct {
	Pos    *vec3       `json:"pos,omitempty"`
	Quat   *[4]float64 `json:"quat,omitempty"`
	LinVel *vec3       `json:"linvel,omitempty"`
	AngVel *vec3       `json:"angvel,omitempty"`
	LinAcc *vec3       `json:"linacc,omitempty"`
	AngAcc *vec3       `json:"angacc,omitempty"`
}

func (w *wireKine) kinematics() kinematics.Kinematics {
	k := kinematics.Zero(0)
	if w == nil {
		return k
	}
	if w.Pos != nil {
		k.Position = w.Pos.r3()
		k.Flags |= kinematics.FlagPosition
	}
	if w.Quat != nil {
		q := w.Quat
		k.Orientation = kinematics.FromQuat(quat.Number{Real: q[0], Imag: q[1], Jmag: q[2], Kmag: q[3]})
		k.Flags |= kinematics.FlagOrientation
	}
	if w.LinVel != nil {
		k.LinVel = w.LinVel.r3()
		k.Flags |= kinematics.FlagLinVel
	}
	if w.AngVel != nil {
		k.AngVel = w.AngVel.r3()
		k.Flags |= kinematics.FlagAngVel
	}
	if w.LinAcc != nil {
		k.LinAcc = w.LinAcc.r3()
		k.Flags |= kinematics.FlagLinAcc
	}
	if w.AngAcc != nil {
		k.AngAcc = w.AngAcc.r3()
		k.Flags |= kinematics.FlagAngAcc
	}
	return k
}

func encodeKine(k kinematics.Kinematics) *wireKine {
	if k.Flags == 0 {
		return nil
	}
	w := &wireKine{}
	set := func(f kinematics.Flags, v r3.Vec) *vec3 {
		if !k.Has(f) {
			return nil
		}
		out := fromR3(v)
		return &out
	}
	w.Pos = set(kinematics.FlagPosition, k.Position)
	w.LinVel = set(kinematics.FlagLinVel, k.LinVel)
	w.AngVel = set(kinematics.FlagAngVel, k.AngVel)
	w.LinAcc = set(kinematics.FlagLinAcc, k.LinAcc)
	w.AngAcc = set(kinematics.FlagAngAcc, k.AngAcc)
	if k.Has(kinematics.FlagOrientation) {
		q := k.Orientation.Quat()
		w.Quat = &[4]float64{q.Real, q.Imag, q.Jmag, q.Kmag}
	}
	return w
}

type wireWrench struct {
	Force  vec3 `json:"force"`
	Torque vec3 `json:"torque"`
}

type wireIMU struct {
	Name  string    `json:"name"`
	Accel vec3      `json:"accel"`
	Gyro  vec3      `json:"gyro"`
	Fb    *wireKine `json:"fb,omitempty"`
}

type wireCoM struct {
	Pos vec3 `json:"pos"`
	Vel vec3 `json:"vel"`
	Acc vec3 `json:"acc"`
}

type wireForceSensor struct {
	Wrench wireWrench `json:"wrench"`
	Fb     *wireKine  `json:"fb,omitempty"`
	World  *wireKine  `json:"world,omitempty"`
}

type wireSurface struct {
	Sensor string    `json:"sensor"`
	Fb     *wireKine `json:"fb,omitempty"`
	World  *wireKine `json:"world,omitempty"`
	// Signal is absent when no external contact signal is available.
	Signal *float64 `json:"signal,omitempty"`
}

type wireSolverEvent struct {
	Kind    string `json:"kind"`
	Surface string `json:"surface"`
	Sensor  string `json:"sensor,omitempty"`
}

type wireFrame struct {
	Tick         int64                      `json:"tick"`
	Time         *time.Time                 `json:"time,omitempty"`
	IMUs         []wireIMU                  `json:"imus"`
	CoM          *wireCoM                   `json:"com,omitempty"`
	ForceSensors map[string]wireForceSensor `json:"force_sensors,omitempty"`
	Surfaces     map[string]wireSurface     `json:"surfaces,omitempty"`
	SolverEvents []wireSolverEvent          `json:"solver_events,omitempty"`
	Base         *wireKine                  `json:"base,omitempty"`
}

func (w wireFrame) frame() (measurements.Frame, error) {
	f := measurements.Frame{
		Tick:          w.Tick,
		BaseWorldKine: w.Base.kinematics(),
	}
	if w.Time != nil {
		f.Time = *w.Time
	}
	for _, imu := range w.IMUs {
		if imu.Name == "" {
			return f, fmt.Errorf("tick %d: imu without a name", w.Tick)
		}
		f.IMUs = append(f.IMUs, measurements.IMUReading{
			Name:   imu.Name,
			Accel:  imu.Accel.r3(),
			Gyro:   imu.Gyro.r3(),
			FbKine: imu.Fb.kinematics(),
		})
	}
	if w.CoM != nil {
		f.CoM = measurements.CenterOfMass{
			Position:     w.CoM.Pos.r3(),
			Velocity:     w.CoM.Vel.r3(),
			Acceleration: w.CoM.Acc.r3(),
		}
	}
	if len(w.ForceSensors) > 0 {
		f.ForceSensors = make(map[string]measurements.ForceSensorReading, len(w.ForceSensors))
		for name, s := range w.ForceSensors {
			f.ForceSensors[name] = measurements.ForceSensorReading{
				Wrench:    measurements.Wrench{Force: s.Wrench.Force.r3(), Torque: s.Wrench.Torque.r3()},
				FbKine:    s.Fb.kinematics(),
				WorldKine: s.World.kinematics(),
			}
		}
	}
	if len(w.Surfaces) > 0 {
		f.Surfaces = make(map[string]measurements.SurfaceReading, len(w.Surfaces))
		for name, s := range w.Surfaces {
			signal := math.NaN()
			if s.Signal != nil {
				signal = *s.Signal
			}
			f.Surfaces[name] = measurements.SurfaceReading{
				Sensor:    s.Sensor,
				FbKine:    s.Fb.kinematics(),
				WorldKine: s.World.kinematics(),
				Signal:    signal,
			}
		}
	}
	for _, ev := range w.SolverEvents {
		kind := measurements.SolverEventKind(ev.Kind)
		if kind != measurements.SolverAdd && kind != measurements.SolverRemove {
			return f, fmt.Errorf("tick %d: unknown solver event kind %q", w.Tick, ev.Kind)
		}
		f.SolverEvents = append(f.SolverEvents, measurements.SolverEvent{
			Kind:    kind,
			Surface: ev.Surface,
			Sensor:  ev.Sensor,
		})
	}
	return f, nil
}

func encodeFrame(f measurements.Frame) wireFrame {
	w := wireFrame{
		Tick: f.Tick,
		CoM: &wireCoM{
			Pos: fromR3(f.CoM.Position),
			Vel: fromR3(f.CoM.Velocity),
			Acc: fromR3(f.CoM.Acceleration),
		},
		Base: encodeKine(f.BaseWorldKine),
	}
	if !f.Time.IsZero() {
		t := f.Time
		w.Time = &t
	}
	for _, imu := range f.IMUs {
		w.IMUs = append(w.IMUs, wireIMU{
			Name:  imu.Name,
			Accel: fromR3(imu.Accel),
			Gyro:  fromR3(imu.Gyro),
			Fb:    encodeKine(imu.FbKine),
		})
	}
	if len(f.ForceSensors) > 0 {
		w.ForceSensors = make(map[string]wireForceSensor, len(f.ForceSensors))
		for name, s := range f.ForceSensors {
			w.ForceSensors[name] = wireForceSensor{
				Wrench: wireWrench{Force: fromR3(s.Wrench.Force), Torque: fromR3(s.Wrench.Torque)},
				Fb:     encodeKine(s.FbKine),
				World:  encodeKine(s.WorldKine),
			}
		}
	}
	if len(f.Surfaces) > 0 {
		w.Surfaces = make(map[string]wireSurface, len(f.Surfaces))
		for name, s := range f.Surfaces {
			ws := wireSurface{
				Sensor: s.Sensor,
				Fb:     encodeKine(s.FbKine),
				World:  encodeKine(s.WorldKine),
			}
			if s.HasSignal() {
				v := s.Signal
				ws.Signal = &v
			}
			w.Surfaces[name] = ws
		}
	}
	for _, ev := range f.SolverEvents {
		w.SolverEvents = append(w.SolverEvents, wireSolverEvent{
			Kind:    string(ev.Kind),
			Surface: ev.Surface,
			Sensor:  ev.Sensor,
		})
	}
	return w
}
