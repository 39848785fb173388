package estimator

import (
	"gonum.org/v1/gonum/mat"
)

// Covariances gathers the variances used to bootstrap and drive the
// estimator. All values are variances (squared standard deviations).
type Covariances struct {
	PositionInit        float64
	OrientationInit     float64
	LinVelInit          float64
	AngVelInit          float64
	GyroBiasInit        float64
	UnmodeledForceInit  float64
	UnmodeledTorqueInit float64

	PositionProcess        float64
	OrientationProcess     float64
	LinVelProcess          float64
	AngVelProcess          float64
	GyroBiasProcess        float64
	UnmodeledForceProcess  float64
	UnmodeledTorqueProcess float64

	// First contacts are those set while no other contact is: they fix the
	// estimator's anchor and get a tighter prior than later ones.
	ContactPositionInitFirst    float64
	ContactOrientationInitFirst float64
	ContactPositionInitNew      float64
	ContactOrientationInitNew   float64
	ContactForceInit            float64
	ContactTorqueInit           float64

	ContactPositionProcess    float64
	ContactOrientationProcess float64
	ContactForceProcess       float64
	ContactTorqueProcess      float64

	AccelSensor  float64
	GyroSensor   float64
	ForceSensor  float64
	TorqueSensor float64

	// AdaptiveContactProcess lets the rest pose of a contact drift: without
	// it the pose part of ContactProcess is zero.
	AdaptiveContactProcess bool
}

// Diagonal builds a diagonal symmetric matrix.
func Diagonal(values ...float64) *mat.SymDense {
	m := mat.NewSymDense(len(values), nil)
	for i, v := range values {
		m.SetSym(i, i, v)
	}
	return m
}

// DiagonalOf returns the diagonal of a square matrix.
func DiagonalOf(m mat.Symmetric) []float64 {
	n := m.SymmetricDim()
	out := make([]float64, n)
	for i := range out {
		out[i] = m.At(i, i)
	}
	return out
}

func triple(a, b, c, d float64) []float64 {
	return []float64{a, a, a, b, b, b, c, c, c, d, d, d}
}

// ContactInit is the 12x12 initial covariance of a new contact. In flat
// odometry the rest height is known and its variance is zero.
func (c Covariances) ContactInit(first, flat bool) *mat.SymDense {
	pos, ori := c.ContactPositionInitNew, c.ContactOrientationInitNew
	if first {
		pos, ori = c.ContactPositionInitFirst, c.ContactOrientationInitFirst
	}
	m := Diagonal(triple(pos, ori, c.ContactForceInit, c.ContactTorqueInit)...)
	if flat {
		m.SetSym(2, 2, 0)
	}
	return m
}

// ContactProcess is the 12x12 process covariance of a contact.
func (c Covariances) ContactProcess() *mat.SymDense {
	pos, ori := 0.0, 0.0
	if c.AdaptiveContactProcess {
		pos, ori = c.ContactPositionProcess, c.ContactOrientationProcess
	}
	return Diagonal(triple(pos, ori, c.ContactForceProcess, c.ContactTorqueProcess)...)
}

// WrenchSensor is the 6x6 covariance of a force/torque sensor.
func (c Covariances) WrenchSensor() *mat.SymDense {
	f, t := c.ForceSensor, c.TorqueSensor
	return Diagonal(f, f, f, t, t, t)
}

// Accel is the 3x3 accelerometer covariance.
func (c Covariances) Accel() *mat.SymDense {
	return Diagonal(c.AccelSensor, c.AccelSensor, c.AccelSensor)
}

// Gyro is the 3x3 gyrometer covariance.
func (c Covariances) Gyro() *mat.SymDense {
	return Diagonal(c.GyroSensor, c.GyroSensor, c.GyroSensor)
}
