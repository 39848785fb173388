package measurements

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/floatbase/internal/kinematics"
)

func TestWrenchExpressIdentity(t *testing.T) {
	w := Wrench{Force: r3.Vec{Z: 100}, Torque: r3.Vec{X: 1}}
	assert.Equal(t, w, w.Express(kinematics.Zero(kinematics.FlagPose)))
}

func TestWrenchExpressOffsetSensor(t *testing.T) {
	// Sensor 10 cm above the sole, rotated half a turn about z.
	s := kinematics.Zero(kinematics.FlagPose)
	s.Position = r3.Vec{Z: 0.1}
	s.Orientation = kinematics.FromAxisAngle(r3.Vec{Z: 1}, math.Pi)

	w := Wrench{Force: r3.Vec{X: 10, Z: 200}}
	got := w.Express(s)
	assert.InDelta(t, -10, got.Force.X, 1e-9)
	assert.InDelta(t, 200, got.Force.Z, 1e-9)
	// p × F_c = (0,0,0.1) × (-10,0,200) = (0,-1,0)
	assert.InDelta(t, -1, got.Torque.Y, 1e-9)
	assert.InDelta(t, 0, got.Torque.X, 1e-9)
}

func TestSurfaceReadingSignal(t *testing.T) {
	assert.False(t, SurfaceReading{Signal: math.NaN()}.HasSignal())
	assert.True(t, SurfaceReading{Signal: 0}.HasSignal())
}

func TestCenterOfMassKinematics(t *testing.T) {
	c := CenterOfMass{Position: r3.Vec{Z: 0.8}, Velocity: r3.Vec{X: 0.1}}
	k := c.Kinematics()
	assert.True(t, k.Has(kinematics.FlagPosition|kinematics.FlagLinVel))
	assert.False(t, k.Has(kinematics.FlagOrientation))
	assert.Equal(t, c.Position, k.Position)
	assert.Equal(t, 200.0, ForceSensorReading{Wrench: Wrench{Force: r3.Vec{Z: 200}}}.ForceNorm())
}
