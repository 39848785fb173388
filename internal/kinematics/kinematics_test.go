package kinematics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/floatbase/internal/testutil"
)

const tol = 1e-9

func assertVec(t *testing.T, want, got r3.Vec, msg string) {
	t.Helper()
	testutil.AssertVecNear(t, want, got, tol, msg)
}

func sample() Kinematics {
	return Kinematics{
		Position:    r3.Vec{X: 0.3, Y: -1.2, Z: 0.8},
		Orientation: FromAxisAngle(r3.Vec{X: 1, Y: 2, Z: -0.5}, 0.7),
		LinVel:      r3.Vec{X: 0.1, Y: 0.2, Z: -0.3},
		AngVel:      r3.Vec{X: -0.4, Y: 0.25, Z: 0.9},
		LinAcc:      r3.Vec{X: 1.5, Y: -0.2, Z: 0.05},
		AngAcc:      r3.Vec{X: 0.3, Y: 0.1, Z: -0.6},
		Flags:       FlagAll,
	}
}

func TestRotationApplyMatchesMatrix(t *testing.T) {
	r := FromAxisAngle(r3.Vec{Z: 1}, math.Pi/2)
	assertVec(t, r3.Vec{Y: 1}, r.Apply(r3.Vec{X: 1}), "x axis")

	m := r.Matrix()
	v := r3.Vec{X: 0.2, Y: -3, Z: 1.1}
	got := r.Apply(v)
	assert.InDelta(t, m.At(0, 0)*v.X+m.At(0, 1)*v.Y+m.At(0, 2)*v.Z, got.X, tol)
	assert.InDelta(t, m.At(1, 0)*v.X+m.At(1, 1)*v.Y+m.At(1, 2)*v.Z, got.Y, tol)
	assert.InDelta(t, m.At(2, 0)*v.X+m.At(2, 1)*v.Y+m.At(2, 2)*v.Z, got.Z, tol)
}

func TestRotationMatrixRoundTrip(t *testing.T) {
	for _, angle := range []float64{0, 0.3, 1.5, 3.0} {
		r := FromAxisAngle(r3.Vec{X: 0.2, Y: -1, Z: 0.4}, angle)
		back := FromMatrix(r.Matrix())
		assert.InDelta(t, 0, r.Angle(back), 1e-7, "angle %v", angle)
	}
}

func TestZeroValueRotationIsIdentity(t *testing.T) {
	var r Rotation
	v := r3.Vec{X: 1, Y: 2, Z: 3}
	assert.Equal(t, v, r.Apply(v))
	axis, angle := r.AxisAngle()
	assert.Equal(t, 0.0, angle)
	assert.Equal(t, r3.Vec{Z: 1}, axis)
}

func TestRotationVectorRoundTrip(t *testing.T) {
	v := r3.Vec{X: 0.1, Y: -0.4, Z: 0.25}
	assertVec(t, v, FromRotationVector(v).RotationVector(), "log(exp(v))")
}

func TestComposeWithInverseIsZero(t *testing.T) {
	k := sample()
	id := k.Compose(k.Inverse())
	assertVec(t, r3.Vec{}, id.Position, "position")
	assertVec(t, r3.Vec{}, id.LinVel, "linVel")
	assertVec(t, r3.Vec{}, id.AngVel, "angVel")
	assertVec(t, r3.Vec{}, id.LinAcc, "linAcc")
	assertVec(t, r3.Vec{}, id.AngAcc, "angAcc")
	assert.InDelta(t, 0, id.Orientation.Angle(Identity()), 1e-7)

	id = k.Inverse().Compose(k)
	assertVec(t, r3.Vec{}, id.Position, "position (left inverse)")
	assertVec(t, r3.Vec{}, id.LinAcc, "linAcc (left inverse)")
}

func TestComposeIsAssociative(t *testing.T) {
	a := sample()
	b := Kinematics{
		Position:    r3.Vec{X: -0.5, Z: 0.1},
		Orientation: FromAxisAngle(r3.Vec{Y: 1}, -0.4),
		LinVel:      r3.Vec{X: 0.05},
		AngVel:      r3.Vec{Z: 0.2},
		Flags:       FlagPose | FlagVel,
	}
	c := Kinematics{
		Position:    r3.Vec{Y: 0.2},
		Orientation: FromAxisAngle(r3.Vec{X: 1}, 0.1),
		LinAcc:      r3.Vec{Z: -9.81},
		Flags:       FlagPose | FlagAcc,
	}
	left := a.Compose(b).Compose(c)
	right := a.Compose(b.Compose(c))
	assertVec(t, left.Position, right.Position, "position")
	assertVec(t, left.LinVel, right.LinVel, "linVel")
	assertVec(t, left.AngVel, right.AngVel, "angVel")
	assertVec(t, left.LinAcc, right.LinAcc, "linAcc")
	assertVec(t, left.AngAcc, right.AngAcc, "angAcc")
	assert.InDelta(t, 0, left.Orientation.Angle(right.Orientation), 1e-7)
	assert.Equal(t, FlagAll, left.Flags)
}

func TestComposeRotatingFrame(t *testing.T) {
	// A point fixed one metre along x of a frame spinning at 1 rad/s about z.
	spin := Zero(FlagAll)
	spin.AngVel = r3.Vec{Z: 1}
	point := FromTransform(Transform{Rotation: Identity(), Translation: r3.Vec{X: 1}}, FlagVel|FlagAcc)

	world := spin.Compose(point)
	assertVec(t, r3.Vec{Y: 1}, world.LinVel, "tangential velocity")
	assertVec(t, r3.Vec{X: -1}, world.LinAcc, "centripetal acceleration")
}

func TestOnlyMasksFields(t *testing.T) {
	k := sample().Only(FlagPose)
	assert.True(t, k.Has(FlagPose))
	assert.False(t, k.Has(FlagLinVel))
	assert.Equal(t, r3.Vec{}, k.LinVel)
	assert.Equal(t, sample().Position, k.Position)
}

func TestIsFinite(t *testing.T) {
	k := sample()
	require.True(t, k.IsFinite())
	k.LinVel.Y = math.NaN()
	assert.False(t, k.IsFinite())

	k = sample()
	k.Orientation = FromAxisAngle(r3.Vec{X: 1}, math.Inf(1))
	assert.False(t, k.IsFinite())
}

func TestFromTransformMotionLocal(t *testing.T) {
	tr := Transform{Rotation: FromAxisAngle(r3.Vec{Z: 1}, math.Pi/2), Translation: r3.Vec{X: 2}}
	k := FromTransformMotion(tr, Motion{Linear: r3.Vec{X: 1}}, nil, true)
	assertVec(t, r3.Vec{Y: 1}, k.LinVel, "local velocity rotated into parent")
	assert.False(t, k.Has(FlagLinAcc))

	k = FromTransformMotion(tr, Motion{Linear: r3.Vec{X: 1}}, &Motion{Angular: r3.Vec{Z: 3}}, false)
	assertVec(t, r3.Vec{X: 1}, k.LinVel, "global velocity kept")
	assertVec(t, r3.Vec{Z: 3}, k.AngAcc, "global acceleration kept")
	assert.True(t, k.Has(FlagAll))
	assert.Equal(t, tr.Translation, k.Transform().Translation)
}

func TestYaw(t *testing.T) {
	assert.InDelta(t, 0.8, FromAxisAngle(r3.Vec{Z: 1}, 0.8).Yaw(), tol)
	pitchedUp := FromAxisAngle(r3.Vec{Z: 1}, 0.5).Mul(FromAxisAngle(r3.Vec{Y: 1}, -math.Pi/2))
	assert.InDelta(t, 0.5, pitchedUp.Yaw(), 1e-6)
}
