package kinematics

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Transform is the pose of a child frame in its parent frame.
type Transform struct {
	Rotation    Rotation
	Translation r3.Vec
}

// IdentityTransform returns the transform of a frame onto itself.
func IdentityTransform() Transform {
	return Transform{Rotation: Identity()}
}

// TransformFromMatrix builds a transform from a 3x3 rotation matrix and a
// translation.
func TransformFromMatrix(rot mat.Matrix, translation r3.Vec) Transform {
	return Transform{Rotation: FromMatrix(rot), Translation: translation}
}

// Motion is a spatial velocity or acceleration: angular and linear parts.
type Motion struct {
	Angular r3.Vec
	Linear  r3.Vec
}

// FromTransform converts a pose into kinematics. Fields in extra beyond
// the pose are flagged valid and set to zero, which is how a frame rigidly
// attached to its parent is described.
func FromTransform(t Transform, extra Flags) Kinematics {
	k := Zero(FlagPose | extra)
	k.Position = t.Translation
	k.Orientation = t.Rotation
	return k
}

// FromTransformMotion converts a pose and its velocity into kinematics.
// When local is true vel is expressed in the child frame and is rotated
// into the parent frame; otherwise it is already expressed in the parent.
// acc may be nil, in which case no acceleration is flagged.
func FromTransformMotion(t Transform, vel Motion, acc *Motion, local bool) Kinematics {
	k := FromTransform(t, FlagVel)
	if local {
		k.AngVel = t.Rotation.Apply(vel.Angular)
		k.LinVel = t.Rotation.Apply(vel.Linear)
	} else {
		k.AngVel = vel.Angular
		k.LinVel = vel.Linear
	}
	if acc != nil {
		k.Flags |= FlagAcc
		if local {
			k.AngAcc = t.Rotation.Apply(acc.Angular)
			k.LinAcc = t.Rotation.Apply(acc.Linear)
		} else {
			k.AngAcc = acc.Angular
			k.LinAcc = acc.Linear
		}
	}
	return k
}

// Transform returns the pose part of k.
func (k Kinematics) Transform() Transform {
	return Transform{Rotation: k.Orientation, Translation: k.Position}
}

// Velocity returns the velocity part of k, expressed in the parent frame.
func (k Kinematics) Velocity() Motion {
	return Motion{Angular: k.AngVel, Linear: k.LinVel}
}

// Acceleration returns the acceleration part of k, expressed in the parent frame.
func (k Kinematics) Acceleration() Motion {
	return Motion{Angular: k.AngAcc, Linear: k.LinAcc}
}
