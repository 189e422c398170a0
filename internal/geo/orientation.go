package geo

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Quaternion is a single-precision rotation in the east-up-south frame.
type Quaternion struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
	W float32 `json:"w"`
}

// IdentityQuaternion is the zero rotation.
var IdentityQuaternion = Quaternion{W: 1}

// QuaternionFromNumber narrows a gonum quaternion to single precision.
func QuaternionFromNumber(n quat.Number) Quaternion {
	return Quaternion{
		X: float32(n.Imag),
		Y: float32(n.Jmag),
		Z: float32(n.Kmag),
		W: float32(n.Real),
	}
}

// Number widens q to a gonum quaternion.
func (q Quaternion) Number() quat.Number {
	return quat.Number{
		Real: float64(q.W),
		Imag: float64(q.X),
		Jmag: float64(q.Y),
		Kmag: float64(q.Z),
	}
}

// Norm returns the quaternion magnitude.
func (q Quaternion) Norm() float64 {
	return quat.Abs(q.Number())
}

// ApproxEqual reports whether q and r describe the same rotation within eps.
// q and -q are the same rotation.
func (q Quaternion) ApproxEqual(r Quaternion, eps float64) bool {
	d := quat.Abs(quat.Sub(q.Number(), r.Number()))
	s := quat.Abs(quat.Add(q.Number(), r.Number()))
	return d <= eps || s <= eps
}

func (q Quaternion) String() string {
	return fmt.Sprintf("(%g, %g, %g, %g)", q.X, q.Y, q.Z, q.W)
}

// HeadingToQuaternion converts a compass heading in degrees to a rotation
// about the vertical (up) axis of the east-up-south frame. The marker model's
// forward axis points opposite to the heading convention, hence 180-heading.
//
// Saved and restored anchors go through this same function, so a restored
// anchor renders with exactly the rotation it was placed with.
func HeadingToQuaternion(heading float64) Quaternion {
	angle := (math.Pi / 180.0) * (180.0 - heading)
	half := angle / 2
	return QuaternionFromNumber(quat.Number{
		Real: math.Cos(half),
		Jmag: math.Sin(half),
	})
}

// Orientation is exactly one of a compass heading or a raw quaternion,
// matching how the anchor was created.
type Orientation struct {
	heading    float64
	quaternion Quaternion
	useHeading bool
}

// HeadingOrientation builds a heading-authoritative orientation.
func HeadingOrientation(degrees float64) Orientation {
	return Orientation{heading: degrees, useHeading: true}
}

// QuaternionOrientation builds a quaternion-authoritative orientation.
func QuaternionOrientation(q Quaternion) Orientation {
	return Orientation{quaternion: q}
}

// IsHeading reports whether the heading is authoritative.
func (o Orientation) IsHeading() bool { return o.useHeading }

// Heading returns the heading and true when the heading is authoritative.
func (o Orientation) Heading() (float64, bool) {
	return o.heading, o.useHeading
}

// RawQuaternion returns the quaternion and true when the quaternion is
// authoritative.
func (o Orientation) RawQuaternion() (Quaternion, bool) {
	return o.quaternion, !o.useHeading
}

// Quaternion resolves the orientation to the rotation handed to the
// positioning subsystem.
func (o Orientation) Quaternion() Quaternion {
	if o.useHeading {
		return HeadingToQuaternion(o.heading)
	}
	return o.quaternion
}

func (o Orientation) String() string {
	if o.useHeading {
		return fmt.Sprintf("heading(%.1f°)", o.heading)
	}
	return "quaternion" + o.quaternion.String()
}
