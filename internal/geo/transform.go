package geo

import "math"

// Transform is a 4x4 row-major rigid transform in the session's world frame.
// World axes: X=east, Y=up, Z=south.
type Transform [16]float32

// IdentityTransform places an object at the world origin.
var IdentityTransform = Transform{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}

// TranslationTransform returns a transform with identity rotation.
func TranslationTransform(x, y, z float32) Transform {
	t := IdentityTransform
	t[3], t[7], t[11] = x, y, z
	return t
}

// Translation returns the transform's position component.
func (t Transform) Translation() (x, y, z float32) {
	return t[3], t[7], t[11]
}

// RotationTransform builds a transform from a quaternion and a position.
func RotationTransform(q Quaternion, x, y, z float32) Transform {
	qx, qy, qz, qw := q.X, q.Y, q.Z, q.W
	return Transform{
		1 - 2*(qy*qy+qz*qz), 2 * (qx*qy - qz*qw), 2 * (qx*qz + qy*qw), x,
		2 * (qx*qy + qz*qw), 1 - 2*(qx*qx+qz*qz), 2 * (qy*qz - qx*qw), y,
		2 * (qx*qz - qy*qw), 2 * (qy*qz + qx*qw), 1 - 2*(qx*qx+qy*qy), z,
		0, 0, 0, 1,
	}
}

// Rotation extracts the rotation component as a unit quaternion.
func (t Transform) Rotation() Quaternion {
	m00, m01, m02 := float64(t[0]), float64(t[1]), float64(t[2])
	m10, m11, m12 := float64(t[4]), float64(t[5]), float64(t[6])
	m20, m21, m22 := float64(t[8]), float64(t[9]), float64(t[10])

	var x, y, z, w float64
	switch trace := m00 + m11 + m22; {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		w = 0.25 / s
		x = (m21 - m12) * s
		y = (m02 - m20) * s
		z = (m10 - m01) * s
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		w = (m21 - m12) / s
		x = 0.25 * s
		y = (m01 + m10) / s
		z = (m02 + m20) / s
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		w = (m02 - m20) / s
		x = (m01 + m10) / s
		y = 0.25 * s
		z = (m12 + m21) / s
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		w = (m10 - m01) / s
		x = (m02 + m20) / s
		y = (m12 + m21) / s
		z = 0.25 * s
	}
	return Quaternion{X: float32(x), Y: float32(y), Z: float32(z), W: float32(w)}
}
