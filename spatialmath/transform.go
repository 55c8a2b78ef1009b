package spatialmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// DefaultRigidTolerance bounds |RᵀR - I| and |det R - 1| for IsRigid.
const DefaultRigidTolerance = 1e-6

// NewTransform builds a homogeneous transform from a rotation and a translation.
func NewTransform(rot mgl64.Mat3, trans mgl64.Vec3) mgl64.Mat4 {
	m := rot.Mat4()
	m.SetCol(3, mgl64.Vec4{trans[0], trans[1], trans[2], 1})
	return m
}

// Rotation returns the upper-left 3x3 block of m.
func Rotation(m mgl64.Mat4) mgl64.Mat3 {
	return m.Mat3()
}

// Translation returns the translation column of m.
func Translation(m mgl64.Mat4) mgl64.Vec3 {
	return m.Col(3).Vec3()
}

// OrIdentity returns the identity for the zero matrix and m otherwise.
func OrIdentity(m mgl64.Mat4) mgl64.Mat4 {
	if m == (mgl64.Mat4{}) {
		return mgl64.Ident4()
	}
	return m
}

// IsRigid reports whether m is a rigid transform: an orthonormal rotation with
// determinant one and a last row of (0, 0, 0, 1), all within tol.
func IsRigid(m mgl64.Mat4, tol float64) bool {
	for c := 0; c < 3; c++ {
		if math.Abs(m.At(3, c)) > tol {
			return false
		}
	}
	if math.Abs(m.At(3, 3)-1) > tol {
		return false
	}
	rot := Rotation(m)
	rtr := rot.Transpose().Mul3(rot)
	if !rtr.ApproxEqualThreshold(mgl64.Ident3(), tol) {
		return false
	}
	return math.Abs(rot.Det()-1) <= tol
}

// TransformPoint applies m to p.
func TransformPoint(m mgl64.Mat4, p r3.Vector) r3.Vector {
	out := m.Mul4x1(mgl64.Vec4{p.X, p.Y, p.Z, 1})
	return r3.Vector{X: out[0], Y: out[1], Z: out[2]}
}

// DeviceTransform is the single precision rotation and translation handed to kernels.
type DeviceTransform struct {
	R mgl32.Mat3
	T mgl32.Vec3
}

// ToDevice converts a host transform to single precision.
func ToDevice(m mgl64.Mat4) DeviceTransform {
	var dt DeviceTransform
	rot := Rotation(m)
	for i := range rot {
		dt.R[i] = float32(rot[i])
	}
	trans := Translation(m)
	for i := range trans {
		dt.T[i] = float32(trans[i])
	}
	return dt
}

// Apply returns R·p + t.
func (dt DeviceTransform) Apply(p mgl32.Vec3) mgl32.Vec3 {
	return dt.R.Mul3x1(p).Add(dt.T)
}

// RotationToQuat converts a rotation matrix to a unit quaternion with a non-negative
// real part.
func RotationToQuat(rot mgl64.Mat3) quat.Number {
	m := func(r, c int) float64 { return rot.At(r, c) }
	var q quat.Number
	trace := m(0, 0) + m(1, 1) + m(2, 2)
	switch {
	case trace > 0:
		s := 2 * math.Sqrt(trace+1)
		q = quat.Number{Real: s / 4, Imag: (m(2, 1) - m(1, 2)) / s, Jmag: (m(0, 2) - m(2, 0)) / s, Kmag: (m(1, 0) - m(0, 1)) / s}
	case m(0, 0) > m(1, 1) && m(0, 0) > m(2, 2):
		s := 2 * math.Sqrt(1+m(0, 0)-m(1, 1)-m(2, 2))
		q = quat.Number{Real: (m(2, 1) - m(1, 2)) / s, Imag: s / 4, Jmag: (m(0, 1) + m(1, 0)) / s, Kmag: (m(0, 2) + m(2, 0)) / s}
	case m(1, 1) > m(2, 2):
		s := 2 * math.Sqrt(1+m(1, 1)-m(0, 0)-m(2, 2))
		q = quat.Number{Real: (m(0, 2) - m(2, 0)) / s, Imag: (m(0, 1) + m(1, 0)) / s, Jmag: s / 4, Kmag: (m(1, 2) + m(2, 1)) / s}
	default:
		s := 2 * math.Sqrt(1+m(2, 2)-m(0, 0)-m(1, 1))
		q = quat.Number{Real: (m(1, 0) - m(0, 1)) / s, Imag: (m(0, 2) + m(2, 0)) / s, Jmag: (m(1, 2) + m(2, 1)) / s, Kmag: s / 4}
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return quat.Scale(1/quat.Abs(q), q)
}

// RotationDistance returns the Frobenius norm of a - b.
func RotationDistance(a, b mgl64.Mat3) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
