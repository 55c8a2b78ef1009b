// Package spatialmath defines the rigid motion math used by odometry: twists, the SE(3)
// exponential and conversions between host and device transforms.
package spatialmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/floats"
)

// Below this rotation angle the exponential map switches to its Taylor expansion.
const smallAngle = 1e-4

// Twist is an element of se(3) ordered as (ω, ν): the angular part first, then the
// linear part. It acts on a point as p ← p + ν + ω × p.
type Twist [6]float64

// NewTwist creates a twist from its angular and linear parts.
func NewTwist(omega, nu r3.Vector) Twist {
	return Twist{omega.X, omega.Y, omega.Z, nu.X, nu.Y, nu.Z}
}

// Angular returns ω.
func (xi Twist) Angular() r3.Vector {
	return r3.Vector{X: xi[0], Y: xi[1], Z: xi[2]}
}

// Linear returns ν.
func (xi Twist) Linear() r3.Vector {
	return r3.Vector{X: xi[3], Y: xi[4], Z: xi[5]}
}

// Norm returns the euclidean norm of all six components.
func (xi Twist) Norm() float64 {
	return floats.Norm(xi[:], 2)
}

func skew(w r3.Vector) mgl64.Mat3 {
	// column major
	return mgl64.Mat3{
		0, w.Z, -w.Y,
		-w.Z, 0, w.X,
		w.Y, -w.X, 0,
	}
}

// Exp maps the twist to a rigid transform using Rodrigues' formula for the rotation
// and the left Jacobian of SO(3) for the translation.
func (xi Twist) Exp() mgl64.Mat4 {
	omega := xi.Angular()
	theta := omega.Norm()
	w := skew(omega)
	w2 := w.Mul3(w)

	var a, b, c float64
	if theta < smallAngle {
		theta2 := theta * theta
		a = 1 - theta2/6
		b = 0.5 - theta2/24
		c = 1.0/6 - theta2/120
	} else {
		a = math.Sin(theta) / theta
		half := math.Sin(theta / 2)
		b = 2 * half * half / (theta * theta)
		c = (theta - math.Sin(theta)) / (theta * theta * theta)
	}
	ident := mgl64.Ident3()
	rot := ident.Add(w.Mul(a)).Add(w2.Mul(b))
	v := ident.Add(w.Mul(b)).Add(w2.Mul(c))
	trans := v.Mul3x1(mgl64.Vec3{xi[3], xi[4], xi[5]})
	return NewTransform(rot, trans)
}
