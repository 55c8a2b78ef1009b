package odometry

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/densevo/spatialmath"
)

// linearSystem is the host side sum of the reduction tuples of one level.
type linearSystem struct {
	jtj     *mat.SymDense
	jtr     *mat.VecDense
	err     float64
	inliers int
}

// sumTuples adds numBlocks tuples in double precision.
func sumTuples(reduction []float32, numBlocks int) *linearSystem {
	var total [tupleSize]float64
	for b := 0; b < numBlocks; b++ {
		tuple := reduction[b*tupleSize : (b+1)*tupleSize]
		for k, v := range tuple {
			total[k] += float64(v)
		}
	}
	sys := &linearSystem{
		jtj:     mat.NewSymDense(6, nil),
		jtr:     mat.NewVecDense(6, nil),
		err:     total[errorOffset],
		inliers: int(total[inliersOffset] + 0.5),
	}
	k := 0
	for i := 0; i < 6; i++ {
		for j := i; j < 6; j++ {
			sys.jtj.SetSym(i, j, total[k])
			k++
		}
		sys.jtr.SetVec(i, total[jtrOffset+i])
	}
	return sys
}

// avgError is the mean squared residual per inlier.
func (sys *linearSystem) avgError() float64 {
	if sys.inliers == 0 {
		return 0
	}
	return sys.err / float64(sys.inliers)
}

// solve returns the twist minimizing the linearized error: JtJ ξ = -Jtr. A positive
// lambda damps the system with lambda*diag(JtJ).
func (sys *linearSystem) solve(lambda float64) (spatialmath.Twist, error) {
	var xi spatialmath.Twist
	if sys.inliers == 0 {
		return xi, errors.Wrap(ErrIllConditioned, "no inliers")
	}
	a := mat.NewSymDense(6, nil)
	a.CopySym(sys.jtj)
	if lambda > 0 {
		for i := 0; i < 6; i++ {
			a.SetSym(i, i, a.At(i, i)*(1+lambda))
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return xi, errors.Wrap(ErrIllConditioned, "JtJ is not positive definite")
	}
	b := mat.NewVecDense(6, nil)
	b.ScaleVec(-1, sys.jtr)
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, b); err != nil {
		return xi, errors.Wrap(ErrIllConditioned, err.Error())
	}
	for i := range xi {
		xi[i] = x.AtVec(i)
	}
	return xi, nil
}
