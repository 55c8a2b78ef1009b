package registration

import (
	"context"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/densevo/device"
)

// AddRigidTerm adds the point-to-plane terms between frames i and j to AtA (6F x 6F),
// Atb (6F) and residual (1), F being the number of frames. Point k of frame i, already
// in the common frame, corresponds to point k of frame j, and normalsI are the normals
// at the points of frame i. Each correspondence adds w·JᵀJ, w·Jᵀr and w·r², where
// r = nᵢ·(pⱼ - pᵢ) and J = (-Jⱼ, Jⱼ) with Jⱼ = (pⱼ × nᵢ, nᵢ) over the twists of frames i
// and j.
func AddRigidTerm(
	ctx context.Context,
	ata, atb, residual *device.Tensor,
	pointsI, pointsJ, normalsI *device.Tensor,
	i, j int,
	opts ...Option,
) error {
	ctx, span := trace.StartSpan(ctx, "registration::AddRigidTerm")
	defer span.End()

	sys, err := checkSystem(ata, atb, residual)
	if err != nil {
		return err
	}
	if sys.n%6 != 0 {
		return errors.Wrapf(device.ErrDimensionMismatch, "rigid system size %d is not a multiple of 6", sys.n)
	}
	if err := checkFrames(i, j, sys.n/6); err != nil {
		return err
	}
	corrs, err := checkCorrespondences(sys.dev, pointsI, pointsJ, normalsI)
	if err != nil {
		return err
	}
	if corrs.count == 0 {
		return nil
	}
	o := newOptions(opts)

	// column a of the 12 column Jacobian lives at row index[a] of the system
	var index [12]int
	for a := 0; a < 6; a++ {
		index[a] = 6*i + a
		index[6+a] = 6*j + a
	}
	return sys.dev.Launch1D(ctx, corrs.count, correspondenceBlockSize, func(blockNum, from, to int) {
		var (
			localAtA      [12][12]float32
			localAtb      [12]float32
			localResidual float32
			touched       bool
		)
		for k := from; k < to; k++ {
			r, jj := corrs.poseJacobian(k)
			if o.rejects(r) {
				continue
			}
			var jac [12]float64
			for a := 0; a < 6; a++ {
				jac[a] = -jj[a]
				jac[6+a] = jj[a]
			}
			for a := 0; a < 12; a++ {
				for b := 0; b < 12; b++ {
					localAtA[a][b] += float32(o.Weight * jac[a] * jac[b])
				}
				localAtb[a] += float32(o.Weight * jac[a] * r)
			}
			localResidual += float32(o.Weight * r * r)
			touched = true
		}
		if !touched {
			return
		}
		for a := 0; a < 12; a++ {
			row := index[a] * sys.n
			for b := 0; b < 12; b++ {
				device.AtomicAddFloat32(&sys.ata[row+index[b]], localAtA[a][b])
			}
			device.AtomicAddFloat32(&sys.atb[index[a]], localAtb[a])
		}
		device.AtomicAddFloat32(sys.residual, localResidual)
	})
}
