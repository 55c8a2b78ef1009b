package registration

import (
	"context"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"gorgonia.org/tensor"

	"go.viam.com/densevo/device"
)

// NumGridNeighbors is the number of control grid nodes interpolated for every point.
const NumGridNeighbors = 8

// slacEntries is the most system rows one correspondence touches: two poses and eight
// grid nodes of three coordinates for each of the two points.
const slacEntries = 12 + 2*3*NumGridNeighbors

// AddSLACTerm adds the point-to-plane terms between frames i and j to a system whose
// first 6F rows are the frame twists and whose last 3K rows are the displacements of
// the K control grid nodes. gridPositions holds the current displacement of every node
// from its rest lattice position, in frame coordinates, and RiT and RjT are the
// transposed rotations of frames i and j. Points and normals are in world
// coordinates; a point of frame i is deformed to pᵢ + Rᵢ·Σ ratioₖ·Cₖ over the
// NumGridNeighbors nodes in nbIdxI with the ratios in nbRatioI, and likewise for j.
// The pose columns are those of AddRigidTerm at the deformed points; node k of point i
// adds -ratio·Rᵢᵀnᵢ and node k of point j adds ratio·Rⱼᵀnᵢ at rows 6F+3k to 6F+3k+2.
func AddSLACTerm(
	ctx context.Context,
	ata, atb, residual *device.Tensor,
	pointsI, pointsJ, normalsI *device.Tensor,
	nbIdxI, nbIdxJ *device.Tensor,
	nbRatioI, nbRatioJ *device.Tensor,
	gridPositions *device.Tensor,
	riT, rjT *device.Tensor,
	i, j int,
	opts ...Option,
) error {
	ctx, span := trace.StartSpan(ctx, "registration::AddSLACTerm")
	defer span.End()

	sys, err := checkSystem(ata, atb, residual)
	if err != nil {
		return err
	}
	corrs, err := checkCorrespondences(sys.dev, pointsI, pointsJ, normalsI)
	if err != nil {
		return err
	}
	if err := checkTensor("grid positions", gridPositions, tensor.Float32, sys.dev, -1, 3); err != nil {
		return err
	}
	numNodes := gridPositions.Shape()[0]
	poseRows := sys.n - 3*numNodes
	if poseRows < 0 || poseRows%6 != 0 {
		return errors.Wrapf(device.ErrDimensionMismatch,
			"system size %d does not hold 6 rows per frame and 3 rows for each of %d grid nodes", sys.n, numNodes)
	}
	if err := checkFrames(i, j, poseRows/6); err != nil {
		return err
	}
	for _, nb := range []struct {
		name   string
		idx    *device.Tensor
		ratios *device.Tensor
	}{
		{"neighbor indices i", nbIdxI, nbRatioI},
		{"neighbor indices j", nbIdxJ, nbRatioJ},
	} {
		if err := checkTensor(nb.name, nb.idx, tensor.Int32, sys.dev, corrs.count, NumGridNeighbors); err != nil {
			return err
		}
		if err := checkTensor(nb.name+" ratios", nb.ratios, tensor.Float32, sys.dev, corrs.count, NumGridNeighbors); err != nil {
			return err
		}
		for _, idx := range nb.idx.Int32s() {
			if idx < 0 || int(idx) >= numNodes {
				return errors.Wrapf(device.ErrDimensionMismatch, "%s has node %d, grid has %d nodes", nb.name, idx, numNodes)
			}
		}
	}
	if err := checkTensor("R_i transpose", riT, tensor.Float32, sys.dev, 3, 3); err != nil {
		return err
	}
	if err := checkTensor("R_j transpose", rjT, tensor.Float32, sys.dev, 3, 3); err != nil {
		return err
	}
	if corrs.count == 0 {
		return nil
	}
	o := newOptions(opts)
	rotI, rotJ := riT.Float32s(), rjT.Float32s()
	idxI, idxJ := nbIdxI.Int32s(), nbIdxJ.Int32s()
	ratioI, ratioJ := nbRatioI.Float32s(), nbRatioJ.Float32s()
	grid := gridPositions.Float32s()

	return sys.dev.Launch1D(ctx, corrs.count, correspondenceBlockSize, func(blockNum, from, to int) {
		var (
			rows [slacEntries]int
			jac  [slacEntries]float64
		)
		for k := from; k < to; k++ {
			n := vec3(corrs.normals, k)
			pi := vec3(corrs.pointsI, k).Add(mulMat3T(rotI, interpolate(grid, idxI, ratioI, k)))
			pj := vec3(corrs.pointsJ, k).Add(mulMat3T(rotJ, interpolate(grid, idxJ, ratioJ, k)))
			r, jj := pointToPlane(pi, pj, n)
			if o.rejects(r) {
				continue
			}
			m := 0
			for a := 0; a < 6; a++ {
				rows[m], jac[m] = 6*i+a, -jj[a]
				rows[m+1], jac[m+1] = 6*j+a, jj[a]
				m += 2
			}
			m = addGridColumns(rows[:], jac[:], m, poseRows, idxI, ratioI, k, mulMat3(rotI, n).Mul(-1))
			m = addGridColumns(rows[:], jac[:], m, poseRows, idxJ, ratioJ, k, mulMat3(rotJ, n))

			for a := 0; a < m; a++ {
				row := rows[a] * sys.n
				for b := 0; b < m; b++ {
					device.AtomicAddFloat32(&sys.ata[row+rows[b]], float32(o.Weight*jac[a]*jac[b]))
				}
				device.AtomicAddFloat32(&sys.atb[rows[a]], float32(o.Weight*jac[a]*r))
			}
			device.AtomicAddFloat32(sys.residual, float32(o.Weight*r*r))
		}
	})
}

// addGridColumns appends the grid columns of one point, ratio·dir for every neighbor
// with a non-zero ratio, and returns the new number of columns.
func addGridColumns(rows []int, jac []float64, m, poseRows int, idx []int32, ratios []float32, k int, dir r3.Vector) int {
	for nb := 0; nb < NumGridNeighbors; nb++ {
		ratio := float64(ratios[k*NumGridNeighbors+nb])
		if ratio == 0 {
			continue
		}
		base := poseRows + 3*int(idx[k*NumGridNeighbors+nb])
		scaled := dir.Mul(ratio)
		rows[m], jac[m] = base, scaled.X
		rows[m+1], jac[m+1] = base+1, scaled.Y
		rows[m+2], jac[m+2] = base+2, scaled.Z
		m += 3
	}
	return m
}

// interpolate returns the ratio weighted sum of the grid displacements around point k.
func interpolate(grid []float32, idx []int32, ratios []float32, k int) r3.Vector {
	var sum r3.Vector
	for nb := 0; nb < NumGridNeighbors; nb++ {
		ratio := float64(ratios[k*NumGridNeighbors+nb])
		if ratio == 0 {
			continue
		}
		sum = sum.Add(vec3(grid, int(idx[k*NumGridNeighbors+nb])).Mul(ratio))
	}
	return sum
}

// mulMat3T multiplies the transpose of the row-major 3x3 matrix m by v.
func mulMat3T(m []float32, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: float64(m[0])*v.X + float64(m[3])*v.Y + float64(m[6])*v.Z,
		Y: float64(m[1])*v.X + float64(m[4])*v.Y + float64(m[7])*v.Z,
		Z: float64(m[2])*v.X + float64(m[5])*v.Y + float64(m[8])*v.Z,
	}
}

// mulMat3 multiplies the row-major 3x3 matrix m by v.
func mulMat3(m []float32, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: float64(m[0])*v.X + float64(m[1])*v.Y + float64(m[2])*v.Z,
		Y: float64(m[3])*v.X + float64(m[4])*v.Y + float64(m[5])*v.Z,
		Z: float64(m[6])*v.X + float64(m[7])*v.Y + float64(m[8])*v.Z,
	}
}
