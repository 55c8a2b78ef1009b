package registration

import (
	"context"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/densevo/device"
)

func rotationTransposeTensor(dev device.Device, rot mgl64.Mat3) *device.Tensor {
	data := make([]float32, 9)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			// transposed, row-major
			data[r*3+c] = float32(rot.At(c, r))
		}
	}
	return device.FromFloat32(dev, data, 3, 3)
}

type slacNeighbors struct {
	idxI, idxJ, ratioI, ratioJ *device.Tensor
}

// singleNodeNeighbors puts all the interpolation weight of the only point of each frame
// on one grid node.
func singleNodeNeighbors(dev device.Device, nodeI, nodeJ int32) slacNeighbors {
	idxI := make([]int32, NumGridNeighbors)
	idxJ := make([]int32, NumGridNeighbors)
	ratioI := make([]float32, NumGridNeighbors)
	ratioJ := make([]float32, NumGridNeighbors)
	for k := range idxI {
		idxI[k], idxJ[k] = int32(k%4), int32((k+1)%4)
	}
	idxI[0], idxJ[0] = nodeI, nodeJ
	ratioI[0], ratioJ[0] = 1, 1
	return slacNeighbors{
		idxI:   device.FromInt32(dev, idxI, 1, NumGridNeighbors),
		idxJ:   device.FromInt32(dev, idxJ, 1, NumGridNeighbors),
		ratioI: device.FromFloat32(dev, ratioI, 1, NumGridNeighbors),
		ratioJ: device.FromFloat32(dev, ratioJ, 1, NumGridNeighbors),
	}
}

func TestSLACTermReducesToRigid(t *testing.T) {
	dev := device.Default
	ctx := context.Background()
	const numFrames, numNodes, i, j = 2, 4, 1, 0
	const nodeI, nodeJ = 2, 1
	poseRows := 6 * numFrames
	n := poseRows + 3*numNodes

	pi, pj, normal := r3.Vector{X: 0.2, Y: -0.1, Z: 1.5}, r3.Vector{X: 0.21, Y: -0.08, Z: 1.52}, r3.Vector{X: 0.6, Y: 0, Z: 0.8}
	tpi, tpj, tn := pointsTensor(dev, pi), pointsTensor(dev, pj), pointsTensor(dev, normal)
	grid := device.Zeros(dev, numNodes, 3)
	rotI, rotJ := mgl64.Rotate3DZ(0.3), mgl64.Rotate3DX(-0.2)
	nb := singleNodeNeighbors(dev, nodeI, nodeJ)

	slac := newSystem(dev, n)
	err := AddSLACTerm(ctx, slac.ata, slac.atb, slac.residual, tpi, tpj, tn,
		nb.idxI, nb.idxJ, nb.ratioI, nb.ratioJ, grid,
		rotationTransposeTensor(dev, rotI), rotationTransposeTensor(dev, rotJ), i, j)
	test.That(t, err, test.ShouldBeNil)

	rigid := newSystem(dev, poseRows)
	test.That(t, AddRigidTerm(ctx, rigid.ata, rigid.atb, rigid.residual, tpi, tpj, tn, i, j), test.ShouldBeNil)

	ata := slac.ata.Float32s()
	for a := 0; a < poseRows; a++ {
		for b := 0; b < poseRows; b++ {
			test.That(t, float64(ata[a*n+b]), test.ShouldAlmostEqual, float64(rigid.ata.Float32s()[a*poseRows+b]), 1e-6)
		}
		test.That(t, float64(slac.atb.Float32s()[a]), test.ShouldAlmostEqual, float64(rigid.atb.Float32s()[a]), 1e-7)
	}
	test.That(t, slac.residual.Float32s()[0], test.ShouldEqual, rigid.residual.Float32s()[0])

	// grid columns: -Rᵢᵀn at node i, Rⱼᵀn at node j
	r, jac := rigidJacobian(pi, pj, normal)
	dirI := rotI.Transpose().Mul3x1(mgl64.Vec3{normal.X, normal.Y, normal.Z}).Mul(-1)
	dirJ := rotJ.Transpose().Mul3x1(mgl64.Vec3{normal.X, normal.Y, normal.Z})
	rowI, rowJ := poseRows+3*nodeI, poseRows+3*nodeJ
	for a := 0; a < 3; a++ {
		test.That(t, float64(slac.atb.Float32s()[rowI+a]), test.ShouldAlmostEqual, dirI[a]*r, 1e-6)
		test.That(t, float64(slac.atb.Float32s()[rowJ+a]), test.ShouldAlmostEqual, dirJ[a]*r, 1e-6)
		for b := 0; b < 3; b++ {
			test.That(t, float64(ata[(rowI+a)*n+rowI+b]), test.ShouldAlmostEqual, dirI[a]*dirI[b], 1e-6)
			test.That(t, float64(ata[(rowI+a)*n+rowJ+b]), test.ShouldAlmostEqual, dirI[a]*dirJ[b], 1e-6)
			test.That(t, float64(ata[(rowJ+a)*n+rowJ+b]), test.ShouldAlmostEqual, dirJ[a]*dirJ[b], 1e-6)
		}
		// coupling with the twist of frame j
		for b := 0; b < 6; b++ {
			test.That(t, float64(ata[(rowI+a)*n+6*j+b]), test.ShouldAlmostEqual, dirI[a]*jac[6+b], 1e-6)
		}
	}
	// nodes without weight are untouched
	for _, node := range []int{0, 3} {
		for a := 0; a < 3; a++ {
			test.That(t, slac.atb.Float32s()[poseRows+3*node+a], test.ShouldEqual, float32(0))
		}
	}
}

func TestSLACTermDeformsPoints(t *testing.T) {
	dev := device.Default
	ctx := context.Background()
	const numFrames, numNodes, i, j = 2, 4, 0, 1
	const nodeI, nodeJ = 3, 1
	poseRows := 6 * numFrames
	n := poseRows + 3*numNodes

	pi, pj, normal := r3.Vector{X: 0.2, Y: -0.1, Z: 1.5}, r3.Vector{X: 0.21, Y: -0.08, Z: 1.52}, r3.Vector{X: 0, Y: 0.6, Z: 0.8}
	rotI, rotJ := mgl64.Rotate3DY(0.25), mgl64.Rotate3DZ(-0.4)
	dispI, dispJ := mgl64.Vec3{0.02, -0.01, 0.03}, mgl64.Vec3{-0.015, 0.025, 0.01}
	gridData := make([]float32, 3*numNodes)
	for a := 0; a < 3; a++ {
		gridData[3*nodeI+a] = float32(dispI[a])
		gridData[3*nodeJ+a] = float32(dispJ[a])
	}
	grid := device.FromFloat32(dev, gridData, numNodes, 3)
	nb := singleNodeNeighbors(dev, nodeI, nodeJ)

	slac := newSystem(dev, n)
	err := AddSLACTerm(ctx, slac.ata, slac.atb, slac.residual,
		pointsTensor(dev, pi), pointsTensor(dev, pj), pointsTensor(dev, normal),
		nb.idxI, nb.idxJ, nb.ratioI, nb.ratioJ, grid,
		rotationTransposeTensor(dev, rotI), rotationTransposeTensor(dev, rotJ), i, j)
	test.That(t, err, test.ShouldBeNil)

	// the node displacements move the points along the frame axes
	offI, offJ := rotI.Mul3x1(dispI), rotJ.Mul3x1(dispJ)
	deformedI := pi.Add(r3.Vector{X: offI[0], Y: offI[1], Z: offI[2]})
	deformedJ := pj.Add(r3.Vector{X: offJ[0], Y: offJ[1], Z: offJ[2]})
	r, jac := rigidJacobian(deformedI, deformedJ, normal)
	undeformed, _ := rigidJacobian(pi, pj, normal)
	test.That(t, math.Abs(r-undeformed), test.ShouldBeGreaterThan, 1e-3)

	test.That(t, float64(slac.residual.Float32s()[0]), test.ShouldAlmostEqual, r*r, 1e-7)
	ata, atb := slac.ata.Float32s(), slac.atb.Float32s()
	for a := 0; a < 6; a++ {
		test.That(t, float64(atb[6*i+a]), test.ShouldAlmostEqual, jac[a]*r, 1e-6)
		test.That(t, float64(atb[6*j+a]), test.ShouldAlmostEqual, jac[6+a]*r, 1e-6)
		for b := 0; b < 6; b++ {
			test.That(t, float64(ata[(6*i+a)*n+6*j+b]), test.ShouldAlmostEqual, jac[a]*jac[6+b], 1e-5)
		}
	}
	dirI := rotI.Transpose().Mul3x1(mgl64.Vec3{normal.X, normal.Y, normal.Z}).Mul(-1)
	for a := 0; a < 3; a++ {
		test.That(t, float64(atb[poseRows+3*nodeI+a]), test.ShouldAlmostEqual, dirI[a]*r, 1e-6)
	}
}

func TestSLACTermAdditive(t *testing.T) {
	dev := device.Default
	ctx := context.Background()
	n := 12 + 3*4
	tpi := pointsTensor(dev, r3.Vector{X: 0.1, Z: 1})
	tpj := pointsTensor(dev, r3.Vector{X: 0.12, Z: 1.01})
	tn := pointsTensor(dev, r3.Vector{X: 1})
	grid := device.Zeros(dev, 4, 3)
	ident := rotationTransposeTensor(dev, mgl64.Ident3())
	nb := singleNodeNeighbors(dev, 0, 3)

	full := newSystem(dev, n)
	test.That(t, AddSLACTerm(ctx, full.ata, full.atb, full.residual, tpi, tpj, tn,
		nb.idxI, nb.idxJ, nb.ratioI, nb.ratioJ, grid, ident, ident, 0, 1), test.ShouldBeNil)
	halves := newSystem(dev, n)
	for h := 0; h < 2; h++ {
		test.That(t, AddSLACTerm(ctx, halves.ata, halves.atb, halves.residual, tpi, tpj, tn,
			nb.idxI, nb.idxJ, nb.ratioI, nb.ratioJ, grid, ident, ident, 0, 1, WithWeight(0.5)), test.ShouldBeNil)
	}
	test.That(t, halves.ata.Float32s(), test.ShouldResemble, full.ata.Float32s())
	test.That(t, halves.atb.Float32s(), test.ShouldResemble, full.atb.Float32s())
	test.That(t, halves.residual.Float32s(), test.ShouldResemble, full.residual.Float32s())
}

func TestSLACTermPreconditions(t *testing.T) {
	dev := device.Default
	ctx := context.Background()
	pts := pointsTensor(dev, r3.Vector{Z: 1})
	ident := rotationTransposeTensor(dev, mgl64.Ident3())
	grid := device.Zeros(dev, 4, 3)
	nb := singleNodeNeighbors(dev, 0, 1)

	// 13 pose rows cannot hold whole frames
	bad := newSystem(dev, 13+12)
	err := AddSLACTerm(ctx, bad.ata, bad.atb, bad.residual, pts, pts, pts,
		nb.idxI, nb.idxJ, nb.ratioI, nb.ratioJ, grid, ident, ident, 0, 1)
	test.That(t, errors.Is(err, device.ErrDimensionMismatch), test.ShouldBeTrue)

	sys := newSystem(dev, 24)
	outside := singleNodeNeighbors(dev, 4, 1)
	err = AddSLACTerm(ctx, sys.ata, sys.atb, sys.residual, pts, pts, pts,
		outside.idxI, outside.idxJ, outside.ratioI, outside.ratioJ, grid, ident, ident, 0, 1)
	test.That(t, errors.Is(err, device.ErrDimensionMismatch), test.ShouldBeTrue)

	err = AddSLACTerm(ctx, sys.ata, sys.atb, sys.residual, pts, pts, pts,
		nb.ratioI, nb.idxJ, nb.ratioI, nb.ratioJ, grid, ident, ident, 0, 1)
	test.That(t, errors.Is(err, device.ErrInvalidDtype), test.ShouldBeTrue)

	err = AddSLACTerm(ctx, sys.ata, sys.atb, sys.residual, pts, pts, pts,
		nb.idxI, nb.idxJ, nb.ratioI, nb.ratioJ, grid, ident, device.Zeros(dev, 3, 4), 0, 1)
	test.That(t, errors.Is(err, device.ErrDimensionMismatch), test.ShouldBeTrue)

	cudaRot := rotationTransposeTensor(device.Device{Type: device.CUDA}, mgl64.Ident3())
	err = AddSLACTerm(ctx, sys.ata, sys.atb, sys.residual, pts, pts, pts,
		nb.idxI, nb.idxJ, nb.ratioI, nb.ratioJ, grid, cudaRot, ident, 0, 1)
	test.That(t, errors.Is(err, device.ErrDeviceMismatch), test.ShouldBeTrue)

	for _, v := range sys.ata.Float32s() {
		test.That(t, v, test.ShouldEqual, float32(0))
	}
}
