package odometry

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"go.viam.com/densevo/device"
)

const (
	// projected depths at or below this are behind or on the camera.
	minProjectedDepth = 1e-6
	// projections this close to a pixel center are sampled exactly at the center.
	snapEpsilon = 1e-4
)

// pixelTerm is the weighted contribution of one pixel to the normal equations.
type pixelTerm struct {
	jI, jD [6]float32
	rI, rD float32
}

func (v *levelView) depthInRange(d float32) bool {
	return d >= v.near && d <= v.far
}

func snap(c float32) float32 {
	r := float32(math.Round(float64(c)))
	if abs32(c-r) < snapEpsilon {
		return r
	}
	return c
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// jacobianRow returns (p × g, g): the derivative of g·p under the perturbation
// p ← p + ν + ω × p, ordered (ω, ν).
func jacobianRow(p, g mgl32.Vec3) [6]float32 {
	c := p.Cross(g)
	return [6]float32{c[0], c[1], c[2], g[0], g[1], g[2]}
}

// computePixel evaluates the source pixel (x, y) against the target. It writes the
// target intensity seen by the pixel into sourceOnTarget, 0 when the pixel is rejected.
func (v *levelView) computePixel(x, y int) (pixelTerm, bool) {
	var term pixelTerm
	v.sourceOnTarget.Set(x, y, 0)

	ds := v.srcDepth.At(x, y)
	if !v.depthInRange(ds) {
		return term, false
	}
	ps := mgl32.Vec3{
		(float32(x) - v.cx) * ds / v.fx,
		(float32(y) - v.cy) * ds / v.fy,
		ds,
	}
	pt := v.transform.Apply(ps)
	if pt[2] <= minProjectedDepth {
		return term, false
	}
	invZ := 1 / pt[2]
	u := snap(v.fx*pt[0]*invZ + v.cx)
	w := snap(v.fy*pt[1]*invZ + v.cy)
	if !v.tgtDepth.Contains(u, w) {
		return term, false
	}

	dt := v.tgtDepth.Bilinear(u, w)
	if !v.depthInRange(dt) {
		return term, false
	}
	rD := dt - pt[2]
	if abs32(rD) > v.diff {
		return term, false
	}
	it := v.tgtIntensity.Bilinear(u, w)
	v.sourceOnTarget.Set(x, y, it)
	rI := it - v.srcIntensity.At(x, y)

	// image gradients pulled back through the projection
	gI := v.projectGradient(pt, invZ, v.tgtIntDx.Bilinear(u, w), v.tgtIntDy.Bilinear(u, w))
	gD := v.projectGradient(pt, invZ, v.tgtDepthDx.Bilinear(u, w), v.tgtDepthDy.Bilinear(u, w))
	gD[2]--

	term.jI = jacobianRow(pt, gI)
	term.jD = jacobianRow(pt, gD)
	for k := 0; k < 6; k++ {
		term.jI[k] *= v.sqrtOneMinusSigma
		term.jD[k] *= v.sqrtSigma
	}
	term.rI = rI * v.sqrtOneMinusSigma
	term.rD = rD * v.sqrtSigma
	return term, true
}

func (v *levelView) projectGradient(pt mgl32.Vec3, invZ, gx, gy float32) mgl32.Vec3 {
	c0 := gx * v.fx * invZ
	c1 := gy * v.fy * invZ
	return mgl32.Vec3{c0, c1, -(c0*pt[0] + c1*pt[1]) * invZ}
}

// accumulate adds the outer products of a pixel term to a reduction tuple.
func (term *pixelTerm) accumulate(tuple *[tupleSize]float32) {
	k := 0
	for i := 0; i < 6; i++ {
		for j := i; j < 6; j++ {
			tuple[k] += term.jI[i]*term.jI[j] + term.jD[i]*term.jD[j]
			k++
		}
		tuple[jtrOffset+i] += term.jI[i]*term.rI + term.jD[i]*term.rD
	}
	tuple[errorOffset] += term.rI*term.rI + term.rD*term.rD
	tuple[inliersOffset]++
}

// reduceBlock is the block kernel: it folds every pixel of b into a block local tuple and
// writes the tuple into the slot of the block.
func (v *levelView) reduceBlock(reduction []float32, b device.Block) {
	var tuple [tupleSize]float32
	for y := b.Y0; y < b.Y1; y++ {
		for x := b.X0; x < b.X1; x++ {
			term, ok := v.computePixel(x, y)
			if !ok {
				continue
			}
			term.accumulate(&tuple)
		}
	}
	copy(reduction[b.Linear*tupleSize:(b.Linear+1)*tupleSize], tuple[:])
}
