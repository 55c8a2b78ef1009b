package odometry

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/densevo/device"
	"go.viam.com/densevo/rimage"
	"go.viam.com/densevo/rimage/transform"
	"go.viam.com/densevo/spatialmath"
)

// Layout of the tuple one block writes into the reduction buffer: the 21 upper
// triangular entries of JtJ, the 6 entries of Jtr, the error and the inlier count.
const (
	jtjSize       = 21
	jtrOffset     = jtjSize
	errorOffset   = jtrOffset + 6
	inliersOffset = errorOffset + 1
	tupleSize     = inliersOffset + 1
)

// pyramidStore owns every device allocation of an odometry instance.
type pyramidStore struct {
	width, height int
	numLevels     int

	srcDepth, srcIntensity *rimage.Pyramid
	tgtDepth, tgtIntensity *rimage.Pyramid
	tgtDepthDx, tgtDepthDy *rimage.Pyramid
	tgtIntDx, tgtIntDy     *rimage.Pyramid
	sourceOnTarget         *rimage.Pyramid

	grids     []device.Grid
	reduction *device.Tensor
}

func newPyramidStore(dev device.Device, width, height, numLevels, blockSize int) (*pyramidStore, error) {
	if err := dev.CheckAvailable(); err != nil {
		return nil, err
	}
	s := &pyramidStore{width: width, height: height, numLevels: numLevels}
	var err error
	for _, p := range []**rimage.Pyramid{
		&s.srcDepth, &s.srcIntensity,
		&s.tgtDepth, &s.tgtIntensity,
		&s.tgtDepthDx, &s.tgtDepthDy,
		&s.tgtIntDx, &s.tgtIntDy,
		&s.sourceOnTarget,
	} {
		var pyrErr error
		*p, pyrErr = rimage.NewPyramid(width, height, numLevels)
		err = multierr.Append(err, pyrErr)
	}
	if err != nil {
		return nil, errors.Wrap(ErrDimensionMismatch, err.Error())
	}
	s.grids = make([]device.Grid, numLevels)
	for l := range s.grids {
		s.grids[l] = device.NewGrid(width>>l, height>>l, blockSize)
	}
	// level 0 has the most blocks
	s.reduction = device.Zeros(dev, s.grids[0].NumBlocks(), tupleSize)
	return s, nil
}

// build fills all pyramids from the base images.
func (s *pyramidStore) build(srcDepth, srcIntensity, tgtDepth, tgtIntensity *rimage.FloatImage) error {
	if err := multierr.Combine(
		s.srcDepth.BuildDepth(srcDepth),
		s.srcIntensity.BuildIntensity(srcIntensity),
		s.tgtDepth.BuildDepth(tgtDepth),
		s.tgtIntensity.BuildIntensity(tgtIntensity),
	); err != nil {
		return errors.Wrap(ErrDimensionMismatch, err.Error())
	}
	s.tgtDepth.BuildGradients(s.tgtDepthDx, s.tgtDepthDy, true)
	s.tgtIntensity.BuildGradients(s.tgtIntDx, s.tgtIntDy, false)
	return nil
}

// resetReduction zeroes the tuple slots used by level l.
func (s *pyramidStore) resetReduction(l int) []float32 {
	slots := s.reduction.Float32s()[:s.grids[l].NumBlocks()*tupleSize]
	for i := range slots {
		slots[i] = 0
	}
	return slots
}

// levelView is the read-only state a kernel needs for one level. It only borrows
// images owned by the store, and sourceOnTarget is written at the launching pixel only.
type levelView struct {
	srcDepth, srcIntensity *rimage.FloatImage
	tgtDepth, tgtIntensity *rimage.FloatImage
	tgtDepthDx, tgtDepthDy *rimage.FloatImage
	tgtIntDx, tgtIntDy     *rimage.FloatImage
	sourceOnTarget         *rimage.FloatImage

	fx, fy, cx, cy float32

	near, far, diff   float32
	sqrtOneMinusSigma float32
	sqrtSigma         float32

	transform spatialmath.DeviceTransform
}

func (s *pyramidStore) view(l int, intrinsics transform.PinholeCameraIntrinsics, cfg *Config) levelView {
	return levelView{
		srcDepth:          s.srcDepth.Level(l),
		srcIntensity:      s.srcIntensity.Level(l),
		tgtDepth:          s.tgtDepth.Level(l),
		tgtIntensity:      s.tgtIntensity.Level(l),
		tgtDepthDx:        s.tgtDepthDx.Level(l),
		tgtDepthDy:        s.tgtDepthDy.Level(l),
		tgtIntDx:          s.tgtIntDx.Level(l),
		tgtIntDy:          s.tgtIntDy.Level(l),
		sourceOnTarget:    s.sourceOnTarget.Level(l),
		fx:                float32(intrinsics.Fx),
		fy:                float32(intrinsics.Fy),
		cx:                float32(intrinsics.Ppx),
		cy:                float32(intrinsics.Ppy),
		near:              float32(cfg.DepthNear),
		far:               float32(cfg.DepthFar),
		diff:              float32(cfg.DepthDiff),
		sqrtOneMinusSigma: float32(math.Sqrt(1 - cfg.Sigma)),
		sqrtSigma:         float32(math.Sqrt(cfg.Sigma)),
	}
}
