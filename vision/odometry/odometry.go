// Package odometry estimates the rigid motion between two RGB-D frames with dense
// photometric and geometric alignment on an image pyramid.
package odometry

import (
	"context"
	"fmt"

	"github.com/edaniels/golog"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/atomic"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"go.viam.com/densevo/device"
	"go.viam.com/densevo/rimage"
	"go.viam.com/densevo/rimage/transform"
	"go.viam.com/densevo/spatialmath"
)

// LevelStatus tells why the iterations of a pyramid level stopped.
type LevelStatus int

// The ways a level can end.
const (
	StatusMaxIterations LevelStatus = iota
	StatusConverged
	StatusErrorIncreased
	StatusDiverged
	StatusIllConditioned
)

func (s LevelStatus) String() string {
	switch s {
	case StatusMaxIterations:
		return "max iterations"
	case StatusConverged:
		return "converged"
	case StatusErrorIncreased:
		return "error increased"
	case StatusDiverged:
		return "diverged"
	case StatusIllConditioned:
		return "ill-conditioned"
	default:
		return fmt.Sprintf("LevelStatus(%d)", int(s))
	}
}

// LevelStats summarizes the iterations run on one pyramid level.
type LevelStats struct {
	Level      int
	Iterations int
	Status     LevelStatus
	AvgError   float64
	Inliers    int
}

// Result is the outcome of a Run. JtJ, Jtr, Error and Inliers are those of the last
// accepted linearization, Error being the sum of squared weighted residuals.
type Result struct {
	Transform mgl64.Mat4
	JtJ       *mat.SymDense
	Jtr       *mat.VecDense
	Error     float64
	Inliers   int
	// Levels lists the levels in the order they ran, coarsest first.
	Levels []LevelStats
}

// String prints out a table of the levels run, with columns of level, iterations, status,
// average error and inliers.
func (r *Result) String() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Level", "Iterations", "Status", "Avg Error", "Inliers"})
	for _, stats := range r.Levels {
		t.AppendRow(table.Row{
			stats.Level,
			stats.Iterations,
			stats.Status.String(),
			fmt.Sprintf("%.6g", stats.AvgError),
			stats.Inliers,
		})
	}
	return t.Render()
}

// RGBDOdometry aligns a source RGB-D frame to a target frame. An instance owns its
// pyramids and reduction buffer and runs one alignment at a time.
type RGBDOdometry struct {
	dev    device.Device
	logger golog.Logger

	cfg        *Config
	configured bool
	intrinsics *transform.PinholeCameraIntrinsics

	store   *pyramidStore
	running atomic.Bool
}

// NewRGBDOdometry returns an odometry instance working on dev with the default
// configuration. Configure and SetIntrinsics must be called before Run.
func NewRGBDOdometry(dev device.Device, logger golog.Logger) *RGBDOdometry {
	return &RGBDOdometry{dev: dev, logger: logger, cfg: NewDefaultConfig()}
}

// Device returns the device the instance works on.
func (o *RGBDOdometry) Device() device.Device {
	return o.dev
}

// Config returns a copy of the current configuration.
func (o *RGBDOdometry) Config() *Config {
	return o.cfg.clone()
}

// Configure sets the depth weight and the depth validity thresholds. Invalid values
// leave the instance unchanged.
func (o *RGBDOdometry) Configure(sigma, depthNear, depthFar, depthDiff float64) error {
	cfg := o.cfg.clone()
	cfg.Sigma = sigma
	cfg.DepthNear = depthNear
	cfg.DepthFar = depthFar
	cfg.DepthDiff = depthDiff
	return o.ConfigureFrom(cfg)
}

// ConfigureFrom replaces the whole configuration. Intrinsics in cfg, if any, are applied
// as with SetPinholeIntrinsics.
func (o *RGBDOdometry) ConfigureFrom(cfg *Config) error {
	if cfg == nil {
		return errors.Wrap(ErrNotConfigured, "nil config")
	}
	if o.running.Load() {
		return ErrConcurrentRun
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.clone()
	if cfg.Device != "" {
		dev, err := device.ParseDevice(cfg.Device)
		if err != nil {
			return err
		}
		if dev != o.dev {
			return errors.Wrapf(ErrDeviceMismatch, "config asks for %v, instance runs on %v", dev, o.dev)
		}
	}
	if o.cfg.NumLevels != cfg.NumLevels || o.cfg.blockSize() != cfg.blockSize() {
		o.store = nil
	}
	o.cfg = cfg
	o.configured = true
	if cfg.Intrinsics != nil {
		return o.SetPinholeIntrinsics(cfg.Intrinsics)
	}
	return nil
}

// SetIntrinsics sets the pinhole intrinsics of the full resolution images.
func (o *RGBDOdometry) SetIntrinsics(fx, fy, cx, cy float64, width, height int) error {
	return o.SetPinholeIntrinsics(&transform.PinholeCameraIntrinsics{
		Width: width, Height: height, Fx: fx, Fy: fy, Ppx: cx, Ppy: cy,
	})
}

// SetPinholeIntrinsics sets the intrinsics of the full resolution images.
func (o *RGBDOdometry) SetPinholeIntrinsics(intrinsics *transform.PinholeCameraIntrinsics) error {
	if err := intrinsics.CheckValid(); err != nil {
		return err
	}
	if o.running.Load() {
		return ErrConcurrentRun
	}
	copied := *intrinsics
	o.intrinsics = &copied
	return nil
}

// Prepare allocates the pyramids and the reduction buffer for width x height frames.
// Run prepares lazily, so calling Prepare is only needed to allocate ahead of time.
func (o *RGBDOdometry) Prepare(width, height int) error {
	if o.running.Load() {
		return ErrConcurrentRun
	}
	return o.prepare(width, height)
}

func (o *RGBDOdometry) prepare(width, height int) error {
	if o.intrinsics != nil && (o.intrinsics.Width != width || o.intrinsics.Height != height) {
		return errors.Wrapf(ErrDimensionMismatch, "cannot prepare %dx%d frames with %dx%d intrinsics",
			width, height, o.intrinsics.Width, o.intrinsics.Height)
	}
	if o.store != nil && o.store.width == width && o.store.height == height {
		return nil
	}
	store, err := newPyramidStore(o.dev, width, height, o.cfg.NumLevels, o.cfg.blockSize())
	if err != nil {
		return err
	}
	o.store = store
	return nil
}

// Release frees the pyramids and the reduction buffer.
func (o *RGBDOdometry) Release() {
	o.store = nil
}

// SourceOnTarget returns, for the last Run, level l of the target intensity seen by
// every source pixel, 0 where the pixel was rejected.
func (o *RGBDOdometry) SourceOnTarget(level int) (*rimage.FloatImage, error) {
	if o.store == nil {
		return nil, errors.New("odometry has not been prepared")
	}
	if level < 0 || level >= o.store.numLevels {
		return nil, errors.Errorf("level %d out of range [0, %d)", level, o.store.numLevels)
	}
	return o.store.sourceOnTarget.Level(level), nil
}

// checkInputs verifies the four input images before anything is launched.
func (o *RGBDOdometry) checkInputs(inputs map[string]*device.Tensor) error {
	for _, name := range []string{"source depth", "source intensity", "target depth", "target intensity"} {
		t := inputs[name]
		if err := t.CheckDtype(name, tensor.Float32); err != nil {
			return err
		}
		if err := t.CheckDevice(name, o.dev); err != nil {
			return err
		}
		if err := t.CheckShape(name, o.intrinsics.Height, o.intrinsics.Width); err != nil {
			return err
		}
	}
	return nil
}

// Run estimates the transform taking source camera coordinates to target camera
// coordinates, starting from initial (the zero matrix means identity). Images are
// float32 tensors of shape [height, width], depths in meters.
//
// When the finest level stops because its system cannot be solved or its error grew
// past the divergence factor, the best transform found is returned together with
// ErrIllConditioned or ErrDiverged.
func (o *RGBDOdometry) Run(
	ctx context.Context,
	srcDepth, srcIntensity, tgtDepth, tgtIntensity *device.Tensor,
	initial mgl64.Mat4,
) (*Result, error) {
	ctx, span := trace.StartSpan(ctx, "odometry::RGBDOdometry::Run")
	defer span.End()

	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrConcurrentRun
	}
	defer o.running.Store(false)

	if !o.configured || o.intrinsics == nil {
		return nil, errors.Wrap(ErrNotConfigured, "Configure and SetIntrinsics must be called before Run")
	}
	if err := o.checkInputs(map[string]*device.Tensor{
		"source depth":     srcDepth,
		"source intensity": srcIntensity,
		"target depth":     tgtDepth,
		"target intensity": tgtIntensity,
	}); err != nil {
		return nil, err
	}
	initial = spatialmath.OrIdentity(initial)
	if !spatialmath.IsRigid(initial, spatialmath.DefaultRigidTolerance) {
		return nil, errors.New("initial transform is not a rigid transform")
	}
	if err := o.prepare(o.intrinsics.Width, o.intrinsics.Height); err != nil {
		return nil, err
	}

	w, h := o.intrinsics.Width, o.intrinsics.Height
	images := make([]*rimage.FloatImage, 4)
	for i, t := range []*device.Tensor{srcDepth, srcIntensity, tgtDepth, tgtIntensity} {
		im, err := rimage.NewFloatImageFromData(w, h, t.Float32s())
		if err != nil {
			return nil, errors.Wrap(ErrDimensionMismatch, err.Error())
		}
		images[i] = im
	}
	if err := o.store.build(images[0], images[1], images[2], images[3]); err != nil {
		return nil, err
	}

	levelIntrinsics := o.intrinsics.Pyramid(o.cfg.NumLevels)
	iterations := o.cfg.iterationsFinestFirst()
	res := &Result{Transform: initial}
	var finest LevelStats
	for l := o.cfg.NumLevels - 1; l >= 0; l-- {
		stats, err := o.runLevel(ctx, l, levelIntrinsics[l], iterations[l], res)
		if err != nil {
			return nil, err
		}
		res.Levels = append(res.Levels, stats)
		finest = stats
	}
	if res.JtJ == nil {
		res.JtJ = mat.NewSymDense(6, nil)
		res.Jtr = mat.NewVecDense(6, nil)
	}

	switch finest.Status {
	case StatusIllConditioned:
		return res, errors.Wrapf(ErrIllConditioned, "finest level stopped after %d iterations", finest.Iterations)
	case StatusDiverged:
		return res, errors.Wrapf(ErrDiverged, "finest level stopped after %d iterations", finest.Iterations)
	default:
		return res, nil
	}
}

// runLevel runs the Gauss-Newton iterations of level l and updates res in place.
func (o *RGBDOdometry) runLevel(
	ctx context.Context,
	l int,
	intrinsics transform.PinholeCameraIntrinsics,
	maxIterations int,
	res *Result,
) (LevelStats, error) {
	ctx, span := trace.StartSpan(ctx, "odometry::RGBDOdometry::runLevel")
	defer span.End()
	span.AddAttributes(trace.Int64Attribute("level", int64(l)))

	stats := LevelStats{Level: l, Status: StatusMaxIterations}
	view := o.store.view(l, intrinsics, o.cfg)
	grid := o.store.grids[l]

	var (
		prevTransform mgl64.Mat4
		prevSys       *linearSystem
		prevAvg       float64
	)
	for iter := 0; iter < maxIterations; iter++ {
		view.transform = spatialmath.ToDevice(res.Transform)
		reduction := o.store.resetReduction(l)
		if err := o.dev.Launch2D(ctx, grid, func(b device.Block) {
			view.reduceBlock(reduction, b)
		}); err != nil {
			return stats, errors.Wrapf(err, "error running level %d", l)
		}
		sys := sumTuples(reduction, grid.NumBlocks())
		avg := sys.avgError()
		stats.Iterations = iter + 1
		o.logger.Debugw("odometry iteration",
			"level", l, "iter", iter, "loss", sys.err, "avg loss", avg, "inliers", sys.inliers)

		if prevSys != nil && avg > prevAvg {
			res.Transform = prevTransform
			o.record(res, prevSys)
			stats.Status = StatusErrorIncreased
			if avg > o.cfg.DivergenceFactor*prevAvg {
				stats.Status = StatusDiverged
			}
			stats.AvgError, stats.Inliers = prevAvg, prevSys.inliers
			break
		}
		o.record(res, sys)
		stats.AvgError, stats.Inliers = avg, sys.inliers
		if prevSys != nil && (prevAvg == 0 || (prevAvg-avg)/prevAvg < o.cfg.ErrorTolerance) {
			stats.Status = StatusConverged
			break
		}

		xi, err := sys.solve(o.cfg.LevenbergLambda)
		if err != nil {
			o.logger.Debugw("cannot solve odometry step", "level", l, "iter", iter, "error", err)
			stats.Status = StatusIllConditioned
			break
		}
		prevTransform, prevSys, prevAvg = res.Transform, sys, avg
		res.Transform = xi.Exp().Mul4(res.Transform)
		if xi.Norm() < o.cfg.StepTolerance {
			stats.Status = StatusConverged
			break
		}
	}
	o.logger.Infow("odometry level done", "level", l, "status", stats.Status,
		"iterations", stats.Iterations, "avg loss", stats.AvgError, "inliers", stats.Inliers)
	return stats, nil
}

func (o *RGBDOdometry) record(res *Result, sys *linearSystem) {
	res.JtJ = sys.jtj
	res.Jtr = sys.jtr
	res.Error = sys.err
	res.Inliers = sys.inliers
}
