// Package main runs frame-to-frame RGB-D odometry over a sequence of frames and writes
// the camera trajectory.
package main

import (
	"context"
	"io"
	"log"
	"os"

	"github.com/edaniels/golog"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.viam.com/utils"

	"go.viam.com/densevo/device"
	"go.viam.com/densevo/rimage"
	"go.viam.com/densevo/rimage/transform"
	"go.viam.com/densevo/vision/odometry"
)

const (
	associationFlag = "association"
	intrinsicsFlag  = "intrinsics"
	configFlag      = "config"
	depthScaleFlag  = "depth-scale"
	outFlag         = "out"
	debugFlag       = "debug"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	var logger golog.Logger
	return &cli.App{
		Name:  "rgbd-odometry",
		Usage: "estimate a camera trajectory from a sequence of RGB-D frames",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     associationFlag,
				Usage:    "file pairing depth and color images, one frame per line",
				Required: true,
			},
			&cli.StringFlag{
				Name:     intrinsicsFlag,
				Usage:    "JSON file with the pinhole camera intrinsics",
				Required: true,
			},
			&cli.StringFlag{
				Name:  configFlag,
				Usage: "JSON file with odometry parameters",
			},
			&cli.Float64Flag{
				Name:  depthScaleFlag,
				Usage: "raw depth units per meter",
				Value: rimage.DefaultDepthScale,
			},
			&cli.StringFlag{
				Name:  outFlag,
				Usage: "trajectory output file, standard output when empty",
			},
			&cli.BoolFlag{
				Name:    debugFlag,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(debugFlag) {
				logger = golog.NewDebugLogger("rgbd-odometry")
			} else {
				logger = zap.NewNop().Sugar()
			}
			return nil
		},
		Action: func(c *cli.Context) error {
			var out io.Writer = c.App.Writer
			if path := c.String(outFlag); path != "" {
				//nolint:gosec
				f, err := os.Create(path)
				if err != nil {
					return errors.Wrap(err, "error creating trajectory file")
				}
				defer utils.UncheckedErrorFunc(f.Close)
				out = f
			}
			return runOdometry(c.Context, c.String(associationFlag), c.String(intrinsicsFlag),
				c.String(configFlag), c.Float64(depthScaleFlag), out, logger)
		},
	}
}

// rgbdFrame holds the depth and intensity tensors of one frame.
type rgbdFrame struct {
	depth, intensity *device.Tensor
}

func loadFrame(dev device.Device, fp framePaths, depthScale float64) (*rgbdFrame, error) {
	depth, err := rimage.ReadDepthFromFile(fp.Depth, depthScale, rimage.DefaultDepthTrunc)
	if err != nil {
		return nil, err
	}
	intensity, err := rimage.ReadIntensityFromFile(fp.Color)
	if err != nil {
		return nil, err
	}
	if depth.Width() != intensity.Width() || depth.Height() != intensity.Height() {
		return nil, errors.Wrapf(device.ErrDimensionMismatch, "depth %s is %dx%d but color %s is %dx%d",
			fp.Depth, depth.Width(), depth.Height(), fp.Color, intensity.Width(), intensity.Height())
	}
	w, h := depth.Width(), depth.Height()
	return &rgbdFrame{
		depth:     device.FromFloat32(dev, depth.Data(), h, w),
		intensity: device.FromFloat32(dev, intensity.Data(), h, w),
	}, nil
}

func newOdometry(intrinsicsPath, configPath string, logger golog.Logger) (*odometry.RGBDOdometry, error) {
	cfg := odometry.NewDefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = odometry.LoadConfig(configPath); err != nil {
			return nil, err
		}
	}
	dev := device.Default
	if cfg.Device != "" {
		var err error
		if dev, err = device.ParseDevice(cfg.Device); err != nil {
			return nil, err
		}
	}
	intrinsics, err := transform.NewPinholeCameraIntrinsicsFromJSONFile(intrinsicsPath)
	if err != nil {
		return nil, err
	}
	vo := odometry.NewRGBDOdometry(dev, logger)
	if err := vo.ConfigureFrom(cfg); err != nil {
		return nil, err
	}
	if err := vo.SetPinholeIntrinsics(intrinsics); err != nil {
		return nil, err
	}
	return vo, nil
}

// runOdometry aligns every frame to the previous one and writes the accumulated
// camera-to-world poses, the first frame defining the world.
func runOdometry(
	ctx context.Context,
	associationPath, intrinsicsPath, configPath string,
	depthScale float64,
	out io.Writer,
	logger golog.Logger,
) error {
	frames, err := readAssociation(associationPath)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return errors.Errorf("no frames listed in %s", associationPath)
	}
	vo, err := newOdometry(intrinsicsPath, configPath, logger)
	if err != nil {
		return err
	}
	defer vo.Release()

	poses := []mgl64.Mat4{mgl64.Ident4()}
	var inlierRatios []float64
	prev, err := loadFrame(vo.Device(), frames[0], depthScale)
	if err != nil {
		return err
	}
	for i := 1; i < len(frames); i++ {
		cur, err := loadFrame(vo.Device(), frames[i], depthScale)
		if err != nil {
			return err
		}
		res, err := vo.Run(ctx, cur.depth, cur.intensity, prev.depth, prev.intensity, mgl64.Ident4())
		switch {
		case err == nil:
		case res != nil && (errors.Is(err, odometry.ErrIllConditioned) || errors.Is(err, odometry.ErrDiverged)):
			logger.Warnw("odometry did not converge", "frame", i, "error", err)
		default:
			return errors.Wrapf(err, "error aligning frame %d", i)
		}
		poses = append(poses, poses[i-1].Mul4(res.Transform))
		shape := cur.depth.Shape()
		ratio := float64(res.Inliers) / float64(shape[0]*shape[1])
		inlierRatios = append(inlierRatios, ratio)
		logger.Debugw("frame aligned", "frame", i, "inlier ratio", ratio, "error", res.Error)
		logger.Debugf("frame %d levels:\n%s", i, res)
		prev = cur
	}

	if err := writeTrajectory(out, poses); err != nil {
		return errors.Wrap(err, "error writing trajectory")
	}
	if len(inlierRatios) > 0 {
		mean, err := stats.Mean(inlierRatios)
		if err != nil {
			return err
		}
		median, err := stats.Median(inlierRatios)
		if err != nil {
			return err
		}
		logger.Infow("odometry done", "frames", len(frames), "mean inlier ratio", mean, "median inlier ratio", median)
	}
	return nil
}
