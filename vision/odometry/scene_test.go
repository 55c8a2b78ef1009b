package odometry

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"go.viam.com/test"

	"go.viam.com/densevo/device"
	"go.viam.com/densevo/rimage"
	"go.viam.com/densevo/rimage/transform"
)

// frame is a synthetic RGB-D pair of images in row-major order.
type frame struct {
	depth, intensity []float32
}

func (f frame) tensors(dev device.Device, w, h int) (*device.Tensor, *device.Tensor) {
	return device.FromFloat32(dev, f.depth, h, w), device.FromFloat32(dev, f.intensity, h, w)
}

func (f frame) images(t *testing.T, w, h int) (*rimage.FloatImage, *rimage.FloatImage) {
	t.Helper()
	depth, err := rimage.NewFloatImageFromData(w, h, f.depth)
	test.That(t, err, test.ShouldBeNil)
	intensity, err := rimage.NewFloatImageFromData(w, h, f.intensity)
	test.That(t, err, test.ShouldBeNil)
	return depth, intensity
}

func newFrame(w, h int, depth, intensity func(x, y int) float64) frame {
	f := frame{depth: make([]float32, w*h), intensity: make([]float32, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.depth[y*w+x] = float32(depth(x, y))
			f.intensity[y*w+x] = float32(intensity(x, y))
		}
	}
	return f
}

// texturedFrame is a 4x4 frame with curved depth and texture, rich enough to
// constrain all six degrees of freedom at full resolution.
func texturedFrame() frame {
	return newFrame(4, 4,
		func(x, y int) float64 { return 1 + 0.1*float64(x) + 0.05*float64(y*y) },
		func(x, y int) float64 {
			fx, fy := float64(x), float64(y)
			return 0.3 + 0.05*fx*fx + 0.1*fy*fy + 0.07*fx*fy
		})
}

// planeTexture is bilinear in normalized image coordinates so that bilinear sampling
// and central differences of its images are exact.
func planeTexture(x, y float64) float64 {
	return 0.5 + 0.8*x + 0.6*y + 2.0*x*y
}

// planeScene renders a fronto-parallel textured plane at depth 1 seen by the target
// camera, and the same plane seen by a source camera with source to target transform
// gt.
func planeScene(intrinsics transform.PinholeCameraIntrinsics, gt mgl64.Mat4) (src, tgt frame) {
	w, h := intrinsics.Width, intrinsics.Height
	rot := gt.Mat3()
	trans := gt.Col(3).Vec3()
	normalized := func(x, y int) (float64, float64) {
		return (float64(x) - intrinsics.Ppx) / intrinsics.Fx, (float64(y) - intrinsics.Ppy) / intrinsics.Fy
	}
	tgt = newFrame(w, h,
		func(x, y int) float64 { return 1 },
		func(x, y int) float64 { return planeTexture(normalized(x, y)) })

	src = frame{depth: make([]float32, w*h), intensity: make([]float32, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			nx, ny := normalized(x, y)
			ray := mgl64.Vec3{nx, ny, 1}
			// depth along the ray at which the transformed point lies on the plane z = 1
			zs := (1 - trans[2]) / rot.Row(2).Dot(ray)
			pt := rot.Mul3x1(ray.Mul(zs)).Add(trans)
			src.depth[y*w+x] = float32(zs)
			src.intensity[y*w+x] = float32(planeTexture(pt[0]/pt[2], pt[1]/pt[2]))
		}
	}
	return src, tgt
}
