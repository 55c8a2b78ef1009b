package transform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestCheckValid(t *testing.T) {
	var nilIntrinsics *PinholeCameraIntrinsics
	test.That(t, errors.Is(nilIntrinsics.CheckValid(), ErrNoIntrinsics), test.ShouldBeTrue)

	intrinsics := &PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 525, Fy: 525, Ppx: 319.5, Ppy: 239.5}
	test.That(t, intrinsics.CheckValid(), test.ShouldBeNil)

	bad := *intrinsics
	bad.Fx = 0
	test.That(t, errors.Is(bad.CheckValid(), ErrNoIntrinsics), test.ShouldBeTrue)
	bad = *intrinsics
	bad.Height = 0
	test.That(t, bad.CheckValid(), test.ShouldNotBeNil)
	bad = *intrinsics
	bad.Ppy = -1
	test.That(t, bad.CheckValid(), test.ShouldNotBeNil)
}

func TestNoIntrinsicsErrorKeepsMessage(t *testing.T) {
	err := NewNoIntrinsicsError("width is 50% of the image")
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "width is 50% of the image")
}

func TestScaled(t *testing.T) {
	intrinsics := &PinholeCameraIntrinsics{Width: 64, Height: 48, Fx: 50, Fy: 40, Ppx: 32, Ppy: 24}
	levels := intrinsics.Pyramid(3)
	test.That(t, len(levels), test.ShouldEqual, 3)
	test.That(t, levels[0], test.ShouldResemble, *intrinsics)
	test.That(t, levels[2], test.ShouldResemble, PinholeCameraIntrinsics{Width: 16, Height: 12, Fx: 12.5, Fy: 10, Ppx: 8, Ppy: 6})
}

func TestPixelPointRoundTrip(t *testing.T) {
	intrinsics := &PinholeCameraIntrinsics{Width: 64, Height: 64, Fx: 50, Fy: 50, Ppx: 32, Ppy: 32}
	x, y, z := intrinsics.PixelToPoint(42, 12, 2)
	test.That(t, x, test.ShouldAlmostEqual, 0.4)
	test.That(t, y, test.ShouldAlmostEqual, -0.8)
	test.That(t, z, test.ShouldEqual, 2.)

	u, v, ok := intrinsics.PointToPixel(r3.Vector{X: x, Y: y, Z: z})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, u, test.ShouldAlmostEqual, 42)
	test.That(t, v, test.ShouldAlmostEqual, 12)

	_, _, ok = intrinsics.PointToPixel(r3.Vector{X: 1})
	test.That(t, ok, test.ShouldBeFalse)
}

func TestNewPinholeCameraIntrinsicsFromJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intrinsics.json")
	data := `{"width_px": 640, "height_px": 480, "fx": 525.0, "fy": 525.0, "ppx": 319.5, "ppy": 239.5}`
	test.That(t, os.WriteFile(path, []byte(data), 0o600), test.ShouldBeNil)

	intrinsics, err := NewPinholeCameraIntrinsicsFromJSONFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, intrinsics.Width, test.ShouldEqual, 640)
	test.That(t, intrinsics.Ppy, test.ShouldEqual, 239.5)
	test.That(t, intrinsics.CheckValid(), test.ShouldBeNil)

	_, err = NewPinholeCameraIntrinsicsFromJSONFile(filepath.Join(t.TempDir(), "nope.json"))
	test.That(t, err, test.ShouldNotBeNil)
}
