package rimage

import (
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// Defaults for depth images stored as 16 bit millimeters.
const (
	DefaultDepthScale = 1000.0
	DefaultDepthTrunc = 4.0
)

// DepthFromImage converts a depth image into meters. Raw values are divided by depthScale;
// readings beyond depthTrunc meters, and zero readings, become 0. A non-positive depthTrunc
// disables truncation.
func DepthFromImage(img image.Image, depthScale, depthTrunc float64) (*FloatImage, error) {
	if depthScale <= 0 {
		return nil, errors.Errorf("depth scale must be positive, got %v", depthScale)
	}
	bounds := img.Bounds()
	out := NewFloatImage(bounds.Dx(), bounds.Dy())
	gray16, isGray16 := img.(*image.Gray16)
	for y := 0; y < out.height; y++ {
		for x := 0; x < out.width; x++ {
			var raw uint16
			if isGray16 {
				raw = gray16.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y
			} else {
				raw = color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16).Y
			}
			d := float64(raw) / depthScale
			if raw == 0 || (depthTrunc > 0 && d > depthTrunc) {
				d = 0
			}
			out.Set(x, y, float32(d))
		}
	}
	return out, nil
}

// IntensityFromImage converts a color image into intensities in [0, 1].
func IntensityFromImage(img image.Image) *FloatImage {
	gray := imaging.Grayscale(img)
	bounds := gray.Bounds()
	out := NewFloatImage(bounds.Dx(), bounds.Dy())
	for y := 0; y < out.height; y++ {
		for x := 0; x < out.width; x++ {
			off := gray.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
			out.Set(x, y, float32(gray.Pix[off])/255)
		}
	}
	return out
}

// ReadDepthFromFile reads a 16 bit PNG depth image and converts it into meters.
func ReadDepthFromFile(path string, depthScale, depthTrunc float64) (*FloatImage, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening depth image")
	}
	defer utils.UncheckedErrorFunc(f.Close)
	img, err := png.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "error decoding depth image %s", path)
	}
	return DepthFromImage(img, depthScale, depthTrunc)
}

// ReadIntensityFromFile reads a color image and converts it into intensities.
func ReadIntensityFromFile(path string) (*FloatImage, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading color image %s", path)
	}
	return IntensityFromImage(img), nil
}
