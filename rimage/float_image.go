package rimage

import (
	"math"

	"github.com/pkg/errors"
)

// FloatImage is a single channel float32 image stored row-major. It holds depths in
// meters or intensities, and the gradients of either.
type FloatImage struct {
	width  int
	height int

	data []float32
}

// NewFloatImage returns a zero image of the given size.
func NewFloatImage(width, height int) *FloatImage {
	return &FloatImage{width: width, height: height, data: make([]float32, width*height)}
}

// NewFloatImageFromData wraps data, without copying, as a width x height image.
func NewFloatImageFromData(width, height int, data []float32) (*FloatImage, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid image size %dx%d", width, height)
	}
	if len(data) != width*height {
		return nil, errors.Errorf("data has %d elements, expected %d for a %dx%d image", len(data), width*height, width, height)
	}
	return &FloatImage{width: width, height: height, data: data}, nil
}

// Width returns the horizontal size of the image.
func (im *FloatImage) Width() int {
	return im.width
}

// Height returns the vertical size of the image.
func (im *FloatImage) Height() int {
	return im.height
}

// Data returns the row-major backing slice.
func (im *FloatImage) Data() []float32 {
	return im.data
}

func (im *FloatImage) kxy(x, y int) int {
	return (y * im.width) + x
}

// At returns the value at (x, y). (x, y) must be inside the image.
func (im *FloatImage) At(x, y int) float32 {
	return im.data[im.kxy(x, y)]
}

// Set sets the value at (x, y).
func (im *FloatImage) Set(x, y int, v float32) {
	im.data[im.kxy(x, y)] = v
}

// Fill sets every pixel to v.
func (im *FloatImage) Fill(v float32) {
	for i := range im.data {
		im.data[i] = v
	}
}

// CopyFrom copies the pixels of other, which must have the same size.
func (im *FloatImage) CopyFrom(other *FloatImage) error {
	if other.width != im.width || other.height != im.height {
		return errors.Errorf("cannot copy %dx%d image into %dx%d image", other.width, other.height, im.width, im.height)
	}
	copy(im.data, other.data)
	return nil
}

// Contains reports whether the continuous coordinate (u, v) can be sampled, that is
// whether it lies in [0, width-1] x [0, height-1].
func (im *FloatImage) Contains(u, v float32) bool {
	return u >= 0 && v >= 0 && u <= float32(im.width-1) && v <= float32(im.height-1)
}

// Bilinear samples the image at the continuous coordinate (u, v). Coordinates are clamped
// to the image, the right and bottom neighbours are clamped to the last column and row,
// and neighbours with zero weight are never read, so a sample on the pixel grid returns
// exactly that pixel.
func (im *FloatImage) Bilinear(u, v float32) float32 {
	u = clamp32(u, 0, float32(im.width-1))
	v = clamp32(v, 0, float32(im.height-1))
	x0, y0 := int(u), int(v)
	x1, y1 := x0+1, y0+1
	if x1 >= im.width {
		x1 = x0
	}
	if y1 >= im.height {
		y1 = y0
	}
	a := u - float32(x0)
	b := v - float32(y0)

	var acc float32
	if w := (1 - a) * (1 - b); w != 0 {
		acc += w * im.At(x0, y0)
	}
	if w := a * (1 - b); w != 0 {
		acc += w * im.At(x1, y0)
	}
	if w := (1 - a) * b; w != 0 {
		acc += w * im.At(x0, y1)
	}
	if w := a * b; w != 0 {
		acc += w * im.At(x1, y1)
	}
	return acc
}

func clamp32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// IsValidDepth reports whether d is a usable depth reading: finite and positive.
func IsValidDepth(d float32) bool {
	return d > 0 && !math.IsInf(float64(d), 0) && !math.IsNaN(float64(d))
}
