package rimage

import (
	"github.com/pkg/errors"
)

// Pyramid is a fixed number of images where level l is the base image downsampled l
// times by a factor of two: width W0>>l and height H0>>l.
type Pyramid struct {
	levels []*FloatImage
}

// NewPyramid allocates a zero pyramid for a width x height base image. Every level must
// keep at least one pixel.
func NewPyramid(width, height, numLevels int) (*Pyramid, error) {
	if numLevels <= 0 {
		return nil, errors.Errorf("pyramid needs at least one level, got %d", numLevels)
	}
	if width>>(numLevels-1) <= 0 || height>>(numLevels-1) <= 0 {
		return nil, errors.Errorf("%dx%d image is too small for %d pyramid levels", width, height, numLevels)
	}
	p := &Pyramid{levels: make([]*FloatImage, numLevels)}
	for l := range p.levels {
		p.levels[l] = NewFloatImage(width>>l, height>>l)
	}
	return p, nil
}

// NumLevels returns the number of levels.
func (p *Pyramid) NumLevels() int {
	return len(p.levels)
}

// Level returns level l, 0 being the full resolution image.
func (p *Pyramid) Level(l int) *FloatImage {
	return p.levels[l]
}

// BuildIntensity fills the pyramid from base with 2x2 box averages.
func (p *Pyramid) BuildIntensity(base *FloatImage) error {
	if err := p.levels[0].CopyFrom(base); err != nil {
		return err
	}
	for l := 1; l < len(p.levels); l++ {
		DownsampleIntensity(p.levels[l-1], p.levels[l])
	}
	return nil
}

// BuildDepth fills the pyramid from base, averaging only valid depths.
func (p *Pyramid) BuildDepth(base *FloatImage) error {
	if err := p.levels[0].CopyFrom(base); err != nil {
		return err
	}
	for l := 1; l < len(p.levels); l++ {
		DownsampleDepth(p.levels[l-1], p.levels[l])
	}
	return nil
}

// BuildGradients fills dx and dy, which must have the same level sizes as p, with the
// central-difference gradients of every level of p. Depth gradients ignore invalid
// neighbours.
func (p *Pyramid) BuildGradients(dx, dy *Pyramid, isDepth bool) {
	for l := range p.levels {
		if isDepth {
			DepthGradient(p.levels[l], dx.levels[l], dy.levels[l])
		} else {
			CentralDifference(p.levels[l], dx.levels[l], dy.levels[l])
		}
	}
}

// DownsampleIntensity writes the 2x2 box average of src into dst, which is half its size.
func DownsampleIntensity(src, dst *FloatImage) {
	for y := 0; y < dst.height; y++ {
		for x := 0; x < dst.width; x++ {
			sx, sy := 2*x, 2*y
			sum := src.At(sx, sy) + src.At(sx+1, sy) + src.At(sx, sy+1) + src.At(sx+1, sy+1)
			dst.Set(x, y, sum*0.25)
		}
	}
}

// DownsampleDepth writes the average of the valid depths of every 2x2 block of src into
// dst. A block without valid depth yields 0.
func DownsampleDepth(src, dst *FloatImage) {
	for y := 0; y < dst.height; y++ {
		for x := 0; x < dst.width; x++ {
			var sum float32
			var n int
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					d := src.At(2*x+dx, 2*y+dy)
					if IsValidDepth(d) {
						sum += d
						n++
					}
				}
			}
			if n == 0 {
				dst.Set(x, y, 0)
				continue
			}
			dst.Set(x, y, sum/float32(n))
		}
	}
}
