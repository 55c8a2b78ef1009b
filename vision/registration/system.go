package registration

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"go.viam.com/densevo/device"
)

// correspondenceBlockSize is the number of correspondences one block handles.
const correspondenceBlockSize = 256

// linearSystem is a validated view of AtA, Atb and the residual accumulator.
type linearSystem struct {
	dev      device.Device
	n        int
	ata      []float32
	atb      []float32
	residual *float32
}

func checkSystem(ata, atb, residual *device.Tensor) (*linearSystem, error) {
	if err := ata.CheckDtype("AtA", tensor.Float32); err != nil {
		return nil, err
	}
	dev := ata.Device()
	if err := ata.CheckShape("AtA", -1, -1); err != nil {
		return nil, err
	}
	n := ata.Shape()[0]
	if ata.Shape()[1] != n {
		return nil, errors.Wrapf(device.ErrDimensionMismatch, "AtA must be square, got %v", ata.Shape())
	}
	if err := checkTensor("Atb", atb, tensor.Float32, dev, n); err != nil {
		return nil, err
	}
	if err := checkTensor("residual", residual, tensor.Float32, dev, 1); err != nil {
		return nil, err
	}
	return &linearSystem{
		dev:      dev,
		n:        n,
		ata:      ata.Float32s(),
		atb:      atb.Float32s(),
		residual: &residual.Float32s()[0],
	}, nil
}

func checkTensor(name string, t *device.Tensor, dt tensor.Dtype, dev device.Device, shape ...int) error {
	if err := t.CheckDtype(name, dt); err != nil {
		return err
	}
	if err := t.CheckDevice(name, dev); err != nil {
		return err
	}
	return t.CheckShape(name, shape...)
}

// correspondences holds validated point-to-plane correspondences.
type correspondences struct {
	count   int
	pointsI []float32
	pointsJ []float32
	normals []float32
}

func checkCorrespondences(dev device.Device, pointsI, pointsJ, normalsI *device.Tensor) (*correspondences, error) {
	if err := checkTensor("points i", pointsI, tensor.Float32, dev, -1, 3); err != nil {
		return nil, err
	}
	count := pointsI.Shape()[0]
	if err := checkTensor("points j", pointsJ, tensor.Float32, dev, count, 3); err != nil {
		return nil, err
	}
	if err := checkTensor("normals i", normalsI, tensor.Float32, dev, count, 3); err != nil {
		return nil, err
	}
	return &correspondences{
		count:   count,
		pointsI: pointsI.Float32s(),
		pointsJ: pointsJ.Float32s(),
		normals: normalsI.Float32s(),
	}, nil
}

func vec3(data []float32, k int) r3.Vector {
	return r3.Vector{X: float64(data[3*k]), Y: float64(data[3*k+1]), Z: float64(data[3*k+2])}
}

// poseJacobian returns the point-to-plane residual of correspondence k and its
// derivative with respect to the twist of frame j. The derivative with respect to the
// twist of frame i is its opposite.
func (c *correspondences) poseJacobian(k int) (float64, [6]float64) {
	return pointToPlane(vec3(c.pointsI, k), vec3(c.pointsJ, k), vec3(c.normals, k))
}

func pointToPlane(pi, pj, n r3.Vector) (float64, [6]float64) {
	r := n.Dot(pj.Sub(pi))
	cross := pj.Cross(n)
	return r, [6]float64{cross.X, cross.Y, cross.Z, n.X, n.Y, n.Z}
}

func checkFrames(i, j, numFrames int) error {
	if i < 0 || j < 0 || i >= numFrames || j >= numFrames {
		return errors.Wrapf(device.ErrDimensionMismatch, "frames (%d, %d) out of range for %d frames", i, j, numFrames)
	}
	if i == j {
		return errors.Wrapf(device.ErrDimensionMismatch, "cannot align frame %d with itself", i)
	}
	return nil
}
