package device

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Tensor is a dense tensor tagged with the device that owns its memory.
type Tensor struct {
	*tensor.Dense
	device Device

	f32 []float32
	i32 []int32
}

// NewTensor tags an existing dense tensor with a device.
func NewTensor(dev Device, dense *tensor.Dense) *Tensor {
	t := &Tensor{Dense: dense, device: dev}
	switch data := dense.Data().(type) {
	case []float32:
		t.f32 = data
	case []int32:
		t.i32 = data
	}
	return t
}

// FromFloat32 wraps data, without copying, as a float32 tensor of the given shape.
func FromFloat32(dev Device, data []float32, shape ...int) *Tensor {
	dense := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
	return &Tensor{Dense: dense, device: dev, f32: data}
}

// FromInt32 wraps data, without copying, as an int32 tensor of the given shape.
func FromInt32(dev Device, data []int32, shape ...int) *Tensor {
	dense := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
	return &Tensor{Dense: dense, device: dev, i32: data}
}

// Zeros allocates a zero float32 tensor of the given shape.
func Zeros(dev Device, shape ...int) *Tensor {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return FromFloat32(dev, make([]float32, n), shape...)
}

// Device returns the device owning the tensor memory.
func (t *Tensor) Device() Device {
	return t.device
}

// Float32s returns the backing data of a float32 tensor, nil otherwise.
func (t *Tensor) Float32s() []float32 {
	return t.f32
}

// Int32s returns the backing data of an int32 tensor, nil otherwise.
func (t *Tensor) Int32s() []int32 {
	return t.i32
}

// Fill sets every element of a float32 tensor to v.
func (t *Tensor) Fill(v float32) {
	for i := range t.f32 {
		t.f32[i] = v
	}
}

// CheckDtype returns ErrInvalidDtype when the tensor element type is not dt.
func (t *Tensor) CheckDtype(name string, dt tensor.Dtype) error {
	if t == nil || t.Dense == nil {
		return errors.Wrapf(ErrDimensionMismatch, "%s is nil", name)
	}
	if t.Dtype() != dt {
		return errors.Wrapf(ErrInvalidDtype, "%s has dtype %v, expected %v", name, t.Dtype(), dt)
	}
	return nil
}

// CheckDevice returns ErrDeviceMismatch when the tensor does not live on dev.
func (t *Tensor) CheckDevice(name string, dev Device) error {
	if t.device != dev {
		return errors.Wrapf(ErrDeviceMismatch, "%s is on %v, expected %v", name, t.device, dev)
	}
	return nil
}

// CheckShape returns ErrDimensionMismatch when the tensor shape differs from shape.
// A negative entry in shape matches any size along that axis.
func (t *Tensor) CheckShape(name string, shape ...int) error {
	actual := t.Shape()
	if len(actual) != len(shape) {
		return errors.Wrapf(ErrDimensionMismatch, "%s has shape %v, expected %v", name, actual, shape)
	}
	for i, s := range shape {
		if s >= 0 && actual[i] != s {
			return errors.Wrapf(ErrDimensionMismatch, "%s has shape %v, expected %v", name, actual, shape)
		}
	}
	return nil
}
