// Package device describes where tensors live and launches data-parallel kernels on
// them. The CPU device is a goroutine backend that runs one kernel invocation per
// block of a launch grid; other device types are recognized but have no backend
// compiled in.
package device

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Type is the kind of a device.
type Type int

// The known device types.
const (
	CPU Type = iota
	CUDA
)

func (t Type) String() string {
	switch t {
	case CPU:
		return "CPU"
	case CUDA:
		return "CUDA"
	default:
		return "Unknown"
	}
}

var (
	// ErrUnsupportedDevice is returned when a kernel is launched on a device that has no backend.
	ErrUnsupportedDevice = errors.New("unsupported device")
	// ErrDeviceMismatch is returned when operands live on different devices.
	ErrDeviceMismatch = errors.New("device mismatch")
	// ErrInvalidDtype is returned when a tensor has the wrong element type.
	ErrInvalidDtype = errors.New("invalid dtype")
	// ErrDimensionMismatch is returned when a tensor has the wrong shape.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// Device identifies a device by type and ordinal.
type Device struct {
	Type Type
	ID   int
}

// Default is the device used when none is requested.
var Default = Device{Type: CPU}

func (d Device) String() string {
	return fmt.Sprintf("%s:%d", d.Type, d.ID)
}

// ParseDevice parses strings of the form "CPU:0" or "cuda:1". The ordinal is optional.
func ParseDevice(s string) (Device, error) {
	name, ordinal, hasOrdinal := strings.Cut(strings.TrimSpace(s), ":")
	var dev Device
	switch strings.ToUpper(name) {
	case "CPU":
		dev.Type = CPU
	case "CUDA":
		dev.Type = CUDA
	default:
		return Device{}, errors.Wrapf(ErrUnsupportedDevice, "unknown device type %q", name)
	}
	if hasOrdinal {
		id, err := strconv.Atoi(ordinal)
		if err != nil || id < 0 {
			return Device{}, errors.Errorf("invalid device ordinal %q", ordinal)
		}
		dev.ID = id
	}
	return dev, nil
}

// Available reports whether kernels can be launched on the device.
func (d Device) Available() bool {
	return d.Type == CPU && d.ID == 0
}

// CheckAvailable returns ErrUnsupportedDevice when the device has no backend.
func (d Device) CheckAvailable() error {
	if !d.Available() {
		return errors.Wrapf(ErrUnsupportedDevice, "no backend compiled in for %v", d)
	}
	return nil
}
