package odometry

import (
	"github.com/pkg/errors"

	"go.viam.com/densevo/device"
)

// Errors returned by the odometry engine. Device level errors are shared with the
// device package so errors.Is works against either name.
var (
	ErrDeviceMismatch    = device.ErrDeviceMismatch
	ErrUnsupportedDevice = device.ErrUnsupportedDevice
	ErrInvalidDtype      = device.ErrInvalidDtype
	ErrDimensionMismatch = device.ErrDimensionMismatch

	// ErrIllConditioned is returned when the normal equations of the finest level could not be solved.
	ErrIllConditioned = errors.New("normal equations are ill-conditioned")
	// ErrDiverged is returned when the error of the finest level grew beyond the divergence factor.
	ErrDiverged = errors.New("odometry diverged")
	// ErrNotConfigured is returned when Run is called before Configure and SetIntrinsics.
	ErrNotConfigured = errors.New("odometry is not configured")
	// ErrConcurrentRun is returned when Run is called while another Run is in progress.
	ErrConcurrentRun = errors.New("odometry is already running")
)
