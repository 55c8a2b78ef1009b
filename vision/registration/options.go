// Package registration assembles point-to-plane alignment terms between pairs of frames
// into a shared linear system for multi-frame optimization, for rigid poses and for
// poses with a SLAC deformation grid.
package registration

// DefaultMaxResidual is the largest point-to-plane distance, in meters, of a
// correspondence that is still added to the system.
const DefaultMaxResidual = 0.07

// Options tune how correspondences are added to the system.
type Options struct {
	// Weight scales every contribution of the call.
	Weight float64
	// MaxResidual skips correspondences whose |r| is larger. Non-positive values keep every
	// correspondence.
	MaxResidual float64
}

// Option changes Options.
type Option func(*Options)

// WithWeight scales all contributions by w.
func WithWeight(w float64) Option {
	return func(opts *Options) {
		opts.Weight = w
	}
}

// WithMaxResidual sets the residual rejection threshold.
func WithMaxResidual(maxResidual float64) Option {
	return func(opts *Options) {
		opts.MaxResidual = maxResidual
	}
}

func newOptions(opts []Option) Options {
	o := Options{Weight: 1, MaxResidual: DefaultMaxResidual}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o Options) rejects(r float64) bool {
	return o.MaxResidual > 0 && (r > o.MaxResidual || r < -o.MaxResidual)
}
