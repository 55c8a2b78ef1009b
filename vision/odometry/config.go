package odometry

import (
	"encoding/json"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/densevo/device"
	"go.viam.com/densevo/rimage/transform"
)

// Config contains the parameters of RGB-D odometry between two frames.
type Config struct {
	// Sigma weights the depth term against the intensity term, in [0, 1].
	Sigma     float64 `json:"sigma"`
	DepthNear float64 `json:"depth_near_m"`
	DepthFar  float64 `json:"depth_far_m"`
	// DepthDiff is the largest accepted difference between warped and observed target depth.
	DepthDiff float64 `json:"depth_diff_m"`

	NumLevels int `json:"num_levels"`
	// Iterations lists the iteration budget of each level from coarsest to finest. A single
	// value applies to every level.
	Iterations []int `json:"iterations"`
	BlockSize  int   `json:"block_size"`

	StepTolerance    float64 `json:"step_tolerance"`
	ErrorTolerance   float64 `json:"error_tolerance"`
	DivergenceFactor float64 `json:"divergence_factor"`
	// LevenbergLambda adds lambda*diag(JtJ) to the normal equations when positive.
	LevenbergLambda float64 `json:"levenberg_lambda"`

	Device     string                             `json:"device"`
	Intrinsics *transform.PinholeCameraIntrinsics `json:"intrinsic_parameters"`
}

// Default odometry parameters.
const (
	DefaultSigma            = 0.2
	DefaultDepthNear        = 0.1
	DefaultDepthFar         = 4.0
	DefaultDepthDiff        = 0.07
	DefaultNumLevels        = 3
	DefaultStepTolerance    = 1e-6
	DefaultErrorTolerance   = 1e-6
	DefaultDivergenceFactor = 2.0
)

// DefaultIterations is the per level iteration budget, coarsest first.
var DefaultIterations = []int{3, 5, 10}

// NewDefaultConfig returns the default configuration.
func NewDefaultConfig() *Config {
	return &Config{
		Sigma:            DefaultSigma,
		DepthNear:        DefaultDepthNear,
		DepthFar:         DefaultDepthFar,
		DepthDiff:        DefaultDepthDiff,
		NumLevels:        DefaultNumLevels,
		Iterations:       append([]int(nil), DefaultIterations...),
		BlockSize:        device.DefaultBlockSize,
		StepTolerance:    DefaultStepTolerance,
		ErrorTolerance:   DefaultErrorTolerance,
		DivergenceFactor: DefaultDivergenceFactor,
	}
}

// LoadConfig reads a JSON configuration file. Fields missing from the file keep their
// default values and unknown fields are an error.
func LoadConfig(path string) (*Config, error) {
	//nolint:gosec
	configFile, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening odometry config")
	}
	defer utils.UncheckedErrorFunc(configFile.Close)

	attributes := map[string]interface{}{}
	if err := json.NewDecoder(configFile).Decode(&attributes); err != nil {
		return nil, errors.Wrapf(err, "error parsing odometry config %s", path)
	}
	cfg := NewDefaultConfig()
	if err := cfg.decode(attributes); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) decode(attributes map[string]interface{}) error {
	// an explicit list replaces the defaults instead of being merged into them
	if _, ok := attributes["iterations"]; ok {
		cfg.Iterations = nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           cfg,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return errors.Wrap(decoder.Decode(attributes), "error decoding odometry config")
}

// Validate checks every field and returns all problems found.
func (cfg *Config) Validate() error {
	err := validateThresholds(cfg.Sigma, cfg.DepthNear, cfg.DepthFar, cfg.DepthDiff)
	if cfg.NumLevels <= 0 {
		err = multierr.Append(err, errors.Errorf("num_levels must be positive, got %d", cfg.NumLevels))
	}
	if len(cfg.Iterations) != 1 && len(cfg.Iterations) != cfg.NumLevels {
		err = multierr.Append(err, errors.Errorf(
			"iterations must have 1 or num_levels (%d) entries, got %d", cfg.NumLevels, len(cfg.Iterations)))
	}
	for _, iters := range cfg.Iterations {
		if iters < 0 {
			err = multierr.Append(err, errors.Errorf("iterations must not be negative, got %d", iters))
			break
		}
	}
	if cfg.BlockSize < 0 {
		err = multierr.Append(err, errors.Errorf("block_size must not be negative, got %d", cfg.BlockSize))
	}
	if cfg.StepTolerance < 0 || cfg.ErrorTolerance < 0 {
		err = multierr.Append(err, errors.New("tolerances must not be negative"))
	}
	if cfg.DivergenceFactor < 1 {
		err = multierr.Append(err, errors.Errorf("divergence_factor must be at least 1, got %v", cfg.DivergenceFactor))
	}
	if cfg.LevenbergLambda < 0 {
		err = multierr.Append(err, errors.Errorf("levenberg_lambda must not be negative, got %v", cfg.LevenbergLambda))
	}
	if cfg.Device != "" {
		if _, devErr := device.ParseDevice(cfg.Device); devErr != nil {
			err = multierr.Append(err, devErr)
		}
	}
	if cfg.Intrinsics != nil {
		err = multierr.Append(err, cfg.Intrinsics.CheckValid())
	}
	return err
}

func validateThresholds(sigma, near, far, diff float64) error {
	var err error
	if !(sigma >= 0 && sigma <= 1) {
		err = multierr.Append(err, errors.Errorf("sigma must be in [0, 1], got %v", sigma))
	}
	if !(near >= 0) {
		err = multierr.Append(err, errors.Errorf("depth_near_m must not be negative, got %v", near))
	}
	if !(far > near) {
		err = multierr.Append(err, errors.Errorf("depth_far_m (%v) must be larger than depth_near_m (%v)", far, near))
	}
	if !(diff > 0) {
		err = multierr.Append(err, errors.Errorf("depth_diff_m must be positive, got %v", diff))
	}
	return err
}

// iterationsFinestFirst expands Iterations to one entry per level, finest level first.
func (cfg *Config) iterationsFinestFirst() []int {
	out := make([]int, cfg.NumLevels)
	for l := range out {
		if len(cfg.Iterations) == 1 {
			out[l] = cfg.Iterations[0]
			continue
		}
		out[l] = cfg.Iterations[cfg.NumLevels-1-l]
	}
	return out
}

func (cfg *Config) blockSize() int {
	if cfg.BlockSize <= 0 {
		return device.DefaultBlockSize
	}
	return cfg.BlockSize
}

func (cfg *Config) clone() *Config {
	out := *cfg
	out.Iterations = append([]int(nil), cfg.Iterations...)
	if cfg.Intrinsics != nil {
		intrinsics := *cfg.Intrinsics
		out.Intrinsics = &intrinsics
	}
	return &out
}
