package align

import "time"

// VerifyOptions provides flexible configuration for a verification run.
type VerifyOptions struct {
	// TolerancePx is the maximum allowed per-field pixel distance for the
	// run to pass.
	TolerancePx float64

	// MaxAttempts bounds the render/verify/refine loop.
	MaxAttempts int

	// AttemptTimeout is the wall-clock budget for a single render call.
	// Zero means no per-attempt budget beyond the run context.
	AttemptTimeout time.Duration

	// ComputePixelDiff enables the whole-image diff diagnostic on every
	// attempt. It is never part of the pass criterion.
	ComputePixelDiff bool

	// ChannelTolerance is the per-channel delta treated as equal by the
	// whole-image diff.
	ChannelTolerance uint8
}

// DefaultVerifyOptions returns the production defaults.
func DefaultVerifyOptions() VerifyOptions {
	return VerifyOptions{
		TolerancePx:      2.0,
		MaxAttempts:      10,
		AttemptTimeout:   0,
		ComputePixelDiff: false,
		ChannelTolerance: 1,
	}
}

// WithTolerance sets the pass tolerance in pixels.
func (o VerifyOptions) WithTolerance(px float64) VerifyOptions {
	o.TolerancePx = px
	return o
}

// WithMaxAttempts sets the attempt budget.
func (o VerifyOptions) WithMaxAttempts(n int) VerifyOptions {
	o.MaxAttempts = n
	return o
}

// WithAttemptTimeout sets the per-render wall-clock budget.
func (o VerifyOptions) WithAttemptTimeout(d time.Duration) VerifyOptions {
	o.AttemptTimeout = d
	return o
}

// WithPixelDiff enables the whole-image diff diagnostic.
func (o VerifyOptions) WithPixelDiff() VerifyOptions {
	o.ComputePixelDiff = true
	return o
}
