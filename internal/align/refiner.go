package align

import (
	"math"
)

// RefinerConfig tunes the progressive refinement step schedule and the
// divergence detector.
type RefinerConfig struct {
	// InitialStep scales the first correction. 1.0 applies the full
	// measured error.
	InitialStep float64

	// DecayEvery halves the step after this many attempts, damping
	// oscillation as the loop approaches the target.
	DecayEvery int

	// Window is the number of trailing attempts the divergence detector
	// inspects.
	Window int
}

// DefaultRefinerConfig returns the step schedule used in production.
func DefaultRefinerConfig() RefinerConfig {
	return RefinerConfig{InitialStep: 1.0, DecayEvery: 2, Window: 3}
}

// progressiveRefiner implements Refiner.
type progressiveRefiner struct {
	cfg RefinerConfig
}

// NewRefiner creates a progressive refiner. Zero config values fall back to
// the defaults.
func NewRefiner(cfg RefinerConfig) Refiner {
	def := DefaultRefinerConfig()
	if cfg.InitialStep <= 0 {
		cfg.InitialStep = def.InitialStep
	}
	if cfg.DecayEvery <= 0 {
		cfg.DecayEvery = def.DecayEvery
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	return &progressiveRefiner{cfg: cfg}
}

// NextParams moves each detected field's offset against its measured error,
// scaled by a geometrically decaying step. Fields that were never detected
// keep their previous offsets; the refiner cannot correct a render that
// produces no text at all.
func (r *progressiveRefiner) NextParams(params RenderParams, attempt *VerificationAttempt) RenderParams {
	next := params.Clone()
	if next.Offsets == nil {
		next.Offsets = make(map[string]RenderOffset, len(attempt.Fields))
	}

	step := r.stepSize(attempt.Number)
	for name, fc := range attempt.Fields {
		if !fc.Diff.Detected() {
			continue
		}
		off := next.Offsets[name]
		off.DX -= (fc.Candidate.X - fc.Reference.X) * step
		off.DY -= (fc.Candidate.Y - fc.Reference.Y) * step
		next.Offsets[name] = off
	}
	return next
}

// ShouldAbort reports whether the trailing window of max differences is
// non-decreasing, i.e. further attempts are not improving the alignment.
func (r *progressiveRefiner) ShouldAbort(history []VerificationAttempt) bool {
	if len(history) < r.cfg.Window {
		return false
	}
	window := history[len(history)-r.cfg.Window:]
	for i := 1; i < len(window); i++ {
		if window[i].MaxDifference < window[i-1].MaxDifference {
			return false
		}
	}
	return true
}

func (r *progressiveRefiner) stepSize(attemptNumber int) float64 {
	halvings := (attemptNumber - 1) / r.cfg.DecayEvery
	return r.cfg.InitialStep * math.Pow(0.5, float64(halvings))
}
