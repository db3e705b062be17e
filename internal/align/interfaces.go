package align

import (
	"context"
	"image"
)

// RenderFunc is the external render callback. It must be a pure function of
// its inputs for the refinement loop to converge meaningfully.
type RenderFunc func(ctx context.Context, fields map[string]string, params RenderParams) (image.Image, error)

// FieldLocator detects a text field's bounding region inside an image.
type FieldLocator interface {
	Locate(img image.Image, spec FieldSpec) DetectedPosition
}

// Comparator computes per-field and whole-image differences.
type Comparator interface {
	// Compare returns the positional difference between two observations
	// of the same field. Infinite when either side was not detected.
	Compare(a, b DetectedPosition) FieldDifference

	// CompareImages returns the fraction of pixels whose per-channel
	// difference exceeds channelTolerance. Supplementary diagnostic only.
	CompareImages(a, b image.Image, channelTolerance uint8) float64
}

// Refiner computes corrective render parameters from a failed attempt and
// detects when further attempts stop improving.
type Refiner interface {
	NextParams(params RenderParams, attempt *VerificationAttempt) RenderParams
	ShouldAbort(history []VerificationAttempt) bool
}

// Verifier orchestrates the render/locate/compare/retry loop for one
// certificate. Implementations are safe for concurrent use; each call is an
// independent run.
type Verifier interface {
	Verify(ctx context.Context, fields map[string]string, render RenderFunc) (*VerificationResult, error)
}

// PositionCache is the advisory store of previously successful render
// parameters. Hits are always re-verified before being trusted.
type PositionCache interface {
	Get(fields map[string]string) (RenderParams, bool)
	Set(fields map[string]string, params RenderParams)
	Invalidate(fields map[string]string)
}

// ResultRecorder receives every terminal verification outcome.
type ResultRecorder interface {
	Record(result *VerificationResult)
}
