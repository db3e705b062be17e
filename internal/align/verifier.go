package align

import (
	"context"
	"fmt"
	"image"
	"math"
	"time"

	apperrors "go-cert-verifier/internal/errors"
	"go-cert-verifier/internal/logger"
	"go-cert-verifier/internal/observer"

	"github.com/sirupsen/logrus"
)

// Deps are the collaborators injected into the verifier. Cache, Stats and
// Events are optional; Locator, Comparator and Refiner default to the
// standard implementations when nil.
type Deps struct {
	Locator    FieldLocator
	Comparator Comparator
	Refiner    Refiner
	Cache      PositionCache
	Stats      ResultRecorder
	Events     observer.Subject
}

// iterativeVerifier implements Verifier as an explicit state machine:
// CacheProbe -> Rendering -> Locating -> Comparing -> {Passed | Refining ->
// Rendering | Exhausted | Diverged}.
type iterativeVerifier struct {
	locator      FieldLocator
	comparator   Comparator
	refiner      Refiner
	cache        PositionCache
	stats        ResultRecorder
	events       observer.Subject
	specs        []FieldSpec
	reference    image.Image
	refPositions map[string]DetectedPosition
	opts         VerifyOptions
}

// NewVerifier builds a verifier bound to one reference image and field
// layout. Reference positions are extracted once; a required field that
// cannot be located in the reference is a fatal setup error, not a runtime
// condition.
func NewVerifier(reference image.Image, specs []FieldSpec, opts VerifyOptions, deps Deps) (Verifier, error) {
	if reference == nil {
		return nil, apperrors.NewValidationError("reference image is required", nil)
	}
	if len(specs) == 0 {
		return nil, apperrors.NewValidationError("at least one field spec is required", nil)
	}
	if opts.MaxAttempts <= 0 {
		return nil, apperrors.NewValidationError(fmt.Sprintf("max attempts must be > 0 (got %d)", opts.MaxAttempts), nil)
	}
	if opts.TolerancePx < 0 {
		return nil, apperrors.NewValidationError(fmt.Sprintf("tolerance must be >= 0 (got %f)", opts.TolerancePx), nil)
	}

	if deps.Locator == nil {
		deps.Locator = NewFieldLocator()
	}
	if deps.Comparator == nil {
		deps.Comparator = NewComparator()
	}
	if deps.Refiner == nil {
		deps.Refiner = NewRefiner(DefaultRefinerConfig())
	}

	refPositions := make(map[string]DetectedPosition, len(specs))
	for _, spec := range specs {
		pos := deps.Locator.Locate(reference, spec)
		if !pos.Found {
			return nil, apperrors.NewValidationError(
				fmt.Sprintf("field %q not detectable in reference image", spec.Name), nil)
		}
		refPositions[spec.Name] = pos
	}

	return &iterativeVerifier{
		locator:      deps.Locator,
		comparator:   deps.Comparator,
		refiner:      deps.Refiner,
		cache:        deps.Cache,
		stats:        deps.Stats,
		events:       deps.Events,
		specs:        specs,
		reference:    reference,
		refPositions: refPositions,
		opts:         opts,
	}, nil
}

// Verify runs the verification loop for one certificate. Render failures,
// undetected fields, divergence and timeouts are all recoverable: the caller
// always receives a well-formed result. Only malformed input is an error.
func (v *iterativeVerifier) Verify(ctx context.Context, fields map[string]string, render RenderFunc) (*VerificationResult, error) {
	if render == nil {
		return nil, apperrors.NewValidationError("render callback is required", nil)
	}
	if err := v.validateFields(fields); err != nil {
		return nil, err
	}

	start := time.Now()
	v.publish(ctx, observer.VerificationEvent{
		EventType: observer.VerificationStarted,
		Timestamp: start,
		Fields:    fields,
	})

	result := &VerificationResult{TolerancePx: v.opts.TolerancePx}

	// CacheProbe: a hit only shortcuts the refinement search; the cached
	// parameters are re-rendered and re-verified before being trusted.
	if v.cache != nil {
		if cached, ok := v.cache.Get(fields); ok {
			v.publish(ctx, observer.VerificationEvent{
				EventType: observer.CacheHit,
				Timestamp: time.Now(),
				Fields:    fields,
			})
			attempt := v.runAttempt(ctx, 1, fields, cached, render)
			if attempt.Passed {
				result.Attempts = []VerificationAttempt{*attempt}
				result.Passed = true
				result.AttemptsUsed = 1
				result.UsedCache = true
				result.MaxDifference = attempt.MaxDifference
				result.Message = fmt.Sprintf("passed with cached parameters (max difference %.4fpx)", attempt.MaxDifference)
				return v.finish(ctx, fields, result, start), nil
			}
			logger.WithFields(logrus.Fields{
				"max_difference_px": attempt.MaxDifference,
			}).Warn("Cached render parameters failed revalidation, discarding entry")
			v.cache.Invalidate(fields)
			v.publish(ctx, observer.VerificationEvent{
				EventType: observer.CacheInvalidated,
				Timestamp: time.Now(),
				Fields:    fields,
			})
		}
	}

	var history []VerificationAttempt
	params := RenderParams{}

	for number := 1; number <= v.opts.MaxAttempts; number++ {
		if ctx.Err() != nil {
			result.TimedOut = true
			break
		}

		attempt := v.runAttempt(ctx, number, fields, params, render)
		history = append(history, *attempt)
		result.Attempts = history

		v.publish(ctx, observer.VerificationEvent{
			EventType:       observer.AttemptCompleted,
			Timestamp:       time.Now(),
			Fields:          fields,
			Attempt:         number,
			MaxDifferencePx: attempt.MaxDifference,
		})

		if attempt.Passed {
			result.Passed = true
			result.AttemptsUsed = number
			result.MaxDifference = attempt.MaxDifference
			result.Message = fmt.Sprintf("passed on attempt %d/%d (max difference %.4fpx)",
				number, v.opts.MaxAttempts, attempt.MaxDifference)
			if v.cache != nil {
				v.cache.Set(fields, attempt.Params)
			}
			return v.finish(ctx, fields, result, start), nil
		}

		if v.refiner.ShouldAbort(history) {
			result.Diverged = true
			break
		}
		params = v.refiner.NextParams(attempt.Params, attempt)
	}

	result.AttemptsUsed = len(history)
	v.selectBestAvailable(result, history)
	return v.finish(ctx, fields, result, start), nil
}

// runAttempt executes one Rendering -> Locating -> Comparing pass. A render
// failure produces an attempt with an infinite difference rather than an
// error; the loop decides whether budget remains.
func (v *iterativeVerifier) runAttempt(ctx context.Context, number int, fields map[string]string, params RenderParams, render RenderFunc) *VerificationAttempt {
	attempt := &VerificationAttempt{
		Number:        number,
		Params:        params.Clone(),
		Fields:        make(map[string]FieldComparison, len(v.specs)),
		MaxDifference: math.Inf(1),
	}

	renderCtx := ctx
	if v.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(ctx, v.opts.AttemptTimeout)
		defer cancel()
	}

	img, err := render(renderCtx, fields, params)
	if err != nil {
		attempt.RenderError = err.Error()
		logger.WithError(err).WithField("attempt", number).Warn("Render callback failed")
		return attempt
	}

	maxDiff := 0.0
	allDetected := true
	for _, spec := range v.specs {
		candidate := v.locator.Locate(img, spec)
		reference := v.refPositions[spec.Name]
		diff := v.comparator.Compare(candidate, reference)
		attempt.Fields[spec.Name] = FieldComparison{
			Candidate: candidate,
			Reference: reference,
			Diff:      diff,
		}
		if !diff.Detected() {
			allDetected = false
		}
		if diff.Distance > maxDiff {
			maxDiff = diff.Distance
		}
	}

	attempt.MaxDifference = maxDiff
	attempt.AllFieldsDetected = allDetected
	attempt.Passed = allDetected && maxDiff <= v.opts.TolerancePx

	if v.opts.ComputePixelDiff {
		pct := v.comparator.CompareImages(img, v.reference, v.opts.ChannelTolerance)
		attempt.PixelDiffPct = &pct
	}
	return attempt
}

// selectBestAvailable applies the Exhausted/Diverged fallback: the attempt
// with the smallest max difference among those where every field was
// detected, ties resolving to the earliest. With no such attempt the run is
// a total failure and no fallback is meaningful.
func (v *iterativeVerifier) selectBestAvailable(result *VerificationResult, history []VerificationAttempt) {
	best := -1
	for i, attempt := range history {
		if !attempt.AllFieldsDetected {
			continue
		}
		if best < 0 || attempt.MaxDifference < history[best].MaxDifference {
			best = i
		}
	}

	if best < 0 {
		result.MaxDifference = math.Inf(1)
		result.Message = fmt.Sprintf("failed: no attempt detected all fields (%d attempts)", len(history))
		return
	}

	number := history[best].Number
	result.UsedBestAvailable = true
	result.BestAttempt = &number
	result.MaxDifference = history[best].MaxDifference

	switch {
	case result.Diverged:
		result.Message = fmt.Sprintf("diverged after %d attempts; best attempt %d (max difference %.4fpx)",
			len(history), number, result.MaxDifference)
	case result.TimedOut:
		result.Message = fmt.Sprintf("timed out after %d attempts; best attempt %d (max difference %.4fpx)",
			len(history), number, result.MaxDifference)
	default:
		result.Message = fmt.Sprintf("exhausted %d attempts; best attempt %d (max difference %.4fpx)",
			len(history), number, result.MaxDifference)
	}
}

func (v *iterativeVerifier) finish(ctx context.Context, fields map[string]string, result *VerificationResult, start time.Time) *VerificationResult {
	result.CompletedAt = time.Now()

	eventType := observer.VerificationFailed
	if result.Passed {
		eventType = observer.VerificationPassed
	}
	v.publish(ctx, observer.VerificationEvent{
		EventType:       eventType,
		Timestamp:       result.CompletedAt,
		Fields:          fields,
		Attempt:         result.AttemptsUsed,
		Passed:          result.Passed,
		MaxDifferencePx: result.MaxDifference,
		Duration:        time.Since(start),
	})

	if v.stats != nil {
		v.stats.Record(result)
	}
	return result
}

// validateFields rejects unknown field names and requires a value for every
// configured field at the boundary.
func (v *iterativeVerifier) validateFields(fields map[string]string) error {
	known := make(map[string]bool, len(v.specs))
	for _, spec := range v.specs {
		known[spec.Name] = true
		if _, ok := fields[spec.Name]; !ok {
			return apperrors.NewValidationError(fmt.Sprintf("missing required field %q", spec.Name), nil)
		}
	}
	for name := range fields {
		if !known[name] {
			return apperrors.NewValidationError(fmt.Sprintf("unknown field %q", name), nil)
		}
	}
	return nil
}

func (v *iterativeVerifier) publish(ctx context.Context, event observer.VerificationEvent) {
	if v.events != nil {
		v.events.NotifyObservers(ctx, event)
	}
}
