package models

import (
	"encoding/json"
	"math"
	"time"
)

// RenderOffset is a per-field positional correction, in pixels, applied by
// the renderer relative to the field's configured baseline position.
type RenderOffset struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// RenderParams carries the adjustable inputs handed to the render callback.
// An empty Offsets map means "render at the configured baseline positions".
type RenderParams struct {
	Offsets map[string]RenderOffset `json:"offsets,omitempty"`
}

// Clone returns a deep copy so refinement never mutates a recorded attempt.
func (p RenderParams) Clone() RenderParams {
	if p.Offsets == nil {
		return RenderParams{}
	}
	offsets := make(map[string]RenderOffset, len(p.Offsets))
	for name, off := range p.Offsets {
		offsets[name] = off
	}
	return RenderParams{Offsets: offsets}
}

// DetectedPosition is the result of locating a field in one image.
// Found=false means the field produced no measurable text in its search
// window; the zero coordinates carry no meaning in that case.
type DetectedPosition struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Found bool    `json:"found"`
}

// FieldDifference holds the positional delta between a candidate and a
// reference observation of the same field. All three values are +Inf when
// the field was not detected on either side, so "not found" can never be
// mistaken for "perfectly aligned".
type FieldDifference struct {
	DY       float64
	DX       float64
	Distance float64
}

// Detected reports whether the difference is finite, i.e. the field was
// detected in both images.
func (d FieldDifference) Detected() bool {
	return !math.IsInf(d.Distance, 1)
}

// MarshalJSON renders infinite differences as null so results stay valid
// JSON for API responses and exports.
func (d FieldDifference) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Detected bool     `json:"detected"`
		DY       *float64 `json:"dy"`
		DX       *float64 `json:"dx"`
		Distance *float64 `json:"distance"`
	}{
		Detected: d.Detected(),
		DY:       finiteOrNil(d.DY),
		DX:       finiteOrNil(d.DX),
		Distance: finiteOrNil(d.Distance),
	})
}

// FieldComparison pairs both observations of a field with their difference.
type FieldComparison struct {
	Candidate DetectedPosition `json:"candidate"`
	Reference DetectedPosition `json:"reference"`
	Diff      FieldDifference  `json:"difference"`
}

// VerificationAttempt records one iteration of the render/locate/compare loop.
type VerificationAttempt struct {
	Number            int                        `json:"attempt_number"`
	Params            RenderParams               `json:"render_params"`
	Fields            map[string]FieldComparison `json:"fields"`
	MaxDifference     float64                    `json:"max_difference_px"`
	AllFieldsDetected bool                       `json:"all_fields_detected"`
	Passed            bool                       `json:"passed"`
	PixelDiffPct      *float64                   `json:"pixel_diff_pct,omitempty"`
	RenderError       string                     `json:"render_error,omitempty"`
}

// MarshalJSON maps an infinite MaxDifference to null.
func (a VerificationAttempt) MarshalJSON() ([]byte, error) {
	type alias VerificationAttempt
	return json.Marshal(struct {
		alias
		MaxDifference *float64 `json:"max_difference_px"`
	}{
		alias:         alias(a),
		MaxDifference: finiteOrNil(a.MaxDifference),
	})
}

// VerificationResult is the outcome of a full verification run. It is owned
// by a single run and discarded once the caller and the statistics tracker
// have consumed it.
type VerificationResult struct {
	Attempts          []VerificationAttempt `json:"attempts"`
	Passed            bool                  `json:"passed"`
	AttemptsUsed      int                   `json:"attempts_used"`
	MaxDifference     float64               `json:"max_difference_px"`
	TolerancePx       float64               `json:"tolerance_px"`
	UsedBestAvailable bool                  `json:"used_best_available"`
	BestAttempt       *int                  `json:"best_attempt,omitempty"`
	UsedCache         bool                  `json:"used_cache"`
	Diverged          bool                  `json:"diverged,omitempty"`
	TimedOut          bool                  `json:"timed_out,omitempty"`
	Message           string                `json:"message"`
	CompletedAt       time.Time             `json:"completed_at"`
}

// MarshalJSON maps an infinite MaxDifference to null.
func (r VerificationResult) MarshalJSON() ([]byte, error) {
	type alias VerificationResult
	return json.Marshal(struct {
		alias
		MaxDifference *float64 `json:"max_difference_px"`
	}{
		alias:         alias(r),
		MaxDifference: finiteOrNil(r.MaxDifference),
	})
}

func finiteOrNil(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}
