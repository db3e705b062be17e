package align

import (
	"go-cert-verifier/pkg/models"
)

// Aliases to the shared models so transport and service layers exchange the
// same types this package produces.
type (
	DetectedPosition    = models.DetectedPosition
	FieldDifference     = models.FieldDifference
	FieldComparison     = models.FieldComparison
	RenderOffset        = models.RenderOffset
	RenderParams        = models.RenderParams
	VerificationAttempt = models.VerificationAttempt
	VerificationResult  = models.VerificationResult
)

// FieldSpec is the static per-field detection configuration. Loaded once at
// startup and shared read-only across verification runs.
type FieldSpec struct {
	// Name identifies the text field (e.g. "name", "event", "organiser").
	Name string `json:"name"`

	// WindowTop and WindowBottom bound the vertical search window as
	// fractions of the image height.
	WindowTop    float64 `json:"window_top"`
	WindowBottom float64 `json:"window_bottom"`

	// DarknessThreshold is the luminance below which a pixel counts as ink.
	DarknessThreshold uint8 `json:"darkness_threshold"`

	// MinInkPixels is the minimum ink pixels a row needs to count as text.
	MinInkPixels int `json:"min_ink_pixels"`

	// MinColumnInk is the minimum ink pixels a column needs, within the
	// detected row band, to count toward the horizontal extent.
	MinColumnInk int `json:"min_column_ink"`
}

// DefaultFieldSpecs returns the certificate layout the reference template
// uses: three text fields at fixed vertical bands.
func DefaultFieldSpecs() []FieldSpec {
	return []FieldSpec{
		{Name: "name", WindowTop: 0.20, WindowBottom: 0.40, DarknessThreshold: 200, MinInkPixels: 100, MinColumnInk: 10},
		{Name: "event", WindowTop: 0.40, WindowBottom: 0.58, DarknessThreshold: 200, MinInkPixels: 100, MinColumnInk: 10},
		{Name: "organiser", WindowTop: 0.55, WindowBottom: 0.70, DarknessThreshold: 200, MinInkPixels: 100, MinColumnInk: 10},
	}
}
