package align

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"
	"time"

	"go-cert-verifier/internal/cache"
	"go-cert-verifier/internal/observer"
	"go-cert-verifier/internal/stats"
)

// referenceImage carries the band at its canonical position.
func referenceImage() *image.RGBA {
	img := newBlankImage(100, 100)
	drawBand(img, 40, 28, 59, 31)
	return img
}

// shiftedRender simulates a renderer that draws the band displaced by a fixed
// misalignment plus whatever offset the refiner requests.
func shiftedRender(misX, misY float64) RenderFunc {
	return func(ctx context.Context, fields map[string]string, params RenderParams) (image.Image, error) {
		off := params.Offsets["name"]
		dx := int(math.Round(misX + off.DX))
		dy := int(math.Round(misY + off.DY))
		img := newBlankImage(100, 100)
		drawBand(img, 40+dx, 28+dy, 59+dx, 31+dy)
		return img, nil
	}
}

// fixedRender ignores render parameters entirely, so refinement can never
// improve the alignment.
func fixedRender(misX float64) RenderFunc {
	return func(ctx context.Context, fields map[string]string, params RenderParams) (image.Image, error) {
		img := newBlankImage(100, 100)
		drawBand(img, 40+int(misX), 28, 59+int(misX), 31)
		return img, nil
	}
}

func blankRender(ctx context.Context, fields map[string]string, params RenderParams) (image.Image, error) {
	return newBlankImage(100, 100), nil
}

func newTestVerifier(t *testing.T, deps Deps) Verifier {
	t.Helper()
	v, err := NewVerifier(referenceImage(), []FieldSpec{testSpec()}, DefaultVerifyOptions(), deps)
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}
	return v
}

func testFields() map[string]string {
	return map[string]string{"name": "Ada Lovelace"}
}

func TestVerifyPassesFirstAttempt(t *testing.T) {
	v := newTestVerifier(t, Deps{})

	result, err := v.Verify(context.Background(), testFields(), shiftedRender(0, 0))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if !result.Passed {
		t.Fatalf("Expected pass, got: %s", result.Message)
	}
	if result.AttemptsUsed != 1 {
		t.Errorf("Expected 1 attempt, got %d", result.AttemptsUsed)
	}
	if result.MaxDifference != 0 {
		t.Errorf("Expected zero difference, got %f", result.MaxDifference)
	}
	if result.UsedCache || result.UsedBestAvailable || result.Diverged || result.TimedOut {
		t.Errorf("Unexpected flags set: %+v", result)
	}
}

func TestVerifyConvergesAfterRefinement(t *testing.T) {
	v := newTestVerifier(t, Deps{})

	// Band starts 4px right of the reference; one full-step correction
	// brings it home.
	result, err := v.Verify(context.Background(), testFields(), shiftedRender(4, 0))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if !result.Passed {
		t.Fatalf("Expected pass after refinement, got: %s", result.Message)
	}
	if result.AttemptsUsed != 2 {
		t.Errorf("Expected 2 attempts, got %d", result.AttemptsUsed)
	}
	if len(result.Attempts) != 2 {
		t.Fatalf("Expected 2 recorded attempts, got %d", len(result.Attempts))
	}
	if result.Attempts[0].Passed {
		t.Error("First attempt should have failed")
	}
	if dx := result.Attempts[1].Params.Offsets["name"].DX; dx != -4.0 {
		t.Errorf("Expected corrective offset -4.0, got %f", dx)
	}
}

func TestVerifyDivergenceFallsBackToBestAttempt(t *testing.T) {
	v := newTestVerifier(t, Deps{})

	result, err := v.Verify(context.Background(), testFields(), fixedRender(10))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if result.Passed {
		t.Fatal("Expected failure for unresponsive renderer")
	}
	if !result.Diverged {
		t.Error("Expected divergence flag")
	}
	if result.AttemptsUsed != 3 {
		t.Errorf("Expected abort after 3 stagnant attempts, got %d", result.AttemptsUsed)
	}
	if !result.UsedBestAvailable {
		t.Fatal("Expected best-available fallback")
	}
	// All attempts tie at 10px; ties resolve to the earliest.
	if result.BestAttempt == nil || *result.BestAttempt != 1 {
		t.Errorf("Expected best attempt 1, got %v", result.BestAttempt)
	}
	if result.MaxDifference != 10.0 {
		t.Errorf("Expected max difference 10.0, got %f", result.MaxDifference)
	}
}

// scriptedComparator replays a fixed distance per attempt so exhaustion
// scenarios are controllable without crafting ten distinct images.
type scriptedComparator struct {
	distances []float64
	calls     int
}

func (c *scriptedComparator) Compare(a, b DetectedPosition) FieldDifference {
	d := c.distances[c.calls%len(c.distances)]
	c.calls++
	return FieldDifference{DY: 0, DX: d, Distance: d}
}

func (c *scriptedComparator) CompareImages(a, b image.Image, channelTolerance uint8) float64 {
	return 0
}

func TestVerifyExhaustionKeepsBestAttempt(t *testing.T) {
	// Never within tolerance, no 3-attempt stagnation, minimum at attempt 7.
	comparator := &scriptedComparator{
		distances: []float64{8, 7, 6, 5, 4, 3, 2.4, 2.8, 2.6, 2.5},
	}
	v, err := NewVerifier(referenceImage(), []FieldSpec{testSpec()}, DefaultVerifyOptions(), Deps{
		Comparator: comparator,
	})
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}

	result, err := v.Verify(context.Background(), testFields(), shiftedRender(0, 0))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if result.Passed {
		t.Fatal("Expected exhaustion, not a pass")
	}
	if result.Diverged || result.TimedOut {
		t.Errorf("Expected plain exhaustion, got flags %+v", result)
	}
	if result.AttemptsUsed != 10 {
		t.Errorf("Expected full attempt budget, got %d", result.AttemptsUsed)
	}
	if !result.UsedBestAvailable {
		t.Fatal("Expected best-available fallback")
	}
	if result.BestAttempt == nil || *result.BestAttempt != 7 {
		t.Errorf("Expected best attempt 7, got %v", result.BestAttempt)
	}
	if result.MaxDifference != 2.4 {
		t.Errorf("Expected best difference 2.4, got %f", result.MaxDifference)
	}
}

func TestVerifyTotalDetectionFailure(t *testing.T) {
	v := newTestVerifier(t, Deps{})

	result, err := v.Verify(context.Background(), testFields(), blankRender)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if result.Passed {
		t.Fatal("Expected failure when no field is ever detected")
	}
	if result.UsedBestAvailable {
		t.Error("No attempt detected all fields; best-available must not apply")
	}
	if !math.IsInf(result.MaxDifference, 1) {
		t.Errorf("Expected infinite max difference, got %f", result.MaxDifference)
	}
}

func TestVerifyMissingEventFieldForcesFailure(t *testing.T) {
	eventSpec := FieldSpec{
		Name:              "event",
		WindowTop:         0.5,
		WindowBottom:      0.7,
		DarknessThreshold: 128,
		MinInkPixels:      5,
		MinColumnInk:      2,
	}

	reference := referenceImage()
	drawBand(reference, 30, 55, 49, 58)

	v, err := NewVerifier(reference, []FieldSpec{testSpec(), eventSpec}, DefaultVerifyOptions(), Deps{})
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}

	// The renderer places the name band pixel-identical to the reference but
	// omits the event text entirely.
	nameOnly := func(ctx context.Context, fields map[string]string, params RenderParams) (image.Image, error) {
		img := newBlankImage(100, 100)
		drawBand(img, 40, 28, 59, 31)
		return img, nil
	}

	fields := map[string]string{"name": "Ada Lovelace", "event": "GopherCon"}
	result, err := v.Verify(context.Background(), fields, nameOnly)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if result.Passed {
		t.Fatal("Expected failure while the event field is undetected")
	}
	if !math.IsInf(result.MaxDifference, 1) {
		t.Errorf("Expected infinite max difference, got %f", result.MaxDifference)
	}
	if result.UsedBestAvailable {
		t.Error("No attempt detected all fields; best-available must not apply")
	}

	first := result.Attempts[0]
	if first.AllFieldsDetected {
		t.Error("Expected all_fields_detected=false")
	}
	if eventDiff := first.Fields["event"].Diff; eventDiff.Detected() {
		t.Errorf("Expected infinite event difference, got %+v", eventDiff)
	}
	if nameDiff := first.Fields["name"].Diff; !nameDiff.Detected() || nameDiff.Distance != 0 {
		t.Errorf("Expected pixel-identical name field, got %+v", nameDiff)
	}
}

func TestVerifyRenderErrorCountsAsAttempt(t *testing.T) {
	v := newTestVerifier(t, Deps{})

	renderErr := errors.New("render engine unavailable")
	failing := func(ctx context.Context, fields map[string]string, params RenderParams) (image.Image, error) {
		return nil, renderErr
	}

	result, err := v.Verify(context.Background(), testFields(), failing)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if result.Passed {
		t.Fatal("Expected failure when every render errors")
	}
	if len(result.Attempts) == 0 {
		t.Fatal("Expected render failures to be recorded as attempts")
	}
	first := result.Attempts[0]
	if first.RenderError != renderErr.Error() {
		t.Errorf("Expected render error recorded, got %q", first.RenderError)
	}
	if !math.IsInf(first.MaxDifference, 1) {
		t.Errorf("Expected infinite attempt difference, got %f", first.MaxDifference)
	}
}

func TestVerifyCachedParamsShortcut(t *testing.T) {
	positionCache := cache.New(time.Hour)
	positionCache.Set(testFields(), RenderParams{Offsets: map[string]RenderOffset{
		"name": {DX: -4.0},
	}})

	v := newTestVerifier(t, Deps{Cache: positionCache})

	result, err := v.Verify(context.Background(), testFields(), shiftedRender(4, 0))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if !result.Passed {
		t.Fatalf("Expected cached parameters to pass revalidation, got: %s", result.Message)
	}
	if !result.UsedCache {
		t.Error("Expected used_cache flag")
	}
	if result.AttemptsUsed != 1 {
		t.Errorf("Expected a single revalidation attempt, got %d", result.AttemptsUsed)
	}
}

func TestVerifyStaleCacheEntryIsInvalidated(t *testing.T) {
	positionCache := cache.New(time.Hour)
	positionCache.Set(testFields(), RenderParams{Offsets: map[string]RenderOffset{
		"name": {DX: 3.0}, // pushes the band further off target
	}})

	v := newTestVerifier(t, Deps{Cache: positionCache})

	result, err := v.Verify(context.Background(), testFields(), shiftedRender(4, 0))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if !result.Passed {
		t.Fatalf("Expected fresh search to recover, got: %s", result.Message)
	}
	if result.UsedCache {
		t.Error("A failed revalidation must not report used_cache")
	}
	if result.AttemptsUsed != 2 {
		t.Errorf("Expected fresh attempt numbering, got %d attempts", result.AttemptsUsed)
	}

	// The passing parameters replace the stale entry.
	params, ok := positionCache.Get(testFields())
	if !ok {
		t.Fatal("Expected cache to hold the refreshed parameters")
	}
	if dx := params.Offsets["name"].DX; dx != -4.0 {
		t.Errorf("Expected refreshed DX -4.0, got %f", dx)
	}
}

func TestVerifyCancelledContext(t *testing.T) {
	v := newTestVerifier(t, Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := v.Verify(ctx, testFields(), shiftedRender(0, 0))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if !result.TimedOut {
		t.Error("Expected timed_out flag for cancelled context")
	}
	if result.Passed {
		t.Error("Expected failure for cancelled context")
	}
	if result.AttemptsUsed != 0 {
		t.Errorf("Expected no attempts, got %d", result.AttemptsUsed)
	}
}

func TestVerifyRecordsStats(t *testing.T) {
	tracker := stats.NewTracker(10)
	v := newTestVerifier(t, Deps{Stats: tracker})

	if _, err := v.Verify(context.Background(), testFields(), shiftedRender(0, 0)); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if _, err := v.Verify(context.Background(), testFields(), blankRender); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	summary := tracker.Summary()
	if summary.Total != 2 {
		t.Fatalf("Expected 2 recorded runs, got %d", summary.Total)
	}
	if summary.Passes != 1 || summary.Fails != 1 {
		t.Errorf("Expected 1 pass and 1 fail, got %d/%d", summary.Passes, summary.Fails)
	}
}

func TestVerifyPublishesEvents(t *testing.T) {
	publisher := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver()
	publisher.Subscribe(metrics)

	positionCache := cache.New(time.Hour)
	positionCache.Set(testFields(), RenderParams{Offsets: map[string]RenderOffset{
		"name": {DX: -4.0},
	}})

	v := newTestVerifier(t, Deps{Cache: positionCache, Events: publisher})

	if _, err := v.Verify(context.Background(), testFields(), shiftedRender(4, 0)); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	collected := metrics.GetMetrics()
	if collected["total_runs"] != int64(1) {
		t.Errorf("Expected 1 run, got %v", collected["total_runs"])
	}
	if collected["passed_runs"] != int64(1) {
		t.Errorf("Expected 1 passed run, got %v", collected["passed_runs"])
	}
	if collected["cache_hits"] != int64(1) {
		t.Errorf("Expected 1 cache hit, got %v", collected["cache_hits"])
	}
}

func TestVerifyComputePixelDiff(t *testing.T) {
	opts := DefaultVerifyOptions().WithPixelDiff()
	v, err := NewVerifier(referenceImage(), []FieldSpec{testSpec()}, opts, Deps{})
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}

	result, err := v.Verify(context.Background(), testFields(), shiftedRender(0, 0))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if result.Attempts[0].PixelDiffPct == nil {
		t.Fatal("Expected pixel diff diagnostic on the attempt")
	}
	if *result.Attempts[0].PixelDiffPct != 0 {
		t.Errorf("Expected identical render, got %f", *result.Attempts[0].PixelDiffPct)
	}
}

func TestVerifyInputValidation(t *testing.T) {
	v := newTestVerifier(t, Deps{})

	testCases := []struct {
		name   string
		fields map[string]string
		render RenderFunc
	}{
		{"nil render", testFields(), nil},
		{"missing field", map[string]string{}, shiftedRender(0, 0)},
		{"unknown field", map[string]string{"name": "x", "badge": "y"}, shiftedRender(0, 0)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.Verify(context.Background(), tc.fields, tc.render); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestNewVerifierValidation(t *testing.T) {
	specs := []FieldSpec{testSpec()}
	opts := DefaultVerifyOptions()

	if _, err := NewVerifier(nil, specs, opts, Deps{}); err == nil {
		t.Error("Expected error for nil reference")
	}
	if _, err := NewVerifier(referenceImage(), nil, opts, Deps{}); err == nil {
		t.Error("Expected error for empty specs")
	}
	if _, err := NewVerifier(referenceImage(), specs, opts.WithMaxAttempts(0), Deps{}); err == nil {
		t.Error("Expected error for zero attempt budget")
	}

	// A reference where the field cannot be located is a setup error.
	if _, err := NewVerifier(newBlankImage(100, 100), specs, opts, Deps{}); err == nil {
		t.Error("Expected error for undetectable reference field")
	}
}
