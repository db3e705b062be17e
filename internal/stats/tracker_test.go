package stats

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"go-cert-verifier/pkg/models"
)

func passedResult(attempts int) *models.VerificationResult {
	return &models.VerificationResult{
		Passed:       true,
		AttemptsUsed: attempts,
		TolerancePx:  2.0,
		Attempts: []models.VerificationAttempt{
			{
				Number: attempts,
				Fields: map[string]models.FieldComparison{
					"name": {Diff: models.FieldDifference{Distance: 0.5}},
				},
			},
		},
	}
}

func failedResult(attempts int, failingField string) *models.VerificationResult {
	inf := math.Inf(1)
	return &models.VerificationResult{
		Passed:       false,
		AttemptsUsed: attempts,
		TolerancePx:  2.0,
		Attempts: []models.VerificationAttempt{
			{
				Number: attempts,
				Fields: map[string]models.FieldComparison{
					"name":       {Diff: models.FieldDifference{Distance: 0.5}},
					failingField: {Diff: models.FieldDifference{DY: inf, DX: inf, Distance: inf}},
				},
			},
		},
	}
}

func TestTrackerSummary(t *testing.T) {
	tracker := NewTracker(10)

	tracker.Record(passedResult(1))
	tracker.Record(passedResult(3))
	tracker.Record(failedResult(10, "event"))

	summary := tracker.Summary()

	if summary.Total != 3 {
		t.Fatalf("Expected 3 records, got %d", summary.Total)
	}
	if summary.Passes != 2 || summary.Fails != 1 {
		t.Errorf("Expected 2 passes and 1 fail, got %d/%d", summary.Passes, summary.Fails)
	}
	expectedRate := 2.0 / 3.0
	if math.Abs(summary.SuccessRate-expectedRate) > 1e-9 {
		t.Errorf("Expected success rate %f, got %f", expectedRate, summary.SuccessRate)
	}
	expectedAvg := (1.0 + 3.0 + 10.0) / 3.0
	if math.Abs(summary.AverageAttempts-expectedAvg) > 1e-9 {
		t.Errorf("Expected average attempts %f, got %f", expectedAvg, summary.AverageAttempts)
	}
	if summary.AttemptsHistogram[1] != 1 || summary.AttemptsHistogram[3] != 1 || summary.AttemptsHistogram[10] != 1 {
		t.Errorf("Unexpected histogram: %v", summary.AttemptsHistogram)
	}
	if summary.FieldFailures["event"] != 1 {
		t.Errorf("Expected 1 failure for event field, got %d", summary.FieldFailures["event"])
	}
}

func TestTrackerEmptySummary(t *testing.T) {
	summary := NewTracker(10).Summary()

	if summary.Total != 0 {
		t.Errorf("Expected empty summary, got %d records", summary.Total)
	}
	if summary.SuccessRate != 0 {
		t.Errorf("Expected zero success rate for empty buffer, got %f", summary.SuccessRate)
	}
}

func TestTrackerRingEviction(t *testing.T) {
	tracker := NewTracker(3)

	tracker.Record(failedResult(5, "event"))
	tracker.Record(passedResult(1))
	tracker.Record(passedResult(2))
	tracker.Record(passedResult(3)) // evicts the failure

	summary := tracker.Summary()
	if summary.Total != 3 {
		t.Fatalf("Expected buffer capped at 3, got %d", summary.Total)
	}
	if summary.Fails != 0 {
		t.Errorf("Expected oldest record evicted, got %d fails", summary.Fails)
	}
	if summary.SuccessRate != 1.0 {
		t.Errorf("Expected success rate 1.0, got %f", summary.SuccessRate)
	}
}

func TestTrackerBestAttemptFieldOutcomes(t *testing.T) {
	tracker := NewTracker(10)

	// A run that settled on its second attempt via best-available fallback:
	// the per-field outcomes must come from that attempt, not the last one.
	best := 2
	inf := math.Inf(1)
	tracker.Record(&models.VerificationResult{
		Passed:       false,
		AttemptsUsed: 3,
		TolerancePx:  2.0,
		BestAttempt:  &best,
		Attempts: []models.VerificationAttempt{
			{Number: 1, Fields: map[string]models.FieldComparison{
				"name": {Diff: models.FieldDifference{DY: inf, DX: inf, Distance: inf}},
			}},
			{Number: 2, Fields: map[string]models.FieldComparison{
				"name": {Diff: models.FieldDifference{Distance: 1.0}},
			}},
			{Number: 3, Fields: map[string]models.FieldComparison{
				"name": {Diff: models.FieldDifference{Distance: 8.0}},
			}},
		},
	})

	summary := tracker.Summary()
	if summary.FieldFailures["name"] != 0 {
		t.Errorf("Expected best attempt outcomes (within tolerance), got %v", summary.FieldFailures)
	}
}

func TestTrackerRecommendations(t *testing.T) {
	t.Run("no data", func(t *testing.T) {
		recs := NewTracker(10).Recommendations()
		if len(recs) != 1 || !strings.Contains(recs[0], "no verification data") {
			t.Errorf("Unexpected recommendations: %v", recs)
		}
	})

	t.Run("healthy", func(t *testing.T) {
		tracker := NewTracker(10)
		for i := 0; i < 5; i++ {
			tracker.Record(passedResult(2))
		}
		recs := tracker.Recommendations()
		if len(recs) != 1 || !strings.Contains(recs[0], "healthy") {
			t.Errorf("Unexpected recommendations: %v", recs)
		}
	})

	t.Run("low success rate flags dominant field", func(t *testing.T) {
		tracker := NewTracker(10)
		tracker.Record(passedResult(2))
		for i := 0; i < 3; i++ {
			tracker.Record(failedResult(3, "organiser"))
		}

		recs := tracker.Recommendations()
		joined := strings.Join(recs, "\n")
		if !strings.Contains(joined, "low success rate") {
			t.Errorf("Expected low success rate warning, got %v", recs)
		}
		if !strings.Contains(joined, `"organiser"`) {
			t.Errorf("Expected dominant failing field flagged, got %v", recs)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		tracker := NewTracker(10)
		tracker.Record(failedResult(12, "event"))
		tracker.Record(passedResult(11))

		first := tracker.Recommendations()
		second := tracker.Recommendations()
		if strings.Join(first, "|") != strings.Join(second, "|") {
			t.Errorf("Recommendations not deterministic: %v vs %v", first, second)
		}
		if !strings.Contains(strings.Join(first, "\n"), "high average attempts") {
			t.Errorf("Expected high attempts warning, got %v", first)
		}
	})
}

func TestTrackerReset(t *testing.T) {
	tracker := NewTracker(5)
	tracker.Record(passedResult(1))
	tracker.Record(failedResult(2, "event"))

	tracker.Reset()

	if total := tracker.Summary().Total; total != 0 {
		t.Errorf("Expected empty buffer after reset, got %d", total)
	}
}

func TestTrackerExport(t *testing.T) {
	tracker := NewTracker(5)
	tracker.Record(passedResult(1))

	data, err := tracker.Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	var export struct {
		GeneratedAt     string   `json:"generated_at"`
		Summary         Summary  `json:"summary"`
		Recommendations []string `json:"recommendations"`
	}
	if err := json.Unmarshal(data, &export); err != nil {
		t.Fatalf("Export is not valid JSON: %v", err)
	}
	if export.Summary.Total != 1 {
		t.Errorf("Expected 1 record in export, got %d", export.Summary.Total)
	}
	if len(export.Recommendations) == 0 {
		t.Error("Expected recommendations in export")
	}
}
