package stats

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go-cert-verifier/pkg/models"

	"gonum.org/v1/gonum/stat"
)

// DefaultCapacity bounds the ring buffer when no capacity is configured.
const DefaultCapacity = 100

// Record is one completed verification outcome.
type Record struct {
	Passed       bool            `json:"passed"`
	AttemptsUsed int             `json:"attempts_used"`
	FieldPassed  map[string]bool `json:"field_passed"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Summary is the on-demand aggregation over the current buffer contents.
type Summary struct {
	Total             int            `json:"total"`
	Passes            int            `json:"passes"`
	Fails             int            `json:"fails"`
	SuccessRate       float64        `json:"success_rate"`
	AverageAttempts   float64        `json:"average_attempts"`
	AttemptsHistogram map[int]int    `json:"attempts_histogram"`
	FieldFailures     map[string]int `json:"per_field_failure_counts"`
}

// Tracker aggregates verification outcomes in a bounded ring buffer: once
// capacity is reached the oldest record is evicted. Safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	records  []Record
	next     int
	full     bool
	capacity int

	// now is swappable in tests
	now func() time.Time
}

// NewTracker creates a tracker holding at most capacity records.
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{
		records:  make([]Record, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// Record appends one verification result, evicting the oldest record when
// the buffer is full.
func (t *Tracker) Record(result *models.VerificationResult) {
	if result == nil {
		return
	}

	rec := Record{
		Passed:       result.Passed,
		AttemptsUsed: result.AttemptsUsed,
		FieldPassed:  fieldOutcomes(result),
	}

	t.mu.Lock()
	rec.Timestamp = t.now()
	t.records[t.next] = rec
	t.next = (t.next + 1) % t.capacity
	if t.next == 0 {
		t.full = true
	}
	t.mu.Unlock()
}

// Summary computes aggregate metrics over the buffer. success_rate is
// passes/(passes+fails); zero when the buffer is empty.
func (t *Tracker) Summary() Summary {
	records := t.snapshot()

	summary := Summary{
		AttemptsHistogram: make(map[int]int),
		FieldFailures:     make(map[string]int),
	}
	if len(records) == 0 {
		return summary
	}

	attempts := make([]float64, 0, len(records))
	for _, rec := range records {
		summary.Total++
		if rec.Passed {
			summary.Passes++
		} else {
			summary.Fails++
		}
		summary.AttemptsHistogram[rec.AttemptsUsed]++
		attempts = append(attempts, float64(rec.AttemptsUsed))
		for name, passed := range rec.FieldPassed {
			if !passed {
				summary.FieldFailures[name]++
			}
		}
	}

	summary.SuccessRate = float64(summary.Passes) / float64(summary.Total)
	summary.AverageAttempts = stat.Mean(attempts, nil)
	return summary
}

// Recommendations applies deterministic rules over the summary. The same
// buffer contents always produce the same output.
func (t *Tracker) Recommendations() []string {
	summary := t.Summary()

	if summary.Total == 0 {
		return []string{"no verification data recorded yet"}
	}

	var recs []string

	switch {
	case summary.SuccessRate < 0.80:
		recs = append(recs, fmt.Sprintf(
			"low success rate (%.1f%%): review the template field offsets", summary.SuccessRate*100))
	case summary.SuccessRate < 0.95:
		recs = append(recs, fmt.Sprintf(
			"moderate success rate (%.1f%%): alignment tuning may improve reliability", summary.SuccessRate*100))
	}

	if summary.AverageAttempts > 10 {
		recs = append(recs, fmt.Sprintf(
			"high average attempts (%.1f): enable position caching or widen the tolerance", summary.AverageAttempts))
	} else if summary.AverageAttempts > 5 {
		recs = append(recs, fmt.Sprintf(
			"average attempts is %.1f: acceptable but could be optimized", summary.AverageAttempts))
	}

	if summary.Fails > 0 {
		// Flag any field responsible for more than half of all failures.
		// Sorted iteration keeps the output order deterministic.
		names := make([]string, 0, len(summary.FieldFailures))
		for name := range summary.FieldFailures {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if summary.FieldFailures[name]*2 > summary.Fails {
				recs = append(recs, fmt.Sprintf(
					"field %q accounts for most failures (%d of %d): adjust its baseline offset",
					name, summary.FieldFailures[name], summary.Fails))
			}
		}
	}

	if len(recs) == 0 {
		recs = append(recs, "alignment is healthy: no action needed")
	}
	return recs
}

// Reset discards every record.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.records = make([]Record, t.capacity)
	t.next = 0
	t.full = false
	t.mu.Unlock()
}

// Export serializes the summary for external dashboards.
func (t *Tracker) Export() ([]byte, error) {
	export := struct {
		GeneratedAt     time.Time `json:"generated_at"`
		Summary         Summary   `json:"summary"`
		Recommendations []string  `json:"recommendations"`
	}{
		GeneratedAt:     t.now(),
		Summary:         t.Summary(),
		Recommendations: t.Recommendations(),
	}
	return json.MarshalIndent(export, "", "  ")
}

// snapshot copies the live records in insertion order so aggregation runs
// outside the lock.
func (t *Tracker) snapshot() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.full {
		out := make([]Record, t.next)
		copy(out, t.records[:t.next])
		return out
	}
	out := make([]Record, 0, t.capacity)
	out = append(out, t.records[t.next:]...)
	out = append(out, t.records[:t.next]...)
	return out
}

// fieldOutcomes reports per-field pass/fail for the attempt the result
// settled on: the passing attempt, the best-available attempt, or the last
// attempt when neither exists.
func fieldOutcomes(result *models.VerificationResult) map[string]bool {
	attempt := settledAttempt(result)
	if attempt == nil {
		return nil
	}
	out := make(map[string]bool, len(attempt.Fields))
	for name, fc := range attempt.Fields {
		out[name] = fc.Diff.Detected() && fc.Diff.Distance <= result.TolerancePx
	}
	return out
}

func settledAttempt(result *models.VerificationResult) *models.VerificationAttempt {
	if len(result.Attempts) == 0 {
		return nil
	}
	if result.BestAttempt != nil {
		for i := range result.Attempts {
			if result.Attempts[i].Number == *result.BestAttempt {
				return &result.Attempts[i]
			}
		}
	}
	return &result.Attempts[len(result.Attempts)-1]
}
