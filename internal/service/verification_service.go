package service

import (
	"context"
	"sync"

	"go-cert-verifier/internal/align"
	"go-cert-verifier/internal/cache"
	apperrors "go-cert-verifier/internal/errors"
	"go-cert-verifier/internal/stats"
	"go-cert-verifier/pkg/models"
)

// VerificationService defines the interface for certificate alignment
// verification and its supporting cache and statistics operations
type VerificationService interface {
	// Verification methods
	VerifyCertificate(ctx context.Context, request models.VerifyRequest) (*models.VerificationResult, error)
	VerifyBatch(ctx context.Context, request models.BatchVerifyRequest) (*models.BatchVerifyResponse, error)

	// Cache management
	CacheStats() cache.Stats
	ClearCache()
	ClearExpiredCache() int

	// Statistics
	StatsSummary() stats.Summary
	Recommendations() []string
	ResetStats()
	ExportStats() ([]byte, error)
}

// verificationService implements VerificationService
type verificationService struct {
	verifier      align.Verifier
	pixelVerifier align.Verifier
	render        align.RenderFunc
	cache         *cache.PositionCache
	tracker       *stats.Tracker
	pool          *WorkerPool
}

// NewVerificationService creates a new verification service. pixelVerifier
// serves requests that opt into the pixel diff diagnostic; it may equal
// verifier when the diagnostic is globally enabled.
func NewVerificationService(
	verifier align.Verifier,
	pixelVerifier align.Verifier,
	render align.RenderFunc,
	positionCache *cache.PositionCache,
	tracker *stats.Tracker,
	pool *WorkerPool,
) VerificationService {
	if pixelVerifier == nil {
		pixelVerifier = verifier
	}
	return &verificationService{
		verifier:      verifier,
		pixelVerifier: pixelVerifier,
		render:        render,
		cache:         positionCache,
		tracker:       tracker,
		pool:          pool,
	}
}

// VerifyCertificate runs the iterative alignment verification for one set of
// certificate fields
func (s *verificationService) VerifyCertificate(ctx context.Context, request models.VerifyRequest) (*models.VerificationResult, error) {
	if len(request.Fields) == 0 {
		return nil, apperrors.NewValidationError("at least one field is required", nil)
	}

	verifier := s.verifier
	if request.ComputePixelDiff {
		verifier = s.pixelVerifier
	}
	return verifier.Verify(ctx, request.Fields, s.render)
}

// VerifyBatch verifies several certificates concurrently on the worker pool.
// Results are returned in request order; one item failing validation does not
// fail the others.
func (s *verificationService) VerifyBatch(ctx context.Context, request models.BatchVerifyRequest) (*models.BatchVerifyResponse, error) {
	if len(request.Items) == 0 {
		return nil, apperrors.NewValidationError("batch contains no items", nil)
	}

	results := make([]models.BatchItemResult, len(request.Items))

	var wg sync.WaitGroup
	for i, item := range request.Items {
		i, item := i, item
		wg.Add(1)
		s.pool.Submit(func() {
			defer wg.Done()
			result, err := s.VerifyCertificate(ctx, item)
			if err != nil {
				results[i] = models.BatchItemResult{Index: i, Error: err.Error()}
				return
			}
			results[i] = models.BatchItemResult{Index: i, Result: result}
		})
	}
	wg.Wait()

	return &models.BatchVerifyResponse{Results: results}, nil
}

// CacheStats returns position cache size and hit/miss counters
func (s *verificationService) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// ClearCache removes every position cache entry
func (s *verificationService) ClearCache() {
	s.cache.ClearAll()
}

// ClearExpiredCache removes expired position cache entries and returns the
// count removed
func (s *verificationService) ClearExpiredCache() int {
	return s.cache.ClearExpired()
}

// StatsSummary returns aggregate verification statistics
func (s *verificationService) StatsSummary() stats.Summary {
	return s.tracker.Summary()
}

// Recommendations returns tuning advice derived from recent outcomes
func (s *verificationService) Recommendations() []string {
	return s.tracker.Recommendations()
}

// ResetStats discards all recorded statistics
func (s *verificationService) ResetStats() {
	s.tracker.Reset()
}

// ExportStats serializes the statistics summary for external dashboards
func (s *verificationService) ExportStats() ([]byte, error) {
	return s.tracker.Export()
}
