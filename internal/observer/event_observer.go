package observer

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// VerificationEvent describes one step of a verification run.
type VerificationEvent struct {
	EventType       EventType         `json:"event_type"`
	Timestamp       time.Time         `json:"timestamp"`
	Fields          map[string]string `json:"fields,omitempty"`
	Attempt         int               `json:"attempt,omitempty"`
	Passed          bool              `json:"passed"`
	MaxDifferencePx float64           `json:"max_difference_px,omitempty"`
	Duration        time.Duration     `json:"duration,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
}

// EventType represents the type of verification event
type EventType string

const (
	// VerificationStarted when a run begins
	VerificationStarted EventType = "verification_started"
	// AttemptCompleted after each render/locate/compare pass
	AttemptCompleted EventType = "attempt_completed"
	// VerificationPassed when a run ends within tolerance
	VerificationPassed EventType = "verification_passed"
	// VerificationFailed when a run ends exhausted, diverged or timed out
	VerificationFailed EventType = "verification_failed"
	// CacheHit when cached render parameters are found for a run
	CacheHit EventType = "cache_hit"
	// CacheInvalidated when cached parameters fail revalidation
	CacheInvalidated EventType = "cache_invalidated"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event VerificationEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event VerificationEvent)
}

// LoggingObserver logs verification events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{logger: logger}
}

// OnEvent handles verification events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event VerificationEvent) {
	fields := logrus.Fields{
		"event_type": event.EventType,
	}
	if event.Attempt > 0 {
		fields["attempt"] = event.Attempt
	}
	// An infinite difference means a field was never detected; every finite
	// value, including a perfect 0.0, is a real measurement worth logging.
	if !math.IsInf(event.MaxDifferencePx, 1) {
		fields["max_difference_px"] = event.MaxDifferencePx
	}
	if event.Duration > 0 {
		fields["duration_ms"] = event.Duration.Milliseconds()
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}

	switch event.EventType {
	case VerificationStarted:
		o.logger.WithFields(fields).Debug("Verification started")
	case AttemptCompleted:
		o.logger.WithFields(fields).Debug("Verification attempt completed")
	case VerificationPassed:
		o.logger.WithFields(fields).Info("Verification passed")
	case VerificationFailed:
		o.logger.WithFields(fields).Warn("Verification failed")
	case CacheHit:
		o.logger.WithFields(fields).Debug("Position cache hit")
	case CacheInvalidated:
		o.logger.WithFields(fields).Warn("Position cache entry invalidated")
	default:
		o.logger.WithFields(fields).Info("Verification event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsObserver collects counters from verification events
type MetricsObserver struct {
	mu               sync.RWMutex
	totalRuns        int64
	passedRuns       int64
	failedRuns       int64
	cacheHits        int64
	cacheInvalidated int64
	totalDuration    time.Duration
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

// OnEvent handles verification events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event VerificationEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case VerificationStarted:
		o.totalRuns++
	case VerificationPassed:
		o.passedRuns++
		o.totalDuration += event.Duration
	case VerificationFailed:
		o.failedRuns++
		o.totalDuration += event.Duration
	case CacheHit:
		o.cacheHits++
	case CacheInvalidated:
		o.cacheInvalidated++
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current counters
func (o *MetricsObserver) GetMetrics() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	completed := o.passedRuns + o.failedRuns
	avgDuration := time.Duration(0)
	if completed > 0 {
		avgDuration = o.totalDuration / time.Duration(completed)
	}

	return map[string]interface{}{
		"total_runs":        o.totalRuns,
		"passed_runs":       o.passedRuns,
		"failed_runs":       o.failedRuns,
		"cache_hits":        o.cacheHits,
		"cache_invalidated": o.cacheInvalidated,
		"avg_duration":      avgDuration,
	}
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() Subject {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers notifies all observers of an event
func (p *EventPublisher) NotifyObservers(ctx context.Context, event VerificationEvent) {
	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, observer := range observers {
		func(obs Observer) {
			defer func() {
				if r := recover(); r != nil {
					logrus.WithField("observer", obs.GetObserverName()).
						WithField("panic", r).
						Error("Observer panicked while handling event")
				}
			}()
			obs.OnEvent(ctx, event)
		}(observer)
	}
}
