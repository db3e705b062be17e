package container

import (
	"context"
	"fmt"
	"net/http"

	"go-cert-verifier/internal/align"
	"go-cert-verifier/internal/cache"
	"go-cert-verifier/internal/config"
	"go-cert-verifier/internal/factory"
	"go-cert-verifier/internal/logger"
	"go-cert-verifier/internal/observer"
	"go-cert-verifier/internal/renderer"
	"go-cert-verifier/internal/service"
	"go-cert-verifier/internal/stats"
	"go-cert-verifier/internal/transport"

	"github.com/sirupsen/logrus"
)

// Container holds all application dependencies
type Container struct {
	config        *config.Config
	positionCache *cache.PositionCache
	tracker       *stats.Tracker
	metrics       *observer.MetricsObserver
	workerPool    *service.WorkerPool
	verifyService service.VerificationService
	handler       http.Handler
}

// NewContainer creates a new dependency injection container
func NewContainer() (*Container, error) {
	// Load configuration
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Fetch the reference image from the configured backend
	sourceFactory := factory.NewSourceFactory()
	source, err := sourceFactory.CreateSource(factory.SourceType(cfg.ReferenceSource), cfg)
	if err != nil {
		return nil, err
	}

	fetchCtx, cancel := context.WithTimeout(context.Background(), cfg.ImageFetchTimeout)
	defer cancel()
	reference, err := source.FetchImage(fetchCtx, cfg.ReferenceLocation)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference image from %s: %w", cfg.ReferenceLocation, err)
	}

	specs, err := cfg.LoadFieldSpecs()
	if err != nil {
		return nil, err
	}

	// Build dependency graph
	positionCache := cache.New(cfg.CacheTTL)
	tracker := stats.NewTracker(cfg.StatsCapacity)

	publisher := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver()
	publisher.Subscribe(observer.NewLoggingObserver(logrus.StandardLogger()))
	publisher.Subscribe(metrics)

	deps := align.Deps{
		Refiner: align.NewRefiner(align.RefinerConfig{
			InitialStep: 1.0,
			DecayEvery:  cfg.StepDecayEvery,
			Window:      cfg.ConvergenceWindow,
		}),
		Cache:  positionCache,
		Stats:  tracker,
		Events: publisher,
	}

	opts := align.DefaultVerifyOptions()
	opts.TolerancePx = cfg.TolerancePx
	opts.MaxAttempts = cfg.MaxAttempts
	opts.AttemptTimeout = cfg.RenderTimeout
	opts.ComputePixelDiff = cfg.ComputePixelDiff

	verifier, err := align.NewVerifier(reference, specs, opts, deps)
	if err != nil {
		return nil, err
	}

	pixelOpts := opts
	pixelOpts.ComputePixelDiff = true
	pixelVerifier, err := align.NewVerifier(reference, specs, pixelOpts, deps)
	if err != nil {
		return nil, err
	}

	renderClient := renderer.NewHTTPRenderer(cfg.RendererURL, cfg.RenderTimeout)

	workerPool := service.NewWorkerPool(0)
	workerPool.Start()

	verifyService := service.NewVerificationService(
		verifier,
		pixelVerifier,
		renderClient.RenderFunc(),
		positionCache,
		tracker,
		workerPool,
	)
	handler := transport.NewHandler(verifyService, cfg)

	logger.WithFields(logrus.Fields{
		"reference_source": cfg.ReferenceSource,
		"fields":           len(specs),
		"tolerance_px":     cfg.TolerancePx,
		"max_attempts":     cfg.MaxAttempts,
	}).Info("Dependency container initialized")

	return &Container{
		config:        cfg,
		positionCache: positionCache,
		tracker:       tracker,
		metrics:       metrics,
		workerPool:    workerPool,
		verifyService: verifyService,
		handler:       handler,
	}, nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Service returns the verification service
func (c *Container) Service() service.VerificationService {
	return c.verifyService
}

// Metrics returns the event metrics collector
func (c *Container) Metrics() *observer.MetricsObserver {
	return c.metrics
}

// Close releases background resources
func (c *Container) Close() {
	c.workerPool.Close()
}
