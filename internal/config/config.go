package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go-cert-verifier/internal/align"
)

type Config struct {
	Host string
	Port string

	RequestTimeout    time.Duration
	RenderTimeout     time.Duration
	VerifyTimeout     time.Duration
	ImageFetchTimeout time.Duration

	MaxRequestBodySize int64

	TolerancePx       float64
	MaxAttempts       int
	ConvergenceWindow int
	StepDecayEvery    int
	ComputePixelDiff  bool

	CacheTTL      time.Duration
	StatsCapacity int

	ReferenceSource   string // "local", "http" or "azure"
	ReferenceLocation string
	AzureAccountName  string
	AzureAccountKey   string

	RendererURL    string
	FieldSpecsPath string
}

func (c *Config) ServerAddress() string {
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Host:               getEnvOrDefault("HOST", "0.0.0.0"),
		Port:               getEnvOrDefault("PORT", "8080"),
		RequestTimeout:     parseDurationOrDefault("REQUEST_TIMEOUT", 60*time.Second),
		RenderTimeout:      parseDurationOrDefault("RENDER_TIMEOUT", 10*time.Second),
		VerifyTimeout:      parseDurationOrDefault("VERIFY_TIMEOUT", 45*time.Second),
		ImageFetchTimeout:  parseDurationOrDefault("IMAGE_FETCH_TIMEOUT", 15*time.Second),
		MaxRequestBodySize: parseIntOrDefault("MAX_REQUEST_BODY_SIZE", 1024*1024), // 1MB
		TolerancePx:        parseFloatOrDefault("TOLERANCE_PX", 2.0),
		MaxAttempts:        int(parseIntOrDefault("MAX_ATTEMPTS", 10)),
		ConvergenceWindow:  int(parseIntOrDefault("CONVERGENCE_WINDOW", 3)),
		StepDecayEvery:     int(parseIntOrDefault("STEP_DECAY_EVERY", 2)),
		ComputePixelDiff:   parseBoolOrDefault("COMPUTE_PIXEL_DIFF", false),
		CacheTTL:           parseDurationOrDefault("CACHE_TTL", 24*time.Hour),
		StatsCapacity:      int(parseIntOrDefault("STATS_CAPACITY", 100)),
		ReferenceSource:    getEnvOrDefault("REFERENCE_SOURCE", "local"),
		ReferenceLocation:  getEnvOrDefault("REFERENCE_LOCATION", "templates/sample_certificate.png"),
		AzureAccountName:   os.Getenv("AZURE_ACCOUNT_NAME"),
		AzureAccountKey:    os.Getenv("AZURE_ACCOUNT_KEY"),
		RendererURL:        getEnvOrDefault("RENDERER_URL", "http://localhost:8090/render"),
		FieldSpecsPath:     os.Getenv("FIELD_SPECS_PATH"),
	}

	p, err := strconv.Atoi(strings.TrimSpace(cfg.Port))
	if err != nil || p < 1 || p > 65535 {
		return nil, fmt.Errorf("invalid PORT: %q", cfg.Port)
	}
	if cfg.TolerancePx < 0 {
		return nil, fmt.Errorf("TOLERANCE_PX must be >= 0 (got %f)", cfg.TolerancePx)
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("MAX_ATTEMPTS must be >= 1 (got %d)", cfg.MaxAttempts)
	}
	if cfg.ConvergenceWindow < 2 {
		return nil, fmt.Errorf("CONVERGENCE_WINDOW must be >= 2 (got %d)", cfg.ConvergenceWindow)
	}
	if cfg.StatsCapacity < 1 {
		return nil, fmt.Errorf("STATS_CAPACITY must be >= 1 (got %d)", cfg.StatsCapacity)
	}
	if cfg.RequestTimeout <= 0 || cfg.RenderTimeout <= 0 || cfg.VerifyTimeout <= 0 || cfg.ImageFetchTimeout <= 0 {
		return nil, fmt.Errorf("timeouts must be > 0 (got request=%s, render=%s, verify=%s, fetch=%s)",
			cfg.RequestTimeout, cfg.RenderTimeout, cfg.VerifyTimeout, cfg.ImageFetchTimeout)
	}
	switch cfg.ReferenceSource {
	case "local", "http":
	case "azure":
		if cfg.AzureAccountName == "" || cfg.AzureAccountKey == "" {
			return nil, fmt.Errorf("AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY are required for the azure reference source")
		}
	default:
		return nil, fmt.Errorf("invalid REFERENCE_SOURCE: %q", cfg.ReferenceSource)
	}
	return cfg, nil
}

// LoadFieldSpecs reads the field layout from the configured JSON file, or
// falls back to the built-in certificate layout when no file is configured.
func (c *Config) LoadFieldSpecs() ([]align.FieldSpec, error) {
	if c.FieldSpecsPath == "" {
		return align.DefaultFieldSpecs(), nil
	}

	data, err := os.ReadFile(c.FieldSpecsPath)
	if err != nil {
		return nil, fmt.Errorf("read field specs: %w", err)
	}

	var specs []align.FieldSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parse field specs: %w", err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("field specs file %s contains no fields", c.FieldSpecsPath)
	}
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("field spec with empty name in %s", c.FieldSpecsPath)
		}
		if spec.WindowTop < 0 || spec.WindowBottom > 1 || spec.WindowTop >= spec.WindowBottom {
			return nil, fmt.Errorf("field %q has invalid search window [%f, %f]", spec.Name, spec.WindowTop, spec.WindowBottom)
		}
		if spec.MinInkPixels < 1 || spec.MinColumnInk < 1 {
			return nil, fmt.Errorf("field %q has invalid ink thresholds", spec.Name)
		}
	}
	return specs, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
