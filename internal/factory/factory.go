package factory

import (
	"fmt"

	"go-cert-verifier/internal/config"
	"go-cert-verifier/internal/storage"
)

// SourceType represents different reference image backends
type SourceType string

const (
	// LocalSource for images on the local filesystem
	LocalSource SourceType = "local"
	// HTTPSource for HTTP-based image fetching
	HTTPSource SourceType = "http"
	// AzureSource for Azure blob storage
	AzureSource SourceType = "azure"
)

// SourceFactory creates reference image sources
type SourceFactory interface {
	CreateSource(sourceType SourceType, cfg *config.Config) (storage.ImageSource, error)
}

// sourceFactory implements SourceFactory
type sourceFactory struct{}

// NewSourceFactory creates a new image source factory
func NewSourceFactory() SourceFactory {
	return &sourceFactory{}
}

// CreateSource creates an image source for the configured backend
func (f *sourceFactory) CreateSource(sourceType SourceType, cfg *config.Config) (storage.ImageSource, error) {
	switch sourceType {
	case LocalSource:
		return storage.NewLocalImageSource(), nil
	case HTTPSource:
		return storage.NewHTTPImageSource(), nil
	case AzureSource:
		return storage.NewAzureImageSource(cfg.AzureAccountName, cfg.AzureAccountKey)
	default:
		return nil, fmt.Errorf("unsupported reference source: %s", sourceType)
	}
}
