package storage

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// LocalImageSource implements ImageSource for images on the local
// filesystem, the default for bundled reference templates.
type LocalImageSource struct{}

// NewLocalImageSource creates a filesystem-backed image source.
func NewLocalImageSource() *LocalImageSource {
	return &LocalImageSource{}
}

// FetchImage opens and decodes the image at the given path.
func (s *LocalImageSource) FetchImage(ctx context.Context, location string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(location)
	if err != nil {
		return nil, fmt.Errorf("open reference image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", location, err)
	}
	return img, nil
}
