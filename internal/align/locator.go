package align

import (
	"image"
	"image/draw"
)

// fieldLocator implements FieldLocator with a row/column ink scan.
type fieldLocator struct{}

// NewFieldLocator creates a locator that detects text bands by counting
// pixels darker than the field's luminance threshold.
func NewFieldLocator() FieldLocator {
	return &fieldLocator{}
}

// Locate scans the field's search window for text-bearing rows, then scans
// columns restricted to the detected band. Returns Found=false when no row
// (or no column) qualifies; a blank window is a valid outcome, not an error.
func (l *fieldLocator) Locate(img image.Image, spec FieldSpec) DetectedPosition {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return DetectedPosition{}
	}

	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, img, bounds.Min, draw.Src)

	// Convert the fractional window to absolute rows, clamped to the image
	// so undersized images are never indexed out of range.
	yStart := bounds.Min.Y + clampInt(int(spec.WindowTop*float64(height)), 0, height)
	yEnd := bounds.Min.Y + clampInt(int(spec.WindowBottom*float64(height)), 0, height)

	bandStart, bandEnd := -1, -1
	for y := yStart; y < yEnd; y++ {
		ink := 0
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if gray.GrayAt(x, y).Y < spec.DarknessThreshold {
				ink++
			}
		}
		if ink >= spec.MinInkPixels {
			if bandStart < 0 {
				bandStart = y
			}
			bandEnd = y
		}
	}
	if bandStart < 0 {
		return DetectedPosition{}
	}

	left, right := -1, -1
	for x := bounds.Min.X; x < bounds.Max.X; x++ {
		ink := 0
		for y := bandStart; y <= bandEnd; y++ {
			if gray.GrayAt(x, y).Y < spec.DarknessThreshold {
				ink++
			}
		}
		if ink >= spec.MinColumnInk {
			if left < 0 {
				left = x
			}
			right = x
		}
	}
	if left < 0 {
		// Rows qualified but no column reached its threshold; treat as not
		// found rather than inventing a degenerate center.
		return DetectedPosition{}
	}

	return DetectedPosition{
		X:     float64(left+right) / 2,
		Y:     float64(bandStart+bandEnd) / 2,
		Found: true,
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
