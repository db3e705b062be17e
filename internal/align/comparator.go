package align

import (
	"image"
	"math"
	"runtime"
	"sync"
)

// comparator implements Comparator.
type comparator struct{}

// NewComparator creates an alignment comparator.
func NewComparator() Comparator {
	return &comparator{}
}

// Compare returns the per-field difference. If either observation is missing
// the difference is infinite in every component; a missing field must never
// read as aligned.
func (c *comparator) Compare(a, b DetectedPosition) FieldDifference {
	if !a.Found || !b.Found {
		inf := math.Inf(1)
		return FieldDifference{DY: inf, DX: inf, Distance: inf}
	}
	dy := math.Abs(a.Y - b.Y)
	dx := math.Abs(a.X - b.X)
	return FieldDifference{DY: dy, DX: dx, Distance: math.Hypot(dx, dy)}
}

// CompareImages returns the fraction [0,1] of pixels whose maximum
// per-channel difference exceeds channelTolerance. Differently sized images
// compare as fully different. The image is processed in horizontal strips,
// one per worker.
func (c *comparator) CompareImages(a, b image.Image, channelTolerance uint8) float64 {
	if a.Bounds().Dx() != b.Bounds().Dx() || a.Bounds().Dy() != b.Bounds().Dy() {
		return 1.0
	}

	boundsA := a.Bounds()
	boundsB := b.Bounds()
	width, height := boundsA.Dx(), boundsA.Dy()
	if width == 0 || height == 0 {
		return 0
	}

	numWorkers := runtime.NumCPU()
	if height < numWorkers {
		numWorkers = height
	}
	rowsPerWorker := (height + numWorkers - 1) / numWorkers

	results := make(chan int, numWorkers)
	var wg sync.WaitGroup

	tol := uint32(channelTolerance) << 8 // RGBA() returns 16-bit channels

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		startRow := i * rowsPerWorker
		endRow := startRow + rowsPerWorker
		if endRow > height {
			endRow = height
		}
		go func(startRow, endRow int) {
			defer wg.Done()

			differing := 0
			for row := startRow; row < endRow; row++ {
				for col := 0; col < width; col++ {
					ra, ga, ba, _ := a.At(boundsA.Min.X+col, boundsA.Min.Y+row).RGBA()
					rb, gb, bb, _ := b.At(boundsB.Min.X+col, boundsB.Min.Y+row).RGBA()
					if channelDelta(ra, rb) > tol || channelDelta(ga, gb) > tol || channelDelta(ba, bb) > tol {
						differing++
					}
				}
			}
			results <- differing
		}(startRow, endRow)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	total := 0
	for differing := range results {
		total += differing
	}

	return float64(total) / float64(width*height)
}

func channelDelta(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
