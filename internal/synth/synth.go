// Package synth generates synthetic image series with realistic spatial
// metadata for tests and the demo binary. It stands in for the external
// loader, which is out of scope for the engine itself.
package synth

import (
	"fmt"

	"github.com/google/uuid"

	"fusionalign/pkg/series"
)

// SeriesOptions controls generation of one synthetic series.
type SeriesOptions struct {
	// NumSlices is the number of slices to generate.
	NumSlices int

	// Rows and Cols are the per-slice pixel dimensions.
	Rows, Cols int

	// RowSpacing and ColSpacing are the in-plane pixel spacings in mm.
	RowSpacing, ColSpacing float64

	// SliceSpacing is the gap between consecutive slice positions in mm.
	SliceSpacing float64

	// Thickness is the slice thickness tag in mm.
	Thickness float64

	// Origin is the position of the first slice's first pixel.
	Origin [3]float64

	// RowCosines and ColCosines set the orientation. Nil omits the
	// orientation tags entirely.
	RowCosines, ColCosines []float64

	// FrameOfReference shared by all slices. Empty omits the tag.
	FrameOfReference string

	// Pattern produces the pixel value at (slice k, row j, col i).
	// Nil generates a constant 0 volume.
	Pattern func(k, j, i int) float64
}

// AxialOrientation is the standard head-first supine axial orientation.
func AxialOrientation() (row, col []float64) {
	return []float64{1, 0, 0}, []float64{0, 1, 0}
}

// ConstantPattern fills every slice k with value base + k*step.
func ConstantPattern(base, step float64) func(k, j, i int) float64 {
	return func(k, j, i int) float64 { return base + float64(k)*step }
}

// GradientPattern produces a value that varies along all three axes, so
// interpolation errors show up anywhere in the volume.
func GradientPattern() func(k, j, i int) float64 {
	return func(k, j, i int) float64 { return float64(k)*100 + float64(j)*10 + float64(i) }
}

// NewUID allocates a fresh unique identifier for a study or series.
func NewUID() string {
	return uuid.NewString()
}

// NewSeries generates a synthetic series. Slices are emitted in ascending
// position order with explicit SliceLocation tags.
func NewSeries(opts SeriesOptions) *series.ImageSeries {
	s := &series.ImageSeries{
		SeriesUID: NewUID(),
		StudyUID:  NewUID(),
	}
	pattern := opts.Pattern
	if pattern == nil {
		pattern = func(k, j, i int) float64 { return 0 }
	}

	for k := 0; k < opts.NumSlices; k++ {
		pixels := make([]float64, opts.Rows*opts.Cols)
		for j := 0; j < opts.Rows; j++ {
			for i := 0; i < opts.Cols; i++ {
				pixels[j*opts.Cols+i] = pattern(k, j, i)
			}
		}

		loc := opts.Origin[2] + float64(k)*opts.SliceSpacing
		d := series.SliceDescriptor{
			Rows:             opts.Rows,
			Cols:             opts.Cols,
			Pixels:           pixels,
			PixelType:        "float64",
			RowSpacing:       opts.RowSpacing,
			ColSpacing:       opts.ColSpacing,
			Position:         []float64{opts.Origin[0], opts.Origin[1], loc},
			SliceLocation:    &loc,
			Thickness:        opts.Thickness,
			FrameOfReference: opts.FrameOfReference,
		}
		if len(opts.RowCosines) == 3 {
			d.RowCosines = append([]float64(nil), opts.RowCosines...)
		}
		if len(opts.ColCosines) == 3 {
			d.ColCosines = append([]float64(nil), opts.ColCosines...)
		}
		s.Slices = append(s.Slices, d)
	}
	return s
}

// Describe summarizes a series for demo output.
func Describe(s *series.ImageSeries) string {
	if s.Len() == 0 {
		return fmt.Sprintf("series %s: empty", s.SeriesUID)
	}
	first := &s.Slices[0]
	return fmt.Sprintf("series %s: %d slice(s) of %dx%d, spacing %.2fx%.2fmm, thickness %.2fmm",
		s.SeriesUID, s.Len(), first.Rows, first.Cols, first.ColSpacing, first.RowSpacing, first.Thickness)
}
