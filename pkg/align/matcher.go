package align

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"fusionalign/pkg/series"
)

// MatchSlice finds or interpolates the overlay pixel array corresponding to
// a base physical location.
//
// A slice within tolerance of the location is returned directly, without
// interpolation or copying. Otherwise the two overlay slices bracketing the
// location are blended linearly by distance. Locations outside the
// overlay's covered range yield (nil, false). A tolerance <= 0 uses
// series.DefaultLocationTolerance.
func MatchSlice(baseLoc float64, sorted *series.SortResult, tolerance float64) ([]float64, bool) {
	if tolerance <= 0 {
		tolerance = series.DefaultLocationTolerance
	}
	n := len(sorted.Slices)
	if n == 0 {
		return nil, false
	}

	// Exact match first: the nearest slice decides.
	nearest := sorted.NearestIndex(baseLoc)
	if math.Abs(sorted.Slices[nearest].Location-baseLoc) < tolerance {
		return sorted.Slices[nearest].Descriptor.Pixels, true
	}

	if baseLoc < sorted.Slices[0].Location || baseLoc > sorted.Slices[n-1].Location {
		return nil, false
	}

	// upper is the first slice at or beyond the location; the bracket is
	// [upper-1, upper].
	upper := sort.Search(n, func(i int) bool { return sorted.Slices[i].Location >= baseLoc })
	if upper == 0 {
		return sorted.Slices[0].Descriptor.Pixels, true
	}
	lower := upper - 1

	lowerSlice := sorted.Slices[lower]
	upperSlice := sorted.Slices[upper]
	span := upperSlice.Location - lowerSlice.Location
	if span <= 0 {
		// Degenerate bracket; treat as an exact match on the lower slice.
		return lowerSlice.Descriptor.Pixels, true
	}
	w := (baseLoc - lowerSlice.Location) / span

	a := lowerSlice.Descriptor.Pixels
	b := upperSlice.Descriptor.Pixels
	if len(a) != len(b) {
		return nil, false
	}

	// out = a*(1-w) + b*w
	out := make([]float64, len(a))
	floats.AddScaled(out, 1-w, a)
	floats.AddScaled(out, w, b)
	return out, true
}
