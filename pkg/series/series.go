// Package series defines the slice descriptor and series types that the
// fusion engine consumes, together with the location resolution and
// sort/deduplication steps every spatial computation depends on.
//
// A series arrives from an external loader as an ordered list of slice
// descriptors. Nothing in this package reads files or parses image formats;
// it only works with the metadata and pixel arrays handed to it.
package series

import (
	"log"
	"math"
	"sort"
)

// DefaultLocationTolerance is the distance in mm under which two slice
// locations are considered the same physical position. Slices closer than
// this are duplicates (e.g. re-acquisitions) and are collapsed.
const DefaultLocationTolerance = 0.01

// SliceDescriptor carries the per-slice metadata and pixel data the engine
// needs. Optional fields use nil/empty values; every consumer handles their
// absence explicitly.
type SliceDescriptor struct {
	// Rows and Cols are the pixel dimensions of the slice.
	Rows, Cols int

	// Pixels is the slice's pixel data, flat row-major (len Rows*Cols).
	Pixels []float64

	// PixelType describes the source pixel representation (e.g. "int16",
	// "uint8"). Carried through resampling unchanged.
	PixelType string

	// RowSpacing and ColSpacing are the physical in-plane pixel spacings
	// in mm. Zero means the tag was absent.
	RowSpacing, ColSpacing float64

	// Position is the 3D physical position of the first (top-left)
	// pixel, in mm. Nil when the tag was absent; otherwise length 3.
	Position []float64

	// RowCosines and ColCosines are the direction cosines of the slice's
	// rows and columns. Nil when orientation is absent; otherwise unit
	// vectors of length 3.
	RowCosines, ColCosines []float64

	// SliceLocation is the explicit scalar location tag in mm, when
	// present.
	SliceLocation *float64

	// Thickness is the physical slice thickness in mm (0 when absent).
	Thickness float64

	// FrameOfReference identifies the physical coordinate system this
	// slice was acquired in.
	FrameOfReference string
}

// ImageSeries is an ordered collection of slice descriptors sharing a
// series identifier. The order is the loader's order, which is not
// necessarily spatial; use Sorted for spatial order.
type ImageSeries struct {
	// SeriesUID identifies the series.
	SeriesUID string

	// StudyUID identifies the study the series belongs to.
	StudyUID string

	// Slices is the loader-ordered list of descriptors.
	Slices []SliceDescriptor
}

// Len returns the number of slices in the series.
func (s *ImageSeries) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Slices)
}

// FrameOfReference returns the frame-of-reference identifier of the first
// slice carrying one, or "" when no slice does.
func (s *ImageSeries) FrameOfReference() string {
	if s == nil {
		return ""
	}
	for i := range s.Slices {
		if s.Slices[i].FrameOfReference != "" {
			return s.Slices[i].FrameOfReference
		}
	}
	return ""
}

// ResolveLocation extracts a scalar physical location in mm for a slice.
// It prefers the explicit SliceLocation tag and falls back to the depth
// (z) component of the 3D position. The second return value is false when
// neither source is present.
func ResolveLocation(d *SliceDescriptor) (float64, bool) {
	if d == nil {
		return 0, false
	}
	if d.SliceLocation != nil {
		return *d.SliceLocation, true
	}
	if len(d.Position) == 3 {
		return d.Position[2], true
	}
	return 0, false
}

// LocatedSlice pairs a descriptor with its resolved location and its index
// in the original loader order.
type LocatedSlice struct {
	Descriptor *SliceDescriptor
	Location   float64
	// OriginalIndex is the slice's position in the loader-ordered input.
	OriginalIndex int
}

// SortResult is the outcome of sorting and deduplicating a series.
type SortResult struct {
	// Slices is ascending by location, with duplicates collapsed.
	Slices []LocatedSlice

	// Dropped counts slices discarded because no location could be
	// resolved for them. Surfaced so callers can detect silent data
	// loss.
	Dropped int

	// Collapsed counts slices removed as near-duplicate locations.
	Collapsed int
}

// Locations returns the resolved locations in order.
func (r *SortResult) Locations() []float64 {
	locs := make([]float64, len(r.Slices))
	for i, s := range r.Slices {
		locs[i] = s.Location
	}
	return locs
}

// Sorted orders the series' slices ascending by resolved location,
// dropping slices whose location cannot be resolved and collapsing slices
// whose locations differ by less than tolerance to the first occurrence.
// A tolerance <= 0 uses DefaultLocationTolerance.
//
// Dropping unlocatable slices is a deliberate choice over failing the whole
// series; the Dropped count makes the loss observable.
func Sorted(s *ImageSeries, tolerance float64) SortResult {
	if tolerance <= 0 {
		tolerance = DefaultLocationTolerance
	}
	var res SortResult
	if s == nil {
		return res
	}

	located := make([]LocatedSlice, 0, len(s.Slices))
	for i := range s.Slices {
		loc, ok := ResolveLocation(&s.Slices[i])
		if !ok {
			res.Dropped++
			continue
		}
		located = append(located, LocatedSlice{
			Descriptor:    &s.Slices[i],
			Location:      loc,
			OriginalIndex: i,
		})
	}
	if res.Dropped > 0 {
		log.Printf("[series] Dropped %d slice(s) without resolvable location in series %s", res.Dropped, s.SeriesUID)
	}

	// Stable sort keeps loader order among exact ties so the dedup pass
	// below retains the first occurrence.
	sort.SliceStable(located, func(i, j int) bool {
		return located[i].Location < located[j].Location
	})

	deduped := located[:0]
	for _, ls := range located {
		if len(deduped) > 0 && math.Abs(ls.Location-deduped[len(deduped)-1].Location) < tolerance {
			res.Collapsed++
			continue
		}
		deduped = append(deduped, ls)
	}
	res.Slices = deduped
	return res
}

// NearestIndex returns the index within the sorted result whose location is
// closest to loc. Returns -1 for an empty result.
func (r *SortResult) NearestIndex(loc float64) int {
	n := len(r.Slices)
	if n == 0 {
		return -1
	}
	i := sort.Search(n, func(i int) bool { return r.Slices[i].Location >= loc })
	if i == 0 {
		return 0
	}
	if i == n {
		return n - 1
	}
	if loc-r.Slices[i-1].Location <= r.Slices[i].Location-loc {
		return i - 1
	}
	return i
}

// IndexForOriginal maps an index in the loader-ordered input to the
// corresponding index in the sorted result. When the original slice was
// removed (dropped or collapsed as a duplicate), the nearest surviving
// slice by location is returned. Returns -1 when the mapping is impossible
// (empty result or unlocatable original slice).
func (r *SortResult) IndexForOriginal(s *ImageSeries, original int) int {
	if s == nil || original < 0 || original >= len(s.Slices) || len(r.Slices) == 0 {
		return -1
	}
	for i, ls := range r.Slices {
		if ls.OriginalIndex == original {
			return i
		}
	}
	loc, ok := ResolveLocation(&s.Slices[original])
	if !ok {
		return -1
	}
	return r.NearestIndex(loc)
}
