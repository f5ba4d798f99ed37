// Package volume builds 3D volumes from sorted slice series and defines the
// spatial frame (origin, spacing, direction) that situates a volume in
// physical space.
package volume

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"fusionalign/pkg/series"
)

// Build failure modes. Callers treat any build error as "fusion unavailable
// for this pair"; a failed build never yields a partial volume.
var (
	// ErrEmptySeries indicates the sorted series had no locatable slices.
	ErrEmptySeries = errors.New("volume: no locatable slices in series")

	// ErrDimensionMismatch indicates the slices do not share row/column
	// dimensions and cannot be stacked.
	ErrDimensionMismatch = errors.New("volume: slice dimensions differ across series")

	// ErrNonPositiveSpacing indicates a zero or negative spacing component
	// survived metadata extraction.
	ErrNonPositiveSpacing = errors.New("volume: non-positive spacing")
)

// SpatialFrame situates a voxel grid in physical space.
//
// Spacing is ordered (x, y, z) = (column spacing, row spacing, through-plane
// spacing) in mm per voxel. Direction is a 3x3 matrix whose rows are the row
// direction cosines, the column direction cosines, and their cross product
// (the slice normal), in that order.
type SpatialFrame struct {
	Origin    [3]float64
	Spacing   [3]float64
	Direction *mat.Dense
}

// IdentityDirection returns the identity direction matrix used when
// orientation metadata is absent.
func IdentityDirection() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
}

// axis returns row i of the direction matrix as a vector.
func (f *SpatialFrame) axis(i int) [3]float64 {
	return [3]float64{f.Direction.At(i, 0), f.Direction.At(i, 1), f.Direction.At(i, 2)}
}

// VoxelToPhysical maps a (possibly fractional) voxel index (i=column,
// j=row, k=slice) to a physical point in mm.
func (f *SpatialFrame) VoxelToPhysical(i, j, k float64) [3]float64 {
	var p [3]float64
	steps := [3]float64{i * f.Spacing[0], j * f.Spacing[1], k * f.Spacing[2]}
	for ax := 0; ax < 3; ax++ {
		dir := f.axis(ax)
		for c := 0; c < 3; c++ {
			p[c] += steps[ax] * dir[c]
		}
	}
	for c := 0; c < 3; c++ {
		p[c] += f.Origin[c]
	}
	return p
}

// PhysicalToVoxel maps a physical point to continuous voxel coordinates
// (i, j, k). Valid because direction rows are orthonormal, so the inverse
// of the direction matrix is its transpose.
func (f *SpatialFrame) PhysicalToVoxel(p [3]float64) (i, j, k float64) {
	var delta [3]float64
	for c := 0; c < 3; c++ {
		delta[c] = p[c] - f.Origin[c]
	}
	var out [3]float64
	for ax := 0; ax < 3; ax++ {
		dir := f.axis(ax)
		dot := delta[0]*dir[0] + delta[1]*dir[1] + delta[2]*dir[2]
		out[ax] = dot / f.Spacing[ax]
	}
	return out[0], out[1], out[2]
}

// SameGrid reports whether two frames describe the same voxel grid within
// tol (absolute, per component).
func (f *SpatialFrame) SameGrid(other *SpatialFrame, tol float64) bool {
	for c := 0; c < 3; c++ {
		if math.Abs(f.Origin[c]-other.Origin[c]) > tol {
			return false
		}
		if math.Abs(f.Spacing[c]-other.Spacing[c]) > tol {
			return false
		}
	}
	return mat.EqualApprox(f.Direction, other.Direction, tol)
}

// Volume is a 3D pixel array with a spatial frame. Data is flat in
// (slice, row, column) order: index = k*Rows*Cols + j*Cols + i. A Volume is
// immutable once built.
type Volume struct {
	Data  []float64
	Depth int
	Rows  int
	Cols  int

	Frame SpatialFrame

	// PixelType is the source pixel representation, carried through
	// resampling unchanged.
	PixelType string
}

// At returns the voxel value at (k=slice, j=row, i=column). Out-of-range
// indices return 0, matching the resampler's outside-extent fill.
func (v *Volume) At(k, j, i int) float64 {
	if k < 0 || k >= v.Depth || j < 0 || j >= v.Rows || i < 0 || i >= v.Cols {
		return 0
	}
	return v.Data[k*v.Rows*v.Cols+j*v.Cols+i]
}

// SliceData returns the flat row-major pixel array of slice k as a view
// into the volume's data. Callers must not mutate it.
func (v *Volume) SliceData(k int) ([]float64, error) {
	if k < 0 || k >= v.Depth {
		return nil, fmt.Errorf("volume: slice index %d out of range [0,%d)", k, v.Depth)
	}
	n := v.Rows * v.Cols
	return v.Data[k*n : (k+1)*n], nil
}

func cross(a, b []float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

// throughPlaneSpacing derives the spacing along the slice axis for a sorted
// series, walking a fallback chain from most to least trustworthy metadata:
//
//  1. projection of the position delta between the first two slices onto
//     the unit slice normal (true spacing even for gantry-tilted stacks);
//  2. raw 3D distance between the first two positions when orientation is
//     missing;
//  3. the explicit thickness tag for single-slice series;
//  4. 1.0 mm.
func throughPlaneSpacing(sorted *series.SortResult) float64 {
	if len(sorted.Slices) >= 2 {
		first := sorted.Slices[0].Descriptor
		second := sorted.Slices[1].Descriptor
		if len(first.Position) == 3 && len(second.Position) == 3 {
			delta := []float64{
				second.Position[0] - first.Position[0],
				second.Position[1] - first.Position[1],
				second.Position[2] - first.Position[2],
			}
			if len(first.RowCosines) == 3 && len(first.ColCosines) == 3 {
				n := cross(first.RowCosines, first.ColCosines)
				proj := math.Abs(delta[0]*n[0] + delta[1]*n[1] + delta[2]*n[2])
				if proj > 0 {
					return proj
				}
			}
			dist := math.Sqrt(delta[0]*delta[0] + delta[1]*delta[1] + delta[2]*delta[2])
			if dist > 0 {
				return dist
			}
		}
		// No usable positions: fall back to the location delta the sort
		// was based on.
		gap := sorted.Slices[1].Location - sorted.Slices[0].Location
		if gap > 0 {
			return gap
		}
	}
	if len(sorted.Slices) == 1 && sorted.Slices[0].Descriptor.Thickness > 0 {
		return sorted.Slices[0].Descriptor.Thickness
	}
	return 1.0
}

// BuildFromSorted stacks a sorted, deduplicated series into a Volume.
// Any metadata inconsistency aborts the whole build; there is no partial
// volume.
func BuildFromSorted(sorted *series.SortResult) (*Volume, error) {
	if sorted == nil || len(sorted.Slices) == 0 {
		return nil, ErrEmptySeries
	}

	first := sorted.Slices[0].Descriptor
	rows, cols := first.Rows, first.Cols
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: first slice is %dx%d", ErrDimensionMismatch, rows, cols)
	}

	depth := len(sorted.Slices)
	data := make([]float64, depth*rows*cols)
	for k, ls := range sorted.Slices {
		d := ls.Descriptor
		if d.Rows != rows || d.Cols != cols {
			return nil, fmt.Errorf("%w: slice %d is %dx%d, expected %dx%d",
				ErrDimensionMismatch, k, d.Rows, d.Cols, rows, cols)
		}
		if len(d.Pixels) != rows*cols {
			return nil, fmt.Errorf("volume: slice %d has %d pixels, expected %d",
				k, len(d.Pixels), rows*cols)
		}
		copy(data[k*rows*cols:(k+1)*rows*cols], d.Pixels)
	}

	frame := SpatialFrame{
		Spacing:   [3]float64{1, 1, 1},
		Direction: IdentityDirection(),
	}
	if first.ColSpacing > 0 {
		frame.Spacing[0] = first.ColSpacing
	}
	if first.RowSpacing > 0 {
		frame.Spacing[1] = first.RowSpacing
	}
	frame.Spacing[2] = throughPlaneSpacing(sorted)

	for c := 0; c < 3; c++ {
		if frame.Spacing[c] <= 0 {
			return nil, fmt.Errorf("%w: spacing %v", ErrNonPositiveSpacing, frame.Spacing)
		}
	}

	if len(first.Position) == 3 {
		copy(frame.Origin[:], first.Position)
	} else {
		// Without a position tag the best anchor available is the
		// resolved location along the depth axis.
		frame.Origin = [3]float64{0, 0, sorted.Slices[0].Location}
	}

	if len(first.RowCosines) == 3 && len(first.ColCosines) == 3 {
		n := cross(first.RowCosines, first.ColCosines)
		frame.Direction = mat.NewDense(3, 3, []float64{
			first.RowCosines[0], first.RowCosines[1], first.RowCosines[2],
			first.ColCosines[0], first.ColCosines[1], first.ColCosines[2],
			n[0], n[1], n[2],
		})
	}

	return &Volume{
		Data:      data,
		Depth:     depth,
		Rows:      rows,
		Cols:      cols,
		Frame:     frame,
		PixelType: first.PixelType,
	}, nil
}

// Build sorts and deduplicates the series, then stacks it into a Volume.
// tolerance semantics match series.Sorted.
func Build(s *series.ImageSeries, tolerance float64) (*Volume, error) {
	sorted := series.Sorted(s, tolerance)
	return BuildFromSorted(&sorted)
}
