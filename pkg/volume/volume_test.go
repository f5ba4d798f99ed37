package volume

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"fusionalign/pkg/series"
)

func floatPtr(v float64) *float64 { return &v }

// axialSlice builds a 2x2 axial slice at position (0,0,z).
func axialSlice(z float64, fill float64) series.SliceDescriptor {
	return series.SliceDescriptor{
		Rows: 2, Cols: 2,
		Pixels:     []float64{fill, fill, fill, fill},
		RowSpacing: 0.5, ColSpacing: 0.5,
		Position:   []float64{0, 0, z},
		RowCosines: []float64{1, 0, 0},
		ColCosines: []float64{0, 1, 0},
		Thickness:  1.0,
	}
}

func TestBuildStacksSlices(t *testing.T) {
	s := &series.ImageSeries{SeriesUID: "s1", Slices: []series.SliceDescriptor{
		axialSlice(2, 20), axialSlice(0, 0), axialSlice(1, 10),
	}}

	v, err := Build(s, 0)
	require.NoError(t, err)

	assert.Equal(t, 3, v.Depth)
	assert.Equal(t, 2, v.Rows)
	assert.Equal(t, 2, v.Cols)

	// Slice axis must be ascending by location.
	assert.Equal(t, 0.0, v.At(0, 0, 0))
	assert.Equal(t, 10.0, v.At(1, 0, 0))
	assert.Equal(t, 20.0, v.At(2, 0, 0))

	// Origin is the lowest-location slice's position.
	assert.Equal(t, [3]float64{0, 0, 0}, v.Frame.Origin)
	assert.Equal(t, [3]float64{0.5, 0.5, 1.0}, v.Frame.Spacing)
}

func TestBuildDirectionMatrix(t *testing.T) {
	s := &series.ImageSeries{Slices: []series.SliceDescriptor{
		axialSlice(0, 0), axialSlice(1, 0),
	}}
	v, err := Build(s, 0)
	require.NoError(t, err)

	// Rows are the row cosines, column cosines, and their cross product.
	want := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
	assert.True(t, mat.EqualApprox(v.Frame.Direction, want, 1e-12))
}

func TestThroughPlaneSpacingFallbacks(t *testing.T) {
	t.Run("NormalProjectionIgnoresInPlaneShift", func(t *testing.T) {
		// Second slice shifted in-plane as well as along the normal;
		// only the normal component counts.
		a := axialSlice(0, 0)
		b := axialSlice(0, 0)
		b.Position = []float64{3, 4, 2.5}
		b.SliceLocation = floatPtr(2.5)
		s := &series.ImageSeries{Slices: []series.SliceDescriptor{a, b}}

		v, err := Build(s, 0)
		require.NoError(t, err)
		assert.InDelta(t, 2.5, v.Frame.Spacing[2], 1e-12)
	})

	t.Run("EuclideanDistanceWithoutOrientation", func(t *testing.T) {
		a := axialSlice(0, 0)
		b := axialSlice(4, 0)
		a.RowCosines, a.ColCosines = nil, nil
		b.RowCosines, b.ColCosines = nil, nil
		b.Position = []float64{0, 3, 4}
		s := &series.ImageSeries{Slices: []series.SliceDescriptor{a, b}}

		v, err := Build(s, 0)
		require.NoError(t, err)
		assert.InDelta(t, 5.0, v.Frame.Spacing[2], 1e-12)
		// Missing orientation degrades to the identity direction.
		assert.True(t, mat.EqualApprox(v.Frame.Direction, IdentityDirection(), 0))
	})

	t.Run("ThicknessForSingleSlice", func(t *testing.T) {
		a := axialSlice(0, 0)
		a.Thickness = 3.0
		s := &series.ImageSeries{Slices: []series.SliceDescriptor{a}}

		v, err := Build(s, 0)
		require.NoError(t, err)
		assert.Equal(t, 3.0, v.Frame.Spacing[2])
	})

	t.Run("UnitDefaultForSingleSliceWithoutThickness", func(t *testing.T) {
		a := axialSlice(0, 0)
		a.Thickness = 0
		s := &series.ImageSeries{Slices: []series.SliceDescriptor{a}}

		v, err := Build(s, 0)
		require.NoError(t, err)
		assert.Equal(t, 1.0, v.Frame.Spacing[2])
	})
}

func TestBuildDefaultsInPlaneSpacing(t *testing.T) {
	a := axialSlice(0, 0)
	a.RowSpacing, a.ColSpacing = 0, 0
	s := &series.ImageSeries{Slices: []series.SliceDescriptor{a}}

	v, err := Build(s, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v.Frame.Spacing[0])
	assert.Equal(t, 1.0, v.Frame.Spacing[1])
}

func TestBuildFailures(t *testing.T) {
	t.Run("EmptySeries", func(t *testing.T) {
		_, err := Build(&series.ImageSeries{}, 0)
		assert.ErrorIs(t, err, ErrEmptySeries)
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		a := axialSlice(0, 0)
		b := axialSlice(1, 0)
		b.Rows, b.Cols = 4, 4
		b.Pixels = make([]float64, 16)
		s := &series.ImageSeries{Slices: []series.SliceDescriptor{a, b}}

		_, err := Build(s, 0)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("ShortPixelArray", func(t *testing.T) {
		a := axialSlice(0, 0)
		a.Pixels = a.Pixels[:2]
		s := &series.ImageSeries{Slices: []series.SliceDescriptor{a}}

		_, err := Build(s, 0)
		assert.Error(t, err)
	})
}

func TestOriginFallbackWithoutPosition(t *testing.T) {
	a := series.SliceDescriptor{
		Rows: 1, Cols: 1, Pixels: []float64{7},
		SliceLocation: floatPtr(12.0),
	}
	s := &series.ImageSeries{Slices: []series.SliceDescriptor{a}}

	v, err := Build(s, 0)
	require.NoError(t, err)
	assert.Equal(t, [3]float64{0, 0, 12.0}, v.Frame.Origin)
}

func TestFrameMapping(t *testing.T) {
	s := &series.ImageSeries{Slices: []series.SliceDescriptor{
		axialSlice(10, 0), axialSlice(12, 0),
	}}
	v, err := Build(s, 0)
	require.NoError(t, err)

	p := v.Frame.VoxelToPhysical(1, 1, 1)
	assert.InDelta(t, 0.5, p[0], 1e-12)
	assert.InDelta(t, 0.5, p[1], 1e-12)
	assert.InDelta(t, 12.0, p[2], 1e-12)

	i, j, k := v.Frame.PhysicalToVoxel(p)
	assert.InDelta(t, 1.0, i, 1e-12)
	assert.InDelta(t, 1.0, j, 1e-12)
	assert.InDelta(t, 1.0, k, 1e-12)
}

func TestFrameMappingObliqueRoundTrip(t *testing.T) {
	inv := 1 / math.Sqrt2
	a := axialSlice(0, 0)
	a.RowCosines = []float64{inv, inv, 0}
	a.ColCosines = []float64{-inv, inv, 0}
	b := axialSlice(2, 0)
	b.RowCosines = a.RowCosines
	b.ColCosines = a.ColCosines
	s := &series.ImageSeries{Slices: []series.SliceDescriptor{a, b}}

	v, err := Build(s, 0)
	require.NoError(t, err)

	p := v.Frame.VoxelToPhysical(1.5, 0.25, 0.75)
	i, j, k := v.Frame.PhysicalToVoxel(p)
	assert.InDelta(t, 1.5, i, 1e-12)
	assert.InDelta(t, 0.25, j, 1e-12)
	assert.InDelta(t, 0.75, k, 1e-12)
}

func TestVolumeAccessors(t *testing.T) {
	s := &series.ImageSeries{Slices: []series.SliceDescriptor{
		axialSlice(0, 1), axialSlice(1, 2),
	}}
	v, err := Build(s, 0)
	require.NoError(t, err)

	data, err := v.SliceData(1)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2, 2, 2}, data)

	_, err = v.SliceData(2)
	assert.Error(t, err)

	// Out-of-range reads are the fill value.
	assert.Equal(t, 0.0, v.At(-1, 0, 0))
	assert.Equal(t, 0.0, v.At(0, 5, 0))
}
