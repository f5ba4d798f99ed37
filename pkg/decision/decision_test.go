package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fusionalign/pkg/series"
)

// testSeries builds a series of axial slices with the given thickness and
// inter-slice gap.
func testSeries(n int, thickness, gap float64) *series.ImageSeries {
	s := &series.ImageSeries{SeriesUID: "test"}
	for i := 0; i < n; i++ {
		loc := float64(i) * gap
		s.Slices = append(s.Slices, series.SliceDescriptor{
			Rows: 2, Cols: 2,
			Pixels:        make([]float64, 4),
			SliceLocation: &loc,
			RowCosines:    []float64{1, 0, 0},
			ColCosines:    []float64{0, 1, 0},
			Thickness:     thickness,
		})
	}
	return s
}

func TestEvaluateOrderedChecks(t *testing.T) {
	e := NewEngine(Thresholds{})

	t.Run("MissingDatasets", func(t *testing.T) {
		d := e.Evaluate(&series.ImageSeries{}, testSeries(2, 1, 1), ModeAuto)
		require.True(t, d.Requires3D)
		assert.Equal(t, "missing datasets", d.Reason)

		d = e.Evaluate(testSeries(2, 1, 1), nil, ModeAuto)
		assert.True(t, d.Requires3D)
	})

	t.Run("MissingOrientation", func(t *testing.T) {
		overlay := testSeries(2, 1, 1)
		overlay.Slices[0].RowCosines = nil
		d := e.Evaluate(overlay, testSeries(2, 1, 1), ModeAuto)
		require.True(t, d.Requires3D)
		assert.Equal(t, "missing orientation", d.Reason)
	})

	t.Run("OrientationDiffers", func(t *testing.T) {
		overlay := testSeries(2, 1, 1)
		// Sagittal vs axial row direction.
		overlay.Slices[0].RowCosines = []float64{0, 1, 0}
		d := e.Evaluate(overlay, testSeries(2, 1, 1), ModeAuto)
		require.True(t, d.Requires3D)
		assert.Contains(t, d.Reason, "orientation differs")
		assert.Contains(t, d.Reason, "row cosine diff")
	})

	t.Run("ThicknessRatio", func(t *testing.T) {
		d := e.Evaluate(testSeries(2, 3.5, 1), testSeries(2, 1.0, 1), ModeAuto)
		require.True(t, d.Requires3D)
		assert.Contains(t, d.Reason, "3.50")
		assert.Contains(t, d.Reason, "1.00")

		// The reciprocal direction trips the same check.
		d = e.Evaluate(testSeries(2, 1.0, 1), testSeries(2, 3.5, 1), ModeAuto)
		assert.True(t, d.Requires3D)
	})

	t.Run("SpacingRatio", func(t *testing.T) {
		d := e.Evaluate(testSeries(4, 1, 3.0), testSeries(4, 1, 1.0), ModeAuto)
		require.True(t, d.Requires3D)
		assert.Contains(t, d.Reason, "inter-slice spacing differs")
		assert.Contains(t, d.Reason, "3.00")
		assert.Contains(t, d.Reason, "1.00")
	})

	t.Run("Compatible", func(t *testing.T) {
		d := e.Evaluate(testSeries(4, 1, 1), testSeries(4, 1, 1), ModeAuto)
		require.False(t, d.Requires3D)
		assert.Equal(t, "compatible: same orientation, similar thickness", d.Reason)
	})

	t.Run("SimilarThicknessWithinBound", func(t *testing.T) {
		d := e.Evaluate(testSeries(2, 1.5, 1), testSeries(2, 1.0, 1), ModeAuto)
		assert.False(t, d.Requires3D)
	})
}

func TestEvaluateForcedModes(t *testing.T) {
	e := NewEngine(Thresholds{})

	// A pair the heuristic would send to 3D.
	overlay := testSeries(2, 3.5, 1)
	base := testSeries(2, 1.0, 1)

	d := e.Evaluate(overlay, base, Mode2D)
	assert.False(t, d.Requires3D)
	assert.True(t, d.Forced)

	// A compatible pair forced to 3D.
	d = e.Evaluate(testSeries(2, 1, 1), base, Mode3D)
	assert.True(t, d.Requires3D)
	assert.True(t, d.Forced)
}

func TestEvaluateFrameMismatch(t *testing.T) {
	e := NewEngine(Thresholds{})

	overlay := testSeries(2, 1, 1)
	base := testSeries(2, 1, 1)
	for i := range overlay.Slices {
		overlay.Slices[i].FrameOfReference = "frameA"
	}
	for i := range base.Slices {
		base.Slices[i].FrameOfReference = "frameB"
	}

	d := e.Evaluate(overlay, base, ModeAuto)
	assert.True(t, d.FrameMismatch)
	// The mismatch is reported, not acted on: the pair is otherwise
	// compatible and stays on the 2D path.
	assert.False(t, d.Requires3D)

	// Same frame: no mismatch.
	for i := range base.Slices {
		base.Slices[i].FrameOfReference = "frameA"
	}
	d = e.Evaluate(overlay, base, ModeAuto)
	assert.False(t, d.FrameMismatch)

	// Absent identifiers cannot be compared.
	for i := range base.Slices {
		base.Slices[i].FrameOfReference = ""
	}
	d = e.Evaluate(overlay, base, ModeAuto)
	assert.False(t, d.FrameMismatch)
}

func TestCustomThresholds(t *testing.T) {
	e := NewEngine(Thresholds{RatioBound: 5.0})

	// Ratio 3.5 is within a bound of 5.
	d := e.Evaluate(testSeries(2, 3.5, 1), testSeries(2, 1.0, 1), ModeAuto)
	assert.False(t, d.Requires3D)
}
