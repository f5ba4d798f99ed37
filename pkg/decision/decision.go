// Package decision implements the heuristic that chooses between the cheap
// 2D per-slice fusion path and the full 3D volumetric resample for a pair
// of series.
package decision

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"fusionalign/pkg/series"
)

// Thresholds tune the compatibility checks. Zero values fall back to the
// defaults below.
type Thresholds struct {
	// OrientationTolerance is the maximum Euclidean difference between
	// direction cosine vectors for the series to count as co-oriented.
	OrientationTolerance float64

	// RatioBound is the slice-thickness and inter-slice-spacing ratio
	// above which (or below whose reciprocal) 3D resampling is required.
	RatioBound float64

	// LocationTolerance is the dedup tolerance used when deriving
	// inter-slice spacing. See series.DefaultLocationTolerance.
	LocationTolerance float64
}

// Defaults for Thresholds.
const (
	DefaultOrientationTolerance = 0.1
	DefaultRatioBound           = 2.0
)

func (t Thresholds) orientationTol() float64 {
	if t.OrientationTolerance <= 0 {
		return DefaultOrientationTolerance
	}
	return t.OrientationTolerance
}

func (t Thresholds) ratioBound() float64 {
	if t.RatioBound <= 0 {
		return DefaultRatioBound
	}
	return t.RatioBound
}

// Mode is an explicit caller override of the heuristic.
type Mode int

const (
	// ModeAuto runs the heuristic.
	ModeAuto Mode = iota

	// Mode2D forces the per-slice path regardless of compatibility.
	Mode2D

	// Mode3D forces volumetric resampling regardless of compatibility.
	Mode3D
)

// Decision is the outcome of a compatibility check for one series pair.
type Decision struct {
	// Requires3D is true when the pair needs a full volumetric resample.
	Requires3D bool

	// Reason explains the decision in human-readable form.
	Reason string

	// FrameMismatch is true when both series carry frame-of-reference
	// identifiers and they differ. The engine reports this but cannot
	// correct it; a mismatched pair will resample without error into a
	// geometrically wrong result.
	FrameMismatch bool

	// Forced is true when the decision came from a caller override
	// rather than the heuristic.
	Forced bool
}

// Engine evaluates series pairs. The zero value uses default thresholds.
type Engine struct {
	Thresholds Thresholds
}

// NewEngine returns an engine with the given thresholds.
func NewEngine(t Thresholds) *Engine {
	return &Engine{Thresholds: t}
}

func euclideanDiff(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// meanSpacing returns the mean gap between consecutive sorted slice
// locations, or 0 when fewer than two slices are locatable.
func meanSpacing(s *series.ImageSeries, tol float64) float64 {
	sorted := series.Sorted(s, tol)
	locs := sorted.Locations()
	if len(locs) < 2 {
		return 0
	}
	gaps := make([]float64, len(locs)-1)
	for i := 1; i < len(locs); i++ {
		gaps[i-1] = locs[i] - locs[i-1]
	}
	return stat.Mean(gaps, nil)
}

// ratioOutOfBounds reports whether a/b falls outside [1/bound, bound].
func ratioOutOfBounds(a, b, bound float64) bool {
	ratio := a / b
	return ratio >= bound || ratio <= 1/bound
}

// Evaluate runs the ordered compatibility checks for the pair; the first
// failing check wins. When forced is not ModeAuto the heuristic is skipped
// entirely and the forced mode is honored as-is.
func (e *Engine) Evaluate(overlay, base *series.ImageSeries, forced Mode) Decision {
	d := Decision{}
	if overlay.Len() > 0 && base.Len() > 0 {
		ofor, bfor := overlay.FrameOfReference(), base.FrameOfReference()
		d.FrameMismatch = ofor != "" && bfor != "" && ofor != bfor
	}

	switch forced {
	case Mode2D:
		d.Requires3D = false
		d.Reason = "forced 2D mode"
		d.Forced = true
		return d
	case Mode3D:
		d.Requires3D = true
		d.Reason = "forced 3D mode"
		d.Forced = true
		return d
	}

	if overlay.Len() == 0 || base.Len() == 0 {
		d.Requires3D = true
		d.Reason = "missing datasets"
		return d
	}

	ov := &overlay.Slices[0]
	bs := &base.Slices[0]

	if len(ov.RowCosines) != 3 || len(ov.ColCosines) != 3 ||
		len(bs.RowCosines) != 3 || len(bs.ColCosines) != 3 {
		d.Requires3D = true
		d.Reason = "missing orientation"
		return d
	}

	tol := e.Thresholds.orientationTol()
	rowDiff := euclideanDiff(ov.RowCosines, bs.RowCosines)
	colDiff := euclideanDiff(ov.ColCosines, bs.ColCosines)
	if rowDiff >= tol || colDiff >= tol {
		d.Requires3D = true
		d.Reason = fmt.Sprintf("orientation differs: row cosine diff %.3f, column cosine diff %.3f", rowDiff, colDiff)
		return d
	}

	bound := e.Thresholds.ratioBound()
	if ov.Thickness > 0 && bs.Thickness > 0 && ratioOutOfBounds(ov.Thickness, bs.Thickness, bound) {
		d.Requires3D = true
		d.Reason = fmt.Sprintf("slice thickness differs: overlay %.2fmm vs base %.2fmm (ratio %.2f)",
			ov.Thickness, bs.Thickness, ov.Thickness/bs.Thickness)
		return d
	}

	if overlay.Len() >= 2 && base.Len() >= 2 {
		ovSpacing := meanSpacing(overlay, e.Thresholds.LocationTolerance)
		bsSpacing := meanSpacing(base, e.Thresholds.LocationTolerance)
		if ovSpacing > 0 && bsSpacing > 0 && ratioOutOfBounds(ovSpacing, bsSpacing, bound) {
			d.Requires3D = true
			d.Reason = fmt.Sprintf("inter-slice spacing differs: overlay %.2fmm vs base %.2fmm",
				ovSpacing, bsSpacing)
			return d
		}
	}

	d.Requires3D = false
	d.Reason = "compatible: same orientation, similar thickness"
	return d
}
