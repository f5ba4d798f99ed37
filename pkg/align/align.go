// Package align implements the 2D fusion path: per-pair pixel-spacing scale
// and translation parameters, and location-based matching of an overlay
// slice onto a base slice.
package align

import (
	"log"
	"sync"

	"fusionalign/pkg/series"
)

// Parameters describes how an overlay slice maps onto a base slice in 2D:
// a per-axis scale (ratio of pixel spacings) and a translation offset in
// base pixels.
type Parameters struct {
	ScaleX, ScaleY   float64
	OffsetX, OffsetY float64

	// Manual is true when the parameters were supplied by the caller
	// rather than computed. Manual parameters are never recomputed over.
	Manual bool
}

// IdentityParameters is the safe default when spacing and orientation are
// unavailable: unit scale, zero offset.
func IdentityParameters() Parameters {
	return Parameters{ScaleX: 1, ScaleY: 1}
}

// Compute derives alignment parameters for a matched base/overlay slice
// pair. Scale comes from the ratio of in-plane pixel spacings; the offset
// is the projection of the position delta into the base's in-plane pixel
// axes. Missing metadata degrades to the identity components with a logged
// warning rather than failing.
func Compute(base, overlay *series.SliceDescriptor) Parameters {
	p := IdentityParameters()
	if base == nil || overlay == nil {
		return p
	}

	if base.ColSpacing > 0 && overlay.ColSpacing > 0 {
		p.ScaleX = overlay.ColSpacing / base.ColSpacing
	}
	if base.RowSpacing > 0 && overlay.RowSpacing > 0 {
		p.ScaleY = overlay.RowSpacing / base.RowSpacing
	}

	if len(base.Position) != 3 || len(overlay.Position) != 3 ||
		len(base.RowCosines) != 3 || len(base.ColCosines) != 3 {
		log.Printf("[align] Missing position or base orientation; using zero translation offset")
		return p
	}

	var delta [3]float64
	for c := 0; c < 3; c++ {
		delta[c] = overlay.Position[c] - base.Position[c]
	}
	alongRow := delta[0]*base.RowCosines[0] + delta[1]*base.RowCosines[1] + delta[2]*base.RowCosines[2]
	alongCol := delta[0]*base.ColCosines[0] + delta[1]*base.ColCosines[1] + delta[2]*base.ColCosines[2]

	// Convert the mm offsets into base pixel units when spacing allows.
	colSpacing, rowSpacing := base.ColSpacing, base.RowSpacing
	if colSpacing <= 0 {
		colSpacing = 1
	}
	if rowSpacing <= 0 {
		rowSpacing = 1
	}
	p.OffsetX = alongRow / colSpacing
	p.OffsetY = alongCol / rowSpacing
	return p
}

// Calculator caches computed parameters per (base, overlay) series pair and
// holds caller-supplied manual overrides, which always take precedence and
// are never silently overwritten by recomputation.
type Calculator struct {
	mu     sync.Mutex
	cached map[pairKey]Parameters
}

type pairKey struct {
	baseUID    string
	overlayUID string
}

// NewCalculator returns an empty calculator.
func NewCalculator() *Calculator {
	return &Calculator{cached: make(map[pairKey]Parameters)}
}

// Parameters returns the alignment parameters for the pair, computing and
// caching them on first use. A manual override stored for the pair is
// returned as-is.
func (c *Calculator) Parameters(baseUID, overlayUID string, base, overlay *series.SliceDescriptor) Parameters {
	key := pairKey{baseUID: baseUID, overlayUID: overlayUID}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.cached[key]; ok {
		return p
	}
	p := Compute(base, overlay)
	c.cached[key] = p
	return p
}

// SetManual stores caller-supplied parameters for the pair. They shadow any
// computed value until Reset is called for the pair.
func (c *Calculator) SetManual(baseUID, overlayUID string, p Parameters) {
	p.Manual = true
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached[pairKey{baseUID: baseUID, overlayUID: overlayUID}] = p
}

// Reset drops the cached (or manual) parameters for the pair, forcing the
// next Parameters call to recompute.
func (c *Calculator) Reset(baseUID, overlayUID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cached, pairKey{baseUID: baseUID, overlayUID: overlayUID})
}
