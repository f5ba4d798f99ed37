// Package fusion orchestrates the alignment pipeline behind a single
// facade: given an overlay series and a base series, it answers "give me
// the overlay data aligned to base slice i", choosing between the cheap 2D
// per-slice path and the full 3D volumetric resample and caching the
// expensive work.
//
// The engine is a pure request/response component: it spawns no goroutines,
// performs no I/O, and holds no UI or event state. The injected volume
// cache is the only shared mutable state; everything else is a function of
// the inputs. 3D resampling is not cancellable once started, so callers
// needing interactive responsiveness should run requests off the
// interactive thread or precompute eagerly.
package fusion

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"fusionalign/pkg/align"
	"fusionalign/pkg/cache"
	"fusionalign/pkg/config"
	"fusionalign/pkg/decision"
	"fusionalign/pkg/resample"
	"fusionalign/pkg/series"
	"fusionalign/pkg/volume"
)

// Engine is the fusion alignment facade.
type Engine struct {
	cfg     *config.Config
	decider *decision.Engine
	calc    *align.Calculator
	cache   *cache.VolumeCache

	mu     sync.Mutex
	forced decision.Mode

	// resampleBuilds counts full volume resamples (cache misses and
	// uncached requests). Observable by tests and callers.
	resampleBuilds int64
}

// NewEngine creates an engine with the given configuration and injected
// volume cache. A nil config uses defaults; a nil cache disables caching
// regardless of per-call flags.
func NewEngine(cfg *config.Config, volumeCache *cache.VolumeCache) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Engine{
		cfg: cfg,
		decider: decision.NewEngine(decision.Thresholds{
			OrientationTolerance: cfg.Geometry.OrientationTolerance,
			RatioBound:           cfg.Geometry.RatioBound,
			LocationTolerance:    cfg.Geometry.LocationToleranceMM,
		}),
		calc:  align.NewCalculator(),
		cache: volumeCache,
	}
}

// DefaultKernel returns the configured default interpolation kernel.
func (e *Engine) DefaultKernel() resample.Kernel {
	k, err := resample.ParseKernel(e.cfg.Resampling.DefaultKernel)
	if err != nil {
		return resample.Linear
	}
	return k
}

// SetForcedMode overrides the resampling heuristic for all subsequent
// requests. decision.ModeAuto restores the heuristic.
func (e *Engine) SetForcedMode(m decision.Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.forced = m
}

func (e *Engine) forcedMode() decision.Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.forced
}

// NeedsResampling reports whether the pair requires the 3D path and why.
// A forced mode set via SetForcedMode is honored without recomputing the
// heuristic.
func (e *Engine) NeedsResampling(overlay, base *series.ImageSeries) decision.Decision {
	return e.decider.Evaluate(overlay, base, e.forcedMode())
}

// ComputeAlignment returns the 2D alignment parameters for the indexed
// base/overlay slice pair, cached per series pair. A manual override set
// via SetManualAlignment takes precedence and is never recomputed over.
func (e *Engine) ComputeAlignment(base, overlay *series.ImageSeries, baseIndex, overlayIndex int) (align.Parameters, error) {
	if base.Len() == 0 || overlay.Len() == 0 {
		return align.IdentityParameters(), fmt.Errorf("fusion: empty series in alignment request")
	}
	if baseIndex < 0 || baseIndex >= base.Len() {
		return align.IdentityParameters(), fmt.Errorf("fusion: base slice index %d out of range [0,%d)", baseIndex, base.Len())
	}
	if overlayIndex < 0 || overlayIndex >= overlay.Len() {
		return align.IdentityParameters(), fmt.Errorf("fusion: overlay slice index %d out of range [0,%d)", overlayIndex, overlay.Len())
	}
	p := e.calc.Parameters(base.SeriesUID, overlay.SeriesUID,
		&base.Slices[baseIndex], &overlay.Slices[overlayIndex])
	return p, nil
}

// SetManualAlignment stores caller-supplied alignment parameters for the
// series pair. Manual parameters shadow computed ones until cleared with
// ResetAlignment.
func (e *Engine) SetManualAlignment(base, overlay *series.ImageSeries, p align.Parameters) {
	e.calc.SetManual(base.SeriesUID, overlay.SeriesUID, p)
}

// ResetAlignment drops stored (computed or manual) parameters for the pair.
func (e *Engine) ResetAlignment(base, overlay *series.ImageSeries) {
	e.calc.Reset(base.SeriesUID, overlay.SeriesUID)
}

// ClearCache removes cached resampled volumes touching the series
// identifier, or every entry when the identifier is empty. Returns the
// number of entries removed.
func (e *Engine) ClearCache(seriesUID string) int {
	if e.cache == nil {
		return 0
	}
	if seriesUID == "" {
		return e.cache.ClearAll()
	}
	return e.cache.ClearSeries(seriesUID)
}

// ResampleBuilds returns how many full volume resamples the engine has
// performed. A cache hit does not increment it.
func (e *Engine) ResampleBuilds() int64 {
	return atomic.LoadInt64(&e.resampleBuilds)
}

// resampledVolume returns the overlay resampled onto the base grid, from
// cache when possible.
func (e *Engine) resampledVolume(overlay, base *series.ImageSeries, kernel resample.Kernel, useCache bool) (*volume.Volume, error) {
	useCache = useCache && e.cache != nil && e.cfg.Resampling.CacheEnabled
	key := cache.Key{OverlayUID: overlay.SeriesUID, BaseUID: base.SeriesUID, Kernel: kernel}
	if useCache {
		if v, ok := e.cache.Get(key); ok {
			return v, nil
		}
	}

	tol := e.cfg.Geometry.LocationToleranceMM
	overlayVol, err := volume.Build(overlay, tol)
	if err != nil {
		return nil, fmt.Errorf("fusion: building overlay volume: %w", err)
	}
	baseVol, err := volume.Build(base, tol)
	if err != nil {
		return nil, fmt.Errorf("fusion: building base volume: %w", err)
	}

	atomic.AddInt64(&e.resampleBuilds, 1)
	resampled, err := resample.Resample(overlayVol, baseVol, kernel)
	if err != nil {
		return nil, fmt.Errorf("fusion: resampling: %w", err)
	}

	if useCache {
		e.cache.Put(key, resampled)
	}
	return resampled, nil
}

// GetResampledSlice returns the overlay pixel data aligned to the base
// slice at sliceIndex (an index into the base series' loader order). The
// returned array has the base slice's dimensions on the 3D path and the
// overlay's native dimensions on the 2D path, where in-plane scale and
// offset are applied downstream using ComputeAlignment's parameters.
//
// All failures are returned as errors; this method never panics across its
// boundary.
func (e *Engine) GetResampledSlice(overlay, base *series.ImageSeries, sliceIndex int, kernel resample.Kernel, useCache bool) (result []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("fusion: internal fault: %v", r)
		}
	}()

	if overlay.Len() == 0 || base.Len() == 0 {
		return nil, fmt.Errorf("fusion: empty series in resample request")
	}
	if sliceIndex < 0 || sliceIndex >= base.Len() {
		return nil, fmt.Errorf("fusion: base slice index %d out of range [0,%d)", sliceIndex, base.Len())
	}

	dec := e.NeedsResampling(overlay, base)
	if dec.FrameMismatch && e.cfg.Output.Verbose {
		log.Printf("[fusion] Frame-of-reference mismatch between series %s and %s; aligned result may be geometrically wrong",
			overlay.SeriesUID, base.SeriesUID)
	}

	tol := e.cfg.Geometry.LocationToleranceMM

	if !dec.Requires3D {
		baseLoc, ok := series.ResolveLocation(&base.Slices[sliceIndex])
		if !ok {
			return nil, fmt.Errorf("fusion: base slice %d has no resolvable location", sliceIndex)
		}
		sortedOverlay := series.Sorted(overlay, tol)
		matched, ok := align.MatchSlice(baseLoc, &sortedOverlay, tol)
		if !ok {
			return nil, fmt.Errorf("fusion: no overlay slice covers base location %.2fmm", baseLoc)
		}
		return matched, nil
	}

	resampled, err := e.resampledVolume(overlay, base, kernel, useCache)
	if err != nil {
		return nil, err
	}

	// The resampled volume is indexed in the base's sorted order; remap
	// the caller's loader-order index, falling back to the nearest
	// surviving slice when the exact one was removed as a duplicate.
	sortedBase := series.Sorted(base, tol)
	k := sortedBase.IndexForOriginal(base, sliceIndex)
	if k < 0 {
		return nil, fmt.Errorf("fusion: base slice %d not present in sorted series", sliceIndex)
	}
	data, err := resampled.SliceData(k)
	if err != nil {
		return nil, fmt.Errorf("fusion: extracting slice: %w", err)
	}
	return data, nil
}
