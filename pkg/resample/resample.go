// Package resample maps an overlay volume onto a base volume's voxel grid
// with an identity geometric transform: no motion is applied, only grid,
// spacing, and orientation differences are reconciled via interpolation.
//
// The resampler assumes the two volumes share a frame of reference. When
// that assumption is false the output is geometrically wrong but returned
// without error; callers must check frame-of-reference compatibility before
// invoking this path.
package resample

import (
	"errors"
	"fmt"
	"math"

	"fusionalign/pkg/volume"
)

// Kernel selects the interpolation used when sampling the overlay volume.
type Kernel int

const (
	// Nearest snaps to the closest voxel. Fastest; preserves the exact
	// source intensity set (important for label maps).
	Nearest Kernel = iota

	// Linear interpolates trilinearly between the 8 surrounding voxels.
	Linear

	// Cubic interpolates with a separable Catmull-Rom kernel over the 64
	// surrounding voxels. Smoothest; may overshoot near sharp edges.
	Cubic
)

// String returns the kernel name used in cache keys and diagnostics.
func (k Kernel) String() string {
	switch k {
	case Nearest:
		return "nearest"
	case Linear:
		return "linear"
	case Cubic:
		return "cubic"
	default:
		return fmt.Sprintf("kernel(%d)", int(k))
	}
}

// ParseKernel maps a kernel name to its Kernel value.
func ParseKernel(name string) (Kernel, error) {
	switch name {
	case "nearest":
		return Nearest, nil
	case "linear":
		return Linear, nil
	case "cubic":
		return Cubic, nil
	default:
		return Nearest, fmt.Errorf("resample: unknown kernel %q", name)
	}
}

// ErrNilVolume indicates a missing input volume.
var ErrNilVolume = errors.New("resample: nil input volume")

// sampleNearest reads the voxel nearest to continuous coordinates, 0
// outside the volume.
func sampleNearest(v *volume.Volume, i, j, k float64) float64 {
	return v.At(int(math.Round(k)), int(math.Round(j)), int(math.Round(i)))
}

// sampleLinear interpolates trilinearly, 0 outside the volume.
func sampleLinear(v *volume.Volume, i, j, k float64) float64 {
	i0, j0, k0 := math.Floor(i), math.Floor(j), math.Floor(k)
	fi, fj, fk := i-i0, j-j0, k-k0

	var acc float64
	for dk := 0; dk < 2; dk++ {
		wk := 1 - fk
		if dk == 1 {
			wk = fk
		}
		if wk == 0 {
			continue
		}
		for dj := 0; dj < 2; dj++ {
			wj := 1 - fj
			if dj == 1 {
				wj = fj
			}
			if wj == 0 {
				continue
			}
			for di := 0; di < 2; di++ {
				wi := 1 - fi
				if di == 1 {
					wi = fi
				}
				if wi == 0 {
					continue
				}
				acc += wk * wj * wi * v.At(int(k0)+dk, int(j0)+dj, int(i0)+di)
			}
		}
	}
	return acc
}

// catmullRom evaluates the Catmull-Rom basis at distance t in [0,2).
func catmullRom(t float64) float64 {
	t = math.Abs(t)
	switch {
	case t < 1:
		return 1.5*t*t*t - 2.5*t*t + 1
	case t < 2:
		return -0.5*t*t*t + 2.5*t*t - 4*t + 2
	default:
		return 0
	}
}

// sampleCubic interpolates with a separable Catmull-Rom kernel, 0 outside
// the volume.
func sampleCubic(v *volume.Volume, i, j, k float64) float64 {
	i0, j0, k0 := int(math.Floor(i)), int(math.Floor(j)), int(math.Floor(k))

	var acc float64
	for dk := -1; dk <= 2; dk++ {
		wk := catmullRom(k - float64(k0+dk))
		if wk == 0 {
			continue
		}
		for dj := -1; dj <= 2; dj++ {
			wj := catmullRom(j - float64(j0+dj))
			if wj == 0 {
				continue
			}
			for di := -1; di <= 2; di++ {
				wi := catmullRom(i - float64(i0+di))
				if wi == 0 {
					continue
				}
				acc += wk * wj * wi * v.At(k0+dk, j0+dj, i0+di)
			}
		}
	}
	return acc
}

// sampler returns the sampling function for the kernel.
func sampler(k Kernel) func(*volume.Volume, float64, float64, float64) float64 {
	switch k {
	case Linear:
		return sampleLinear
	case Cubic:
		return sampleCubic
	default:
		return sampleNearest
	}
}

// Resample produces a new volume on the base volume's exact grid containing
// the overlay's intensities. Voxels outside the overlay's extent are 0. The
// output carries the overlay's pixel type.
func Resample(overlay, base *volume.Volume, kernel Kernel) (*volume.Volume, error) {
	if overlay == nil || base == nil {
		return nil, ErrNilVolume
	}

	out := &volume.Volume{
		Data:      make([]float64, base.Depth*base.Rows*base.Cols),
		Depth:     base.Depth,
		Rows:      base.Rows,
		Cols:      base.Cols,
		Frame:     base.Frame,
		PixelType: overlay.PixelType,
	}

	// Identical grids need no interpolation at all; copy the overlay
	// through so nearest and linear round-trip exactly.
	if base.Depth == overlay.Depth && base.Rows == overlay.Rows && base.Cols == overlay.Cols &&
		base.Frame.SameGrid(&overlay.Frame, 1e-9) {
		copy(out.Data, overlay.Data)
		return out, nil
	}

	sample := sampler(kernel)
	idx := 0
	for k := 0; k < base.Depth; k++ {
		for j := 0; j < base.Rows; j++ {
			for i := 0; i < base.Cols; i++ {
				p := base.Frame.VoxelToPhysical(float64(i), float64(j), float64(k))
				ci, cj, ck := overlay.Frame.PhysicalToVoxel(p)
				if ci < -0.5 || ci > float64(overlay.Cols-1)+0.5 ||
					cj < -0.5 || cj > float64(overlay.Rows-1)+0.5 ||
					ck < -0.5 || ck > float64(overlay.Depth-1)+0.5 {
					idx++
					continue
				}
				out.Data[idx] = sample(overlay, ci, cj, ck)
				idx++
			}
		}
	}
	return out, nil
}
