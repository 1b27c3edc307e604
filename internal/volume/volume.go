package volume

import (
	"errors"
	"fmt"
	"math"
)

// Structure labels used by the challenge.
const (
	Background int32 = 0
	Left       int32 = 1
	Right      int32 = 2

	// Unlabelled marks voxels whose value is not an exact integer label, so
	// they never match a structure.
	Unlabelled int32 = math.MinInt32
)

var ErrShapeMismatch = errors.New("volume shape mismatch")

// Spacing is the physical voxel size in mm along x, y and z.
type Spacing [3]float64

func DefaultSpacing() Spacing { return Spacing{1, 1, 1} }

func (s Spacing) Validate() error {
	for i, v := range s {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("spacing[%d] must be a positive finite number, got %v", i, v)
		}
	}
	return nil
}

// LabelVolume is a 3D grid of integer labels stored x-fastest:
// index = x + nx*(y + ny*z).
type LabelVolume struct {
	Dims [3]int
	Data []int32
}

func New(nx, ny, nz int) *LabelVolume {
	return &LabelVolume{Dims: [3]int{nx, ny, nz}, Data: make([]int32, nx*ny*nz)}
}

func (v *LabelVolume) Len() int { return v.Dims[0] * v.Dims[1] * v.Dims[2] }

func (v *LabelVolume) Index(x, y, z int) int {
	return x + v.Dims[0]*(y+v.Dims[1]*z)
}

func (v *LabelVolume) At(x, y, z int) int32 { return v.Data[v.Index(x, y, z)] }

func (v *LabelVolume) Set(x, y, z int, label int32) { v.Data[v.Index(x, y, z)] = label }

// Mask returns the voxels equal to label.
func (v *LabelVolume) Mask(label int32) *BinaryMask {
	m := &BinaryMask{Dims: v.Dims, Bits: make([]bool, len(v.Data))}
	for i, l := range v.Data {
		m.Bits[i] = l == label
	}
	return m
}

// SameShape reports an error wrapping ErrShapeMismatch when a and b do not
// share a grid.
func SameShape(a, b *LabelVolume) error {
	if a.Dims != b.Dims {
		return fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, a.Dims, b.Dims)
	}
	return nil
}

type BinaryMask struct {
	Dims [3]int
	Bits []bool
}

func (m *BinaryMask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// At reports whether (x, y, z) is foreground; points off the grid are
// background.
func (m *BinaryMask) At(x, y, z int) bool {
	if x < 0 || y < 0 || z < 0 || x >= m.Dims[0] || y >= m.Dims[1] || z >= m.Dims[2] {
		return false
	}
	return m.Bits[x+m.Dims[0]*(y+m.Dims[1]*z)]
}

// BoundingBox returns the inclusive grid bounds of the foreground. ok is
// false for an empty mask.
func (m *BinaryMask) BoundingBox() (lo, hi [3]int, ok bool) {
	nx, ny := m.Dims[0], m.Dims[1]
	for i, b := range m.Bits {
		if !b {
			continue
		}
		p := [3]int{i % nx, (i / nx) % ny, i / (nx * ny)}
		if !ok {
			lo, hi, ok = p, p, true
			continue
		}
		for k := range p {
			lo[k] = min(lo[k], p[k])
			hi[k] = max(hi[k], p[k])
		}
	}
	return lo, hi, ok
}
