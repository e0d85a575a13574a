// Package tensor provides channel-first dense volumes used for images and
// image feature maps.
package tensor

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Tensor errors.
var (
	ErrShapeMismatch = errors.New("tensor shape mismatch")
	ErrEmptyVolume   = errors.New("empty volume")
)

// Volume is a C×H×W grid of float64 values stored row-major per channel.
type Volume struct {
	C, H, W int
	Data    []float64
}

// NewVolume allocates a zeroed volume.
func NewVolume(c, h, w int) *Volume {
	return &Volume{C: c, H: h, W: w, Data: make([]float64, c*h*w)}
}

// VolumeFrom wraps existing data. The slice length must equal c*h*w.
func VolumeFrom(c, h, w int, data []float64) (*Volume, error) {
	if len(data) != c*h*w {
		return nil, fmt.Errorf("%w: %d values for %dx%dx%d", ErrShapeMismatch, len(data), c, h, w)
	}
	return &Volume{C: c, H: h, W: w, Data: data}, nil
}

// Index returns the flat offset of (c, y, x).
func (v *Volume) Index(c, y, x int) int {
	return (c*v.H+y)*v.W + x
}

// At returns the value at (c, y, x).
func (v *Volume) At(c, y, x int) float64 {
	return v.Data[v.Index(c, y, x)]
}

// Set stores a value at (c, y, x).
func (v *Volume) Set(c, y, x int, val float64) {
	v.Data[v.Index(c, y, x)] = val
}

// Channel returns the H*W slice backing channel c.
func (v *Volume) Channel(c int) []float64 {
	n := v.H * v.W
	return v.Data[c*n : (c+1)*n]
}

// Clone returns a deep copy.
func (v *Volume) Clone() *Volume {
	out := &Volume{C: v.C, H: v.H, W: v.W, Data: make([]float64, len(v.Data))}
	copy(out.Data, v.Data)
	return out
}

// SameShape reports whether two volumes have identical dimensions.
func (v *Volume) SameShape(o *Volume) bool {
	return v.C == o.C && v.H == o.H && v.W == o.W
}

// Concat stacks volumes along the channel axis. All inputs must share H and W.
func Concat(vs ...*Volume) (*Volume, error) {
	if len(vs) == 0 {
		return nil, ErrEmptyVolume
	}
	h, w := vs[0].H, vs[0].W
	c := 0
	for _, v := range vs {
		if v.H != h || v.W != w {
			return nil, fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch, v.H, v.W, h, w)
		}
		c += v.C
	}
	out := NewVolume(c, h, w)
	off := 0
	for _, v := range vs {
		copy(out.Data[off:], v.Data)
		off += len(v.Data)
	}
	return out, nil
}

// Pixels returns the volume as an (H*W)×C matrix, one row per pixel.
func (v *Volume) Pixels() *mat.Dense {
	n := v.H * v.W
	out := mat.NewDense(n, v.C, nil)
	raw := out.RawMatrix()
	for c := 0; c < v.C; c++ {
		ch := v.Channel(c)
		for i := 0; i < n; i++ {
			raw.Data[i*raw.Stride+c] = ch[i]
		}
	}
	return out
}

// FromPixels is the inverse of Pixels.
func FromPixels(m *mat.Dense, h, w int) (*Volume, error) {
	r, c := m.Dims()
	if r != h*w {
		return nil, fmt.Errorf("%w: %d rows for %dx%d", ErrShapeMismatch, r, h, w)
	}
	out := NewVolume(c, h, w)
	raw := m.RawMatrix()
	for ch := 0; ch < c; ch++ {
		dst := out.Channel(ch)
		for i := 0; i < r; i++ {
			dst[i] = raw.Data[i*raw.Stride+ch]
		}
	}
	return out, nil
}

// Apply replaces every element with fn(value).
func (v *Volume) Apply(fn func(float64) float64) {
	for i, x := range v.Data {
		v.Data[i] = fn(x)
	}
}
