package backbone

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/meshrecon/pixel2mesh/pkg/tensor"
)

// Conv2D is a square-kernel 2D convolution evaluated as im2col followed by a
// single matrix product.
type Conv2D struct {
	name                    string
	in, out, k, stride, pad int
	W                       *mat.Dense // (in*k*k)×out
	Bias                    *mat.Dense // 1×out
}

// NewConv2D creates a convolution with Xavier-uniform weights and zero bias.
func NewConv2D(name string, in, out, k, stride, pad int, src rand.Source) (*Conv2D, error) {
	if in <= 0 || out <= 0 || k <= 0 || stride <= 0 || pad < 0 {
		return nil, fmt.Errorf("%w: %s in=%d out=%d k=%d stride=%d pad=%d", ErrInvalidOptions, name, in, out, k, stride, pad)
	}
	return &Conv2D{
		name: name, in: in, out: out, k: k, stride: stride, pad: pad,
		W:    tensor.XavierUniform(in*k*k, out, in*k*k, out*k*k, src),
		Bias: mat.NewDense(1, out, nil),
	}, nil
}

// OutputSize returns the spatial size produced for an h×w input.
func (c *Conv2D) OutputSize(h, w int) (int, int) {
	return (h+2*c.pad-c.k)/c.stride + 1, (w+2*c.pad-c.k)/c.stride + 1
}

// Forward convolves v, which must have c.in channels.
func (c *Conv2D) Forward(v *tensor.Volume) (*tensor.Volume, error) {
	if v.C != c.in {
		return nil, fmt.Errorf("%s: %w: %d channels, want %d", c.name, tensor.ErrShapeMismatch, v.C, c.in)
	}
	oh, ow := c.OutputSize(v.H, v.W)
	if oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("%s: %w: %dx%d input too small", c.name, tensor.ErrShapeMismatch, v.H, v.W)
	}

	kk := c.k * c.k
	cols := mat.NewDense(oh*ow, c.in*kk, nil)
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			row := cols.RawRowView(oy*ow + ox)
			for ch := 0; ch < c.in; ch++ {
				plane := v.Channel(ch)
				for ky := 0; ky < c.k; ky++ {
					y := oy*c.stride - c.pad + ky
					if y < 0 || y >= v.H {
						continue
					}
					for kx := 0; kx < c.k; kx++ {
						x := ox*c.stride - c.pad + kx
						if x < 0 || x >= v.W {
							continue
						}
						row[ch*kk+ky*c.k+kx] = plane[y*v.W+x]
					}
				}
			}
		}
	}

	var res mat.Dense
	res.Mul(cols, c.W)
	bias := c.Bias.RawRowView(0)
	for i := 0; i < oh*ow; i++ {
		row := res.RawRowView(i)
		for j, b := range bias {
			row[j] += b
		}
	}
	return tensor.FromPixels(&res, oh, ow)
}

// Params lists the kernel and bias.
func (c *Conv2D) Params() []tensor.Param {
	return []tensor.Param{
		{Name: c.name + ".weight", Value: c.W},
		{Name: c.name + ".bias", Value: c.Bias},
	}
}

func relu(v *tensor.Volume) *tensor.Volume {
	v.Apply(func(x float64) float64 { return math.Max(0, x) })
	return v
}

func sigmoid(v *tensor.Volume) *tensor.Volume {
	v.Apply(func(x float64) float64 { return 1 / (1 + math.Exp(-x)) })
	return v
}

// avgPool averages non-overlapping f×f windows; trailing rows and columns
// that do not fill a window are dropped.
func avgPool(v *tensor.Volume, f int) *tensor.Volume {
	oh, ow := v.H/f, v.W/f
	out := tensor.NewVolume(v.C, oh, ow)
	inv := 1 / float64(f*f)
	for c := 0; c < v.C; c++ {
		src, dst := v.Channel(c), out.Channel(c)
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				var sum float64
				for dy := 0; dy < f; dy++ {
					for dx := 0; dx < f; dx++ {
						sum += src[(y*f+dy)*v.W+x*f+dx]
					}
				}
				dst[y*ow+x] = sum * inv
			}
		}
	}
	return out
}

// upsample resizes v to h×w by nearest-neighbour lookup.
func upsample(v *tensor.Volume, h, w int) *tensor.Volume {
	out := tensor.NewVolume(v.C, h, w)
	for c := 0; c < v.C; c++ {
		src, dst := v.Channel(c), out.Channel(c)
		for y := 0; y < h; y++ {
			sy := y * v.H / h
			for x := 0; x < w; x++ {
				dst[y*w+x] = src[sy*v.W+x*v.W/w]
			}
		}
	}
	return out
}
