// Package projection lifts image features onto mesh vertices. Each vertex is
// projected through the pinhole camera and every feature map is sampled
// bilinearly at the projected location.
package projection

import (
	"errors"
	"fmt"
	"math"

	"github.com/flywave/go3d/float64/vec3"
	"gonum.org/v1/gonum/mat"

	"github.com/meshrecon/pixel2mesh/pkg/camera"
	"github.com/meshrecon/pixel2mesh/pkg/tensor"
)

// Projection errors.
var (
	ErrDegenerateDepth = errors.New("degenerate vertex depth")
	ErrInvalidInput    = errors.New("invalid projection input")
)

// Options select the depth bound and the sampling convention.
type Options struct {
	// ZThreshold bounds the depth divisor; 0 disables it. See Bound.
	ZThreshold float64
	// TensorflowCompatible keeps normalised coordinates unclamped and samples
	// with the legacy pixel-space bilinear rule.
	TensorflowCompatible bool
}

// Projector is stateless apart from its constants and safe for concurrent use.
type Projector struct {
	cam  camera.Params
	opts Options
}

// New creates a projector.
func New(cam camera.Params, opts Options) (*Projector, error) {
	if err := cam.Validate(); err != nil {
		return nil, err
	}
	if math.IsNaN(opts.ZThreshold) || math.IsInf(opts.ZThreshold, 0) {
		return nil, fmt.Errorf("%w: z threshold %v", ErrInvalidInput, opts.ZThreshold)
	}
	return &Projector{cam: cam, opts: opts}, nil
}

// Camera returns the camera constants.
func (p *Projector) Camera() camera.Params { return p.cam }

// ImageShape returns the (width, height) of an input image.
func ImageShape(img *tensor.Volume) [2]int {
	return [2]int{img.W, img.H}
}

// OutputDim returns the per-vertex feature width for the given feature maps.
func OutputDim(feats []*tensor.Volume) int {
	d := 3
	for _, f := range feats {
		d += f.C
	}
	return d
}

// Bound applies the z threshold to a depth value. A positive threshold t
// replaces z <= t with t; a negative one applies the same rule to -z and
// negates the result, so z with -z <= t becomes -t.
func (p *Projector) Bound(z float64) float64 {
	t := p.opts.ZThreshold
	switch {
	case t > 0:
		return threshold(z, t)
	case t < 0:
		return -threshold(-z, t)
	default:
		return z
	}
}

func threshold(x, t float64) float64 {
	if x > t {
		return x
	}
	return t
}

// offsets returns the pinhole offset (w, h) of every vertex from the image
// center, in input pixels, and the half resolution it was measured against.
func (p *Projector) offsets(imageShape [2]int, vertices *mat.Dense) ([][2]float64, [2]float64, error) {
	var half [2]float64
	n, c := vertices.Dims()
	if c != 3 {
		return nil, half, fmt.Errorf("%w: vertices have %d columns", ErrInvalidInput, c)
	}
	if imageShape[0] < 2 || imageShape[1] < 2 {
		return nil, half, fmt.Errorf("%w: image shape %v", ErrInvalidInput, imageShape)
	}
	half = [2]float64{
		float64(imageShape[0]-1) / 2,
		float64(imageShape[1]-1) / 2,
	}

	out := make([][2]float64, n)
	for i := 0; i < n; i++ {
		v := vec3.T{vertices.At(i, 0), vertices.At(i, 1), vertices.At(i, 2)}
		pos := p.cam.WorldPosition(v)
		depth := p.Bound(pos[2])
		if depth == 0 || math.IsNaN(depth) {
			return nil, half, fmt.Errorf("%w: vertex %d at z=%v", ErrDegenerateDepth, i, pos[2])
		}
		w, h := p.cam.Pinhole(pos, depth, half)
		if !finite(w) || !finite(h) {
			return nil, half, fmt.Errorf("%w: vertex %d projects to (%v, %v)", ErrDegenerateDepth, i, w, h)
		}
		out[i] = [2]float64{w, h}
	}
	return out, half, nil
}

// NormalizedCoords projects N×3 offset-space vertices to normalised image
// coordinates. The image center maps to (0, 0); the default mode clamps to
// [-1, 1].
func (p *Projector) NormalizedCoords(imageShape [2]int, vertices *mat.Dense) ([][2]float64, error) {
	off, half, err := p.offsets(imageShape, vertices)
	if err != nil {
		return nil, err
	}
	for i, o := range off {
		u, v := o[0]/half[0], o[1]/half[1]
		if !p.opts.TensorflowCompatible {
			u = clamp(u, -1, 1)
			v = clamp(v, -1, 1)
		}
		off[i] = [2]float64{u, v}
	}
	return off, nil
}

// PixelCoords projects N×3 offset-space vertices to the input-image pixel
// positions read by the legacy sampler: (w + half, h + half - 1), unclamped.
func (p *Projector) PixelCoords(imageShape [2]int, vertices *mat.Dense) ([][2]float64, error) {
	off, half, err := p.offsets(imageShape, vertices)
	if err != nil {
		return nil, err
	}
	for i, o := range off {
		off[i] = [2]float64{o[0] + half[0], o[1] + half[1] - 1}
	}
	return off, nil
}

// Project returns an N×(3+ΣC) matrix: the input coordinates followed by the
// features sampled from each map in order.
func (p *Projector) Project(imageShape [2]int, feats []*tensor.Volume, vertices *mat.Dense) (*mat.Dense, error) {
	for k, f := range feats {
		if f == nil || f.H < 1 || f.W < 1 {
			return nil, fmt.Errorf("%w: feature map %d is empty", ErrInvalidInput, k)
		}
	}
	var (
		coords [][2]float64
		err    error
	)
	if p.opts.TensorflowCompatible {
		coords, err = p.PixelCoords(imageShape, vertices)
	} else {
		coords, err = p.NormalizedCoords(imageShape, vertices)
	}
	if err != nil {
		return nil, err
	}

	n := len(coords)
	out := mat.NewDense(n, OutputDim(feats), nil)
	for i := 0; i < n; i++ {
		row := out.RawRowView(i)
		copy(row[:3], vertices.RawRowView(i))
		off := 3
		for _, f := range feats {
			dst := row[off : off+f.C]
			if p.opts.TensorflowCompatible {
				px := coords[i][0] / (float64(imageShape[0]) / float64(f.W))
				py := coords[i][1] / (float64(imageShape[1]) / float64(f.H))
				sampleLegacy(f, px, py, dst)
			} else {
				sampleGrid(f, coords[i][0], coords[i][1], dst)
			}
			off += f.C
		}
	}
	return out, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
