// Package gcn implements graph convolution over a fixed mesh adjacency: the
// GConv layer, residual blocks, the six-block bottleneck used per stage and
// midpoint unpooling between resolution levels.
//
// All layers operate on one example at a time; vertex features are N×F
// gonum matrices with one row per vertex.
package gcn

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/meshrecon/pixel2mesh/pkg/mesh"
	"github.com/meshrecon/pixel2mesh/pkg/tensor"
)

// Layer errors.
var (
	ErrDimMismatch   = errors.New("feature dimension mismatch")
	ErrInvalidLayer  = errors.New("invalid layer configuration")
	ErrInvalidUnpool = errors.New("invalid unpool map")
)

// GConv computes A·(X·W) + X·W_loop + b for a fixed normalised adjacency A.
type GConv struct {
	name  string
	adj   *mesh.Adjacency
	W     *mat.Dense // in×out, neighbour transform
	WLoop *mat.Dense // in×out, self transform
	Bias  *mat.Dense // 1×out
}

// NewGConv creates a layer with Xavier-uniform weights drawn from src and a
// zero bias.
func NewGConv(name string, in, out int, adj *mesh.Adjacency, src rand.Source) (*GConv, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("%w: %s has %d inputs, %d outputs", ErrInvalidLayer, name, in, out)
	}
	if adj == nil {
		return nil, fmt.Errorf("%w: %s has no adjacency", ErrInvalidLayer, name)
	}
	return &GConv{
		name:  name,
		adj:   adj,
		W:     tensor.XavierUniform(in, out, in, out, src),
		WLoop: tensor.XavierUniform(in, out, in, out, src),
		Bias:  mat.NewDense(1, out, nil),
	}, nil
}

// InDim returns the input feature width.
func (g *GConv) InDim() int {
	r, _ := g.W.Dims()
	return r
}

// OutDim returns the output feature width.
func (g *GConv) OutDim() int {
	_, c := g.W.Dims()
	return c
}

// Vertices returns the vertex count the layer's adjacency expects.
func (g *GConv) Vertices() int { return g.adj.Size() }

// Forward applies the layer to an N×in feature matrix.
func (g *GConv) Forward(x *mat.Dense) (*mat.Dense, error) {
	n, f := x.Dims()
	if n != g.adj.Size() {
		return nil, fmt.Errorf("%s: %w: %d vertices, adjacency has %d", g.name, mesh.ErrSizeMismatch, n, g.adj.Size())
	}
	if f != g.InDim() {
		return nil, fmt.Errorf("%s: %w: %d features, want %d", g.name, ErrDimMismatch, f, g.InDim())
	}

	var support mat.Dense
	support.Mul(x, g.W)
	out, err := g.adj.MulDense(nil, &support)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", g.name, err)
	}
	var loop mat.Dense
	loop.Mul(x, g.WLoop)
	out.Add(out, &loop)

	bias := g.Bias.RawRowView(0)
	for i := 0; i < n; i++ {
		row := out.RawRowView(i)
		for k, b := range bias {
			row[k] += b
		}
	}
	return out, nil
}

// Params lists the learned matrices.
func (g *GConv) Params() []tensor.Param {
	return []tensor.Param{
		{Name: g.name + ".weight", Value: g.W},
		{Name: g.name + ".loop_weight", Value: g.WLoop},
		{Name: g.name + ".bias", Value: g.Bias},
	}
}

// ReLU clamps negative entries of m to zero in place.
func ReLU(m *mat.Dense) {
	m.Apply(func(_, _ int, v float64) float64 {
		if v < 0 {
			return 0
		}
		return v
	}, m)
}
