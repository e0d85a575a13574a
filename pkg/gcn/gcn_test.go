package gcn

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/meshrecon/pixel2mesh/pkg/mesh"
)

// triangle is a 3-vertex cycle; each normalised weight is 1/2.
func triangle(t *testing.T) *mesh.Adjacency {
	t.Helper()
	adj, err := mesh.NormalizedAdjacency(3, [][2]int32{{0, 1}, {0, 2}, {1, 2}})
	require.NoError(t, err)
	return adj
}

func TestGConv_OutputWidth(t *testing.T) {
	adj := triangle(t)
	for _, out := range []int{1, 3, 16} {
		g, err := NewGConv("conv", 5, out, adj, rand.NewPCG(1, 2))
		require.NoError(t, err)
		y, err := g.Forward(mat.NewDense(3, 5, nil))
		require.NoError(t, err)
		r, c := y.Dims()
		assert.Equal(t, 3, r)
		assert.Equal(t, out, c)
	}
}

func TestGConv_KnownValues(t *testing.T) {
	g, err := NewGConv("conv", 1, 1, triangle(t), rand.NewPCG(1, 2))
	require.NoError(t, err)
	g.W.Set(0, 0, 2)
	g.WLoop.Set(0, 0, 10)
	g.Bias.Set(0, 0, 1)

	x := mat.NewDense(3, 1, []float64{1, 2, 3})
	y, err := g.Forward(x)
	require.NoError(t, err)

	// vertex 0: 0.5*(2*2 + 2*3) + 10*1 + 1
	assert.InDelta(t, 16, y.At(0, 0), 1e-12)
	// vertex 1: 0.5*(2*1 + 2*3) + 10*2 + 1
	assert.InDelta(t, 25, y.At(1, 0), 1e-12)
	// vertex 2: 0.5*(2*1 + 2*2) + 10*3 + 1
	assert.InDelta(t, 34, y.At(2, 0), 1e-12)
}

func TestGConv_Errors(t *testing.T) {
	adj := triangle(t)
	_, err := NewGConv("conv", 0, 3, adj, rand.NewPCG(1, 2))
	assert.ErrorIs(t, err, ErrInvalidLayer)
	_, err = NewGConv("conv", 3, 3, nil, rand.NewPCG(1, 2))
	assert.ErrorIs(t, err, ErrInvalidLayer)

	g, err := NewGConv("conv", 4, 3, adj, rand.NewPCG(1, 2))
	require.NoError(t, err)
	_, err = g.Forward(mat.NewDense(5, 4, nil))
	assert.ErrorIs(t, err, mesh.ErrSizeMismatch)
	_, err = g.Forward(mat.NewDense(3, 2, nil))
	assert.ErrorIs(t, err, ErrDimMismatch)
}

func TestGConv_XavierInit(t *testing.T) {
	adj := triangle(t)
	a, err := NewGConv("conv", 8, 4, adj, rand.NewPCG(7, 7))
	require.NoError(t, err)
	b, err := NewGConv("conv", 8, 4, adj, rand.NewPCG(7, 7))
	require.NoError(t, err)
	assert.True(t, mat.Equal(a.W, b.W))
	assert.False(t, mat.Equal(a.W, a.WLoop))

	bound := math.Sqrt(6.0 / 12)
	for _, v := range a.W.RawMatrix().Data {
		assert.LessOrEqual(t, math.Abs(v), bound)
	}
	assert.Equal(t, 0.0, mat.Sum(a.Bias))

	ps := a.Params()
	require.Len(t, ps, 3)
	assert.Equal(t, "conv.weight", ps[0].Name)
	assert.Same(t, a.W, ps[0].Value)
}

func TestReLU(t *testing.T) {
	m := mat.NewDense(1, 4, []float64{-1, 0, 2, -0.5})
	ReLU(m)
	assert.Equal(t, []float64{0, 0, 2, 0}, m.RawMatrix().Data)
}

func TestResBlock_ZeroWeightsHalve(t *testing.T) {
	blk, err := NewResBlock("res", 2, triangle(t), true, rand.NewPCG(3, 4))
	require.NoError(t, err)
	for _, p := range blk.Params() {
		p.Value.Zero()
	}
	x := mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6})
	y, err := blk.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1, 1.5, 2, 2.5, 3}, y.RawMatrix().Data)
}

func TestBottleneck_Shapes(t *testing.T) {
	b, err := NewBottleneck("gcn0", 7, 5, 3, triangle(t), true, rand.NewPCG(5, 6))
	require.NoError(t, err)
	assert.Equal(t, 7, b.InDim())
	assert.Equal(t, 5, b.HiddenDim())
	assert.Equal(t, 3, b.OutDim())
	// conv1 + 6 blocks of two + conv2, three matrices each
	assert.Len(t, b.Params(), 3*(2+2*BlockCount))

	x := mat.NewDense(3, 7, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 7; j++ {
			x.Set(i, j, float64(i+j)/10)
		}
	}
	out, hidden, err := b.Forward(x)
	require.NoError(t, err)
	r, c := out.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 3, c)
	r, c = hidden.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 5, c)

	out2, _, err := b.Forward(x)
	require.NoError(t, err)
	assert.True(t, mat.Equal(out, out2))
}

func TestUnpool(t *testing.T) {
	u, err := NewUnpool([][2]int32{{0, 1}, {1, 2}}, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, u.OutVertices())

	x := mat.NewDense(3, 2, []float64{0, 0, 2, 4, 4, 8})
	y, err := u.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 2, 4, 4, 8, 1, 2, 3, 6}, y.RawMatrix().Data)

	_, err = u.Forward(mat.NewDense(4, 2, nil))
	assert.True(t, errors.Is(err, mesh.ErrSizeMismatch))
}

func TestUnpool_Topology(t *testing.T) {
	topo, err := mesh.GenerateEllipsoid(mesh.DefaultGenerateOptions())
	require.NoError(t, err)

	for lvl, m := range topo.Unpool {
		u, err := NewUnpool(m, topo.Levels[lvl].NumVertices)
		require.NoError(t, err)
		assert.Equal(t, topo.Levels[lvl+1].NumVertices, u.OutVertices())
	}
}

func TestNewUnpool_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		pairs [][2]int32
		n     int
	}{
		{"no vertices", nil, 0},
		{"index past end", [][2]int32{{0, 3}}, 3},
		{"negative index", [][2]int32{{-1, 0}}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewUnpool(tt.pairs, tt.n)
			assert.ErrorIs(t, err, ErrInvalidUnpool)
		})
	}
}
