package mesh

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/flywave/go3d/float64/vec3"
	"github.com/qmuntal/gltf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/meshrecon/pixel2mesh/pkg/formats"
)

func TestGenerateEllipsoid_Counts(t *testing.T) {
	topo, err := GenerateEllipsoid(DefaultGenerateOptions())
	require.NoError(t, err)

	assert.Equal(t, [NumLevels]int{156, 618, 2466}, topo.VertexCounts())
	assert.Len(t, topo.Levels[0].Edges, 462)
	assert.Len(t, topo.Levels[0].Faces, 308)
	assert.Len(t, topo.Levels[1].Faces, 1232)
	assert.Len(t, topo.Levels[2].Faces, 4928)
	assert.Len(t, topo.Unpool[0], 462)
	assert.Len(t, topo.Unpool[1], 1848)

	for i, lvl := range topo.Levels {
		// closed genus-0 surface
		assert.Equal(t, 2, lvl.NumVertices-len(lvl.Edges)+len(lvl.Faces), "euler characteristic level %d", i)
		assert.Equal(t, 2*len(lvl.Edges), lvl.Adj.NNZ(), "level %d", i)
	}
}

func TestGenerateEllipsoid_Deterministic(t *testing.T) {
	a, err := GenerateEllipsoid(DefaultGenerateOptions())
	require.NoError(t, err)
	b, err := GenerateEllipsoid(DefaultGenerateOptions())
	require.NoError(t, err)

	assert.Equal(t, a.Coords, b.Coords)
	assert.Equal(t, a.Unpool, b.Unpool)
	assert.Equal(t, a.Levels[2].Faces, b.Levels[2].Faces)
}

func TestGenerateEllipsoid_Outward(t *testing.T) {
	opts := DefaultGenerateOptions()
	topo, err := GenerateEllipsoid(opts)
	require.NoError(t, err)

	for k, f := range topo.Levels[0].Faces {
		require.True(t, facesOutward(topo.Coords, f, opts.Center), "face %d points inward", k)
	}
}

func TestGenerateEllipsoid_InvalidOptions(t *testing.T) {
	_, err := GenerateEllipsoid(GenerateOptions{Rings: 1, Segments: 8})
	assert.ErrorIs(t, err, ErrInvalidTopology)
}

func TestNormalizedAdjacency(t *testing.T) {
	// path graph 0-1-2
	adj, err := NormalizedAdjacency(3, [][2]int32{{0, 1}, {1, 2}})
	require.NoError(t, err)

	assert.Equal(t, []int32{1}, adj.Neighbors(0))
	assert.Equal(t, []int32{0, 2}, adj.Neighbors(1))
	assert.InDelta(t, 1/math.Sqrt(2), adj.Weights(0)[0], 1e-12)
	assert.Equal(t, 2, adj.Degree(1))
	assert.Equal(t, [][2]int32{{0, 1}, {1, 0}, {1, 2}, {2, 1}}, adj.DirectedEdges())

	_, err = NormalizedAdjacency(3, [][2]int32{{0, 3}})
	assert.ErrorIs(t, err, ErrInvalidTopology)
}

func TestAdjacencyMulDense(t *testing.T) {
	adj, err := NewAdjacency(2, []int32{0, 1, 2}, []int32{1, 0}, []float64{2, 3})
	require.NoError(t, err)

	x := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	out, err := adj.MulDense(nil, x)
	require.NoError(t, err)
	assert.Equal(t, []float64{6, 8, 3, 6}, out.RawMatrix().Data)

	_, err = adj.MulDense(nil, mat.NewDense(3, 2, nil))
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestNewAdjacency_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		rowPtr []int32
		cols   []int32
		vals   []float64
	}{
		{"zero size", 0, []int32{0}, nil, nil},
		{"short row pointer", 2, []int32{0, 1}, []int32{1}, []float64{1}},
		{"column out of range", 2, []int32{0, 1, 1}, []int32{5}, []float64{1}},
		{"decreasing rows", 2, []int32{0, 1, 0}, []int32{1}, []float64{1}},
		{"nan weight", 2, []int32{0, 1, 1}, []int32{1}, []float64{math.NaN()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAdjacency(tt.n, tt.rowPtr, tt.cols, tt.vals)
			assert.ErrorIs(t, err, ErrInvalidTopology)
		})
	}
}

func TestTopology_SaveLoad(t *testing.T) {
	topo, err := GenerateEllipsoid(DefaultGenerateOptions())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ellipsoid.p2mt")
	require.NoError(t, topo.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, topo.VertexCounts(), loaded.VertexCounts())
	assert.Equal(t, topo.Coords, loaded.Coords)
	assert.Equal(t, topo.Unpool, loaded.Unpool)
	for i := range topo.Levels {
		r1, c1, v1 := topo.Levels[i].Adj.CSR()
		r2, c2, v2 := loaded.Levels[i].Adj.CSR()
		assert.Equal(t, r1, r2)
		assert.Equal(t, c1, c2)
		assert.Equal(t, v1, v2)
	}
}

func TestFromFile_Mismatch(t *testing.T) {
	topo, err := GenerateEllipsoid(DefaultGenerateOptions())
	require.NoError(t, err)

	tf := topo.ToFile()
	tf.Unpool[0] = tf.Unpool[0][:10]
	_, err = FromFile(tf)
	assert.ErrorIs(t, err, ErrSizeMismatch)

	tf = topo.ToFile()
	tf.Coords = tf.Coords[:5]
	_, err = FromFile(tf)
	assert.ErrorIs(t, err, ErrInvalidTopology)

	tf = topo.ToFile()
	tf.Levels = tf.Levels[:2]
	_, err = FromFile(tf)
	assert.ErrorIs(t, err, ErrInvalidTopology)
}

func TestLoad_Malformed(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.p2mt"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.p2mt")
	require.NoError(t, os.WriteFile(path, []byte("v 0.0 0.0 0.0\n"), 0644))
	_, err = Load(path)
	assert.ErrorIs(t, err, formats.ErrInvalidTopologyMagic)
}

func TestNewEllipsoid_Offset(t *testing.T) {
	topo, err := GenerateEllipsoid(DefaultGenerateOptions())
	require.NoError(t, err)

	e, err := NewEllipsoid(topo, vec3.T{0, 0, -0.8})
	require.NoError(t, err)
	assert.Equal(t, 156, e.NumVertices())

	c := e.Coord()
	// the north pole sits at the center offset by the y radius
	assert.InDelta(t, 0, c.At(0, 0), 1e-12)
	assert.InDelta(t, 0.2, c.At(0, 1), 1e-12)
	assert.InDelta(t, 0, c.At(0, 2), 1e-12)

	// Coord returns a copy
	c.Set(0, 0, 42)
	assert.InDelta(t, 0, e.Coord().At(0, 0), 1e-12)
	assert.Len(t, e.Faces(2), 4928)
}

func TestVertexNormals(t *testing.T) {
	vs := []vec3.T{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {5, 5, 5}}
	ns := VertexNormals(vs, [][3]int32{{0, 1, 2}})
	assert.InDelta(t, 1, ns[0][2], 1e-12)
	assert.Equal(t, vec3.T{}, ns[3])

	box := Bounds(vs)
	assert.Equal(t, vec3.T{0, 0, 0}, box.Min)
	assert.Equal(t, vec3.T{5, 5, 5}, box.Max)
}

func TestExport(t *testing.T) {
	topo, err := GenerateEllipsoid(DefaultGenerateOptions())
	require.NoError(t, err)
	m := NamedMesh{Name: "level0", Vertices: topo.Coords, Faces: topo.Levels[0].Faces}

	dir := t.TempDir()
	glb := filepath.Join(dir, "out.glb")
	require.NoError(t, Export(glb, m))
	doc, err := gltf.Open(glb)
	require.NoError(t, err)
	assert.Len(t, doc.Meshes, 1)
	assert.Len(t, doc.Nodes, 1)

	obj := filepath.Join(dir, "out.obj")
	require.NoError(t, Export(obj, m))
	parsed, err := formats.ParseOBJFile(obj)
	require.NoError(t, err)
	assert.Len(t, parsed.Vertices, 156)
	assert.Len(t, parsed.Faces, 308)

	assert.Error(t, Export(filepath.Join(dir, "out.ply"), m))
	bad := NamedMesh{Name: "bad", Vertices: topo.Coords[:2], Faces: [][3]int32{{0, 1, 2}}}
	assert.ErrorIs(t, Export(glb, bad), ErrInvalidTopology)
}

func TestDenseRoundTrip(t *testing.T) {
	vs := []vec3.T{{1, 2, 3}, {4, 5, 6}}
	assert.Equal(t, vs, VerticesFromDense(DenseFromVertices(vs)))
}
