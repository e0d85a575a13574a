package model

import (
	"math"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/meshrecon/pixel2mesh/pkg/backbone"
	"github.com/meshrecon/pixel2mesh/pkg/camera"
	"github.com/meshrecon/pixel2mesh/pkg/dataset"
	"github.com/meshrecon/pixel2mesh/pkg/gcn"
	"github.com/meshrecon/pixel2mesh/pkg/mesh"
	"github.com/meshrecon/pixel2mesh/pkg/tensor"
)

var (
	topoOnce sync.Once
	topo     *mesh.Topology
	topoErr  error
)

func testTopology(t *testing.T) *mesh.Topology {
	t.Helper()
	topoOnce.Do(func() {
		topo, topoErr = mesh.GenerateEllipsoid(mesh.DefaultGenerateOptions())
	})
	require.NoError(t, topoErr)
	return topo
}

func smallOptions(name, bb string) Options {
	return Options{
		Name:            name,
		Backbone:        backbone.Options{Name: bb, Widths: []int{4, 6, 8, 10}, Seed: 3},
		HiddenDim:       8,
		LastHiddenDim:   8,
		CoordDim:        3,
		GConvActivation: true,
		Seed:            7,
	}
}

func testImage(size int) *tensor.Volume {
	img := tensor.NewVolume(3, size, size)
	for i := range img.Data {
		img.Data[i] = float64(i%17) / 17
	}
	return img
}

func testBatch(t *testing.T, start *mat.Dense) *dataset.Batch {
	t.Helper()
	pts := mat.NewDense(4, 3, []float64{
		0, 0, 0,
		0.1, 0, 0,
		0, 0.1, 0,
		0, 0, 0.1,
	})
	b, err := dataset.Collate([]dataset.Example{{
		Image:   testImage(32),
		Points:  pts,
		Normals: mat.DenseCopyOf(pts),
		InitPts: start,
	}}, 4, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)
	return b
}

func assertRows(t *testing.T, want int, m *mat.Dense) {
	t.Helper()
	r, c := m.Dims()
	assert.Equal(t, want, r)
	assert.Equal(t, 3, c)
}

func TestForward_Shapes(t *testing.T) {
	m, err := New(smallOptions(NamePixel2Mesh, "identity"), testTopology(t), camera.Default())
	require.NoError(t, err)
	assert.False(t, m.UsesTemplate())
	assert.False(t, m.HasDecoder())

	out, err := m.Forward(testBatch(t, nil))
	require.NoError(t, err)

	want := [mesh.NumLevels]int{156, 618, 2466}
	for stage := 0; stage < mesh.NumLevels; stage++ {
		require.Len(t, out.PredCoord[stage], 1)
		assertRows(t, want[stage], out.PredCoord[stage][0])
		assertRows(t, want[stage], out.BeforeDeform[stage][0])
	}
	assert.True(t, mat.Equal(m.InitPts(), out.BeforeDeform[0][0]))
	assert.Nil(t, out.Reconst)

	for stage := range out.PredCoord {
		for _, v := range out.PredCoord[stage][0].RawMatrix().Data {
			require.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		}
	}
}

func TestForward_Deterministic(t *testing.T) {
	build := func() *Output {
		m, err := New(smallOptions(NamePixel2Mesh, "identity"), testTopology(t), camera.Default())
		require.NoError(t, err)
		out, err := m.Forward(testBatch(t, nil))
		require.NoError(t, err)
		return out
	}
	a, b := build(), build()
	for stage := range a.PredCoord {
		assert.True(t, mat.Equal(a.PredCoord[stage][0], b.PredCoord[stage][0]))
	}
}

func TestForward_BeforeDeformIsUnpooledPrevious(t *testing.T) {
	tp := testTopology(t)
	m, err := New(smallOptions(NamePixel2Mesh, "identity"), tp, camera.Default())
	require.NoError(t, err)
	out, err := m.Forward(testBatch(t, nil))
	require.NoError(t, err)

	prev := out.PredCoord[0][0]
	before := out.BeforeDeform[1][0]
	n0 := tp.Levels[0].NumVertices
	assert.True(t, mat.Equal(prev, before.Slice(0, n0, 0, 3)))

	pair := tp.Unpool[0][0]
	for k := 0; k < 3; k++ {
		mid := (prev.At(int(pair[0]), k) + prev.At(int(pair[1]), k)) / 2
		assert.InDelta(t, mid, before.At(n0, k), 1e-12)
	}
}

func TestForward_Template(t *testing.T) {
	tp := testTopology(t)
	m, err := New(smallOptions(NameWithTemplate, "identity"), tp, camera.Default())
	require.NoError(t, err)
	require.True(t, m.UsesTemplate())

	tpl := m.InitPts()
	tpl.Scale(0.5, tpl)
	out, err := m.Forward(testBatch(t, tpl))
	require.NoError(t, err)
	assert.True(t, mat.Equal(tpl, out.BeforeDeform[0][0]))

	_, err = m.Forward(testBatch(t, nil))
	assert.ErrorIs(t, err, ErrBatch)

	_, err = m.Forward(testBatch(t, mat.NewDense(3, 3, nil)))
	assert.ErrorIs(t, err, mesh.ErrSizeMismatch)
}

func TestForward_Reconstruction(t *testing.T) {
	m, err := New(smallOptions(NamePixel2Mesh, "cnn_recons"), testTopology(t), camera.Default())
	require.NoError(t, err)
	require.True(t, m.HasDecoder())

	out, err := m.Forward(testBatch(t, nil))
	require.NoError(t, err)
	require.Len(t, out.Reconst, 1)
	rec := out.Reconst[0]
	assert.Equal(t, [3]int{3, 32, 32}, [3]int{rec.C, rec.H, rec.W})
}

func TestNew_Invalid(t *testing.T) {
	tp := testTopology(t)
	cam := camera.Default()

	opts := smallOptions("classifier", "identity")
	_, err := New(opts, tp, cam)
	assert.ErrorIs(t, err, ErrUnknownVariant)

	opts = smallOptions(NamePixel2Mesh, "identity")
	opts.CoordDim = 2
	_, err = New(opts, tp, cam)
	assert.ErrorIs(t, err, ErrInvalidOptions)

	opts = smallOptions(NamePixel2Mesh, "identity")
	opts.HiddenDim = 0
	_, err = New(opts, tp, cam)
	assert.ErrorIs(t, err, ErrInvalidOptions)

	opts = smallOptions(NamePixel2Mesh, "resnet")
	_, err = New(opts, tp, cam)
	assert.ErrorIs(t, err, backbone.ErrUnknownBackbone)

	_, err = New(smallOptions(NamePixel2Mesh, "identity"), nil, cam)
	assert.ErrorIs(t, err, mesh.ErrInvalidTopology)
}

func TestForward_EmptyBatch(t *testing.T) {
	m, err := New(smallOptions(NamePixel2Mesh, "identity"), testTopology(t), camera.Default())
	require.NoError(t, err)
	_, err = m.Forward(&dataset.Batch{})
	assert.ErrorIs(t, err, ErrBatch)
}

func TestParams_Names(t *testing.T) {
	m, err := New(smallOptions(NamePixel2Mesh, "identity"), testTopology(t), camera.Default())
	require.NoError(t, err)
	ps := m.Params()
	require.Len(t, ps, 3*3*(2+2*gcn.BlockCount)+3)

	seen := map[string]bool{}
	for _, p := range ps {
		assert.False(t, seen[p.Name], p.Name)
		seen[p.Name] = true
	}
	assert.True(t, seen["gcns.0.conv1.weight"])
	assert.True(t, seen["gconv.bias"])
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	tp := testTopology(t)
	opts := smallOptions(NamePixel2Mesh, "cnn")
	src, err := New(opts, tp, camera.Default())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.p2mc")
	require.NoError(t, src.SaveCheckpoint(path))

	opts.Seed = 99
	opts.Backbone.Seed = 42
	dst, err := New(opts, tp, camera.Params{Focal: [2]float64{100, 100}})
	require.NoError(t, err)
	require.NoError(t, dst.LoadCheckpoint(path))

	want, got := src.Params(), dst.Params()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Name, got[i].Name)
		assert.True(t, mat.Equal(want[i].Value, got[i].Value), want[i].Name)
	}
	assert.Equal(t, src.Camera(), dst.Camera())
	assert.True(t, mat.Equal(src.InitPts(), dst.InitPts()))

	a, err := src.Forward(testBatch(t, nil))
	require.NoError(t, err)
	b, err := dst.Forward(testBatch(t, nil))
	require.NoError(t, err)
	assert.True(t, mat.Equal(a.PredCoord[2][0], b.PredCoord[2][0]))
}

func TestCheckpoint_Mismatch(t *testing.T) {
	tp := testTopology(t)
	m, err := New(smallOptions(NamePixel2Mesh, "identity"), tp, camera.Default())
	require.NoError(t, err)

	ck := m.Checkpoint()
	ck.Variant = NameWithTemplate
	assert.ErrorIs(t, m.Restore(ck), ErrCheckpointMismatch)

	ck = m.Checkpoint()
	ck.Params[0].Cols++
	assert.ErrorIs(t, m.Restore(ck), ErrCheckpointMismatch)

	ck = m.Checkpoint()
	ck.Params = ck.Params[1:]
	assert.ErrorIs(t, m.Restore(ck), ErrCheckpointMismatch)

	ck = m.Checkpoint()
	ck.Constants = ck.Constants[:1]
	assert.ErrorIs(t, m.Restore(ck), ErrCheckpointMismatch)
}

func TestBuild(t *testing.T) {
	assert.Equal(t, []string{NamePixel2Mesh, NameWithTemplate}, Variants())

	spec := Spec{
		Model:    smallOptions(NameWithTemplate, "identity"),
		Dataset:  dataset.Options{NumPoints: 16, ImageSize: 32},
		Topology: testTopology(t),
		Camera:   camera.Default(),
		Logger:   zap.NewNop(),
	}
	v, err := Build(spec)
	require.NoError(t, err)
	assert.Equal(t, NameWithTemplate, v.Name)
	assert.True(t, v.Data.Options().WithTemplate)
	assert.Equal(t, camera.Default().MeshPos, v.Data.Options().MeshPos)
	assert.True(t, v.Model.UsesTemplate())

	assert.False(t, v.Data.Options().WithDepth)

	spec.Model.Name = "classifier"
	_, err = Build(spec)
	assert.ErrorIs(t, err, ErrUnknownVariant)

	spec.Model.Name = NamePixel2Mesh
	spec.Dataset.ImageSize = 0
	_, err = Build(spec)
	assert.ErrorIs(t, err, dataset.ErrInvalidImage)
}

func TestBuild_DepthBackbone(t *testing.T) {
	spec := Spec{
		Model:    smallOptions(NamePixel2Mesh, "cnn_depth"),
		Dataset:  dataset.Options{NumPoints: 4, ImageSize: 32},
		Topology: testTopology(t),
		Camera:   camera.Default(),
	}
	v, err := Build(spec)
	require.NoError(t, err)
	assert.Equal(t, 4, v.Model.InputChannels())
	assert.True(t, v.Data.Options().WithDepth)

	depth := tensor.NewVolume(1, 32, 32)
	img, err := dataset.AppendDepth(testImage(32), depth)
	require.NoError(t, err)
	pts := mat.NewDense(1, 3, []float64{0, 0, 0})
	b, err := v.Data.Collate([]dataset.Example{{Image: img, Points: pts, Normals: pts}}, nil)
	require.NoError(t, err)
	out, err := v.Model.Forward(b)
	require.NoError(t, err)
	assertRows(t, 2466, out.PredCoord[2][0])

	_, err = v.Model.Forward(testBatch(t, nil))
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}
