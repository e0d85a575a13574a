package loss

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/meshrecon/pixel2mesh/pkg/dataset"
	"github.com/meshrecon/pixel2mesh/pkg/gcn"
	"github.com/meshrecon/pixel2mesh/pkg/mesh"
	"github.com/meshrecon/pixel2mesh/pkg/model"
	"github.com/meshrecon/pixel2mesh/pkg/tensor"
)

func points(rows ...[3]float64) *mat.Dense {
	m := mat.NewDense(len(rows), 3, nil)
	for i, r := range rows {
		m.SetRow(i, r[:])
	}
	return m
}

func TestNearest(t *testing.T) {
	q := points([3]float64{0, 0, 0}, [3]float64{1, 0, 0})
	ref := points([3]float64{0, 0, 1}, [3]float64{3, 0, 0})
	dist, idx, err := Nearest(q, ref)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, dist)
	assert.Equal(t, []int{0, 0}, idx)

	_, _, err = Nearest(mat.NewDense(1, 2, nil), ref)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestChamfer_ZeroForIdenticalClouds(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 5))
	pts := mat.NewDense(64, 3, nil)
	for i := 0; i < 64; i++ {
		pts.SetRow(i, []float64{rng.Float64(), rng.Float64(), rng.Float64()})
	}
	cd, err := Chamfer(pts, mat.DenseCopyOf(pts))
	require.NoError(t, err)
	for i := range cd.GTToPred {
		assert.Zero(t, cd.GTToPred[i])
		assert.Zero(t, cd.PredToGT[i])
		assert.Equal(t, i, cd.PredNearest[i])
	}

	moved := mat.DenseCopyOf(pts)
	moved.Set(3, 0, moved.At(3, 0)+10)
	cd, err = Chamfer(pts, moved)
	require.NoError(t, err)
	assert.Greater(t, cd.PredToGT[3], 0.0)
}

func TestChamfer_Symmetric(t *testing.T) {
	a := points([3]float64{0, 0, 0}, [3]float64{2, 0, 0}, [3]float64{0, 5, 0})
	b := points([3]float64{1, 0, 0}, [3]float64{0, 4, 1})
	ab, err := Chamfer(a, b)
	require.NoError(t, err)
	ba, err := Chamfer(b, a)
	require.NoError(t, err)
	assert.Equal(t, ab.GTToPred, ba.PredToGT)
	assert.Equal(t, ab.PredToGT, ba.GTToPred)
}

func TestChamfer_Empty(t *testing.T) {
	_, err := Chamfer(&mat.Dense{}, points([3]float64{}))
	assert.ErrorIs(t, err, ErrEmptyCloud)
}

func TestEdgeLoss(t *testing.T) {
	pred := points([3]float64{0, 0, 0}, [3]float64{1, 0, 0}, [3]float64{0, 2, 0})
	edges := [][2]int32{{0, 1}, {1, 0}, {0, 2}}
	assert.InDelta(t, 2, EdgeLoss(pred, edges), 1e-12)
	assert.Zero(t, EdgeLoss(pred, nil))
}

func TestNormalLoss(t *testing.T) {
	pred := points([3]float64{0, 0, 0}, [3]float64{1, 0, 0})
	normals := points([3]float64{2, 0, 0}, [3]float64{0, 1, 0})
	nearest := []int{1, 0}
	got := NormalLoss(pred, normals, nearest, [][2]int32{{0, 1}, {1, 0}})
	assert.InDelta(t, 0.5, got, 1e-12)
}

func pathAdjacency(t *testing.T) *mesh.Adjacency {
	t.Helper()
	adj, err := mesh.NormalizedAdjacency(3, [][2]int32{{0, 1}, {1, 2}})
	require.NoError(t, err)
	return adj
}

func TestLaplacian(t *testing.T) {
	x := points([3]float64{0, 1, 0}, [3]float64{1, 1, 0}, [3]float64{4, 1, 0})
	lap := Laplacian(x, pathAdjacency(t))
	assert.Equal(t, []float64{-1, 0, 0}, lap.RawRowView(0))
	assert.Equal(t, []float64{-1, 0, 0}, lap.RawRowView(1))
	assert.Equal(t, []float64{3, 0, 0}, lap.RawRowView(2))
}

func TestMeanSquaredRowDistance(t *testing.T) {
	a := points([3]float64{0, 0, 0}, [3]float64{1, 1, 1})
	b := points([3]float64{1, 0, 0}, [3]float64{1, 1, 3})
	assert.InDelta(t, 2.5, meanSquaredRowDistance(a, b), 1e-12)
}

func TestImageLoss(t *testing.T) {
	target := tensor.NewVolume(1, 1, 2)
	target.Data = []float64{1, 0}
	rec := tensor.NewVolume(1, 1, 2)
	rec.Data = []float64{0.5, 0.5}
	got, err := ImageLoss(target, rec)
	require.NoError(t, err)
	assert.InDelta(t, math.Ln2, got, 1e-12)

	rec.Data = []float64{0, 1}
	got, err = ImageLoss(target, rec)
	require.NoError(t, err)
	assert.InDelta(t, 100, got, 1e-12)

	_, err = ImageLoss(target, tensor.NewVolume(1, 2, 2))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

// levelCoords returns the generated ellipsoid unpooled to every level.
func levelCoords(t *testing.T, topo *mesh.Topology) [mesh.NumLevels]*mat.Dense {
	t.Helper()
	var out [mesh.NumLevels]*mat.Dense
	out[0] = mesh.DenseFromVertices(topo.Coords)
	for i := 1; i < mesh.NumLevels; i++ {
		u, err := gcn.NewUnpool(topo.Unpool[i-1], topo.Levels[i-1].NumVertices)
		require.NoError(t, err)
		out[i], err = u.Forward(out[i-1])
		require.NoError(t, err)
	}
	return out
}

func TestCompute_StaticMesh(t *testing.T) {
	topo, err := mesh.GenerateEllipsoid(mesh.DefaultGenerateOptions())
	require.NoError(t, err)
	coords := levelCoords(t, topo)

	out := &model.Output{}
	for i := range coords {
		out.PredCoord[i] = []*mat.Dense{coords[i]}
		out.BeforeDeform[i] = []*mat.Dense{coords[i]}
	}
	gt := coords[mesh.NumLevels-1]
	batch := &dataset.Batch{
		Images:  []*tensor.Volume{tensor.NewVolume(3, 4, 4)},
		Points:  []*mat.Dense{gt},
		Normals: []*mat.Dense{mat.DenseCopyOf(gt)},
	}

	crit, err := New(DefaultWeights(), topo)
	require.NoError(t, err)
	total, sum, err := crit.Compute(out, batch)
	require.NoError(t, err)

	for _, k := range []string{KeyTotal, KeyChamfer, KeyEdge, KeyLaplace, KeyMove, KeyNormal, KeyReconst} {
		assert.Contains(t, sum, k)
	}
	assert.Zero(t, sum[KeyLaplace])
	assert.Zero(t, sum[KeyMove])
	assert.Zero(t, sum[KeyReconst])
	assert.Greater(t, sum[KeyChamfer], 0.0)
	assert.Greater(t, sum[KeyEdge], 0.0)

	w := DefaultWeights()
	want := sum[KeyChamfer] + w.Edge*sum[KeyEdge] + w.Normal*sum[KeyNormal]
	assert.InDelta(t, want, total, 1e-12)
	assert.Equal(t, total, sum[KeyTotal])
}

func TestCompute_MoveOnlyAfterFirstStage(t *testing.T) {
	topo, err := mesh.GenerateEllipsoid(mesh.DefaultGenerateOptions())
	require.NoError(t, err)
	coords := levelCoords(t, topo)

	out := &model.Output{}
	for i := range coords {
		shifted := mat.DenseCopyOf(coords[i])
		r, _ := shifted.Dims()
		for k := 0; k < r; k++ {
			shifted.Set(k, 0, shifted.At(k, 0)+0.1)
		}
		out.PredCoord[i] = []*mat.Dense{shifted}
		out.BeforeDeform[i] = []*mat.Dense{coords[i]}
	}
	batch := &dataset.Batch{
		Images:  []*tensor.Volume{tensor.NewVolume(3, 4, 4)},
		Points:  []*mat.Dense{coords[2]},
		Normals: []*mat.Dense{coords[2]},
	}
	crit, err := New(DefaultWeights(), topo)
	require.NoError(t, err)
	_, sum, err := crit.Compute(out, batch)
	require.NoError(t, err)

	// a rigid shift keeps the Laplacian; stages 1 and 2 each move 0.01
	assert.InDelta(t, 0, sum[KeyLaplace], 1e-18)
	assert.InDelta(t, (LaplaceConst[1]+LaplaceConst[2])*0.01, sum[KeyMove], 1e-12)
}

func TestCompute_Errors(t *testing.T) {
	topo, err := mesh.GenerateEllipsoid(mesh.DefaultGenerateOptions())
	require.NoError(t, err)
	crit, err := New(DefaultWeights(), topo)
	require.NoError(t, err)

	_, _, err = crit.Compute(&model.Output{}, &dataset.Batch{})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	batch := &dataset.Batch{
		Images:  []*tensor.Volume{tensor.NewVolume(3, 4, 4)},
		Points:  []*mat.Dense{points([3]float64{})},
		Normals: []*mat.Dense{points([3]float64{})},
	}
	out := &model.Output{}
	for i := range out.PredCoord {
		out.PredCoord[i] = []*mat.Dense{points([3]float64{})}
		out.BeforeDeform[i] = []*mat.Dense{points([3]float64{})}
	}
	_, _, err = crit.Compute(out, batch)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = New(DefaultWeights(), nil)
	assert.ErrorIs(t, err, mesh.ErrInvalidTopology)
}

func TestFScore(t *testing.T) {
	assert.InDelta(t, 1, FScore([]float64{0, 0}, []float64{0}, 1e-4), 1e-7)
	assert.Zero(t, FScore([]float64{1}, []float64{1}, 1e-4))
	// precision 1/2, recall 1
	assert.InDelta(t, 2*0.5/1.5, FScore([]float64{0, 1}, []float64{0}, 1e-4), 1e-7)
}

func TestEvaluate(t *testing.T) {
	gt := points([3]float64{0, 0, 0}, [3]float64{1, 0, 0})
	pred := points([3]float64{0, 0, 0}, [3]float64{1, 0.005, 0})
	m, err := Evaluate(pred, gt, DefaultTau)
	require.NoError(t, err)
	// 0.005^2 = 2.5e-5 is inside tau
	assert.InDelta(t, 2*2.5e-5/2, m.Chamfer, 1e-12)
	assert.InDelta(t, 1, m.FScoreTau, 1e-7)
	assert.InDelta(t, 1, m.FScore2Tau, 1e-7)

	far := points([3]float64{0, 0, 0}, [3]float64{1, 0.0125, 0})
	m, err = Evaluate(far, gt, DefaultTau)
	require.NoError(t, err)
	// 1.5625e-4 misses tau but not 2 tau
	assert.InDelta(t, 0.5, m.FScoreTau, 1e-7)
	assert.InDelta(t, 1, m.FScore2Tau, 1e-7)
}

func TestAccumulator(t *testing.T) {
	var acc Accumulator
	assert.Equal(t, Metrics{}, acc.Mean())
	acc.Add(Metrics{Chamfer: 1, FScoreTau: 0.5, FScore2Tau: 1})
	acc.Add(Metrics{Chamfer: 3, FScoreTau: 0.5, FScore2Tau: 0})
	assert.Equal(t, 2, acc.Count())
	assert.Equal(t, Metrics{Chamfer: 2, FScoreTau: 0.5, FScore2Tau: 0.5}, acc.Mean())
}
