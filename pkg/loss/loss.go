// Package loss implements the mesh reconstruction objective: Chamfer, normal
// consistency, edge length, Laplacian smoothness and vertex movement terms
// per deformation stage, plus an optional image reconstruction term.
package loss

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/meshrecon/pixel2mesh/pkg/dataset"
	"github.com/meshrecon/pixel2mesh/pkg/mesh"
	"github.com/meshrecon/pixel2mesh/pkg/model"
	"github.com/meshrecon/pixel2mesh/pkg/tensor"
)

// Loss errors.
var (
	ErrEmptyCloud    = errors.New("empty point cloud")
	ErrShapeMismatch = errors.New("loss input shape mismatch")
	ErrNonFinite     = errors.New("non-finite loss")
)

// Summary keys.
const (
	KeyTotal   = "loss"
	KeyChamfer = "loss_chamfer"
	KeyEdge    = "loss_edge"
	KeyLaplace = "loss_laplace"
	KeyMove    = "loss_move"
	KeyNormal  = "loss_normal"
	KeyReconst = "loss_reconst"
)

// normalizeEps matches the lower bound applied to vector norms before division.
const normalizeEps = 1e-12

// Weights scale the individual terms.
type Weights struct {
	Normal          float64                 `yaml:"normal"`
	Edge            float64                 `yaml:"edge"`
	Laplace         float64                 `yaml:"laplace"`
	Move            float64                 `yaml:"move"`
	Constant        float64                 `yaml:"constant"`
	Chamfer         [mesh.NumLevels]float64 `yaml:"chamfer"`
	ChamferOpposite float64                 `yaml:"chamfer_opposite"`
	Reconst         float64                 `yaml:"reconst"`
}

// DefaultWeights returns the standard training weights.
func DefaultWeights() Weights {
	return Weights{
		Normal:          1.6e-4,
		Edge:            0.3,
		Laplace:         0.5,
		Move:            0.1,
		Constant:        1,
		Chamfer:         [mesh.NumLevels]float64{1, 1, 1},
		ChamferOpposite: 1,
		Reconst:         0,
	}
}

// LaplaceConst scales the Laplacian and move terms of each stage.
var LaplaceConst = [mesh.NumLevels]float64{0.2, 1, 1}

// P2MLoss evaluates the objective against a fixed topology.
type P2MLoss struct {
	weights Weights
	edges   [mesh.NumLevels][][2]int32
	adj     [mesh.NumLevels]*mesh.Adjacency
}

// New creates the criterion for topo.
func New(weights Weights, topo *mesh.Topology) (*P2MLoss, error) {
	if topo == nil {
		return nil, fmt.Errorf("%w: nil topology", mesh.ErrInvalidTopology)
	}
	l := &P2MLoss{weights: weights}
	for i, lvl := range topo.Levels {
		if lvl.Adj == nil {
			return nil, fmt.Errorf("%w: level %d has no adjacency", mesh.ErrInvalidTopology, i)
		}
		l.adj[i] = lvl.Adj
		l.edges[i] = lvl.Adj.DirectedEdges()
	}
	return l, nil
}

// Weights returns the configured weights.
func (l *P2MLoss) Weights() Weights { return l.weights }

// Compute returns the weighted total and the named sub-losses. Every term is
// averaged over the examples of the batch.
func (l *P2MLoss) Compute(out *model.Output, batch *dataset.Batch) (float64, map[string]float64, error) {
	n := batch.Size()
	if n == 0 {
		return 0, nil, fmt.Errorf("%w: empty batch", ErrShapeMismatch)
	}
	var chamfer, normal, edge, lap, move, reconst float64

	for stage := 0; stage < mesh.NumLevels; stage++ {
		if len(out.PredCoord[stage]) != n || len(out.BeforeDeform[stage]) != n {
			return 0, nil, fmt.Errorf("%w: stage %d has %d predictions for %d examples",
				ErrShapeMismatch, stage, len(out.PredCoord[stage]), n)
		}
		for b := 0; b < n; b++ {
			pred := out.PredCoord[stage][b]
			if r, _ := pred.Dims(); r != l.adj[stage].Size() {
				return 0, nil, fmt.Errorf("%w: stage %d prediction has %d vertices, topology has %d",
					ErrShapeMismatch, stage, r, l.adj[stage].Size())
			}
			cd, err := Chamfer(batch.Points[b], pred)
			if err != nil {
				return 0, nil, fmt.Errorf("stage %d example %d: %w", stage, b, err)
			}
			chamfer += l.weights.Chamfer[stage] *
				(stat.Mean(cd.GTToPred, nil) + l.weights.ChamferOpposite*stat.Mean(cd.PredToGT, nil))

			normal += NormalLoss(pred, batch.Normals[b], cd.PredNearest, l.edges[stage])
			edge += EdgeLoss(pred, l.edges[stage])

			lapLoss, moveLoss, err := l.laplace(out.BeforeDeform[stage][b], pred, stage)
			if err != nil {
				return 0, nil, err
			}
			lap += LaplaceConst[stage] * lapLoss
			move += LaplaceConst[stage] * moveLoss
		}
	}

	if out.Reconst != nil {
		if len(out.Reconst) != n {
			return 0, nil, fmt.Errorf("%w: %d reconstructions for %d examples", ErrShapeMismatch, len(out.Reconst), n)
		}
		for b := 0; b < n; b++ {
			bce, err := ImageLoss(batch.Images[b], out.Reconst[b])
			if err != nil {
				return 0, nil, err
			}
			reconst += bce
		}
	}

	inv := 1 / float64(n)
	chamfer, normal, edge, lap, move, reconst = chamfer*inv, normal*inv, edge*inv, lap*inv, move*inv, reconst*inv

	w := l.weights
	total := w.Constant * (chamfer + w.Reconst*reconst + w.Laplace*lap + w.Move*move + w.Edge*edge + w.Normal*normal)
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return 0, nil, ErrNonFinite
	}
	return total, map[string]float64{
		KeyTotal:   total,
		KeyChamfer: chamfer,
		KeyEdge:    edge,
		KeyLaplace: lap,
		KeyMove:    move,
		KeyNormal:  normal,
		KeyReconst: reconst,
	}, nil
}

// EdgeLoss is the mean squared length of the given edges.
func EdgeLoss(pred *mat.Dense, edges [][2]int32) float64 {
	if len(edges) == 0 {
		return 0
	}
	var sum float64
	for _, e := range edges {
		a, b := pred.RawRowView(int(e[0])), pred.RawRowView(int(e[1]))
		for k := 0; k < 3; k++ {
			d := a[k] - b[k]
			sum += d * d
		}
	}
	return sum / float64(len(edges))
}

// NormalLoss is the mean absolute cosine between each edge direction and the
// ground-truth normal nearest to the edge's first vertex.
func NormalLoss(pred, gtNormals *mat.Dense, nearest []int, edges [][2]int32) float64 {
	if len(edges) == 0 {
		return 0
	}
	var sum float64
	for _, e := range edges {
		a, b := pred.RawRowView(int(e[0])), pred.RawRowView(int(e[1]))
		dir := [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
		n := gtNormals.RawRowView(nearest[e[0]])
		sum += math.Abs(dot(normalize(dir), normalize([3]float64{n[0], n[1], n[2]})))
	}
	return sum / float64(len(edges))
}

func normalize(v [3]float64) [3]float64 {
	l := math.Max(math.Sqrt(dot(v, v)), normalizeEps)
	return [3]float64{v[0] / l, v[1] / l, v[2] / l}
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

// Laplacian returns x[i] minus the mean of its neighbours for every vertex.
func Laplacian(x *mat.Dense, adj *mesh.Adjacency) *mat.Dense {
	n, c := x.Dims()
	out := mat.NewDense(n, c, nil)
	for i := 0; i < n; i++ {
		row := out.RawRowView(i)
		copy(row, x.RawRowView(i))
		nb := adj.Neighbors(i)
		if len(nb) == 0 {
			continue
		}
		inv := 1 / float64(len(nb))
		for _, j := range nb {
			floats.AddScaled(row, -inv, x.RawRowView(int(j)))
		}
	}
	return out
}

// laplace returns the Laplacian change and, after the first stage, the mean
// squared vertex movement between before and after.
func (l *P2MLoss) laplace(before, after *mat.Dense, stage int) (lap, move float64, err error) {
	br, _ := before.Dims()
	ar, _ := after.Dims()
	if br != ar {
		return 0, 0, fmt.Errorf("%w: stage %d before has %d vertices, after %d", ErrShapeMismatch, stage, br, ar)
	}
	lap = meanSquaredRowDistance(Laplacian(before, l.adj[stage]), Laplacian(after, l.adj[stage]))
	if stage > 0 {
		move = meanSquaredRowDistance(before, after)
	}
	return lap, move, nil
}

// meanSquaredRowDistance is the mean over rows of |a_i - b_i|^2.
func meanSquaredRowDistance(a, b *mat.Dense) float64 {
	var d mat.Dense
	d.Sub(a, b)
	r, _ := d.Dims()
	fro := mat.Norm(&d, 2)
	return fro * fro / float64(r)
}

// ImageLoss is the mean binary cross-entropy of reconst against target. Log
// terms are clamped at -100.
func ImageLoss(target, reconst *tensor.Volume) (float64, error) {
	if target == nil || reconst == nil || !target.SameShape(reconst) {
		return 0, fmt.Errorf("%w: reconstruction does not match the image", ErrShapeMismatch)
	}
	var sum float64
	for i, y := range target.Data {
		p := reconst.Data[i]
		sum -= y*clampLog(p) + (1-y)*clampLog(1-p)
	}
	return sum / float64(len(target.Data)), nil
}

func clampLog(x float64) float64 {
	return math.Max(math.Log(x), -100)
}
