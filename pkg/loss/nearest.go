package loss

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// cloudPoint is a point that remembers its row in the source matrix.
type cloudPoint struct {
	p   [3]float64
	row int
}

func (a *cloudPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return a.p[d] - c.(*cloudPoint).p[d]
}

func (a *cloudPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance.
func (a *cloudPoint) Distance(c kdtree.Comparable) float64 {
	b := c.(*cloudPoint)
	dx, dy, dz := a.p[0]-b.p[0], a.p[1]-b.p[1], a.p[2]-b.p[2]
	return dx*dx + dy*dy + dz*dz
}

// cloud is the kdtree.Interface over a point list.
type cloud []cloudPoint

func (c cloud) Index(i int) kdtree.Comparable { return &c[i] }

func (c cloud) Len() int { return len(c) }

func (c cloud) Pivot(d kdtree.Dim) int {
	p := kdPlane{dim: d, points: c}
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}

func (c cloud) Slice(start, end int) kdtree.Interface { return c[start:end] }

type kdPlane struct {
	dim    kdtree.Dim
	points cloud
}

func (p kdPlane) Less(i, j int) bool {
	return p.points[i].Compare(&p.points[j], p.dim) < 0
}

func (p kdPlane) Swap(i, j int) {
	p.points[i], p.points[j] = p.points[j], p.points[i]
}

func (p kdPlane) Len() int { return len(p.points) }

func (p kdPlane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}

func toCloud(m *mat.Dense) (cloud, error) {
	if m == nil || m.IsEmpty() {
		return nil, ErrEmptyCloud
	}
	r, c := m.Dims()
	if c != 3 {
		return nil, fmt.Errorf("%w: point matrix has %d columns", ErrShapeMismatch, c)
	}
	out := make(cloud, r)
	for i := range out {
		row := m.RawRowView(i)
		out[i] = cloudPoint{p: [3]float64{row[0], row[1], row[2]}, row: i}
	}
	return out, nil
}

// Nearest finds, for every row of query, the squared distance to and the row
// index of its nearest neighbour among the rows of ref.
func Nearest(query, ref *mat.Dense) (dist []float64, idx []int, err error) {
	q, err := toCloud(query)
	if err != nil {
		return nil, nil, err
	}
	r, err := toCloud(ref)
	if err != nil {
		return nil, nil, err
	}
	tree := kdtree.New(r, false)

	dist = make([]float64, len(q))
	idx = make([]int, len(q))
	for i := range q {
		best, d := tree.Nearest(&q[i])
		dist[i] = d
		idx[i] = best.(*cloudPoint).row
	}
	return dist, idx, nil
}

// ChamferResult holds both nearest-neighbour directions between a ground
// truth cloud and a prediction.
type ChamferResult struct {
	GTToPred    []float64 // per ground-truth point, squared distance
	PredToGT    []float64 // per predicted vertex, squared distance
	PredNearest []int     // per predicted vertex, nearest ground-truth row
}

// Chamfer computes both directions between gt and pred.
func Chamfer(gt, pred *mat.Dense) (*ChamferResult, error) {
	d1, _, err := Nearest(gt, pred)
	if err != nil {
		return nil, err
	}
	d2, i2, err := Nearest(pred, gt)
	if err != nil {
		return nil, err
	}
	return &ChamferResult{GTToPred: d1, PredToGT: d2, PredNearest: i2}, nil
}
