package mesh

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Adjacency is an immutable N×N sparse matrix in CSR form. Rows hold the
// normalised weights of each vertex's neighbours.
type Adjacency struct {
	n      int
	rowPtr []int32
	cols   []int32
	vals   []float64
}

// NewAdjacency validates and wraps CSR arrays. The slices are retained.
func NewAdjacency(n int, rowPtr, cols []int32, vals []float64) (*Adjacency, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: adjacency size %d", ErrInvalidTopology, n)
	}
	if len(rowPtr) != n+1 {
		return nil, fmt.Errorf("%w: row pointer length %d for %d rows", ErrInvalidTopology, len(rowPtr), n)
	}
	if len(cols) != len(vals) {
		return nil, fmt.Errorf("%w: %d columns vs %d values", ErrInvalidTopology, len(cols), len(vals))
	}
	if rowPtr[0] != 0 || int(rowPtr[n]) != len(cols) {
		return nil, fmt.Errorf("%w: row pointer bounds [%d, %d] for %d entries", ErrInvalidTopology, rowPtr[0], rowPtr[n], len(cols))
	}
	for i := 0; i < n; i++ {
		if rowPtr[i+1] < rowPtr[i] {
			return nil, fmt.Errorf("%w: row pointer decreases at row %d", ErrInvalidTopology, i)
		}
	}
	for k, c := range cols {
		if c < 0 || int(c) >= n {
			return nil, fmt.Errorf("%w: column %d out of range at entry %d", ErrInvalidTopology, c, k)
		}
		if math.IsNaN(vals[k]) || math.IsInf(vals[k], 0) {
			return nil, fmt.Errorf("%w: non-finite weight at entry %d", ErrInvalidTopology, k)
		}
	}
	return &Adjacency{n: n, rowPtr: rowPtr, cols: cols, vals: vals}, nil
}

// NormalizedAdjacency builds D^-1/2 A D^-1/2 from undirected edges, where A
// is the binary adjacency without self loops.
func NormalizedAdjacency(n int, edges [][2]int32) (*Adjacency, error) {
	neighbors := make([][]int32, n)
	for _, e := range edges {
		a, b := e[0], e[1]
		if a < 0 || b < 0 || int(a) >= n || int(b) >= n || a == b {
			return nil, fmt.Errorf("%w: edge (%d, %d) for %d vertices", ErrInvalidTopology, a, b, n)
		}
		neighbors[a] = append(neighbors[a], b)
		neighbors[b] = append(neighbors[b], a)
	}

	rowPtr := make([]int32, n+1)
	var cols []int32
	var vals []float64
	for i, nb := range neighbors {
		sort.Slice(nb, func(x, y int) bool { return nb[x] < nb[y] })
		di := float64(len(nb))
		for _, j := range nb {
			dj := float64(len(neighbors[j]))
			cols = append(cols, j)
			vals = append(vals, 1/math.Sqrt(di*dj))
		}
		rowPtr[i+1] = int32(len(cols))
	}
	return NewAdjacency(n, rowPtr, cols, vals)
}

// Size returns the row (and column) count.
func (a *Adjacency) Size() int { return a.n }

// NNZ returns the number of stored entries.
func (a *Adjacency) NNZ() int { return len(a.cols) }

// Neighbors returns the column indices of row i. The slice must not be
// modified.
func (a *Adjacency) Neighbors(i int) []int32 {
	return a.cols[a.rowPtr[i]:a.rowPtr[i+1]]
}

// Weights returns the values of row i, aligned with Neighbors(i).
func (a *Adjacency) Weights(i int) []float64 {
	return a.vals[a.rowPtr[i]:a.rowPtr[i+1]]
}

// Degree returns the number of neighbours of vertex i.
func (a *Adjacency) Degree(i int) int {
	return int(a.rowPtr[i+1] - a.rowPtr[i])
}

// CSR exposes the raw arrays for serialisation.
func (a *Adjacency) CSR() (rowPtr, cols []int32, vals []float64) {
	return a.rowPtr, a.cols, a.vals
}

// DirectedEdges lists every stored (row, col) pair in row order.
func (a *Adjacency) DirectedEdges() [][2]int32 {
	out := make([][2]int32, 0, len(a.cols))
	for i := 0; i < a.n; i++ {
		for _, j := range a.Neighbors(i) {
			out = append(out, [2]int32{int32(i), j})
		}
	}
	return out
}

// MulDense computes dst = A·x for a dense N×F matrix x. dst is allocated
// when nil and must be N×F otherwise.
func (a *Adjacency) MulDense(dst, x *mat.Dense) (*mat.Dense, error) {
	r, c := x.Dims()
	if r != a.n {
		return nil, fmt.Errorf("%w: adjacency %dx%d times %dx%d", ErrSizeMismatch, a.n, a.n, r, c)
	}
	if dst == nil {
		dst = mat.NewDense(r, c, nil)
	} else if dr, dc := dst.Dims(); dr != r || dc != c {
		return nil, fmt.Errorf("%w: destination %dx%d, want %dx%d", ErrSizeMismatch, dr, dc, r, c)
	} else {
		dst.Zero()
	}

	src := x.RawMatrix()
	out := dst.RawMatrix()
	for i := 0; i < a.n; i++ {
		row := out.Data[i*out.Stride : i*out.Stride+c]
		for k := a.rowPtr[i]; k < a.rowPtr[i+1]; k++ {
			w := a.vals[k]
			j := int(a.cols[k])
			nb := src.Data[j*src.Stride : j*src.Stride+c]
			for f, v := range nb {
				row[f] += w * v
			}
		}
	}
	return dst, nil
}
