package gcn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/meshrecon/pixel2mesh/pkg/mesh"
)

// Unpool inserts one vertex per index-map entry at the midpoint of the named
// pair. Existing rows are kept in order; new rows follow in map order.
type Unpool struct {
	pairs [][2]int32
	in    int
}

// NewUnpool validates the map against the source vertex count.
func NewUnpool(pairs [][2]int32, inVertices int) (*Unpool, error) {
	if inVertices <= 0 {
		return nil, fmt.Errorf("%w: %d source vertices", ErrInvalidUnpool, inVertices)
	}
	for k, p := range pairs {
		if p[0] < 0 || p[1] < 0 || int(p[0]) >= inVertices || int(p[1]) >= inVertices {
			return nil, fmt.Errorf("%w: entry %d (%d, %d) outside %d vertices", ErrInvalidUnpool, k, p[0], p[1], inVertices)
		}
	}
	return &Unpool{pairs: pairs, in: inVertices}, nil
}

// InVertices returns the expected input row count.
func (u *Unpool) InVertices() int { return u.in }

// OutVertices returns the output row count.
func (u *Unpool) OutVertices() int { return u.in + len(u.pairs) }

// Forward returns the (N+M)×F expanded features.
func (u *Unpool) Forward(x *mat.Dense) (*mat.Dense, error) {
	n, f := x.Dims()
	if n != u.in {
		return nil, fmt.Errorf("unpool: %w: %d vertices, map expects %d", mesh.ErrSizeMismatch, n, u.in)
	}
	out := mat.NewDense(u.OutVertices(), f, nil)
	for i := 0; i < n; i++ {
		copy(out.RawRowView(i), x.RawRowView(i))
	}
	for k, p := range u.pairs {
		a, b := x.RawRowView(int(p[0])), x.RawRowView(int(p[1]))
		row := out.RawRowView(n + k)
		for j := range row {
			row[j] = 0.5 * (a[j] + b[j])
		}
	}
	return out, nil
}
