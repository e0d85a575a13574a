package mesh

import (
	"fmt"

	"github.com/flywave/go3d/float64/vec3"
	"gonum.org/v1/gonum/mat"
)

// Ellipsoid is the deformation starting point: level-0 coordinates moved into
// offset space (raw - meshPos) plus the shared topology.
type Ellipsoid struct {
	Topology *Topology
	coord    *mat.Dense
}

// NewEllipsoid subtracts meshPos from the level-0 coordinates of t.
func NewEllipsoid(t *Topology, meshPos vec3.T) (*Ellipsoid, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil topology", ErrInvalidTopology)
	}
	n := len(t.Coords)
	if n != t.Levels[0].NumVertices {
		return nil, fmt.Errorf("%w: %d coordinates for %d level-0 vertices", ErrSizeMismatch, n, t.Levels[0].NumVertices)
	}
	coord := mat.NewDense(n, 3, nil)
	for i, c := range t.Coords {
		p := vec3.Sub(&c, &meshPos)
		coord.SetRow(i, p[:])
	}
	return &Ellipsoid{Topology: t, coord: coord}, nil
}

// Coord returns a copy of the N×3 initial coordinates.
func (e *Ellipsoid) Coord() *mat.Dense {
	return mat.DenseCopyOf(e.coord)
}

// NumVertices returns the level-0 vertex count.
func (e *Ellipsoid) NumVertices() int {
	r, _ := e.coord.Dims()
	return r
}

// Faces returns the face list of the given level.
func (e *Ellipsoid) Faces(level int) [][3]int32 {
	return e.Topology.Levels[level].Faces
}
