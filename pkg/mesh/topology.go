// Package mesh provides the fixed multi-resolution mesh topology the network
// deforms: per-level adjacency, unpool index maps, faces and the initial
// ellipsoid coordinates.
package mesh

import (
	"errors"
	"fmt"

	"github.com/flywave/go3d/float64/vec3"
	"go.uber.org/multierr"

	"github.com/meshrecon/pixel2mesh/pkg/formats"
)

// Topology errors.
var (
	ErrInvalidTopology = errors.New("invalid topology")
	ErrSizeMismatch    = errors.New("size mismatch")
)

// NumLevels is the number of resolution levels the network uses.
const NumLevels = formats.TopologyLevels

// Level is one resolution level. All fields are read-only after load.
type Level struct {
	NumVertices int
	Edges       [][2]int32 // undirected, a < b
	Faces       [][3]int32
	Adj         *Adjacency
}

// Topology is the immutable multi-resolution structure shared by the model
// and the loss.
type Topology struct {
	Coords []vec3.T // level 0 raw coordinates
	Levels [NumLevels]Level
	Unpool [NumLevels - 1][][2]int32
}

// Validate checks every structural invariant and reports all violations.
func (t *Topology) Validate() error {
	var err error
	if len(t.Coords) != t.Levels[0].NumVertices {
		err = multierr.Append(err, fmt.Errorf("%w: %d coordinates for %d level-0 vertices",
			ErrInvalidTopology, len(t.Coords), t.Levels[0].NumVertices))
	}
	for i := range t.Levels {
		lvl := &t.Levels[i]
		if lvl.Adj == nil {
			err = multierr.Append(err, fmt.Errorf("%w: level %d has no adjacency", ErrInvalidTopology, i))
		} else if lvl.Adj.Size() != lvl.NumVertices {
			err = multierr.Append(err, fmt.Errorf("%w: level %d adjacency is %dx%d for %d vertices",
				ErrSizeMismatch, i, lvl.Adj.Size(), lvl.Adj.Size(), lvl.NumVertices))
		}
		for k, e := range lvl.Edges {
			if !inRange(e[0], lvl.NumVertices) || !inRange(e[1], lvl.NumVertices) {
				err = multierr.Append(err, fmt.Errorf("%w: level %d edge %d (%d, %d) out of range",
					ErrInvalidTopology, i, k, e[0], e[1]))
				break
			}
		}
		for k, f := range lvl.Faces {
			if !inRange(f[0], lvl.NumVertices) || !inRange(f[1], lvl.NumVertices) || !inRange(f[2], lvl.NumVertices) {
				err = multierr.Append(err, fmt.Errorf("%w: level %d face %d out of range", ErrInvalidTopology, i, k))
				break
			}
		}
	}
	for i, m := range t.Unpool {
		src, dst := t.Levels[i].NumVertices, t.Levels[i+1].NumVertices
		if src+len(m) != dst {
			err = multierr.Append(err, fmt.Errorf("%w: unpool map %d adds %d vertices to %d, level %d has %d",
				ErrSizeMismatch, i, len(m), src, i+1, dst))
		}
		for k, p := range m {
			if !inRange(p[0], src) || !inRange(p[1], src) {
				err = multierr.Append(err, fmt.Errorf("%w: unpool map %d entry %d (%d, %d) out of range",
					ErrInvalidTopology, i, k, p[0], p[1]))
				break
			}
		}
	}
	return err
}

func inRange(i int32, n int) bool {
	return i >= 0 && int(i) < n
}

// VertexCounts returns the vertex count of every level.
func (t *Topology) VertexCounts() [NumLevels]int {
	var out [NumLevels]int
	for i := range t.Levels {
		out[i] = t.Levels[i].NumVertices
	}
	return out
}

// FromFile converts a parsed topology file and validates it.
func FromFile(tf *formats.TopologyFile) (*Topology, error) {
	if len(tf.Levels) != NumLevels || len(tf.Unpool) != NumLevels-1 {
		return nil, fmt.Errorf("%w: %d levels, %d unpool maps", ErrInvalidTopology, len(tf.Levels), len(tf.Unpool))
	}
	t := &Topology{Coords: make([]vec3.T, len(tf.Coords))}
	for i, c := range tf.Coords {
		t.Coords[i] = vec3.T(c)
	}
	for i, fl := range tf.Levels {
		n := int(fl.VertexCount)
		adj, err := NewAdjacency(n, fl.Adjacency.RowPtr, fl.Adjacency.Cols, fl.Adjacency.Vals)
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", i, err)
		}
		t.Levels[i] = Level{NumVertices: n, Edges: fl.Edges, Faces: fl.Faces, Adj: adj}
	}
	for i := range t.Unpool {
		t.Unpool[i] = tf.Unpool[i]
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// ToFile converts the topology into its serialisable form.
func (t *Topology) ToFile() *formats.TopologyFile {
	tf := &formats.TopologyFile{
		Version: formats.TopologyVersion,
		Coords:  make([][3]float64, len(t.Coords)),
		Levels:  make([]formats.TopologyLevel, NumLevels),
		Unpool:  make([][][2]int32, NumLevels-1),
	}
	for i, c := range t.Coords {
		tf.Coords[i] = [3]float64(c)
	}
	for i, lvl := range t.Levels {
		rowPtr, cols, vals := lvl.Adj.CSR()
		tf.Levels[i] = formats.TopologyLevel{
			VertexCount: uint32(lvl.NumVertices),
			Edges:       lvl.Edges,
			Faces:       lvl.Faces,
			Adjacency:   formats.TopologyAdjacency{RowPtr: rowPtr, Cols: cols, Vals: vals},
		}
	}
	for i, m := range t.Unpool {
		tf.Unpool[i] = m
	}
	return tf
}

// Load reads and validates a topology file. The result is deterministic for a
// given file.
func Load(path string) (*Topology, error) {
	tf, err := formats.ParseTopologyFile(path)
	if err != nil {
		return nil, err
	}
	t, err := FromFile(tf)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return t, nil
}

// Save writes the topology to path.
func (t *Topology) Save(path string) error {
	return formats.WriteTopologyFile(path, t.ToFile())
}
