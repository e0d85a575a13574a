package mesh

import (
	"fmt"
	"math"
	"sort"

	"github.com/flywave/go3d/float64/vec3"
)

// GenerateOptions controls the offline ellipsoid generator.
type GenerateOptions struct {
	Rings    int    // latitude bands, >= 2
	Segments int    // longitude segments, >= 3
	Radii    vec3.T // semi-axes
	Center   vec3.T // raw-space center
}

// DefaultGenerateOptions yields the 156/618/2466-vertex ellipsoid.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		Rings:    12,
		Segments: 14,
		Radii:    vec3.T{0.3, 0.2, 0.3},
		Center:   vec3.T{0, 0, -0.8},
	}
}

// GenerateEllipsoid builds a closed latitude/longitude ellipsoid and two
// levels of midpoint subdivision. Vertex ordering is fully deterministic.
func GenerateEllipsoid(opts GenerateOptions) (*Topology, error) {
	if opts.Rings < 2 || opts.Segments < 3 {
		return nil, fmt.Errorf("%w: %d rings, %d segments", ErrInvalidTopology, opts.Rings, opts.Segments)
	}
	coords, faces := uvEllipsoid(opts)

	t := &Topology{Coords: coords}
	n := len(coords)
	for lvl := 0; lvl < NumLevels; lvl++ {
		edges := UniqueEdges(faces)
		adj, err := NormalizedAdjacency(n, edges)
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", lvl, err)
		}
		t.Levels[lvl] = Level{NumVertices: n, Edges: edges, Faces: faces, Adj: adj}
		if lvl == NumLevels-1 {
			break
		}
		t.Unpool[lvl] = edges
		faces = Subdivide(n, edges, faces)
		n += len(edges)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func uvEllipsoid(opts GenerateOptions) ([]vec3.T, [][3]int32) {
	rings, segs := opts.Rings, opts.Segments
	coords := make([]vec3.T, 0, segs*(rings-1)+2)

	point := func(theta, phi float64) vec3.T {
		local := vec3.T{
			opts.Radii[0] * math.Sin(theta) * math.Cos(phi),
			opts.Radii[1] * math.Cos(theta),
			opts.Radii[2] * math.Sin(theta) * math.Sin(phi),
		}
		return vec3.Add(&local, &opts.Center)
	}

	coords = append(coords, point(0, 0))
	for i := 1; i < rings; i++ {
		theta := math.Pi * float64(i) / float64(rings)
		for j := 0; j < segs; j++ {
			coords = append(coords, point(theta, 2*math.Pi*float64(j)/float64(segs)))
		}
	}
	coords = append(coords, point(math.Pi, 0))
	bottom := int32(len(coords) - 1)

	ring := func(i, j int) int32 {
		return int32(1 + (i-1)*segs + j%segs)
	}

	var faces [][3]int32
	for j := 0; j < segs; j++ {
		faces = append(faces, [3]int32{0, ring(1, j), ring(1, j+1)})
	}
	for i := 1; i < rings-1; i++ {
		for j := 0; j < segs; j++ {
			a, b := ring(i, j), ring(i, j+1)
			c, d := ring(i+1, j), ring(i+1, j+1)
			faces = append(faces, [3]int32{a, c, b}, [3]int32{b, c, d})
		}
	}
	for j := 0; j < segs; j++ {
		faces = append(faces, [3]int32{bottom, ring(rings-1, j+1), ring(rings-1, j)})
	}

	for k, f := range faces {
		if !facesOutward(coords, f, opts.Center) {
			faces[k] = [3]int32{f[0], f[2], f[1]}
		}
	}
	return coords, faces
}

func facesOutward(coords []vec3.T, f [3]int32, center vec3.T) bool {
	a, b, c := coords[f[0]], coords[f[1]], coords[f[2]]
	e1 := vec3.Sub(&b, &a)
	e2 := vec3.Sub(&c, &a)
	n := vec3.Cross(&e1, &e2)
	centroid := vec3.Add(&a, &b)
	centroid = vec3.Add(&centroid, &c)
	centroid.Scale(1.0 / 3)
	out := vec3.Sub(&centroid, &center)
	return vec3.Dot(&n, &out) >= 0
}

// UniqueEdges returns the sorted undirected edges (a < b) of a face list.
func UniqueEdges(faces [][3]int32) [][2]int32 {
	seen := make(map[[2]int32]struct{}, len(faces)*3/2)
	for _, f := range faces {
		for k := 0; k < 3; k++ {
			a, b := f[k], f[(k+1)%3]
			if a > b {
				a, b = b, a
			}
			seen[[2]int32{a, b}] = struct{}{}
		}
	}
	edges := make([][2]int32, 0, len(seen))
	for e := range seen {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i][0] != edges[j][0] {
			return edges[i][0] < edges[j][0]
		}
		return edges[i][1] < edges[j][1]
	})
	return edges
}

// Subdivide splits every face into four using one midpoint vertex per edge.
// The midpoint of edges[k] receives index n+k, matching unpool ordering.
func Subdivide(n int, edges [][2]int32, faces [][3]int32) [][3]int32 {
	mid := make(map[[2]int32]int32, len(edges))
	for k, e := range edges {
		mid[e] = int32(n + k)
	}
	midpoint := func(a, b int32) int32 {
		if a > b {
			a, b = b, a
		}
		return mid[[2]int32{a, b}]
	}

	out := make([][3]int32, 0, len(faces)*4)
	for _, f := range faces {
		a, b, c := f[0], f[1], f[2]
		ab, bc, ca := midpoint(a, b), midpoint(b, c), midpoint(c, a)
		out = append(out,
			[3]int32{a, ab, ca},
			[3]int32{ab, b, bc},
			[3]int32{ca, bc, c},
			[3]int32{ab, bc, ca},
		)
	}
	return out
}
