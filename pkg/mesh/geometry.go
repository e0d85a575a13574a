package mesh

import (
	"math"

	"github.com/flywave/go3d/float64/vec3"
	"gonum.org/v1/gonum/mat"
)

// VerticesFromDense converts an N×3 coordinate matrix to vectors.
func VerticesFromDense(m *mat.Dense) []vec3.T {
	r, _ := m.Dims()
	out := make([]vec3.T, r)
	for i := range out {
		out[i] = vec3.T{m.At(i, 0), m.At(i, 1), m.At(i, 2)}
	}
	return out
}

// DenseFromVertices converts vectors to an N×3 matrix.
func DenseFromVertices(vs []vec3.T) *mat.Dense {
	out := mat.NewDense(len(vs), 3, nil)
	for i, v := range vs {
		out.SetRow(i, v[:])
	}
	return out
}

// VertexNormals accumulates unit face normals onto vertices and normalises.
// Degenerate faces are skipped; isolated vertices get a zero normal.
func VertexNormals(vs []vec3.T, faces [][3]int32) []vec3.T {
	normals := make([]vec3.T, len(vs))
	for _, f := range faces {
		p1, p2, p3 := vs[f[0]], vs[f[1]], vs[f[2]]
		sub1 := vec3.Sub(&p3, &p2)
		sub2 := vec3.Sub(&p1, &p2)
		cro := vec3.Cross(&sub1, &sub2)
		l := cro.Length()
		if l == 0 {
			continue
		}
		n := cro.Scale(1 / l)
		normals[f[0]].Add(n)
		normals[f[1]].Add(n)
		normals[f[2]].Add(n)
	}
	for i := range normals {
		if normals[i].Length() > 0 {
			normals[i].Normalize()
		}
	}
	return normals
}

// Bounds returns the axis-aligned bounding box of vs.
func Bounds(vs []vec3.T) vec3.Box {
	box := vec3.Box{
		Min: vec3.T{math.MaxFloat64, math.MaxFloat64, math.MaxFloat64},
		Max: vec3.T{-math.MaxFloat64, -math.MaxFloat64, -math.MaxFloat64},
	}
	for _, v := range vs {
		for k := 0; k < 3; k++ {
			box.Min[k] = math.Min(box.Min[k], v[k])
			box.Max[k] = math.Max(box.Max[k], v[k])
		}
	}
	return box
}
