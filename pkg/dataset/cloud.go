package dataset

import (
	"fmt"

	"github.com/flywave/go3d/float64/vec3"
	"gonum.org/v1/gonum/mat"

	"github.com/meshrecon/pixel2mesh/pkg/formats"
)

// CloudFromFile converts a parsed point cloud into offset-space points and
// unmodified normals.
func CloudFromFile(pc *formats.PointCloud, meshPos vec3.T) (points, normals *mat.Dense, err error) {
	if len(pc.Points) == 0 {
		return nil, nil, formats.ErrEmptyCloud
	}
	if len(pc.Normals) != len(pc.Points) {
		return nil, nil, fmt.Errorf("%w: %d points, %d normals", ErrShapeMismatch, len(pc.Points), len(pc.Normals))
	}
	points = offsetRows(pc.Points, meshPos)
	normals = mat.NewDense(len(pc.Normals), 3, nil)
	for i, n := range pc.Normals {
		normals.SetRow(i, n[:])
	}
	return points, normals, nil
}

// LoadPointCloud reads an "x y z nx ny nz" cloud and moves the points into
// offset space.
func LoadPointCloud(path string, meshPos vec3.T) (points, normals *mat.Dense, err error) {
	pc, err := formats.ParseXYZFile(path)
	if err != nil {
		return nil, nil, err
	}
	return CloudFromFile(pc, meshPos)
}

// LoadTemplate reads the vertex lines of a template OBJ. Template meshes are
// already in offset space and are returned unchanged.
func LoadTemplate(path string) (*mat.Dense, error) {
	obj, err := formats.ParseOBJFile(path)
	if err != nil {
		return nil, err
	}
	if len(obj.Vertices) == 0 {
		return nil, fmt.Errorf("%w: template %s has no vertices", ErrShapeMismatch, path)
	}
	out := mat.NewDense(len(obj.Vertices), 3, nil)
	for i, v := range obj.Vertices {
		out.SetRow(i, v[:])
	}
	return out, nil
}

func offsetRows(vs [][3]float64, meshPos vec3.T) *mat.Dense {
	out := mat.NewDense(len(vs), 3, nil)
	for i, v := range vs {
		p := vec3.T(v)
		p = vec3.Sub(&p, &meshPos)
		out.SetRow(i, p[:])
	}
	return out
}
