package mesh

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/flywave/go3d/float64/vec3"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/meshrecon/pixel2mesh/pkg/formats"
)

const gltfVersion = "2.0"

// NamedMesh is one exported surface.
type NamedMesh struct {
	Name     string
	Vertices []vec3.T
	Faces    [][3]int32
}

// NewGltfDocument creates an empty single-scene glTF document.
func NewGltfDocument() *gltf.Document {
	scene := uint32(0)
	return &gltf.Document{
		Asset:   gltf.Asset{Version: gltfVersion, Generator: "pixel2mesh"},
		Scenes:  []*gltf.Scene{{}},
		Buffers: []*gltf.Buffer{{}},
		Scene:   &scene,
	}
}

// AddToGltf appends m as a mesh and a scene node with positions, smooth
// normals and triangle indices.
func AddToGltf(doc *gltf.Document, m NamedMesh) error {
	for k, f := range m.Faces {
		for _, idx := range f {
			if idx < 0 || int(idx) >= len(m.Vertices) {
				return fmt.Errorf("%w: %s face %d index %d", ErrInvalidTopology, m.Name, k, idx)
			}
		}
	}

	positions := make([][3]float32, len(m.Vertices))
	for i, v := range m.Vertices {
		positions[i] = [3]float32{float32(v[0]), float32(v[1]), float32(v[2])}
	}
	normals := make([][3]float32, len(m.Vertices))
	for i, n := range VertexNormals(m.Vertices, m.Faces) {
		normals[i] = [3]float32{float32(n[0]), float32(n[1]), float32(n[2])}
	}
	indices := make([]uint32, 0, len(m.Faces)*3)
	for _, f := range m.Faces {
		indices = append(indices, uint32(f[0]), uint32(f[1]), uint32(f[2]))
	}

	posAcc := modeler.WritePosition(doc, positions)
	nrmAcc := modeler.WriteNormal(doc, normals)
	idxAcc := modeler.WriteIndices(doc, indices)

	doc.Meshes = append(doc.Meshes, &gltf.Mesh{
		Name: m.Name,
		Primitives: []*gltf.Primitive{{
			Indices: gltf.Index(idxAcc),
			Attributes: map[string]uint32{
				gltf.POSITION: posAcc,
				gltf.NORMAL:   nrmAcc,
			},
		}},
	})
	doc.Nodes = append(doc.Nodes, &gltf.Node{
		Name: m.Name,
		Mesh: gltf.Index(uint32(len(doc.Meshes) - 1)),
	})
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, uint32(len(doc.Nodes)-1))
	return nil
}

// EncodeGLB writes the meshes as a binary glTF.
func EncodeGLB(w io.Writer, meshes ...NamedMesh) error {
	doc := NewGltfDocument()
	for _, m := range meshes {
		if err := AddToGltf(doc, m); err != nil {
			return err
		}
	}
	enc := gltf.NewEncoder(w)
	enc.AsBinary = true
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding glTF: %w", err)
	}
	return nil
}

// Export writes meshes to path; the extension selects the format (.glb or
// .obj). OBJ output holds only the first mesh.
func Export(path string, meshes ...NamedMesh) error {
	if len(meshes) == 0 {
		return fmt.Errorf("%w: nothing to export", ErrInvalidTopology)
	}
	var buf bytes.Buffer
	switch strings.ToLower(filepath.Ext(path)) {
	case ".glb":
		if err := EncodeGLB(&buf, meshes...); err != nil {
			return err
		}
	case ".obj":
		vs := make([][3]float64, len(meshes[0].Vertices))
		for i, v := range meshes[0].Vertices {
			vs[i] = [3]float64(v)
		}
		if err := formats.WriteOBJ(&buf, vs, meshes[0].Faces); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported export format %q", filepath.Ext(path))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
