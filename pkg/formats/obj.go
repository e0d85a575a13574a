// Wavefront OBJ and XYZ point-cloud text readers.
package formats

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Text format errors.
var (
	ErrMalformedLine = errors.New("malformed line")
	ErrEmptyCloud    = errors.New("point cloud has no points")
)

// OBJ holds the vertex positions and triangular faces of an OBJ file.
// Face indices are zero-based.
type OBJ struct {
	Vertices [][3]float64
	Faces    [][3]int32
}

// ParseOBJ reads vertex ("v x y z") and triangle ("f a b c") records.
// Vertex lines must have exactly three coordinates; everything else is
// ignored. Face tokens may carry texture/normal references ("1/2/3").
func ParseOBJ(r io.Reader) (*OBJ, error) {
	obj := &OBJ{}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) != 4 {
				continue
			}
			var v [3]float64
			for i := 0; i < 3; i++ {
				f, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w: %v", lineNo, ErrMalformedLine, err)
				}
				v[i] = f
			}
			obj.Vertices = append(obj.Vertices, v)
		case "f":
			if len(fields) != 4 {
				continue
			}
			var face [3]int32
			for i := 0; i < 3; i++ {
				tok := fields[i+1]
				if slash := strings.IndexByte(tok, '/'); slash >= 0 {
					tok = tok[:slash]
				}
				idx, err := strconv.Atoi(tok)
				if err != nil || idx < 1 {
					return nil, fmt.Errorf("line %d: %w: face index %q", lineNo, ErrMalformedLine, fields[i+1])
				}
				face[i] = int32(idx - 1)
			}
			obj.Faces = append(obj.Faces, face)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading OBJ: %w", err)
	}
	return obj, nil
}

// ParseOBJFile parses an OBJ file from disk.
func ParseOBJFile(path string) (*OBJ, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening OBJ file: %w", err)
	}
	defer f.Close()
	return ParseOBJ(f)
}

// WriteOBJ writes vertices and zero-based faces as a minimal OBJ.
func WriteOBJ(w io.Writer, vertices [][3]float64, faces [][3]int32) error {
	bw := bufio.NewWriter(w)
	for _, v := range vertices {
		fmt.Fprintf(bw, "v %f %f %f\n", v[0], v[1], v[2])
	}
	for _, f := range faces {
		fmt.Fprintf(bw, "f %d %d %d\n", f[0]+1, f[1]+1, f[2]+1)
	}
	return bw.Flush()
}

// PointCloud is a ground-truth sample set with per-point normals.
type PointCloud struct {
	Points  [][3]float64
	Normals [][3]float64
}

// ParseXYZ reads "x y z nx ny nz" lines. Blank lines and lines starting with
// '#' are skipped.
func ParseXYZ(r io.Reader) (*PointCloud, error) {
	pc := &PointCloud{}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 6 {
			return nil, fmt.Errorf("line %d: %w: expected 6 values, got %d", lineNo, ErrMalformedLine, len(fields))
		}
		var vals [6]float64
		for i, tok := range fields {
			f, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w: %v", lineNo, ErrMalformedLine, err)
			}
			vals[i] = f
		}
		pc.Points = append(pc.Points, [3]float64{vals[0], vals[1], vals[2]})
		pc.Normals = append(pc.Normals, [3]float64{vals[3], vals[4], vals[5]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading XYZ: %w", err)
	}
	if len(pc.Points) == 0 {
		return nil, ErrEmptyCloud
	}
	return pc, nil
}

// ParseXYZFile parses an XYZ file from disk.
func ParseXYZFile(path string) (*PointCloud, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening XYZ file: %w", err)
	}
	defer f.Close()
	return ParseXYZ(f)
}
