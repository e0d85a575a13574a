// P2MT (mesh topology) format: the precomputed multi-resolution ellipsoid.
package formats

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// P2MT format errors.
var (
	ErrInvalidTopologyMagic       = errors.New("invalid topology magic: expected 'P2MT'")
	ErrUnsupportedTopologyVersion = errors.New("unsupported topology version")
	ErrTruncatedTopologyData      = errors.New("truncated topology data")
	ErrInvalidLevelCount          = errors.New("invalid topology level count")
	ErrInvalidCount               = errors.New("count out of range")
)

const topologyMagic = "P2MT"

// Topology level and unpool map counts fixed by the network architecture.
const (
	TopologyLevels     = 3
	TopologyUnpoolMaps = TopologyLevels - 1
)

// maxElements bounds every count read from disk.
const maxElements = 1 << 24

// TopologyVersion is the current writer version.
var TopologyVersion = FormatVersion{Major: 1, Minor: 0}

// FormatVersion represents a binary format version.
type FormatVersion struct {
	Major uint8
	Minor uint8
}

// String returns the version as "Major.Minor".
func (v FormatVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// AtLeast returns true if version is >= major.minor.
func (v FormatVersion) AtLeast(major, minor uint8) bool {
	if v.Major > major {
		return true
	}
	return v.Major == major && v.Minor >= minor
}

// TopologyAdjacency is a CSR sparse matrix as stored on disk.
type TopologyAdjacency struct {
	RowPtr []int32
	Cols   []int32
	Vals   []float64
}

// TopologyLevel is one resolution level.
type TopologyLevel struct {
	VertexCount uint32
	Edges       [][2]int32
	Faces       [][3]int32
	Adjacency   TopologyAdjacency
}

// TopologyFile represents a parsed P2MT file.
type TopologyFile struct {
	Version FormatVersion
	Coords  [][3]float64 // level 0 coordinates, raw (not offset)
	Levels  []TopologyLevel
	Unpool  [][][2]int32 // unpool map L -> L+1
}

// ParseTopology parses P2MT data from a byte slice.
func ParseTopology(data []byte) (*TopologyFile, error) {
	if len(data) < 10 {
		return nil, ErrTruncatedTopologyData
	}
	r := bytes.NewReader(data)

	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, ErrTruncatedTopologyData
	}
	if string(magic) != topologyMagic {
		return nil, ErrInvalidTopologyMagic
	}

	tf := &TopologyFile{}
	if err := binary.Read(r, binary.LittleEndian, &tf.Version); err != nil {
		return nil, ErrTruncatedTopologyData
	}
	if tf.Version.Major != TopologyVersion.Major {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTopologyVersion, tf.Version)
	}

	var levelCount uint32
	if err := binary.Read(r, binary.LittleEndian, &levelCount); err != nil {
		return nil, ErrTruncatedTopologyData
	}
	if levelCount != TopologyLevels {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevelCount, levelCount)
	}

	coordCount, err := readCount(r)
	if err != nil {
		return nil, fmt.Errorf("coords: %w", err)
	}
	tf.Coords = make([][3]float64, coordCount)
	if err := binary.Read(r, binary.LittleEndian, tf.Coords); err != nil {
		return nil, fmt.Errorf("coords: %w", ErrTruncatedTopologyData)
	}

	tf.Levels = make([]TopologyLevel, levelCount)
	for i := range tf.Levels {
		if err := parseTopologyLevel(r, &tf.Levels[i]); err != nil {
			return nil, fmt.Errorf("parsing level %d: %w", i, err)
		}
	}

	mapCount, err := readCount(r)
	if err != nil {
		return nil, fmt.Errorf("unpool maps: %w", err)
	}
	if mapCount != TopologyUnpoolMaps {
		return nil, fmt.Errorf("%w: %d unpool maps", ErrInvalidLevelCount, mapCount)
	}
	tf.Unpool = make([][][2]int32, mapCount)
	for i := range tf.Unpool {
		n, err := readCount(r)
		if err != nil {
			return nil, fmt.Errorf("unpool map %d: %w", i, err)
		}
		tf.Unpool[i] = make([][2]int32, n)
		if err := binary.Read(r, binary.LittleEndian, tf.Unpool[i]); err != nil {
			return nil, fmt.Errorf("unpool map %d: %w", i, ErrTruncatedTopologyData)
		}
	}

	return tf, nil
}

func parseTopologyLevel(r *bytes.Reader, lvl *TopologyLevel) error {
	if err := binary.Read(r, binary.LittleEndian, &lvl.VertexCount); err != nil {
		return ErrTruncatedTopologyData
	}
	if lvl.VertexCount == 0 || lvl.VertexCount > maxElements {
		return fmt.Errorf("%w: %d vertices", ErrInvalidCount, lvl.VertexCount)
	}

	n, err := readCount(r)
	if err != nil {
		return fmt.Errorf("edges: %w", err)
	}
	lvl.Edges = make([][2]int32, n)
	if err := binary.Read(r, binary.LittleEndian, lvl.Edges); err != nil {
		return fmt.Errorf("edges: %w", ErrTruncatedTopologyData)
	}

	n, err = readCount(r)
	if err != nil {
		return fmt.Errorf("faces: %w", err)
	}
	lvl.Faces = make([][3]int32, n)
	if err := binary.Read(r, binary.LittleEndian, lvl.Faces); err != nil {
		return fmt.Errorf("faces: %w", ErrTruncatedTopologyData)
	}

	nnz, err := readCount(r)
	if err != nil {
		return fmt.Errorf("adjacency: %w", err)
	}
	adj := &lvl.Adjacency
	adj.RowPtr = make([]int32, lvl.VertexCount+1)
	adj.Cols = make([]int32, nnz)
	adj.Vals = make([]float64, nnz)
	for _, dst := range []any{adj.RowPtr, adj.Cols, adj.Vals} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return fmt.Errorf("adjacency: %w", ErrTruncatedTopologyData)
		}
	}
	return nil
}

func readCount(r io.Reader) (uint32, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return 0, ErrTruncatedTopologyData
	}
	if n > maxElements {
		return 0, fmt.Errorf("%w: %d", ErrInvalidCount, n)
	}
	return n, nil
}

// ParseTopologyFile parses a P2MT file from disk.
func ParseTopologyFile(path string) (*TopologyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology file: %w", err)
	}
	return ParseTopology(data)
}

// WriteTopology serialises tf in the current version.
func WriteTopology(w io.Writer, tf *TopologyFile) error {
	if len(tf.Levels) != TopologyLevels || len(tf.Unpool) != TopologyUnpoolMaps {
		return ErrInvalidLevelCount
	}
	bw := bufio.NewWriter(w)
	le := binary.LittleEndian

	fields := []any{
		[]byte(topologyMagic),
		TopologyVersion,
		uint32(len(tf.Levels)),
		uint32(len(tf.Coords)),
		tf.Coords,
	}
	for _, lvl := range tf.Levels {
		fields = append(fields,
			lvl.VertexCount,
			uint32(len(lvl.Edges)), lvl.Edges,
			uint32(len(lvl.Faces)), lvl.Faces,
			uint32(len(lvl.Adjacency.Cols)),
			lvl.Adjacency.RowPtr, lvl.Adjacency.Cols, lvl.Adjacency.Vals,
		)
	}
	fields = append(fields, uint32(len(tf.Unpool)))
	for _, m := range tf.Unpool {
		fields = append(fields, uint32(len(m)), m)
	}

	for _, f := range fields {
		if err := binary.Write(bw, le, f); err != nil {
			return fmt.Errorf("writing topology: %w", err)
		}
	}
	return bw.Flush()
}

// WriteTopologyFile writes tf to path, creating or truncating it.
func WriteTopologyFile(path string, tf *TopologyFile) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating topology file: %w", err)
	}
	if err := WriteTopology(f, tf); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
