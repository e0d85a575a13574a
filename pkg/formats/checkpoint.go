// P2MC (model checkpoint) format: named dense parameters and constants.
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

// P2MC format errors.
var (
	ErrInvalidCheckpointMagic       = errors.New("invalid checkpoint magic: expected 'P2MC'")
	ErrUnsupportedCheckpointVersion = errors.New("unsupported checkpoint version")
	ErrTruncatedCheckpointData      = errors.New("truncated checkpoint data")
)

const checkpointMagic = "P2MC"

// CheckpointVersion is the current writer version.
var CheckpointVersion = FormatVersion{Major: 1, Minor: 0}

// maxNameLength bounds tensor and variant names.
const maxNameLength = 1024

// NamedMatrix is a row-major dense matrix with a name.
type NamedMatrix struct {
	Name string
	Rows uint32
	Cols uint32
	Data []float64
}

// Checkpoint represents a parsed P2MC file.
type Checkpoint struct {
	Version   FormatVersion
	Variant   string
	Backbone  string
	Params    []NamedMatrix // learned parameters
	Constants []NamedMatrix // non-trainable state (initial mesh, camera)
}

// Param returns the named parameter or nil.
func (c *Checkpoint) Param(name string) *NamedMatrix {
	return findMatrix(c.Params, name)
}

// Constant returns the named constant or nil.
func (c *Checkpoint) Constant(name string) *NamedMatrix {
	return findMatrix(c.Constants, name)
}

func findMatrix(ms []NamedMatrix, name string) *NamedMatrix {
	for i := range ms {
		if ms[i].Name == name {
			return &ms[i]
		}
	}
	return nil
}

// ParseCheckpoint parses P2MC data.
func ParseCheckpoint(data []byte) (*Checkpoint, error) {
	if len(data) < 6 {
		return nil, ErrTruncatedCheckpointData
	}
	r := bytes.NewReader(data)

	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, ErrTruncatedCheckpointData
	}
	if string(magic) != checkpointMagic {
		return nil, ErrInvalidCheckpointMagic
	}

	ck := &Checkpoint{}
	if err := binary.Read(r, binary.LittleEndian, &ck.Version); err != nil {
		return nil, ErrTruncatedCheckpointData
	}
	if ck.Version.Major != CheckpointVersion.Major {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCheckpointVersion, ck.Version)
	}

	var err error
	if ck.Variant, err = readName(r); err != nil {
		return nil, fmt.Errorf("variant: %w", err)
	}
	if ck.Backbone, err = readName(r); err != nil {
		return nil, fmt.Errorf("backbone: %w", err)
	}
	if ck.Params, err = readMatrices(r); err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}
	if ck.Constants, err = readMatrices(r); err != nil {
		return nil, fmt.Errorf("constants: %w", err)
	}
	return ck, nil
}

func readName(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", ErrTruncatedCheckpointData
	}
	if n > maxNameLength {
		return "", fmt.Errorf("%w: name length %d", ErrInvalidCount, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", ErrTruncatedCheckpointData
	}
	return string(buf), nil
}

func readMatrices(r *bytes.Reader) ([]NamedMatrix, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, ErrTruncatedCheckpointData
	}
	if count > maxElements {
		return nil, fmt.Errorf("%w: %d matrices", ErrInvalidCount, count)
	}
	out := make([]NamedMatrix, count)
	for i := range out {
		m := &out[i]
		name, err := readName(r)
		if err != nil {
			return nil, err
		}
		m.Name = name
		if err := binary.Read(r, binary.LittleEndian, &m.Rows); err != nil {
			return nil, ErrTruncatedCheckpointData
		}
		if err := binary.Read(r, binary.LittleEndian, &m.Cols); err != nil {
			return nil, ErrTruncatedCheckpointData
		}
		size := uint64(m.Rows) * uint64(m.Cols)
		if size > maxElements || size*8 > uint64(r.Len()) {
			return nil, fmt.Errorf("%s: %w", name, ErrTruncatedCheckpointData)
		}
		m.Data = make([]float64, size)
		if err := binary.Read(r, binary.LittleEndian, m.Data); err != nil {
			return nil, ErrTruncatedCheckpointData
		}
	}
	return out, nil
}

// ParseCheckpointFile parses a P2MC file from disk.
func ParseCheckpointFile(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint file: %w", err)
	}
	return ParseCheckpoint(data)
}

// WriteCheckpoint serialises ck in the current version.
func WriteCheckpoint(w io.Writer, ck *Checkpoint) error {
	bw := bufio.NewWriter(w)
	le := binary.LittleEndian

	fields := []any{[]byte(checkpointMagic), CheckpointVersion}
	fields = appendName(fields, ck.Variant)
	fields = appendName(fields, ck.Backbone)
	for _, group := range [][]NamedMatrix{ck.Params, ck.Constants} {
		fields = append(fields, uint32(len(group)))
		for _, m := range group {
			if uint64(len(m.Data)) != uint64(m.Rows)*uint64(m.Cols) {
				return fmt.Errorf("%s: %d values for %dx%d: %w", m.Name, len(m.Data), m.Rows, m.Cols, ErrInvalidCount)
			}
			fields = appendName(fields, m.Name)
			fields = append(fields, m.Rows, m.Cols, m.Data)
		}
	}

	for _, f := range fields {
		if err := binary.Write(bw, le, f); err != nil {
			return fmt.Errorf("writing checkpoint: %w", err)
		}
	}
	return bw.Flush()
}

func appendName(fields []any, name string) []any {
	return append(fields, uint32(len(name)), []byte(name))
}

// WriteCheckpointFile writes ck to path.
func WriteCheckpointFile(path string, ck *Checkpoint) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating checkpoint file: %w", err)
	}
	if err := WriteCheckpoint(f, ck); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
