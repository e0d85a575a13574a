package model

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/meshrecon/pixel2mesh/pkg/camera"
	"github.com/meshrecon/pixel2mesh/pkg/formats"
	"github.com/meshrecon/pixel2mesh/pkg/projection"
	"github.com/meshrecon/pixel2mesh/pkg/tensor"
)

// ErrCheckpointMismatch is returned when a checkpoint does not fit the model.
var ErrCheckpointMismatch = errors.New("checkpoint does not match model")

// Constant names in checkpoints.
const (
	ConstInitPts = "init_pts"
	ConstCamera  = "camera" // 1×7: f_x f_y c_x c_y and the mesh position
)

// Constants lists the non-learned state stored alongside the parameters.
func (m *P2M) Constants() []tensor.Param {
	c := m.cam
	cam := mat.NewDense(1, 7, []float64{
		c.Focal[0], c.Focal[1], c.Principal[0], c.Principal[1],
		c.MeshPos[0], c.MeshPos[1], c.MeshPos[2],
	})
	return []tensor.Param{
		{Name: ConstInitPts, Value: m.initPts},
		{Name: ConstCamera, Value: cam},
	}
}

// Checkpoint captures the current parameters and constants.
func (m *P2M) Checkpoint() *formats.Checkpoint {
	return &formats.Checkpoint{
		Version:   formats.CheckpointVersion,
		Variant:   m.opts.Name,
		Backbone:  m.opts.Backbone.Name,
		Params:    toNamed(m.Params()),
		Constants: toNamed(m.Constants()),
	}
}

func toNamed(ps []tensor.Param) []formats.NamedMatrix {
	out := make([]formats.NamedMatrix, len(ps))
	for i, p := range ps {
		r, c := p.Value.Dims()
		out[i] = formats.NamedMatrix{
			Name: p.Name,
			Rows: uint32(r),
			Cols: uint32(c),
			Data: append([]float64(nil), mat.DenseCopyOf(p.Value).RawMatrix().Data...),
		}
	}
	return out
}

// Restore copies parameters and constants from ck into the model. Names,
// shapes, the variant and the backbone must all match; nothing is modified
// when validation fails.
func (m *P2M) Restore(ck *formats.Checkpoint) error {
	if ck.Variant != m.opts.Name || ck.Backbone != m.opts.Backbone.Name {
		return fmt.Errorf("%w: checkpoint is %s/%s, model is %s/%s",
			ErrCheckpointMismatch, ck.Variant, ck.Backbone, m.opts.Name, m.opts.Backbone.Name)
	}
	params := m.Params()
	if len(ck.Params) != len(params) {
		return fmt.Errorf("%w: %d parameters, model has %d", ErrCheckpointMismatch, len(ck.Params), len(params))
	}
	for _, p := range params {
		if err := checkShape(ck.Param(p.Name), p); err != nil {
			return err
		}
	}
	initPts := ck.Constant(ConstInitPts)
	if err := checkShape(initPts, tensor.Param{Name: ConstInitPts, Value: m.initPts}); err != nil {
		return err
	}
	camM := ck.Constant(ConstCamera)
	if camM == nil || camM.Rows != 1 || camM.Cols != 7 {
		return fmt.Errorf("%w: missing or malformed %s", ErrCheckpointMismatch, ConstCamera)
	}
	cam, err := camera.New(
		[2]float64{camM.Data[0], camM.Data[1]},
		[2]float64{camM.Data[2], camM.Data[3]},
		[3]float64{camM.Data[4], camM.Data[5], camM.Data[6]},
	)
	if err != nil {
		return err
	}
	proj, err := projection.New(cam, projection.Options{
		ZThreshold:           m.opts.ZThreshold,
		TensorflowCompatible: m.opts.AlignWithTensorflow,
	})
	if err != nil {
		return err
	}

	for _, p := range params {
		copy(p.Value.RawMatrix().Data, ck.Param(p.Name).Data)
	}
	copy(m.initPts.RawMatrix().Data, initPts.Data)
	m.cam, m.proj = cam, proj
	return nil
}

func checkShape(nm *formats.NamedMatrix, p tensor.Param) error {
	if nm == nil {
		return fmt.Errorf("%w: missing %s", ErrCheckpointMismatch, p.Name)
	}
	r, c := p.Value.Dims()
	if int(nm.Rows) != r || int(nm.Cols) != c {
		return fmt.Errorf("%w: %s is %dx%d, want %dx%d", ErrCheckpointMismatch, p.Name, nm.Rows, nm.Cols, r, c)
	}
	return nil
}

// SaveCheckpoint writes the model state to path.
func (m *P2M) SaveCheckpoint(path string) error {
	return formats.WriteCheckpointFile(path, m.Checkpoint())
}

// LoadCheckpoint restores the model state from path.
func (m *P2M) LoadCheckpoint(path string) error {
	ck, err := formats.ParseCheckpointFile(path)
	if err != nil {
		return err
	}
	if err := m.Restore(ck); err != nil {
		return fmt.Errorf("restoring %s: %w", path, err)
	}
	return nil
}
