// Package model assembles the three-stage mesh deformation network: an image
// backbone, perceptual feature projection, one graph-convolution bottleneck
// per resolution level and unpooling between levels.
package model

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/meshrecon/pixel2mesh/pkg/backbone"
	"github.com/meshrecon/pixel2mesh/pkg/camera"
	"github.com/meshrecon/pixel2mesh/pkg/dataset"
	"github.com/meshrecon/pixel2mesh/pkg/gcn"
	"github.com/meshrecon/pixel2mesh/pkg/mesh"
	"github.com/meshrecon/pixel2mesh/pkg/projection"
	"github.com/meshrecon/pixel2mesh/pkg/tensor"
)

// Model errors.
var (
	ErrInvalidOptions = errors.New("invalid model options")
	ErrUnknownVariant = errors.New("unknown model variant")
	ErrBatch          = errors.New("invalid batch")
)

// Variant names.
const (
	NamePixel2Mesh   = "pixel2mesh"
	NameWithTemplate = "pixel2mesh_with_template"
)

// Options configure the network.
type Options struct {
	Name                string
	Backbone            backbone.Options
	HiddenDim           int
	LastHiddenDim       int
	CoordDim            int
	GConvActivation     bool
	ZThreshold          float64
	AlignWithTensorflow bool
	Seed                uint64
}

// DefaultOptions returns the standard ellipsoid configuration.
func DefaultOptions() Options {
	return Options{
		Name:            NamePixel2Mesh,
		Backbone:        backbone.Options{Name: "cnn"},
		HiddenDim:       192,
		LastHiddenDim:   192,
		CoordDim:        3,
		GConvActivation: true,
	}
}

// Output holds per-stage predictions, one matrix per batch example.
type Output struct {
	// PredCoord are the deformed coordinates of each stage.
	PredCoord [mesh.NumLevels][]*mat.Dense
	// BeforeDeform are the inputs of each stage: the initial mesh, then the
	// unpooled outputs of the previous stages.
	BeforeDeform [mesh.NumLevels][]*mat.Dense
	// Reconst is nil unless the backbone has a decoder.
	Reconst []*tensor.Volume
}

// Option customises construction.
type Option func(*P2M)

// WithLogger sets the construction logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *P2M) { m.log = l }
}

// P2M is the deformation network. Forward only reads model state, so
// concurrent Forward calls are safe as long as no checkpoint is being
// restored.
type P2M struct {
	opts        Options
	topo        *mesh.Topology
	cam         camera.Params
	initPts     *mat.Dense
	useTemplate bool

	encoder backbone.Backbone
	decoder backbone.Decoder
	proj    *projection.Projector
	gcns    [mesh.NumLevels]*gcn.Bottleneck
	unpool  [mesh.NumLevels - 1]*gcn.Unpool
	gconv   *gcn.GConv

	log *zap.Logger
}

// New builds the network for topo. Topology and option mismatches are
// reported here rather than at Forward time.
func New(opts Options, topo *mesh.Topology, cam camera.Params, options ...Option) (*P2M, error) {
	m := &P2M{opts: opts, topo: topo, cam: cam, log: zap.NewNop()}
	for _, o := range options {
		o(m)
	}

	switch opts.Name {
	case NamePixel2Mesh:
	case NameWithTemplate:
		m.useTemplate = true
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, opts.Name)
	}
	if opts.CoordDim != 3 {
		return nil, fmt.Errorf("%w: coord_dim %d, projection needs 3", ErrInvalidOptions, opts.CoordDim)
	}
	if opts.HiddenDim <= 0 || opts.LastHiddenDim <= 0 {
		return nil, fmt.Errorf("%w: hidden_dim %d, last_hidden_dim %d", ErrInvalidOptions, opts.HiddenDim, opts.LastHiddenDim)
	}
	if topo == nil {
		return nil, fmt.Errorf("%w: nil topology", mesh.ErrInvalidTopology)
	}
	if err := topo.Validate(); err != nil {
		return nil, err
	}

	ellipsoid, err := mesh.NewEllipsoid(topo, cam.MeshPos)
	if err != nil {
		return nil, err
	}
	m.initPts = ellipsoid.Coord()

	if m.encoder, err = backbone.New(opts.Backbone); err != nil {
		return nil, err
	}
	if dec, ok := m.encoder.(backbone.Decoder); ok {
		m.decoder = dec
	}
	if m.proj, err = projection.New(cam, projection.Options{
		ZThreshold:           opts.ZThreshold,
		TensorflowCompatible: opts.AlignWithTensorflow,
	}); err != nil {
		return nil, err
	}

	src := rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)
	featuresDim := m.encoder.FeaturesDim() + opts.CoordDim
	stageIn := [mesh.NumLevels]int{featuresDim, featuresDim + opts.HiddenDim, featuresDim + opts.HiddenDim}
	stageOut := [mesh.NumLevels]int{opts.CoordDim, opts.CoordDim, opts.LastHiddenDim}
	for i := range m.gcns {
		m.gcns[i], err = gcn.NewBottleneck(fmt.Sprintf("gcns.%d", i), stageIn[i], opts.HiddenDim, stageOut[i],
			topo.Levels[i].Adj, opts.GConvActivation, src)
		if err != nil {
			return nil, err
		}
	}
	for i := range m.unpool {
		if m.unpool[i], err = gcn.NewUnpool(topo.Unpool[i], topo.Levels[i].NumVertices); err != nil {
			return nil, err
		}
	}
	last := mesh.NumLevels - 1
	if m.gconv, err = gcn.NewGConv("gconv", opts.LastHiddenDim, opts.CoordDim, topo.Levels[last].Adj, src); err != nil {
		return nil, err
	}

	counts := topo.VertexCounts()
	m.log.Debug("model constructed",
		zap.String("variant", opts.Name),
		zap.String("backbone", opts.Backbone.Name),
		zap.Ints("vertices", counts[:]),
		zap.Int("features_dim", featuresDim),
		zap.Int("params", len(m.Params())),
	)
	return m, nil
}

// Options returns the construction options.
func (m *P2M) Options() Options { return m.opts }

// Topology returns the shared topology.
func (m *P2M) Topology() *mesh.Topology { return m.topo }

// Camera returns the camera constants.
func (m *P2M) Camera() camera.Params { return m.cam }

// InitPts returns a copy of the initial ellipsoid coordinates in offset
// space.
func (m *P2M) InitPts() *mat.Dense { return mat.DenseCopyOf(m.initPts) }

// UsesTemplate reports whether initial coordinates come from the batch.
func (m *P2M) UsesTemplate() bool { return m.useTemplate }

// InputChannels returns the image channel count the backbone expects.
func (m *P2M) InputChannels() int { return m.encoder.InputChannels() }

// HasDecoder reports whether Forward produces reconstructions.
func (m *P2M) HasDecoder() bool { return m.decoder != nil }

// Forward runs every example of batch through the network.
func (m *P2M) Forward(batch *dataset.Batch) (*Output, error) {
	n := batch.Size()
	if n == 0 {
		return nil, fmt.Errorf("%w: no examples", ErrBatch)
	}
	if m.useTemplate && len(batch.InitPts) != n {
		return nil, fmt.Errorf("%w: %d templates for %d examples", ErrBatch, len(batch.InitPts), n)
	}

	out := &Output{}
	for i := range out.PredCoord {
		out.PredCoord[i] = make([]*mat.Dense, n)
		out.BeforeDeform[i] = make([]*mat.Dense, n)
	}
	if m.decoder != nil {
		out.Reconst = make([]*tensor.Volume, n)
	}

	for b := 0; b < n; b++ {
		start := m.initPts
		if m.useTemplate {
			start = batch.InitPts[b]
		}
		res, err := m.ForwardExample(batch.Images[b], start)
		if err != nil {
			return nil, fmt.Errorf("example %d: %w", b, err)
		}
		for i := range out.PredCoord {
			out.PredCoord[i][b] = res.Coords[i]
			out.BeforeDeform[i][b] = res.Before[i]
		}
		if out.Reconst != nil {
			out.Reconst[b] = res.Reconst
		}
	}
	return out, nil
}

// ExampleResult is the output of ForwardExample.
type ExampleResult struct {
	Coords  [mesh.NumLevels]*mat.Dense
	Before  [mesh.NumLevels]*mat.Dense
	Reconst *tensor.Volume
}

// ForwardExample deforms start (N0×3, offset space) under the guidance of img.
func (m *P2M) ForwardExample(img *tensor.Volume, start *mat.Dense) (*ExampleResult, error) {
	if start == nil {
		return nil, fmt.Errorf("%w: missing initial mesh", ErrBatch)
	}
	if r, c := start.Dims(); r != m.topo.Levels[0].NumVertices || c != m.opts.CoordDim {
		return nil, fmt.Errorf("%w: initial mesh is %dx%d, want %dx%d",
			mesh.ErrSizeMismatch, r, c, m.topo.Levels[0].NumVertices, m.opts.CoordDim)
	}
	feats, err := m.encoder.Encode(img)
	if err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}
	shape := projection.ImageShape(img)
	res := &ExampleResult{}
	res.Before[0] = mat.DenseCopyOf(start)

	x, err := m.proj.Project(shape, feats, start)
	if err != nil {
		return nil, err
	}
	var hidden *mat.Dense
	for stage := 0; stage < mesh.NumLevels; stage++ {
		if stage > 0 {
			prev := res.Coords[stage-1]
			if res.Before[stage], err = m.unpool[stage-1].Forward(prev); err != nil {
				return nil, err
			}
			proj, err := m.proj.Project(shape, feats, prev)
			if err != nil {
				return nil, err
			}
			var cat mat.Dense
			cat.Augment(proj, hidden)
			if x, err = m.unpool[stage-1].Forward(&cat); err != nil {
				return nil, err
			}
		}
		coords, h, err := m.gcns[stage].Forward(x)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", stage, err)
		}
		if stage == mesh.NumLevels-1 {
			if m.opts.GConvActivation {
				gcn.ReLU(coords)
			}
			if coords, err = m.gconv.Forward(coords); err != nil {
				return nil, err
			}
		}
		res.Coords[stage] = coords
		hidden = h
	}

	if m.decoder != nil {
		if res.Reconst, err = m.decoder.Decode(feats); err != nil {
			return nil, fmt.Errorf("decoding features: %w", err)
		}
	}
	return res, nil
}

// Params lists every learned matrix: backbone, stages, then the final
// convolution.
func (m *P2M) Params() []tensor.Param {
	ps := append([]tensor.Param(nil), m.encoder.Params()...)
	for _, g := range m.gcns {
		ps = append(ps, g.Params()...)
	}
	return append(ps, m.gconv.Params()...)
}
