package dataset

import (
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"

	"github.com/flywave/go3d/float64/vec3"
)

// Suffixes appended to a sample's stem to name its companion files.
const (
	TemplateSuffix = "_depth0001.obj"
	DepthSuffix    = "_depth0001.png"
)

// Options describe how samples are loaded and batched.
type Options struct {
	MeshPos       vec3.T
	NumPoints     int
	ImageSize     int
	Normalization bool
	WithTemplate  bool
	// WithDepth appends a depth rendering as a fourth image channel.
	WithDepth bool
}

// Sample names the files of one example.
type Sample struct {
	Image    string
	Cloud    string
	Template string // derived from Cloud when empty
	Depth    string // derived from Image when empty
	Label    int
	Filename string
}

// TemplatePath returns the template OBJ stored next to a ground-truth file.
func TemplatePath(cloudPath string) string {
	ext := filepath.Ext(cloudPath)
	return strings.TrimSuffix(cloudPath, ext) + TemplateSuffix
}

// DepthPath returns the depth rendering stored next to a colour image.
func DepthPath(imagePath string) string {
	ext := filepath.Ext(imagePath)
	return strings.TrimSuffix(imagePath, ext) + DepthSuffix
}

// Module loads and collates examples for one model variant.
type Module struct {
	opts Options
}

// NewModule validates opts.
func NewModule(opts Options) (*Module, error) {
	if opts.ImageSize <= 0 {
		return nil, fmt.Errorf("%w: image size %d", ErrInvalidImage, opts.ImageSize)
	}
	if opts.NumPoints <= 0 {
		return nil, fmt.Errorf("%w: %d points per cloud", ErrShapeMismatch, opts.NumPoints)
	}
	return &Module{opts: opts}, nil
}

// Options returns the module configuration.
func (m *Module) Options() Options { return m.opts }

// Load reads one example from disk.
func (m *Module) Load(s Sample) (*Example, error) {
	img, err := LoadImage(s.Image, m.opts.ImageSize, m.opts.Normalization)
	if err != nil {
		return nil, err
	}
	if m.opts.WithDepth {
		depthPath := s.Depth
		if depthPath == "" {
			depthPath = DepthPath(s.Image)
		}
		depth, err := LoadDepth(depthPath, m.opts.ImageSize)
		if err != nil {
			return nil, fmt.Errorf("loading depth %s: %w", depthPath, err)
		}
		if img, err = AppendDepth(img, depth); err != nil {
			return nil, err
		}
	}
	pts, normals, err := LoadPointCloud(s.Cloud, m.opts.MeshPos)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", s.Cloud, err)
	}
	e := &Example{Image: img, Points: pts, Normals: normals, Label: s.Label, Filename: s.Filename}
	if m.opts.WithTemplate {
		tpl := s.Template
		if tpl == "" {
			tpl = TemplatePath(s.Cloud)
		}
		if e.InitPts, err = LoadTemplate(tpl); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Collate batches examples with the configured point count.
func (m *Module) Collate(examples []Example, rng *rand.Rand) (*Batch, error) {
	if m.opts.WithTemplate {
		for i := range examples {
			if examples[i].InitPts == nil {
				return nil, fmt.Errorf("%w: example %d has no template", ErrShapeMismatch, i)
			}
		}
	}
	return Collate(examples, m.opts.NumPoints, rng)
}
