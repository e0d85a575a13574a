package model

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/meshrecon/pixel2mesh/pkg/camera"
	"github.com/meshrecon/pixel2mesh/pkg/dataset"
	"github.com/meshrecon/pixel2mesh/pkg/mesh"
)

// Spec gathers everything a variant factory needs.
type Spec struct {
	Model    Options
	Dataset  dataset.Options
	Topology *mesh.Topology
	Camera   camera.Params
	Logger   *zap.Logger
}

// Variant pairs a model with the data module that feeds it.
type Variant struct {
	Name  string
	Data  *dataset.Module
	Model *P2M
}

// Factory builds a variant.
type Factory func(spec Spec) (*Variant, error)

var (
	variantsMu sync.RWMutex
	variants   = map[string]Factory{
		NamePixel2Mesh:   buildVariant(false),
		NameWithTemplate: buildVariant(true),
	}
)

func buildVariant(withTemplate bool) Factory {
	return func(spec Spec) (*Variant, error) {
		m, err := New(spec.Model, spec.Topology, spec.Camera, WithLogger(spec.Logger))
		if err != nil {
			return nil, err
		}
		dopts := spec.Dataset
		dopts.WithTemplate = withTemplate
		dopts.WithDepth = m.InputChannels() == 4
		dopts.MeshPos = spec.Camera.MeshPos
		data, err := dataset.NewModule(dopts)
		if err != nil {
			return nil, err
		}
		return &Variant{Name: spec.Model.Name, Data: data, Model: m}, nil
	}
}

// RegisterVariant adds or replaces a variant factory.
func RegisterVariant(name string, f Factory) {
	variantsMu.Lock()
	defer variantsMu.Unlock()
	variants[name] = f
}

// Variants lists the registered variant names in sorted order.
func Variants() []string {
	variantsMu.RLock()
	defer variantsMu.RUnlock()
	names := make([]string, 0, len(variants))
	for n := range variants {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build constructs the variant named by spec.Model.Name.
func Build(spec Spec) (*Variant, error) {
	if spec.Logger == nil {
		spec.Logger = zap.NewNop()
	}
	variantsMu.RLock()
	f, ok := variants[spec.Model.Name]
	variantsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, spec.Model.Name)
	}
	v, err := f(spec)
	if err != nil {
		return nil, fmt.Errorf("building %s: %w", spec.Model.Name, err)
	}
	spec.Logger.Info("variant ready",
		zap.String("variant", v.Name),
		zap.String("backbone", spec.Model.Backbone.Name),
		zap.Bool("template", v.Data.Options().WithTemplate),
		zap.Bool("depth", v.Data.Options().WithDepth),
	)
	return v, nil
}
