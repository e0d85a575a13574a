// Package backbone provides the image encoders that produce the multi-scale
// feature maps sampled by the projection stage.
//
// Every variant implements Backbone. Variants that can reconstruct their
// input also implement Decoder; callers discover it with a type assertion.
package backbone

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/meshrecon/pixel2mesh/pkg/tensor"
)

// Backbone errors.
var (
	ErrUnknownBackbone = errors.New("unknown backbone")
	ErrInvalidOptions  = errors.New("invalid backbone options")
)

// Backbone encodes a C×H×W image into one or more channel-first feature maps
// ordered from finest to coarsest.
type Backbone interface {
	Encode(img *tensor.Volume) ([]*tensor.Volume, error)
	// FeaturesDim is the total channel count over all returned maps.
	FeaturesDim() int
	InputChannels() int
	Params() []tensor.Param
}

// Decoder reconstructs an image from the maps returned by Encode.
type Decoder interface {
	Decode(feats []*tensor.Volume) (*tensor.Volume, error)
}

// Options configure backbone construction.
type Options struct {
	Name string
	// Widths are the channel counts of the four CNN stages.
	Widths []int
	Seed   uint64
}

// DefaultWidths match the stage widths of the VGG-style encoder.
var DefaultWidths = []int{64, 128, 256, 512}

// Factory builds a backbone from options.
type Factory func(opts Options) (Backbone, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		"identity":   newIdentity,
		"pyramid":    newPyramid,
		"cnn":        newRGBCNN,
		"cnn_depth":  newDepthCNN,
		"cnn_recons": newReconstructingCNN,
	}
)

// Register adds or replaces a named backbone factory.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Names lists the registered backbones in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New constructs the backbone named by opts.Name.
func New(opts Options) (Backbone, error) {
	registryMu.RLock()
	f, ok := registry[opts.Name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackbone, opts.Name)
	}
	return f(opts)
}

func newRGBCNN(opts Options) (Backbone, error) {
	c, err := NewCNN(opts, 3)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newDepthCNN(opts Options) (Backbone, error) {
	c, err := NewCNN(opts, 4)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newReconstructingCNN(opts Options) (Backbone, error) {
	r, err := NewReconstructingCNN(opts)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func checkInput(img *tensor.Volume, channels int) error {
	if img == nil || len(img.Data) == 0 {
		return tensor.ErrEmptyVolume
	}
	if img.C != channels {
		return fmt.Errorf("%w: image has %d channels, want %d", tensor.ErrShapeMismatch, img.C, channels)
	}
	return nil
}
