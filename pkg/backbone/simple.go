package backbone

import (
	"fmt"

	"github.com/meshrecon/pixel2mesh/pkg/tensor"
)

type identity struct{}

func newIdentity(Options) (Backbone, error) { return identity{}, nil }

// Encode returns the image itself as the only feature map.
func (identity) Encode(img *tensor.Volume) ([]*tensor.Volume, error) {
	if err := checkInput(img, 3); err != nil {
		return nil, err
	}
	return []*tensor.Volume{img.Clone()}, nil
}

func (identity) FeaturesDim() int       { return 3 }
func (identity) InputChannels() int     { return 3 }
func (identity) Params() []tensor.Param { return nil }

// pyramidStrides match the strides of the CNN stages.
var pyramidStrides = []int{4, 8, 16, 32}

// pyramid is a parameter-free average-pooled image pyramid.
type pyramid struct{}

func newPyramid(Options) (Backbone, error) { return pyramid{}, nil }

func (pyramid) Encode(img *tensor.Volume) ([]*tensor.Volume, error) {
	if err := checkInput(img, 3); err != nil {
		return nil, err
	}
	if coarsest := pyramidStrides[len(pyramidStrides)-1]; img.H < coarsest || img.W < coarsest {
		return nil, fmt.Errorf("%w: %dx%d image is smaller than stride %d", tensor.ErrShapeMismatch, img.H, img.W, coarsest)
	}
	out := make([]*tensor.Volume, len(pyramidStrides))
	for i, s := range pyramidStrides {
		out[i] = avgPool(img, s)
	}
	return out, nil
}

func (pyramid) FeaturesDim() int       { return 3 * len(pyramidStrides) }
func (pyramid) InputChannels() int     { return 3 }
func (pyramid) Params() []tensor.Param { return nil }
