package backbone

import (
	"fmt"
	"math/rand/v2"

	"github.com/meshrecon/pixel2mesh/pkg/tensor"
)

// CNN is a strided 3×3 convolution encoder. Two stem convolutions reach
// stride 4; each further stage halves the resolution again, so a 224 input
// yields 56, 28, 14 and 7 pixel maps.
type CNN struct {
	inC    int
	widths []int
	stem   [2]*Conv2D
	stages []*Conv2D
}

// NewCNN builds the encoder for images with inC channels (3 for RGB, 4 for
// RGB plus depth).
func NewCNN(opts Options, inC int) (*CNN, error) {
	widths := opts.Widths
	if len(widths) == 0 {
		widths = DefaultWidths
	}
	for _, w := range widths {
		if w <= 0 {
			return nil, fmt.Errorf("%w: widths %v", ErrInvalidOptions, widths)
		}
	}
	src := rand.NewPCG(opts.Seed, opts.Seed^0x5eed)

	c := &CNN{inC: inC, widths: append([]int(nil), widths...)}
	var err error
	if c.stem[0], err = NewConv2D("encoder.stem.0", inC, widths[0], 3, 2, 1, src); err != nil {
		return nil, err
	}
	if c.stem[1], err = NewConv2D("encoder.stem.1", widths[0], widths[0], 3, 2, 1, src); err != nil {
		return nil, err
	}
	for i := 1; i < len(widths); i++ {
		conv, err := NewConv2D(fmt.Sprintf("encoder.stage.%d", i), widths[i-1], widths[i], 3, 2, 1, src)
		if err != nil {
			return nil, err
		}
		c.stages = append(c.stages, conv)
	}
	return c, nil
}

// Encode returns one ReLU-activated map per stage.
func (c *CNN) Encode(img *tensor.Volume) ([]*tensor.Volume, error) {
	if err := checkInput(img, c.inC); err != nil {
		return nil, err
	}
	x := img
	for _, conv := range c.stem {
		y, err := conv.Forward(x)
		if err != nil {
			return nil, err
		}
		x = relu(y)
	}
	feats := []*tensor.Volume{x}
	for _, conv := range c.stages {
		y, err := conv.Forward(x)
		if err != nil {
			return nil, err
		}
		x = relu(y)
		feats = append(feats, x)
	}
	return feats, nil
}

// FeaturesDim returns the sum of the stage widths.
func (c *CNN) FeaturesDim() int {
	d := 0
	for _, w := range c.widths {
		d += w
	}
	return d
}

// InputChannels returns the expected image channel count.
func (c *CNN) InputChannels() int { return c.inC }

// Params lists every convolution's matrices in layer order.
func (c *CNN) Params() []tensor.Param {
	var ps []tensor.Param
	for _, conv := range c.stem {
		ps = append(ps, conv.Params()...)
	}
	for _, conv := range c.stages {
		ps = append(ps, conv.Params()...)
	}
	return ps
}

// ReconstructingCNN adds a decoder that merges the maps coarse to fine and
// predicts an RGB image in [0, 1] at four times the finest map's resolution.
type ReconstructingCNN struct {
	*CNN
	merge []*Conv2D // merge[k] fuses the upsampled coarser result with map k
	out   *Conv2D
}

// NewReconstructingCNN builds the encoder and its decoder.
func NewReconstructingCNN(opts Options) (*ReconstructingCNN, error) {
	enc, err := NewCNN(opts, 3)
	if err != nil {
		return nil, err
	}
	src := rand.NewPCG(opts.Seed, opts.Seed^0xdec0de)
	r := &ReconstructingCNN{CNN: enc, merge: make([]*Conv2D, len(enc.widths)-1)}
	for k := range r.merge {
		in := enc.widths[k+1] + enc.widths[k]
		if r.merge[k], err = NewConv2D(fmt.Sprintf("decoder.merge.%d", k), in, enc.widths[k], 1, 1, 0, src); err != nil {
			return nil, err
		}
	}
	if r.out, err = NewConv2D("decoder.out", enc.widths[0], 3, 1, 1, 0, src); err != nil {
		return nil, err
	}
	return r, nil
}

// Decode reconstructs the image from the maps returned by Encode.
func (r *ReconstructingCNN) Decode(feats []*tensor.Volume) (*tensor.Volume, error) {
	if len(feats) != len(r.widths) {
		return nil, fmt.Errorf("%w: %d feature maps, want %d", tensor.ErrShapeMismatch, len(feats), len(r.widths))
	}
	x := feats[len(feats)-1]
	for k := len(feats) - 2; k >= 0; k-- {
		up := upsample(x, feats[k].H, feats[k].W)
		cat, err := tensor.Concat(up, feats[k])
		if err != nil {
			return nil, err
		}
		y, err := r.merge[k].Forward(cat)
		if err != nil {
			return nil, err
		}
		x = relu(y)
	}
	y, err := r.out.Forward(x)
	if err != nil {
		return nil, err
	}
	return upsample(sigmoid(y), 4*y.H, 4*y.W), nil
}

// Params lists encoder then decoder matrices.
func (r *ReconstructingCNN) Params() []tensor.Param {
	ps := r.CNN.Params()
	for _, conv := range r.merge {
		ps = append(ps, conv.Params()...)
	}
	return append(ps, r.out.Params()...)
}
