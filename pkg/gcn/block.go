package gcn

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/meshrecon/pixel2mesh/pkg/mesh"
	"github.com/meshrecon/pixel2mesh/pkg/tensor"
)

// BlockCount is the number of residual blocks in a stage bottleneck.
const BlockCount = 6

// ResBlock is two hidden-width convolutions with a halved residual sum.
type ResBlock struct {
	conv1, conv2 *GConv
	activation   bool
}

// NewResBlock creates a residual block of width dim.
func NewResBlock(name string, dim int, adj *mesh.Adjacency, activation bool, src rand.Source) (*ResBlock, error) {
	conv1, err := NewGConv(name+".conv1", dim, dim, adj, src)
	if err != nil {
		return nil, err
	}
	conv2, err := NewGConv(name+".conv2", dim, dim, adj, src)
	if err != nil {
		return nil, err
	}
	return &ResBlock{conv1: conv1, conv2: conv2, activation: activation}, nil
}

// Forward returns (x + act(conv2(act(conv1(x))))) / 2.
func (b *ResBlock) Forward(x *mat.Dense) (*mat.Dense, error) {
	h, err := b.conv1.Forward(x)
	if err != nil {
		return nil, err
	}
	if b.activation {
		ReLU(h)
	}
	h, err = b.conv2.Forward(h)
	if err != nil {
		return nil, err
	}
	if b.activation {
		ReLU(h)
	}
	h.Add(h, x)
	h.Scale(0.5, h)
	return h, nil
}

// Params lists the learned matrices of both convolutions.
func (b *ResBlock) Params() []tensor.Param {
	return append(b.conv1.Params(), b.conv2.Params()...)
}

// Bottleneck is one deformation stage: an input convolution, BlockCount
// residual blocks at hidden width and an output convolution.
type Bottleneck struct {
	conv1      *GConv
	blocks     []*ResBlock
	conv2      *GConv
	activation bool
}

// NewBottleneck creates a stage mapping in features to out features through
// a hidden width.
func NewBottleneck(name string, in, hidden, out int, adj *mesh.Adjacency, activation bool, src rand.Source) (*Bottleneck, error) {
	conv1, err := NewGConv(name+".conv1", in, hidden, adj, src)
	if err != nil {
		return nil, err
	}
	blocks := make([]*ResBlock, BlockCount)
	for i := range blocks {
		blocks[i], err = NewResBlock(fmt.Sprintf("%s.blocks.%d", name, i), hidden, adj, activation, src)
		if err != nil {
			return nil, err
		}
	}
	conv2, err := NewGConv(name+".conv2", hidden, out, adj, src)
	if err != nil {
		return nil, err
	}
	return &Bottleneck{conv1: conv1, blocks: blocks, conv2: conv2, activation: activation}, nil
}

// Forward returns the stage output and the hidden features fed forward to the
// next stage.
func (b *Bottleneck) Forward(x *mat.Dense) (out, hidden *mat.Dense, err error) {
	hidden, err = b.conv1.Forward(x)
	if err != nil {
		return nil, nil, err
	}
	if b.activation {
		ReLU(hidden)
	}
	for _, blk := range b.blocks {
		if hidden, err = blk.Forward(hidden); err != nil {
			return nil, nil, err
		}
	}
	out, err = b.conv2.Forward(hidden)
	if err != nil {
		return nil, nil, err
	}
	return out, hidden, nil
}

// InDim returns the stage input width.
func (b *Bottleneck) InDim() int { return b.conv1.InDim() }

// OutDim returns the stage output width.
func (b *Bottleneck) OutDim() int { return b.conv2.OutDim() }

// HiddenDim returns the width of the hidden features.
func (b *Bottleneck) HiddenDim() int { return b.conv1.OutDim() }

// Params lists every learned matrix in layer order.
func (b *Bottleneck) Params() []tensor.Param {
	ps := b.conv1.Params()
	for _, blk := range b.blocks {
		ps = append(ps, blk.Params()...)
	}
	return append(ps, b.conv2.Params()...)
}
