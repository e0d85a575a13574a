// Package dataset defines the batch contract between data loading and the
// model: examples, collation with point-cloud resampling and the loaders for
// images, ground-truth clouds and template meshes.
package dataset

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/meshrecon/pixel2mesh/pkg/tensor"
)

// Dataset errors.
var (
	ErrEmptyBatch    = errors.New("empty batch")
	ErrShapeMismatch = errors.New("batch shape mismatch")
	ErrInvalidImage  = errors.New("invalid image")
)

// DefaultSeed seeds the resampling source when Collate is given none.
const DefaultSeed = 0x5eed

// Example is one training or evaluation sample. Points and Normals are M×3
// in offset space.
type Example struct {
	Image    *tensor.Volume
	Points   *mat.Dense
	Normals  *mat.Dense
	Label    int
	Filename string
	// InitPts holds the per-example template coordinates, nil for the
	// ellipsoid variant.
	InitPts *mat.Dense
}

// Length returns the ground-truth point count.
func (e *Example) Length() int {
	r, _ := e.Points.Dims()
	return r
}

// Batch is a collated list of examples. Points and Normals share a common
// row count when resampling was needed; PointsOrig and NormalsOrig always
// hold the original clouds and alias Points and Normals otherwise.
type Batch struct {
	Images      []*tensor.Volume
	Points      []*mat.Dense
	Normals     []*mat.Dense
	PointsOrig  []*mat.Dense
	NormalsOrig []*mat.Dense
	Lengths     []int
	Labels      []int
	Filenames   []string
	InitPts     []*mat.Dense
}

// Size returns the number of examples.
func (b *Batch) Size() int { return len(b.Images) }

// Resampled reports whether Points differ from the original clouds.
func (b *Batch) Resampled() bool {
	return len(b.Points) > 0 && b.Points[0] != b.PointsOrig[0]
}

// Collate stacks examples into a batch. With more than one example and
// differing cloud lengths, every cloud is resampled to numPoints rows by
// cycling a random permutation of its points. A nil rng uses a PCG source
// seeded with DefaultSeed.
func Collate(examples []Example, numPoints int, rng *rand.Rand) (*Batch, error) {
	if len(examples) == 0 {
		return nil, ErrEmptyBatch
	}
	if err := checkExamples(examples); err != nil {
		return nil, err
	}

	n := len(examples)
	b := &Batch{
		Images:      make([]*tensor.Volume, n),
		Points:      make([]*mat.Dense, n),
		Normals:     make([]*mat.Dense, n),
		PointsOrig:  make([]*mat.Dense, n),
		NormalsOrig: make([]*mat.Dense, n),
		Lengths:     make([]int, n),
		Labels:      make([]int, n),
		Filenames:   make([]string, n),
	}
	if examples[0].InitPts != nil {
		b.InitPts = make([]*mat.Dense, n)
	}

	resample := false
	for _, e := range examples[1:] {
		if e.Length() != examples[0].Length() {
			resample = true
			break
		}
	}
	if resample && numPoints <= 0 {
		return nil, fmt.Errorf("%w: resampling to %d points", ErrShapeMismatch, numPoints)
	}
	if resample && rng == nil {
		rng = rand.New(rand.NewPCG(DefaultSeed, DefaultSeed))
	}

	for i := range examples {
		e := &examples[i]
		b.Images[i] = e.Image
		b.PointsOrig[i], b.NormalsOrig[i] = e.Points, e.Normals
		b.Points[i], b.Normals[i] = e.Points, e.Normals
		if resample {
			choices := resizedPermutation(e.Length(), numPoints, rng)
			b.Points[i] = selectRows(e.Points, choices)
			b.Normals[i] = selectRows(e.Normals, choices)
		}
		b.Lengths[i] = e.Length()
		b.Labels[i] = e.Label
		b.Filenames[i] = e.Filename
		if b.InitPts != nil {
			b.InitPts[i] = e.InitPts
		}
	}
	return b, nil
}

func checkExamples(examples []Example) error {
	first := &examples[0]
	for i := range examples {
		e := &examples[i]
		if e.Image == nil || e.Points == nil || e.Normals == nil {
			return fmt.Errorf("%w: example %d is incomplete", ErrShapeMismatch, i)
		}
		if !e.Image.SameShape(first.Image) {
			return fmt.Errorf("%w: example %d image is %dx%dx%d, want %dx%dx%d", ErrShapeMismatch, i,
				e.Image.C, e.Image.H, e.Image.W, first.Image.C, first.Image.H, first.Image.W)
		}
		pr, pc := e.Points.Dims()
		nr, nc := e.Normals.Dims()
		if pr == 0 || pc != 3 || nr != pr || nc != 3 {
			return fmt.Errorf("%w: example %d has %dx%d points and %dx%d normals", ErrShapeMismatch, i, pr, pc, nr, nc)
		}
		if (e.InitPts == nil) != (first.InitPts == nil) {
			return fmt.Errorf("%w: example %d template presence differs", ErrShapeMismatch, i)
		}
	}
	return nil
}

// resizedPermutation repeats a random permutation of [0, length) until it
// has size entries.
func resizedPermutation(length, size int, rng *rand.Rand) []int {
	perm := rng.Perm(length)
	out := make([]int, size)
	for i := range out {
		out[i] = perm[i%length]
	}
	return out
}

func selectRows(m *mat.Dense, rows []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for i, r := range rows {
		out.SetRow(i, m.RawRowView(r))
	}
	return out
}
