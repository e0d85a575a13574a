package tensor

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Param is a named learned matrix. Value is the live storage of its layer, so
// copying into it updates the layer.
type Param struct {
	Name  string
	Value *mat.Dense
}

// XavierUniform returns a rows×cols matrix drawn from
// U(-sqrt(6/(fanIn+fanOut)), +sqrt(6/(fanIn+fanOut))).
func XavierUniform(rows, cols, fanIn, fanOut int, src rand.Source) *mat.Dense {
	bound := math.Sqrt(6 / float64(fanIn+fanOut))
	dist := distuv.Uniform{Min: -bound, Max: bound, Src: src}
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = dist.Rand()
	}
	return mat.NewDense(rows, cols, data)
}
