package projection

import (
	"math"

	"github.com/meshrecon/pixel2mesh/pkg/tensor"
)

// sampleGrid samples f at normalised (u, v) in [-1, 1] with pixel centers at
// ((k+0.5)/size)*2-1 and border padding. dst receives one value per channel.
func sampleGrid(f *tensor.Volume, u, v float64, dst []float64) {
	x := ((u+1)*float64(f.W) - 1) / 2
	y := ((v+1)*float64(f.H) - 1) / 2
	x = clamp(x, 0, float64(f.W-1))
	y = clamp(y, 0, float64(f.H-1))

	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := min(x0+1, f.W-1), min(y0+1, f.H-1)
	wx, wy := x-float64(x0), y-float64(y0)

	for c := range dst {
		ch := f.Channel(c)
		q00 := ch[y0*f.W+x0]
		q01 := ch[y0*f.W+x1]
		q10 := ch[y1*f.W+x0]
		q11 := ch[y1*f.W+x1]
		dst[c] = q00*(1-wx)*(1-wy) + q01*wx*(1-wy) + q10*(1-wx)*wy + q11*wx*wy
	}
}

// sampleLegacy samples f at pixel (x, y) using floor/ceil corners. When a
// coordinate is integral both corners coincide and contribute zero weight.
func sampleLegacy(f *tensor.Volume, x, y float64, dst []float64) {
	x = clamp(x, 0, float64(f.W-1))
	y = clamp(y, 0, float64(f.H-1))

	x1, x2 := math.Floor(x), math.Ceil(x)
	y1, y2 := math.Floor(y), math.Ceil(y)
	w11 := (x2 - x) * (y2 - y)
	w12 := (x2 - x) * (y - y1)
	w21 := (x - x1) * (y2 - y)
	w22 := (x - x1) * (y - y1)

	ix1, ix2 := int(x1), int(x2)
	iy1, iy2 := int(y1), int(y2)
	for c := range dst {
		ch := f.Channel(c)
		dst[c] = w11*ch[iy1*f.W+ix1] +
			w12*ch[iy2*f.W+ix1] +
			w21*ch[iy1*f.W+ix2] +
			w22*ch[iy2*f.W+ix2]
	}
}
