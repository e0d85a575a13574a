// Package camera holds the per-dataset pinhole camera constants.
package camera

import (
	"errors"
	"fmt"
	"math"

	"github.com/flywave/go3d/float64/vec3"
)

// ErrInvalidCamera is returned for non-positive or non-finite focal lengths.
var ErrInvalidCamera = errors.New("invalid camera parameters")

// Params are the camera constants shared read-only by every forward pass.
type Params struct {
	Focal     [2]float64 // f_x, f_y in pixels
	Principal [2]float64 // c_x, c_y in pixels
	MeshPos   vec3.T     // offset subtracted from raw coordinates
}

// Default returns the ShapeNet rendering camera (224px images).
func Default() Params {
	return Params{
		Focal:     [2]float64{248, 248},
		Principal: [2]float64{111.5, 111.5},
		MeshPos:   vec3.T{0, 0, -0.8},
	}
}

// New builds camera parameters from plain slices as found in configuration.
func New(focal, principal [2]float64, meshPos [3]float64) (Params, error) {
	p := Params{Focal: focal, Principal: principal, MeshPos: vec3.T(meshPos)}
	return p, p.Validate()
}

// Validate checks the focal lengths are usable.
func (p Params) Validate() error {
	for i, f := range p.Focal {
		if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: focal[%d] = %v", ErrInvalidCamera, i, f)
		}
	}
	return nil
}

// WorldPosition maps an offset-space vertex back to camera space.
func (p Params) WorldPosition(v vec3.T) vec3.T {
	return vec3.Add(&v, &p.MeshPos)
}

// OffsetPosition maps a camera-space point into the offset space the
// network works in.
func (p Params) OffsetPosition(v vec3.T) vec3.T {
	return vec3.Sub(&v, &p.MeshPos)
}

// Pinhole projects a camera-space position with the given depth divisor to
// pixel offsets relative to the image center. halfRes is (resolution-1)/2 per
// axis. The x axis is mirrored to match the renderer convention.
func (p Params) Pinhole(pos vec3.T, depth float64, halfRes [2]float64) (w, h float64) {
	w = -p.Focal[0]*(pos[0]/depth) + (p.Principal[0] - halfRes[0])
	h = p.Focal[1]*(pos[1]/depth) + (p.Principal[1] - halfRes[1])
	return w, h
}
