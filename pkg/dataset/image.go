package dataset

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"

	"github.com/meshrecon/pixel2mesh/pkg/tensor"
)

// ImageNet channel statistics used by Normalize.
var (
	ImageMean = [3]float64{0.485, 0.456, 0.406}
	ImageStd  = [3]float64{0.229, 0.224, 0.225}
)

// FromImage replaces fully transparent pixels with white, drops the alpha
// channel of every other pixel, resizes the result to size×size with
// bilinear filtering and returns a 3×size×size volume in [0, 1].
func FromImage(img image.Image, size int) (*tensor.Volume, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: target size %d", ErrInvalidImage, size)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.A == 0 {
				c = color.NRGBA{R: 255, G: 255, B: 255}
			}
			c.A = 255
			canvas.SetRGBA(x-b.Min.X, y-b.Min.Y, color.RGBA(c))
		}
	}

	scaled := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), canvas, canvas.Bounds(), draw.Src, nil)

	out := tensor.NewVolume(3, size, size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := scaled.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				out.Set(c, y, x, float64(scaled.Pix[off+c])/255)
			}
		}
	}
	return out, nil
}

// DepthFromImage converts img to 16-bit gray, resizes it to size×size with
// bilinear filtering and returns a 1×size×size volume in [0, 1].
func DepthFromImage(img image.Image, size int) (*tensor.Volume, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: target size %d", ErrInvalidImage, size)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: empty depth image", ErrInvalidImage)
	}

	scaled := image.NewGray16(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), img, b, draw.Src, nil)

	out := tensor.NewVolume(1, size, size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			out.Set(0, y, x, float64(scaled.Gray16At(x, y).Y)/0xffff)
		}
	}
	return out, nil
}

// Normalize applies the ImageNet mean and standard deviation per channel in
// place.
func Normalize(v *tensor.Volume) error {
	if v.C != 3 {
		return fmt.Errorf("%w: %d channels", ErrInvalidImage, v.C)
	}
	for c := 0; c < 3; c++ {
		ch := v.Channel(c)
		for i, x := range ch {
			ch[i] = (x - ImageMean[c]) / ImageStd[c]
		}
	}
	return nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrInvalidImage, path, err)
	}
	return img, nil
}

// LoadImage decodes a PNG or JPEG file and prepares it as FromImage does,
// optionally normalising it.
func LoadImage(path string, size int, normalize bool) (*tensor.Volume, error) {
	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	v, err := FromImage(img, size)
	if err != nil {
		return nil, err
	}
	if normalize {
		if err := Normalize(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// LoadDepth decodes a depth rendering and prepares it as DepthFromImage does.
func LoadDepth(path string, size int) (*tensor.Volume, error) {
	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	return DepthFromImage(img, size)
}

// AppendDepth stacks a 1-channel depth map after the colour channels of rgb.
func AppendDepth(rgb, depth *tensor.Volume) (*tensor.Volume, error) {
	if depth.C != 1 {
		return nil, fmt.Errorf("%w: depth map has %d channels", ErrInvalidImage, depth.C)
	}
	return tensor.Concat(rgb, depth)
}
