package data

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/sugarme/iseg3d/config"
)

// labelColors paints classes 1..n; class 0 is transparent.
var labelColors = []color.NRGBA{
	{255, 0, 0, 255},
	{0, 255, 0, 255},
	{0, 0, 255, 255},
	{255, 255, 0, 255},
	{255, 0, 255, 255},
	{0, 255, 255, 255},
}

// Preview renders depth slice d of the first channel next to its label map.
func Preview(s *Sample, shape config.Shape, d int64) (*image.NRGBA, error) {
	if d < 0 || d >= shape.D {
		return nil, fmt.Errorf("%w: slice %v out of depth %v", ErrShapeMismatch, d, shape.D)
	}

	h, w := int(shape.H), int(shape.W)
	plane := h * w
	offset := int(d) * plane
	slice := s.Image[offset : offset+plane]

	lo, hi := float32(math.MaxFloat32), float32(-math.MaxFloat32)
	for _, v := range slice {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	scale := float32(0)
	if hi > lo {
		scale = 255 / (hi - lo)
	}

	img := imaging.New(2*w, h, color.NRGBA{0, 0, 0, 255})
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((slice[y*w+x] - lo) * scale)
			img.SetNRGBA(x, y, color.NRGBA{v, v, v, 255})

			label := s.Label[offset+y*w+x]
			if label > 0 {
				img.SetNRGBA(w+x, y, labelColors[int(label-1)%len(labelColors)])
			}
		}
	}

	return img, nil
}

// SavePreview writes Preview output to an image file; the format follows the extension.
func SavePreview(s *Sample, shape config.Shape, d int64, filename string) error {
	img, err := Preview(s, shape, d)
	if err != nil {
		return err
	}
	return imaging.Save(img, filename)
}
