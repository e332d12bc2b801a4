package data

import (
	"fmt"
	"image"
	"os"

	"github.com/chai2010/tiff"
	"github.com/nfnt/resize"
	"golang.org/x/image/draw"

	"github.com/sugarme/iseg3d/config"
)

// readPages decodes every page of a multi-page TIFF. Each page is one depth slice.
func readPages(filename string) ([]image.Image, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, errs, err := tiff.DecodeAll(f)
	if err != nil {
		return nil, fmt.Errorf("decode %v: %w", filename, err)
	}

	pages := make([]image.Image, 0, len(m))
	for i := range m {
		if len(m[i]) == 0 {
			continue
		}
		if i < len(errs) && len(errs[i]) > 0 && errs[i][0] != nil {
			return nil, fmt.Errorf("decode %v page %v: %w", filename, i, errs[i][0])
		}
		pages = append(pages, m[i][0])
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: %v has no pages", ErrShapeMismatch, filename)
	}

	return pages, nil
}

// depthIndex maps output slice d to a page index: centre crop when there are
// more pages than depth, -1 (zero slice) past the end when there are fewer.
func depthIndex(d, pages, depth int) int {
	if pages > depth {
		return d + (pages-depth)/2
	}
	if d >= pages {
		return -1
	}
	return d
}

// ReadIntensity reads a volume of intensities into [D H W] float32 values.
// Slices are resized in-plane with bilinear interpolation at 16-bit precision.
func ReadIntensity(filename string, shape config.Shape) ([]float32, error) {
	pages, err := readPages(filename)
	if err != nil {
		return nil, err
	}

	h, w := int(shape.H), int(shape.W)
	plane := h * w
	out := make([]float32, int(shape.D)*plane)
	for d := 0; d < int(shape.D); d++ {
		idx := depthIndex(d, len(pages), int(shape.D))
		if idx < 0 {
			continue
		}

		src := pages[idx]
		if b := src.Bounds(); b.Dx() != w || b.Dy() != h {
			src = resize.Resize(uint(w), uint(h), src, resize.Bilinear)
		}
		gray := image.NewGray16(image.Rect(0, 0, w, h))
		draw.Copy(gray, image.Point{}, src, src.Bounds(), draw.Src, nil)

		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out[d*plane+y*w+x] = float32(gray.Gray16At(x, y).Y)
			}
		}
	}

	return out, nil
}

// ReadLabel reads a label volume into [D H W] class indices.
// Slices are resized with nearest neighbour so that labels stay integral.
// 8-bit, 16-bit and paletted pages are supported; a paletted page holds the
// class in its color index.
func ReadLabel(filename string, shape config.Shape, numClass int64) ([]int64, error) {
	pages, err := readPages(filename)
	if err != nil {
		return nil, err
	}

	h, w := int(shape.H), int(shape.W)
	plane := h * w
	out := make([]int64, int(shape.D)*plane)
	for d := 0; d < int(shape.D); d++ {
		idx := depthIndex(d, len(pages), int(shape.D))
		if idx < 0 {
			continue
		}

		labelAt, err := labelPlane(pages[idx], w, h)
		if err != nil {
			return nil, fmt.Errorf("%v page %v: %w", filename, idx, err)
		}

		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				label := labelAt(x, y)
				if label >= numClass {
					return nil, fmt.Errorf("%w: %v has label %v, expected < %v", ErrShapeMismatch, filename, label, numClass)
				}
				out[d*plane+y*w+x] = label
			}
		}
	}

	return out, nil
}

// labelPlane resamples src to w x h and returns its raw sample values.
// Source and destination share the pixel type so no luminance conversion
// alters the values.
func labelPlane(src image.Image, w, h int) (func(x, y int) int64, error) {
	r := image.Rect(0, 0, w, h)
	switch m := src.(type) {
	case *image.Paletted:
		// color indices laid out as 8-bit gray
		return labelPlane(&image.Gray{Pix: m.Pix, Stride: m.Stride, Rect: m.Rect}, w, h)
	case *image.Gray:
		dst := image.NewGray(r)
		draw.NearestNeighbor.Scale(dst, r, m, m.Bounds(), draw.Src, nil)
		return func(x, y int) int64 { return int64(dst.GrayAt(x, y).Y) }, nil
	case *image.Gray16:
		dst := image.NewGray16(r)
		draw.NearestNeighbor.Scale(dst, r, m, m.Bounds(), draw.Src, nil)
		return func(x, y int) int64 { return int64(dst.Gray16At(x, y).Y) }, nil
	}

	return nil, fmt.Errorf("%w: unsupported label image %T", ErrShapeMismatch, src)
}
