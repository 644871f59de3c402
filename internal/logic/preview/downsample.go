// Package preview decodes captured photos at a reduced resolution so the
// preview fits the display surface without holding full-size rasters.
package preview

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/cjeanneret/photobox/internal/debug"
	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// ErrDecode reports an unreadable or corrupt image.
var ErrDecode = errors.New("cannot decode image")

// Size is a width/height pair in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Bitmap is a decoded, subsampled preview.
type Bitmap struct {
	Image  image.Image
	Path   string
	Source Size // full-size dimensions after EXIF orientation
	Factor int  // sample size used for decoding
}

// Size returns the decoded dimensions.
func (b *Bitmap) Size() Size {
	r := b.Image.Bounds()
	return Size{Width: r.Dx(), Height: r.Dy()}
}

// Bytes is the approximate in-memory footprint at 4 bytes per pixel.
func (b *Bitmap) Bytes() int {
	s := b.Size()
	return s.Width * s.Height * 4
}

// EncodeJPEG writes the bitmap as JPEG.
func (b *Bitmap) EncodeJPEG(w io.Writer, quality int) error {
	return imaging.Encode(w, b.Image, imaging.JPEG, imaging.JPEGQuality(quality))
}

// ReadBounds decodes only the image header.
func ReadBounds(path string) (Size, error) {
	f, err := os.Open(path)
	if err != nil {
		return Size{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return Size{}, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Size{}, fmt.Errorf("%w: %s: empty image %dx%d", ErrDecode, path, cfg.Width, cfg.Height)
	}
	return Size{Width: cfg.Width, Height: cfg.Height}, nil
}

// ScaleFactor returns min(src.W/target.W, src.H/target.H) with integer
// division. An unknown target (zero dimension) or a factor below one
// means no downsampling.
func ScaleFactor(src, target Size) int {
	if target.Width <= 0 || target.Height <= 0 {
		return 1
	}
	f := min(src.Width/target.Width, src.Height/target.Height)
	if f < 1 {
		return 1
	}
	return f
}

// Downsample decodes path subsampled so the result still covers target in
// the limiting dimension. EXIF orientation is applied before the factor is
// chosen, so Source and the factor describe the image as displayed. The
// full raster is held only for the duration of the call.
func Downsample(path string, target Size) (*Bitmap, error) {
	if _, err := ReadBounds(path); err != nil {
		return nil, err
	}

	full, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	b := full.Bounds()
	src := Size{Width: b.Dx(), Height: b.Dy()}
	factor := ScaleFactor(src, target)
	debug.Decode(path, src.Width, src.Height, factor)

	bm := &Bitmap{Image: Subsample(full, factor), Path: path, Source: src, Factor: factor}
	debug.Verbose("Preview %s: %dx%d (%d bytes)", path, bm.Size().Width, bm.Size().Height, bm.Bytes())
	return bm, nil
}

// Subsample keeps every factor-th pixel in each direction, producing an
// image of ceil(w/factor) x ceil(h/factor).
func Subsample(img image.Image, factor int) image.Image {
	if factor <= 1 {
		return img
	}
	b := img.Bounds()
	w := (b.Dx() + factor - 1) / factor
	h := (b.Dy() + factor - 1) / factor
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
