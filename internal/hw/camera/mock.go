package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/cjeanneret/photobox/internal/debug"
	"github.com/disintegration/imaging"
)

// MockCamera writes a synthetic gradient JPEG. Used for development on PC
// or testing.
type MockCamera struct {
	Width, Height int
}

// NewMockCamera creates a mock camera producing width x height photos.
func NewMockCamera(width, height int) *MockCamera {
	return &MockCamera{Width: width, Height: height}
}

func (m *MockCamera) Capture(ctx context.Context, destPath string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("mock camera: invalid size %dx%d", m.Width, m.Height)
	}
	debug.Verbose("Camera: mock capture %dx%d -> %s", m.Width, m.Height, destPath)

	img := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / m.Width),
				G: uint8(y * 255 / m.Height),
				B: 128,
				A: 255,
			})
		}
	}
	if err := imaging.Save(img, destPath, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("mock camera: %w", err)
	}
	return nil
}
