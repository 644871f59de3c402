package camera

import (
	"context"
	"errors"
)

// ErrCancelled reports that the capture flow was abandoned before a photo
// was written (user cancel, timeout or shutdown).
var ErrCancelled = errors.New("capture cancelled")

// Camera is the high-level interface used by the rest of the application.
// It represents an abstract "camera", regardless of how it's controlled
// (external program, GPIO remote, mock).
type Camera interface {
	// Capture takes one photo and writes it as JPEG to destPath, which
	// already exists as an empty placeholder.
	Capture(ctx context.Context, destPath string) error
}
