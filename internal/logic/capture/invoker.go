package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cjeanneret/photobox/internal/debug"
	"github.com/cjeanneret/photobox/internal/hw/camera"
	"github.com/cjeanneret/photobox/internal/logic/preview"
	"github.com/google/uuid"
)

// Status is the outcome of one capture round-trip.
type Status int

const (
	StatusOK Status = iota
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Request is handed to the camera and returned in the Completion, so the
// destination travels with the capture instead of living in shared state.
type Request struct {
	Token  string       `json:"token"`
	Path   string       `json:"path"`
	Target preview.Size `json:"target"` // preview surface size at tap time
}

// NewRequest creates a request with a fresh token.
func NewRequest(path string, target preview.Size) Request {
	return Request{Token: uuid.NewString(), Path: path, Target: target}
}

// Completion is delivered exactly once per dispatched Request.
type Completion struct {
	Request Request
	Status  Status
	Err     error
}

// Invoker runs captures asynchronously on a camera.
type Invoker struct {
	camera  camera.Camera
	timeout time.Duration
}

// NewInvoker creates an invoker. A zero timeout means no upper bound
// beyond the dispatch context.
func NewInvoker(c camera.Camera, timeout time.Duration) *Invoker {
	return &Invoker{camera: c, timeout: timeout}
}

// Dispatch starts the capture and returns immediately; done is called
// from another goroutine once the camera returns.
func (i *Invoker) Dispatch(ctx context.Context, req Request, done func(Completion)) {
	debug.Capture(req.Token, req.Path, "dispatched")
	go func() {
		done(i.Run(ctx, req))
	}()
}

// Run performs the capture synchronously.
func (i *Invoker) Run(ctx context.Context, req Request) Completion {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	c := Completion{Request: req, Status: StatusOK}
	err := i.camera.Capture(ctx, req.Path)
	switch {
	case err == nil:
		if info, statErr := os.Stat(req.Path); statErr != nil || info.Size() == 0 {
			c.Status = StatusFailed
			c.Err = fmt.Errorf("camera returned without writing %s", req.Path)
		}
	case errors.Is(err, camera.ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.Status = StatusCancelled
		c.Err = err
	default:
		c.Status = StatusFailed
		c.Err = err
	}

	debug.Capture(req.Token, req.Path, c.Status.String())
	return c
}
