// Package screen holds the capture screen state machine:
// Idle -> AwaitingCapture on tap, back to Idle when the capture returns.
package screen

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/photobox/internal/debug"
	"github.com/cjeanneret/photobox/internal/logic/album"
	"github.com/cjeanneret/photobox/internal/logic/capture"
	"github.com/cjeanneret/photobox/internal/logic/preview"
	"github.com/cjeanneret/photobox/internal/mediaindex"
)

// ErrCaptureInProgress is returned by Tap while a capture is outstanding.
var ErrCaptureInProgress = errors.New("capture already in progress")

// State of the controller.
type State int

const (
	Idle State = iota
	AwaitingCapture
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingCapture:
		return "awaiting_capture"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Allocator reserves a destination path in the album.
type Allocator interface {
	Allocate(albumName string) (string, error)
}

// Dispatcher hands a request to the camera; done is called once.
type Dispatcher interface {
	Dispatch(ctx context.Context, req capture.Request, done func(capture.Completion))
}

// Decoder produces the preview bitmap for a captured file.
type Decoder func(path string, target preview.Size) (*preview.Bitmap, error)

// Notifier shows a message to the user.
type Notifier interface {
	Notify(level, msg string)
}

// Config wires the controller's collaborators. Decoder defaults to
// preview.Downsample; Notifier may be nil.
type Config struct {
	Album      string
	Allocator  Allocator
	Dispatcher Dispatcher
	Announcer  mediaindex.Announcer
	Decoder    Decoder
	Notifier   Notifier
}

// Controller serializes taps and capture completions.
type Controller struct {
	cfg Config

	mu      sync.RWMutex
	state   State
	pending *capture.Request
	preview *preview.Bitmap

	// OnComplete, if set, runs after each completion has been applied.
	OnComplete func(capture.Completion)
}

// NewController creates an idle controller.
func NewController(cfg Config) *Controller {
	if cfg.Decoder == nil {
		cfg.Decoder = preview.Downsample
	}
	return &Controller{cfg: cfg}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Pending returns the outstanding request, if any.
func (c *Controller) Pending() (capture.Request, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.pending == nil {
		return capture.Request{}, false
	}
	return *c.pending, true
}

// Preview returns the bitmap currently displayed, nil before the first
// successful capture.
func (c *Controller) Preview() *preview.Bitmap {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.preview
}

// Tap starts a capture sized for a preview surface of target pixels.
// ctx bounds the capture itself, not just the call. The state moves to
// AwaitingCapture before the path is allocated so readers never wait on
// the filesystem; a failed allocation returns it to Idle.
func (c *Controller) Tap(ctx context.Context, target preview.Size) (capture.Request, error) {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		debug.Live("Tap ignored: capture already in progress")
		return capture.Request{}, ErrCaptureInProgress
	}
	c.state = AwaitingCapture
	c.mu.Unlock()

	path, err := c.cfg.Allocator.Allocate(c.cfg.Album)
	if err != nil {
		c.mu.Lock()
		c.state = Idle
		c.mu.Unlock()
		debug.Error(fmt.Errorf("allocate capture path: %w", err))
		if errors.Is(err, album.ErrIO) {
			c.notify("error", "Error occurred while creating the File")
		}
		return capture.Request{}, err
	}

	req := capture.NewRequest(path, target)
	c.mu.Lock()
	c.pending = &req
	c.mu.Unlock()

	debug.Transition(Idle.String(), AwaitingCapture.String())
	c.cfg.Dispatcher.Dispatch(ctx, req, c.Complete)
	return req, nil
}

// Complete applies a capture result. Completions for anything but the
// outstanding request are ignored.
func (c *Controller) Complete(comp capture.Completion) {
	c.mu.RLock()
	stale := c.pending == nil || c.pending.Token != comp.Request.Token
	c.mu.RUnlock()
	if stale {
		debug.Info("Ignoring completion for unknown capture %s", comp.Request.Token)
		return
	}
	req := comp.Request

	// State stays AwaitingCapture while decoding, so no tap can interleave.
	var bm *preview.Bitmap
	if comp.Status == capture.StatusOK {
		var err error
		bm, err = c.cfg.Decoder(req.Path, req.Target)
		if err != nil {
			debug.Error(fmt.Errorf("preview %s: %w", req.Path, err))
		}
	} else {
		debug.Info("Capture %s %s: %v", req.Token, comp.Status, comp.Err)
		if err := album.Discard(req.Path); err != nil {
			debug.Error(err)
		}
	}

	c.mu.Lock()
	if bm != nil {
		c.preview = bm
	}
	c.pending = nil
	c.state = Idle
	c.mu.Unlock()
	debug.Transition(AwaitingCapture.String(), Idle.String())

	switch comp.Status {
	case capture.StatusOK:
		if c.cfg.Announcer != nil {
			c.cfg.Announcer.Announce(req.Path)
		}
		c.notify("info", "Photo saved: "+req.Path)
	case capture.StatusCancelled:
		c.notify("info", "Capture cancelled")
	default:
		c.notify("error", "Capture failed")
	}

	if c.OnComplete != nil {
		c.OnComplete(comp)
	}
}

func (c *Controller) notify(level, msg string) {
	if c.cfg.Notifier != nil {
		c.cfg.Notifier.Notify(level, msg)
	}
}
