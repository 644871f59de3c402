package camera

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cjeanneret/photobox/internal/debug"
	"github.com/cjeanneret/photobox/internal/hw/gpio"
)

// NikonD90GPIO is a Camera implementation for a Nikon D90
// controlled via the 3-pin remote connector:
// - GND: connected to Raspberry Pi ground
// - FOCUS: autofocus (activate by setting to LOW)
// - SHUTTER: trigger (activate by setting to LOW)
//
// The D90 keeps the photo on its own card; a tethering tool (Eye-Fi,
// gphoto2 --wait-event-and-download, ...) drops it into importDir. Capture
// lists importDir before triggering, then waits for a JPEG that was not in
// that listing and whose size has settled, and copies it into the
// destination.
type NikonD90GPIO struct {
	gpio         gpio.Driver
	focusPin     int
	shutterPin   int
	focusDelay   time.Duration // time for autofocus
	shutterDelay time.Duration // shutter hold time
	importDir    string
	pollInterval time.Duration
}

// NewNikonD90GPIO creates a GPIO-controlled Nikon D90 trigger.
// focusPin and shutterPin are the GPIO pin numbers for FOCUS and SHUTTER lines.
func NewNikonD90GPIO(g gpio.Driver, focusPin, shutterPin int, focusDelay, shutterDelay time.Duration, importDir string, pollInterval time.Duration) *NikonD90GPIO {
	// Configure pins as outputs
	_ = g.SetupPin(focusPin, gpio.Output)
	_ = g.SetupPin(shutterPin, gpio.Output)

	// By default, lines are HIGH (inactive)
	_ = g.WritePin(focusPin, gpio.High)
	_ = g.WritePin(shutterPin, gpio.High)

	return &NikonD90GPIO{
		gpio:         g,
		focusPin:     focusPin,
		shutterPin:   shutterPin,
		focusDelay:   focusDelay,
		shutterDelay: shutterDelay,
		importDir:    importDir,
		pollInterval: pollInterval,
	}
}

// Capture triggers the shutter and imports the resulting JPEG into destPath.
// ctx bounds the wait for the tethered file.
func (n *NikonD90GPIO) Capture(ctx context.Context, destPath string) error {
	before := listJPEGs(n.importDir)

	if err := n.Trigger(ctx); err != nil {
		return err
	}

	src, err := n.waitForImport(ctx, before)
	if err != nil {
		return err
	}
	debug.Verbose("Camera: importing %s", src)
	return copyFile(src, destPath)
}

// Trigger fires the D90.
// Sequence: FOCUS -> wait for AF -> SHUTTER -> hold -> release
func (n *NikonD90GPIO) Trigger(ctx context.Context) error {
	debug.Printf("Camera: triggering shot (focus=%d, shutter=%d)", n.focusPin, n.shutterPin)

	debug.Verbose("Camera: activating FOCUS (pin %d -> LOW)", n.focusPin)
	if err := n.gpio.WritePin(n.focusPin, gpio.Low); err != nil {
		return err
	}

	if err := sleep(ctx, n.focusDelay); err != nil {
		_ = n.gpio.WritePin(n.focusPin, gpio.High)
		return err
	}

	debug.Verbose("Camera: activating SHUTTER (pin %d -> LOW)", n.shutterPin)
	if err := n.gpio.WritePin(n.shutterPin, gpio.Low); err != nil {
		// Release FOCUS on error
		_ = n.gpio.WritePin(n.focusPin, gpio.High)
		return err
	}

	// The shutter is held even if ctx ends; releasing mid-press would
	// leave the camera half-triggered.
	time.Sleep(n.shutterDelay)

	debug.Verbose("Camera: releasing SHUTTER (pin %d -> HIGH)", n.shutterPin)
	if err := n.gpio.WritePin(n.shutterPin, gpio.High); err != nil {
		return err
	}
	debug.Verbose("Camera: releasing FOCUS (pin %d -> HIGH)", n.focusPin)
	if err := n.gpio.WritePin(n.focusPin, gpio.High); err != nil {
		return err
	}

	debug.Printf("Camera: shot triggered successfully")
	return nil
}

// waitForImport returns a JPEG absent from before once it reads the same
// size and mtime on two consecutive polls.
func (n *NikonD90GPIO) waitForImport(ctx context.Context, before map[string]fileStamp) (string, error) {
	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()

	var pending string
	var pendingStamp fileStamp
	for {
		if path, stamp, ok := newestJPEG(n.importDir, before); ok {
			if path == pending && stamp.equal(pendingStamp) {
				return path, nil
			}
			debug.Trace("Camera: %s appeared (%d bytes), waiting for it to settle", path, stamp.size)
			pending, pendingStamp = path, stamp
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: no photo imported from %s: %v", ErrCancelled, n.importDir, ctx.Err())
		case <-ticker.C:
		}
	}
}

type fileStamp struct {
	size int64
	mod  time.Time
}

func (a fileStamp) equal(b fileStamp) bool {
	return a.size == b.size && a.mod.Equal(b.mod)
}

func isJPEG(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".jpg" || ext == ".jpeg"
}

// listJPEGs maps JPEG names in dir to their current stamp.
func listJPEGs(dir string) map[string]fileStamp {
	seen := make(map[string]fileStamp)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return seen
	}
	for _, e := range entries {
		if e.IsDir() || !isJPEG(e.Name()) {
			continue
		}
		if info, err := e.Info(); err == nil {
			seen[e.Name()] = fileStamp{size: info.Size(), mod: info.ModTime()}
		}
	}
	return seen
}

// newestJPEG returns the most recently modified non-empty JPEG in dir that
// is missing from seen or has changed since.
func newestJPEG(dir string, seen map[string]fileStamp) (string, fileStamp, bool) {
	var best string
	var bestStamp fileStamp
	for name, stamp := range listJPEGs(dir) {
		if stamp.size == 0 {
			continue
		}
		if old, ok := seen[name]; ok && old.equal(stamp) {
			continue
		}
		if best == "" || stamp.mod.After(bestStamp.mod) {
			best = filepath.Join(dir, name)
			bestStamp = stamp
		}
	}
	return best, bestStamp, best != ""
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open imported photo: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy imported photo: %w", err)
	}
	return out.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	case <-t.C:
		return nil
	}
}
