package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/cjeanneret/photobox/internal/debug"
)

// OutputPlaceholder is replaced with the destination path in command arguments.
const OutputPlaceholder = "{output}"

// CommandCamera runs an external capture program such as libcamera-still
// or gphoto2 that writes the photo straight into the destination file.
type CommandCamera struct {
	argv       []string
	cancelCode int
}

// NewCommandCamera creates a camera running argv. Arguments equal to or
// containing "{output}" get the destination path substituted. A non-zero
// cancelCode is the exit status the program uses for "user cancelled".
func NewCommandCamera(argv []string, cancelCode int) *CommandCamera {
	return &CommandCamera{argv: argv, cancelCode: cancelCode}
}

// Args returns the argv used for destPath.
func (c *CommandCamera) Args(destPath string) []string {
	args := make([]string, len(c.argv))
	for i, a := range c.argv {
		args[i] = strings.ReplaceAll(a, OutputPlaceholder, destPath)
	}
	return args
}

func (c *CommandCamera) Capture(ctx context.Context, destPath string) error {
	if len(c.argv) == 0 {
		return fmt.Errorf("camera command is empty")
	}
	args := c.Args(destPath)
	debug.Verbose("Camera: running %q", args)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
	if err == nil {
		debug.Verbose("Camera: command finished")
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && c.cancelCode != 0 && exitErr.ExitCode() == c.cancelCode {
		return fmt.Errorf("%w: exit status %d", ErrCancelled, c.cancelCode)
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return fmt.Errorf("camera command %s: %w: %s", args[0], err, msg)
	}
	return fmt.Errorf("camera command %s: %w", args[0], err)
}
