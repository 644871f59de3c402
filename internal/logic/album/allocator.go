// Package album allocates collision-free capture paths inside a shared
// album directory: <root>/<album>/IMG_<yyyyMMdd_HHmmss>_<suffix>.jpg.
package album

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cjeanneret/photobox/internal/debug"
	"golang.org/x/sys/unix"
)

const (
	FilePrefix = "IMG_"
	FileSuffix = ".jpg"

	// TimestampLayout is yyyyMMdd_HHmmss.
	TimestampLayout = "20060102_150405"
)

var (
	ErrStorageUnavailable    = errors.New("shared storage is not mounted read/write")
	ErrDirectoryCreateFailed = errors.New("failed to create album directory")
	ErrIO                    = errors.New("failed to create image file")
	ErrInvalidAlbum          = errors.New("invalid album name")
)

// StorageProbe reports whether the shared storage root can be written to.
type StorageProbe func(root string) error

// WritableDir is the default StorageProbe: root must be an existing,
// writable directory.
func WritableDir(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}
	return unix.Access(root, unix.W_OK)
}

// Allocator builds unique destination paths under Root.
type Allocator struct {
	Root  string
	Clock Clock
	Probe StorageProbe
}

// NewAllocator creates an allocator rooted at the shared storage root.
func NewAllocator(root string, clock Clock) *Allocator {
	if clock == nil {
		clock = RealClock{}
	}
	return &Allocator{Root: root, Clock: clock, Probe: WritableDir}
}

// AlbumDir returns the album directory path without touching the filesystem.
func (a *Allocator) AlbumDir(albumName string) string {
	return filepath.Join(a.Root, albumName)
}

// Allocate reserves a new capture path stamped with the clock's current time.
func (a *Allocator) Allocate(albumName string) (string, error) {
	return a.AllocateAt(albumName, a.Clock.Now())
}

// AllocateAt creates the album directory if needed and an empty placeholder
// file named IMG_<now>_<suffix>.jpg inside it, returning its absolute path.
func (a *Allocator) AllocateAt(albumName string, now time.Time) (string, error) {
	if albumName == "" || strings.ContainsAny(albumName, `/\`) || albumName == "." || albumName == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidAlbum, albumName)
	}

	probe := a.Probe
	if probe == nil {
		probe = WritableDir
	}
	if err := probe(a.Root); err != nil {
		debug.Info("External storage is not mounted READ/WRITE: %v", err)
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	dir, err := filepath.Abs(a.AlbumDir(albumName))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDirectoryCreateFailed, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		if info, statErr := os.Stat(dir); statErr != nil || !info.IsDir() {
			debug.Info("failed to create directory %s: %v", dir, err)
			return "", fmt.Errorf("%w: %v", ErrDirectoryCreateFailed, err)
		}
	}

	pattern := FilePrefix + now.Format(TimestampLayout) + "_*" + FileSuffix
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIO, err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("%w: %v", ErrIO, err)
	}

	debug.Verbose("Allocated %s", path)
	return path, nil
}

// Discard removes a placeholder left by an abandoned capture.
func Discard(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard placeholder: %w", err)
	}
	return nil
}
