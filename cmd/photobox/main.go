package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/cjeanneret/photobox/internal/config"
	"github.com/cjeanneret/photobox/internal/debug"
	"github.com/cjeanneret/photobox/internal/hw/camera"
	"github.com/cjeanneret/photobox/internal/hw/gpio"
	"github.com/cjeanneret/photobox/internal/logic/album"
	"github.com/cjeanneret/photobox/internal/logic/capture"
	"github.com/cjeanneret/photobox/internal/logic/preview"
	"github.com/cjeanneret/photobox/internal/logic/screen"
	"github.com/cjeanneret/photobox/internal/mediaindex"
	"github.com/cjeanneret/photobox/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	albumName := flag.String("album", "", "override album name")
	previewWidth := flag.Int("preview_width", 0, "override preview width in pixels")
	previewHeight := flag.Int("preview_height", 0, "override preview height in pixels")
	once := flag.Bool("once", false, "take a single photo without the web server and exit")
	flag.Parse()

	if webPort.port() == 0 && !*once {
		fmt.Fprintln(os.Stderr, "nothing to do: pass -web to serve the capture page or -once for a single capture")
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	if err := validateCLIOverrides(*albumName, *previewWidth, *previewHeight); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, *albumName, *previewWidth, *previewHeight)

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Album", filepath.Join(cfg.Album.StorageRoot, cfg.Album.Name))

	var broadcaster *web.StatusBroadcaster
	if webPort.port() > 0 {
		broadcaster = web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	}

	// GPIO is only needed for the remote-triggered camera
	var gpioDriver gpio.Driver
	if cfg.Camera.Type == "nikon_d90_gpio" {
		debug.Step(1, "Initializing GPIO driver")
		debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
		gpioDriver, err = gpio.NewDriver(cfg.Defaults.MockGPIO)
		if err != nil {
			log.Fatalf("init GPIO failed: %v", err)
		}
		defer func() {
			if err := gpioDriver.Close(); err != nil {
				log.Printf("closing GPIO driver failed: %v", err)
			}
		}()
	}

	debug.Step(2, "Initializing camera")
	cam, err := newCameraFromConfig(gpioDriver, cfg)
	if err != nil {
		log.Fatalf("init camera failed: %v", err)
	}
	debug.Value("Camera type", cfg.Camera.Type)

	debug.Step(3, "Opening media index")
	index, err := mediaindex.Open(cfg.MediaIndex.Driver, cfg.MediaIndex.DSN)
	if err != nil {
		log.Fatalf("open media index failed: %v", err)
	}
	defer index.Close()
	announcer := mediaindex.NewQueueAnnouncer(index, cfg.MediaIndex.QueueSize)
	defer announcer.Close()
	debug.Value("Media index", cfg.MediaIndex.Driver)

	debug.Step(4, "Creating screen controller")
	ctrlCfg := screen.Config{
		Album:      cfg.Album.Name,
		Allocator:  album.NewAllocator(cfg.Album.StorageRoot, album.RealClock{}),
		Dispatcher: capture.NewInvoker(cam, cfg.CaptureTimeout()),
		Announcer:  announcer,
	}
	if broadcaster != nil {
		ctrlCfg.Notifier = broadcaster
	}
	ctrl := screen.NewController(ctrlCfg)

	target := preview.Size{Width: cfg.Preview.WidthPx, Height: cfg.Preview.HeightPx}

	if port := webPort.port(); port > 0 {
		srv, err := web.NewServer(fmt.Sprintf(":%d", port), web.Deps{
			Broadcaster: broadcaster,
			Controller:  ctrl,
			Media:       index,
			FormDefaults: web.FormConfig{
				Album:         cfg.Album.Name,
				PreviewWidth:  target.Width,
				PreviewHeight: target.Height,
			},
			JPEGQuality: cfg.Preview.JPEGQuality,
			CaptureCtx:  ctx,
		})
		if err != nil {
			log.Fatalf("web server: %v", err)
		}
		if err := srv.Run(ctx); err != nil {
			log.Fatalf("web server: %v", err)
		}
		return
	}

	if err := captureOnce(ctx, ctrl, target); err != nil {
		log.Fatalf("capture failed: %v", err)
	}
}

// captureOnce taps the controller and waits for the capture to complete.
func captureOnce(ctx context.Context, ctrl *screen.Controller, target preview.Size) error {
	done := make(chan capture.Completion, 1)
	ctrl.OnComplete = func(c capture.Completion) { done <- c }

	if _, err := ctrl.Tap(ctx, target); err != nil {
		return err
	}

	var c capture.Completion
	select {
	case c = <-done:
	case <-ctx.Done():
		// the invoker sees the same ctx and completes as cancelled
		c = <-done
	}

	switch c.Status {
	case capture.StatusOK:
		bm := ctrl.Preview()
		if bm == nil {
			debug.Summary("Captured " + c.Request.Path + " (no preview)")
			return nil
		}
		s := bm.Size()
		debug.Summary(fmt.Sprintf("Captured %s, preview %dx%d (1/%d)", c.Request.Path, s.Width, s.Height, bm.Factor))
		return nil
	case capture.StatusCancelled:
		return errors.New("capture cancelled")
	default:
		return c.Err
	}
}

// validateCLIOverrides checks overrides; zero values mean "use config default".
func validateCLIOverrides(albumName string, width, height int) error {
	if albumName != "" && (strings.ContainsAny(albumName, `/\`) || albumName == "." || albumName == "..") {
		return fmt.Errorf("album must be a single directory name, got %q", albumName)
	}
	if width < 0 || width > 10000 {
		return fmt.Errorf("preview_width must be between 0 and 10000, got %d", width)
	}
	if height < 0 || height > 10000 {
		return fmt.Errorf("preview_height must be between 0 and 10000, got %d", height)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, albumName string, width, height int) {
	if albumName != "" {
		cfg.Album.Name = albumName
	}
	if width > 0 {
		cfg.Preview.WidthPx = width
	}
	if height > 0 {
		cfg.Preview.HeightPx = height
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }

// newCameraFromConfig selects a camera implementation based on configuration.
func newCameraFromConfig(g gpio.Driver, cfg *config.Config) (camera.Camera, error) {
	switch cfg.Camera.Type {
	case "command":
		return camera.NewCommandCamera(cfg.Camera.Command, cfg.Camera.CancelCode), nil
	case "nikon_d90_gpio":
		if g == nil {
			return nil, errors.New("nikon_d90_gpio camera needs a GPIO driver")
		}
		return camera.NewNikonD90GPIO(
			g,
			cfg.Camera.FocusPin,
			cfg.Camera.ShutterPin,
			cfg.FocusDelay(),
			cfg.ShutterDelay(),
			cfg.Camera.ImportDir,
			cfg.ImportPoll(),
		), nil
	case "mock":
		return camera.NewMockCamera(cfg.Camera.MockWidth, cfg.Camera.MockHeight), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}
