package web

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/cjeanneret/photobox/internal/debug"
	"github.com/cjeanneret/photobox/internal/logic/album"
	"github.com/cjeanneret/photobox/internal/logic/capture"
	"github.com/cjeanneret/photobox/internal/logic/preview"
	"github.com/cjeanneret/photobox/internal/logic/screen"
	"github.com/cjeanneret/photobox/internal/mediaindex"
)

const (
	maxTapBody    = 1 << 10
	maxPreviewDim = 10000
	maxMediaLimit = 500
)

// Controller is the capture screen driven by the page.
type Controller interface {
	Tap(ctx context.Context, target preview.Size) (capture.Request, error)
	State() screen.State
	Pending() (capture.Request, bool)
	Preview() *preview.Bitmap
}

// MediaLister lists announced files.
type MediaLister interface {
	List(ctx context.Context, album string, limit int) ([]mediaindex.Entry, error)
}

// FormConfig holds page defaults (from config).
type FormConfig struct {
	Album         string `json:"album"`
	PreviewWidth  int    `json:"preview_width"`
	PreviewHeight int    `json:"preview_height"`
}

// StateResponse is the body of GET /state.
type StateResponse struct {
	State   string       `json:"state"`
	Token   string       `json:"token,omitempty"`
	Preview *PreviewInfo `json:"preview,omitempty"`
}

// PreviewInfo describes the displayed bitmap.
type PreviewInfo struct {
	Path   string       `json:"path"`
	Source preview.Size `json:"source"`
	Size   preview.Size `json:"size"`
	Factor int          `json:"factor"`
}

// Deps are the handler dependencies. CaptureCtx bounds captures started
// from the page; it outlives individual requests.
type Deps struct {
	Broadcaster  *StatusBroadcaster
	Controller   Controller
	Media        MediaLister
	FormDefaults FormConfig
	JPEGQuality  int
	CaptureCtx   context.Context
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Deps
	staticFS fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If Controller is nil, POST /tap returns 503 Service Unavailable.
func NewHandlers(deps Deps, staticFS fs.FS) *Handlers {
	if deps.CaptureCtx == nil {
		deps.CaptureCtx = context.Background()
	}
	if deps.JPEGQuality == 0 {
		deps.JPEGQuality = 80
	}
	return &Handlers{Deps: deps, staticFS: staticFS}
}

// ValidateTarget checks a preview size reported by the page. Zero means
// "not laid out yet".
func ValidateTarget(s preview.Size) error {
	if s.Width < 0 || s.Height < 0 {
		return errors.New("width and height must not be negative")
	}
	if s.Width > maxPreviewDim || s.Height > maxPreviewDim {
		return errors.New("width and height must be at most 10000")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HandleConfig returns the page defaults as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.FormDefaults)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleTap handles POST /tap: a touch on the preview surface.
// Body: {"width":W,"height":H}, the preview element size in pixels.
func (h *Handlers) HandleTap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var target preview.Size
	r.Body = http.MaxBytesReader(w, r.Body, maxTapBody)
	if err := json.NewDecoder(r.Body).Decode(&target); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := ValidateTarget(target); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if target.Width == 0 && target.Height == 0 {
		target = preview.Size{Width: h.FormDefaults.PreviewWidth, Height: h.FormDefaults.PreviewHeight}
	}

	if h.Controller == nil {
		http.Error(w, "camera not configured", http.StatusServiceUnavailable)
		return
	}

	req, err := h.Controller.Tap(h.CaptureCtx, target)
	switch {
	case err == nil:
	case errors.Is(err, screen.ErrCaptureInProgress):
		http.Error(w, "capture already in progress", http.StatusConflict)
		return
	case errors.Is(err, album.ErrStorageUnavailable), errors.Is(err, album.ErrDirectoryCreateFailed):
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	default:
		http.Error(w, "Error occurred while creating the File", http.StatusInternalServerError)
		return
	}

	debug.Live("Tap accepted, capture %s (target %dx%d)", req.Token, target.Width, target.Height)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "token": req.Token})
}

// HandleState handles GET /state.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	if h.Controller == nil {
		http.Error(w, "camera not configured", http.StatusServiceUnavailable)
		return
	}
	resp := StateResponse{State: h.Controller.State().String()}
	if req, ok := h.Controller.Pending(); ok {
		resp.Token = req.Token
	}
	if bm := h.Controller.Preview(); bm != nil {
		resp.Preview = &PreviewInfo{Path: bm.Path, Source: bm.Source, Size: bm.Size(), Factor: bm.Factor}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandlePreview handles GET /preview.jpg with the currently displayed bitmap.
func (h *Handlers) HandlePreview(w http.ResponseWriter, r *http.Request) {
	var bm *preview.Bitmap
	if h.Controller != nil {
		bm = h.Controller.Preview()
	}
	if bm == nil {
		http.Error(w, "no preview yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	if err := bm.EncodeJPEG(w, h.JPEGQuality); err != nil {
		debug.Error(err)
	}
}

// HandleMedia handles GET /media?album=&limit= listing the media index.
func (h *Handlers) HandleMedia(w http.ResponseWriter, r *http.Request) {
	if h.Media == nil {
		http.Error(w, "media index not configured", http.StatusServiceUnavailable)
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 || v > maxMediaLimit {
			http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = v
	}
	entries, err := h.Media.List(r.Context(), r.URL.Query().Get("album"), limit)
	if err != nil {
		debug.Error(err)
		http.Error(w, "media index error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []mediaindex.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
