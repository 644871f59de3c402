package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/cjeanneret/photobox/internal/logic/album"
	"github.com/cjeanneret/photobox/internal/logic/capture"
	"github.com/cjeanneret/photobox/internal/logic/preview"
	"github.com/cjeanneret/photobox/internal/logic/screen"
	"github.com/cjeanneret/photobox/internal/mediaindex"
	"github.com/disintegration/imaging"
)

// fakeController records taps.
type fakeController struct {
	mu      sync.Mutex
	err     error
	targets []preview.Size
	state   screen.State
	pending *capture.Request
	bitmap  *preview.Bitmap
}

func (f *fakeController) Tap(_ context.Context, target preview.Size) (capture.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	if f.err != nil {
		return capture.Request{}, f.err
	}
	req := capture.Request{Token: "tok-1", Path: "/m/photobox/IMG_1.jpg", Target: target}
	f.pending = &req
	f.state = screen.AwaitingCapture
	return req, nil
}

func (f *fakeController) State() screen.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeController) Pending() (capture.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == nil {
		return capture.Request{}, false
	}
	return *f.pending, true
}

func (f *fakeController) Preview() *preview.Bitmap {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bitmap
}

type fakeMedia struct {
	entries []mediaindex.Entry
	err     error
	album   string
	limit   int
}

func (m *fakeMedia) List(_ context.Context, album string, limit int) ([]mediaindex.Entry, error) {
	m.album, m.limit = album, limit
	return m.entries, m.err
}

// ---------- Handler helpers ----------

func newTestHandlers(ctrl Controller, media MediaLister) *Handlers {
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
	}
	return NewHandlers(Deps{
		Broadcaster: NewStatusBroadcaster(),
		Controller:  ctrl,
		Media:       media,
		FormDefaults: FormConfig{
			Album:         "photobox",
			PreviewWidth:  400,
			PreviewHeight: 300,
		},
	}, staticFS)
}

func tapJSON(w, h int) []byte {
	data, _ := json.Marshal(preview.Size{Width: w, Height: h})
	return data
}

// ---------- ValidateTarget ----------

func TestValidateTarget(t *testing.T) {
	cases := []struct {
		name  string
		s     preview.Size
		valid bool
	}{
		{"typical", preview.Size{Width: 400, Height: 300}, true},
		{"not_laid_out", preview.Size{}, true},
		{"one_zero", preview.Size{Width: 400}, true},
		{"max", preview.Size{Width: 10000, Height: 10000}, true},
		{"negative_width", preview.Size{Width: -1, Height: 300}, false},
		{"negative_height", preview.Size{Width: 400, Height: -3}, false},
		{"too_wide", preview.Size{Width: 10001, Height: 300}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateTarget(tc.s)
			if tc.valid && err != nil {
				t.Errorf("expected valid, got: %v", err)
			}
			if !tc.valid && err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// ---------- HandleTap ----------

func TestHandleTap_Accepted(t *testing.T) {
	ctrl := &fakeController{}
	h := newTestHandlers(ctrl, nil)
	req := httptest.NewRequest(http.MethodPost, "/tap", bytes.NewReader(tapJSON(800, 600)))
	w := httptest.NewRecorder()

	h.HandleTap(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "started" || resp["token"] != "tok-1" {
		t.Errorf("response = %v", resp)
	}
	if len(ctrl.targets) != 1 || ctrl.targets[0] != (preview.Size{Width: 800, Height: 600}) {
		t.Errorf("targets = %v", ctrl.targets)
	}
}

func TestHandleTap_UnknownSizeUsesDefaults(t *testing.T) {
	ctrl := &fakeController{}
	h := newTestHandlers(ctrl, nil)
	req := httptest.NewRequest(http.MethodPost, "/tap", strings.NewReader("{}"))
	w := httptest.NewRecorder()

	h.HandleTap(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if ctrl.targets[0] != (preview.Size{Width: 400, Height: 300}) {
		t.Errorf("target = %v, want config default 400x300", ctrl.targets[0])
	}
}

func TestHandleTap_GetMethodNotAllowed(t *testing.T) {
	h := newTestHandlers(&fakeController{}, nil)
	w := httptest.NewRecorder()
	h.HandleTap(w, httptest.NewRequest(http.MethodGet, "/tap", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleTap_BadBodies(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not_json", "not json"},
		{"negative", string(tapJSON(-1, 300))},
		{"oversized", `{"width":400,"height":300,"pad":"` + strings.Repeat("x", 2<<10) + `"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := &fakeController{}
			h := newTestHandlers(ctrl, nil)
			w := httptest.NewRecorder()
			h.HandleTap(w, httptest.NewRequest(http.MethodPost, "/tap", strings.NewReader(tc.body)))
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if len(ctrl.targets) != 0 {
				t.Error("controller should not be tapped")
			}
		})
	}
}

func TestHandleTap_NilController(t *testing.T) {
	h := newTestHandlers(nil, nil)
	w := httptest.NewRecorder()
	h.HandleTap(w, httptest.NewRequest(http.MethodPost, "/tap", bytes.NewReader(tapJSON(1, 1))))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleTap_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"in_progress", screen.ErrCaptureInProgress, http.StatusConflict},
		{"storage", album.ErrStorageUnavailable, http.StatusServiceUnavailable},
		{"mkdir", album.ErrDirectoryCreateFailed, http.StatusServiceUnavailable},
		{"io", album.ErrIO, http.StatusInternalServerError},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandlers(&fakeController{err: tc.err}, nil)
			w := httptest.NewRecorder()
			h.HandleTap(w, httptest.NewRequest(http.MethodPost, "/tap", bytes.NewReader(tapJSON(400, 300))))
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

// ---------- HandleState / HandlePreview ----------

func TestHandleState(t *testing.T) {
	ctrl := &fakeController{}
	h := newTestHandlers(ctrl, nil)

	w := httptest.NewRecorder()
	h.HandleState(w, httptest.NewRequest(http.MethodGet, "/state", nil))
	var resp StateResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.State != "idle" || resp.Token != "" || resp.Preview != nil {
		t.Errorf("idle state = %+v", resp)
	}

	ctrl.Tap(context.Background(), preview.Size{})
	ctrl.bitmap = &preview.Bitmap{
		Image:  image.NewNRGBA(image.Rect(0, 0, 40, 30)),
		Path:   "/m/photobox/IMG_0.jpg",
		Source: preview.Size{Width: 400, Height: 300},
		Factor: 10,
	}
	w = httptest.NewRecorder()
	h.HandleState(w, httptest.NewRequest(http.MethodGet, "/state", nil))
	resp = StateResponse{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.State != "awaiting_capture" || resp.Token != "tok-1" {
		t.Errorf("state = %+v", resp)
	}
	if resp.Preview == nil || resp.Preview.Factor != 10 || resp.Preview.Size != (preview.Size{Width: 40, Height: 30}) {
		t.Errorf("preview info = %+v", resp.Preview)
	}
}

func TestHandlePreview_NoneYet(t *testing.T) {
	h := newTestHandlers(&fakeController{}, nil)
	w := httptest.NewRecorder()
	h.HandlePreview(w, httptest.NewRequest(http.MethodGet, "/preview.jpg", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandlePreview_ServesJPEG(t *testing.T) {
	ctrl := &fakeController{bitmap: &preview.Bitmap{Image: imaging.New(40, 30, color.Black), Factor: 1}}
	h := newTestHandlers(ctrl, nil)
	w := httptest.NewRecorder()
	h.HandlePreview(w, httptest.NewRequest(http.MethodGet, "/preview.jpg", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q, want image/jpeg", ct)
	}
	cfg, format, err := image.DecodeConfig(w.Body)
	if err != nil || format != "jpeg" || cfg.Width != 40 || cfg.Height != 30 {
		t.Errorf("decoded %s %dx%d err=%v, want jpeg 40x30", format, cfg.Width, cfg.Height, err)
	}
}

// ---------- HandleMedia ----------

func TestHandleMedia(t *testing.T) {
	media := &fakeMedia{entries: []mediaindex.Entry{{Path: "/m/photobox/IMG_1.jpg", Album: "photobox", SizeBytes: 3}}}
	h := newTestHandlers(&fakeController{}, media)
	w := httptest.NewRecorder()
	h.HandleMedia(w, httptest.NewRequest(http.MethodGet, "/media?album=photobox&limit=5", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if media.album != "photobox" || media.limit != 5 {
		t.Errorf("List called with album=%q limit=%d", media.album, media.limit)
	}
	var got []mediaindex.Entry
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Path != "/m/photobox/IMG_1.jpg" {
		t.Errorf("entries = %+v", got)
	}
}

func TestHandleMedia_EmptyIsArray(t *testing.T) {
	h := newTestHandlers(&fakeController{}, &fakeMedia{})
	w := httptest.NewRecorder()
	h.HandleMedia(w, httptest.NewRequest(http.MethodGet, "/media", nil))
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("body = %q, want []", body)
	}
}

func TestHandleMedia_Errors(t *testing.T) {
	cases := []struct {
		name  string
		media MediaLister
		url   string
		want  int
	}{
		{"bad_limit", &fakeMedia{}, "/media?limit=abc", http.StatusBadRequest},
		{"limit_too_large", &fakeMedia{}, "/media?limit=501", http.StatusBadRequest},
		{"index_error", &fakeMedia{err: errors.New("db down")}, "/media", http.StatusInternalServerError},
		{"no_index", nil, "/media", http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandlers(&fakeController{}, tc.media)
			w := httptest.NewRecorder()
			h.HandleMedia(w, httptest.NewRequest(http.MethodGet, tc.url, nil))
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

// ---------- HandleConfig / ServeIndex ----------

func TestHandleConfig(t *testing.T) {
	h := newTestHandlers(&fakeController{}, nil)
	w := httptest.NewRecorder()
	h.HandleConfig(w, httptest.NewRequest(http.MethodGet, "/config", nil))

	var fc FormConfig
	if err := json.NewDecoder(w.Body).Decode(&fc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fc.Album != "photobox" || fc.PreviewWidth != 400 || fc.PreviewHeight != 300 {
		t.Errorf("config = %+v", fc)
	}
}

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(&fakeController{}, nil)
	w := httptest.NewRecorder()
	h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
}

// ---------- Router ----------

func TestRouter_Routes(t *testing.T) {
	h := newTestHandlers(&fakeController{}, &fakeMedia{})
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/config", http.StatusOK},
		{http.MethodGet, "/state", http.StatusOK},
		{http.MethodGet, "/media", http.StatusOK},
		{http.MethodGet, "/preview.jpg", http.StatusNotFound},
		{http.MethodGet, "/tap", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest(tc.method, srv.URL+tc.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tc.method, tc.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("%s %s: status = %d, want %d", tc.method, tc.path, resp.StatusCode, tc.want)
		}
	}
}

func TestHandleStatusStream_DeliversNotice(t *testing.T) {
	h := newTestHandlers(&fakeController{}, nil)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	// wait for the subscription before broadcasting
	buf := make([]byte, 512)
	if _, err := resp.Body.Read(buf); err != nil {
		t.Fatal(err)
	}
	h.Broadcaster.Notify("info", "Photo saved")

	done := make(chan string, 1)
	go func() {
		n, _ := resp.Body.Read(buf)
		done <- string(buf[:n])
	}()
	select {
	case got := <-done:
		if !strings.Contains(got, "Photo saved") {
			t.Errorf("stream chunk = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for SSE data")
	}
}
