package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/photobox/internal/hw/camera"
	"github.com/cjeanneret/photobox/internal/logic/preview"
)

// fakeCamera writes data (if any) and returns err.
type fakeCamera struct {
	mu    sync.Mutex
	data  []byte
	err   error
	calls int
}

func (f *fakeCamera) Capture(ctx context.Context, dest string) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if len(f.data) > 0 {
		if err := os.WriteFile(dest, f.data, 0o644); err != nil {
			return err
		}
	}
	return f.err
}

// blockingCamera waits for ctx.
type blockingCamera struct{}

func (blockingCamera) Capture(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func newRequest(t *testing.T) Request {
	t.Helper()
	path := filepath.Join(t.TempDir(), "IMG_20240101_000000_1.jpg")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	return NewRequest(path, preview.Size{Width: 400, Height: 300})
}

func TestNewRequest_UniqueTokens(t *testing.T) {
	a := NewRequest("/x", preview.Size{})
	b := NewRequest("/x", preview.Size{})
	if a.Token == "" || a.Token == b.Token {
		t.Errorf("tokens %q and %q should be distinct and non-empty", a.Token, b.Token)
	}
}

func TestRun_Statuses(t *testing.T) {
	cases := []struct {
		name string
		cam  *fakeCamera
		want Status
	}{
		{"ok", &fakeCamera{data: []byte("jpeg")}, StatusOK},
		{"ok_but_empty", &fakeCamera{}, StatusFailed},
		{"cancelled", &fakeCamera{err: camera.ErrCancelled}, StatusCancelled},
		{"wrapped_cancel", &fakeCamera{err: errors.Join(errors.New("x"), camera.ErrCancelled)}, StatusCancelled},
		{"failed", &fakeCamera{err: errors.New("usb unplugged")}, StatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := newRequest(t)
			c := NewInvoker(tc.cam, 0).Run(context.Background(), req)
			if c.Status != tc.want {
				t.Errorf("status = %v, want %v (err=%v)", c.Status, tc.want, c.Err)
			}
			if c.Request != req {
				t.Errorf("completion carries %+v, want %+v", c.Request, req)
			}
			if tc.want != StatusOK && c.Err == nil {
				t.Error("non-ok completion should carry an error")
			}
		})
	}
}

func TestRun_TimeoutIsCancel(t *testing.T) {
	c := NewInvoker(blockingCamera{}, 10*time.Millisecond).Run(context.Background(), newRequest(t))
	if c.Status != StatusCancelled {
		t.Errorf("status = %v, want cancelled", c.Status)
	}
}

func TestDispatch_CallsDoneOnce(t *testing.T) {
	cam := &fakeCamera{data: []byte("jpeg")}
	inv := NewInvoker(cam, 0)
	req := newRequest(t)

	got := make(chan Completion, 2)
	inv.Dispatch(context.Background(), req, func(c Completion) { got <- c })

	select {
	case c := <-got:
		if c.Status != StatusOK || c.Request.Token != req.Token {
			t.Errorf("completion = %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for completion")
	}
	select {
	case c := <-got:
		t.Errorf("unexpected second completion %+v", c)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestStatus_String(t *testing.T) {
	for s, want := range map[Status]string{StatusOK: "ok", StatusCancelled: "cancelled", StatusFailed: "failed", Status(9): "Status(9)"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
