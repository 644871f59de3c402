package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

const (
	subscriberBuffer = 64
	noticePrefix     = "notice-"
)

// StatusEvent is one SSE message. Level is "log" for mirrored debug lines
// and "notice-<level>" for messages the page shows as toasts.
type StatusEvent struct {
	Time  string `json:"t"`
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg"`
}

// StatusBroadcaster distributes log lines and capture notices to SSE clients.
// The latest notice is replayed to new subscribers so a page opened after a
// capture still shows its outcome.
type StatusBroadcaster struct {
	mu         sync.RWMutex
	clients    map[chan string]struct{}
	lastNotice string
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup
// function, safe to call more than once.
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, subscriberBuffer)
	b.mu.Lock()
	if b.lastNotice != "" {
		ch <- b.lastNotice
	}
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Broadcast sends {"t":"...","l":level,"msg":msg} to all subscribers.
// Slow clients miss messages rather than block the sender.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	payload, ok := encodeEvent(level, msg)
	if !ok {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.publish(payload)
}

// Notify implements screen.Notifier: level "info" or "error".
func (b *StatusBroadcaster) Notify(level, msg string) {
	payload, ok := encodeEvent(noticePrefix+level, msg)
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastNotice = payload
	b.publish(payload)
}

// publish requires b.mu held.
func (b *StatusBroadcaster) publish(payload string) {
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

func encodeEvent(level, msg string) (string, bool) {
	data, err := json.Marshal(StatusEvent{
		Time:  time.Now().Format(time.RFC3339),
		Level: level,
		Msg:   msg,
	})
	if err != nil {
		return "", false
	}
	return string(data), true
}

// BroadcastWriter adapts the broadcaster to io.Writer for debug.SetOutput.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		w.b.Broadcast("log", msg)
	}
	return len(p), nil
}
