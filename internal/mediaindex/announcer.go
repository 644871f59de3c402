package mediaindex

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cjeanneret/photobox/internal/debug"
)

// Announcer tells the media index that a new file exists. It never reports
// back; failures are logged.
type Announcer interface {
	Announce(path string)
}

// QueueAnnouncer records announcements on a single background worker so
// the caller never waits on the database.
type QueueAnnouncer struct {
	index   *Index
	queue   chan string
	now     func() time.Time
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	onStore func(Entry, error) // test hook
}

// NewQueueAnnouncer starts the worker. size bounds pending announcements;
// further announcements are dropped with a log line.
func NewQueueAnnouncer(index *Index, size int) *QueueAnnouncer {
	if size <= 0 {
		size = 1
	}
	a := &QueueAnnouncer{
		index: index,
		queue: make(chan string, size),
		now:   time.Now,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *QueueAnnouncer) Announce(path string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		debug.Info("media index closed, dropping announcement for %s", path)
		return
	}
	select {
	case a.queue <- path:
	default:
		debug.Info("media index queue full, dropping announcement for %s", path)
	}
}

// Close stops accepting announcements and waits for queued ones to be stored.
func (a *QueueAnnouncer) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *QueueAnnouncer) run() {
	defer a.wg.Done()
	for path := range a.queue {
		e, err := a.store(path)
		if err != nil {
			debug.Error(err)
		} else {
			debug.Announce(path)
		}
		if a.onStore != nil {
			a.onStore(e, err)
		}
	}
}

func (a *QueueAnnouncer) store(path string) (Entry, error) {
	e := Entry{
		Path:        path,
		Album:       filepath.Base(filepath.Dir(path)),
		AnnouncedAt: a.now(),
	}
	info, err := os.Stat(path)
	if err != nil {
		return e, err
	}
	e.SizeBytes = info.Size()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e, a.index.Record(ctx, e)
}
