// Package eventfs decorates an fsabs.FS with change notification: every
// successful Write, Move, or Delete through the decorator is published
// on an Events channel, and (when watching a native root) external
// edits made outside the decorator — a user editing a file directly
// with their own editor — are picked up via fsnotify and published the
// same way.
package eventfs

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/noteflow/syncd/internal/fsabs"
)

// EventKind identifies what happened to Event.Path.
type EventKind int

const (
	EventWrite EventKind = iota
	EventMove
	EventDelete
)

// Event is one change notification. For EventMove, Path is the new
// path and OldPath the previous one.
type Event struct {
	Kind    EventKind
	Path    string
	OldPath string
	Time    time.Time
}

// FS decorates an underlying fsabs.FS, publishing an Event for every
// write it performs, unless the path is currently suppressed by
// MarkSyncWriteStart.
type FS struct {
	fsabs.FS

	logger *slog.Logger

	mu          sync.Mutex
	suppressed  map[string]int
	subscribers []chan<- Event

	watcher *fsnotify.Watcher
	root    string
}

// New wraps inner with event emission. logger may be nil.
func New(inner fsabs.FS, logger *slog.Logger) *FS {
	if logger == nil {
		logger = slog.Default()
	}

	return &FS{FS: inner, logger: logger, suppressed: make(map[string]int)}
}

// Subscribe registers ch to receive every future event. Delivery is
// non-blocking: a subscriber that falls behind misses events rather
// than stalling writers, matching the drop-on-overflow discipline used
// for room peer outbound queues.
func (f *FS) Subscribe(ch chan<- Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subscribers = append(f.subscribers, ch)
}

func (f *FS) publish(ev Event) {
	f.mu.Lock()
	subs := append([]chan<- Event(nil), f.subscribers...)
	f.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			f.logger.Warn("dropping filesystem event, subscriber channel full", slog.String("path", ev.Path))
		}
	}
}

// MarkSyncWriteStart suppresses event emission for path until the
// matching MarkSyncWriteEnd, so applying a remote CRDT update to local
// storage does not get fed back into the CRDT layer as a new local
// edit. Suppression nests: concurrent sync writes to the same path each
// hold their own suppression count.
func (f *FS) MarkSyncWriteStart(path string) {
	f.mu.Lock()
	f.suppressed[path]++
	f.mu.Unlock()

	f.FS.MarkSyncWriteStart(path)
}

func (f *FS) MarkSyncWriteEnd(path string) {
	f.mu.Lock()
	if f.suppressed[path] > 0 {
		f.suppressed[path]--
		if f.suppressed[path] == 0 {
			delete(f.suppressed, path)
		}
	}
	f.mu.Unlock()

	f.FS.MarkSyncWriteEnd(path)
}

func (f *FS) isSuppressed(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.suppressed[path] > 0
}

func (f *FS) Write(ctx context.Context, path string, data []byte) error {
	if err := f.FS.Write(ctx, path, data); err != nil {
		return err
	}

	if !f.isSuppressed(path) {
		f.publish(Event{Kind: EventWrite, Path: path, Time: time.Now()})
	}

	return nil
}

func (f *FS) Move(ctx context.Context, oldPath, newPath string) error {
	if err := f.FS.Move(ctx, oldPath, newPath); err != nil {
		return err
	}

	if !f.isSuppressed(newPath) {
		f.publish(Event{Kind: EventMove, Path: newPath, OldPath: oldPath, Time: time.Now()})
	}

	return nil
}

func (f *FS) Delete(ctx context.Context, path string) error {
	if err := f.FS.Delete(ctx, path); err != nil {
		return err
	}

	if !f.isSuppressed(path) {
		f.publish(Event{Kind: EventDelete, Path: path, Time: time.Now()})
	}

	return nil
}

// WatchNative starts an fsnotify watcher rooted at root, publishing
// Write/Delete events for changes fsnotify observes that did not come
// through this decorator (an external editor, a restored backup). The
// returned stop function closes the watcher; callers should defer it.
func (f *FS) WatchNative(root string) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	f.watcher = watcher
	f.root = root

	if err := watcher.Add(root); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})

	go f.watchLoop(done)

	return func() {
		watcher.Close()
		<-done
	}, nil
}

func (f *FS) watchLoop(done chan struct{}) {
	defer close(done)

	for {
		select {
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}

			f.handleNativeEvent(ev)

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}

			f.logger.Warn("fsnotify error", slog.String("error", err.Error()))
		}
	}
}

func (f *FS) handleNativeEvent(ev fsnotify.Event) {
	rel := strings.TrimPrefix(strings.TrimPrefix(ev.Name, f.root), "/")

	if f.isSuppressed(rel) {
		return
	}

	switch {
	case ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create):
		f.publish(Event{Kind: EventWrite, Path: rel, Time: time.Now()})
	case ev.Has(fsnotify.Remove):
		f.publish(Event{Kind: EventDelete, Path: rel, Time: time.Now()})
	}
}

var _ fsabs.FS = (*FS)(nil)
