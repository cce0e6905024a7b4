package store

import (
	"sync"
	"time"

	"github.com/coursekit/coursekit/internal/metrics"
)

// notifier coalesces change notifications: however many mutations land
// inside one throttle window, subscribers see a single flush. A flush
// requested while one is pending is deferred, not dropped — exactly one
// more fires after the current window closes.
type notifier struct {
	mu       sync.Mutex
	interval time.Duration
	nextID   int
	subs     map[int]func()
	pending  bool
	dirty    bool
}

func newNotifier(interval time.Duration) *notifier {
	return &notifier{
		interval: interval,
		subs:     make(map[int]func()),
	}
}

// Subscribe registers cb and returns its unsubscribe function.
func (n *notifier) Subscribe(cb func()) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = cb
	count := len(n.subs)
	n.mu.Unlock()
	metrics.SetSubscribersActive(count)

	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		count := len(n.subs)
		n.mu.Unlock()
		metrics.SetSubscribersActive(count)
	}
}

// Mark schedules a flush. If one is already pending the request is
// remembered and replayed after the window closes.
func (n *notifier) Mark() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pending {
		n.dirty = true
		return
	}
	n.pending = true
	time.AfterFunc(n.interval, n.flush)
}

func (n *notifier) flush() {
	n.mu.Lock()
	cbs := make([]func(), 0, len(n.subs))
	for _, cb := range n.subs {
		cbs = append(cbs, cb)
	}
	n.pending = false
	if n.dirty {
		n.dirty = false
		n.pending = true
		time.AfterFunc(n.interval, n.flush)
	}
	n.mu.Unlock()

	for _, cb := range cbs {
		cb()
	}
	metrics.RecordNotifyFlush()
}
