// Package notify fans setting changes out to observers.
//
// A Notifier backs each Setting's Observe and the Manager-wide change feed.
// Observers run in the order they subscribed.
package notify

import (
	"slices"
	"sync"
)

// Source identifies what caused a change.
type Source int

const (
	// SourceLocal indicates the application wrote the value.
	SourceLocal Source = iota

	// SourceStore indicates the backing store delivered a new value.
	SourceStore

	// SourceRefresh indicates the value was pulled during a refresh.
	SourceRefresh
)

// String returns the source name.
func (s Source) String() string {
	switch s {
	case SourceLocal:
		return "local"
	case SourceStore:
		return "store"
	case SourceRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

// Change represents a setting value change event.
type Change struct {
	// Key is the key of the changed setting.
	Key string

	// OldValue is the previous value.
	OldValue any

	// NewValue is the current value.
	NewValue any

	// Source identifies where the change came from.
	Source Source
}

// Observer is called when a setting changes.
type Observer func(change Change)

// Subscription represents an active observer subscription.
type Subscription struct {
	id       uint64
	key      string
	notifier *Notifier
	once     sync.Once
}

// Unsubscribe removes this subscription. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.notifier == nil {
		return
	}
	s.once.Do(func() {
		s.notifier.remove(s.id)
	})
}

// Key returns the key the subscription is bound to, or "" for global ones.
func (s *Subscription) Key() string {
	return s.key
}

type observerEntry struct {
	id     uint64
	key    string
	global bool
	fn     Observer
}

// Notifier fans changes out to observers in subscription order.
//
// The observer list is copied on every subscribe and unsubscribe, so
// delivery iterates a snapshot without holding the lock and an observer may
// subscribe or unsubscribe from inside its callback.
type Notifier struct {
	mu        sync.Mutex
	observers []observerEntry
	nextID    uint64
	closed    bool

	// queue is non-nil in async mode.
	queue chan Change
	stop  chan struct{}
	wg    sync.WaitGroup
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithAsync delivers changes from a single goroutine through a queue of
// bufferSize changes. Order is preserved; Notify blocks while the queue is
// full.
func WithAsync(bufferSize int) Option {
	return func(n *Notifier) {
		if bufferSize > 0 {
			n.queue = make(chan Change, bufferSize)
		}
	}
}

// New creates a Notifier. Without options delivery happens on the caller's
// goroutine.
func New(opts ...Option) *Notifier {
	n := &Notifier{stop: make(chan struct{})}
	for _, opt := range opts {
		opt(n)
	}
	if n.queue != nil {
		n.wg.Add(1)
		go n.drain()
	}
	return n
}

// Subscribe registers an observer for all changes.
func (n *Notifier) Subscribe(observer Observer) *Subscription {
	return n.add(observerEntry{global: true, fn: observer})
}

// SubscribeKey registers an observer for changes to a single key.
func (n *Notifier) SubscribeKey(key string, observer Observer) *Subscription {
	return n.add(observerEntry{key: key, fn: observer})
}

func (n *Notifier) add(e observerEntry) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	e.id = n.nextID
	next := make([]observerEntry, len(n.observers), len(n.observers)+1)
	copy(next, n.observers)
	n.observers = append(next, e)
	return &Subscription{id: e.id, key: e.key, notifier: n}
}

func (n *Notifier) remove(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	i := slices.IndexFunc(n.observers, func(e observerEntry) bool { return e.id == id })
	if i < 0 {
		return
	}
	n.observers = slices.Delete(slices.Clone(n.observers), i, i+1)
}

// Notify delivers change to every global observer and to the observers of
// change.Key. It does nothing after Close.
func (n *Notifier) Notify(change Change) {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return
	}

	if n.queue == nil {
		n.deliver(change)
		return
	}
	select {
	case n.queue <- change:
	case <-n.stop:
	}
}

// Len returns the number of active subscriptions.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.observers)
}

// Close stops delivery. Changes already queued in async mode are delivered
// before Close returns. Close is idempotent.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()

	close(n.stop)
	n.wg.Wait()
}

func (n *Notifier) deliver(change Change) {
	n.mu.Lock()
	snapshot := n.observers
	n.mu.Unlock()

	for _, e := range snapshot {
		if e.global || e.key == change.Key {
			e.fn(change)
		}
	}
}

func (n *Notifier) drain() {
	defer n.wg.Done()
	for {
		select {
		case change := <-n.queue:
			n.deliver(change)
		case <-n.stop:
			for {
				select {
				case change := <-n.queue:
					n.deliver(change)
				default:
					return
				}
			}
		}
	}
}
