package kv

import (
	"sync"
)

// Hub tracks per-key watchers and external-change listeners. Backends embed
// it to implement Watch and OnExternalChange.
type Hub struct {
	mu       sync.RWMutex
	nextID   uint64
	watchers map[string][]*watcherEntry
	external []externalEntry
}

// watcherEntry holds live changes back while its replay is delivered.
type watcherEntry struct {
	id uint64
	fn Watcher

	mu        sync.Mutex
	replaying bool
	backlog   []Change
}

func (e *watcherEntry) deliver(c Change) {
	e.mu.Lock()
	if e.replaying {
		e.backlog = append(e.backlog, c)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.fn(c)
}

type externalEntry struct {
	id uint64
	fn func()
}

// AddWatcher registers fn for key and returns its subscription. It does not
// replay; use Watch for replay-then-live delivery.
func (h *Hub) AddWatcher(key string, fn Watcher) Subscription {
	return h.add(key, &watcherEntry{fn: fn})
}

// Watch registers fn for key, then delivers the value returned by read
// followed by live changes. A live change published after registration
// supersedes the replay, which is then skipped, so fn never sees a replayed
// value older than one it already received.
func (h *Hub) Watch(key string, fn Watcher, read func() (any, bool)) Subscription {
	e := &watcherEntry{fn: fn, replaying: true}
	sub := h.add(key, e)

	v, ok := read()
	e.mu.Lock()
	superseded := len(e.backlog) > 0
	e.mu.Unlock()
	if !superseded {
		fn(Change{Key: key, Value: v, Present: ok, Origin: External})
	}

	for {
		e.mu.Lock()
		if len(e.backlog) == 0 {
			e.replaying = false
			e.mu.Unlock()
			return sub
		}
		pending := e.backlog
		e.backlog = nil
		e.mu.Unlock()
		for _, c := range pending {
			fn(c)
		}
	}
}

func (h *Hub) add(key string, e *watcherEntry) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.watchers == nil {
		h.watchers = make(map[string][]*watcherEntry)
	}
	h.nextID++
	id := h.nextID
	e.id = id
	h.watchers[key] = append(h.watchers[key], e)

	return NewSubscription(func() { h.removeWatcher(key, id) })
}

func (h *Hub) removeWatcher(key string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.watchers[key]
	for i, e := range entries {
		if e.id == id {
			h.watchers[key] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(h.watchers[key]) == 0 {
		delete(h.watchers, key)
	}
}

// OnExternalChange registers fn for bulk external changes.
func (h *Hub) OnExternalChange(fn func()) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.external = append(h.external, externalEntry{id: id, fn: fn})

	return NewSubscription(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, e := range h.external {
			if e.id == id {
				h.external = append(h.external[:i:i], h.external[i+1:]...)
				return
			}
		}
	})
}

// Publish delivers change to the watchers of change.Key. Watchers run in the
// caller's goroutine, outside the hub lock.
func (h *Hub) Publish(change Change) {
	h.mu.RLock()
	entries := append([]*watcherEntry(nil), h.watchers[change.Key]...)
	h.mu.RUnlock()

	for _, e := range entries {
		e.deliver(change)
	}
}

// PublishExternal runs all external-change listeners.
func (h *Hub) PublishExternal() {
	h.mu.RLock()
	fns := make([]func(), len(h.external))
	for i, e := range h.external {
		fns[i] = e.fn
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

// WatchedKeys returns the keys that currently have watchers.
func (h *Hub) WatchedKeys() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	keys := make([]string, 0, len(h.watchers))
	for k := range h.watchers {
		keys = append(keys, k)
	}
	return keys
}
