package kv

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-memory KeyValueStore. It supports named partitions and
// can simulate external changes, which makes it the backend of choice for
// tests and for processes that do not need persistence.
type Memory struct {
	mu         sync.RWMutex
	values     map[string]any
	partitions map[string]*Memory
	channel    string

	// root is the owning store of a partition; external-change listeners
	// live on the root so every partition shares one channel.
	root *Memory

	hub Hub
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values:     make(map[string]any),
		partitions: make(map[string]*Memory),
		channel:    "memory:" + uuid.NewString(),
	}
}

// Object returns the stored value for key.
func (m *Memory) Object(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

// SetObject stores value under key and notifies watchers.
func (m *Memory) SetObject(key string, value any, origin Origin) error {
	m.mu.Lock()
	if value == nil {
		delete(m.values, key)
	} else {
		m.values[key] = value
	}
	m.mu.Unlock()

	m.hub.Publish(Change{Key: key, Value: value, Present: value != nil, Origin: origin})
	return nil
}

// Watch delivers the current value for key, then every change.
func (m *Memory) Watch(key string, fn Watcher) Subscription {
	return m.hub.Watch(key, fn, func() (any, bool) { return m.Object(key) })
}

// ChannelID implements ExternalChangeNotifier.
func (m *Memory) ChannelID() string {
	return m.channel
}

// OnExternalChange implements ExternalChangeNotifier.
func (m *Memory) OnExternalChange(fn func()) Subscription {
	return m.rootStore().hub.OnExternalChange(fn)
}

func (m *Memory) rootStore() *Memory {
	if m.root != nil {
		return m.root
	}
	return m
}

// Partition returns the named partition, creating it on first use.
// Partitions share the root's external-change channel.
func (m *Memory) Partition(name string) KeyValueStore {
	root := m.rootStore()
	root.mu.Lock()
	defer root.mu.Unlock()

	if p, ok := root.partitions[name]; ok {
		return p
	}
	p := &Memory{
		values:  make(map[string]any),
		channel: root.channel,
		root:    root,
	}
	root.partitions[name] = p
	return p
}

// Load replaces values without notifying anyone, as if another process had
// written them. Nil values remove their keys.
func (m *Memory) Load(values map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		if v == nil {
			delete(m.values, k)
		} else {
			m.values[k] = v
		}
	}
}

// NotifyExternalChange fires the external-change channel shared by the
// store and its partitions.
func (m *Memory) NotifyExternalChange() {
	m.rootStore().hub.PublishExternal()
}

// ApplyExternal stores values as an external sync would: each changed key is
// published with the External origin, then the external-change channel fires.
func (m *Memory) ApplyExternal(values map[string]any) {
	m.Load(values)

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := values[k]
		m.hub.Publish(Change{Key: k, Value: v, Present: v != nil, Origin: External})
	}
	m.NotifyExternalChange()
}

// Keys returns the stored keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
