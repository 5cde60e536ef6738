// Package kv defines the key-value backend contract used to persist settings
// and provides an in-memory implementation.
//
// A backend stores untyped values under string keys and reports changes per
// key. Watch follows a replay-then-live contract: the callback receives the
// current value immediately, then every subsequent change, whether it was
// written by this process or arrived from outside (another process, another
// device).
//
// Writes carry an Origin token identifying the writer. Change events echo
// that token back so a writer can recognise and ignore its own writes.
package kv

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Errors returned by backends.
var (
	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("store closed")

	// ErrUnsupportedValue indicates the backend cannot hold the value.
	ErrUnsupportedValue = errors.New("unsupported value")
)

// Origin identifies the writer of a value.
type Origin string

// External is the origin of writes that did not come from a known writer
// in this process, and of replayed current values.
const External Origin = ""

// NewOrigin returns a fresh writer identity.
func NewOrigin() Origin {
	return Origin(uuid.NewString())
}

// Change describes the value of a key after a change.
type Change struct {
	// Key is the changed key.
	Key string

	// Value is the new stored value. Nil when Present is false.
	Value any

	// Present is false when the key was removed or never set.
	Present bool

	// Origin is the writer that caused the change.
	Origin Origin
}

// Watcher receives changes for a key.
type Watcher func(Change)

// Subscription is an owned change subscription.
type Subscription interface {
	// Unsubscribe stops delivery. It is safe to call more than once.
	Unsubscribe()
}

type funcSubscription struct {
	once   sync.Once
	cancel func()
}

func (s *funcSubscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// NewSubscription wraps cancel so it runs at most once.
func NewSubscription(cancel func()) Subscription {
	if cancel == nil {
		cancel = func() {}
	}
	return &funcSubscription{cancel: cancel}
}

// KeyValueStore is the capability every settings backend provides.
type KeyValueStore interface {
	// Object returns the stored value for key.
	Object(key string) (any, bool)

	// SetObject stores value under key. A nil value removes the key.
	SetObject(key string, value any, origin Origin) error

	// Watch delivers the current value for key, then every change to it.
	Watch(key string, fn Watcher) Subscription
}

// ExternalChangeNotifier is implemented by backends whose contents can be
// changed from outside the process.
type ExternalChangeNotifier interface {
	// ChannelID identifies the notification channel. Backends sharing
	// underlying storage return the same ID.
	ChannelID() string

	// OnExternalChange registers fn to run after a bulk external change.
	OnExternalChange(fn func()) Subscription
}

// Partitioner is implemented by backends that support named partitions.
type Partitioner interface {
	Partition(name string) KeyValueStore
}
