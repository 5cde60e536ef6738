// Package store provides Store, the single logical store type a setting
// persists through, and typed access to it.
//
// A Store is one of four variants: the process's standard local store, a
// named partition of it, the cloud-synchronised store, or a custom backend.
// Variants are resolved to a kv.KeyValueStore lazily, on each call, so a
// Store value can be declared before any backend is configured.
//
// Errors stop here. Reads resolve decode failures and type mismatches to
// absence, and every swallow point is reported through the debug logger.
package store

import (
	"fmt"
	"time"

	"github.com/dshills/storedsettings/internal/logging"
	"github.com/dshills/storedsettings/internal/settings/codec"
	"github.com/dshills/storedsettings/internal/settings/kv"
)

// Variant identifies which backend a Store resolves to.
type Variant uint8

const (
	// VariantUnset is the zero Variant; the store has not been chosen.
	VariantUnset Variant = iota

	// VariantStandard is the process's default local store.
	VariantStandard

	// VariantPartition is a named partition of the standard store.
	VariantPartition

	// VariantCloud is the cloud-synchronised store.
	VariantCloud

	// VariantCustom wraps a caller-provided backend.
	VariantCustom
)

// String returns the variant name.
func (v Variant) String() string {
	switch v {
	case VariantUnset:
		return "unset"
	case VariantStandard:
		return "standard"
	case VariantPartition:
		return "partition"
	case VariantCloud:
		return "cloud"
	case VariantCustom:
		return "custom"
	default:
		return fmt.Sprintf("Variant(%d)", v)
	}
}

// Store selects a backend. The zero value is unset. Stores are comparable.
type Store struct {
	variant Variant
	name    string
	backend kv.KeyValueStore
}

// Standard returns the standard local store.
func Standard() Store {
	return Store{variant: VariantStandard}
}

// Partition returns the named partition of the standard store.
func Partition(name string) Store {
	return Store{variant: VariantPartition, name: name}
}

// Cloud returns the cloud-synchronised store.
func Cloud() Store {
	return Store{variant: VariantCloud}
}

// Custom returns a store backed by b. A nil backend yields the zero Store.
func Custom(b kv.KeyValueStore) Store {
	if b == nil {
		return Store{}
	}
	return Store{variant: VariantCustom, backend: b}
}

// IsZero reports whether no store has been chosen.
func (s Store) IsZero() bool {
	return s.variant == VariantUnset
}

// Variant returns the store variant.
func (s Store) Variant() Variant {
	return s.variant
}

// Name returns the partition name, or "" for other variants.
func (s Store) Name() string {
	return s.name
}

// String describes the store.
func (s Store) String() string {
	if s.variant == VariantPartition {
		return "partition:" + s.name
	}
	return s.variant.String()
}

// Backend resolves the store to its backend. It reports false for the zero
// Store.
func (s Store) Backend() (kv.KeyValueStore, bool) {
	switch s.variant {
	case VariantStandard:
		return standardBackend(), true
	case VariantPartition:
		std := standardBackend()
		if p, ok := std.(kv.Partitioner); ok {
			return p.Partition(s.name), true
		}
		return std, true
	case VariantCloud:
		return cloudBackend(), true
	case VariantCustom:
		return s.backend, true
	default:
		return nil, false
	}
}

// ExternalChanges returns the backend's external-change channel, if any.
func (s Store) ExternalChanges() (kv.ExternalChangeNotifier, bool) {
	b, ok := s.Backend()
	if !ok {
		return nil, false
	}
	n, ok := b.(kv.ExternalChangeNotifier)
	return n, ok
}

// Object returns the raw stored value for key.
func (s Store) Object(key string) (any, bool) {
	b, ok := s.Backend()
	if !ok {
		return nil, false
	}
	return b.Object(key)
}

// Watch delivers the raw value for key now and on every change. An unset
// store delivers nothing and returns an inert subscription.
func (s Store) Watch(key string, fn kv.Watcher) kv.Subscription {
	b, ok := s.Backend()
	if !ok {
		return kv.NewSubscription(nil)
	}
	return b.Watch(key, fn)
}

// Remove clears key.
func (s Store) Remove(key string, origin kv.Origin) error {
	b, ok := s.Backend()
	if !ok {
		return ErrUnresolved
	}
	if err := b.SetObject(key, nil, origin); err != nil {
		return fmt.Errorf("removing %q from %s store: %w", key, s, err)
	}
	return nil
}

// Get reads key as T. It reports false when the key is absent, holds a
// value of another shape, or cannot be decoded.
func Get[T any](s Store, key string) (T, bool) {
	var zero T
	raw, ok := s.Object(key)
	if !ok {
		return zero, false
	}
	v, err := codec.DecodeErr[T](raw)
	if err != nil {
		logging.Logger().Debug("stored value unreadable", "key", key, "store", s.String(), "error", err)
		return zero, false
	}
	return v, true
}

// Set writes v under key, tagged with origin. Native kinds are stored as
// is; everything else is stored as an encoded blob.
func Set[T any](s Store, key string, v T, origin kv.Origin) error {
	b, ok := s.Backend()
	if !ok {
		return ErrUnresolved
	}
	raw, err := codec.Encode(v)
	if err != nil {
		return fmt.Errorf("storing %q: %w", key, err)
	}
	if err := b.SetObject(key, raw, origin); err != nil {
		return fmt.Errorf("storing %q in %s store: %w", key, s, err)
	}
	return nil
}

// Bool returns the boolean at key, or false.
func (s Store) Bool(key string) bool {
	v, _ := Get[bool](s, key)
	return v
}

// Int returns the integer at key, or 0.
func (s Store) Int(key string) int {
	v, _ := Get[int](s, key)
	return v
}

// Float64 returns the floating-point value at key, or 0.
func (s Store) Float64(key string) float64 {
	v, _ := Get[float64](s, key)
	return v
}

// StringValue returns the string at key, or "".
func (s Store) StringValue(key string) string {
	v, _ := Get[string](s, key)
	return v
}

// Date returns the timestamp at key, or the zero time.
func (s Store) Date(key string) time.Time {
	v, _ := Get[time.Time](s, key)
	return v
}
