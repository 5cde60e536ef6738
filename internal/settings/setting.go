package settings

import (
	"sync"

	"github.com/dshills/storedsettings/internal/logging"
	"github.com/dshills/storedsettings/internal/settings/codec"
	"github.com/dshills/storedsettings/internal/settings/dispatch"
	"github.com/dshills/storedsettings/internal/settings/kv"
	"github.com/dshills/storedsettings/internal/settings/notify"
	"github.com/dshills/storedsettings/internal/settings/store"
)

var defaultDispatcher dispatch.Dispatcher = dispatch.NewSync()

// SettingOption configures a Setting at construction.
type SettingOption func(*settingOptions)

type settingOptions struct {
	label string
	store store.Store
}

// WithLabel sets the display label.
func WithLabel(label string) SettingOption {
	return func(o *settingOptions) {
		o.label = label
	}
}

// WithStore pins the setting to a store, overriding its group's.
func WithStore(s store.Store) SettingOption {
	return func(o *settingOptions) {
		o.store = s
	}
}

// Setting is a single typed, observable, persisted value.
//
// Locking: opMu serialises SetValue, Refresh, SetStore and Close, so a
// refresh never reads the store between a write's update and its persist.
// mu guards the fields below it and is never held while calling out.
// Observers run after opMu is released.
type Setting[T comparable] struct {
	key    string
	label  string
	config *Configuration[T]
	origin kv.Origin
	pinned store.Store

	notifier *notify.Notifier

	opMu sync.Mutex

	mu         sync.RWMutex
	value      T
	store      store.Store
	sub        kv.Subscription
	generation uint64
	dispatcher dispatch.Dispatcher
	warned     bool

	// subscribing is set while Refresh installs the store subscription;
	// changes arriving then are kept in pending and applied by Refresh.
	subscribing bool
	pending     []kv.Change
}

func newSetting[T comparable](key string, value T, config *Configuration[T], opts []SettingOption) *Setting[T] {
	var o settingOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Setting[T]{
		key:        key,
		label:      o.label,
		config:     config,
		origin:     kv.NewOrigin(),
		pinned:     o.store,
		notifier:   notify.New(),
		value:      value,
		store:      o.store,
		dispatcher: defaultDispatcher,
	}
}

// New creates a setting holding def until a stored value is read.
func New[T comparable](key string, def T, opts ...SettingOption) *Setting[T] {
	return newSetting(key, def, nil, opts)
}

// NewWithChoices creates a setting limited to choices, starting at
// choices[defaultIndex]. It returns false when choices is empty or the
// index is out of range.
func NewWithChoices[T comparable](key string, choices []T, defaultIndex int, opts ...SettingOption) (*Setting[T], bool) {
	if len(choices) == 0 || defaultIndex < 0 || defaultIndex >= len(choices) {
		logging.Logger().Debug("invalid choices", "key", key, "count", len(choices), "default_index", defaultIndex)
		return nil, false
	}
	options := make([]Option[T], len(choices))
	for i, c := range choices {
		options[i] = OptionFor(c)
	}
	options[defaultIndex].IsDefault = true
	return newSetting(key, choices[defaultIndex], &Configuration[T]{Options: options}, opts), true
}

// NewWithOptions creates a setting limited to options. The first option
// marked default supplies the initial value, else the first option. It
// returns false when options is empty.
func NewWithOptions[T comparable](key string, options []Option[T], opts ...SettingOption) (*Setting[T], bool) {
	if len(options) == 0 {
		logging.Logger().Debug("empty options", "key", key)
		return nil, false
	}
	owned := append([]Option[T](nil), options...)
	return newSetting(key, defaultOption(owned).Value, &Configuration[T]{Options: owned}, opts), true
}

// NewBounded creates a numeric setting constrained to [lower, upper].
func NewBounded[T Number](key string, def, lower, upper T, opts ...SettingOption) *Setting[T] {
	return newSetting(key, def, &Configuration[T]{Bounds: &ValueBounds[T]{Lower: lower, Upper: upper}}, opts)
}

// NewStepped creates a numeric setting constrained to [lower, upper] that
// moves in increments of step.
func NewStepped[T Number](key string, def, lower, upper, step T, opts ...SettingOption) *Setting[T] {
	return newSetting(key, def, &Configuration[T]{
		Bounds: &ValueBounds[T]{Lower: lower, Upper: upper},
		Step:   &step,
	}, opts)
}

// Key returns the setting key.
func (s *Setting[T]) Key() string {
	return s.key
}

// Label returns the explicit label, or "".
func (s *Setting[T]) Label() string {
	return s.label
}

// DisplayLabel returns the label, or the key reformatted for display.
func (s *Setting[T]) DisplayLabel() string {
	if s.label != "" {
		return s.label
	}
	return Humanize(s.key)
}

// Configuration returns the options or bounds, or nil.
func (s *Setting[T]) Configuration() *Configuration[T] {
	return s.config
}

// Origin returns the token this setting tags its writes with.
func (s *Setting[T]) Origin() kv.Origin {
	return s.origin
}

// Value returns the current value.
func (s *Setting[T]) Value() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// AnyValue returns the current value as any.
func (s *Setting[T]) AnyValue() any {
	return s.Value()
}

// SetValue writes v. Writing the current value does nothing. Otherwise the
// value is updated and written to the store, then observers are notified.
// Observers therefore see the store already holding v.
func (s *Setting[T]) SetValue(v T) {
	s.opMu.Lock()

	s.mu.Lock()
	if s.value == v {
		s.mu.Unlock()
		s.opMu.Unlock()
		return
	}
	old := s.value
	s.value = v
	st := s.store
	s.mu.Unlock()

	s.persist(st, v)
	s.opMu.Unlock()

	s.notifier.Notify(notify.Change{Key: s.key, OldValue: old, NewValue: v, Source: notify.SourceLocal})
}

// SetAnyValue writes v if it is a T, or a native value convertible to T.
// It reports whether v was accepted.
func (s *Setting[T]) SetAnyValue(v any) bool {
	tv, ok := v.(T)
	if !ok {
		if !codec.IsNative[T]() {
			return false
		}
		if tv, ok = codec.Decode[T](v); !ok {
			return false
		}
	}
	s.SetValue(tv)
	return true
}

func (s *Setting[T]) persist(st store.Store, v T) {
	if st.IsZero() {
		s.warnUnresolved()
		return
	}
	if err := store.Set(st, s.key, v, s.origin); err != nil {
		logging.Logger().Debug("setting not persisted", "key", s.key, "store", st.String(), "error", err)
	}
}

func (s *Setting[T]) warnUnresolved() {
	s.mu.Lock()
	warned := s.warned
	s.warned = true
	s.mu.Unlock()
	if !warned {
		logging.Logger().Warn("setting has no store, keeping value in memory", "key", s.key)
	}
}

// Store returns the assigned store. The zero Store means none.
func (s *Setting[T]) Store() store.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store
}

// SetStore assigns the store. Call Refresh to read from it.
func (s *Setting[T]) SetStore(st store.Store) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	s.store = st
	if !st.IsZero() {
		s.warned = false
	}
	s.mu.Unlock()
}

// pinnedStore returns the store given at construction, which wins over a
// group's store.
func (s *Setting[T]) pinnedStore() store.Store {
	return s.pinned
}

func (s *Setting[T]) setDispatcher(d dispatch.Dispatcher) {
	if d == nil {
		d = defaultDispatcher
	}
	s.mu.Lock()
	s.dispatcher = d
	s.mu.Unlock()
}

// Refresh pulls the stored value, adopting it without writing it back, then
// replaces the store subscription. It is safe to call repeatedly.
func (s *Setting[T]) Refresh() {
	s.opMu.Lock()

	s.mu.Lock()
	st := s.store
	old := s.sub
	s.sub = nil
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	if old != nil {
		old.Unsubscribe()
	}
	if st.IsZero() {
		s.opMu.Unlock()
		s.warnUnresolved()
		return
	}

	var changes []notify.Change
	if v, ok := store.Get[T](st, s.key); ok {
		s.mu.Lock()
		if s.value != v {
			changes = append(changes, notify.Change{Key: s.key, OldValue: s.value, NewValue: v, Source: notify.SourceRefresh})
			s.value = v
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.subscribing = true
	s.mu.Unlock()

	sub := st.Watch(s.key, func(c kv.Change) { s.receive(gen, c) })

	s.mu.Lock()
	s.subscribing = false
	pending := s.pending
	s.pending = nil
	if s.generation == gen {
		s.sub = sub
		sub = nil
		for _, c := range pending {
			v, err := codec.DecodeErr[T](c.Value)
			if err != nil {
				logging.Logger().Debug("ignoring store change", "key", s.key, "error", err)
				continue
			}
			if s.value != v {
				changes = append(changes, notify.Change{Key: s.key, OldValue: s.value, NewValue: v, Source: notify.SourceRefresh})
				s.value = v
			}
		}
	}
	s.mu.Unlock()
	if sub != nil {
		// Closed or refreshed again while subscribing.
		sub.Unsubscribe()
	}
	s.opMu.Unlock()

	for _, c := range changes {
		s.notifier.Notify(c)
	}
}

// receive runs on the backend's goroutine. Own echoes are dropped there.
// Changes that arrive while Refresh is subscribing are left to Refresh;
// everything else is applied on the dispatcher.
func (s *Setting[T]) receive(gen uint64, c kv.Change) {
	if c.Origin == s.origin {
		return
	}
	if !c.Present {
		return
	}

	s.mu.Lock()
	if s.subscribing && s.generation == gen {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return
	}
	d := s.dispatcher
	s.mu.Unlock()

	d.Dispatch(func() { s.apply(gen, c) })
}

func (s *Setting[T]) apply(gen uint64, c kv.Change) {
	v, err := codec.DecodeErr[T](c.Value)
	if err != nil {
		logging.Logger().Debug("ignoring store change", "key", s.key, "error", err)
		return
	}

	s.mu.Lock()
	if s.generation != gen || s.value == v {
		s.mu.Unlock()
		return
	}
	old := s.value
	s.value = v
	s.mu.Unlock()

	s.notifier.Notify(notify.Change{Key: s.key, OldValue: old, NewValue: v, Source: notify.SourceStore})
}

// Observe registers fn for every change of the value.
func (s *Setting[T]) Observe(fn notify.Observer) *notify.Subscription {
	return s.notifier.Subscribe(fn)
}

// Binding returns a two-way accessor for the value.
func (s *Setting[T]) Binding() *Binding[T] {
	return &Binding[T]{setting: s}
}

// Publisher returns a read-only change feed for the value.
func (s *Setting[T]) Publisher() *Publisher[T] {
	return &Publisher[T]{setting: s}
}

// Close drops the store subscription. The setting keeps working in memory
// and a later Refresh subscribes again.
func (s *Setting[T]) Close() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.generation++
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// Settable is the type-erased view of a Setting used by groups and
// managers. Only Setting implements it; As recovers the typed form.
type Settable interface {
	Key() string
	Label() string
	DisplayLabel() string
	Kind() ControlKind
	Store() store.Store
	SetStore(store.Store)
	Refresh()
	Close()
	AnyValue() any
	SetAnyValue(v any) bool
	Observe(fn notify.Observer) *notify.Subscription

	pinnedStore() store.Store
	setDispatcher(d dispatch.Dispatcher)
}

// As returns s as a *Setting[T] when it holds a T.
func As[T comparable](s Settable) (*Setting[T], bool) {
	typed, ok := s.(*Setting[T])
	return typed, ok && typed != nil
}
