package settings

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dshills/storedsettings/internal/logging"
	"github.com/dshills/storedsettings/internal/settings/dispatch"
	"github.com/dshills/storedsettings/internal/settings/kv"
	"github.com/dshills/storedsettings/internal/settings/notify"
)

// Manager owns the configured groups, routes lookups by key and keeps every
// setting in step with its store's external changes.
type Manager struct {
	configMu sync.Mutex

	mu         sync.RWMutex
	groups     []Group
	configured []Settable
	fanout     []kv.Subscription
	forwarders []*notify.Subscription

	dispatcher dispatch.Dispatcher
	log        *log.Logger
	notifier   *notify.Notifier
}

// ManagerOption configures NewManager.
type ManagerOption func(*Manager)

// WithDispatcher sets where store callbacks and refreshes run. The default
// runs them inline on the backend's goroutine.
func WithDispatcher(d dispatch.Dispatcher) ManagerOption {
	return func(m *Manager) {
		m.dispatcher = d
	}
}

// WithLogger sets the manager's logger.
func WithLogger(l *log.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = l
	}
}

// NewManager creates an empty manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		dispatcher: defaultDispatcher,
		notifier:   notify.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dispatcher == nil {
		m.dispatcher = defaultDispatcher
	}
	if m.log == nil {
		m.log = logging.Component("manager")
	}
	return m
}

var (
	sharedMu sync.Mutex
	shared   *Manager
)

// Shared returns the process-wide manager, creating it on first use.
func Shared() *Manager {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		shared = NewManager()
	}
	return shared
}

// ResetShared closes the process-wide manager so the next Shared call
// creates a fresh one.
func ResetShared() {
	sharedMu.Lock()
	m := shared
	shared = nil
	sharedMu.Unlock()
	if m != nil {
		m.Close()
	}
}

// Configure replaces the manager's groups. Each setting is assigned its own
// store or else its group's, then refreshed in order. Afterwards one
// listener per distinct external-change channel refreshes every setting
// when that channel fires.
func (m *Manager) Configure(groups ...Group) {
	m.configMu.Lock()
	defer m.configMu.Unlock()

	var all []Settable
	kept := make(map[Settable]bool)
	for _, g := range groups {
		for _, s := range g.Settings() {
			if s == nil || kept[s] {
				continue
			}
			kept[s] = true
			all = append(all, s)
		}
	}

	m.mu.Lock()
	m.teardownLocked()
	previous := m.configured
	m.groups = append([]Group(nil), groups...)
	m.configured = all
	m.mu.Unlock()

	for _, s := range previous {
		if !kept[s] {
			s.Close()
		}
	}

	forwarders := make([]*notify.Subscription, 0, len(all))
	for _, s := range all {
		forwarders = append(forwarders, s.Observe(m.notifier.Notify))
	}

	channels := make(map[string]kv.ExternalChangeNotifier)
	var order []string
	resolved := make(map[Settable]bool, len(all))
	for _, g := range groups {
		for _, s := range g.Settings() {
			// A setting listed in several groups takes the first group's store.
			if s == nil || resolved[s] {
				continue
			}
			resolved[s] = true
			st := s.pinnedStore()
			if st.IsZero() {
				st = g.Store()
			}
			s.SetStore(st)
			s.setDispatcher(m.dispatcher)
			s.Refresh()

			if n, ok := st.ExternalChanges(); ok {
				id := n.ChannelID()
				if _, seen := channels[id]; !seen {
					channels[id] = n
					order = append(order, id)
				}
			}
		}
	}

	fanout := make([]kv.Subscription, 0, len(order))
	for _, id := range order {
		fanout = append(fanout, channels[id].OnExternalChange(func() {
			m.dispatcher.Dispatch(func() { m.refreshAll(id) })
		}))
	}

	m.mu.Lock()
	m.forwarders = forwarders
	m.fanout = fanout
	m.mu.Unlock()

	m.log.Debug("configured", "groups", len(groups), "settings", len(all), "channels", len(order))
}

func (m *Manager) refreshAll(channel string) {
	m.mu.RLock()
	all := append([]Settable(nil), m.configured...)
	m.mu.RUnlock()

	m.log.Debug("external change, refreshing", "channel", channel, "settings", len(all))
	for _, s := range all {
		s.Refresh()
	}
}

func (m *Manager) teardownLocked() {
	for _, sub := range m.fanout {
		sub.Unsubscribe()
	}
	m.fanout = nil
	for _, sub := range m.forwarders {
		sub.Unsubscribe()
	}
	m.forwarders = nil
}

// Groups returns the configured groups in order.
func (m *Manager) Groups() []Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Group(nil), m.groups...)
}

// Group returns the first group with key.
func (m *Manager) Group(key string) (Group, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.groups {
		if g.Key() == key {
			return g, true
		}
	}
	return Group{}, false
}

// Setting returns the first configured setting with key, searching groups
// in order.
func (m *Manager) Setting(key string) (Settable, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.groups {
		if s, ok := g.Setting(key); ok {
			return s, true
		}
	}
	return nil, false
}

// Keys returns every distinct setting key in lookup order.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var keys []string
	for _, g := range m.groups {
		for _, s := range g.Settings() {
			if s == nil || seen[s.Key()] {
				continue
			}
			seen[s.Key()] = true
			keys = append(keys, s.Key())
		}
	}
	return keys
}

// Bool returns the value of the bool setting key, or false.
func (m *Manager) Bool(key string) bool {
	v, _ := Value[bool](m, key)
	return v
}

// Int returns the value of the int setting key, or 0.
func (m *Manager) Int(key string) int {
	v, _ := Value[int](m, key)
	return v
}

// Float64 returns the value of the float64 setting key, or 0.
func (m *Manager) Float64(key string) float64 {
	v, _ := Value[float64](m, key)
	return v
}

// String returns the value of the string setting key, or "".
func (m *Manager) String(key string) string {
	v, _ := Value[string](m, key)
	return v
}

// Date returns the value of the time setting key, or the zero time.
func (m *Manager) Date(key string) time.Time {
	v, _ := Value[time.Time](m, key)
	return v
}

// SetAnyValue writes v to the setting key.
func (m *Manager) SetAnyValue(key string, v any) error {
	s, ok := m.Setting(key)
	if !ok {
		return &LookupError{Key: key, Err: ErrNotFound}
	}
	if !s.SetAnyValue(v) {
		return &LookupError{Key: key, Want: fmt.Sprintf("%T", s.AnyValue()), Err: ErrTypeMismatch}
	}
	return nil
}

// Observe registers fn for changes to any configured setting.
func (m *Manager) Observe(fn notify.Observer) *notify.Subscription {
	return m.notifier.Subscribe(fn)
}

// ObserveKey registers fn for changes to the setting key.
func (m *Manager) ObserveKey(key string, fn notify.Observer) *notify.Subscription {
	return m.notifier.SubscribeKey(key, fn)
}

// Close drops every store subscription. Settings keep their values in
// memory; Configure may be called again.
func (m *Manager) Close() {
	m.configMu.Lock()
	defer m.configMu.Unlock()

	m.mu.Lock()
	m.teardownLocked()
	all := m.configured
	m.configured = nil
	m.groups = nil
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

// SettingFor returns the setting key when it holds a T.
func SettingFor[T comparable](m *Manager, key string) (*Setting[T], bool) {
	s, ok := m.Setting(key)
	if !ok {
		return nil, false
	}
	typed, ok := As[T](s)
	if !ok {
		m.log.Debug("setting type mismatch", "key", key, "want", fmt.Sprintf("%T", *new(T)), "have", fmt.Sprintf("%T", s.AnyValue()))
	}
	return typed, ok
}

// Value returns the value of the setting key when it holds a T.
func Value[T comparable](m *Manager, key string) (T, bool) {
	s, ok := SettingFor[T](m, key)
	if !ok {
		var zero T
		return zero, false
	}
	return s.Value(), true
}

// Set writes v to the setting key and reports whether a T setting was
// found.
func Set[T comparable](m *Manager, key string, v T) bool {
	s, ok := SettingFor[T](m, key)
	if !ok {
		return false
	}
	s.SetValue(v)
	return true
}

// BindingFor returns a binding to the setting key when it holds a T.
func BindingFor[T comparable](m *Manager, key string) (*Binding[T], bool) {
	s, ok := SettingFor[T](m, key)
	if !ok {
		return nil, false
	}
	return s.Binding(), true
}

// Values returns a change feed for the setting key when it holds a T.
func Values[T comparable](m *Manager, key string) (*Publisher[T], bool) {
	s, ok := SettingFor[T](m, key)
	if !ok {
		return nil, false
	}
	return s.Publisher(), true
}

// RepresentedValue returns the setting key as a case of e.
func RepresentedValue[C comparable, R comparable](m *Manager, key string, e Enum[C, R]) (C, bool) {
	s, ok := SettingFor[R](m, key)
	if !ok {
		var zero C
		return zero, false
	}
	return Represented(s, e)
}

// RepresentedValues returns a change feed of the setting key as cases of e.
func RepresentedValues[C comparable, R comparable](m *Manager, key string, e Enum[C, R]) (*RepresentedPublisher[C, R], bool) {
	p, ok := Values[R](m, key)
	if !ok {
		return nil, false
	}
	return &RepresentedPublisher[C, R]{raw: p, enum: e}, true
}

// Stored returns a binding to the setting key and panics when no T setting
// is registered under it. Use it for settings the program cannot run
// without; BindingFor is the non-panicking form.
func Stored[T comparable](m *Manager, key string) *Binding[T] {
	if _, ok := m.Setting(key); !ok {
		panic(fmt.Sprintf("settings: no setting registered for key %q", key))
	}
	b, ok := BindingFor[T](m, key)
	if !ok {
		panic(fmt.Sprintf("settings: setting %q does not hold %T", key, *new(T)))
	}
	return b
}
