package settings

import (
	"github.com/google/uuid"

	"github.com/dshills/storedsettings/internal/settings/store"
)

// Group is an ordered, named collection of settings that share a default
// store. Groups are values; WithLabel and WithStore return copies that
// share the same settings.
type Group struct {
	key      string
	label    string
	store    store.Store
	settings []Settable
}

// GroupOption configures NewGroup.
type GroupOption func(*Group)

// GroupKey sets the group key. Without it the key is a fresh UUID.
func GroupKey(key string) GroupOption {
	return func(g *Group) {
		g.key = key
	}
}

// GroupLabel sets the display label.
func GroupLabel(label string) GroupOption {
	return func(g *Group) {
		g.label = label
	}
}

// GroupStore sets the default store for settings that have none. Without
// it the group uses the standard store.
func GroupStore(s store.Store) GroupOption {
	return func(g *Group) {
		g.store = s
	}
}

// NewGroup creates a group over settings. Duplicate keys are allowed; a
// Manager resolves them by order.
func NewGroup(settings []Settable, opts ...GroupOption) Group {
	g := Group{settings: settings}
	for _, opt := range opts {
		opt(&g)
	}
	if g.key == "" {
		g.key = KeyFromUUID(uuid.New())
	}
	if g.store.IsZero() {
		g.store = store.Standard()
	}
	return g
}

// Key returns the group key.
func (g Group) Key() string {
	return g.key
}

// Label returns the explicit label, or "".
func (g Group) Label() string {
	return g.label
}

// DisplayLabel returns the label, or the key reformatted for display.
func (g Group) DisplayLabel() string {
	if g.label != "" {
		return g.label
	}
	return Humanize(g.key)
}

// Store returns the group's default store.
func (g Group) Store() store.Store {
	return g.store
}

// Settings returns the member settings. The slice is shared with every
// copy of the group and must not be modified.
func (g Group) Settings() []Settable {
	return g.settings
}

// Len returns the number of settings.
func (g Group) Len() int {
	return len(g.settings)
}

// Setting returns the first member with key.
func (g Group) Setting(key string) (Settable, bool) {
	for _, s := range g.settings {
		if s != nil && s.Key() == key {
			return s, true
		}
	}
	return nil, false
}

// WithLabel returns a copy with the label replaced.
func (g Group) WithLabel(label string) Group {
	g.label = label
	return g
}

// WithStore returns a copy with the default store replaced.
func (g Group) WithStore(s store.Store) Group {
	g.store = s
	return g
}
