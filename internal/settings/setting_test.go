package settings

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dshills/storedsettings/internal/logging"
	"github.com/dshills/storedsettings/internal/settings/dispatch"
	"github.com/dshills/storedsettings/internal/settings/kv"
	"github.com/dshills/storedsettings/internal/settings/notify"
	"github.com/dshills/storedsettings/internal/settings/store"
)

func TestMain(m *testing.M) {
	logging.Discard()
	store.SetStandardBackend(kv.NewMemory())
	m.Run()
}

// spyStore records writes on top of a Memory backend.
type spyStore struct {
	*kv.Memory

	mu     sync.Mutex
	writes []kv.Change
}

func newSpy() *spyStore {
	return &spyStore{Memory: kv.NewMemory()}
}

func (s *spyStore) SetObject(key string, value any, origin kv.Origin) error {
	s.mu.Lock()
	s.writes = append(s.writes, kv.Change{Key: key, Value: value, Present: value != nil, Origin: origin})
	s.mu.Unlock()
	return s.Memory.SetObject(key, value, origin)
}

func (s *spyStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

// recorder collects notifications.
type recorder struct {
	mu      sync.Mutex
	changes []notify.Change
}

func (r *recorder) observe(c notify.Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *recorder) all() []notify.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Change(nil), r.changes...)
}

func attach[T comparable](t *testing.T, s *Setting[T], st store.Store) {
	t.Helper()
	s.SetStore(st)
	s.Refresh()
	t.Cleanup(s.Close)
}

func TestSetting_DefaultValue(t *testing.T) {
	s := New("volume", 7)

	if s.Key() != "volume" {
		t.Errorf("Key() = %q, want volume", s.Key())
	}
	if s.Value() != 7 {
		t.Errorf("Value() = %d, want 7", s.Value())
	}
	if s.Configuration() != nil {
		t.Error("plain setting should have no configuration")
	}
	if !s.Store().IsZero() {
		t.Error("setting without WithStore should have no store until configured")
	}
}

func TestSetting_EqualityGate(t *testing.T) {
	spy := newSpy()
	s := New("darkMode", false)
	attach(t, s, store.Custom(spy))

	var rec recorder
	s.Observe(rec.observe)

	s.SetValue(false)
	if spy.writeCount() != 0 {
		t.Errorf("writing the current value stored %d times", spy.writeCount())
	}
	if len(rec.all()) != 0 {
		t.Errorf("writing the current value notified %d times", len(rec.all()))
	}

	s.SetValue(true)
	s.SetValue(true)
	if spy.writeCount() != 1 {
		t.Errorf("writes = %d, want 1", spy.writeCount())
	}
	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(got))
	}
	if got[0].OldValue != false || got[0].NewValue != true || got[0].Source != notify.SourceLocal {
		t.Errorf("change = %+v", got[0])
	}
	if v, _ := spy.Object("darkMode"); v != true {
		t.Errorf("stored = %v, want true", v)
	}
}

func TestSetting_RefreshAdoptsWithoutWriting(t *testing.T) {
	spy := newSpy()
	spy.Load(map[string]any{"fontSize": int64(18)})

	s := New("fontSize", 14)
	var rec recorder
	s.Observe(rec.observe)
	attach(t, s, store.Custom(spy))

	if s.Value() != 18 {
		t.Errorf("Value() = %d, want 18", s.Value())
	}
	if spy.writeCount() != 0 {
		t.Errorf("refresh wrote %d times", spy.writeCount())
	}
	got := rec.all()
	if len(got) != 1 || got[0].Source != notify.SourceRefresh {
		t.Errorf("changes = %+v, want one refresh", got)
	}

	// Refreshing again with nothing new is quiet.
	s.Refresh()
	if len(rec.all()) != 1 {
		t.Errorf("second refresh notified")
	}
}

func TestSetting_RefreshPullsExternalChange(t *testing.T) {
	mem := kv.NewMemory()
	s := New("theme", "light")
	attach(t, s, store.Custom(mem))

	// Loaded silently, as another process would.
	mem.Load(map[string]any{"theme": "dark"})
	if s.Value() != "light" {
		t.Fatalf("value changed before refresh")
	}

	s.Refresh()
	if s.Value() != "dark" {
		t.Errorf("Value() = %q, want dark", s.Value())
	}
}

func TestSetting_OwnEchoIgnored(t *testing.T) {
	mem := kv.NewMemory()
	s := New("count", 0)
	attach(t, s, store.Custom(mem))

	var rec recorder
	s.Observe(rec.observe)

	s.SetValue(1)
	s.SetValue(2)

	got := rec.all()
	if len(got) != 2 {
		t.Fatalf("notifications = %d, want 2", len(got))
	}
	for _, c := range got {
		if c.Source != notify.SourceLocal {
			t.Errorf("unexpected %v notification", c.Source)
		}
	}
}

func TestSetting_ExternalChangeApplied(t *testing.T) {
	mem := kv.NewMemory()
	s := New("count", 0)
	attach(t, s, store.Custom(mem))

	var rec recorder
	s.Observe(rec.observe)

	mem.ApplyExternal(map[string]any{"count": int64(5)})

	if s.Value() != 5 {
		t.Errorf("Value() = %d, want 5", s.Value())
	}
	got := rec.all()
	if len(got) != 1 || got[0].Source != notify.SourceStore || got[0].NewValue != 5 {
		t.Errorf("changes = %+v", got)
	}
}

// gatedStore can hold a write inside SetObject.
type gatedStore struct {
	*kv.Memory

	mu      sync.Mutex
	gate    chan struct{}
	entered chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{Memory: kv.NewMemory(), entered: make(chan struct{}, 1)}
}

// arm makes the next write wait; closing the returned channel lets it
// through.
func (g *gatedStore) arm() chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gate = make(chan struct{})
	return g.gate
}

func (g *gatedStore) SetObject(key string, value any, origin kv.Origin) error {
	g.mu.Lock()
	gate := g.gate
	g.gate = nil
	g.mu.Unlock()
	if gate != nil {
		g.entered <- struct{}{}
		<-gate
	}
	return g.Memory.SetObject(key, value, origin)
}

func TestSetting_RefreshWaitsForWrite(t *testing.T) {
	g := newGatedStore()
	st := store.Custom(g)
	s := New("count", 1)
	attach(t, s, st)

	gate := g.arm()

	written := make(chan struct{})
	go func() {
		s.SetValue(2)
		close(written)
	}()
	<-g.entered

	refreshed := make(chan struct{})
	go func() {
		s.Refresh()
		close(refreshed)
	}()

	select {
	case <-refreshed:
		t.Fatal("Refresh completed while a write was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	<-written
	<-refreshed

	stored, _ := store.Get[int](st, "count")
	if s.Value() != 2 || stored != 2 {
		t.Errorf("in memory %d, stored %d, want both 2", s.Value(), stored)
	}
}

func TestSetting_ObserversSeePersistedValue(t *testing.T) {
	st := store.Custom(kv.NewMemory())
	s := New("count", 1)
	attach(t, s, st)

	var seen int
	s.Observe(func(notify.Change) {
		seen, _ = store.Get[int](st, "count")
	})
	s.SetValue(5)

	if seen != 5 {
		t.Errorf("observer read %d from the store, want 5", seen)
	}
}

func TestSetting_ChangeDuringSubscribeApplied(t *testing.T) {
	m := kv.NewMemory()
	racer := &racingStore{Memory: m}
	s := New("count", 1)
	attach(t, s, store.Custom(racer))

	// The value moves to 9 between the refresh read and the subscription.
	racer.arm(9)
	s.Refresh()

	if s.Value() != 9 {
		t.Errorf("Value() = %d, want 9", s.Value())
	}
}

// racingStore writes a value from outside right before the next Watch
// registers, as another process might.
type racingStore struct {
	*kv.Memory

	mu   sync.Mutex
	next any
}

func (r *racingStore) arm(v int) {
	r.mu.Lock()
	r.next = int64(v)
	r.mu.Unlock()
}

func (r *racingStore) Watch(key string, fn kv.Watcher) kv.Subscription {
	r.mu.Lock()
	next := r.next
	r.next = nil
	r.mu.Unlock()
	if next != nil {
		r.Memory.ApplyExternal(map[string]any{key: next})
	}
	return r.Memory.Watch(key, fn)
}

func TestSetting_SharedKeyBetweenSettings(t *testing.T) {
	mem := kv.NewMemory()
	a := New("name", "")
	b := New("name", "")
	attach(t, a, store.Custom(mem))
	attach(t, b, store.Custom(mem))

	a.SetValue("ada")
	if b.Value() != "ada" {
		t.Errorf("peer setting = %q, want ada", b.Value())
	}
	if a.Value() != "ada" {
		t.Errorf("writer = %q, want ada", a.Value())
	}
}

func TestSetting_MismatchedPayloadIgnored(t *testing.T) {
	mem := kv.NewMemory()
	s := New("count", 3)
	attach(t, s, store.Custom(mem))

	mem.ApplyExternal(map[string]any{"count": "three"})
	if s.Value() != 3 {
		t.Errorf("Value() = %d, want 3", s.Value())
	}

	// Removal keeps the current value.
	mem.ApplyExternal(map[string]any{"count": nil})
	if s.Value() != 3 {
		t.Errorf("Value() after removal = %d, want 3", s.Value())
	}
}

type window struct {
	Width  int    `plist:"width"`
	Height int    `plist:"height"`
	Title  string `plist:"title"`
}

func TestSetting_StructuredValue(t *testing.T) {
	mem := kv.NewMemory()
	w := New("window", window{Width: 800, Height: 600})
	attach(t, w, store.Custom(mem))

	w.SetValue(window{Width: 1024, Height: 768, Title: "main"})

	raw, ok := mem.Object("window")
	if !ok {
		t.Fatal("structured value not stored")
	}
	if _, isBytes := raw.([]byte); !isBytes {
		t.Errorf("stored %T, want encoded bytes", raw)
	}

	other := New("window", window{})
	attach(t, other, store.Custom(mem))
	if got := other.Value(); got.Width != 1024 || got.Title != "main" {
		t.Errorf("decoded %+v", got)
	}
}

func TestSetting_UnresolvedStoreKeepsMemory(t *testing.T) {
	s := New("ephemeral", "a")
	s.Refresh()
	s.SetValue("b")

	if s.Value() != "b" {
		t.Errorf("Value() = %q, want b", s.Value())
	}
}

func TestSetting_CloseStopsUpdates(t *testing.T) {
	mem := kv.NewMemory()
	s := New("count", 0)
	s.SetStore(store.Custom(mem))
	s.Refresh()

	s.Close()
	mem.ApplyExternal(map[string]any{"count": int64(9)})
	if s.Value() != 0 {
		t.Errorf("closed setting applied change: %d", s.Value())
	}

	// Writes still reach the store.
	s.SetValue(4)
	if v, _ := mem.Object("count"); v != int64(4) {
		t.Errorf("stored %v, want 4", v)
	}

	s.Refresh()
	mem.ApplyExternal(map[string]any{"count": int64(9)})
	if s.Value() != 9 {
		t.Errorf("refreshed setting = %d, want 9", s.Value())
	}
	s.Close()
}

func TestSetting_StoreSwitchDropsOldSubscription(t *testing.T) {
	first, second := kv.NewMemory(), kv.NewMemory()
	s := New("mode", "a")
	attach(t, s, store.Custom(first))

	s.SetStore(store.Custom(second))
	s.Refresh()

	first.ApplyExternal(map[string]any{"mode": "from-first"})
	if s.Value() == "from-first" {
		t.Error("old store still delivers changes")
	}
	second.ApplyExternal(map[string]any{"mode": "from-second"})
	if s.Value() != "from-second" {
		t.Errorf("Value() = %q, want from-second", s.Value())
	}
}

func TestSetting_SerialDispatcher(t *testing.T) {
	serial := dispatch.NewSerial()
	t.Cleanup(func() { serial.Stop(context.Background()) })

	mem := kv.NewMemory()
	s := New("count", 0)
	s.setDispatcher(serial)
	attach(t, s, store.Custom(mem))

	var rec recorder
	s.Observe(rec.observe)

	for i := 1; i <= 5; i++ {
		mem.ApplyExternal(map[string]any{"count": int64(i)})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := serial.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if s.Value() != 5 {
		t.Errorf("Value() = %d, want 5", s.Value())
	}
	got := rec.all()
	if len(got) != 5 {
		t.Fatalf("notifications = %d, want 5", len(got))
	}
	for i, c := range got {
		if c.NewValue != i+1 {
			t.Errorf("change %d = %v, want %d", i, c.NewValue, i+1)
		}
	}
}

func TestSetting_SetAnyValue(t *testing.T) {
	s := New("count", 0)

	if !s.SetAnyValue(3) {
		t.Error("SetAnyValue(int) rejected")
	}
	if !s.SetAnyValue(int64(4)) || s.Value() != 4 {
		t.Errorf("SetAnyValue(int64) gave %d", s.Value())
	}
	if s.SetAnyValue("five") {
		t.Error("SetAnyValue(string) accepted")
	}
	if s.Value() != 4 {
		t.Errorf("Value() = %d, want 4", s.Value())
	}

	w := New("window", window{})
	if w.SetAnyValue(12) {
		t.Error("structured setting accepted an int")
	}
}

func TestNewWithChoices(t *testing.T) {
	tests := []struct {
		name    string
		choices []string
		index   int
		ok      bool
		want    string
	}{
		{"first", []string{"a", "b", "c"}, 0, true, "a"},
		{"last", []string{"a", "b", "c"}, 2, true, "c"},
		{"negative", []string{"a"}, -1, false, ""},
		{"past end", []string{"a", "b"}, 2, false, ""},
		{"empty", nil, 0, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ok := NewWithChoices("letter", tt.choices, tt.index)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				if s != nil {
					t.Error("invalid construction returned a setting")
				}
				return
			}
			if s.Value() != tt.want {
				t.Errorf("Value() = %q, want %q", s.Value(), tt.want)
			}
			def, _ := s.Configuration().DefaultOption()
			if def.Value != tt.want {
				t.Errorf("default option = %q, want %q", def.Value, tt.want)
			}
			if len(s.Configuration().Options) != len(tt.choices) {
				t.Errorf("options = %d, want %d", len(s.Configuration().Options), len(tt.choices))
			}
		})
	}
}

func TestNewWithOptions_FirstDefaultWins(t *testing.T) {
	s, ok := NewWithOptions("size", []Option[string]{
		OptionFor("s"),
		OptionFor("m").AsDefault(),
		OptionFor("l").AsDefault(),
	})
	if !ok {
		t.Fatal("NewWithOptions failed")
	}
	if s.Value() != "m" {
		t.Errorf("Value() = %q, want m", s.Value())
	}

	s, _ = NewWithOptions("size", []Option[string]{OptionFor("s"), OptionFor("m")})
	if s.Value() != "s" {
		t.Errorf("without defaults Value() = %q, want s", s.Value())
	}

	if _, ok := NewWithOptions[string]("size", nil); ok {
		t.Error("empty options accepted")
	}
}

func TestNewBoundedAndStepped(t *testing.T) {
	b := NewBounded("opacity", 0.5, 0.0, 1.0)
	if !b.Configuration().HasBounds() || b.Configuration().Step != nil {
		t.Errorf("bounded configuration = %+v", b.Configuration())
	}

	s := NewStepped("fontSize", 14, 8, 32, 2)
	cfg := s.Configuration()
	if cfg.Bounds.Lower != 8 || cfg.Bounds.Upper != 32 || *cfg.Step != 2 {
		t.Errorf("stepped configuration = %+v step %v", cfg.Bounds, *cfg.Step)
	}
}

func TestSetting_WithStorePinned(t *testing.T) {
	mem := kv.NewMemory()
	s := New("x", 1, WithStore(store.Custom(mem)), WithLabel("The X"))

	if s.Store() != store.Custom(mem) {
		t.Error("WithStore not applied")
	}
	if s.DisplayLabel() != "The X" {
		t.Errorf("DisplayLabel() = %q", s.DisplayLabel())
	}
}

func TestAs(t *testing.T) {
	var s Settable = New("flag", true)

	if typed, ok := As[bool](s); !ok || typed.Value() != true {
		t.Error("As[bool] failed")
	}
	if _, ok := As[string](s); ok {
		t.Error("As[string] succeeded on a bool setting")
	}
}
