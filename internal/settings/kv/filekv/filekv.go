// Package filekv keeps settings in a human-editable TOML file.
//
// The file has a [values] table for the root partition, a [blobs] table of
// base64 byte values, and one [partitions.<name>] table per partition with
// the same layout. The directory holding the file is watched; when the file
// is edited by hand or by another process, it is reloaded, every changed key
// is published to its watchers and the external-change channel fires.
package filekv

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/storedsettings/internal/logging"
	"github.com/dshills/storedsettings/internal/settings/codec"
	"github.com/dshills/storedsettings/internal/settings/kv"
)

// DefaultDebounce coalesces bursts of file events into one reload.
const DefaultDebounce = 50 * time.Millisecond

type section struct {
	Values map[string]any    `toml:"values,omitempty"`
	Blobs  map[string]string `toml:"blobs,omitempty"`
}

type document struct {
	Values     map[string]any     `toml:"values,omitempty"`
	Blobs      map[string]string  `toml:"blobs,omitempty"`
	Partitions map[string]section `toml:"partitions,omitempty"`
}

// Option configures Open.
type Option func(*config)

type config struct {
	debounce time.Duration
	watch    bool
	logger   *log.Logger
}

// WithDebounce sets how long to wait after the last file event before
// reloading.
func WithDebounce(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.debounce = d
		}
	}
}

// WithoutWatch disables the file watcher. Reload still works.
func WithoutWatch() Option {
	return func(c *config) {
		c.watch = false
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *log.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// file is shared by every partition of one TOML file.
type file struct {
	path    string
	channel string
	log     *log.Logger

	mu          sync.Mutex
	data        map[string]map[string]any
	parts       map[string]*Store
	lastWritten []byte
	closed      bool

	external kv.Hub

	watcher  *fsnotify.Watcher
	debounce time.Duration
	closeCh  chan struct{}
	wg       sync.WaitGroup
}

// Store is one partition of a settings file. Open returns the root
// partition.
type Store struct {
	file      *file
	partition string
	hub       kv.Hub
}

// Open loads the settings file at path, creating its directory if needed,
// and starts watching it.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := config{
		debounce: DefaultDebounce,
		watch:    true,
		logger:   logging.Component("filekv"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving settings path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("creating settings directory: %w", err)
	}

	f := &file{
		path:     abs,
		channel:  "file:" + abs,
		log:      cfg.logger,
		data:     map[string]map[string]any{"": {}},
		parts:    make(map[string]*Store),
		debounce: cfg.debounce,
		closeCh:  make(chan struct{}),
	}

	raw, err := os.ReadFile(abs)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading settings file: %w", err)
	default:
		data, err := decode(raw)
		if err != nil {
			return nil, err
		}
		f.data = data
		f.lastWritten = raw
	}

	if cfg.watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("creating file watcher: %w", err)
		}
		// Watch the directory so atomic replace-by-rename is seen.
		if err := w.Add(filepath.Dir(abs)); err != nil {
			w.Close()
			return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
		}
		f.watcher = w
		f.wg.Add(1)
		go f.processLoop()
	}

	return f.partition(""), nil
}

func (f *file) partition(name string) *Store {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.parts[name]; ok {
		return s
	}
	s := &Store{file: f, partition: name}
	f.parts[name] = s
	return s
}

// Path returns the absolute file path.
func (s *Store) Path() string {
	return s.file.path
}

// Partition returns the named partition of the same file.
func (s *Store) Partition(name string) kv.KeyValueStore {
	return s.file.partition(name)
}

// Object returns the stored value for key.
func (s *Store) Object(key string) (any, bool) {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()
	v, ok := s.file.data[s.partition][key]
	return v, ok
}

// SetObject stores value under key and rewrites the file. A nil value
// removes the key.
func (s *Store) SetObject(key string, value any, origin kv.Origin) error {
	var normalized any
	if value != nil {
		kind, v := codec.Classify(value)
		if kind == codec.KindInvalid {
			return fmt.Errorf("%w: %T", kv.ErrUnsupportedValue, value)
		}
		if t, ok := v.(time.Time); ok {
			v = t.UTC()
		}
		normalized = v
	}

	f := s.file
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return kv.ErrClosed
	}
	values := f.data[s.partition]
	if values == nil {
		values = make(map[string]any)
		f.data[s.partition] = values
	}
	if normalized == nil {
		delete(values, key)
	} else {
		values[key] = normalized
	}
	err := f.writeLocked()
	f.mu.Unlock()
	if err != nil {
		return err
	}

	s.hub.Publish(kv.Change{Key: key, Value: normalized, Present: normalized != nil, Origin: origin})
	return nil
}

// Watch delivers the current value for key, then every change.
func (s *Store) Watch(key string, fn kv.Watcher) kv.Subscription {
	return s.hub.Watch(key, fn, func() (any, bool) { return s.Object(key) })
}

// Keys returns the keys of this partition, sorted.
func (s *Store) Keys() []string {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()
	keys := make([]string, 0, len(s.file.data[s.partition]))
	for k := range s.file.data[s.partition] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ChannelID implements kv.ExternalChangeNotifier.
func (s *Store) ChannelID() string {
	return s.file.channel
}

// OnExternalChange implements kv.ExternalChangeNotifier.
func (s *Store) OnExternalChange(fn func()) kv.Subscription {
	return s.file.external.OnExternalChange(fn)
}

// Reload rereads the file and publishes what changed. It reports whether
// anything did.
func (s *Store) Reload() (bool, error) {
	return s.file.reload()
}

// Close stops watching the file.
func (s *Store) Close() error {
	return s.file.close()
}

// writeLocked encodes the current data and atomically replaces the file.
func (f *file) writeLocked() error {
	raw, err := encode(f.data)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("writing settings file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing settings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing settings file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing settings file: %w", err)
	}

	f.lastWritten = raw
	return nil
}

func (f *file) reload() (bool, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		raw = nil
	} else if err != nil {
		return false, fmt.Errorf("reading settings file: %w", err)
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false, kv.ErrClosed
	}
	if bytes.Equal(raw, f.lastWritten) {
		f.mu.Unlock()
		return false, nil
	}

	next := map[string]map[string]any{"": {}}
	if raw != nil {
		next, err = decode(raw)
		if err != nil {
			f.mu.Unlock()
			return false, err
		}
	}

	type partChange struct {
		store  *Store
		change kv.Change
	}
	var changes []partChange
	names := make(map[string]bool)
	for name := range f.data {
		names[name] = true
	}
	for name := range next {
		names[name] = true
	}
	for name := range names {
		store, ok := f.parts[name]
		if !ok {
			continue
		}
		for _, c := range diff(f.data[name], next[name]) {
			changes = append(changes, partChange{store: store, change: c})
		}
	}

	f.data = next
	f.lastWritten = raw
	f.mu.Unlock()

	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].store.partition != changes[j].store.partition {
			return changes[i].store.partition < changes[j].store.partition
		}
		return changes[i].change.Key < changes[j].change.Key
	})
	for _, pc := range changes {
		pc.store.hub.Publish(pc.change)
	}
	f.external.PublishExternal()

	f.log.Debug("settings file reloaded", "path", f.path, "changes", len(changes))
	return true, nil
}

func diff(old, next map[string]any) []kv.Change {
	var changes []kv.Change
	for k, v := range next {
		if prev, ok := old[k]; !ok || !reflect.DeepEqual(prev, v) {
			changes = append(changes, kv.Change{Key: k, Value: v, Present: true, Origin: kv.External})
		}
	}
	for k := range old {
		if _, ok := next[k]; !ok {
			changes = append(changes, kv.Change{Key: k, Origin: kv.External})
		}
	}
	return changes
}

func (f *file) processLoop() {
	defer f.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	name := filepath.Base(f.path)

	for {
		select {
		case <-f.closeCh:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(f.debounce)
			} else {
				timer.Reset(f.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if _, err := f.reload(); err != nil && !errors.Is(err, kv.ErrClosed) {
				f.log.Warn("settings file reload failed", "path", f.path, "error", err)
			}

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.log.Debug("file watcher error", "error", err)
		}
	}
}

func (f *file) close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	if f.watcher == nil {
		return nil
	}
	close(f.closeCh)
	f.wg.Wait()
	return f.watcher.Close()
}

// decode parses a settings file into per-partition value maps.
func decode(raw []byte) (map[string]map[string]any, error) {
	var doc document
	if err := toml.Unmarshal(raw, &doc); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("parsing settings file at line %d, column %d: %w", row, col, err)
		}
		return nil, fmt.Errorf("parsing settings file: %w", err)
	}

	out := map[string]map[string]any{
		"": decodeSection(section{Values: doc.Values, Blobs: doc.Blobs}),
	}
	for name, sec := range doc.Partitions {
		if name == "" {
			continue
		}
		out[name] = decodeSection(sec)
	}
	return out, nil
}

func decodeSection(sec section) map[string]any {
	values := make(map[string]any, len(sec.Values)+len(sec.Blobs))
	for k, v := range sec.Values {
		kind, n := codec.Classify(v)
		if kind == codec.KindInvalid {
			logging.Logger().Debug("skipping non-scalar setting", "key", k, "type", fmt.Sprintf("%T", v))
			continue
		}
		if t, ok := n.(time.Time); ok {
			n = t.UTC()
		}
		values[k] = n
	}
	for k, enc := range sec.Blobs {
		b, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			logging.Logger().Debug("skipping malformed blob", "key", k, "error", err)
			continue
		}
		values[k] = b
	}
	return values
}

func encode(data map[string]map[string]any) ([]byte, error) {
	var doc document
	for name, values := range data {
		sec := encodeSection(values)
		if name == "" {
			doc.Values, doc.Blobs = sec.Values, sec.Blobs
			continue
		}
		if len(sec.Values) == 0 && len(sec.Blobs) == 0 {
			continue
		}
		if doc.Partitions == nil {
			doc.Partitions = make(map[string]section)
		}
		doc.Partitions[name] = sec
	}

	raw, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding settings file: %w", err)
	}
	return raw, nil
}

func encodeSection(values map[string]any) section {
	var sec section
	for k, v := range values {
		if b, ok := v.([]byte); ok {
			if sec.Blobs == nil {
				sec.Blobs = make(map[string]string)
			}
			sec.Blobs[k] = base64.StdEncoding.EncodeToString(b)
			continue
		}
		if sec.Values == nil {
			sec.Values = make(map[string]any)
		}
		sec.Values[k] = v
	}
	return sec
}
