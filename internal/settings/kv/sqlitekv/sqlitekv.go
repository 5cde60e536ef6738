// Package sqlitekv is the local persistent settings backend.
//
// All partitions of a database file live in one table keyed by
// (partition, key). Scalars are stored in their native SQLite storage class
// with a kind tag so booleans and timestamps read back with their Go type.
//
// Writes made through another connection (another process, or another Store
// opened on the same file) are detected by polling PRAGMA data_version. Each
// detection republishes the watched keys whose values differ and then fires
// the external-change channel shared by every partition of the file.
package sqlitekv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/dshills/storedsettings/internal/logging"
	"github.com/dshills/storedsettings/internal/settings/codec"
	"github.com/dshills/storedsettings/internal/settings/kv"
)

// DefaultPollInterval is how often data_version is checked.
const DefaultPollInterval = time.Second

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	partition  TEXT    NOT NULL DEFAULT '',
	key        TEXT    NOT NULL,
	kind       TEXT    NOT NULL,
	value      BLOB,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (partition, key)
)`

// Option configures Open.
type Option func(*config)

type config struct {
	pollInterval time.Duration
	logger       *log.Logger
}

// WithPollInterval sets how often external writes are looked for. Zero
// disables background polling; CheckExternalChanges can still be called.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		c.pollInterval = d
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

// database is shared by every partition of one file.
type database struct {
	db      *sql.DB
	path    string
	channel string
	log     *log.Logger

	mu         sync.Mutex
	partitions map[string]*Store
	closed     bool

	checkMu sync.Mutex
	version int64

	external kv.Hub

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Store is one partition of a settings database. The Store returned by Open
// is the unnamed root partition.
type Store struct {
	db        *database
	partition string
	hub       kv.Hub

	// seen holds the last value published for each watched key so a poll
	// only republishes keys that actually changed.
	seenMu sync.Mutex
	seen   map[string]any
}

// Open opens or creates the settings database at path.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := config{
		pollInterval: DefaultPollInterval,
		logger:       logging.Component("sqlitekv"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving database path: %w", err)
	}

	db, err := sql.Open("sqlite", abs+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// data_version is per connection, so every statement must use the
	// same one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	d := &database{
		db:         db,
		path:       abs,
		channel:    "sqlite:" + abs,
		log:        cfg.logger,
		partitions: make(map[string]*Store),
	}
	if err := db.QueryRow("PRAGMA data_version").Scan(&d.version); err != nil {
		db.Close()
		return nil, fmt.Errorf("reading data_version: %w", err)
	}

	if cfg.pollInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		d.cancel = cancel
		d.wg.Add(1)
		go d.poll(ctx, cfg.pollInterval)
	}

	d.log.Debug("settings database opened", "path", abs)
	return d.partition(""), nil
}

func (d *database) partition(name string) *Store {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.partitions[name]; ok {
		return s
	}
	s := &Store{db: d, partition: name, seen: make(map[string]any)}
	d.partitions[name] = s
	return s
}

// Path returns the absolute database path.
func (s *Store) Path() string {
	return s.db.path
}

// PartitionName returns the partition this Store addresses.
func (s *Store) PartitionName() string {
	return s.partition
}

// Partition returns the named partition of the same database.
func (s *Store) Partition(name string) kv.KeyValueStore {
	return s.db.partition(name)
}

// Object returns the stored value for key.
func (s *Store) Object(key string) (any, bool) {
	v, ok, err := s.load(key)
	if err != nil {
		s.db.log.Debug("read failed", "key", key, "partition", s.partition, "error", err)
		return nil, false
	}
	return v, ok
}

func (s *Store) load(key string) (any, bool, error) {
	if s.db.isClosed() {
		return nil, false, kv.ErrClosed
	}

	var kind string
	var raw any
	err := s.db.db.QueryRow(
		`SELECT kind, value FROM settings WHERE partition = ? AND key = ?`,
		s.partition, key,
	).Scan(&kind, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying %q: %w", key, err)
	}

	v, err := fromColumn(kind, raw)
	if err != nil {
		return nil, false, fmt.Errorf("reading %q: %w", key, err)
	}
	return v, true, nil
}

// SetObject stores value under key. A nil value deletes the key.
func (s *Store) SetObject(key string, value any, origin kv.Origin) error {
	if s.db.isClosed() {
		return kv.ErrClosed
	}

	var normalized any
	if value == nil {
		if _, err := s.db.db.Exec(
			`DELETE FROM settings WHERE partition = ? AND key = ?`,
			s.partition, key,
		); err != nil {
			return fmt.Errorf("deleting %q: %w", key, err)
		}
	} else {
		kind, v := codec.Classify(value)
		if kind == codec.KindInvalid {
			return fmt.Errorf("%w: %T", kv.ErrUnsupportedValue, value)
		}
		if t, ok := v.(time.Time); ok {
			v = t.UTC()
		}
		normalized = v
		if _, err := s.db.db.Exec(
			`INSERT INTO settings (partition, key, kind, value, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (partition, key) DO UPDATE SET
			   kind = excluded.kind,
			   value = excluded.value,
			   updated_at = excluded.updated_at`,
			s.partition, key, kind.String(), toColumn(kind, v), time.Now().UnixNano(),
		); err != nil {
			return fmt.Errorf("writing %q: %w", key, err)
		}
	}

	s.remember(key, normalized)
	s.hub.Publish(kv.Change{Key: key, Value: normalized, Present: normalized != nil, Origin: origin})
	return nil
}

// Watch delivers the current value for key, then every change.
func (s *Store) Watch(key string, fn kv.Watcher) kv.Subscription {
	return s.hub.Watch(key, fn, func() (any, bool) {
		v, ok := s.Object(key)
		s.remember(key, v)
		return v, ok
	})
}

// Keys returns the keys stored in this partition, sorted.
func (s *Store) Keys() ([]string, error) {
	if s.db.isClosed() {
		return nil, kv.ErrClosed
	}
	rows, err := s.db.db.Query(
		`SELECT key FROM settings WHERE partition = ? ORDER BY key`, s.partition)
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ChannelID implements kv.ExternalChangeNotifier. All partitions of a file
// share it.
func (s *Store) ChannelID() string {
	return s.db.channel
}

// OnExternalChange implements kv.ExternalChangeNotifier.
func (s *Store) OnExternalChange(fn func()) kv.Subscription {
	return s.db.external.OnExternalChange(fn)
}

// CheckExternalChanges looks for writes made through other connections and
// publishes them. It reports whether anything changed.
func (s *Store) CheckExternalChanges() (bool, error) {
	return s.db.checkExternal()
}

// Close stops polling and closes the database. Closing any partition closes
// the file for all of them.
func (s *Store) Close() error {
	return s.db.close()
}

func (s *Store) remember(key string, v any) {
	s.seenMu.Lock()
	s.seen[key] = v
	s.seenMu.Unlock()
}

// republish publishes the watched keys whose stored value differs from the
// last one published.
func (s *Store) republish() {
	keys := s.hub.WatchedKeys()
	sort.Strings(keys)

	for _, key := range keys {
		v, ok := s.Object(key)

		s.seenMu.Lock()
		prev, known := s.seen[key]
		changed := !known || !reflect.DeepEqual(prev, v)
		s.seen[key] = v
		s.seenMu.Unlock()

		if changed {
			s.hub.Publish(kv.Change{Key: key, Value: v, Present: ok, Origin: kv.External})
		}
	}
}

func (d *database) checkExternal() (bool, error) {
	d.checkMu.Lock()
	defer d.checkMu.Unlock()

	if d.isClosed() {
		return false, kv.ErrClosed
	}

	var v int64
	if err := d.db.QueryRow("PRAGMA data_version").Scan(&v); err != nil {
		return false, fmt.Errorf("reading data_version: %w", err)
	}
	if v == d.version {
		return false, nil
	}
	d.version = v

	d.mu.Lock()
	parts := make([]*Store, 0, len(d.partitions))
	for _, p := range d.partitions {
		parts = append(parts, p)
	}
	d.mu.Unlock()
	sort.Slice(parts, func(i, j int) bool { return parts[i].partition < parts[j].partition })

	for _, p := range parts {
		p.republish()
	}
	d.external.PublishExternal()

	d.log.Debug("external change detected", "path", d.path, "data_version", v)
	return true, nil
}

func (d *database) poll(ctx context.Context, interval time.Duration) {
	defer d.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.checkExternal(); err != nil && !errors.Is(err, kv.ErrClosed) {
				d.log.Debug("polling for external changes failed", "error", err)
			}
		}
	}
}

func (d *database) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *database) close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	// Wait for an in-flight check before closing the handle.
	d.checkMu.Lock()
	defer d.checkMu.Unlock()
	return d.db.Close()
}
