// Package rediskv is a cloud-synchronised settings backend on Redis.
//
// Each Store keeps a local mirror of one Redis hash. Reads are served from
// the mirror, so they never touch the network. Writes update the mirror and
// notify local watchers synchronously, then are pushed to Redis in the
// background together with a change message on the namespace's pub/sub
// channel. Messages published by other instances refresh the mirror, are
// republished to local watchers as external changes, and fire the
// external-change channel.
package rediskv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"howett.net/plist"

	"github.com/dshills/storedsettings/internal/logging"
	"github.com/dshills/storedsettings/internal/settings/codec"
	"github.com/dshills/storedsettings/internal/settings/kv"
)

// EnvURL overrides Options.URL when set.
const EnvURL = "STOREDSETTINGS_REDIS_URL"

// DefaultNamespace prefixes the hash and channel names.
const DefaultNamespace = "storedsettings"

// Options configures Open.
type Options struct {
	// URL is a redis:// connection URL.
	URL string

	// Namespace names the hash ("<ns>:values") and the change channel
	// ("<ns>:changes").
	Namespace string

	// Timeout bounds each Redis round trip.
	Timeout time.Duration

	// QueueSize is the number of writes buffered for the background pusher.
	QueueSize int

	// Logger receives diagnostics.
	Logger *log.Logger
}

// message is published on the change channel after every write.
type message struct {
	Key      string `plist:"key"`
	Origin   string `plist:"origin"`
	Instance string `plist:"instance"`
}

type write struct {
	key    string
	data   []byte
	delete bool
	origin kv.Origin

	// done is closed once the write reached Redis. Flush markers carry
	// only this.
	done chan struct{}
}

// Store is a Redis-backed settings store.
type Store struct {
	client    *redis.Client
	hashKey   string
	channel   string
	namespace string
	instance  string
	timeout   time.Duration
	log       *log.Logger

	mu     sync.RWMutex
	mirror map[string]any
	closed bool

	hub kv.Hub

	writes chan write
	pubsub *redis.PubSub

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open connects to Redis, loads the mirror and subscribes to the change
// channel.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if env := os.Getenv(EnvURL); env != "" {
		opts.URL = env
	}
	if opts.URL == "" {
		return nil, errors.New("redis URL must be provided")
	}

	ropts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	ropts.ReadTimeout = opts.Timeout
	ropts.WriteTimeout = opts.Timeout

	return New(ctx, redis.NewClient(ropts), opts)
}

// New wraps an existing client. The Store owns the client and closes it on
// Close. opts.URL is ignored.
func New(ctx context.Context, client *redis.Client, opts Options) (*Store, error) {
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("rediskv")
	}

	s := &Store{
		client:    client,
		hashKey:   opts.Namespace + ":values",
		channel:   opts.Namespace + ":changes",
		namespace: opts.Namespace,
		instance:  uuid.NewString(),
		timeout:   opts.Timeout,
		log:       opts.Logger,
		mirror:    make(map[string]any),
		writes:    make(chan write, opts.QueueSize),
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	// Subscribe before loading so no write lands between the snapshot and
	// the subscription.
	s.pubsub = client.Subscribe(ctx, s.channel)
	if _, err := s.pubsub.Receive(pingCtx); err != nil {
		s.pubsub.Close()
		client.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", s.channel, err)
	}

	values, err := s.fetchAll(ctx)
	if err != nil {
		s.pubsub.Close()
		client.Close()
		return nil, err
	}
	s.mirror = values

	runCtx, stop := context.WithCancel(context.Background())
	s.cancel = stop
	s.wg.Add(2)
	go s.push(runCtx)
	go s.listen(runCtx)

	s.log.Debug("redis store opened", "namespace", s.namespace, "keys", len(values))
	return s, nil
}

// Object returns the mirrored value for key.
func (s *Store) Object(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.mirror[key]
	return v, ok
}

// SetObject updates the mirror, notifies local watchers and queues the
// write for Redis. A nil value removes the key.
func (s *Store) SetObject(key string, value any, origin kv.Origin) error {
	w := write{key: key, origin: origin}
	var normalized any
	if value == nil {
		w.delete = true
	} else {
		kind, v := codec.Classify(value)
		if kind == codec.KindInvalid {
			return fmt.Errorf("%w: %T", kv.ErrUnsupportedValue, value)
		}
		data, err := codec.MarshalAny(v)
		if err != nil {
			return fmt.Errorf("encoding %q: %w", key, err)
		}
		normalized = v
		w.data = data
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return kv.ErrClosed
	}
	if value == nil {
		delete(s.mirror, key)
	} else {
		s.mirror[key] = normalized
	}
	// Queue under the lock so Close cannot close the channel first.
	s.writes <- w
	s.mu.Unlock()

	s.hub.Publish(kv.Change{Key: key, Value: normalized, Present: normalized != nil, Origin: origin})
	return nil
}

// Watch delivers the current value for key, then every change.
func (s *Store) Watch(key string, fn kv.Watcher) kv.Subscription {
	return s.hub.Watch(key, fn, func() (any, bool) { return s.Object(key) })
}

// ChannelID implements kv.ExternalChangeNotifier.
func (s *Store) ChannelID() string {
	return "redis:" + s.client.Options().Addr + "/" + s.namespace
}

// OnExternalChange implements kv.ExternalChangeNotifier.
func (s *Store) OnExternalChange(fn func()) kv.Subscription {
	return s.hub.OnExternalChange(fn)
}

// Keys returns the mirrored keys, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.mirror))
	for k := range s.mirror {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Flush waits until every write queued before the call has reached Redis.
func (s *Store) Flush(ctx context.Context) error {
	done := make(chan struct{})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return kv.ErrClosed
	}
	s.writes <- write{done: done}
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reload replaces the mirror with the contents of Redis, publishing every
// key that changed and then the external-change signal.
func (s *Store) Reload(ctx context.Context) error {
	values, err := s.fetchAll(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.mirror
	s.mirror = values
	s.mu.Unlock()

	var changes []kv.Change
	for k, v := range values {
		if prev, ok := old[k]; !ok || !reflect.DeepEqual(prev, v) {
			changes = append(changes, kv.Change{Key: k, Value: v, Present: true, Origin: kv.External})
		}
	}
	for k := range old {
		if _, ok := values[k]; !ok {
			changes = append(changes, kv.Change{Key: k, Origin: kv.External})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Key < changes[j].Key })

	for _, c := range changes {
		s.hub.Publish(c)
	}
	s.hub.PublishExternal()
	return nil
}

// Close drains queued writes and releases the connection.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.writes)
	s.mu.Unlock()

	// push exits once the queue is drained; listen exits when the pubsub
	// channel closes.
	s.pubsub.Close()
	s.wg.Wait()
	s.cancel()
	return s.client.Close()
}

func (s *Store) fetchAll(ctx context.Context) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.client.HGetAll(ctx, s.hashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", s.hashKey, err)
	}

	values := make(map[string]any, len(raw))
	for k, data := range raw {
		v, err := codec.UnmarshalAny([]byte(data))
		if err != nil {
			s.log.Debug("skipping undecodable value", "key", k, "error", err)
			continue
		}
		values[k] = v
	}
	return values, nil
}

// push sends queued writes to Redis in order.
func (s *Store) push(ctx context.Context) {
	defer s.wg.Done()

	for w := range s.writes {
		if w.key != "" {
			if err := s.send(ctx, w); err != nil {
				s.log.Warn("pushing setting to redis failed", "key", w.key, "error", err)
			}
		}
		if w.done != nil {
			close(w.done)
		}
	}
}

func (s *Store) send(ctx context.Context, w write) error {
	msg, err := plist.Marshal(message{Key: w.key, Origin: string(w.origin), Instance: s.instance}, plist.BinaryFormat)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if w.delete {
			pipe.HDel(ctx, s.hashKey, w.key)
		} else {
			pipe.HSet(ctx, s.hashKey, w.key, w.data)
		}
		pipe.Publish(ctx, s.channel, msg)
		return nil
	})
	return err
}

// listen applies change messages published by other instances.
func (s *Store) listen(ctx context.Context) {
	defer s.wg.Done()

	for m := range s.pubsub.Channel() {
		var msg message
		if _, err := plist.Unmarshal([]byte(m.Payload), &msg); err != nil {
			s.log.Debug("ignoring malformed change message", "error", err)
			continue
		}
		if msg.Instance == s.instance {
			continue
		}
		if err := s.applyRemote(ctx, msg.Key); err != nil {
			s.log.Debug("applying remote change failed", "key", msg.Key, "error", err)
		}
	}
}

func (s *Store) applyRemote(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := s.client.HGet(ctx, s.hashKey, key).Bytes()
	var value any
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return err
	default:
		value, err = codec.UnmarshalAny(data)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	prev, had := s.mirror[key]
	if value == nil {
		delete(s.mirror, key)
	} else {
		s.mirror[key] = value
	}
	s.mu.Unlock()

	if had != (value != nil) || !reflect.DeepEqual(prev, value) {
		s.hub.Publish(kv.Change{Key: key, Value: value, Present: value != nil, Origin: kv.External})
	}
	s.hub.PublishExternal()
	return nil
}
