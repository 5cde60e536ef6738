// Package dispatch provides the execution contexts that setting change
// callbacks are delivered on.
//
// Store change events can arrive on any goroutine: a polling loop, a pub/sub
// reader, a file watcher. A Dispatcher marshals them onto one consistent
// context before setting state or observers are touched, so a UI binding
// only ever sees updates from the goroutine it expects.
package dispatch

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/dshills/storedsettings/internal/logging"
)

// Errors returned by dispatchers.
var (
	// ErrNotRunning indicates the dispatcher has been stopped.
	ErrNotRunning = errors.New("dispatcher not running")
)

// Dispatcher runs work on a delivery context.
type Dispatcher interface {
	// Dispatch schedules fn. Implementations preserve submission order.
	Dispatch(fn func())
}

// PanicHandler is called when dispatched work panics.
type PanicHandler func(recovered any, stack []byte)

func defaultPanicHandler(recovered any, stack []byte) {
	logging.Logger().Error("dispatched callback panicked", "panic", recovered, "stack", string(stack))
}

// Stats holds delivery counters.
type Stats struct {
	// Dispatched is the number of calls to Dispatch.
	Dispatched uint64

	// Executed is the number of callbacks that ran.
	Executed uint64

	// Panicked is the number of callbacks that panicked.
	Panicked uint64

	// Dropped is the number of callbacks discarded after Stop.
	Dropped uint64
}

type counters struct {
	dispatched atomic.Uint64
	executed   atomic.Uint64
	panicked   atomic.Uint64
	dropped    atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Dispatched: c.dispatched.Load(),
		Executed:   c.executed.Load(),
		Panicked:   c.panicked.Load(),
		Dropped:    c.dropped.Load(),
	}
}

func run(fn func(), c *counters, onPanic PanicHandler) {
	defer func() {
		if r := recover(); r != nil {
			c.panicked.Add(1)
			if onPanic != nil {
				onPanic(r, debug.Stack())
			}
		}
	}()
	c.executed.Add(1)
	fn()
}

// Sync runs callbacks immediately in the caller's goroutine.
type Sync struct {
	panicHandler PanicHandler
	stats        counters
}

// NewSync creates a synchronous dispatcher.
func NewSync() *Sync {
	return &Sync{panicHandler: defaultPanicHandler}
}

// Dispatch runs fn before returning. Panics are recovered and reported.
func (d *Sync) Dispatch(fn func()) {
	d.stats.dispatched.Add(1)
	run(fn, &d.stats, d.panicHandler)
}

// Stats returns delivery counters.
func (d *Sync) Stats() Stats {
	return d.stats.snapshot()
}

// Serial runs callbacks one at a time on a dedicated goroutine, in
// submission order. It plays the role of a main thread.
type Serial struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	running bool
	wg      sync.WaitGroup

	panicHandler PanicHandler
	stats        counters
}

// SerialOption configures a Serial dispatcher.
type SerialOption func(*Serial)

// WithPanicHandler sets the panic handler.
func WithPanicHandler(h PanicHandler) SerialOption {
	return func(d *Serial) {
		d.panicHandler = h
	}
}

// NewSerial creates and starts a serial dispatcher.
func NewSerial(opts ...SerialOption) *Serial {
	d := &Serial{
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		running:      true,
		panicHandler: defaultPanicHandler,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.wg.Add(1)
	go d.loop()
	return d
}

// Dispatch queues fn. The queue is unbounded so callbacks may dispatch
// further work without deadlocking. Work submitted after Stop is dropped.
func (d *Serial) Dispatch(fn func()) {
	d.stats.dispatched.Add(1)

	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		d.stats.dropped.Add(1)
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Flush waits until all work queued before the call has run.
func (d *Serial) Flush(ctx context.Context) error {
	done := make(chan struct{})

	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrNotRunning
	}
	d.mu.Unlock()

	d.Dispatch(func() { close(done) })

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains queued work and stops the goroutine. It is safe to call more
// than once.
func (d *Serial) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.done)
	d.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns delivery counters.
func (d *Serial) Stats() Stats {
	return d.stats.snapshot()
}

func (d *Serial) loop() {
	defer d.wg.Done()

	for {
		for {
			fn, ok := d.next()
			if !ok {
				break
			}
			run(fn, &d.stats, d.panicHandler)
		}

		select {
		case <-d.wake:
		case <-d.done:
			// Drain anything queued before Stop.
			for {
				fn, ok := d.next()
				if !ok {
					return
				}
				run(fn, &d.stats, d.panicHandler)
			}
		}
	}
}

func (d *Serial) next() (func(), bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.queue) == 0 {
		return nil, false
	}
	fn := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	return fn, true
}
