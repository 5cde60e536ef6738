package settings

import (
	"context"
	"sync"

	"github.com/dshills/storedsettings/internal/settings/notify"
)

// Binding is a two-way accessor for a setting, suitable for wiring into a
// UI framework's state.
type Binding[T comparable] struct {
	setting *Setting[T]
}

// Key returns the bound setting's key.
func (b *Binding[T]) Key() string {
	return b.setting.Key()
}

// Get returns the current value.
func (b *Binding[T]) Get() T {
	return b.setting.Value()
}

// Set writes through the setting's equality-gated write path.
func (b *Binding[T]) Set(v T) {
	b.setting.SetValue(v)
}

// Setting returns the bound setting.
func (b *Binding[T]) Setting() *Setting[T] {
	return b.setting
}

// Observe calls fn with the new value after every change.
func (b *Binding[T]) Observe(fn func(T)) *notify.Subscription {
	return b.setting.Publisher().Subscribe(fn)
}

// Publisher emits a setting's value every time it changes.
type Publisher[T comparable] struct {
	setting *Setting[T]
}

// Current returns the value now.
func (p *Publisher[T]) Current() T {
	return p.setting.Value()
}

// Subscribe calls fn with the new value after every change.
func (p *Publisher[T]) Subscribe(fn func(T)) *notify.Subscription {
	return p.setting.Observe(func(c notify.Change) {
		if v, ok := c.NewValue.(T); ok {
			fn(v)
		}
	})
}

// Chan streams values until ctx is done, then closes the channel. A slow
// reader sees the latest value rather than every intermediate one.
func (p *Publisher[T]) Chan(ctx context.Context) <-chan T {
	ch := make(chan T, 1)
	var mu sync.Mutex
	closed := false

	sub := p.Subscribe(func(v T) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- v:
		default:
			// Replace the unread value.
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	})

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()

	return ch
}

// SubscribeRepresented calls fn with the current case of e after every
// change. Values that match no case are skipped.
func SubscribeRepresented[C comparable, R comparable](p *Publisher[R], e Enum[C, R], fn func(C)) *notify.Subscription {
	return p.Subscribe(func(raw R) {
		if c, ok := e.Case(raw); ok {
			fn(c)
		}
	})
}

// RepresentedPublisher is a Publisher that speaks in enum cases.
type RepresentedPublisher[C comparable, R comparable] struct {
	raw  *Publisher[R]
	enum Enum[C, R]
}

// Current returns the current case.
func (p *RepresentedPublisher[C, R]) Current() (C, bool) {
	return p.enum.Case(p.raw.Current())
}

// Subscribe calls fn with the new case after every change.
func (p *RepresentedPublisher[C, R]) Subscribe(fn func(C)) *notify.Subscription {
	return SubscribeRepresented(p.raw, p.enum, fn)
}
