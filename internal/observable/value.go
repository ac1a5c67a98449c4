// Package observable provides a latest-value stream: one writer, many readers.
// Readers that fall behind skip intermediate values and only see the newest one.
package observable

import (
	"context"
	"sync"
)

type Value[T any] struct {
	mu   sync.Mutex
	cur  T
	subs map[chan T]struct{}
}

func New[T any](initial T) *Value[T] {
	return &Value[T]{cur: initial, subs: make(map[chan T]struct{})}
}

func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// Set stores x and offers it to every subscriber. A value still sitting
// unread in a subscriber's buffer is replaced.
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cur = x
	for ch := range v.subs {
		select {
		case ch <- x:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- x
		}
	}
}

// Subscribe returns a channel that first yields the current value and then
// every later one. The channel is closed once ctx is done.
func (v *Value[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)
	v.mu.Lock()
	ch <- v.cur
	v.subs[ch] = struct{}{}
	v.mu.Unlock()

	go func() {
		<-ctx.Done()
		v.mu.Lock()
		delete(v.subs, ch)
		close(ch)
		v.mu.Unlock()
	}()
	return ch
}

// Subscribers is the number of live subscriptions.
func (v *Value[T]) Subscribers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}
