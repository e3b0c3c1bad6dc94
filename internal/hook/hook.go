// Package hook implements the key→payload rendezvous that lets one goroutine
// park on a key (e.g. a MAC address) while another, arriving independently,
// delivers a value to it. It is the mechanism that makes "reboot and keep
// talking to the same host" expressible as a single blocking call.
package hook

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by Timeout/PollTimeout when the deadline elapses
// before a matching Signal arrives.
var ErrTimeout = errors.New("hook: timeout waiting for signal")

type waiter[V any] struct {
	id int64
	ch chan V
}

// Hook maps keys of type K to waiters expecting a payload of type V. The
// zero value is not usable; construct with New.
type Hook[K comparable, V any] struct {
	mu      sync.Mutex
	waiters map[K][]*waiter[V]
	nextID  int64
}

// New constructs an empty Hook.
func New[K comparable, V any]() *Hook[K, V] {
	return &Hook[K, V]{waiters: make(map[K][]*waiter[V])}
}

// Signal hands v to the oldest still-registered waiter on key, if any, and
// returns (zero, true). If no waiter is registered it returns (v, false) so
// the caller can decide what to do with an undelivered payload (e.g. the
// registry's unknown ring). Never blocks.
func (h *Hook[K, V]) Signal(key K, v V) (V, bool) {
	h.mu.Lock()
	ws := h.waiters[key]
	if len(ws) == 0 {
		h.mu.Unlock()
		return v, false
	}
	w := ws[0]
	h.waiters[key] = ws[1:]
	if len(h.waiters[key]) == 0 {
		delete(h.waiters, key)
	}
	// The waiter's channel is buffered (size 1) and each waiter is popped at
	// most once, so this send never blocks. Sending under the lock means a
	// cancelling Wait either deregisters first (and this waiter is never
	// chosen) or finds the payload already in its channel when it drains.
	w.ch <- v
	h.mu.Unlock()

	var zero V
	return zero, true
}

func (h *Hook[K, V]) register(key K) *waiter[V] {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	w := &waiter[V]{id: h.nextID, ch: make(chan V, 1)}
	h.waiters[key] = append(h.waiters[key], w)
	return w
}

// deregister removes w from key's waiter list unless it has already been
// popped by a concurrent Signal (detected by presence in the slice).
func (h *Hook[K, V]) deregister(key K, w *waiter[V]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ws := h.waiters[key]
	for i, cand := range ws {
		if cand.id == w.id {
			h.waiters[key] = append(ws[:i], ws[i+1:]...)
			if len(h.waiters[key]) == 0 {
				delete(h.waiters, key)
			}
			return
		}
	}
}

// Wait blocks until a Signal delivers a payload for key, or ctx is done.
// On cancellation the waiter is deregistered so a later Signal targets the
// next waiter (or returns undelivered) instead of this one.
func (h *Hook[K, V]) Wait(ctx context.Context, key K) (V, error) {
	w := h.register(key)
	select {
	case v := <-w.ch:
		return v, nil
	case <-ctx.Done():
		h.deregister(key, w)
		// A Signal may have raced us and already sent on w.ch between
		// ctx.Done() firing and deregister's lock acquisition; drain it so
		// the payload isn't silently dropped.
		select {
		case v := <-w.ch:
			return v, nil
		default:
		}
		var zero V
		return zero, ctx.Err()
	}
}

// Timeout is Wait with a duration instead of a context, returning ErrTimeout
// on expiry.
func (h *Hook[K, V]) Timeout(key K, d time.Duration) (V, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	v, err := h.Wait(ctx, key)
	if errors.Is(err, context.DeadlineExceeded) {
		err = ErrTimeout
	}
	return v, err
}

// PollUntil waits on key like Wait, additionally invoking f every interval
// until the payload arrives or ctx is cancelled.
func (h *Hook[K, V]) PollUntil(ctx context.Context, key K, interval time.Duration, f func()) (V, error) {
	w := h.register(key)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case v := <-w.ch:
			return v, nil
		case <-ctx.Done():
			h.deregister(key, w)
			select {
			case v := <-w.ch:
				return v, nil
			default:
			}
			var zero V
			return zero, ctx.Err()
		case <-ticker.C:
			f()
		}
	}
}

// PollTimeout combines PollUntil with a duration deadline.
func (h *Hook[K, V]) PollTimeout(key K, d, interval time.Duration, f func()) (V, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	v, err := h.PollUntil(ctx, key, interval, f)
	if errors.Is(err, context.DeadlineExceeded) {
		err = ErrTimeout
	}
	return v, err
}
