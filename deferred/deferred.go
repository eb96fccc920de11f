// Package deferred provides the one-shot result of an outstanding remote
// call. A Deferred settles exactly once (ok or error); cancellation is a
// separate, cooperative signal that never settles the result by itself —
// the call still completes only when a terminal resolution arrives.
package deferred

import (
	"context"
	"errors"
	"sync"
)

type state int

const (
	pending state = iota
	resolvedOk
	resolvedErr
)

// ErrNotSettled is returned by Value/Err when the result is still pending.
var ErrNotSettled = errors.New("deferred: not settled")

// Continuation receives the terminal outcome: exactly one of value or err,
// delivered at most once.
type Continuation func(value any, err error)

// Deferred is a one-shot, optionally cancellable result.
//
// It is the only protocol object that crosses goroutines (callers Await it
// while the scheduler settles it), so unlike the correlation maps it carries
// its own lock.
type Deferred struct {
	mu              sync.Mutex
	state           state
	value           any
	err             error
	cancelRequested bool
	onCancel        func()
	conts           []Continuation
	done            chan struct{}
}

// New creates a pending Deferred. onCancel, if non-nil, runs at most once —
// only if Cancel is called while still pending. It is a side effect (e.g.
// notify the peer), not a resolution.
func New(onCancel func()) *Deferred {
	return &Deferred{onCancel: onCancel, done: make(chan struct{})}
}

// Resolved creates an already-settled successful Deferred.
func Resolved(value any) *Deferred {
	d := New(nil)
	d.ResolveOk(value)
	return d
}

// Errored creates an already-settled failed Deferred.
func Errored(err error) *Deferred {
	d := New(nil)
	d.ResolveErr(err)
	return d
}

// ResolveOk settles the result with a value. No-op if already settled.
func (d *Deferred) ResolveOk(value any) {
	d.settle(resolvedOk, value, nil)
}

// ResolveErr settles the result with an error. No-op if already settled.
func (d *Deferred) ResolveErr(err error) {
	d.settle(resolvedErr, nil, err)
}

func (d *Deferred) settle(s state, value any, err error) {
	d.mu.Lock()
	if d.state != pending {
		d.mu.Unlock()
		return
	}
	d.state = s
	d.value = value
	d.err = err
	conts := d.conts
	d.conts = nil
	d.onCancel = nil
	close(d.done)
	d.mu.Unlock()

	// Continuations run outside the lock: they may attach further
	// continuations or cancel other deferreds.
	for _, fn := range conts {
		fn(value, err)
	}
}

// Cancel requests cooperative cancellation. The first call while pending
// runs the cancel action; the result stays pending until a terminal
// resolution arrives. After settle, Cancel is a no-op.
func (d *Deferred) Cancel() {
	d.mu.Lock()
	if d.state != pending || d.cancelRequested {
		d.mu.Unlock()
		return
	}
	d.cancelRequested = true
	fn := d.onCancel
	d.onCancel = nil
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// OnSettle attaches a continuation. If the result is already terminal it is
// delivered immediately on the calling goroutine; otherwise it is queued and
// delivered exactly once at settle time.
func (d *Deferred) OnSettle(fn Continuation) {
	d.mu.Lock()
	if d.state == pending {
		d.conts = append(d.conts, fn)
		d.mu.Unlock()
		return
	}
	value, err := d.value, d.err
	d.mu.Unlock()

	fn(value, err)
}

// Done is closed when the result settles.
func (d *Deferred) Done() <-chan struct{} {
	return d.done
}

// Await blocks until the result settles or ctx expires. A context error does
// not settle the Deferred: the call remains pending and may still resolve.
func (d *Deferred) Await(ctx context.Context) (any, error) {
	select {
	case <-d.done:
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.value, d.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Settled reports whether the result reached a terminal state.
func (d *Deferred) Settled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state != pending
}

// Value returns the resolved value, or ErrNotSettled while pending.
func (d *Deferred) Value() (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == pending {
		return nil, ErrNotSettled
	}
	return d.value, d.err
}

// CancelRequested reports whether cancellation was requested while the
// result was still pending (regardless of whether a cancel action was set).
func (d *Deferred) CancelRequested() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelRequested
}
