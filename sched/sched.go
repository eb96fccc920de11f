// Package sched provides the cooperative scheduler that drives duplex-rpc.
//
// The protocol layer is single-threaded by design: correlation maps, the
// handler slot, and the multiplexer buffers are touched only from scheduler
// tasks, so they need no locks. Everything that originates on a foreign
// goroutine (transport callbacks, asynchronous handler completions) re-enters
// the protocol through Schedule.
//
// A task scheduled from within a running task executes after the current task
// returns and before any task scheduled later — the "next cooperative point".
package sched

import "sync"

// Scheduler queues a callback to run at the next cooperative point.
// Tasks run one at a time, in FIFO order.
type Scheduler interface {
	Schedule(fn func())
}

// Loop is the production scheduler: a single goroutine draining an unbounded
// FIFO run queue. Schedule is safe to call from any goroutine, including from
// a task already running on the loop.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
}

// NewLoop creates a Loop and starts its goroutine.
func NewLoop() *Loop {
	l := &Loop{wake: make(chan struct{}, 1)}
	go l.run()
	return l
}

func (l *Loop) Schedule(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	// Non-blocking wake: one pending signal is enough, run drains the queue.
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) run() {
	for range l.wake {
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				closed := l.closed
				l.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := l.queue[0]
			l.queue = l.queue[1:]
			l.mu.Unlock()

			fn()
		}
	}
}

// Close stops the loop after the tasks already queued have run.
// Schedule calls after Close are dropped.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Manual is a deterministic scheduler for tests. Nothing runs until the test
// calls Tick or Drain, which makes "one message per cooperative tick"
// assertions possible without a real event loop.
type Manual struct {
	mu    sync.Mutex
	queue []func()
}

// NewManual creates an empty Manual scheduler.
func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) Schedule(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
}

// Tick runs exactly one queued task. Returns false if the queue was empty.
func (m *Manual) Tick() bool {
	m.mu.Lock()
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return false
	}
	fn := m.queue[0]
	m.queue = m.queue[1:]
	m.mu.Unlock()

	fn()
	return true
}

// Drain runs tasks until the queue is empty, including tasks scheduled by
// the tasks it runs. Returns the number of tasks executed.
func (m *Manual) Drain() int {
	n := 0
	for m.Tick() {
		n++
	}
	return n
}

// Len reports the number of currently queued tasks.
func (m *Manual) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
