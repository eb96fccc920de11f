// Package mux sits between the correlation layer and the transport. It does
// two things, both tied to the cooperative scheduler:
//
// Outbound, it coalesces every message sent within one scheduling tick into
// a single transport write, preserving call order. An RPC burst — a request
// plus the cancels and replies produced by the same task — costs one write.
//
// Inbound, it drains arriving batches one message per tick, strict FIFO
// across batches. Yielding between messages keeps one large batch from
// starving timers and other channel activity, at the cost of one tick of
// latency per message.
package mux

import (
	"log"

	"duplex-rpc/sched"
	"duplex-rpc/transport"
)

// Mux multiplexes wire messages over one transport.
//
// All fields are confined to the scheduler: Send and OnMessage must be
// called from scheduler tasks, and the transport callback re-enters through
// Schedule. That confinement is what makes the buffers lock-free.
type Mux struct {
	sched sched.Scheduler
	tr    transport.Transport

	out            []string
	flushScheduled bool

	in        []string
	onMessage func(string)
	draining  bool
}

// New wires a Mux to the transport and starts listening for batches.
func New(s sched.Scheduler, tr transport.Transport) *Mux {
	m := &Mux{sched: s, tr: tr}
	tr.OnBatch(func(batch []string) {
		// Transport goroutine → scheduler. The batch slice is owned by the
		// transport; copy happens via append below.
		m.sched.Schedule(func() { m.arrive(batch) })
	})
	return m
}

// OnMessage registers the single delivery callback, invoked once per
// inbound message, one message per tick.
func (m *Mux) OnMessage(fn func(msg string)) {
	m.onMessage = fn
}

// Send queues one outbound message. The first send of a tick schedules the
// flush; everything sent before the flush runs rides the same batch.
func (m *Mux) Send(msg string) {
	m.out = append(m.out, msg)
	if m.flushScheduled {
		return
	}
	m.flushScheduled = true
	m.sched.Schedule(m.flush)
}

// flush swaps the accumulation buffer and issues exactly one transport send
// with the whole batch.
func (m *Mux) flush() {
	batch := m.out
	m.out = nil
	m.flushScheduled = false
	if len(batch) == 0 {
		return
	}
	if err := m.tr.Send(batch); err != nil {
		// A failed write cannot be surfaced to any one call: the batch may
		// carry traffic for many. Log and leave the calls pending, matching
		// channel-loss semantics.
		log.Printf("mux: transport send failed (%d messages dropped): %v", len(batch), err)
	}
}

// arrive appends a batch to the receive queue, starting the drain if it was
// idle. Multiple batches concatenate in arrival order.
func (m *Mux) arrive(batch []string) {
	if len(batch) == 0 {
		return
	}
	m.in = append(m.in, batch...)
	if m.draining {
		return
	}
	m.draining = true
	m.sched.Schedule(m.deliverOne)
}

// deliverOne pops the front message, hands it to the callback, and
// reschedules itself while messages remain — exactly one message per tick.
func (m *Mux) deliverOne() {
	if len(m.in) == 0 {
		m.draining = false
		return
	}
	msg := m.in[0]
	m.in = m.in[1:]

	if len(m.in) > 0 {
		m.sched.Schedule(m.deliverOne)
	} else {
		m.draining = false
	}

	if m.onMessage == nil {
		log.Printf("mux: inbound message dropped, no callback registered")
		return
	}
	m.onMessage(msg)
}
