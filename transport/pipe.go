package transport

import "sync"

// PipeTransport is one end of an in-memory duplex pair. Send delivers the
// batch synchronously to the peer's callback, which makes tests fully
// deterministic (the protocol layer reschedules delivery onto its own
// scheduler anyway, so synchronous hand-off never re-enters user code).
type PipeTransport struct {
	mu      sync.Mutex
	peer    *PipeTransport
	onBatch func([]string)
	backlog [][]string
	closed  bool

	// deliverMu serializes callback invocations with the backlog replay in
	// OnBatch: a batch arriving mid-replay must wait, or it would overtake
	// older backlogged batches and break FIFO order.
	deliverMu sync.Mutex
}

// Pipe creates two connected in-memory transports. Batches sent on one end
// arrive on the other, in order.
func Pipe() (*PipeTransport, *PipeTransport) {
	a := &PipeTransport{}
	b := &PipeTransport{}
	a.peer, b.peer = b, a
	return a, b
}

func (t *PipeTransport) Send(batch []string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.mu.Unlock()

	t.peer.deliver(batch)
	return nil
}

func (t *PipeTransport) deliver(batch []string) {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	fn := t.onBatch
	if fn == nil {
		t.backlog = append(t.backlog, batch)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	fn(batch)
}

func (t *PipeTransport) OnBatch(fn func(batch []string)) {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	t.mu.Lock()
	t.onBatch = fn
	backlog := t.backlog
	t.backlog = nil
	t.mu.Unlock()

	for _, batch := range backlog {
		fn(batch)
	}
}

func (t *PipeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}
