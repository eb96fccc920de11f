package transport

import (
	"net"
	"sync"
	"time"
)

// ConnTransport runs the duplex channel over a net.Conn (TCP, unix socket,
// net.Pipe). A single recvLoop goroutine owns the read side — frame
// boundaries in a byte stream require a sequential reader — and a write
// mutex serializes the send side so concurrent batches never interleave.
type ConnTransport struct {
	conn    net.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	onBatch func([]string)
	backlog [][]string // batches received before OnBatch was registered
	closed  bool

	// deliverMu serializes recvLoop deliveries with the backlog replay in
	// OnBatch, so a batch arriving mid-replay cannot overtake older ones.
	deliverMu sync.Mutex

	stopHeartbeat chan struct{}
}

// NewConnTransport wraps conn and starts the receive loop. If heartbeat is
// non-zero, empty keepalive frames are sent at that interval so an idle
// channel is distinguishable from a dead one.
func NewConnTransport(conn net.Conn, heartbeat time.Duration) *ConnTransport {
	t := &ConnTransport{
		conn:          conn,
		stopHeartbeat: make(chan struct{}),
	}
	go t.recvLoop()
	if heartbeat > 0 {
		go t.heartbeatLoop(heartbeat)
	}
	return t
}

// Send writes one batch as a single frame.
func (t *ConnTransport) Send(batch []string) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return encodeFrame(t.conn, batch)
}

// OnBatch registers the receive callback. Batches that arrived before
// registration are replayed, in order, before any new ones.
func (t *ConnTransport) OnBatch(fn func(batch []string)) {
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

// recvLoop is the single reader: it decodes frames sequentially and hands
// each batch to the callback. Heartbeat frames (empty batches) are dropped
// here. On read error the connection is considered dead and the loop exits.
func (t *ConnTransport) recvLoop() {
	for {
		batch, err := decodeFrame(t.conn)
		if err != nil {
			t.Close()
			return
		}
		if len(batch) == 0 {
			continue
		}
		t.deliver(batch)
	}
}

func (t *ConnTransport) deliver(batch []string) {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	t.mu.Lock()
	fn := t.onBatch
	if fn == nil {
		t.backlog = append(t.backlog, batch)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	fn(batch)
}

// heartbeatLoop writes empty frames until the transport closes. Heartbeats
// share the write mutex with Send so they never split a data frame.
func (t *ConnTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopHeartbeat:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := encodeFrame(t.conn, nil)
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Close shuts the transport down. Idempotent.
func (t *ConnTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.stopHeartbeat)
	return t.conn.Close()
}
