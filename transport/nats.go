package transport

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSTransport runs the duplex channel over a NATS subject pair: batches
// are published on sendSubject and received from recvSubject. The two peers
// use mirrored pairs (host sends where the worker listens and vice versa).
// Batches are JSON-encoded string arrays; NATS preserves per-subject
// publish order, which gives the ordered-batch contract for free.
type NATSTransport struct {
	nc          *nats.Conn
	sendSubject string
	sub         *nats.Subscription

	mu      sync.Mutex
	onBatch func([]string)
	backlog [][]string
	closed  bool

	// deliverMu serializes subscription deliveries with the backlog replay
	// in OnBatch, so a batch arriving mid-replay cannot overtake older ones.
	deliverMu sync.Mutex
}

// NewNATSTransport subscribes to recvSubject and returns a transport that
// publishes on sendSubject.
func NewNATSTransport(nc *nats.Conn, sendSubject, recvSubject string) (*NATSTransport, error) {
	t := &NATSTransport{nc: nc, sendSubject: sendSubject}

	sub, err := nc.Subscribe(recvSubject, func(msg *nats.Msg) {
		var batch []string
		if err := json.Unmarshal(msg.Data, &batch); err != nil {
			return // not a protocol batch, drop
		}
		t.deliver(batch)
	})
	if err != nil {
		return nil, fmt.Errorf("transport: subscribe %s: %w", recvSubject, err)
	}
	t.sub = sub
	return t, nil
}

// Connect is a convenience dialer with the retry/reconnect settings a
// long-lived duplex channel wants.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: connect %s: %w", url, err)
	}
	return nc, nil
}

func (t *NATSTransport) Send(batch []string) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("transport: encode batch: %w", err)
	}
	return t.nc.Publish(t.sendSubject, data)
}

func (t *NATSTransport) deliver(batch []string) {
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

func (t *NATSTransport) OnBatch(fn func(batch []string)) {
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

func (t *NATSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.sub.Unsubscribe()
}
