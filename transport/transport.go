// Package transport carries batches of wire messages between the two peers
// of a duplex-rpc channel. The protocol layer above is transport-agnostic:
// it only needs ordered delivery of text batches in both directions.
package transport

import "errors"

// ErrClosed is returned by Send after the transport has shut down.
var ErrClosed = errors.New("transport: closed")

// Transport is one end of a duplex channel. Send writes one ordered batch of
// wire messages; OnBatch registers the single callback invoked for every
// arriving batch. The callback may fire on a transport-owned goroutine —
// receivers marshal it onto their scheduler.
type Transport interface {
	Send(batch []string) error
	OnBatch(fn func(batch []string))
	Close() error
}
