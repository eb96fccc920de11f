// Package remote implements the correlation layer of duplex-rpc: it pairs
// every outbound request with the reply that eventually settles it, and
// dispatches inbound requests to the registered handler.
//
// Call lifecycle:
//
//	caller ──CallOnRemote──→ RemoteCom (assign id, register deferred,
//	  encode request) ──→ Mux (batch) ──→ transport ──→ peer
//	peer handler settles ──→ reply ──→ Mux (one per tick) ──→ onMessage
//	  ──→ look up pending id ──→ resolve deferred
//
// Every piece of mutable state — the two correlation maps, the handler
// slot — is confined to the scheduler; only the correlation counter is
// atomic so CallOnRemote can hand out ids from any goroutine.
package remote

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync/atomic"

	"duplex-rpc/codec"
	"duplex-rpc/deferred"
	"duplex-rpc/mux"
	"duplex-rpc/sched"
	"duplex-rpc/transport"
	"duplex-rpc/wire"
)

// Handler fulfills inbound requests. Handle may settle its result
// synchronously or later from any goroutine; the returned Deferred is also
// the invocation's cancellable handle — a Cancel message from the peer
// invokes its Cancel, and the handler decides whether and when to stop.
// It must still settle eventually so the invocation entry is reclaimed.
type Handler interface {
	Handle(rpcID, method string, args []any) *deferred.Deferred
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(rpcID, method string, args []any) *deferred.Deferred

func (f HandlerFunc) Handle(rpcID, method string, args []any) *deferred.Deferred {
	return f(rpcID, method, args)
}

// RemoteCom is one end of a duplex RPC channel: caller and callee at once.
type RemoteCom struct {
	sched sched.Scheduler
	mux   *mux.Mux
	codec codec.Codec

	lastReq atomic.Uint64

	// Scheduler-confined. pending holds outbound calls until a terminal
	// reply arrives (cancellation alone never removes an entry); invoked
	// holds inbound invocations from dispatch until their reply is sent.
	pending map[string]*deferred.Deferred
	invoked map[string]*deferred.Deferred
	handler Handler
}

// Option configures a RemoteCom.
type Option func(*RemoteCom)

// WithCodec replaces the default JSON value codec.
func WithCodec(c codec.Codec) Option {
	return func(r *RemoteCom) { r.codec = c }
}

// CreateProxyProtocol builds the protocol stack on top of a transport and
// scheduler. The returned RemoteCom can issue calls immediately; it routes
// no inbound requests until SetManyHandler is called.
func CreateProxyProtocol(s sched.Scheduler, tr transport.Transport, opts ...Option) *RemoteCom {
	r := &RemoteCom{
		sched:   s,
		mux:     mux.New(s, tr),
		codec:   codec.Default,
		pending: make(map[string]*deferred.Deferred),
		invoked: make(map[string]*deferred.Deferred),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.mux.OnMessage(r.onMessage)
	return r
}

// SetManyHandler registers the handler for inbound requests. There is one
// slot: a later registration replaces the earlier one.
func (r *RemoteCom) SetManyHandler(h Handler) {
	r.sched.Schedule(func() { r.handler = h })
}

// CallOnRemote invokes method on the peer capability rpcID. It returns
// immediately; the Deferred settles when the terminal reply arrives.
// Cancelling the Deferred sends exactly one Cancel message and leaves the
// call pending until the peer replies. No timeout is imposed here — a call
// whose reply never comes stays pending, and deadline policy belongs to
// the caller (pair Await with a context).
func (r *RemoteCom) CallOnRemote(rpcID, method string, args []any) *deferred.Deferred {
	req := strconv.FormatUint(r.lastReq.Add(1), 10)

	d := deferred.New(func() {
		r.sched.Schedule(func() { r.mux.Send(wire.EncodeCancel(req)) })
	})

	argsRaw, err := r.codec.Marshal(args)
	if err != nil {
		d.ResolveErr(fmt.Errorf("remote: marshal args for %s.%s: %w", rpcID, method, err))
		return d
	}

	// Registration and send run as one task: the entry is in the map before
	// the request can leave the process, so no reply can ever race it.
	r.sched.Schedule(func() {
		r.pending[req] = d
		r.mux.Send(wire.EncodeRequest(req, rpcID, method, argsRaw))
	})
	return d
}

// onMessage is the mux delivery callback: one decoded message per tick.
// Nothing here is allowed to panic except the missing-handler wiring bug;
// a fault on one message must not corrupt the loop for unrelated calls.
func (r *RemoteCom) onMessage(text string) {
	msg, err := wire.Decode(text)
	if err != nil {
		log.Printf("remote: undecodable message dropped: %v", err)
		return
	}

	switch m := msg.(type) {
	case *wire.ReplyOk:
		d, ok := r.takePending(m.Seq)
		if !ok {
			return
		}
		var value any
		if m.Res != nil {
			if err := r.codec.Unmarshal(m.Res, &value); err != nil {
				d.ResolveErr(fmt.Errorf("remote: unmarshal result for call %s: %w", m.Seq, err))
				return
			}
		}
		d.ResolveOk(value)

	case *wire.ReplyErr:
		d, ok := r.takePending(m.Seq)
		if !ok {
			return
		}
		d.ResolveErr(codec.ReconstructError(m.Err))

	case *wire.Cancel:
		// Unknown id: the invocation already completed (or never existed),
		// nothing to cancel.
		if d, ok := r.invoked[m.Cancel]; ok {
			d.Cancel()
		}

	case *wire.BareError:
		log.Printf("remote: peer reported error: %s", m.Err)

	case *wire.Request:
		r.dispatch(m)
	}
}

// takePending removes and returns the outbound call for a reply. A reply to
// an unknown id means the peers disagree about outstanding calls — worth a
// warning, not worth killing the channel.
func (r *RemoteCom) takePending(seq string) (*deferred.Deferred, bool) {
	d, ok := r.pending[seq]
	if !ok {
		log.Printf("remote: reply for unknown call %q dropped", seq)
		return nil, false
	}
	delete(r.pending, seq)
	return d, true
}

// dispatch routes an inbound request to the handler and arranges the reply.
func (r *RemoteCom) dispatch(req *wire.Request) {
	if r.handler == nil {
		// Wiring bug, not a recoverable condition: dropping the request
		// would leave the caller pending forever. Abort loudly.
		log.Panicf("remote: request %s for %s.%s received with no handler registered",
			req.Req, req.RPCID, req.Method)
	}

	d := r.invoke(req)

	// Register before the result settles so a Cancel arriving on a later
	// tick can find the invocation. The entry is removed exactly once, by
	// completion — cancellation by itself never removes it.
	r.invoked[req.Req] = d
	d.OnSettle(func(value any, err error) {
		r.sched.Schedule(func() {
			delete(r.invoked, req.Req)
			if err != nil {
				r.mux.Send(wire.EncodeReplyErr(req.Req, codec.TransformError(err)))
				return
			}
			r.sendReplyOk(req.Req, value)
		})
	})
}

// invoke calls the handler, converting synchronous panics and bad arguments
// into failed outcomes instead of letting them escape the message loop.
func (r *RemoteCom) invoke(req *wire.Request) (d *deferred.Deferred) {
	defer func() {
		if p := recover(); p != nil {
			d = deferred.Errored(fmt.Errorf("remote: handler panic in %s.%s: %v", req.RPCID, req.Method, p))
		}
	}()

	var args []any
	if req.Args != nil {
		if err := r.codec.Unmarshal(req.Args, &args); err != nil {
			return deferred.Errored(fmt.Errorf("remote: unmarshal args for %s.%s: %w", req.RPCID, req.Method, err))
		}
	}

	d = r.handler.Handle(req.RPCID, req.Method, args)
	if d == nil {
		d = deferred.Resolved(nil)
	}
	return d
}

func (r *RemoteCom) sendReplyOk(req string, value any) {
	var res json.RawMessage
	if value != nil {
		var err error
		res, err = r.codec.Marshal(value)
		if err != nil {
			r.mux.Send(wire.EncodeReplyErr(req, codec.TransformError(
				fmt.Errorf("remote: marshal result: %w", err))))
			return
		}
	}
	r.mux.Send(wire.EncodeReplyOk(req, res))
}
