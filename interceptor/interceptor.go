// Package interceptor wraps a remote.Handler with cross-cutting behavior.
// Interceptors compose as an onion: Chain(A, B)(h) runs A around B around h.
package interceptor

import (
	"duplex-rpc/deferred"
	"duplex-rpc/remote"
)

// Interceptor decorates a Handler.
type Interceptor func(next remote.Handler) remote.Handler

// Chain combines interceptors into one, outermost first.
func Chain(interceptors ...Interceptor) Interceptor {
	return func(next remote.Handler) remote.Handler {
		for i := len(interceptors) - 1; i >= 0; i-- {
			next = interceptors[i](next)
		}
		return next
	}
}

// Recovery converts a panicking handler into a failed outcome so the fault
// is reported to the caller instead of unwinding into the message loop.
// The protocol layer has its own last-resort recover; this one exists so
// inner interceptors (e.g. Logging) still see the failure.
func Recovery() Interceptor {
	return func(next remote.Handler) remote.Handler {
		return remote.HandlerFunc(func(rpcID, method string, args []any) (d *deferred.Deferred) {
			defer func() {
				if p := recover(); p != nil {
					d = deferred.Errored(&PanicError{RPCID: rpcID, Method: method, Value: p})
				}
			}()
			return next.Handle(rpcID, method, args)
		})
	}
}

// PanicError reports a handler panic captured by Recovery.
type PanicError struct {
	RPCID  string
	Method string
	Value  any
}

func (e *PanicError) Error() string {
	return "handler panic in " + e.RPCID + "." + e.Method
}
