package interceptor

import (
	"log"
	"time"

	"duplex-rpc/deferred"
	"duplex-rpc/remote"
)

// Logging logs every invocation with its duration and outcome. Duration is
// measured to settle time, not return time, so asynchronous handlers are
// timed correctly.
func Logging() Interceptor {
	return func(next remote.Handler) remote.Handler {
		return remote.HandlerFunc(func(rpcID, method string, args []any) *deferred.Deferred {
			start := time.Now()
			d := next.Handle(rpcID, method, args)
			d.OnSettle(func(_ any, err error) {
				if err != nil {
					log.Printf("%s.%s failed after %s: %v", rpcID, method, time.Since(start), err)
					return
				}
				log.Printf("%s.%s ok in %s", rpcID, method, time.Since(start))
			})
			return d
		})
	}
}
