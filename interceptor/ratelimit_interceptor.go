package interceptor

import (
	"errors"

	"golang.org/x/time/rate"

	"duplex-rpc/deferred"
	"duplex-rpc/remote"
)

// ErrRateLimited is the failure delivered to callers rejected by RateLimit.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimit rejects invocations over a token-bucket budget of r requests
// per second with the given burst. Rejections are failed outcomes, so the
// remote caller sees them as ordinary call errors.
func RateLimit(r float64, burst int) Interceptor {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next remote.Handler) remote.Handler {
		return remote.HandlerFunc(func(rpcID, method string, args []any) *deferred.Deferred {
			if !limiter.Allow() {
				return deferred.Errored(ErrRateLimited)
			}
			return next.Handle(rpcID, method, args)
		})
	}
}
