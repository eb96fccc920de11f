// Package registry lets duplex-rpc peers find each other. A worker process
// advertises the endpoint its channel listens on; the host discovers it by
// peer name. The protocol itself is point-to-point and never touches the
// registry — this is wiring for process startup.
package registry

// Endpoint describes one advertised channel endpoint.
type Endpoint struct {
	Addr  string // dialable address, e.g. "127.0.0.1:7420"
	Proto string // transport kind: "tcp" or "nats"
}

// Registry is the peer discovery contract.
type Registry interface {
	Register(peer string, ep Endpoint, ttl int64) error
	Deregister(peer string, addr string) error
	Discover(peer string) ([]Endpoint, error)
	Watch(peer string) <-chan []Endpoint
}
