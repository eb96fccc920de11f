// etcd-backed Registry.
//
//	Key:   /duplex-rpc/{peer}/{addr}
//	Value: JSON-encoded Endpoint
//
// Registration uses TTL leases: if the advertising process dies, the lease
// expires and the entry disappears on its own, so hosts never dial ghosts.
package registry

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/duplex-rpc/"

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

// Register advertises ep under the peer name with a TTL lease and starts
// background renewal. The lease id stays local so one EtcdRegistry can be
// shared by several advertisers without a data race.
func (r *EtcdRegistry) Register(peer string, ep Endpoint, ttl int64) error {
	ctx := context.TODO()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(ep)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, keyPrefix+peer+"/"+ep.Addr, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	// Drain KeepAlive responses so the channel never fills.
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes one advertised endpoint.
func (r *EtcdRegistry) Deregister(peer string, addr string) error {
	_, err := r.client.Delete(context.TODO(), keyPrefix+peer+"/"+addr)
	return err
}

// Discover returns all endpoints currently advertised for the peer.
func (r *EtcdRegistry) Discover(peer string) ([]Endpoint, error) {
	resp, err := r.client.Get(context.TODO(), keyPrefix+peer+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	endpoints := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			continue // skip malformed entries
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// Watch emits the full endpoint list whenever the peer's entries change.
// The channel only ever holds the latest snapshot: if the consumer falls
// behind, the stale snapshot is replaced rather than blocking the watcher.
// The channel closes when the watch ends (e.g. the client is closed).
func (r *EtcdRegistry) Watch(peer string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)
	go func() {
		defer close(ch)
		watchChan := r.client.Watch(context.TODO(), keyPrefix+peer+"/", clientv3.WithPrefix())
		for range watchChan {
			endpoints, _ := r.Discover(peer)
			select {
			case <-ch: // discard the stale snapshot
			default:
			}
			ch <- endpoints
		}
	}()
	return ch
}

// Close releases the etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
