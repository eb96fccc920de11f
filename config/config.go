// Package config loads demo-binary configuration from the environment.
// The library core takes explicit parameters; only cmd/ uses this.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds duplex-rpc-demo settings.
type Config struct {
	// Mode selects the role: "worker" serves capabilities, "host" calls them.
	Mode string `envconfig:"DUPLEX_MODE" default:"host"`

	// PeerName is the registry key the worker advertises under and the host
	// looks up.
	PeerName string `envconfig:"DUPLEX_PEER" default:"worker"`

	// ListenAddr is where the worker accepts its channel connection.
	ListenAddr string `envconfig:"DUPLEX_LISTEN_ADDR" default:"127.0.0.1:7420"`

	// EtcdEndpoints enable peer discovery; empty means dial ListenAddr
	// directly.
	EtcdEndpoints []string `envconfig:"DUPLEX_ETCD_ENDPOINTS"`

	// Heartbeat interval for the TCP channel; 0 disables keepalives.
	Heartbeat time.Duration `envconfig:"DUPLEX_HEARTBEAT" default:"30s"`

	// RateLimit caps inbound invocations per second on the worker;
	// 0 disables the limiter.
	RateLimit float64 `envconfig:"DUPLEX_RATE_LIMIT" default:"0"`
	RateBurst int     `envconfig:"DUPLEX_RATE_BURST" default:"16"`

	// CallTimeout bounds the host's Await on each demo call. The protocol
	// imposes no timeout of its own; this is caller policy.
	CallTimeout time.Duration `envconfig:"DUPLEX_CALL_TIMEOUT" default:"10s"`
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if c.Mode != "host" && c.Mode != "worker" {
		return nil, fmt.Errorf("config: DUPLEX_MODE must be \"host\" or \"worker\", got %q", c.Mode)
	}
	return &c, nil
}
