// duplex-rpc-demo runs one end of a duplex RPC channel over TCP.
//
// Worker mode listens for the host's connection, optionally advertises its
// endpoint in etcd, and serves an Arith capability. Host mode discovers the
// worker (etcd or direct address), connects, and issues a few calls.
//
//	DUPLEX_MODE=worker duplex-rpc-demo
//	DUPLEX_MODE=host   duplex-rpc-demo
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"

	"duplex-rpc/config"
	"duplex-rpc/handler"
	"duplex-rpc/interceptor"
	"duplex-rpc/registry"
	"duplex-rpc/remote"
	"duplex-rpc/sched"
	"duplex-rpc/transport"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Arith struct{}

func (*Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

func (*Arith) Multiply(args *Args, reply *Reply) error {
	reply.Result = args.A * args.B
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("bad configuration", "err", err)
		os.Exit(1)
	}

	if cfg.Mode == "worker" {
		err = runWorker(cfg)
	} else {
		err = runHost(cfg)
	}
	if err != nil {
		slog.Error("demo failed", "mode", cfg.Mode, "err", err)
		os.Exit(1)
	}
}

func runWorker(cfg *config.Config) error {
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}
	defer ln.Close()

	if len(cfg.EtcdEndpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints)
		if err != nil {
			return err
		}
		defer reg.Close()
		ep := registry.Endpoint{Addr: cfg.ListenAddr, Proto: "tcp"}
		if err := reg.Register(cfg.PeerName, ep, 10); err != nil {
			return err
		}
		defer reg.Deregister(cfg.PeerName, cfg.ListenAddr)
		slog.Info("advertised endpoint", "peer", cfg.PeerName, "addr", cfg.ListenAddr)
	}

	slog.Info("waiting for host", "addr", cfg.ListenAddr)
	conn, err := ln.Accept()
	if err != nil {
		return err
	}

	disp := handler.NewDispatcher()
	if err := disp.Register("svc.arith", &Arith{}); err != nil {
		return err
	}

	chain := []interceptor.Interceptor{interceptor.Recovery(), interceptor.Logging()}
	if cfg.RateLimit > 0 {
		chain = append(chain, interceptor.RateLimit(cfg.RateLimit, cfg.RateBurst))
	}

	loop := sched.NewLoop()
	defer loop.Close()
	tr := transport.NewConnTransport(conn, cfg.Heartbeat)
	defer tr.Close()

	com := remote.CreateProxyProtocol(loop, tr)
	com.SetManyHandler(interceptor.Chain(chain...)(disp))

	slog.Info("serving", "capability", "svc.arith")
	select {} // serve until killed
}

func runHost(cfg *config.Config) error {
	addr := cfg.ListenAddr
	if len(cfg.EtcdEndpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints)
		if err != nil {
			return err
		}
		defer reg.Close()
		endpoints, err := reg.Discover(cfg.PeerName)
		if err != nil {
			return err
		}
		if len(endpoints) == 0 {
			return fmt.Errorf("no endpoints advertised for peer %q", cfg.PeerName)
		}
		addr = endpoints[0].Addr
		slog.Info("discovered peer", "peer", cfg.PeerName, "addr", addr)
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}

	loop := sched.NewLoop()
	defer loop.Close()
	tr := transport.NewConnTransport(conn, cfg.Heartbeat)
	defer tr.Close()

	com := remote.CreateProxyProtocol(loop, tr)

	calls := []struct {
		method string
		a, b   int
	}{
		{"Add", 3, 4},
		{"Multiply", 6, 7},
	}
	for _, c := range calls {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.CallTimeout)
		value, err := com.CallOnRemote("svc.arith", c.method, []any{Args{A: c.a, B: c.b}}).Await(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("%s(%d,%d): %w", c.method, c.a, c.b, err)
		}
		slog.Info("call completed", "method", c.method, "result", value)
	}
	return nil
}
