// Package handler provides a reflection-based remote.Handler: receiver
// structs are registered per capability id, and their exported methods with
// the signature
//
//	func (s *Svc) Method(args *Args, reply *Reply) error
//
// become remotely callable. It is a convenience layer — any remote.Handler
// implementation works with the protocol.
package handler

import (
	"encoding/json"
	"fmt"
	"reflect"

	"duplex-rpc/deferred"
	"duplex-rpc/remote"
)

type methodType struct {
	method    reflect.Method
	ArgType   reflect.Type
	ReplyType reflect.Type
}

type service struct {
	rcvr   reflect.Value
	method map[string]*methodType
}

// Dispatcher routes inbound requests to registered receivers by capability
// id and method name. Register all receivers before wiring the Dispatcher
// into a RemoteCom; the map is read-only afterwards.
type Dispatcher struct {
	services map[string]*service
}

var _ remote.Handler = (*Dispatcher)(nil)

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{services: make(map[string]*service)}
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Register exposes rcvr's RPC-shaped methods under the capability id.
func (d *Dispatcher) Register(rpcID string, rcvr any) error {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("handler: receiver for %q must be a pointer to struct", rpcID)
	}

	svc := &service{
		rcvr:   reflect.ValueOf(rcvr),
		method: make(map[string]*methodType),
	}

	// Scan exported methods: (receiver, *Args, *Reply) error.
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if method.Type.NumIn() != 3 || method.Type.NumOut() != 1 || method.Type.Out(0) != errorType ||
			method.Type.In(1).Kind() != reflect.Ptr || method.Type.In(2).Kind() != reflect.Ptr {
			continue
		}
		svc.method[method.Name] = &methodType{
			method:    method,
			ArgType:   method.Type.In(1).Elem(),
			ReplyType: method.Type.In(2).Elem(),
		}
	}

	if len(svc.method) == 0 {
		return fmt.Errorf("handler: receiver for %q has no methods with signature (args, reply) error", rpcID)
	}
	d.services[rpcID] = svc
	return nil
}

// Handle implements remote.Handler. The first wire argument is decoded into
// the method's args struct; the filled reply struct becomes the result.
// Dispatch is synchronous, so the returned Deferred is always settled.
func (d *Dispatcher) Handle(rpcID, method string, args []any) *deferred.Deferred {
	svc, ok := d.services[rpcID]
	if !ok {
		return deferred.Errored(fmt.Errorf("handler: unknown capability %q", rpcID))
	}
	mt, ok := svc.method[method]
	if !ok {
		return deferred.Errored(fmt.Errorf("handler: capability %q has no method %q", rpcID, method))
	}

	argv := reflect.New(mt.ArgType)
	replyv := reflect.New(mt.ReplyType)

	// args arrive as generic decoded values; round-trip the first one
	// through JSON into the typed args struct.
	if len(args) > 0 && args[0] != nil {
		data, err := json.Marshal(args[0])
		if err != nil {
			return deferred.Errored(fmt.Errorf("handler: encode args for %s.%s: %w", rpcID, method, err))
		}
		if err := json.Unmarshal(data, argv.Interface()); err != nil {
			return deferred.Errored(fmt.Errorf("handler: decode args for %s.%s: %w", rpcID, method, err))
		}
	}

	results := mt.method.Func.Call([]reflect.Value{svc.rcvr, argv, replyv})
	if !results[0].IsNil() {
		return deferred.Errored(results[0].Interface().(error))
	}
	return deferred.Resolved(replyv.Interface())
}
