// Package codec serializes call arguments, results, and error payloads for
// the duplex-rpc wire. The protocol layer treats values as opaque rendered
// JSON; this package is the collaborator that produces and consumes them.
package codec

import "encoding/json"

// Codec converts between Go values and their wire rendering.
type Codec interface {
	Marshal(v any) (json.RawMessage, error)
	Unmarshal(data json.RawMessage, v any) error
}

// Default is the codec used when none is supplied.
var Default Codec = JSONCodec{}
