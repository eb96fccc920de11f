// Package wire implements the duplex-rpc wire format.
//
// A wire message is a single JSON object. There is no explicit type tag: the
// variant is determined by which fields are present, and that rule is part of
// the protocol (both peers must classify identically):
//
//	{"req","rpcId","method","args"}  request
//	{"cancel"}                       cancellation of an outstanding request
//	{"seq","res"?}                   successful reply
//	{"seq","err"}                    failed reply (err may be null)
//	{"err"}                          bare error notification, tied to no call
//
// Two field-presence subtleties matter for interop and must be preserved:
// a successful reply with no return value omits the "res" key entirely
// (absent != null), while a failed reply with no error detail carries an
// explicit "err":null.
package wire

import (
	"encoding/json"
	"fmt"
)

// Message is the decoded wire message. Decode returns exactly one of the
// variants below; the unexported marker keeps the set closed so dispatch
// can type-switch exhaustively.
type Message interface {
	isMessage()
}

// Request asks the peer to invoke method on the capability rpcId.
type Request struct {
	Req    string          `json:"req"`
	RPCID  string          `json:"rpcId"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args"`
}

// Cancel asks the peer to cancel the outstanding request it names.
type Cancel struct {
	Cancel string `json:"cancel"`
}

// ReplyOk is the successful terminal outcome of a request.
// Res is nil when the call produced no return value.
type ReplyOk struct {
	Seq string          `json:"seq"`
	Res json.RawMessage `json:"res,omitempty"`
}

// ReplyErr is the failed terminal outcome of a request.
// Err is nil when the call failed with no detail; it still encodes as
// "err":null so the receiver can tell failure-without-detail apart from
// a successful reply.
type ReplyErr struct {
	Seq string          `json:"seq"`
	Err json.RawMessage `json:"err"`
}

// BareError is an informational error not tied to any call.
type BareError struct {
	Err json.RawMessage `json:"err"`
}

func (*Request) isMessage()   {}
func (*Cancel) isMessage()    {}
func (*ReplyOk) isMessage()   {}
func (*ReplyErr) isMessage()  {}
func (*BareError) isMessage() {}

// EncodeRequest renders a request message. args must already be serialized
// (the value codec is a separate collaborator).
func EncodeRequest(req, rpcID, method string, args json.RawMessage) string {
	return marshal(&Request{Req: req, RPCID: rpcID, Method: method, Args: args})
}

// EncodeCancel renders a cancellation for the given request id.
func EncodeCancel(req string) string {
	return marshal(&Cancel{Cancel: req})
}

// EncodeReplyOk renders a successful reply. A nil res omits the field,
// distinguishing "no return value" from "returned null".
func EncodeReplyOk(req string, res json.RawMessage) string {
	return marshal(&ReplyOk{Seq: req, Res: res})
}

// EncodeReplyErr renders a failed reply. A nil err encodes as "err":null.
func EncodeReplyErr(req string, err json.RawMessage) string {
	if err == nil {
		err = json.RawMessage("null")
	}
	return marshal(&ReplyErr{Seq: req, Err: err})
}

func marshal(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		// All message fields are strings and pre-rendered JSON; Marshal can
		// only fail on invalid RawMessage bytes, which is a caller bug.
		panic(fmt.Sprintf("wire: marshal %T: %v", v, err))
	}
	return string(data)
}

// probe captures field presence without committing to a variant.
// RawMessage fields are nil when the key is absent and "null" when the key
// is present with a null value — that difference drives classification.
type probe struct {
	Req    json.RawMessage `json:"req"`
	RPCID  json.RawMessage `json:"rpcId"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args"`
	Seq    *string         `json:"seq"`
	Res    json.RawMessage `json:"res"`
	Err    json.RawMessage `json:"err"`
	Cancel *string         `json:"cancel"`
}

// Decode parses wire text into a typed message using the field-presence
// rule: seq ⇒ reply, cancel ⇒ cancellation, err with no req/rpcId ⇒ bare
// error, anything else ⇒ request.
func Decode(text string) (Message, error) {
	var p probe
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return nil, fmt.Errorf("wire: decode: %w", err)
	}

	switch {
	case p.Seq != nil:
		if p.Err != nil {
			e := p.Err
			if string(e) == "null" {
				e = nil
			}
			return &ReplyErr{Seq: *p.Seq, Err: e}, nil
		}
		return &ReplyOk{Seq: *p.Seq, Res: p.Res}, nil

	case p.Cancel != nil:
		return &Cancel{Cancel: *p.Cancel}, nil

	case p.Err != nil && p.Req == nil && p.RPCID == nil:
		return &BareError{Err: p.Err}, nil

	default:
		var req, rpcID string
		if err := unmarshalString(p.Req, &req); err != nil {
			return nil, fmt.Errorf("wire: decode request id: %w", err)
		}
		if err := unmarshalString(p.RPCID, &rpcID); err != nil {
			return nil, fmt.Errorf("wire: decode rpcId: %w", err)
		}
		return &Request{Req: req, RPCID: rpcID, Method: p.Method, Args: p.Args}, nil
	}
}

func unmarshalString(raw json.RawMessage, dst *string) error {
	if raw == nil {
		return fmt.Errorf("missing field")
	}
	return json.Unmarshal(raw, dst)
}
