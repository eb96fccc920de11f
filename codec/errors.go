package codec

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
)

// wireError is the marked error shape sent for failed replies. The $isError
// flag distinguishes a transformed error from an arbitrary payload that
// merely looks like one; the receiving side only reconstructs a RemoteError
// when the flag is set.
type wireError struct {
	IsError bool   `json:"$isError"`
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// RemoteError is an error reported by the peer, reconstructed from a marked
// wire payload. Name, Message, and Stack describe the failure as the peer
// saw it.
type RemoteError struct {
	Name    string
	Message string
	Stack   string
}

func (e *RemoteError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

// RawError wraps a failed-reply payload that did not carry the error marker.
// Payload is nil when the peer rejected with no detail at all.
type RawError struct {
	Payload json.RawMessage
}

func (e *RawError) Error() string {
	if e.Payload == nil {
		return "remote call failed with no detail"
	}
	return fmt.Sprintf("remote call failed: %s", e.Payload)
}

// TransformError renders err as a marked wire payload so name, message, and
// stack survive the trip. A nil err yields nil (encoded as "err":null).
func TransformError(err error) json.RawMessage {
	if err == nil {
		return nil
	}
	we := wireError{
		IsError: true,
		Name:    fmt.Sprintf("%T", err),
		Message: err.Error(),
	}
	if re, ok := err.(*RemoteError); ok {
		// Already rich: forward the original triple instead of rewrapping.
		we.Name, we.Message, we.Stack = re.Name, re.Message, re.Stack
	} else {
		we.Stack = string(debug.Stack())
	}
	data, merr := json.Marshal(we)
	if merr != nil {
		return json.RawMessage(`{"$isError":true,"name":"Error","message":"unserializable error"}`)
	}
	return data
}

// ReconstructError turns a failed-reply payload back into an error. Marked
// payloads become *RemoteError; anything else, including nil, is passed
// through as *RawError.
func ReconstructError(payload json.RawMessage) error {
	if payload != nil {
		var we wireError
		if err := json.Unmarshal(payload, &we); err == nil && we.IsError {
			return &RemoteError{Name: we.Name, Message: we.Message, Stack: we.Stack}
		}
	}
	return &RawError{Payload: payload}
}
