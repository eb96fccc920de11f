package codec

import "encoding/json"

// JSONCodec renders values with encoding/json. The wire format is JSON text,
// so this is the interoperable default; a custom Codec only makes sense for
// types that need bespoke JSON shapes.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data json.RawMessage, v any) error {
	return json.Unmarshal(data, v)
}
