package wire

import (
	"encoding/json"
	"testing"
)

func TestEncodeRequestExactBytes(t *testing.T) {
	got := EncodeRequest("1", "svc.foo", "bar", json.RawMessage("[1,2]"))
	want := `{"req":"1","rpcId":"svc.foo","method":"bar","args":[1,2]}`
	if got != want {
		t.Fatalf("request encoding mismatch:\n got  %s\n want %s", got, want)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	text := EncodeRequest("7", "cap.files", "read", json.RawMessage(`["/tmp/x",128]`))

	msg, err := Decode(text)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	req, ok := msg.(*Request)
	if !ok {
		t.Fatalf("expected *Request, got %T", msg)
	}
	if req.Req != "7" || req.RPCID != "cap.files" || req.Method != "read" {
		t.Errorf("field mismatch: %+v", req)
	}
	if string(req.Args) != `["/tmp/x",128]` {
		t.Errorf("args mismatch: %s", req.Args)
	}
}

func TestEncodeReplyOkOmitsAbsentResult(t *testing.T) {
	got := EncodeReplyOk("3", nil)
	want := `{"seq":"3"}`
	if got != want {
		t.Fatalf("expected res key omitted: got %s, want %s", got, want)
	}

	// A present-but-null result is a different wire shape.
	got = EncodeReplyOk("3", json.RawMessage("null"))
	want = `{"seq":"3","res":null}`
	if got != want {
		t.Fatalf("expected explicit null res: got %s, want %s", got, want)
	}
}

func TestEncodeReplyErrNullMarker(t *testing.T) {
	got := EncodeReplyErr("4", nil)
	want := `{"seq":"4","err":null}`
	if got != want {
		t.Fatalf("expected explicit null err: got %s, want %s", got, want)
	}
}

func TestEncodeCancel(t *testing.T) {
	got := EncodeCancel("9")
	want := `{"cancel":"9"}`
	if got != want {
		t.Fatalf("cancel encoding mismatch: got %s, want %s", got, want)
	}
}

// Decode classifies by field presence, not by a type tag. Each case checks
// the exact rule the peers share.
func TestDecodeClassification(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"request", `{"req":"1","rpcId":"a","method":"m","args":[]}`, "*wire.Request"},
		{"replyOk", `{"seq":"1","res":42}`, "*wire.ReplyOk"},
		{"replyOkNoRes", `{"seq":"1"}`, "*wire.ReplyOk"},
		{"replyErr", `{"seq":"1","err":{"$isError":true}}`, "*wire.ReplyErr"},
		{"replyErrNull", `{"seq":"1","err":null}`, "*wire.ReplyErr"},
		{"cancel", `{"cancel":"1"}`, "*wire.Cancel"},
		{"bareError", `{"err":"boom"}`, "*wire.BareError"},
	}

	for _, tc := range cases {
		msg, err := Decode(tc.text)
		if err != nil {
			t.Fatalf("%s: Decode failed: %v", tc.name, err)
		}
		if got := typeName(msg); got != tc.want {
			t.Errorf("%s: classified as %s, want %s", tc.name, got, tc.want)
		}
	}
}

func typeName(m Message) string {
	switch m.(type) {
	case *Request:
		return "*wire.Request"
	case *ReplyOk:
		return "*wire.ReplyOk"
	case *ReplyErr:
		return "*wire.ReplyErr"
	case *Cancel:
		return "*wire.Cancel"
	case *BareError:
		return "*wire.BareError"
	}
	return "unknown"
}

func TestDecodeReplyErrNullIsNilPayload(t *testing.T) {
	msg, err := Decode(`{"seq":"2","err":null}`)
	if err != nil {
		t.Fatal(err)
	}
	re := msg.(*ReplyErr)
	if re.Err != nil {
		t.Fatalf("expected nil payload for err:null, got %s", re.Err)
	}
}

func TestDecodeErrWithReqIsNotBareError(t *testing.T) {
	// err alongside req/rpcId must not classify as a bare error.
	msg, err := Decode(`{"req":"1","rpcId":"a","method":"m","args":[],"err":"x"}`)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := msg.(*Request); !ok {
		t.Fatalf("expected *Request, got %T", msg)
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode("not json"); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if _, err := Decode(`{"method":"m"}`); err == nil {
		t.Fatal("expected error for request without req id")
	}
}
