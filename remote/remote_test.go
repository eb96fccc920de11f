package remote

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	"duplex-rpc/codec"
	"duplex-rpc/deferred"
	"duplex-rpc/sched"
)

// fakeTransport records outbound batches and lets tests inject inbound ones.
type fakeTransport struct {
	sent    [][]string
	onBatch func([]string)
}

func (f *fakeTransport) Send(batch []string) error {
	cp := make([]string, len(batch))
	copy(cp, batch)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeTransport) OnBatch(fn func([]string)) { f.onBatch = fn }
func (f *fakeTransport) Close() error              { return nil }

func (f *fakeTransport) push(batch ...string) { f.onBatch(batch) }

func (f *fakeTransport) allSent() []string {
	var all []string
	for _, batch := range f.sent {
		all = append(all, batch...)
	}
	return all
}

func newTestCom(t *testing.T) (*sched.Manual, *fakeTransport, *RemoteCom) {
	t.Helper()
	s := sched.NewManual()
	tr := &fakeTransport{}
	return s, tr, CreateProxyProtocol(s, tr)
}

func TestCallEncodesExactRequest(t *testing.T) {
	s, tr, com := newTestCom(t)

	d := com.CallOnRemote("svc.foo", "bar", []any{1, 2})
	s.Drain()

	want := `{"req":"1","rpcId":"svc.foo","method":"bar","args":[1,2]}`
	sent := tr.allSent()
	if len(sent) != 1 || sent[0] != want {
		t.Fatalf("outbound mismatch:\n got  %v\n want [%s]", sent, want)
	}
	if d.Settled() {
		t.Fatal("call must stay pending until a reply arrives")
	}
}

func TestReplyResolvesValue(t *testing.T) {
	s, tr, com := newTestCom(t)

	d := com.CallOnRemote("svc.foo", "bar", []any{1, 2})
	s.Drain()

	tr.push(`{"seq":"1","res":42}`)
	s.Drain()

	value, err := d.Value()
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if value != float64(42) {
		t.Fatalf("expected 42, got %v (%T)", value, value)
	}
}

func TestNullErrorReplyResolvesFailureWithNoDetail(t *testing.T) {
	s, tr, com := newTestCom(t)

	d := com.CallOnRemote("svc.foo", "bar", nil)
	s.Drain()

	tr.push(`{"seq":"1","err":null}`)
	s.Drain()

	_, err := d.Value()
	var raw *codec.RawError
	if !errors.As(err, &raw) {
		t.Fatalf("expected *codec.RawError, got %v (%T)", err, err)
	}
	if raw.Payload != nil {
		t.Fatalf("expected no detail, got %s", raw.Payload)
	}
}

func TestMarkedErrorReplyReconstructsRichError(t *testing.T) {
	s, tr, com := newTestCom(t)

	d := com.CallOnRemote("svc.foo", "bar", nil)
	s.Drain()

	tr.push(`{"seq":"1","err":{"$isError":true,"name":"FileNotFound","message":"no such file","stack":"at open"}}`)
	s.Drain()

	_, err := d.Value()
	var re *codec.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected *codec.RemoteError, got %v (%T)", err, err)
	}
	if re.Name != "FileNotFound" || re.Message != "no such file" || re.Stack != "at open" {
		t.Errorf("triple mismatch: %+v", re)
	}
}

func TestCorrelationIdsStrictlyIncreasing(t *testing.T) {
	s, tr, com := newTestCom(t)

	const n = 20
	for i := 0; i < n; i++ {
		com.CallOnRemote("svc", "m", nil)
	}
	s.Drain()

	seen := make(map[string]bool)
	last := 0
	for _, msg := range tr.allSent() {
		id, err := parseReq(msg)
		if err != nil {
			t.Fatalf("unparseable request %s: %v", msg, err)
		}
		if seen[id] {
			t.Fatalf("duplicate correlation id %s", id)
		}
		seen[id] = true
		num, _ := strconv.Atoi(id)
		if num <= last {
			t.Fatalf("ids not strictly increasing: %d after %d", num, last)
		}
		last = num
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct ids, got %d", n, len(seen))
	}
}

// parseReq pulls the req field out of an encoded request; the id is always
// the first field, so a prefix scan is enough for tests.
func parseReq(msg string) (string, error) {
	const prefix = `{"req":"`
	if !strings.HasPrefix(msg, prefix) {
		return "", errors.New("not a request")
	}
	rest := msg[len(prefix):]
	return rest[:strings.IndexByte(rest, '"')], nil
}

func TestBackToBackCallsShareOneSend(t *testing.T) {
	s, tr, com := newTestCom(t)

	com.CallOnRemote("svc.a", "one", nil)
	com.CallOnRemote("svc.a", "two", nil)
	s.Drain()

	if len(tr.sent) != 1 {
		t.Fatalf("expected one transport send, got %d", len(tr.sent))
	}
	if len(tr.sent[0]) != 2 {
		t.Fatalf("expected 2 messages in the batch, got %d", len(tr.sent[0]))
	}
	first, _ := parseReq(tr.sent[0][0])
	second, _ := parseReq(tr.sent[0][1])
	if first != "1" || second != "2" {
		t.Fatalf("expected ids 1 then 2, got %s then %s", first, second)
	}
}

func TestReplyToUnknownIdIsDropped(t *testing.T) {
	s, tr, com := newTestCom(t)

	d := com.CallOnRemote("svc", "m", nil)
	s.Drain()

	// Unknown id must neither panic nor disturb the pending call.
	tr.push(`{"seq":"99","res":1}`)
	s.Drain()

	if d.Settled() {
		t.Fatal("pending call affected by a stray reply")
	}

	tr.push(`{"seq":"1","res":"ok"}`)
	s.Drain()
	if value, err := d.Value(); err != nil || value != "ok" {
		t.Fatalf("real reply no longer resolves: value=%v err=%v", value, err)
	}
}

func TestBareErrorIsLoggedAndDropped(t *testing.T) {
	s, tr, com := newTestCom(t)

	d := com.CallOnRemote("svc", "m", nil)
	s.Drain()

	tr.push(`{"err":"the peer is unhappy"}`)
	s.Drain()

	if d.Settled() {
		t.Fatal("bare error must not settle any call")
	}
}

func TestCancelThenReply(t *testing.T) {
	s, tr, com := newTestCom(t)

	d := com.CallOnRemote("svc", "slow", nil)
	s.Drain()
	tr.sent = nil

	d.Cancel()
	d.Cancel() // second request must not produce a second message
	s.Drain()

	sent := tr.allSent()
	if len(sent) != 1 || sent[0] != `{"cancel":"1"}` {
		t.Fatalf("expected exactly one cancel message, got %v", sent)
	}
	if d.Settled() {
		t.Fatal("cancellation must not settle the call locally")
	}

	// The call completes only when the (possibly cancellation-induced)
	// reply arrives.
	tr.push(`{"seq":"1","err":null}`)
	s.Drain()
	if !d.Settled() {
		t.Fatal("reply after cancel must still resolve the call")
	}
}

func TestRequestDispatchAndReply(t *testing.T) {
	s, tr, com := newTestCom(t)

	com.SetManyHandler(HandlerFunc(func(rpcID, method string, args []any) *deferred.Deferred {
		if rpcID != "svc.math" || method != "add" {
			t.Errorf("routing mismatch: %s.%s", rpcID, method)
		}
		return deferred.Resolved(args[0].(float64) + args[1].(float64))
	}))
	s.Drain()

	tr.push(`{"req":"5","rpcId":"svc.math","method":"add","args":[2,3]}`)
	s.Drain()

	sent := tr.allSent()
	if len(sent) != 1 || sent[0] != `{"seq":"5","res":5}` {
		t.Fatalf("reply mismatch: %v", sent)
	}
}

func TestHandlerErrorBecomesReplyErr(t *testing.T) {
	s, tr, com := newTestCom(t)

	com.SetManyHandler(HandlerFunc(func(string, string, []any) *deferred.Deferred {
		return deferred.Errored(errors.New("boom"))
	}))
	s.Drain()

	tr.push(`{"req":"5","rpcId":"svc","method":"m","args":[]}`)
	s.Drain()

	sent := tr.allSent()
	if len(sent) != 1 {
		t.Fatalf("expected one reply, got %v", sent)
	}
	if !strings.HasPrefix(sent[0], `{"seq":"5","err":{"$isError":true`) {
		t.Fatalf("expected marked error reply, got %s", sent[0])
	}
}

func TestHandlerPanicBecomesReplyErr(t *testing.T) {
	s, tr, com := newTestCom(t)

	com.SetManyHandler(HandlerFunc(func(string, string, []any) *deferred.Deferred {
		panic("handler exploded")
	}))
	s.Drain()

	tr.push(`{"req":"8","rpcId":"svc","method":"m","args":[]}`)
	s.Drain()

	sent := tr.allSent()
	if len(sent) != 1 || !strings.Contains(sent[0], "handler exploded") {
		t.Fatalf("expected error reply carrying the panic, got %v", sent)
	}
}

func TestMissingHandlerIsFatal(t *testing.T) {
	s, tr, _ := newTestCom(t)

	tr.push(`{"req":"1","rpcId":"svc","method":"m","args":[]}`)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for request with no handler registered")
		}
	}()
	s.Drain()
}

func TestAsyncHandlerCancellation(t *testing.T) {
	s, tr, com := newTestCom(t)

	cancelled := false
	var handle *deferred.Deferred
	com.SetManyHandler(HandlerFunc(func(string, string, []any) *deferred.Deferred {
		handle = deferred.New(func() { cancelled = true })
		return handle
	}))
	s.Drain()

	tr.push(`{"req":"3","rpcId":"svc","method":"slow","args":[]}`)
	s.Drain()

	if handle == nil {
		t.Fatal("handler never invoked")
	}
	if len(tr.allSent()) != 0 {
		t.Fatalf("no reply expected while the handler is pending, got %v", tr.allSent())
	}

	// Peer cancels mid-flight: the handle is asked to cancel, but the
	// invocation is reclaimed only when the handler reports completion.
	tr.push(`{"cancel":"3"}`)
	s.Drain()
	if !cancelled {
		t.Fatal("cancel message did not reach the handler's handle")
	}
	if len(tr.allSent()) != 0 {
		t.Fatal("cancellation alone must not produce a reply")
	}

	handle.ResolveErr(errors.New("stopped"))
	s.Drain()

	sent := tr.allSent()
	if len(sent) != 1 || !strings.HasPrefix(sent[0], `{"seq":"3","err":`) {
		t.Fatalf("expected error reply after cancelled completion, got %v", sent)
	}
}

func TestCancelForUnknownInvocationIsIgnored(t *testing.T) {
	s, tr, com := newTestCom(t)
	com.SetManyHandler(HandlerFunc(func(string, string, []any) *deferred.Deferred {
		return deferred.Resolved(nil)
	}))
	s.Drain()

	tr.push(`{"cancel":"404"}`)
	s.Drain() // must not panic or send anything

	if len(tr.allSent()) != 0 {
		t.Fatalf("unexpected outbound traffic: %v", tr.allSent())
	}
}

func TestHandlerReplacement(t *testing.T) {
	s, tr, com := newTestCom(t)

	com.SetManyHandler(HandlerFunc(func(string, string, []any) *deferred.Deferred {
		return deferred.Resolved("old")
	}))
	com.SetManyHandler(HandlerFunc(func(string, string, []any) *deferred.Deferred {
		return deferred.Resolved("new")
	}))
	s.Drain()

	tr.push(`{"req":"1","rpcId":"svc","method":"m","args":[]}`)
	s.Drain()

	sent := tr.allSent()
	if len(sent) != 1 || sent[0] != `{"seq":"1","res":"new"}` {
		t.Fatalf("later handler registration must win, got %v", sent)
	}
}

func TestNoReturnValueOmitsRes(t *testing.T) {
	s, tr, com := newTestCom(t)
	com.SetManyHandler(HandlerFunc(func(string, string, []any) *deferred.Deferred {
		return deferred.Resolved(nil)
	}))
	s.Drain()

	tr.push(`{"req":"2","rpcId":"svc","method":"m","args":[]}`)
	s.Drain()

	sent := tr.allSent()
	if len(sent) != 1 || sent[0] != `{"seq":"2"}` {
		t.Fatalf("expected res-less reply, got %v", sent)
	}
}

func TestUndecodableMessageIsDropped(t *testing.T) {
	s, tr, com := newTestCom(t)

	d := com.CallOnRemote("svc", "m", nil)
	s.Drain()

	tr.push(`this is not json`)
	s.Drain()

	if d.Settled() {
		t.Fatal("garbage input must not affect pending calls")
	}
}
