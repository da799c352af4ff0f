package backend

import (
	"errors"
	"testing"

	"github.com/dshills/editkit/internal/backend/wire"
)

func encodePayload(t *testing.T, c wire.Codec, v any) []byte {
	t.Helper()
	b, err := c.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestRouter_DispatchInvokesOnce(t *testing.T) {
	r := NewRouter(wire.JSON)

	calls := 0
	var gotStatus bool
	var gotResults any
	r.Register("req-1", func(status bool, results any) {
		calls++
		gotStatus = status
		gotResults = results
	})

	payload := encodePayload(t, wire.JSON, Response{
		RequestID: "req-1",
		Status:    true,
		Results:   []any{"alpha", "beta"},
	})

	if err := r.Dispatch(payload); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if calls != 1 {
		t.Fatalf("callback calls = %d, want 1", calls)
	}
	if !gotStatus {
		t.Error("status = false, want true")
	}
	res, ok := gotResults.([]any)
	if !ok || len(res) != 2 || res[0] != "alpha" || res[1] != "beta" {
		t.Errorf("results = %#v, want [alpha beta]", gotResults)
	}

	// Duplicate delivery must not re-invoke.
	if err := r.Dispatch(payload); err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if calls != 1 {
		t.Fatalf("callback calls after duplicate = %d, want 1", calls)
	}
}

func TestRouter_UnknownIDIgnored(t *testing.T) {
	r := NewRouter(wire.JSON)

	invoked := false
	r.Register("known", func(bool, any) { invoked = true })

	payload := encodePayload(t, wire.JSON, Response{RequestID: "unknown", Status: true})
	if err := r.Dispatch(payload); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if invoked {
		t.Error("unrelated callback invoked for unknown request id")
	}
	if r.Len() != 1 {
		t.Errorf("pending = %d, want 1", r.Len())
	}
}

func TestRouter_NotificationIgnored(t *testing.T) {
	r := NewRouter(wire.JSON)
	r.Register("req-1", func(bool, any) {
		t.Error("callback invoked for notification payload")
	})

	payload := encodePayload(t, wire.JSON, "shutdown")
	if err := r.Dispatch(payload); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
}

func TestRouter_OutOfOrderResponses(t *testing.T) {
	r := NewRouter(wire.JSON)

	got := make(map[string]any)
	r.Register("a", func(_ bool, results any) { got["a"] = results })
	r.Register("b", func(_ bool, results any) { got["b"] = results })

	// Responses arrive in the reverse of registration order.
	for _, resp := range []Response{
		{RequestID: "b", Status: true, Results: "second"},
		{RequestID: "a", Status: true, Results: "first"},
	} {
		if err := r.Dispatch(encodePayload(t, wire.JSON, resp)); err != nil {
			t.Fatalf("dispatch %s: %v", resp.RequestID, err)
		}
	}

	if got["a"] != "first" || got["b"] != "second" {
		t.Errorf("results = %#v, want a=first b=second", got)
	}
	if r.Len() != 0 {
		t.Errorf("pending = %d, want 0", r.Len())
	}
}

func TestRouter_MalformedResponseKeepsCallback(t *testing.T) {
	r := NewRouter(wire.JSON)
	r.Register("req-1", func(bool, any) {
		t.Error("callback invoked for malformed payload")
	})

	// Valid gjson peek target but not a decodable Response object.
	payload := []byte(`{"request_id":"req-1","status":"not-a-bool"}`)
	err := r.Dispatch(payload)
	if err == nil {
		t.Fatal("dispatch returned nil, want malformed message error")
	}
	var malformed *MalformedMessageError
	if !errors.As(err, &malformed) {
		t.Fatalf("dispatch error = %T, want *MalformedMessageError", err)
	}
	if r.Len() != 1 {
		t.Errorf("pending = %d, want 1 (callback must stay pending)", r.Len())
	}
}

func TestRouter_RemoveAndAbandon(t *testing.T) {
	r := NewRouter(wire.JSON)
	r.Register("a", func(bool, any) { t.Error("removed callback invoked") })
	r.Register("b", func(bool, any) { t.Error("abandoned callback invoked") })

	r.Remove("a")
	if r.Len() != 1 {
		t.Fatalf("pending after remove = %d, want 1", r.Len())
	}

	r.AbandonAll()
	if r.Len() != 0 {
		t.Fatalf("pending after abandon = %d, want 0", r.Len())
	}

	for _, id := range []string{"a", "b"} {
		payload := encodePayload(t, wire.JSON, Response{RequestID: id, Status: true})
		if err := r.Dispatch(payload); err != nil {
			t.Fatalf("dispatch %s: %v", id, err)
		}
	}
}

func TestRouter_MsgpackCodec(t *testing.T) {
	r := NewRouter(wire.Msgpack)

	var got any
	r.Register("req-1", func(_ bool, results any) { got = results })

	payload := encodePayload(t, wire.Msgpack, Response{
		RequestID: "req-1",
		Status:    true,
		Results:   "pong",
	})
	if err := r.Dispatch(payload); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got != "pong" {
		t.Errorf("results = %#v, want pong", got)
	}
}
