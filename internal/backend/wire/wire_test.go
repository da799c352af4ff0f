package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"reflect"
	"testing"
)

func TestEncode_FrameLayout(t *testing.T) {
	frame, err := Encode(JSON, "shutdown")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if len(frame) < HeaderSize {
		t.Fatalf("frame too short: %d bytes", len(frame))
	}

	size := binary.NativeEndian.Uint32(frame[:HeaderSize])
	if int(size) != len(frame)-HeaderSize {
		t.Errorf("header declares %d payload bytes, frame carries %d", size, len(frame)-HeaderSize)
	}

	if string(frame[HeaderSize:]) != `"shutdown"` {
		t.Errorf("unexpected payload: %s", frame[HeaderSize:])
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  any
	}{
		{"string", "shutdown"},
		{"number", float64(42)},
		{"array", []any{"some code", float64(0)}},
		{"object", map[string]any{
			"request_id": "a97285af-cc88-48a4-ac69-7459b9c7fa66",
			"worker":     "echo",
			"data":       []any{"text", float64(3)},
		}},
		{"nested", map[string]any{
			"status":  true,
			"results": map[string]any{"items": []any{"a", "b"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(JSON, tt.msg)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			var dec Decoder
			msgs, err := dec.Feed(frame)
			if err != nil {
				t.Fatalf("Feed() error = %v", err)
			}
			if len(msgs) != 1 {
				t.Fatalf("expected 1 message, got %d", len(msgs))
			}

			var got any
			if err := JSON.Unmarshal(msgs[0], &got); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.msg) {
				t.Errorf("round trip mismatch:\n got %#v\nwant %#v", got, tt.msg)
			}
		})
	}
}

func TestDecoder_SplitInvariance(t *testing.T) {
	// The same byte stream must decode identically whether it arrives
	// in one read or one byte at a time.
	msgs := []any{
		map[string]any{"request_id": "1", "status": true, "results": "first"},
		"shutdown",
		map[string]any{"request_id": "2", "status": false, "results": nil},
	}

	var stream []byte
	for _, m := range msgs {
		frame, err := Encode(JSON, m)
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		stream = append(stream, frame...)
	}

	var atOnce Decoder
	all, err := atOnce.Feed(stream)
	if err != nil {
		t.Fatalf("Feed(all) error = %v", err)
	}

	var byteWise Decoder
	var single [][]byte
	for i := range stream {
		out, err := byteWise.Feed(stream[i : i+1])
		if err != nil {
			t.Fatalf("Feed(byte %d) error = %v", i, err)
		}
		single = append(single, out...)
	}

	if len(all) != len(msgs) || len(single) != len(msgs) {
		t.Fatalf("expected %d messages, got %d (all) and %d (bytewise)", len(msgs), len(all), len(single))
	}
	for i := range all {
		if !bytes.Equal(all[i], single[i]) {
			t.Errorf("message %d differs between feeds:\n all: %s\n one: %s", i, all[i], single[i])
		}
	}
}

func TestDecoder_MultipleFramesOneRead(t *testing.T) {
	a, _ := Encode(JSON, map[string]any{"request_id": "a", "status": true, "results": 1})
	b, _ := Encode(JSON, map[string]any{"request_id": "b", "status": true, "results": 2})

	var dec Decoder
	msgs, err := dec.Feed(append(append([]byte{}, a...), b...))
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages from one read, got %d", len(msgs))
	}

	var first, second map[string]any
	if err := json.Unmarshal(msgs[0], &first); err != nil {
		t.Fatalf("first payload: %v", err)
	}
	if err := json.Unmarshal(msgs[1], &second); err != nil {
		t.Fatalf("second payload: %v", err)
	}
	if first["request_id"] != "a" || second["request_id"] != "b" {
		t.Errorf("messages out of order: %v then %v", first["request_id"], second["request_id"])
	}
}

func TestDecoder_SplitMidHeader(t *testing.T) {
	frame, _ := Encode(JSON, "ping")

	var dec Decoder
	// Two header bytes first.
	msgs, err := dec.Feed(frame[:2])
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("message emitted from partial header")
	}
	if !dec.Pending() {
		t.Error("Pending() = false with buffered header bytes")
	}

	msgs, err = dec.Feed(frame[2:])
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if dec.Pending() {
		t.Error("Pending() = true after complete frame")
	}
}

func TestDecoder_MalformedPayloadKeepsFraming(t *testing.T) {
	// A frame whose payload is not valid JSON must not disturb the
	// framing of the next frame; the length prefix is authoritative.
	bad := make([]byte, HeaderSize+7)
	binary.NativeEndian.PutUint32(bad[:HeaderSize], 7)
	copy(bad[HeaderSize:], "not{json")

	good, _ := Encode(JSON, map[string]any{"request_id": "ok", "status": true, "results": nil})

	var dec Decoder
	msgs, err := dec.Feed(append(bad, good...))
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 payloads, got %d", len(msgs))
	}

	var v any
	if err := json.Unmarshal(msgs[0], &v); err == nil {
		t.Error("first payload unexpectedly valid JSON")
	}
	if err := json.Unmarshal(msgs[1], &v); err != nil {
		t.Errorf("second payload corrupted by first: %v", err)
	}
}

func TestDecoder_OversizedFrameRejected(t *testing.T) {
	hdr := make([]byte, HeaderSize)
	binary.NativeEndian.PutUint32(hdr, MaxPayloadSize+1)

	var dec Decoder
	if _, err := dec.Feed(hdr); err == nil {
		t.Fatal("expected error for oversized frame")
	}
}

func TestDecoder_Reset(t *testing.T) {
	frame, _ := Encode(JSON, "ping")

	var dec Decoder
	if _, err := dec.Feed(frame[:HeaderSize+1]); err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	dec.Reset()
	if dec.Pending() {
		t.Error("Pending() = true after Reset")
	}

	// Decoder is usable again from a frame boundary.
	msgs, err := dec.Feed(frame)
	if err != nil {
		t.Fatalf("Feed() after Reset error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message after Reset, got %d", len(msgs))
	}
}

func TestCodec_Msgpack(t *testing.T) {
	in := map[string]any{"request_id": "m1", "worker": "echo", "data": "hello"}

	frame, err := Encode(Msgpack, in)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var dec Decoder
	msgs, err := dec.Feed(frame)
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}

	var got map[string]any
	if err := Msgpack.Unmarshal(msgs[0], &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got["worker"] != "echo" || got["data"] != "hello" {
		t.Errorf("unexpected decode: %#v", got)
	}
}
