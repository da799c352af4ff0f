// Package wire implements the length-prefixed frame protocol spoken
// between the editor and its worker process.
//
// A frame is made up of two parts:
//
//   - header: 4 bytes, native-endian unsigned length of the payload
//   - payload: length bytes of encoded message data (UTF-8 JSON by
//     default)
//
// The native byte order matches the historical protocol; both ends
// always run on the same machine, so endianness never crosses a host
// boundary.
//
// Encoding is stateless. Decoding is incremental: a Decoder consumes
// arbitrary chunks of bytes and emits complete payloads as they become
// available, regardless of how the stream was split by the transport.
// A single Feed may therefore return zero, one, or many payloads.
package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the size of the frame length prefix in bytes.
const HeaderSize = 4

// MaxPayloadSize bounds a single frame payload. A header announcing
// more than this is treated as stream corruption rather than an
// allocation request.
const MaxPayloadSize = 64 << 20 // 64 MiB

// Encode serializes v with the given codec and wraps it in a frame.
func Encode(c Codec, v any) ([]byte, error) {
	if c == nil {
		c = Default
	}

	payload, err := c.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	frame := make([]byte, HeaderSize+len(payload))
	binary.NativeEndian.PutUint32(frame[:HeaderSize], uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// Decoder accumulates stream bytes and splits them into frame payloads.
//
// The zero value is ready to use. Decoder is not safe for concurrent
// use; it is owned by the single goroutine reading the connection.
type Decoder struct {
	header     []byte // accumulated header bytes, len < HeaderSize
	remaining  int    // payload bytes still expected, valid when headerDone
	payload    []byte // accumulated payload bytes
	headerDone bool
}

// Feed consumes a chunk of stream bytes and returns the payloads of
// every frame completed by that chunk, in stream order.
//
// Feed never assumes chunk boundaries align with frame boundaries: a
// chunk may end mid-header or mid-payload, or carry several complete
// frames. Leftover bytes are retained for the next call.
//
// An oversized length prefix returns an error; the decoder is then in
// an undefined state and the connection should be dropped.
func (d *Decoder) Feed(p []byte) ([][]byte, error) {
	var msgs [][]byte

	for len(p) > 0 {
		if !d.headerDone {
			need := HeaderSize - len(d.header)
			if need > len(p) {
				need = len(p)
			}
			d.header = append(d.header, p[:need]...)
			p = p[need:]

			if len(d.header) < HeaderSize {
				break // mid-header, wait for more bytes
			}

			size := binary.NativeEndian.Uint32(d.header)
			if size > MaxPayloadSize {
				return msgs, fmt.Errorf("frame payload of %d bytes exceeds limit of %d", size, MaxPayloadSize)
			}
			d.headerDone = true
			d.remaining = int(size)
			d.header = d.header[:0]
			d.payload = make([]byte, 0, size)
			if d.remaining == 0 {
				msgs = append(msgs, d.payload)
				d.payload = nil
				d.headerDone = false
			}
			continue
		}

		take := d.remaining
		if take > len(p) {
			take = len(p)
		}
		d.payload = append(d.payload, p[:take]...)
		d.remaining -= take
		p = p[take:]

		if d.remaining == 0 {
			msgs = append(msgs, d.payload)
			d.payload = nil
			d.headerDone = false
		}
	}

	return msgs, nil
}

// Pending reports whether the decoder holds a partially received frame.
func (d *Decoder) Pending() bool {
	return len(d.header) > 0 || d.headerDone
}

// Reset discards any partially accumulated frame state.
func (d *Decoder) Reset() {
	d.header = d.header[:0]
	d.headerDone = false
	d.remaining = 0
	d.payload = nil
}
