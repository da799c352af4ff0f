package backend

import (
	"sync"

	"github.com/tidwall/gjson"

	"github.com/dshills/editkit/internal/backend/wire"
)

// Router correlates inbound responses with the callbacks registered
// when their requests were sent.
//
// A callback is invoked at most once: Dispatch removes the pending
// entry under lock before calling it. Responses with no pending entry
// are internal or unsolicited messages and are silently ignored.
type Router struct {
	codec wire.Codec

	mu      sync.Mutex
	pending map[string]Callback
}

// NewRouter creates a router decoding payloads with the given codec.
func NewRouter(codec wire.Codec) *Router {
	if codec == nil {
		codec = wire.Default
	}
	return &Router{
		codec:   codec,
		pending: make(map[string]Callback),
	}
}

// Register stores a callback for the given request identifier.
func (r *Router) Register(requestID string, cb Callback) {
	if cb == nil {
		return
	}
	r.mu.Lock()
	r.pending[requestID] = cb
	r.mu.Unlock()
}

// Remove drops a pending callback without invoking it.
func (r *Router) Remove(requestID string) {
	r.mu.Lock()
	delete(r.pending, requestID)
	r.mu.Unlock()
}

// Dispatch routes one framed payload. If the payload carries a
// request_id with a pending callback, the callback is popped and
// invoked with the response status and results. Payloads without a
// request_id (notifications, internal messages) and unknown
// identifiers are ignored.
//
// A payload that matches a pending request but cannot be decoded
// returns a *MalformedMessageError; the callback stays pending and
// framing of subsequent messages is unaffected.
func (r *Router) Dispatch(payload []byte) error {
	id := r.peekRequestID(payload)
	if id == "" {
		return nil
	}

	r.mu.Lock()
	cb, ok := r.pending[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}

	var resp Response
	if err := r.codec.Unmarshal(payload, &resp); err != nil {
		r.mu.Unlock()
		return &MalformedMessageError{Err: err}
	}

	delete(r.pending, id)
	r.mu.Unlock()

	cb(resp.Status, resp.Results)
	return nil
}

// peekRequestID extracts the request identifier without decoding the
// whole payload. JSON payloads are probed with gjson; other codecs
// fall back to a full decode.
func (r *Router) peekRequestID(payload []byte) string {
	if r.codec.Name() == "json" {
		res := gjson.GetBytes(payload, "request_id")
		if res.Type == gjson.String {
			return res.Str
		}
		return ""
	}

	var resp Response
	if err := r.codec.Unmarshal(payload, &resp); err != nil {
		return ""
	}
	return resp.RequestID
}

// AbandonAll discards every pending callback without invoking any of
// them. Used when the connection closes: in-flight requests cannot be
// cancelled, only abandoned.
func (r *Router) AbandonAll() {
	r.mu.Lock()
	r.pending = make(map[string]Callback)
	r.mu.Unlock()
}

// Len returns the number of pending callbacks.
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
