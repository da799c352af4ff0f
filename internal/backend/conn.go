package backend

import (
	"errors"
	"io"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/dshills/editkit/internal/backend/wire"
)

// ConnState describes the client connection lifecycle.
type ConnState int32

const (
	// StateDisconnected means no socket is open and no connect is in
	// progress.
	StateDisconnected ConnState = iota

	// StateConnecting means the retry loop is dialing the worker.
	StateConnecting

	// StateConnected means the socket is established and requests can
	// be sent.
	StateConnected

	// StateClosing means Close is tearing the client down.
	StateClosing

	// StateFailed means the retry budget was exhausted. The client
	// will not dial again until restarted.
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// connectLoop dials the worker on the loopback interface, retrying
// while the worker starts up. Connection-refused is the expected
// failure mode before the worker binds its port; anything else aborts
// immediately.
func (c *Client) connectLoop(port int) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

	// The worker needs a moment to bind before the first dial is
	// worth attempting.
	select {
	case <-c.done:
		return
	case <-time.After(c.cfg.startDelay):
	}

	for attempt := 1; attempt <= c.cfg.maxRetry; attempt++ {
		if ConnState(c.state.Load()) != StateConnecting {
			return
		}

		conn, err := c.cfg.dial(addr, c.cfg.dialTimeout)
		if err == nil {
			// Close may have won the race while the dial was in
			// flight.
			if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
				conn.Close()
				return
			}
			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()
			c.cfg.log.Infof("connected to worker on port %d (attempt %d)", port, attempt)
			if c.cfg.onConnected != nil {
				c.cfg.onConnected()
			}
			go c.readLoop(conn)
			return
		}

		if !isConnectionRefused(err) {
			c.state.Store(int32(StateDisconnected))
			c.setLastError(&SocketError{Op: "dial", Err: err})
			c.emitError(ErrorSocket, err.Error())
			return
		}

		c.cfg.log.Debugf("worker not ready on port %d, attempt %d/%d", port, attempt, c.cfg.maxRetry)
		if attempt == c.cfg.maxRetry {
			break
		}

		select {
		case <-c.done:
			return
		case <-time.After(c.cfg.retryDelay):
		}
	}

	exhausted := &RetryExhaustedError{Attempts: c.cfg.maxRetry}
	c.state.Store(int32(StateFailed))
	c.setLastError(exhausted)
	c.cfg.log.Errorf("%v", exhausted)
	c.emitError(ErrorRetryExhausted, exhausted.Error())
}

// isConnectionRefused reports whether err means nothing is listening
// on the target port yet.
func isConnectionRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// readLoop drains the socket, reassembles frames, and dispatches each
// payload to the router. It owns the inbound side of the connection
// and exits when the socket closes.
func (c *Client) readLoop(conn net.Conn) {
	dec := &wire.Decoder{}
	buf := make([]byte, 64*1024)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			payloads, ferr := dec.Feed(buf[:n])
			if ferr != nil {
				c.setLastError(&SocketError{Op: "read", Err: ferr})
				c.emitError(ErrorSocket, ferr.Error())
				conn.Close()
				c.transitionDisconnected(conn)
				return
			}
			for _, payload := range payloads {
				if derr := c.router.Dispatch(payload); derr != nil {
					c.setLastError(derr)
					c.emitError(ErrorMalformed, derr.Error())
				}
			}
		}
		if err != nil {
			if ConnState(c.state.Load()) == StateClosing || c.closed.Load() {
				return
			}
			if !errors.Is(err, io.EOF) {
				c.setLastError(&SocketError{Op: "read", Err: err})
				c.emitError(ErrorSocket, err.Error())
			}
			c.transitionDisconnected(conn)
			return
		}
	}
}

// transitionDisconnected moves the client to the disconnected state
// after the socket drops, unless Close already took over teardown.
func (c *Client) transitionDisconnected(conn net.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	if c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected)) {
		c.cfg.log.Infof("worker connection closed")
		if c.cfg.onDisconnected != nil {
			c.cfg.onDisconnected()
		}
	}
}

// send frames and writes one message. Writes are serialized so
// concurrent requests cannot interleave frames on the socket.
func (c *Client) send(v any) error {
	frame, err := wire.Encode(c.cfg.codec, v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	_, err = conn.Write(frame)
	c.writeMu.Unlock()
	if err != nil {
		return &SocketError{Op: "write", Err: err}
	}
	return nil
}
