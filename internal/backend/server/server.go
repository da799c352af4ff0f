// Package server implements the worker side of the backend protocol:
// a loopback TCP listener that answers framed requests by dispatching
// them to registered worker functions.
//
// A worker process serves exactly one client, the editor that spawned
// it, so the server accepts a single connection and exits when that
// connection closes or a shutdown notification arrives.
package server

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/dshills/editkit/internal/backend"
	"github.com/dshills/editkit/internal/backend/wire"
)

// WorkerFunc handles one request. The data argument is the decoded
// request payload; the returned value becomes the response results.
// A non-nil error marks the response as failed.
type WorkerFunc func(data any) (any, error)

// Registry maps worker names to their handlers.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]WorkerFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]WorkerFunc)}
}

// Register adds or replaces the handler for a worker name.
func (r *Registry) Register(name string, fn WorkerFunc) {
	r.mu.Lock()
	r.workers[name] = fn
	r.mu.Unlock()
}

// Lookup returns the handler for a worker name.
func (r *Registry) Lookup(name string) (WorkerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.workers[name]
	return fn, ok
}

// Names returns the registered worker names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type serverConfig struct {
	codec wire.Codec
	log   backend.Logger
}

// Option configures a Server.
type Option func(*serverConfig)

// WithCodec selects the payload codec. Must match the client's.
func WithCodec(c wire.Codec) Option {
	return func(cfg *serverConfig) {
		if c != nil {
			cfg.codec = c
		}
	}
}

// WithLogger sets the server logger.
func WithLogger(l backend.Logger) Option {
	return func(cfg *serverConfig) {
		if l != nil {
			cfg.log = l
		}
	}
}

// Server serves backend requests on a loopback port.
type Server struct {
	port     int
	registry *Registry
	cfg      serverConfig

	mu   sync.Mutex
	ln   net.Listener
	conn net.Conn
	done bool
}

// New creates a server that will listen on the given loopback port
// and dispatch to the registry.
func New(port int, registry *Registry, opts ...Option) *Server {
	cfg := serverConfig{
		codec: wire.Default,
		log:   backend.NopLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{port: port, registry: registry, cfg: cfg}
}

// ListenAndServe binds the port, accepts the client connection, and
// serves requests until the connection drops, a shutdown notification
// arrives, or Close is called. It returns nil on a clean shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return fmt.Errorf("bind port %d: %w", s.port, err)
	}
	return s.Serve(ln)
}

// Serve accepts one connection on ln and serves it.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.ln = ln
	s.mu.Unlock()
	defer ln.Close()

	s.cfg.log.Infof("worker listening on %s", ln.Addr())

	conn, err := ln.Accept()
	if err != nil {
		if s.closed() {
			return nil
		}
		return fmt.Errorf("accept: %w", err)
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.cfg.log.Infof("client connected from %s", conn.RemoteAddr())
	return s.serveConn(conn)
}

func (s *Server) serveConn(conn net.Conn) error {
	header := make([]byte, wire.HeaderSize)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			if s.closed() || err == io.EOF {
				return nil
			}
			return fmt.Errorf("read header: %w", err)
		}
		size := binary.NativeEndian.Uint32(header)
		if size > wire.MaxPayloadSize {
			return fmt.Errorf("frame of %d bytes exceeds limit", size)
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(conn, payload); err != nil {
			if s.closed() {
				return nil
			}
			return fmt.Errorf("read payload: %w", err)
		}

		stop, err := s.handle(conn, payload)
		if err != nil {
			s.cfg.log.Errorf("%v", err)
			continue
		}
		if stop {
			s.cfg.log.Infof("shutdown requested by client")
			return nil
		}
	}
}

// handle processes one payload. It reports stop=true when the payload
// is the shutdown notification.
func (s *Server) handle(conn net.Conn, payload []byte) (stop bool, err error) {
	if name, ok := s.notification(payload); ok {
		if name == backend.ShutdownCommand {
			return true, nil
		}
		s.cfg.log.Debugf("ignoring notification %q", name)
		return false, nil
	}

	var req backend.Request
	if err := s.cfg.codec.Unmarshal(payload, &req); err != nil {
		return false, fmt.Errorf("undecodable request: %w", err)
	}
	if req.RequestID == "" {
		return false, fmt.Errorf("request without request_id")
	}

	results, status := s.invoke(req)
	resp := backend.Response{RequestID: req.RequestID, Status: status, Results: results}

	frame, err := wire.Encode(s.cfg.codec, resp)
	if err != nil {
		return false, fmt.Errorf("encode response %s: %w", req.RequestID, err)
	}
	if _, err := conn.Write(frame); err != nil {
		return false, fmt.Errorf("write response %s: %w", req.RequestID, err)
	}
	return false, nil
}

// notification reports whether the payload is a bare string message
// and returns it.
func (s *Server) notification(payload []byte) (string, bool) {
	if s.cfg.codec.Name() == "json" {
		res := gjson.ParseBytes(payload)
		if res.Type == gjson.String {
			return res.Str, true
		}
		return "", false
	}
	var name string
	if err := s.cfg.codec.Unmarshal(payload, &name); err != nil {
		return "", false
	}
	return name, true
}

// invoke runs the worker handler for a request. A missing handler,
// a handler error, or a handler panic all produce a failed response
// rather than killing the worker.
func (s *Server) invoke(req backend.Request) (results any, status bool) {
	fn, ok := s.registry.Lookup(req.Worker)
	if !ok {
		s.cfg.log.Errorf("request %s names unknown worker %q", req.RequestID, req.Worker)
		return fmt.Sprintf("unknown worker %q", req.Worker), false
	}

	defer func() {
		if r := recover(); r != nil {
			s.cfg.log.Errorf("worker %q panicked: %v", req.Worker, r)
			results = fmt.Sprintf("worker %q panicked: %v", req.Worker, r)
			status = false
		}
	}()

	ret, err := fn(req.Data)
	if err != nil {
		s.cfg.log.Errorf("worker %q failed: %v", req.Worker, err)
		return err.Error(), false
	}
	return ret, true
}

// Close stops the server, unblocking Accept and any in-progress read.
func (s *Server) Close() error {
	s.mu.Lock()
	s.done = true
	ln := s.ln
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}

func (s *Server) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
