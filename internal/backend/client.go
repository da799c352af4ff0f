package backend

import (
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/editkit/internal/backend/process"
	"github.com/dshills/editkit/internal/backend/wire"
)

// Default retry policy. A worker interpreter can take a few seconds
// to start on a loaded machine, so the budget is generous: up to ten
// seconds of dialing before the client gives up.
const (
	DefaultMaxRetry        = 100
	DefaultRetryDelay      = 100 * time.Millisecond
	DefaultStartDelay      = 100 * time.Millisecond
	DefaultDialTimeout     = 1 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
)

type dialFunc func(addr string, timeout time.Duration) (net.Conn, error)

type clientConfig struct {
	codec           wire.Codec
	maxRetry        int
	retryDelay      time.Duration
	startDelay      time.Duration
	dialTimeout     time.Duration
	shutdownTimeout time.Duration
	log             Logger
	workerLog       Logger
	dial            dialFunc

	onConnected     func()
	onDisconnected  func()
	onError         func(kind ErrorKind, msg string)
	onScriptChanged func(path string)
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

// WithCodec selects the payload codec. Both ends must agree; the
// default is JSON.
func WithCodec(c wire.Codec) ClientOption {
	return func(cfg *clientConfig) {
		if c != nil {
			cfg.codec = c
		}
	}
}

// WithMaxRetry sets how many connection attempts are made before the
// client enters the failed state.
func WithMaxRetry(n int) ClientOption {
	return func(cfg *clientConfig) {
		if n > 0 {
			cfg.maxRetry = n
		}
	}
}

// WithRetryDelay sets the pause between connection attempts.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		if d > 0 {
			cfg.retryDelay = d
		}
	}
}

// WithStartDelay sets the pause before the first connection attempt,
// giving the freshly spawned worker time to bind its port.
func WithStartDelay(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		if d >= 0 {
			cfg.startDelay = d
		}
	}
}

// WithShutdownTimeout bounds how long Close waits for the worker to
// exit after being asked to stop.
func WithShutdownTimeout(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		if d > 0 {
			cfg.shutdownTimeout = d
		}
	}
}

// WithLogger sets the client's own logger.
func WithLogger(l Logger) ClientOption {
	return func(cfg *clientConfig) {
		if l != nil {
			cfg.log = l
		}
	}
}

// WithWorkerLogger sets the sink for the worker's stdout and stderr.
func WithWorkerLogger(l Logger) ClientOption {
	return func(cfg *clientConfig) {
		if l != nil {
			cfg.workerLog = l
		}
	}
}

// WithConnectedHandler registers a callback invoked when the socket
// to the worker is established.
func WithConnectedHandler(fn func()) ClientOption {
	return func(cfg *clientConfig) { cfg.onConnected = fn }
}

// WithDisconnectedHandler registers a callback invoked when an
// established connection drops outside of Close.
func WithDisconnectedHandler(fn func()) ClientOption {
	return func(cfg *clientConfig) { cfg.onDisconnected = fn }
}

// WithErrorHandler registers a callback invoked for socket, protocol
// and worker process errors.
func WithErrorHandler(fn func(kind ErrorKind, msg string)) ClientOption {
	return func(cfg *clientConfig) { cfg.onError = fn }
}

// WithScriptChangeHandler registers a callback invoked when the
// worker script changes on disk. The client does not restart itself;
// the handler decides whether to Close and Start again.
func WithScriptChangeHandler(fn func(path string)) ClientOption {
	return func(cfg *clientConfig) { cfg.onScriptChanged = fn }
}

// withDialer overrides the dial function. Test hook.
func withDialer(d dialFunc) ClientOption {
	return func(cfg *clientConfig) { cfg.dial = d }
}

// Client owns one worker subprocess and the socket to it. It spawns
// the worker, connects with retry, correlates responses to request
// callbacks, and tears everything down on Close.
//
// A Client is single use. After Close it cannot be restarted; create
// a new one.
type Client struct {
	cfg clientConfig

	state  atomic.Int32 // ConnState
	closed atomic.Bool
	done   chan struct{}

	router *Router

	mu      sync.Mutex
	conn    net.Conn
	proc    *process.Process
	port    int
	watcher *scriptWatcher
	lastErr error

	writeMu sync.Mutex
}

// NewClient creates a client with the default retry policy and JSON
// codec. It does not spawn anything until Start or Connect.
func NewClient(opts ...ClientOption) *Client {
	cfg := clientConfig{
		codec:           wire.Default,
		maxRetry:        DefaultMaxRetry,
		retryDelay:      DefaultRetryDelay,
		startDelay:      DefaultStartDelay,
		dialTimeout:     DefaultDialTimeout,
		shutdownTimeout: DefaultShutdownTimeout,
		log:             NopLogger(),
		workerLog:       NopLogger(),
		dial: func(addr string, timeout time.Duration) (net.Conn, error) {
			return net.DialTimeout("tcp", addr, timeout)
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Client{
		cfg:    cfg,
		done:   make(chan struct{}),
		router: NewRouter(cfg.codec),
	}
}

// Start spawns the worker and begins connecting to it.
//
// The worker is launched as "interpreter script <port> args..." or,
// when interpreter is empty, as "script <port> args..." for
// self-executing workers. The port is a free loopback port probed
// just before the spawn.
//
// Start returns once the process is launched; the connection is
// established asynchronously. A missing or unreadable script fails
// synchronously with *InvalidScriptError before any port is probed.
func (c *Client) Start(script, interpreter string, args ...string) error {
	if c.closed.Load() {
		return ErrShutdown
	}
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return ErrAlreadyStarted
	}

	if _, err := os.Stat(script); err != nil {
		c.state.Store(int32(StateDisconnected))
		return &InvalidScriptError{Path: script, Err: err}
	}

	port, err := pickFreePort()
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return err
	}

	program := script
	argv := append([]string{strconv.Itoa(port)}, args...)
	if interpreter != "" {
		program = interpreter
		argv = append([]string{script, strconv.Itoa(port)}, args...)
	}

	proc, err := process.Spawn(program, argv,
		process.WithOutput(processLogger{c.cfg.workerLog}),
		process.WithEvents(process.Events{
			Started: func() {
				c.cfg.log.Infof("worker started: %s (port %d)", script, port)
			},
			Error: func(kind process.ErrorKind, perr error) {
				c.emitError(ErrorProcess, perr.Error())
			},
			Exited: func(code int) {
				c.cfg.log.Infof("worker exited with code %d", code)
			},
		}),
	)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		c.setLastError(err)
		c.emitError(ErrorSpawn, err.Error())
		return err
	}

	c.mu.Lock()
	c.proc = proc
	c.port = port
	c.mu.Unlock()

	if c.cfg.onScriptChanged != nil {
		w, werr := watchScript(script, c.cfg.onScriptChanged, c.cfg.log)
		if werr != nil {
			c.cfg.log.Errorf("script watch failed: %v", werr)
		} else {
			c.mu.Lock()
			c.watcher = w
			c.mu.Unlock()
		}
	}

	go c.connectLoop(port)
	return nil
}

// Connect attaches to a worker that is already listening on the given
// loopback port, without spawning a process. The same retry policy
// applies.
func (c *Client) Connect(port int) error {
	if c.closed.Load() {
		return ErrShutdown
	}
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return ErrAlreadyStarted
	}

	c.mu.Lock()
	c.port = port
	c.mu.Unlock()

	go c.connectLoop(port)
	return nil
}

// SendRequest sends a work request to the named worker handler. The
// callback, if any, is invoked once when the matching response
// arrives. It returns the generated request identifier.
//
// Fails with ErrNotConnected when the socket is down or the worker
// process has exited.
func (c *Client) SendRequest(worker string, data any, onComplete Callback) (string, error) {
	if !c.canSend() {
		return "", ErrNotConnected
	}

	id := uuid.NewString()
	if onComplete != nil {
		c.router.Register(id, onComplete)
	}

	err := c.send(Request{RequestID: id, Worker: worker, Data: data})
	if err != nil {
		c.router.Remove(id)
		c.setLastError(err)
		return "", err
	}
	c.cfg.log.Debugf("request %s sent to worker %q", id, worker)
	return id, nil
}

// SendNotification sends a bare named message that expects no reply,
// such as the shutdown command.
func (c *Client) SendNotification(name string) error {
	if !c.canSend() {
		return ErrNotConnected
	}
	if err := c.send(name); err != nil {
		c.setLastError(err)
		return err
	}
	return nil
}

func (c *Client) canSend() bool {
	if ConnState(c.state.Load()) != StateConnected {
		return false
	}
	c.mu.Lock()
	proc := c.proc
	c.mu.Unlock()
	return proc == nil || proc.IsRunning()
}

// Close asks the worker to shut down, closes the socket, and waits
// for the process to exit. Pending callbacks are abandoned and never
// invoked. Close is idempotent.
//
// If the worker ignores the shutdown request, Close returns the wait
// timeout error with the process still running; the caller can
// escalate through Process().Kill().
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	wasConnected := c.state.Swap(int32(StateClosing)) == int32(StateConnected)

	c.mu.Lock()
	conn := c.conn
	proc := c.proc
	watcher := c.watcher
	c.conn = nil
	c.watcher = nil
	c.mu.Unlock()

	if watcher != nil {
		watcher.Close()
	}

	if wasConnected && conn != nil && proc != nil && proc.IsRunning() {
		// Best effort. The worker stops on its own when it reads
		// this; the kill below covers the case where it does not.
		if frame, err := wire.Encode(c.cfg.codec, ShutdownCommand); err == nil {
			c.writeMu.Lock()
			_, _ = conn.Write(frame)
			c.writeMu.Unlock()
		}
	}

	close(c.done)
	if conn != nil {
		conn.Close()
	}

	var err error
	if proc != nil && proc.IsRunning() {
		if terr := proc.Terminate(); terr == nil {
			err = proc.WaitExit(c.cfg.shutdownTimeout)
		}
	}

	c.router.AbandonAll()
	c.state.Store(int32(StateDisconnected))
	c.cfg.log.Infof("backend client closed")
	return err
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

// IsConnected reports whether requests can currently be sent.
func (c *Client) IsConnected() bool {
	return c.canSend()
}

// Port returns the port the worker was told to listen on, or zero
// before Start.
func (c *Client) Port() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

// Process returns the worker process handle, or nil when the client
// was attached with Connect.
func (c *Client) Process() *process.Process {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proc
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int {
	return c.router.Len()
}

// LastError returns the most recent error surfaced by the client.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Client) setLastError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Client) emitError(kind ErrorKind, msg string) {
	c.cfg.log.Errorf("%s: %s", kind, msg)
	if c.cfg.onError != nil {
		c.cfg.onError(kind, msg)
	}
}

// processLogger adapts the two level worker output sink to the
// process package's Logger.
type processLogger struct {
	l Logger
}

func (p processLogger) Infof(format string, args ...any)  { p.l.Infof(format, args...) }
func (p processLogger) Errorf(format string, args ...any) { p.l.Errorf(format, args...) }
