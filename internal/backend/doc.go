// Package backend implements the client side of the editor's
// worker-process architecture.
//
// Heavy language-analysis work (parsing, linting, code completion) is
// offloaded to a worker subprocess so the frontend thread never blocks.
// The worker is spawned on a freshly allocated loopback TCP port and
// spoken to with a length-prefixed JSON frame protocol (see the wire
// subpackage).
//
// # Architecture
//
// The package is organized around these components:
//
//   - Client: the facade embedders use (Start, SendRequest,
//     SendNotification, Close)
//   - connection management: dial/retry state machine and the single
//     goroutine that reads and frames the inbound stream
//   - Router: correlates asynchronous responses to pending callbacks
//     by request identifier
//   - process subpackage: worker subprocess supervision
//   - server subpackage: the worker-side frame server and handler
//     registry
//
// # Quick Start
//
//	client := backend.NewClient(
//	    backend.WithConnectedHandler(func() { /* ready */ }),
//	)
//	if err := client.Start("/path/to/worker.py", "python3"); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.SendRequest("echo", []any{"some code", 0}, func(status bool, results any) {
//	    // runs when the worker replies
//	})
//
// # Connection Retry
//
// Start returns as soon as the worker process is spawned; the TCP
// connection is established in the background. The worker needs a
// moment to bind its listener, so connection-refused errors are
// retried every 100ms up to 100 times (about a 10 second ceiling)
// before the client gives up and reports a fatal error.
//
// # Concurrency
//
// All inbound traffic is handled by one reader goroutine that owns the
// frame decoder and dispatches responses through the Router. Outbound
// writes are serialized by an internal mutex. Callbacks (request
// completions and lifecycle events) are invoked from the reader
// goroutine and must not block.
package backend
