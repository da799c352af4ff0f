package backend

import "net"

// pickFreePort asks the kernel for an unused loopback TCP port by
// binding to port 0 and reading back the assignment.
//
// The port is released before the worker is told to bind it, so
// another process can in principle claim it in between. The connect
// retry loop absorbs that race: the dial fails, retries exhaust, and
// the client reports the failure instead of hanging.
func pickFreePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, &SocketError{Op: "listen", Err: err}
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if err := ln.Close(); err != nil {
		return 0, &SocketError{Op: "close", Err: err}
	}
	return port, nil
}
