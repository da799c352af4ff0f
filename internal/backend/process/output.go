package process

import (
	"bufio"
	"io"
)

// Stream identifies a process output stream.
type Stream int

const (
	// Stdout is the process standard output stream.
	Stdout Stream = iota
	// Stderr is the process standard error stream.
	Stderr
)

// String returns the stream name.
func (s Stream) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return "unknown"
	}
}

// maxLineSize bounds a single output line; longer lines fail the
// scanner and are reported as a read error.
const maxLineSize = 256 * 1024

// forwardOutput starts one forwarder goroutine per stream. Partial
// lines are buffered until a newline arrives; an unterminated fragment
// is only flushed at end of stream.
func (p *Process) forwardOutput(stdout, stderr io.Reader, sink Logger) {
	p.logWg.Add(2)
	go p.forward(stdout, Stdout, sink)
	go p.forward(stderr, Stderr, sink)
}

func (p *Process) forward(r io.Reader, stream Stream, sink Logger) {
	defer p.logWg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		if sink == nil {
			continue
		}
		switch stream {
		case Stderr:
			sink.Errorf("%s", scanner.Text())
		default:
			sink.Infof("%s", scanner.Text())
		}
	}

	if err := scanner.Err(); err != nil {
		emitError(p.events, KindReadFailed, err)
	}
}
