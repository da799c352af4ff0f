package backend

import "log"

// Logger is the sink for client diagnostics and worker output. The
// consumer supplies the implementation; two separate sinks can be
// configured, one for the client's own diagnostics and one for the
// worker process output (see WithLogger and WithWorkerLogger).
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

// NopLogger returns a Logger that discards everything. It is the
// default for both sinks.
func NopLogger() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

// NewStdLogger adapts a standard library logger. A nil argument uses
// the process-wide default logger.
func NewStdLogger(l *log.Logger) Logger {
	if l == nil {
		l = log.Default()
	}
	return &stdLogger{l: l}
}

type stdLogger struct {
	l *log.Logger
}

func (s *stdLogger) Debugf(format string, args ...any) { s.l.Printf("DEBUG "+format, args...) }
func (s *stdLogger) Infof(format string, args ...any)  { s.l.Printf("INFO  "+format, args...) }
func (s *stdLogger) Errorf(format string, args ...any) { s.l.Printf("ERROR "+format, args...) }
