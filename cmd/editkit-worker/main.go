// Package main is the editkit worker binary. The editor spawns it
// with a port number, connects to that port, and offloads heavy work
// to the registered workers.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dshills/editkit/internal/backend"
	"github.com/dshills/editkit/internal/backend/server"
	"github.com/dshills/editkit/internal/backend/wire"
	"github.com/dshills/editkit/internal/backend/workers"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	showVersion := flag.Bool("version", false, "print version and exit")
	useMsgpack := flag.Bool("msgpack", false, "use the msgpack codec instead of JSON")
	verbose := flag.Bool("verbose", false, "log requests to stderr")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("editkit-worker %s (%s)\n", version, commit)
		return 0
	}

	// The spawning client passes the port as the first positional
	// argument.
	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: missing port argument")
		usage()
		return 2
	}
	port, err := strconv.Atoi(flag.Arg(0))
	if err != nil || port < 1 || port > 65535 {
		fmt.Fprintf(os.Stderr, "Error: invalid port %q\n", flag.Arg(0))
		return 2
	}

	logger := backend.NopLogger()
	if *verbose {
		logger = backend.NewStdLogger(log.New(os.Stderr, "editkit-worker ", log.LstdFlags))
	}

	registry := server.NewRegistry()
	registry.Register(workers.EchoName, workers.Echo)
	registry.Register(workers.DocumentWordsName, workers.DocumentWords)

	opts := []server.Option{server.WithLogger(logger)}
	if *useMsgpack {
		opts = append(opts, server.WithCodec(wire.Msgpack))
	}
	srv := server.New(port, registry, opts...)

	// The client normally stops the worker with a shutdown
	// notification; signals cover the orphaned case.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [flags] <port>

Serves editkit backend requests on 127.0.0.1:<port>.

Flags:
`, os.Args[0])
	flag.PrintDefaults()
}
