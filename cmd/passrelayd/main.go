//go:build linux

// Passrelayd is the request-forwarding core's standalone process
// entrypoint: parse flags, build the pool/renderer/logger it depends on,
// and serve. Grounded on hexinfra-gorox/cmds/gorox/main.go's flag-and-
// wire-up shape and cmds/goben/main.go's flag.*Var idiom, trimmed to this
// core's actual scope — no leader/worker process management and no admin
// protocol, both explicitly out of scope per spec.md §1 ("process
// management").
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hexinfra/passrelay/internal/config"
	"github.com/hexinfra/passrelay/internal/handler"
	"github.com/hexinfra/passrelay/internal/logging"
	"github.com/hexinfra/passrelay/internal/pool"
	"github.com/hexinfra/passrelay/internal/respwriter"
)

func main() {
	var (
		network        string
		address        string
		password       string
		spillDir       string
		logPath        string
		appType        string
		backendNetwork string
		backendAddress string
	)
	flag.StringVar(&network, "network", "tcp", "listening network: tcp, tcp4, tcp6 or unix")
	flag.StringVar(&address, "address", "127.0.0.1:3000", "listening address")
	flag.StringVar(&password, "password", "", "shared connect password clients must present (required)")
	flag.StringVar(&spillDir, "spill-dir", "/tmp", "directory for spillable-pipe overflow files")
	flag.StringVar(&logPath, "log", "", "log file path (default: stderr)")
	flag.StringVar(&appType, "app-type", "rack", "app type this process forwards requests to")
	flag.StringVar(&backendNetwork, "backend-network", "tcp", "network of the backend worker")
	flag.StringVar(&backendAddress, "backend-address", "", "address of the backend worker (required)")
	flag.Parse()

	if password == "" || backendAddress == "" {
		fmt.Fprintln(os.Stderr, "passrelayd: -password and -backend-address are required")
		flag.Usage()
		os.Exit(2)
	}

	logger := logging.New(os.Stderr)
	if logPath != "" {
		l, err := logging.NewFile(logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "passrelayd: %v\n", err)
			os.Exit(1)
		}
		logger = l
	}
	defer logger.Close()

	opts := config.NewOptions()
	opts.RequestSocketPassword = []byte(password)
	opts.SpillDir = spillDir

	p := pool.New()
	p.RegisterBackend(appType, pool.Backend{Network: backendNetwork, Address: backendAddress})

	h := handler.New(opts, p, respwriter.DefaultRenderer{}, logger)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Infof("received shutdown signal, closing acceptor")
		h.Close()
	}()

	if err := h.Serve(network, address); err != nil {
		logger.Errorf("serve exited: %v", err)
		os.Exit(1)
	}
}
