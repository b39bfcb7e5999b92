// Command ngnshed-worker serves requests forwarded by ngnshed remote
// backends. With no arguments it echoes request bodies; otherwise it runs
// the given command per request with the body on stdin.
//
//	ngnshed-worker --network unix --address /run/ngnshed/worker.sock -- tr a-z A-Z
//	ngnshed-worker --network vsock --address 1024
package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/mdlayher/vsock"
	"github.com/spf13/cobra"

	"github.com/seantiz/ngnshed/internal/backend/remote"
	"github.com/seantiz/ngnshed/internal/config"
	"github.com/seantiz/ngnshed/internal/worker"
)

// defaultVsockPort is the port a worker listens on inside a VM.
const defaultVsockPort = 1024

func main() {
	if err := newCommand().Execute(); err != nil {
		slog.Error("ngnshed-worker failed", "error", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var network, address, logLevel string

	cmd := &cobra.Command{
		Use:           "ngnshed-worker [flags] [-- command [args...]]",
		Short:         "Serve requests forwarded by ngnshed remote backends",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := config.NewLogger(os.Stdout, config.ParseLogLevel(logLevel))

			l, err := listen(network, address)
			if err != nil {
				return err
			}

			h := worker.Echo
			if len(args) > 0 {
				h = worker.Command(args[0], args[1:]...)
			}
			srv := worker.New(l, h, logger)

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-quit
				logger.Info("shutting down", "signal", sig.String())
				srv.Close()
			}()

			logger.Info("ngnshed-worker: listening", "network", network, "address", l.Addr().String())
			return srv.Serve()
		},
	}
	cmd.Flags().StringVar(&network, "network", remote.NetworkTCP, "listen network: tcp, unix or vsock")
	cmd.Flags().StringVar(&address, "address", "127.0.0.1:9090", "listen address; a port number for vsock")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	return cmd
}

func listen(network, address string) (net.Listener, error) {
	switch network {
	case remote.NetworkVsock:
		port := uint32(defaultVsockPort)
		if address != "" {
			p, err := strconv.ParseUint(address, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("vsock port %q: %w", address, err)
			}
			port = uint32(p)
		}
		l, err := vsock.Listen(port, nil)
		if err != nil {
			return nil, fmt.Errorf("vsock listen on port %d: %w", port, err)
		}
		return l, nil
	case remote.NetworkTCP, remote.NetworkUnix:
		l, err := net.Listen(network, address)
		if err != nil {
			return nil, fmt.Errorf("listen %s %s: %w", network, address, err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unsupported network %q", network)
	}
}
