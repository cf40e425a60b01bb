package main

import (
	"fmt"
	"net"
	"net/url"

	"github.com/drover-io/drover/pkg/coordinator"
	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/protocol"
	"google.golang.org/grpc"
)

// Sets up a gRPC server on a specific listening address and starts it.
func serveGrpc(coord coordinator.Coordinator, address string) {
	// Parse URI
	uri, err := url.Parse(address)
	if err != nil {
		log.Fatal(err)
	}

	host := uri.Host

	switch uri.Scheme {
	case "tcp", "tcp4", "tcp6":
		if uri.Port() == "" {
			// Default port is 9090
			host = fmt.Sprintf("%s:9090", uri.Host)
		}
	case "unix":
	default:
		log.Fatalf("Unsupported protocol: %s", uri.Scheme)
	}

	socket, err := net.Listen(uri.Scheme, host)
	if err != nil {
		log.Fatal(err)
	}

	if uri.Scheme == "unix" {
		// Set permissions on unix socket
		socket.(*net.UnixListener).SetUnlinkOnClose(true)

		log.Info("Listening on", uri.Scheme, uri.Path)
	} else {
		log.Info("Listening on", uri.Scheme, socket.Addr())
	}

	// Setup gRPC options
	opts := config.GRPCOptions.ToServerOptions()

	// Setup gRPC server
	server := grpc.NewServer(opts...)
	protocol.RegisterCoordinatorServer(server, coordinator.NewCoordinatorService(coord))
	if err := server.Serve(socket); err != nil {
		log.Fatal(err)
	}
}
