package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"

	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/operator"
	"github.com/drover-io/drover/pkg/protocol"
	"github.com/drover-io/drover/pkg/utils"
)

var config *Config

var rootCmd = &cobra.Command{
	Use:   "operator",
	Short: "Drover training run operator service",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		viper.SetEnvPrefix("drover")
		viper.AutomaticEnv()

		viper.SetConfigName("operator.yaml")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/drover/")
		viper.AddConfigPath("$HOME/.config/drover")
		viper.AddConfigPath(".")

		viper.ReadInConfig()

		if err := utils.UnmarshalConfig(*viper.GetViper(), &config); err != nil {
			log.Fatal(err)
		}

		config.Roster.SetDefaults()
		config.Log()

		verbosity, err := cmd.Flags().GetCount("verbose")
		if err != nil {
			panic(err)
		}

		switch {
		case verbosity >= 2:
			log.SetLevel(log.TraceLevel)
		case verbosity >= 1:
			log.SetLevel(log.DebugLevel)
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		if err := config.Roster.Validate(); err != nil {
			log.Fatal(err)
		}

		op := operator.NewOperator(&config.Roster)

		// Start listening for gRPC connections on all configured addresses
		operatorUris := viper.GetStringSlice("listen_grpc")
		for _, uri := range operatorUris {
			go serveGrpc(op, uri)
		}

		ctx, cancel := context.WithCancel(context.Background())
		utils.TerminateOnSignal(cancel)

		// Supervise configured instance processes. Returns when the
		// context is cancelled, or right away if no instance has a
		// command to run.
		if err := op.Supervise(ctx); err != nil {
			log.Fatal(err)
		}

		<-ctx.Done()
	},
}

// Sets up a gRPC server on a specific listening address and starts it.
func serveGrpc(op *operator.Operator, address string) {
	// Parse URI
	uri, err := url.Parse(address)
	if err != nil {
		log.Fatal(err)
	}

	host := uri.Host

	switch uri.Scheme {
	case "tcp", "tcp4", "tcp6":
		if uri.Port() == "" {
			// Default port is 9191
			host = fmt.Sprintf("%s:9191", uri.Host)
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

	// Setup gRPC server
	server := grpc.NewServer(config.GRPCOptions.ToServerOptions()...)
	protocol.RegisterOperatorServer(server, operator.NewOperatorService(op))
	if err := server.Serve(socket); err != nil {
		log.Fatal(err)
	}
}

func init() {
	rootCmd.Flags().StringSliceP("listen-grpc", "g", []string{"tcp://:9191"}, "Addresses to listen on for GRPC connections")
	rootCmd.Flags().StringP("run-id", "r", "", "Identifier of the training run")
	rootCmd.Flags().CountP("verbose", "v", "Verbosity (repeatable)")

	viper.BindPFlag("listen_grpc", rootCmd.Flags().Lookup("listen-grpc"))
	viper.BindPFlag("roster.run_id", rootCmd.Flags().Lookup("run-id"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
