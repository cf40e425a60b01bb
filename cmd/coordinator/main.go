package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/drover-io/drover/pkg/coordinator"
	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/protocol"
	"github.com/drover-io/drover/pkg/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var config *Config

var rootCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Drover training run coordinator service",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		viper.SetEnvPrefix("drover")
		viper.AutomaticEnv()

		viper.SetConfigName("coordinator.yaml")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/drover/")
		viper.AddConfigPath("$HOME/.config/drover")
		viper.AddConfigPath(".")

		viper.ReadInConfig()

		if err := utils.UnmarshalConfig(*viper.GetViper(), &config); err != nil {
			log.Fatal(err)
		}

		config.Run.SetDefaults()
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
		// Connect to the operator service.
		operator, err := dialOperator(config.OperatorGrpcUri)
		if err != nil {
			log.Fatal(err)
		}

		// Create coordinator.
		coord := coordinator.NewCoordinator(&config.Run, operator)
		coordinator.RegisterMetrics(coord)

		// Start listening for gRPC connections on all configured addresses
		coordinatorUris := viper.GetStringSlice("listen_grpc")
		for _, uri := range coordinatorUris {
			go serveGrpc(coord, uri)
		}

		// Start listening for HTTP connections on all configured addresses
		httpUris := viper.GetStringSlice("listen_http")
		for _, uri := range httpUris {
			host, err := utils.ParseHttpUrl(uri)
			if err != nil {
				log.Fatal(err)
			}

			log.Info("Listening on http", host)

			r := echo.New()
			r.HideBanner = true
			r.Use(utils.HttpLogger)
			r.Add(echo.GET, "/debug/pprof/*", echo.WrapHandler(http.DefaultServeMux))
			r.Add(echo.GET, "/metrics", echo.WrapHandler(promhttp.Handler()))

			coordinator.NewHttpHandler(coord, r)

			go http.ListenAndServe(host, r)
		}

		ctx, cancel := context.WithCancel(context.Background())
		utils.TerminateOnSignal(cancel)

		// Ready to run the training run.
		if err := coord.Run(ctx); err != nil {
			log.Fatal(err)
		}
	},
}

func dialOperator(address string) (protocol.OperatorClient, error) {
	dialOptions := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(protocol.CodecName)),
	}
	dialOptions = append(dialOptions, config.GRPCOptions.ToDialOptions()...)

	grpcUri, err := utils.ParseGrpcUrl(address)
	if err != nil {
		return nil, err
	}

	conn, err := grpc.Dial(grpcUri, dialOptions...)
	if err != nil {
		return nil, err
	}

	return protocol.NewOperatorClient(conn), nil
}

func init() {
	rootCmd.Flags().StringSliceP("listen-http", "l", []string{"tcp://:8080"}, "Addresses to listen on for HTTP connections")
	rootCmd.Flags().StringSliceP("listen-grpc", "g", []string{"tcp://:9090"}, "Addresses to listen on for GRPC connections")
	rootCmd.Flags().StringP("operator-grpc-uri", "o", "tcp://operator:9191", "Operator service gRPC URI")
	rootCmd.Flags().StringP("run-id", "r", "", "Identifier of the training run")
	rootCmd.Flags().CountP("verbose", "v", "Verbosity (repeatable)")

	viper.BindPFlag("listen_grpc", rootCmd.Flags().Lookup("listen-grpc"))
	viper.BindPFlag("listen_http", rootCmd.Flags().Lookup("listen-http"))
	viper.BindPFlag("operator_grpc_uri", rootCmd.Flags().Lookup("operator-grpc-uri"))
	viper.BindPFlag("run.run_id", rootCmd.Flags().Lookup("run-id"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
