package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/middleware"
	"github.com/drover-io/drover/pkg/node"
	"github.com/drover-io/drover/pkg/protocol"
	"github.com/drover-io/drover/pkg/utils"
)

var rootCmd = &cobra.Command{
	Use:   "node",
	Short: "Drover training run node",
	Run: func(cmd *cobra.Command, args []string) {
		verbosity, err := cmd.Flags().GetCount("verbose")
		if err != nil {
			log.Fatal(err)
		}
		switch {
		case verbosity >= 2:
			log.SetLevel(log.TraceLevel)
		case verbosity >= 1:
			log.SetLevel(log.DebugLevel)
		}

		// Load node configuration from file or environment.
		nodeConfig, err := LoadConfig()
		if err != nil {
			log.Fatal(err)
		}
		nodeConfig.SetDefaults()

		// Validate the node configuration.
		if err := nodeConfig.Validate(); err != nil {
			log.Fatal(err)
		}

		nodeConfig.Log()

		platform := node.LoadPlatform()
		log.Info("Properties:")
		for key, value := range platform {
			log.Infof("  %s=%s", key, value)
		}

		store, err := newStore(nodeConfig)
		if err != nil {
			log.Fatal(err)
		}
		defer store.Close()

		role, err := newRole(nodeConfig, store)
		if err != nil {
			log.Fatal(err)
		}

		client, err := node.NewCoordinatorClient(nodeConfig)
		if err != nil {
			log.Fatal(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		utils.TerminateOnSignal(cancel)

		node := node.NewNode(nodeConfig, client, role)
		node.Run(ctx)
	},
}

// newStore creates the payload store backing the middleware. A
// directory backed store when one is configured, in-memory otherwise.
func newStore(config *node.Config) (middleware.Middleware, error) {
	if config.StoreDir == "" {
		return middleware.NewMemStore(), nil
	}

	if err := os.MkdirAll(config.StoreDir, 0777); err != nil {
		return nil, err
	}

	fs := afero.NewBasePathFs(afero.NewOsFs(), config.StoreDir)
	return middleware.NewFsStore(fs, config)
}

func newRole(config *node.Config, store middleware.Middleware) (node.Role, error) {
	switch config.Role {
	case protocol.RoleLearner:
		return node.NewLearner(config, store, newSimTrainStep()), nil
	case protocol.RoleCollector:
		return node.NewCollector(config, store, newSimEnvironment(), newLinearAgent()), nil
	default:
		return nil, fmt.Errorf("unknown role: %s", config.Role)
	}
}

func main() {
	rootCmd.Flags().StringP("coordinator-grpc-uri", "c", "tcp://coordinator:9090", "Coordinator service gRPC URI")
	rootCmd.Flags().StringP("role", "r", "", "Role of this node, learner or collector")
	rootCmd.Flags().StringP("instance", "i", "", "Instance identifier, must match the operator roster")
	rootCmd.Flags().StringP("store-dir", "d", "", "Payload store directory")
	rootCmd.Flags().StringP("store-max-size", "s", "4GB", "Maximum payload store size")
	rootCmd.Flags().CountP("verbose", "v", "Verbosity (repeatable)")

	viper.BindPFlag("coordinator_grpc_uri", rootCmd.Flags().Lookup("coordinator-grpc-uri"))
	viper.BindPFlag("role", rootCmd.Flags().Lookup("role"))
	viper.BindPFlag("instance", rootCmd.Flags().Lookup("instance"))
	viper.BindPFlag("store_dir", rootCmd.Flags().Lookup("store-dir"))
	viper.BindPFlag("store_max_size", rootCmd.Flags().Lookup("store-max-size"))
	viper.SetEnvPrefix("drover")
	viper.AutomaticEnv()

	viper.SetConfigName("node.yaml")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/drover/")
	viper.AddConfigPath("$HOME/.config/drover")
	viper.AddConfigPath(".")
	viper.ReadInConfig()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
