package main

import (
	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/operator"
	"github.com/drover-io/drover/pkg/utils"
)

type Config struct {
	utils.GRPCOptions `mapstructure:"grpc"`

	// Addresses to listen on for gRPC.
	ListenGrpc []string `mapstructure:"listen_grpc"`
	// Roster and supervision configuration.
	Roster operator.Config `mapstructure:"roster"`
}

func (c *Config) Log() {
	log.Info("Operator configuration:")
	log.Infof("  gRPC listen addresses: %v", config.ListenGrpc)
	config.Roster.Log()
	config.GRPCOptions.Log()
}
