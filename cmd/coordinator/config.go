package main

import (
	"github.com/drover-io/drover/pkg/coordinator"
	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/utils"
)

type Config struct {
	utils.GRPCOptions `mapstructure:"grpc"`

	// Addresses to listen on for gRPC.
	ListenGrpc []string `mapstructure:"listen_grpc"`
	// Addresses to listen on for HTTP.
	ListenHttp []string `mapstructure:"listen_http"`
	// gRPC URI of the operator service.
	OperatorGrpcUri string `mapstructure:"operator_grpc_uri"`
	// Run configuration.
	Run coordinator.Config `mapstructure:"run"`
}

func (c *Config) Log() {
	log.Info("Coordinator configuration:")
	log.Infof("  gRPC listen addresses: %v", config.ListenGrpc)
	log.Infof("  HTTP listen addresses: %v", config.ListenHttp)
	log.Infof("  Operator URI: %s", config.OperatorGrpcUri)
	log.Infof("  Run id: %s", config.Run.RunId)
	config.GRPCOptions.Log()
}
