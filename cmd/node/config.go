package main

import (
	"github.com/drover-io/drover/pkg/node"
	"github.com/drover-io/drover/pkg/utils"
	"github.com/spf13/viper"
)

func LoadConfig() (*node.Config, error) {
	config := &node.Config{}

	err := utils.UnmarshalConfig(*viper.GetViper(), config)
	if err != nil {
		return nil, err
	}

	return config, nil
}
