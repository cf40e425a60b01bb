//go:build linux

package main

import (
	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/utils"
)

func init() {
	log.Info("Detected Linux")

	// Raise the open file limit, the payload store keeps many
	// small files around.
	utils.RaiseFileLimit()
}
