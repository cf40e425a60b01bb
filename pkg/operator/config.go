package operator

import (
	"errors"
	"fmt"
	"time"

	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/protocol"
)

// Configuration of one managed node process.
type InstanceConfig struct {
	// Role of the instance.
	Role protocol.Role `mapstructure:"role"`

	// Instance identifier, unique within the run.
	Instance string `mapstructure:"instance"`

	// Endpoint the instance is reachable on, reported to the
	// coordinator as part of the roster.
	Endpoint string `mapstructure:"endpoint"`

	// Command launching the instance process. Empty when the
	// process is managed externally.
	Command []string `mapstructure:"command"`

	// Whether to restart the process when it exits.
	Restart bool `mapstructure:"restart"`
}

type Config struct {
	// Identifier of the run this operator manages.
	RunId string `mapstructure:"run_id"`

	// The managed instances.
	Instances []InstanceConfig `mapstructure:"instances"`

	// Delay before restarting an exited process.
	RestartDelay time.Duration `mapstructure:"restart_delay"`
}

// Checks if the operator configuration is valid.
func (c *Config) Validate() error {
	if c.RunId == "" {
		return errors.New("A run identifier is required")
	}

	if len(c.Instances) == 0 {
		return errors.New("At least one instance is required")
	}

	seen := map[string]bool{}
	for _, instance := range c.Instances {
		if !instance.Role.Valid() {
			return fmt.Errorf("Instance %s has an invalid role: %s", instance.Instance, instance.Role)
		}
		if instance.Instance == "" {
			return errors.New("An instance identifier is required")
		}
		if seen[instance.Instance] {
			return fmt.Errorf("Duplicate instance identifier: %s", instance.Instance)
		}
		seen[instance.Instance] = true
	}

	return nil
}

func (c *Config) SetDefaults() {
	if c.RestartDelay == 0 {
		c.RestartDelay = 3 * time.Second
	}
}

func (c *Config) Log() {
	log.Info("Operator configuration:")
	log.Infof("  run_id = %s", c.RunId)
	for _, instance := range c.Instances {
		log.Infof("  instance %s: role=%s, endpoint=%s, supervised=%v",
			instance.Instance, instance.Role, instance.Endpoint, len(instance.Command) > 0)
	}
}
