package operator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/protocol"
	"github.com/drover-io/drover/pkg/utils"
)

// The operator manages the physical lifecycle of the node processes
// of one run and reports their roster to the coordinator.
type Operator struct {
	config *Config
}

func NewOperator(config *Config) *Operator {
	config.SetDefaults()

	return &Operator{
		config: config,
	}
}

// Roster answers a coordinator register request.
func (o *Operator) Roster(runId string) (*protocol.Roster, error) {
	if runId != o.config.RunId {
		log.Debugf("nok - register - unknown run: %s", runId)
		return nil, utils.ErrNotFound
	}

	roster := &protocol.Roster{RunId: o.config.RunId}
	for _, instance := range o.config.Instances {
		roster.Instances = append(roster.Instances, protocol.InstanceInfo{
			Role:     instance.Role,
			Instance: instance.Instance,
			Endpoint: instance.Endpoint,
		})
	}

	return roster, nil
}

// Supervise launches the configured node processes and keeps the
// restartable ones alive until the context is cancelled. Instances
// without a command are assumed to be managed externally.
func (o *Operator) Supervise(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	for _, instance := range o.config.Instances {
		if len(instance.Command) == 0 {
			continue
		}

		instance := instance
		group.Go(func() error {
			return o.supervise(ctx, instance)
		})
	}

	return group.Wait()
}

func (o *Operator) supervise(ctx context.Context, instance InstanceConfig) error {
	for {
		log.Infof("new - process - instance: %s, command: %v", instance.Instance, instance.Command)

		cmd := exec.CommandContext(ctx, instance.Command[0], instance.Command[1:]...)
		cmd.Env = append(os.Environ(),
			"DROVER_ROLE="+string(instance.Role),
			"DROVER_INSTANCE="+instance.Instance,
		)
		cmd.Stdout = log.NewLogWriter(log.InfoLevel)
		cmd.Stderr = log.NewLogWriter(log.WarningLevel)

		err := cmd.Run()
		if ctx.Err() != nil {
			return nil
		}

		if !instance.Restart {
			if err != nil {
				return fmt.Errorf("instance %s: %w", instance.Instance, err)
			}
			log.Infof("end - process - instance: %s", instance.Instance)
			return nil
		}

		log.Warnf("int - process - instance: %s, restarting in %v: %v",
			instance.Instance, o.config.RestartDelay, err)

		select {
		case <-time.After(o.config.RestartDelay):
		case <-ctx.Done():
			return nil
		}
	}
}
