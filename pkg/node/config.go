package node

import (
	"errors"
	"net/url"
	"time"

	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/pipeline"
	"github.com/drover-io/drover/pkg/protocol"
	"github.com/drover-io/drover/pkg/utils"
)

type Config struct {
	Grpc utils.GRPCOptions `mapstructure:"grpc"`

	// gRPC URI of the coordinator service.
	CoordinatorGrpcUri string `mapstructure:"coordinator_grpc_uri"`

	// Role of this node in the run.
	Role protocol.Role `mapstructure:"role"`

	// Instance identifier, unique within the run. Must match the
	// operator roster.
	Instance string `mapstructure:"instance"`

	// Directory backing the middleware payload store.
	StoreDir string `mapstructure:"store_dir"`

	// Maximum size of the payload store.
	StoreMaxSize utils.Size `mapstructure:"store_max_size"`

	// Initial reconnect delay, doubled after every failed attempt.
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`

	// Upper bound for the reconnect delay.
	ReconnectBackoffMax time.Duration `mapstructure:"reconnect_backoff_max"`

	// Learner: number of data units demanded per iteration.
	BatchesPerIteration int `mapstructure:"batches_per_iteration"`

	// Learner: minimum rollout length it can consume.
	MinRolloutLength int `mapstructure:"min_rollout_length"`

	// Learner: data pipeline tuning.
	Pipeline pipeline.Config `mapstructure:"pipeline"`
}

// Checks if the node configuration is valid.
func (c *Config) Validate() error {
	if c.CoordinatorGrpcUri == "" {
		return errors.New("A coordinator URI is required")
	}

	if _, err := url.Parse(c.CoordinatorGrpcUri); err != nil {
		return errors.New("The coordinator URI is not a valid URI")
	}

	if !c.Role.Valid() {
		return errors.New("A role of learner or collector is required")
	}

	if c.Instance == "" {
		return errors.New("An instance identifier is required")
	}

	return nil
}

// MaxSize is the maximum payload store size in bytes.
// Satisfies middleware.StoreConfig.
func (c *Config) MaxSize() int64 {
	return int64(c.StoreMaxSize)
}

func (c *Config) SetDefaults() {
	if c.ReconnectBackoff == 0 {
		c.ReconnectBackoff = time.Second
	}
	if c.ReconnectBackoffMax == 0 {
		c.ReconnectBackoffMax = 30 * time.Second
	}
	if c.BatchesPerIteration == 0 {
		c.BatchesPerIteration = 4
	}
	if c.MinRolloutLength == 0 {
		c.MinRolloutLength = 1
	}
}

func (c *Config) Log() {
	log.Info("Node configuration:")
	log.Infof("  coordinator_grpc_uri = %s", c.CoordinatorGrpcUri)
	log.Infof("  role = %s", c.Role)
	log.Infof("  instance = %s", c.Instance)
	log.Infof("  store_dir = %s", c.StoreDir)
	log.Infof("  store_max_size = %s", utils.HumanByteSize(int64(c.StoreMaxSize)))
	log.Infof("  pipeline_workers = %d", c.Pipeline.Workers)
	c.Grpc.Log()
}
