package coordinator

import (
	"context"
	"time"

	"github.com/drover-io/drover/pkg/protocol"
)

// Lifecycle state of a training run.
type State string

const (
	StateInit       State = "init"
	StateConnecting State = "connecting"
	StateRunning    State = "running"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// Main coordinator interface.
type Coordinator interface {
	// Register a live node session with the run. Called by the gRPC
	// service when a node attaches. The returned connection must be
	// Close():ed when the node disconnects.
	Attach(role protocol.Role, instance string, platform map[string]string) (Connection, error)

	// Run the training run state machine to completion.
	// Returns nil on a clean finish and the fatal error otherwise.
	Run(ctx context.Context) error

	// Current lifecycle state.
	State() State

	// Get coordinator statistics.
	Statistics() *Statistics
}

// Coordinator configuration.
type Config struct {
	// Identifier of the training run.
	RunId string `mapstructure:"run_id"`

	// Deadline for one operator register call.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	// Number of operator register attempts before the run fails.
	ConnectAttempts int `mapstructure:"connect_attempts"`

	// How long to wait for all rostered instances to attach.
	AttachTimeout time.Duration `mapstructure:"attach_timeout"`

	// Deadline for a task response.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`

	// Deadline for a close task response.
	CloseTimeout time.Duration `mapstructure:"close_timeout"`

	// Number of learn iterations before the run finishes.
	// Zero means the run continues until cancelled.
	MaxIterations int64 `mapstructure:"max_iterations"`

	// Environment steps per collect rollout.
	RolloutLength int `mapstructure:"rollout_length"`

	// Opaque policy configuration delivered with start tasks.
	PolicyConfig map[string]any `mapstructure:"policy_config"`

	// Opaque environment configuration delivered to collectors.
	EnvConfig map[string]any `mapstructure:"env_config"`
}

func (c *Config) SetDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = 3
	}
	if c.AttachTimeout == 0 {
		c.AttachTimeout = time.Minute
	}
	if c.TaskTimeout == 0 {
		c.TaskTimeout = 2 * time.Minute
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = 10 * time.Second
	}
	if c.RolloutLength == 0 {
		c.RolloutLength = 64
	}
}

// Coordinator statistics.
type Statistics struct {
	// Lifecycle state of the run.
	State State

	// Number of attached instances.
	Connections int64

	// Number of instances marked failed.
	FailedInstances int64

	// Number of issued tasks.
	IssuedTasks int64

	// Number of tasks answered with a success result.
	CompletedTasks int64

	// Number of tasks that timed out or answered with an error.
	FailedTasks int64

	// Number of completed learn iterations.
	LearnIterations int64

	// Number of collected episodes.
	Episodes int64

	// Total environment steps across all collectors.
	EnvSteps int64

	// Number of data units currently in the replay registry.
	ReplayEntries int64

	// Version of the most recently published policy.
	PolicyVersion int64
}
