package node

import (
	"github.com/drover-io/drover/pkg/pipeline"
	"github.com/drover-io/drover/pkg/protocol"
)

// Role is the capability set shared by learners and collectors.
// The node runtime dispatches coordinator tasks through it without
// knowing which role it is talking to.
type Role interface {
	// Start initializes the role with the configuration delivered by
	// the coordinator's start task.
	Start(config *protocol.StartConfig) (*protocol.StartInfo, error)

	// Handle answers one coordinator task. Learners receive data
	// demand and learn tasks, collectors receive collect tasks.
	Handle(task *protocol.TaskRequest) (*protocol.TaskResult, error)

	// Close finishes the role's work and returns its final report.
	// Must not wait for an in-flight Handle to complete.
	Close() (*protocol.CloseInfo, error)
}

// TrainStep runs one training iteration. External algorithm code;
// only the call contract matters here. A TrainStep may additionally
// implement pipeline.Processor to preprocess records on the worker
// pool, and pipeline.Device to stage batches in device memory before
// Step sees them.
type TrainStep interface {
	// Step consumes one training ready batch and returns the
	// iteration outcome.
	Step(batch *pipeline.Batch) (*StepResult, error)
}

// StepResult is the outcome of one training iteration.
type StepResult struct {
	// Iteration statistics.
	Stats protocol.TrainStats

	// Updated sampling priority for the consumed batch.
	Priority float64

	// Serialized state dict of the updated model.
	StateDict []byte

	// Hyper-parameters in effect for the iteration.
	Hyperparams map[string]float64
}

// Environment is the simulation a collector interacts with.
// External code; only the call contract matters here.
type Environment interface {
	// Reset starts a new episode and returns the initial observation.
	Reset() ([]float32, error)

	// Step advances the episode by one action.
	Step(action []float32) (obs []float32, reward float64, done bool, err error)
}

// Agent turns observations into actions using a policy snapshot.
type Agent interface {
	// Load replaces the agent's policy with the given state dict.
	Load(stateDict []byte) error

	// Act picks an action for an observation.
	Act(obs []float32) ([]float32, error)
}

// Transition is one recorded environment step. Sequences of
// transitions are the step data payloads exchanged through the
// middleware.
type Transition struct {
	Obs    []float32 `json:"obs"`
	Action []float32 `json:"action"`
	Reward float64   `json:"reward"`
	Done   bool      `json:"done"`
}
